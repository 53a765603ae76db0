package rbac

import (
	"slices"
	"strings"

	"github.com/whistleline/platform/internal/shared/types"
)

// Permission grants actions on a resource tag. Tag suffixes carry scope:
// none is global, ":own" the caller's client, ":all" every client,
// ":validated" and ":assigned" are gated by report state, ":*" matches any
// scope of the base resource.
type Permission struct {
	Resource string
	Actions  []string
}

var permissions = [...][]Permission{
	roleInvalid: nil,
	SuperAdmin: {
		{"clients", []string{"create", "read", "update", "delete"}},
		{"users", []string{"create", "read", "update", "delete"}},
		{"reports", []string{"read", "update", "delete"}},
		{"reports:all", []string{"read"}},
		{"messages", []string{"read", "relay"}},
		{"audit", []string{"read"}},
		{"settings", []string{"update"}},
	},
	CompanyAdmin: {
		{"users:own", []string{"create", "read", "update", "delete"}},
		{"reports:own", []string{"read", "update"}},
		{"messages:own", []string{"read", "send"}},
		{"settings:own", []string{"update"}},
	},
	ExternalAdmin: {
		{"reports:assigned", []string{"read", "update", "validate"}},
		{"messages:all", []string{"read", "send", "relay"}},
		{"reports:all", []string{"read"}},
	},
	InternalAdmin: {
		{"reports:validated", []string{"read"}},
		{"messages:internal", []string{"read", "send"}},
	},
	Reporter: {
		{"reports:own", []string{"create", "read"}},
		{"messages:own", []string{"read", "send"}},
	},
}

// Both tables must have exactly one entry per role; a role added without a
// table entry fails to compile.
var (
	_ [len(permissions) - int(roleCount)]struct{}
	_ [int(roleCount) - len(permissions)]struct{}
	_ [len(roleNames) - int(roleCount)]struct{}
	_ [int(roleCount) - len(roleNames)]struct{}
)

// PermissionsFor returns a copy of the role's permission table.
func PermissionsFor(role Role) []Permission {
	if !role.Valid() {
		return nil
	}
	return slices.Clone(permissions[role])
}

// HasPermission checks an exact resource match first, then any ":*" entry
// whose base prefixes the requested resource.
func HasPermission(role Role, resource, action string) bool {
	if !role.Valid() {
		return false
	}
	for _, p := range permissions[role] {
		if p.Resource == resource && slices.Contains(p.Actions, action) {
			return true
		}
	}
	for _, p := range permissions[role] {
		base, ok := strings.CutSuffix(p.Resource, ":*")
		if !ok {
			continue
		}
		if (resource == base || strings.HasPrefix(resource, base+":")) && slices.Contains(p.Actions, action) {
			return true
		}
	}
	return false
}

// HasPermissionOnAny reports whether the role may perform action on the base
// resource under any scope.
func HasPermissionOnAny(role Role, base, action string) bool {
	if !role.Valid() {
		return false
	}
	for _, p := range permissions[role] {
		if p.Resource != base && !strings.HasPrefix(p.Resource, base+":") {
			continue
		}
		if slices.Contains(p.Actions, action) {
			return true
		}
	}
	return false
}

// ValidatedStatuses are the report states visible to the client-internal team.
var ValidatedStatuses = map[string]bool{
	"validated":   true,
	"in_progress": true,
	"resolved":    true,
}

// CanAccessReport guards every staff read of a report. Reporters never pass:
// they reach their report through ticket and PIN.
func CanAccessReport(role Role, callerClientID, reportClientID types.ID, status string) bool {
	switch role {
	case SuperAdmin, ExternalAdmin:
		return true
	case CompanyAdmin:
		return !callerClientID.IsZero() && callerClientID == reportClientID
	case InternalAdmin:
		return !callerClientID.IsZero() && callerClientID == reportClientID && ValidatedStatuses[status]
	default:
		return false
	}
}

// RoomType partitions the two rooms of a case.
type RoomType string

const (
	RoomReporterExternal RoomType = "REPORTER_EXTERNAL"
	RoomExternalInternal RoomType = "EXTERNAL_INTERNAL"
)

func (t RoomType) Valid() bool {
	return t == RoomReporterExternal || t == RoomExternalInternal
}

// CanAccessChatRoom enforces the room partition. Only the super and bridge
// roles see both room types.
func CanAccessChatRoom(role Role, roomType RoomType) bool {
	switch role {
	case SuperAdmin, ExternalAdmin:
		return roomType.Valid()
	case Reporter:
		return roomType == RoomReporterExternal
	case InternalAdmin, CompanyAdmin:
		return roomType == RoomExternalInternal
	default:
		return false
	}
}
