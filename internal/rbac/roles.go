// Package rbac is the permission engine: a closed set of roles, a static
// permission table and the report and chat room access predicates built on it.
package rbac

import (
	"fmt"
)

// Role is one of the five platform roles. The zero value is not a role.
type Role uint8

const (
	roleInvalid Role = iota
	SuperAdmin
	CompanyAdmin
	ExternalAdmin
	InternalAdmin
	Reporter
	roleCount
)

var roleNames = [...]string{
	roleInvalid:   "",
	SuperAdmin:    "SUPER_ADMIN",
	CompanyAdmin:  "COMPANY_ADMIN",
	ExternalAdmin: "EXTERNAL_ADMIN",
	InternalAdmin: "INTERNAL_ADMIN",
	Reporter:      "REPORTER",
}

// Roles lists every valid role.
func Roles() []Role {
	return []Role{SuperAdmin, CompanyAdmin, ExternalAdmin, InternalAdmin, Reporter}
}

// ParseRole converts the wire name of a role. Unknown names are an error and
// never map to a role.
func ParseRole(s string) (Role, error) {
	for r := SuperAdmin; r < roleCount; r++ {
		if roleNames[r] == s {
			return r, nil
		}
	}
	return roleInvalid, fmt.Errorf("unknown role %q", s)
}

func (r Role) Valid() bool {
	return r > roleInvalid && r < roleCount
}

func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
	return roleNames[r]
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid role %d", uint8(r))
	}
	return []byte(roleNames[r]), nil
}

func (r *Role) UnmarshalText(text []byte) error {
	parsed, err := ParseRole(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// IsStaff reports whether the role belongs to an authenticated staff account
// rather than an anonymous reporter.
func (r Role) IsStaff() bool {
	return r.Valid() && r != Reporter
}
