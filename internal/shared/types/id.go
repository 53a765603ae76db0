package types

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// ID identifies reports, rooms, messages, clients and users. It is always a
// canonical lowercase UUID string; the zero value means "none" and is stored
// as NULL.
type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

// ParseID accepts any UUID form uuid.Parse does and returns the canonical one,
// so IDs taken from URLs compare equal to stored ones.
func ParseID(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid ID %q: %w", s, err)
	}
	return ID(u.String()), nil
}

func (id ID) String() string {
	return string(id)
}

func (id ID) IsZero() bool {
	return id == ""
}

// Value stores the zero ID as NULL.
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}
	return string(id), nil
}

// Scan reads text, bytes or a raw 16-byte UUID. NULL scans to the zero ID.
func (id *ID) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		*id = ""
	case string:
		*id = ID(v)
	case []byte:
		*id = ID(v)
	case [16]byte:
		*id = ID(uuid.UUID(v).String())
	default:
		return fmt.Errorf("cannot scan %T into ID", value)
	}
	return nil
}
