// Package models defines the GORM-backed records the service persists.
// The only table today is the clip ledger; everything rides on a ULID
// primary key so rows sort by creation time without a second index.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ULID keys ledger rows. It stores as a 26-character string and sorts
// lexicographically in mint order.
type ULID ulid.ULID

// NewULID mints an id for the current moment. Entropy is monotonic, so
// ids minted within the same millisecond still sort by call order.
func NewULID() ULID {
	return ULID(ulid.Make())
}

// ParseULID parses the canonical 26-character form.
func ParseULID(s string) (ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ULID{}, fmt.Errorf("invalid ULID: %w", err)
	}
	return ULID(id), nil
}

// ULIDAt returns the smallest ULID carrying t's timestamp, turning a
// time bound into a primary-key bound for range scans.
func ULIDAt(t time.Time) ULID {
	var id ulid.ULID
	_ = id.SetTime(ulid.Timestamp(t))
	return ULID(id)
}

func (u ULID) String() string { return ulid.ULID(u).String() }

// IsZero reports whether u is the zero id.
func (u ULID) IsZero() bool { return u == ULID{} }

// Value stores the id as its canonical string, or NULL when zero.
func (u ULID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.String(), nil
}

// Scan accepts the string forms drivers hand back. NULL and the empty
// string scan to the zero id.
func (u *ULID) Scan(value any) error {
	var s string
	switch v := value.(type) {
	case nil:
		*u = ULID{}
		return nil
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported type for ULID: %T", value)
	}
	if s == "" {
		*u = ULID{}
		return nil
	}
	id, err := ParseULID(s)
	if err != nil {
		return fmt.Errorf("scanning ULID: %w", err)
	}
	*u = id
	return nil
}

// MarshalText implements encoding.TextMarshaler, which encoding/json
// picks up too, so ids serialize as plain strings. The zero id comes
// out empty rather than as twenty-six zeros.
func (u ULID) MarshalText() ([]byte, error) {
	if u.IsZero() {
		return []byte{}, nil
	}
	return []byte(u.String()), nil
}

// UnmarshalText parses the canonical form; empty input is the zero id.
func (u *ULID) UnmarshalText(b []byte) error {
	if len(b) == 0 {
		*u = ULID{}
		return nil
	}
	id, err := ParseULID(string(b))
	if err != nil {
		return err
	}
	*u = id
	return nil
}

// GormDataType keeps the column a compact fixed-width varchar.
func (ULID) GormDataType() string {
	return "varchar(26)"
}

// BaseModel carries the fields every persisted record shares. Ledger
// rows are plain history: deletes are hard deletes, and there is no
// soft-delete column.
type BaseModel struct {
	ID        ULID      `gorm:"primarykey;type:varchar(26)" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate mints the primary key for rows inserted without one.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID.IsZero() {
		b.ID = NewULID()
	}
	return nil
}
