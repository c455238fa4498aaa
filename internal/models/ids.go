package models

import (
	"bytes"
	"database/sql/driver"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// ProductID identifies a catalog product
type ProductID uuid.UUID

// NewProductID returns a random product id
func NewProductID() ProductID {
	return ProductID(uuid.New())
}

// ParseProductID parses the canonical textual form of a product id
func ParseProductID(s string) (ProductID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ProductID{}, fmt.Errorf("invalid product id %q: %w", s, err)
	}
	return ProductID(u), nil
}

// MustParseProductID is ParseProductID that panics, for fixtures
func MustParseProductID(s string) ProductID {
	id, err := ParseProductID(s)
	if err != nil {
		panic(err)
	}
	return id
}

func (id ProductID) String() string {
	return uuid.UUID(id).String()
}

// IsZero reports whether id is the nil uuid
func (id ProductID) IsZero() bool {
	return uuid.UUID(id) == uuid.Nil
}

// Less orders ids by their byte representation
func (id ProductID) Less(other ProductID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// MarshalText lets ProductID be used as a JSON object key
func (id ProductID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ProductID) UnmarshalText(b []byte) error {
	parsed, err := ParseProductID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Value stores the id in its textual form
func (id ProductID) Value() (driver.Value, error) {
	return id.String(), nil
}

func (id *ProductID) Scan(src any) error {
	switch v := src.(type) {
	case string:
		return id.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 16 {
			u, err := uuid.FromBytes(v)
			if err != nil {
				return err
			}
			*id = ProductID(u)
			return nil
		}
		return id.UnmarshalText(v)
	case [16]byte:
		*id = ProductID(v)
		return nil
	case nil:
		return fmt.Errorf("product id: unexpected NULL")
	default:
		return fmt.Errorf("product id: unsupported scan type %T", src)
	}
}

// SortProductIDs sorts ids in place in ascending order
func SortProductIDs(ids []ProductID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
}
