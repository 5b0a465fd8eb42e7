package storage

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// Identity groups the rows that describe one logical object.
type Identity = uuid.UUID

// NewIdentity returns a random identity.
func NewIdentity() Identity {
	return uuid.New()
}

// ParseIdentity parses the hyphenated or 32-digit hex form of an identity.
func ParseIdentity(s string) (Identity, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return Identity{}, errors.Wrapf(err, "parse identity %q", s)
	}
	return id, nil
}

// Row is one (identity, property, value, time) assertion.
type Row struct {
	Identity Identity
	Prop     string
	Value    Value
	Time     uint64
}

// String renders the row for logs and test failures.
func (r Row) String() string {
	return fmt.Sprintf("(%s, %s, %v, %d)", r.Identity, r.Prop, r.Value, r.Time)
}

// NormProp returns the NFC form of a property name. Every backend stores and
// looks up properties in this form so visually identical names share an index.
func NormProp(prop string) string {
	return norm.NFC.String(prop)
}

// ValidateRows checks every row before any mutation happens. The batch is
// either valid as a whole or rejected as a whole.
func ValidateRows(rows []Row) error {
	for i, r := range rows {
		if err := ValidateProp(r.Prop); err != nil {
			return errors.Wrapf(err, "row %d", i)
		}
		if KindOf(r.Value) == KindInvalid {
			return errors.Wrapf(ErrBadValueType, "row %d: property %q has value %T", i, r.Prop, r.Value)
		}
	}
	return nil
}

// ValidateProp rejects empty property names and names containing NUL, which
// the relational backends cannot round-trip.
func ValidateProp(prop string) error {
	if prop == "" {
		return errors.New("empty property name")
	}
	if strings.IndexByte(prop, 0) >= 0 {
		return errors.Newf("property name %q contains NUL", prop)
	}
	return nil
}

// NormRows returns a copy of rows with normalized property names.
func NormRows(rows []Row) []Row {
	out := make([]Row, len(rows))
	for i, r := range rows {
		r.Prop = NormProp(r.Prop)
		out[i] = r
	}
	return out
}
