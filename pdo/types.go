package pdo

import (
	"errors"
	"fmt"
)

// AttrType is the server-side type of a container slot.
type AttrType uint8

const (
	UserClass AttrType = iota + 1 // composite object marker, carries no value
	UCArray                       // array of composite rows, carries no value
	String
	Integer
	SmallInt // also carries booleans, 1 == true
	Float
	Money
	Date     // date-only semantics
	DateTime // date-and-time semantics
)

var attrTypeNames = map[AttrType]string{
	UserClass: "USERCLASS",
	UCArray:   "UCARRAY",
	String:    "STRING",
	Integer:   "INTEGER",
	SmallInt:  "SMALLINT",
	Float:     "FLOAT",
	Money:     "MONEY",
	Date:      "DATE",
	DateTime:  "DATETIME",
}

func (t AttrType) String() string {
	if name, ok := attrTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ATTRTYPE(%d)", uint8(t))
}

// Valid reports whether t is a known attribute type.
func (t AttrType) Valid() bool {
	_, ok := attrTypeNames[t]
	return ok
}

// Structural reports whether slots of this type only shape the container and hold no value.
func (t AttrType) Structural() bool { return t == UserClass || t == UCArray }

// ParseAttrType is the inverse of AttrType.String.
func ParseAttrType(s string) (AttrType, error) {
	for t, name := range attrTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("pdo: unknown attribute type %q", s)
}

// Direction states which way an attribute flows.
type Direction uint8

const (
	In    Direction = 1 << iota // caller to server
	Out                         // server to caller
	InOut = In | Out
)

// Inbound reports whether the caller supplies a value before the call.
func (d Direction) Inbound() bool { return d&In != 0 }

// Outbound reports whether the value is read back after the call.
func (d Direction) Outbound() bool { return d&Out != 0 }

func (d Direction) Valid() bool { return d == In || d == Out || d == InOut }

func (d Direction) String() string {
	switch d {
	case In:
		return "in"
	case Out:
		return "out"
	case InOut:
		return "inout"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// ParseDirection is the inverse of Direction.String.
func ParseDirection(s string) (Direction, error) {
	switch s {
	case "in":
		return In, nil
	case "out":
		return Out, nil
	case "inout":
		return InOut, nil
	}
	return 0, fmt.Errorf("pdo: unknown direction %q", s)
}

// Contract violations. They signal a defect in generated or calling code and are never
// worth retrying.
var (
	ErrDeclarationConflict = errors.New("pdo: attribute already declared")
	ErrTypeMismatch        = errors.New("pdo: type mismatch")
	ErrMissingSlot         = errors.New("pdo: attribute never written")
	ErrNotDeclared         = errors.New("pdo: attribute not declared")
	ErrDirection           = errors.New("pdo: direction does not allow operation")
	ErrSealed              = errors.New("pdo: container sealed")
	ErrNotSealed           = errors.New("pdo: container not sealed")
	ErrInvalidName         = errors.New("pdo: invalid attribute name")
	ErrInvalidSlot         = errors.New("pdo: invalid attribute type or direction")
)

// AttrError ties a contract violation to the attribute that caused it.
type AttrError struct {
	Attr        string
	Err         error
	Expected    AttrType // set for type mismatches
	Encountered string   // Go type of the offending value, if any
}

func (e *AttrError) Error() string {
	if e.Encountered != "" {
		return fmt.Sprintf("%v: %s: got %s, expecting %s", e.Err, e.Attr, e.Encountered, e.Expected)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.Attr)
}

func (e *AttrError) Unwrap() error { return e.Err }

func attrErr(attr string, err error) *AttrError {
	return &AttrError{Attr: attr, Err: err}
}
