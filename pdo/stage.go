package pdo

import (
	"reflect"

	"proxygen/ordate"
)

// Stager is implemented by marshallers that can read their out values without touching the
// variables they are bound to. The returned commit assigns what was read and cannot fail.
type Stager interface {
	StageAttributes(c *Container, name string) (commit func(), err error)
}

// Stage reads the out values of m without assigning them. Stagers stage themselves. Any
// other pointer marshaller is populated on a shallow copy of its target, and commit assigns
// the copy back. Non-pointer marshallers are populated in place.
func Stage(c *Container, name string, m Marshaller) (func(), error) {
	if s, ok := m.(Stager); ok {
		return s.StageAttributes(c, name)
	}
	rv := reflect.ValueOf(m)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		if err := m.PopulateAttributes(c, name); err != nil {
			return nil, err
		}
		return func() {}, nil
	}
	cp := reflect.New(rv.Elem().Type())
	cp.Elem().Set(rv.Elem())
	if err := cp.Interface().(Marshaller).PopulateAttributes(c, name); err != nil {
		return nil, err
	}
	return func() { rv.Elem().Set(cp.Elem()) }, nil
}

// canonical holds a value of the canonical Go type of every value slot type.
var canonical = map[AttrType]any{
	String:   "",
	Integer:  int32(0),
	SmallInt: int16(0),
	Float:    float64(0),
	Money:    float64(0),
	Date:     ordate.Blank(),
	DateTime: ordate.BlankDateTime(),
}
