package pdo

import (
	"reflect"
	"time"

	"proxygen/ordate"
)

// Scalar binds one caller variable to a single value slot.
type Scalar[T any] struct {
	Ptr  *T
	Type AttrType
	Dir  Direction
}

func NewScalar[T any](ptr *T, typ AttrType, dir Direction) *Scalar[T] {
	return &Scalar[T]{Ptr: ptr, Type: typ, Dir: dir}
}

// DeclareAttributes rejects an out or in-out binding whose T cannot hold the slot's values.
func (s *Scalar[T]) DeclareAttributes(c *Container, name string) error {
	if s.Dir.Outbound() {
		if v, ok := canonical[s.Type]; ok {
			if _, ok := Convert[T](v); !ok {
				return &AttrError{Attr: name, Err: ErrTypeMismatch, Expected: s.Type, Encountered: reflect.TypeFor[T]().String()}
			}
		}
	}
	return c.Declare(name, s.Type, s.Dir)
}

func (s *Scalar[T]) SetAttributes(c *Container, name string) error {
	if !s.Dir.Inbound() {
		return nil
	}
	return c.Set(name, *s.Ptr)
}

func (s *Scalar[T]) PopulateAttributes(c *Container, name string) error {
	commit, err := s.StageAttributes(c, name)
	if err != nil {
		return err
	}
	commit()
	return nil
}

func (s *Scalar[T]) StageAttributes(c *Container, name string) (func(), error) {
	if !s.Dir.Outbound() {
		return func() {}, nil
	}
	v, err := c.Get(name)
	if err != nil {
		return nil, err
	}
	out, ok := Convert[T](v)
	if !ok {
		return nil, &AttrError{Attr: name, Err: ErrTypeMismatch, Expected: s.Type, Encountered: typeName(v)}
	}
	return func() { *s.Ptr = out }, nil
}

// Convert turns a canonical container value into T. Integers widen or narrow with a range
// check, SMALLINT converts to bool, and the date flavors convert to each other and to
// time.Time.
func Convert[T any](v any) (T, bool) {
	var out T
	if x, ok := v.(T); ok {
		return x, true
	}
	switch p := any(&out).(type) {
	case *any:
		*p = v
	case *int:
		n, ok := asInt64(v)
		if !ok {
			return out, false
		}
		*p = int(n)
	case *int64:
		n, ok := asInt64(v)
		if !ok {
			return out, false
		}
		*p = n
	case *int32:
		n, ok := asInt64(v)
		if !ok || n < -1<<31 || n > 1<<31-1 {
			return out, false
		}
		*p = int32(n)
	case *bool:
		n, ok := asInt64(v)
		if !ok {
			return out, false
		}
		*p = n == 1
	case *float32:
		f, ok := v.(float64)
		if !ok {
			return out, false
		}
		*p = float32(f)
	case *time.Time:
		switch d := v.(type) {
		case ordate.Date:
			*p = d.Time()
		case ordate.DateTime:
			*p = d.Time()
		default:
			return out, false
		}
	case *ordate.Date:
		dt, ok := v.(ordate.DateTime)
		if !ok {
			return out, false
		}
		*p = dt.DateOnly()
	case *ordate.DateTime:
		d, ok := v.(ordate.Date)
		if !ok {
			return out, false
		}
		*p = d.WithTime()
	default:
		return out, false
	}
	return out, true
}
