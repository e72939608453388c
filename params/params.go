// Package params holds the named parameter set used by map-style procedure calls.
//
// A Set is an insertion-ordered map of parameter name to value. Callers fill the in and in-out
// entries, hand the set to a call and read out and in-out entries afterwards. A Set may be
// reused for consecutive calls but must not be touched while a call using it is in flight.
package params

import (
	"fmt"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"proxygen/pdo"
)

type Set struct {
	m *orderedmap.OrderedMap[string, any]
}

func New() *Set {
	return &Set{m: orderedmap.New[string, any]()}
}

// Put stores v under key. Overwriting a key keeps its original position.
func (s *Set) Put(key string, v any) *Set {
	s.m.Set(key, v)
	return s
}

func (s *Set) Get(key string) (any, bool) {
	return s.m.Get(key)
}

// Delete removes key and reports whether it was present.
func (s *Set) Delete(key string) bool {
	_, ok := s.m.Delete(key)
	return ok
}

func (s *Set) Len() int { return s.m.Len() }

// Keys returns the keys in insertion order.
func (s *Set) Keys() []string {
	keys := make([]string, 0, s.m.Len())
	for p := s.m.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

// Clear empties the set for reuse.
func (s *Set) Clear() {
	s.m = orderedmap.New[string, any]()
}

// Value returns the entry under key converted to T. Values read back from a call hold the
// container's canonical types (string, int32, int16, float64, ordate.Date, ordate.DateTime),
// which convert to the usual Go types.
func Value[T any](s *Set, key string) (T, bool) {
	var zero T
	v, ok := s.m.Get(key)
	if !ok {
		return zero, false
	}
	return pdo.Convert[T](v)
}

// ErrMissing is returned when an in or in-out parameter has no entry in the set.
type ErrMissing struct {
	Key string
}

func (e *ErrMissing) Error() string {
	return fmt.Sprintf("params: no value for parameter %q", e.Key)
}
