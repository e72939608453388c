// Package pdo implements the parameter container exchanged with the application server.
//
// A container is a flat, ordered set of typed slots. Composite objects and arrays are
// flattened into dotted names by the objects themselves through the Marshaller contract:
//
//	customer            USERCLASS  inout
//	customer.name       STRING     inout
//	customer.orders     UCARRAY    out
//	customer.orders[].n INTEGER    out    <- row template
//
// A call moves a container through declare -> set -> Seal -> transport -> Merge ->
// populate. Values for array rows are stored under concrete names such as
// customer.orders[2].n and are typed by the row template.
package pdo

import (
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Slot describes one declared attribute.
type Slot struct {
	Name string
	Type AttrType
	Dir  Direction
}

// Container holds the declared slots of one call and the values written to them.
// A Container is owned by a single invocation and is not safe for concurrent use.
type Container struct {
	slots  *orderedmap.OrderedMap[string, Slot]
	values *orderedmap.OrderedMap[string, any]
	sealed bool
}

func NewContainer() *Container {
	return &Container{
		slots:  orderedmap.New[string, Slot](),
		values: orderedmap.New[string, any](),
	}
}

// Declare adds a typed slot. Names may contain row templates ("lines[].qty") once the
// array slot itself ("lines") is declared.
func (c *Container) Declare(name string, typ AttrType, dir Direction) error {
	if c.sealed {
		return attrErr(name, ErrSealed)
	}
	nk, err := parseName(name)
	if err != nil || nk.rows {
		return attrErr(name, ErrInvalidName)
	}
	if !typ.Valid() || !dir.Valid() {
		return &AttrError{Attr: name, Err: ErrInvalidSlot, Expected: typ, Encountered: dir.String()}
	}
	if _, ok := c.slots.Get(nk.key); ok {
		return attrErr(name, ErrDeclarationConflict)
	}
	if nk.template {
		parent, ok := c.slots.Get(parentArray(nk.key))
		if !ok || parent.Type != UCArray {
			return attrErr(name, ErrNotDeclared)
		}
	}
	c.slots.Set(nk.key, Slot{Name: nk.key, Type: typ, Dir: dir})
	return nil
}

// Set stores a caller-supplied value. Only in and in-out slots accept one, and only before
// the container is sealed.
func (c *Container) Set(name string, v any) error {
	if c.sealed {
		return attrErr(name, ErrSealed)
	}
	s, err := c.resolve(name)
	if err != nil {
		return err
	}
	if !s.Dir.Inbound() {
		return attrErr(name, ErrDirection)
	}
	return c.store(name, s, v)
}

// Write stores a value on behalf of the remote side. Any declared value slot accepts it.
func (c *Container) Write(name string, v any) error {
	s, err := c.resolve(name)
	if err != nil {
		return err
	}
	return c.store(name, s, v)
}

func (c *Container) store(name string, s Slot, v any) error {
	if s.Type.Structural() {
		return &AttrError{Attr: name, Err: ErrTypeMismatch, Expected: s.Type, Encountered: typeName(v)}
	}
	cv, err := coerce(s.Type, v)
	if err != nil {
		err.Attr = name
		return err
	}
	c.values.Set(name, cv)
	return nil
}

// Get returns the value held by a slot, in its canonical Go type: string, int32, int16,
// float64, ordate.Date or ordate.DateTime.
func (c *Container) Get(name string) (any, error) {
	s, err := c.resolve(name)
	if err != nil {
		return nil, err
	}
	if s.Type.Structural() {
		return nil, &AttrError{Attr: name, Err: ErrTypeMismatch, Expected: s.Type}
	}
	v, ok := c.values.Get(name)
	if !ok {
		return nil, attrErr(name, ErrMissingSlot)
	}
	return v, nil
}

// Has reports whether a value has been written to name.
func (c *Container) Has(name string) bool {
	_, ok := c.values.Get(name)
	return ok
}

// Lookup returns the slot that types name.
func (c *Container) Lookup(name string) (Slot, bool) {
	s, err := c.resolve(name)
	return s, err == nil
}

func (c *Container) resolve(name string) (Slot, error) {
	nk, err := parseName(name)
	if err != nil || nk.template {
		return Slot{}, attrErr(name, ErrInvalidName)
	}
	s, ok := c.slots.Get(nk.key)
	if !ok {
		return Slot{}, attrErr(name, ErrNotDeclared)
	}
	return s, nil
}

// Seal closes the declaration phase. It is idempotent.
func (c *Container) Seal() { c.sealed = true }

func (c *Container) Sealed() bool { return c.sealed }

// Slots returns the declared slots in declaration order.
func (c *Container) Slots() []Slot {
	out := make([]Slot, 0, c.slots.Len())
	for p := c.slots.Oldest(); p != nil; p = p.Next() {
		out = append(out, p.Value)
	}
	return out
}

// Len returns the number of values written.
func (c *Container) Len() int { return c.values.Len() }

// LastRow returns the highest row index written under the array called name, or 0.
func (c *Container) LastRow(name string) int {
	prefix := name + "["
	last := 0
	for p := c.values.Oldest(); p != nil; p = p.Next() {
		if !strings.HasPrefix(p.Key, prefix) {
			continue
		}
		rest := p.Key[len(prefix):]
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			continue
		}
		if n, err := strconv.Atoi(rest[:end]); err == nil && n > last {
			last = n
		}
	}
	return last
}

// Truncate drops every row of the array called name past row n. A procedure uses it to
// return fewer rows than it was sent.
func (c *Container) Truncate(name string, n int) error {
	s, err := c.resolve(name)
	if err != nil {
		return err
	}
	if s.Type != UCArray {
		return &AttrError{Attr: name, Err: ErrTypeMismatch, Expected: UCArray, Encountered: s.Type.String()}
	}
	prefix := name + "["
	var drop []string
	for p := c.values.Oldest(); p != nil; p = p.Next() {
		if !strings.HasPrefix(p.Key, prefix) {
			continue
		}
		rest := p.Key[len(prefix):]
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			continue
		}
		if row, err := strconv.Atoi(rest[:end]); err == nil && row > n {
			drop = append(drop, p.Key)
		}
	}
	for _, k := range drop {
		c.values.Delete(k)
	}
	return nil
}

// inOutboundRow reports whether name addresses a row of an out or in-out array.
func (c *Container) inOutboundRow(name string) bool {
	for i := 0; i < len(name); i++ {
		if name[i] != '[' {
			continue
		}
		if s, err := c.resolve(name[:i]); err == nil && s.Type == UCArray && s.Dir.Outbound() {
			return true
		}
	}
	return false
}

// Unwritten lists the out and in-out attributes that hold no value, including attributes
// of every array row up to the array's last written row.
func (c *Container) Unwritten() []string {
	var missing []string
	for p := c.slots.Oldest(); p != nil; p = p.Next() {
		s := p.Value
		if s.Type.Structural() || !s.Dir.Outbound() {
			continue
		}
		for _, name := range c.expand(s.Name) {
			if !c.Has(name) {
				missing = append(missing, name)
			}
		}
	}
	return missing
}

// expand turns a template name into the concrete names of every written row.
func (c *Container) expand(key string) []string {
	i := strings.Index(key, "[]")
	if i < 0 {
		return []string{key}
	}
	prefix, rest := key[:i], key[i+2:]
	var out []string
	for row := 1; row <= c.LastRow(prefix); row++ {
		out = append(out, c.expand(Row(prefix, row)+rest)...)
	}
	return out
}

// Merge applies the values of a reply container to c. Values for in-only slots are
// ignored. The rows of out and in-out arrays are replaced by the rows of the reply, so the
// remote side decides how many come back. Nothing is applied unless every value is accepted.
func (c *Container) Merge(reply *Container) error {
	if !c.sealed {
		return ErrNotSealed
	}
	type write struct {
		name string
		v    any
	}
	writes := make([]write, 0, reply.values.Len())
	for p := reply.values.Oldest(); p != nil; p = p.Next() {
		s, err := c.resolve(p.Key)
		if err != nil {
			return err
		}
		if !s.Dir.Outbound() {
			continue
		}
		if s.Type.Structural() {
			return &AttrError{Attr: p.Key, Err: ErrTypeMismatch, Expected: s.Type, Encountered: typeName(p.Value)}
		}
		v, aerr := coerce(s.Type, p.Value)
		if aerr != nil {
			aerr.Attr = p.Key
			return aerr
		}
		writes = append(writes, write{p.Key, v})
	}
	var stale []string
	for p := c.values.Oldest(); p != nil; p = p.Next() {
		if c.inOutboundRow(p.Key) {
			stale = append(stale, p.Key)
		}
	}
	for _, k := range stale {
		c.values.Delete(k)
	}
	for _, w := range writes {
		c.values.Set(w.name, w.v)
	}
	return nil
}
