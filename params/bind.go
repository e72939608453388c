package params

import (
	"fmt"

	"proxygen/pdo"
)

// binding adapts one entry of a Set to the container contract. Entries that are themselves
// marshallers (composite objects, arrays) delegate to the entry; other entries are scalars.
type binding struct {
	set *Set
	key string
	typ pdo.AttrType
	dir pdo.Direction
}

// Bind returns a marshaller that moves the entry key of set in and out of a container.
func Bind(set *Set, key string, typ pdo.AttrType, dir pdo.Direction) pdo.Marshaller {
	return &binding{set: set, key: key, typ: typ, dir: dir}
}

func (b *binding) nested() (pdo.Marshaller, bool) {
	if !b.typ.Structural() {
		return nil, false
	}
	v, ok := b.set.Get(b.key)
	if !ok {
		return nil, false
	}
	m, ok := v.(pdo.Marshaller)
	return m, ok
}

func (b *binding) DeclareAttributes(c *pdo.Container, name string) error {
	if b.typ.Structural() {
		m, ok := b.nested()
		if !ok {
			return &pdo.AttrError{Attr: name, Err: pdo.ErrTypeMismatch, Expected: b.typ, Encountered: b.encountered()}
		}
		return m.DeclareAttributes(c, name)
	}
	return c.Declare(name, b.typ, b.dir)
}

func (b *binding) SetAttributes(c *pdo.Container, name string) error {
	if m, ok := b.nested(); ok {
		return m.SetAttributes(c, name)
	}
	if !b.dir.Inbound() {
		return nil
	}
	v, ok := b.set.Get(b.key)
	if !ok {
		return &ErrMissing{Key: b.key}
	}
	return c.Set(name, v)
}

func (b *binding) PopulateAttributes(c *pdo.Container, name string) error {
	commit, err := b.StageAttributes(c, name)
	if err != nil {
		return err
	}
	commit()
	return nil
}

func (b *binding) StageAttributes(c *pdo.Container, name string) (func(), error) {
	if m, ok := b.nested(); ok {
		return pdo.Stage(c, name, m)
	}
	if !b.dir.Outbound() {
		return func() {}, nil
	}
	v, err := c.Get(name)
	if err != nil {
		return nil, err
	}
	return func() { b.set.Put(b.key, v) }, nil
}

func (b *binding) encountered() string {
	v, ok := b.set.Get(b.key)
	if !ok {
		return "nothing"
	}
	return fmt.Sprintf("%T", v)
}
