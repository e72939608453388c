package pdo

import (
	"proxygen/ordate"
)

// Marshaller is implemented by anything that can travel as a procedure parameter: a single
// typed value, a composite object or an array of composite rows. name is the attribute
// path the object is bound to; composite objects nest their fields under it with Attr.
//
// DeclareAttributes must declare every slot the object uses exactly once. SetAttributes
// writes the in and in-out values and runs before the call. PopulateAttributes reads the out
// and in-out values back after a successful call.
type Marshaller interface {
	DeclareAttributes(c *Container, name string) error
	SetAttributes(c *Container, name string) error
	PopulateAttributes(c *Container, name string) error
}

func DeclareString(c *Container, name string, dir Direction) error {
	return c.Declare(name, String, dir)
}

func DeclareInteger(c *Container, name string, dir Direction) error {
	return c.Declare(name, Integer, dir)
}

func DeclareSmallInt(c *Container, name string, dir Direction) error {
	return c.Declare(name, SmallInt, dir)
}

// DeclareBoolean declares a SMALLINT slot carrying a boolean.
func DeclareBoolean(c *Container, name string, dir Direction) error {
	return c.Declare(name, SmallInt, dir)
}

func DeclareFloat(c *Container, name string, dir Direction) error {
	return c.Declare(name, Float, dir)
}

func DeclareMoney(c *Container, name string, dir Direction) error {
	return c.Declare(name, Money, dir)
}

func DeclareDate(c *Container, name string, dir Direction) error {
	return c.Declare(name, Date, dir)
}

func DeclareDateTime(c *Container, name string, dir Direction) error {
	return c.Declare(name, DateTime, dir)
}

func DeclareUserClass(c *Container, name string, dir Direction) error {
	return c.Declare(name, UserClass, dir)
}

// DeclareArray declares an array slot. Row attributes are declared under templateOf(name).
func DeclareArray(c *Container, name string, dir Direction) error {
	return c.Declare(name, UCArray, dir)
}

func GetString(c *Container, name string) (string, error) { return get[string](c, name, String) }

func GetInteger(c *Container, name string) (int32, error) { return get[int32](c, name, Integer) }

func GetSmallInt(c *Container, name string) (int16, error) { return get[int16](c, name, SmallInt) }

// GetBoolean reads a SMALLINT slot; only 1 is true.
func GetBoolean(c *Container, name string) (bool, error) {
	n, err := get[int16](c, name, SmallInt)
	return n == 1, err
}

func GetFloat(c *Container, name string) (float64, error) { return get[float64](c, name, Float) }

func GetMoney(c *Container, name string) (float64, error) { return get[float64](c, name, Money) }

func GetDate(c *Container, name string) (ordate.Date, error) {
	return get[ordate.Date](c, name, Date)
}

func GetDateTime(c *Container, name string) (ordate.DateTime, error) {
	return get[ordate.DateTime](c, name, DateTime)
}

func get[T any](c *Container, name string, want AttrType) (T, error) {
	var zero T
	v, err := c.Get(name)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, &AttrError{Attr: name, Err: ErrTypeMismatch, Expected: want, Encountered: typeName(v)}
	}
	return out, nil
}
