package pdo

import (
	"encoding/json"
	"fmt"

	"proxygen/ordate"
)

// Wire form of a container. Slots keep declaration order and values keep write order.
// Date values travel as epoch milliseconds; the blank sentinel is sent verbatim.
type wireContainer struct {
	Sealed bool        `json:"sealed,omitempty"`
	Slots  []wireSlot  `json:"slots"`
	Values []wireValue `json:"values"`
}

type wireSlot struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Dir  string `json:"dir"`
}

type wireValue struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

func (c *Container) MarshalJSON() ([]byte, error) {
	w := wireContainer{
		Sealed: c.sealed,
		Slots:  make([]wireSlot, 0, c.slots.Len()),
		Values: make([]wireValue, 0, c.values.Len()),
	}
	for p := c.slots.Oldest(); p != nil; p = p.Next() {
		s := p.Value
		w.Slots = append(w.Slots, wireSlot{Name: s.Name, Type: s.Type.String(), Dir: s.Dir.String()})
	}
	for p := c.values.Oldest(); p != nil; p = p.Next() {
		var raw any
		switch v := p.Value.(type) {
		case ordate.Date:
			raw = v.Millis()
		case ordate.DateTime:
			raw = v.Millis()
		default:
			raw = v
		}
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("pdo: encode %s: %w", p.Key, err)
		}
		w.Values = append(w.Values, wireValue{Name: p.Key, Value: b})
	}
	return json.Marshal(w)
}

func (c *Container) UnmarshalJSON(data []byte) error {
	var w wireContainer
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	fresh := NewContainer()
	for _, ws := range w.Slots {
		typ, err := ParseAttrType(ws.Type)
		if err != nil {
			return err
		}
		dir, err := ParseDirection(ws.Dir)
		if err != nil {
			return err
		}
		if err := fresh.Declare(ws.Name, typ, dir); err != nil {
			return err
		}
	}
	for _, wv := range w.Values {
		s, err := fresh.resolve(wv.Name)
		if err != nil {
			return err
		}
		v, err := decodeValue(s.Type, wv.Value)
		if err != nil {
			return &AttrError{Attr: wv.Name, Err: ErrTypeMismatch, Expected: s.Type, Encountered: string(wv.Value)}
		}
		if err := fresh.store(wv.Name, s, v); err != nil {
			return err
		}
	}
	fresh.sealed = w.Sealed
	*c = *fresh
	return nil
}

func decodeValue(t AttrType, raw json.RawMessage) (any, error) {
	switch t {
	case String:
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case Integer:
		var n int32
		err := json.Unmarshal(raw, &n)
		return n, err
	case SmallInt:
		var n int16
		err := json.Unmarshal(raw, &n)
		return n, err
	case Float, Money:
		var f float64
		err := json.Unmarshal(raw, &f)
		return f, err
	case Date:
		var ms int64
		err := json.Unmarshal(raw, &ms)
		return ordate.FromEpochMillis(ms), err
	case DateTime:
		var ms int64
		err := json.Unmarshal(raw, &ms)
		return ordate.DateTimeFromEpochMillis(ms), err
	}
	return nil, ErrTypeMismatch
}
