package pdo

import (
	"fmt"
	"math"
	"time"

	"proxygen/ordate"
)

// coerce converts v to the canonical Go type of slot type t.
func coerce(t AttrType, v any) (any, *AttrError) {
	mismatch := &AttrError{Err: ErrTypeMismatch, Expected: t, Encountered: typeName(v)}
	switch t {
	case String:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case Integer:
		if n, ok := asInt64(v); ok && n >= math.MinInt32 && n <= math.MaxInt32 {
			return int32(n), nil
		}
	case SmallInt:
		if b, ok := v.(bool); ok {
			if b {
				return int16(1), nil
			}
			return int16(0), nil
		}
		if n, ok := asInt64(v); ok && n >= math.MinInt16 && n <= math.MaxInt16 {
			return int16(n), nil
		}
	case Float, Money:
		switch f := v.(type) {
		case float64:
			return f, nil
		case float32:
			return float64(f), nil
		}
		if n, ok := asInt64(v); ok {
			return float64(n), nil
		}
	case Date:
		switch d := v.(type) {
		case ordate.Date:
			return d.Day(), nil
		case ordate.DateTime:
			return d.DateOnly().Day(), nil
		case time.Time:
			return ordate.FromTime(d).Day(), nil
		}
	case DateTime:
		switch d := v.(type) {
		case ordate.DateTime:
			return d, nil
		case ordate.Date:
			return d.WithTime(), nil
		case time.Time:
			return ordate.FromTime(d).WithTime(), nil
		}
	}
	return nil, mismatch
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return uintToInt64(uint64(n))
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return uintToInt64(n)
	}
	return 0, false
}

func uintToInt64(n uint64) (int64, bool) {
	if n > math.MaxInt64 {
		return 0, false
	}
	return int64(n), true
}

func typeName(v any) string {
	if v == nil {
		return "nil"
	}
	return fmt.Sprintf("%T", v)
}
