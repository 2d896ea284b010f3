package settings

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Value is a tagged union over the five setting primitives. The zero Value
// has TypeNone and yields sentinel payloads from every accessor.
type Value struct {
	typ ValueType
	b   bool
	i   int32
	f   float32
	c   Color
	t   Identity
}

// Sentinel payloads returned by accessors whose type does not match.
const (
	SentinelInt   int32   = -1
	SentinelFloat float32 = -1.0
)

// NoValue returns the untyped sentinel value.
func NoValue() Value { return Value{} }

func BoolValue(v bool) Value { return Value{typ: TypeBoolean, b: v} }
func IntValue(v int32) Value { return Value{typ: TypeInteger, i: v} }
func FloatValue(v float32) Value { return Value{typ: TypeFloat, f: v} }
func ColorValue(v Color) Value { return Value{typ: TypeColor, c: v} }
func TagValue(v Identity) Value { return Value{typ: TypeTag, t: v} }
func (v Value) Type() ValueType { return v.typ }
func (v Value) IsValid() bool { return v.typ != TypeNone }
func (v Value) Is(t ValueType) bool { return v.typ == t }

func (v Value) Bool() bool {
	if v.typ != TypeBoolean {
		return false
	}
	return v.b
}

func (v Value) Int() int32 {
	if v.typ != TypeInteger {
		return SentinelInt
	}
	return v.i
}

func (v Value) Float() float32 {
	if v.typ != TypeFloat {
		return SentinelFloat
	}
	return v.f
}

func (v Value) Color() Color {
	if v.typ != TypeColor {
		return White
	}
	return v.c
}

func (v Value) Tag() Identity {
	if v.typ != TypeTag {
		return ""
	}
	return v.t
}

// Equal compares type and active payload.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeNone:
		return true
	case TypeBoolean:
		return v.b == o.b
	case TypeInteger:
		return v.i == o.i
	case TypeFloat:
		return v.f == o.f
	case TypeColor:
		return v.c == o.c
	case TypeTag:
		return v.t == o.t
	default:
		panic(fmt.Sprintf("settings: unhandled value type %d", v.typ))
	}
}

// Interface returns the active payload as a plain Go value.
func (v Value) Interface() any {
	switch v.typ {
	case TypeNone:
		return nil
	case TypeBoolean:
		return v.b
	case TypeInteger:
		return v.i
	case TypeFloat:
		return v.f
	case TypeColor:
		return v.c.String()
	case TypeTag:
		return string(v.t)
	default:
		panic(fmt.Sprintf("settings: unhandled value type %d", v.typ))
	}
}

func (v Value) String() string {
	if v.typ == TypeNone {
		return "<none>"
	}
	return fmt.Sprintf("%s(%v)", v.typ, v.Interface())
}

// ParseValue converts a loosely typed input (catalog default, HTTP body)
// into a Value of type t.
func ParseValue(t ValueType, raw any) (Value, error) {
	switch t {
	case TypeBoolean:
		switch x := raw.(type) {
		case bool:
			return BoolValue(x), nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(x))
			if err != nil {
				return Value{}, fmt.Errorf("invalid bool %q: %w", x, err)
			}
			return BoolValue(b), nil
		}
	case TypeInteger:
		n, err := toFloat64(raw)
		if err != nil {
			return Value{}, err
		}
		if n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
			return Value{}, fmt.Errorf("invalid int %v", raw)
		}
		return IntValue(int32(n)), nil
	case TypeFloat:
		n, err := toFloat64(raw)
		if err != nil {
			return Value{}, err
		}
		if math.IsNaN(n) || math.Abs(n) > math.MaxFloat32 {
			return Value{}, fmt.Errorf("%w: float %v is not a finite float32", ErrOutOfRange, raw)
		}
		return FloatValue(float32(n)), nil
	case TypeColor:
		switch x := raw.(type) {
		case string:
			c, err := ParseColor(x)
			if err != nil {
				return Value{}, err
			}
			return ColorValue(c), nil
		case Color:
			return ColorValue(x), nil
		}
	case TypeTag:
		if s, ok := raw.(string); ok {
			id := Identity(strings.TrimSpace(s))
			if id != "" && !id.IsValid() {
				return Value{}, fmt.Errorf("invalid tag %q", s)
			}
			return TagValue(id), nil
		}
	default:
		return Value{}, fmt.Errorf("cannot parse value of type %s", t)
	}
	return Value{}, fmt.Errorf("cannot convert %T to %s", raw, t)
}

// finite reports false for float values that are NaN or infinite. Other
// kinds are always finite.
func finite(v Value) bool {
	if v.Type() != TypeFloat {
		return true
	}
	f := float64(v.Float())
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func toFloat64(raw any) (float64, error) {
	switch x := raw.(type) {
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid number %q: %w", x, err)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to number", raw)
	}
}
