package value

import (
	"fmt"
	"math"
	"strconv"
)

// Value is a sealed interface over the values a plan can hold.
// Scalars are Unknown, Bool, Int, Real and String; the node enumerations
// (NodeState, Outcome, FailureType, CommandHandle) are values too so that
// conditions can compare against them.
type Value interface {
	value() // Sealed
	String() string
}

// Unknown is the value of anything not yet known.
type Unknown struct{}

func (Unknown) value()         {}
func (Unknown) String() string { return "UNKNOWN" }

// Bool is a known boolean.
type Bool bool

func (Bool) value() {}
func (b Bool) String() string {
	if b {
		return "true"
	}
	return "false"
}

// Int is a known integer.
type Int int64

func (Int) value()           {}
func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }

// Real is a known floating point number. Times are Reals.
type Real float64

func (Real) value()           {}
func (r Real) String() string { return strconv.FormatFloat(float64(r), 'g', -1, 64) }

// String is a known string.
type String string

func (String) value()           {}
func (s String) String() string { return strconv.Quote(string(s)) }

// IsKnown reports whether v carries a value.
func IsKnown(v Value) bool {
	if v == nil {
		return false
	}
	_, unknown := v.(Unknown)
	return !unknown
}

// Equal reports whether two values are the same known value.
// Int and Real compare numerically. Unknown equals only Unknown.
func Equal(a, b Value) bool {
	if a == nil {
		a = Unknown{}
	}
	if b == nil {
		b = Unknown{}
	}
	if x, ok := AsNumber(a); ok {
		if y, ok := AsNumber(b); ok {
			return x == y
		}
		return false
	}
	return a == b
}

// AsNumber returns the numeric content of an Int or Real.
func AsNumber(v Value) (float64, bool) {
	switch n := v.(type) {
	case Int:
		return float64(n), true
	case Real:
		return float64(n), true
	}
	return 0, false
}

// Compare orders two known values of comparable kinds.
// Returns ok=false if either value is unknown or the kinds differ.
func Compare(a, b Value) (int, bool) {
	if x, ok := AsNumber(a); ok {
		y, ok := AsNumber(b)
		if !ok || math.IsNaN(x) || math.IsNaN(y) {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	if x, ok := a.(String); ok {
		y, ok := b.(String)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// FromAny converts a decoded YAML/CUE scalar into a Value.
// nil becomes Unknown.
func FromAny(x any) (Value, error) {
	switch v := x.(type) {
	case nil:
		return Unknown{}, nil
	case Value:
		return v, nil
	case bool:
		return Bool(v), nil
	case int:
		return Int(v), nil
	case int64:
		return Int(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("integer %d out of range", v)
		}
		return Int(v), nil
	case float64:
		return Real(v), nil
	case string:
		return String(v), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", x)
}
