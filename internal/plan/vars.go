package plan

import (
	"fmt"

	"github.com/roach88/plexec/internal/value"
)

// InitialValue converts a variable declaration's initial value to the
// declared type. A missing initial value is Unknown.
func InitialValue(d VarDecl) (value.Value, error) {
	v, err := value.FromAny(d.Initial)
	if err != nil {
		return nil, err
	}
	if !value.IsKnown(v) {
		return value.Unknown{}, nil
	}
	switch d.Type {
	case VarBoolean:
		if b, ok := v.(value.Bool); ok {
			return b, nil
		}
	case VarInteger:
		if i, ok := v.(value.Int); ok {
			return i, nil
		}
	case VarReal:
		if n, ok := value.AsNumber(v); ok {
			return value.Real(n), nil
		}
	case VarString:
		if s, ok := v.(value.String); ok {
			return s, nil
		}
	default:
		return nil, fmt.Errorf("unknown variable type %q", d.Type)
	}
	return nil, fmt.Errorf("initial value %v does not match type %s", v, d.Type)
}
