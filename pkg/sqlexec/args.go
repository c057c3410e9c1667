package sqlexec

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/plaenen/cartflow/pkg/command"
	"github.com/shopspring/decimal"
)

// Args are the bound parameters of one procedure call, keyed by @name.
// Values arrive either as constructed or as decoded from JSON, so the
// getters accept both forms.
type Args map[string]any

func (a Args) value(name string) (any, error) {
	v, ok := a[command.ParamName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingParameter, command.ParamName(name))
	}
	return v, nil
}

func conversionError(name string, v any, kind string) error {
	return fmt.Errorf("parameter %s: cannot use %T as %s", command.ParamName(name), v, kind)
}

// String returns a text parameter.
func (a Args) String(name string) (string, error) {
	v, err := a.value(name)
	if err != nil {
		return "", err
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return "", conversionError(name, v, "string")
	}
}

// Int returns an integer parameter.
func (a Args) Int(name string) (int64, error) {
	v, err := a.value(name)
	if err != nil {
		return 0, err
	}
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if x != float64(int64(x)) {
			return 0, conversionError(name, v, "integer")
		}
		return int64(x), nil
	case json.Number:
		return x.Int64()
	case string:
		return strconv.ParseInt(x, 10, 64)
	default:
		return 0, conversionError(name, v, "integer")
	}
}

// Bool returns a bit parameter. Numbers are true when non-zero.
func (a Args) Bool(name string) (bool, error) {
	v, err := a.value(name)
	if err != nil {
		return false, err
	}
	switch x := v.(type) {
	case bool:
		return x, nil
	case float64:
		return x != 0, nil
	case int:
		return x != 0, nil
	case string:
		return strconv.ParseBool(x)
	default:
		return false, conversionError(name, v, "bool")
	}
}

// Decimal returns a money parameter.
func (a Args) Decimal(name string) (decimal.Decimal, error) {
	v, err := a.value(name)
	if err != nil {
		return decimal.Zero, err
	}
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case string:
		return decimal.NewFromString(x)
	case float64:
		return decimal.NewFromFloat(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case json.Number:
		return decimal.NewFromString(x.String())
	default:
		return decimal.Zero, conversionError(name, v, "decimal")
	}
}
