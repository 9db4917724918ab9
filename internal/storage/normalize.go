package storage

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Source tables disagree on column types: spend and sales arrive as NUMERIC
// in some, as free text ("1,234.50", "$12.00", "") in others. Every store
// routes raw values through ParseDecimal so the engine only sees decimals.

// ParseDecimal converts a raw column value to a decimal. nil and empty text
// are zero.
func ParseDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, nil
	case decimal.Decimal:
		return x, nil
	case *decimal.Decimal:
		if x == nil {
			return decimal.Zero, nil
		}
		return *x, nil
	case string:
		return parseDecimalText(x)
	case *string:
		if x == nil {
			return decimal.Zero, nil
		}
		return parseDecimalText(*x)
	case []byte:
		return parseDecimalText(string(x))
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int32:
		return decimal.NewFromInt32(x), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case uint32:
		return decimal.NewFromInt(int64(x)), nil
	case uint64:
		return decimal.NewFromInt(int64(x)), nil
	default:
		return decimal.Zero, fmt.Errorf("unsupported numeric type %T", v)
	}
}

// ParseNullDecimal is ParseDecimal for nullable columns: nil and empty text
// are null rather than zero.
func ParseNullDecimal(v any) (decimal.NullDecimal, error) {
	switch x := v.(type) {
	case nil:
		return decimal.NullDecimal{}, nil
	case *string:
		if x == nil || strings.TrimSpace(*x) == "" {
			return decimal.NullDecimal{}, nil
		}
	case string:
		if strings.TrimSpace(x) == "" {
			return decimal.NullDecimal{}, nil
		}
	case *decimal.Decimal:
		if x == nil {
			return decimal.NullDecimal{}, nil
		}
	}
	d, err := ParseDecimal(v)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

func parseDecimalText(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)
	if s == "" || s == "-" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid numeric value %q: %w", s, err)
	}
	return d, nil
}
