package domain

import (
	"math"
	"reflect"

	"github.com/louisbranch/tablesync/internal/errors"
)

// Sanitize normalizes a proposed document payload before persistence:
// absent values nested anywhere in the structure become explicit nulls,
// because the store's merge semantics treat unset fields unpredictably.
// Sanitization is structural, not type coercion, and is idempotent.
//
// Malformed payloads fail fast before any write: cyclic structures,
// non-finite numbers, and values with no JSON representation are rejected.
func Sanitize(fields map[string]any) (map[string]any, error) {
	sanitized, err := sanitizeValue(fields, make(map[uintptr]struct{}))
	if err != nil {
		return nil, err
	}
	if sanitized == nil {
		return map[string]any{}, nil
	}
	return sanitized.(map[string]any), nil
}

func sanitizeValue(value any, visiting map[uintptr]struct{}) (any, error) {
	if value == nil {
		return nil, nil
	}

	switch v := value.(type) {
	case map[string]any:
		ptr := reflect.ValueOf(v).Pointer()
		if _, seen := visiting[ptr]; seen {
			return nil, errors.New(errors.CodeProposalCyclic, "proposed state contains a cycle")
		}
		visiting[ptr] = struct{}{}
		defer delete(visiting, ptr)

		out := make(map[string]any, len(v))
		for key, inner := range v {
			sanitized, err := sanitizeValue(inner, visiting)
			if err != nil {
				return nil, err
			}
			out[key] = sanitized
		}
		return out, nil

	case []any:
		ptr := reflect.ValueOf(v).Pointer()
		if _, seen := visiting[ptr]; seen {
			return nil, errors.New(errors.CodeProposalCyclic, "proposed state contains a cycle")
		}
		visiting[ptr] = struct{}{}
		defer delete(visiting, ptr)

		out := make([]any, len(v))
		for i, inner := range v {
			sanitized, err := sanitizeValue(inner, visiting)
			if err != nil {
				return nil, err
			}
			out[i] = sanitized
		}
		return out, nil

	case string, bool:
		return v, nil

	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.New(errors.CodeProposalUntyped, "proposed state contains a non-finite number")
		}
		return v, nil

	case float32:
		return sanitizeValue(float64(v), visiting)
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case uint32:
		return float64(v), nil
	case uint64:
		return float64(v), nil

	default:
		// Typed nils (nil pointers, nil maps, nil slices inside an any)
		// are the "absent" values this pass normalizes to explicit null.
		rv := reflect.ValueOf(value)
		switch rv.Kind() {
		case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface:
			if rv.IsNil() {
				return nil, nil
			}
		}
		return nil, errors.Newf(errors.CodeProposalUntyped, "proposed state contains unsupported value of type %T", value)
	}
}
