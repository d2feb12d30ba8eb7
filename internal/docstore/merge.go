package docstore

// Sentinel values usable inside Update payloads.

type arrayUnion struct{ values []any }

type arrayRemove struct{ values []any }

// ArrayUnion returns a sentinel that appends the given values to a stored
// array, skipping values already present (compared by deep equality of
// their JSON forms).
func ArrayUnion(values ...any) any {
	return arrayUnion{values: values}
}

// ArrayRemove returns a sentinel that removes every occurrence of the given
// values from a stored array.
func ArrayRemove(values ...any) any {
	return arrayRemove{values: values}
}

// Merge folds src into dst recursively and returns the result. Nested maps
// merge key by key; any other value, including explicit nil, replaces the
// stored one. Neither input map is mutated.
func Merge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := out[k].(map[string]any)
		if srcIsMap && dstIsMap {
			out[k] = Merge(dstMap, srcMap)
			continue
		}
		out[k] = v
	}
	return out
}

// ApplyUpdate folds an update payload into dst, resolving array sentinels
// against the stored value. Non-sentinel values behave as in Merge.
func ApplyUpdate(dst, updates map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(updates))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range updates {
		switch sentinel := v.(type) {
		case arrayUnion:
			out[k] = unionValues(asSlice(out[k]), sentinel.values)
		case arrayRemove:
			out[k] = removeValues(asSlice(out[k]), sentinel.values)
		case map[string]any:
			if dstMap, ok := out[k].(map[string]any); ok {
				out[k] = ApplyUpdate(dstMap, sentinel)
				continue
			}
			out[k] = v
		default:
			out[k] = v
		}
	}
	return out
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

func unionValues(stored, values []any) []any {
	out := append([]any(nil), stored...)
	for _, v := range values {
		if containsValue(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func removeValues(stored, values []any) []any {
	out := make([]any, 0, len(stored))
	for _, existing := range stored {
		if containsValue(values, existing) {
			continue
		}
		out = append(out, existing)
	}
	return out
}

func containsValue(haystack []any, needle any) bool {
	for _, v := range haystack {
		if equalValues(v, needle) {
			return true
		}
	}
	return false
}

// equalValues compares two JSON-shaped values structurally. Numeric values
// compare by float64 conversion since JSON decoding produces float64.
func equalValues(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			other, present := bv[k]
			if !present || !equalValues(v, other) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !equalValues(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		an, aIsNum := asFloat(a)
		bn, bIsNum := asFloat(b)
		if aIsNum || bIsNum {
			return aIsNum && bIsNum && an == bn
		}
		return a == b
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
