package logging

import "sort"

// sortedKeys orders extra fields so repeated log lines line up.
func sortedKeys(extra map[ExtraKey]any) []ExtraKey {
	keys := make([]ExtraKey, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// fieldValue renders errors as their message; encoders would otherwise
// serialise them as empty objects.
func fieldValue(v any) any {
	if err, ok := v.(error); ok && err != nil {
		return err.Error()
	}
	return v
}

func logParamsToZapParams(extra map[ExtraKey]any) []any {
	params := make([]any, 0, 2*len(extra))
	for _, k := range sortedKeys(extra) {
		params = append(params, string(k), fieldValue(extra[k]))
	}
	return params
}

func logParamsToZeroParams(extra map[ExtraKey]any) map[string]any {
	params := make(map[string]any, len(extra))
	for k, v := range extra {
		params[string(k)] = fieldValue(v)
	}
	return params
}
