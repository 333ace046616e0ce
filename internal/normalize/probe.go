package normalize

import "encoding/json"

// marshalJSON stringifies a value, degrading to an empty object on failure.
func marshalJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Helpers for probing decoded vendor JSON. All of them tolerate missing or
// mistyped fields by returning zero values, so extraction never panics on an
// unrecognized shape.

func getString(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}
	s, ok := m[key].(string)
	return s, ok
}

func getMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	child, _ := m[key].(map[string]any)
	return child
}

func getSlice(m map[string]any, key string) ([]any, bool) {
	if m == nil {
		return nil, false
	}
	s, ok := m[key].([]any)
	return s, ok
}

func firstMap(s []any) map[string]any {
	if len(s) == 0 {
		return nil
	}
	m, _ := s[0].(map[string]any)
	return m
}

// joinTextBlocks joins the text of array elements whose type field equals
// "text", separated by a single space.
func joinTextBlocks(blocks []any) (string, bool) {
	var out string
	found := false
	for _, raw := range blocks {
		block, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := getString(block, "type"); t != "text" {
			continue
		}
		text, ok := getString(block, "text")
		if !ok {
			continue
		}
		if found {
			out += " "
		}
		out += text
		found = true
	}
	return out, found
}
