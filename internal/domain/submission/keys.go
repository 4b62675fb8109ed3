package submission

import (
	"fmt"
	"strings"
)

// scalarPreference is the ordered list of map keys tried when a structured
// answer value must collapse to a single comparable string.
var scalarPreference = []string{"text", "value", "code", "raw", "data"}

// NormalizeKeyValue collapses an arbitrary answer value into the string
// stored as a confirm/unique key. Maps yield the first non-empty preferred
// scalar; lists join their non-empty elements with commas; everything else
// is stringified and trimmed.
func NormalizeKeyValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case map[string]interface{}:
		for _, k := range scalarPreference {
			switch s := v[k].(type) {
			case string:
				if t := strings.TrimSpace(s); t != "" {
					return t
				}
			case float64, int, int64:
				if t := strings.TrimSpace(fmt.Sprintf("%v", s)); t != "" {
					return t
				}
			}
		}
		return ""
	case []interface{}:
		var parts []string
		for _, item := range v {
			if t := strings.TrimSpace(fmt.Sprintf("%v", item)); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, ",")
	case []string:
		var parts []string
		for _, item := range v {
			if t := strings.TrimSpace(item); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, ",")
	case string:
		return strings.TrimSpace(v)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// DeriveKey resolves the stored key value for one component key from an
// answer map.
func DeriveKey(answers map[string]interface{}, key string) string {
	if key == "" {
		return ""
	}
	return NormalizeKeyValue(answers[key])
}
