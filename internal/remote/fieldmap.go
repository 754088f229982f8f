package remote

import (
	"strings"
	"unicode"
)

// The local model uses camelCase field names; the remote schema uses
// snake_case. The transform is mechanical and applied uniformly by the
// adapter on every outbound write and inbound read, including opaque
// queued payloads at drain time.

// ToSnake converts a camelCase key to snake_case.
// "monthlyLimit" -> "monthly_limit".
func ToSnake(key string) string {
	var b strings.Builder
	for i, r := range key {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ToCamel converts a snake_case key back to camelCase.
// "monthly_limit" -> "monthlyLimit".
func ToCamel(key string) string {
	parts := strings.Split(key, "_")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		r := []rune(p)
		b.WriteRune(unicode.ToUpper(r[0]))
		b.WriteString(string(r[1:]))
	}
	return b.String()
}

// SnakeKeys rewrites every key of m (recursively through nested maps
// and slices) to snake_case.
func SnakeKeys(m map[string]any) map[string]any {
	return mapKeys(m, ToSnake)
}

// CamelKeys rewrites every key of m (recursively) back to camelCase.
func CamelKeys(m map[string]any) map[string]any {
	return mapKeys(m, ToCamel)
}

func mapKeys(m map[string]any, transform func(string) string) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[transform(k)] = transformValue(v, transform)
	}
	return out
}

func transformValue(v any, transform func(string) string) any {
	switch vv := v.(type) {
	case map[string]any:
		return mapKeys(vv, transform)
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = transformValue(e, transform)
		}
		return out
	default:
		return v
	}
}
