package security

import "strings"

// sensitiveFields is the fixed set of field names whose values are
// redacted before any audit or log write. Matching is case-insensitive.
var sensitiveFields = map[string]struct{}{
	"apikey":          {},
	"api_key":         {},
	"password":        {},
	"token":           {},
	"secret":          {},
	"authorization":   {},
	"credential":      {},
	"credentials":     {},
	"encryptedkey":    {},
	"encrypted_key":   {},
	"encryptedapikey": {},
	"private_key":     {},
}

const redacted = "[REDACTED]"

// SanitizeSensitiveData returns a deep copy of v with every sensitive
// field replaced by a redaction marker. It recurses through maps and
// slices; scalar values pass through unchanged. The input is never
// mutated.
func SanitizeSensitiveData(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if isSensitiveField(k) {
				out[k] = redacted
				continue
			}
			out[k] = SanitizeSensitiveData(inner)
		}
		return out

	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = SanitizeSensitiveData(inner)
		}
		return out

	default:
		return v
	}
}

// isSensitiveField reports whether a field name is on the redaction list.
func isSensitiveField(name string) bool {
	_, ok := sensitiveFields[strings.ToLower(name)]
	return ok
}
