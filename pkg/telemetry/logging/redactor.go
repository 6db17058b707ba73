package logging

import (
	"log/slog"
	"regexp"
	"strings"
)

// sensitiveKeys are attribute names whose values are always masked.
var sensitiveKeys = map[string]struct{}{
	"api_key":       {},
	"apikey":        {},
	"password":      {},
	"token":         {},
	"secret":        {},
	"authorization": {},
	"credential":    {},
}

// apiKeyPattern catches credential-shaped values that slip into
// free-form attributes (OpenAI-style sk- prefixes, bearer tokens).
var apiKeyPattern = regexp.MustCompile(`(sk-[a-zA-Z0-9]{8,}|Bearer\s+[a-zA-Z0-9._-]{8,})`)

const masked = "[REDACTED]"

// redactAttr is the slog ReplaceAttr hook. Attributes with sensitive
// names are fully masked; string values are scrubbed for embedded keys.
func redactAttr(groups []string, attr slog.Attr) slog.Attr {
	if _, ok := sensitiveKeys[strings.ToLower(attr.Key)]; ok {
		attr.Value = slog.StringValue(masked)
		return attr
	}

	if attr.Value.Kind() == slog.KindString {
		value := attr.Value.String()
		if apiKeyPattern.MatchString(value) {
			attr.Value = slog.StringValue(apiKeyPattern.ReplaceAllString(value, masked))
		}
	}

	return attr
}
