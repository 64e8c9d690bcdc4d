package diff

import (
	"regexp"
	"strings"

	"approvaldesk/internal/attrs"
)

var arrayLikeNames = map[string]struct{}{
	"attachments": {},
	"attachment":  {},
	"files":       {},
	"images":      {},
	"photos":      {},
	"documents":   {},
}

var arrayLikePatterns = []*regexp.Regexp{
	regexp.MustCompile(`_ids$`),
	regexp.MustCompile(`_list$`),
	regexp.MustCompile(`_array$`),
	regexp.MustCompile(`^tags`),
	regexp.MustCompile(`^categories`),
	regexp.MustCompile(`^options`),
}

// IsArrayField reports whether a field holds a collection. Checks run in
// order: declared hint, value already a collection, value is a JSON string
// of a collection, well-known names, then name patterns.
func IsArrayField(key string, value any, hint string) bool {
	if IsArrayHint(hint) {
		return true
	}
	switch t := Plain(value).(type) {
	case []any, *attrs.Map:
		return true
	case string:
		if _, ok := decodeCollection(t); ok {
			return true
		}
	}
	if _, ok := arrayLikeNames[key]; ok {
		return true
	}
	for _, pattern := range arrayLikePatterns {
		if pattern.MatchString(key) {
			return true
		}
	}
	return false
}

// CoerceArray turns a field value into a collection: JSON strings are
// decoded, null and blank strings become an empty list and any other scalar
// is wrapped. The result is either []any or *attrs.Map.
func CoerceArray(value any) any {
	switch t := Plain(value).(type) {
	case nil:
		return []any{}
	case []any:
		return t
	case *attrs.Map:
		return t
	case string:
		if strings.TrimSpace(t) == "" {
			return []any{}
		}
		if decoded, ok := decodeCollection(t); ok {
			return decoded
		}
		return []any{t}
	default:
		return []any{t}
	}
}

func decodeCollection(s string) (any, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || (trimmed[0] != '[' && trimmed[0] != '{') {
		return nil, false
	}
	v, err := attrs.DecodeValue([]byte(trimmed))
	if err != nil {
		return nil, false
	}
	switch v.(type) {
	case []any, *attrs.Map:
		return v, true
	}
	return nil, false
}
