package diff

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"approvaldesk/internal/attrs"
)

// Placeholder is shown for null and empty values.
const Placeholder = "—"

// FormatValue renders a value for reviewers. Collections are pretty JSON,
// values under a date hint are shown in UTC.
func FormatValue(value any, hint string) string {
	switch t := Plain(value).(type) {
	case nil:
		return Placeholder
	case []any:
		if len(t) == 0 {
			return Placeholder
		}
		return prettyJSON(t)
	case *attrs.Map:
		if t.Len() == 0 {
			return Placeholder
		}
		return prettyJSON(t)
	case bool:
		return strconv.FormatBool(t)
	case string:
		if strings.TrimSpace(t) == "" {
			return Placeholder
		}
		if IsDateHint(hint) {
			if formatted, ok := parseDatetime(t); ok {
				return formatted + " UTC"
			}
		}
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func prettyJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
