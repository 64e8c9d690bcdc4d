// Package diff decides whether a proposed attribute value really differs from
// the original one and projects two attribute maps into a reviewer-facing
// change set.
//
// Comparison is lenient on purpose: "1", 1, true and "yes" are the same
// boolean, "5" and 5.0 the same number, date strings are compared in UTC at
// second precision, and lists are compared as sets.
package diff

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"approvaldesk/internal/attrs"
)

// Kind classifies a canonical value.
type Kind string

const (
	KindNull     Kind = "null"
	KindBool     Kind = "bool"
	KindNumber   Kind = "number"
	KindDatetime Kind = "datetime"
	KindString   Kind = "string"
	KindEmpty    Kind = "empty"
	KindList     Kind = "list"
	KindMap      Kind = "map"
)

// Canonical is the comparable form of a value. Two values are equivalent
// exactly when their canonical forms are equal.
type Canonical struct {
	Kind Kind   `json:"kind"`
	Text string `json:"text"`
}

const datetimeLayout = "2006-01-02 15:04:05"

var (
	leadingDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	numeric     = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
)

// IsDateHint reports whether a declared type names a date or datetime.
func IsDateHint(hint string) bool {
	h := strings.ToLower(strings.TrimSpace(hint))
	switch h {
	case "date", "datetime", "timestamp", "immutable_date", "immutable_datetime", "time":
		return true
	}
	return strings.HasPrefix(h, "date:") || strings.HasPrefix(h, "datetime:") ||
		strings.HasPrefix(h, "immutable_date:") || strings.HasPrefix(h, "immutable_datetime:")
}

// IsArrayHint reports whether a declared type names a collection.
func IsArrayHint(hint string) bool {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case "array", "json", "collection", "object", "list":
		return true
	}
	return false
}

// Normalize reduces a value to its canonical comparable form. It never fails;
// values that cannot be coerced compare as their raw text.
func Normalize(value any, hint string) Canonical {
	v := Plain(value)
	switch t := v.(type) {
	case nil:
		return Canonical{Kind: KindNull}
	case []any:
		if len(t) == 0 {
			return Canonical{Kind: KindEmpty}
		}
		set, _ := json.Marshal(AsSet(t))
		return Canonical{Kind: KindList, Text: string(set)}
	case *attrs.Map:
		if t.Len() == 0 {
			return Canonical{Kind: KindEmpty}
		}
		return Canonical{Kind: KindMap, Text: structuralJSON(t)}
	}
	return normalizeScalar(v, hint)
}

func normalizeScalar(v any, hint string) Canonical {
	if s, ok := v.(string); ok && (IsDateHint(hint) || leadingDate.MatchString(s)) {
		if formatted, ok := parseDatetime(s); ok {
			return Canonical{Kind: KindDatetime, Text: formatted}
		}
	}
	if b, ok := booleanish(v); ok {
		return Canonical{Kind: KindBool, Text: strconv.FormatBool(b)}
	}
	if n, ok := canonicalNumber(v); ok {
		return Canonical{Kind: KindNumber, Text: n}
	}
	switch t := v.(type) {
	case string:
		return Canonical{Kind: KindString, Text: t}
	default:
		return Canonical{Kind: KindString, Text: fmt.Sprint(t)}
	}
}

// booleanish recognizes true/false, the integers 1 and 0, and the strings
// 1/true/yes/on and 0/false/no/off/"" in any case with surrounding space.
// Other numbers such as "1.0" or "-0" are not booleans.
func booleanish(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true, true
		case "0", "false", "no", "off", "":
			return false, true
		}
	case json.Number:
		switch t.String() {
		case "1":
			return true, true
		case "0":
			return false, true
		}
	}
	return false, false
}

// canonicalNumber renders numeric values and numeric strings in a single
// decimal form: "5", 5 and 5.0 all become "5".
func canonicalNumber(v any) (string, bool) {
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	default:
		return "", false
	}
	if !numeric.MatchString(s) {
		return "", false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return strconv.FormatInt(i, 10), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return "", false
	}
	if f == 0 {
		return "0", true
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10), true
	}
	return strconv.FormatFloat(f, 'f', -1, 64), true
}

func parseDatetime(s string) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", false
	}
	parsed, err := dateparse.ParseIn(trimmed, time.UTC)
	if err != nil {
		return "", false
	}
	return parsed.UTC().Format(datetimeLayout), true
}

// AsSet flattens a list one level into sorted, de-duplicated strings.
// Nested collections are JSON encoded, booleans become "true"/"false" and
// null becomes "".
func AsSet(list []any) []string {
	out := make([]string, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, item := range list {
		s := setMember(Plain(item))
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func setMember(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(t)
	case string:
		return t
	case json.Number:
		if n, ok := canonicalNumber(t); ok {
			return n
		}
		return t.String()
	case *attrs.Map, []any:
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(data)
	default:
		return fmt.Sprint(t)
	}
}

// structuralJSON encodes with object keys sorted so key order never matters.
func structuralJSON(m *attrs.Map) string {
	data, err := json.Marshal(m.ToGo())
	if err != nil {
		return fmt.Sprint(m.ToGo())
	}
	return string(data)
}

// Plain folds native Go values into the shapes attrs.Map decodes to: nil,
// bool, string, json.Number, []any and *attrs.Map.
func Plain(v any) any {
	switch t := v.(type) {
	case nil, bool, string, json.Number, *attrs.Map:
		return t
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = Plain(t[i])
		}
		return out
	case map[string]any:
		return attrs.FromGo(t)
	case int:
		return json.Number(strconv.Itoa(t))
	case int64:
		return json.Number(strconv.FormatInt(t, 10))
	case int32:
		return json.Number(strconv.FormatInt(int64(t), 10))
	case uint:
		return json.Number(strconv.FormatUint(uint64(t), 10))
	case uint64:
		return json.Number(strconv.FormatUint(t, 10))
	case float64:
		return json.Number(strconv.FormatFloat(t, 'f', -1, 64))
	case float32:
		return json.Number(strconv.FormatFloat(float64(t), 'f', -1, 32))
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case *time.Time:
		if t == nil {
			return nil
		}
		return t.UTC().Format(time.RFC3339Nano)
	case attrs.Map:
		return &t
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			out[i] = Plain(rv.Index(i).Interface())
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		m := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			m[iter.Key().String()] = Plain(iter.Value().Interface())
		}
		return attrs.FromGo(m)
	case reflect.Int8, reflect.Int16:
		return json.Number(strconv.FormatInt(rv.Int(), 10))
	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return json.Number(strconv.FormatUint(rv.Uint(), 10))
	case reflect.String:
		return rv.String()
	case reflect.Bool:
		return rv.Bool()
	}
	return fmt.Sprint(v)
}
