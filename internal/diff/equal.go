package diff

import "regexp"

var datetimeFieldName = regexp.MustCompile(`(_at|_date|_time)$`)

// IsDatetimeField reports whether a field should be compared as a datetime:
// either its hint says so or its name ends in _at, _date or _time.
func IsDatetimeField(key, hint string) bool {
	return IsDateHint(hint) || datetimeFieldName.MatchString(key)
}

// Equivalent reports whether a and b are the same value once normalized.
// Empty containers are equal whatever their shape, lists are compared as
// sets and maps structurally.
func Equivalent(a, b any, hint string) bool {
	return Normalize(a, hint) == Normalize(b, hint)
}

// EquivalentField is Equivalent with the field-name datetime heuristic.
func EquivalentField(key string, a, b any, hint string) bool {
	return Equivalent(a, b, effectiveHint(key, hint))
}

func effectiveHint(key, hint string) string {
	if hint == "" && datetimeFieldName.MatchString(key) {
		return "datetime"
	}
	return hint
}
