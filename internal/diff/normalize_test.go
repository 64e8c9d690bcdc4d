package diff

import (
	"encoding/json"
	"reflect"
	"testing"

	"approvaldesk/internal/attrs"
)

func TestEquivalentReflexive(t *testing.T) {
	values := []any{
		nil, true, false, 0, 1, 42, 3.14, "", "abc", "2024-01-15 10:00:00",
		json.Number("7"), []any{"a", 1}, []string{"x"}, map[string]any{"k": "v"},
		attrs.FromGo(map[string]any{"n": []any{1, 2}}),
	}
	for _, v := range values {
		if !Equivalent(v, v, "") {
			t.Errorf("Equivalent(%#v, itself) = false", v)
		}
	}
}

func TestEquivalentEmptyContainers(t *testing.T) {
	empties := []any{[]any{}, []string{}, map[string]any{}, attrs.New()}
	for _, a := range empties {
		for _, b := range empties {
			if !Equivalent(a, b, "") {
				t.Errorf("Equivalent(%#v, %#v) = false", a, b)
			}
		}
	}
}

func TestEquivalent(t *testing.T) {
	cases := []struct {
		name string
		a, b any
		hint string
		want bool
	}{
		{name: "numeric string and int", a: "5", b: 5, want: true},
		{name: "decimal string and int", a: "5.0", b: 5, want: true},
		{name: "float and int", a: 5.0, b: 5, want: true},
		{name: "non numeric string", a: "abc", b: 5, want: false},
		{name: "different numbers", a: "5", b: 6, want: false},
		{name: "list order", a: []any{"a", "b"}, b: []any{"b", "a"}, want: true},
		{name: "list duplicates", a: []any{"a", "b"}, b: []any{"a", "b", "b"}, want: true},
		{name: "list difference", a: []any{"a", "b"}, b: []any{"a", "c"}, want: false},
		{name: "list numbers and strings", a: []any{1, 2}, b: []string{"2", "1"}, want: true},
		{name: "yes and true", a: "yes", b: true, want: true},
		{name: "OFF and false", a: " OFF ", b: false, want: true},
		{name: "one and true", a: 1, b: true, want: true},
		{name: "string one and true", a: "1", b: true, want: true},
		{name: "empty string and false", a: "", b: false, want: true},
		{name: "two is not true", a: "2", b: true, want: false},
		{name: "decimal one is not true", a: "1.0", b: "yes", want: false},
		{name: "decimal zero is not empty", a: "0.00", b: "", want: false},
		{name: "negative zero is not false", a: "-0", b: false, want: false},
		{name: "null and empty string", a: nil, b: "", want: false},
		{name: "null and null", a: nil, b: nil, want: true},
		{name: "map key order", a: map[string]any{"a": 1, "b": 2}, b: attrs.FromGo(map[string]any{"b": 2, "a": 1}), want: true},
		{name: "map value change", a: map[string]any{"a": 1}, b: map[string]any{"a": 2}, want: false},
		{name: "map against list", a: map[string]any{"0": "a"}, b: []any{"a"}, want: false},
		{name: "list against scalar", a: []any{"a"}, b: "a", want: false},
		{name: "iso offset and utc", a: "2024-01-15T12:00:00+02:00", b: "2024-01-15 10:00:00", want: true},
		{name: "date only and midnight", a: "2024-01-15", b: "2024-01-15 00:00:00", want: true},
		{name: "different dates", a: "2024-01-15", b: "2024-01-16", want: false},
		{name: "unparsable under date hint", a: "not a date", b: "not a date", hint: "datetime", want: true},
		{name: "unparsable differs", a: "not a date", b: "still not", hint: "date", want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Equivalent(tc.a, tc.b, tc.hint); got != tc.want {
				t.Fatalf("Equivalent(%#v, %#v, %q) = %v, want %v (%+v vs %+v)",
					tc.a, tc.b, tc.hint, got, tc.want, Normalize(tc.a, tc.hint), Normalize(tc.b, tc.hint))
			}
		})
	}
}

func TestEquivalentFieldUsesNameHeuristic(t *testing.T) {
	if !EquivalentField("published_at", "2024-01-15T10:00:00Z", "2024-01-15 10:00:00", "") {
		t.Fatal("expected _at field to compare as datetime")
	}
	if !EquivalentField("start_time", "2024-01-15 10:00", "2024-01-15 10:00:00", "") {
		t.Fatal("expected _time field to compare as datetime")
	}
	nonDates := []struct {
		key  string
		a, b any
	}{
		{key: "prep_time", a: "5", b: json.Number("5")},
		{key: "full_time", a: "1", b: true},
		{key: "checked_at", a: "0", b: false},
		{key: "budget_date", a: json.Number("10.50"), b: 10.5},
	}
	for _, tc := range nonDates {
		if !EquivalentField(tc.key, tc.a, tc.b, "") {
			t.Errorf("EquivalentField(%q, %#v, %#v) = false, want true", tc.key, tc.a, tc.b)
		}
	}
	if EquivalentField("prep_time", "5", json.Number("6"), "") {
		t.Error("expected different numbers under a _time key to differ")
	}
	if !IsDatetimeField("due_date", "") || IsDatetimeField("name", "") || !IsDatetimeField("name", "date") {
		t.Fatal("IsDatetimeField mismatch")
	}
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		value any
		hint  string
		want  Canonical
	}{
		{value: "5.50", want: Canonical{Kind: KindNumber, Text: "5.5"}},
		{value: "-0", want: Canonical{Kind: KindNumber, Text: "0"}},
		{value: json.Number("1.0"), want: Canonical{Kind: KindNumber, Text: "1"}},
		{value: "5", hint: "datetime", want: Canonical{Kind: KindNumber, Text: "5"}},
		{value: "1", hint: "date", want: Canonical{Kind: KindBool, Text: "true"}},
		{value: 1e3, want: Canonical{Kind: KindNumber, Text: "1000"}},
		{value: "TRUE", want: Canonical{Kind: KindBool, Text: "true"}},
		{value: "2024-03-01T08:30:00Z", want: Canonical{Kind: KindDatetime, Text: "2024-03-01 08:30:00"}},
		{value: "hello", want: Canonical{Kind: KindString, Text: "hello"}},
		{value: nil, want: Canonical{Kind: KindNull}},
		{value: []any{}, want: Canonical{Kind: KindEmpty}},
		{value: []any{"b", "a", "b"}, want: Canonical{Kind: KindList, Text: `["a","b"]`}},
	}
	for _, tc := range cases {
		if got := Normalize(tc.value, tc.hint); got != tc.want {
			t.Errorf("Normalize(%#v, %q) = %+v, want %+v", tc.value, tc.hint, got, tc.want)
		}
	}
}

func TestAsSet(t *testing.T) {
	got := AsSet([]any{"b", true, nil, json.Number("2.0"), map[string]any{"id": 1}, "b"})
	want := []string{"", "2", "b", "true", `{"id":1}`}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("AsSet = %q, want %q", got, want)
	}
}

func TestIsArrayField(t *testing.T) {
	cases := []struct {
		key   string
		value any
		hint  string
		want  bool
	}{
		{key: "meta", value: "x", hint: "array", want: true},
		{key: "meta", value: []any{1}, want: true},
		{key: "meta", value: map[string]any{"a": 1}, want: true},
		{key: "meta", value: `["a","b"]`, want: true},
		{key: "meta", value: `{"a":1}`, want: true},
		{key: "meta", value: `[broken`, want: false},
		{key: "attachments", value: nil, want: true},
		{key: "user_ids", value: nil, want: true},
		{key: "field_list", value: nil, want: true},
		{key: "raw_array", value: nil, want: true},
		{key: "tags_primary", value: "a", want: true},
		{key: "categories", value: "", want: true},
		{key: "options_extra", value: 1, want: true},
		{key: "name", value: "Acme", want: false},
		{key: "subtags", value: "x", want: false},
	}
	for _, tc := range cases {
		if got := IsArrayField(tc.key, tc.value, tc.hint); got != tc.want {
			t.Errorf("IsArrayField(%q, %#v, %q) = %v, want %v", tc.key, tc.value, tc.hint, got, tc.want)
		}
	}
}

func TestCoerceArray(t *testing.T) {
	if got := CoerceArray(nil); !reflect.DeepEqual(got, []any{}) {
		t.Fatalf("CoerceArray(nil) = %#v", got)
	}
	if got := CoerceArray("  "); !reflect.DeepEqual(got, []any{}) {
		t.Fatalf("CoerceArray(blank) = %#v", got)
	}
	if got := CoerceArray("solo"); !reflect.DeepEqual(got, []any{"solo"}) {
		t.Fatalf("CoerceArray(solo) = %#v", got)
	}
	if got := CoerceArray(`["a","b"]`); !reflect.DeepEqual(got, []any{"a", "b"}) {
		t.Fatalf("CoerceArray(json list) = %#v", got)
	}
	if got, ok := CoerceArray(`{"a":1}`).(*attrs.Map); !ok || !got.Has("a") {
		t.Fatalf("CoerceArray(json object) = %#v", got)
	}
	if got := CoerceArray(7); !reflect.DeepEqual(got, []any{json.Number("7")}) {
		t.Fatalf("CoerceArray(7) = %#v", got)
	}
}
