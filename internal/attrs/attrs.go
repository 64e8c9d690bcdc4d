// Package attrs holds attribute maps that remember the order their keys were
// first seen in. Request payloads, original snapshots and record rows all
// travel as *Map so that diffs render fields in submission order.
package attrs

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Map is an insertion-ordered JSON object. Nested objects decode as *Map,
// arrays as []any and numbers as json.Number. A nil *Map reads as empty.
type Map struct {
	keys   []string
	values map[string]any
}

func New() *Map {
	return &Map{values: map[string]any{}}
}

// FromGo converts a plain Go map. Keys are sorted since Go maps carry no order.
func FromGo(src map[string]any) *Map {
	m := New()
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.Set(k, fromGoValue(src[k]))
	}
	return m
}

func fromGoValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return FromGo(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = fromGoValue(t[i])
		}
		return out
	default:
		return v
	}
}

// OrEmpty returns m, or a fresh empty map when m is nil.
func OrEmpty(m *Map) *Map {
	if m == nil {
		return New()
	}
	return m
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

func (m *Map) Get(key string) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[key]
	return v, ok
}

func (m *Map) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// Set stores value under key. Existing keys keep their position.
func (m *Map) Set(key string, value any) {
	if m.values == nil {
		m.values = map[string]any{}
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

func (m *Map) Delete(key string) {
	if m == nil {
		return
	}
	if _, ok := m.values[key]; !ok {
		return
	}
	delete(m.values, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Clone is shallow for leaf values and deep for nested maps and slices.
func (m *Map) Clone() *Map {
	out := New()
	for _, k := range m.Keys() {
		out.Set(k, cloneValue(m.values[k]))
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case *Map:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	default:
		return v
	}
}

// Merge returns a copy of m overlaid with other. Values from other win and
// keys new to m are appended in other's order.
func (m *Map) Merge(other *Map) *Map {
	out := OrEmpty(m).Clone()
	for _, k := range other.Keys() {
		out.Set(k, cloneValue(other.values[k]))
	}
	return out
}

// Filter returns a copy holding only the keys keep accepts.
func (m *Map) Filter(keep func(key string) bool) *Map {
	out := New()
	for _, k := range m.Keys() {
		if keep(k) {
			out.Set(k, cloneValue(m.values[k]))
		}
	}
	return out
}

// ToGo converts to plain Go values, recursively.
func (m *Map) ToGo() map[string]any {
	out := make(map[string]any, m.Len())
	for _, k := range m.Keys() {
		out[k] = toGoValue(m.values[k])
	}
	return out
}

func toGoValue(v any) any {
	switch t := v.(type) {
	case *Map:
		return t.ToGo()
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = toGoValue(t[i])
		}
		return out
	default:
		return v
	}
}

func (m *Map) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		value, err := json.Marshal(m.values[k])
		if err != nil {
			return nil, fmt.Errorf("marshal %q: %w", k, err)
		}
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (m *Map) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*m = *parsed
	return nil
}

// Scan reads a jsonb column. NULL scans as an empty map.
func (m *Map) Scan(src any) error {
	switch t := src.(type) {
	case nil:
		*m = *New()
		return nil
	case []byte:
		return m.UnmarshalJSON(t)
	case string:
		return m.UnmarshalJSON([]byte(t))
	default:
		return fmt.Errorf("attrs: cannot scan %T", src)
	}
}

func (m *Map) Value() (driver.Value, error) {
	data, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

var errNotObject = errors.New("attrs: JSON value is not an object")

// Parse decodes a JSON object. Blank input yields an empty map.
func Parse(data []byte) (*Map, error) {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return New(), nil
	}
	v, err := DecodeValue(data)
	if err != nil {
		return nil, err
	}
	m, ok := v.(*Map)
	if !ok {
		// PHP-style empty arrays are stored as []
		if list, isList := v.([]any); isList && len(list) == 0 {
			return New(), nil
		}
		return nil, errNotObject
	}
	return m, nil
}

// DecodeValue decodes any JSON value keeping object key order.
func DecodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if dec.More() {
		return nil, errors.New("decode json: trailing data")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch delim {
	case '{':
		m := New()
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("unexpected object key %v", keyTok)
			}
			value, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			m.Set(key, value)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return m, nil
	case '[':
		list := []any{}
		for dec.More() {
			value, err := decodeValue(dec)
			if err != nil {
				return nil, err
			}
			list = append(list, value)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return list, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %v", delim)
	}
}
