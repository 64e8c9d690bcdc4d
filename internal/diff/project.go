package diff

import (
	"fmt"
	"strconv"

	"approvaldesk/internal/attrs"
)

// Change says how a field moved between the two maps.
type Change string

const (
	ChangeAdded   Change = "added"
	ChangeRemoved Change = "removed"
	ChangeChanged Change = "changed"
)

// FieldKind says how a field was compared.
type FieldKind string

const (
	FieldScalar FieldKind = "scalar"
	FieldSet    FieldKind = "set"
	FieldMap    FieldKind = "map"
)

// EntryState is the per-key outcome inside a map-valued field.
type EntryState string

const (
	EntryChanged   EntryState = "changed"
	EntryUnchanged EntryState = "unchanged"
	EntryRemoved   EntryState = "removed"
	EntryAdded     EntryState = "added"
)

type Entry struct {
	Key      string     `json:"key"`
	State    EntryState `json:"state"`
	Original any        `json:"original,omitempty"`
	Proposed any        `json:"proposed,omitempty"`
}

// FieldDiff is one changed field. Entries is set for map-valued fields,
// Common/Removed/Added for list-valued ones.
type FieldDiff struct {
	Field    string    `json:"field"`
	Kind     FieldKind `json:"kind"`
	Change   Change    `json:"change"`
	Hint     string    `json:"hint,omitempty"`
	Original any       `json:"original"`
	Proposed any       `json:"proposed"`
	// Display forms of Original and Proposed, as FormatValue renders them.
	OriginalDisplay string   `json:"originalDisplay"`
	ProposedDisplay string   `json:"proposedDisplay"`
	Entries         []Entry  `json:"entries,omitempty"`
	Common          []string `json:"common,omitempty"`
	Removed         []string `json:"removed,omitempty"`
	Added           []string `json:"added,omitempty"`
	Debug           *Debug   `json:"debug,omitempty"`
}

// Debug explains how a field was compared.
type Debug struct {
	OriginalType       string    `json:"originalType"`
	ProposedType       string    `json:"proposedType"`
	OriginalNormalized Canonical `json:"originalNormalized"`
	ProposedNormalized Canonical `json:"proposedNormalized"`
	DatetimeField      bool      `json:"datetimeField"`
	ArrayField         bool      `json:"arrayField"`
}

// noiseKeys never show up in a diff.
var noiseKeys = map[string]struct{}{
	"id":         {},
	"created_at": {},
	"updated_at": {},
	"createdAt":  {},
	"updatedAt":  {},
}

type options struct {
	debug bool
}

type Option func(*options)

// WithDebug attaches comparison details to every FieldDiff.
func WithDebug(enabled bool) Option {
	return func(o *options) { o.debug = enabled }
}

// Project returns the changed fields between original and proposed, in
// first-seen key order. hints maps field names to declared types.
func Project(original, proposed *attrs.Map, hints map[string]string, opts ...Option) []FieldDiff {
	var cfg options
	for _, opt := range opts {
		opt(&cfg)
	}

	out := []FieldDiff{}
	for _, key := range unionKeys(original, proposed) {
		if _, noisy := noiseKeys[key]; noisy {
			continue
		}
		ov, inOriginal := original.Get(key)
		pv, inProposed := proposed.Get(key)
		hint := hints[key]

		fd, changed := compareField(key, ov, pv, hint)
		if !changed {
			continue
		}
		switch {
		case !inOriginal:
			fd.Change = ChangeAdded
		case !inProposed:
			fd.Change = ChangeRemoved
		default:
			fd.Change = ChangeChanged
		}
		fd.OriginalDisplay = FormatValue(fd.Original, effectiveHint(key, hint))
		fd.ProposedDisplay = FormatValue(fd.Proposed, effectiveHint(key, hint))
		if cfg.debug {
			fd.Debug = &Debug{
				OriginalType:       typeName(ov, inOriginal),
				ProposedType:       typeName(pv, inProposed),
				OriginalNormalized: Normalize(ov, effectiveHint(key, hint)),
				ProposedNormalized: Normalize(pv, effectiveHint(key, hint)),
				DatetimeField:      IsDatetimeField(key, hint),
				ArrayField:         fd.Kind != FieldScalar,
			}
		}
		out = append(out, fd)
	}
	return out
}

func compareField(key string, ov, pv any, hint string) (FieldDiff, bool) {
	fd := FieldDiff{Field: key, Hint: hint}
	if !IsArrayField(key, ov, hint) && !IsArrayField(key, pv, hint) {
		if EquivalentField(key, ov, pv, hint) {
			return fd, false
		}
		fd.Kind = FieldScalar
		fd.Original = Plain(ov)
		fd.Proposed = Plain(pv)
		return fd, true
	}

	oc, pc := CoerceArray(ov), CoerceArray(pv)
	fd.Original, fd.Proposed = oc, pc

	om, oIsMap := oc.(*attrs.Map)
	pm, pIsMap := pc.(*attrs.Map)
	if oIsMap || pIsMap {
		if !oIsMap {
			om = indexed(oc.([]any))
		}
		if !pIsMap {
			pm = indexed(pc.([]any))
		}
		entries := diffEntries(om, pm)
		if !entriesChanged(entries) {
			return fd, false
		}
		fd.Kind = FieldMap
		fd.Entries = entries
		return fd, true
	}

	oset, pset := AsSet(oc.([]any)), AsSet(pc.([]any))
	common, removed, added := setDiff(oset, pset)
	if len(removed) == 0 && len(added) == 0 {
		return fd, false
	}
	fd.Kind = FieldSet
	fd.Common, fd.Removed, fd.Added = common, removed, added
	return fd, true
}

// diffEntries compares two maps key by key in encounter order.
func diffEntries(original, proposed *attrs.Map) []Entry {
	var entries []Entry
	for _, key := range unionKeys(original, proposed) {
		ov, inOriginal := original.Get(key)
		pv, inProposed := proposed.Get(key)
		entry := Entry{Key: key, Original: ov, Proposed: pv}
		switch {
		case !inProposed:
			entry.State = EntryRemoved
		case !inOriginal:
			entry.State = EntryAdded
		case EquivalentField(key, ov, pv, ""):
			entry.State = EntryUnchanged
		default:
			entry.State = EntryChanged
		}
		entries = append(entries, entry)
	}
	return entries
}

func entriesChanged(entries []Entry) bool {
	for _, e := range entries {
		if e.State != EntryUnchanged {
			return true
		}
	}
	return false
}

// setDiff splits two sorted sets into common, removed and added members.
func setDiff(original, proposed []string) (common, removed, added []string) {
	i, j := 0, 0
	for i < len(original) && j < len(proposed) {
		switch {
		case original[i] == proposed[j]:
			common = append(common, original[i])
			i++
			j++
		case original[i] < proposed[j]:
			removed = append(removed, original[i])
			i++
		default:
			added = append(added, proposed[j])
			j++
		}
	}
	removed = append(removed, original[i:]...)
	added = append(added, proposed[j:]...)
	return common, removed, added
}

// indexed views a list as a map keyed by position so it can be compared
// against a map-valued counterpart.
func indexed(list []any) *attrs.Map {
	m := attrs.New()
	for i, v := range list {
		m.Set(strconv.Itoa(i), v)
	}
	return m
}

func unionKeys(a, b *attrs.Map) []string {
	keys := a.Keys()
	seen := make(map[string]struct{}, len(keys)+b.Len())
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	for _, k := range b.Keys() {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

func typeName(v any, present bool) string {
	if !present {
		return "missing"
	}
	switch Plain(v).(type) {
	case nil:
		return "null"
	case bool:
		return "bool"
	case string:
		return "string"
	case []any:
		return "list"
	case *attrs.Map:
		return "map"
	}
	if _, ok := canonicalNumber(Plain(v)); ok {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
