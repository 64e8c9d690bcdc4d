package approval

import (
	"fmt"
	"sort"
	"strings"
)

// ChildMode controls how owned children are written back.
type ChildMode string

const (
	// ModeReplace deletes the current children and recreates the submitted ones.
	ModeReplace ChildMode = "replace"
	// ModeMerge updates items carrying an id and creates the rest.
	ModeMerge ChildMode = "merge"
)

// RelationSpec is one of BelongsTo, BelongsToMany, MorphToMany, HasMany or
// MorphMany.
type RelationSpec interface {
	RelationName() string
	PayloadField() string
	isRelationSpec()
}

// BelongsTo points the owner at a single parent through a foreign key.
type BelongsTo struct {
	Relation string
	Field    string
}

// BelongsToMany maintains a pivot set. Sync replaces the set, otherwise ids
// are attached on top of the existing links.
type BelongsToMany struct {
	Relation string
	Field    string
	Sync     bool
}

// MorphToMany is BelongsToMany through a polymorphic pivot.
type MorphToMany struct {
	Relation string
	Field    string
	Sync     bool
}

// HasMany owns child records.
type HasMany struct {
	Relation string
	Field    string
	Mode     ChildMode
}

// MorphMany owns child records through a polymorphic owner reference.
type MorphMany struct {
	Relation string
	Field    string
	Mode     ChildMode
}

func (r BelongsTo) RelationName() string { return r.Relation }
func (r BelongsToMany) RelationName() string { return r.Relation }
func (r MorphToMany) RelationName() string { return r.Relation }
func (r HasMany) RelationName() string { return r.Relation }
func (r MorphMany) RelationName() string { return r.Relation }

func (r BelongsTo) PayloadField() string { return fieldOr(r.Field, r.Relation+"_id") }
func (r BelongsToMany) PayloadField() string { return fieldOr(r.Field, r.Relation+"_ids") }
func (r MorphToMany) PayloadField() string { return fieldOr(r.Field, r.Relation+"_ids") }
func (r HasMany) PayloadField() string { return fieldOr(r.Field, r.Relation+"_ids") }
func (r MorphMany) PayloadField() string { return fieldOr(r.Field, r.Relation+"_ids") }

func (BelongsTo) isRelationSpec() {}
func (BelongsToMany) isRelationSpec() {}
func (MorphToMany) isRelationSpec() {}
func (HasMany) isRelationSpec() {}
func (MorphMany) isRelationSpec() {}

func fieldOr(field, fallback string) string {
	if strings.TrimSpace(field) != "" {
		return field
	}
	return fallback
}

// RelationDefinition is the declarative form used in configuration files:
// {type, field, sync, mode}, keyed by relation name.
type RelationDefinition struct {
	Type  string `yaml:"type" json:"type"`
	Field string `yaml:"field,omitempty" json:"field,omitempty"`
	Sync  *bool  `yaml:"sync,omitempty" json:"sync,omitempty"`
	Mode  string `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// Spec converts the definition. sync defaults to true and mode to replace.
func (d RelationDefinition) Spec(relation string) (RelationSpec, error) {
	if strings.TrimSpace(relation) == "" {
		return nil, fmt.Errorf("relation name is required")
	}
	sync := true
	if d.Sync != nil {
		sync = *d.Sync
	}
	mode := ChildMode(strings.ToLower(strings.TrimSpace(d.Mode)))
	switch mode {
	case "":
		mode = ModeReplace
	case ModeReplace, ModeMerge:
	default:
		return nil, fmt.Errorf("relation %s: unknown mode %q", relation, d.Mode)
	}

	switch d.Type {
	case "belongsTo":
		return BelongsTo{Relation: relation, Field: d.Field}, nil
	case "belongsToMany":
		return BelongsToMany{Relation: relation, Field: d.Field, Sync: sync}, nil
	case "morphToMany":
		return MorphToMany{Relation: relation, Field: d.Field, Sync: sync}, nil
	case "hasMany":
		return HasMany{Relation: relation, Field: d.Field, Mode: mode}, nil
	case "morphMany":
		return MorphMany{Relation: relation, Field: d.Field, Mode: mode}, nil
	default:
		return nil, fmt.Errorf("relation %s: unknown type %q", relation, d.Type)
	}
}

// SpecsFromDefinitions converts a relation map, ordered by relation name.
func SpecsFromDefinitions(defs map[string]RelationDefinition) ([]RelationSpec, error) {
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	specs := make([]RelationSpec, 0, len(names))
	for _, name := range names {
		spec, err := defs[name].Spec(name)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
