package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"approvaldesk/internal/attrs"
	"approvaldesk/internal/diff"
)

// relationSpecs picks the first non-empty source: explicit specs, the
// descriptor's provider, then the configured map for the type.
func (s *Service) relationSpecs(desc Descriptor, explicit []RelationSpec) []RelationSpec {
	if len(explicit) > 0 {
		return explicit
	}
	if desc.Relations != nil {
		if specs := desc.Relations.ApprovalRelations(); len(specs) > 0 {
			return specs
		}
	}
	return s.cfg.Relations[desc.Type]
}

// reconcile writes relation payloads for recordID. Relations without a
// submitted payload are left alone.
func (s *Service) reconcile(ctx context.Context, desc Descriptor, recordID string, relationships, data *attrs.Map, explicit []RelationSpec) error {
	for _, spec := range s.relationSpecs(desc, explicit) {
		value, ok := relationPayload(spec, relationships, data)
		if !ok {
			continue
		}
		ref := RelationRef{OwnerType: desc.Type, OwnerID: recordID, Relation: spec.RelationName()}

		var err error
		switch r := spec.(type) {
		case BelongsTo:
			patch := attrs.New()
			if truthy(value) {
				patch.Set(r.PayloadField(), diff.Plain(value))
			} else {
				patch.Set(r.PayloadField(), nil)
			}
			err = s.records.Update(ctx, desc.Type, recordID, patch)
		case BelongsToMany:
			err = s.writeLinks(ctx, ref, r.Sync, value)
		case MorphToMany:
			ref.Polymorphic = true
			err = s.writeLinks(ctx, ref, r.Sync, value)
		case HasMany:
			err = s.writeChildren(ctx, ref, r.Mode, value)
		case MorphMany:
			ref.Polymorphic = true
			err = s.writeChildren(ctx, ref, r.Mode, value)
		default:
			err = fmt.Errorf("unsupported relation spec %T", spec)
		}
		if err != nil {
			return fmt.Errorf("reconcile relation %s: %w", spec.RelationName(), err)
		}
	}
	return nil
}

func (s *Service) writeLinks(ctx context.Context, ref RelationRef, sync bool, value any) error {
	ids := idList(value)
	if sync {
		return s.records.SyncRelated(ctx, ref, ids)
	}
	return s.records.AttachRelated(ctx, ref, ids)
}

func (s *Service) writeChildren(ctx context.Context, ref RelationRef, mode ChildMode, value any) error {
	items := childItems(value)
	if mode == ModeMerge {
		return s.records.MergeChildren(ctx, ref, items)
	}
	return s.records.ReplaceChildren(ctx, ref, items)
}

// relationPayload looks in the request relationships by relation name, then
// by field, then in the merged attribute data by field.
func relationPayload(spec RelationSpec, relationships, data *attrs.Map) (any, bool) {
	if v, ok := relationships.Get(spec.RelationName()); ok {
		return v, true
	}
	if v, ok := relationships.Get(spec.PayloadField()); ok {
		return v, true
	}
	return data.Get(spec.PayloadField())
}

func collection(value any) []any {
	switch t := diff.Plain(value).(type) {
	case []any:
		return t
	case *attrs.Map:
		out := make([]any, 0, t.Len())
		for _, k := range t.Keys() {
			v, _ := t.Get(k)
			out = append(out, v)
		}
		return out
	case string:
		if strings.HasPrefix(strings.TrimSpace(t), "[") {
			if list, ok := diff.CoerceArray(t).([]any); ok {
				return list
			}
		}
	}
	return nil
}

// idList turns a to-many payload into distinct non-empty ids. Scalars are
// not collections and yield nothing.
func idList(value any) []string {
	seen := map[string]struct{}{}
	ids := []string{}
	for _, item := range collection(value) {
		var id string
		switch t := item.(type) {
		case string:
			id = strings.TrimSpace(t)
		case json.Number:
			id = t.String()
		case bool, nil:
			continue
		default:
			id = fmt.Sprint(t)
		}
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// childItems keeps the object entries of a to-many child payload.
func childItems(value any) []*attrs.Map {
	items := []*attrs.Map{}
	for _, item := range collection(value) {
		if m, ok := item.(*attrs.Map); ok {
			items = append(items, m)
		}
	}
	return items
}

func truthy(value any) bool {
	switch t := diff.Plain(value).(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "0"
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	case []any:
		return len(t) > 0
	case *attrs.Map:
		return t.Len() > 0
	}
	return true
}
