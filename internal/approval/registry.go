package approval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"approvaldesk/internal/attrs"
)

// RelationProvider declares the relations a resource reconciles on approval.
type RelationProvider interface {
	ApprovalRelations() []RelationSpec
}

// RelationList is a fixed RelationProvider.
type RelationList []RelationSpec

func (l RelationList) ApprovalRelations() []RelationSpec { return l }

// AttributeTransformer rewrites the filtered attributes right before an
// approved change is written.
type AttributeTransformer interface {
	BeforeApprovalSave(ctx context.Context, data *attrs.Map, req Request) (*attrs.Map, error)
}

// LifecycleHooks run inside the approval transaction. An error rolls the
// decision back.
type LifecycleHooks interface {
	BeforeCreate(ctx context.Context, data *attrs.Map) error
	AfterCreate(ctx context.Context, recordID string, data *attrs.Map) error
	BeforeUpdate(ctx context.Context, recordID string, data *attrs.Map) error
	AfterUpdate(ctx context.Context, recordID string, data *attrs.Map) error
	BeforeDelete(ctx context.Context, recordID string) error
	AfterDelete(ctx context.Context, recordID string) error
}

// NopHooks can be embedded to implement only some LifecycleHooks.
type NopHooks struct{}

func (NopHooks) BeforeCreate(context.Context, *attrs.Map) error { return nil }
func (NopHooks) AfterCreate(context.Context, string, *attrs.Map) error { return nil }
func (NopHooks) BeforeUpdate(context.Context, string, *attrs.Map) error { return nil }
func (NopHooks) AfterUpdate(context.Context, string, *attrs.Map) error { return nil }
func (NopHooks) BeforeDelete(context.Context, string) error { return nil }
func (NopHooks) AfterDelete(context.Context, string) error { return nil }

// Descriptor is everything the service knows about one approvable type.
type Descriptor struct {
	// Type is the approvable type tag stored on requests.
	Type string
	// Resource optionally names the schema used to render requests.
	Resource string
	// Label is the human name used in notifications. Defaults to Type.
	Label string
	// Writable lists the fields an approved change may write. Empty means all.
	Writable []string
	// TypeHints maps field names to declared types such as "datetime".
	TypeHints map[string]string

	Relations   RelationProvider
	Transformer AttributeTransformer
	Hooks       LifecycleHooks
}

func (d Descriptor) DisplayName() string {
	if d.Label != "" {
		return d.Label
	}
	return d.Type
}

// FilterWritable keeps only the writable fields of data.
func (d Descriptor) FilterWritable(data *attrs.Map) *attrs.Map {
	if len(d.Writable) == 0 {
		return attrs.OrEmpty(data).Clone()
	}
	allowed := make(map[string]struct{}, len(d.Writable))
	for _, f := range d.Writable {
		allowed[f] = struct{}{}
	}
	return attrs.OrEmpty(data).Filter(func(key string) bool {
		_, ok := allowed[key]
		return ok
	})
}

// Registry maps approvable types and resource names to descriptors.
type Registry struct {
	mu         sync.RWMutex
	byType     map[string]Descriptor
	byResource map[string]Descriptor
}

func NewRegistry(descriptors ...Descriptor) (*Registry, error) {
	r := &Registry{
		byType:     map[string]Descriptor{},
		byResource: map[string]Descriptor{},
	}
	for _, d := range descriptors {
		if err := r.Register(d); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(d Descriptor) error {
	if strings.TrimSpace(d.Type) == "" {
		return fmt.Errorf("register descriptor: type is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byType[d.Type]; exists {
		return fmt.Errorf("register descriptor: type %s already registered", d.Type)
	}
	r.byType[d.Type] = d
	if d.Resource != "" {
		r.byResource[d.Resource] = d
	}
	return nil
}

func (r *Registry) Lookup(approvableType string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byType[approvableType]
	if !ok {
		return Descriptor{}, UnresolvedResourceError(approvableType)
	}
	return d, nil
}

// Resolve finds the descriptor for a stored request: the recorded resource
// first, then the approvable type.
func (r *Registry) Resolve(req Request) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if req.ResourceClass != nil && *req.ResourceClass != "" {
		if d, ok := r.byResource[*req.ResourceClass]; ok {
			return d, nil
		}
	}
	if d, ok := r.byType[req.ApprovableType]; ok {
		return d, nil
	}
	return Descriptor{}, UnresolvedResourceError(req.ApprovableType)
}

func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
