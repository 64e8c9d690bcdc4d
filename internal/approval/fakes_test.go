package approval

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"approvaldesk/internal/attrs"
)

type fakePrincipal struct {
	id   string
	caps map[string]bool
}

func (p fakePrincipal) ID() string { return p.id }
func (p fakePrincipal) Can(capability string) bool { return p.caps[capability] }

func user(id string, caps ...string) fakePrincipal {
	p := fakePrincipal{id: id, caps: map[string]bool{}}
	for _, c := range caps {
		p.caps[c] = true
	}
	return p
}

type memRequests struct {
	mu    sync.Mutex
	items map[string]Request
	order []string

	createFn   func(context.Context, *Request) error
	finalizeFn func(context.Context, Decision) error
}

func newMemRequests() *memRequests {
	return &memRequests{items: map[string]Request{}}
}

func (m *memRequests) Create(ctx context.Context, req *Request) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, req); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if req.Type != RequestCreate {
		for _, existing := range m.items {
			if existing.IsPending() && existing.ApprovableType == req.ApprovableType && existing.TargetID() == req.TargetID() {
				return ConflictError(req.ApprovableType, req.TargetID())
			}
		}
	}
	m.items[req.ID] = *req
	m.order = append(m.order, req.ID)
	return nil
}

func (m *memRequests) Get(_ context.Context, id string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.items[id]
	if !ok {
		return Request{}, NotFoundError("approval request", id)
	}
	return req, nil
}

func (m *memRequests) GetForUpdate(ctx context.Context, id string) (Request, error) {
	return m.Get(ctx, id)
}

func (m *memRequests) HasPending(_ context.Context, approvableType, approvableID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, req := range m.items {
		if req.IsPending() && req.DeletedAt == nil && req.ApprovableType == approvableType && req.TargetID() == approvableID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memRequests) FindPendingOrLatest(_ context.Context, approvableType, approvableID string) (*Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Request
	for i := len(m.order) - 1; i >= 0; i-- {
		req := m.items[m.order[i]]
		if req.ApprovableType != approvableType || req.TargetID() != approvableID {
			continue
		}
		if req.IsPending() {
			return &req, nil
		}
		if latest == nil {
			copied := req
			latest = &copied
		}
	}
	return latest, nil
}

func (m *memRequests) List(_ context.Context, f ListFilter) ([]Request, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, id := range m.order {
		req := m.items[id]
		if f.Status != "" && req.Status != f.Status {
			continue
		}
		if f.Type != "" && req.Type != f.Type {
			continue
		}
		if f.ApprovableType != "" && req.ApprovableType != f.ApprovableType {
			continue
		}
		if f.RequesterID != "" && req.RequesterID != f.RequesterID {
			continue
		}
		if !f.IncludeDeleted && req.DeletedAt != nil {
			continue
		}
		out = append(out, req)
	}
	return out, len(out), nil
}

func (m *memRequests) Finalize(ctx context.Context, d Decision) error {
	if m.finalizeFn != nil {
		return m.finalizeFn(ctx, d)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.items[d.RequestID]
	if !ok {
		return NotFoundError("approval request", d.RequestID)
	}
	if !req.IsPending() {
		return InvalidStateError(req.ID, req.Status)
	}
	m.items[d.RequestID] = applyDecision(req, d)
	return nil
}

func (m *memRequests) Archive(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.items[id]
	if !ok {
		return NotFoundError("approval request", id)
	}
	req.DeletedAt = &at
	m.items[id] = req
	return nil
}

func (m *memRequests) ApprovableTypes(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]struct{}{}
	var out []string
	for _, req := range m.items {
		if _, ok := seen[req.ApprovableType]; !ok {
			seen[req.ApprovableType] = struct{}{}
			out = append(out, req.ApprovableType)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memRequests) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

type memRecords struct {
	mu       sync.Mutex
	next     int
	rows     map[string]map[string]*attrs.Map
	links    map[string][]string
	children map[string][]*attrs.Map
}

func newMemRecords() *memRecords {
	return &memRecords{
		rows:     map[string]map[string]*attrs.Map{},
		links:    map[string][]string{},
		children: map[string][]*attrs.Map{},
	}
}

func relKey(ref RelationRef) string {
	return ref.OwnerType + "/" + ref.OwnerID + "/" + ref.Relation
}

func (m *memRecords) seed(recordType, id string, data *attrs.Map) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows[recordType] == nil {
		m.rows[recordType] = map[string]*attrs.Map{}
	}
	m.rows[recordType][id] = data.Clone()
}

func (m *memRecords) row(recordType, id string) (*attrs.Map, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[recordType][id]
	return r, ok
}

func (m *memRecords) Create(_ context.Context, recordType string, data *attrs.Map) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.next++
	id := "rec-" + strconv.Itoa(m.next)
	if m.rows[recordType] == nil {
		m.rows[recordType] = map[string]*attrs.Map{}
	}
	m.rows[recordType][id] = attrs.OrEmpty(data).Clone()
	return id, nil
}

func (m *memRecords) Find(_ context.Context, recordType, id string) (*attrs.Map, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[recordType][id]
	if !ok {
		return nil, NotFoundError("record", id)
	}
	return r.Clone(), nil
}

func (m *memRecords) Update(_ context.Context, recordType, id string, data *attrs.Map) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rows[recordType][id]
	if !ok {
		return NotFoundError("record", id)
	}
	m.rows[recordType][id] = r.Merge(data)
	return nil
}

func (m *memRecords) Delete(_ context.Context, recordType, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[recordType][id]; !ok {
		return NotFoundError("record", id)
	}
	delete(m.rows[recordType], id)
	return nil
}

func (m *memRecords) SyncRelated(_ context.Context, ref RelationRef, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[relKey(ref)] = append([]string(nil), ids...)
	return nil
}

func (m *memRecords) AttachRelated(_ context.Context, ref RelationRef, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[relKey(ref)] = append(m.links[relKey(ref)], ids...)
	return nil
}

func (m *memRecords) ReplaceChildren(_ context.Context, ref RelationRef, items []*attrs.Map) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.children[relKey(ref)] = items
	return nil
}

func (m *memRecords) MergeChildren(_ context.Context, ref RelationRef, items []*attrs.Map) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := relKey(ref)
	for _, item := range items {
		id, hasID := item.Get("id")
		replaced := false
		if hasID {
			for i, existing := range m.children[key] {
				if existingID, _ := existing.Get("id"); existingID == id {
					m.children[key][i] = existing.Merge(item)
					replaced = true
				}
			}
		}
		if !replaced {
			m.children[key] = append(m.children[key], item)
		}
	}
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
}

func (n *recordingNotifier) last() Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return Notification{}
	}
	return n.sent[len(n.sent)-1]
}

type fakeLocker struct {
	held     map[string]bool
	acquired []string
}

func (l *fakeLocker) TryLock(_ context.Context, key string, _ time.Duration) (func(), bool, error) {
	if l.held[key] {
		return nil, false, nil
	}
	l.acquired = append(l.acquired, key)
	return func() {}, true, nil
}

type fakeArchiver struct {
	archived []string
}

func (a *fakeArchiver) ArchiveRequest(_ context.Context, req Request) error {
	a.archived = append(a.archived, req.ID)
	return nil
}
