package app

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"approvaldesk/internal/approval"
	"approvaldesk/internal/attrs"
	"approvaldesk/internal/auth"
	"approvaldesk/internal/metrics"
	"approvaldesk/internal/notify"
	"approvaldesk/internal/search"
)

const testSecret = "test-secret"

type fakeRequests struct {
	mu    sync.Mutex
	items map[string]approval.Request
	order []string

	listFn func(context.Context, approval.ListFilter) ([]approval.Request, int, error)
}

func newFakeRequests() *fakeRequests {
	return &fakeRequests{items: map[string]approval.Request{}}
}

func (f *fakeRequests) Create(_ context.Context, req *approval.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.Type != approval.RequestCreate {
		for _, existing := range f.items {
			if existing.IsPending() && existing.ApprovableType == req.ApprovableType && existing.TargetID() == req.TargetID() {
				return approval.ConflictError(req.ApprovableType, req.TargetID())
			}
		}
	}
	f.items[req.ID] = *req
	f.order = append(f.order, req.ID)
	return nil
}

func (f *fakeRequests) Get(_ context.Context, id string) (approval.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.items[id]
	if !ok {
		return approval.Request{}, approval.NotFoundError("approval request", id)
	}
	return req, nil
}

func (f *fakeRequests) GetForUpdate(ctx context.Context, id string) (approval.Request, error) {
	return f.Get(ctx, id)
}

func (f *fakeRequests) HasPending(_ context.Context, approvableType, approvableID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, req := range f.items {
		if req.IsPending() && req.ApprovableType == approvableType && req.TargetID() == approvableID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRequests) FindPendingOrLatest(_ context.Context, approvableType, approvableID string) (*approval.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.order) - 1; i >= 0; i-- {
		req := f.items[f.order[i]]
		if req.ApprovableType == approvableType && req.TargetID() == approvableID {
			return &req, nil
		}
	}
	return nil, nil
}

func (f *fakeRequests) List(ctx context.Context, filter approval.ListFilter) ([]approval.Request, int, error) {
	if f.listFn != nil {
		return f.listFn(ctx, filter)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []approval.Request{}
	for _, id := range f.order {
		req := f.items[id]
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if !filter.IncludeDeleted && req.DeletedAt != nil {
			continue
		}
		out = append(out, req)
	}
	return out, len(out), nil
}

func (f *fakeRequests) Finalize(_ context.Context, d approval.Decision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.items[d.RequestID]
	if !ok {
		return approval.NotFoundError("approval request", d.RequestID)
	}
	if !req.IsPending() {
		return approval.InvalidStateError(req.ID, req.Status)
	}
	req.Status = d.Status
	req.DecidedByID = &d.DecidedByID
	if d.Reason != "" {
		req.DecidedReason = &d.Reason
	}
	at := d.DecidedAt
	req.DecidedAt = &at
	if req.ApprovableID == nil && d.ApprovableID != "" {
		id := d.ApprovableID
		req.ApprovableID = &id
	}
	f.items[req.ID] = req
	return nil
}

func (f *fakeRequests) Archive(_ context.Context, id string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.items[id]
	if !ok {
		return approval.NotFoundError("approval request", id)
	}
	req.DeletedAt = &at
	f.items[id] = req
	return nil
}

func (f *fakeRequests) ApprovableTypes(context.Context) ([]string, error) {
	return []string{"invoice"}, nil
}

type fakeRecords struct {
	mu   sync.Mutex
	next int
	rows map[string]*attrs.Map
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{rows: map[string]*attrs.Map{}}
}

func (f *fakeRecords) seed(id string, data *attrs.Map) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[id] = data
}

func (f *fakeRecords) Create(_ context.Context, _ string, data *attrs.Map) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	id := "rec-" + strconv.Itoa(f.next)
	f.rows[id] = attrs.OrEmpty(data).Clone()
	return id, nil
}

func (f *fakeRecords) Find(_ context.Context, recordType, id string) (*attrs.Map, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return nil, approval.NotFoundError(recordType, id)
	}
	return row.Clone(), nil
}

func (f *fakeRecords) Update(_ context.Context, recordType, id string, data *attrs.Map) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[id]
	if !ok {
		return approval.NotFoundError(recordType, id)
	}
	f.rows[id] = row.Merge(data)
	return nil
}

func (f *fakeRecords) Delete(_ context.Context, recordType, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rows[id]; !ok {
		return approval.NotFoundError(recordType, id)
	}
	delete(f.rows, id)
	return nil
}

func (f *fakeRecords) SyncRelated(context.Context, approval.RelationRef, []string) error   { return nil }
func (f *fakeRecords) AttachRelated(context.Context, approval.RelationRef, []string) error { return nil }
func (f *fakeRecords) ReplaceChildren(context.Context, approval.RelationRef, []*attrs.Map) error {
	return nil
}
func (f *fakeRecords) MergeChildren(context.Context, approval.RelationRef, []*attrs.Map) error {
	return nil
}

type fakeSearcher struct {
	searchFn func(context.Context, search.Query) search.Response
}

func (f *fakeSearcher) Search(ctx context.Context, q search.Query) search.Response {
	return f.searchFn(ctx, q)
}

type testEnv struct {
	server   *HTTPServer
	requests *fakeRequests
	records  *fakeRecords
	inbox    *notify.RedisInbox
	metrics  *metrics.Metrics
	checks   map[string]Pinger
	search   *fakeSearcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	env := &testEnv{
		requests: newFakeRequests(),
		records:  newFakeRecords(),
		inbox:    notify.NewRedisInboxWithClient(client, zerolog.Nop()),
		metrics:  metrics.New(),
		checks: map[string]Pinger{
			"database": PingFunc(func(context.Context) error { return nil }),
		},
		search: &fakeSearcher{searchFn: func(_ context.Context, q search.Query) search.Response {
			return search.Response{Results: []search.Result{}, Query: q.Text, Backend: search.BackendPostgres}
		}},
	}

	registry, err := approval.NewRegistry(approval.Descriptor{Type: "invoice", Resource: "invoices", Label: "Invoice"})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	approvals := approval.New(approval.Config{
		Permissions: approval.Permissions{
			Approve: "approval.approve",
			Reject:  "approval.reject",
			Bypass:  "approval.bypass",
		},
	}, registry, env.requests, env.records,
		approval.WithNotifier(env.inbox),
		approval.WithMetrics(env.metrics),
	)
	svc := NewService(Deps{
		Approvals: approvals,
		Search:    env.search,
		Inbox:     env.inbox,
		Checks:    env.checks,
		JWTSecret: testSecret,
		Log:       zerolog.Nop(),
	})
	env.server = NewHTTPServer(svc, "*", env.metrics, zerolog.Nop())
	return env
}

func tokenFor(t *testing.T, subject, role string, caps ...string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte(testSecret), auth.NewClaims(subject, subject, role, time.Hour, caps...))
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}
