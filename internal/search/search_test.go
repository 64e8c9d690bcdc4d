package search

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"

	"approvaldesk/internal/approval"
	"approvaldesk/internal/attrs"
)

type fakeSource struct {
	searchFn func(ctx context.Context, query string, filter approval.ListFilter) ([]approval.Request, error)
	listFn   func(ctx context.Context, filter approval.ListFilter) ([]approval.Request, int, error)
}

func (f fakeSource) Search(ctx context.Context, query string, filter approval.ListFilter) ([]approval.Request, error) {
	return f.searchFn(ctx, query, filter)
}

func (f fakeSource) List(ctx context.Context, filter approval.ListFilter) ([]approval.Request, int, error) {
	return f.listFn(ctx, filter)
}

func sampleRequest() approval.Request {
	target := "c-1"
	return approval.Request{
		ID:             "apr_1",
		Type:           approval.RequestEdit,
		Status:         approval.StatusPending,
		RequesterID:    "u-1",
		ApprovableType: "company",
		ApprovableID:   &target,
		Attributes:     attrs.FromGo(map[string]any{"name": "Acme", "tags": []any{"a"}}),
		OriginalData:   attrs.FromGo(map[string]any{"name": "Old"}),
		CreatedAt:      time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRecordFromRequest(t *testing.T) {
	rec := RecordFromRequest(sampleRequest())
	if rec.Title != "Edit company #c-1" {
		t.Fatalf("title = %q", rec.Title)
	}
	if !strings.Contains(rec.Payload, "name: Acme") || strings.Contains(rec.Payload, "Old") {
		t.Fatalf("payload = %q", rec.Payload)
	}
	if rec.ApprovableID != "c-1" || rec.CreatedAt != 1714521600 {
		t.Fatalf("unexpected record %+v", rec)
	}

	del := sampleRequest()
	del.Type = approval.RequestDelete
	del.Attributes = attrs.New()
	if rec := RecordFromRequest(del); !strings.Contains(rec.Payload, "name: Old") {
		t.Fatalf("delete payload should fall back to snapshot: %q", rec.Payload)
	}
}

func TestServiceFallsBackToPostgres(t *testing.T) {
	var gotQuery string
	var gotFilter approval.ListFilter
	source := fakeSource{searchFn: func(_ context.Context, query string, filter approval.ListFilter) ([]approval.Request, error) {
		gotQuery, gotFilter = query, filter
		return []approval.Request{sampleRequest()}, nil
	}}
	svc := NewService(nil, NewPgFallback(source), zerolog.Nop())

	resp := svc.Search(context.Background(), Query{Text: "acme", Status: "pending"})
	if resp.Total != 1 || len(resp.Results) != 1 || resp.Results[0].ID != "apr_1" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Backend != BackendPostgres {
		t.Fatalf("backend = %q", resp.Backend)
	}
	if gotQuery != "acme" || gotFilter.Status != approval.StatusPending || gotFilter.Limit != 20 {
		t.Fatalf("query %q filter %+v", gotQuery, gotFilter)
	}
}

func TestServiceSearchErrorsYieldEmptyResults(t *testing.T) {
	source := fakeSource{searchFn: func(context.Context, string, approval.ListFilter) ([]approval.Request, error) {
		return nil, errors.New("db down")
	}}
	resp := NewService(nil, NewPgFallback(source), zerolog.Nop()).Search(context.Background(), Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Query != "x" || resp.Backend != BackendNone {
		t.Fatalf("unexpected response %+v", resp)
	}

	blank := NewService(nil, NewPgFallback(source), zerolog.Nop()).Search(context.Background(), Query{Text: "  "})
	if len(blank.Results) != 0 {
		t.Fatalf("blank query should not hit the database")
	}
}

func TestLoadAllPages(t *testing.T) {
	calls := 0
	source := fakeSource{listFn: func(_ context.Context, filter approval.ListFilter) ([]approval.Request, int, error) {
		calls++
		n := reindexPage
		if filter.Offset > 0 {
			n = 3
		}
		items := make([]approval.Request, n)
		for i := range items {
			items[i] = sampleRequest()
		}
		return items, reindexPage + 3, nil
	}}
	records, err := NewPgFallback(source).LoadAll(context.Background())
	if err != nil {
		t.Fatalf("load all: %v", err)
	}
	if len(records) != reindexPage+3 || calls != 2 {
		t.Fatalf("records = %d calls = %d", len(records), calls)
	}
}

func TestMeiliFiltersAndHits(t *testing.T) {
	filters := meiliFilters(Query{Status: "pending", ApprovableType: "company"})
	if strings.Join(filters, " AND ") != `status = "pending" AND approvableType = "company"` {
		t.Fatalf("filters = %v", filters)
	}

	hit := meili.Hit{
		"id":         json.RawMessage(`"apr_9"`),
		"status":     json.RawMessage(`"approved"`),
		"title":      json.RawMessage(`"Create company"`),
		"payload":    json.RawMessage(`"name: Acme"`),
		"_formatted": json.RawMessage(`{"title":"Create <mark>company</mark>","createdAt":"1"}`),
	}
	r := hitToResult(hit)
	if r.ID != "apr_9" || r.Status != "approved" {
		t.Fatalf("unexpected result %+v", r)
	}
	if r.Title != "Create <mark>company</mark>" || r.Snippet != "name: Acme" {
		t.Fatalf("title %q snippet %q", r.Title, r.Snippet)
	}
}

func TestIndexerIsNoopWithoutMeili(t *testing.T) {
	svc := NewService(nil, nil, zerolog.Nop())
	svc.IndexRequest(sampleRequest())
	svc.RemoveRequest("apr_1")
	svc.ReindexAllFromPG(context.Background())
	if resp := svc.Search(context.Background(), Query{Text: "x"}); len(resp.Results) != 0 {
		t.Fatalf("unexpected results %+v", resp)
	}
}

func TestSnippetTruncatesRunes(t *testing.T) {
	if got := snippet("a  b\nc", 10); got != "a b c" {
		t.Fatalf("snippet = %q", got)
	}
	if got := snippet(strings.Repeat("é", 5), 3); got != "ééé…" {
		t.Fatalf("snippet = %q", got)
	}
}
