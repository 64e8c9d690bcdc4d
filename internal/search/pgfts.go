package search

import (
	"context"
	"strings"

	"approvaldesk/internal/approval"
)

// RequestSource is the database side of search: an ILIKE match for queries
// and a paged listing for reindexing.
type RequestSource interface {
	Search(ctx context.Context, query string, filter approval.ListFilter) ([]approval.Request, error)
	List(ctx context.Context, filter approval.ListFilter) ([]approval.Request, int, error)
}

// PgFallback answers searches from Postgres when Meilisearch is down.
type PgFallback struct {
	source RequestSource
}

func NewPgFallback(source RequestSource) *PgFallback {
	return &PgFallback{source: source}
}

// Healthy always returns true: if Postgres is down, the whole app is down.
func (p *PgFallback) Healthy() bool {
	return true
}

func (p *PgFallback) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	items, err := p.source.Search(ctx, q.Text, approval.ListFilter{
		Status:         approval.Status(q.Status),
		Type:           approval.RequestType(q.RequestType),
		ApprovableType: q.ApprovableType,
		Limit:          limit,
		Offset:         q.Offset,
	})
	if err != nil {
		return nil, 0, err
	}
	results := make([]Result, 0, len(items))
	for _, req := range items {
		results = append(results, resultFromRequest(req))
	}
	return results, len(results), nil
}

const reindexPage = 200

// LoadAll reads every live request in pages.
func (p *PgFallback) LoadAll(ctx context.Context) ([]RequestRecord, error) {
	var out []RequestRecord
	for offset := 0; ; offset += reindexPage {
		items, _, err := p.source.List(ctx, approval.ListFilter{Limit: reindexPage, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, req := range items {
			out = append(out, RecordFromRequest(req))
		}
		if len(items) < reindexPage {
			return out, nil
		}
	}
}
