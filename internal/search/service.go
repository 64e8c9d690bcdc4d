package search

import (
	"context"

	"github.com/rs/zerolog"

	"approvaldesk/internal/approval"
)

// Service tries Meilisearch first and falls back to Postgres. It also
// implements approval.Indexer.
type Service struct {
	meili *Meili
	pg    *PgFallback
	log   zerolog.Logger
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pg *PgFallback, log zerolog.Logger) *Service {
	return &Service{meili: meili, pg: pg, log: log.With().Str("component", "search").Logger()}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: BackendMeili}
		}
		s.log.Warn().Err(err).Msg("meilisearch error, falling back to postgres")
	}
	if s.pg == nil {
		return Response{Results: []Result{}, Query: q.Text, Backend: BackendNone}
	}

	results, total, err := s.pg.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("postgres search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Backend: BackendNone}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Backend: BackendPostgres}
}

// IndexRequest pushes the request to Meilisearch in the background.
func (s *Service) IndexRequest(req approval.Request) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record := RecordFromRequest(req)
	go func() {
		if err := s.meili.IndexRequests([]RequestRecord{record}); err != nil {
			s.log.Warn().Err(err).Str("request_id", record.ID).Msg("index approval request")
		}
	}()
}

// RemoveRequest drops the request from Meilisearch in the background.
func (s *Service) RemoveRequest(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteRequest(id); err != nil {
			s.log.Warn().Err(err).Str("request_id", id).Msg("remove approval request from index")
		}
	}()
}

// ReindexAllFromPG reloads every live request into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pg == nil {
		return
	}
	records, err := s.pg.LoadAll(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.meili.IndexRequests(records); err != nil {
		s.log.Error().Err(err).Msg("reindex approval requests")
		return
	}
	s.log.Info().Int("count", len(records)).Msg("approval requests reindexed")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

var _ approval.Indexer = (*Service)(nil)
