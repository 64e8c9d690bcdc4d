package app

import (
	"context"
	"errors"
	"sort"

	"github.com/rs/zerolog"

	"approvaldesk/internal/approval"
	"approvaldesk/internal/auth"
	"approvaldesk/internal/notify"
	"approvaldesk/internal/rbac"
	"approvaldesk/internal/search"
)

type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
}

type Inbox interface {
	Inbox(ctx context.Context, recipientID string, limit int) ([]notify.Entry, error)
	Clear(ctx context.Context, recipientID string) error
}

// Pinger is one readiness dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Service glues the approval workflow to the outer surfaces: tokens, search,
// the notification inbox and readiness checks.
type Service struct {
	approvals *approval.Service
	search    Searcher
	inbox     Inbox
	checks    map[string]Pinger
	secret    []byte
	policy    rbac.Policy
	log       zerolog.Logger
}

type Deps struct {
	Approvals *approval.Service
	// Search and Inbox are optional.
	Search    Searcher
	Inbox     Inbox
	Checks    map[string]Pinger
	JWTSecret string
	Log       zerolog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		approvals: d.Approvals,
		search:    d.Search,
		inbox:     d.Inbox,
		checks:    d.Checks,
		secret:    []byte(d.JWTSecret),
		policy:    rbac.NewPolicy(d.Approvals.Config().Permissions),
		log:       d.Log,
	}
}

func (s *Service) Approvals() *approval.Service {
	return s.approvals
}

// PrincipalFromToken verifies a bearer token and binds the role policy.
func (s *Service) PrincipalFromToken(_ context.Context, token string) (auth.Principal, error) {
	claims, err := auth.ParseToken(s.secret, token)
	if err != nil {
		return auth.Principal{}, err
	}
	return auth.Principal{Claims: claims, Policy: s.policy}, nil
}

// Ready runs every readiness check. The result maps check name to its error,
// nil when healthy.
func (s *Service) Ready(ctx context.Context) map[string]error {
	out := make(map[string]error, len(s.checks))
	for name, check := range s.checks {
		out[name] = check.Ping(ctx)
	}
	return out
}

func (s *Service) checkNames() []string {
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var errSearchUnavailable = errors.New("search is not configured")

func (s *Service) Search(ctx context.Context, p approval.Principal, q search.Query) (search.Response, error) {
	if !s.approvals.CanView(p) {
		return search.Response{}, approval.ForbiddenError(s.approvals.Config().Permissions.View)
	}
	if s.search == nil {
		return search.Response{}, errSearchUnavailable
	}
	return s.search.Search(ctx, q), nil
}

func (s *Service) Notifications(ctx context.Context, p approval.Principal, limit int) ([]notify.Entry, error) {
	if s.inbox == nil {
		return []notify.Entry{}, nil
	}
	return s.inbox.Inbox(ctx, p.ID(), limit)
}

func (s *Service) ClearNotifications(ctx context.Context, p approval.Principal) error {
	if s.inbox == nil {
		return nil
	}
	return s.inbox.Clear(ctx, p.ID())
}
