// Package approval implements the approval-request workflow: intercepting
// create, edit and delete intents into pending requests, and applying or
// discarding them when a reviewer decides.
package approval

import (
	"strings"
	"time"

	"github.com/rs/zerolog"

	"approvaldesk/internal/util"
)

// Permissions holds capability names. An empty View, Approve or Reject
// capability allows everyone; an empty Bypass lets nobody skip approval.
type Permissions struct {
	View    string
	Approve string
	Reject  string
	Bypass  string
}

type Config struct {
	Permissions Permissions
	// Relations is the fallback relation map keyed by approvable type.
	Relations map[string][]RelationSpec
	// Debug attaches comparison details to diffs.
	Debug bool
	// LockTTL bounds how long a target lock may be held.
	LockTTL time.Duration
}

const (
	maxReasonLength = 1000
	defaultLockTTL  = 10 * time.Second
)

type Service struct {
	cfg      Config
	registry *Registry
	requests Repository
	records  RecordStore

	tx       Transactor
	locker   Locker
	notifier Notifier
	indexer  Indexer
	archiver Archiver
	metrics  Metrics
	log      zerolog.Logger

	now   func() time.Time
	newID func() string
}

type Option func(*Service)

func WithTransactor(tx Transactor) Option { return func(s *Service) { s.tx = tx } }

func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }

func WithNotifier(n Notifier) Option { return func(s *Service) { s.notifier = n } }

func WithIndexer(i Indexer) Option { return func(s *Service) { s.indexer = i } }

func WithArchiver(a Archiver) Option { return func(s *Service) { s.archiver = a } }

func WithMetrics(m Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.log = l } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func New(cfg Config, registry *Registry, requests Repository, records RecordStore, opts ...Option) *Service {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	s := &Service{
		cfg:      cfg,
		registry: registry,
		requests: requests,
		records:  records,
		tx:       noopTx{},
		notifier: noopNotifier{},
		indexer:  noopIndexer{},
		metrics:  noopMetrics{},
		log:      zerolog.Nop(),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return util.NewID("apr") },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Config() Config {
	return s.cfg
}

func (s *Service) Registry() *Registry {
	return s.registry
}

// allowed applies the "unset capability allows" rule.
func allowed(p Principal, capability string) bool {
	if strings.TrimSpace(capability) == "" {
		return true
	}
	return p != nil && p.Can(capability)
}

// CanBypass is evaluated on every intent; capability changes apply at once.
func (s *Service) CanBypass(p Principal) bool {
	capability := strings.TrimSpace(s.cfg.Permissions.Bypass)
	if capability == "" || p == nil {
		return false
	}
	return p.Can(capability)
}

func (s *Service) CanView(p Principal) bool    { return allowed(p, s.cfg.Permissions.View) }
func (s *Service) CanApprove(p Principal) bool { return allowed(p, s.cfg.Permissions.Approve) }
func (s *Service) CanReject(p Principal) bool  { return allowed(p, s.cfg.Permissions.Reject) }

func principalID(p Principal) string {
	if p == nil {
		return ""
	}
	return p.ID()
}
