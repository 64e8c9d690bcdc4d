package approval

import (
	"context"
	"time"

	"approvaldesk/internal/attrs"
)

// Principal is the acting user.
type Principal interface {
	ID() string
	Can(capability string) bool
}

// RelationRef addresses one relation of one owner record.
type RelationRef struct {
	OwnerType   string
	OwnerID     string
	Relation    string
	Polymorphic bool
}

// RecordStore persists domain records. Find and Update return an error
// wrapping ErrNotFound for missing records.
type RecordStore interface {
	Create(ctx context.Context, recordType string, data *attrs.Map) (string, error)
	Find(ctx context.Context, recordType, id string) (*attrs.Map, error)
	Update(ctx context.Context, recordType, id string, data *attrs.Map) error
	Delete(ctx context.Context, recordType, id string) error

	SyncRelated(ctx context.Context, ref RelationRef, ids []string) error
	AttachRelated(ctx context.Context, ref RelationRef, ids []string) error
	ReplaceChildren(ctx context.Context, ref RelationRef, items []*attrs.Map) error
	MergeChildren(ctx context.Context, ref RelationRef, items []*attrs.Map) error
}

// Repository persists approval requests.
type Repository interface {
	// Create inserts a pending request. Edit and delete requests fail with a
	// ConflictError when their target already has a pending request.
	Create(ctx context.Context, req *Request) error
	Get(ctx context.Context, id string) (Request, error)
	// GetForUpdate reads and locks the row for the current transaction.
	GetForUpdate(ctx context.Context, id string) (Request, error)
	HasPending(ctx context.Context, approvableType, approvableID string) (bool, error)
	FindPendingOrLatest(ctx context.Context, approvableType, approvableID string) (*Request, error)
	List(ctx context.Context, filter ListFilter) ([]Request, int, error)
	// Finalize moves a pending request to its terminal state. It fails with
	// InvalidStateError when the request is no longer pending.
	Finalize(ctx context.Context, d Decision) error
	Archive(ctx context.Context, id string, at time.Time) error
	ApprovableTypes(ctx context.Context) ([]string, error)
}

// Transactor runs fn in one transaction carried by ctx.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker guards the pending check and insert for one target across
// processes. ok is false when someone else holds the lock.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(), ok bool, err error)
}

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
	SeverityDanger  Severity = "danger"
)

type Notification struct {
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Severity    Severity `json:"severity"`
	RecipientID string   `json:"recipientId,omitempty"`
	RequestID   string   `json:"requestId,omitempty"`
}

// Notifier delivers user notices. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Indexer keeps the review-queue search index current. Calls are fire and
// forget.
type Indexer interface {
	IndexRequest(req Request)
	RemoveRequest(id string)
}

// Archiver snapshots a request before it is archived.
type Archiver interface {
	ArchiveRequest(ctx context.Context, req Request) error
}

// Metrics receives workflow counters.
type Metrics interface {
	IntentHandled(requestType RequestType, outcome Outcome)
	RequestDecided(requestType RequestType, status Status)
	ConflictRejected(requestType RequestType)
}

type noopTx struct{}

func (noopTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) {}

type noopIndexer struct{}

func (noopIndexer) IndexRequest(Request) {}
func (noopIndexer) RemoveRequest(string) {}

type noopMetrics struct{}

func (noopMetrics) IntentHandled(RequestType, Outcome) {}
func (noopMetrics) RequestDecided(RequestType, Status) {}
func (noopMetrics) ConflictRejected(RequestType) {}
