package approval

import (
	"time"

	"approvaldesk/internal/attrs"
)

type RequestType string

const (
	RequestCreate RequestType = "create"
	RequestEdit   RequestType = "edit"
	RequestDelete RequestType = "delete"
)

func (t RequestType) Valid() bool {
	switch t {
	case RequestCreate, RequestEdit, RequestDelete:
		return true
	}
	return false
}

func (t RequestType) Label() string {
	switch t {
	case RequestCreate:
		return "Create"
	case RequestEdit:
		return "Edit"
	case RequestDelete:
		return "Delete"
	}
	return string(t)
}

func (t RequestType) Color() string {
	switch t {
	case RequestCreate:
		return "success"
	case RequestEdit:
		return "warning"
	case RequestDelete:
		return "danger"
	}
	return "gray"
}

func (t RequestType) Icon() string {
	switch t {
	case RequestCreate:
		return "heroicon-o-plus-circle"
	case RequestEdit:
		return "heroicon-o-pencil-square"
	case RequestDelete:
		return "heroicon-o-trash"
	}
	return ""
}

// Status is the request lifecycle state. Approved and rejected are terminal.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// Request is one captured create, edit or delete awaiting a decision.
type Request struct {
	ID             string      `json:"id" db:"id"`
	Type           RequestType `json:"requestType" db:"request_type"`
	RequesterID    string      `json:"requesterId" db:"requester_id"`
	ApprovableType string      `json:"approvableType" db:"approvable_type"`
	ApprovableID   *string     `json:"approvableId" db:"approvable_id"`
	Attributes     *attrs.Map  `json:"attributes" db:"attributes"`
	Relationships  *attrs.Map  `json:"relationships" db:"relationships"`
	OriginalData   *attrs.Map  `json:"originalData" db:"original_data"`
	ResourceClass  *string     `json:"resourceClass,omitempty" db:"resource_class"`
	Status         Status      `json:"status" db:"status"`
	DecidedByID    *string     `json:"decidedById,omitempty" db:"decided_by_id"`
	DecidedReason  *string     `json:"decidedReason,omitempty" db:"decided_reason"`
	DecidedAt      *time.Time  `json:"decidedAt,omitempty" db:"decided_at"`
	CreatedAt      time.Time   `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time   `json:"updatedAt" db:"updated_at"`
	DeletedAt      *time.Time  `json:"deletedAt,omitempty" db:"deleted_at"`
}

func (r Request) IsPending() bool {
	return r.Status == StatusPending
}

// TargetID returns the approvable id or "" while a create is still pending.
func (r Request) TargetID() string {
	if r.ApprovableID == nil {
		return ""
	}
	return *r.ApprovableID
}

func (r Request) DeciderID() string {
	if r.DecidedByID == nil {
		return ""
	}
	return *r.DecidedByID
}

// Decision is the terminal transition written by Finalize.
type Decision struct {
	RequestID    string
	Status       Status
	DecidedByID  string
	Reason       string
	DecidedAt    time.Time
	ApprovableID string
}

// ListFilter narrows the review queue. Empty fields do not filter.
type ListFilter struct {
	Status         Status
	Type           RequestType
	ApprovableType string
	ApprovableID   string
	RequesterID    string
	IncludeDeleted bool
	Limit          int
	Offset         int
}
