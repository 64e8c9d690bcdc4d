package approval

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"approvaldesk/internal/attrs"
)

// Outcome tells the caller what happened to an intent.
type Outcome string

const (
	// OutcomePassedThrough means the principal could bypass approval and the
	// mutation was written directly.
	OutcomePassedThrough Outcome = "passed_through"
	// OutcomeSubmitted means a pending request was captured instead.
	OutcomeSubmitted Outcome = "submitted"
	// OutcomeNoChanges means an edit changed nothing and was dropped.
	OutcomeNoChanges Outcome = "no_changes"
)

// Intent is a create, edit or delete a user asked for.
type Intent struct {
	ApprovableType string
	ApprovableID   string
	Data           *attrs.Map
	Relationships  *attrs.Map
	ResourceClass  string
}

type IntentResult struct {
	Outcome  Outcome  `json:"outcome"`
	Request  *Request `json:"request,omitempty"`
	RecordID string   `json:"recordId,omitempty"`
}

func (s *Service) SubmitCreate(ctx context.Context, p Principal, in Intent) (IntentResult, error) {
	desc, err := s.registry.Lookup(in.ApprovableType)
	if err != nil {
		return IntentResult{}, err
	}

	if s.CanBypass(p) {
		var recordID string
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			data := desc.FilterWritable(in.Data)
			id, err := s.records.Create(ctx, desc.Type, data)
			if err != nil {
				return err
			}
			recordID = id
			return s.reconcile(ctx, desc, id, in.Relationships, attrs.OrEmpty(in.Data), nil)
		})
		if err != nil {
			return IntentResult{}, err
		}
		s.metrics.IntentHandled(RequestCreate, OutcomePassedThrough)
		return IntentResult{Outcome: OutcomePassedThrough, RecordID: recordID}, nil
	}

	req := s.newRequest(p, RequestCreate, desc, in)
	req.Attributes = attrs.OrEmpty(in.Data).Clone()
	if err := s.requests.Create(ctx, req); err != nil {
		return IntentResult{}, fmt.Errorf("create approval request: %w", err)
	}
	s.afterSubmit(ctx, p, *req, Notification{
		Title:    "Approval Requested",
		Body:     fmt.Sprintf("Your %s creation request has been submitted for approval.", desc.DisplayName()),
		Severity: SeveritySuccess,
	})
	return IntentResult{Outcome: OutcomeSubmitted, Request: req}, nil
}

func (s *Service) SubmitEdit(ctx context.Context, p Principal, in Intent) (IntentResult, error) {
	desc, err := s.registry.Lookup(in.ApprovableType)
	if err != nil {
		return IntentResult{}, err
	}
	if in.ApprovableID == "" {
		return IntentResult{}, ValidationError("approvable id is required", nil)
	}

	if s.CanBypass(p) {
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			if err := s.records.Update(ctx, desc.Type, in.ApprovableID, desc.FilterWritable(in.Data)); err != nil {
				return err
			}
			return s.reconcile(ctx, desc, in.ApprovableID, in.Relationships, attrs.OrEmpty(in.Data), nil)
		})
		if err != nil {
			return IntentResult{}, err
		}
		s.metrics.IntentHandled(RequestEdit, OutcomePassedThrough)
		return IntentResult{Outcome: OutcomePassedThrough, RecordID: in.ApprovableID}, nil
	}

	current, err := s.records.Find(ctx, desc.Type, in.ApprovableID)
	if err != nil {
		return IntentResult{}, err
	}
	if len(changedKeys(in.Data, current)) == 0 && in.Relationships.Len() == 0 {
		s.metrics.IntentHandled(RequestEdit, OutcomeNoChanges)
		return IntentResult{Outcome: OutcomeNoChanges, RecordID: in.ApprovableID}, nil
	}

	req := s.newRequest(p, RequestEdit, desc, in)
	req.Attributes = attrs.OrEmpty(in.Data).Clone()
	req.OriginalData = current.Clone()
	if err := s.createTargeted(ctx, p, desc, req); err != nil {
		return IntentResult{}, err
	}
	s.afterSubmit(ctx, p, *req, Notification{
		Title:    "Approval Requested",
		Body:     "Your changes will be applied after approval.",
		Severity: SeveritySuccess,
	})
	return IntentResult{Outcome: OutcomeSubmitted, Request: req}, nil
}

func (s *Service) SubmitDelete(ctx context.Context, p Principal, in Intent) (IntentResult, error) {
	desc, err := s.registry.Lookup(in.ApprovableType)
	if err != nil {
		return IntentResult{}, err
	}
	if in.ApprovableID == "" {
		return IntentResult{}, ValidationError("approvable id is required", nil)
	}

	if s.CanBypass(p) {
		if err := s.records.Delete(ctx, desc.Type, in.ApprovableID); err != nil {
			return IntentResult{}, err
		}
		s.metrics.IntentHandled(RequestDelete, OutcomePassedThrough)
		return IntentResult{Outcome: OutcomePassedThrough, RecordID: in.ApprovableID}, nil
	}

	current, err := s.records.Find(ctx, desc.Type, in.ApprovableID)
	if err != nil {
		return IntentResult{}, err
	}

	req := s.newRequest(p, RequestDelete, desc, in)
	req.OriginalData = current.Clone()
	if err := s.createTargeted(ctx, p, desc, req); err != nil {
		return IntentResult{}, err
	}
	s.afterSubmit(ctx, p, *req, Notification{
		Title:    "Approval Requested",
		Body:     "Your request has been submitted for approval.",
		Severity: SeveritySuccess,
	})
	return IntentResult{Outcome: OutcomeSubmitted, Request: req}, nil
}

// createTargeted inserts an edit or delete request while holding the target
// lock, after checking that no other request is pending for the target.
func (s *Service) createTargeted(ctx context.Context, p Principal, desc Descriptor, req *Request) error {
	target := req.TargetID()
	if s.locker != nil {
		unlock, ok, err := s.locker.TryLock(ctx, lockKey(req.ApprovableType, target), s.cfg.LockTTL)
		if err != nil {
			return fmt.Errorf("lock approval target: %w", err)
		}
		if !ok {
			return s.conflict(ctx, p, desc, req)
		}
		defer unlock()
	}

	pending, err := s.requests.HasPending(ctx, req.ApprovableType, target)
	if err != nil {
		return fmt.Errorf("check pending approval: %w", err)
	}
	if pending {
		return s.conflict(ctx, p, desc, req)
	}
	if err := s.requests.Create(ctx, req); err != nil {
		if errors.Is(err, ErrConflict) {
			return s.conflict(ctx, p, desc, req)
		}
		return fmt.Errorf("create approval request: %w", err)
	}
	return nil
}

func (s *Service) conflict(ctx context.Context, p Principal, desc Descriptor, req *Request) error {
	s.metrics.ConflictRejected(req.Type)
	s.notifier.Notify(ctx, Notification{
		Title:       "Pending Approval Exists",
		Body:        fmt.Sprintf("%s already has changes awaiting approval.", desc.DisplayName()),
		Severity:    SeverityWarning,
		RecipientID: principalID(p),
	})
	return ConflictError(req.ApprovableType, req.TargetID())
}

func (s *Service) newRequest(p Principal, kind RequestType, desc Descriptor, in Intent) *Request {
	now := s.now()
	req := &Request{
		ID:             s.newID(),
		Type:           kind,
		RequesterID:    principalID(p),
		ApprovableType: desc.Type,
		Attributes:     attrs.New(),
		Relationships:  attrs.OrEmpty(in.Relationships).Clone(),
		OriginalData:   attrs.New(),
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if kind != RequestCreate {
		id := in.ApprovableID
		req.ApprovableID = &id
	}
	resource := in.ResourceClass
	if resource == "" {
		resource = desc.Resource
	}
	if resource != "" {
		req.ResourceClass = &resource
	}
	return req
}

func (s *Service) afterSubmit(ctx context.Context, p Principal, req Request, n Notification) {
	n.RecipientID = principalID(p)
	n.RequestID = req.ID
	s.notifier.Notify(ctx, n)
	s.indexer.IndexRequest(req)
	s.metrics.IntentHandled(req.Type, OutcomeSubmitted)
	s.log.Info().
		Str("request_id", req.ID).
		Str("request_type", string(req.Type)).
		Str("approvable_type", req.ApprovableType).
		Str("requester_id", req.RequesterID).
		Msg("approval request submitted")
}

// changedKeys is the cheap pre-check run before capturing an edit: a key is
// changed when the record lacks it or holds a different raw value. It does
// not apply the lenient comparison used for reviewer diffs.
func changedKeys(submitted, current *attrs.Map) []string {
	var changed []string
	for _, key := range submitted.Keys() {
		incoming, _ := submitted.Get(key)
		existing, ok := current.Get(key)
		if !ok || !reflect.DeepEqual(incoming, existing) {
			changed = append(changed, key)
		}
	}
	return changed
}

func lockKey(approvableType, approvableID string) string {
	return "approval:target:" + approvableType + ":" + approvableID
}
