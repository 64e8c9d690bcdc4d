package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"approvaldesk/internal/attrs"
)

// ApproveInput carries reviewer edits. Overrides win over the captured
// attributes; Relations, when set, replace the declared relation map.
type ApproveInput struct {
	Overrides *attrs.Map
	Relations []RelationSpec
}

func (s *Service) Approve(ctx context.Context, p Principal, id string, in ApproveInput) (Request, error) {
	if !s.CanApprove(p) {
		return Request{}, ForbiddenError(s.cfg.Permissions.Approve)
	}

	var decided Request
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		req, err := s.requests.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !req.IsPending() {
			return InvalidStateError(req.ID, req.Status)
		}
		desc, err := s.registry.Resolve(req)
		if err != nil {
			return err
		}

		merged := attrs.OrEmpty(req.Attributes).Merge(in.Overrides)
		data := desc.FilterWritable(merged)
		if desc.Transformer != nil {
			data, err = desc.Transformer.BeforeApprovalSave(ctx, data, req)
			if err != nil {
				return fmt.Errorf("transform attributes: %w", err)
			}
			data = attrs.OrEmpty(data)
		}

		approvableID, err := s.apply(ctx, desc, req, data, merged, in.Relations)
		if err != nil {
			return err
		}

		decision := Decision{
			RequestID:   req.ID,
			Status:      StatusApproved,
			DecidedByID: principalID(p),
			DecidedAt:   s.now(),
		}
		if req.Type == RequestCreate {
			decision.ApprovableID = approvableID
		}
		if err := s.requests.Finalize(ctx, decision); err != nil {
			return err
		}
		decided = applyDecision(req, decision)
		return nil
	})
	if err != nil {
		return Request{}, err
	}

	s.afterDecision(ctx, decided, Notification{
		Title:    "Approval Request Approved",
		Body:     fmt.Sprintf("Your %s request was approved.", strings.ToLower(decided.Type.Label())),
		Severity: SeveritySuccess,
	})
	return decided, nil
}

// apply performs the approved mutation and returns the affected record id.
// A missing edit or delete target is skipped so the request still finalizes.
func (s *Service) apply(ctx context.Context, desc Descriptor, req Request, data, merged *attrs.Map, explicit []RelationSpec) (string, error) {
	hooks := desc.Hooks
	if hooks == nil {
		hooks = NopHooks{}
	}

	switch req.Type {
	case RequestCreate:
		if err := hooks.BeforeCreate(ctx, data); err != nil {
			return "", err
		}
		recordID, err := s.records.Create(ctx, desc.Type, data)
		if err != nil {
			return "", fmt.Errorf("create record: %w", err)
		}
		if err := s.reconcile(ctx, desc, recordID, req.Relationships, merged, explicit); err != nil {
			return "", err
		}
		if err := hooks.AfterCreate(ctx, recordID, data); err != nil {
			return "", err
		}
		return recordID, nil

	case RequestEdit:
		recordID := req.TargetID()
		if found, err := s.targetExists(ctx, desc, req); err != nil || !found {
			return recordID, err
		}
		if err := hooks.BeforeUpdate(ctx, recordID, data); err != nil {
			return "", err
		}
		if err := s.records.Update(ctx, desc.Type, recordID, data); err != nil {
			return "", fmt.Errorf("update record: %w", err)
		}
		if err := s.reconcile(ctx, desc, recordID, req.Relationships, merged, explicit); err != nil {
			return "", err
		}
		if err := hooks.AfterUpdate(ctx, recordID, data); err != nil {
			return "", err
		}
		return recordID, nil

	case RequestDelete:
		recordID := req.TargetID()
		if found, err := s.targetExists(ctx, desc, req); err != nil || !found {
			return recordID, err
		}
		if err := hooks.BeforeDelete(ctx, recordID); err != nil {
			return "", err
		}
		if err := s.records.Delete(ctx, desc.Type, recordID); err != nil {
			return "", fmt.Errorf("delete record: %w", err)
		}
		if err := hooks.AfterDelete(ctx, recordID); err != nil {
			return "", err
		}
		return recordID, nil
	}
	return "", ValidationError("unknown request type", map[string]any{"requestType": req.Type})
}

func (s *Service) targetExists(ctx context.Context, desc Descriptor, req Request) (bool, error) {
	_, err := s.records.Find(ctx, desc.Type, req.TargetID())
	if errors.Is(err, ErrNotFound) {
		s.log.Warn().
			Str("request_id", req.ID).
			Str("approvable_type", req.ApprovableType).
			Str("approvable_id", req.TargetID()).
			Msg("approval target missing, finalizing without mutation")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find record: %w", err)
	}
	return true, nil
}

func (s *Service) Reject(ctx context.Context, p Principal, id, reason string) (Request, error) {
	if !s.CanReject(p) {
		return Request{}, ForbiddenError(s.cfg.Permissions.Reject)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Request{}, ValidationError("a reason is required to reject a request", map[string]any{"field": "reason"})
	}
	if utf8.RuneCountInString(reason) > maxReasonLength {
		return Request{}, ValidationError(
			fmt.Sprintf("reason must be at most %d characters", maxReasonLength),
			map[string]any{"field": "reason", "max": maxReasonLength})
	}

	var decided Request
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		req, err := s.requests.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !req.IsPending() {
			return InvalidStateError(req.ID, req.Status)
		}
		decision := Decision{
			RequestID:   req.ID,
			Status:      StatusRejected,
			DecidedByID: principalID(p),
			Reason:      reason,
			DecidedAt:   s.now(),
		}
		if err := s.requests.Finalize(ctx, decision); err != nil {
			return err
		}
		decided = applyDecision(req, decision)
		return nil
	})
	if err != nil {
		return Request{}, err
	}

	s.afterDecision(ctx, decided, Notification{
		Title:    "Approval Request Rejected",
		Body:     reason,
		Severity: SeverityDanger,
	})
	return decided, nil
}

func applyDecision(req Request, d Decision) Request {
	req.Status = d.Status
	decidedBy := d.DecidedByID
	req.DecidedByID = &decidedBy
	decidedAt := d.DecidedAt
	req.DecidedAt = &decidedAt
	req.UpdatedAt = d.DecidedAt
	if d.Reason != "" {
		reason := d.Reason
		req.DecidedReason = &reason
	}
	if d.ApprovableID != "" && req.ApprovableID == nil {
		approvableID := d.ApprovableID
		req.ApprovableID = &approvableID
	}
	return req
}

func (s *Service) afterDecision(ctx context.Context, req Request, n Notification) {
	n.RecipientID = req.RequesterID
	n.RequestID = req.ID
	s.notifier.Notify(ctx, n)
	s.indexer.IndexRequest(req)
	s.metrics.RequestDecided(req.Type, req.Status)
	s.log.Info().
		Str("request_id", req.ID).
		Str("status", string(req.Status)).
		Str("decided_by", req.DeciderID()).
		Msg("approval request decided")
}
