package approval

import (
	"context"
	"fmt"
	"sort"

	"approvaldesk/internal/diff"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func (s *Service) List(ctx context.Context, p Principal, filter ListFilter) ([]Request, int, error) {
	if !s.CanView(p) {
		return nil, 0, ForbiddenError(s.cfg.Permissions.View)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, ValidationError("unknown status", map[string]any{"status": filter.Status})
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, 0, ValidationError("unknown request type", map[string]any{"requestType": filter.Type})
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultListLimit
	}
	if filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	items, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("list approval requests: %w", err)
	}
	return items, total, nil
}

func (s *Service) Get(ctx context.Context, p Principal, id string) (Request, error) {
	if !s.CanView(p) {
		return Request{}, ForbiddenError(s.cfg.Permissions.View)
	}
	return s.requests.Get(ctx, id)
}

// PendingOrLatest returns the pending request for a record, or its most
// recent one, or nil.
func (s *Service) PendingOrLatest(ctx context.Context, p Principal, approvableType, approvableID string) (*Request, error) {
	if !s.CanView(p) {
		return nil, ForbiddenError(s.cfg.Permissions.View)
	}
	return s.requests.FindPendingOrLatest(ctx, approvableType, approvableID)
}

// RequestDiff is the reviewer view of one request.
type RequestDiff struct {
	RequestID string            `json:"requestId"`
	Resource  string            `json:"resource,omitempty"`
	Hints     map[string]string `json:"hints,omitempty"`
	Fields    []diff.FieldDiff  `json:"fields"`
}

// Diff projects the captured snapshot against the proposed attributes. An
// unregistered type fails only this request.
func (s *Service) Diff(ctx context.Context, p Principal, id string) (RequestDiff, error) {
	req, err := s.Get(ctx, p, id)
	if err != nil {
		return RequestDiff{}, err
	}
	desc, err := s.registry.Resolve(req)
	if err != nil {
		return RequestDiff{}, err
	}
	return RequestDiff{
		RequestID: req.ID,
		Resource:  desc.Resource,
		Hints:     desc.TypeHints,
		Fields:    diff.Project(req.OriginalData, req.Attributes, desc.TypeHints, diff.WithDebug(s.cfg.Debug)),
	}, nil
}

// Archive soft-deletes a decided request, snapshotting it first when an
// archiver is configured.
func (s *Service) Archive(ctx context.Context, p Principal, id string) error {
	if !s.CanApprove(p) {
		return ForbiddenError(s.cfg.Permissions.Approve)
	}
	req, err := s.requests.Get(ctx, id)
	if err != nil {
		return err
	}
	if !req.Status.Terminal() {
		return InvalidStateError(req.ID, req.Status)
	}
	if s.archiver != nil {
		if err := s.archiver.ArchiveRequest(ctx, req); err != nil {
			return fmt.Errorf("snapshot approval request: %w", err)
		}
	}
	if err := s.requests.Archive(ctx, req.ID, s.now()); err != nil {
		return err
	}
	s.indexer.RemoveRequest(req.ID)
	s.log.Info().Str("request_id", req.ID).Msg("approval request archived")
	return nil
}

// ApprovableTypes lists every type seen in requests plus the registered ones.
func (s *Service) ApprovableTypes(ctx context.Context, p Principal) ([]string, error) {
	if !s.CanView(p) {
		return nil, ForbiddenError(s.cfg.Permissions.View)
	}
	stored, err := s.requests.ApprovableTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list approvable types: %w", err)
	}
	seen := map[string]struct{}{}
	out := []string{}
	for _, t := range append(stored, s.registry.Types()...) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}
