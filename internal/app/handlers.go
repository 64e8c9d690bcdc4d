package app

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"approvaldesk/internal/approval"
	"approvaldesk/internal/attrs"
	"approvaldesk/internal/search"
)

// requestView adds request-type presentation to a stored request.
type requestView struct {
	approval.Request
	TypeLabel       string `json:"typeLabel"`
	TypeColor       string `json:"typeColor"`
	TypeIcon        string `json:"typeIcon"`
	ApprovableLabel string `json:"approvableLabel"`
}

func (s *HTTPServer) view(req approval.Request) requestView {
	label := req.ApprovableType
	if desc, err := s.service.Approvals().Registry().Resolve(req); err == nil {
		label = desc.DisplayName()
	}
	return requestView{
		Request:         req,
		TypeLabel:       req.Type.Label(),
		TypeColor:       req.Type.Color(),
		TypeIcon:        req.Type.Icon(),
		ApprovableLabel: label,
	}
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r)
	svc := s.service.Approvals()
	writeJSON(w, http.StatusOK, map[string]any{
		"userId": p.ID(),
		"name":   p.Claims.Name,
		"role":   p.Role(),
		"can": map[string]bool{
			"view":    svc.CanView(p),
			"approve": svc.CanApprove(p),
			"reject":  svc.CanReject(p),
			"bypass":  svc.CanBypass(p),
		},
	})
}

type intentBody struct {
	Data          *attrs.Map `json:"data"`
	Relationships *attrs.Map `json:"relationships"`
	Resource      string     `json:"resource"`
}

func (s *HTTPServer) readIntent(r *http.Request, withBody bool) (approval.Intent, error) {
	in := approval.Intent{
		ApprovableType: chi.URLParam(r, "type"),
		ApprovableID:   chi.URLParam(r, "id"),
	}
	if !withBody {
		return in, nil
	}
	var body intentBody
	if err := decodeBody(r, &body); err != nil {
		return approval.Intent{}, badRequest(err.Error(), nil)
	}
	in.Data = body.Data
	in.Relationships = body.Relationships
	in.ResourceClass = body.Resource
	return in, nil
}

func (s *HTTPServer) writeIntentResult(w http.ResponseWriter, res approval.IntentResult, passedStatus int) {
	payload := map[string]any{"outcome": res.Outcome}
	if res.RecordID != "" {
		payload["recordId"] = res.RecordID
	}
	switch res.Outcome {
	case approval.OutcomeSubmitted:
		payload["request"] = s.view(*res.Request)
		writeJSON(w, http.StatusAccepted, payload)
	case approval.OutcomePassedThrough:
		writeJSON(w, passedStatus, payload)
	default:
		writeJSON(w, http.StatusOK, payload)
	}
}

func (s *HTTPServer) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	in, err := s.readIntent(r, true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.service.Approvals().SubmitCreate(r.Context(), principalFrom(r), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeIntentResult(w, res, http.StatusCreated)
}

func (s *HTTPServer) handleEditRecord(w http.ResponseWriter, r *http.Request) {
	in, err := s.readIntent(r, true)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.service.Approvals().SubmitEdit(r.Context(), principalFrom(r), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeIntentResult(w, res, http.StatusOK)
}

func (s *HTTPServer) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	in, err := s.readIntent(r, false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.service.Approvals().SubmitDelete(r.Context(), principalFrom(r), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeIntentResult(w, res, http.StatusOK)
}

func (s *HTTPServer) handleRecordApproval(w http.ResponseWriter, r *http.Request) {
	req, err := s.service.Approvals().PendingOrLatest(r.Context(), principalFrom(r), chi.URLParam(r, "type"), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req == nil {
		writeJSON(w, http.StatusOK, map[string]any{"request": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"request": s.view(*req)})
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, badRequest(name+" must be a non-negative integer", map[string]any{"param": name})
	}
	return v, nil
}

// listFilter reads queue filters. The status defaults to pending; "all"
// lifts the status filter.
func listFilter(r *http.Request) (approval.ListFilter, error) {
	q := r.URL.Query()
	f := approval.ListFilter{
		Status:         approval.StatusPending,
		Type:           approval.RequestType(q.Get("requestType")),
		ApprovableType: q.Get("approvableType"),
		ApprovableID:   q.Get("approvableId"),
		RequesterID:    q.Get("requesterId"),
	}
	switch status := strings.TrimSpace(q.Get("status")); status {
	case "":
	case "all":
		f.Status = ""
	default:
		f.Status = approval.Status(status)
	}
	if raw := q.Get("includeArchived"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			return approval.ListFilter{}, badRequest("includeArchived must be a boolean", map[string]any{"param": "includeArchived"})
		}
		f.IncludeDeleted = include
	}
	var err error
	if f.Limit, err = queryInt(r, "limit", 0); err != nil {
		return approval.ListFilter{}, err
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		return approval.ListFilter{}, err
	}
	return f, nil
}

func (s *HTTPServer) handleListRequests(w http.ResponseWriter, r *http.Request) {
	filter, err := listFilter(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	items, total, err := s.service.Approvals().List(r.Context(), principalFrom(r), filter)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	views := make([]requestView, 0, len(items))
	for _, item := range items {
		views = append(views, s.view(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items":  views,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (s *HTTPServer) handleSearchRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(r, "limit", 20)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp, err := s.service.Search(r.Context(), principalFrom(r), search.Query{
		Text:           strings.TrimSpace(q.Get("q")),
		Status:         q.Get("status"),
		RequestType:    q.Get("requestType"),
		ApprovableType: q.Get("approvableType"),
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.SearchServed(resp.Backend)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleApprovableTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.service.Approvals().ApprovableTypes(r.Context(), principalFrom(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	registry := s.service.Approvals().Registry()
	out := make([]map[string]string, 0, len(types))
	for _, t := range types {
		label := t
		if desc, err := registry.Lookup(t); err == nil {
			label = desc.DisplayName()
		}
		out = append(out, map[string]string{"type": t, "label": label})
	}
	writeJSON(w, http.StatusOK, map[string]any{"types": out})
}

func (s *HTTPServer) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.service.Approvals().Get(r.Context(), principalFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(req))
}

func (s *HTTPServer) handleRequestDiff(w http.ResponseWriter, r *http.Request) {
	d, err := s.service.Approvals().Diff(r.Context(), principalFrom(r), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type approveBody struct {
	Overrides *attrs.Map                             `json:"overrides"`
	Relations map[string]approval.RelationDefinition `json:"relations"`
}

func (s *HTTPServer) handleApprove(w http.ResponseWriter, r *http.Request) {
	var body approveBody
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, badRequest(err.Error(), nil))
		return
	}
	in := approval.ApproveInput{Overrides: body.Overrides}
	if len(body.Relations) > 0 {
		specs, err := approval.SpecsFromDefinitions(body.Relations)
		if err != nil {
			s.fail(w, r, badRequest(err.Error(), map[string]any{"field": "relations"}))
			return
		}
		in.Relations = specs
	}
	req, err := s.service.Approvals().Approve(r.Context(), principalFrom(r), chi.URLParam(r, "id"), in)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(req))
}

func (s *HTTPServer) handleReject(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &body); err != nil {
		s.fail(w, r, badRequest(err.Error(), nil))
		return
	}
	req, err := s.service.Approvals().Reject(r.Context(), principalFrom(r), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(req))
}

func (s *HTTPServer) handleArchive(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Approvals().Archive(r.Context(), principalFrom(r), chi.URLParam(r, "id")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	entries, err := s.service.Notifications(r.Context(), principalFrom(r), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": entries})
}

func (s *HTTPServer) handleClearNotifications(w http.ResponseWriter, r *http.Request) {
	if err := s.service.ClearNotifications(r.Context(), principalFrom(r)); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
