// Package search indexes approval requests for the review queue. Meilisearch
// serves queries when reachable; the request table answers otherwise.
package search

import (
	"fmt"
	"strings"

	"approvaldesk/internal/approval"
	"approvaldesk/internal/diff"
)

// Result is one review-queue hit.
type Result struct {
	ID             string `json:"id"`
	RequestType    string `json:"requestType"`
	Status         string `json:"status"`
	ApprovableType string `json:"approvableType"`
	ApprovableID   string `json:"approvableId,omitempty"`
	RequesterID    string `json:"requesterId"`
	Title          string `json:"title"`
	Snippet        string `json:"snippet"`
}

// Query describes a search request. Empty filters match everything.
type Query struct {
	Text           string
	Status         string
	RequestType    string
	ApprovableType string
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Backends reported in Response.Backend.
const (
	BackendMeili    = "meilisearch"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

// RequestRecord is the document stored in the index for one request.
type RequestRecord struct {
	ID             string `json:"id"`
	RequestType    string `json:"requestType"`
	Status         string `json:"status"`
	ApprovableType string `json:"approvableType"`
	ApprovableID   string `json:"approvableId"`
	RequesterID    string `json:"requesterId"`
	Title          string `json:"title"`
	Payload        string `json:"payload"`
	CreatedAt      int64  `json:"createdAt"`
}

// RecordFromRequest flattens a request into its indexed form.
func RecordFromRequest(req approval.Request) RequestRecord {
	return RequestRecord{
		ID:             req.ID,
		RequestType:    string(req.Type),
		Status:         string(req.Status),
		ApprovableType: req.ApprovableType,
		ApprovableID:   req.TargetID(),
		RequesterID:    req.RequesterID,
		Title:          title(req),
		Payload:        payloadText(req),
		CreatedAt:      req.CreatedAt.Unix(),
	}
}

func resultFromRequest(req approval.Request) Result {
	return Result{
		ID:             req.ID,
		RequestType:    string(req.Type),
		Status:         string(req.Status),
		ApprovableType: req.ApprovableType,
		ApprovableID:   req.TargetID(),
		RequesterID:    req.RequesterID,
		Title:          title(req),
		Snippet:        snippet(payloadText(req), 160),
	}
}

func title(req approval.Request) string {
	if id := req.TargetID(); id != "" {
		return fmt.Sprintf("%s %s #%s", req.Type.Label(), req.ApprovableType, id)
	}
	return fmt.Sprintf("%s %s", req.Type.Label(), req.ApprovableType)
}

// payloadText renders proposed values, or the snapshot for deletes, as
// "key: value" lines.
func payloadText(req approval.Request) string {
	source := req.Attributes
	if source.Len() == 0 {
		source = req.OriginalData
	}
	var b strings.Builder
	for _, key := range source.Keys() {
		v, _ := source.Get(key)
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(diff.FormatValue(v, ""))
	}
	return b.String()
}

func snippet(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "…"
}
