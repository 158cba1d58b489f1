package http

import (
	"net/http"

	"github.com/opspilot-io/opspilot/internal/adapter/ws"
	"github.com/opspilot-io/opspilot/internal/port/auditstore"
	"github.com/opspilot-io/opspilot/internal/port/retriever"
	"github.com/opspilot-io/opspilot/internal/service"
)

const maxSearchTopK = 50

// Handlers bundles the HTTP handlers and their service dependencies.
type Handlers struct {
	agent       *service.AgentService
	approvals   *service.ApprovalService
	audits      auditstore.Store
	retriever   retriever.Retriever
	hub         *ws.Hub
	defaultTopK int
}

// NewHandlers creates the handler set.
func NewHandlers(
	agent *service.AgentService,
	approvals *service.ApprovalService,
	audits auditstore.Store,
	ret retriever.Retriever,
	hub *ws.Hub,
	defaultTopK int,
) *Handlers {
	return &Handlers{
		agent:       agent,
		approvals:   approvals,
		audits:      audits,
		retriever:   ret,
		hub:         hub,
		defaultTopK: defaultTopK,
	}
}

// RunAgent starts one analysis run and blocks until it completes or
// suspends for approval.
func (h *Handlers) RunAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[service.RunRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.UserInput, "user_input") {
		return
	}

	result, err := h.agent.Run(r.Context(), req)
	if err != nil {
		writeDomainError(w, err, "run failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type resolveRequest struct {
	RunID    string `json:"run_id"`
	Approver string `json:"approver"`
	Note     string `json:"note,omitempty"`
}

// ApproveRun resolves a pending approval as approved and resumes the run.
func (h *Handlers) ApproveRun(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[resolveRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.RunID, "run_id") || !requireField(w, req.Approver, "approver") {
		return
	}

	result, err := h.approvals.Approve(r.Context(), req.RunID, req.Approver, req.Note)
	if err != nil {
		writeDomainError(w, err, "no pending approval for run "+req.RunID)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// RejectRun resolves a pending approval as rejected.
func (h *Handlers) RejectRun(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[resolveRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.RunID, "run_id") || !requireField(w, req.Approver, "approver") {
		return
	}

	result, err := h.approvals.Reject(r.Context(), req.RunID, req.Approver, req.Note)
	if err != nil {
		writeDomainError(w, err, "no pending approval for run "+req.RunID)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ApprovalStatus returns the approval record for a run.
func (h *Handlers) ApprovalStatus(w http.ResponseWriter, r *http.Request) {
	runID := urlParam(r, "run_id")

	rec, err := h.approvals.Status(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err, "no approval record for run "+runID)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListPendingApprovals returns all unresolved approvals, oldest first.
func (h *Handlers) ListPendingApprovals(w http.ResponseWriter, r *http.Request) {
	pending, err := h.approvals.ListPending(r.Context())
	if err != nil {
		writeDomainError(w, err, "list pending approvals")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending": pending,
		"count":   len(pending),
	})
}

// GetAudit returns the most recent audit record for a run.
func (h *Handlers) GetAudit(w http.ResponseWriter, r *http.Request) {
	runID := urlParam(r, "run_id")

	rec, err := h.audits.GetByRun(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err, "no audit record for run "+runID)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// GetAuditTrail returns every audit record for a run, oldest first. A run
// suspended and later resumed has one record per pass.
func (h *Handlers) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	runID := urlParam(r, "run_id")

	records, err := h.audits.ListByRun(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err, "no audit records for run "+runID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  runID,
		"records": records,
	})
}

type searchRequest struct {
	Query      string   `json:"query"`
	Collection string   `json:"collection"`
	TopK       int      `json:"top_k,omitempty"`
	FilterTags []string `json:"filter_tags,omitempty"`
}

// SearchKnowledge runs a direct search against one knowledge collection.
func (h *Handlers) SearchKnowledge(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[searchRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Query, "query") || !requireField(w, req.Collection, "collection") {
		return
	}
	if req.TopK <= 0 {
		req.TopK = h.defaultTopK
	}
	if req.TopK > maxSearchTopK {
		req.TopK = maxSearchTopK
	}

	results, err := h.retriever.Search(r.Context(), req.Query, req.Collection, req.TopK, req.FilterTags)
	if err != nil {
		writeError(w, http.StatusBadGateway, "knowledge search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"count":   len(results),
	})
}

// Health reports liveness.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"ws_connections": h.hub.ConnectionCount(),
	})
}
