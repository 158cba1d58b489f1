package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	r.Get("/ws", h.hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		r.Post("/agent/run", h.RunAgent)

		r.Post("/approval/approve", h.ApproveRun)
		r.Post("/approval/reject", h.RejectRun)
		r.Get("/approval/status/{run_id}", h.ApprovalStatus)
		r.Get("/approval/pending", h.ListPendingApprovals)

		r.Get("/audit/{run_id}", h.GetAudit)
		r.Get("/audit/{run_id}/trail", h.GetAuditTrail)

		r.Post("/knowledge/search", h.SearchKnowledge)
	})
}
