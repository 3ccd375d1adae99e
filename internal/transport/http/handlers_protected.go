package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"veritas/internal/domain"
	dErrors "veritas/pkg/domain-errors"
	"veritas/pkg/platform/httputil"
	"veritas/pkg/requestcontext"
)

// Verifier is the middleware pair produced by the verification pipeline.
type Verifier interface {
	Verify(next http.Handler) http.Handler
	VerifyIdentityOnly(next http.Handler) http.Handler
}

// ResourceHandler serves the protected demo resources. All access control
// happens in the pipeline middleware; the extra role checks here mirror
// per-resource restrictions that are stricter than the zone table.
type ResourceHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

func NewResourceHandler(ledgerSvc LedgerService, logger *slog.Logger) *ResourceHandler {
	return &ResourceHandler{ledger: ledgerSvc, logger: logger}
}

// Register mounts the protected routes behind the verifier.
func (h *ResourceHandler) Register(r chi.Router, verifier Verifier) {
	r.Group(func(g chi.Router) {
		g.Use(verifier.Verify)
		g.Get("/api/secure/public-resource", h.HandlePublicResource)
		g.Get("/api/secure/confidential-resource", h.HandleConfidentialResource)
		g.Get("/api/secure/admin-panel", h.HandleAdminPanel)
	})
	// Read-only monitoring bypasses scoring so operators can always see
	// the audit trail.
	r.Group(func(g chi.Router) {
		g.Use(verifier.VerifyIdentityOnly)
		g.Get("/api/secure/logs", h.HandleLogs)
	})
}

type resourceResponse struct {
	Message   string `json:"message"`
	RiskLevel string `json:"riskLevel"`
	Data      string `json:"data,omitempty"`
}

func (h *ResourceHandler) HandlePublicResource(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, resourceResponse{
		Message:   "Access Granted to Public Resource",
		RiskLevel: requestcontext.RiskLevel(r.Context()),
	})
}

func (h *ResourceHandler) HandleConfidentialResource(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if requestcontext.Role(ctx) == string(domain.RoleGuest) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "Access Denied: Insufficient Role for Confidential Data"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resourceResponse{
		Message:   "Access Granted to Confidential Resource",
		RiskLevel: requestcontext.RiskLevel(ctx),
		Data:      "TOP SECRET DATA: 42",
	})
}

func (h *ResourceHandler) HandleAdminPanel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if requestcontext.Role(ctx) != string(domain.RoleAdmin) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "Access Denied: Administrators Only"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resourceResponse{
		Message:   "Welcome to Admin Panel",
		RiskLevel: requestcontext.RiskLevel(ctx),
	})
}

// HandleLogs returns the recent audit trail. Identity is required but the
// read itself is not scored or ledgered.
func (h *ResourceHandler) HandleLogs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	views, err := h.ledger.Read(ctx, 50)
	if err != nil {
		h.logger.ErrorContext(ctx, "log read failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	// Only decrypted events are useful as logs; undecodable payloads stay
	// visible through the chain endpoint.
	events := make([]domain.AuditEvent, 0, len(views))
	for _, view := range views {
		if view.Data == nil {
			continue
		}
		var event domain.AuditEvent
		if err := json.Unmarshal(view.Data, &event); err != nil {
			continue
		}
		events = append(events, event)
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}
