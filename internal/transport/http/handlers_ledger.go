package httptransport

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"veritas/internal/domain"
	"veritas/internal/ledger"
	"veritas/pkg/platform/httputil"
	"veritas/pkg/requestcontext"
)

//go:generate mockgen -source=handlers_ledger.go -destination=mocks/ledger_mocks.go -package=mocks LedgerService

// LedgerService is the read surface of the audit chain.
type LedgerService interface {
	Read(ctx context.Context, limit int) ([]ledger.BlockView, error)
	Verify(ctx context.Context) (domain.VerifyReport, error)
}

// LedgerHandler serves chain inspection endpoints.
type LedgerHandler struct {
	ledger    LedgerService
	logger    *slog.Logger
	readLimit int
}

func NewLedgerHandler(svc LedgerService, logger *slog.Logger, readLimit int) *LedgerHandler {
	return &LedgerHandler{ledger: svc, logger: logger, readLimit: readLimit}
}

// Register mounts the ledger endpoints behind the verifier. Chain reads
// require identity but are not scored, the same treatment as the log view.
func (h *LedgerHandler) Register(r chi.Router, verifier Verifier) {
	r.Group(func(g chi.Router) {
		g.Use(verifier.VerifyIdentityOnly)
		g.Get("/api/ledger/chain", h.HandleChain)
		g.Get("/api/ledger/verify", h.HandleVerify)
	})
}

// HandleChain returns recent blocks, newest first, payloads decrypted
// where the data key still fits.
func (h *LedgerHandler) HandleChain(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	views, err := h.ledger.Read(ctx, h.readLimit)
	if err != nil {
		h.logger.ErrorContext(ctx, "chain read failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if views == nil {
		views = []ledger.BlockView{}
	}
	httputil.WriteJSON(w, http.StatusOK, views)
}

// KeyHandler exposes the ledger's signing identity so auditors can check
// block signatures offline.
type KeyHandler struct {
	publicKeyPEM string
}

func NewKeyHandler(publicKeyPEM string) *KeyHandler {
	return &KeyHandler{publicKeyPEM: publicKeyPEM}
}

// Register mounts the key endpoint behind the verifier.
func (h *KeyHandler) Register(r chi.Router, verifier Verifier) {
	r.Group(func(g chi.Router) {
		g.Use(verifier.VerifyIdentityOnly)
		g.Get("/api/ledger/public-key", h.HandlePublicKey)
	})
}

type publicKeyResponse struct {
	PublicKey string `json:"public_key"`
	Algorithm string `json:"algorithm"`
}

func (h *KeyHandler) HandlePublicKey(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, publicKeyResponse{
		PublicKey: h.publicKeyPEM,
		Algorithm: "RSA-2048 PKCS1v15 SHA-256",
	})
}

// HandleVerify runs the full-chain integrity walk and reports the verdict.
func (h *LedgerHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	report, err := h.ledger.Verify(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "chain verification failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if !report.Valid {
		h.logger.WarnContext(ctx, "chain integrity broken",
			"request_id", requestcontext.RequestID(ctx),
			"broken_index", report.BrokenIndex,
			"detail", report.Error,
		)
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}
