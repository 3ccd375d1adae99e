// Package httptransport is the thin HTTP layer over the gateway services.
// Handlers translate between wire shapes and domain calls; access control
// lives in the verification pipeline middleware.
package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"veritas/pkg/platform/httputil"
)

// Registrar mounts a handler's routes on the router.
type Registrar interface {
	Register(r chi.Router)
}

// NewRouter assembles the full route table. The resource and ledger
// handlers are wired separately because their routes mount behind the
// verifier middleware.
func NewRouter(verifier Verifier, resources *ResourceHandler, chain *LedgerHandler, keys *KeyHandler, handlers ...Registrar) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(RequestID)
	r.Use(ClientIP)
	r.Use(SecurityHeaders)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	for _, h := range handlers {
		h.Register(r)
	}
	resources.Register(r, verifier)
	chain.Register(r, verifier)
	keys.Register(r, verifier)

	return r
}
