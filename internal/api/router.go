// Package api exposes the scheduling engine over HTTP for the console.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"daypartd/internal/engine"
	"daypartd/internal/ledger"
	"daypartd/internal/publish"
	"daypartd/internal/store"
)

const sessionHeader = "X-Session-ID"

// Handler bundles the engine pieces behind the HTTP surface.
type Handler struct {
	engine      *engine.Service
	ledgers     *ledger.Manager
	coordinator *publish.Coordinator
	store       *store.Store
	validate    *validator.Validate
	logger      *zerolog.Logger
}

// NewHandler wires the HTTP layer.
func NewHandler(
	eng *engine.Service,
	ledgers *ledger.Manager,
	coordinator *publish.Coordinator,
	st *store.Store,
	logger *zerolog.Logger,
) *Handler {
	return &Handler{
		engine:      eng,
		ledgers:     ledgers,
		coordinator: coordinator,
		store:       st,
		validate:    validator.New(),
		logger:      logger,
	}
}

// Router builds the chi router with the standard middleware stack.
// requestsPerMin of zero disables rate limiting.
func (h *Handler) Router(requestsPerMin int) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	if requestsPerMin > 0 {
		r.Use(httprate.LimitByIP(requestsPerMin, time.Minute))
	}

	r.Route("/schedules", func(r chi.Router) {
		r.Post("/resolve", h.resolveSchedule)
		r.Post("/active-now", h.activeNow)
	})

	r.Route("/staged-changes", func(r chi.Router) {
		r.Use(requireSession)
		r.Post("/", h.stageChange)
		r.Get("/", h.listStagedChanges)
		r.Get("/summary", h.stagedSummary)
		r.Delete("/", h.clearStagedChanges)
		r.Delete("/{index}", h.removeStagedChange)
	})

	r.With(requireSession).Post("/publish", h.publishChanges)
	r.Get("/audit/export", h.exportAudit)

	return r
}

// requireSession rejects ledger operations without a session id, since
// staged changes are per-operator working state.
func requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(sessionHeader) == "" {
			writeError(w, http.StatusBadRequest, "missing "+sessionHeader+" header")
			return
		}
		next.ServeHTTP(w, r)
	})
}
