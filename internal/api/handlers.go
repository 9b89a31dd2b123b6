package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"daypartd/internal/audit"
	"daypartd/internal/ledger"
	"daypartd/internal/metrics"
	"daypartd/internal/model"
	"daypartd/internal/publish"
	"daypartd/internal/resolver"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

type resolveRequest struct {
	StoreID     string `json:"store_id" validate:"required"`
	ConceptID   string `json:"concept_id"`
	PlacementID string `json:"placement_id" validate:"required"`
}

type resolveResponse struct {
	Rows     []model.EffectiveScheduleRow `json:"rows"`
	Warnings []resolver.Warning           `json:"warnings,omitempty"`
}

func (h *Handler) resolveSchedule(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !h.decode(w, r, &req) {
		return
	}

	rows, warnings, err := h.engine.ResolveSchedule(r.Context(), req.StoreID, req.ConceptID, req.PlacementID)
	if err != nil {
		h.logger.Error().Err(err).Str("placement_id", req.PlacementID).Msg("resolve failed")
		writeError(w, http.StatusInternalServerError, "resolution failed")
		return
	}
	if rows == nil {
		rows = []model.EffectiveScheduleRow{}
	}
	writeJSON(w, http.StatusOK, resolveResponse{Rows: rows, Warnings: warnings})
}

type activeNowRequest struct {
	StoreID      string     `json:"store_id" validate:"required"`
	ConceptID    string     `json:"concept_id"`
	PlacementIDs []string   `json:"placement_ids" validate:"required,min=1"`
	At           *time.Time `json:"at,omitempty"`
}

type activeNowResponse struct {
	Active map[string][]string `json:"active"`
}

func (h *Handler) activeNow(w http.ResponseWriter, r *http.Request) {
	var req activeNowRequest
	if !h.decode(w, r, &req) {
		return
	}

	var (
		active map[string][]string
		err    error
	)
	if req.At != nil {
		active, err = h.engine.ActiveAt(r.Context(), req.StoreID, req.ConceptID, req.PlacementIDs, *req.At)
	} else {
		active, err = h.engine.ActiveNow(r.Context(), req.StoreID, req.ConceptID, req.PlacementIDs)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("store_id", req.StoreID).Msg("active-now failed")
		writeError(w, http.StatusInternalServerError, "resolution failed")
		return
	}
	if active == nil {
		active = map[string][]string{}
	}
	writeJSON(w, http.StatusOK, activeNowResponse{Active: active})
}

func (h *Handler) stageChange(w http.ResponseWriter, r *http.Request) {
	var change model.StagedChange
	if err := json.NewDecoder(r.Body).Decode(&change); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	l, release := h.session(r)
	defer release()

	if err := l.Add(change); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	metrics.IncStagedChange(string(change.Type))

	// An update may have replaced an earlier entry in place rather than
	// appending, so look the stored entry up by target.
	entries := l.Entries()
	stored := entries[len(entries)-1]
	if change.Type == model.ChangeUpdate {
		for _, e := range entries {
			if e.Type == model.ChangeUpdate && e.SameTarget(change) {
				stored = e
				break
			}
		}
	}
	writeJSON(w, http.StatusCreated, stored)
}

func (h *Handler) listStagedChanges(w http.ResponseWriter, r *http.Request) {
	l, release := h.session(r)
	defer release()

	entries := l.Entries()
	if entries == nil {
		entries = []model.StagedChange{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) stagedSummary(w http.ResponseWriter, r *http.Request) {
	l, release := h.session(r)
	defer release()
	writeJSON(w, http.StatusOK, l.Summary())
}

func (h *Handler) removeStagedChange(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "index must be an integer")
		return
	}

	l, release := h.session(r)
	defer release()

	if err := l.Remove(index); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearStagedChanges(w http.ResponseWriter, r *http.Request) {
	l, release := h.session(r)
	defer release()
	l.Clear()
	w.WriteHeader(http.StatusNoContent)
}

type publishRequest struct {
	EffectiveAt *time.Time `json:"effective_at,omitempty"`
	Notes       string     `json:"notes"`
}

func (h *Handler) publishChanges(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	l, release := h.session(r)
	changes := l.Entries()
	release()

	var effectiveAt time.Time
	if req.EffectiveAt != nil {
		effectiveAt = *req.EffectiveAt
	}

	job, err := h.coordinator.Publish(r.Context(), changes, effectiveAt, req.Notes)
	if err != nil {
		if errors.Is(err, publish.ErrNoChanges) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		var applyErr *publish.ApplyError
		if errors.As(err, &applyErr) {
			// The job exists and carries the failure detail. The ledger
			// is kept so the operator can fix and retry.
			writeJSON(w, http.StatusOK, job)
			return
		}
		h.logger.Error().Err(err).Msg("publish failed")
		writeError(w, http.StatusInternalServerError, "publish failed")
		return
	}

	l, release = h.session(r)
	l.Clear()
	release()
	h.engine.InvalidateDefinitions(r.Context())

	writeJSON(w, http.StatusCreated, job)
}

func (h *Handler) exportAudit(w http.ResponseWriter, r *http.Request) {
	from, to, err := auditRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.store.ListAuditEntries(r.Context(), from, to)
	if err != nil {
		h.logger.Error().Err(err).Msg("audit export failed")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+audit.Filename(from, to)+`"`)
	if err := audit.WriteXLSX(w, entries); err != nil {
		h.logger.Error().Err(err).Msg("audit workbook write failed")
	}
}

func auditRange(r *http.Request) (time.Time, time.Time, error) {
	from := time.Now().AddDate(0, -1, 0)
	to := time.Now()

	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be RFC 3339")
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be RFC 3339")
		}
		to = parsed
	}
	return from, to, nil
}

func (h *Handler) session(r *http.Request) (*ledger.Ledger, func()) {
	return h.ledgers.Session(r.Header.Get(sessionHeader))
}
