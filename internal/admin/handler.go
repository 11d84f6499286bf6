// Package admin exposes the sync orchestrator and the search service over
// HTTP.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/query"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/search"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/internal/sync/orchestrator"
	apperrors "github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/business-search-sync/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Syncer is the orchestrator surface the handlers drive.
type Syncer interface {
	Rebuild(ctx context.Context, r orchestrator.RebuildRequest) (orchestrator.Enqueued, error)
	RebuildCorpus(ctx context.Context, batchSize int) (orchestrator.Enqueued, error)
	RebuildTenant(ctx context.Context, tenantID, organizationID string) (orchestrator.Enqueued, error)
	SyncIncremental(ctx context.Context, r orchestrator.IncrementalRequest) (orchestrator.Enqueued, error)
	IndexEntity(ctx context.Context, entityID, tenantID, organizationID string) (orchestrator.Enqueued, error)
	UpdateEntity(ctx context.Context, entityID, tenantID, organizationID string) (orchestrator.Enqueued, error)
	DeleteEntity(ctx context.Context, entityID, tenantID, organizationID string) (orchestrator.Enqueued, error)
	JobStatus(ctx context.Context, id string) (orchestrator.JobStatus, error)
	Stats(ctx context.Context) (orchestrator.Stats, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Drain(ctx context.Context) (int, error)
	Clean(ctx context.Context) (int, error)
}

// Searcher runs read queries against the index.
type Searcher interface {
	Search(ctx context.Context, req query.Request) (*search.Response, error)
	Autocomplete(ctx context.Context, prefix string, limit int) ([]search.Completion, error)
	Similar(ctx context.Context, id string, limit int) ([]search.Result, error)
}

// Handler serves the sync administration and search endpoints.
type Handler struct {
	sync   Syncer
	search Searcher
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(s Syncer, q Searcher) *Handler {
	return &Handler{
		sync:   s,
		search: q,
		logger: slog.Default().With("component", "admin-handler"),
	}
}

// ---------- Sync ----------

// Rebuild enqueues a rebuild scoped by an optional JSON body.
func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.RebuildRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	h.enqueued(w, r, func(ctx context.Context) (orchestrator.Enqueued, error) {
		return h.sync.Rebuild(ctx, req)
	})
}

// RebuildTenant enqueues a rebuild of one tenant.
func (h *Handler) RebuildTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantId")
	orgID := r.URL.Query().Get("organizationId")
	h.enqueued(w, r, func(ctx context.Context) (orchestrator.Enqueued, error) {
		return h.sync.RebuildTenant(ctx, tenantID, orgID)
	})
}

// RebuildCorpus enqueues a full rebuild, optionally with ?batchSize=.
func (h *Handler) RebuildCorpus(w http.ResponseWriter, r *http.Request) {
	batchSize := 0
	if v := r.URL.Query().Get("batchSize"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "batchSize must be a positive integer")
			return
		}
		batchSize = parsed
	}
	h.enqueued(w, r, func(ctx context.Context) (orchestrator.Enqueued, error) {
		return h.sync.RebuildCorpus(ctx, batchSize)
	})
}

// Sync enqueues the incremental job described by the JSON body.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.IncrementalRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	h.enqueued(w, r, func(ctx context.Context) (orchestrator.Enqueued, error) {
		return h.sync.SyncIncremental(ctx, req)
	})
}

type entityOp func(ctx context.Context, entityID, tenantID, organizationID string) (orchestrator.Enqueued, error)

func (h *Handler) entityJob(w http.ResponseWriter, r *http.Request, op entityOp) {
	id := chi.URLParam(r, "businessId")
	q := r.URL.Query()
	h.enqueued(w, r, func(ctx context.Context) (orchestrator.Enqueued, error) {
		return op(ctx, id, q.Get("tenantId"), q.Get("organizationId"))
	})
}

// IndexEntity enqueues an index of one business.
func (h *Handler) IndexEntity(w http.ResponseWriter, r *http.Request) {
	h.entityJob(w, r, h.sync.IndexEntity)
}

// UpdateEntity enqueues a re-index of one business.
func (h *Handler) UpdateEntity(w http.ResponseWriter, r *http.Request) {
	h.entityJob(w, r, h.sync.UpdateEntity)
}

// DeleteEntity enqueues the removal of one business from the index.
func (h *Handler) DeleteEntity(w http.ResponseWriter, r *http.Request) {
	h.entityJob(w, r, h.sync.DeleteEntity)
}

// JobStatus reports the status of a job. Unknown ids answer 404 with the
// not-found status body.
func (h *Handler) JobStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.sync.JobStatus(r.Context(), chi.URLParam(r, "jobId"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if st.Status == orchestrator.StatusNotFound {
		status = http.StatusNotFound
	}
	h.writeJSON(w, status, st)
}

// Stats reports queue counts and the job metrics summary.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sync.Stats(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// Pause stops workers from taking new jobs.
func (h *Handler) Pause(w http.ResponseWriter, r *http.Request) {
	if err := h.sync.Pause(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Queue paused"})
}

// Resume lets workers take jobs again.
func (h *Handler) Resume(w http.ResponseWriter, r *http.Request) {
	if err := h.sync.Resume(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Queue resumed"})
}

// Drain removes waiting and delayed jobs.
func (h *Handler) Drain(w http.ResponseWriter, r *http.Request) {
	n, err := h.sync.Drain(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "removed": n, "message": "Queue drained"})
}

// Clear removes retained completed and failed jobs.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	n, err := h.sync.Clean(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"success": true, "removed": n, "message": "Queue cleared"})
}

// ---------- Search ----------

// Search runs the request in the JSON body.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var req query.Request
	if !h.decodeOptional(w, r, &req) {
		return
	}
	resp, err := h.search.Search(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// Autocomplete answers ?q= with name completions.
func (h *Handler) Autocomplete(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	options, err := h.search.Autocomplete(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"suggestions": options})
}

// Similar returns businesses resembling {businessId}.
func (h *Handler) Similar(w http.ResponseWriter, r *http.Request) {
	limit, ok := h.limit(w, r)
	if !ok {
		return
	}
	results, err := h.search.Similar(r.Context(), chi.URLParam(r, "businessId"), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// ---------- Helpers ----------

func (h *Handler) enqueued(w http.ResponseWriter, r *http.Request, fn func(context.Context) (orchestrator.Enqueued, error)) {
	res, err := fn(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{
		"success": true,
		"jobId":   res.JobID,
		"message": res.Message,
	})
}

func (h *Handler) limit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > 100 {
		h.writeError(w, http.StatusBadRequest, "limit must be an integer between 1 and 100")
		return 0, false
	}
	return n, true
}

// decodeOptional decodes a JSON body into dst, leaving dst untouched when
// the body is empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := decodeBody(r, dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	h.writeError(w, http.StatusBadRequest, "invalid JSON body")
	return false
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// fail maps err to a status. Server-side failures are logged and answered
// with the generic status text.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed",
			"component", "admin-handler",
			"path", r.URL.Path,
			"error", err,
		)
		h.writeError(w, status, http.StatusText(status))
		return
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]any{"success": false, "error": message})
}
