package queues

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/prompted/mqs/internal/models"
)

// List paging bounds. Out-of-range values are rejected, absent ones use the
// default.
const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

var queueNameRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidQueueName reports whether name is usable as a queue path segment.
func ValidQueueName(name string) bool {
	return queueNameRe.MatchString(name)
}

// Handler exposes the queue management HTTP endpoints.
type Handler struct {
	store *Store
}

// NewHandler creates a Handler backed by the given Store.
func NewHandler(store *Store) *Handler {
	return &Handler{store: store}
}

// ---------------------------------------------------------------------------
// PUT /queues/{name}
// ---------------------------------------------------------------------------

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := chi.URLParam(r, "name")

	in, ok := h.decodeInput(w, r, name)
	if !ok {
		return
	}

	q, err := h.store.Create(r.Context(), name, in)
	switch {
	case errors.Is(err, ErrConflict):
		writeErr(w, http.StatusConflict, "queue "+name+" already exists")
		return
	case errors.Is(err, ErrDeadLetterQueue):
		writeErr(w, http.StatusBadRequest, "dead letter queue does not exist")
		return
	case errors.Is(err, ErrInvalidConfig):
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.Error("queue create failed", "queue", name, "error", err)
		writeErr(w, http.StatusInternalServerError, "queue create failed")
		return
	}

	slog.Info("queue created", "queue", name, "latency_ms", time.Since(start).Milliseconds())
	writeJSON(w, http.StatusCreated, q.ConfigOutput())
}

// ---------------------------------------------------------------------------
// POST /queues/{name}
// ---------------------------------------------------------------------------

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := chi.URLParam(r, "name")

	in, ok := h.decodeInput(w, r, name)
	if !ok {
		return
	}

	q, err := h.store.Update(r.Context(), name, in)
	switch {
	case errors.Is(err, ErrNotFound):
		writeErr(w, http.StatusNotFound, "queue "+name+" not found")
		return
	case errors.Is(err, ErrDeadLetterQueue):
		writeErr(w, http.StatusBadRequest, "dead letter queue does not exist")
		return
	case errors.Is(err, ErrInvalidConfig):
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		slog.Error("queue update failed", "queue", name, "error", err)
		writeErr(w, http.StatusInternalServerError, "queue update failed")
		return
	}

	slog.Info("queue updated", "queue", name, "latency_ms", time.Since(start).Milliseconds())
	writeJSON(w, http.StatusOK, q.ConfigOutput())
}

// ---------------------------------------------------------------------------
// DELETE /queues/{name}
// ---------------------------------------------------------------------------

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := chi.URLParam(r, "name")

	q, err := h.store.Delete(r.Context(), name)
	switch {
	case errors.Is(err, ErrNotFound):
		writeErr(w, http.StatusNotFound, "queue "+name+" not found")
		return
	case err != nil:
		slog.Error("queue delete failed", "queue", name, "error", err)
		writeErr(w, http.StatusInternalServerError, "queue delete failed")
		return
	}

	slog.Info("queue deleted", "queue", name, "latency_ms", time.Since(start).Milliseconds())
	writeJSON(w, http.StatusOK, q.ConfigOutput())
}

// ---------------------------------------------------------------------------
// GET /queues/{name}
// ---------------------------------------------------------------------------

func (h *Handler) Describe(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	q, st, err := h.store.Describe(r.Context(), name)
	switch {
	case errors.Is(err, ErrNotFound):
		writeErr(w, http.StatusNotFound, "queue "+name+" not found")
		return
	case err != nil:
		slog.Error("queue describe failed", "queue", name, "error", err)
		writeErr(w, http.StatusInternalServerError, "queue describe failed")
		return
	}

	writeJSON(w, http.StatusOK, models.QueueDescription{
		QueueConfigOutput: q.ConfigOutput(),
		Status: models.QueueStatus{
			Messages:         st.Messages,
			VisibleMessages:  st.VisibleMessages,
			OldestMessageAge: st.OldestMessageAge,
		},
	})
}

// ---------------------------------------------------------------------------
// GET /queues?offset=&limit=
// ---------------------------------------------------------------------------

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	offset, limit, err := listRange(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	queues, total, err := h.store.List(r.Context(), offset, limit)
	if err != nil {
		slog.Error("queue list failed", "offset", offset, "limit", limit, "error", err)
		writeErr(w, http.StatusInternalServerError, "queue list failed")
		return
	}

	out := make([]models.QueueConfigOutput, 0, len(queues))
	for _, q := range queues {
		out = append(out, q.ConfigOutput())
	}
	writeJSON(w, http.StatusOK, models.QueuesResponse{Total: total, Queues: out})
}

func listRange(r *http.Request) (offset, limit int64, err error) {
	offset, limit = 0, defaultListLimit

	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid value for number field offset: %s", v)
		}
		if offset < 0 {
			return 0, 0, fmt.Errorf("offset must be >= 0, got %d", offset)
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid value for number field limit: %s", v)
		}
		if limit < 1 || limit > maxListLimit {
			return 0, 0, fmt.Errorf("limit must be between 1 and %d, got %d", maxListLimit, limit)
		}
	}
	return offset, limit, nil
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

// decodeInput parses and validates a QueueConfig body. A redrive policy must
// be complete and reference an existing queue; the database constraints catch
// the same violations again in case a concurrent delete wins the race.
func (h *Handler) decodeInput(w http.ResponseWriter, r *http.Request, name string) (Input, bool) {
	if !ValidQueueName(name) {
		writeErr(w, http.StatusBadRequest, "invalid queue name")
		return Input{}, false
	}

	var cfg models.QueueConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return Input{}, false
	}

	if cfg.RetentionTimeout < 1 || cfg.RetentionTimeout > math.MaxInt32 {
		writeErr(w, http.StatusBadRequest, "retention_timeout must be between 1 and 2147483647 seconds")
		return Input{}, false
	}
	if cfg.VisibilityTimeout < 0 || cfg.VisibilityTimeout > math.MaxInt32 {
		writeErr(w, http.StatusBadRequest, "visibility_timeout must be between 0 and 2147483647 seconds")
		return Input{}, false
	}
	if cfg.MessageDelay < 0 || cfg.MessageDelay > math.MaxInt32 {
		writeErr(w, http.StatusBadRequest, "message_delay must be between 0 and 2147483647 seconds")
		return Input{}, false
	}

	in := Input{
		RetentionTimeout:          cfg.RetentionTimeout,
		VisibilityTimeout:         cfg.VisibilityTimeout,
		MessageDelay:              cfg.MessageDelay,
		ContentBasedDeduplication: cfg.MessageDeduplication,
	}

	if p := cfg.RedrivePolicy; p != nil {
		if p.MaxReceives < 1 {
			writeErr(w, http.StatusBadRequest, "redrive_policy.max_receives must be >= 1")
			return Input{}, false
		}
		if !ValidQueueName(p.DeadLetterQueue) {
			writeErr(w, http.StatusBadRequest, "redrive_policy.dead_letter_queue is not a valid queue name")
			return Input{}, false
		}
		if _, err := h.store.Get(r.Context(), p.DeadLetterQueue); err != nil {
			if errors.Is(err, ErrNotFound) {
				writeErr(w, http.StatusBadRequest, "dead letter queue does not exist")
				return Input{}, false
			}
			slog.Error("dead letter queue lookup failed", "queue", name, "dead_letter_queue", p.DeadLetterQueue, "error", err)
			writeErr(w, http.StatusInternalServerError, "queue validation failed")
			return Input{}, false
		}
		maxReceives := p.MaxReceives
		dlq := p.DeadLetterQueue
		in.MaxReceives = &maxReceives
		in.DeadLetterQueue = &dlq
	}

	return in, true
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}
