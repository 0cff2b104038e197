package messages

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/prompted/mqs/internal/metrics"
	"github.com/prompted/mqs/internal/models"
	"github.com/prompted/mqs/internal/queues"
	"github.com/prompted/mqs/internal/wait"
)

// Message response and request headers.
const (
	HeaderMessageID   = "X-MQS-MESSAGE-ID"
	HeaderReceives    = "X-MQS-MESSAGE-RECEIVES"
	HeaderPublishedAt = "X-MQS-PUBLISHED-AT"
	HeaderVisibleAt   = "X-MQS-VISIBLE-AT"
	HeaderMaxWaitTime = "X-MQS-MAX-WAIT-TIME"
)

// DefaultContentType is assumed when a publish carries no Content-Type.
const DefaultContentType = "application/octet-stream"

// maxWaitTime caps long-polling; longer waits stress HTTP idempotency.
const maxWaitTime = 20 * time.Second

// Handler exposes the message HTTP endpoints and owns the long-poll
// orchestration. It is the only layer that touches wall-clock deadlines.
type Handler struct {
	queues         *queues.Store
	store          *Store
	hub            *wait.Hub
	metrics        *metrics.Metrics
	maxMessageSize int64
}

// NewHandler creates a Handler over the given stores and notification hub.
func NewHandler(queueStore *queues.Store, store *Store, hub *wait.Hub, m *metrics.Metrics, maxMessageSize int64) *Handler {
	return &Handler{
		queues:         queueStore,
		store:          store,
		hub:            hub,
		metrics:        m,
		maxMessageSize: maxMessageSize,
	}
}

// ---------------------------------------------------------------------------
// POST /messages/{queue}
// ---------------------------------------------------------------------------

// Publish stores the request body as one message, or one message per part
// for multipart bodies. Bodies are truncated at the configured maximum while
// reading, regardless of the declared Content-Length.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := chi.URLParam(r, "queue")
	if !queues.ValidQueueName(name) {
		writeErr(w, http.StatusBadRequest, "invalid queue name")
		return
	}

	q, err := h.queues.Get(r.Context(), name)
	switch {
	case errors.Is(err, queues.ErrNotFound):
		writeErr(w, http.StatusNotFound, "queue "+name+" not found")
		return
	case err != nil:
		slog.Error("publish queue lookup failed", "queue", name, "error", err)
		writeErr(w, http.StatusInternalServerError, "publish failed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxMessageSize))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "failed to read request body: "+err.Error())
		return
	}

	inputs, err := splitBody(r.Header, body)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "failed to parse request body: "+err.Error())
		return
	}

	created := 0
	for _, in := range inputs {
		ok, visibleAt, err := h.store.Publish(r.Context(), q, in)
		switch {
		case errors.Is(err, ErrQueueNotFound):
			writeErr(w, http.StatusNotFound, "queue "+name+" not found")
			return
		case err != nil:
			slog.Error("publish failed", "queue", name, "error", err)
			writeErr(w, http.StatusInternalServerError, "publish failed")
			return
		}
		if ok {
			created++
			h.metrics.MessagePublished(name)
			h.hub.Notify(name, visibleAt)
		} else {
			h.metrics.PublishDeduplicated(name)
		}
	}

	slog.Info("published",
		"queue", name,
		"created", created,
		"duplicates", len(inputs)-created,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	if created > 0 {
		w.WriteHeader(http.StatusCreated)
	} else {
		w.WriteHeader(http.StatusOK)
	}
}

// splitBody turns the request into message inputs: one per multipart part,
// or a single input for a plain body.
func splitBody(header http.Header, body []byte) ([]Input, error) {
	contentType := header.Get("Content-Type")
	if contentType == "" {
		contentType = DefaultContentType
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err == nil && strings.HasPrefix(mediaType, "multipart/") && params["boundary"] != "" {
		return splitMultipart(body, params["boundary"])
	}

	return []Input{{
		Payload:         body,
		ContentType:     contentType,
		ContentEncoding: optionalHeader(header.Get("Content-Encoding")),
	}}, nil
}

func splitMultipart(body []byte, boundary string) ([]Input, error) {
	mr := multipart.NewReader(bytes.NewReader(body), boundary)
	var inputs []Input
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		payload, err := io.ReadAll(part)
		part.Close()
		if err != nil {
			return nil, err
		}
		contentType := part.Header.Get("Content-Type")
		if contentType == "" {
			contentType = DefaultContentType
		}
		inputs = append(inputs, Input{
			Payload:         payload,
			ContentType:     contentType,
			ContentEncoding: optionalHeader(part.Header.Get("Content-Encoding")),
		})
	}
	return inputs, nil
}

// ---------------------------------------------------------------------------
// GET /messages/{queue}
// ---------------------------------------------------------------------------

// Receive claims one message. With a positive X-MQS-MAX-WAIT-TIME it long
// polls: subscribe to the hub, re-check once to close the publish race, wait
// for a wake or the deadline, then try a final claim.
func (h *Handler) Receive(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	name := chi.URLParam(r, "queue")
	if !queues.ValidQueueName(name) {
		writeErr(w, http.StatusBadRequest, "invalid queue name")
		return
	}

	waitTime, err := parseMaxWaitTime(r.Header.Get(HeaderMaxWaitTime))
	if err != nil {
		writeErr(w, http.StatusBadRequest, err.Error())
		return
	}

	q, err := h.queues.Get(r.Context(), name)
	switch {
	case errors.Is(err, queues.ErrNotFound):
		writeErr(w, http.StatusNotFound, "queue "+name+" not found")
		return
	case err != nil:
		slog.Error("receive queue lookup failed", "queue", name, "error", err)
		writeErr(w, http.StatusInternalServerError, "receive failed")
		return
	}

	msg, ok := h.receive(r.Context(), w, q)
	if !ok {
		return
	}

	if msg == nil && waitTime > 0 {
		waiter := h.hub.Subscribe(name, time.Now().Add(waitTime))
		defer h.hub.Unsubscribe(waiter)

		// A publish between the first claim and the subscription would
		// otherwise be missed entirely.
		msg, ok = h.receive(r.Context(), w, q)
		if !ok {
			return
		}
		if msg == nil {
			h.hub.Wait(r.Context(), waiter)
			if r.Context().Err() != nil {
				// Client went away during the long poll.
				return
			}
			msg, ok = h.receive(r.Context(), w, q)
			if !ok {
				return
			}
		}
	}

	if msg == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.metrics.MessageReceived(name)
	slog.Info("received",
		"queue", name,
		"message_id", msg.ID,
		"receives", msg.Receives,
		"latency_ms", time.Since(start).Milliseconds(),
	)

	w.Header().Set("Content-Type", msg.ContentType)
	if msg.ContentEncoding != nil {
		w.Header().Set("Content-Encoding", *msg.ContentEncoding)
	}
	w.Header().Set(HeaderMessageID, msg.ID.String())
	w.Header().Set(HeaderReceives, strconv.FormatInt(int64(msg.Receives), 10))
	w.Header().Set(HeaderPublishedAt, msg.CreatedAt.UTC().Format(time.RFC3339))
	w.Header().Set(HeaderVisibleAt, msg.VisibleSince.UTC().Format(time.RFC3339))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(msg.Payload)
}

// receive runs one store claim and handles redrive notifications. The bool
// is false when an error response has already been written.
func (h *Handler) receive(ctx context.Context, w http.ResponseWriter, q queues.Queue) (*Message, bool) {
	msg, redrives, err := h.store.Receive(ctx, q)
	for _, rd := range redrives {
		h.metrics.MessageRedriven(q.Name)
		if rd.Inserted {
			h.hub.Notify(rd.Target, time.Now())
		} else if rd.Target != "" {
			h.metrics.RedriveDeduplicated(rd.Target)
		}
		slog.Info("redriven", "queue", q.Name, "dead_letter_queue", rd.Target, "inserted", rd.Inserted)
	}
	if err != nil {
		slog.Error("receive failed", "queue", q.Name, "error", err)
		writeErr(w, http.StatusInternalServerError, "receive failed")
		return nil, false
	}
	return msg, true
}

func parseMaxWaitTime(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	seconds, err := strconv.Atoi(value)
	if err != nil {
		return 0, errors.New("failed to parse maximal wait time")
	}
	if seconds < 0 || time.Duration(seconds)*time.Second > maxWaitTime {
		return 0, errors.New("maximal wait time must be between 0 and 20 seconds")
	}
	return time.Duration(seconds) * time.Second, nil
}

// ---------------------------------------------------------------------------
// DELETE /messages/{id}
// ---------------------------------------------------------------------------

// Delete acknowledges a message by removing it.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "message id needs to be a UUID")
		return
	}

	existed, err := h.store.Delete(r.Context(), id)
	if err != nil {
		slog.Error("message delete failed", "message_id", id, "error", err)
		writeErr(w, http.StatusInternalServerError, "message delete failed")
		return
	}
	if !existed {
		writeErr(w, http.StatusNotFound, "message "+raw+" not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func optionalHeader(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorResponse{Error: msg})
}
