package messages_test

import (
	"bytes"
	"database/sql"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/prompted/mqs/internal/messages"
	"github.com/prompted/mqs/internal/metrics"
	"github.com/prompted/mqs/internal/queues"
	"github.com/prompted/mqs/internal/wait"
)

func newRouter(t *testing.T, maxMessageSize int64) (*chi.Mux, *sql.DB) {
	t.Helper()
	db := testDB(t)

	queueStore := queues.NewStore(db)
	store := messages.NewStore(db)
	handler := messages.NewHandler(queueStore, store, wait.NewHub(), metrics.New(), maxMessageSize)

	r := chi.NewRouter()
	r.Post("/messages/{queue}", handler.Publish)
	r.Get("/messages/{queue}", handler.Receive)
	r.Delete("/messages/{id}", handler.Delete)
	return r, db
}

func publish(r http.Handler, queue, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/messages/"+queue, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func receive(r http.Handler, queue, maxWait string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/messages/"+queue, nil)
	if maxWait != "" {
		req.Header.Set(messages.HeaderMaxWaitTime, maxWait)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestPublishReceiveDeleteRoundTrip(t *testing.T) {
	r, db := newRouter(t, 1024*1024)
	createQueue(t, db, "orders", plainQueue(3600, 30, 0))

	if rec := publish(r, "orders", "text/plain", "hello"); rec.Code != http.StatusCreated {
		t.Fatalf("publish status = %d, want 201: %s", rec.Code, rec.Body)
	}

	rec := receive(r, "orders", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("receive status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if got := rec.Body.String(); got != "hello" {
		t.Errorf("payload = %q, want hello", got)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/plain" {
		t.Errorf("content type = %q, want text/plain", got)
	}
	id := rec.Header().Get(messages.HeaderMessageID)
	if _, err := uuid.Parse(id); err != nil {
		t.Fatalf("message id header %q is not a UUID: %v", id, err)
	}
	if got := rec.Header().Get(messages.HeaderReceives); got != "1" {
		t.Errorf("receives header = %q, want 1", got)
	}

	// Hidden for the visibility timeout.
	if rec := receive(r, "orders", ""); rec.Code != http.StatusNoContent {
		t.Errorf("second receive status = %d, want 204", rec.Code)
	}

	req := httptest.NewRequest(http.MethodDelete, "/messages/"+id, nil)
	del := httptest.NewRecorder()
	r.ServeHTTP(del, req)
	if del.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204: %s", del.Code, del.Body)
	}

	// Deleting again reports the message gone.
	del = httptest.NewRecorder()
	r.ServeHTTP(del, httptest.NewRequest(http.MethodDelete, "/messages/"+id, nil))
	if del.Code != http.StatusNotFound {
		t.Errorf("repeat delete status = %d, want 404", del.Code)
	}
}

func TestPublishDeduplication(t *testing.T) {
	r, db := newRouter(t, 1024*1024)
	in := plainQueue(3600, 30, 0)
	in.ContentBasedDeduplication = true
	createQueue(t, db, "dedup", in)

	if rec := publish(r, "dedup", "", "x"); rec.Code != http.StatusCreated {
		t.Fatalf("first publish status = %d, want 201", rec.Code)
	}
	if rec := publish(r, "dedup", "", "x"); rec.Code != http.StatusOK {
		t.Errorf("duplicate publish status = %d, want 200", rec.Code)
	}

	rec := receive(r, "dedup", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("receive status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != messages.DefaultContentType {
		t.Errorf("content type = %q, want default %q", got, messages.DefaultContentType)
	}

	id := rec.Header().Get(messages.HeaderMessageID)
	del := httptest.NewRecorder()
	r.ServeHTTP(del, httptest.NewRequest(http.MethodDelete, "/messages/"+id, nil))
	if del.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", del.Code)
	}

	if rec := publish(r, "dedup", "", "x"); rec.Code != http.StatusCreated {
		t.Errorf("republish after delete status = %d, want 201", rec.Code)
	}
}

func TestPublishUnknownQueue(t *testing.T) {
	r, _ := newRouter(t, 1024*1024)
	if rec := publish(r, "ghost", "text/plain", "x"); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestReceiveUnknownQueue(t *testing.T) {
	r, _ := newRouter(t, 1024*1024)
	if rec := receive(r, "ghost", ""); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestReceiveWaitValidation(t *testing.T) {
	r, db := newRouter(t, 1024*1024)
	createQueue(t, db, "orders", plainQueue(3600, 30, 0))

	for _, value := range []string{"21", "-1", "abc"} {
		if rec := receive(r, "orders", value); rec.Code != http.StatusBadRequest {
			t.Errorf("wait %q status = %d, want 400", value, rec.Code)
		}
	}
}

func TestReceiveContentEncoding(t *testing.T) {
	r, db := newRouter(t, 1024*1024)
	createQueue(t, db, "orders", plainQueue(3600, 30, 0))

	req := httptest.NewRequest(http.MethodPost, "/messages/orders", strings.NewReader("compressed"))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("publish status = %d", rec.Code)
	}

	got := receive(r, "orders", "")
	if got.Code != http.StatusOK {
		t.Fatalf("receive status = %d", got.Code)
	}
	if enc := got.Header().Get("Content-Encoding"); enc != "gzip" {
		t.Errorf("content encoding = %q, want gzip", enc)
	}
}

func TestPayloadTruncation(t *testing.T) {
	r, db := newRouter(t, 10)
	createQueue(t, db, "orders", plainQueue(3600, 30, 0))

	if rec := publish(r, "orders", "text/plain", "0123456789abcdef"); rec.Code != http.StatusCreated {
		t.Fatalf("publish status = %d", rec.Code)
	}

	rec := receive(r, "orders", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("receive status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "0123456789" {
		t.Errorf("payload = %q, want the first 10 bytes", got)
	}
}

func TestDeleteInvalidID(t *testing.T) {
	r, _ := newRouter(t, 1024*1024)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/messages/not-a-uuid", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestLongPollWakesOnPublish(t *testing.T) {
	r, db := newRouter(t, 1024*1024)
	createQueue(t, db, "orders", plainQueue(3600, 30, 0))

	go func() {
		time.Sleep(150 * time.Millisecond)
		publish(r, "orders", "text/plain", "late")
	}()

	start := time.Now()
	rec := receive(r, "orders", "10")
	elapsed := time.Since(start)

	if rec.Code != http.StatusOK {
		t.Fatalf("long poll status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if got := rec.Body.String(); got != "late" {
		t.Errorf("payload = %q, want late", got)
	}
	if elapsed < 100*time.Millisecond {
		t.Errorf("returned after %v, before the publish", elapsed)
	}
	if elapsed > 5*time.Second {
		t.Errorf("returned after %v, long after the wake", elapsed)
	}
}

func TestLongPollTimesOutEmpty(t *testing.T) {
	r, db := newRouter(t, 1024*1024)
	createQueue(t, db, "orders", plainQueue(3600, 30, 0))

	start := time.Now()
	rec := receive(r, "orders", "1")
	elapsed := time.Since(start)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if elapsed < 900*time.Millisecond {
		t.Errorf("returned after %v, before the wait budget", elapsed)
	}
}

func TestMultipartPublish(t *testing.T) {
	r, db := newRouter(t, 1024*1024)
	createQueue(t, db, "orders", plainQueue(3600, 300, 0))

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, part := range []struct {
		contentType string
		payload     string
	}{
		{"text/plain", "first"},
		{"application/json", `{"n":2}`},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {part.contentType}})
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		_, _ = io.WriteString(w, part.payload)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/messages/orders", &buf)
	req.Header.Set("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("multipart publish status = %d: %s", rec.Code, rec.Body)
	}

	got := map[string]string{}
	for range 2 {
		rec := receive(r, "orders", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("receive status = %d", rec.Code)
		}
		got[rec.Header().Get("Content-Type")] = rec.Body.String()
	}
	if got["text/plain"] != "first" {
		t.Errorf("text part = %q, want first", got["text/plain"])
	}
	if got["application/json"] != `{"n":2}` {
		t.Errorf("json part = %q", got["application/json"])
	}
}
