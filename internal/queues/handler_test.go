package queues_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/prompted/mqs/internal/models"
	"github.com/prompted/mqs/internal/queues"
)

func newRouter(t *testing.T) (*chi.Mux, *queues.Store) {
	t.Helper()
	db := testDB(t)
	store := queues.NewStore(db)
	handler := queues.NewHandler(store)

	r := chi.NewRouter()
	r.Get("/queues", handler.List)
	r.Put("/queues/{name}", handler.Create)
	r.Post("/queues/{name}", handler.Update)
	r.Delete("/queues/{name}", handler.Delete)
	r.Get("/queues/{name}", handler.Describe)
	return r, store
}

func doRequest(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

const validConfig = `{"retention_timeout":3600,"visibility_timeout":30,"message_delay":0,"message_deduplication":false}`

func TestCreateHandler(t *testing.T) {
	r, _ := newRouter(t)

	rec := doRequest(r, http.MethodPut, "/queues/orders", validConfig)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body)
	}

	var out models.QueueConfigOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Name != "orders" {
		t.Errorf("name = %s, want orders", out.Name)
	}
	if out.RedrivePolicy != nil {
		t.Errorf("redrive_policy = %+v, want null", out.RedrivePolicy)
	}

	// Creating it again conflicts.
	rec = doRequest(r, http.MethodPut, "/queues/orders", validConfig)
	if rec.Code != http.StatusConflict {
		t.Errorf("second create status = %d, want 409", rec.Code)
	}
}

func TestCreateHandlerValidation(t *testing.T) {
	r, _ := newRouter(t)

	tests := []struct {
		name   string
		target string
		body   string
	}{
		{
			name:   "invalid queue name",
			target: "/queues/bad%20name",
			body:   validConfig,
		},
		{
			name:   "invalid JSON",
			target: "/queues/orders",
			body:   "{",
		},
		{
			name:   "zero retention",
			target: "/queues/orders",
			body:   `{"retention_timeout":0,"visibility_timeout":30,"message_delay":0,"message_deduplication":false}`,
		},
		{
			name:   "negative visibility",
			target: "/queues/orders",
			body:   `{"retention_timeout":3600,"visibility_timeout":-1,"message_delay":0,"message_deduplication":false}`,
		},
		{
			name:   "negative delay",
			target: "/queues/orders",
			body:   `{"retention_timeout":3600,"visibility_timeout":30,"message_delay":-1,"message_deduplication":false}`,
		},
		{
			name:   "retention above int32 range",
			target: "/queues/orders",
			body:   `{"retention_timeout":2147483648,"visibility_timeout":30,"message_delay":0,"message_deduplication":false}`,
		},
		{
			name:   "zero max receives",
			target: "/queues/orders",
			body:   `{"redrive_policy":{"max_receives":0,"dead_letter_queue":"dlq"},"retention_timeout":3600,"visibility_timeout":30,"message_delay":0,"message_deduplication":false}`,
		},
		{
			name:   "missing dead letter queue",
			target: "/queues/orders",
			body:   `{"redrive_policy":{"max_receives":3,"dead_letter_queue":"ghost"},"retention_timeout":3600,"visibility_timeout":30,"message_delay":0,"message_deduplication":false}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(r, http.MethodPut, tt.target, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400: %s", rec.Code, rec.Body)
			}
			var body models.ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Error == "" {
				t.Errorf("error body missing: %s", rec.Body)
			}
		})
	}
}

func TestUpdateHandler(t *testing.T) {
	r, _ := newRouter(t)

	if rec := doRequest(r, http.MethodPost, "/queues/orders", validConfig); rec.Code != http.StatusNotFound {
		t.Errorf("update before create status = %d, want 404", rec.Code)
	}

	doRequest(r, http.MethodPut, "/queues/orders", validConfig)

	updated := `{"retention_timeout":7200,"visibility_timeout":60,"message_delay":1,"message_deduplication":true}`
	rec := doRequest(r, http.MethodPost, "/queues/orders", updated)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, want 200: %s", rec.Code, rec.Body)
	}

	var out models.QueueConfigOutput
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.RetentionTimeout != 7200 || out.VisibilityTimeout != 60 || !out.MessageDeduplication {
		t.Errorf("updated config = %+v", out)
	}
}

func TestDeleteHandlerCascade(t *testing.T) {
	r, _ := newRouter(t)

	doRequest(r, http.MethodPut, "/queues/dlq", validConfig)
	work := `{"redrive_policy":{"max_receives":2,"dead_letter_queue":"dlq"},"retention_timeout":3600,"visibility_timeout":30,"message_delay":0,"message_deduplication":false}`
	doRequest(r, http.MethodPut, "/queues/work", work)

	rec := doRequest(r, http.MethodDelete, "/queues/dlq", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d, want 200: %s", rec.Code, rec.Body)
	}

	rec = doRequest(r, http.MethodGet, "/queues/work", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("describe status = %d, want 200", rec.Code)
	}
	var desc models.QueueDescription
	if err := json.Unmarshal(rec.Body.Bytes(), &desc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if desc.RedrivePolicy != nil {
		t.Errorf("redrive_policy = %+v, want null after cascade", desc.RedrivePolicy)
	}
}

func TestDescribeHandler(t *testing.T) {
	r, _ := newRouter(t)

	doRequest(r, http.MethodPut, "/queues/orders", validConfig)

	rec := doRequest(r, http.MethodGet, "/queues/orders", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var desc models.QueueDescription
	if err := json.Unmarshal(rec.Body.Bytes(), &desc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if desc.Status.Messages != 0 || desc.Status.VisibleMessages != 0 {
		t.Errorf("status = %+v, want zero counts", desc.Status)
	}

	if rec := doRequest(r, http.MethodGet, "/queues/ghost", ""); rec.Code != http.StatusNotFound {
		t.Errorf("describe missing queue status = %d, want 404", rec.Code)
	}
}

func TestListHandler(t *testing.T) {
	r, _ := newRouter(t)

	for _, name := range []string{"a", "b", "c"} {
		doRequest(r, http.MethodPut, "/queues/"+name, validConfig)
	}

	rec := doRequest(r, http.MethodGet, "/queues?offset=1&limit=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	var out models.QueuesResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Total != 3 {
		t.Errorf("total = %d, want 3", out.Total)
	}
	if len(out.Queues) != 1 || out.Queues[0].Name != "b" {
		t.Errorf("queues = %+v, want [b]", out.Queues)
	}
}

func TestListHandlerValidation(t *testing.T) {
	r, _ := newRouter(t)

	for _, target := range []string{
		"/queues?offset=-1",
		"/queues?limit=0",
		"/queues?limit=1001",
		"/queues?offset=abc",
		"/queues?limit=abc",
	} {
		if rec := doRequest(r, http.MethodGet, target, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s status = %d, want 400", target, rec.Code)
		}
	}
}
