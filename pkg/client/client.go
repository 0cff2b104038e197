// Package client is a Go client for the mqs HTTP API. It retries transient
// failures (5xx and network errors) with exponential back-off; no locks are
// used — the Client is safe for concurrent use because its fields are
// immutable after construction.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// RedrivePolicy pairs the receive bound with the dead letter target.
type RedrivePolicy struct {
	MaxReceives     int32  `json:"max_receives"`
	DeadLetterQueue string `json:"dead_letter_queue"`
}

// QueueConfig is the body of queue create and update requests.
type QueueConfig struct {
	RedrivePolicy        *RedrivePolicy `json:"redrive_policy"`
	RetentionTimeout     int64          `json:"retention_timeout"`
	VisibilityTimeout    int64          `json:"visibility_timeout"`
	MessageDelay         int64          `json:"message_delay"`
	MessageDeduplication bool           `json:"message_deduplication"`
}

// Queue is a queue's configuration as returned by the server.
type Queue struct {
	Name                 string         `json:"name"`
	RedrivePolicy        *RedrivePolicy `json:"redrive_policy"`
	RetentionTimeout     int64          `json:"retention_timeout"`
	VisibilityTimeout    int64          `json:"visibility_timeout"`
	MessageDelay         int64          `json:"message_delay"`
	MessageDeduplication bool           `json:"message_deduplication"`
}

// QueueStatus reports live message counts.
type QueueStatus struct {
	Messages         int64 `json:"messages"`
	VisibleMessages  int64 `json:"visible_messages"`
	OldestMessageAge int64 `json:"oldest_message_age"`
}

// QueueDescription combines configuration and status.
type QueueDescription struct {
	Queue
	Status QueueStatus `json:"status"`
}

// QueuesPage is one page of the queue listing.
type QueuesPage struct {
	Total  int64   `json:"total"`
	Queues []Queue `json:"queues"`
}

// Message is a received message.
type Message struct {
	ID              uuid.UUID
	Payload         []byte
	ContentType     string
	ContentEncoding string
	Receives        int
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("mqs: server returned %d", e.Status)
	}
	return fmt.Sprintf("mqs: server returned %d: %s", e.Status, e.Message)
}

// Client talks to one mqs server.
type Client struct {
	base       string
	http       *http.Client
	maxRetries int
	baseDelay  time.Duration
}

// New creates a Client for the given base URL, e.g. "http://localhost:7843".
func New(baseURL string) *Client {
	return &Client{
		base: baseURL,
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{DisableCompression: true},
		},
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
	}
}

// ---------------------------------------------------------------------------
// Queues
// ---------------------------------------------------------------------------

// CreateQueue creates a queue and returns its stored configuration.
func (c *Client) CreateQueue(ctx context.Context, name string, cfg QueueConfig) (Queue, error) {
	var out Queue
	err := c.doJSON(ctx, http.MethodPut, "/queues/"+url.PathEscape(name), cfg, http.StatusCreated, &out)
	return out, err
}

// UpdateQueue replaces a queue's configuration.
func (c *Client) UpdateQueue(ctx context.Context, name string, cfg QueueConfig) (Queue, error) {
	var out Queue
	err := c.doJSON(ctx, http.MethodPost, "/queues/"+url.PathEscape(name), cfg, http.StatusOK, &out)
	return out, err
}

// DeleteQueue deletes a queue and returns its last configuration.
func (c *Client) DeleteQueue(ctx context.Context, name string) (Queue, error) {
	var out Queue
	err := c.doJSON(ctx, http.MethodDelete, "/queues/"+url.PathEscape(name), nil, http.StatusOK, &out)
	return out, err
}

// DescribeQueue returns a queue's configuration and status.
func (c *Client) DescribeQueue(ctx context.Context, name string) (QueueDescription, error) {
	var out QueueDescription
	err := c.doJSON(ctx, http.MethodGet, "/queues/"+url.PathEscape(name), nil, http.StatusOK, &out)
	return out, err
}

// ListQueues returns one page of queues.
func (c *Client) ListQueues(ctx context.Context, offset, limit int64) (QueuesPage, error) {
	path := fmt.Sprintf("/queues?offset=%d&limit=%d", offset, limit)
	var out QueuesPage
	err := c.doJSON(ctx, http.MethodGet, path, nil, http.StatusOK, &out)
	return out, err
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// PublishMessage publishes a payload and reports whether a new message was
// created (false means the queue deduplicated it).
func (c *Client) PublishMessage(ctx context.Context, queue, contentType, contentEncoding string, payload []byte) (bool, error) {
	header := http.Header{}
	if contentType != "" {
		header.Set("Content-Type", contentType)
	}
	if contentEncoding != "" {
		header.Set("Content-Encoding", contentEncoding)
	}

	resp, err := c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(queue), header, payload)
	if err != nil {
		return false, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusCreated:
		return true, nil
	case http.StatusOK:
		return false, nil
	default:
		return false, apiError(resp)
	}
}

// ReceiveMessage claims one message, long-polling up to maxWait (0..20 s).
// It returns nil when the queue is empty.
func (c *Client) ReceiveMessage(ctx context.Context, queue string, maxWait time.Duration) (*Message, error) {
	header := http.Header{}
	if maxWait > 0 {
		header.Set("X-MQS-MAX-WAIT-TIME", strconv.Itoa(int(maxWait/time.Second)))
	}

	resp, err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(queue), header, nil)
	if err != nil {
		return nil, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusNoContent:
		return nil, nil
	case http.StatusOK:
	default:
		return nil, apiError(resp)
	}

	id, err := uuid.Parse(resp.Header.Get("X-MQS-MESSAGE-ID"))
	if err != nil {
		return nil, fmt.Errorf("mqs: invalid message id header: %w", err)
	}
	receives, _ := strconv.Atoi(resp.Header.Get("X-MQS-MESSAGE-RECEIVES"))
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("mqs: read payload: %w", err)
	}

	return &Message{
		ID:              id,
		Payload:         payload,
		ContentType:     resp.Header.Get("Content-Type"),
		ContentEncoding: resp.Header.Get("Content-Encoding"),
		Receives:        receives,
	}, nil
}

// DeleteMessage acknowledges a message. It reports whether the message still
// existed.
func (c *Client) DeleteMessage(ctx context.Context, id uuid.UUID) (bool, error) {
	resp, err := c.do(ctx, http.MethodDelete, "/messages/"+id.String(), nil, nil)
	if err != nil {
		return false, err
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, apiError(resp)
	}
}

// Healthy reports whether the server considers itself green.
func (c *Client) Healthy(ctx context.Context) bool {
	resp, err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return false
	}
	defer drain(resp)
	return resp.StatusCode == http.StatusOK
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// do executes the request with retries on transient failures. The request is
// rebuilt per attempt so bodies can be resent.
func (c *Client) do(ctx context.Context, method, path string, header http.Header, body []byte) (*http.Response, error) {
	var (
		resp *http.Response
		err  error
	)

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		var req *http.Request
		req, err = http.NewRequestWithContext(ctx, method, c.base+path, reader)
		if err != nil {
			return nil, fmt.Errorf("mqs: new request: %w", err)
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err = c.http.Do(req)
		if err == nil && resp.StatusCode < 500 {
			return resp, nil
		}

		if attempt < c.maxRetries {
			// Drain body on retry to allow connection reuse.
			if resp != nil {
				drain(resp)
			}
			delay := c.baseDelay * (1 << uint(attempt))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	if err != nil {
		return nil, fmt.Errorf("mqs: all %d attempts failed: %w", c.maxRetries+1, err)
	}
	return resp, nil
}

// doJSON sends an optional JSON body and decodes a JSON response when the
// status matches want.
func (c *Client) doJSON(ctx context.Context, method, path string, in any, want int, out any) error {
	var (
		body   []byte
		err    error
		header = http.Header{}
	)
	if in != nil {
		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("mqs: encode request: %w", err)
		}
		header.Set("Content-Type", "application/json; charset=utf-8")
	}

	resp, err := c.do(ctx, method, path, header, body)
	if err != nil {
		return err
	}
	defer drain(resp)

	if resp.StatusCode != want {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("mqs: decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body)
	return &APIError{Status: resp.StatusCode, Message: body.Error}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
