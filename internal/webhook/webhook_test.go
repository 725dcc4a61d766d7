package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/config"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

type receiver struct {
	mu       sync.Mutex
	requests []*http.Request
	bodies   [][]byte
}

func (r *receiver) record(req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	r.bodies = append(r.bodies, body)
}

func (r *receiver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func closeService(t *testing.T, s *Service) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
}

func TestWebhookNotify(t *testing.T) {
	rec := &receiver{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s := NewService(config.WebhookConfig{
		Endpoints: []models.WebhookEndpoint{
			{URL: server.URL, Secret: "s3cret"},
			{URL: server.URL + "/failures-only", Events: []string{models.WebhookEventExportFailed}},
		},
	}, nil)

	job := &models.ExportJob{ID: "job-1", Status: models.JobStatusCompleted}
	require.NoError(t, s.Notify(context.Background(), models.WebhookEventExportCompleted, job))
	closeService(t, s)

	require.Equal(t, 1, rec.count(), "unsubscribed endpoint is skipped")
	req, body := rec.requests[0], rec.bodies[0]
	assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
	assert.Equal(t, models.WebhookEventExportCompleted, req.Header.Get("X-Webhook-Event"))
	assert.NotEmpty(t, req.Header.Get("X-Webhook-Delivery"))
	assert.True(t, VerifySignature(body, "s3cret", req.Header.Get("X-Webhook-Signature")))

	var payload struct {
		Event string           `json:"event"`
		Data  models.ExportJob `json:"data"`
	}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, models.WebhookEventExportCompleted, payload.Event)
	assert.Equal(t, models.JobID("job-1"), payload.Data.ID)
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	s := NewService(config.WebhookConfig{
		Endpoints:  []models.WebhookEndpoint{{URL: server.URL}},
		MaxRetries: 3,
	}, nil)
	s.retryBase = time.Millisecond

	require.NoError(t, s.Notify(context.Background(), models.WebhookEventExportFailed, &models.ExportJob{ID: "job-2"}))
	require.Eventually(t, func() bool { return calls.Load() == 3 }, 5*time.Second, 5*time.Millisecond)
	closeService(t, s)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	s := NewService(config.WebhookConfig{
		Endpoints:  []models.WebhookEndpoint{{URL: server.URL}},
		MaxRetries: 5,
	}, nil)
	s.retryBase = time.Millisecond

	require.NoError(t, s.Notify(context.Background(), models.WebhookEventExportStarted, &models.ExportJob{ID: "job-3"}))
	closeService(t, s)
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhookCloseAbandonsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s := NewService(config.WebhookConfig{
		Endpoints:  []models.WebhookEndpoint{{URL: server.URL}},
		MaxRetries: 10,
	}, nil)
	s.retryBase = time.Hour

	require.NoError(t, s.Notify(context.Background(), models.WebhookEventExportFailed, &models.ExportJob{ID: "job-4"}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, s.Close(ctx), "a pending hour-long backoff must not block shutdown")
}

func TestWebhookSignature(t *testing.T) {
	payload := []byte(`{"event":"test"}`)

	signature := generateSignature(payload, "test-secret")
	assert.Equal(t, "sha256=", signature[:7])
	assert.Len(t, signature, 7+64)
	assert.True(t, VerifySignature(payload, "test-secret", signature))
	assert.False(t, VerifySignature(payload, "other-secret", signature))
	assert.False(t, VerifySignature([]byte(`{"event":"tampered"}`), "test-secret", signature))
}
