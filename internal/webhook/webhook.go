package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/clipexport/internal/config"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/logging"
	"github.com/therealutkarshpriyadarshi/clipexport/internal/metrics"
	"github.com/therealutkarshpriyadarshi/clipexport/pkg/models"
)

// Service delivers export lifecycle notifications to the configured endpoints
type Service struct {
	client     *http.Client
	endpoints  []models.WebhookEndpoint
	maxRetries int
	retryBase  time.Duration
	logger     *logging.Logger

	wg   sync.WaitGroup
	quit chan struct{}
	once sync.Once
}

// NewService creates a new webhook service
func NewService(cfg config.WebhookConfig, logger *logging.Logger) *Service {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Service{
		client:     &http.Client{Timeout: timeout},
		endpoints:  cfg.Endpoints,
		maxRetries: cfg.MaxRetries,
		retryBase:  time.Second,
		logger:     logger.WithComponent("webhook"),
		quit:       make(chan struct{}),
	}
}

// Notify sends event to every subscribed endpoint. Delivery happens in the
// background; Notify only fails when the payload cannot be built.
func (s *Service) Notify(ctx context.Context, event string, job *models.ExportJob) error {
	payload := models.WebhookEvent{
		Event:     event,
		Timestamp: time.Now(),
		Data:      job,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	for _, ep := range s.endpoints {
		if !ep.Subscribed(event) {
			continue
		}
		ep := ep
		deliveryID := uuid.New().String()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.deliverWithRetry(ep, event, deliveryID, body)
		}()
	}
	return nil
}

// Close stops pending retries and waits for in-flight deliveries until ctx expires
func (s *Service) Close(ctx context.Context) error {
	s.once.Do(func() { close(s.quit) })
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) deliverWithRetry(ep models.WebhookEndpoint, event, deliveryID string, body []byte) {
	log := s.logger.WithFields(map[string]interface{}{
		"url":         ep.URL,
		"event":       event,
		"delivery_id": deliveryID,
	})

	for attempt := 0; ; attempt++ {
		status, retry, err := s.deliver(ep, event, deliveryID, body)
		if err == nil {
			log.WithField("status_code", status).Debug("Webhook delivered")
			return
		}
		if !retry || attempt >= s.maxRetries {
			metrics.RecordError("webhook", "delivery")
			log.WithField("attempts", attempt+1).WarnWithErr("Webhook delivery failed", err)
			return
		}

		delay := s.retryBase << attempt
		select {
		case <-time.After(delay):
		case <-s.quit:
			log.WarnWithErr("Webhook delivery abandoned on shutdown", err)
			return
		}
	}
}

// deliver posts one attempt. It reports whether a failure is worth retrying.
func (s *Service) deliver(ep models.WebhookEndpoint, event, deliveryID string, body []byte) (int, bool, error) {
	req, err := http.NewRequest(http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return 0, false, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "ClipExport-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Delivery", deliveryID)
	if ep.Secret != "" {
		req.Header.Set("X-Webhook-Signature", generateSignature(body, ep.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, true, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.StatusCode, false, nil
	}
	retry := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
	return resp.StatusCode, retry, fmt.Errorf("endpoint returned %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
}

// generateSignature generates HMAC-SHA256 signature for webhook payload
func generateSignature(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}

// VerifySignature checks a signature header against payload
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(generateSignature(payload, secret)), []byte(signature))
}
