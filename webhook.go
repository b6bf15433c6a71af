package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// maxWebhookBody matches GitHub's 25 MB payload cap.
const maxWebhookBody = 25 << 20

// WebhookMessage is a verified webhook delivery, as queued for processing.
type WebhookMessage struct {
	DeliveryID string          `json:"delivery_id"`
	EventType  string          `json:"event_type"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"received_at"`
}

// EventPublisher hands verified deliveries to the asynchronous pipeline.
type EventPublisher interface {
	PublishWebhookEvent(ctx context.Context, msg WebhookMessage) error
}

// verifyWebhookSignature validates an X-Hub-Signature-256 header value
// ("sha256=<hex>") against payload with a constant-time compare.
func verifyWebhookSignature(payload []byte, signature string, secret string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")

	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	expected := hex.EncodeToString(h.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(signature))
}

// WebhookHandler receives GitHub webhooks. Deliveries are verified, then
// queued when a publisher is configured or processed inline otherwise.
type WebhookHandler struct {
	secret    string
	publisher EventPublisher // nil = inline processing
	processor *EventProcessor
	logger    *zap.Logger
	metrics   *Metrics
	now       func() time.Time
}

// NewWebhookHandler creates the handler. publisher may be nil.
func NewWebhookHandler(secret string, publisher EventPublisher, processor *EventProcessor, logger *zap.Logger, metrics *Metrics) *WebhookHandler {
	return &WebhookHandler{
		secret:    secret,
		publisher: publisher,
		processor: processor,
		logger:    logger.Named("webhook"),
		metrics:   metrics,
		now:       time.Now,
	}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		h.logger.Error("GITHUB_APP_WEBHOOK_SECRET not set")
		respondError(w, http.StatusInternalServerError, "webhook secret not configured")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondError(w, http.StatusBadRequest, "cannot read body")
		return
	}

	signature := r.Header.Get("X-Hub-Signature-256")
	if signature == "" {
		h.logger.Warn("X-Hub-Signature-256 header missing")
		respondError(w, http.StatusBadRequest, "signature missing")
		return
	}
	if !verifyWebhookSignature(body, signature, h.secret) {
		h.logger.Warn("invalid webhook signature")
		respondError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	if !json.Valid(body) {
		respondError(w, http.StatusBadRequest, "invalid payload format")
		return
	}

	msg := WebhookMessage{
		DeliveryID: r.Header.Get("X-GitHub-Delivery"),
		EventType:  r.Header.Get("X-GitHub-Event"),
		Payload:    body,
		ReceivedAt: h.now().UTC(),
	}
	h.metrics.webhookEvent(msg.EventType)
	h.logger.Info("webhook verified",
		zap.String("event", msg.EventType), zap.String("delivery", msg.DeliveryID))

	queued := false
	if h.publisher != nil {
		if err := h.publisher.PublishWebhookEvent(r.Context(), msg); err != nil {
			h.logger.Warn("publish failed, processing inline", zap.Error(err))
		} else {
			queued = true
		}
	}
	if !queued {
		if err := h.processor.Handle(r.Context(), msg); err != nil {
			h.logger.Error("webhook processing failed",
				zap.String("event", msg.EventType), zap.String("delivery", msg.DeliveryID), zap.Error(err))
			respondError(w, http.StatusInternalServerError, "webhook processing failed")
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"received": true,
		"event":    msg.EventType,
		"queued":   queued,
	})
}

// Health reports whether the endpoint can verify deliveries.
func (h *WebhookHandler) Health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"secretConfigured": h.secret != "",
		"queue":            h.publisher != nil,
	})
}
