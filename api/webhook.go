package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/smartcare/billing/models"
	"github.com/smartcare/billing/services"
)

const maxWebhookBodyBytes = 65536

// WebhookEventStore persists the inbound event log used for dedup and audit.
type WebhookEventStore interface {
	Create(ctx context.Context, event *models.WebhookEvent) error
	GetByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
}

type WebhookHandler struct {
	paymentService *services.PaymentService
	events         WebhookEventStore
	signingSecret  string
	logger         zerolog.Logger
}

func CreateWebhookHandler(paymentService *services.PaymentService, events WebhookEventStore, signingSecret string, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		paymentService: paymentService,
		events:         events,
		signingSecret:  signingSecret,
		logger:         logger,
	}
}

// intentEventData is the slice of a payment_intent event payload the ledger
// reads.
type intentEventData struct {
	ID               string `json:"id"`
	Status           string `json:"status"`
	LastPaymentError *struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

// HandleStripeWebhook verifies the signature, logs the event, and hands it
// to the payment processor. A processing failure returns 500 so the gateway
// redelivers; reconciliation is idempotent, so redelivery is safe.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "Failed to read webhook payload", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		http.Error(w, "Missing Stripe signature", http.StatusUnauthorized)
		return
	}
	// Version mismatches are tolerated: the ledger reads a stable slice of
	// the event payload.
	event, err := webhook.ConstructEventWithOptions(payload, signature, h.signingSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.logger.Warn().Err(err).Msg("webhook signature verification failed")
		http.Error(w, "Invalid webhook signature", http.StatusUnauthorized)
		return
	}

	ctx := r.Context()
	existing, err := h.events.GetByEventID(ctx, event.ID)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if existing != nil && existing.Status == models.WebhookEventStatusCompleted {
		h.ack(w, string(event.Type))
		return
	}

	var data intentEventData
	if len(event.Data.Raw) > 0 {
		if err := json.Unmarshal(event.Data.Raw, &data); err != nil {
			h.logger.Warn().Err(err).Str("event_id", event.ID).Msg("unparseable webhook event data")
		}
	}

	record := existing
	if record == nil {
		record = &models.WebhookEvent{
			ID:              uuid.NewString(),
			EventID:         event.ID,
			EventType:       string(event.Type),
			GatewayIntentID: data.ID,
			GatewayStatus:   data.Status,
			Status:          models.WebhookEventStatusPending,
		}
		if err := h.events.Create(ctx, record); err != nil {
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	}
	if err := h.events.MarkProcessing(ctx, record.ID); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	failureReason := ""
	if data.LastPaymentError != nil {
		failureReason = data.LastPaymentError.Message
	}
	if err := h.paymentService.HandleWebhookEvent(ctx, string(event.Type), data.ID, data.Status, failureReason); err != nil {
		h.logger.Error().Err(err).
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("webhook processing failed")
		if markErr := h.events.MarkFailed(ctx, record.ID, err.Error()); markErr != nil {
			h.logger.Error().Err(markErr).Str("event_id", event.ID).Msg("failed to mark webhook event failed")
		}
		http.Error(w, "Webhook processing failed", http.StatusInternalServerError)
		return
	}

	if err := h.events.MarkCompleted(ctx, record.ID); err != nil {
		h.logger.Error().Err(err).Str("event_id", event.ID).Msg("failed to mark webhook event completed")
	}
	h.ack(w, string(event.Type))
}

func (h *WebhookHandler) ack(w http.ResponseWriter, eventType string) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"received":   true,
		"event_type": eventType,
	})
}

func (h *WebhookHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks/stripe", h.HandleStripeWebhook).Methods("POST")
}
