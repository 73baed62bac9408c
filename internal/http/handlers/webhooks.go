package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Amankrah/pathfinders/internal/modules/card"
	"github.com/Amankrah/pathfinders/internal/modules/payments"
)

type WebhookHandler struct {
	Logger     *slog.Logger
	Card       card.Provider
	WebhookSvc *payments.WebhookService
}

func NewWebhookHandler(logger *slog.Logger, cardProvider card.Provider, svc *payments.WebhookService) *WebhookHandler {
	return &WebhookHandler{Logger: logger, Card: cardProvider, WebhookSvc: svc}
}

// POST /webhooks/card
// Raw body; the signature header is validated by the provider adapter before
// anything is recorded.
func (h *WebhookHandler) CardWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	ev, err := h.Card.VerifyAndParseWebhook(c.Request.Header, body)
	if err != nil {
		h.Logger.Warn("card webhook rejected", "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid signature or payload"})
		return
	}

	if ev.Type != card.EventCheckoutCompleted {
		// Acknowledged but not our concern.
		c.JSON(http.StatusOK, gin.H{"ok": true, "ignored": true})
		return
	}

	if err := h.WebhookSvc.HandleCard(c.Request.Context(), ev, body); err != nil {
		if errors.Is(err, payments.ErrIntentNotFound) {
			h.Logger.Error("card webhook for unknown intent", "event_id", ev.ID, "payment_intent", ev.PaymentIntentID)
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "unknown payment intent"})
			return
		}
		// 500 so the provider retries.
		h.Logger.Error("card webhook apply failed", "event_id", ev.ID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type momoWebhookPayload struct {
	ReferenceID            string          `json:"referenceId"`
	Status                 string          `json:"status"`
	FinancialTransactionID string          `json:"financialTransactionId"`
	Reason                 json.RawMessage `json:"reason"`
}

// POST /webhooks/momo
// The mobile-money gateway signs nothing, so the payload is treated as a
// hint: it is archived and deduped, and SUCCESSFUL is re-checked against the
// intent we issued ourselves.
func (h *WebhookHandler) MomoWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid body"})
		return
	}

	var payload momoWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.ReferenceID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "referenceId is required"})
		return
	}

	sig := payments.MobileMoneySignal{
		ReferenceID:            payload.ReferenceID,
		Status:                 payload.Status,
		FinancialTransactionID: payload.FinancialTransactionID,
		Reason:                 rawToString(payload.Reason),
	}

	if err := h.WebhookSvc.HandleMobileMoney(c.Request.Context(), sig, body); err != nil {
		if errors.Is(err, payments.ErrIntentNotFound) {
			h.Logger.Warn("momo webhook for unknown reference", "reference_id", sig.ReferenceID)
			c.JSON(http.StatusNotFound, gin.H{"ok": false, "error": "unknown reference"})
			return
		}
		h.Logger.Error("momo webhook apply failed", "reference_id", sig.ReferenceID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// rawToString renders the reason field, which the gateway sends either as a
// bare string or as a {code, message} object.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		return obj.Code
	}
	return string(raw)
}
