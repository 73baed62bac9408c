package handlers

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Amankrah/pathfinders/internal/modules/card"
	"github.com/Amankrah/pathfinders/internal/modules/payments"
)

var webhookSecret = []byte("test-secret")

func newWebhookTestServer(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&payments.PaymentIntent{}, &payments.ProviderEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := card.NewMockGateway(webhookSecret, "http://localhost:8080")
	engine := payments.NewEngine(db, provider, nil, logger)
	svc := payments.NewWebhookService(db, engine, nil, logger)
	h := NewWebhookHandler(logger, provider, svc)

	r := gin.New()
	r.POST("/webhooks/card", h.CardWebhook)
	r.POST("/webhooks/momo", h.MomoWebhook)
	return r, db
}

func seedCorrelatedIntent(t *testing.T, db *gorm.DB, channel, ref string) payments.PaymentIntent {
	t.Helper()
	intent := payments.PaymentIntent{
		ID:                   "intent-" + ref,
		Channel:              channel,
		Purpose:              payments.PurposeDonation,
		AmountCents:          500,
		Currency:             "GHS",
		GatewayCorrelationID: &ref,
		Status:               payments.StatusPending,
		CreatedAt:            time.Now(),
		UpdatedAt:            time.Now(),
	}
	if err := db.Create(&intent).Error; err != nil {
		t.Fatalf("seed intent: %v", err)
	}
	return intent
}

func signedCardBody(t *testing.T, eventType, paymentIntent string) ([]byte, string) {
	t.Helper()
	payload := map[string]any{
		"id":   "evt_1",
		"type": eventType,
		"data": map[string]any{"payment_intent": paymentIntent},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ts := time.Now().Unix()
	sig := hex.EncodeToString(card.ComputeSignature(webhookSecret, ts, body))
	return body, fmt.Sprintf("t=%d,v1=%s", ts, sig)
}

func TestCardWebhookEndToEnd(t *testing.T) {
	r, db := newWebhookTestServer(t)
	seedCorrelatedIntent(t, db, payments.ChannelCard, "pi_777")

	body, sig := signedCardBody(t, card.EventCheckoutCompleted, "pi_777")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/card", bytes.NewReader(body))
	req.Header.Set(card.SignatureHeader, sig)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var got payments.PaymentIntent
	if err := db.First(&got, "id = ?", "intent-pi_777").Error; err != nil {
		t.Fatalf("reload intent: %v", err)
	}
	if got.Status != payments.StatusPaid {
		t.Fatalf("status = %q, want paid", got.Status)
	}
}

func TestCardWebhookRejectsBadSignature(t *testing.T) {
	r, db := newWebhookTestServer(t)
	intent := seedCorrelatedIntent(t, db, payments.ChannelCard, "pi_888")

	body, _ := signedCardBody(t, card.EventCheckoutCompleted, "pi_888")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/card", bytes.NewReader(body))
	req.Header.Set(card.SignatureHeader, "t=1,v1=deadbeef")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	var got payments.PaymentIntent
	if err := db.First(&got, "id = ?", intent.ID).Error; err != nil {
		t.Fatalf("reload intent: %v", err)
	}
	if got.Status != payments.StatusPending {
		t.Fatalf("rejected webhook changed state to %q", got.Status)
	}
}

func TestCardWebhookIgnoresOtherEventTypes(t *testing.T) {
	r, _ := newWebhookTestServer(t)

	body, sig := signedCardBody(t, "checkout.session.expired", "pi_999")
	req := httptest.NewRequest(http.MethodPost, "/webhooks/card", bytes.NewReader(body))
	req.Header.Set(card.SignatureHeader, sig)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "ignored") {
		t.Fatalf("expected ignored ack, got %s", w.Body.String())
	}
}

func TestMomoWebhook(t *testing.T) {
	r, db := newWebhookTestServer(t)
	seedCorrelatedIntent(t, db, payments.ChannelMobileMoney, "r1")

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/momo", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	if w := post(`{"status":"SUCCESSFUL"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("missing referenceId: status = %d, want 400", w.Code)
	}
	if w := post(`{"referenceId":"ghost","status":"SUCCESSFUL"}`); w.Code != http.StatusNotFound {
		t.Fatalf("unknown reference: status = %d, want 404", w.Code)
	}

	w := post(`{"referenceId":"r1","status":"SUCCESSFUL","financialTransactionId":"f1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var got payments.PaymentIntent
	if err := db.First(&got, "id = ?", "intent-r1").Error; err != nil {
		t.Fatalf("reload intent: %v", err)
	}
	if got.Status != payments.StatusPaid {
		t.Fatalf("status = %q, want paid", got.Status)
	}
	if got.FinancialTransactionID == nil || *got.FinancialTransactionID != "f1" {
		t.Fatalf("financial transaction id = %v, want f1", got.FinancialTransactionID)
	}

	// Redelivery acks without error.
	if w := post(`{"referenceId":"r1","status":"SUCCESSFUL","financialTransactionId":"f1"}`); w.Code != http.StatusOK {
		t.Fatalf("redelivery: status = %d", w.Code)
	}
}
