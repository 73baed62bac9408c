package payments

import (
	"context"
	"errors"
	"testing"

	"gorm.io/gorm"

	"github.com/Amankrah/pathfinders/internal/modules/card"
	"github.com/Amankrah/pathfinders/internal/modules/momo"
)

func newTestWebhookService(t *testing.T) (*WebhookService, *Engine, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	engine := NewEngine(db, &fakeCardProvider{}, &fakeMomoGateway{}, testLogger())
	return NewWebhookService(db, engine, nil, testLogger()), engine, db
}

func countEvents(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&ProviderEvent{}).Count(&n).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	return n
}

func TestHandleMobileMoneyDedupe(t *testing.T) {
	ws, _, db := newTestWebhookService(t)
	ctx := context.Background()

	seedIntent(t, db, PaymentIntent{GatewayCorrelationID: strptr("ref-1")})

	sig := MobileMoneySignal{ReferenceID: "ref-1", Status: momo.StatusSuccessful, FinancialTransactionID: "fin-1"}
	raw := []byte(`{"referenceId":"ref-1","status":"SUCCESSFUL"}`)

	if err := ws.HandleMobileMoney(ctx, sig, raw); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// Redelivery of the same reference+status is swallowed at the ledger.
	if err := ws.HandleMobileMoney(ctx, sig, raw); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if n := countEvents(t, db); n != 1 {
		t.Fatalf("ledger rows = %d, want 1", n)
	}

	// A different status for the same reference is a distinct event.
	if err := ws.HandleMobileMoney(ctx, MobileMoneySignal{
		ReferenceID: "ref-1", Status: momo.StatusFailed,
	}, nil); err != nil {
		t.Fatalf("distinct status: %v", err)
	}
	if n := countEvents(t, db); n != 2 {
		t.Fatalf("ledger rows = %d, want 2", n)
	}

	var ev ProviderEvent
	if err := db.First(&ev, "provider = ? AND event_id = ?", ProviderMTNMoMo, "ref-1/SUCCESSFUL").Error; err != nil {
		t.Fatalf("ledger lookup: %v", err)
	}
	if ev.ProcessedAt == nil {
		t.Fatal("processed_at not set")
	}
}

func TestHandleCardDedupe(t *testing.T) {
	ws, _, db := newTestWebhookService(t)
	ctx := context.Background()

	seedIntent(t, db, PaymentIntent{Channel: ChannelCard, GatewayCorrelationID: strptr("pi_1")})

	ev := card.Event{ID: "evt-1", Type: card.EventCheckoutCompleted, PaymentIntentID: "pi_1"}
	if err := ws.HandleCard(ctx, ev, []byte(`{"id":"evt-1"}`)); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := ws.HandleCard(ctx, ev, []byte(`{"id":"evt-1"}`)); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if n := countEvents(t, db); n != 1 {
		t.Fatalf("ledger rows = %d, want 1", n)
	}
}

// A delivery that cannot be applied yet must not burn its dedupe slot: the
// ledger row rolls back with the failed apply, and the provider's retry of
// the same event id is processed fresh once the intent is ready.
func TestHandleCardRetryAfterFailedApply(t *testing.T) {
	ws, _, db := newTestWebhookService(t)
	ctx := context.Background()

	intent := seedIntent(t, db, PaymentIntent{Channel: ChannelCard})

	// Webhook races ahead of the correlation id being stored.
	ev := card.Event{ID: "evt-race", Type: card.EventCheckoutCompleted, PaymentIntentID: "pi_race"}
	err := ws.HandleCard(ctx, ev, []byte(`{"id":"evt-race"}`))
	if !errors.Is(err, ErrIntentNotFound) {
		t.Fatalf("got %v, want ErrIntentNotFound", err)
	}
	if n := countEvents(t, db); n != 0 {
		t.Fatalf("ledger rows after failed apply = %d, want 0", n)
	}

	// Correlation lands, then the provider retries the same event.
	if err := db.Model(&PaymentIntent{}).Where("id = ?", intent.ID).
		Update("gateway_correlation_id", "pi_race").Error; err != nil {
		t.Fatalf("set correlation: %v", err)
	}
	if err := ws.HandleCard(ctx, ev, []byte(`{"id":"evt-race"}`)); err != nil {
		t.Fatalf("retry: %v", err)
	}

	got := mustFind(t, db, intent.ID)
	if got.Status != StatusPaid {
		t.Fatalf("status after retry = %q, want %q", got.Status, StatusPaid)
	}
	if n := countEvents(t, db); n != 1 {
		t.Fatalf("ledger rows = %d, want 1", n)
	}
}
