package payments

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Amankrah/pathfinders/internal/modules/card"
	"github.com/Amankrah/pathfinders/internal/modules/momo"
)

// newTestDB opens a per-test in-memory sqlite database. TranslateError maps
// sqlite unique violations onto gorm.ErrDuplicatedKey, matching what the
// mysql path reports in production.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Discard,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&PaymentIntent{}, &ProviderEvent{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeMomoGateway struct {
	validateErr error
	inactive    bool
	rtpErr      error
	rtpErrRefID string
	rtpCalls    int
	lastRTP     momo.RequestToPayInput
	status      momo.PaymentStatusResult
	statusErr   error
}

func (f *fakeMomoGateway) ValidateAccountHolder(ctx context.Context, phone string) (momo.ValidateResult, error) {
	if f.validateErr != nil {
		return momo.ValidateResult{}, f.validateErr
	}
	return momo.ValidateResult{Phone: phone, IsActive: !f.inactive}, nil
}

func (f *fakeMomoGateway) RequestToPay(ctx context.Context, in momo.RequestToPayInput) (momo.RequestToPayResult, error) {
	f.rtpCalls++
	f.lastRTP = in
	if f.rtpErr != nil {
		// The real client reports the minted reference id alongside failures.
		return momo.RequestToPayResult{ReferenceID: f.rtpErrRefID}, f.rtpErr
	}
	return momo.RequestToPayResult{ReferenceID: uuid.NewString(), Status: momo.StatusPending}, nil
}

func (f *fakeMomoGateway) PaymentStatus(ctx context.Context, referenceID string) (momo.PaymentStatusResult, error) {
	if f.statusErr != nil {
		return momo.PaymentStatusResult{}, f.statusErr
	}
	res := f.status
	res.ReferenceID = referenceID
	return res, nil
}

type fakeCardProvider struct {
	createErr error
	calls     int
	lastInput card.CheckoutInput
}

func (f *fakeCardProvider) Name() string { return "fakecard" }

func (f *fakeCardProvider) CreateCheckoutSession(ctx context.Context, in card.CheckoutInput) (card.CheckoutSession, error) {
	f.calls++
	f.lastInput = in
	if f.createErr != nil {
		return card.CheckoutSession{}, f.createErr
	}
	n := f.calls
	return card.CheckoutSession{
		SessionID:       fmt.Sprintf("cs_test_%d", n),
		CheckoutURL:     fmt.Sprintf("https://checkout.example/cs_test_%d", n),
		PaymentIntentID: fmt.Sprintf("pi_test_%d", n),
	}, nil
}

func (f *fakeCardProvider) VerifyAndParseWebhook(headers http.Header, body []byte) (card.Event, error) {
	return card.Event{}, fmt.Errorf("not used in these tests")
}

func newTestEngine(t *testing.T) (*Engine, *fakeMomoGateway, *fakeCardProvider) {
	t.Helper()
	db := newTestDB(t)
	mg := &fakeMomoGateway{}
	cp := &fakeCardProvider{}
	return NewEngine(db, cp, mg, testLogger()), mg, cp
}

func seedIntent(t *testing.T, db *gorm.DB, intent PaymentIntent) PaymentIntent {
	t.Helper()
	if intent.ID == "" {
		intent.ID = uuid.NewString()
	}
	if intent.Status == "" {
		intent.Status = StatusPending
	}
	if intent.Channel == "" {
		intent.Channel = ChannelMobileMoney
	}
	if intent.Purpose == "" {
		intent.Purpose = PurposeDonation
	}
	if intent.AmountCents == 0 {
		intent.AmountCents = 500
	}
	if intent.Currency == "" {
		intent.Currency = "GHS"
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}
	if intent.UpdatedAt.IsZero() {
		intent.UpdatedAt = intent.CreatedAt
	}
	if err := db.Create(&intent).Error; err != nil {
		t.Fatalf("seed intent: %v", err)
	}
	return intent
}

func mustFind(t *testing.T, db *gorm.DB, id string) PaymentIntent {
	t.Helper()
	var got PaymentIntent
	if err := db.First(&got, "id = ?", id).Error; err != nil {
		t.Fatalf("find intent %s: %v", id, err)
	}
	return got
}

func countIntents(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&PaymentIntent{}).Count(&n).Error; err != nil {
		t.Fatalf("count intents: %v", err)
	}
	return n
}

func strptr(s string) *string { return &s }
