package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Amankrah/pathfinders/internal/modules/card"
	"github.com/Amankrah/pathfinders/internal/modules/momo"
	"github.com/Amankrah/pathfinders/internal/shared/money"
)

// MobileMoneyGateway is the slice of the momo client the engine needs.
type MobileMoneyGateway interface {
	ValidateAccountHolder(ctx context.Context, phone string) (momo.ValidateResult, error)
	RequestToPay(ctx context.Context, in momo.RequestToPayInput) (momo.RequestToPayResult, error)
	PaymentStatus(ctx context.Context, referenceID string) (momo.PaymentStatusResult, error)
}

// Engine owns the payment-intent lifecycle: creation with the
// one-pending-per-owner-per-channel rule, gateway dispatch, and reconciling
// webhook/poll/reaper signals into state transitions. All transitions are
// idempotent and `paid` is absorbing.
type Engine struct {
	db     *gorm.DB
	store  *Store
	card   card.Provider
	momo   MobileMoneyGateway
	logger *slog.Logger

	StaleTTL time.Duration
}

func NewEngine(db *gorm.DB, cardProvider card.Provider, momoGateway MobileMoneyGateway, logger *slog.Logger) *Engine {
	return &Engine{
		db:       db,
		store:    NewStore(db),
		card:     cardProvider,
		momo:     momoGateway,
		logger:   logger,
		StaleTTL: DefaultStaleTTL,
	}
}

func (e *Engine) Store() *Store { return e.store }

type SubmitDonationInput struct {
	OwnerID     *string // nil = anonymous
	Channel     string
	Purpose     string // defaults to donation
	AmountCents int64
	Currency    string
	Phone       string // mobile money only
	Message     string
	Email       string // anonymous card metadata only

	SuccessURL string
	CancelURL  string
}

type SubmitDonationResult struct {
	IntentID      string
	Status        string
	CorrelationID string

	// Card only.
	SessionID   string
	CheckoutURL string
}

// SubmitDonation runs the create transition: validate, purge the owner's
// stale pending intent on this channel, reject on a live duplicate, create
// the intent, then hand it to the chosen gateway. A gateway rejection deletes
// the just-created row instead of leaving an orphaned pending intent. The
// anonymous flow is the same path minus the uniqueness check (no stable
// owner key).
func (e *Engine) SubmitDonation(ctx context.Context, in SubmitDonationInput) (SubmitDonationResult, error) {
	if in.AmountCents <= 0 {
		return SubmitDonationResult{}, ErrInvalidAmount
	}
	if in.Channel != ChannelCard && in.Channel != ChannelMobileMoney {
		return SubmitDonationResult{}, ErrInvalidChannel
	}
	purpose := in.Purpose
	if purpose == "" {
		purpose = PurposeDonation
	}

	phone := ""
	if in.Channel == ChannelMobileMoney {
		if in.Phone == "" {
			return SubmitDonationResult{}, ErrPhoneRequired
		}
		var err error
		phone, err = momo.NormalizeMSISDN(in.Phone)
		if err != nil {
			return SubmitDonationResult{}, ErrInvalidPhone
		}
	}

	now := time.Now()
	cutoff := now.Add(-e.StaleTTL)

	intent := PaymentIntent{
		ID:          uuid.NewString(),
		OwnerID:     in.OwnerID,
		Channel:     in.Channel,
		Purpose:     purpose,
		AmountCents: in.AmountCents,
		Currency:    strings.ToUpper(in.Currency),
		Status:      StatusPending,
		Message:     truncate(in.Message, 500),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	// Purge, conflict check, and create share one transaction; the locked
	// read keeps two concurrent submits from both slipping past the
	// one-pending-per-owner-per-channel rule.
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.OwnerID != nil {
			res := tx.Where("owner_id = ? AND channel = ? AND status = ? AND created_at < ?",
				*in.OwnerID, in.Channel, StatusPending, cutoff).
				Delete(&PaymentIntent{})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				e.logger.Info("purged stale pending donations before create",
					"owner_id", *in.OwnerID, "channel", in.Channel, "count", res.RowsAffected)
			}

			var existing PaymentIntent
			ferr := lockForUpdate(tx).
				Where("owner_id = ? AND channel = ? AND status = ?", *in.OwnerID, in.Channel, StatusPending).
				First(&existing).Error
			if ferr == nil {
				return ErrPendingExists
			}
			if !errors.Is(ferr, gorm.ErrRecordNotFound) {
				return ferr
			}
		}
		return tx.Create(&intent).Error
	})
	if err != nil {
		return SubmitDonationResult{}, err
	}

	switch in.Channel {
	case ChannelMobileMoney:
		return e.dispatchMobileMoney(ctx, intent, phone)
	default:
		return e.dispatchCard(ctx, intent, in)
	}
}

func (e *Engine) dispatchMobileMoney(ctx context.Context, intent PaymentIntent, phone string) (SubmitDonationResult, error) {
	// Advisory only: validation regularly fails in sandbox, so a failure is
	// logged and the request-to-pay still goes out.
	if v, err := e.momo.ValidateAccountHolder(ctx, phone); err != nil {
		e.logger.Warn("account holder validation failed, continuing",
			"intent_id", intent.ID, "err", err.Error())
	} else if !v.IsActive {
		e.logger.Warn("account holder reported inactive, continuing",
			"intent_id", intent.ID)
	}

	ownerTag := "anonymous"
	if intent.OwnerID != nil {
		ownerTag = *intent.OwnerID
	}

	res, err := e.momo.RequestToPay(ctx, momo.RequestToPayInput{
		AmountCents:  intent.AmountCents,
		Currency:     intent.Currency,
		Phone:        phone,
		ExternalID:   fmt.Sprintf("donation_%s_%d", ownerTag, intent.CreatedAt.Unix()),
		PayerMessage: "Donation to Pathfinders - " + money.FormatWithCurrency(intent.AmountCents, intent.Currency),
		PayeeNote:    "Thank you for your donation to Pathfinders ministry",
	})
	if err != nil {
		var ge *momo.GatewayError
		if errors.As(err, &ge) && ge.OutcomeUnknown() && res.ReferenceID != "" {
			// Timeout: the gateway may have accepted the request. Keep the
			// intent pending under its reference id so a webhook or poll can
			// settle it instead of guessing at failure.
			if serr := e.store.SetCorrelationID(ctx, intent.ID, res.ReferenceID); serr != nil {
				e.logger.Error("failed to store reference id after timeout",
					"intent_id", intent.ID, "err", serr)
			}
			e.logger.Warn("request to pay outcome unknown, left pending",
				"intent_id", intent.ID, "reference_id", res.ReferenceID, "err", err.Error())
			return SubmitDonationResult{}, &GatewayFailure{Channel: ChannelMobileMoney, Err: err}
		}

		// Definitive rejection: don't leave an orphaned pending row behind.
		if delErr := e.store.Delete(ctx, intent.ID); delErr != nil {
			e.logger.Error("failed to delete intent after gateway rejection",
				"intent_id", intent.ID, "err", delErr)
		}
		return SubmitDonationResult{}, &GatewayFailure{Channel: ChannelMobileMoney, Err: err}
	}

	if err := e.store.SetCorrelationID(ctx, intent.ID, res.ReferenceID); err != nil {
		return SubmitDonationResult{}, err
	}

	e.logger.Info("mobile money donation initiated",
		"intent_id", intent.ID, "reference_id", res.ReferenceID)

	return SubmitDonationResult{
		IntentID:      intent.ID,
		Status:        StatusPending,
		CorrelationID: res.ReferenceID,
	}, nil
}

func (e *Engine) dispatchCard(ctx context.Context, intent PaymentIntent, in SubmitDonationInput) (SubmitDonationResult, error) {
	metadata := map[string]string{
		"intent_id": intent.ID,
		"purpose":   intent.Purpose,
	}
	if intent.Message != "" {
		metadata["message"] = intent.Message
	}
	if in.Email != "" {
		metadata["email"] = in.Email
	}
	if intent.OwnerID != nil {
		metadata["user_id"] = *intent.OwnerID
	} else {
		metadata["donation_type"] = "anonymous"
	}

	sess, err := e.card.CreateCheckoutSession(ctx, card.CheckoutInput{
		AmountCents: intent.AmountCents,
		Currency:    intent.Currency,
		Description: "Donation to Pathfinders",
		SuccessURL:  in.SuccessURL,
		CancelURL:   in.CancelURL,
		Metadata:    metadata,
	})
	if err != nil {
		if delErr := e.store.Delete(ctx, intent.ID); delErr != nil {
			e.logger.Error("failed to delete intent after gateway rejection",
				"intent_id", intent.ID, "err", delErr)
		}
		return SubmitDonationResult{}, &GatewayFailure{Channel: ChannelCard, Err: err}
	}

	if err := e.store.SetCorrelationID(ctx, intent.ID, sess.PaymentIntentID); err != nil {
		return SubmitDonationResult{}, err
	}

	e.logger.Info("card checkout session created",
		"intent_id", intent.ID, "session_id", sess.SessionID, "payment_intent", sess.PaymentIntentID)

	// The checkout session itself is the payment instrument; the intent
	// stays pending until the completion webhook lands.
	return SubmitDonationResult{
		IntentID:      intent.ID,
		Status:        StatusPending,
		CorrelationID: sess.PaymentIntentID,
		SessionID:     sess.SessionID,
		CheckoutURL:   sess.CheckoutURL,
	}, nil
}

// ApplyCardEvent applies a verified checkout completion. Unknown correlation
// ids are an integrity error (ErrIntentNotFound), never papered over by
// creating a record. Replays on an already-paid intent are no-ops.
func (e *Engine) ApplyCardEvent(ctx context.Context, ev card.Event) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return e.applyCardEvent(tx, ev)
	})
}

// applyCardEvent runs inside the caller's transaction so the webhook ledger
// row and the intent transition commit or roll back together.
func (e *Engine) applyCardEvent(tx *gorm.DB, ev card.Event) error {
	if ev.Type != card.EventCheckoutCompleted {
		return nil
	}
	if ev.PaymentIntentID == "" {
		return fmt.Errorf("card event %s missing payment intent id", ev.ID)
	}

	var intent PaymentIntent
	err := lockForUpdate(tx).
		First(&intent, "gateway_correlation_id = ?", ev.PaymentIntentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrIntentNotFound
	}
	if err != nil {
		return err
	}

	if intent.Status == StatusPaid {
		return nil // idempotent replay
	}
	if intent.Status != StatusPending {
		e.logger.Warn("card completion for non-pending intent ignored",
			"intent_id", intent.ID, "status", intent.Status)
		return nil
	}

	updates := map[string]any{
		"status":     StatusPaid,
		"updated_at": time.Now(),
	}
	if msg := ev.Metadata["message"]; msg != "" {
		updates["message"] = truncate(msg, 500)
	}
	if err := tx.Model(&PaymentIntent{}).
		Where("id = ? AND status = ?", intent.ID, StatusPending).
		Updates(updates).Error; err != nil {
		return err
	}

	e.logger.Info("card donation completed",
		"intent_id", intent.ID, "amount_cents", intent.AmountCents, "currency", intent.Currency)
	return nil
}

// MobileMoneySignal is one reconciliation input for a mobile-money intent,
// whether it arrived by webhook or by explicit status poll.
type MobileMoneySignal struct {
	ReferenceID            string
	Status                 string
	FinancialTransactionID string
	Reason                 string
}

// ApplyMobileMoneySignal merges a gateway status into the intent.
// SUCCESSFUL -> paid (recording the gateway's financial transaction id),
// FAILED -> failed (kept for audit), PENDING -> no-op. Terminal states are
// append-only: a late signal on a settled intent, in either direction, is
// logged and ignored. Unknown statuses never crash reconciliation.
func (e *Engine) ApplyMobileMoneySignal(ctx context.Context, sig MobileMoneySignal) error {
	return e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return e.applyMobileMoneySignal(tx, sig)
	})
}

func (e *Engine) applyMobileMoneySignal(tx *gorm.DB, sig MobileMoneySignal) error {
	if sig.ReferenceID == "" {
		return fmt.Errorf("mobile money signal missing reference id")
	}

	var intent PaymentIntent
	err := lockForUpdate(tx).
		First(&intent, "gateway_correlation_id = ?", sig.ReferenceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrIntentNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now()

	switch sig.Status {
	case momo.StatusSuccessful:
		if intent.Status == StatusPaid {
			return nil // idempotent replay
		}
		if intent.Status != StatusPending {
			e.logger.Warn("SUCCESSFUL signal for non-pending intent ignored",
				"intent_id", intent.ID, "reference_id", sig.ReferenceID, "status", intent.Status)
			return nil
		}
		updates := map[string]any{
			"status":     StatusPaid,
			"updated_at": now,
		}
		if sig.FinancialTransactionID != "" {
			updates["financial_transaction_id"] = sig.FinancialTransactionID
		}
		if err := tx.Model(&PaymentIntent{}).
			Where("id = ? AND status = ?", intent.ID, StatusPending).
			Updates(updates).Error; err != nil {
			return err
		}
		e.logger.Info("mobile money donation completed",
			"intent_id", intent.ID, "reference_id", sig.ReferenceID,
			"financial_transaction_id", sig.FinancialTransactionID)
		return nil

	case momo.StatusFailed:
		if intent.Status == StatusPaid {
			e.logger.Warn("FAILED signal after paid ignored",
				"intent_id", intent.ID, "reference_id", sig.ReferenceID, "reason", sig.Reason)
			return nil
		}
		if intent.Status == StatusFailed {
			return nil
		}
		e.logger.Warn("mobile money donation failed",
			"intent_id", intent.ID, "reference_id", sig.ReferenceID, "reason", sig.Reason)
		return tx.Model(&PaymentIntent{}).
			Where("id = ? AND status = ?", intent.ID, StatusPending).
			Updates(map[string]any{
				"status":     StatusFailed,
				"updated_at": now,
			}).Error

	case momo.StatusPending:
		return nil

	default:
		e.logger.Warn("unknown mobile money status ignored",
			"intent_id", intent.ID, "reference_id", sig.ReferenceID, "status", sig.Status)
		return nil
	}
}

type MobileMoneyStatus struct {
	ReferenceID            string
	Status                 string
	Amount                 string
	Currency               string
	FinancialTransactionID string
	PayerMessage           string
	PayeeNote              string
	Reason                 string
}

// CheckMobileMoneyStatus is the owner-initiated poll: fetch the live gateway
// status for one of the caller's own intents and fold it through the same
// mapping as the webhook path, so clients don't have to wait for a callback.
func (e *Engine) CheckMobileMoneyStatus(ctx context.Context, ownerID, referenceID string) (MobileMoneyStatus, error) {
	intent, err := e.store.FindByCorrelationID(ctx, referenceID)
	if err != nil {
		return MobileMoneyStatus{}, err
	}
	if intent.OwnerID == nil || *intent.OwnerID != ownerID {
		// Someone else's intent: indistinguishable from absent.
		return MobileMoneyStatus{}, ErrIntentNotFound
	}

	live, err := e.momo.PaymentStatus(ctx, referenceID)
	if err != nil {
		return MobileMoneyStatus{}, &GatewayFailure{Channel: ChannelMobileMoney, Err: err}
	}

	if err := e.ApplyMobileMoneySignal(ctx, MobileMoneySignal{
		ReferenceID:            referenceID,
		Status:                 live.Status,
		FinancialTransactionID: live.FinancialTransactionID,
		Reason:                 live.Reason,
	}); err != nil {
		return MobileMoneyStatus{}, err
	}

	return MobileMoneyStatus{
		ReferenceID:            referenceID,
		Status:                 live.Status,
		Amount:                 live.Amount,
		Currency:               live.Currency,
		FinancialTransactionID: live.FinancialTransactionID,
		PayerMessage:           live.PayerMessage,
		PayeeNote:              live.PayeeNote,
		Reason:                 live.Reason,
	}, nil
}

func (e *Engine) ListDonations(ctx context.Context, ownerID string) ([]PaymentIntent, error) {
	return e.store.ListByOwner(ctx, ownerID)
}

// CancelDonation deletes the owner's own intent while it is still pending.
func (e *Engine) CancelDonation(ctx context.Context, ownerID, intentID string) error {
	rows, err := e.store.DeletePendingOwned(ctx, intentID, ownerID)
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotCancellable
	}
	e.logger.Info("donation cancelled", "intent_id", intentID, "owner_id", ownerID)
	return nil
}

// lockForUpdate takes a row lock on databases that support it. sqlite has no
// FOR UPDATE syntax; its single-writer lock covers the same ground.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
