package payments

import "time"

const (
	StatusPending = "pending"
	StatusPaid    = "paid"
	StatusFailed  = "failed"
)

const (
	ChannelCard        = "card"
	ChannelMobileMoney = "mobile_money"
)

const (
	PurposeDonation = "donation"
	// Retained for compatibility with historical records; no longer gates
	// anything.
	PurposeAssessmentFee = "assessment_fee"
)

// DefaultStaleTTL: a pending intent older than this is eligible for purge.
const DefaultStaleTTL = time.Hour

// PaymentIntent is one attempt to collect a donation through one gateway
// channel. Created pending; only the reconciliation engine mutates it.
// Terminal rows are append-only; deletion happens only while pending
// (cancellation or staleness).
type PaymentIntent struct {
	ID      string  `gorm:"type:char(36);primaryKey"`
	OwnerID *string `gorm:"type:char(36);index:ix_payment_intents_owner_channel,priority:1"` // nil = anonymous donor
	Channel string  `gorm:"type:varchar(16);not null;index:ix_payment_intents_owner_channel,priority:2"`
	Purpose string  `gorm:"type:varchar(20);not null"`

	AmountCents int64  `gorm:"not null"`
	Currency    string `gorm:"type:varchar(10);not null"`

	// Card: the checkout session's payment-intent id. Mobile money: the
	// locally minted request-to-pay reference id. Set once when the gateway
	// accepts, never reassigned; lookups key on it.
	GatewayCorrelationID *string `gorm:"type:varchar(128);uniqueIndex:ux_payment_intents_correlation"`

	// The gateway's own final transaction id, recorded on success for
	// display and audit. Correlation identity stays with the reference id.
	FinancialTransactionID *string `gorm:"type:varchar(128)"`

	Status  string `gorm:"type:varchar(16);not null;index:ix_payment_intents_status"`
	Message string `gorm:"type:varchar(500)"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }
