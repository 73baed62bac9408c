package payments

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/Amankrah/pathfinders/internal/modules/card"
	"github.com/Amankrah/pathfinders/internal/storage"
)

const (
	ProviderCard    = "card"
	ProviderMTNMoMo = "mtn_momo"
)

// ProviderEvent is the ledger of every gateway event we have accepted. The
// unique (provider, event_id) pair makes redelivery a database-level no-op
// before any business logic runs.
type ProviderEvent struct {
	ID          string `gorm:"type:char(36);primaryKey"`
	Provider    string `gorm:"type:varchar(32);not null;uniqueIndex:ux_provider_events_event,priority:1"`
	EventID     string `gorm:"type:varchar(191);not null;uniqueIndex:ux_provider_events_event,priority:2"`
	EventType   string `gorm:"type:varchar(64);not null"`
	PayloadJSON datatypes.JSON
	ArchiveKey  *string `gorm:"type:varchar(255)"`
	ReceivedAt  time.Time
	ProcessedAt *time.Time
}

func (ProviderEvent) TableName() string { return "provider_events" }

// WebhookService records each incoming gateway event exactly once and feeds
// it to the reconciliation engine. The ledger row and the state transition
// share one transaction, so a failed apply rolls the row back and the
// provider's retry is processed fresh instead of dying on the dedupe index.
// Duplicate deliveries are acknowledged without reprocessing; archival
// failures are logged, never fatal.
type WebhookService struct {
	db      *gorm.DB
	engine  *Engine
	archive storage.Archive // nil disables archival
	logger  *slog.Logger
}

func NewWebhookService(db *gorm.DB, engine *Engine, archive storage.Archive, logger *slog.Logger) *WebhookService {
	return &WebhookService{db: db, engine: engine, archive: archive, logger: logger}
}

// HandleCard processes one verified card gateway event.
func (s *WebhookService) HandleCard(ctx context.Context, ev card.Event, rawBody []byte) error {
	return s.handle(ctx, ProviderCard, ev.ID, ev.Type, rawBody, func(tx *gorm.DB) error {
		return s.engine.applyCardEvent(tx, ev)
	})
}

// HandleMobileMoney processes one mobile-money callback. The gateway sends
// no event id of its own, so reference+status is the dedupe key: the same
// terminal status replayed is a duplicate, while a PENDING followed by a
// SUCCESSFUL for the same reference are distinct events.
func (s *WebhookService) HandleMobileMoney(ctx context.Context, sig MobileMoneySignal, rawBody []byte) error {
	eventID := sig.ReferenceID + "/" + sig.Status
	return s.handle(ctx, ProviderMTNMoMo, eventID, sig.Status, rawBody, func(tx *gorm.DB) error {
		return s.engine.applyMobileMoneySignal(tx, sig)
	})
}

func (s *WebhookService) handle(ctx context.Context, provider, eventID, eventType string, rawBody []byte, apply func(tx *gorm.DB) error) error {
	rec := ProviderEvent{
		ID:         uuid.NewString(),
		Provider:   provider,
		EventID:    eventID,
		EventType:  eventType,
		ReceivedAt: time.Now(),
	}
	if len(rawBody) > 0 {
		rec.PayloadJSON = datatypes.JSON(rawBody)
	}

	var duplicate bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// dedupe: unique(provider, event_id)
		if err := tx.Create(&rec).Error; err != nil {
			if isDup(err) {
				duplicate = true
				return nil
			}
			return err
		}

		if err := apply(tx); err != nil {
			return err
		}

		now := time.Now()
		return tx.Model(&ProviderEvent{}).
			Where("id = ?", rec.ID).
			Update("processed_at", &now).Error
	})
	if err != nil {
		s.logger.Error("webhook event apply failed",
			"provider", provider, "event_id", eventID, "type", eventType, "err", err)
		return err
	}
	if duplicate {
		s.logger.Info("duplicate webhook event acknowledged",
			"provider", provider, "event_id", eventID)
		return nil
	}

	s.archivePayload(ctx, rec, rawBody)
	return nil
}

func (s *WebhookService) archivePayload(ctx context.Context, rec ProviderEvent, rawBody []byte) {
	if s.archive == nil {
		return
	}
	res, err := s.archive.Put(ctx, storage.PutInput{
		Provider:   rec.Provider,
		EventID:    rec.EventID,
		ReceivedAt: rec.ReceivedAt,
		Body:       rawBody,
	})
	if err != nil {
		s.logger.Warn("webhook payload archive failed",
			"provider", rec.Provider, "event_id", rec.EventID, "err", err)
		return
	}
	if err := s.db.WithContext(ctx).Model(&ProviderEvent{}).
		Where("id = ?", rec.ID).
		Update("archive_key", res.Key).Error; err != nil {
		s.logger.Warn("failed to record archive key",
			"event_id", rec.EventID, "err", err)
	}
}

// isDup matches both the production mysql error and gorm's translated
// duplicate-key error (sqlite in tests).
func isDup(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == 1062
}
