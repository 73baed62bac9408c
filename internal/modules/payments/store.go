package payments

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// Store is the query surface over payment_intents. State transitions live in
// the Engine (they need row locks inside transactions); the Store covers
// creation, lookups, listing and the purge paths.
type Store struct{ db *gorm.DB }

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

// DB returns the underlying connection for transactional work.
func (s *Store) DB() *gorm.DB { return s.db }

func (s *Store) Create(ctx context.Context, intent *PaymentIntent) error {
	return s.db.WithContext(ctx).Create(intent).Error
}

func (s *Store) FindByID(ctx context.Context, id string) (PaymentIntent, error) {
	var intent PaymentIntent
	err := s.db.WithContext(ctx).First(&intent, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PaymentIntent{}, ErrIntentNotFound
	}
	return intent, err
}

func (s *Store) FindByCorrelationID(ctx context.Context, ref string) (PaymentIntent, error) {
	var intent PaymentIntent
	err := s.db.WithContext(ctx).First(&intent, "gateway_correlation_id = ?", ref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return PaymentIntent{}, ErrIntentNotFound
	}
	return intent, err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&PaymentIntent{}, "id = ?", id).Error
}

// DeletePendingOwned deletes an intent only if it is still pending and owned
// by the caller. Returns the number of rows removed (0 or 1).
func (s *Store) DeletePendingOwned(ctx context.Context, id, ownerID string) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("id = ? AND owner_id = ? AND status = ?", id, ownerID, StatusPending).
		Delete(&PaymentIntent{})
	return res.RowsAffected, res.Error
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string) ([]PaymentIntent, error) {
	var intents []PaymentIntent
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&intents).Error
	return intents, err
}

// CountStalePending counts pending intents older than the cutoff, globally.
func (s *Store) CountStalePending(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&PaymentIntent{}).
		Where("status = ? AND created_at < ?", StatusPending, before).
		Count(&n).Error
	return n, err
}

// DeleteStalePending removes pending intents older than the cutoff, globally,
// independent of owner and channel.
func (s *Store) DeleteStalePending(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", StatusPending, before).
		Delete(&PaymentIntent{})
	return res.RowsAffected, res.Error
}

// SetCorrelationID records the gateway correlation id on a freshly created
// intent. Guarded so an already-correlated row is never reassigned.
func (s *Store) SetCorrelationID(ctx context.Context, id, ref string) error {
	res := s.db.WithContext(ctx).
		Model(&PaymentIntent{}).
		Where("id = ? AND gateway_correlation_id IS NULL", id).
		Updates(map[string]any{
			"gateway_correlation_id": ref,
			"updated_at":             time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return errors.New("correlation id already set")
	}
	return nil
}
