package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// OpenSubscription closes any active subscription of the user and records sub
// as the active one.
func (s *Store) OpenSubscription(ctx context.Context, sub *Subscription) error {
	if sub.Status == "" {
		sub.Status = SubscriptionActive
	}
	if sub.StartedAt.IsZero() {
		sub.StartedAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Subscription{}).
			Where("user_id = ? AND status = ?", sub.UserID, SubscriptionActive).
			Update("status", SubscriptionCanceled).Error; err != nil {
			return err
		}
		return tx.Create(sub).Error
	})
	if err != nil {
		return fmt.Errorf("open subscription: %w", err)
	}
	return nil
}

// SubscriptionByStripeID finds a subscription by its Stripe id.
func (s *Store) SubscriptionByStripeID(ctx context.Context, stripeID string) (*Subscription, error) {
	var sub Subscription
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		First(&sub, "stripe_subscription_id = ?", stripeID).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

// SetSubscriptionEnd moves the end of a subscription.
func (s *Store) SetSubscriptionEnd(ctx context.Context, id string, endsAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&Subscription{}).Where("id = ?", id).Update("ends_at", endsAt.UTC())
	if res.Error != nil {
		return fmt.Errorf("update subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CancelSubscriptions marks every active subscription of userID canceled.
func (s *Store) CancelSubscriptions(ctx context.Context, userID string, at time.Time) error {
	err := s.db.WithContext(ctx).Model(&Subscription{}).
		Where("user_id = ? AND status = ?", userID, SubscriptionActive).
		Updates(map[string]interface{}{"status": SubscriptionCanceled, "ends_at": at.UTC()}).Error
	if err != nil {
		return fmt.Errorf("cancel subscriptions: %w", err)
	}
	return nil
}

// Subscriptions lists the subscription history of a user, newest first.
func (s *Store) Subscriptions(ctx context.Context, userID string) ([]Subscription, error) {
	var subs []Subscription
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}
