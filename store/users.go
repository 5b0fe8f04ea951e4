package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// CreateUser inserts u. The email is stored lower-cased.
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.UsagePeriodStart.IsZero() {
		u.UsagePeriodStart = PeriodStart(time.Now())
	}

	if _, err := s.UserByEmail(ctx, u.Email); err == nil {
		return ErrEmailTaken
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrEmailTaken
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UserByEmail looks a user up by case-insensitive email.
func (s *Store) UserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.WithContext(ctx).
		First(&u, "email = ?", strings.ToLower(strings.TrimSpace(email))).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// UserByID returns the user or ErrNotFound.
func (s *Store) UserByID(ctx context.Context, id string) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// UserByStripeCustomer returns the user owning a Stripe customer id.
func (s *Store) UserByStripeCustomer(ctx context.Context, customerID string) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, "stripe_customer_id = ?", customerID).Error; err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// ListUsers returns users newest first, filtered by status when non-empty.
func (s *Store) ListUsers(ctx context.Context, status string) ([]User, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var users []User
	if err := q.Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *Store) updateUser(ctx context.Context, id string, values map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(values)
	if res.Error != nil {
		return fmt.Errorf("update user: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserStatus moves a user through the approval lifecycle.
func (s *Store) SetUserStatus(ctx context.Context, id, status string) error {
	return s.updateUser(ctx, id, map[string]interface{}{"status": status})
}

// MarkEmailVerified sets the verification flag.
func (s *Store) MarkEmailVerified(ctx context.Context, id string) error {
	return s.updateUser(ctx, id, map[string]interface{}{"email_verified": true})
}

// PromoteAdmin makes id an approved, verified admin.
func (s *Store) PromoteAdmin(ctx context.Context, id string) error {
	return s.updateUser(ctx, id, map[string]interface{}{
		"role":           RoleAdmin,
		"status":         StatusApproved,
		"email_verified": true,
	})
}

// SetPassword replaces the stored hash.
func (s *Store) SetPassword(ctx context.Context, id, hash string) error {
	return s.updateUser(ctx, id, map[string]interface{}{"password_hash": hash})
}

// SetStripeCustomer links a Stripe customer to the user.
func (s *Store) SetStripeCustomer(ctx context.Context, id, customerID string) error {
	return s.updateUser(ctx, id, map[string]interface{}{"stripe_customer_id": customerID})
}

// ApplyPlan switches the user to plan, resets usage for a fresh period and
// sets the expiry (nil for none).
func (s *Store) ApplyPlan(ctx context.Context, id string, plan *Plan, expiresAt *time.Time, now time.Time) error {
	var expiry interface{}
	if expiresAt != nil {
		expiry = expiresAt.UTC()
	}
	return s.updateUser(ctx, id, map[string]interface{}{
		"plan":                    plan.Name,
		"usage_limit":             plan.UsageLimit,
		"usage_count":             0,
		"usage_period_start":      PeriodStart(now),
		"subscription_expires_at": expiry,
	})
}

// ChangePlanKeepUsage switches plan and limit and clears the expiry without
// touching the current period's usage.
func (s *Store) ChangePlanKeepUsage(ctx context.Context, id string, plan *Plan) error {
	return s.updateUser(ctx, id, map[string]interface{}{
		"plan":                    plan.Name,
		"usage_limit":             plan.UsageLimit,
		"subscription_expires_at": nil,
	})
}

// SetSubscriptionExpiry moves the user's plan expiry.
func (s *Store) SetSubscriptionExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	return s.updateUser(ctx, id, map[string]interface{}{"subscription_expires_at": expiresAt.UTC()})
}

// ConsumeQuota grants one scan to a non-admin user if the current period has
// room, in a single conditional UPDATE. A stale period is rolled over in the
// same statement. It returns false, with nothing written, when the quota is
// exhausted or the user does not exist.
func (s *Store) ConsumeQuota(ctx context.Context, id string, now time.Time) (bool, error) {
	period := PeriodStart(now)
	res := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND usage_limit > 0 AND (usage_period_start < ? OR usage_count < usage_limit)", id, period).
		Updates(map[string]interface{}{
			"usage_count":        gorm.Expr("CASE WHEN usage_period_start < ? THEN 1 ELSE usage_count + 1 END", period),
			"usage_period_start": gorm.Expr("CASE WHEN usage_period_start < ? THEN ? ELSE usage_period_start END", period, period),
		})
	if res.Error != nil {
		return false, fmt.Errorf("consume quota: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// RefundQuota returns one unit consumed by a scan that did not complete.
func (s *Store) RefundQuota(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Model(&User{}).
		Where("id = ? AND usage_count > 0", id).
		Update("usage_count", gorm.Expr("usage_count - 1")).Error
	if err != nil {
		return fmt.Errorf("refund quota: %w", err)
	}
	return nil
}

// DowngradeExpired drops a user whose subscription has lapsed back to the
// free plan. It is idempotent and reports whether a downgrade happened.
func (s *Store) DowngradeExpired(ctx context.Context, id string, freeLimit int, now time.Time) (bool, error) {
	now = now.UTC()
	var downgraded bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&User{}).
			Where("id = ? AND subscription_expires_at IS NOT NULL AND subscription_expires_at < ?", id, now).
			Updates(map[string]interface{}{
				"plan":                    PlanFree,
				"usage_limit":             freeLimit,
				"subscription_expires_at": nil,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		downgraded = true
		return tx.Model(&Subscription{}).
			Where("user_id = ? AND status = ?", id, SubscriptionActive).
			Update("status", SubscriptionExpired).Error
	})
	if err != nil {
		return false, fmt.Errorf("downgrade expired: %w", err)
	}
	return downgraded, nil
}

// CountUsersBy groups user counts by column ("status", "plan" or "role").
func (s *Store) CountUsersBy(ctx context.Context, column string) (map[string]int64, error) {
	switch column {
	case "status", "plan", "role":
	default:
		return nil, fmt.Errorf("cannot group users by %q", column)
	}

	var rows []struct {
		Grp   string
		Total int64
	}
	err := s.db.WithContext(ctx).Model(&User{}).
		Select(column + " AS grp, COUNT(*) AS total").
		Group(column).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("count users by %s: %w", column, err)
	}

	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Grp] = r.Total
	}
	return out, nil
}
