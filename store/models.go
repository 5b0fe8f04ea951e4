package store

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Roles.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account lifecycle statuses.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Plan names.
const (
	PlanFree   = "free"
	PlanPro    = "pro"
	PlanAgency = "agency"
)

// Subscription statuses.
const (
	SubscriptionActive   = "active"
	SubscriptionCanceled = "canceled"
	SubscriptionExpired  = "expired"
)

// User is an account. UsageCount counts scans granted in the period that
// starts at UsagePeriodStart.
type User struct {
	ID                    string     `gorm:"primaryKey;size:36" json:"id"`
	Email                 string     `gorm:"uniqueIndex;size:320;not null" json:"email"`
	PasswordHash          string     `gorm:"not null" json:"-"`
	Role                  string     `gorm:"size:16;not null" json:"role"`
	Plan                  string     `gorm:"size:32;not null" json:"plan"`
	Status                string     `gorm:"size:16;not null;index" json:"status"`
	EmailVerified         bool       `gorm:"not null" json:"emailVerified"`
	UsageCount            int        `gorm:"not null" json:"usageCount"`
	UsageLimit            int        `gorm:"not null" json:"usageLimit"`
	UsagePeriodStart      time.Time  `gorm:"not null" json:"usagePeriodStart"`
	SubscriptionExpiresAt *time.Time `json:"subscriptionExpiresAt"`
	StripeCustomerID      *string    `gorm:"uniqueIndex;size:255" json:"-"`
	CreatedAt             time.Time  `json:"createdAt"`
	UpdatedAt             time.Time  `json:"updatedAt"`

	Reports       []ScanReport   `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Subscriptions []Subscription `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// IsAdmin reports whether the user bypasses quota and may use admin routes.
func (u *User) IsAdmin() bool { return u.Role == RoleAdmin }

// EffectiveUsage is the usage count as of now. A counter left over from an
// earlier month reads as zero, matching the reset ConsumeQuota applies.
func (u *User) EffectiveUsage(now time.Time) int {
	if u.UsagePeriodStart.Before(PeriodStart(now)) {
		return 0
	}
	return u.UsageCount
}

// Remaining returns the scans left in the period containing now.
func (u *User) Remaining(now time.Time) int {
	if u.IsAdmin() {
		return -1
	}
	if r := u.UsageLimit - u.EffectiveUsage(now); r > 0 {
		return r
	}
	return 0
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// ScanReport is an immutable record of one scan. Results holds the
// technical features and the commentary as JSON.
type ScanReport struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	UserID        string         `gorm:"size:36;not null;index:idx_reports_user_key,priority:1" json:"userId"`
	URL           string         `gorm:"not null" json:"url"`
	NormalizedURL string         `gorm:"not null;index:idx_reports_user_key,priority:2" json:"normalizedUrl"`
	Score         int            `gorm:"not null" json:"score"`
	Results       datatypes.JSON `json:"results"`
	CreatedAt     time.Time      `gorm:"index:idx_reports_user_key,priority:3" json:"createdAt"`
}

func (r *ScanReport) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// ReportSummary is the history view of a report.
type ReportSummary struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"createdAt"`
}

// Plan is static reference data seeded from plans.yaml.
type Plan struct {
	Name        string         `gorm:"primaryKey;size:32" json:"name" yaml:"name"`
	DisplayName string         `gorm:"size:64" json:"displayName" yaml:"displayName"`
	Price       int64          `json:"price" yaml:"price"`
	Currency    string         `gorm:"size:3" json:"currency" yaml:"currency"`
	Interval    string         `gorm:"size:16" json:"interval" yaml:"interval"`
	UsageLimit  int            `json:"usageLimit" yaml:"usageLimit"`
	Features    datatypes.JSON `json:"features" yaml:"-"`
	SortOrder   int            `json:"-" yaml:"sortOrder"`
}

// Subscription records a plan assignment. The effective plan, limit and
// expiry live on the user row.
type Subscription struct {
	ID                   string     `gorm:"primaryKey;size:36" json:"id"`
	UserID               string     `gorm:"size:36;not null;index" json:"userId"`
	Plan                 string     `gorm:"size:32;not null" json:"plan"`
	Status               string     `gorm:"size:16;not null" json:"status"`
	Source               string     `gorm:"size:16;not null" json:"source"`
	StripeSubscriptionID *string    `gorm:"index;size:255" json:"stripeSubscriptionId,omitempty"`
	StartedAt            time.Time  `json:"startedAt"`
	EndsAt               *time.Time `json:"endsAt"`
	CreatedAt            time.Time  `json:"createdAt"`
	UpdatedAt            time.Time  `json:"updatedAt"`
}

func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// PeriodStart returns the start of the usage period containing t: the first
// instant of its calendar month in UTC.
func PeriodStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
