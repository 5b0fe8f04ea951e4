// Package account implements registration, login, email verification and the
// admin approval and plan workflows.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seo-optimizer/seoaudit/auth"
	"github.com/seo-optimizer/seoaudit/config"
	"github.com/seo-optimizer/seoaudit/store"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrBadCredentials     = errors.New("invalid email or password")
	ErrNotApproved        = errors.New("account is not approved")
	ErrNotVerified        = errors.New("email address is not verified")
	ErrUnauthenticated    = errors.New("authentication required")
	ErrAuthNotConfigured  = errors.New("authentication not configured")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidStatus      = errors.New("status must be approved or rejected")
	ErrUnknownPlan        = errors.New("unknown plan")
	ErrInvalidVerifyToken = errors.New("invalid or expired verification link")
)

// StatusError reports the lifecycle state that blocked a login.
type StatusError struct {
	Status string
}

func (e *StatusError) Error() string {
	if e.Status == store.StatusRejected {
		return "account has been rejected"
	}
	return "account is pending approval"
}

func (e *StatusError) Is(target error) bool { return target == ErrNotApproved }

// Options tunes a Service. Zero values take defaults.
type Options struct {
	TokenTTL            time.Duration
	RequireVerification bool
	// VerifyBaseURL is the link prefix put in verification mails; the token
	// is appended as ?token=.
	VerifyBaseURL string
	Mailer        Mailer
	Logger        *zap.Logger
	Now           func() time.Time
}

// Service owns account rules. Secrets are read per call.
type Service struct {
	store   *store.Store
	secrets *config.Secrets
	opts    Options
}

// NewService creates an account service.
func NewService(st *store.Store, secrets *config.Secrets, opts Options) *Service {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: st, secrets: secrets, opts: opts}
}

// TokenTTL is the lifetime of session tokens.
func (s *Service) TokenTTL() time.Duration { return s.opts.TokenTTL }

func (s *Service) jwtSecret() ([]byte, error) {
	secret, err := s.secrets.JWTSecret()
	if err != nil {
		return nil, ErrAuthNotConfigured
	}
	return []byte(secret), nil
}

// Register creates a pending free account. The configured admin email is
// created approved, verified and with the admin role.
func (s *Service) Register(ctx context.Context, email, password string) (*store.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}

	free, err := s.store.PlanByName(ctx, store.PlanFree)
	if err != nil {
		return nil, fmt.Errorf("load free plan: %w", err)
	}

	u := &store.User{
		Email:            email,
		PasswordHash:     hash,
		Role:             store.RoleUser,
		Plan:             store.PlanFree,
		Status:           store.StatusPending,
		UsageLimit:       free.UsageLimit,
		UsagePeriodStart: store.PeriodStart(s.opts.Now()),
	}
	if admin := s.secrets.AdminEmail(); admin != "" && admin == email {
		u.Role = store.RoleAdmin
		u.Status = store.StatusApproved
		u.EmailVerified = true
	}

	if err := s.store.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	s.opts.Logger.Info("user registered",
		zap.String("user_id", u.ID),
		zap.String("role", u.Role),
		zap.String("status", u.Status),
	)

	if !u.EmailVerified {
		if err := s.SendVerification(ctx, u); err != nil {
			s.opts.Logger.Warn("verification mail not sent", zap.String("user_id", u.ID), zap.Error(err))
		}
	}
	return u, nil
}

// SendVerification mails a signed verification link. Without a mailer it
// does nothing.
func (s *Service) SendVerification(ctx context.Context, u *store.User) error {
	if s.opts.Mailer == nil {
		return nil
	}
	secret, err := s.jwtSecret()
	if err != nil {
		return err
	}
	token, err := auth.Issue(secret, u.ID, u.Email, auth.PurposeVerify, 72*time.Hour)
	if err != nil {
		return err
	}

	link := strings.TrimRight(s.opts.VerifyBaseURL, "/") + "?token=" + url.QueryEscape(token)
	body := "Confirm your email address for SEO Audit by opening this link:\n\n" + link +
		"\n\nThe link is valid for 72 hours."
	return s.opts.Mailer.Send(ctx, u.Email, "Verify your email address", body)
}

// VerifyEmail marks the account named by a verification token as verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*store.User, error) {
	secret, err := s.jwtSecret()
	if err != nil {
		return nil, err
	}
	claims, err := auth.Verify(secret, token, auth.PurposeVerify)
	if err != nil {
		return nil, ErrInvalidVerifyToken
	}
	if err := s.store.MarkEmailVerified(ctx, claims.Subject); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidVerifyToken
		}
		return nil, err
	}
	return s.store.UserByID(ctx, claims.Subject)
}

// Login checks credentials and lifecycle state and issues a session token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *store.User, error) {
	secret, err := s.jwtSecret()
	if err != nil {
		return "", nil, err
	}

	u, err := s.store.UserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil, ErrBadCredentials
	}
	if err != nil {
		return "", nil, err
	}
	if err := auth.CheckPassword(u.PasswordHash, password); err != nil {
		return "", nil, ErrBadCredentials
	}
	if u.Status != store.StatusApproved {
		return "", nil, &StatusError{Status: u.Status}
	}
	if s.opts.RequireVerification && !u.EmailVerified && !u.IsAdmin() {
		return "", nil, ErrNotVerified
	}

	token, err := auth.Issue(secret, u.ID, u.Email, auth.PurposeSession, s.opts.TokenTTL)
	if err != nil {
		return "", nil, err
	}
	return token, u, nil
}

// Authenticate resolves a session token to an approved user.
func (s *Service) Authenticate(ctx context.Context, token string) (*store.User, *auth.Claims, error) {
	secret, err := s.jwtSecret()
	if err != nil {
		return nil, nil, err
	}
	claims, err := auth.Verify(secret, token, auth.PurposeSession)
	if err != nil {
		return nil, nil, ErrUnauthenticated
	}
	u, err := s.store.UserByID(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, nil, err
	}
	if u.Status != store.StatusApproved {
		return nil, nil, &StatusError{Status: u.Status}
	}
	return u, claims, nil
}

// Profile is the self view of an account.
type Profile struct {
	*store.User
	Remaining *int `json:"remaining"`
}

// ProfileOf builds the profile of u as of now. A counter from a past month
// shows as zero. Admins have no remaining count.
func ProfileOf(u *store.User, now time.Time) Profile {
	view := *u
	if period := store.PeriodStart(now); u.UsagePeriodStart.Before(period) {
		view.UsageCount = 0
		view.UsagePeriodStart = period
	}
	p := Profile{User: &view}
	if !u.IsAdmin() {
		r := u.Remaining(now)
		p.Remaining = &r
	}
	return p
}

// Profile builds the profile of u on the service clock.
func (s *Service) Profile(u *store.User) Profile {
	return ProfileOf(u, s.opts.Now())
}

// ListUsers returns accounts, optionally filtered by status.
func (s *Service) ListUsers(ctx context.Context, status string) ([]store.User, error) {
	switch status {
	case "", store.StatusPending, store.StatusApproved, store.StatusRejected:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	return s.store.ListUsers(ctx, status)
}

// SetStatus approves or rejects an account.
func (s *Service) SetStatus(ctx context.Context, userID, status string) (*store.User, error) {
	if status != store.StatusApproved && status != store.StatusRejected {
		return nil, ErrInvalidStatus
	}
	if err := s.store.SetUserStatus(ctx, userID, status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	s.opts.Logger.Info("user status changed", zap.String("user_id", userID), zap.String("status", status))
	return s.store.UserByID(ctx, userID)
}

// SetPlan assigns a plan directly, resetting usage for a fresh period and
// recording an admin subscription.
func (s *Service) SetPlan(ctx context.Context, userID, planName string, expiresAt *time.Time) (*store.User, error) {
	plan, err := s.store.PlanByName(ctx, planName)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownPlan
	}
	if err != nil {
		return nil, err
	}
	if planName == store.PlanFree {
		expiresAt = nil
	}

	now := s.opts.Now()
	if err := s.store.ApplyPlan(ctx, userID, plan, expiresAt, now); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	if planName == store.PlanFree {
		err = s.store.CancelSubscriptions(ctx, userID, now)
	} else {
		err = s.store.OpenSubscription(ctx, &store.Subscription{
			UserID:    userID,
			Plan:      planName,
			Source:    "admin",
			StartedAt: now.UTC(),
			EndsAt:    expiresAt,
		})
	}
	if err != nil {
		return nil, err
	}

	s.opts.Logger.Info("user plan changed", zap.String("user_id", userID), zap.String("plan", planName))
	return s.store.UserByID(ctx, userID)
}

// AdminStats summarises accounts and scans.
type AdminStats struct {
	UsersByStatus  map[string]int64 `json:"usersByStatus"`
	UsersByPlan    map[string]int64 `json:"usersByPlan"`
	TotalScans     int64            `json:"totalScans"`
	ScansThisMonth int64            `json:"scansThisMonth"`
}

// Stats gathers the admin dashboard counts.
func (s *Service) Stats(ctx context.Context) (*AdminStats, error) {
	byStatus, err := s.store.CountUsersBy(ctx, "status")
	if err != nil {
		return nil, err
	}
	byPlan, err := s.store.CountUsersBy(ctx, "plan")
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountReports(ctx, time.Time{})
	if err != nil {
		return nil, err
	}
	month, err := s.store.CountReports(ctx, store.PeriodStart(s.opts.Now()))
	if err != nil {
		return nil, err
	}
	return &AdminStats{
		UsersByStatus:  byStatus,
		UsersByPlan:    byPlan,
		TotalScans:     total,
		ScansThisMonth: month,
	}, nil
}

// BootstrapAdmin makes sure the ADMIN_EMAIL account exists as an approved
// admin, creating it with ADMIN_PASSWORD when missing.
func (s *Service) BootstrapAdmin(ctx context.Context) (*store.User, bool, error) {
	email := s.secrets.AdminEmail()
	if email == "" {
		return nil, false, fmt.Errorf("ADMIN_EMAIL: %w", config.ErrNotConfigured)
	}

	existing, err := s.store.UserByEmail(ctx, email)
	switch {
	case err == nil:
		if !existing.IsAdmin() || existing.Status != store.StatusApproved || !existing.EmailVerified {
			if err := s.store.PromoteAdmin(ctx, existing.ID); err != nil {
				return nil, false, err
			}
			existing, err = s.store.UserByID(ctx, existing.ID)
			if err != nil {
				return nil, false, err
			}
		}
		return existing, false, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, err
	}

	password, err := s.secrets.AdminPassword()
	if err != nil {
		return nil, false, err
	}
	u, err := s.Register(ctx, email, password)
	if err != nil {
		return nil, false, err
	}
	return u, true, nil
}
