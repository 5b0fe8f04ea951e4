// Package billing connects plans to Stripe: hosted checkout, the customer
// portal and subscription webhooks.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	portal "github.com/stripe/stripe-go/v79/billingportal/session"
	"github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/webhook"
	"go.uber.org/zap"

	"github.com/seo-optimizer/seoaudit/config"
	"github.com/seo-optimizer/seoaudit/store"
)

var (
	ErrNotConfigured    = errors.New("billing not configured")
	ErrUnknownPlan      = errors.New("plan is not purchasable")
	ErrNoCustomer       = errors.New("stripe customer missing for user")
	ErrInvalidSignature = errors.New("signature verification failed")
	ErrInvalidPayload   = errors.New("invalid event payload")
)

// Options tunes a Service. Zero values take defaults.
type Options struct {
	FrontendURL string
	// Backend overrides the Stripe API backend.
	Backend stripe.Backend
	Logger  *zap.Logger
	Now     func() time.Time
}

// Service talks to Stripe with the secret key read per call.
type Service struct {
	store       *store.Store
	secrets     *config.Secrets
	frontendURL string
	backend     stripe.Backend
	logger      *zap.Logger
	now         func() time.Time
}

// NewService creates a billing service.
func NewService(st *store.Store, secrets *config.Secrets, opts Options) *Service {
	s := &Service{
		store:       st,
		secrets:     secrets,
		frontendURL: strings.TrimRight(opts.FrontendURL, "/"),
		backend:     opts.Backend,
		logger:      opts.Logger,
		now:         opts.Now,
	}
	if s.backend == nil {
		s.backend = stripe.GetBackend(stripe.APIBackend)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) apiKey() (string, error) {
	key, err := s.secrets.StripeSecretKey()
	if err != nil {
		return "", ErrNotConfigured
	}
	if s.frontendURL == "" {
		return "", ErrNotConfigured
	}
	return key, nil
}

// ensureCustomer returns the Stripe customer of u, creating and storing one
// when missing.
func (s *Service) ensureCustomer(ctx context.Context, key string, u *store.User) (string, error) {
	if u.StripeCustomerID != nil && *u.StripeCustomerID != "" {
		return *u.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email:    stripe.String(u.Email),
		Metadata: map[string]string{"user_id": u.ID},
	}
	params.Context = ctx
	cust, err := (&customer.Client{B: s.backend, Key: key}).New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	if err := s.store.SetStripeCustomer(ctx, u.ID, cust.ID); err != nil {
		return "", err
	}
	u.StripeCustomerID = &cust.ID
	return cust.ID, nil
}

// Checkout starts a subscription checkout for a paid plan and returns the
// hosted page URL.
func (s *Service) Checkout(ctx context.Context, u *store.User, planName string) (string, error) {
	if planName == store.PlanFree {
		return "", ErrUnknownPlan
	}
	if _, err := s.store.PlanByName(ctx, planName); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrUnknownPlan
		}
		return "", err
	}

	key, err := s.apiKey()
	if err != nil {
		return "", err
	}
	priceID, err := s.secrets.StripePrice(planName)
	if err != nil {
		return "", ErrNotConfigured
	}

	customerID, err := s.ensureCustomer(ctx, key, u)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(u.ID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": u.ID, "plan": planName},
		},
		SuccessURL: stripe.String(s.frontendURL + "/billing/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(s.frontendURL + "/billing/cancel"),
	}
	params.AddMetadata("plan", planName)
	params.AddMetadata("user_id", u.ID)
	params.Context = ctx

	sess, err := (&session.Client{B: s.backend, Key: key}).New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// Portal opens a customer portal session for a user who has paid before.
func (s *Service) Portal(ctx context.Context, u *store.User) (string, error) {
	key, err := s.apiKey()
	if err != nil {
		return "", err
	}
	if u.StripeCustomerID == nil || *u.StripeCustomerID == "" {
		return "", ErrNoCustomer
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  u.StripeCustomerID,
		ReturnURL: stripe.String(s.frontendURL + "/settings/billing"),
	}
	params.Context = ctx
	sess, err := (&portal.Client{B: s.backend, Key: key}).New(params)
	if err != nil {
		return "", fmt.Errorf("create portal session: %w", err)
	}
	return sess.URL, nil
}

// HandleWebhook verifies and applies one Stripe event. Unhandled event types
// are accepted and ignored.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature string) (string, error) {
	secret, err := s.secrets.StripeWebhookSecret()
	if err != nil {
		return "", ErrNotConfigured
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if event.Data == nil {
		return "", ErrInvalidPayload
	}

	eventType := string(event.Type)
	switch eventType {
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return eventType, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		err = s.checkoutCompleted(ctx, &sess)
	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return eventType, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		err = s.subscriptionUpdated(ctx, &sub)
	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return eventType, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		err = s.subscriptionDeleted(ctx, &sub)
	default:
		s.logger.Debug("stripe event ignored", zap.String("type", eventType), zap.String("id", event.ID))
		return eventType, nil
	}
	if err != nil {
		return eventType, err
	}
	s.logger.Info("stripe event applied", zap.String("type", eventType), zap.String("id", event.ID))
	return eventType, nil
}

func (s *Service) checkoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) error {
	customerID := ""
	if sess.Customer != nil {
		customerID = sess.Customer.ID
	}

	var u *store.User
	var err error
	switch {
	case sess.ClientReferenceID != "":
		u, err = s.store.UserByID(ctx, sess.ClientReferenceID)
	case customerID != "":
		u, err = s.store.UserByStripeCustomer(ctx, customerID)
	default:
		return fmt.Errorf("%w: session %s has no user reference", ErrInvalidPayload, sess.ID)
	}
	if err != nil {
		return fmt.Errorf("resolve checkout user: %w", err)
	}

	planName := sess.Metadata["plan"]
	if planName == "" {
		planName = store.PlanPro
	}
	plan, err := s.store.PlanByName(ctx, planName)
	if err != nil {
		return fmt.Errorf("resolve checkout plan %q: %w", planName, err)
	}

	now := s.now()
	if customerID != "" && (u.StripeCustomerID == nil || *u.StripeCustomerID != customerID) {
		if err := s.store.SetStripeCustomer(ctx, u.ID, customerID); err != nil {
			return err
		}
	}
	if err := s.store.ApplyPlan(ctx, u.ID, plan, nil, now); err != nil {
		return err
	}

	sub := &store.Subscription{
		UserID:    u.ID,
		Plan:      plan.Name,
		Source:    "stripe",
		StartedAt: now.UTC(),
	}
	if sess.Subscription != nil && sess.Subscription.ID != "" {
		sub.StripeSubscriptionID = stripe.String(sess.Subscription.ID)
	}
	return s.store.OpenSubscription(ctx, sub)
}

// subscriptionUser finds the local user and subscription record for a Stripe
// subscription. The record may be nil.
func (s *Service) subscriptionUser(ctx context.Context, sub *stripe.Subscription) (*store.User, *store.Subscription, error) {
	record, err := s.store.SubscriptionByStripeID(ctx, sub.ID)
	if err == nil {
		u, err := s.store.UserByID(ctx, record.UserID)
		return u, record, err
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, nil, err
	}
	if sub.Customer == nil || sub.Customer.ID == "" {
		return nil, nil, fmt.Errorf("%w: subscription %s has no customer", ErrInvalidPayload, sub.ID)
	}
	u, err := s.store.UserByStripeCustomer(ctx, sub.Customer.ID)
	return u, nil, err
}

func (s *Service) subscriptionUpdated(ctx context.Context, sub *stripe.Subscription) error {
	u, record, err := s.subscriptionUser(ctx, sub)
	if err != nil {
		return fmt.Errorf("resolve subscription user: %w", err)
	}

	switch sub.Status {
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid, stripe.SubscriptionStatusIncompleteExpired:
		return s.downgrade(ctx, u.ID)
	}
	if sub.CurrentPeriodEnd == 0 {
		return nil
	}

	end := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	if err := s.store.SetSubscriptionExpiry(ctx, u.ID, end); err != nil {
		return err
	}
	if record != nil {
		return s.store.SetSubscriptionEnd(ctx, record.ID, end)
	}
	return nil
}

func (s *Service) subscriptionDeleted(ctx context.Context, sub *stripe.Subscription) error {
	u, _, err := s.subscriptionUser(ctx, sub)
	if err != nil {
		return fmt.Errorf("resolve subscription user: %w", err)
	}
	return s.downgrade(ctx, u.ID)
}

func (s *Service) downgrade(ctx context.Context, userID string) error {
	free, err := s.store.PlanByName(ctx, store.PlanFree)
	if err != nil {
		return err
	}
	if err := s.store.ChangePlanKeepUsage(ctx, userID, free); err != nil {
		return err
	}
	return s.store.CancelSubscriptions(ctx, userID, s.now())
}
