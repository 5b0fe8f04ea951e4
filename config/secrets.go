package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ErrNotConfigured is returned when a secret needed by an endpoint is unset.
var ErrNotConfigured = errors.New("not configured")

// Secrets reads credentials from the environment each time they are asked for,
// so rotating a value never needs a restart and a missing one only breaks the
// endpoint that depends on it.
type Secrets struct {
	v *viper.Viper
}

// NewSecrets returns an env-backed secret source.
func NewSecrets() *Secrets {
	v := viper.New()
	v.AutomaticEnv()
	return &Secrets{v: v}
}

func (s *Secrets) get(key string) string {
	return strings.TrimSpace(s.v.GetString(key))
}

// Require returns the secret or an error wrapping ErrNotConfigured.
func (s *Secrets) Require(key string) (string, error) {
	if val := s.get(key); val != "" {
		return val, nil
	}
	return "", fmt.Errorf("%s: %w", key, ErrNotConfigured)
}

func (s *Secrets) JWTSecret() (string, error)           { return s.Require("JWT_SECRET") }
func (s *Secrets) GeminiAPIKey() string                 { return s.get("GEMINI_API_KEY") }
func (s *Secrets) StripeSecretKey() (string, error)     { return s.Require("STRIPE_SECRET_KEY") }
func (s *Secrets) StripeWebhookSecret() (string, error) { return s.Require("STRIPE_WEBHOOK_SECRET") }
func (s *Secrets) AdminEmail() string                   { return strings.ToLower(s.get("ADMIN_EMAIL")) }
func (s *Secrets) AdminPassword() (string, error)       { return s.Require("ADMIN_PASSWORD") }

// StripePrice returns the Stripe price id configured for a plan, e.g. STRIPE_PRICE_PRO.
func (s *Secrets) StripePrice(plan string) (string, error) {
	return s.Require("STRIPE_PRICE_" + strings.ToUpper(plan))
}
