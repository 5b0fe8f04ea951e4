package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "seoaudit"

// Token purposes. A verification token can never be used as a session.
const (
	PurposeSession = "session"
	PurposeVerify  = "verify"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrNoSecret     = errors.New("authentication not configured")
)

// Claims contains the verified token details we care about.
type Claims struct {
	Subject   string
	Email     string
	Purpose   string
	ExpiresAt time.Time
}

type tokenClaims struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// Issue signs an HS256 token for userID.
func Issue(secret []byte, userID, email, purpose string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := tokenClaims{
		Email:   email,
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses tokenString and checks signature, expiry, issuer and purpose.
func Verify(secret []byte, tokenString, purpose string) (*Claims, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}

	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(tokenString, &parsed, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed.Purpose != purpose || parsed.Subject == "" {
		return nil, ErrInvalidToken
	}

	claims := &Claims{
		Subject: parsed.Subject,
		Email:   parsed.Email,
		Purpose: parsed.Purpose,
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time
	}
	return claims, nil
}
