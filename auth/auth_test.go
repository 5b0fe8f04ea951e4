package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse")
	if err != nil {
		t.Fatalf("HashPassword() error = %v", err)
	}
	if hash == "correct horse" {
		t.Fatal("hash must not equal the password")
	}
	if err := CheckPassword(hash, "correct horse"); err != nil {
		t.Errorf("CheckPassword(valid) = %v", err)
	}
	if err := CheckPassword(hash, "wrong"); !errors.Is(err, ErrBadCredentials) {
		t.Errorf("CheckPassword(wrong) = %v, want ErrBadCredentials", err)
	}
}

func TestIssueAndVerify(t *testing.T) {
	secret := []byte("test-secret")

	token, err := Issue(secret, "user-1", "a@example.com", PurposeSession, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	claims, err := Verify(secret, token, PurposeSession)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "a@example.com" {
		t.Errorf("claims = %+v", claims)
	}

	t.Run("wrong secret", func(t *testing.T) {
		if _, err := Verify([]byte("other"), token, PurposeSession); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("wrong purpose", func(t *testing.T) {
		if _, err := Verify(secret, token, PurposeVerify); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("expired", func(t *testing.T) {
		old, err := Issue(secret, "user-1", "a@example.com", PurposeSession, -time.Minute)
		if err != nil {
			t.Fatalf("Issue() error = %v", err)
		}
		if _, err := Verify(secret, old, PurposeSession); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if _, err := Verify(secret, "not.a.token", PurposeSession); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
		}
	})
}

func TestMissingSecret(t *testing.T) {
	if _, err := Issue(nil, "u", "e", PurposeSession, time.Hour); !errors.Is(err, ErrNoSecret) {
		t.Errorf("Issue() error = %v, want ErrNoSecret", err)
	}
	if _, err := Verify(nil, "x", PurposeSession); !errors.Is(err, ErrNoSecret) {
		t.Errorf("Verify() error = %v, want ErrNoSecret", err)
	}
}

func TestClaimsContext(t *testing.T) {
	if _, ok := ClaimsFromContext(context.Background()); ok {
		t.Fatal("empty context should carry no claims")
	}
	ctx := WithClaims(context.Background(), &Claims{Subject: "u1"})
	claims, ok := ClaimsFromContext(ctx)
	if !ok || claims.Subject != "u1" {
		t.Fatalf("ClaimsFromContext() = %+v, %v", claims, ok)
	}
}
