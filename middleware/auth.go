package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/seo-optimizer/seoaudit/account"
	"github.com/seo-optimizer/seoaudit/auth"
	"github.com/seo-optimizer/seoaudit/store"
)

// TokenCookie is the cookie set at login.
const TokenCookie = "seo_token"

const userKey = "currentUser"

// Authenticator resolves a session token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*store.User, *auth.Claims, error)
}

// RequireAuth admits requests carrying a valid token of an approved user.
// The token is taken from the Authorization header, then the session cookie.
func RequireAuth(a Authenticator, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		token := tokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		user, claims, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			var status *account.StatusError
			switch {
			case errors.As(err, &status):
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": status.Error()})
			case errors.Is(err, account.ErrAuthNotConfigured):
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			case errors.Is(err, account.ErrUnauthenticated):
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			default:
				logger.Error("authentication failed", zap.Error(err))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "authentication failed"})
			}
			return
		}

		c.Set(userKey, user)
		c.Request = c.Request.WithContext(auth.WithClaims(c.Request.Context(), claims))
		c.Next()
	}
}

// RequireAdmin must follow RequireAuth.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := CurrentUser(c)
		if !ok || !u.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the user set by RequireAuth.
func CurrentUser(c *gin.Context) (*store.User, bool) {
	v, ok := c.Get(userKey)
	if !ok {
		return nil, false
	}
	u, ok := v.(*store.User)
	return u, ok && u != nil
}

func tokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookie, err := c.Cookie(TokenCookie); err == nil {
		return cookie
	}
	return ""
}
