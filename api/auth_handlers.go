package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/seo-optimizer/seoaudit/account"
	"github.com/seo-optimizer/seoaudit/auth"
	"github.com/seo-optimizer/seoaudit/middleware"
)

type credentials struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// accountError maps account errors to responses. It reports false for
// errors it does not know.
func accountError(c *gin.Context, err error) bool {
	var status *account.StatusError
	switch {
	case errors.As(err, &status):
		respondError(c, http.StatusForbidden, status.Error())
	case errors.Is(err, account.ErrEmailTaken):
		respondError(c, http.StatusConflict, err.Error())
	case errors.Is(err, account.ErrBadCredentials):
		respondError(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, account.ErrNotVerified):
		respondError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, account.ErrAuthNotConfigured):
		respondError(c, http.StatusInternalServerError, err.Error())
	case errors.Is(err, account.ErrInvalidVerifyToken),
		errors.Is(err, account.ErrInvalidStatus),
		errors.Is(err, account.ErrUnknownPlan):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, account.ErrUserNotFound):
		respondError(c, http.StatusNotFound, err.Error())
	default:
		return false
	}
	return true
}

func (h *handler) register(c *gin.Context) {
	var req credentials
	if !bindJSON(c, &req) {
		return
	}

	u, err := h.Accounts.Register(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if accountError(c, err) {
			return
		}
		h.Logger.Error("register failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "registration failed")
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": h.Accounts.Profile(u)})
}

func (h *handler) login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	token, u, err := h.Accounts.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		if accountError(c, err) {
			return
		}
		h.Logger.Error("login failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "login failed")
		return
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.TokenCookie, token, int(h.Accounts.TokenTTL().Seconds()), "/", "", h.SecureCookies, true)
	c.JSON(http.StatusOK, gin.H{"token": token, "user": h.Accounts.Profile(u)})
}

func (h *handler) logout(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(middleware.TokenCookie, "", -1, "/", "", h.SecureCookies, true)
	c.JSON(http.StatusOK, gin.H{"status": "logged out"})
}

func (h *handler) verify(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":  "validation failed",
			"fields": gin.H{"token": "is required"},
		})
		return
	}

	u, err := h.Accounts.VerifyEmail(c.Request.Context(), token)
	if err != nil {
		if accountError(c, err) {
			return
		}
		h.Logger.Error("email verification failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "verification failed")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": h.Accounts.Profile(u)})
}

func (h *handler) me(c *gin.Context) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "authentication required")
		return
	}
	out := gin.H{"user": h.Accounts.Profile(u)}
	if claims, ok := auth.ClaimsFromContext(c.Request.Context()); ok {
		out["tokenExpiresAt"] = claims.ExpiresAt
	}
	c.JSON(http.StatusOK, out)
}
