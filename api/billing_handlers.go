package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/seo-optimizer/seoaudit/billing"
	"github.com/seo-optimizer/seoaudit/middleware"
)

const maxWebhookBytes = int64(65536)

type checkoutRequest struct {
	Plan string `json:"plan" binding:"required"`
}

func (h *handler) billingError(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, billing.ErrNotConfigured):
		respondError(c, http.StatusInternalServerError, err.Error())
	case errors.Is(err, billing.ErrUnknownPlan):
		respondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, billing.ErrNoCustomer):
		respondError(c, http.StatusBadRequest, "no billing account yet, subscribe to a plan first")
	default:
		h.Logger.Error(op+" failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "payment processor error")
	}
}

func (h *handler) checkout(c *gin.Context) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "authentication required")
		return
	}
	var req checkoutRequest
	if !bindJSON(c, &req) {
		return
	}

	url, err := h.Billing.Checkout(c.Request.Context(), u, req.Plan)
	if err != nil {
		h.billingError(c, "checkout", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *handler) portal(c *gin.Context) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "authentication required")
		return
	}
	url, err := h.Billing.Portal(c.Request.Context(), u)
	if err != nil {
		h.billingError(c, "portal", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}

func (h *handler) stripeWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		respondError(c, http.StatusBadRequest, "failed to read body")
		return
	}

	eventType, err := h.Billing.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrNotConfigured):
			respondError(c, http.StatusInternalServerError, err.Error())
		case errors.Is(err, billing.ErrInvalidSignature), errors.Is(err, billing.ErrInvalidPayload):
			h.Logger.Warn("stripe webhook rejected", zap.String("type", eventType), zap.Error(err))
			respondError(c, http.StatusBadRequest, err.Error())
		default:
			h.Logger.Error("stripe webhook failed", zap.String("type", eventType), zap.Error(err))
			respondError(c, http.StatusInternalServerError, "failed to process event")
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
