package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/seo-optimizer/seoaudit/account"
)

type approveRequest struct {
	UserID string `json:"userId" binding:"required"`
	Status string `json:"status" binding:"required,oneof=approved rejected"`
}

type planRequest struct {
	UserID    string     `json:"userId" binding:"required"`
	Plan      string     `json:"plan" binding:"required"`
	ExpiresAt *time.Time `json:"expiresAt"`
}

func (h *handler) listUsers(c *gin.Context) {
	users, err := h.Accounts.ListUsers(c.Request.Context(), c.Query("status"))
	if err != nil {
		if accountError(c, err) {
			return
		}
		h.Logger.Error("list users failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to list users")
		return
	}

	profiles := make([]account.Profile, len(users))
	for i := range users {
		profiles[i] = h.Accounts.Profile(&users[i])
	}
	c.JSON(http.StatusOK, gin.H{"users": profiles})
}

func (h *handler) approve(c *gin.Context) {
	var req approveRequest
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.Accounts.SetStatus(c.Request.Context(), req.UserID, req.Status)
	if err != nil {
		if accountError(c, err) {
			return
		}
		h.Logger.Error("set status failed", zap.String("user_id", req.UserID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to update user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": h.Accounts.Profile(u)})
}

func (h *handler) setPlan(c *gin.Context) {
	var req planRequest
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.Accounts.SetPlan(c.Request.Context(), req.UserID, req.Plan, req.ExpiresAt)
	if err != nil {
		if accountError(c, err) {
			return
		}
		h.Logger.Error("set plan failed", zap.String("user_id", req.UserID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to update plan")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": h.Accounts.Profile(u)})
}

func (h *handler) adminStats(c *gin.Context) {
	summary, err := h.Accounts.Stats(c.Request.Context())
	if err != nil {
		h.Logger.Error("admin stats failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to load statistics")
		return
	}

	out := gin.H{
		"usersByStatus":  summary.UsersByStatus,
		"usersByPlan":    summary.UsersByPlan,
		"totalScans":     summary.TotalScans,
		"scansThisMonth": summary.ScansThisMonth,
		"traffic":        h.Traffic.Snapshot(true),
	}
	if h.Stats != nil {
		out["monthly"] = h.Stats.GetCurrentStats()
		history := gin.H{}
		for _, month := range h.Stats.GetAllMonths() {
			if m, ok := h.Stats.GetMonthlyStats(month); ok {
				history[month] = m
			}
		}
		out["history"] = history
	}
	c.JSON(http.StatusOK, out)
}
