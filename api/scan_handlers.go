package api

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/seo-optimizer/seoaudit/middleware"
	"github.com/seo-optimizer/seoaudit/report"
	"github.com/seo-optimizer/seoaudit/scan"
)

type scanRequest struct {
	URL string `json:"url" binding:"required"`
}

func (h *handler) scan(c *gin.Context) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "authentication required")
		return
	}
	var req scanRequest
	if !bindJSON(c, &req) {
		return
	}
	c.Set(middleware.ScanURLKey, req.URL)

	result, err := h.Scans.Scan(c.Request.Context(), u, req.URL)
	if err != nil {
		var quota *scan.QuotaError
		switch {
		case errors.As(err, &quota):
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":      quota.Error(),
				"usageCount": quota.UsageCount,
				"usageLimit": quota.UsageLimit,
			})
		case errors.Is(err, scan.ErrInvalidURL):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":  "validation failed",
				"fields": gin.H{"url": "is required"},
			})
		case errors.Is(err, scan.ErrFetch), errors.Is(err, scan.ErrCommentary):
			h.Logger.Warn("scan failed", zap.String("user_id", u.ID), zap.Error(err))
			respondError(c, http.StatusInternalServerError, err.Error())
		default:
			h.Logger.Error("scan failed", zap.String("user_id", u.ID), zap.Error(err))
			respondError(c, http.StatusInternalServerError, "failed to scan site")
		}
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) history(c *gin.Context) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "authentication required")
		return
	}
	reports, err := h.Scans.History(c.Request.Context(), u.ID)
	if err != nil {
		h.Logger.Error("history failed", zap.String("user_id", u.ID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to load history")
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// loadReport writes the error response itself when it returns false.
func (h *handler) loadReport(c *gin.Context) (report.Document, bool) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		respondError(c, http.StatusUnauthorized, "authentication required")
		return report.Document{}, false
	}
	r, results, err := h.Scans.Report(c.Request.Context(), u, c.Param("id"))
	if err != nil {
		if errors.Is(err, scan.ErrNotFound) {
			respondError(c, http.StatusNotFound, err.Error())
			return report.Document{}, false
		}
		h.Logger.Error("load report failed", zap.String("report_id", c.Param("id")), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to load report")
		return report.Document{}, false
	}
	return report.FromReport(r, results), true
}

func (h *handler) report(c *gin.Context) {
	doc, ok := h.loadReport(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (h *handler) exportReport(c *gin.Context) {
	doc, ok := h.loadReport(c)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := report.WriteMarkdown(&buf, doc); err != nil {
		h.Logger.Error("render report failed", zap.String("report_id", doc.ID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to render report")
		return
	}
	c.Header("Content-Disposition", `attachment; filename="seo-report-`+doc.ID+`.md"`)
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", buf.Bytes())
}
