// Package api exposes the service over HTTP with gin.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/seo-optimizer/seoaudit/account"
	"github.com/seo-optimizer/seoaudit/billing"
	"github.com/seo-optimizer/seoaudit/logging"
	"github.com/seo-optimizer/seoaudit/middleware"
	"github.com/seo-optimizer/seoaudit/scan"
	"github.com/seo-optimizer/seoaudit/stats"
	"github.com/seo-optimizer/seoaudit/store"
)

const scanPath = "/api/scan"

// Deps are the collaborators of the HTTP layer. Stats, Traffic and Limiter
// are optional.
type Deps struct {
	Store    *store.Store
	Accounts *account.Service
	Scans    *scan.Service
	Billing  *billing.Service
	Stats    *stats.Storage
	Traffic  *logging.Statistics
	Limiter  *middleware.RateLimiter
	Logger   *zap.Logger

	CORSOrigins   []string
	SecureCookies bool
}

type handler struct {
	Deps
}

// NewRouter builds the gin engine with every route.
func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	useJSONFieldNames()
	h := &handler{Deps: d}

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.ErrorHandler(d.Logger))
	r.Use(middleware.RequestLogger(d.Logger))
	r.Use(cors.New(corsConfig(d.CORSOrigins)))
	r.Use(middleware.Traffic(d.Traffic, scanPath, d.Logger))

	r.NoRoute(func(c *gin.Context) { respondError(c, http.StatusNotFound, "not found") })
	r.NoMethod(func(c *gin.Context) { respondError(c, http.StatusMethodNotAllowed, "method not allowed") })

	api := r.Group("/api")
	api.GET("/health", h.health)
	api.GET("/plans", h.plans)
	api.POST("/auth/register", h.register)
	api.POST("/auth/login", h.login)
	api.POST("/auth/logout", h.logout)
	api.GET("/auth/verify", h.verify)
	api.POST("/stripe/webhook", h.stripeWebhook)

	authed := api.Group("/", middleware.RequireAuth(d.Accounts, d.Logger))
	authed.GET("/auth/me", h.me)

	scanHandlers := []gin.HandlerFunc{}
	if d.Limiter != nil {
		scanHandlers = append(scanHandlers, d.Limiter.RateLimit())
	}
	scanHandlers = append(scanHandlers, h.scan)
	authed.POST("/scan", scanHandlers...)
	authed.GET("/scan/history", h.history)
	authed.GET("/scan/:id", h.report)
	authed.GET("/scan/:id/export", h.exportReport)
	authed.POST("/billing/checkout", h.checkout)
	authed.POST("/billing/portal", h.portal)

	admin := authed.Group("/admin", middleware.RequireAdmin())
	admin.GET("/users", h.listUsers)
	admin.POST("/approve", h.approve)
	admin.POST("/plan", h.setPlan)
	admin.GET("/stats", h.adminStats)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func (h *handler) health(c *gin.Context) {
	if h.Store != nil {
		if err := h.Store.Ping(c.Request.Context()); err != nil {
			h.Logger.Error("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) plans(c *gin.Context) {
	plans, err := h.Store.Plans(c.Request.Context())
	if err != nil {
		h.Logger.Error("list plans failed", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "failed to load plans")
		return
	}
	c.JSON(http.StatusOK, gin.H{"plans": plans})
}
