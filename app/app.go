// Package app wires the services and router for both the server and Lambda.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/seo-optimizer/seoaudit/account"
	"github.com/seo-optimizer/seoaudit/ai"
	"github.com/seo-optimizer/seoaudit/analyzer"
	"github.com/seo-optimizer/seoaudit/api"
	"github.com/seo-optimizer/seoaudit/billing"
	"github.com/seo-optimizer/seoaudit/config"
	"github.com/seo-optimizer/seoaudit/logging"
	"github.com/seo-optimizer/seoaudit/middleware"
	"github.com/seo-optimizer/seoaudit/scan"
	"github.com/seo-optimizer/seoaudit/stats"
	"github.com/seo-optimizer/seoaudit/store"
)

// App owns every long lived component.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Secrets  *config.Secrets
	Store    *store.Store
	Accounts *account.Service
	Scans    *scan.Service
	Billing  *billing.Service
	Stats    *stats.Storage
	Traffic  *logging.Statistics
	Limiter  *middleware.RateLimiter
	Router   *gin.Engine
}

// NewAnalyzer builds the fetch and score pipeline from cfg.
func NewAnalyzer(cfg *config.Config) *analyzer.Analyzer {
	return analyzer.NewDefault(analyzer.FetchOptions{
		UserAgent:      cfg.FetchUserAgent,
		Timeout:        cfg.FetchTimeout,
		MaxBodyBytes:   cfg.FetchMaxBodyBytes,
		RetryOnTimeout: true,
	})
}

// OpenStore opens the configured database.
func OpenStore(cfg *config.Config) (*store.Store, error) {
	dsn := cfg.DatabaseURL
	if cfg.DBDriver == "sqlite" {
		dsn = cfg.SQLitePath()
	}
	return store.Open(cfg.DBDriver, dsn, cfg.GinMode == gin.DebugMode)
}

// New opens the store, migrates it and builds the router.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	gin.SetMode(cfg.GinMode)

	st, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	counters, err := stats.NewStorage(cfg.DataDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("scan statistics: %w", err)
	}
	traffic, err := logging.NewStatistics(cfg.DataDir)
	if err != nil {
		counters.Shutdown()
		st.Close()
		return nil, fmt.Errorf("traffic statistics: %w", err)
	}

	secrets := config.NewSecrets()

	var mailer account.Mailer
	if cfg.SMTPConfigured() {
		mailer = account.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass, cfg.MailFrom)
	} else {
		logger.Info("SMTP not configured, verification mail disabled")
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Secrets: secrets,
		Store:   st,
		Stats:   counters,
		Traffic: traffic,
		Limiter: middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	a.Accounts = account.NewService(st, secrets, account.Options{
		TokenTTL:            cfg.TokenTTL,
		RequireVerification: cfg.RequireEmailVerification,
		VerifyBaseURL:       cfg.FrontendURL + "/verify-email",
		Mailer:              mailer,
		Logger:              logger.Named("account"),
	})
	gemini := ai.NewGeminiClient(cfg.GeminiBaseURL, cfg.GeminiModel, cfg.GeminiTimeout, secrets.GeminiAPIKey)
	a.Scans = scan.NewService(st, NewAnalyzer(cfg), gemini, scan.Options{
		CacheTTL:     cfg.ScanCacheTTL,
		HistoryLimit: cfg.HistoryLimit,
		Stats:        counters,
		Logger:       logger.Named("scan"),
	})
	a.Billing = billing.NewService(st, secrets, billing.Options{
		FrontendURL: cfg.FrontendURL,
		Logger:      logger.Named("billing"),
	})
	a.Router = api.NewRouter(api.Deps{
		Store:         st,
		Accounts:      a.Accounts,
		Scans:         a.Scans,
		Billing:       a.Billing,
		Stats:         counters,
		Traffic:       traffic,
		Limiter:       a.Limiter,
		Logger:        logger,
		CORSOrigins:   cfg.CORSOrigins,
		SecureCookies: cfg.GinMode == gin.ReleaseMode,
	})
	return a, nil
}

// Maintain runs periodic housekeeping until ctx is done.
func (a *App) Maintain(ctx context.Context) {
	a.Limiter.StartEviction(time.Minute)
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Traffic.Prune()
			a.Stats.Cleanup(12)
			if err := a.Traffic.Save(); err != nil {
				a.Logger.Warn("traffic statistics not saved", zap.Error(err))
			}
		}
	}
}

// Close flushes statistics and closes the store.
func (a *App) Close() error {
	a.Limiter.Stop()
	return errors.Join(
		a.Stats.Shutdown(),
		a.Traffic.Save(),
		a.Store.Close(),
	)
}
