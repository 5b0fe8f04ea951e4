// Package scan runs the metered scan pipeline: quota, cache, fetch, score,
// commentary and persistence.
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seo-optimizer/seoaudit/ai"
	"github.com/seo-optimizer/seoaudit/analyzer"
	"github.com/seo-optimizer/seoaudit/stats"
	"github.com/seo-optimizer/seoaudit/store"
)

var (
	ErrInvalidURL    = errors.New("url is required")
	ErrQuotaExceeded = errors.New("usage limit reached, upgrade required")
	ErrFetch         = errors.New("failed to scan site")
	ErrCommentary    = errors.New("failed to generate commentary")
	ErrNotFound      = errors.New("report not found")
)

// QuotaError carries the counters of a rejected scan.
type QuotaError struct {
	UsageCount int
	UsageLimit int
}

func (e *QuotaError) Error() string { return ErrQuotaExceeded.Error() }

func (e *QuotaError) Is(target error) bool { return target == ErrQuotaExceeded }

// Analyzer fetches and scores one normalized URL.
type Analyzer interface {
	Analyze(ctx context.Context, n analyzer.NormalizedURL) (*analyzer.Analysis, error)
}

// Commentator produces LLM commentary. When it is not Enabled scans are
// stored without commentary.
type Commentator interface {
	Enabled() bool
	Commentary(ctx context.Context, pageURL string, features analyzer.Features, score int) (*ai.Commentary, error)
}

// Results is the JSON stored in a report.
type Results struct {
	Technical analyzer.Features `json:"technical"`
	Content   *ai.Commentary    `json:"content"`
}

// Result is returned to the caller of a scan.
type Result struct {
	Technical analyzer.Features `json:"technical"`
	Content   *ai.Commentary    `json:"content"`
	Score     int               `json:"score"`
	ReportID  string            `json:"reportId"`
	Cached    bool              `json:"cached"`
}

// Options tunes a Service. Zero values take defaults.
type Options struct {
	CacheTTL     time.Duration
	HistoryLimit int
	Stats        *stats.Storage
	Logger       *zap.Logger
	Now          func() time.Time
}

// Service is stateless apart from its collaborators.
type Service struct {
	store       *store.Store
	analyzer    Analyzer
	commentator Commentator
	stats       *stats.Storage
	logger      *zap.Logger
	cacheTTL    time.Duration
	history     int
	now         func() time.Time
}

// NewService wires the pipeline. commentator may be nil.
func NewService(st *store.Store, a Analyzer, c Commentator, opts Options) *Service {
	s := &Service{
		store:       st,
		analyzer:    a,
		commentator: c,
		stats:       opts.Stats,
		logger:      opts.Logger,
		cacheTTL:    opts.CacheTTL,
		history:     opts.HistoryLimit,
		now:         opts.Now,
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = 24 * time.Hour
	}
	if s.history <= 0 {
		s.history = store.DefaultHistoryLimit
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// Scan runs the pipeline for user. A cached report within the cache window
// is returned with Cached set; it still costs a quota unit.
func (s *Service) Scan(ctx context.Context, user *store.User, rawURL string) (*Result, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, ErrInvalidURL
	}
	n := analyzer.Normalize(rawURL)
	now := s.now()

	if !user.IsAdmin() {
		if err := s.consume(ctx, user, now); err != nil {
			return nil, err
		}
	}

	cached, err := s.store.FindRecentReport(ctx, user.ID, n.Key, now.Add(-s.cacheTTL))
	switch {
	case err == nil:
		results, err := DecodeResults(cached)
		if err != nil {
			s.refund(ctx, user)
			return nil, err
		}
		s.stats.Increment(stats.ScanCacheHits)
		return &Result{
			Technical: results.Technical,
			Content:   results.Content,
			Score:     cached.Score,
			ReportID:  cached.ID,
			Cached:    true,
		}, nil
	case !errors.Is(err, store.ErrNotFound):
		s.refund(ctx, user)
		return nil, fmt.Errorf("cache lookup: %w", err)
	}
	s.stats.Increment(stats.ScanCacheMisses)

	analysis, err := s.analyzer.Analyze(ctx, n)
	if err != nil {
		s.stats.Increment(stats.FetchFailures)
		s.refund(ctx, user)
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}

	var commentary *ai.Commentary
	if s.commentator != nil && s.commentator.Enabled() {
		commentary, err = s.commentator.Commentary(ctx, n.FetchURL, analysis.Features, analysis.Score)
		if err != nil {
			s.refund(ctx, user)
			return nil, fmt.Errorf("%w: %v", ErrCommentary, err)
		}
	}

	payload, err := json.Marshal(Results{Technical: analysis.Features, Content: commentary})
	if err != nil {
		s.refund(ctx, user)
		return nil, fmt.Errorf("encode results: %w", err)
	}

	report := &store.ScanReport{
		UserID:        user.ID,
		URL:           n.FetchURL,
		NormalizedURL: n.Key,
		Score:         analysis.Score,
		Results:       payload,
		CreatedAt:     now,
	}
	if err := s.store.CreateReport(ctx, report); err != nil {
		s.refund(ctx, user)
		return nil, err
	}
	s.stats.Increment(stats.CompletedScans)

	s.logger.Info("scan completed",
		zap.String("user_id", user.ID),
		zap.String("url", n.FetchURL),
		zap.Int("score", analysis.Score),
		zap.Bool("commentary", commentary != nil),
	)

	return &Result{
		Technical: analysis.Features,
		Content:   commentary,
		Score:     analysis.Score,
		ReportID:  report.ID,
	}, nil
}

func (s *Service) consume(ctx context.Context, user *store.User, now time.Time) error {
	if user.SubscriptionExpiresAt != nil && user.SubscriptionExpiresAt.Before(now) {
		free, err := s.store.PlanByName(ctx, store.PlanFree)
		if err != nil {
			return fmt.Errorf("load free plan: %w", err)
		}
		if _, err := s.store.DowngradeExpired(ctx, user.ID, free.UsageLimit, now); err != nil {
			return err
		}
	}

	ok, err := s.store.ConsumeQuota(ctx, user.ID, now)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	s.stats.Increment(stats.QuotaRejections)
	qerr := &QuotaError{UsageCount: user.UsageCount, UsageLimit: user.UsageLimit}
	if fresh, err := s.store.UserByID(ctx, user.ID); err == nil {
		qerr.UsageCount, qerr.UsageLimit = fresh.UsageCount, fresh.UsageLimit
	}
	return qerr
}

func (s *Service) refund(ctx context.Context, user *store.User) {
	if user.IsAdmin() {
		return
	}
	// The request context may already be done; the refund must still land.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.store.RefundQuota(rctx, user.ID); err != nil {
		s.logger.Error("quota refund failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

// History lists the newest report summaries of userID.
func (s *Service) History(ctx context.Context, userID string) ([]store.ReportSummary, error) {
	return s.store.ListReports(ctx, userID, s.history)
}

// Report returns a report owned by user. Reports of other users are
// reported as ErrNotFound.
func (s *Service) Report(ctx context.Context, user *store.User, id string) (*store.ScanReport, *Results, error) {
	r, err := s.store.ReportByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if r.UserID != user.ID {
		return nil, nil, ErrNotFound
	}
	results, err := DecodeResults(r)
	if err != nil {
		return nil, nil, err
	}
	return r, results, nil
}

// Preview scans without an account: no quota, no cache, nothing stored.
func (s *Service) Preview(ctx context.Context, rawURL string) (*analyzer.Analysis, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, ErrInvalidURL
	}
	analysis, err := s.analyzer.Analyze(ctx, analyzer.Normalize(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	return analysis, nil
}

// DecodeResults unpacks the JSON stored with a report.
func DecodeResults(r *store.ScanReport) (*Results, error) {
	var results Results
	if len(r.Results) == 0 {
		return &results, nil
	}
	if err := json.Unmarshal(r.Results, &results); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", r.ID, err)
	}
	return &results, nil
}
