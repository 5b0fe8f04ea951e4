package store

import (
	"context"
	"fmt"
	"time"
)

// DefaultHistoryLimit bounds ListReports when limit is not positive.
const DefaultHistoryLimit = 20

// CreateReport inserts r, assigning its id and timestamp when unset.
func (s *Store) CreateReport(ctx context.Context, r *ScanReport) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	} else {
		r.CreatedAt = r.CreatedAt.UTC()
	}
	if err := s.db.WithContext(ctx).Create(r).Error; err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

// FindRecentReport returns the newest report of userID for key created at or
// after since, or ErrNotFound.
func (s *Store) FindRecentReport(ctx context.Context, userID, key string, since time.Time) (*ScanReport, error) {
	var r ScanReport
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND normalized_url = ? AND created_at >= ?", userID, key, since.UTC()).
		Order("created_at DESC").
		First(&r).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// ListReports returns up to limit summaries for userID, newest first.
func (s *Store) ListReports(ctx context.Context, userID string, limit int) ([]ReportSummary, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	var out []ReportSummary
	err := s.db.WithContext(ctx).Model(&ScanReport{}).
		Select("id, url, score, created_at").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Scan(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	if out == nil {
		out = []ReportSummary{}
	}
	return out, nil
}

// ReportByID returns a report regardless of owner. Callers enforce ownership.
func (s *Store) ReportByID(ctx context.Context, id string) (*ScanReport, error) {
	var r ScanReport
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &r, nil
}

// CountReports counts reports created at or after since. A zero since counts
// all reports.
func (s *Store) CountReports(ctx context.Context, since time.Time) (int64, error) {
	q := s.db.WithContext(ctx).Model(&ScanReport{})
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since.UTC())
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	return n, nil
}
