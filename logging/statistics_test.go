package logging

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestStatisticsTracking(t *testing.T) {
	s, err := NewStatistics(t.TempDir())
	if err != nil {
		t.Fatalf("NewStatistics() error = %v", err)
	}

	s.TrackVisitor("10.0.0.1")
	s.TrackVisitor("10.0.0.2")
	s.TrackVisitor("10.0.0.1")

	s.TrackScan("https://Example.com/", 100, false)
	s.TrackScan("https://example.com", 300, true)
	s.TrackScan("https://other.org/page/", 200, false)
	s.TrackScan("http://localhost:8082/api/scan", 50, false)

	snap := s.Snapshot(false)
	if got := snap["uniqueVisitors24h"]; got != 2 {
		t.Errorf("uniqueVisitors24h = %v, want 2", got)
	}
	if got := snap["errorRate"]; got != 25.0 {
		t.Errorf("errorRate = %v, want 25", got)
	}
	if s.AverageLoadTime != 162.5 {
		t.Errorf("AverageLoadTime = %v, want 162.5", s.AverageLoadTime)
	}

	popular := s.GetPopularURLs(5)
	if len(popular) != 2 {
		t.Fatalf("GetPopularURLs() = %+v", popular)
	}
	if popular[0].URL != "https://example.com" || popular[0].Count != 2 {
		t.Errorf("top URL = %+v", popular[0])
	}
	if popular[1].URL != "https://other.org/page" {
		t.Errorf("second URL = %+v", popular[1])
	}

	if _, ok := s.Snapshot(false)["popularUrls"]; ok {
		t.Error("Snapshot(false) should hide popular URLs")
	}
	if _, ok := s.Snapshot(true)["popularUrls"]; !ok {
		t.Error("Snapshot(true) should include popular URLs")
	}
}

func TestStatisticsPersistence(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStatistics(dir)
	if err != nil {
		t.Fatalf("NewStatistics() error = %v", err)
	}
	s.TrackScan("https://example.com", 10, false)
	if err := s.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, err := NewStatistics(dir)
	if err != nil {
		t.Fatalf("NewStatistics() reload error = %v", err)
	}
	if reloaded.ScanRequests != 1 || reloaded.PopularURLs["https://example.com"] != 1 {
		t.Errorf("reloaded = %+v", reloaded.Snapshot(true))
	}
}

func TestStatisticsConcurrentSave(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStatistics(dir)
	if err != nil {
		t.Fatalf("NewStatistics() error = %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.TrackScan(fmt.Sprintf("https://example.com/%d", i), 10, false)
			errs <- s.Save()
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Save() error = %v", err)
		}
	}

	reloaded, err := NewStatistics(dir)
	if err != nil {
		t.Fatalf("NewStatistics() reload error = %v", err)
	}
	if reloaded.ScanRequests != 16 {
		t.Errorf("reloaded ScanRequests = %d, want 16", reloaded.ScanRequests)
	}
	leftovers, _ := filepath.Glob(filepath.Join(dir, "*.tmp"))
	if len(leftovers) != 0 {
		t.Errorf("temp files left behind: %v", leftovers)
	}
}

func TestStatisticsPrune(t *testing.T) {
	s, err := NewStatistics(t.TempDir())
	if err != nil {
		t.Fatalf("NewStatistics() error = %v", err)
	}
	base := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	s.TrackVisitor("10.0.0.1")

	s.now = func() time.Time { return base.Add(25 * time.Hour) }
	s.TrackVisitor("10.0.0.2")
	s.Prune()

	if len(s.UniqueVisitors) != 1 {
		t.Errorf("UniqueVisitors = %v", s.UniqueVisitors)
	}
}

func TestNewLogger(t *testing.T) {
	for _, style := range []string{"json", "console", ""} {
		if _, err := NewLogger("debug", style); err != nil {
			t.Errorf("NewLogger(debug, %q) error = %v", style, err)
		}
	}
	if _, err := NewLogger("loud", "json"); err == nil {
		t.Error("NewLogger with bad level should fail")
	}
	if _, err := NewLogger("info", "xml"); err == nil {
		t.Error("NewLogger with bad style should fail")
	}
}
