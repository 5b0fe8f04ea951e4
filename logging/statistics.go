package logging

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Statistics represents the collected traffic statistics
type Statistics struct {
	UniqueVisitors  map[string]time.Time `json:"uniqueVisitors"`  // IP -> Last Visit Time
	ScanRequests    int                  `json:"scanRequests"`    // Total number of scan requests
	ErrorCount      int                  `json:"errorCount"`      // Number of failed scan requests
	PopularURLs     map[string]int       `json:"popularUrls"`     // URL -> Count
	AverageLoadTime float64              `json:"averageLoadTime"` // Average scan latency in milliseconds
	TotalLoadTime   float64              `json:"totalLoadTime"`
	LastPersisted   time.Time            `json:"lastPersisted"`

	filePath string
	mutex    sync.RWMutex
	saveMu   sync.Mutex
	now      func() time.Time
}

// URLCount is one entry of the popular URL ranking.
type URLCount struct {
	URL   string `json:"url"`
	Count int    `json:"count"`
}

// NewStatistics creates statistics persisted under dataDir, loading any
// previous snapshot.
func NewStatistics(dataDir string) (*Statistics, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("could not create data directory: %w", err)
	}
	s := &Statistics{
		UniqueVisitors: make(map[string]time.Time),
		PopularURLs:    make(map[string]int),
		filePath:       filepath.Join(dataDir, "traffic.json"),
		now:            time.Now,
	}
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// TrackVisitor records a unique visitor
func (s *Statistics) TrackVisitor(ip string) {
	if s == nil || ip == "" {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.UniqueVisitors[ip] = s.now()
}

// cleanURL reduces a scanned URL to scheme, host and path.
func cleanURL(urlStr string) string {
	u, err := url.Parse(strings.TrimSpace(urlStr))
	if err != nil || u.Host == "" {
		return ""
	}

	host := strings.ToLower(u.Hostname())
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return ""
	}

	cleaned := u.Scheme + "://" + strings.ToLower(u.Host)
	if u.Path != "" && u.Path != "/" {
		cleaned += u.Path
	}
	return strings.TrimSuffix(cleaned, "/")
}

// TrackScan records one scan request and its latency.
func (s *Statistics) TrackScan(scannedURL string, loadTimeMs float64, hasError bool) {
	if s == nil {
		return
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.ScanRequests++

	if cleaned := cleanURL(scannedURL); cleaned != "" {
		s.PopularURLs[cleaned]++
	}
	if hasError {
		s.ErrorCount++
	}

	s.TotalLoadTime += loadTimeMs
	s.AverageLoadTime = s.TotalLoadTime / float64(s.ScanRequests)
}

func (s *Statistics) uniqueVisitorsLocked() int {
	count := 0
	cutoff := s.now().Add(-24 * time.Hour)
	for _, lastVisit := range s.UniqueVisitors {
		if lastVisit.After(cutoff) {
			count++
		}
	}
	return count
}

func (s *Statistics) popularLocked(n int) []URLCount {
	ranked := make([]URLCount, 0, len(s.PopularURLs))
	for u, c := range s.PopularURLs {
		ranked = append(ranked, URLCount{URL: u, Count: c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].URL < ranked[j].URL
	})
	if n >= 0 && len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// GetPopularURLs returns the top n most scanned URLs
func (s *Statistics) GetPopularURLs(n int) []URLCount {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.popularLocked(n)
}

func (s *Statistics) errorRateLocked() float64 {
	if s.ScanRequests == 0 {
		return 0
	}
	return float64(s.ErrorCount) / float64(s.ScanRequests) * 100
}

// Snapshot summarises the statistics. Popular URLs are included only when
// withURLs is set.
func (s *Statistics) Snapshot(withURLs bool) map[string]interface{} {
	if s == nil {
		return map[string]interface{}{}
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := map[string]interface{}{
		"uniqueVisitors24h": s.uniqueVisitorsLocked(),
		"totalRequests":     s.ScanRequests,
		"errorRate":         s.errorRateLocked(),
		"averageLoadTime":   s.AverageLoadTime,
	}
	if withURLs {
		out["popularUrls"] = s.popularLocked(5)
	}
	return out
}

// Prune drops visitors not seen in the last 24 hours.
func (s *Statistics) Prune() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	cutoff := s.now().Add(-24 * time.Hour)
	for ip, lastVisit := range s.UniqueVisitors {
		if !lastVisit.After(cutoff) {
			delete(s.UniqueVisitors, ip)
		}
	}
}

// Save persists the statistics to disk. Concurrent calls are serialized so
// they never share the temp file.
func (s *Statistics) Save() error {
	if s == nil {
		return nil
	}
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mutex.Lock()
	s.LastPersisted = s.now()
	data, err := json.Marshal(s)
	s.mutex.Unlock()
	if err != nil {
		return fmt.Errorf("could not encode statistics: %w", err)
	}

	tmp := s.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("could not write statistics file: %w", err)
	}
	if err := os.Rename(tmp, s.filePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("could not replace statistics file: %w", err)
	}
	return nil
}

// Load reads the statistics from disk. A missing file is not an error.
func (s *Statistics) Load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("could not open statistics file: %w", err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err := json.Unmarshal(data, s); err != nil {
		return fmt.Errorf("could not decode statistics: %w", err)
	}
	if s.UniqueVisitors == nil {
		s.UniqueVisitors = make(map[string]time.Time)
	}
	if s.PopularURLs == nil {
		s.PopularURLs = make(map[string]int)
	}
	return nil
}
