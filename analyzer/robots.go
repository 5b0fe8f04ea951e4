package analyzer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// RobotsAgent answers whether robots.txt lets our user agent read a URL.
// The answer is informational and never changes the score.
type RobotsAgent struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration

	maxEntries int
	now        func() time.Time

	mu    sync.RWMutex
	cache map[string]robotsEntry
}

const defaultRobotsEntries = 1024

type robotsEntry struct {
	fetched time.Time
	rules   *robotstxt.RobotsData
}

// NewRobotsAgent caches parsed robots.txt per host for ttl. The cache holds at
// most defaultRobotsEntries hosts.
func NewRobotsAgent(client *http.Client, userAgent string, ttl time.Duration) *RobotsAgent {
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RobotsAgent{
		client:     client,
		userAgent:  userAgent,
		ttl:        ttl,
		maxEntries: defaultRobotsEntries,
		now:        time.Now,
		cache:      make(map[string]robotsEntry),
	}
}

// Allowed returns nil when robots.txt could not be retrieved.
func (a *RobotsAgent) Allowed(ctx context.Context, rawURL string) *bool {
	target, err := url.Parse(rawURL)
	if err != nil || !target.IsAbs() {
		return nil
	}

	rules, err := a.rules(ctx, target)
	if err != nil {
		return nil
	}

	path := target.EscapedPath()
	if path == "" {
		path = "/"
	}
	allowed := rules.TestAgent(path, a.userAgent)
	return &allowed
}

func (a *RobotsAgent) rules(ctx context.Context, target *url.URL) (*robotstxt.RobotsData, error) {
	host := strings.ToLower(target.Host)

	a.mu.RLock()
	entry, ok := a.cache[host]
	a.mu.RUnlock()
	if ok && a.now().Sub(entry.fetched) < a.ttl {
		return entry.rules, nil
	}

	robotsURL := target.Scheme + "://" + target.Host + "/robots.txt"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if a.userAgent != "" {
		req.Header.Set("User-Agent", a.userAgent)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	// FromResponse treats 4xx as allow-all and 5xx as disallow-all.
	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}

	a.mu.Lock()
	a.store(host, robotsEntry{fetched: a.now(), rules: data})
	a.mu.Unlock()

	return data, nil
}

// store inserts an entry, making room when the cache is full. Expired hosts go
// first, then the oldest one. Callers hold a.mu.
func (a *RobotsAgent) store(host string, entry robotsEntry) {
	if _, ok := a.cache[host]; !ok && len(a.cache) >= a.maxEntries {
		a.evictLocked()
		if len(a.cache) >= a.maxEntries {
			oldest := ""
			for h, e := range a.cache {
				if oldest == "" || e.fetched.Before(a.cache[oldest].fetched) {
					oldest = h
				}
			}
			delete(a.cache, oldest)
		}
	}
	a.cache[host] = entry
}

// Evict drops hosts whose rules are older than the TTL and returns how many
// were removed.
func (a *RobotsAgent) Evict() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.evictLocked()
}

func (a *RobotsAgent) evictLocked() int {
	removed := 0
	now := a.now()
	for host, e := range a.cache {
		if now.Sub(e.fetched) >= a.ttl {
			delete(a.cache, host)
			removed++
		}
	}
	return removed
}
