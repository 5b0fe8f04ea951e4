package analyzer

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// ErrFetchFailed wraps network level failures (DNS, refused, timeout).
var ErrFetchFailed = errors.New("failed to fetch site")

// Fetcher retrieves a page for scanning.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*Page, error)
}

// FetchOptions controls HTTP fetching behaviour.
type FetchOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	// RetryOnTimeout allows a single extra attempt after a timed out request.
	RetryOnTimeout bool
}

// HTTPFetcher implements Fetcher with a pooled http.Client.
type HTTPFetcher struct {
	client         *http.Client
	userAgent      string
	maxBodyBytes   int64
	retryOnTimeout bool
}

// NewHTTPFetcher builds a fetcher; zero options fall back to 8s and 5MB.
func NewHTTPFetcher(opts FetchOptions) *HTTPFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 5 * 1024 * 1024
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "SEOAudit/1.0"
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: opts.Timeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		// bodies are decoded by readBody so that brotli works too
		DisableCompression: true,
	}

	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		userAgent:      opts.UserAgent,
		maxBodyBytes:   opts.MaxBodyBytes,
		retryOnTimeout: opts.RetryOnTimeout,
	}
}

// Client exposes the underlying client for robots.txt lookups.
func (f *HTTPFetcher) Client() *http.Client {
	return f.client
}

// Fetch downloads url. Non-2xx responses are returned as pages, not errors.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	page, err := f.fetchOnce(ctx, url)
	if err != nil && f.retryOnTimeout && isTimeout(err) && ctx.Err() == nil {
		page, err = f.fetchOnce(ctx, url)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	return page, nil
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	body, err := f.readBody(resp)
	if err != nil {
		return nil, err
	}

	finalURL := url
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Page{
		URL:         url,
		FinalURL:    finalURL,
		StatusCode:  resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
		FetchedAt:   time.Now(),
		Latency:     time.Since(start),
	}, nil
}

// readBody decodes the response and truncates it at maxBodyBytes.
func (f *HTTPFetcher) readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	reader := io.Reader(resp.Body)
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		reader = fl
	}

	body, err := io.ReadAll(io.LimitReader(reader, f.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
