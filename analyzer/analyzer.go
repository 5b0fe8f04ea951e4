// Package analyzer turns a URL into scored on-page SEO features.
package analyzer

import (
	"context"
	"time"
)

// robotsTimeout bounds the informational robots.txt lookup.
const robotsTimeout = 3 * time.Second

// Analyzer runs fetch, extraction and scoring for one URL. It holds no per-scan
// state and is safe for concurrent use.
type Analyzer struct {
	fetcher Fetcher
	robots  *RobotsAgent
}

// New creates an Analyzer. robots may be nil to skip the robots.txt signal.
func New(fetcher Fetcher, robots *RobotsAgent) *Analyzer {
	return &Analyzer{fetcher: fetcher, robots: robots}
}

// NewDefault wires an HTTPFetcher and RobotsAgent from fetch options.
func NewDefault(opts FetchOptions) *Analyzer {
	fetcher := NewHTTPFetcher(opts)
	return New(fetcher, NewRobotsAgent(fetcher.Client(), opts.UserAgent, 0))
}

// Analyze fetches n.FetchURL and scores it. Only fetch failures are errors.
func (a *Analyzer) Analyze(ctx context.Context, n NormalizedURL) (*Analysis, error) {
	page, err := a.fetcher.Fetch(ctx, n.FetchURL)
	if err != nil {
		return nil, err
	}

	features := Extract(page.Body, page.FinalURL)
	features.StatusCode = page.StatusCode
	features.LoadTimeMs = page.Latency.Milliseconds()

	if a.robots != nil {
		rctx, cancel := context.WithTimeout(ctx, robotsTimeout)
		features.RobotsAllowed = a.robots.Allowed(rctx, page.FinalURL)
		cancel()
	}

	return &Analysis{
		URL:      n.FetchURL,
		Key:      n.Key,
		Features: features,
		Score:    Score(features),
	}, nil
}
