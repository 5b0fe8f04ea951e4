// Package ai asks a hosted LLM for plain-language commentary on scan results.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/seo-optimizer/seoaudit/analyzer"
)

// ErrNotConfigured is returned when no API key is available.
var ErrNotConfigured = errors.New("commentary not configured")

// ErrUpstream wraps failures of the LLM call.
var ErrUpstream = errors.New("commentary request failed")

// Commentary is the structured advice attached to a report.
type Commentary struct {
	Summary         string   `json:"summary"`
	Strengths       []string `json:"strengths"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

// GeminiClient calls the generateContent endpoint. The key is resolved on
// every call so a rotated secret takes effect without a restart.
type GeminiClient struct {
	BaseURL string
	Model   string
	APIKey  func() string
	HTTP    *http.Client
}

// NewGeminiClient builds a client with a per-request timeout.
func NewGeminiClient(baseURL, model string, timeout time.Duration, apiKey func() string) *GeminiClient {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &GeminiClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Model:   model,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// Enabled reports whether an API key is present.
func (c *GeminiClient) Enabled() bool {
	return c != nil && c.APIKey != nil && c.APIKey() != ""
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Commentary asks the model to explain features for pageURL.
func (c *GeminiClient) Commentary(ctx context.Context, pageURL string, features analyzer.Features, score int) (*Commentary, error) {
	if !c.Enabled() {
		return nil, ErrNotConfigured
	}

	body, err := json.Marshal(generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: buildPrompt(pageURL, features, score)}}}},
		GenerationConfig: generationConfig{
			Temperature:      0.4,
			ResponseMimeType: "application/json",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode gemini request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.BaseURL, url.PathEscape(c.Model), url.QueryEscape(c.APIKey()))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		// The URL carries the key; report only the cause.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}

	var parsed generateResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("%w: status %d: decode response: %v", ErrUpstream, resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := http.StatusText(resp.StatusCode)
		if parsed.Error != nil && parsed.Error.Message != "" {
			msg = parsed.Error.Message
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, msg)
	}

	text := responseText(parsed)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrUpstream)
	}
	return ParseCommentary(text), nil
}

func responseText(r generateResponse) string {
	var b strings.Builder
	for _, cand := range r.Candidates {
		for _, p := range cand.Content.Parts {
			b.WriteString(p.Text)
		}
		if b.Len() > 0 {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

// ParseCommentary extracts the JSON object from a model reply. Code fences
// and surrounding prose are ignored; a reply with no usable object becomes
// the summary.
func ParseCommentary(text string) *Commentary {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		var c Commentary
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &c); err == nil && c.Summary != "" {
			return &c
		}
	}
	return &Commentary{Summary: strings.TrimSpace(cleaned)}
}

func buildPrompt(pageURL string, f analyzer.Features, score int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an SEO consultant. Review the on-page signals of %s.\n", pageURL)
	fmt.Fprintf(&b, "Heuristic score: %d/100.\n", score)
	fmt.Fprintf(&b, "Title: %s\n", f.Title)
	fmt.Fprintf(&b, "Meta description: %s\n", f.Description)
	fmt.Fprintf(&b, "Headings: h1=%d h2=%d h3=%d\n", f.H1Count, f.H2Count, f.H3Count)
	fmt.Fprintf(&b, "Images: %d total, %d without alt text\n", f.ImageCount, f.ImgAltMissing)
	fmt.Fprintf(&b, "Links: %d internal, %d external\n", f.InternalLinks, f.ExternalLinks)
	fmt.Fprintf(&b, "Words: %d, mobile viewport: %t, canonical: %q, lang: %q\n", f.WordCount, f.MobileOptimized, f.Canonical, f.Lang)
	fmt.Fprintf(&b, "HTTP status: %d, load time: %dms\n", f.StatusCode, f.LoadTimeMs)
	b.WriteString("Reply with one JSON object with keys summary (string), strengths, issues and recommendations (arrays of short strings).")
	return b.String()
}
