package analyzer

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const samplePage = `<!doctype html>
<html lang="en">
<head>
  <title>  My Page  </title>
  <meta name="Description" content="A fine description">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <link rel="canonical" href="https://example.com/">
</head>
<body>
  <h1>Hello</h1><h2>a</h2><h2>b</h2><h3>c</h3>
  <img src="a.png" alt="logo"><img src="b.png"><img src="c.png" alt="  ">
  <a href="/about">About</a><a href="/about#team">Team</a>
  <a href="https://other.example/x">Other</a><a href="mailto:x@example.com">Mail</a><a href="#top">Top</a>
  <p>one two three</p>
</body>
</html>`

func TestNormalize(t *testing.T) {
	cases := []struct {
		name      string
		in        string
		wantFetch string
		wantKey   string
	}{
		{"bare host", "example.com", "https://example.com", "example.com"},
		{"trailing slash", "https://example.com/", "https://example.com/", "example.com"},
		{"upper case", "EXAMPLE.com", "https://EXAMPLE.com", "example.com"},
		{"http kept", "http://Example.com/Path/", "http://Example.com/Path/", "example.com/path"},
		{"whitespace", "  example.com/a  ", "https://example.com/a", "example.com/a"},
		{"garbage", "not a url", "https://not a url", "not a url"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize(tc.in)
			if got.FetchURL != tc.wantFetch {
				t.Errorf("FetchURL = %q, want %q", got.FetchURL, tc.wantFetch)
			}
			if got.Key != tc.wantKey {
				t.Errorf("Key = %q, want %q", got.Key, tc.wantKey)
			}
		})
	}

	if Normalize("https://example.com/").Key != Normalize("EXAMPLE.com").Key {
		t.Fatal("keys should ignore case and trailing slash")
	}
}

func TestScore(t *testing.T) {
	cases := []struct {
		name string
		f    Features
		want int
	}{
		{"worst case", Features{Title: Missing, Description: Missing, H1Count: 0, ImgAltMissing: 6}, 40},
		{"clean page", Features{Title: "My Page", Description: "A fine description", H1Count: 1}, 100},
		{"title only", Features{Title: Missing, Description: "d", H1Count: 2}, 80},
		{"five missing alts is fine", Features{Title: "t", Description: "d", H1Count: 1, ImgAltMissing: 5}, 100},
		{"no h1", Features{Title: "t", Description: "d"}, 90},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Score(tc.f); got != tc.want {
				t.Fatalf("Score() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestScoreBounded(t *testing.T) {
	titles := []string{Missing, "x"}
	for _, title := range titles {
		for _, desc := range titles {
			for h1 := 0; h1 < 3; h1++ {
				for alt := 0; alt < 10; alt++ {
					f := Features{Title: title, Description: desc, H1Count: h1, ImgAltMissing: alt}
					got := Score(f)
					if got < 0 || got > 100 {
						t.Fatalf("Score(%+v) = %d out of range", f, got)
					}
					if got != Score(f) {
						t.Fatalf("Score(%+v) not deterministic", f)
					}
				}
			}
		}
	}
}

func TestExtract(t *testing.T) {
	f := Extract([]byte(samplePage), "https://example.com/")

	if f.Title != "My Page" {
		t.Errorf("Title = %q", f.Title)
	}
	if f.Description != "A fine description" {
		t.Errorf("Description = %q", f.Description)
	}
	if f.H1Count != 1 || f.H2Count != 2 || f.H3Count != 1 {
		t.Errorf("headings = %d/%d/%d", f.H1Count, f.H2Count, f.H3Count)
	}
	if f.ImageCount != 3 || f.ImgAltMissing != 2 {
		t.Errorf("images = %d, alt missing = %d", f.ImageCount, f.ImgAltMissing)
	}
	if f.InternalLinks != 1 || f.ExternalLinks != 1 {
		t.Errorf("links internal=%d external=%d", f.InternalLinks, f.ExternalLinks)
	}
	if !f.MobileOptimized || f.Lang != "en" || f.Canonical != "https://example.com/" {
		t.Errorf("meta signals = %+v", f)
	}
}

func TestExtractMalformed(t *testing.T) {
	inputs := [][]byte{
		nil,
		[]byte("<<<>>> not html at all"),
		[]byte("<html><head><title></title><meta name=description content=''></head>"),
	}
	for _, in := range inputs {
		f := Extract(in, "::bad url")
		if f.Title != Missing || f.Description != Missing {
			t.Errorf("Extract(%q) = %+v, want Missing title/description", in, f)
		}
		if f.H1Count != 0 || f.ImgAltMissing != 0 {
			t.Errorf("Extract(%q) counts = %+v", in, f)
		}
	}
}

func TestExtractTitleOutsideSVG(t *testing.T) {
	iconOnly := `<html><body><svg><title>icon</title></svg><h1>Hi</h1></body></html>`
	f := Extract([]byte(iconOnly), "https://example.com/")
	if f.Title != Missing {
		t.Errorf("Title = %q, want Missing", f.Title)
	}
	if got := Score(f); got != 60 {
		t.Errorf("Score() = %d, want 60", got)
	}

	cases := []struct {
		page string
		want string
	}{
		{
			page: `<html><head><title>Real</title></head><body><svg><title>icon</title></svg></body></html>`,
			want: "Real",
		},
		{
			page: `<html><body><svg><title>icon</title></svg><title>Late</title></body></html>`,
			want: "Late",
		},
	}
	for _, tc := range cases {
		if got := Extract([]byte(tc.page), "https://example.com/").Title; got != tc.want {
			t.Errorf("Extract(%q).Title = %q, want %q", tc.page, got, tc.want)
		}
	}
}

func TestRobotsCacheEviction(t *testing.T) {
	var hits [3]atomic.Int32
	var urls [3]string
	for i := range urls {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits[i].Add(1)
			w.Write([]byte("User-agent: *\nAllow: /\n"))
		}))
		defer srv.Close()
		urls[i] = srv.URL + "/"
	}

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := NewRobotsAgent(nil, "SEOAudit/1.0", time.Minute)
	a.now = func() time.Time { return clock }
	a.maxEntries = 2

	ctx := context.Background()
	a.Allowed(ctx, urls[0])
	clock = clock.Add(10 * time.Second)
	a.Allowed(ctx, urls[1])
	clock = clock.Add(10 * time.Second)
	a.Allowed(ctx, urls[2])
	if len(a.cache) != 2 {
		t.Fatalf("cache size = %d, want 2", len(a.cache))
	}

	// The oldest host was dropped and is fetched again.
	a.Allowed(ctx, urls[0])
	if hits[0].Load() != 2 {
		t.Errorf("first host fetches = %d, want 2", hits[0].Load())
	}
	if len(a.cache) != 2 {
		t.Errorf("cache size = %d, want 2", len(a.cache))
	}

	clock = clock.Add(2 * time.Minute)
	if n := a.Evict(); n != 2 {
		t.Errorf("Evict() = %d, want 2", n)
	}
	if len(a.cache) != 0 {
		t.Errorf("cache size after Evict = %d", len(a.cache))
	}
}

func TestFetcherToleratesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("<title>Not here</title>"))
	}))
	defer srv.Close()

	page, err := NewHTTPFetcher(FetchOptions{}).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if page.StatusCode != http.StatusNotFound || !strings.Contains(string(page.Body), "Not here") {
		t.Fatalf("page = %d %q", page.StatusCode, page.Body)
	}
}

func TestFetcherDecodesGzipAndTruncates(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte(strings.Repeat("a", 100)))
	gz.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	page, err := NewHTTPFetcher(FetchOptions{MaxBodyBytes: 10}).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(page.Body) != strings.Repeat("a", 10) {
		t.Fatalf("Body = %q", page.Body)
	}
}

func TestFetcherRetriesOnceOnTimeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			time.Sleep(300 * time.Millisecond)
		}
		w.Write([]byte("<title>ok</title>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(FetchOptions{Timeout: 100 * time.Millisecond, RetryOnTimeout: true})
	page, err := f.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if calls.Load() != 2 || !strings.Contains(string(page.Body), "ok") {
		t.Fatalf("calls = %d body = %q", calls.Load(), page.Body)
	}
}

func TestFetcherConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, err := NewHTTPFetcher(FetchOptions{Timeout: time.Second}).Fetch(context.Background(), addr)
	if !errors.Is(err, ErrFetchFailed) {
		t.Fatalf("Fetch() error = %v, want ErrFetchFailed", err)
	}
}

func TestAnalyze(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(samplePage))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	a := NewDefault(FetchOptions{Timeout: 2 * time.Second, UserAgent: "SEOAudit/1.0"})
	res, err := a.Analyze(context.Background(), Normalize(srv.URL+"/"))
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if res.Score != 100 {
		t.Errorf("Score = %d, want 100", res.Score)
	}
	if res.Features.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", res.Features.StatusCode)
	}
	if res.Features.RobotsAllowed == nil || !*res.Features.RobotsAllowed {
		t.Errorf("RobotsAllowed = %v, want true", res.Features.RobotsAllowed)
	}

	private, err := a.Analyze(context.Background(), Normalize(srv.URL+"/private"))
	if err != nil {
		t.Fatalf("Analyze(private) error = %v", err)
	}
	if private.Features.RobotsAllowed == nil || *private.Features.RobotsAllowed {
		t.Errorf("RobotsAllowed(private) = %v, want false", private.Features.RobotsAllowed)
	}
}
