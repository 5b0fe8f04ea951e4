package analyzer

import "time"

// Missing is reported for a title or description the page does not have.
const Missing = "Missing"

// Features is the technical record extracted from one page.
type Features struct {
	Title         string `json:"title"`
	Description   string `json:"description"`
	H1Count       int    `json:"h1Count"`
	H2Count       int    `json:"h2Count"`
	H3Count       int    `json:"h3Count"`
	ImgAltMissing int    `json:"imgAltMissing"`

	ImageCount      int    `json:"imageCount"`
	InternalLinks   int    `json:"internalLinks"`
	ExternalLinks   int    `json:"externalLinks"`
	WordCount       int    `json:"wordCount"`
	Canonical       string `json:"canonical,omitempty"`
	Lang            string `json:"lang,omitempty"`
	Viewport        string `json:"viewport,omitempty"`
	MobileOptimized bool   `json:"mobileOptimized"`

	StatusCode    int   `json:"statusCode,omitempty"`
	PageSize      int   `json:"pageSize,omitempty"`
	LoadTimeMs    int64 `json:"loadTimeMs,omitempty"`
	RobotsAllowed *bool `json:"robotsAllowed,omitempty"`
}

// Page is a fetched document. The body is used as HTML whatever the status.
type Page struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
	FetchedAt   time.Time
	Latency     time.Duration
}

// Analysis is the outcome of scanning one URL.
type Analysis struct {
	URL      string   `json:"url"`
	Key      string   `json:"key"`
	Features Features `json:"technical"`
	Score    int      `json:"score"`
}
