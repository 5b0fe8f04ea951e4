// Package report renders scan results for sharing.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nao1215/markdown"

	"github.com/seo-optimizer/seoaudit/ai"
	"github.com/seo-optimizer/seoaudit/analyzer"
	"github.com/seo-optimizer/seoaudit/scan"
	"github.com/seo-optimizer/seoaudit/store"
)

// Document is everything a rendering needs.
type Document struct {
	ID        string            `json:"id,omitempty"`
	URL       string            `json:"url"`
	Score     int               `json:"score"`
	ScannedAt time.Time         `json:"scannedAt"`
	Technical analyzer.Features `json:"technical"`
	Content   *ai.Commentary    `json:"content"`
}

// FromReport builds a Document from a stored report.
func FromReport(r *store.ScanReport, results *scan.Results) Document {
	d := Document{
		ID:        r.ID,
		URL:       r.URL,
		Score:     r.Score,
		ScannedAt: r.CreatedAt,
	}
	if results != nil {
		d.Technical = results.Technical
		d.Content = results.Content
	}
	return d
}

// FromAnalysis builds a Document from an unsaved analysis.
func FromAnalysis(a *analyzer.Analysis, at time.Time) Document {
	return Document{
		URL:       a.URL,
		Score:     a.Score,
		ScannedAt: at,
		Technical: a.Features,
	}
}

// WriteJSON writes d as indented JSON.
func WriteJSON(w io.Writer, d Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}

// WriteMarkdown writes d as a Markdown document.
func WriteMarkdown(w io.Writer, d Document) error {
	md := markdown.NewMarkdown(w)

	md.H1("SEO Audit Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"URL", "`" + d.URL + "`"},
			{"Scanned", d.ScannedAt.UTC().Format("2006-01-02 15:04:05 MST")},
			{"Score", strconv.Itoa(d.Score) + " / 100"},
		},
	})
	md.PlainText("")
	writeVerdict(md, d.Score)

	writeTechnical(md, d.Technical)
	writeCommentary(md, d.Content)

	md.HorizontalRule()
	md.PlainText("")
	md.PlainText("*Generated by seoaudit*")
	return md.Build()
}

func writeVerdict(md *markdown.Markdown, score int) {
	switch {
	case score >= 90:
		md.Tip("The page covers the on-page basics.")
	case score >= 70:
		md.Note("A few on-page issues are worth fixing.")
	case score >= 50:
		md.Warningf("Score %d: several on-page issues lower this page's ranking potential.", score)
	default:
		md.Cautionf("Score %d: key on-page elements are missing.", score)
	}
	md.PlainText("")
}

func writeTechnical(md *markdown.Markdown, f analyzer.Features) {
	md.H2("Technical Findings")
	md.PlainText("")

	rows := [][]string{
		{"Title", orDash(f.Title)},
		{"Meta description", orDash(f.Description)},
		{"H1 / H2 / H3", fmt.Sprintf("%d / %d / %d", f.H1Count, f.H2Count, f.H3Count)},
		{"Images without alt", fmt.Sprintf("%d of %d", f.ImgAltMissing, f.ImageCount)},
		{"Links (internal / external)", fmt.Sprintf("%d / %d", f.InternalLinks, f.ExternalLinks)},
		{"Word count", strconv.Itoa(f.WordCount)},
		{"Mobile viewport", yesNo(f.MobileOptimized)},
		{"Canonical", orDash(f.Canonical)},
		{"Language", orDash(f.Lang)},
	}
	if f.StatusCode != 0 {
		rows = append(rows, []string{"HTTP status", strconv.Itoa(f.StatusCode)})
	}
	if f.PageSize != 0 {
		rows = append(rows, []string{"Page size", strconv.Itoa(f.PageSize) + " bytes"})
	}
	if f.LoadTimeMs != 0 {
		rows = append(rows, []string{"Load time", strconv.FormatInt(f.LoadTimeMs, 10) + " ms"})
	}
	if f.RobotsAllowed != nil {
		rows = append(rows, []string{"Allowed by robots.txt", yesNo(*f.RobotsAllowed)})
	}

	md.Table(markdown.TableSet{
		Header: []string{"Check", "Result"},
		Rows:   rows,
	})
	md.PlainText("")
}

func writeCommentary(md *markdown.Markdown, c *ai.Commentary) {
	md.H2("Content Review")
	md.PlainText("")
	if c == nil {
		md.PlainText("No AI commentary was generated for this scan.")
		md.PlainText("")
		return
	}

	if c.Summary != "" {
		md.PlainText(c.Summary)
		md.PlainText("")
	}
	sections := []struct {
		title string
		items []string
	}{
		{"Strengths", c.Strengths},
		{"Issues", c.Issues},
		{"Recommendations", c.Recommendations},
	}
	for _, s := range sections {
		if len(s.items) == 0 {
			continue
		}
		md.H3(s.title)
		md.PlainText("")
		md.BulletList(s.items...)
		md.PlainText("")
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
