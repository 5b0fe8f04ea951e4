package analyzer

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extract pulls the on-page signals out of raw HTML. It never fails: input the
// parser cannot make sense of simply yields no matches.
func Extract(html []byte, pageURL string) Features {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return Features{Title: Missing, Description: Missing}
	}

	f := Features{PageSize: len(html)}
	f.Title = textOrMissing(pageTitle(doc))
	f.Description = Missing
	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name, _ := s.Attr("name")
		if !strings.EqualFold(strings.TrimSpace(name), "description") {
			return true
		}
		content, _ := s.Attr("content")
		f.Description = textOrMissing(content)
		return false
	})

	f.H1Count = doc.Find("h1").Length()
	f.H2Count = doc.Find("h2").Length()
	f.H3Count = doc.Find("h3").Length()

	images := doc.Find("img")
	f.ImageCount = images.Length()
	images.Each(func(_ int, s *goquery.Selection) {
		// an empty alt counts as missing
		if alt, exists := s.Attr("alt"); !exists || strings.TrimSpace(alt) == "" {
			f.ImgAltMissing++
		}
	})

	f.Canonical, _ = doc.Find("link[rel='canonical']").First().Attr("href")
	f.Lang, _ = doc.Find("html").First().Attr("lang")
	f.Viewport, _ = doc.Find("meta[name='viewport']").First().Attr("content")
	f.MobileOptimized = strings.Contains(strings.ToLower(f.Viewport), "width=device-width")
	f.WordCount = len(strings.Fields(doc.Find("body").Text()))
	f.InternalLinks, f.ExternalLinks = countLinks(doc, pageURL)

	return f
}

// pageTitle prefers the head title. Without one it takes the first title that
// is not an svg or math annotation.
func pageTitle(doc *goquery.Document) string {
	if t := doc.Find("head title").First(); t.Length() > 0 {
		return t.Text()
	}
	return doc.Find("title").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.ParentsFiltered("svg, math").Length() == 0
	}).First().Text()
}

func textOrMissing(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return Missing
	}
	return s
}

// countLinks classifies unique anchors as internal (same host) or external.
func countLinks(doc *goquery.Document, pageURL string) (internal, external int) {
	base, err := url.Parse(pageURL)
	if err != nil {
		return 0, 0
	}

	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		if seen[abs.String()] {
			return
		}
		seen[abs.String()] = true

		if strings.EqualFold(abs.Hostname(), base.Hostname()) {
			internal++
		} else {
			external++
		}
	})
	return internal, external
}
