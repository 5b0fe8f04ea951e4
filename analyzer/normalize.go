package analyzer

import (
	"regexp"
	"strings"
)

var schemePrefix = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9+.-]*://`)

// NormalizedURL holds the fetchable form of a user supplied URL and its cache key.
type NormalizedURL struct {
	FetchURL string
	Key      string
}

// Normalize never fails; a malformed URL is only detected when fetching it.
func Normalize(raw string) NormalizedURL {
	fetchURL := strings.TrimSpace(raw)
	if !schemePrefix.MatchString(fetchURL) {
		fetchURL = "https://" + fetchURL
	}

	key := schemePrefix.ReplaceAllString(fetchURL, "")
	key = strings.TrimSuffix(key, "/")
	key = strings.ToLower(key)

	return NormalizedURL{FetchURL: fetchURL, Key: key}
}
