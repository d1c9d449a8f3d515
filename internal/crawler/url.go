package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, and sorts query parameters.
// It also removes fragments.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	q := u.Query()
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// SeedURLs expands the paginated listing start pages: one URL per category and
// offset index, each offset advancing by pageLimit.
//
//	{baseEndpoint}/{category}?purchasable=0&limit={pageLimit}&offset={i*pageLimit}
func SeedURLs(baseEndpoint string, categories []string, fanOut, pageLimit int) []string {
	base := strings.TrimRight(baseEndpoint, "/")
	out := make([]string, 0, len(categories)*fanOut)
	for _, category := range categories {
		for i := 0; i < fanOut; i++ {
			out = append(out, fmt.Sprintf(
				"%s/%s?purchasable=0&limit=%d&offset=%d",
				base, category, pageLimit, i*pageLimit,
			))
		}
	}
	return out
}
