package mapslink

import (
	"net/url"
	"strings"
)

// QueryFromURL returns the search-intent parameter "q" of rawURL, or "" when
// the address has none or cannot be parsed.
//
// The value is percent-decoded only. A literal "+" stays a plus sign, so
// "q=pizza+near+me" yields "pizza+near+me".
func QueryFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for _, pair := range strings.Split(u.RawQuery, "&") {
		k, v, _ := strings.Cut(pair, "=")
		if key, err := url.PathUnescape(k); err != nil || key != "q" {
			continue
		}
		val, err := url.PathUnescape(v)
		if err != nil {
			return ""
		}
		return val
	}
	return ""
}
