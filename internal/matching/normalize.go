// Package matching builds the normalized keys used for mock lookup and
// query deduplication. Normalization is idempotent: applying it to an
// already-normalized value returns the same value.
package matching

import (
	"net/url"
	"sort"
	"strings"
)

// NormalizePath canonicalizes a URL path: ensures a leading slash and
// strips a trailing slash except for the root path.
func NormalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	for len(p) > 1 && strings.HasSuffix(p, "/") {
		p = p[:len(p)-1]
	}
	return p
}

// NormalizeQuery canonicalizes a raw query string by sorting parameters by
// key, then by value. "?b=2&a=1" and "?a=1&b=2" normalize identically.
func NormalizeQuery(raw string) string {
	if raw == "" {
		return ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return raw
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		vals := append([]string(nil), values[k]...)
		sort.Strings(vals)
		for _, v := range vals {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// RequestKey builds the mock match key for an HTTP request.
func RequestKey(method, path, rawQuery string) string {
	key := strings.ToUpper(method) + " " + NormalizePath(path)
	if q := NormalizeQuery(rawQuery); q != "" {
		key += "?" + q
	}
	return key
}

// CollapseWhitespace reduces any run of whitespace to a single space and
// trims the ends. Used to fingerprint query text.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
