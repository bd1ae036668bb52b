package security

import (
	"net/url"
	"strings"
)

// MaskURL hides credentials in an RPC endpoint. Hosted providers embed the
// API key as the last path segment or a query parameter, so both are masked.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return MaskAPIKey(raw)
	}
	if u.User != nil {
		u.User = url.User("redacted")
	}
	if u.RawQuery != "" {
		u.RawQuery = "***"
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if last := segments[len(segments)-1]; len(last) >= 16 {
		segments[len(segments)-1] = MaskAPIKey(last)
		u.Path = "/" + strings.Join(segments, "/")
		u.RawPath = u.Path
	}
	return u.String()
}

// MaskAPIKey masks an API key showing only first 4 chars
func MaskAPIKey(key string) string {
	if len(key) < 4 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", len(key)-4)
}
