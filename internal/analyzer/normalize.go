package analyzer

import (
	"net/url"
	"strings"
)

// NormalizeHost extracts the host from a raw domain entry. Inputs without a
// scheme are treated as http URLs. An unusable input yields "".
func NormalizeHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}

// Candidates returns the homepage URLs to try for host, in priority order.
func Candidates(host string) []string {
	return []string{
		"https://" + host,
		"http://" + host,
		"https://www." + host,
	}
}
