package validation

import (
	"net"
	"net/url"
	"regexp"
	"strings"
)

// TokenPattern defines the valid format for variant tokens and parameter
// names in configuration: alphanumeric, hyphens, underscores.
var TokenPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// DefaultExcludedDomains are affiliate-network hosts that must never be
// remembered as a visitor's original domain.
var DefaultExcludedDomains = []string{
	"jvzoo.com",
	"www.jvzoo.com",
	"clickbank.com",
	"www.clickbank.com",
	"digistore24.com",
	"www.digistore24.com",
	"buygoods.com",
	"www.buygoods.com",
}

// ValidateToken checks if a token matches the allowed pattern.
func ValidateToken(token string) bool {
	if token == "" || len(token) > 100 {
		return false
	}
	return TokenPattern.MatchString(token)
}

// ValidateURL checks if a URL is valid and uses an allowed scheme (http/https only).
// This prevents javascript:, data:, vbscript:, and other dangerous URL schemes.
func ValidateURL(urlStr string) (bool, string) {
	if urlStr == "" {
		return false, "URL is required"
	}

	u, err := url.Parse(urlStr)
	if err != nil {
		return false, "Invalid URL format"
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false, "URL must use http:// or https:// scheme"
	}

	if u.Host == "" {
		return false, "URL must have a valid host"
	}

	return true, ""
}

// NormalizeHost lower-cases host and strips a port and a leading "www.".
func NormalizeHost(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

// DomainFilter decides which hosts may be remembered and redirected to.
type DomainFilter struct {
	excluded map[string]struct{}
}

// NewDomainFilter builds a filter over DefaultExcludedDomains plus extra.
// The default hosts are always excluded.
func NewDomainFilter(extra []string) *DomainFilter {
	f := &DomainFilter{excluded: make(map[string]struct{}, len(DefaultExcludedDomains)+len(extra))}
	for _, list := range [][]string{DefaultExcludedDomains, extra} {
		for _, d := range list {
			f.excluded[strings.ToLower(strings.TrimSpace(d))] = struct{}{}
		}
	}
	return f
}

// Valid reports whether domain passes the validity filter: it has a dot, is
// not an affiliate-network host and is not a loopback-style host.
func (f *DomainFilter) Valid(domain string) bool {
	if _, ok := f.excluded[strings.ToLower(domain)]; ok {
		return false
	}
	if strings.HasPrefix(domain, "localhost") || strings.HasPrefix(domain, "127.0.0.1") {
		return false
	}
	return strings.Contains(domain, ".")
}

var defaultFilter = NewDomainFilter(nil)

// IsPreservableDomain applies the default filter.
func IsPreservableDomain(domain string) bool {
	return defaultFilter.Valid(domain)
}

// ParseClientIP returns the canonical form of an address, or "" when it is
// not an IP.
func ParseClientIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
