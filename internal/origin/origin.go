// Package origin remembers the domain on which a visitor first selected the
// alternate variant, and brings the visitor back to it after a detour through
// a third-party checkout domain. Cookies and storage do not cross domains, so
// the domain travels as an encoded "dr" parameter on outbound links.
package origin

import (
	"encoding/base64"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"pagerouter/internal/pathmap"
	"pagerouter/internal/persist"
	"pagerouter/internal/validation"
)

const (
	// Param is the link and page query parameter carrying an encoded domain.
	Param = "dr"
	// StoreKey is the persisted key of the domain record.
	StoreKey = "originalDomain"
)

// Encode returns the opaque form of domain used in the dr parameter.
func Encode(domain string) string {
	return base64.StdEncoding.EncodeToString([]byte(domain))
}

// Decode reverses Encode. It accepts unpadded input and spaces standing in
// for "+" (form decoding of an unescaped parameter).
func Decode(token string) (string, bool) {
	token = strings.TrimRight(strings.ReplaceAll(strings.TrimSpace(token), " ", "+"), "=")
	if token == "" {
		return "", false
	}
	b, err := base64.RawStdEncoding.DecodeString(token)
	if err != nil {
		return "", false
	}
	return string(b), true
}

// Unit is the domain preservation state for one page evaluation.
type Unit struct {
	host   string
	filter *validation.DomainFilter
	store  *persist.Adapter
	logger *slog.Logger
}

// NewUnit creates a unit for the current host (port and www. are stripped).
func NewUnit(host string, filter *validation.DomainFilter, store *persist.Adapter, logger *slog.Logger) *Unit {
	if filter == nil {
		filter = validation.NewDomainFilter(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Unit{
		host:   validation.NormalizeHost(host),
		filter: filter,
		store:  store,
		logger: logger,
	}
}

// CurrentDomain returns the normalized current host.
func (u *Unit) CurrentDomain() string {
	return u.host
}

// Valid applies the domain validity filter.
func (u *Unit) Valid(domain string) bool {
	return u.filter.Valid(domain)
}

// EncodedCurrent returns the encoded current domain, or "" when the current
// domain fails the validity filter.
func (u *Unit) EncodedCurrent() string {
	if !u.filter.Valid(u.host) {
		return ""
	}
	return Encode(u.host)
}

// FromParam returns the domain carried by a dr parameter when it is valid
// and differs from the current domain.
func (u *Unit) FromParam(q url.Values) (string, bool) {
	raw := q.Get(Param)
	if raw == "" {
		return "", false
	}
	domain, ok := Decode(raw)
	if !ok || !u.filter.Valid(domain) {
		u.logger.Debug("discarding invalid encoded domain", "dr", raw)
		return "", false
	}
	if domain == u.host {
		u.logger.Debug("already on encoded domain", "domain", domain)
		return "", false
	}
	return domain, true
}

// Stored returns the remembered domain when it passes the filter.
func (u *Unit) Stored() (string, bool) {
	if u.store == nil {
		return "", false
	}
	return u.store.ReadValid(StoreKey, u.filter.Valid)
}

// FromStore returns the remembered domain when it differs from the current
// one.
func (u *Unit) FromStore() (string, bool) {
	domain, ok := u.Stored()
	if !ok || domain == u.host {
		return "", false
	}
	return domain, true
}

// Remember records the current domain unless a valid record already exists
// or the current domain fails the filter. It reports whether it wrote.
func (u *Unit) Remember() bool {
	if u.store == nil || !u.filter.Valid(u.host) {
		return false
	}
	if _, ok := u.Stored(); ok {
		return false
	}
	u.store.Write(StoreKey, u.host, persist.WriteOptions{Host: u.host, SameSite: "Lax"})
	return true
}

// RecoveryURL builds the URL on domain that preserves the path, query and
// fragment of current, with the redirect counter set to count+1.
func RecoveryURL(domain string, current *url.URL, count int) string {
	q := current.Query()
	q.Set(pathmap.BudgetParam, strconv.Itoa(count+1))
	target := url.URL{
		Scheme:   "https",
		Host:     domain,
		Path:     current.Path,
		RawQuery: q.Encode(),
		Fragment: current.Fragment,
	}
	if target.Path == "" {
		target.Path = "/"
	}
	return target.String()
}
