// Package variant resolves which content variant a visitor should see from
// the current URL, the persisted selection and the referrer, in that order.
package variant

import (
	"log/slog"
	"net/url"

	"pagerouter/internal/persist"
)

// Token is a variant token. Any value outside a profile's allow-list, the
// empty string included, selects the default (compliant) variant.
type Token string

// None is the resolved token of the default variant.
const None Token = ""

// Source names where a resolved token came from.
type Source string

const (
	SourceNone     Source = "none"
	SourceURL      Source = "url"
	SourceStored   Source = "stored"
	SourceReferrer Source = "referrer"
)

// AllowList is the set of tokens that select alternate content. Matching is
// exact and case-sensitive.
type AllowList []string

// Contains reports whether v is an allowed token.
func (a AllowList) Contains(v string) bool {
	if v == "" {
		return false
	}
	for _, t := range a {
		if t == v {
			return true
		}
	}
	return false
}

// Signals are the inputs of one resolution.
type Signals struct {
	Query    url.Values
	Referrer string
	// Host is the current host used to scope persisted cookies.
	Host string
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Token  Token
	Source Source
}

// Alternate reports whether the resolution selects alternate content.
func (r Resolution) Alternate() bool {
	return r.Token != None
}

// Resolver computes the effective token for a page view.
type Resolver struct {
	param  string
	allow  AllowList
	store  *persist.Adapter
	logger *slog.Logger
}

// NewResolver creates a resolver for the query parameter param. The
// parameter name doubles as the persisted key.
func NewResolver(param string, allow AllowList, store *persist.Adapter, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{param: param, allow: allow, store: store, logger: logger}
}

// Param returns the query parameter name.
func (r *Resolver) Param() string {
	return r.param
}

// Allowed reports whether v is in the allow-list.
func (r *Resolver) Allowed(v string) bool {
	return r.allow.Contains(v)
}

// Resolve applies the precedence URL, persisted value, referrer. URL and
// referrer hits are persisted; only allow-listed tokens are ever written.
func (r *Resolver) Resolve(sig Signals) Resolution {
	if v := sig.Query.Get(r.param); r.allow.Contains(v) {
		r.persist(v, sig.Host)
		return Resolution{Token: Token(v), Source: SourceURL}
	}

	if r.store != nil {
		if v, ok := r.store.Read(r.param); ok && r.allow.Contains(v) {
			return Resolution{Token: Token(v), Source: SourceStored}
		}
	}

	if v := r.fromReferrer(sig.Referrer); v != "" {
		r.persist(v, sig.Host)
		return Resolution{Token: Token(v), Source: SourceReferrer}
	}

	return Resolution{Token: None, Source: SourceNone}
}

func (r *Resolver) fromReferrer(ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil || u.Scheme == "" || u.Host == "" {
		r.logger.Debug("ignoring unparseable referrer", "referrer", ref)
		return ""
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil && len(q) == 0 {
		return ""
	}
	if v := q.Get(r.param); r.allow.Contains(v) {
		return v
	}
	return ""
}

func (r *Resolver) persist(v, host string) {
	if r.store == nil {
		return
	}
	r.store.Write(r.param, v, persist.WriteOptions{Host: host, SameSite: "Lax"})
}
