// Package links parses affiliate-network link URLs and annotates matching
// anchors on a page with attribution parameters.
package links

import (
	"net/url"
	"regexp"
	"strings"

	"pagerouter/internal/dom"
)

// DefaultNetworkHost is the affiliate network whose links are recognized.
const DefaultNetworkHost = "jvzoo.com"

// UpdatedEvent is dispatched on the document after another engine rewrote
// affiliate links on the page.
const UpdatedEvent = "jvzooLinksUpdated"

// idPath is the path grammar of an affiliate link:
//
//	/[b/]<funnel>/<product>/<button>[/...]
var idPath = regexp.MustCompile(`^/(?:[bB]/)?(\d+)/(\d+)/(\d+)(?:[/?#]|$)`)

// Descriptor is a parsed affiliate link.
type Descriptor struct {
	URL        *url.URL
	OriginHost string
	FunnelID   string
	ProductID  string
	ButtonID   string
	Query      url.Values
}

// Origin returns scheme://host of the link.
func (d Descriptor) Origin() string {
	return d.URL.Scheme + "://" + d.URL.Host
}

// Parser recognizes links of one affiliate network host and its subdomains.
type Parser struct {
	host *regexp.Regexp
}

// NewParser returns a parser for network; "" means DefaultNetworkHost.
func NewParser(network string) *Parser {
	network = strings.TrimSpace(network)
	if network == "" {
		network = DefaultNetworkHost
	}
	return &Parser{host: regexp.MustCompile(`(?i)(^|\.)` + regexp.QuoteMeta(network) + `$`)}
}

// Parse resolves raw against base and returns its descriptor. Anything that
// does not parse, is on another host, or does not follow the id grammar is
// not a descriptor.
func (p *Parser) Parse(raw string, base *url.URL) (Descriptor, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Descriptor{}, false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Descriptor{}, false
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if !p.host.MatchString(u.Hostname()) {
		return Descriptor{}, false
	}
	m := idPath.FindStringSubmatch(u.EscapedPath())
	if m == nil {
		return Descriptor{}, false
	}
	return Descriptor{
		URL:        u,
		OriginHost: u.Hostname(),
		FunnelID:   m[1],
		ProductID:  m[2],
		ButtonID:   m[3],
		Query:      u.Query(),
	}, true
}

// Anchor parses the href of an <a> element.
func (p *Parser) Anchor(el *dom.Element, base *url.URL) (Descriptor, bool) {
	if el.Tag() != "a" {
		return Descriptor{}, false
	}
	href, ok := el.Attr("href")
	if !ok {
		return Descriptor{}, false
	}
	return p.Parse(href, base)
}

// Source parses the URL an element points at: href of <a> and <area>, src
// of <img> and <iframe>.
func (p *Parser) Source(el *dom.Element, base *url.URL) (Descriptor, bool) {
	var attr string
	switch el.Tag() {
	case "a", "area":
		attr = "href"
	case "img", "iframe":
		attr = "src"
	default:
		return Descriptor{}, false
	}
	v, ok := el.Attr(attr)
	if !ok {
		return Descriptor{}, false
	}
	return p.Parse(v, base)
}

// ContainsAnchor reports whether el or one of its descendants is an anchor
// pointing at an affiliate link.
func (p *Parser) ContainsAnchor(el *dom.Element, base *url.URL) bool {
	return el.Find(func(e *dom.Element) bool {
		_, ok := p.Anchor(e, base)
		return ok
	}) != nil
}
