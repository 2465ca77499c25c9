// Package beacon fires the click attribution request for a page view: at
// most once per key within a TTL, and never more often than the throttle
// allows across keys.
package beacon

import (
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"pagerouter/internal/dom"
	"pagerouter/internal/links"
	"pagerouter/internal/persist"
)

const (
	DefaultTTL           = 30 * time.Second
	DefaultThrottle      = 1500 * time.Millisecond
	DefaultEndpoint      = "https://www.jvzoo.com/c/"
	DefaultSessionPrefix = "jvzFired:"

	// legacyFired is the boolean record older page scripts left in session
	// storage. It is honored as a fire that happened just now.
	legacyFired = "1"

	hiddenFrameStyle = "width:0;height:0;border:0;position:absolute;left:-9999px;top:-9999px;"
)

var digits = regexp.MustCompile(`^\d+$`)

// FireKey identifies one logical attribution event. Absent parts are empty.
type FireKey struct {
	AccountID  string
	ProductID  string
	TrackingID string
}

func (k FireKey) String() string {
	return k.AccountID + "|" + k.ProductID + "|" + k.TrackingID
}

// Options tune a Beacon.
type Options struct {
	TTL      time.Duration
	Throttle time.Duration
	// FallbackProductID is used when the page has no affiliate link. It must
	// be numeric.
	FallbackProductID string
	Endpoint          string
	SessionPrefix     string
}

// DefaultOptions returns the deployed beacon settings.
func DefaultOptions() Options {
	return Options{
		TTL:           DefaultTTL,
		Throttle:      DefaultThrottle,
		Endpoint:      DefaultEndpoint,
		SessionPrefix: DefaultSessionPrefix,
	}
}

// Result is the outcome of a Check.
type Result string

const (
	Fired      Result = "fired"
	NoAccount  Result = "no_account"
	NoProduct  Result = "no_product"
	Throttled  Result = "throttled"
	Duplicate  Result = "duplicate"
	NoDocument Result = "no_document"
)

// Fire describes a dispatched beacon.
type Fire struct {
	Key FireKey
	URL string
	At  time.Time
}

// Beacon checks and fires the attribution request of one page evaluation.
type Beacon struct {
	doc     *dom.Document
	parser  *links.Parser
	base    *url.URL
	page    url.Values
	win     *Window
	session persist.KeyedStore
	opts    Options
	logger  *slog.Logger
	onFire  func(Fire)
}

// New builds a beacon. page are the normalized page parameters, win the
// visitor's window and session its per-tab store (nil when unavailable).
func New(doc *dom.Document, parser *links.Parser, base *url.URL, page url.Values, win *Window, session persist.KeyedStore, opts Options, logger *slog.Logger) *Beacon {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.SessionPrefix == "" {
		opts.SessionPrefix = DefaultSessionPrefix
	}
	if win == nil {
		win = NewWindow(opts.Throttle)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Beacon{
		doc:     doc,
		parser:  parser,
		base:    base,
		page:    page,
		win:     win,
		session: session,
		opts:    opts,
		logger:  logger,
	}
}

// OnFire registers fn to run after each dispatched beacon.
func (b *Beacon) OnFire(fn func(Fire)) {
	b.onFire = fn
}

// Check fires the beacon unless a guard suppresses it.
func (b *Beacon) Check() Result {
	aid := b.page.Get("aid")
	if aid == "" {
		b.logger.Debug("click: skip, missing aid")
		return NoAccount
	}

	pid := b.productID()
	if pid == "" {
		b.logger.Debug("click: skip, no product id on page and no valid fallback")
		return NoProduct
	}

	now := b.doc.Loop().Now()
	if b.win.Throttled(now) {
		b.logger.Debug("click: skip, throttled")
		return Throttled
	}

	key := FireKey{AccountID: aid, ProductID: pid, TrackingID: b.page.Get("tid")}
	if b.hasFired(key, now) {
		b.logger.Debug("click: skip, already fired within ttl", "key", key.String())
		return Duplicate
	}

	body := b.doc.Body()
	if body == nil {
		return NoDocument
	}
	target := b.URL(key)
	frame := b.doc.CreateElement("iframe")
	frame.SetAttr("src", target)
	frame.SetAttr("style", hiddenFrameStyle)
	body.AppendChild(frame)

	b.markFired(key, now)
	if b.onFire != nil {
		b.onFire(Fire{Key: key, URL: target, At: now})
	}
	return Fired
}

// URL builds the beacon URL of key with every page parameter overlaid.
func (b *Beacon) URL(key FireKey) string {
	u, err := url.Parse(b.opts.Endpoint + url.PathEscape(key.AccountID) + "/" + key.ProductID)
	if err != nil {
		return ""
	}
	q := u.Query()
	for k, v := range b.page {
		if len(v) > 0 {
			q.Set(k, v[len(v)-1])
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (b *Beacon) productID() string {
	for _, el := range b.doc.Elements(nil) {
		if d, ok := b.parser.Source(el, b.base); ok {
			return d.ProductID
		}
	}
	if digits.MatchString(b.opts.FallbackProductID) {
		return b.opts.FallbackProductID
	}
	return ""
}

func (b *Beacon) hasFired(key FireKey, now time.Time) bool {
	k := key.String()
	if ts, ok := b.win.LastFired(k); ok && now.Sub(ts) < b.opts.TTL {
		return true
	}
	if b.session == nil {
		return false
	}

	sk := b.opts.SessionPrefix + k
	raw, err := b.session.Get(sk)
	if err != nil {
		b.logger.Debug("session store read failed", "key", sk, "error", err)
		return false
	}
	switch raw {
	case "":
		return false
	case legacyFired:
		b.setSession(sk, now)
		b.win.Remember(k, now)
		return true
	}

	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}
	ts := time.UnixMilli(ms)
	if now.Sub(ts) < b.opts.TTL {
		b.win.Remember(k, ts)
		return true
	}
	if err := b.session.Remove(sk); err != nil {
		b.logger.Debug("session store remove failed", "key", sk, "error", err)
	}
	b.win.Forget(k)
	return false
}

func (b *Beacon) markFired(key FireKey, now time.Time) {
	b.win.Mark(key.String(), now)
	if b.session != nil {
		b.setSession(b.opts.SessionPrefix+key.String(), now)
	}
}

func (b *Beacon) setSession(key string, now time.Time) {
	if err := b.session.Set(key, strconv.FormatInt(now.UnixMilli(), 10)); err != nil {
		b.logger.Debug("session store write failed", "key", key, "error", err)
	}
}
