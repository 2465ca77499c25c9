// Package engine runs the variant engine for one page evaluation: domain
// recovery, variant resolution and navigation, link annotation and the click
// beacon, in that order.
package engine

import (
	"log/slog"
	"net/url"

	"pagerouter/internal/beacon"
	"pagerouter/internal/dom"
	"pagerouter/internal/links"
	"pagerouter/internal/origin"
	"pagerouter/internal/pathmap"
	"pagerouter/internal/persist"
	"pagerouter/internal/validation"
	"pagerouter/internal/variant"
)

// MaxRedirects is the redirect budget ceiling. A page whose counter has
// reached it never navigates.
const MaxRedirects = 3

// Reason names why the engine navigated.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonDomainParam  Reason = "domain_param"
	ReasonStoredDomain Reason = "stored_domain"
	ReasonVariant      Reason = "variant"
)

// Compiled is a Profile with its path grammar and link parser built. It is
// safe to share between evaluations.
type Compiled struct {
	Profile
	mapper *pathmap.Mapper
	parser *links.Parser
	filter *validation.DomainFilter
}

// Compile prepares p for use.
func Compile(p Profile) *Compiled {
	return &Compiled{
		Profile: p,
		mapper:  pathmap.New(p.Paths),
		parser:  links.NewParser(p.NetworkHost),
		filter:  validation.NewDomainFilter(p.ExcludedDomains),
	}
}

// Mapper returns the compiled path mapper.
func (c *Compiled) Mapper() *pathmap.Mapper {
	return c.mapper
}

// Page is the evaluated page.
type Page struct {
	URL      *url.URL
	Referrer string
}

// Host is everything the page runs against. Any store may be nil.
type Host struct {
	Document *dom.Document
	Durable  persist.KeyedStore
	Cookies  persist.CookieJar
	Session  persist.KeyedStore
	Window   *beacon.Window
}

// Outcome summarizes an evaluation.
type Outcome struct {
	// Redirect is the navigation target, empty when the page stays.
	Redirect        string
	Reason          Reason
	Resolution      variant.Resolution
	Budget          int
	BudgetExhausted bool
	Annotated       int
	Beacon          beacon.Result
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the diagnostic logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithFireHook registers fn to run on every dispatched beacon.
func WithFireHook(fn func(beacon.Fire)) Option {
	return func(e *Engine) { e.onFire = fn }
}

// Engine is the state of one page evaluation.
type Engine struct {
	profile *Compiled
	page    Page
	host    Host
	logger  *slog.Logger
	onFire  func(beacon.Fire)

	started   bool
	navigated bool
	outcome   Outcome

	unit      *origin.Unit
	updater   *origin.LinkUpdater
	annotator *links.Annotator
	beacon    *beacon.Beacon
}

// New creates an engine. Nothing runs until Init.
func New(profile *Compiled, page Page, host Host, opts ...Option) *Engine {
	e := &Engine{
		profile: profile,
		page:    page,
		host:    host,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("profile", profile.Name)
	return e
}

// Annotator returns the link annotator, nil before Init or when tracking is
// off or the page navigated.
func (e *Engine) Annotator() *links.Annotator {
	return e.annotator
}

// Updater returns the domain link updater, nil when it was not started.
func (e *Engine) Updater() *origin.LinkUpdater {
	return e.updater
}

// Init evaluates the page. Calling it again returns the first outcome.
func (e *Engine) Init() Outcome {
	if e.started {
		return e.outcome
	}
	e.started = true

	q := e.page.URL.Query()
	loop := e.host.Document.Loop()
	store := persist.NewAdapter(e.host.Durable, e.host.Cookies,
		persist.WithClock(loop.Now),
		persist.WithLogger(e.logger),
	)

	e.outcome.Budget = pathmap.Budget(q)
	if e.outcome.Budget >= MaxRedirects {
		e.outcome.BudgetExhausted = true
		e.logger.Debug("redirect limit reached, navigation disabled", "count", e.outcome.Budget)
	}

	if e.profile.Loader {
		e.unit = origin.NewUnit(e.page.URL.Host, e.profile.filter, store, e.logger)
		if e.recoverDomain(q) {
			return e.outcome
		}
		if e.route(q, store) {
			return e.outcome
		}
	}

	if e.profile.Tracking {
		e.track()
	}
	return e.outcome
}

// recoverDomain sends the visitor back to the domain carried by dr, or else
// to the remembered domain.
func (e *Engine) recoverDomain(q url.Values) bool {
	if !e.profile.PreserveDomain {
		return false
	}
	if domain, ok := e.unit.FromParam(q); ok {
		e.logger.Debug("redirecting to encoded domain", "domain", domain)
		return e.navigate(origin.RecoveryURL(domain, e.page.URL, e.outcome.Budget), ReasonDomainParam)
	}
	if domain, ok := e.unit.FromStore(); ok {
		e.logger.Debug("redirecting to original domain", "domain", domain)
		return e.navigate(origin.RecoveryURL(domain, e.page.URL, e.outcome.Budget), ReasonStoredDomain)
	}
	return false
}

func (e *Engine) route(q url.Values, store *persist.Adapter) bool {
	resolver := variant.NewResolver(e.profile.Param, e.profile.Allow, store, e.logger)
	res := resolver.Resolve(variant.Signals{
		Query:    q,
		Referrer: e.page.Referrer,
		Host:     e.unit.CurrentDomain(),
	})
	e.outcome.Resolution = res

	if e.profile.PreserveDomain {
		if res.Source == variant.SourceURL {
			e.unit.Remember()
		}
		if enc := e.unit.EncodedCurrent(); enc != "" {
			e.updater = origin.NewLinkUpdater(e.host.Document, e.profile.parser, e.page.URL, enc, e.logger)
		}
	}

	target, ok := e.profile.mapper.Target(e.page.URL.Path, res.Alternate())
	if ok {
		tq := pathmap.TargetQuery(q, e.profile.Param, res.Alternate(), e.outcome.Budget)
		if e.navigate(pathmap.WithQuery(target, tq), ReasonVariant) {
			return true
		}
	}

	if e.updater != nil {
		e.updater.Start()
	}
	return false
}

// navigate records the single navigation of this evaluation. It refuses when
// the budget is exhausted or a navigation already happened.
func (e *Engine) navigate(target string, reason Reason) bool {
	if e.navigated {
		e.logger.Debug("navigation already issued", "target", target)
		return true
	}
	if e.outcome.BudgetExhausted {
		e.logger.Debug("navigation refused, redirect limit reached", "target", target, "reason", reason)
		return false
	}
	e.navigated = true
	e.outcome.Redirect = target
	e.outcome.Reason = reason
	return true
}

func (e *Engine) track() {
	opts := e.profile.Links
	if e.profile.PreserveDomain {
		unit := e.unit
		if unit == nil {
			unit = origin.NewUnit(e.page.URL.Host, e.profile.filter, nil, e.logger)
		}
		opts.EncodedDomain = unit.EncodedCurrent()
	}

	e.annotator = links.NewAnnotator(e.host.Document, e.profile.parser, e.page.URL, opts, e.logger)
	e.beacon = beacon.New(e.host.Document, e.profile.parser, e.page.URL, e.annotator.PageParams(),
		e.host.Window, e.host.Session, e.profile.Beacon, e.logger)
	if e.onFire != nil {
		e.beacon.OnFire(e.onFire)
	}
	e.annotator.OnPass(func() { e.beacon.Check() })

	e.outcome.Annotated = e.annotator.Pass()
	e.outcome.Beacon = e.beacon.Check()
	e.annotator.Attach(e.profile.Loader)
}
