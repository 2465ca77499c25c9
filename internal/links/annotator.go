package links

import (
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"

	"pagerouter/internal/dom"
)

// Defaults of Options.
const (
	DefaultMarker   = "jvz-processed"
	DefaultDebounce = 100 * time.Millisecond
	DomainParam     = "dr"
)

// DefaultAlwaysPass are page parameters copied onto every affiliate link.
var DefaultAlwaysPass = []string{"aid", "coupon"}

// normalizedKeys are page parameter names folded to lower case.
var normalizedKeys = map[string]bool{"aid": true, "tid": true, "coupon": true}

// Options tune an Annotator.
type Options struct {
	// AlwaysPass lists page parameters (compared lower-case) that are
	// always copied onto links.
	AlwaysPass []string
	// PassAll also copies every other page parameter.
	PassAll bool
	// Marker is the data-* attribute name set to "true" on processed links.
	Marker   string
	Debounce time.Duration
	// EncodedDomain is set as the dr parameter of links that lack one.
	EncodedDomain string
}

// DefaultOptions returns the options of the deployed tracking script.
func DefaultOptions() Options {
	return Options{
		AlwaysPass: DefaultAlwaysPass,
		PassAll:    true,
		Marker:     DefaultMarker,
		Debounce:   DefaultDebounce,
	}
}

// NormalizePageParams folds aid, tid and coupon keys to lower case. Later
// values of a key replace earlier ones.
func NormalizePageParams(q url.Values) url.Values {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(url.Values, len(q))
	for _, k := range keys {
		vs := q[k]
		if len(vs) == 0 {
			continue
		}
		name := k
		if lk := strings.ToLower(k); normalizedKeys[lk] {
			name = lk
		}
		out.Set(name, vs[len(vs)-1])
	}
	return out
}

// Annotator rewrites affiliate anchors on one document exactly once each.
type Annotator struct {
	doc    *dom.Document
	parser *Parser
	base   *url.URL
	page   url.Values
	opts   Options
	logger *slog.Logger

	busy     bool
	debounce dom.TimerID
	pending  bool
	onPass   func()
	observer *dom.Observer
	attached bool
	passes   int
}

// NewAnnotator builds an annotator for doc. base is the page URL, whose query
// supplies the page parameters.
func NewAnnotator(doc *dom.Document, parser *Parser, base *url.URL, opts Options, logger *slog.Logger) *Annotator {
	if opts.Marker == "" {
		opts.Marker = DefaultMarker
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Annotator{
		doc:    doc,
		parser: parser,
		base:   base,
		page:   NormalizePageParams(base.Query()),
		opts:   opts,
		logger: logger,
	}
}

// PageParams returns the normalized page parameters.
func (a *Annotator) PageParams() url.Values {
	return a.page
}

// OnPass registers fn to run after every debounced pass.
func (a *Annotator) OnPass(fn func()) {
	a.onPass = fn
}

// Passes returns how many annotation passes ran to completion.
func (a *Annotator) Passes() int {
	return a.passes
}

// Pass annotates every unprocessed affiliate anchor and returns how many it
// rewrote. A pass never starts while another is in progress.
func (a *Annotator) Pass() int {
	if a.busy {
		a.logger.Debug("skipping link update, already in progress")
		return 0
	}
	a.busy = true
	defer func() { a.busy = false }()

	n := 0
	for _, el := range a.doc.Elements(func(e *dom.Element) bool { return e.Tag() == "a" }) {
		d, ok := a.parser.Anchor(el, a.base)
		if !ok || el.Data(a.opts.Marker) == "true" {
			continue
		}
		el.SetData(a.opts.Marker, "true")
		el.SetAttr("href", a.Rewrite(d))
		n++
	}
	a.passes++
	return n
}

// Rewrite builds the annotated URL of d: the link's own query, then the
// always-pass page parameters, then optionally every other page parameter.
// An existing dr on the link is kept; otherwise EncodedDomain is used.
func (a *Annotator) Rewrite(d Descriptor) string {
	q := make(url.Values, len(d.Query)+len(a.page)+1)
	for k, v := range d.Query {
		q[k] = append([]string(nil), v...)
	}
	for k, v := range a.page {
		if a.alwaysPass(k) {
			q.Set(k, v[0])
		}
	}
	if a.opts.PassAll {
		for k, v := range a.page {
			if !a.alwaysPass(k) {
				q.Set(k, v[0])
			}
		}
	}
	if dr := d.Query.Get(DomainParam); dr != "" {
		q.Set(DomainParam, dr)
	} else if a.opts.EncodedDomain != "" {
		q.Set(DomainParam, a.opts.EncodedDomain)
	}

	out := url.URL{
		Scheme:   d.URL.Scheme,
		Host:     d.URL.Host,
		Path:     d.URL.Path,
		RawPath:  d.URL.RawPath,
		RawQuery: q.Encode(),
	}
	return out.String()
}

func (a *Annotator) alwaysPass(key string) bool {
	key = strings.ToLower(key)
	for _, k := range a.opts.AlwaysPass {
		if strings.ToLower(k) == key {
			return true
		}
	}
	return false
}

// Schedule queues a debounced pass. Calls within the debounce delay coalesce
// into one pass followed by the OnPass hook.
func (a *Annotator) Schedule() {
	loop := a.doc.Loop()
	if a.pending {
		loop.ClearTimeout(a.debounce)
	}
	a.pending = true
	a.debounce = loop.SetTimeout(a.opts.Debounce, func() {
		a.pending = false
		a.Pass()
		if a.onPass != nil {
			a.onPass()
		}
	})
}

// Attach starts watching the document. With a companion engine on the page
// the annotator follows its UpdatedEvent and only watches for added nodes;
// standalone it also watches href changes. Attach is a no-op after the first
// call.
func (a *Annotator) Attach(companion bool) {
	if a.attached {
		return
	}
	a.attached = true

	opts := dom.ObserveOptions{ChildList: true}
	if companion {
		a.doc.AddEventListener(UpdatedEvent, func(dom.Event) { a.Schedule() })
	} else {
		opts.Attributes = true
		opts.AttributeFilter = []string{"href"}
	}
	a.observer = a.doc.Observe(opts, a.observe)
}

// Detach stops observing.
func (a *Annotator) Detach() {
	if a.observer != nil {
		a.observer.Disconnect()
	}
}

func (a *Annotator) observe(records []dom.MutationRecord) {
	if a.busy {
		return
	}
	for _, rec := range records {
		if a.triggers(rec) {
			a.Schedule()
			return
		}
	}
}

func (a *Annotator) triggers(rec dom.MutationRecord) bool {
	switch rec.Type {
	case dom.Attributes:
		// Processed links are never rewritten again, so their href changes
		// (our own included) cannot produce work.
		if rec.AttributeName != "href" || rec.Target.Data(a.opts.Marker) == "true" {
			return false
		}
		_, ok := a.parser.Anchor(rec.Target, a.base)
		return ok
	case dom.ChildList:
		for _, n := range rec.AddedNodes {
			if a.parser.ContainsAnchor(n, a.base) {
				return true
			}
		}
	}
	return false
}
