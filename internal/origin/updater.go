package origin

import (
	"log/slog"
	"net/url"
	"time"

	"pagerouter/internal/dom"
	"pagerouter/internal/links"
)

// RetryDelays are the re-runs of the link updater that catch late content.
var RetryDelays = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, time.Second}

// LinkUpdater adds the encoded current domain to affiliate links and tells
// other engines on the page about it with links.UpdatedEvent.
type LinkUpdater struct {
	doc     *dom.Document
	parser  *links.Parser
	base    *url.URL
	encoded string
	logger  *slog.Logger

	observer *dom.Observer
	runs     int
}

// NewLinkUpdater returns an updater that writes encoded as the dr parameter.
func NewLinkUpdater(doc *dom.Document, parser *links.Parser, base *url.URL, encoded string, logger *slog.Logger) *LinkUpdater {
	if logger == nil {
		logger = slog.Default()
	}
	return &LinkUpdater{doc: doc, parser: parser, base: base, encoded: encoded, logger: logger}
}

// Runs returns how many update passes ran.
func (u *LinkUpdater) Runs() int {
	return u.runs
}

// Update adds dr to every affiliate anchor lacking one, then dispatches
// links.UpdatedEvent with the number of affiliate anchors found.
func (u *LinkUpdater) Update() int {
	u.runs++
	found := 0
	for _, el := range u.doc.Elements(func(e *dom.Element) bool { return e.Tag() == "a" }) {
		d, ok := u.parser.Anchor(el, u.base)
		if !ok {
			continue
		}
		found++
		if d.Query.Has(Param) {
			continue
		}
		q := d.URL.Query()
		q.Set(Param, u.encoded)
		next := *d.URL
		next.RawQuery = q.Encode()
		el.SetAttr("href", next.String())
	}

	u.doc.Dispatch(dom.Event{
		Type:   links.UpdatedEvent,
		Detail: map[string]any{"linkCount": found},
	})
	return found
}

// Start runs Update now and at RetryDelays, and again whenever affiliate
// anchors are added to the document.
func (u *LinkUpdater) Start() {
	if u.observer != nil {
		return
	}
	u.Update()
	loop := u.doc.Loop()
	for _, d := range RetryDelays {
		loop.SetTimeout(d, func() { u.Update() })
	}
	u.observer = u.doc.Observe(dom.ObserveOptions{ChildList: true}, func(records []dom.MutationRecord) {
		for _, rec := range records {
			for _, n := range rec.AddedNodes {
				if u.parser.ContainsAnchor(n, u.base) {
					u.logger.Debug("new affiliate links detected")
					u.Update()
					return
				}
			}
		}
	})
}

// Stop disconnects the observer. Pending re-runs still fire.
func (u *LinkUpdater) Stop() {
	if u.observer != nil {
		u.observer.Disconnect()
	}
}
