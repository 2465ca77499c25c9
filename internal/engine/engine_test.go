package engine

import (
	"fmt"
	"net/url"
	"strings"
	"testing"
	"time"

	"pagerouter/internal/beacon"
	"pagerouter/internal/dom"
	"pagerouter/internal/origin"
	"pagerouter/internal/persist"
	"pagerouter/internal/variant"
)

var epoch = time.Date(2026, 5, 20, 8, 30, 0, 0, time.UTC)

// visitor is the browser state that survives page loads.
type visitor struct {
	durable *persist.MemoryStore
	jar     *persist.MemoryJar
	session *persist.MemoryStore
	window  *beacon.Window
}

func newVisitor() *visitor {
	return &visitor{
		durable: persist.NewMemoryStore(),
		jar:     persist.NewMemoryJar(nil),
		session: persist.NewMemoryStore(),
		window:  beacon.NewWindow(beacon.DefaultThrottle),
	}
}

type evaluation struct {
	engine *Engine
	doc    *dom.Document
	loop   *dom.Loop
	fires  []beacon.Fire
}

func (v *visitor) load(t *testing.T, p Profile, rawURL, referrer, body string) *evaluation {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	loop := dom.NewLoop(epoch)
	doc, err := dom.ParseString("<html><body>"+body+"</body></html>", loop)
	if err != nil {
		t.Fatal(err)
	}
	ev := &evaluation{doc: doc, loop: loop}
	ev.engine = New(Compile(p), Page{URL: u, Referrer: referrer}, Host{
		Document: doc,
		Durable:  v.durable,
		Cookies:  v.jar,
		Session:  v.session,
		Window:   v.window,
	}, WithFireHook(func(f beacon.Fire) { ev.fires = append(ev.fires, f) }))
	return ev
}

func (ev *evaluation) settle(t *testing.T) {
	t.Helper()
	if _, err := ev.loop.RunFor(3 * time.Second); err != nil {
		t.Fatalf("RunFor: %v", err)
	}
}

func hrefs(doc *dom.Document) []*url.URL {
	var out []*url.URL
	for _, el := range doc.Elements(func(e *dom.Element) bool { return e.Tag() == "a" }) {
		h, _ := el.Attr("href")
		u, _ := url.Parse(h)
		out = append(out, u)
	}
	return out
}

func TestEngine_PersistedTokenAndNoRedirectOnAlternatePath(t *testing.T) {
	v := newVisitor()

	first := v.load(t, CBProfile(), "https://shop.example.com/cb/ds1?pg=indexb", "", "").engine.Init()
	if first.Redirect != "" {
		t.Errorf("first load redirected to %q", first.Redirect)
	}
	if first.Resolution.Source != variant.SourceURL {
		t.Errorf("first source = %q", first.Resolution.Source)
	}
	if got, _ := v.durable.Get("pg"); got != "indexb" {
		t.Errorf("persisted token = %q", got)
	}
	if got, _ := v.durable.Get(origin.StoreKey); got != "shop.example.com" {
		t.Errorf("domain record = %q", got)
	}

	second := v.load(t, CBProfile(), "https://shop.example.com/cb/ds1", "", "").engine.Init()
	if second.Redirect != "" || second.Resolution.Token != "indexb" || second.Resolution.Source != variant.SourceStored {
		t.Errorf("second load = %+v", second)
	}
}

func TestEngine_DefaultVariantRedirect(t *testing.T) {
	out := newVisitor().load(t, CBProfile(), "https://shop.example.com/cb/ds1", "", "").engine.Init()
	if out.Redirect != "/cb/ds1-c/index.html?_redirect=1" || out.Reason != ReasonVariant {
		t.Errorf("outcome = %+v", out)
	}
}

func TestEngine_TokenStrippedOnlyTowardDefault(t *testing.T) {
	toAlt := newVisitor().load(t, JVProfile(), "https://shop.example.com/jv/ds1-c/?tb=vdrd&x=1", "", "").engine.Init()
	if toAlt.Redirect != "/jv/ds1/index.html?_redirect=1&tb=vdrd&x=1" {
		t.Errorf("toward alternate = %q", toAlt.Redirect)
	}

	toDefault := newVisitor().load(t, JVProfile(), "https://shop.example.com/jv/ds1?tb=nope&x=1", "", "").engine.Init()
	if toDefault.Redirect != "/jv/ds1-c/index.html?_redirect=1&x=1" {
		t.Errorf("toward default = %q", toDefault.Redirect)
	}
}

func TestEngine_EncodedDomainWinsBeforeResolution(t *testing.T) {
	v := newVisitor()
	raw := "https://shop.example.com/cb/ds1/?dr=" + url.QueryEscape(origin.Encode("example.com")) + "&pg=indexb#top"
	out := v.load(t, CBProfile(), raw, "", "").engine.Init()

	if out.Reason != ReasonDomainParam {
		t.Fatalf("reason = %q, redirect %q", out.Reason, out.Redirect)
	}
	u, _ := url.Parse(out.Redirect)
	if u.Host != "example.com" || u.Path != "/cb/ds1/" || u.Fragment != "top" {
		t.Errorf("redirect = %s", out.Redirect)
	}
	if q := u.Query(); q.Get("pg") != "indexb" || q.Get("_redirect") != "1" {
		t.Errorf("redirect query = %v", q)
	}
	if got, _ := v.durable.Get("pg"); got != "" {
		t.Errorf("resolution ran before domain recovery, stored %q", got)
	}
}

func TestEngine_StoredDomainRecovery(t *testing.T) {
	v := newVisitor()
	_ = v.durable.Set(origin.StoreKey, "example.com")

	out := v.load(t, JVProfile(), "https://checkout.example.net/jv/?aid=1", "", "").engine.Init()
	if out.Reason != ReasonStoredDomain || !strings.HasPrefix(out.Redirect, "https://example.com/jv/?") {
		t.Errorf("outcome = %+v", out)
	}

	same := v.load(t, JVProfile(), "https://example.com/jv/index.html?tb=vdrd", "", "").engine.Init()
	if same.Reason == ReasonStoredDomain {
		t.Error("redirected to the domain it is already on")
	}
}

func TestEngine_BudgetExhausted(t *testing.T) {
	v := newVisitor()
	out := v.load(t, JVProfile(), "https://shop.example.com/jv/ds1?_redirect=3&aid=9", "",
		`<a href="https://jvzoo.com/b/1/46/3">buy</a>`).engine.Init()

	if out.Redirect != "" || !out.BudgetExhausted {
		t.Errorf("outcome = %+v", out)
	}
	if out.Annotated != 1 || out.Beacon != beacon.Fired {
		t.Errorf("tracking did not run: %+v", out)
	}

	dr := "https://shop.example.com/jv/?_redirect=5&dr=" + url.QueryEscape(origin.Encode("example.com"))
	if out := v.load(t, JVProfile(), dr, "", "").engine.Init(); out.Redirect != "" {
		t.Errorf("domain redirect past the ceiling: %q", out.Redirect)
	}
}

func TestEngine_FixedPoint(t *testing.T) {
	paths := []string{"/jv", "/jv/", "/jv/index.html", "/jv/c/", "/jv/ds1", "/jv/ds1-c/index.html", "/jv/us2/", "/jv/ftc"}
	queries := []string{"tb=vdrd", "", "tb=bogus"}

	for _, path := range paths {
		for _, query := range queries {
			t.Run(path+"?"+query, func(t *testing.T) {
				v := newVisitor()
				out := v.load(t, JVProfile(), "https://shop.example.com"+path+"?"+query, "", "").engine.Init()
				if out.Redirect == "" {
					return
				}
				next := "https://shop.example.com" + out.Redirect
				if again := v.load(t, JVProfile(), next, "", "").engine.Init(); again.Redirect != "" {
					t.Errorf("%s -> %s -> %s", path, out.Redirect, again.Redirect)
				}
			})
		}
	}
}

func TestEngine_InitIsIdempotent(t *testing.T) {
	ev := newVisitor().load(t, JVProfile(), "https://shop.example.com/jv/index.html?tb=vdrd&aid=3", "",
		`<a href="https://jvzoo.com/b/1/46/3">buy</a>`)
	first := ev.engine.Init()
	second := ev.engine.Init()
	if first != second {
		t.Errorf("Init() changed: %+v vs %+v", first, second)
	}
	if ev.engine.Annotator().Passes() != 1 {
		t.Errorf("Passes() = %d", ev.engine.Annotator().Passes())
	}
	if len(ev.fires) != 1 {
		t.Errorf("fires = %d", len(ev.fires))
	}
}

func TestEngine_AnnotatesBothLinkForms(t *testing.T) {
	ev := newVisitor().load(t, JVProfile(), "https://shop.example.com/jv/index.html?tb=vdrd&aid=77&coupon=C1", "", `
		<a href="https://jvzoo.com/182/46/99?foo=1">pixel</a>
		<a href="https://jvzoo.com/b/182/46/99">buy</a>`)
	out := ev.engine.Init()
	ev.settle(t)

	if out.Redirect != "" || out.Annotated != 2 {
		t.Fatalf("outcome = %+v", out)
	}
	enc := origin.Encode("shop.example.com")
	for _, u := range hrefs(ev.doc) {
		q := u.Query()
		if q.Get("aid") != "77" || q.Get("coupon") != "C1" || q.Get("dr") != enc {
			t.Errorf("link %s missing params", u)
		}
	}
	if len(ev.fires) != 1 {
		t.Errorf("beacon fires = %d, want 1", len(ev.fires))
	}
	// initial pass plus one debounced pass per updater burst at 100ms, 500ms
	// and 1s
	if p := ev.engine.Annotator().Passes(); p != 4 {
		t.Errorf("Passes() = %d, want 4", p)
	}
}

func TestEngine_InvalidHostSkipsDomainParam(t *testing.T) {
	ev := newVisitor().load(t, JVProfile(), "http://localhost:8080/jv/index.html?tb=vdrd", "",
		`<a href="https://jvzoo.com/b/1/2/3">buy</a>`)
	ev.engine.Init()
	ev.settle(t)

	if ev.engine.Updater() != nil {
		t.Error("link updater started for an invalid domain")
	}
	for _, u := range hrefs(ev.doc) {
		if u.Query().Has("dr") {
			t.Errorf("dr added on localhost: %s", u)
		}
	}
}

// TestEngine_InsertionBurst appends batches of links while the updater
// retries and the annotator debounces, and expects the loop to settle with
// every link annotated once.
func TestEngine_InsertionBurst(t *testing.T) {
	ev := newVisitor().load(t, JVProfile(), "https://shop.example.com/jv/index.html?tb=vdrd&aid=5", "", "")
	ev.engine.Init()

	body := ev.doc.Body()
	for i := 0; i < 40; i++ {
		i := i
		ev.loop.SetTimeout(time.Duration(i*37)*time.Millisecond, func() {
			a := ev.doc.CreateElement("a")
			a.SetAttr("href", fmt.Sprintf("https://jvzoo.com/b/10/%d/1", i+1))
			body.AppendChild(a)
		})
	}
	ev.settle(t)

	links := hrefs(ev.doc)
	if len(links) != 40 {
		t.Fatalf("links = %d", len(links))
	}
	for _, u := range links {
		q := u.Query()
		if q.Get("aid") != "5" || q.Get("dr") == "" {
			t.Errorf("link not annotated: %s", u)
		}
	}
	for _, el := range ev.doc.Elements(func(e *dom.Element) bool { return e.Tag() == "a" }) {
		if el.Data("jvz-processed") != "true" {
			t.Error("link not marked processed")
		}
	}
	if ev.loop.Pending() != 0 {
		t.Errorf("%d timers pending after settle", ev.loop.Pending())
	}
	if len(ev.fires) != 1 {
		t.Errorf("beacon fires = %d, want 1", len(ev.fires))
	}
}

func TestEngine_StandaloneTracking(t *testing.T) {
	p := JVProfile()
	p.Loader = false
	ev := newVisitor().load(t, p, "https://shop.example.com/jv/ds1?aid=2", "", `<a href="https://example.com/">x</a>`)
	out := ev.engine.Init()
	if out.Redirect != "" {
		t.Errorf("standalone tracker navigated to %q", out.Redirect)
	}

	ev.loop.SetTimeout(10*time.Millisecond, func() {
		ev.doc.Elements(func(e *dom.Element) bool { return e.Tag() == "a" })[0].SetAttr("href", "https://jvzoo.com/b/4/5/6")
	})
	ev.settle(t)

	u := hrefs(ev.doc)[0]
	if u.Query().Get("aid") != "2" {
		t.Errorf("href change not annotated: %s", u)
	}
}
