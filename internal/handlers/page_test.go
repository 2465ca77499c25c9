package handlers

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"

	"pagerouter/internal/engine"
	"pagerouter/internal/origin"
	"pagerouter/internal/persist"
)

const buyPage = `<html><body><a href="https://jvzoo.com/b/182/46/99">buy</a></body></html>`

func writeContent(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, body := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

type pageApp struct {
	app     *fiber.App
	storage *persist.MemoryStorage
}

func newPageApp(t *testing.T) *pageApp {
	t.Helper()
	dir := t.TempDir()
	writeContent(t, dir, map[string]string{
		"jv/index.html":         buyPage,
		"jv/c/index.html":       buyPage,
		"jv/ds1/index.html":     buyPage,
		"jv/ds1-c/index.html":   buyPage,
		"jv/support/index.html": "<html><body>help</body></html>",
		"jv/style.css":          "body{}",
	})

	storage := persist.NewMemoryStorage()
	h := NewPageHandler(PageOptions{
		ContentDir: dir,
		Storage:    storage,
		Settle:     2 * time.Second,
	})

	app := fiber.New()
	p := engine.Compile(engine.JVProfile())
	app.Get("/jv", h.Serve(p))
	app.Get("/jv/*", h.Serve(p))
	return &pageApp{app: app, storage: storage}
}

func (p *pageApp) get(t *testing.T, target string, cookies ...*http.Cookie) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, ck := range cookies {
		req.AddCookie(ck)
	}
	resp, err := p.app.Test(req)
	if err != nil {
		t.Fatalf("GET %s: %v", target, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestPageHandler_Routing(t *testing.T) {
	dr := url.QueryEscape(origin.Encode("shop.other.com"))

	tests := []struct {
		name         string
		target       string
		wantStatus   int
		wantLocation string
	}{
		{"default variant stays", "/jv/ds1-c/index.html", 200, ""},
		{"alternate path without token", "/jv/ds1/index.html", 302, "/jv/ds1-c/index.html?_redirect=1"},
		{"token moves to alternate", "/jv/ds1-c/index.html?tb=vdrd", 302, "/jv/ds1/index.html?_redirect=1&tb=vdrd"},
		{"root maps to marker", "/jv/", 302, "/jv/c/index.html?_redirect=1"},
		{"redirect limit reached", "/jv/ds1/index.html?_redirect=3", 200, ""},
		{"malformed limit still counts", "/jv/ds1/index.html?_redirect=3x", 200, ""},
		{"encoded domain wins", "/jv/ds1-c/index.html?dr=" + dr, 302, "https://shop.other.com/jv/ds1-c/index.html?_redirect=1&dr=" + dr},
		{"exempt directory", "/jv/support/", 200, ""},
		{"static asset", "/jv/style.css", 200, ""},
		{"missing page", "/jv/nope/index.html", 404, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPageApp(t)
			resp := p.get(t, tt.target)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if loc := resp.Header.Get("Location"); loc != tt.wantLocation {
				t.Errorf("Location = %q, want %q", loc, tt.wantLocation)
			}
		})
	}
}

func TestPageHandler_AnnotatesAndFires(t *testing.T) {
	p := newPageApp(t)
	resp := p.get(t, "/jv/ds1-c/index.html?AID=7&tid=t1")
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if cc := resp.Header.Get(fiber.HeaderCacheControl); cc != "no-store" {
		t.Errorf("Cache-Control = %q", cc)
	}

	body := readBody(t, resp)
	for _, want := range []string{
		`data-jvz-processed="true"`,
		`aid=7`,
		`dr=` + url.QueryEscape(origin.Encode("example.com")),
		`https://www.jvzoo.com/c/7/46?`,
		`<iframe`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestPageHandler_RemembersVisitor(t *testing.T) {
	p := newPageApp(t)

	first := p.get(t, "/jv/ds1/index.html?tb=vdrd")
	if first.StatusCode != 200 {
		t.Fatalf("first status = %d", first.StatusCode)
	}

	var visitor *http.Cookie
	for _, ck := range first.Cookies() {
		if ck.Name == VisitorCookie {
			visitor = ck
		}
	}
	if visitor == nil {
		t.Fatal("no visitor cookie issued")
	}

	// Durable store alone restores the token: only the visitor cookie is sent.
	second := p.get(t, "/jv/ds1/index.html", &http.Cookie{Name: VisitorCookie, Value: visitor.Value})
	if second.StatusCode != 200 {
		t.Errorf("second status = %d, want 200 from stored token", second.StatusCode)
	}

	v, err := p.storage.Get("visitor:" + visitor.Value + ":tb")
	if err != nil || string(v) != "vdrd" {
		t.Errorf("stored token = %q, %v", v, err)
	}
	if d, _ := p.storage.Get("visitor:" + visitor.Value + ":" + origin.StoreKey); string(d) != "example.com" {
		t.Errorf("stored domain = %q", d)
	}

	// A stranger gets the default variant.
	if resp := p.get(t, "/jv/ds1/index.html"); resp.StatusCode != 302 {
		t.Errorf("stranger status = %d, want 302", resp.StatusCode)
	}
}

func TestPageHandler_MalformedVisitorCookie(t *testing.T) {
	p := newPageApp(t)
	resp := p.get(t, "/jv/ds1-c/index.html", &http.Cookie{Name: VisitorCookie, Value: "../../x"})

	for _, ck := range resp.Cookies() {
		if ck.Name == VisitorCookie {
			if ck.Value == "../../x" {
				t.Error("malformed visitor id reused")
			}
			return
		}
	}
	t.Error("no fresh visitor cookie issued")
}

func TestResolveFile(t *testing.T) {
	dir := t.TempDir()
	writeContent(t, dir, map[string]string{
		"jv/index.html":     "x",
		"jv/ds1/index.html": "x",
		"secret.txt":        "x",
	})
	if err := os.MkdirAll(filepath.Join(dir, "jv", "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr bool
	}{
		{"file", "/jv/ds1/index.html", "jv/ds1/index.html", false},
		{"directory", "/jv/ds1/", "jv/ds1/index.html", false},
		{"directory without slash", "/jv", "jv/index.html", false},
		{"dot segments stay inside", "/jv/../secret.txt", "secret.txt", false},
		{"cannot climb out", "/jv/../../../etc/passwd", "", true},
		{"directory without index", "/jv/empty/", "", true},
		{"missing", "/jv/nope.html", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveFile(dir, tt.path)
			if tt.wantErr {
				if err == nil {
					t.Errorf("resolveFile(%q) = %q, want error", tt.path, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveFile(%q) error = %v", tt.path, err)
			}
			if want := filepath.Join(dir, filepath.FromSlash(tt.want)); got != want {
				t.Errorf("resolveFile(%q) = %q, want %q", tt.path, got, want)
			}
		})
	}

	if _, err := resolveFile(dir, "/jv/../../etc/passwd"); errors.Is(err, errOutsideRoot) {
		t.Error("cleaned path reported as outside root; Clean should have pinned it")
	}
}
