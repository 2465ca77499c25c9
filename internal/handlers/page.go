package handlers

import (
	"bytes"
	"errors"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"pagerouter/internal/beacon"
	"pagerouter/internal/dom"
	"pagerouter/internal/engine"
	"pagerouter/internal/metrics"
	"pagerouter/internal/models"
	"pagerouter/internal/persist"
)

// SessionTTL bounds the per-visitor stand-in for tab session storage.
const SessionTTL = 30 * time.Minute

// PageOptions configure a PageHandler.
type PageOptions struct {
	ContentDir string
	// Storage backs the visitor durable and session stores. Nil leaves the
	// engine with cookies only.
	Storage    persist.Storage
	VisitorTTL time.Duration
	// WindowIdleTTL is how long an idle visitor's beacon window is kept.
	WindowIdleTTL time.Duration
	Settle        time.Duration
	Secure        bool
	Logger        *slog.Logger
}

// PageHandler serves campaign pages through the variant engine.
type PageHandler struct {
	opts    PageOptions
	now     func() time.Time
	windows map[string]*beacon.Registry
}

// NewPageHandler creates a new page handler.
func NewPageHandler(opts PageOptions) *PageHandler {
	if opts.WindowIdleTTL <= 0 {
		opts.WindowIdleTTL = 30 * time.Minute
	}
	if opts.VisitorTTL <= 0 {
		opts.VisitorTTL = persist.CookieTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &PageHandler{
		opts:    opts,
		now:     time.Now,
		windows: make(map[string]*beacon.Registry),
	}
}

// Serve returns the handler for one profile's namespace. It must be called
// during route registration, before requests are served.
func (h *PageHandler) Serve(profile *engine.Compiled) fiber.Handler {
	windows, ok := h.windows[profile.Name]
	if !ok {
		windows = beacon.NewRegistry(profile.Beacon.Throttle, beacon.WithIdleTTL(h.opts.WindowIdleTTL))
		h.windows[profile.Name] = windows
	}

	return func(c fiber.Ctx) error {
		file, err := resolveFile(h.opts.ContentDir, c.Path())
		if err != nil {
			metrics.RecordPage(profile.Name, models.OutcomeNotFound)
			return fiber.ErrNotFound
		}
		if !strings.EqualFold(filepath.Ext(file), ".html") {
			return c.SendFile(file)
		}
		return h.evaluate(c, profile, windows, file)
	}
}

// Cleanup evicts idle beacon windows of every profile.
func (h *PageHandler) Cleanup() int {
	n := 0
	for _, r := range h.windows {
		n += r.Cleanup()
	}
	return n
}

func (h *PageHandler) evaluate(c fiber.Ctx, profile *engine.Compiled, windows *beacon.Registry, file string) error {
	raw, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	pageURL, err := url.Parse(c.BaseURL() + c.OriginalURL())
	if err != nil {
		return fiber.ErrBadRequest
	}

	vid := visitorID(c, h.opts.Secure, h.opts.VisitorTTL)
	logger := h.opts.Logger.With("visitor", vid, "path", pageURL.Path)

	loop := dom.NewLoop(h.now())
	doc, err := dom.Parse(bytes.NewReader(raw), loop)
	if err != nil {
		return err
	}

	host := engine.Host{
		Document: doc,
		Cookies:  persist.NewFiberJar(c, h.opts.Secure),
		Window:   windows.Get(vid),
	}
	if h.opts.Storage != nil {
		host.Durable = persist.NewStorageStore(h.opts.Storage, "visitor:"+vid+":", h.opts.VisitorTTL)
		host.Session = persist.NewStorageStore(h.opts.Storage, "session:"+vid+":", SessionTTL)
	}

	eng := engine.New(profile, engine.Page{URL: pageURL, Referrer: c.Get(fiber.HeaderReferer)}, host,
		engine.WithLogger(logger),
		engine.WithFireHook(func(f beacon.Fire) {
			metrics.RecordBeaconFire(models.BeaconFire{
				Profile:    profile.Name,
				AccountID:  f.Key.AccountID,
				ProductID:  f.Key.ProductID,
				TrackingID: f.Key.TrackingID,
				URL:        f.URL,
				FiredAt:    f.At,
			})
		}),
	)

	out := eng.Init()
	metrics.RecordPage(profile.Name, models.PageOutcome(string(out.Reason), out.BudgetExhausted))
	if out.Beacon != "" {
		metrics.RecordBeaconCheck(profile.Name, string(out.Beacon))
	}

	noStore(c)
	if out.Redirect != "" {
		return c.Redirect().Status(fiber.StatusFound).To(out.Redirect)
	}

	if _, err := loop.RunFor(h.opts.Settle); err != nil {
		logger.Warn("page script did not settle", "error", err)
	}

	var buf bytes.Buffer
	if err := doc.Render(&buf); err != nil {
		return err
	}
	c.Type("html", "utf-8")
	return c.Send(buf.Bytes())
}

// errOutsideRoot is returned for paths that escape the content directory.
var errOutsideRoot = errors.New("path outside content directory")

// resolveFile maps a request path to a file under root. Directories resolve
// to their index.html.
func resolveFile(root, reqPath string) (string, error) {
	clean := path.Clean("/" + reqPath)
	file := filepath.Join(root, filepath.FromSlash(clean))

	rel, err := filepath.Rel(root, file)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errOutsideRoot
	}

	info, err := os.Stat(file)
	if err != nil {
		return "", err
	}
	if info.IsDir() {
		file = filepath.Join(file, "index.html")
		if info, err = os.Stat(file); err != nil {
			return "", err
		}
	}
	if !info.Mode().IsRegular() {
		return "", os.ErrNotExist
	}
	return file, nil
}
