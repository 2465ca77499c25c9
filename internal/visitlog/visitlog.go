// Package visitlog appends one JSON line per visit to a daily log file.
package visitlog

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mssola/useragent"
)

const (
	logPrefix   = "visits-"
	indexPrefix = "index-"
	dayLayout   = "2006-01-02"
)

// Record is one line of the visit log.
type Record struct {
	ID          string `json:"id"`
	TS          string `json:"ts"`
	IP          string `json:"ip"`
	Host        string `json:"host,omitempty"`
	Path        string `json:"path,omitempty"`
	UA          string `json:"ua,omitempty"`
	Ref         string `json:"ref,omitempty"`
	CFCountry   string `json:"cf_country,omitempty"`
	CFRegion    string `json:"cf_region,omitempty"`
	BodySnippet string `json:"body_snippet,omitempty"`

	Browser        string `json:"browser,omitempty"`
	BrowserVersion string `json:"browser_version,omitempty"`
	OS             string `json:"os,omitempty"`
	Mobile         bool   `json:"mobile"`
	Bot            bool   `json:"bot"`
}

// Options configure a Logger.
type Options struct {
	Dir          string
	UniquePerDay bool
	// IndexTTL is how long unique-per-day index files are kept.
	IndexTTL    time.Duration
	MaxPayload  int
	SnippetSize int
}

// Logger writes visit records. It is safe for concurrent use.
type Logger struct {
	mu     sync.Mutex
	opts   Options
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// New creates a logger writing under opts.Dir.
func New(opts Options, options ...Option) *Logger {
	if opts.IndexTTL <= 0 {
		opts.IndexTTL = 24 * time.Hour
	}
	if opts.MaxPayload <= 0 {
		opts.MaxPayload = 32 * 1024
	}
	if opts.SnippetSize <= 0 {
		opts.SnippetSize = 512
	}
	l := &Logger{
		opts:   opts,
		now:    time.Now,
		logger: slog.Default().With("component", "visitlog"),
	}
	for _, o := range options {
		o(l)
	}
	return l
}

// MaxPayload is the number of body bytes a caller needs to read.
func (l *Logger) MaxPayload() int {
	return l.opts.MaxPayload
}

// NewRecord stamps a record with an id and the current time, classifies its
// user agent and cuts body down to the snippet size.
func (l *Logger) NewRecord(r Record, body []byte) Record {
	r.ID = uuid.NewString()
	r.TS = l.now().UTC().Format(time.RFC3339)
	if len(body) > l.opts.MaxPayload {
		body = body[:l.opts.MaxPayload]
	}
	if len(body) > 0 {
		r.BodySnippet = truncate(string(body), l.opts.SnippetSize)
	}
	if r.UA != "" {
		ua := useragent.New(r.UA)
		r.Browser, r.BrowserVersion = ua.Browser()
		r.OS = ua.OS()
		r.Mobile = ua.Mobile()
		r.Bot = ua.Bot()
	}
	return r
}

// Log appends r to today's file. With UniquePerDay, an address already seen
// today is skipped and Log returns false.
func (l *Logger) Log(r Record) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.opts.Dir, 0o755); err != nil {
		return false, fmt.Errorf("create log dir: %w", err)
	}

	day := l.now().UTC().Format(dayLayout)
	indexFile := filepath.Join(l.opts.Dir, indexPrefix+day+".txt")
	if l.opts.UniquePerDay {
		seen, err := indexed(indexFile, r.IP)
		if err != nil {
			l.logger.Debug("index read failed", "file", indexFile, "error", err)
		}
		if seen {
			return false, nil
		}
	}

	line, err := json.Marshal(r)
	if err != nil {
		return false, fmt.Errorf("encode record: %w", err)
	}
	if err := appendLine(filepath.Join(l.opts.Dir, logPrefix+day+".jsonl"), line); err != nil {
		return false, err
	}

	if l.opts.UniquePerDay {
		if err := appendLine(indexFile, []byte(r.IP)); err != nil {
			l.logger.Debug("index write failed", "file", indexFile, "error", err)
		}
	}
	return true, nil
}

// CleanupIndexes removes index files last modified before the TTL and
// returns how many were removed.
func (l *Logger) CleanupIndexes() (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(l.opts.Dir, indexPrefix+"*.txt"))
	if err != nil {
		return 0, err
	}

	cutoff := l.now().Add(-l.opts.IndexTTL)
	removed := 0
	var errs []error
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(f); err != nil {
				errs = append(errs, err)
				continue
			}
			removed++
		}
	}
	return removed, errors.Join(errs...)
}

func indexed(file, ip string) (bool, error) {
	f, err := os.Open(file)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) == ip {
			return true, nil
		}
	}
	return false, sc.Err()
}

func appendLine(file string, line []byte) error {
	f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(file), err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(file), err)
	}
	return f.Close()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for i := 0; i < utf8.UTFMax-1 && len(s) > 0; i++ {
		if r, size := utf8.DecodeLastRuneInString(s); r != utf8.RuneError || size != 1 {
			break
		}
		s = s[:len(s)-1]
	}
	return s
}
