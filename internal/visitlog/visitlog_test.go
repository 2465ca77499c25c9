package visitlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var day = time.Date(2026, 4, 10, 23, 30, 0, 0, time.FixedZone("X", -3*3600))

func readRecords(t *testing.T, file string) []Record {
	t.Helper()
	f, err := os.Open(file)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var out []Record
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r Record
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			t.Fatalf("bad line %q: %v", sc.Text(), err)
		}
		out = append(out, r)
	}
	return out
}

func TestLogger_Log(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	l := New(Options{Dir: dir}, WithClock(func() time.Time { return day }))

	for _, ip := range []string{"1.1.1.1", "1.1.1.1", "2.2.2.2"} {
		ok, err := l.Log(l.NewRecord(Record{IP: ip, Path: "/ipc"}, nil))
		if err != nil || !ok {
			t.Fatalf("Log() = %v, %v", ok, err)
		}
	}

	// 23:30 at UTC-3 is the next UTC day.
	recs := readRecords(t, filepath.Join(dir, "visits-2026-04-11.jsonl"))
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 3", len(recs))
	}
	if recs[0].TS != "2026-04-11T02:30:00Z" {
		t.Errorf("ts = %q", recs[0].TS)
	}
	if recs[0].ID == "" || recs[0].ID == recs[1].ID {
		t.Errorf("ids not unique: %q %q", recs[0].ID, recs[1].ID)
	}
	if _, err := os.Stat(filepath.Join(dir, "index-2026-04-11.txt")); !os.IsNotExist(err) {
		t.Error("index file written without unique-per-day")
	}
}

func TestLogger_UniquePerDay(t *testing.T) {
	dir := t.TempDir()
	now := day
	l := New(Options{Dir: dir, UniquePerDay: true}, WithClock(func() time.Time { return now }))

	tests := []struct {
		name string
		ip   string
		want bool
	}{
		{"first visit", "1.1.1.1", true},
		{"repeat visit", "1.1.1.1", false},
		{"other visitor", "2.2.2.2", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := l.Log(l.NewRecord(Record{IP: tt.ip}, nil))
			if err != nil {
				t.Fatal(err)
			}
			if ok != tt.want {
				t.Errorf("Log(%s) = %v, want %v", tt.ip, ok, tt.want)
			}
		})
	}

	now = now.Add(24 * time.Hour)
	if ok, _ := l.Log(l.NewRecord(Record{IP: "1.1.1.1"}, nil)); !ok {
		t.Error("visitor skipped on a new day")
	}
}

func TestLogger_NewRecord(t *testing.T) {
	l := New(Options{Dir: t.TempDir(), MaxPayload: 16, SnippetSize: 8})

	r := l.NewRecord(Record{
		IP: "1.1.1.1",
		UA: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}, []byte("0123456789abcdefXYZ"))
	if r.BodySnippet != "01234567" {
		t.Errorf("snippet = %q", r.BodySnippet)
	}
	if r.Browser != "Chrome" || r.Bot {
		t.Errorf("browser = %q bot = %v", r.Browser, r.Bot)
	}

	bot := l.NewRecord(Record{UA: "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"}, nil)
	if !bot.Bot {
		t.Error("Googlebot not classified as bot")
	}
	if bot.BodySnippet != "" {
		t.Errorf("snippet without body = %q", bot.BodySnippet)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "abc", 8, "abc"},
		{"ascii", "abcdef", 4, "abcd"},
		{"does not split rune", "aé", 2, "a"},
		{"keeps whole rune", "aéb", 3, "aé"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.in, tt.n); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
			}
		})
	}
}

func TestLogger_CleanupIndexes(t *testing.T) {
	dir := t.TempDir()
	l := New(Options{Dir: dir, IndexTTL: 24 * time.Hour})

	old := filepath.Join(dir, "index-2026-01-01.txt")
	fresh := filepath.Join(dir, "index-2026-01-02.txt")
	keep := filepath.Join(dir, "visits-2026-01-01.jsonl")
	for _, f := range []string{old, fresh, keep} {
		if err := os.WriteFile(f, []byte("1.1.1.1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	stale := time.Now().Add(-48 * time.Hour)
	for _, f := range []string{old, keep} {
		if err := os.Chtimes(f, stale, stale); err != nil {
			t.Fatal(err)
		}
	}

	n, err := l.CleanupIndexes()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	entries, _ := os.ReadDir(dir)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if got := strings.Join(names, ","); got != "index-2026-01-02.txt,visits-2026-01-01.jsonl" {
		t.Errorf("remaining = %s", got)
	}
}
