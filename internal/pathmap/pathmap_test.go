package pathmap

import (
	"net/url"
	"testing"
)

func jvMapper() *Mapper {
	return New(Rules{
		Root:   "jv",
		Exempt: []string{"support", "refund-policy", "ftc", "earnings-disclaimer"},
	})
}

func TestMapper_Target(t *testing.T) {
	m := jvMapper()
	tests := []struct {
		name      string
		path      string
		alternate bool
		want      string
		wantOK    bool
	}{
		// default (compliant) direction
		{"root to marker", "/jv", false, "/jv/c/index.html", true},
		{"root slash to marker", "/jv/", false, "/jv/c/index.html", true},
		{"root index to marker", "/jv/index.html", false, "/jv/c/index.html", true},
		{"subdir to suffixed", "/jv/ds1", false, "/jv/ds1-c/index.html", true},
		{"subdir index to suffixed", "/jv/us2/index.html", false, "/jv/us2-c/index.html", true},
		{"already suffixed", "/jv/ds1-c/index.html", false, "", false},
		{"already marker", "/jv/c/", false, "", false},
		{"exempt support", "/jv/support", false, "", false},
		{"exempt ftc", "/jv/ftc/index.html", false, "", false},

		// alternate direction
		{"marker to root", "/jv/c", true, "/jv/index.html", true},
		{"suffixed to base", "/jv/ds1-c/index.html", true, "/jv/ds1/index.html", true},
		{"already alternate", "/jv/ds1", true, "", false},
		{"root stays", "/jv/", true, "", false},
		{"exempt alternate", "/jv/refund-policy", true, "", false},
		{"bare suffix", "/jv/-c", true, "", false},

		// outside namespace
		{"other namespace", "/cb/ds1", false, "", false},
		{"deeper path", "/jv/ds1/extra/index.html", false, "", false},
		{"other document", "/jv/ds1/about.html", false, "", false},
		{"prefix lookalike", "/jvx/ds1", false, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := m.Target(tt.path, tt.alternate)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Target(%q, %v) = (%q, %v), want (%q, %v)", tt.path, tt.alternate, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestMapper_FixedPoint(t *testing.T) {
	paths := []string{
		"/jv", "/jv/", "/jv/index.html", "/jv/c", "/jv/c/index.html",
		"/jv/ds1", "/jv/ds1/", "/jv/ds1-c", "/jv/us2-c/index.html", "/jv/support",
	}
	m := jvMapper()

	for _, alternate := range []bool{true, false} {
		for _, p := range paths {
			target, ok := m.Target(p, alternate)
			if !ok {
				continue
			}
			if again, ok := m.Target(target, alternate); ok {
				t.Errorf("alternate=%v: %q -> %q -> %q, want fixed point", alternate, p, target, again)
			}
		}
	}
}

func TestMapper_CustomRules(t *testing.T) {
	m := New(Rules{Root: "/cb/", Exempt: []string{"ds2", "ds3"}})
	if got, ok := m.Target("/cb/ds1", false); !ok || got != "/cb/ds1-c/index.html" {
		t.Errorf("Target(/cb/ds1) = (%q, %v)", got, ok)
	}
	if _, ok := m.Target("/cb/ds2", false); ok {
		t.Error("exempt ds2 mapped")
	}
	if !m.Managed("/cb/ds3/index.html") {
		t.Error("Managed(/cb/ds3/index.html) = false")
	}
	if m.Root() != "cb" {
		t.Errorf("Root() = %q", m.Root())
	}
}

func TestBudget(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 0},
		{"_redirect=2", 2},
		{"_redirect=abc", 0},
		{"_redirect=-4", 0},
		{"_redirect=3x", 3},
		{"_redirect=4%20", 4},
		{"_redirect=%201", 1},
		{"_redirect=%2B2", 2},
		{"_redirect=2.9", 2},
		{"_redirect=99999999999999999999", maxBudget},
		{"_redirect=4294967296", maxBudget},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			q, _ := url.ParseQuery(tt.query)
			if got := Budget(q); got != tt.want {
				t.Errorf("Budget(%q) = %d, want %d", tt.query, got, tt.want)
			}
		})
	}
}

func TestTargetQuery(t *testing.T) {
	q := url.Values{"tb": {"vdrd"}, "aid": {"42"}, "_redirect": {"1"}}

	toDefault := TargetQuery(q, "tb", false, 1)
	if toDefault.Has("tb") {
		t.Error("token kept on the way to the default variant")
	}
	if toDefault.Get("aid") != "42" || toDefault.Get("_redirect") != "2" {
		t.Errorf("default query = %v", toDefault)
	}

	toAlternate := TargetQuery(q, "tb", true, 1)
	if toAlternate.Get("tb") != "vdrd" {
		t.Error("token dropped on the way to the alternate variant")
	}
	if q.Get("_redirect") != "1" {
		t.Error("input query was mutated")
	}

	if got := WithQuery("/jv/c/index.html", url.Values{}); got != "/jv/c/index.html" {
		t.Errorf("WithQuery(empty) = %q", got)
	}
}
