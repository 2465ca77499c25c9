// Package pathmap maps a page path and a desired variant to the path that
// serves that variant.
//
// Managed paths follow the grammar
//
//	/<root>[/<subdir>][/][index.html]
//
// where a subdirectory carrying the compliant suffix ("-c") or equal to the
// compliant marker ("c") serves the default variant and its unsuffixed
// sibling serves the alternate variant.
package pathmap

import (
	"math"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// BudgetParam is the query parameter carrying the redirect counter.
const BudgetParam = "_redirect"

// Rules configure one managed namespace.
type Rules struct {
	Root     string
	Suffix   string
	Marker   string
	Document string
	Exempt   []string
}

func (r *Rules) defaults() {
	r.Root = strings.Trim(r.Root, "/")
	if r.Suffix == "" {
		r.Suffix = "-c"
	}
	if r.Marker == "" {
		r.Marker = "c"
	}
	if r.Document == "" {
		r.Document = "index.html"
	}
}

// Mapper is a compiled set of Rules.
type Mapper struct {
	rules  Rules
	re     *regexp.Regexp
	exempt map[string]struct{}
}

// New compiles rules.
func New(rules Rules) *Mapper {
	rules.defaults()
	m := &Mapper{
		rules:  rules,
		re:     regexp.MustCompile(`^/` + regexp.QuoteMeta(rules.Root) + `(?:/([^/]+))?/?(?:` + regexp.QuoteMeta(rules.Document) + `)?$`),
		exempt: make(map[string]struct{}, len(rules.Exempt)),
	}
	for _, e := range rules.Exempt {
		m.exempt[e] = struct{}{}
	}
	return m
}

// Root returns the namespace root without slashes.
func (m *Mapper) Root() string {
	return m.rules.Root
}

// Managed reports whether path is inside the namespace grammar.
func (m *Mapper) Managed(path string) bool {
	return m.re.MatchString(path)
}

// Target returns the path serving the requested variant, or false when path
// is unmanaged, exempt, or already serves that variant.
func (m *Mapper) Target(path string, alternate bool) (string, bool) {
	match := m.re.FindStringSubmatch(path)
	if match == nil {
		return "", false
	}
	subdir := match[1]
	if subdir == m.rules.Document {
		// "/<root>/index.html" is the namespace root, not a subdirectory.
		subdir = ""
	}
	if _, ok := m.exempt[subdir]; ok && subdir != "" {
		return "", false
	}

	if alternate {
		return m.alternatePath(subdir)
	}
	return m.compliantPath(subdir)
}

func (m *Mapper) alternatePath(subdir string) (string, bool) {
	switch {
	case subdir == m.rules.Marker:
		return m.join(""), true
	case subdir != "" && strings.HasSuffix(subdir, m.rules.Suffix):
		base := strings.TrimSuffix(subdir, m.rules.Suffix)
		if base == "" {
			return "", false
		}
		return m.join(base), true
	}
	return "", false
}

func (m *Mapper) compliantPath(subdir string) (string, bool) {
	switch {
	case subdir == "":
		return m.join(m.rules.Marker), true
	case subdir == m.rules.Marker || strings.HasSuffix(subdir, m.rules.Suffix):
		return "", false
	}
	return m.join(subdir + m.rules.Suffix), true
}

func (m *Mapper) join(subdir string) string {
	if subdir == "" {
		return "/" + m.rules.Root + "/" + m.rules.Document
	}
	return "/" + m.rules.Root + "/" + subdir + "/" + m.rules.Document
}

// maxBudget stands in for counters too large to parse.
const maxBudget = math.MaxInt32

// Budget reads the redirect counter from its leading digits, so "3x" counts
// as 3. Absent, negative or non-numeric counts as zero; an out-of-range count
// is treated as exhausted.
func Budget(q url.Values) int {
	s := strings.TrimLeft(q.Get(BudgetParam), " \t\n\r")
	s = strings.TrimPrefix(s, "+")
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n > maxBudget {
		return maxBudget
	}
	return n
}

// TargetQuery builds the query for a variant redirect: every parameter is
// carried over, the variant token is dropped when heading to the default
// variant, and the redirect counter is set to count+1.
func TargetQuery(q url.Values, param string, alternate bool, count int) url.Values {
	out := make(url.Values, len(q)+1)
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	if !alternate {
		out.Del(param)
	}
	out.Set(BudgetParam, strconv.Itoa(count+1))
	return out
}

// WithQuery joins a path and a query.
func WithQuery(path string, q url.Values) string {
	if enc := q.Encode(); enc != "" {
		return path + "?" + enc
	}
	return path
}
