package variant

import (
	"net/url"
	"testing"

	"pagerouter/internal/persist"
)

func TestResolver_Precedence(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		stored     string
		referrer   string
		wantToken  Token
		wantSource Source
		wantStored string
	}{
		{
			name:       "url token wins and is persisted",
			query:      "tb=vdrd",
			referrer:   "https://ads.example.net/?tb=other",
			wantToken:  "vdrd",
			wantSource: SourceURL,
			wantStored: "vdrd",
		},
		{
			name:       "stored token when url missing",
			stored:     "vdrd",
			wantToken:  "vdrd",
			wantSource: SourceStored,
			wantStored: "vdrd",
		},
		{
			name:       "invalid url token falls through to stored",
			query:      "tb=VDRD",
			stored:     "vdrd",
			wantToken:  "vdrd",
			wantSource: SourceStored,
			wantStored: "vdrd",
		},
		{
			name:       "referrer token persisted",
			referrer:   "https://ads.example.net/landing?tb=vdrd&x=1",
			wantToken:  "vdrd",
			wantSource: SourceReferrer,
			wantStored: "vdrd",
		},
		{
			name:       "malformed referrer is no signal",
			referrer:   "::not a url::",
			wantToken:  None,
			wantSource: SourceNone,
		},
		{
			name:       "referrer with wrong value",
			referrer:   "https://ads.example.net/?tb=nope",
			wantToken:  None,
			wantSource: SourceNone,
		},
		{
			name:       "stored invalid value is ignored",
			stored:     "garbage",
			wantToken:  None,
			wantSource: SourceNone,
			wantStored: "garbage",
		},
		{
			name:       "nothing",
			wantToken:  None,
			wantSource: SourceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			durable := persist.NewMemoryStore()
			if tt.stored != "" {
				_ = durable.Set("tb", tt.stored)
			}
			adapter := persist.NewAdapter(durable, persist.NewMemoryJar(nil))
			r := NewResolver("tb", AllowList{"vdrd"}, adapter, nil)

			q, _ := url.ParseQuery(tt.query)
			got := r.Resolve(Signals{Query: q, Referrer: tt.referrer, Host: "example.com"})

			if got.Token != tt.wantToken || got.Source != tt.wantSource {
				t.Errorf("Resolve() = %+v, want token %q source %q", got, tt.wantToken, tt.wantSource)
			}
			if v, _ := durable.Get("tb"); v != tt.wantStored {
				t.Errorf("stored = %q, want %q", v, tt.wantStored)
			}
		})
	}
}

func TestResolver_StoredIsNotRewritten(t *testing.T) {
	durable := persist.NewMemoryStore()
	_ = durable.Set("pg", "indexb")
	jar := persist.NewMemoryJar(nil)
	r := NewResolver("pg", AllowList{"tldr", "indexb"}, persist.NewAdapter(durable, jar), nil)

	got := r.Resolve(Signals{Query: url.Values{}})
	if got.Source != SourceStored {
		t.Fatalf("source = %q, want stored", got.Source)
	}
	if len(jar.Written) != 0 {
		t.Errorf("stored resolution wrote %d cookies", len(jar.Written))
	}
}

func TestResolver_NeverOverwritesWithInvalid(t *testing.T) {
	durable := persist.NewMemoryStore()
	adapter := persist.NewAdapter(durable, persist.NewMemoryJar(nil))
	r := NewResolver("tb", AllowList{"vdrd"}, adapter, nil)

	r.Resolve(Signals{Query: url.Values{"tb": {"vdrd"}}})
	r.Resolve(Signals{Query: url.Values{"tb": {"bogus"}}, Referrer: "https://x.example.com/?tb=bogus"})

	if v, _ := durable.Get("tb"); v != "vdrd" {
		t.Errorf("stored = %q, want vdrd", v)
	}
}

func TestResolver_StorageUnavailable(t *testing.T) {
	adapter := persist.NewAdapter(persist.DisabledStore{}, nil)
	r := NewResolver("tb", AllowList{"vdrd"}, adapter, nil)

	got := r.Resolve(Signals{Query: url.Values{"tb": {"vdrd"}}})
	if got.Token != "vdrd" {
		t.Errorf("token = %q, want vdrd", got.Token)
	}
	got = r.Resolve(Signals{Query: url.Values{}})
	if got.Alternate() {
		t.Errorf("expected default variant with no storage, got %+v", got)
	}
}

func TestAllowList_Contains(t *testing.T) {
	a := AllowList{"tldr", "indexb"}
	tests := []struct {
		in   string
		want bool
	}{
		{"tldr", true},
		{"indexb", true},
		{"TLDR", false},
		{"index", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := a.Contains(tt.in); got != tt.want {
			t.Errorf("Contains(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
