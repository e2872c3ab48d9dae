package lang

import (
	"errors"
	"testing"
)

func TestCatalogue_Lookup(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in       string
		wantCode string
		wantOK   bool
	}{
		{"Spanish", "es", true},
		{"  spanish ", "es", true},
		{"chinese   (simplified)", "zh-Hans", true},
		{"ja", "ja", true},
		{"ZH-HANT", "zh-Hant", true},
		{"Klingon", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			l, ok := Default.Lookup(tc.in)
			if ok != tc.wantOK || l.Code != tc.wantCode {
				t.Errorf("Lookup(%q) = %+v, %v; want code %q, %v", tc.in, l, ok, tc.wantCode, tc.wantOK)
			}
		})
	}
}

func TestCatalogue_Resolve(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want string
	}{
		{"French", "French"},
		{"Chineese", "Chinese (Simplified)"},
		{"Japaneze", "Japanese"},
		{"portugese", "Portuguese"},
		{"Chinese Traditional", "Chinese (Traditional)"},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			l, err := Default.Resolve(tc.in)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tc.in, err)
			}
			if l.Name != tc.want {
				t.Errorf("Resolve(%q) = %q, want %q", tc.in, l.Name, tc.want)
			}
		})
	}
}

func TestCatalogue_ResolveUnknown(t *testing.T) {
	t.Parallel()
	for _, in := range []string{"", "   ", "qwxz"} {
		if _, err := Default.Resolve(in); !errors.Is(err, ErrUnknownLanguage) {
			t.Errorf("Resolve(%q): err = %v, want ErrUnknownLanguage", in, err)
		}
	}
}

func TestCatalogue_CodeFor(t *testing.T) {
	t.Parallel()
	if got := Default.CodeFor("German"); got != "de" {
		t.Errorf("CodeFor(German) = %q", got)
	}
	if got := Default.CodeFor("Esperanto"); got != "Esperanto" {
		t.Errorf("CodeFor(Esperanto) = %q, want passthrough", got)
	}
}

func TestNewCatalogue_IgnoresDuplicates(t *testing.T) {
	t.Parallel()
	c := NewCatalogue([]Language{{Name: "English", Code: "en"}, {Name: "english", Code: "en-GB"}})
	if got := len(c.All()); got != 1 {
		t.Fatalf("len = %d, want 1", got)
	}
	all := c.All()
	all[0].Name = "mutated"
	if c.All()[0].Name != "English" {
		t.Error("All returned a shared slice")
	}
}
