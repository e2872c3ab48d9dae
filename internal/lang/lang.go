// Package lang holds the language catalogue offered to the page and resolves
// free-typed language names against it.
//
// Display names are what the pipeline threads through prompts and export
// filenames ("Chinese (Simplified)"); ISO 639-1 codes are what the speech
// providers expect ("zh").
package lang

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownLanguage is returned by [Catalogue.Resolve] when no catalogue entry
// is close enough to the input.
var ErrUnknownLanguage = errors.New("lang: unknown language")

// Language is one entry of the catalogue.
type Language struct {
	// Name is the display name (e.g., "Chinese (Simplified)").
	Name string `json:"name"`

	// Code is the ISO 639-1 code with an optional region/script subtag.
	Code string `json:"code"`

	// Romanized reports whether the written form is Latin script. The
	// phonetic guide is still produced for these, but it mostly mirrors the text.
	Romanized bool `json:"romanized"`
}

// Default is the built-in catalogue.
var Default = NewCatalogue([]Language{
	{Name: "English", Code: "en", Romanized: true},
	{Name: "Spanish", Code: "es", Romanized: true},
	{Name: "French", Code: "fr", Romanized: true},
	{Name: "German", Code: "de", Romanized: true},
	{Name: "Italian", Code: "it", Romanized: true},
	{Name: "Portuguese", Code: "pt", Romanized: true},
	{Name: "Dutch", Code: "nl", Romanized: true},
	{Name: "Polish", Code: "pl", Romanized: true},
	{Name: "Swedish", Code: "sv", Romanized: true},
	{Name: "Turkish", Code: "tr", Romanized: true},
	{Name: "Vietnamese", Code: "vi", Romanized: true},
	{Name: "Indonesian", Code: "id", Romanized: true},
	{Name: "Russian", Code: "ru"},
	{Name: "Ukrainian", Code: "uk"},
	{Name: "Greek", Code: "el"},
	{Name: "Arabic", Code: "ar"},
	{Name: "Hebrew", Code: "he"},
	{Name: "Hindi", Code: "hi"},
	{Name: "Thai", Code: "th"},
	{Name: "Japanese", Code: "ja"},
	{Name: "Korean", Code: "ko"},
	{Name: "Chinese (Simplified)", Code: "zh-Hans"},
	{Name: "Chinese (Traditional)", Code: "zh-Hant"},
})

// Catalogue is an immutable list of languages. Safe for concurrent use.
type Catalogue struct {
	langs  []Language
	byName map[string]int
	byCode map[string]int
}

// NewCatalogue builds a catalogue from langs. Later duplicates are ignored.
func NewCatalogue(langs []Language) *Catalogue {
	c := &Catalogue{
		langs:  make([]Language, 0, len(langs)),
		byName: make(map[string]int, len(langs)),
		byCode: make(map[string]int, len(langs)),
	}
	for _, l := range langs {
		key := normalize(l.Name)
		if _, dup := c.byName[key]; dup {
			continue
		}
		c.byName[key] = len(c.langs)
		if _, dup := c.byCode[strings.ToLower(l.Code)]; !dup {
			c.byCode[strings.ToLower(l.Code)] = len(c.langs)
		}
		c.langs = append(c.langs, l)
	}
	return c
}

// All returns a copy of the catalogue in declaration order.
func (c *Catalogue) All() []Language {
	out := make([]Language, len(c.langs))
	copy(out, c.langs)
	return out
}

// Lookup returns the language with the exact display name or code,
// ignoring case, spacing and punctuation in names.
func (c *Catalogue) Lookup(nameOrCode string) (Language, bool) {
	if i, ok := c.byName[normalize(nameOrCode)]; ok {
		return c.langs[i], true
	}
	if i, ok := c.byCode[strings.ToLower(strings.TrimSpace(nameOrCode))]; ok {
		return c.langs[i], true
	}
	return Language{}, false
}

// Resolve maps free-typed input to a catalogue entry. Exact names and codes
// win; otherwise the closest entry by phonetic and fuzzy similarity is
// returned ("Chineese" resolves to a Chinese entry).
func (c *Catalogue) Resolve(input string) (Language, error) {
	if strings.TrimSpace(input) == "" {
		return Language{}, fmt.Errorf("%w: empty name", ErrUnknownLanguage)
	}
	if l, ok := c.Lookup(input); ok {
		return l, nil
	}
	names := make([]string, len(c.langs))
	for i, l := range c.langs {
		names[i] = l.Name
	}
	name, _, ok := defaultMatcher.match(input, names)
	if !ok {
		return Language{}, fmt.Errorf("%w: %q", ErrUnknownLanguage, input)
	}
	return c.langs[c.byName[normalize(name)]], nil
}

// CodeFor returns the ISO code for a display name, falling back to the input
// itself when it is not in the catalogue. Providers that accept free-form
// language hints receive the input unchanged that way.
func (c *Catalogue) CodeFor(name string) string {
	if l, ok := c.Lookup(name); ok {
		return l.Code
	}
	return name
}

// normalize reduces a name to its lowercase letter runs, so punctuation and
// spacing differences do not defeat exact lookup.
func normalize(s string) string {
	return strings.Join(tokens(s), " ")
}
