// Package voices holds the catalog vocabulary shared by every engine:
// voice entries, accent taxonomy, grouping and filter builders, reference
// sidecar metadata, and the preview cache. Engines assemble their catalog
// payloads from these pieces; the HTTP layer serves them as-is.
package voices

import (
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/language"
)

// Accent tags a voice with a coarse origin bucket for the catalog UI.
type Accent struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Flag  string `json:"flag"`
}

// Voice is one catalog entry. Raw carries engine-specific details the
// SPA passes back verbatim (reference paths, preset ids, preview URLs).
type Voice struct {
	ID     string         `json:"id"`
	Label  string         `json:"label"`
	Locale string         `json:"locale,omitempty"`
	Gender string         `json:"gender,omitempty"`
	Tags   []string       `json:"tags"`
	Notes  string         `json:"notes,omitempty"`
	Engine string         `json:"engine,omitempty"`
	Accent Accent         `json:"accent"`
	Raw    map[string]any `json:"raw,omitempty"`
}

// Group is a named bucket of voice ids.
type Group struct {
	ID     string   `json:"id"`
	Label  string   `json:"label"`
	Flag   string   `json:"flag,omitempty"`
	Count  int      `json:"count"`
	Voices []string `json:"voices"`
}

// FilterEntry is one selectable facet value with its member count.
type FilterEntry struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// FamilyEntry is an accent family (gender-collapsed accent) count.
type FamilyEntry struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Flag  string `json:"flag"`
	Count int    `json:"count"`
}

// Families reports accent families overall and per gender.
type Families struct {
	Any    []FamilyEntry `json:"any"`
	Female []FamilyEntry `json:"female"`
	Male   []FamilyEntry `json:"male"`
}

// Filters is the facet block attached to catalog responses.
type Filters struct {
	Genders        []FilterEntry `json:"genders"`
	Locales        []FilterEntry `json:"locales"`
	Accents        []Group       `json:"accents"`
	AccentFamilies Families      `json:"accentFamilies"`
}

// Catalog is the per-engine voice payload.
type Catalog struct {
	Engine       string   `json:"engine"`
	Available    bool     `json:"available"`
	Voices       []Voice  `json:"voices"`
	AccentGroups []Group  `json:"accentGroups"`
	Groups       []Group  `json:"groups"`
	Count        int      `json:"count"`
	Styles       []string `json:"styles,omitempty"`
	Presets      []any    `json:"presets,omitempty"`
	Message      string   `json:"message,omitempty"`
	Filters      *Filters `json:"filters,omitempty"`
}

// SlugID normalizes a free-form name into a voice id: lower-cased, with
// alphanumerics kept and separators folded to underscores. Distinct from
// storage.Slugify, which produces hyphenated file tokens; voice ids keep
// the underscore convention of the bundled bank (af_heart).
func SlugID(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('_')
		}
	}
	slug := strings.Trim(b.String(), "_")
	if slug == "" {
		return strings.ToLower(name)
	}
	return slug
}

// UniqueID appends _2, _3, … until id is absent from taken.
func UniqueID(id string, taken map[string]bool) string {
	if !taken[id] {
		return id
	}
	for i := 2; ; i++ {
		candidate := id + "_" + strconv.Itoa(i)
		if !taken[candidate] {
			return candidate
		}
	}
}

// CanonicalLocale lowercases and validates a BCP-47 tag, returning the
// input unchanged when it does not parse.
func CanonicalLocale(tag string) string {
	tag = strings.TrimSpace(strings.ToLower(tag))
	if tag == "" {
		return ""
	}
	if _, err := language.Parse(tag); err != nil {
		return tag
	}
	return tag
}

// TitleLabel turns a voice id or file stem into a display label:
// underscores become spaces and each word is capitalized.
func TitleLabel(stem string) string {
	words := strings.FieldsFunc(stem, func(r rune) bool { return r == '_' || r == ' ' })
	for i, w := range words {
		runes := []rune(w)
		words[i] = strings.ToUpper(string(runes[0])) + string(runes[1:])
	}
	return strings.Join(words, " ")
}

// SortVoices orders entries by label, case-insensitively.
func SortVoices(vs []Voice) {
	sort.SliceStable(vs, func(i, j int) bool {
		return strings.ToLower(vs[i].Label) < strings.ToLower(vs[j].Label)
	})
}
