package voices

import (
	"sort"
	"strings"
)

// DefaultAccent is the bucket for voices with no recognizable origin.
var DefaultAccent = Accent{ID: "other", Label: "Other", Flag: "🌐"}

// accentPrefixMap resolves the gendered accents of the bundled bank's
// American and British prefixes.
var accentPrefixMap = map[string]Accent{
	"af": {ID: "us_female", Label: "USA · Female", Flag: "🇺🇸"},
	"am": {ID: "us_male", Label: "USA · Male", Flag: "🇺🇸"},
	"bf": {ID: "uk_female", Label: "UK · Female", Flag: "🇬🇧"},
	"bm": {ID: "uk_male", Label: "UK · Male", Flag: "🇬🇧"},
}

// accentLocaleMap resolves accents for everything else by locale, with
// base-language fallback (en-au → en).
var accentLocaleMap = map[string]Accent{
	"en-us": {ID: "us", Label: "USA", Flag: "🇺🇸"},
	"en-gb": {ID: "uk", Label: "UK", Flag: "🇬🇧"},
	"en-au": {ID: "au", Label: "Australian English", Flag: "🇦🇺"},
	"en-ca": {ID: "ca", Label: "Canadian English", Flag: "🇨🇦"},
	"en-in": {ID: "in", Label: "Indian English", Flag: "🇮🇳"},
	"en-nz": {ID: "nz", Label: "New Zealand English", Flag: "🇳🇿"},
	"en-za": {ID: "za", Label: "South African English", Flag: "🇿🇦"},
	"fr-fr": {ID: "fr", Label: "French", Flag: "🇫🇷"},
	"de-de": {ID: "de", Label: "German", Flag: "🇩🇪"},
	"es-es": {ID: "es", Label: "Spanish", Flag: "🇪🇸"},
	"ja-jp": {ID: "ja", Label: "Japanese", Flag: "🇯🇵"},
	"ko-kr": {ID: "ko", Label: "Korean", Flag: "🇰🇷"},
	"cmn":   {ID: "zh", Label: "Mandarin Chinese", Flag: "🇨🇳"},
	"hi-in": {ID: "hi", Label: "Hindi", Flag: "🇮🇳"},
	"it-it": {ID: "it", Label: "Italian", Flag: "🇮🇹"},
	"pt-br": {ID: "pt", Label: "Brazilian Portuguese", Flag: "🇧🇷"},
}

// bankLocaleMap maps two-letter bundled-bank prefixes onto locales.
var bankLocaleMap = map[string]string{
	"af": "en-us", "am": "en-us",
	"bf": "en-gb", "bm": "en-gb",
	"jf": "ja-jp", "jm": "ja-jp",
	"zf": "cmn", "zm": "cmn",
	"ef": "es-es", "em": "es-es",
	"ff": "fr-fr",
	"hf": "hi-in", "hm": "hi-in",
	"if": "it-it", "im": "it-it",
	"pf": "pt-br", "pm": "pt-br",
}

// DeriveLocale infers a locale from a bundled-bank voice id such as
// af_heart. Unknown prefixes yield "".
func DeriveLocale(voiceID string) string {
	prefix, _, _ := strings.Cut(voiceID, "_")
	if len(prefix) != 2 {
		return ""
	}
	return bankLocaleMap[strings.ToLower(prefix)]
}

// DeriveGender reads the second prefix rune: f = female, m = male.
func DeriveGender(voiceID string) string {
	prefix, _, _ := strings.Cut(voiceID, "_")
	if len(prefix) < 2 {
		return ""
	}
	switch prefix[1] | 0x20 {
	case 'f':
		return "female"
	case 'm':
		return "male"
	}
	return ""
}

// ResolveAccent picks the accent bucket for a voice: gendered prefix
// first, then locale (exact, then base language), then the default.
func ResolveAccent(voiceID, locale string) Accent {
	prefix, _, _ := strings.Cut(voiceID, "_")
	if len(prefix) >= 2 {
		if accent, ok := accentPrefixMap[strings.ToLower(prefix[:2])]; ok {
			return accent
		}
	}

	if locale != "" {
		key := strings.ToLower(locale)
		if accent, ok := accentLocaleMap[key]; ok {
			return accent
		}
		base, _, _ := strings.Cut(key, "-")
		if accent, ok := accentLocaleMap[base]; ok {
			return accent
		}
	}

	return DefaultAccent
}

// BuildAccentGroups buckets voices by accent id, sorted by label.
func BuildAccentGroups(vs []Voice) []Group {
	byID := make(map[string]*Group)
	var order []string
	for _, v := range vs {
		accent := v.Accent
		if accent.ID == "" {
			accent = DefaultAccent
		}
		g, ok := byID[accent.ID]
		if !ok {
			g = &Group{ID: accent.ID, Label: accent.Label, Flag: accent.Flag}
			byID[accent.ID] = g
			order = append(order, accent.ID)
		}
		g.Voices = append(g.Voices, v.ID)
	}

	groups := make([]Group, 0, len(order))
	for _, id := range order {
		g := byID[id]
		g.Count = len(g.Voices)
		groups = append(groups, *g)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return strings.ToLower(groups[i].Label) < strings.ToLower(groups[j].Label)
	})
	return groups
}

// familyID collapses a gendered accent id to its family: us_female → us.
func familyID(accentID string) string {
	if accentID == "" {
		return DefaultAccent.ID
	}
	fam, _, _ := strings.Cut(accentID, "_")
	return fam
}

// familyLabel strips a gender suffix like "USA · Female" down to "USA".
func familyLabel(label string) string {
	base, _, _ := strings.Cut(label, " · ")
	base = strings.TrimSpace(base)
	if base == "" {
		return "Other"
	}
	return base
}

// BuildFamilies collapses gendered accents into families with per-gender
// counts.
func BuildFamilies(vs []Voice) Families {
	type meta struct {
		label string
		flag  string
	}
	metas := make(map[string]meta)
	var order []string
	counts := make(map[string]map[string]int)

	for _, v := range vs {
		accent := v.Accent
		if accent.ID == "" {
			accent = DefaultAccent
		}
		fam := familyID(accent.ID)
		if _, ok := metas[fam]; !ok {
			metas[fam] = meta{label: familyLabel(accent.Label), flag: accent.Flag}
			counts[fam] = map[string]int{}
			order = append(order, fam)
		}
		counts[fam]["any"]++
		switch v.Gender {
		case "female", "male":
			counts[fam][v.Gender]++
		}
	}

	build := func(key string) []FamilyEntry {
		var entries []FamilyEntry
		for _, fam := range order {
			c := counts[fam][key]
			if c == 0 {
				continue
			}
			m := metas[fam]
			entries = append(entries, FamilyEntry{ID: fam, Label: m.label, Flag: m.flag, Count: c})
		}
		sort.SliceStable(entries, func(i, j int) bool {
			return strings.ToLower(entries[i].Label) < strings.ToLower(entries[j].Label)
		})
		return entries
	}

	return Families{Any: build("any"), Female: build("female"), Male: build("male")}
}

// BuildFilters assembles the facet block for a set of voices.
func BuildFilters(vs []Voice, accentGroups []Group) *Filters {
	genders := make(map[string]int)
	locales := make(map[string]int)
	for _, v := range vs {
		g := v.Gender
		if g == "" {
			g = "unknown"
		}
		genders[g]++
		l := v.Locale
		if l == "" {
			l = "misc"
		}
		locales[l]++
	}

	genderEntries := make([]FilterEntry, 0, len(genders))
	for id, count := range genders {
		genderEntries = append(genderEntries, FilterEntry{ID: id, Label: genderLabel(id), Count: count})
	}
	sort.Slice(genderEntries, func(i, j int) bool { return genderEntries[i].ID < genderEntries[j].ID })

	localeEntries := make([]FilterEntry, 0, len(locales))
	for id, count := range locales {
		localeEntries = append(localeEntries, FilterEntry{ID: id, Label: localeLabel(id), Count: count})
	}
	sort.Slice(localeEntries, func(i, j int) bool { return localeEntries[i].ID < localeEntries[j].ID })

	return &Filters{
		Genders:        genderEntries,
		Locales:        localeEntries,
		Accents:        accentGroups,
		AccentFamilies: BuildFamilies(vs),
	}
}

func genderLabel(id string) string {
	switch id {
	case "female":
		return "Female"
	case "male":
		return "Male"
	}
	return "Unknown"
}

func localeLabel(id string) string {
	if id == "misc" {
		return "Miscellaneous"
	}
	return strings.ToUpper(id)
}
