// Package favorites persists synthesis profiles in a JSON document.
// A profile pins an engine, voice, and parameter set under a stable id
// and a human slug; the dispatcher expands requests that reference one.
package favorites

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/jmylchreest/ttshub/internal/apperr"
)

// SchemaVersion is the document schema revision.
const SchemaVersion = 1

// slugMaxLen bounds generated slugs.
const slugMaxLen = 60

// Profile is a stored synthesis profile. Optional fields serialize only
// when set so exported documents stay small.
type Profile struct {
	ID          string         `json:"id"`
	Label       string         `json:"label"`
	Engine      string         `json:"engine"`
	VoiceID     string         `json:"voiceId"`
	Slug        string         `json:"slug,omitempty"`
	Language    string         `json:"language,omitempty"`
	Speed       *float64       `json:"speed,omitempty"`
	TrimSilence *bool          `json:"trimSilence,omitempty"`
	Style       string         `json:"style,omitempty"`
	Seed        *int64         `json:"seed,omitempty"`
	ServerURL   string         `json:"serverUrl,omitempty"`
	Tags        []string       `json:"tags"`
	Meta        map[string]any `json:"meta"`
	CreatedAt   string         `json:"createdAt,omitempty"`
	UpdatedAt   string         `json:"updatedAt,omitempty"`
}

// Document is the on-disk and export shape.
type Document struct {
	SchemaVersion int       `json:"schemaVersion"`
	Profiles      []Profile `json:"profiles"`
}

// Store reads and writes the favorites document, enforcing slug
// uniqueness across all mutations. Safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore opens (or initializes) the favorites document at path.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating favorites directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.write(Document{SchemaVersion: SchemaVersion, Profiles: []Profile{}}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// List returns all profiles, most recently updated first. Empty filter
// values match everything.
func (s *Store) List(engine, tag string) []Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles := s.load()
	sort.SliceStable(profiles, func(i, j int) bool {
		return sortKey(profiles[i]) > sortKey(profiles[j])
	})

	if engine == "" && tag == "" {
		return profiles
	}

	engine = strings.ToLower(strings.TrimSpace(engine))
	var out []Profile
	for _, p := range profiles {
		if engine != "" && p.Engine != engine {
			continue
		}
		if tag != "" && !hasTag(p, tag) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Get returns the profile with the given id, or nil.
func (s *Store) Get(id string) *Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.load() {
		if p.ID == id {
			return &p
		}
	}
	return nil
}

// GetBySlug returns the profile with the given slug, or nil.
func (s *Store) GetBySlug(slug string) *Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.load() {
		if p.Slug == slug {
			return &p
		}
	}
	return nil
}

// Resolve finds a profile by id first, then by slug. Nil when neither
// matches.
func (s *Store) Resolve(ref string) *Profile {
	if ref == "" {
		return nil
	}
	if p := s.Get(ref); p != nil {
		return p
	}
	return s.GetBySlug(ref)
}

// Create validates and appends a new profile. Label, engine, and voice
// are required; the slug is derived from the label when absent and made
// unique with a numeric suffix.
func (s *Store) Create(p Profile) (*Profile, error) {
	p.Label = strings.TrimSpace(p.Label)
	p.Engine = strings.ToLower(strings.TrimSpace(p.Engine))
	p.VoiceID = strings.TrimSpace(p.VoiceID)

	if p.Label == "" {
		return nil, apperr.BadRequest("Missing field 'label'")
	}
	if p.Engine == "" {
		return nil, apperr.BadRequest("Missing field 'engine'")
	}
	if p.VoiceID == "" {
		return nil, apperr.BadRequest("Missing field 'voiceId'")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profiles := s.load()

	if p.ID == "" {
		p.ID = newProfileID()
	}
	slug := p.Slug
	if slug == "" {
		slug = truncate(Slugify(p.Label), slugMaxLen)
	}
	p.Slug = uniqueSlug(slug, profiles, "")
	if p.Tags == nil {
		p.Tags = []string{}
	}
	if p.Meta == nil {
		p.Meta = map[string]any{}
	}
	now := nowISO()
	p.CreatedAt = now
	p.UpdatedAt = now

	profiles = append(profiles, p)
	if err := s.write(Document{SchemaVersion: SchemaVersion, Profiles: profiles}); err != nil {
		return nil, err
	}
	return &p, nil
}

// Patch holds the mutable subset of a profile for updates. Pointer
// fields distinguish absent from zero.
type Patch struct {
	Label       *string         `json:"label,omitempty"`
	Engine      *string         `json:"engine,omitempty"`
	VoiceID     *string         `json:"voiceId,omitempty"`
	Slug        *string         `json:"slug,omitempty"`
	Language    *string         `json:"language,omitempty"`
	Speed       *float64        `json:"speed,omitempty"`
	TrimSilence *bool           `json:"trimSilence,omitempty"`
	Style       *string         `json:"style,omitempty"`
	Seed        *int64          `json:"seed,omitempty"`
	ServerURL   *string         `json:"serverUrl,omitempty"`
	Tags        *[]string       `json:"tags,omitempty"`
	Meta        *map[string]any `json:"meta,omitempty"`
}

// Update applies a patch to the profile with the given id. Nil result
// when the id is unknown.
func (s *Store) Update(id string, patch Patch) (*Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles := s.load()
	idx := -1
	for i := range profiles {
		if profiles[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil
	}

	p := &profiles[idx]
	if patch.Label != nil {
		p.Label = strings.TrimSpace(*patch.Label)
	}
	if patch.Engine != nil {
		p.Engine = strings.ToLower(strings.TrimSpace(*patch.Engine))
	}
	if patch.VoiceID != nil {
		p.VoiceID = strings.TrimSpace(*patch.VoiceID)
	}
	if patch.Language != nil {
		p.Language = *patch.Language
	}
	if patch.Speed != nil {
		p.Speed = patch.Speed
	}
	if patch.TrimSilence != nil {
		p.TrimSilence = patch.TrimSilence
	}
	if patch.Style != nil {
		p.Style = *patch.Style
	}
	if patch.Seed != nil {
		p.Seed = patch.Seed
	}
	if patch.ServerURL != nil {
		p.ServerURL = *patch.ServerURL
	}
	if patch.Tags != nil {
		p.Tags = *patch.Tags
	}
	if patch.Meta != nil {
		p.Meta = *patch.Meta
	}
	if patch.Slug != nil && *patch.Slug != "" {
		p.Slug = truncate(uniqueSlug(*patch.Slug, profiles, p.ID), slugMaxLen)
	}
	p.UpdatedAt = nowISO()

	if err := s.write(Document{SchemaVersion: SchemaVersion, Profiles: profiles}); err != nil {
		return nil, err
	}
	out := *p
	return &out, nil
}

// Delete removes the profile with the given id, reporting whether it
// existed.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles := s.load()
	next := profiles[:0]
	for _, p := range profiles {
		if p.ID != id {
			next = append(next, p)
		}
	}
	if len(next) == len(profiles) {
		return false, nil
	}
	if err := s.write(Document{SchemaVersion: SchemaVersion, Profiles: next}); err != nil {
		return false, err
	}
	return true, nil
}

// Export returns the full document for backup.
func (s *Store) Export() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Document{SchemaVersion: SchemaVersion, Profiles: s.load()}
}

// ImportMode selects how Import treats existing profiles.
type ImportMode string

// Import modes.
const (
	ImportMerge   ImportMode = "merge"
	ImportReplace ImportMode = "replace"
)

// Import appends the valid incoming profiles, regenerating colliding ids
// and re-uniquifying slugs. Replace mode discards the existing set first.
// Returns the number imported.
func (s *Store) Import(incoming []Profile, mode ImportMode) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var profiles []Profile
	if mode != ImportReplace {
		profiles = s.load()
	}

	existingIDs := make(map[string]bool, len(profiles))
	existingSlugs := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		existingIDs[p.ID] = true
		if p.Slug != "" {
			existingSlugs[p.Slug] = true
		}
	}

	count := 0
	for _, p := range incoming {
		p.Label = strings.TrimSpace(p.Label)
		p.Engine = strings.ToLower(strings.TrimSpace(p.Engine))
		p.VoiceID = strings.TrimSpace(p.VoiceID)
		if p.Label == "" || p.Engine == "" || p.VoiceID == "" {
			continue
		}

		if p.ID == "" || existingIDs[p.ID] {
			p.ID = newProfileID()
		}
		slug := p.Slug
		if slug == "" {
			slug = Slugify(p.Label)
		}
		slug = truncate(slug, slugMaxLen)
		base := slug
		for suffix := 2; slug != "" && existingSlugs[slug]; suffix++ {
			slug = fmt.Sprintf("%s-%d", base, suffix)
		}
		p.Slug = slug

		if p.Tags == nil {
			p.Tags = []string{}
		}
		if p.Meta == nil {
			p.Meta = map[string]any{}
		}
		if p.CreatedAt == "" {
			p.CreatedAt = nowISO()
		}
		p.UpdatedAt = nowISO()

		profiles = append(profiles, p)
		existingIDs[p.ID] = true
		if p.Slug != "" {
			existingSlugs[p.Slug] = true
		}
		count++
	}

	if err := s.write(Document{SchemaVersion: SchemaVersion, Profiles: profiles}); err != nil {
		return 0, err
	}
	return count, nil
}

// load reads the document, tolerating a missing or corrupt file.
func (s *Store) load() []Profile {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return []Profile{}
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return []Profile{}
	}
	if doc.Profiles == nil {
		return []Profile{}
	}
	return doc.Profiles
}

// write persists the document with write-temp-then-rename.
func (s *Store) write(doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling favorites: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing favorites: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("publishing favorites: %w", err)
	}
	return nil
}

// uniqueSlug slugifies base and appends -N until no other profile holds
// it. excludeID skips the profile being updated.
func uniqueSlug(base string, profiles []Profile, excludeID string) string {
	slug := Slugify(base)
	existing := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		if p.Slug != "" && p.ID != excludeID {
			existing[p.Slug] = true
		}
	}
	candidate := slug
	for suffix := 2; candidate != "" && existing[candidate]; suffix++ {
		candidate = fmt.Sprintf("%s-%d", slug, suffix)
	}
	return candidate
}

// Slugify lowercases, keeps letters and digits, and maps separators to
// dashes. Unlike voice-id slugs, separator runs are preserved so slugs
// stay byte-compatible with documents written by earlier releases.
func Slugify(value string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(value) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteByte('-')
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return strings.ToLower(value)
	}
	return slug
}

func hasTag(p Profile, tag string) bool {
	for _, t := range p.Tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

func sortKey(p Profile) string {
	if p.UpdatedAt != "" {
		return p.UpdatedAt
	}
	return p.CreatedAt
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func nowISO() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

func newProfileID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("fav_%d", time.Now().UnixNano())
	}
	return "fav_" + hex.EncodeToString(buf)
}
