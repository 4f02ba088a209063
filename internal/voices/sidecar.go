package voices

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
)

// Sidecar is optional operator-supplied metadata for a reference clip,
// stored as <file>.meta.json next to the clip itself. Fields overlay the
// derived catalog entry; empty fields leave the derived values alone.
type Sidecar struct {
	Label    string   `json:"label,omitempty"`
	Language string   `json:"language,omitempty"`
	Gender   string   `json:"gender,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Notes    string   `json:"notes,omitempty"`
	Accent   *Accent  `json:"accent,omitempty"`
}

// SidecarPath returns the sidecar location for a reference clip.
func SidecarPath(refPath string) string {
	return refPath + ".meta.json"
}

// LoadSidecar reads the sidecar for a reference clip. A missing sidecar
// is (nil, nil); a malformed one is an error the caller may ignore.
func LoadSidecar(refPath string) (*Sidecar, error) {
	data, err := os.ReadFile(SidecarPath(refPath))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var sc Sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// SaveSidecar writes the sidecar atomically (temp + rename).
func SaveSidecar(refPath string, sc *Sidecar) error {
	data, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')

	path := SidecarPath(refPath)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// DeleteSidecar removes the sidecar; a missing file is not an error.
func DeleteSidecar(refPath string) error {
	err := os.Remove(SidecarPath(refPath))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Apply overlays the sidecar's non-empty fields onto a catalog entry.
func (sc *Sidecar) Apply(v *Voice) {
	if sc == nil {
		return
	}
	if sc.Label != "" {
		v.Label = sc.Label
	}
	if sc.Language != "" {
		v.Locale = CanonicalLocale(sc.Language)
	}
	if sc.Gender != "" {
		v.Gender = sc.Gender
	}
	if len(sc.Tags) > 0 {
		v.Tags = append([]string(nil), sc.Tags...)
	}
	if sc.Notes != "" {
		v.Notes = sc.Notes
	}
	if sc.Accent != nil {
		v.Accent = *sc.Accent
	}
}
