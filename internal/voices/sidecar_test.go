package voices

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSidecarRoundTrip(t *testing.T) {
	ref := filepath.Join(t.TempDir(), "narrator.wav")

	sc := &Sidecar{
		Label:    "Narrator",
		Language: "en-GB",
		Gender:   "male",
		Tags:     []string{"deep", "slow"},
		Notes:    "recorded on the good mic",
		Accent:   &Accent{ID: "uk", Label: "UK", Flag: "🇬🇧"},
	}
	require.NoError(t, SaveSidecar(ref, sc))
	assert.FileExists(t, ref+".meta.json")

	loaded, err := LoadSidecar(ref)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, sc, loaded)
}

func TestLoadSidecar_Missing(t *testing.T) {
	sc, err := LoadSidecar(filepath.Join(t.TempDir(), "absent.wav"))
	require.NoError(t, err)
	assert.Nil(t, sc)
}

func TestLoadSidecar_Malformed(t *testing.T) {
	ref := filepath.Join(t.TempDir(), "bad.wav")
	require.NoError(t, os.WriteFile(SidecarPath(ref), []byte("{nonsense"), 0o644))

	sc, err := LoadSidecar(ref)
	assert.Error(t, err)
	assert.Nil(t, sc)
}

func TestDeleteSidecar(t *testing.T) {
	ref := filepath.Join(t.TempDir(), "gone.wav")
	require.NoError(t, SaveSidecar(ref, &Sidecar{Label: "Gone"}))
	require.NoError(t, DeleteSidecar(ref))
	assert.NoFileExists(t, SidecarPath(ref))

	// Deleting again is fine.
	assert.NoError(t, DeleteSidecar(ref))
}

func TestSidecarApply(t *testing.T) {
	base := Voice{
		ID:     "xtts_narrator",
		Label:  "Narrator",
		Locale: "en-us",
		Gender: "female",
		Tags:   []string{"XTTS"},
		Accent: Accent{ID: "custom", Label: "Custom Voice", Flag: "🎙️"},
	}

	t.Run("overlays non-empty fields", func(t *testing.T) {
		v := base
		sc := &Sidecar{
			Label:    "The Narrator",
			Language: "EN-GB",
			Gender:   "male",
			Notes:    "use for documentaries",
			Accent:   &Accent{ID: "uk", Label: "UK", Flag: "🇬🇧"},
		}
		sc.Apply(&v)

		assert.Equal(t, "The Narrator", v.Label)
		assert.Equal(t, "en-gb", v.Locale)
		assert.Equal(t, "male", v.Gender)
		assert.Equal(t, "use for documentaries", v.Notes)
		assert.Equal(t, "uk", v.Accent.ID)
		// Untouched fields keep their derived values.
		assert.Equal(t, []string{"XTTS"}, v.Tags)
		assert.Equal(t, "xtts_narrator", v.ID)
	})

	t.Run("empty sidecar changes nothing", func(t *testing.T) {
		v := base
		(&Sidecar{}).Apply(&v)
		assert.Equal(t, base, v)
	})

	t.Run("nil sidecar is a no-op", func(t *testing.T) {
		v := base
		var sc *Sidecar
		sc.Apply(&v)
		assert.Equal(t, base, v)
	})

	t.Run("tags are copied, not shared", func(t *testing.T) {
		v := base
		tags := []string{"cloned"}
		(&Sidecar{Tags: tags}).Apply(&v)
		tags[0] = "mutated"
		assert.Equal(t, []string{"cloned"}, v.Tags)
	})
}
