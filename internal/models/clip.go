package models

// ClipKind categorizes how a clip was produced.
type ClipKind string

const (
	// ClipKindSynthesis is a plain text-to-speech render.
	ClipKindSynthesis ClipKind = "synthesis"
	// ClipKindAudition is a multi-voice comparison reel.
	ClipKindAudition ClipKind = "audition"
	// ClipKindPreview is a short cached voice preview.
	ClipKindPreview ClipKind = "preview"
)

// clipTextLimit bounds how much source text a ledger row retains.
const clipTextLimit = 500

// Clip records one audio artifact produced under the output tree.
// Rows are history only: deleting a row best-effort unlinks the file,
// but files may outlive rows (previews are cached) and vice versa.
type Clip struct {
	BaseModel

	// Kind indicates which operation produced the clip.
	Kind ClipKind `gorm:"not null;size:20;index" json:"kind"`

	// Engine is the TTS engine id that rendered the clip.
	Engine string `gorm:"size:40;index" json:"engine,omitempty"`

	// Voice is the voice id used, or "audition" for reels.
	Voice string `gorm:"size:120" json:"voice,omitempty"`

	// Filename is the artifact base name.
	Filename string `gorm:"not null;size:255" json:"filename"`

	// Path is the public URL path (/audio/...) for the artifact.
	Path string `gorm:"size:512" json:"path"`

	// SampleRate in Hz when known.
	SampleRate int `json:"sample_rate,omitempty"`

	// DurationMs is the rendered audio length in milliseconds when known.
	DurationMs int64 `json:"duration_ms,omitempty"`

	// ElapsedMs is how long the producing operation took.
	ElapsedMs int64 `json:"elapsed_ms,omitempty"`

	// Text is the source text, truncated to keep rows small.
	Text string `gorm:"size:500" json:"text,omitempty"`
}

// TableName returns the table name for Clip.
func (Clip) TableName() string {
	return "clips"
}

// Validate checks the row is well formed before persistence.
func (c *Clip) Validate() error {
	switch c.Kind {
	case ClipKindSynthesis, ClipKindAudition, ClipKindPreview:
	default:
		return ErrInvalidClipKind
	}
	if c.Filename == "" {
		return ErrFilenameRequired
	}
	return nil
}

// SetText stores text truncated to the retained limit.
func (c *Clip) SetText(text string) {
	runes := []rune(text)
	if len(runes) > clipTextLimit {
		runes = runes[:clipTextLimit]
	}
	c.Text = string(runes)
}
