// Package stt transcribes and force-aligns audio through an external
// speech-to-text runner. The transcript document it produces is the
// shared currency of the media-edit pipeline: segments give coarse
// structure, words carry the per-boundary timings the editor surfaces.
package stt

import (
	"math"
	"sort"
	"strings"
)

// Word is one aligned token. Times are seconds from the start of the
// audio; Confidence is optional and 0 when the runner omits it.
type Word struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Segment is a coarse transcript span.
type Segment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Stats carries per-operation timing reported alongside a transcript.
type Stats struct {
	Elapsed float64 `json:"elapsed"`
	RTF     float64 `json:"rtf,omitempty"`
}

// Transcript is the persisted transcription document for a media job.
type Transcript struct {
	Language string    `json:"language"`
	Duration float64   `json:"duration"`
	Segments []Segment `json:"segments"`
	Words    []Word    `json:"words"`
	Stub     bool      `json:"stub,omitempty"`
	Stats    *Stats    `json:"stats,omitempty"`
}

// Window is an expanded alignment region.
type Window struct {
	Start float64
	End   float64
}

// RegionWindow expands [start, end] by margin on both sides, clamped to
// the audio bounds.
func RegionWindow(start, end, margin, duration float64) Window {
	w := Window{
		Start: start - margin,
		End:   end + margin,
	}
	if w.Start < 0 {
		w.Start = 0
	}
	if duration > 0 && w.End > duration {
		w.End = duration
	}
	if w.End < w.Start {
		w.End = w.Start
	}
	return w
}

// WordsInWindow returns the words overlapping the window, preserving
// order.
func (t *Transcript) WordsInWindow(w Window) []Word {
	var out []Word
	for _, word := range t.Words {
		if word.End > w.Start && word.Start < w.End {
			out = append(out, word)
		}
	}
	return out
}

// WindowText assembles the text to align for a window: the overlapping
// words when any exist, otherwise the overlapping segments. Empty means
// there is nothing to align.
func (t *Transcript) WindowText(w Window) string {
	words := t.WordsInWindow(w)
	if len(words) > 0 {
		parts := make([]string, 0, len(words))
		for _, word := range words {
			if s := strings.TrimSpace(word.Text); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	}

	var parts []string
	for _, seg := range t.Segments {
		if seg.End > w.Start && seg.Start < w.End {
			if s := strings.TrimSpace(seg.Text); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ")
}

// MergeWindow replaces the words overlapping the window with newWords:
// originals that do not overlap [w.Start, w.End] are kept, all new words
// are appended, and the result is re-sorted by start time.
func (t *Transcript) MergeWindow(w Window, newWords []Word) {
	kept := make([]Word, 0, len(t.Words)+len(newWords))
	for _, word := range t.Words {
		if word.End <= w.Start || word.Start >= w.End {
			kept = append(kept, word)
		}
	}
	kept = append(kept, newWords...)
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Start < kept[j].Start
	})
	t.Words = kept
}

// ShiftWords offsets every word's times by delta seconds.
func ShiftWords(words []Word, delta float64) []Word {
	out := make([]Word, len(words))
	for i, w := range words {
		w.Start += delta
		w.End += delta
		out[i] = w
	}
	return out
}

// DiffEntry names one of the largest boundary moves in a window diff.
type DiffEntry struct {
	Idx       int     `json:"idx"`
	Text      string  `json:"text"`
	Boundary  string  `json:"boundary"` // start or end
	DeltaMs   float64 `json:"delta_ms"`
	Direction string  `json:"direction"` // later or earlier
}

// DiffStats summarizes how far a window realignment moved word
// boundaries against the prior pass.
type DiffStats struct {
	Compared     int         `json:"compared"`
	Changed      int         `json:"changed"`
	TextMismatch int         `json:"text_mismatch"`
	MeanAbsMs    float64     `json:"mean_abs_ms"`
	MedianAbsMs  float64     `json:"median_abs_ms"`
	P95AbsMs     float64     `json:"p95_abs_ms"`
	MaxAbsMs     float64     `json:"max_abs_ms"`
	Top          []DiffEntry `json:"top"`
}

// changedEpsMs is the boundary move below which a word counts as
// unchanged.
const changedEpsMs = 1e-3

// Diff compares word pairs by index. The delta per pair is the larger
// boundary move, signed (positive = later). Pairs whose text differs are
// counted in TextMismatch and excluded from the delta statistics.
func Diff(before, after []Word) DiffStats {
	n := len(before)
	if len(after) < n {
		n = len(after)
	}

	stats := DiffStats{Compared: n}
	if n == 0 {
		return stats
	}

	var abs []float64
	var entries []DiffEntry

	for i := 0; i < n; i++ {
		b, a := before[i], after[i]
		bText := strings.TrimSpace(b.Text)
		aText := strings.TrimSpace(a.Text)
		if bText == "" || bText != aText {
			stats.TextMismatch++
			continue
		}

		startDelta := (a.Start - b.Start) * 1000
		endDelta := (a.End - b.End) * 1000

		delta := startDelta
		boundary := "start"
		if math.Abs(endDelta) > math.Abs(startDelta) {
			delta = endDelta
			boundary = "end"
		}

		absDelta := math.Abs(delta)
		abs = append(abs, absDelta)
		if absDelta > changedEpsMs {
			stats.Changed++
		}

		direction := "later"
		if delta < 0 {
			direction = "earlier"
		}
		entries = append(entries, DiffEntry{
			Idx:       i,
			Text:      aText,
			Boundary:  boundary,
			DeltaMs:   delta,
			Direction: direction,
		})
	}

	if len(abs) == 0 {
		return stats
	}

	sorted := append([]float64(nil), abs...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	stats.MeanAbsMs = sum / float64(len(sorted))
	stats.MedianAbsMs = percentile(sorted, 0.5)
	stats.P95AbsMs = percentile(sorted, 0.95)
	stats.MaxAbsMs = sorted[len(sorted)-1]

	sort.SliceStable(entries, func(i, j int) bool {
		return math.Abs(entries[i].DeltaMs) > math.Abs(entries[j].DeltaMs)
	})
	if len(entries) > 10 {
		entries = entries[:10]
	}
	stats.Top = entries

	return stats
}

// percentile reads the p-quantile (0..1) from an ascending slice by
// rounded index.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	k := int(math.Round(p * float64(len(sorted)-1)))
	if k < 0 {
		k = 0
	}
	if k >= len(sorted) {
		k = len(sorted) - 1
	}
	return sorted[k]
}
