// Package stats keeps bounded rolling samples of media operation
// timings. Clients use the per-kind averages to show progress estimates,
// so recording is best-effort and must never fail a request.
package stats

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/ttshub/internal/storage"
)

// historyCap bounds each kind's sample history.
const historyCap = 100

// Sample is one recorded operation. Fields besides Elapsed are optional;
// RTF is derived from Duration/Elapsed when not supplied.
type Sample struct {
	Elapsed  float64 `json:"elapsed"`
	Duration float64 `json:"duration,omitempty"`
	RTF      float64 `json:"rtf,omitempty"`
	Chars    int     `json:"chars,omitempty"`
	TS       int64   `json:"ts"`
}

// Summary aggregates one kind's history window.
type Summary struct {
	Count  int     `json:"count"`
	AvgRTF float64 `json:"avg_rtf,omitempty"`
}

// Recorder persists per-kind sample rings to a JSON file in the output
// sandbox. All methods are safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	sandbox *storage.Sandbox
	rel     string
	logger  *slog.Logger
	samples map[string][]Sample
	loaded  bool
}

// NewRecorder creates a recorder persisting to rel inside the sandbox.
func NewRecorder(sandbox *storage.Sandbox, rel string, logger *slog.Logger) *Recorder {
	return &Recorder{
		sandbox: sandbox,
		rel:     rel,
		logger:  logger,
		samples: make(map[string][]Sample),
	}
}

// Record appends a sample for the given kind and persists the file.
// Failures are logged and swallowed; timing stats are advisory.
func (r *Recorder) Record(kind string, sample Sample) {
	if kind == "" || sample.Elapsed <= 0 {
		return
	}
	if sample.RTF == 0 && sample.Duration > 0 {
		sample.RTF = sample.Duration / sample.Elapsed
	}
	if sample.TS == 0 {
		sample.TS = time.Now().Unix()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.loadLocked()

	ring := append(r.samples[kind], sample)
	if len(ring) > historyCap {
		ring = ring[len(ring)-historyCap:]
	}
	r.samples[kind] = ring

	r.persistLocked()
}

// Summaries reports the per-kind aggregate over the current window.
func (r *Recorder) Summaries() map[string]Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.loadLocked()

	out := make(map[string]Summary, len(r.samples))
	for kind, ring := range r.samples {
		if len(ring) == 0 {
			continue
		}
		var sum float64
		var n int
		for _, s := range ring {
			rtf := s.RTF
			if rtf == 0 && s.Duration > 0 && s.Elapsed > 0 {
				rtf = s.Duration / s.Elapsed
			}
			if rtf > 0 {
				sum += rtf
				n++
			}
		}
		summary := Summary{Count: len(ring)}
		if n > 0 {
			summary.AvgRTF = sum / float64(n)
		}
		out[kind] = summary
	}
	return out
}

// AvgRTF returns the average real-time factor for a kind, 0 when unknown.
func (r *Recorder) AvgRTF(kind string) float64 {
	return r.Summaries()[kind].AvgRTF
}

// loadLocked reads the persisted file once. A missing or corrupt file
// starts an empty history.
func (r *Recorder) loadLocked() {
	if r.loaded {
		return
	}
	r.loaded = true

	data, err := r.sandbox.ReadFile(r.rel)
	if err != nil {
		return
	}
	var samples map[string][]Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		r.logger.Warn("discarding unreadable stats file", slog.String("path", r.rel), slog.String("error", err.Error()))
		return
	}
	for kind, ring := range samples {
		if len(ring) > historyCap {
			ring = ring[len(ring)-historyCap:]
		}
		r.samples[kind] = ring
	}
}

// persistLocked writes the current rings atomically. Never raises.
func (r *Recorder) persistLocked() {
	data, err := json.MarshalIndent(r.samples, "", "  ")
	if err != nil {
		r.logger.Warn("marshaling stats", slog.String("error", err.Error()))
		return
	}
	if err := r.sandbox.AtomicWrite(r.rel, data); err != nil {
		r.logger.Warn("persisting stats", slog.String("path", r.rel), slog.String("error", err.Error()))
	}
}
