package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sort"
	"strings"

	"github.com/jmylchreest/ttshub/internal/apperr"
)

// Canned snippets per category, used whenever the LLM sidecar is
// offline so the random-text button always produces something.
var randomSnippets = map[string][]string{
	"any": {
		"Welcome to the TTS Hub. Generate speech clips, audition voices, and tweak the pacing to fit your project.",
		"Testing, one two three. This is a friendly reminder that synthetic voices can be astonishingly crisp when tuned properly.",
	},
	"narration": {
		"In the stillness between the trees, a quiet melody carried the promise of the coming dawn.",
		"The crew had rehearsed for months, but nothing prepared them for the thrill of opening night.",
	},
	"promo": {
		"Upgrade your workflow with TTS Hub Pro. Faster rendering, smarter presets, limitless creativity.",
		"Your story deserves a captivating voice. Open the studio and discover the perfect tone in seconds.",
	},
	"dialogue": {
		"I can't believe it worked. All those late nights finally paid off.",
		"You really think this voice will convince them? Trust me, it's the right choice.",
	},
	"news": {
		"Local engineers today unveiled a breakthrough text-to-speech model designed for studio quality voiceovers.",
		"In technology headlines, developers are embracing on-device speech synthesis for privacy-conscious products.",
	},
	"story": {
		"Beneath the shifting aurora, the explorers found a hidden city pulsing with ancient light.",
		"Every legend begins with a single voice daring to speak the impossible aloud.",
	},
	"whimsy": {
		"Some voices sparkle like stardust; others hum like a cup of tea on a rainy afternoon.",
		"This sentence serves no purpose except to make the waveform wiggle in a delightful way.",
	},
}

// RandomText is one sample sentence for auditioning a voice.
type RandomText struct {
	Text       string   `json:"text"`
	Source     string   `json:"source"`
	Category   string   `json:"category"`
	Categories []string `json:"categories"`
}

// Categories lists the snippet categories in sorted order.
func Categories() []string {
	out := make([]string, 0, len(randomSnippets))
	for k := range randomSnippets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RandomText produces a test sentence for the given category, asking
// the LLM first and falling back to the local bank. Unknown categories
// collapse to "any" rather than erroring.
func (o *Ollama) RandomText(ctx context.Context, category string) *RandomText {
	category = strings.ToLower(strings.TrimSpace(category))
	if _, ok := randomSnippets[category]; !ok {
		category = "any"
	}
	res := &RandomText{Category: category, Categories: Categories()}
	if text := o.generateSnippet(ctx, category); text != "" {
		res.Text = text
		res.Source = "ollama"
		return res
	}
	bank := randomSnippets[category]
	res.Text = bank[rand.IntN(len(bank))]
	res.Source = "local"
	return res
}

// generateSnippet asks the configured model for a short paragraph.
// Any failure returns "" so the caller falls back to the local bank.
func (o *Ollama) generateSnippet(ctx context.Context, category string) string {
	prompt := "Compose a short paragraph suitable for testing a text-to-speech voice. Keep it under 60 words."
	if category != "" && category != "any" {
		prompt += fmt.Sprintf(" The tone should feel like: %s.", category)
	}
	payload := map[string]any{
		"model":  o.cfg.Model,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": 0.7,
			"top_p":       0.9,
		},
	}
	data, err := o.roundTrip(ctx, http.MethodPost, "/api/generate", payload, llmTimeout, "/generate")
	if err != nil {
		o.logger.Debug("llm snippet unavailable", slog.String("error", err.Error()))
		return ""
	}
	var doc struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return ""
	}
	return strings.TrimSpace(doc.Response)
}

// ModelInventory is the offline-tolerant model listing for the UI.
type ModelInventory struct {
	Models []string `json:"models"`
	URL    string   `json:"url"`
	Error  string   `json:"error,omitempty"`
}

// Available reports whether the upstream offered any model.
func (inv *ModelInventory) Available() bool {
	return len(inv.Models) > 0
}

// Models lists the installed model names. The listing never fails: an
// unreachable upstream yields an empty inventory with the error noted.
func (o *Ollama) Models(ctx context.Context) *ModelInventory {
	inv := &ModelInventory{Models: []string{}, URL: o.cfg.URL}
	data, err := o.roundTrip(ctx, http.MethodGet, "/api/tags", nil, inventoryTimeout, "/tags")
	if err != nil {
		o.logger.Debug("ollama inventory unavailable", slog.String("error", err.Error()))
		inv.Error = apperr.MessageOf(err)
		return inv
	}
	var doc struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
		Data []struct {
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		inv.Error = fmt.Sprintf("unexpected tags payload: %v", err)
		return inv
	}
	entries := doc.Models
	if len(entries) == 0 && len(doc.Data) > 0 {
		entries = doc.Data
	}
	for _, m := range entries {
		if m.Name != "" {
			inv.Models = append(inv.Models, m.Name)
		}
	}
	return inv
}
