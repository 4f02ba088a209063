package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/engine"
	"github.com/jmylchreest/ttshub/internal/storage"
	"github.com/jmylchreest/ttshub/internal/voices"
)

// VoicesHandler serves the per-engine voice catalogs and previews.
type VoicesHandler struct {
	registry *engine.Registry
	previews *voices.PreviewCache
	logger   *slog.Logger
}

// NewVoicesHandler creates a new voices handler.
func NewVoicesHandler(registry *engine.Registry, previews *voices.PreviewCache, logger *slog.Logger) *VoicesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoicesHandler{registry: registry, previews: previews, logger: logger}
}

// Register registers the catalog routes with the API.
func (h *VoicesHandler) Register(api huma.API, prefix string) {
	huma.Register(api, huma.Operation{
		OperationID: "listVoices",
		Method:      http.MethodGet,
		Path:        prefix + "/voices",
		Summary:     "Voice catalog",
		Description: "Voices with accent groups for one engine",
		Tags:        []string{"Voices"},
	}, h.ListVoices)

	huma.Register(api, huma.Operation{
		OperationID: "listVoicesGrouped",
		Method:      http.MethodGet,
		Path:        prefix + "/voices_grouped",
		Summary:     "Grouped voice metadata",
		Description: "Accent groups without the voice entries",
		Tags:        []string{"Voices"},
	}, h.ListVoicesGrouped)

	huma.Register(api, huma.Operation{
		OperationID: "getVoicesCatalog",
		Method:      http.MethodGet,
		Path:        prefix + "/voices_catalog",
		Summary:     "Filterable voice catalog",
		Description: "Voices plus facet filters and the engine inventory",
		Tags:        []string{"Voices"},
	}, h.GetVoicesCatalog)

	huma.Register(api, huma.Operation{
		OperationID: "createVoicePreview",
		Method:      http.MethodPost,
		Path:        prefix + "/voices/preview",
		Summary:     "Get or create a voice preview",
		Description: "Returns a cached short preview clip, rendering it first when missing",
		Tags:        []string{"Voices"},
	}, h.CreateVoicePreview)
}

// ListVoicesInput selects the engine whose catalog to return.
type ListVoicesInput struct {
	Engine string `query:"engine"`
}

// ListVoicesOutput is the catalog payload.
type ListVoicesOutput struct {
	Body voices.Catalog
}

// ListVoices returns the voice catalog for one engine. Unavailable
// engines answer with an empty stub rather than an error so the UI can
// render engine tabs uniformly.
func (h *VoicesHandler) ListVoices(ctx context.Context, input *ListVoicesInput) (*ListVoicesOutput, error) {
	eng, available, err := h.registry.Resolve(input.Engine, true)
	if err != nil {
		return nil, err
	}
	if !available {
		return &ListVoicesOutput{Body: emptyCatalog(eng.ID())}, nil
	}

	catalog := eng.Voices()
	if catalog == nil {
		catalog = &voices.Catalog{}
	}
	vs := catalog.Voices
	if vs == nil {
		vs = []voices.Voice{}
	}
	groups := catalog.AccentGroups
	if len(groups) == 0 {
		groups = catalog.Groups
	}
	if groups == nil {
		groups = []voices.Group{}
	}
	count := catalog.Count
	if count == 0 {
		count = len(vs)
	}

	body := voices.Catalog{
		Engine:       eng.ID(),
		Available:    true,
		Voices:       vs,
		AccentGroups: groups,
		Groups:       groups,
		Count:        count,
		Styles:       catalog.Styles,
		Presets:      catalog.Presets,
	}
	if len(vs) == 0 && eng.ID() != engine.DefaultEngine {
		body.Message = "Voice catalogue not yet implemented for this engine."
	}
	return &ListVoicesOutput{Body: body}, nil
}

// GroupedVoicesResponse is the catalog payload without voice entries.
type GroupedVoicesResponse struct {
	Engine       string         `json:"engine"`
	Available    bool           `json:"available"`
	AccentGroups []voices.Group `json:"accentGroups"`
	Groups       []voices.Group `json:"groups"`
	Count        int            `json:"count"`
	Message      string         `json:"message,omitempty"`
}

// ListVoicesGroupedOutput is the grouped catalog payload.
type ListVoicesGroupedOutput struct {
	Body GroupedVoicesResponse
}

// ListVoicesGrouped returns accent groups without the voices array.
func (h *VoicesHandler) ListVoicesGrouped(ctx context.Context, input *ListVoicesInput) (*ListVoicesGroupedOutput, error) {
	eng, available, err := h.registry.Resolve(input.Engine, true)
	if err != nil {
		return nil, err
	}
	body := GroupedVoicesResponse{
		Engine:       eng.ID(),
		AccentGroups: []voices.Group{},
		Groups:       []voices.Group{},
	}
	if !available {
		return &ListVoicesGroupedOutput{Body: body}, nil
	}

	catalog := eng.Voices()
	if catalog == nil {
		catalog = &voices.Catalog{}
	}
	groups := catalog.AccentGroups
	if len(groups) == 0 {
		groups = catalog.Groups
	}
	if groups == nil {
		groups = []voices.Group{}
	}

	body.Available = true
	body.AccentGroups = groups
	body.Groups = groups
	body.Count = catalog.Count
	if len(groups) == 0 && eng.ID() != engine.DefaultEngine {
		body.Message = "Grouped voice metadata not yet implemented for this engine."
	}
	return &ListVoicesGroupedOutput{Body: body}, nil
}

// CatalogFilters is the facet block plus the engine inventory.
type CatalogFilters struct {
	voices.Filters
	Engines []engine.Meta `json:"engines"`
}

// VoicesCatalogResponse is the filterable catalog payload.
type VoicesCatalogResponse struct {
	Engine    string         `json:"engine"`
	Available bool           `json:"available"`
	Voices    []voices.Voice `json:"voices"`
	Count     int            `json:"count"`
	Filters   CatalogFilters `json:"filters"`
}

// GetVoicesCatalogOutput is the filterable catalog payload.
type GetVoicesCatalogOutput struct {
	Body VoicesCatalogResponse
}

// GetVoicesCatalog returns voices with facet filters, building the
// filters from the entries when the engine did not supply any.
func (h *VoicesHandler) GetVoicesCatalog(ctx context.Context, input *ListVoicesInput) (*GetVoicesCatalogOutput, error) {
	eng, available, err := h.registry.Resolve(input.Engine, true)
	if err != nil {
		return nil, err
	}

	catalog := eng.Voices()
	if catalog == nil {
		catalog = &voices.Catalog{Engine: eng.ID(), Available: available}
	}
	vs := catalog.Voices
	if vs == nil {
		vs = []voices.Voice{}
	}
	groups := catalog.AccentGroups
	if len(groups) == 0 {
		groups = catalog.Groups
	}

	filters := catalog.Filters
	if filters == nil {
		filters = voices.BuildFilters(vs, groups)
	}

	body := VoicesCatalogResponse{
		Engine:    eng.ID(),
		Available: available && catalog.Available,
		Voices:    vs,
		Count:     catalog.Count,
		Filters: CatalogFilters{
			Filters: *filters,
			Engines: h.registry.Metas(),
		},
	}
	if body.Count == 0 {
		body.Count = len(vs)
	}
	return &GetVoicesCatalogOutput{Body: body}, nil
}

// CreateVoicePreviewInput carries the free-form preview request; keys
// beyond the recognised ones pass through to the engine as options.
type CreateVoicePreviewInput struct {
	Body map[string]any
}

// PreviewResponse points at the cached preview clip.
type PreviewResponse struct {
	Engine     string  `json:"engine"`
	Voice      string  `json:"voice"`
	Language   *string `json:"language"`
	PreviewURL string  `json:"preview_url"`
}

// CreateVoicePreviewOutput is the preview payload.
type CreateVoicePreviewOutput struct {
	Body PreviewResponse
}

// CreateVoicePreview returns a cached preview for a voice, rendering and
// caching one first when missing or when force is set.
func (h *VoicesHandler) CreateVoicePreview(ctx context.Context, input *CreateVoicePreviewInput) (*CreateVoicePreviewOutput, error) {
	p := engine.Payload(input.Body)

	voiceID := strings.TrimSpace(firstNonEmpty(p.String("voiceId"), p.String("voice")))
	if voiceID == "" {
		return nil, apperr.BadRequest("Field 'voiceId' is required.")
	}
	language := strings.TrimSpace(p.String("language"))

	eng, _, err := h.registry.Resolve(p.String("engine"), false)
	if err != nil {
		return nil, err
	}

	options := make(map[string]any, len(p))
	for key, value := range p {
		switch key {
		case "engine", "voiceId", "voice", "force", "language":
			continue
		}
		options[key] = value
	}

	rel, err := h.previews.Ensure(ctx, voices.PreviewRequest{
		Engine:   eng.ID(),
		Voice:    voiceID,
		Language: language,
		Force:    p.Bool("force", false),
		Options:  options,
	})
	if err != nil {
		return nil, err
	}

	body := PreviewResponse{
		Engine:     eng.ID(),
		Voice:      voiceID,
		PreviewURL: storage.AudioURL(rel),
	}
	if language != "" {
		body.Language = &language
	}
	return &CreateVoicePreviewOutput{Body: body}, nil
}

// emptyCatalog is the stub payload for an engine that failed its
// availability probe.
func emptyCatalog(engineID string) voices.Catalog {
	return voices.Catalog{
		Engine:       engineID,
		Voices:       []voices.Voice{},
		AccentGroups: []voices.Group{},
		Groups:       []voices.Group{},
	}
}
