package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/favorites"
)

// FavoritesHandler manages stored synthesis profiles. All routes honor
// the optional bearer key; with no key configured they are open, which
// is the expected state for a single-user LAN deployment.
type FavoritesHandler struct {
	store  *favorites.Store
	apiKey string
	logger *slog.Logger
}

// NewFavoritesHandler creates a new favorites handler.
func NewFavoritesHandler(store *favorites.Store, apiKey string, logger *slog.Logger) *FavoritesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FavoritesHandler{store: store, apiKey: apiKey, logger: logger}
}

// Register registers the favorites routes with the API.
func (h *FavoritesHandler) Register(api huma.API, prefix string) {
	huma.Register(api, huma.Operation{
		OperationID: "listFavorites",
		Method:      http.MethodGet,
		Path:        prefix + "/favorites",
		Summary:     "List favorites",
		Description: "Stored profiles, optionally filtered by engine or tag",
		Tags:        []string{"Favorites"},
	}, h.ListFavorites)

	huma.Register(api, huma.Operation{
		OperationID: "createFavorite",
		Method:      http.MethodPost,
		Path:        prefix + "/favorites",
		Summary:     "Create a favorite",
		Tags:        []string{"Favorites"},
	}, h.CreateFavorite)

	huma.Register(api, huma.Operation{
		OperationID: "getFavorite",
		Method:      http.MethodGet,
		Path:        prefix + "/favorites/{id}",
		Summary:     "Get a favorite",
		Tags:        []string{"Favorites"},
	}, h.GetFavorite)

	huma.Register(api, huma.Operation{
		OperationID: "updateFavorite",
		Method:      http.MethodPatch,
		Path:        prefix + "/favorites/{id}",
		Summary:     "Update a favorite",
		Tags:        []string{"Favorites"},
	}, h.UpdateFavorite)

	huma.Register(api, huma.Operation{
		OperationID: "deleteFavorite",
		Method:      http.MethodDelete,
		Path:        prefix + "/favorites/{id}",
		Summary:     "Delete a favorite",
		Tags:        []string{"Favorites"},
	}, h.DeleteFavorite)

	huma.Register(api, huma.Operation{
		OperationID: "exportFavorites",
		Method:      http.MethodGet,
		Path:        prefix + "/favorites/export",
		Summary:     "Export favorites",
		Description: "The full favorites document for backup or transfer",
		Tags:        []string{"Favorites"},
	}, h.ExportFavorites)

	huma.Register(api, huma.Operation{
		OperationID: "importFavorites",
		Method:      http.MethodPost,
		Path:        prefix + "/favorites/import",
		Summary:     "Import favorites",
		Description: "Merge or replace the stored profiles with an exported document",
		Tags:        []string{"Favorites"},
	}, h.ImportFavorites)
}

// authorize enforces the optional bearer key. The token is the last
// whitespace-separated part of the header, so both "Bearer k" and a
// bare "k" work.
func (h *FavoritesHandler) authorize(header string) error {
	if h.apiKey == "" {
		return nil
	}
	token := ""
	if fields := strings.Fields(header); len(fields) > 0 {
		token = fields[len(fields)-1]
	}
	if token != h.apiKey {
		return apperr.Unauthorized("Unauthorized")
	}
	return nil
}

// ListFavoritesInput filters the profile listing.
type ListFavoritesInput struct {
	Authorization string `header:"Authorization"`
	Engine        string `query:"engine"`
	Tag           string `query:"tag"`
}

// FavoritesListResponse is the profile listing.
type FavoritesListResponse struct {
	Profiles []favorites.Profile `json:"profiles"`
	Count    int                 `json:"count"`
}

// ListFavoritesOutput is the profile listing payload.
type ListFavoritesOutput struct {
	Body FavoritesListResponse
}

// ListFavorites returns stored profiles, newest first.
func (h *FavoritesHandler) ListFavorites(ctx context.Context, input *ListFavoritesInput) (*ListFavoritesOutput, error) {
	if err := h.authorize(input.Authorization); err != nil {
		return nil, err
	}
	profiles := h.store.List(input.Engine, input.Tag)
	return &ListFavoritesOutput{Body: FavoritesListResponse{Profiles: profiles, Count: len(profiles)}}, nil
}

// FavoriteBody is an incoming profile. Every field is optional at the
// schema level; the store enforces which ones a create actually needs.
type FavoriteBody struct {
	ID          string         `json:"id,omitempty"`
	Label       string         `json:"label,omitempty"`
	Engine      string         `json:"engine,omitempty"`
	VoiceID     string         `json:"voiceId,omitempty"`
	Slug        string         `json:"slug,omitempty"`
	Language    string         `json:"language,omitempty"`
	Speed       *float64       `json:"speed,omitempty"`
	TrimSilence *bool          `json:"trimSilence,omitempty"`
	Style       string         `json:"style,omitempty"`
	Seed        *int64         `json:"seed,omitempty"`
	ServerURL   string         `json:"serverUrl,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Meta        map[string]any `json:"meta,omitempty"`
}

func (b FavoriteBody) profile() favorites.Profile {
	return favorites.Profile{
		ID:          b.ID,
		Label:       b.Label,
		Engine:      b.Engine,
		VoiceID:     b.VoiceID,
		Slug:        b.Slug,
		Language:    b.Language,
		Speed:       b.Speed,
		TrimSilence: b.TrimSilence,
		Style:       b.Style,
		Seed:        b.Seed,
		ServerURL:   b.ServerURL,
		Tags:        b.Tags,
		Meta:        b.Meta,
	}
}

// CreateFavoriteInput carries the profile to store.
type CreateFavoriteInput struct {
	Authorization string `header:"Authorization"`
	Body          FavoriteBody
}

// FavoriteOutput is a single profile payload.
type FavoriteOutput struct {
	Body favorites.Profile
}

// CreateFavorite stores a new profile.
func (h *FavoritesHandler) CreateFavorite(ctx context.Context, input *CreateFavoriteInput) (*FavoriteOutput, error) {
	if err := h.authorize(input.Authorization); err != nil {
		return nil, err
	}
	created, err := h.store.Create(input.Body.profile())
	if err != nil {
		return nil, err
	}
	return &FavoriteOutput{Body: *created}, nil
}

// FavoriteItemInput addresses one profile.
type FavoriteItemInput struct {
	Authorization string `header:"Authorization"`
	ID            string `path:"id"`
}

// GetFavorite returns one profile.
func (h *FavoritesHandler) GetFavorite(ctx context.Context, input *FavoriteItemInput) (*FavoriteOutput, error) {
	if err := h.authorize(input.Authorization); err != nil {
		return nil, err
	}
	profile := h.store.Get(input.ID)
	if profile == nil {
		return nil, apperr.NotFound("Not found")
	}
	return &FavoriteOutput{Body: *profile}, nil
}

// UpdateFavoriteInput carries the fields to change.
type UpdateFavoriteInput struct {
	Authorization string `header:"Authorization"`
	ID            string `path:"id"`
	Body          favorites.Patch
}

// UpdateFavorite applies a partial update to one profile.
func (h *FavoritesHandler) UpdateFavorite(ctx context.Context, input *UpdateFavoriteInput) (*FavoriteOutput, error) {
	if err := h.authorize(input.Authorization); err != nil {
		return nil, err
	}
	updated, err := h.store.Update(input.ID, input.Body)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, apperr.NotFound("Not found")
	}
	return &FavoriteOutput{Body: *updated}, nil
}

// DeletedResponse acknowledges a removal.
type DeletedResponse struct {
	OK bool `json:"ok"`
}

// DeleteFavoriteOutput is the removal acknowledgement.
type DeleteFavoriteOutput struct {
	Body DeletedResponse
}

// DeleteFavorite removes one profile.
func (h *FavoritesHandler) DeleteFavorite(ctx context.Context, input *FavoriteItemInput) (*DeleteFavoriteOutput, error) {
	if err := h.authorize(input.Authorization); err != nil {
		return nil, err
	}
	ok, err := h.store.Delete(input.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.NotFound("Not found")
	}
	return &DeleteFavoriteOutput{Body: DeletedResponse{OK: true}}, nil
}

// ExportFavoritesInput is the input for the export.
type ExportFavoritesInput struct {
	Authorization string `header:"Authorization"`
}

// ExportFavoritesOutput is the full document payload.
type ExportFavoritesOutput struct {
	Body favorites.Document
}

// ExportFavorites returns the full favorites document.
func (h *FavoritesHandler) ExportFavorites(ctx context.Context, input *ExportFavoritesInput) (*ExportFavoritesOutput, error) {
	if err := h.authorize(input.Authorization); err != nil {
		return nil, err
	}
	return &ExportFavoritesOutput{Body: h.store.Export()}, nil
}

// ImportFavoritesBody is an exported document plus the import mode.
type ImportFavoritesBody struct {
	Mode     string         `json:"mode,omitempty"`
	Profiles []FavoriteBody `json:"profiles,omitempty"`
}

// ImportFavoritesInput carries the document to import.
type ImportFavoritesInput struct {
	Authorization string `header:"Authorization"`
	Body          ImportFavoritesBody
}

// ImportedResponse reports how many profiles were taken.
type ImportedResponse struct {
	Imported int    `json:"imported"`
	Mode     string `json:"mode"`
}

// ImportFavoritesOutput is the import summary payload.
type ImportFavoritesOutput struct {
	Body ImportedResponse
}

// ImportFavorites merges or replaces the stored profiles. Unknown modes
// fall back to merge.
func (h *FavoritesHandler) ImportFavorites(ctx context.Context, input *ImportFavoritesInput) (*ImportFavoritesOutput, error) {
	if err := h.authorize(input.Authorization); err != nil {
		return nil, err
	}
	mode := favorites.ImportMerge
	if strings.ToLower(input.Body.Mode) == string(favorites.ImportReplace) {
		mode = favorites.ImportReplace
	}
	incoming := make([]favorites.Profile, 0, len(input.Body.Profiles))
	for _, b := range input.Body.Profiles {
		incoming = append(incoming, b.profile())
	}
	count, err := h.store.Import(incoming, mode)
	if err != nil {
		return nil, err
	}
	return &ImportFavoritesOutput{Body: ImportedResponse{Imported: count, Mode: string(mode)}}, nil
}
