package handlers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/ttshub/internal/apperr"
	"github.com/jmylchreest/ttshub/internal/favorites"
)

func newFavoritesHandler(t *testing.T, apiKey string) *FavoritesHandler {
	t.Helper()
	store, err := favorites.NewStore(filepath.Join(t.TempDir(), "favorites.json"))
	require.NoError(t, err)
	return NewFavoritesHandler(store, apiKey, testLogger())
}

func createFavorite(t *testing.T, h *FavoritesHandler, body FavoriteBody) favorites.Profile {
	t.Helper()
	out, err := h.CreateFavorite(context.Background(), &CreateFavoriteInput{Body: body})
	require.NoError(t, err)
	return out.Body
}

func TestFavoritesAuthorization(t *testing.T) {
	t.Run("open when no key configured", func(t *testing.T) {
		h := newFavoritesHandler(t, "")
		_, err := h.ListFavorites(context.Background(), &ListFavoritesInput{})
		assert.NoError(t, err)
	})

	t.Run("rejects missing header", func(t *testing.T) {
		h := newFavoritesHandler(t, "sekrit")
		_, err := h.ListFavorites(context.Background(), &ListFavoritesInput{})
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
		assert.Equal(t, "Unauthorized", apperr.MessageOf(err))
	})

	t.Run("rejects wrong key", func(t *testing.T) {
		h := newFavoritesHandler(t, "sekrit")
		_, err := h.ListFavorites(context.Background(), &ListFavoritesInput{Authorization: "Bearer nope"})
		assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
	})

	t.Run("accepts bearer form", func(t *testing.T) {
		h := newFavoritesHandler(t, "sekrit")
		_, err := h.ListFavorites(context.Background(), &ListFavoritesInput{Authorization: "Bearer sekrit"})
		assert.NoError(t, err)
	})

	t.Run("accepts bare token", func(t *testing.T) {
		h := newFavoritesHandler(t, "sekrit")
		_, err := h.ListFavorites(context.Background(), &ListFavoritesInput{Authorization: "sekrit"})
		assert.NoError(t, err)
	})

	t.Run("guards every route", func(t *testing.T) {
		h := newFavoritesHandler(t, "sekrit")
		ctx := context.Background()

		_, err := h.CreateFavorite(ctx, &CreateFavoriteInput{Body: FavoriteBody{Label: "X", Engine: "kokoro", VoiceID: "af_bella"}})
		assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))

		_, err = h.GetFavorite(ctx, &FavoriteItemInput{ID: "fav_x"})
		assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))

		_, err = h.UpdateFavorite(ctx, &UpdateFavoriteInput{ID: "fav_x"})
		assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))

		_, err = h.DeleteFavorite(ctx, &FavoriteItemInput{ID: "fav_x"})
		assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))

		_, err = h.ExportFavorites(ctx, &ExportFavoritesInput{})
		assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))

		_, err = h.ImportFavorites(ctx, &ImportFavoritesInput{})
		assert.True(t, apperr.IsKind(err, apperr.KindUnauthorized))
	})
}

func TestCreateFavorite(t *testing.T) {
	t.Run("stores and returns the profile", func(t *testing.T) {
		h := newFavoritesHandler(t, "")
		speed := 1.2
		created := createFavorite(t, h, FavoriteBody{
			Label:   "Bella Narration",
			Engine:  "kokoro",
			VoiceID: "af_bella",
			Speed:   &speed,
			Tags:    []string{"narration"},
		})

		assert.NotEmpty(t, created.ID)
		assert.Equal(t, "bella-narration", created.Slug)
		assert.Equal(t, "kokoro", created.Engine)
		require.NotNil(t, created.Speed)
		assert.InDelta(t, 1.2, *created.Speed, 0.001)
	})

	t.Run("propagates validation errors", func(t *testing.T) {
		h := newFavoritesHandler(t, "")
		_, err := h.CreateFavorite(context.Background(), &CreateFavoriteInput{
			Body: FavoriteBody{Engine: "kokoro", VoiceID: "af_bella"},
		})
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindBadRequest))
		assert.Contains(t, apperr.MessageOf(err), "label")
	})
}

func TestListFavorites(t *testing.T) {
	h := newFavoritesHandler(t, "")
	createFavorite(t, h, FavoriteBody{Label: "Bella", Engine: "kokoro", VoiceID: "af_bella", Tags: []string{"calm"}})
	createFavorite(t, h, FavoriteBody{Label: "Clone", Engine: "xtts", VoiceID: "custom:alice"})

	t.Run("returns everything with count", func(t *testing.T) {
		out, err := h.ListFavorites(context.Background(), &ListFavoritesInput{})
		require.NoError(t, err)
		assert.Equal(t, 2, out.Body.Count)
		assert.Len(t, out.Body.Profiles, 2)
	})

	t.Run("filters by engine", func(t *testing.T) {
		out, err := h.ListFavorites(context.Background(), &ListFavoritesInput{Engine: "xtts"})
		require.NoError(t, err)
		require.Equal(t, 1, out.Body.Count)
		assert.Equal(t, "Clone", out.Body.Profiles[0].Label)
	})

	t.Run("filters by tag", func(t *testing.T) {
		out, err := h.ListFavorites(context.Background(), &ListFavoritesInput{Tag: "calm"})
		require.NoError(t, err)
		require.Equal(t, 1, out.Body.Count)
		assert.Equal(t, "Bella", out.Body.Profiles[0].Label)
	})
}

func TestGetFavorite(t *testing.T) {
	h := newFavoritesHandler(t, "")
	created := createFavorite(t, h, FavoriteBody{Label: "Bella", Engine: "kokoro", VoiceID: "af_bella"})

	t.Run("returns the profile", func(t *testing.T) {
		out, err := h.GetFavorite(context.Background(), &FavoriteItemInput{ID: created.ID})
		require.NoError(t, err)
		assert.Equal(t, created.ID, out.Body.ID)
		assert.Equal(t, "Bella", out.Body.Label)
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		_, err := h.GetFavorite(context.Background(), &FavoriteItemInput{ID: "fav_missing"})
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
		assert.Equal(t, "Not found", apperr.MessageOf(err))
	})
}

func TestUpdateFavorite(t *testing.T) {
	h := newFavoritesHandler(t, "")
	created := createFavorite(t, h, FavoriteBody{Label: "Bella", Engine: "kokoro", VoiceID: "af_bella"})

	t.Run("applies the patch", func(t *testing.T) {
		label := "Bella Slow"
		speed := 0.8
		out, err := h.UpdateFavorite(context.Background(), &UpdateFavoriteInput{
			ID:   created.ID,
			Body: favorites.Patch{Label: &label, Speed: &speed},
		})
		require.NoError(t, err)
		assert.Equal(t, "Bella Slow", out.Body.Label)
		require.NotNil(t, out.Body.Speed)
		assert.InDelta(t, 0.8, *out.Body.Speed, 0.001)
	})

	t.Run("unknown id is not found", func(t *testing.T) {
		_, err := h.UpdateFavorite(context.Background(), &UpdateFavoriteInput{ID: "fav_missing"})
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
	})
}

func TestDeleteFavorite(t *testing.T) {
	h := newFavoritesHandler(t, "")
	created := createFavorite(t, h, FavoriteBody{Label: "Bella", Engine: "kokoro", VoiceID: "af_bella"})

	out, err := h.DeleteFavorite(context.Background(), &FavoriteItemInput{ID: created.ID})
	require.NoError(t, err)
	assert.True(t, out.Body.OK)

	_, err = h.DeleteFavorite(context.Background(), &FavoriteItemInput{ID: created.ID})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestExportImportFavorites(t *testing.T) {
	t.Run("export carries the schema version", func(t *testing.T) {
		h := newFavoritesHandler(t, "")
		createFavorite(t, h, FavoriteBody{Label: "Bella", Engine: "kokoro", VoiceID: "af_bella"})

		out, err := h.ExportFavorites(context.Background(), &ExportFavoritesInput{})
		require.NoError(t, err)
		assert.Equal(t, favorites.SchemaVersion, out.Body.SchemaVersion)
		assert.Len(t, out.Body.Profiles, 1)
	})

	t.Run("merge keeps existing profiles", func(t *testing.T) {
		h := newFavoritesHandler(t, "")
		createFavorite(t, h, FavoriteBody{Label: "Bella", Engine: "kokoro", VoiceID: "af_bella"})

		out, err := h.ImportFavorites(context.Background(), &ImportFavoritesInput{
			Body: ImportFavoritesBody{
				Mode: "merge",
				Profiles: []FavoriteBody{
					{Label: "Clone", Engine: "xtts", VoiceID: "custom:alice"},
				},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, out.Body.Imported)
		assert.Equal(t, "merge", out.Body.Mode)

		list, err := h.ListFavorites(context.Background(), &ListFavoritesInput{})
		require.NoError(t, err)
		assert.Equal(t, 2, list.Body.Count)
	})

	t.Run("replace discards existing profiles", func(t *testing.T) {
		h := newFavoritesHandler(t, "")
		createFavorite(t, h, FavoriteBody{Label: "Bella", Engine: "kokoro", VoiceID: "af_bella"})

		out, err := h.ImportFavorites(context.Background(), &ImportFavoritesInput{
			Body: ImportFavoritesBody{
				Mode: "REPLACE",
				Profiles: []FavoriteBody{
					{Label: "Clone", Engine: "xtts", VoiceID: "custom:alice"},
				},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, out.Body.Imported)
		assert.Equal(t, "replace", out.Body.Mode)

		list, err := h.ListFavorites(context.Background(), &ListFavoritesInput{})
		require.NoError(t, err)
		require.Equal(t, 1, list.Body.Count)
		assert.Equal(t, "Clone", list.Body.Profiles[0].Label)
	})

	t.Run("unknown mode falls back to merge", func(t *testing.T) {
		h := newFavoritesHandler(t, "")
		createFavorite(t, h, FavoriteBody{Label: "Bella", Engine: "kokoro", VoiceID: "af_bella"})

		out, err := h.ImportFavorites(context.Background(), &ImportFavoritesInput{
			Body: ImportFavoritesBody{
				Mode:     "weird",
				Profiles: []FavoriteBody{{Label: "Clone", Engine: "xtts", VoiceID: "custom:alice"}},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "merge", out.Body.Mode)

		list, err := h.ListFavorites(context.Background(), &ListFavoritesInput{})
		require.NoError(t, err)
		assert.Equal(t, 2, list.Body.Count)
	})
}
