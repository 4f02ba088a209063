package handlers

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/proxy"
	"github.com/jmylchreest/ttshub/internal/storage"
)

func newDrawThingsRouter(t *testing.T, upstream http.HandlerFunc) chi.Router {
	t.Helper()
	layout, err := storage.NewLayout(t.TempDir())
	require.NoError(t, err)
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	dt := proxy.NewDrawThings(config.DrawThingsConfig{URL: srv.URL}, layout, testLogger())
	h := NewDrawThingsHandler(dt, testLogger())
	router := chi.NewRouter()
	h.RegisterRoutes(router, "/api")
	return router
}

func encodedPNG(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestDrawThingsHandlerModels(t *testing.T) {
	router := newDrawThingsRouter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sdapi/v1/sd-models", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"title":"flux_schnell"}]`))
	})

	req := httptest.NewRequest(http.MethodGet, "/api/drawthings/models", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[{"title":"flux_schnell"}]`, rec.Body.String())
}

func TestDrawThingsHandlerTxt2Img(t *testing.T) {
	generation := fmt.Sprintf(`{"images":[%q],"info":"{\"seed\": 7}"}`, encodedPNG(t, 64, 48))
	router := newDrawThingsRouter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sdapi/v1/txt2img", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(generation))
	})

	t.Run("invalid JSON is a bad request", func(t *testing.T) {
		rec := postJSON(t, router, "/api/drawthings/txt2img", "{nope")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid JSON payload")
	})

	t.Run("rewrites images to persisted URLs", func(t *testing.T) {
		rec := postJSON(t, router, "/api/drawthings/txt2img", `{"prompt":"a lighthouse"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "/image/drawthings/")
		assert.NotContains(t, rec.Body.String(), "iVBOR") // no inline base64
	})
}

func TestTelegramDrawRoute(t *testing.T) {
	generation := fmt.Sprintf(`{"images":[%q],"info":{"seed":9}}`, encodedPNG(t, 640, 480))
	router := newDrawThingsRouter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(generation))
	})

	t.Run("requires a prompt", func(t *testing.T) {
		rec := postJSON(t, router, "/api/telegram/draw", `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Field 'prompt' is required.")
	})

	t.Run("width must be an integer", func(t *testing.T) {
		rec := postJSON(t, router, "/api/telegram/draw", `{"prompt":"a fox","width":"wide"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Field 'width' must be an integer.")
	})

	t.Run("returns PNG bytes with metadata headers", func(t *testing.T) {
		rec := postJSON(t, router, "/api/telegram/draw", `{"prompt":"a fox","width":640,"height":480}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
		assert.Equal(t, "9", rec.Header().Get("X-Seed"))
		assert.Equal(t, "640", rec.Header().Get("X-Width"))
		assert.Equal(t, "480", rec.Header().Get("X-Height"))

		img, err := png.Decode(bytes.NewReader(rec.Body.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, 640, img.Bounds().Dx())
		assert.Equal(t, 480, img.Bounds().Dy())
	})
}
