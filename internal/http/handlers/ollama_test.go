package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/ttshub/internal/config"
	"github.com/jmylchreest/ttshub/internal/proxy"
)

// newOllamaRouter wires the relay handler against a fake upstream.
func newOllamaRouter(upstream http.HandlerFunc) (chi.Router, *httptest.Server) {
	srv := httptest.NewServer(upstream)
	ollama := proxy.NewOllama(config.OllamaConfig{URL: srv.URL}, testLogger())
	router := chi.NewRouter()
	NewOllamaHandler(ollama, testLogger()).RegisterRoutes(router, "/api")
	return router, srv
}

func TestOllamaHandlerTags(t *testing.T) {
	router, srv := newOllamaRouter(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"models":[{"name":"phi3:latest"}]}`)
	})
	defer srv.Close()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ollama/tags", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"models":[{"name":"phi3:latest"}]}`, rec.Body.String())
}

func TestOllamaHandlerUpstreamDown(t *testing.T) {
	router, srv := newOllamaRouter(func(w http.ResponseWriter, r *http.Request) {})
	srv.Close()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ollama/tags", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "Ollama /tags failed")
	assert.Equal(t, http.StatusServiceUnavailable, body.Status)
}

func TestOllamaHandlerGenerate(t *testing.T) {
	t.Run("non-streaming returns the upstream document", func(t *testing.T) {
		var upstreamBody map[string]any
		router, srv := newOllamaRouter(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/generate", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&upstreamBody))
			io.WriteString(w, `{"response":"hello","done":true}`)
		})
		defer srv.Close()

		req := httptest.NewRequest(http.MethodPost, "/api/ollama/generate",
			strings.NewReader(`{"model":"phi3:latest","prompt":"hi"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"response":"hello","done":true}`, rec.Body.String())
		// The proxy pins stream=false for bounded JSON round trips.
		assert.Equal(t, false, upstreamBody["stream"])
	})

	t.Run("streaming relays SSE frames", func(t *testing.T) {
		router, srv := newOllamaRouter(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "{\"response\":\"he\"}\n{\"response\":\"llo\",\"done\":true}\n")
		})
		defer srv.Close()

		req := httptest.NewRequest(http.MethodPost, "/api/ollama/generate",
			strings.NewReader(`{"model":"phi3:latest","prompt":"hi","stream":true}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		body := rec.Body.String()
		assert.Contains(t, body, "data: {\"status\":\"starting\"}\n\n")
		assert.Contains(t, body, "data: {\"response\":\"he\"}\n\n")
		assert.Contains(t, body, "data: {\"response\":\"llo\",\"done\":true}\n\n")
	})

	t.Run("invalid JSON is a bad request", func(t *testing.T) {
		router, srv := newOllamaRouter(func(w http.ResponseWriter, r *http.Request) {
			t.Error("upstream must not be called")
		})
		defer srv.Close()

		req := httptest.NewRequest(http.MethodPost, "/api/ollama/generate", strings.NewReader("{nope"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Invalid JSON payload")
	})
}

func TestOllamaHandlerShow(t *testing.T) {
	t.Run("GET reads the model from the query", func(t *testing.T) {
		var upstreamBody map[string]any
		router, srv := newOllamaRouter(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/show", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&upstreamBody))
			io.WriteString(w, `{"license":"MIT"}`)
		})
		defer srv.Close()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ollama/show?model=phi3:latest", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "phi3:latest", upstreamBody["name"])
	})

	t.Run("POST reads the model from the body", func(t *testing.T) {
		var upstreamBody map[string]any
		router, srv := newOllamaRouter(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, json.NewDecoder(r.Body).Decode(&upstreamBody))
			io.WriteString(w, `{}`)
		})
		defer srv.Close()

		req := httptest.NewRequest(http.MethodPost, "/api/ollama/show", strings.NewReader(`{"name":"llama3"}`))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "llama3", upstreamBody["name"])
	})

	t.Run("missing model is a bad request", func(t *testing.T) {
		router, srv := newOllamaRouter(func(w http.ResponseWriter, r *http.Request) {
			t.Error("upstream must not be called")
		})
		defer srv.Close()

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ollama/show", nil))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "Provide ?model=name or body {model:name}")
	})
}

func TestOllamaHandlerDelete(t *testing.T) {
	var upstreamBody map[string]any
	router, srv := newOllamaRouter(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/delete", r.URL.Path)
		assert.Equal(t, http.MethodDelete, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&upstreamBody))
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/ollama/delete?name=phi3:latest", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"deleted"}`, rec.Body.String())
	assert.Equal(t, "phi3:latest", upstreamBody["name"])
}
