package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestDocsPage(t *testing.T) {
	router := chi.NewRouter()
	NewDocsHandler("ttshub API", "/openapi.json").RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/docs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "<title>ttshub API</title>")
	assert.Contains(t, rec.Body.String(), `apiDescriptionUrl="/openapi.json"`)
}
