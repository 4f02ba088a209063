package middleware

import (
	"net/http"
	"net/url"
	"strings"
)

// legacySegments are the first path segments that historically answered
// without the API prefix. The original frontend and assorted shell
// scripts still call these bare paths.
var legacySegments = map[string]bool{
	"meta":           true,
	"voices":         true,
	"voices_grouped": true,
	"voices_catalog": true,
	"synthesise":     true,
	"synthesize":     true,
	"audition":       true,
	"xtts":           true,
	"chattts":        true,
	"random_text":    true,
	"ollama_models":  true,
	"ollama":         true,
	"drawthings":     true,
	"telegram":       true,
	"media":          true,
	"favorites":      true,
	"clips":          true,
}

// LegacyAPIRewrite maps unprefixed legacy paths onto their canonical
// prefixed form before routing, so every operation registers once and
// the OpenAPI document only shows canonical paths. Requests already
// under the prefix pass through untouched.
func LegacyAPIRewrite(prefix string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if prefix == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seg := firstSegment(r.URL.Path)
			if legacySegments[seg] {
				r2 := new(http.Request)
				*r2 = *r
				r2.URL = new(url.URL)
				*r2.URL = *r.URL
				r2.URL.Path = prefix + r.URL.Path
				if r.URL.RawPath != "" {
					r2.URL.RawPath = prefix + r.URL.RawPath
				}
				next.ServeHTTP(w, r2)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// firstSegment returns the first path segment without slashes.
func firstSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return path
}
