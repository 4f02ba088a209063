package ingest

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"
)

// VideoID derives a stable cache id from a media URL. YouTube forms
// yield the 11-character video id; anything else hashes the whole URL so
// distinct sources never collide.
func VideoID(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err == nil && u.Host != "" {
		if id := youtubeID(u); id != "" {
			return sanitizeID(id)
		}
	}

	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}

// youtubeID recognizes the common YouTube URL shapes.
func youtubeID(u *url.URL) string {
	host := strings.ToLower(strings.TrimPrefix(u.Host, "www."))

	switch host {
	case "youtu.be":
		// https://youtu.be/<id>
		return strings.Trim(u.Path, "/")
	case "youtube.com", "m.youtube.com", "music.youtube.com":
		if id := u.Query().Get("v"); id != "" {
			return id
		}
		// /shorts/<id>, /embed/<id>, /live/<id>
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 {
			switch parts[0] {
			case "shorts", "embed", "live", "v":
				return parts[1]
			}
		}
	}
	return ""
}

// sanitizeID keeps filename-safe characters so the id can name files.
func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}
