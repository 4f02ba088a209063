package proxy

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
)

// sseStream frames relayed lines as server-sent events. The preamble is
// written before the upstream connect, so once a stream starts the only
// failure mode is early termination, never a status change.
type sseStream struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// startSSE switches the response into event-stream mode and emits the
// liveness preamble.
func startSSE(w http.ResponseWriter) (*sseStream, error) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	s := &sseStream{w: w, rc: http.NewResponseController(w)}
	if err := s.emit(`{"status":"starting"}`); err != nil {
		return nil, err
	}
	return s, nil
}

// emit writes one SSE data frame and flushes it to the client.
func (s *sseStream) emit(line string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", line); err != nil {
		return err
	}
	return s.rc.Flush()
}

// relay copies upstream newline-delimited JSON onto the stream, one
// frame per non-empty line.
func (s *sseStream) relay(body io.Reader) error {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		if err := s.emit(line); err != nil {
			return err
		}
	}
	return sc.Err()
}
