package openai_test

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/fwojciec/relay"
	"github.com/stretchr/testify/require"
)

// frame is one recorded SSE frame. Event is empty for chat-completions,
// which sends data-only frames.
type frame struct {
	Event string
	Data  string
}

// replay serves recorded frames and captures the request body.
type replay struct {
	frames []frame

	mu   sync.Mutex
	body []byte
	path string
}

func (r *replay) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.body = body
		r.path = req.URL.Path
		r.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		var b strings.Builder
		for _, f := range r.frames {
			if f.Event != "" {
				b.WriteString("event: " + f.Event + "\n")
			}
			b.WriteString("data: " + f.Data + "\n\n")
		}
		_, _ = w.Write([]byte(b.String()))
	})
}

func (r *replay) requestBody() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.body
}

func (r *replay) requestPath() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// serve starts an httptest server replaying frames and returns its base URL
// in the form the adapters expect.
func serve(t *testing.T, r *replay) string {
	t.Helper()
	srv := httptest.NewServer(r.handler())
	t.Cleanup(srv.Close)
	return srv.URL + "/v1"
}

// errorServer answers every request with status and an API error body.
func errorServer(t *testing.T, status int, code string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"nope","type":"invalid_request_error","param":null,"code":"` + code + `"}}`))
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/v1"
}

// collectEvents drains s, failing the test on any error.
func collectEvents(t *testing.T, s relay.Stream) []relay.StreamEvent {
	t.Helper()
	var events []relay.StreamEvent
	for {
		evt, err := s.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		require.NoError(t, err)
		events = append(events, evt)
	}
}

// drainError drains s and returns the terminal error.
func drainError(s relay.Stream) error {
	for {
		if _, err := s.Next(); err != nil {
			return err
		}
	}
}

func segmentEvents(events []relay.StreamEvent) []relay.StreamEventSegment {
	var segs []relay.StreamEventSegment
	for _, e := range events {
		if se, ok := e.(relay.StreamEventSegment); ok {
			segs = append(segs, se)
		}
	}
	return segs
}

func changes(segs []relay.StreamEventSegment) []relay.SegmentChange {
	out := make([]relay.SegmentChange, len(segs))
	for i, s := range segs {
		out[i] = s.Change
	}
	return out
}

func countDone(events []relay.StreamEvent) int {
	var n int
	for _, e := range events {
		if _, ok := e.(relay.StreamEventDone); ok {
			n++
		}
	}
	return n
}
