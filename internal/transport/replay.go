package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/fetchpipe/fetchpipe/internal/pipeline"
)

// ErrNoCapture is returned when a replay source holds no flow for a URL.
var ErrNoCapture = errors.New("no captured flow for url")

// Capture is one exchange recorded by an external intercepting proxy.
// Flow dumps are JSON arrays of these objects.
type Capture struct {
	URL        string              `json:"url"`
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers,omitempty"`
	Body       string              `json:"body"`
}

// ReplaySource serves previously captured traffic as FetchResults, standing
// in for the network transport during replay and analysis runs.
type ReplaySource struct {
	mu    sync.RWMutex
	byURL map[string]Capture
}

// NewReplaySource builds a source from in-memory captures.
func NewReplaySource(captures ...Capture) *ReplaySource {
	s := &ReplaySource{byURL: make(map[string]Capture, len(captures))}
	for _, c := range captures {
		s.byURL[c.URL] = c
	}
	return s
}

// LoadReplayFile reads a JSON flow dump from disk.
func LoadReplayFile(path string) (*ReplaySource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replay file: %w", err)
	}
	var captures []Capture
	if err := json.Unmarshal(data, &captures); err != nil {
		return nil, fmt.Errorf("decode replay file: %w", err)
	}
	return NewReplaySource(captures...), nil
}

// Add registers or replaces the capture for its URL.
func (s *ReplaySource) Add(c Capture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byURL[c.URL] = c
}

// Fetch returns the captured exchange for url. The identity profile is
// ignored: replayed traffic already carries whatever fingerprint the
// original client presented.
func (s *ReplaySource) Fetch(_ context.Context, url string, _ string) (pipeline.FetchResult, error) {
	s.mu.RLock()
	c, ok := s.byURL[url]
	s.mu.RUnlock()
	if !ok {
		return pipeline.FetchResult{}, fmt.Errorf("%w: %s", ErrNoCapture, url)
	}

	result := pipeline.FetchResult{
		URL:        c.URL,
		StatusCode: c.StatusCode,
		Headers:    http.Header(c.Headers).Clone(),
		Body:       []byte(c.Body),
		Replayed:   true,
	}
	if result.Headers == nil {
		result.Headers = http.Header{}
	}
	if c.StatusCode >= 400 {
		return result, pipeline.NewHTTPError(c.StatusCode)
	}
	return result, nil
}
