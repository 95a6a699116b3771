package headless

import (
	"context"
	"errors"

	"github.com/fetchpipe/fetchpipe/internal/pipeline"
)

// Noop implements pipeline.Transport but always returns an error to indicate
// that headless rendering is not available in the current build.
type Noop struct{}

// NewNoop creates a new Noop transport.
func NewNoop() *Noop {
	return &Noop{}
}

// Fetch returns an error since this is a stub implementation.
func (Noop) Fetch(_ context.Context, _ string, _ string) (pipeline.FetchResult, error) {
	return pipeline.FetchResult{}, errors.New("headless transport not configured")
}
