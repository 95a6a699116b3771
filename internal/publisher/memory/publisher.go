// Package memory contains an in-process outcome publisher, used as the
// default driver and by tests to assert on published outcomes.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/fetchpipe/fetchpipe/internal/pipeline"
)

// Publisher records task outcomes per topic for later inspection.
type Publisher struct {
	mu       sync.RWMutex
	outcomes []PublishedOutcome
}

// PublishedOutcome captures one publish call. The pipeline only ever
// publishes outcomes, so payloads are typed rather than opaque.
type PublishedOutcome struct {
	Topic   string
	Outcome pipeline.Outcome
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the outcome and returns a pseudo ID derived from the
// task. Payloads other than pipeline.Outcome are rejected.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	outcome, ok := payload.(pipeline.Outcome)
	if !ok {
		return "", fmt.Errorf("memory publisher: unsupported payload type %T", payload)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, PublishedOutcome{Topic: topic, Outcome: outcome})
	return fmt.Sprintf("mem-%s-%d", outcome.TaskID, len(p.outcomes)), nil
}

// Outcomes returns the recorded publishes.
func (p *Publisher) Outcomes() []PublishedOutcome {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedOutcome, len(p.outcomes))
	copy(out, p.outcomes)
	return out
}
