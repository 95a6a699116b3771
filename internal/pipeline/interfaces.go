package pipeline

import (
	"context"
	"iter"
	"time"
)

// Transport issues a single HTTP request under the named identity profile.
// It never retries and never caches; ordinary network failure comes back as
// a classified *TransportError, not a panic.
type Transport interface {
	Fetch(ctx context.Context, url string, profile string) (FetchResult, error)
}

// Governor wraps a Transport with per-host budgets, backoff and retries.
type Governor interface {
	Submit(ctx context.Context, task *FetchTask) (FetchResult, error)
}

// Deduplicator decides whether a body has already been processed for a
// source identity. It is advisory: a false "new" causes redundant work,
// never data loss.
type Deduplicator interface {
	Check(ctx context.Context, sourceID string, body []byte) (DedupStatus, string, error)
}

// Extractor maps raw document bytes to structured records. The returned
// sequence is lazy, finite and single-pass; per-record failures are yielded
// as errors without aborting sibling records.
type Extractor interface {
	Extract(body []byte, ruleset string, sourceID string) (iter.Seq2[Record, error], error)
}

// Store is the document store adapter. Upserts are idempotent on Record.Key
// and serialized per key; conflicting fields resolve last-committed-wins by
// ExtractedAt.
type Store interface {
	Upsert(ctx context.Context, rec Record) (UpsertStatus, error)
	Get(ctx context.Context, key string) (StoredDocument, error)
	LastFingerprint(ctx context.Context, sourceID string) (string, error)
	SetFingerprint(ctx context.Context, sourceID string, fingerprint string) error
	Close()
}

// Archive writes raw artifacts (response bodies) and returns a URI.
type Archive interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes terminal outcome events to the external orchestrator.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for fetch tasks.
type Queue interface {
	Enqueue(ctx context.Context, task FetchTask) error
	Dequeue(ctx context.Context) (FetchTask, error)
}

// Hasher computes digests for fingerprints and persistence keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
