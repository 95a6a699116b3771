// Package pipeline defines core types shared across subsystems.
package pipeline

import (
	"net/http"
	"time"
)

// TaskState represents the lifecycle state of a fetch task.
type TaskState string

// Task states traversed by the coordinator.
const (
	TaskStatePending       TaskState = "pending"
	TaskStateFetching      TaskState = "fetching"
	TaskStateDeduplicating TaskState = "deduplicating"
	TaskStateExtracting    TaskState = "extracting"
	TaskStatePersisting    TaskState = "persisting"
	TaskStateDone          TaskState = "done"
	TaskStateFailed        TaskState = "failed"
)

// FetchTask describes one unit of work: fetch a URL and extract records
// from the response. Attempt is mutated by the governor on each retry.
type FetchTask struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Profile     string    `json:"profile,omitempty"`
	RuleSet     string    `json:"ruleset"`
	Priority    int       `json:"priority,omitempty"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	Submitted   time.Time `json:"submitted_at"`
}

// FetchResult is the outcome of a single fetch. It is immutable once
// produced by a transport.
type FetchResult struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Elapsed    time.Duration
	Profile    string
	Replayed   bool
}

// Record is one structured document extracted from a response body.
type Record struct {
	// SourceID is the logical identity of the document, usually its
	// canonical URL. The persistence key derives from it.
	SourceID string `json:"source_id"`
	// Key is the deterministic persistence key. Same key means same
	// logical document, never distinct entities.
	Key         string         `json:"key"`
	Fields      map[string]any `json:"fields"`
	Fingerprint string         `json:"fingerprint"`
	ExtractedAt time.Time      `json:"extracted_at"`
}

// UpsertStatus reports what an upsert did to the stored entity.
type UpsertStatus string

// Upsert results returned by a Store.
const (
	UpsertInserted  UpsertStatus = "inserted"
	UpsertUpdated   UpsertStatus = "updated"
	UpsertUnchanged UpsertStatus = "unchanged"
)

// DedupStatus is the deduplicator's verdict for a response body.
type DedupStatus string

// Dedup verdicts.
const (
	DedupNew       DedupStatus = "new"
	DedupUnchanged DedupStatus = "unchanged"
)

// Outcome is the single terminal event emitted per task to the external
// orchestrator.
type Outcome struct {
	TaskID    string    `json:"task_id"`
	URL       string    `json:"url"`
	State     TaskState `json:"state"`
	ErrorKind string    `json:"error_kind,omitempty"`
	ErrorText string    `json:"error_text,omitempty"`
	Attempts  int       `json:"attempts"`
	Records   int       `json:"records"`
	Errors    int       `json:"record_errors,omitempty"`
	Unchanged bool      `json:"unchanged,omitempty"`
	TS        time.Time `json:"ts"`
}

// StoredDocument is the document store schema: key, fields, fingerprint
// and update time.
type StoredDocument struct {
	Key         string         `json:"key"`
	SourceID    string         `json:"source_id"`
	Fields      map[string]any `json:"fields"`
	Fingerprint string         `json:"fingerprint"`
	ExtractedAt time.Time      `json:"extracted_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}
