// Package memory provides an in-memory document store for local
// development and tests.
package memory

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/fetchpipe/fetchpipe/internal/pipeline"
)

// Store implements pipeline.Store with maps guarded by one mutex, which
// also serializes concurrent upserts to the same key.
type Store struct {
	mu           sync.RWMutex
	docs         map[string]pipeline.StoredDocument
	fingerprints map[string]string
	clock        pipeline.Clock
}

// New constructs an empty Store.
func New(clock pipeline.Clock) *Store {
	return &Store{
		docs:         make(map[string]pipeline.StoredDocument),
		fingerprints: make(map[string]string),
		clock:        clock,
	}
}

// Upsert stores rec under its key. Re-processing the same source never
// creates a duplicate entity; a stale record (older ExtractedAt) or an
// identical one leaves the stored entity untouched.
func (s *Store) Upsert(_ context.Context, rec pipeline.Record) (pipeline.UpsertStatus, error) {
	if rec.Key == "" {
		return "", &pipeline.PersistenceError{Kind: pipeline.PersistenceConflict, Err: fmt.Errorf("record key is required")}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.docs[rec.Key]
	if ok {
		if rec.ExtractedAt.Before(existing.ExtractedAt) {
			return pipeline.UpsertUnchanged, nil
		}
		if existing.Fingerprint == rec.Fingerprint && reflect.DeepEqual(existing.Fields, rec.Fields) {
			return pipeline.UpsertUnchanged, nil
		}
	}

	s.docs[rec.Key] = pipeline.StoredDocument{
		Key:         rec.Key,
		SourceID:    rec.SourceID,
		Fields:      rec.Fields,
		Fingerprint: rec.Fingerprint,
		ExtractedAt: rec.ExtractedAt,
		UpdatedAt:   s.clock.Now(),
	}
	if ok {
		return pipeline.UpsertUpdated, nil
	}
	return pipeline.UpsertInserted, nil
}

// Get returns the stored document for key.
func (s *Store) Get(_ context.Context, key string) (pipeline.StoredDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key]
	if !ok {
		return pipeline.StoredDocument{}, fmt.Errorf("document %q not found", key)
	}
	return doc, nil
}

// LastFingerprint returns the last recorded fingerprint for sourceID, or ""
// when the source has never been seen.
func (s *Store) LastFingerprint(_ context.Context, sourceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fingerprints[sourceID], nil
}

// SetFingerprint records the fingerprint for sourceID.
func (s *Store) SetFingerprint(_ context.Context, sourceID string, fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingerprints[sourceID] = fingerprint
	return nil
}

// Len reports how many documents are stored.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() {}
