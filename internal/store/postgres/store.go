// Package postgres provides the Postgres-backed document store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fetchpipe/fetchpipe/internal/pipeline"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for documents.
type Config struct {
	DSN               string
	DocumentsTable    string
	FingerprintsTable string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
}

type querierCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store persists extracted documents and source fingerprints in Postgres.
// Upserts are idempotent on the document key and a stale or identical
// record never disturbs the stored row.
type Store struct {
	pool         querierCloser
	documents    string
	fingerprints string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewWithPool(pool, cfg.DocumentsTable, cfg.FingerprintsTable)
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querierCloser, documentsTable, fingerprintsTable string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if documentsTable == "" {
		documentsTable = "documents"
	}
	if fingerprintsTable == "" {
		fingerprintsTable = "fingerprints"
	}
	for _, table := range []string{documentsTable, fingerprintsTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Store{
		pool:         pool,
		documents:    documentsTable,
		fingerprints: fingerprintsTable,
	}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Upsert inserts or updates the row keyed by rec.Key. The update only
// applies when the incoming record is at least as fresh as the stored one
// and actually differs; otherwise the row is left alone and the call
// reports unchanged.
func (s *Store) Upsert(ctx context.Context, rec pipeline.Record) (pipeline.UpsertStatus, error) {
	if s == nil || s.pool == nil {
		return "", &pipeline.PersistenceError{Kind: pipeline.PersistenceUnavailable, Err: fmt.Errorf("store is not configured")}
	}
	if rec.Key == "" {
		return "", &pipeline.PersistenceError{Kind: pipeline.PersistenceConflict, Err: fmt.Errorf("record key is required")}
	}
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return "", &pipeline.PersistenceError{Kind: pipeline.PersistenceConflict, Err: fmt.Errorf("marshal fields: %w", err)}
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	key,
	source_id,
	fields,
	fingerprint,
	extracted_at,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,now()
)
ON CONFLICT (key) DO UPDATE SET
	source_id = EXCLUDED.source_id,
	fields = EXCLUDED.fields,
	fingerprint = EXCLUDED.fingerprint,
	extracted_at = EXCLUDED.extracted_at,
	updated_at = now()
WHERE EXCLUDED.extracted_at >= %s.extracted_at
	AND (%s.fingerprint IS DISTINCT FROM EXCLUDED.fingerprint
		OR %s.fields IS DISTINCT FROM EXCLUDED.fields)
RETURNING (xmax = 0) AS inserted`, s.documents, s.documents, s.documents, s.documents)

	var inserted bool
	err = s.pool.QueryRow(ctx, query, rec.Key, rec.SourceID, fieldsJSON, rec.Fingerprint, rec.ExtractedAt).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		// The conditional update declined the write: the row already
		// holds an equal or fresher version.
		return pipeline.UpsertUnchanged, nil
	}
	if err != nil {
		return "", &pipeline.PersistenceError{Kind: pipeline.PersistenceUnavailable, Err: fmt.Errorf("upsert document: %w", err)}
	}
	if inserted {
		return pipeline.UpsertInserted, nil
	}
	return pipeline.UpsertUpdated, nil
}

// Get returns the stored document for key.
func (s *Store) Get(ctx context.Context, key string) (pipeline.StoredDocument, error) {
	if s == nil || s.pool == nil {
		return pipeline.StoredDocument{}, &pipeline.PersistenceError{Kind: pipeline.PersistenceUnavailable, Err: fmt.Errorf("store is not configured")}
	}
	query := fmt.Sprintf(`
SELECT key, source_id, fields, fingerprint, extracted_at, updated_at
FROM %s
WHERE key = $1`, s.documents)

	var doc pipeline.StoredDocument
	var fieldsJSON []byte
	err := s.pool.QueryRow(ctx, query, key).Scan(
		&doc.Key,
		&doc.SourceID,
		&fieldsJSON,
		&doc.Fingerprint,
		&doc.ExtractedAt,
		&doc.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.StoredDocument{}, fmt.Errorf("document %q not found", key)
	}
	if err != nil {
		return pipeline.StoredDocument{}, &pipeline.PersistenceError{Kind: pipeline.PersistenceUnavailable, Err: fmt.Errorf("get document: %w", err)}
	}
	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &doc.Fields); err != nil {
			return pipeline.StoredDocument{}, &pipeline.PersistenceError{Kind: pipeline.PersistenceConflict, Err: fmt.Errorf("unmarshal fields: %w", err)}
		}
	}
	return doc, nil
}

// LastFingerprint returns the last recorded fingerprint for sourceID, or ""
// when the source has never been seen.
func (s *Store) LastFingerprint(ctx context.Context, sourceID string) (string, error) {
	if s == nil || s.pool == nil {
		return "", &pipeline.PersistenceError{Kind: pipeline.PersistenceUnavailable, Err: fmt.Errorf("store is not configured")}
	}
	query := fmt.Sprintf(`SELECT fingerprint FROM %s WHERE source_id = $1`, s.fingerprints)

	var fp string
	err := s.pool.QueryRow(ctx, query, sourceID).Scan(&fp)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", &pipeline.PersistenceError{Kind: pipeline.PersistenceUnavailable, Err: fmt.Errorf("lookup fingerprint: %w", err)}
	}
	return fp, nil
}

// SetFingerprint records the fingerprint for sourceID.
func (s *Store) SetFingerprint(ctx context.Context, sourceID string, fingerprint string) error {
	if s == nil || s.pool == nil {
		return &pipeline.PersistenceError{Kind: pipeline.PersistenceUnavailable, Err: fmt.Errorf("store is not configured")}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (source_id, fingerprint, updated_at)
VALUES ($1,$2,now())
ON CONFLICT (source_id) DO UPDATE SET
	fingerprint = EXCLUDED.fingerprint,
	updated_at = now()`, s.fingerprints)

	if _, err := s.pool.Exec(ctx, query, sourceID, fingerprint); err != nil {
		return &pipeline.PersistenceError{Kind: pipeline.PersistenceUnavailable, Err: fmt.Errorf("set fingerprint: %w", err)}
	}
	return nil
}
