// Package dedup detects already-processed content by fingerprinting
// response bodies and comparing against the store's last-known fingerprint
// per source identity.
package dedup

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fetchpipe/fetchpipe/internal/pipeline"
)

// fingerprintIndex is the slice of the store the deduplicator needs.
type fingerprintIndex interface {
	LastFingerprint(ctx context.Context, sourceID string) (string, error)
}

// Deduplicator implements pipeline.Deduplicator.
type Deduplicator struct {
	hasher pipeline.Hasher
	index  fingerprintIndex
	logger *zap.Logger
}

// New builds a Deduplicator over the given hasher and fingerprint index.
func New(hasher pipeline.Hasher, index fingerprintIndex, logger *zap.Logger) *Deduplicator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduplicator{hasher: hasher, index: index, logger: logger}
}

// Check fingerprints body and reports whether it matches the last known
// fingerprint for sourceID. Only an exact match yields unchanged. The check
// is advisory: an index lookup failure degrades to "new" so content is
// never lost, merely reprocessed.
func (d *Deduplicator) Check(ctx context.Context, sourceID string, body []byte) (pipeline.DedupStatus, string, error) {
	fingerprint, err := d.hasher.Hash(body)
	if err != nil {
		return "", "", fmt.Errorf("fingerprint body: %w", err)
	}

	last, err := d.index.LastFingerprint(ctx, sourceID)
	if err != nil {
		d.logger.Warn("fingerprint lookup failed, treating content as new",
			zap.String("source_id", sourceID),
			zap.Error(err),
		)
		return pipeline.DedupNew, fingerprint, nil
	}
	if last != "" && last == fingerprint {
		return pipeline.DedupUnchanged, fingerprint, nil
	}
	return pipeline.DedupNew, fingerprint, nil
}
