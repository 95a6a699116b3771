// Package worker drives a fetch task through the pipeline stages: fetch,
// dedup, extract, persist, publish.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fetchpipe/fetchpipe/internal/pipeline"
	"github.com/fetchpipe/fetchpipe/internal/telemetry"
)

// keyer derives persistence keys from source identities. The sha256 hasher
// satisfies it.
type keyer interface {
	Key(sourceID string) string
}

// Config tunes the coordinator.
type Config struct {
	// OutcomeTopic is the topic terminal outcomes are published to.
	OutcomeTopic string
	// MaxAttempts applies to tasks that do not carry their own budget.
	MaxAttempts int
	// ArchiveFailures writes response bodies to the archive when fetch or
	// extraction fails, so failures can be replayed offline.
	ArchiveFailures bool
	// ArchiveAll additionally archives every successfully fetched body.
	ArchiveAll bool
}

// Coordinator runs tasks through the pipeline. Stages hand off through the
// task state machine; every task terminates in done or failed and emits
// exactly one outcome event.
type Coordinator struct {
	governor  pipeline.Governor
	dedup     pipeline.Deduplicator
	extractor pipeline.Extractor
	store     pipeline.Store
	keys      keyer
	archive   pipeline.Archive
	publisher pipeline.Publisher
	clock     pipeline.Clock
	logger    *zap.Logger
	cfg       Config
}

// New wires a Coordinator. Archive and publisher may be nil; the
// corresponding steps are skipped.
func New(
	governor pipeline.Governor,
	dedup pipeline.Deduplicator,
	extractor pipeline.Extractor,
	store pipeline.Store,
	keys keyer,
	archive pipeline.Archive,
	publisher pipeline.Publisher,
	clock pipeline.Clock,
	logger *zap.Logger,
	cfg Config,
) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.OutcomeTopic == "" {
		cfg.OutcomeTopic = "fetchpipe-outcomes"
	}
	return &Coordinator{
		governor:  governor,
		dedup:     dedup,
		extractor: extractor,
		store:     store,
		keys:      keys,
		archive:   archive,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run consumes tasks from the queue until the context ends or the queue
// closes.
func (c *Coordinator) Run(ctx context.Context, queue pipeline.Queue) error {
	telemetry.IncActiveWorkers()
	defer telemetry.DecActiveWorkers()

	for {
		task, err := queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		c.Process(ctx, task)
	}
}

// Process runs one task through every stage and returns its terminal
// outcome. Cancellation between stages stops the task at a stage boundary;
// a partially persisted task is safe to re-run because upserts are
// idempotent.
func (c *Coordinator) Process(ctx context.Context, task pipeline.FetchTask) pipeline.Outcome {
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = c.cfg.MaxAttempts
	}
	log := c.logger.With(
		zap.String("task_id", task.ID),
		zap.String("url", task.URL),
	)

	outcome := c.process(ctx, &task, log)
	outcome.TaskID = task.ID
	outcome.URL = task.URL
	outcome.Attempts = task.Attempt
	outcome.TS = c.clock.Now()

	telemetry.ObserveTask(string(outcome.State))
	if outcome.State == pipeline.TaskStateFailed {
		log.Warn("task failed",
			zap.String("kind", outcome.ErrorKind),
			zap.String("error", outcome.ErrorText),
			zap.Int("attempts", outcome.Attempts),
		)
	} else {
		log.Info("task done",
			zap.Int("records", outcome.Records),
			zap.Int("record_errors", outcome.Errors),
			zap.Bool("unchanged", outcome.Unchanged),
		)
	}

	c.publish(ctx, outcome, log)
	return outcome
}

func (c *Coordinator) process(ctx context.Context, task *pipeline.FetchTask, log *zap.Logger) pipeline.Outcome {
	// Fetch.
	result, err := c.governor.Submit(ctx, task)
	if err != nil {
		if c.cfg.ArchiveFailures && len(result.Body) > 0 {
			c.archiveBody(ctx, *task, result, "fetch-failed", log)
		}
		return failure(err)
	}
	if c.cfg.ArchiveAll {
		c.archiveBody(ctx, *task, result, "fetched", log)
	}
	if err := ctx.Err(); err != nil {
		return failure(err)
	}

	// Dedup.
	status, fingerprint, err := c.dedup.Check(ctx, task.URL, result.Body)
	if err != nil {
		return failure(err)
	}
	if status == pipeline.DedupUnchanged {
		telemetry.ObserveDedupHit()
		log.Debug("content unchanged, skipping extraction")
		return pipeline.Outcome{State: pipeline.TaskStateDone, Unchanged: true}
	}
	if err := ctx.Err(); err != nil {
		return failure(err)
	}

	// Extract.
	// Extraction failures are always archived: the body is the only
	// evidence of what the ruleset failed to match.
	seq, err := c.extractor.Extract(result.Body, task.RuleSet, task.URL)
	if err != nil {
		if len(result.Body) > 0 {
			c.archiveBody(ctx, *task, result, "extract-failed", log)
		}
		return failure(err)
	}

	// Persist. Per-record extraction failures are counted and skipped;
	// sibling records still land.
	var persisted, recordErrs int
	for rec, recErr := range seq {
		if err := ctx.Err(); err != nil {
			return failure(err)
		}
		if recErr != nil {
			telemetry.ObserveExtractionError()
			recordErrs++
			log.Debug("record extraction failed", zap.Error(recErr))
			continue
		}
		rec.Key = c.keys.Key(rec.SourceID)
		rec.Fingerprint = fingerprint

		upsert, err := c.store.Upsert(ctx, rec)
		if err != nil {
			return failureCounted(err, persisted, recordErrs)
		}
		telemetry.ObserveUpsert(string(upsert))
		persisted++
	}

	if persisted == 0 && recordErrs > 0 {
		return failureCounted(
			&pipeline.ExtractionError{Reason: fmt.Sprintf("all %d records failed extraction", recordErrs)},
			0, recordErrs,
		)
	}

	// Record the body fingerprint so the next fetch of identical content
	// short-circuits at dedup.
	if err := c.store.SetFingerprint(ctx, task.URL, fingerprint); err != nil {
		log.Warn("failed to record fingerprint", zap.Error(err))
	}

	return pipeline.Outcome{
		State:   pipeline.TaskStateDone,
		Records: persisted,
		Errors:  recordErrs,
	}
}

func (c *Coordinator) archiveBody(ctx context.Context, task pipeline.FetchTask, result pipeline.FetchResult, reason string, log *zap.Logger) {
	if c.archive == nil {
		return
	}
	contentType := result.Headers.Get("Content-Type")
	if contentType == "" {
		contentType = "text/html"
	}
	path := fmt.Sprintf("%s/%s/%s/%s.html",
		reason,
		telemetry.SanitizeHost(task.URL),
		c.clock.Now().UTC().Format("2006-01-02"),
		task.ID,
	)
	uri, err := c.archive.PutObject(ctx, path, contentType, result.Body)
	if err != nil {
		log.Warn("failed to archive response body", zap.Error(err))
		return
	}
	log.Debug("archived response body", zap.String("uri", uri))
}

func (c *Coordinator) publish(ctx context.Context, outcome pipeline.Outcome, log *zap.Logger) {
	if c.publisher == nil {
		return
	}
	// Publishing is best-effort; the outcome is already logged and the
	// store holds the data.
	pubCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		pubCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if _, err := c.publisher.Publish(pubCtx, c.cfg.OutcomeTopic, outcome); err != nil {
		log.Warn("failed to publish outcome", zap.Error(err))
	}
}

func failure(err error) pipeline.Outcome {
	return failureCounted(err, 0, 0)
}

func failureCounted(err error, records, recordErrs int) pipeline.Outcome {
	kind := string(pipeline.KindOf(err))
	// Retry-ceiling exhaustion outranks the last transport kind so the
	// orchestrator can tell it apart from an immediate terminal failure.
	// ErrorText keeps the wrapped last error for diagnosis.
	if errors.Is(err, pipeline.ErrExhaustedRetries) {
		kind = "exhausted-retries"
	}
	if kind == "" {
		var xerr *pipeline.ExtractionError
		var perr *pipeline.PersistenceError
		switch {
		case errors.Is(err, pipeline.ErrUnknownProfile), errors.Is(err, pipeline.ErrUnknownRuleSet):
			kind = "config"
		case errors.As(err, &xerr):
			kind = "extraction"
		case errors.As(err, &perr):
			kind = "persistence"
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			kind = "canceled"
		default:
			kind = "internal"
		}
	}
	return pipeline.Outcome{
		State:     pipeline.TaskStateFailed,
		ErrorKind: kind,
		ErrorText: err.Error(),
		Records:   records,
		Errors:    recordErrs,
	}
}
