// Package governor paces outbound fetches and owns the retry policy. It is
// the primary backpressure mechanism: a per-host token budget (max in-flight
// plus a minimum inter-request interval) sits between the coordinator and
// the transport.
package governor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/fetchpipe/fetchpipe/internal/pipeline"
	"github.com/fetchpipe/fetchpipe/internal/telemetry"
	"github.com/fetchpipe/fetchpipe/internal/transport"
)

// Config controls per-host budgets and the retry policy.
type Config struct {
	// PerHostMax bounds concurrent in-flight requests per host.
	PerHostMax int64
	// MinInterval is the minimum spacing between requests to one host.
	MinInterval time.Duration
	// BaseDelay and MaxDelay shape the exponential backoff.
	BaseDelay time.Duration
	MaxDelay  time.Duration
	// MaxTLSRotations bounds identity rotations attempted on TLS failures
	// before the error is treated as terminal.
	MaxTLSRotations int
	// ForbiddenThreshold is how many consecutive 403s trigger a rotation.
	ForbiddenThreshold int
}

// Governor implements pipeline.Governor around a Transport.
type Governor struct {
	cfg       Config
	transport pipeline.Transport
	registry  *transport.Registry
	backoff   *Backoff
	logger    *zap.Logger

	mu    sync.Mutex
	hosts map[string]*hostBudget
}

type hostBudget struct {
	sem *semaphore.Weighted
	lim *rate.Limiter
}

// New builds a Governor.
func New(t pipeline.Transport, registry *transport.Registry, cfg Config, logger *zap.Logger) *Governor {
	if cfg.PerHostMax <= 0 {
		cfg.PerHostMax = 2
	}
	if cfg.MaxTLSRotations < 0 {
		cfg.MaxTLSRotations = 0
	}
	if cfg.ForbiddenThreshold <= 0 {
		cfg.ForbiddenThreshold = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Governor{
		cfg:       cfg,
		transport: t,
		registry:  registry,
		backoff:   NewBackoff(cfg.BaseDelay, cfg.MaxDelay),
		logger:    logger,
		hosts:     make(map[string]*hostBudget),
	}
}

// Submit fetches the task's URL, retrying retryable failures with jittered
// backoff up to task.MaxAttempts. The task's Attempt counter is mutated so
// the caller observes how many attempts were consumed. Fatal configuration
// errors propagate without consuming an attempt; running out of attempts
// yields an error wrapping both ErrExhaustedRetries and the last failure.
func (g *Governor) Submit(ctx context.Context, task *pipeline.FetchTask) (pipeline.FetchResult, error) {
	if task.MaxAttempts <= 0 {
		task.MaxAttempts = 1
	}
	profile := task.Profile
	if profile == "" {
		profile = g.registry.Default()
	}

	var (
		lastResult pipeline.FetchResult
		lastErr    error
		forbidden  int
		rotations  int
	)
	for task.Attempt < task.MaxAttempts {
		if err := ctx.Err(); err != nil {
			return pipeline.FetchResult{}, err
		}

		result, err := g.fetchOnce(ctx, task.URL, profile)
		if errors.Is(err, pipeline.ErrUnknownProfile) {
			return pipeline.FetchResult{}, err
		}
		task.Attempt++
		if err == nil {
			telemetry.ObserveFetch(task.URL, "ok", len(result.Body))
			return result, nil
		}
		if ctx.Err() != nil {
			return pipeline.FetchResult{}, ctx.Err()
		}
		lastResult, lastErr = result, err

		kind := pipeline.KindOf(err)
		code := pipeline.HTTPCodeOf(err)
		telemetry.ObserveFetch(task.URL, string(kind), 0)
		g.logger.Debug("fetch attempt failed",
			zap.String("task_id", task.ID),
			zap.String("url", task.URL),
			zap.Int("attempt", task.Attempt),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)

		switch {
		case kind == pipeline.KindTLS:
			if rotations >= g.cfg.MaxTLSRotations {
				return lastResult, err
			}
			rotations++
			profile = g.rotate(task, profile)
		case kind == pipeline.KindBlocked:
			profile = g.rotate(task, profile)
		case code == 403:
			forbidden++
			if forbidden >= g.cfg.ForbiddenThreshold {
				profile = g.rotate(task, profile)
				forbidden = 0
			}
		case retryable(kind, code):
			// plain retry, same identity
		default:
			return lastResult, err
		}

		if task.Attempt >= task.MaxAttempts {
			break
		}
		telemetry.ObserveRetry(string(kind))
		if err := g.wait(ctx, g.backoff.Delay(task.Attempt)); err != nil {
			return pipeline.FetchResult{}, err
		}
	}
	return lastResult, fmt.Errorf("%w after %d attempts: %w", pipeline.ErrExhaustedRetries, task.Attempt, lastErr)
}

func (g *Governor) fetchOnce(ctx context.Context, rawURL, profile string) (pipeline.FetchResult, error) {
	host := hostOf(rawURL)
	budget := g.budget(host)

	start := time.Now()
	if err := budget.lim.Wait(ctx); err != nil {
		return pipeline.FetchResult{}, fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObserveRateLimitDelay(host, waited)
	}

	if err := budget.sem.Acquire(ctx, 1); err != nil {
		return pipeline.FetchResult{}, fmt.Errorf("host slot wait: %w", err)
	}
	defer budget.sem.Release(1)

	return g.transport.Fetch(ctx, rawURL, profile)
}

func (g *Governor) budget(host string) *hostBudget {
	g.mu.Lock()
	defer g.mu.Unlock()
	if b, ok := g.hosts[host]; ok {
		return b
	}
	limit := rate.Inf
	if g.cfg.MinInterval > 0 {
		limit = rate.Every(g.cfg.MinInterval)
	}
	b := &hostBudget{
		sem: semaphore.NewWeighted(g.cfg.PerHostMax),
		lim: rate.NewLimiter(limit, 1),
	}
	g.hosts[host] = b
	return b
}

func (g *Governor) rotate(task *pipeline.FetchTask, current string) string {
	next := g.registry.Next(current)
	if next == current {
		return current
	}
	telemetry.ObserveRotation()
	g.logger.Info("rotating identity profile",
		zap.String("task_id", task.ID),
		zap.String("from", current),
		zap.String("to", next),
	)
	return next
}

func (g *Governor) wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryable reports whether the transport error kind warrants another
// attempt under the same identity.
func retryable(kind pipeline.ErrorKind, code int) bool {
	switch kind {
	case pipeline.KindTimeout, pipeline.KindConnRefused, pipeline.KindBlocked:
		return true
	case pipeline.KindHTTP:
		return code == 403 || code == 429 || code == 503
	default:
		return false
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
