package cmd

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	archivegcs "github.com/fetchpipe/fetchpipe/internal/archive/gcs"
	archivelocal "github.com/fetchpipe/fetchpipe/internal/archive/local"
	archivemem "github.com/fetchpipe/fetchpipe/internal/archive/memory"
	"github.com/fetchpipe/fetchpipe/internal/config"
	"github.com/fetchpipe/fetchpipe/internal/dedup"
	"github.com/fetchpipe/fetchpipe/internal/extract"
	"github.com/fetchpipe/fetchpipe/internal/governor"
	"github.com/fetchpipe/fetchpipe/internal/hash/sha256"
	"github.com/fetchpipe/fetchpipe/internal/logging"
	"github.com/fetchpipe/fetchpipe/internal/pipeline"
	pubmem "github.com/fetchpipe/fetchpipe/internal/publisher/memory"
	pubgcp "github.com/fetchpipe/fetchpipe/internal/publisher/pubsub"
	storemem "github.com/fetchpipe/fetchpipe/internal/store/memory"
	storepg "github.com/fetchpipe/fetchpipe/internal/store/postgres"
	"github.com/fetchpipe/fetchpipe/internal/transport"
	"github.com/fetchpipe/fetchpipe/internal/transport/headless"
	"github.com/fetchpipe/fetchpipe/internal/worker"

	"github.com/fetchpipe/fetchpipe/internal/clock/system"
)

// app holds the wired pipeline components plus their teardown hooks.
type app struct {
	cfg         config.Config
	logger      *zap.Logger
	coordinator *worker.Coordinator
	store       pipeline.Store
	hasher      *sha256.Hasher
	clock       *system.Clock
	closers     []func()
}

// Close releases all resources in reverse construction order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.logger.Sync()
}

// buildApp wires the full pipeline from configuration.
func buildApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, hasher: sha256.New(), clock: system.New()}

	registry, err := transport.NewRegistry(cfg.Transport.Profiles)
	if err != nil {
		return nil, fmt.Errorf("init identity registry: %w", err)
	}

	fetcher, err := buildTransport(cfg, registry)
	if err != nil {
		return nil, err
	}
	if closer, ok := fetcher.(interface{ Close() }); ok {
		a.closers = append(a.closers, closer.Close)
	}

	gov := governor.New(fetcher, registry, governor.Config{
		PerHostMax:         cfg.Governor.PerHostMax,
		MinInterval:        time.Duration(cfg.Governor.MinIntervalMs) * time.Millisecond,
		BaseDelay:          time.Duration(cfg.Governor.BackoffInitialMs) * time.Millisecond,
		MaxDelay:           time.Duration(cfg.Governor.BackoffMaxMs) * time.Millisecond,
		MaxTLSRotations:    cfg.Governor.MaxTLSRotations,
		ForbiddenThreshold: cfg.Governor.ForbiddenThreshold,
	}, logger)

	store, err := buildStore(ctx, cfg, a.clock)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	rulesets := make([]extract.RuleSet, 0, len(cfg.RuleSets.Paths))
	for _, path := range cfg.RuleSets.Paths {
		rs, err := extract.LoadRuleSetFile(path)
		if err != nil {
			return nil, fmt.Errorf("load ruleset %s: %w", path, err)
		}
		rulesets = append(rulesets, rs)
	}
	engine, err := extract.New(rulesets, a.clock)
	if err != nil {
		return nil, fmt.Errorf("init extraction engine: %w", err)
	}

	archive, err := buildArchive(ctx, cfg, a)
	if err != nil {
		return nil, err
	}

	publisher, err := buildPublisher(ctx, cfg, a)
	if err != nil {
		return nil, err
	}

	a.coordinator = worker.New(
		gov,
		dedup.New(a.hasher, store, logger),
		engine,
		store,
		a.hasher,
		archive,
		publisher,
		a.clock,
		logger,
		worker.Config{
			OutcomeTopic:    cfg.Publisher.Topic,
			MaxAttempts:     cfg.Pipeline.MaxAttempts,
			ArchiveFailures: cfg.Pipeline.ArchiveFailures,
			ArchiveAll:      cfg.Pipeline.ArchiveAll,
		},
	)
	return a, nil
}

func buildTransport(cfg config.Config, registry *transport.Registry) (pipeline.Transport, error) {
	if cfg.Transport.ReplayFile != "" {
		source, err := transport.LoadReplayFile(cfg.Transport.ReplayFile)
		if err != nil {
			return nil, fmt.Errorf("load replay file: %w", err)
		}
		return source, nil
	}
	if cfg.Headless.Enabled {
		t, err := headless.New(registry, headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("init headless transport: %w", err)
		}
		return t, nil
	}
	return transport.New(registry, transport.Config{
		Timeout:       time.Duration(cfg.Transport.TimeoutSeconds) * time.Second,
		MaxBodyBytes:  cfg.Transport.MaxBodyBytes,
		BlockKeywords: cfg.Transport.BlockKeywords,
	}), nil
}

func buildStore(ctx context.Context, cfg config.Config, clock *system.Clock) (pipeline.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		store, err := storepg.New(ctx, storepg.Config{
			DSN:               cfg.Store.DSN,
			DocumentsTable:    cfg.Store.DocumentsTable,
			FingerprintsTable: cfg.Store.FingerprintsTable,
			MaxConns:          cfg.Store.MaxConns,
			MinConns:          cfg.Store.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		return store, nil
	default:
		return storemem.New(clock), nil
	}
}

func buildArchive(ctx context.Context, cfg config.Config, a *app) (pipeline.Archive, error) {
	switch cfg.Archive.Driver {
	case "none":
		return nil, nil
	case "memory":
		return archivemem.New(), nil
	case "local":
		archive, err := archivelocal.New(archivelocal.Config{BaseDir: cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return archive, nil
	case "gcs":
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		archive, err := archivegcs.New(client, archivegcs.Config{
			Bucket: cfg.Archive.GCSBucket,
			Prefix: cfg.Archive.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		return archive, nil
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Archive.Driver)
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, a *app) (pipeline.Publisher, error) {
	switch cfg.Publisher.Driver {
	case "pubsub":
		client, err := pubsub.NewClient(ctx, cfg.Publisher.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("init pubsub client: %w", err)
		}
		pub, err := pubgcp.New(client)
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, func() { _ = pub.Close() })
		return pub, nil
	default:
		return pubmem.New(), nil
	}
}
