package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fetchpipe/fetchpipe/internal/api"
	"github.com/fetchpipe/fetchpipe/internal/dispatcher"
	"github.com/fetchpipe/fetchpipe/internal/id/uuid"
	queuemem "github.com/fetchpipe/fetchpipe/internal/queue/memory"
)

// newServeCmd creates the 'serve' subcommand running the HTTP API and the
// coordinator pool.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the fetch pipeline service",
		Long: `Starts the HTTP API for task submission and document lookup, and runs
a pool of pipeline workers consuming the task queue.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfgFile)
	if err != nil {
		return err
	}
	defer a.Close()

	queue := queuemem.NewQueue(a.cfg.Pipeline.QueueDepth)
	defer queue.Close()
	dispatch := dispatcher.New(queue, a.coordinator, a.cfg.Pipeline.Workers)

	apiKey := ""
	if a.cfg.Auth.Enabled {
		apiKey = a.cfg.Auth.APIKey
	}
	server := api.NewServer(a.store, dispatch, uuid.NewUUIDGenerator(), a.clock, a.logger, api.Config{
		MaxAttempts: a.cfg.Pipeline.MaxAttempts,
		APIKey:      apiKey,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	workersDone := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(workersDone)
	}()

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.Int("port", a.cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		stop()
		<-workersDone
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown failed", zap.Error(err))
	}
	<-workersDone
	return nil
}
