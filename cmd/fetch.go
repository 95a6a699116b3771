package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fetchpipe/fetchpipe/internal/id/uuid"
	"github.com/fetchpipe/fetchpipe/internal/pipeline"
)

// newFetchCmd creates the 'fetch' subcommand: process one URL through the
// full pipeline and print the outcome. Useful for testing rulesets and
// identity profiles before deploying them.
func newFetchCmd() *cobra.Command {
	var (
		ruleset     string
		profile     string
		maxAttempts int
	)
	cmd := &cobra.Command{
		Use:   "fetch URL",
		Short: "Fetch and extract a single URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(ctx, cfgFile)
			if err != nil {
				return err
			}
			defer a.Close()

			taskID, err := uuid.NewUUIDGenerator().NewID()
			if err != nil {
				return fmt.Errorf("generate task id: %w", err)
			}
			task := pipeline.FetchTask{
				ID:          taskID,
				URL:         args[0],
				Profile:     profile,
				RuleSet:     ruleset,
				MaxAttempts: maxAttempts,
				Submitted:   a.clock.Now(),
			}

			outcome := a.coordinator.Process(ctx, task)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(outcome); err != nil {
				return fmt.Errorf("encode outcome: %w", err)
			}
			if outcome.State == pipeline.TaskStateFailed {
				return fmt.Errorf("task failed: %s", outcome.ErrorText)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&ruleset, "ruleset", "", "selector ruleset name (required)")
	cmd.Flags().StringVar(&profile, "profile", "", "identity profile name (default: first configured)")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "retry budget override")
	_ = cmd.MarkFlagRequired("ruleset")

	return cmd
}
