// Package cmd defines the CLI commands for the fetchpipe executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetchpipe",
		Short: "A resilient fetch-and-extract pipeline for monitored web sources",
		Long: `fetchpipe fetches pages from sources that actively resist scraping,
detects unchanged content, extracts structured records with declarative
selector rulesets, and persists them idempotently.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults plus FETCHPIPE_* env vars)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newFetchCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
