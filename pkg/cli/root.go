// Package cli implements the interceptd command-line interface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Persistent flags available to all subcommands.
	adminURL   string
	jsonOutput bool

	// Version is injected during build.
	Version = "dev"
)

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "interceptd",
	Short: "interceptd is an intercepting proxy for HTTP and database traffic",
	Long: `interceptd runs intercepting proxies in front of HTTP services and
databases (PostgreSQL, MySQL, MongoDB). It records every request and query,
serves stored mocks in place of the real backend, and detects drift between
mocks and live responses.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&adminURL, "admin-url", "http://localhost:4000", "Control API base URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output command results in JSON format")
	rootCmd.Version = Version
}
