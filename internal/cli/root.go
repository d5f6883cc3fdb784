// Package cli defines the copilot command tree.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var configPath string

var rootCmd = &cobra.Command{
	Use:   "copilot",
	Short: "Fan-out/fan-in pull request review pipeline",
	Long: `copilot reviews pull requests with a team of specialist analyzers.

A webhook event fans out one task per specialist; each specialist records its
outcome against a shared review record with a SHA-fenced conditional write,
and once every slot is accounted for the results are consolidated into a
single PR comment, exactly once.

Durable state lives in ~/.copilot/copilot.db (review records and the task
queue share one SQLite file).`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to copilot.yaml (default: ./copilot.yaml, ~/.copilot/config.yaml)")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reviewCmd)
	rootCmd.AddCommand(dbCmd)
}
