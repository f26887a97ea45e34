// Package cli defines the outrider command tree. Each subcommand wires the
// configuration, logger, database, and stores it needs and nothing more, so
// the API server, the orchestrator, and individual workers can run as
// separate processes against the same queue.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "outrider",
	Short: "Durable background-execution subsystem for a personal assistant",
	Long: `Outrider gives a personal assistant a durable, Postgres-backed queue for
messages and background tasks. The orchestrator polls for eligible work and
spawns detached worker processes; workers execute tasks through an external
command and record results; terminal tasks raise notifications on their
configured channel.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
