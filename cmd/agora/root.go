package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// exitCodeRestart is returned to a process supervisor (systemd, docker
// restart policy) to distinguish a requested restart from a crash.
const exitCodeRestart = 75

// restartRequested is set by the run command after Orchestrator.Run
// returns, when RequestRestart was called during the run.
var restartRequested bool

var rootCmd = &cobra.Command{
	Use:   "agora",
	Short: "Agora cognitive loop orchestrator",
	RunE:  requireSubcommand,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func requireSubcommand(cmd *cobra.Command, args []string) error {
	return fmt.Errorf("a subcommand is required; see 'agora --help'")
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(relayCmd)
}
