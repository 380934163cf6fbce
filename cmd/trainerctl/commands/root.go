// Package commands implements the trainerctl subcommands.
package commands

import (
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	timeout   time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "trainerctl",
	Short:         "Command-line client for the sales practice server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "server base URL")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")

	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(scenariosCmd)
	rootCmd.AddCommand(talkCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
