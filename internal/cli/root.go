// Package cli implements the langport-worker command-line interface using
// Cobra.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "langport-worker",
	Short: "Langport inference worker",
	Long: `langport-worker serves one model to a langport controller.
It registers itself, heartbeats its queue length and batches queued
generation requests through a shared decoding loop.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $LANGPORT_CONFIG or ~/.langport/config.toml)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
