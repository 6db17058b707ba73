package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "modelguard",
	Short: "ModelGuard - AI provider resilience and monitoring layer",
	Long: `ModelGuard manages the AI provider fleet for the CareMesh telemedicine
platform. It wraps every provider call with classified errors, bounded
retries, and fallback degradation, keeps encrypted credentials with a
rotation audit trail, runs periodic provider health checks, and records
per-model performance aggregates and usage budgets.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
