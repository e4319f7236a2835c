package main

import (
	"github.com/spf13/cobra"

	"squint/internal/version"
)

var (
	formatFlag  string
	verboseFlag int
	quietFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "squint",
	Short: "squint - incremental code-structure index",
	Long: `squint indexes a repository into a layered graph of definitions, modules,
module interactions, traced flows and features, and keeps it current with
incremental syncs that only recompute the layers a change touched.`,
	Version:       version.Info(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(version.Full() + "\n")
	rootCmd.PersistentFlags().StringVar(&formatFlag, "format", "human", "Output format (human, json)")
	rootCmd.PersistentFlags().CountVarP(&verboseFlag, "verbose", "v", "Increase log verbosity (-v info, -vv debug)")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress all logs")
}
