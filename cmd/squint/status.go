package main

import (
	"github.com/spf13/cobra"

	"squint/internal/dirty"
	"squint/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index counts and pending dirty work",
	Args:  cobra.NoArgs,
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	env := mustSetup()
	db := env.mustOpen(true)
	defer db.Close()

	q := db.Conn()
	counts, err := storage.GetCounts(q)
	if err != nil {
		fail(err)
	}
	summary, err := dirty.NewTracker(q).GetSummary()
	if err != nil {
		fail(err)
	}
	last, err := storage.NewSyncRunRepository(q).Latest()
	if err != nil {
		fail(err)
	}
	printResponse(&StatusResponseCLI{Counts: counts, Dirty: summary, LastRun: last})
}
