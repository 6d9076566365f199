package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "projector",
	Short: "Event-sourced entity projections",
	Long: `projector keeps an append-only log of save and drop events per entity
and derives the current state of every live entity from it.

The backend is Postgres when DATABASE_URL is set, otherwise a SQLite file
at SQLITE_PATH.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, saveCmd, dropCmd, aggregateCmd, eventsCmd, tokenCmd)
}
