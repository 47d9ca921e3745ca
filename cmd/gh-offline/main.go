package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/wesm/gh-offline/config"
	"github.com/wesm/gh-offline/internal/db"
)

var rootCmd = &cobra.Command{
	Use:   "gh-offline",
	Short: "Browse GitHub issues and pull requests offline",
	Long: `gh-offline keeps a local mirror of issue data for a set of tracked
GitHub repositories and serves list and detail views against it
without network access.

Add repositories with "gh-offline repo add owner/name", pull data
with "gh-offline sync", then browse with "gh-offline issue" and
"gh-offline pr".`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openDatabase opens the mirror database or exits with a diagnostic.
func openDatabase() *db.DB {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	database, err := db.New(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database %s: %v\n", cfg.DatabasePath, err)
		os.Exit(1)
	}

	if err := database.Initialize(); err != nil {
		database.Close()
		fmt.Fprintf(os.Stderr, "Error initializing database: %v\n", err)
		os.Exit(1)
	}

	return database
}
