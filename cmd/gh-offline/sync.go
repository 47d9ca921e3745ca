package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/wesm/gh-offline/config"
	"github.com/wesm/gh-offline/internal/api"
	"github.com/wesm/gh-offline/internal/render"
	"github.com/wesm/gh-offline/internal/sync"
)

var (
	syncWorkers int
	syncGraphQL bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror all tracked repositories",
	Long: `Fetch issues and pull requests for every tracked repository and
merge them into the local mirror. Repositories sync concurrently;
a failure in one never aborts the others.

Interrupting a sync is safe: pages merged so far stay committed and
the next run picks up the rest.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
			os.Exit(1)
		}

		var fetcher sync.Fetcher
		if syncGraphQL {
			if cfg.Token == "" {
				fmt.Fprintf(os.Stderr, "GraphQL sync requires a token; set %s or GITHUB_TOKEN.\n", config.EnvToken)
				os.Exit(1)
			}
			fetcher = api.NewGraphQLClient(cfg.Token)
		} else {
			if cfg.Token == "" {
				fmt.Fprintf(os.Stderr, "Warning: no token set (%s or GITHUB_TOKEN); unauthenticated rate limits apply.\n", config.EnvToken)
			}
			fetcher = api.NewClient(cfg.Token)
		}

		database := openDatabase()
		defer database.Close()

		syncer := sync.New(database, fetcher)
		syncer.SetWorkers(syncWorkers)
		syncer.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, nil)))

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		summaries, err := syncer.SyncAll(ctx)
		render.New(os.Stdout).SyncSummaries(summaries)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Sync aborted: %v\n", err)
			os.Exit(1)
		}

		if len(summaries) == 0 {
			fmt.Println(`No repositories to sync. Add one with "gh-offline repo add owner/name".`)
			return
		}

		for _, sum := range summaries {
			if sum.Err != nil {
				os.Exit(1)
			}
		}
	},
}

func init() {
	syncCmd.Flags().IntVar(&syncWorkers, "workers", 4, "number of repositories to sync concurrently")
	syncCmd.Flags().BoolVar(&syncGraphQL, "graphql", false, "fetch through the GraphQL API instead of REST")
	rootCmd.AddCommand(syncCmd)
}
