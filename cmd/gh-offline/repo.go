package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/wesm/gh-offline/internal/db"
	"github.com/wesm/gh-offline/internal/models"
	"github.com/wesm/gh-offline/internal/query"
	"github.com/wesm/gh-offline/internal/render"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage tracked repositories",
	Long: `Manage the set of repositories mirrored locally.

With no subcommand, lists all tracked repositories.`,
	Run: func(cmd *cobra.Command, args []string) {
		database := openDatabase()
		defer database.Close()

		repos, err := query.New(database).ListRepositories()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing repositories: %v\n", err)
			os.Exit(1)
		}

		render.New(os.Stdout).Repositories(repos)
	},
}

var repoAddCmd = &cobra.Command{
	Use:   "add OWNER/NAME",
	Short: "Start tracking a repository",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		owner, name, err := models.ParseFullName(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		database := openDatabase()
		defer database.Close()

		repo, err := database.AddRepository(owner, name)
		if err != nil {
			if errors.Is(err, db.ErrAlreadyTracked) {
				fmt.Fprintf(os.Stderr, "Repository %s/%s is already tracked.\n", owner, name)
			} else {
				fmt.Fprintf(os.Stderr, "Error adding repository: %v\n", err)
			}
			os.Exit(1)
		}

		fmt.Printf("Repository %s added. Run \"gh-offline sync\" to mirror it.\n", repo.FullName())
	},
}

var repoRmCmd = &cobra.Command{
	Use:   "rm OWNER/NAME",
	Short: "Stop tracking a repository and delete its mirrored data",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		owner, name, err := models.ParseFullName(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		database := openDatabase()
		defer database.Close()

		if err := database.RemoveRepository(owner, name); err != nil {
			if errors.Is(err, db.ErrNotTracked) {
				fmt.Fprintf(os.Stderr, "Repository %s/%s is not tracked.\n", owner, name)
			} else {
				fmt.Fprintf(os.Stderr, "Error removing repository: %v\n", err)
			}
			os.Exit(1)
		}

		fmt.Printf("Repository %s/%s removed.\n", owner, name)
	},
}

func init() {
	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoRmCmd)
	rootCmd.AddCommand(repoCmd)
}
