package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/wesm/gh-offline/internal/db"
	"github.com/wesm/gh-offline/internal/query"
	"github.com/wesm/gh-offline/internal/render"
)

var (
	issueState string
	issueType  string
	issueRepo  string

	prState string
	prRepo  string
)

var issueCmd = &cobra.Command{
	Use:   "issue [NUMBER]",
	Short: "List issues, or view one by number",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		database := openDatabase()
		defer database.Close()

		svc := query.New(database)
		out := render.New(os.Stdout)

		if len(args) == 1 {
			number, err := strconv.Atoi(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid issue number %q\n", args[0])
				os.Exit(1)
			}

			detail, err := svc.GetItem(number, "")
			if err != nil {
				if errors.Is(err, db.ErrNotFound) {
					fmt.Fprintf(os.Stderr, "Issue #%d not found.\n", number)
				} else {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				}
				os.Exit(1)
			}

			out.ItemDetail(detail)
			return
		}

		items, err := svc.ListItems(query.ListOptions{
			Repository: issueRepo,
			State:      issueState,
			Kind:       issueType,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		showState := issueState == query.StateClosed || issueState == query.StateAll
		showKind := issueType == query.KindPR || issueType == query.KindAll
		out.ItemList(items, showState, showKind)
	},
}

var prCmd = &cobra.Command{
	Use:   "pr [NUMBER]",
	Short: "List pull requests, or view one by number",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		database := openDatabase()
		defer database.Close()

		svc := query.New(database)
		out := render.New(os.Stdout)

		if len(args) == 1 {
			number, err := strconv.Atoi(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid pull request number %q\n", args[0])
				os.Exit(1)
			}

			detail, err := svc.GetItem(number, query.KindPR)
			if err != nil {
				if errors.Is(err, db.ErrNotFound) {
					fmt.Fprintf(os.Stderr, "Pull request #%d not found.\n", number)
				} else {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				}
				os.Exit(1)
			}

			out.ItemDetail(detail)
			return
		}

		items, err := svc.ListItems(query.ListOptions{
			Repository: prRepo,
			State:      prState,
			Kind:       query.KindPR,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		showState := prState == query.StateClosed || prState == query.StateAll
		out.ItemList(items, showState, false)
	},
}

func init() {
	issueCmd.Flags().StringVarP(&issueState, "state", "s", "open", "filter by state: open, closed, or all")
	issueCmd.Flags().StringVarP(&issueType, "type", "t", "issue", "filter by type: issue, pr, or all")
	issueCmd.Flags().StringVar(&issueRepo, "repo", "", "limit to one tracked repository (owner/name)")
	rootCmd.AddCommand(issueCmd)

	prCmd.Flags().StringVarP(&prState, "state", "s", "open", "filter by state: open, closed, or all")
	prCmd.Flags().StringVar(&prRepo, "repo", "", "limit to one tracked repository (owner/name)")
	rootCmd.AddCommand(prCmd)
}
