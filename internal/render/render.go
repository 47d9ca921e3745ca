// Package render formats query results for the terminal. Everything
// here is presentation only; the data comes fully assembled from the
// query engine.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/wesm/gh-offline/internal/db"
	"github.com/wesm/gh-offline/internal/models"
	"github.com/wesm/gh-offline/internal/sync"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	openStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	closedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	prStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true)
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	dimStyle    = lipgloss.NewStyle().Faint(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// Renderer writes formatted output to w.
type Renderer struct {
	w io.Writer
}

// New creates a renderer writing to w.
func New(w io.Writer) *Renderer {
	return &Renderer{w: w}
}

// Repositories prints tracked repositories one per line.
func (r *Renderer) Repositories(repos []models.Repository) {
	for _, repo := range repos {
		fmt.Fprintln(r.w, repo.FullName())
	}
}

// ItemList prints items grouped under owner/name headers with aligned
// numbers. showState and showKind add list metadata when the caller's
// filter makes it ambiguous.
func (r *Renderer) ItemList(items []db.ItemWithRepo, showState, showKind bool) {
	groups, order := groupByRepo(items)

	for _, repo := range order {
		fmt.Fprintf(r.w, "\n%s\n", repo)

		group := groups[repo]
		width := 1
		for _, item := range group {
			if n := len(fmt.Sprint(item.Number)); n > width {
				width = n
			}
		}

		for _, item := range group {
			number := fmt.Sprintf("#%*d", width, item.Number)
			link := termenv.Hyperlink(itemURL(item), number)

			var meta []string
			if showKind {
				if item.Kind == models.KindPullRequest {
					meta = append(meta, "PR")
				} else {
					meta = append(meta, "ISSUE")
				}
			}
			if showState {
				meta = append(meta, strings.ToUpper(item.State))
			}
			meta = append(meta, item.UpdatedAt.Format("2006-01-02"))

			fmt.Fprintf(r.w, "%s %s %s\n",
				link, dimStyle.Render(strings.Join(meta, " ")), titleStyle.Render(item.Title))
		}
	}
}

// ItemDetail prints one item with labels, reactions, and body.
func (r *Renderer) ItemDetail(d *db.ItemDetail) {
	line := termenv.Hyperlink(itemURL(d.ItemWithRepo), titleStyle.Render(d.Title))
	if d.Author != "" {
		authorLink := termenv.Hyperlink("https://github.com/"+d.Author, d.Author)
		line += " " + dimStyle.Render("by "+authorLink)
	}
	line += " " + stateBadge(d.State)
	if d.Kind == models.KindPullRequest {
		line += " " + prStyle.Render("PULL REQUEST")
	}
	fmt.Fprintln(r.w, line)

	if len(d.Labels) > 0 {
		names := make([]string, 0, len(d.Labels))
		for _, l := range d.Labels {
			names = append(names, labelStyle.Render(l.Name))
		}
		fmt.Fprintln(r.w, strings.Join(names, " "))
	}

	if len(d.Reactions) > 0 {
		parts := make([]string, 0, len(d.Reactions))
		for _, reaction := range d.Reactions {
			parts = append(parts, fmt.Sprintf("%s %s",
				reactionGlyph(reaction.Kind), labelStyle.Render(fmt.Sprint(reaction.Count))))
		}
		fmt.Fprintln(r.w, strings.Join(parts, "\t"))
	}

	fmt.Fprintln(r.w)

	if strings.TrimSpace(d.Body) == "" {
		fmt.Fprintln(r.w, dimStyle.Render("No description provided"))
	} else {
		fmt.Fprintln(r.w, d.Body)
	}
}

// SyncSummaries prints one result line per repository.
func (r *Renderer) SyncSummaries(summaries []sync.Summary) {
	for _, sum := range summaries {
		name := sum.Repository.FullName()
		if sum.Err != nil {
			fmt.Fprintf(r.w, "%s: %s\n", name, errStyle.Render(sum.Err.Error()))
			continue
		}
		line := fmt.Sprintf("%s: %d upserted, %d unchanged", name, sum.ItemsUpserted, sum.ItemsUnchanged)
		if sum.Warnings > 0 {
			line += fmt.Sprintf(", %d warnings", sum.Warnings)
		}
		fmt.Fprintln(r.w, line)
	}
}

func groupByRepo(items []db.ItemWithRepo) (map[string][]db.ItemWithRepo, []string) {
	groups := make(map[string][]db.ItemWithRepo)
	var order []string
	for _, item := range items {
		repo := item.RepoOwner + "/" + item.RepoName
		if _, ok := groups[repo]; !ok {
			order = append(order, repo)
		}
		groups[repo] = append(groups[repo], item)
	}
	return groups, order
}

func stateBadge(state string) string {
	if state == models.StateOpen {
		return openStyle.Render(strings.ToUpper(state))
	}
	return closedStyle.Render(strings.ToUpper(state))
}

func itemURL(item db.ItemWithRepo) string {
	segment := "issues"
	if item.Kind == models.KindPullRequest {
		segment = "pull"
	}
	return fmt.Sprintf("https://github.com/%s/%s/%s/%d",
		item.RepoOwner, item.RepoName, segment, item.Number)
}

func reactionGlyph(kind string) string {
	switch kind {
	case "+1":
		return "[+1]"
	case "-1":
		return "[-1]"
	case "laugh":
		return ":D"
	case "hooray":
		return "^_^"
	case "confused":
		return ":/"
	case "heart":
		return "<3"
	case "rocket":
		return "^^"
	case "eyes":
		return "o_o"
	}
	return "?"
}
