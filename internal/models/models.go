package models

import (
	"fmt"
	"strings"
	"time"
)

// Item kinds.
const (
	KindIssue       = "issue"
	KindPullRequest = "pull_request"
)

// Item states.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// Repository identifies a remote repository tracked for mirroring.
type Repository struct {
	ID    int64
	Owner string
	Name  string
}

// FullName returns the repository in "owner/name" form.
func (r Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// ParseFullName splits an "owner/name" repository string.
func ParseFullName(repoStr string) (string, string, error) {
	parts := strings.Split(repoStr, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository format, expected 'owner/name', got '%s'", repoStr)
	}
	return parts[0], parts[1], nil
}

// Item is the unified representation of an issue or pull request.
// ID is the remote global identifier used as the merge key; Number is
// the repo-scoped identifier shown to users.
type Item struct {
	ID           int64
	RepositoryID int64
	Number       int
	Kind         string
	Title        string
	Body         string
	State        string
	Author       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ClosedAt     *time.Time
}

// Label is a repository-scoped label.
type Label struct {
	ID           int64
	RepositoryID int64
	Name         string
	Color        string
}

// ReactionCount is a per-kind aggregate reaction count for one item.
type ReactionCount struct {
	ItemID int64
	Kind   string
	Count  int
}

// ItemBundle is one normalized item together with its associated
// labels and reaction aggregates, merged atomically into the store.
type ItemBundle struct {
	Item      Item
	Labels    []Label
	Reactions []ReactionCount
}
