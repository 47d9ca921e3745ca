// Package query serves offline reads against the local mirror. It
// never touches the network and never mutates the store.
package query

import (
	"fmt"

	"github.com/wesm/gh-offline/internal/db"
	"github.com/wesm/gh-offline/internal/models"
)

// Filter values accepted by ListItems and GetItem. "pr" is accepted
// as a CLI-friendly alias for pull_request.
const (
	StateOpen   = "open"
	StateClosed = "closed"
	StateAll    = "all"

	KindIssue = "issue"
	KindPR    = "pr"
	KindAll   = "all"
)

// Service answers list and get-one queries against a store handle.
type Service struct {
	db *db.DB
}

// New creates a query service over the given store handle.
func New(database *db.DB) *Service {
	return &Service{db: database}
}

// ListOptions narrows ListItems. Zero values default to state=open,
// kind=all, no repository scope.
type ListOptions struct {
	// Repository scopes the listing to one "owner/name" when non-empty.
	Repository string
	State      string
	Kind       string
}

// ListItems returns items matching the options, ordered by updated_at
// descending with ties broken by number descending.
func (s *Service) ListItems(opts ListOptions) ([]db.ItemWithRepo, error) {
	state, err := resolveState(opts.State)
	if err != nil {
		return nil, err
	}
	kind, err := resolveKind(opts.Kind)
	if err != nil {
		return nil, err
	}

	filter := db.ItemFilter{State: state, Kind: kind}
	if opts.Repository != "" {
		owner, name, err := models.ParseFullName(opts.Repository)
		if err != nil {
			return nil, err
		}
		repo, err := s.db.GetRepository(owner, name)
		if err != nil {
			return nil, err
		}
		filter.RepositoryID = repo.ID
	}

	return s.db.ListItems(filter)
}

// GetItem returns the detail bundle for the item with the given
// repo-scoped number, or db.ErrNotFound. kind restricts the lookup;
// an empty kind matches anything.
func (s *Service) GetItem(number int, kind string) (*db.ItemDetail, error) {
	resolved, err := resolveKind(kind)
	if err != nil {
		return nil, err
	}
	return s.db.GetItem(number, resolved)
}

// ListRepositories returns all tracked repositories.
func (s *Service) ListRepositories() ([]models.Repository, error) {
	return s.db.ListRepositories()
}

func resolveState(state string) (string, error) {
	switch state {
	case "":
		return StateOpen, nil
	case StateOpen, StateClosed, StateAll:
		return state, nil
	}
	return "", fmt.Errorf("invalid state filter %q (want open, closed, or all)", state)
}

func resolveKind(kind string) (string, error) {
	switch kind {
	case "", KindAll:
		return KindAll, nil
	case KindIssue:
		return models.KindIssue, nil
	case KindPR, models.KindPullRequest:
		return models.KindPullRequest, nil
	}
	return "", fmt.Errorf("invalid type filter %q (want issue, pr, or all)", kind)
}
