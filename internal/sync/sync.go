package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/mattn/go-sqlite3"
	"github.com/wesm/gh-offline/internal/api"
	"github.com/wesm/gh-offline/internal/db"
	"github.com/wesm/gh-offline/internal/models"
	"github.com/wesm/gh-offline/internal/normalize"
)

// Fetcher produces pages of raw remote records. Both api.Client and
// api.GraphQLClient satisfy it. An empty cursor starts from the first
// page; an empty next cursor signals exhaustion.
type Fetcher interface {
	FetchPage(ctx context.Context, owner, name, cursor string) ([]*github.Issue, string, error)
}

// Summary reports the outcome of one repository's sync task.
type Summary struct {
	Repository     models.Repository
	ItemsUpserted  int
	ItemsUnchanged int
	Warnings       int
	Err            error
}

// Syncer merges remote issue data into the local mirror, one bounded
// worker task per tracked repository.
type Syncer struct {
	db      *db.DB
	fetcher Fetcher
	logger  *slog.Logger

	workers     int
	maxAttempts int
	baseBackoff time.Duration
	maxWait     time.Duration

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a syncer over the given store handle and fetcher.
func New(database *db.DB, fetcher Fetcher) *Syncer {
	return &Syncer{
		db:          database,
		fetcher:     fetcher,
		logger:      slog.Default(),
		workers:     4,
		maxAttempts: 4,
		baseBackoff: 500 * time.Millisecond,
		maxWait:     15 * time.Minute,
		sleep:       sleepContext,
	}
}

// SetWorkers sets the number of parallel repository tasks.
func (s *Syncer) SetWorkers(workers int) {
	if workers < 1 {
		workers = 1
	}
	if workers > 10 {
		workers = 10 // keep concurrent fetch streams well under API limits
	}
	s.workers = workers
}

// SetLogger replaces the default logger.
func (s *Syncer) SetLogger(logger *slog.Logger) {
	s.logger = logger
}

// SyncAll syncs every tracked repository and returns one summary per
// repository, in ListRepositories order. A failed repository never
// affects its siblings; the returned error is non-nil only for
// run-level failures (no store access, or a storage integrity breach
// that indicates a broken merge contract).
func (s *Syncer) SyncAll(ctx context.Context) ([]Summary, error) {
	repos, err := s.db.ListRepositories()
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}

	summaries := make([]Summary, len(repos))
	if len(repos) == 0 {
		return summaries, nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var fatalOnce sync.Once
	var fatalErr error
	abort := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			cancel()
		})
	}

	jobs := make(chan int)
	var wg sync.WaitGroup

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				summaries[idx] = s.syncRepository(runCtx, repos[idx], abort)
			}
		}()
	}

	for i := range repos {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return summaries, fatalErr
}

// syncRepository runs the per-repository loop: fetch a page, normalize
// it, merge every item, then move to the next page. Pages are strictly
// sequential so an interruption leaves exactly the committed pages
// behind and a re-run from scratch is safe.
func (s *Syncer) syncRepository(ctx context.Context, repo models.Repository, abort func(error)) Summary {
	sum := Summary{Repository: repo}
	cursor := ""
	pages := 0

	for {
		if err := ctx.Err(); err != nil {
			sum.Err = err
			return sum
		}

		records, next, err := s.fetchPageWithRetry(ctx, repo, cursor)
		if err != nil {
			var malformedErr *api.MalformedError
			if errors.As(err, &malformedErr) && malformedErr.Next != "" {
				s.logger.Warn("dropping malformed page",
					"repo", repo.FullName(), "cursor", cursor, "error", malformedErr.Err)
				sum.Warnings++
				cursor = malformedErr.Next
				continue
			}
			sum.Err = fmt.Errorf("fetching %s: %w", repo.FullName(), err)
			return sum
		}
		pages++

		bundles, malformed := normalize.Page(repo.ID, records)
		if malformed > 0 {
			s.logger.Warn("skipped malformed records",
				"repo", repo.FullName(), "count", malformed)
			sum.Warnings += malformed
		}

		for _, bundle := range bundles {
			changed, err := s.db.UpsertItem(bundle)
			if err != nil {
				err = fmt.Errorf("merging %s #%d: %w", repo.FullName(), bundle.Item.Number, err)
				if isIntegrityViolation(err) {
					// A constraint the merge logic should have upheld
					// failed; the whole run is suspect.
					abort(err)
				}
				sum.Err = err
				return sum
			}
			if changed {
				sum.ItemsUpserted++
			} else {
				sum.ItemsUnchanged++
			}
		}

		if next == "" {
			break
		}
		cursor = next
	}

	s.logger.Info("synced repository",
		"repo", repo.FullName(), "pages", pages,
		"upserted", sum.ItemsUpserted, "unchanged", sum.ItemsUnchanged,
		"warnings", sum.Warnings)
	return sum
}

// fetchPageWithRetry fetches one page, retrying transient failures
// with exponential backoff and honoring rate limit delays. Rate limit
// waits do not consume retry attempts. Auth and malformed failures
// return immediately.
func (s *Syncer) fetchPageWithRetry(ctx context.Context, repo models.Repository, cursor string) ([]*github.Issue, string, error) {
	attempts := 0

	for {
		records, next, err := s.fetcher.FetchPage(ctx, repo.Owner, repo.Name, cursor)
		if err == nil {
			return records, next, nil
		}

		var authErr *api.AuthError
		var malformedErr *api.MalformedError
		var rateErr *api.RateLimitError
		switch {
		case errors.As(err, &authErr), errors.As(err, &malformedErr):
			return nil, "", err

		case errors.As(err, &rateErr):
			wait := rateErr.RetryAfter
			if wait <= 0 {
				wait = 30 * time.Second
			}
			if wait > s.maxWait {
				wait = s.maxWait
			}
			s.logger.Warn("rate limited",
				"repo", repo.FullName(), "wait", wait.Round(time.Second))
			if err := s.sleep(ctx, wait); err != nil {
				return nil, "", err
			}

		default:
			attempts++
			if attempts >= s.maxAttempts {
				return nil, "", fmt.Errorf("giving up after %d attempts: %w", attempts, err)
			}
			backoff := s.baseBackoff << (attempts - 1)
			s.logger.Warn("transient fetch failure, retrying",
				"repo", repo.FullName(), "attempt", attempts, "backoff", backoff, "error", err)
			if err := s.sleep(ctx, backoff); err != nil {
				return nil, "", err
			}
		}
	}
}

// isIntegrityViolation reports whether err is a storage constraint
// failure, which the merge logic is supposed to make impossible.
func isIntegrityViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
