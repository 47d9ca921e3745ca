package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	stdsync "sync"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/wesm/gh-offline/internal/api"
	"github.com/wesm/gh-offline/internal/db"
	"github.com/wesm/gh-offline/internal/models"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type pageResult struct {
	records []*github.Issue
	next    string
	err     error
}

// fakeFetcher serves scripted responses keyed by "owner/name@cursor".
// Multiple results under one key are consumed in order, with the last
// one sticky.
type fakeFetcher struct {
	mu    stdsync.Mutex
	pages map[string][]pageResult
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{pages: make(map[string][]pageResult)}
}

func (f *fakeFetcher) add(repo, cursor string, results ...pageResult) {
	key := repo + "@" + cursor
	f.pages[key] = append(f.pages[key], results...)
}

func (f *fakeFetcher) FetchPage(ctx context.Context, owner, name, cursor string) ([]*github.Issue, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := owner + "/" + name + "@" + cursor
	queue, ok := f.pages[key]
	if !ok || len(queue) == 0 {
		return nil, "", fmt.Errorf("unexpected fetch %s", key)
	}

	res := queue[0]
	if len(queue) > 1 {
		f.pages[key] = queue[1:]
	}
	return res.records, res.next, res.err
}

func record(id int64, number int, updated time.Time) *github.Issue {
	return &github.Issue{
		ID:        github.Int64(id),
		Number:    github.Int(number),
		Title:     github.String(fmt.Sprintf("item %d", number)),
		Body:      github.String("body"),
		State:     github.String("open"),
		User:      &github.User{Login: github.String("octocat")},
		CreatedAt: &github.Timestamp{Time: testTime},
		UpdatedAt: &github.Timestamp{Time: updated},
	}
}

func newTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := database.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return database
}

func newTestSyncer(t *testing.T, database *db.DB, fetcher Fetcher) *Syncer {
	t.Helper()

	s := New(database, fetcher)
	s.SetLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.baseBackoff = time.Millisecond
	s.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return s
}

func mustAdd(t *testing.T, database *db.DB, owner, name string) models.Repository {
	t.Helper()
	repo, err := database.AddRepository(owner, name)
	if err != nil {
		t.Fatalf("AddRepository(%s/%s) error = %v", owner, name, err)
	}
	return *repo
}

func itemCount(t *testing.T, database *db.DB) int {
	t.Helper()
	items, err := database.ListItems(db.ItemFilter{State: "all", Kind: "all"})
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	return len(items)
}

func TestSyncAllMergesAllPages(t *testing.T) {
	database := newTestDB(t)
	mustAdd(t, database, "octo", "proj")

	fetcher := newFakeFetcher()
	fetcher.add("octo/proj", "", pageResult{
		records: []*github.Issue{record(101, 1, testTime.Add(time.Hour)), record(102, 2, testTime)},
		next:    "2",
	})
	fetcher.add("octo/proj", "2", pageResult{
		records: []*github.Issue{record(103, 3, testTime.Add(2*time.Hour))},
	})

	syncer := newTestSyncer(t, database, fetcher)
	summaries, err := syncer.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("SyncAll() summaries = %d, want 1", len(summaries))
	}

	sum := summaries[0]
	if sum.Err != nil {
		t.Fatalf("summary error = %v", sum.Err)
	}
	if sum.ItemsUpserted != 3 {
		t.Errorf("ItemsUpserted = %d, want 3", sum.ItemsUpserted)
	}
	if got := itemCount(t, database); got != 3 {
		t.Errorf("stored items = %d, want 3", got)
	}
}

func TestSyncAllIdempotent(t *testing.T) {
	database := newTestDB(t)
	mustAdd(t, database, "octo", "proj")

	fetcher := newFakeFetcher()
	fetcher.add("octo/proj", "", pageResult{
		records: []*github.Issue{record(101, 1, testTime), record(102, 2, testTime.Add(time.Minute))},
	})

	syncer := newTestSyncer(t, database, fetcher)
	if _, err := syncer.SyncAll(context.Background()); err != nil {
		t.Fatalf("first SyncAll() error = %v", err)
	}

	summaries, err := syncer.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("second SyncAll() error = %v", err)
	}

	sum := summaries[0]
	if sum.ItemsUpserted != 0 {
		t.Errorf("second run ItemsUpserted = %d, want 0", sum.ItemsUpserted)
	}
	if sum.ItemsUnchanged != 2 {
		t.Errorf("second run ItemsUnchanged = %d, want 2", sum.ItemsUnchanged)
	}
	if got := itemCount(t, database); got != 2 {
		t.Errorf("stored items = %d, want 2", got)
	}
}

func TestPartialFailureIsolation(t *testing.T) {
	database := newTestDB(t)
	mustAdd(t, database, "aaa", "broken")
	mustAdd(t, database, "bbb", "healthy")

	fetcher := newFakeFetcher()
	fetcher.add("aaa/broken", "", pageResult{
		records: []*github.Issue{record(201, 1, testTime)},
		next:    "2",
	})
	fetcher.add("aaa/broken", "2", pageResult{
		err: &api.AuthError{StatusCode: 401, Err: errors.New("bad credentials")},
	})
	fetcher.add("bbb/healthy", "", pageResult{
		records: []*github.Issue{record(301, 1, testTime), record(302, 2, testTime)},
	})

	syncer := newTestSyncer(t, database, fetcher)
	summaries, err := syncer.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}

	var authErr *api.AuthError
	if summaries[0].Err == nil || !errors.As(summaries[0].Err, &authErr) {
		t.Errorf("aaa/broken error = %v, want AuthError", summaries[0].Err)
	}
	if summaries[0].ItemsUpserted != 1 {
		t.Errorf("aaa/broken ItemsUpserted = %d, want 1 (page 1 committed)", summaries[0].ItemsUpserted)
	}
	if summaries[1].Err != nil {
		t.Errorf("bbb/healthy error = %v, want nil", summaries[1].Err)
	}
	if summaries[1].ItemsUpserted != 2 {
		t.Errorf("bbb/healthy ItemsUpserted = %d, want 2", summaries[1].ItemsUpserted)
	}

	// Page 1 of the failed repository stays committed.
	if got := itemCount(t, database); got != 3 {
		t.Errorf("stored items = %d, want 3", got)
	}
}

func TestTransientRetry(t *testing.T) {
	database := newTestDB(t)
	mustAdd(t, database, "octo", "proj")

	fetcher := newFakeFetcher()
	fetcher.add("octo/proj", "",
		pageResult{err: errors.New("connection reset")},
		pageResult{err: errors.New("connection reset")},
		pageResult{records: []*github.Issue{record(101, 1, testTime)}},
	)

	var sleeps []time.Duration
	syncer := newTestSyncer(t, database, fetcher)
	syncer.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	summaries, err := syncer.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if summaries[0].Err != nil {
		t.Fatalf("summary error = %v, want success after retries", summaries[0].Err)
	}
	if len(sleeps) != 2 {
		t.Fatalf("backoff sleeps = %d, want 2", len(sleeps))
	}
	if sleeps[1] != 2*sleeps[0] {
		t.Errorf("backoff not exponential: %v then %v", sleeps[0], sleeps[1])
	}
}

func TestRetriesExhausted(t *testing.T) {
	database := newTestDB(t)
	mustAdd(t, database, "octo", "proj")

	fetcher := newFakeFetcher()
	fetcher.add("octo/proj", "", pageResult{err: errors.New("connection reset")})

	syncer := newTestSyncer(t, database, fetcher)
	syncer.maxAttempts = 2

	summaries, err := syncer.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if summaries[0].Err == nil {
		t.Fatal("summary error = nil, want exhausted retries")
	}
}

func TestRateLimitWait(t *testing.T) {
	database := newTestDB(t)
	mustAdd(t, database, "octo", "proj")

	fetcher := newFakeFetcher()
	fetcher.add("octo/proj", "",
		pageResult{err: &api.RateLimitError{RetryAfter: 42 * time.Second}},
		pageResult{records: []*github.Issue{record(101, 1, testTime)}},
	)

	var sleeps []time.Duration
	syncer := newTestSyncer(t, database, fetcher)
	syncer.maxAttempts = 1 // rate limit waits must not consume attempts
	syncer.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	summaries, err := syncer.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if summaries[0].Err != nil {
		t.Fatalf("summary error = %v, want success after wait", summaries[0].Err)
	}
	if len(sleeps) != 1 || sleeps[0] != 42*time.Second {
		t.Errorf("sleeps = %v, want [42s]", sleeps)
	}
}

func TestMalformedPageDropped(t *testing.T) {
	database := newTestDB(t)
	mustAdd(t, database, "octo", "proj")

	fetcher := newFakeFetcher()
	fetcher.add("octo/proj", "", pageResult{
		err: &api.MalformedError{Next: "2", Err: errors.New("invalid character '<'")},
	})
	fetcher.add("octo/proj", "2", pageResult{
		records: []*github.Issue{record(101, 1, testTime)},
	})

	syncer := newTestSyncer(t, database, fetcher)
	summaries, err := syncer.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}

	sum := summaries[0]
	if sum.Err != nil {
		t.Fatalf("summary error = %v, want success", sum.Err)
	}
	if sum.Warnings != 1 {
		t.Errorf("Warnings = %d, want 1", sum.Warnings)
	}
	if sum.ItemsUpserted != 1 {
		t.Errorf("ItemsUpserted = %d, want 1", sum.ItemsUpserted)
	}
}

func TestMalformedRecordsCounted(t *testing.T) {
	database := newTestDB(t)
	mustAdd(t, database, "octo", "proj")

	fetcher := newFakeFetcher()
	fetcher.add("octo/proj", "", pageResult{
		records: []*github.Issue{record(101, 1, testTime), nil, {Number: github.Int(2)}},
	})

	syncer := newTestSyncer(t, database, fetcher)
	summaries, err := syncer.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}

	sum := summaries[0]
	if sum.Warnings != 2 {
		t.Errorf("Warnings = %d, want 2", sum.Warnings)
	}
	if sum.ItemsUpserted != 1 {
		t.Errorf("ItemsUpserted = %d, want 1", sum.ItemsUpserted)
	}
}

func TestCrashResumeSafety(t *testing.T) {
	page1 := []*github.Issue{record(101, 1, testTime), record(102, 2, testTime)}
	page2 := []*github.Issue{record(103, 3, testTime.Add(time.Hour))}

	// Interrupted run: page 1 commits, page 2 never arrives.
	database := newTestDB(t)
	mustAdd(t, database, "octo", "proj")

	broken := newFakeFetcher()
	broken.add("octo/proj", "", pageResult{records: page1, next: "2"})
	broken.add("octo/proj", "2", pageResult{err: errors.New("connection reset")})

	syncer := newTestSyncer(t, database, broken)
	syncer.maxAttempts = 1
	summaries, err := syncer.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("interrupted SyncAll() error = %v", err)
	}
	if summaries[0].Err == nil {
		t.Fatal("interrupted run error = nil, want failure on page 2")
	}
	if got := itemCount(t, database); got != 2 {
		t.Fatalf("items after interruption = %d, want 2", got)
	}

	// Re-run from scratch against the same store.
	healthy := newFakeFetcher()
	healthy.add("octo/proj", "", pageResult{records: page1, next: "2"})
	healthy.add("octo/proj", "2", pageResult{records: page2})

	resumed := newTestSyncer(t, database, healthy)
	summaries, err = resumed.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("resumed SyncAll() error = %v", err)
	}
	sum := summaries[0]
	if sum.Err != nil {
		t.Fatalf("resumed run error = %v", sum.Err)
	}
	if sum.ItemsUnchanged != 2 || sum.ItemsUpserted != 1 {
		t.Errorf("resumed run = %d upserted, %d unchanged; want 1, 2",
			sum.ItemsUpserted, sum.ItemsUnchanged)
	}

	// Final state matches an uninterrupted single run.
	fresh := newTestDB(t)
	mustAdd(t, fresh, "octo", "proj")
	freshFetcher := newFakeFetcher()
	freshFetcher.add("octo/proj", "", pageResult{records: page1, next: "2"})
	freshFetcher.add("octo/proj", "2", pageResult{records: page2})
	if _, err := newTestSyncer(t, fresh, freshFetcher).SyncAll(context.Background()); err != nil {
		t.Fatalf("fresh SyncAll() error = %v", err)
	}

	got, err := database.ListItems(db.ItemFilter{State: "all", Kind: "all"})
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	want, err := fresh.ListItems(db.ItemFilter{State: "all", Kind: "all"})
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("resumed store has %d items, uninterrupted has %d", len(got), len(want))
	}
	for i := range got {
		if got[i].Number != want[i].Number || !got[i].UpdatedAt.Equal(want[i].UpdatedAt) {
			t.Errorf("item %d differs: got #%d@%v, want #%d@%v",
				i, got[i].Number, got[i].UpdatedAt, want[i].Number, want[i].UpdatedAt)
		}
	}
}

func TestSyncAllNoRepositories(t *testing.T) {
	database := newTestDB(t)
	syncer := newTestSyncer(t, database, newFakeFetcher())

	summaries, err := syncer.SyncAll(context.Background())
	if err != nil {
		t.Fatalf("SyncAll() error = %v", err)
	}
	if len(summaries) != 0 {
		t.Errorf("summaries = %d, want 0", len(summaries))
	}
}
