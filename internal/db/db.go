package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/wesm/gh-offline/internal/models"
)

// Sentinel results for repository management and lookups. These are
// normal negative outcomes, not internal failures.
var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyTracked = errors.New("repository already tracked")
	ErrNotTracked     = errors.New("repository not tracked")
)

// DB represents the local mirror database.
type DB struct {
	*sql.DB
}

// New opens (or creates) the mirror database at dbPath.
func New(dbPath string) (*DB, error) {
	// foreign_keys and busy_timeout are per-connection settings, so
	// they ride in the DSN where every pooled connection picks them
	// up. Cascade deletes depend on foreign_keys being on everywhere.
	dsn := "file:" + dbPath + "?_foreign_keys=on&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL is a property of the database file, not the connection.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	return &DB{DB: db}, nil
}

// Initialize creates the schema if it doesn't exist.
func (db *DB) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repositories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		UNIQUE(owner, name)
	);

	CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY,
		repository_id INTEGER NOT NULL,
		number INTEGER NOT NULL,
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT,
		state TEXT NOT NULL,
		author TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		closed_at TIMESTAMP,
		last_seen_at TIMESTAMP,
		FOREIGN KEY (repository_id) REFERENCES repositories(id) ON DELETE CASCADE,
		UNIQUE(repository_id, number)
	);

	CREATE TABLE IF NOT EXISTS labels (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repository_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (repository_id) REFERENCES repositories(id) ON DELETE CASCADE,
		UNIQUE(repository_id, name)
	);

	CREATE TABLE IF NOT EXISTS item_labels (
		item_id INTEGER NOT NULL,
		label_id INTEGER NOT NULL,
		PRIMARY KEY (item_id, label_id),
		FOREIGN KEY (item_id) REFERENCES items(id) ON DELETE CASCADE,
		FOREIGN KEY (label_id) REFERENCES labels(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS reactions (
		item_id INTEGER NOT NULL,
		kind TEXT NOT NULL,
		count INTEGER NOT NULL,
		PRIMARY KEY (item_id, kind),
		FOREIGN KEY (item_id) REFERENCES items(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_items_updated ON items(updated_at DESC, number DESC);
	`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// AddRepository starts tracking a repository. Returns ErrAlreadyTracked
// if (owner, name) is already present.
func (db *DB) AddRepository(owner, name string) (*models.Repository, error) {
	res, err := db.Exec(`INSERT INTO repositories (owner, name) VALUES (?, ?)`, owner, name)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return nil, ErrAlreadyTracked
		}
		return nil, fmt.Errorf("failed to add repository %s/%s: %w", owner, name, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read repository id: %w", err)
	}

	return &models.Repository{ID: id, Owner: owner, Name: name}, nil
}

// RemoveRepository stops tracking a repository and deletes everything
// scoped to it. Returns ErrNotTracked if it was never added.
func (db *DB) RemoveRepository(owner, name string) error {
	res, err := db.Exec(`DELETE FROM repositories WHERE owner = ? AND name = ?`, owner, name)
	if err != nil {
		return fmt.Errorf("failed to remove repository %s/%s: %w", owner, name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotTracked
	}

	return nil
}

// ListRepositories returns all tracked repositories ordered by owner,
// then name.
func (db *DB) ListRepositories() ([]models.Repository, error) {
	rows, err := db.Query(`SELECT id, owner, name FROM repositories ORDER BY owner ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer rows.Close()

	var repos []models.Repository
	for rows.Next() {
		var r models.Repository
		if err := rows.Scan(&r.ID, &r.Owner, &r.Name); err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, r)
	}

	return repos, rows.Err()
}

// GetRepository looks up a tracked repository by owner and name.
func (db *DB) GetRepository(owner, name string) (*models.Repository, error) {
	var r models.Repository
	err := db.QueryRow(`SELECT id, owner, name FROM repositories WHERE owner = ? AND name = ?`,
		owner, name).Scan(&r.ID, &r.Owner, &r.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotTracked
		}
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return &r, nil
}

// UpsertItem merges one item with its labels and reaction counts in a
// single transaction. The item row is only overwritten when the
// incoming updated_at is strictly newer than the stored one, so a
// stale concurrent fetch never clobbers newer data and a no-change
// sync performs zero writes. Returns whether the stored state changed.
func (db *DB) UpsertItem(bundle models.ItemBundle) (bool, error) {
	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	changed, err := upsertItemTx(tx, bundle)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit item #%d: %w", bundle.Item.Number, err)
	}

	return changed, nil
}

func upsertItemTx(tx *sql.Tx, bundle models.ItemBundle) (bool, error) {
	item := bundle.Item

	// Timestamps are compared as strings by SQLite, so they must all
	// carry the same offset.
	item.CreatedAt = item.CreatedAt.UTC()
	item.UpdatedAt = item.UpdatedAt.UTC()
	if item.ClosedAt != nil {
		t := item.ClosedAt.UTC()
		item.ClosedAt = &t
	}

	res, err := tx.Exec(`
	INSERT INTO items (id, repository_id, number, kind, title, body, state, author, created_at, updated_at, closed_at, last_seen_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(repository_id, number) DO UPDATE SET
		kind = excluded.kind,
		title = excluded.title,
		body = excluded.body,
		state = excluded.state,
		author = excluded.author,
		updated_at = excluded.updated_at,
		closed_at = excluded.closed_at,
		last_seen_at = excluded.last_seen_at
	WHERE excluded.updated_at > items.updated_at`,
		item.ID, item.RepositoryID, item.Number, item.Kind, item.Title, item.Body,
		item.State, item.Author, item.CreatedAt, item.UpdatedAt, nullTime(item.ClosedAt),
		time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to save item #%d: %w", item.Number, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		// Unchanged or stale: leave labels and reactions alone.
		return false, nil
	}

	if err := mergeLabelsTx(tx, item, bundle.Labels); err != nil {
		return false, err
	}
	if err := mergeReactionsTx(tx, item, bundle.Reactions); err != nil {
		return false, err
	}

	return true, nil
}

func mergeLabelsTx(tx *sql.Tx, item models.Item, labels []models.Label) error {
	labelIDs := make([]int64, 0, len(labels))
	for _, label := range labels {
		if _, err := tx.Exec(`
		INSERT INTO labels (repository_id, name, color)
		VALUES (?, ?, ?)
		ON CONFLICT(repository_id, name) DO UPDATE SET
			color = excluded.color
		WHERE labels.color <> excluded.color`,
			item.RepositoryID, label.Name, label.Color,
		); err != nil {
			return fmt.Errorf("failed to save label %s: %w", label.Name, err)
		}

		var labelID int64
		if err := tx.QueryRow(`SELECT id FROM labels WHERE repository_id = ? AND name = ?`,
			item.RepositoryID, label.Name).Scan(&labelID); err != nil {
			return fmt.Errorf("failed to look up label %s: %w", label.Name, err)
		}
		labelIDs = append(labelIDs, labelID)

		if _, err := tx.Exec(`
		INSERT INTO item_labels (item_id, label_id)
		VALUES (?, ?)
		ON CONFLICT(item_id, label_id) DO NOTHING`,
			item.ID, labelID,
		); err != nil {
			return fmt.Errorf("failed to link label %s: %w", label.Name, err)
		}
	}

	// Drop associations the remote no longer reports.
	query := `DELETE FROM item_labels WHERE item_id = ?`
	args := []any{item.ID}
	if len(labelIDs) > 0 {
		query += ` AND label_id NOT IN (?` + strings.Repeat(",?", len(labelIDs)-1) + `)`
		for _, id := range labelIDs {
			args = append(args, id)
		}
	}
	if _, err := tx.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to prune label links: %w", err)
	}

	return nil
}

func mergeReactionsTx(tx *sql.Tx, item models.Item, reactions []models.ReactionCount) error {
	kinds := make([]string, 0, len(reactions))
	for _, r := range reactions {
		if _, err := tx.Exec(`
		INSERT INTO reactions (item_id, kind, count)
		VALUES (?, ?, ?)
		ON CONFLICT(item_id, kind) DO UPDATE SET
			count = excluded.count
		WHERE reactions.count <> excluded.count`,
			item.ID, r.Kind, r.Count,
		); err != nil {
			return fmt.Errorf("failed to save reaction %s: %w", r.Kind, err)
		}
		kinds = append(kinds, r.Kind)
	}

	query := `DELETE FROM reactions WHERE item_id = ?`
	args := []any{item.ID}
	if len(kinds) > 0 {
		query += ` AND kind NOT IN (?` + strings.Repeat(",?", len(kinds)-1) + `)`
		for _, k := range kinds {
			args = append(args, k)
		}
	}
	if _, err := tx.Exec(query, args...); err != nil {
		return fmt.Errorf("failed to prune reactions: %w", err)
	}

	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// ItemFilter narrows ListItems. Zero values mean "no filter" for
// RepositoryID and "all" for State/Kind.
type ItemFilter struct {
	RepositoryID int64
	State        string
	Kind         string
}

// ItemWithRepo is an item joined with its owning repository, for
// display purposes.
type ItemWithRepo struct {
	models.Item
	RepoOwner string
	RepoName  string
}

// ListItems returns items matching the filter, ordered by updated_at
// descending with ties broken by number descending. The ordering is
// deterministic: the same filter over the same stored data always
// yields the same sequence.
func (db *DB) ListItems(filter ItemFilter) ([]ItemWithRepo, error) {
	query := `
	SELECT i.id, i.repository_id, i.number, i.kind, i.title, i.body, i.state,
	       i.author, i.created_at, i.updated_at, i.closed_at, r.owner, r.name
	FROM items i
	JOIN repositories r ON r.id = i.repository_id
	WHERE 1=1`
	var args []any

	if filter.RepositoryID != 0 {
		query += ` AND i.repository_id = ?`
		args = append(args, filter.RepositoryID)
	}
	if filter.State != "" && filter.State != "all" {
		query += ` AND i.state = ?`
		args = append(args, filter.State)
	}
	if filter.Kind != "" && filter.Kind != "all" {
		query += ` AND i.kind = ?`
		args = append(args, filter.Kind)
	}

	query += ` ORDER BY i.updated_at DESC, i.number DESC`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []ItemWithRepo
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// ItemDetail is one item with its labels, reaction counts, and owning
// repository.
type ItemDetail struct {
	ItemWithRepo
	Labels    []models.Label
	Reactions []models.ReactionCount
}

// GetItem looks up an item by its repo-scoped number across all
// tracked repositories, most recently updated match first. kind
// restricts the lookup when non-empty and not "all". Returns
// ErrNotFound when no item matches.
func (db *DB) GetItem(number int, kind string) (*ItemDetail, error) {
	query := `
	SELECT i.id, i.repository_id, i.number, i.kind, i.title, i.body, i.state,
	       i.author, i.created_at, i.updated_at, i.closed_at, r.owner, r.name
	FROM items i
	JOIN repositories r ON r.id = i.repository_id
	WHERE i.number = ?`
	args := []any{number}

	if kind != "" && kind != "all" {
		query += ` AND i.kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY i.updated_at DESC LIMIT 1`

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get item #%d: %w", number, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to get item #%d: %w", number, err)
		}
		return nil, ErrNotFound
	}

	item, err := scanItem(rows)
	if err != nil {
		return nil, err
	}
	rows.Close()

	detail := &ItemDetail{ItemWithRepo: item}

	labelRows, err := db.Query(`
	SELECT l.id, l.repository_id, l.name, l.color
	FROM item_labels il
	JOIN labels l ON l.id = il.label_id
	WHERE il.item_id = ?
	ORDER BY l.name ASC`, item.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load labels for #%d: %w", number, err)
	}
	defer labelRows.Close()
	for labelRows.Next() {
		var l models.Label
		if err := labelRows.Scan(&l.ID, &l.RepositoryID, &l.Name, &l.Color); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		detail.Labels = append(detail.Labels, l)
	}
	if err := labelRows.Err(); err != nil {
		return nil, err
	}

	reactionRows, err := db.Query(`
	SELECT item_id, kind, count FROM reactions
	WHERE item_id = ?
	ORDER BY kind ASC`, item.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reactions for #%d: %w", number, err)
	}
	defer reactionRows.Close()
	for reactionRows.Next() {
		var r models.ReactionCount
		if err := reactionRows.Scan(&r.ItemID, &r.Kind, &r.Count); err != nil {
			return nil, fmt.Errorf("failed to scan reaction: %w", err)
		}
		detail.Reactions = append(detail.Reactions, r)
	}
	if err := reactionRows.Err(); err != nil {
		return nil, err
	}

	return detail, nil
}

func scanItem(rows *sql.Rows) (ItemWithRepo, error) {
	var item ItemWithRepo
	var closedAt sql.NullTime
	err := rows.Scan(
		&item.ID, &item.RepositoryID, &item.Number, &item.Kind, &item.Title,
		&item.Body, &item.State, &item.Author, &item.CreatedAt, &item.UpdatedAt,
		&closedAt, &item.RepoOwner, &item.RepoName,
	)
	if err != nil {
		return ItemWithRepo{}, fmt.Errorf("failed to scan item: %w", err)
	}
	if closedAt.Valid {
		t := closedAt.Time
		item.ClosedAt = &t
	}
	return item, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.DB.Close()
}
