// Package db provides the SQLite persistence layer for the content vault.
//
// The database holds two tables: content rows keyed uniquely by
// (folder, file), and append-only revision rows referencing them. Both
// halves of every mutation (content change, revision append) happen inside
// one transaction so the pair commits or rolls back together.
//
// The database runs in embedded mode using WAL for concurrent reads, with
// transactions started in immediate mode so concurrent writers to the same
// key serialize at the engine instead of racing a select-then-insert.
package db

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// DB wraps the SQLite connection with vault-specific functionality.
type DB struct {
	conn *sql.DB
	path string
}

// Entry is one stored content row. Content is nil when the row is a
// tombstone (Deleted set).
type Entry struct {
	ID      int64
	Folder  string
	File    string
	Content []byte
	Deleted bool
}

// Revision is one row of the append-only revision log, joined with the
// folder and file of its owning content entry.
type Revision struct {
	ID        int64
	ContentID int64
	Folder    string
	File      string
	Token     string
	CreatedAt time.Time
	CreatedBy string
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads and
// immediate transactions for writer serialization. If the database doesn't
// exist, it is created; call InitSchema before first use.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_txlock=immediate", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	// WAL mode for concurrent reads during writes
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Revision rows cascade when their content row is hard-deleted
	if _, err := db.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
//
// This is idempotent - safe to call multiple times. The uniqueness
// constraint on (folder, file) is what lets UpsertEntry run as a single
// atomic statement.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS content (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		folder TEXT NOT NULL,
		file TEXT NOT NULL,
		content BLOB,
		deleted INTEGER NOT NULL DEFAULT 0,
		UNIQUE (folder, file)
	);

	CREATE TABLE IF NOT EXISTS revisions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content_id INTEGER NOT NULL,
		revision TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL,
		created_by TEXT NOT NULL,
		FOREIGN KEY (content_id) REFERENCES content(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_content_folder ON content(folder);
	CREATE INDEX IF NOT EXISTS idx_revisions_content ON revisions(content_id);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// UpsertEntry inserts or updates a content row as one atomic statement.
// An existing tombstone is revived. No revision row is written; this is
// the bulk-population path used during folder resync.
func (db *DB) UpsertEntry(folder, file string, content []byte) error {
	return db.UpsertEntryContext(context.Background(), folder, file, content)
}

// UpsertEntryContext inserts or updates a content row with context support.
func (db *DB) UpsertEntryContext(ctx context.Context, folder, file string, content []byte) error {
	if _, err := db.conn.ExecContext(ctx, upsertQuery, folder, file, content); err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", folder, file, err)
	}
	return nil
}

const upsertQuery = `
INSERT INTO content (folder, file, content, deleted)
VALUES (?, ?, ?, 0)
ON CONFLICT(folder, file) DO UPDATE SET
	content = excluded.content,
	deleted = 0
`

// GetEntry retrieves a single content row, tombstones included.
// Returns sql.ErrNoRows if no row exists.
func (db *DB) GetEntry(folder, file string) (*Entry, error) {
	return db.GetEntryContext(context.Background(), folder, file)
}

// GetEntryContext retrieves a single content row with context support.
func (db *DB) GetEntryContext(ctx context.Context, folder, file string) (*Entry, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, folder, file, content, deleted FROM content WHERE folder = ? AND file = ?`,
		folder, file)

	var e Entry
	var deleted int
	if err := row.Scan(&e.ID, &e.Folder, &e.File, &e.Content, &deleted); err != nil {
		return nil, err
	}
	e.Deleted = deleted != 0
	return &e, nil
}

// ListFiles returns the live (non-deleted) file names in a folder,
// ordered by name.
func (db *DB) ListFiles(folder string) ([]string, error) {
	return db.ListFilesContext(context.Background(), folder)
}

// ListFilesContext returns live file names with context support.
func (db *DB) ListFilesContext(ctx context.Context, folder string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT file FROM content WHERE folder = ? AND deleted = 0 ORDER BY file ASC`,
		folder)
	if err != nil {
		return nil, fmt.Errorf("failed to list files in %s: %w", folder, err)
	}
	defer rows.Close()

	var files []string
	for rows.Next() {
		var file string
		if err := rows.Scan(&file); err != nil {
			return nil, fmt.Errorf("failed to scan file name: %w", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating files: %w", err)
	}

	return files, nil
}

// RecordRevision writes content and appends a revision row in one
// transaction. When the stored content is byte-identical to the new
// content, nothing is written and recorded is false.
func (db *DB) RecordRevision(folder, file string, content []byte, token, author string) (bool, error) {
	return db.RecordRevisionContext(context.Background(), folder, file, content, token, author)
}

// RecordRevisionContext writes content and a revision row with context
// support.
func (db *DB) RecordRevisionContext(ctx context.Context, folder, file string, content []byte, token, author string) (recorded bool, err error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing []byte
	var deleted int
	err = tx.QueryRowContext(ctx,
		`SELECT content, deleted FROM content WHERE folder = ? AND file = ?`,
		folder, file).Scan(&existing, &deleted)
	switch {
	case err == sql.ErrNoRows:
		// first write for this key
	case err != nil:
		return false, fmt.Errorf("failed to read current content: %w", err)
	case deleted == 0 && bytes.Equal(existing, content):
		// unchanged save, suppress spurious revision churn
		return false, nil
	}

	var contentID int64
	err = tx.QueryRowContext(ctx, upsertQuery+` RETURNING id`, folder, file, content).Scan(&contentID)
	if err != nil {
		return false, fmt.Errorf("failed to upsert content: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO revisions (content_id, revision, created_at, created_by) VALUES (?, ?, ?, ?)`,
		contentID, token, time.Now().UTC().Format(time.RFC3339Nano), author); err != nil {
		return false, fmt.Errorf("failed to append revision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return true, nil
}

// SoftDelete tombstones a content row and appends a revision row in one
// transaction. Returns sql.ErrNoRows if no live row exists; the revision
// log is left unchanged in that case.
func (db *DB) SoftDelete(folder, file, token, author string) error {
	return db.SoftDeleteContext(context.Background(), folder, file, token, author)
}

// SoftDeleteContext tombstones a content row with context support.
func (db *DB) SoftDeleteContext(ctx context.Context, folder, file, token, author string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var contentID int64
	var deleted int
	err = tx.QueryRowContext(ctx,
		`SELECT id, deleted FROM content WHERE folder = ? AND file = ?`,
		folder, file).Scan(&contentID, &deleted)
	if err != nil {
		return err
	}
	if deleted != 0 {
		return sql.ErrNoRows
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE content SET content = NULL, deleted = 1 WHERE id = ?`,
		contentID); err != nil {
		return fmt.Errorf("failed to tombstone %s/%s: %w", folder, file, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO revisions (content_id, revision, created_at, created_by) VALUES (?, ?, ?, ?)`,
		contentID, token, time.Now().UTC().Format(time.RFC3339Nano), author); err != nil {
		return fmt.Errorf("failed to append revision: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ListRevisions returns every revision row for a folder joined with its
// file name, most recent first.
func (db *DB) ListRevisions(folder string) ([]*Revision, error) {
	return db.ListRevisionsContext(context.Background(), folder)
}

// ListRevisionsContext returns a folder's revisions with context support.
func (db *DB) ListRevisionsContext(ctx context.Context, folder string) ([]*Revision, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT r.id, r.content_id, c.folder, c.file, r.revision, r.created_at, r.created_by
		FROM revisions r
		JOIN content c ON c.id = r.content_id
		WHERE c.folder = ?
		ORDER BY r.created_at DESC, r.id DESC`,
		folder)
	if err != nil {
		return nil, fmt.Errorf("failed to query revisions for %s: %w", folder, err)
	}
	defer rows.Close()

	var revisions []*Revision
	for rows.Next() {
		var r Revision
		var createdAt string
		if err := rows.Scan(&r.ID, &r.ContentID, &r.Folder, &r.File, &r.Token, &createdAt, &r.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			r.CreatedAt = t
		}
		revisions = append(revisions, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating revisions: %w", err)
	}

	return revisions, nil
}

// DeleteRevisions permanently removes revision rows by token. Used when
// a folder's manifest marks tokens as released.
func (db *DB) DeleteRevisions(tokens []string) error {
	return db.DeleteRevisionsContext(context.Background(), tokens)
}

// DeleteRevisionsContext removes revision rows with context support.
func (db *DB) DeleteRevisionsContext(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}

	placeholders := strings.Repeat("?,", len(tokens))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, len(tokens))
	for i, token := range tokens {
		args[i] = token
	}

	query := `DELETE FROM revisions WHERE revision IN (` + placeholders + `)`
	if _, err := db.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete released revisions: %w", err)
	}

	return nil
}

// ResyncFolder forces a folder's content rows to exactly match files, in
// one transaction: every listed file is upserted and every row whose file
// is absent from the set is hard-deleted, tombstones included. Revision
// rows of hard-deleted entries cascade away. No revision rows are written;
// bulk population must not itself count as an unreleased change.
func (db *DB) ResyncFolder(folder string, files map[string][]byte) error {
	return db.ResyncFolderContext(context.Background(), folder, files)
}

// ResyncFolderContext forces folder content with context support.
func (db *DB) ResyncFolderContext(ctx context.Context, folder string, files map[string][]byte) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	names := make([]string, 0, len(files))
	for file := range files {
		names = append(names, file)
	}
	sort.Strings(names)

	for _, file := range names {
		if _, err := tx.ExecContext(ctx, upsertQuery, folder, file, files[file]); err != nil {
			return fmt.Errorf("failed to upsert %s/%s: %w", folder, file, err)
		}
	}

	query := `DELETE FROM content WHERE folder = ?`
	args := []interface{}{folder}
	if len(names) > 0 {
		placeholders := strings.Repeat("?,", len(names))
		placeholders = placeholders[:len(placeholders)-1]
		query += ` AND file NOT IN (` + placeholders + `)`
		for _, file := range names {
			args = append(args, file)
		}
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to prune stale entries in %s: %w", folder, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// EntriesForFiles retrieves the content rows for the named files in a
// folder, tombstones included, ordered by file name. Files with no row
// are silently skipped.
func (db *DB) EntriesForFiles(folder string, files []string) ([]*Entry, error) {
	return db.EntriesForFilesContext(context.Background(), folder, files)
}

// EntriesForFilesContext retrieves content rows with context support.
func (db *DB) EntriesForFilesContext(ctx context.Context, folder string, files []string) ([]*Entry, error) {
	if len(files) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(files))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]interface{}, 0, len(files)+1)
	args = append(args, folder)
	for _, file := range files {
		args = append(args, file)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, folder, file, content, deleted FROM content
		 WHERE folder = ? AND file IN (`+placeholders+`)
		 ORDER BY file ASC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries in %s: %w", folder, err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var e Entry
		var deleted int
		if err := rows.Scan(&e.ID, &e.Folder, &e.File, &e.Content, &deleted); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Deleted = deleted != 0
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}

	return entries, nil
}

// CountRevisions returns the total number of revision rows for a folder.
func (db *DB) CountRevisions(folder string) (int, error) {
	return db.CountRevisionsContext(context.Background(), folder)
}

// CountRevisionsContext returns the revision count with context support.
func (db *DB) CountRevisionsContext(ctx context.Context, folder string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM revisions r JOIN content c ON c.id = r.content_id WHERE c.folder = ?`,
		folder).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count revisions: %w", err)
	}
	return count, nil
}
