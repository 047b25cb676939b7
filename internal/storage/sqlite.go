package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/cindex-mcp/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
)

// nameSeparator joins qualified name segments in the entries table.
// "::" would lose anonymous segments on the way back.
const nameSeparator = "\x1f"

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db    *sql.DB
	retry RetryConfig
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, retry: DefaultRetryConfig()}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// withTx runs fn inside a transaction, committing only when fn succeeds
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Project operations

// projectIDWithQuerier returns the row id for a project, or ErrNotFound
func (s *SQLiteStorage) projectIDWithQuerier(ctx context.Context, q querier, projectPath string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, `SELECT id FROM projects WHERE root_path = ?`, projectPath).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// upsertProjectWithQuerier creates or touches the project row and returns its id
func (s *SQLiteStorage) upsertProjectWithQuerier(ctx context.Context, q querier, projectPath string, savedAt time.Time) (int64, error) {
	query := `
		INSERT INTO projects (root_path, index_version, saved_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(root_path) DO UPDATE SET
			index_version = excluded.index_version,
			saved_at = excluded.saved_at,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now()
	var id int64
	err := q.QueryRowContext(ctx, query, projectPath, CurrentSchemaVersion, savedAt, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert project: %w", err)
	}
	return id, nil
}

// Index operations

// SaveIndex replaces every row of the project inside one transaction, so
// readers see either the previous snapshot or the new one.
func (s *SQLiteStorage) SaveIndex(ctx context.Context, snap *Snapshot) error {
	if snap == nil || snap.ProjectPath == "" {
		return errors.New("snapshot with project path is required")
	}
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}
	return retryBusy(ctx, s.retry, func() error {
		return s.withTx(ctx, func(q querier) error {
			return s.saveIndexWithQuerier(ctx, q, snap)
		})
	})
}

func (s *SQLiteStorage) saveIndexWithQuerier(ctx context.Context, q querier, snap *Snapshot) error {
	projectID, err := s.upsertProjectWithQuerier(ctx, q, snap.ProjectPath, snap.SavedAt)
	if err != nil {
		return err
	}

	for _, table := range []string{"entries", "includes", "files"} {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+table+" WHERE project_id = ?", projectID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := s.insertFilesWithQuerier(ctx, q, projectID, snap.Files); err != nil {
		return err
	}
	if err := s.insertEntriesWithQuerier(ctx, q, projectID, snap.Entries); err != nil {
		return err
	}
	return s.insertIncludesWithQuerier(ctx, q, projectID, snap.Includes)
}

func (s *SQLiteStorage) insertFilesWithQuerier(ctx context.Context, q querier, projectID int64, files []FileRecord) error {
	stmt, err := q.PrepareContext(ctx, `INSERT INTO files (project_id, number, path, content_hash) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare file insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, f := range files {
		// SQLite integers are signed; the hash round-trips through int64
		if _, err := stmt.ExecContext(ctx, projectID, f.Number, f.Path, int64(f.ContentHash)); err != nil {
			return fmt.Errorf("failed to insert file %s: %w", f.Path, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) insertEntriesWithQuerier(ctx context.Context, q querier, projectID int64, entries []types.IndexEntry) error {
	stmt, err := q.PrepareContext(ctx, `
		INSERT INTO entries (project_id, file_number, kind, role, name, simple_name, name_offset, name_length, modifiers)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare entry insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range entries {
		e := &entries[i]
		_, err := stmt.ExecContext(ctx, projectID, e.FileNumber, string(e.Kind), string(e.Role),
			encodeName(e.Name), e.Name.Last(), e.NameOffset, e.NameLength, int64(e.Modifiers))
		if err != nil {
			return fmt.Errorf("failed to insert entry %s: %w", e.Name, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) insertIncludesWithQuerier(ctx context.Context, q querier, projectID int64, edges []IncludeEdge) error {
	stmt, err := q.PrepareContext(ctx, `INSERT OR IGNORE INTO includes (project_id, from_file, to_file) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare include insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, edge := range edges {
		if _, err := stmt.ExecContext(ctx, projectID, edge.From, edge.To); err != nil {
			return fmt.Errorf("failed to insert include %d->%d: %w", edge.From, edge.To, err)
		}
	}
	return nil
}

// LoadIndex reads a snapshot inside a transaction so it is consistent
func (s *SQLiteStorage) LoadIndex(ctx context.Context, projectPath string) (*Snapshot, error) {
	var snap *Snapshot
	err := s.withTx(ctx, func(q querier) error {
		var err error
		snap, err = s.loadIndexWithQuerier(ctx, q, projectPath)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLiteStorage) loadIndexWithQuerier(ctx context.Context, q querier, projectPath string) (*Snapshot, error) {
	var projectID int64
	var savedAt sql.NullTime
	err := q.QueryRowContext(ctx, `SELECT id, saved_at FROM projects WHERE root_path = ?`, projectPath).Scan(&projectID, &savedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{ProjectPath: projectPath}
	if savedAt.Valid {
		snap.SavedAt = savedAt.Time
	}

	if snap.Files, err = s.listFilesWithQuerier(ctx, q, projectID); err != nil {
		return nil, err
	}
	if snap.Entries, err = s.listEntriesWithQuerier(ctx, q, projectID); err != nil {
		return nil, err
	}
	if snap.Includes, err = s.listIncludesWithQuerier(ctx, q, projectID); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *SQLiteStorage) listFilesWithQuerier(ctx context.Context, q querier, projectID int64) ([]FileRecord, error) {
	rows, err := q.QueryContext(ctx, `SELECT number, path, content_hash FROM files WHERE project_id = ? ORDER BY number`, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	files := make([]FileRecord, 0)
	for rows.Next() {
		var f FileRecord
		var hash int64
		if err := rows.Scan(&f.Number, &f.Path, &hash); err != nil {
			return nil, err
		}
		f.ContentHash = uint64(hash)
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *SQLiteStorage) listEntriesWithQuerier(ctx context.Context, q querier, projectID int64) ([]types.IndexEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT file_number, kind, role, name, name_offset, name_length, modifiers
		FROM entries
		WHERE project_id = ?
		ORDER BY id
	`, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	entries := make([]types.IndexEntry, 0)
	for rows.Next() {
		var e types.IndexEntry
		var kind, role, name string
		var modifiers int64
		if err := rows.Scan(&e.FileNumber, &kind, &role, &name, &e.NameOffset, &e.NameLength, &modifiers); err != nil {
			return nil, err
		}
		e.Kind = types.EntryKind(kind)
		e.Role = types.Role(role)
		e.Name = decodeName(name)
		e.Modifiers = types.Modifier(modifiers)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *SQLiteStorage) listIncludesWithQuerier(ctx context.Context, q querier, projectID int64) ([]IncludeEdge, error) {
	rows, err := q.QueryContext(ctx, `SELECT from_file, to_file FROM includes WHERE project_id = ? ORDER BY from_file, to_file`, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	edges := make([]IncludeEdge, 0)
	for rows.Next() {
		var edge IncludeEdge
		if err := rows.Scan(&edge.From, &edge.To); err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

// DeleteIndex removes the project row; files, entries and includes cascade
func (s *SQLiteStorage) DeleteIndex(ctx context.Context, projectPath string) error {
	var result sql.Result
	err := retryBusy(ctx, s.retry, func() error {
		var err error
		result, err = s.db.ExecContext(ctx, `DELETE FROM projects WHERE root_path = ?`, projectPath)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete index: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListIndexes returns a summary of every durable index ordered by path
func (s *SQLiteStorage) ListIndexes(ctx context.Context) ([]IndexInfo, error) {
	query := `
		SELECT p.root_path, p.saved_at,
		       (SELECT COUNT(*) FROM files f WHERE f.project_id = p.id),
		       (SELECT COUNT(*) FROM entries e WHERE e.project_id = p.id)
		FROM projects p
		ORDER BY p.root_path
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	infos := make([]IndexInfo, 0)
	for rows.Next() {
		var info IndexInfo
		var savedAt sql.NullTime
		if err := rows.Scan(&info.ProjectPath, &savedAt, &info.FileCount, &info.EntryCount); err != nil {
			return nil, err
		}
		if savedAt.Valid {
			info.SavedAt = savedAt.Time
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Status operations

// CheckHealth runs a quick integrity check and reports database size
func (s *SQLiteStorage) CheckHealth(ctx context.Context) (*HealthStatus, error) {
	status := &HealthStatus{}

	var result string
	if err := s.db.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		status.Message = err.Error()
		return status, nil
	}
	status.DatabaseAccessible = true
	status.IntegrityOK = result == "ok"
	status.Message = result

	if v, err := schemaVersion(ctx, s.db); err == nil {
		status.SchemaVersion = v.String()
	}

	var pageCount, pageSize int
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.SizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	return status, nil
}

func encodeName(name types.QualifiedName) string {
	return strings.Join(name, nameSeparator)
}

func decodeName(s string) types.QualifiedName {
	return types.QualifiedName(strings.Split(s, nameSeparator))
}
