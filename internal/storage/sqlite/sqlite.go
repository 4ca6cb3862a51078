// Package sqlite provides a SQLite-backed implementation of the storage.Backend interface.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	"github.com/mapchat/syncd/internal/storage"
)

// Ensure Backend implements storage.Backend
var _ storage.Backend = (*Backend)(nil)

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Backend implements storage.Backend using a single SQLite documents table.
type Backend struct {
	db  *sqlx.DB
	now func() time.Time
}

type documentRow struct {
	Collection string `db:"collection"`
	ID         string `db:"id"`
	Body       string `db:"body"`
	Version    int64  `db:"version"`
	UpdatedAt  int64  `db:"updated_at"`
}

func (r documentRow) document() *storage.Document {
	return &storage.Document{
		Key:       storage.Key{Collection: r.Collection, ID: r.ID},
		Data:      []byte(r.Body),
		Version:   r.Version,
		UpdatedAt: time.Unix(0, r.UpdatedAt).UTC(),
	}
}

// New opens the database at dbPath, creating parent directories and running
// migrations automatically.
func New(dbPath string) (*Backend, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writers, so read-then-write commits cannot hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Backend{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (b *Backend) Close() error {
	return b.db.Close()
}

// Get retrieves one document.
func (b *Backend) Get(ctx context.Context, key storage.Key) (*storage.Document, error) {
	var row documentRow
	err := b.db.GetContext(ctx, &row,
		"SELECT collection, id, body, version, updated_at FROM documents WHERE collection = ? AND id = ?",
		key.Collection, key.ID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return row.document(), nil
}

// Query selects documents matching every filter, ordered by id.
func (b *Backend) Query(ctx context.Context, collection string, opts storage.QueryOptions) ([]*storage.Document, error) {
	where := []string{"collection = ?"}
	args := []any{collection}

	for _, f := range opts.Filters {
		clause, fargs, err := filterClause(f)
		if err != nil {
			return nil, err
		}
		where = append(where, clause)
		args = append(args, fargs...)
	}

	query := "SELECT collection, id, body, version, updated_at FROM documents WHERE " +
		strings.Join(where, " AND ") + " ORDER BY id"
	if opts.Descending {
		query += " DESC"
	}
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	var rows []documentRow
	if err := b.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}

	docs := make([]*storage.Document, len(rows))
	for i, row := range rows {
		docs[i] = row.document()
	}
	return docs, nil
}

func filterClause(f storage.Filter) (string, []any, error) {
	if !fieldPattern.MatchString(f.Field) {
		return "", nil, fmt.Errorf("invalid filter field %q", f.Field)
	}
	value, err := storage.NormalizeValue(f.Value)
	if err != nil {
		return "", nil, err
	}
	// JSON1 reports true/false as 1/0.
	if bv, ok := value.(bool); ok {
		if bv {
			value = 1
		} else {
			value = 0
		}
	}
	path := "$." + f.Field

	switch f.Op {
	case storage.OpEqual:
		if value == nil {
			return "json_extract(body, ?) IS NULL", []any{path}, nil
		}
		return "json_extract(body, ?) = ?", []any{path, value}, nil
	case storage.OpArrayContains:
		return "EXISTS (SELECT 1 FROM json_each(body, ?) WHERE json_each.value = ?)", []any{path, value}, nil
	default:
		return "", nil, fmt.Errorf("unsupported filter operator %d", f.Op)
	}
}

// Commit applies all mutations in one transaction.
func (b *Backend) Commit(ctx context.Context, mutations []storage.Mutation) ([]storage.Change, error) {
	tx, err := b.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := b.now().UnixNano()
	changes := make([]storage.Change, 0, len(mutations))

	for _, m := range mutations {
		var stored documentRow
		err := tx.GetContext(ctx, &stored,
			"SELECT collection, id, body, version, updated_at FROM documents WHERE collection = ? AND id = ?",
			m.Key.Collection, m.Key.ID,
		)
		exists := err == nil
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to read %s: %w", m.Key, err)
		}
		if err := storage.CheckPrecondition(m, stored.Version); err != nil {
			return nil, err
		}

		switch m.Kind {
		case storage.MutationSet, storage.MutationUpdate:
			body := m.Data
			if m.Kind == storage.MutationUpdate {
				if !exists {
					return nil, fmt.Errorf("%w: cannot update %s", storage.ErrNotFound, m.Key)
				}
				if body, err = storage.MergeFields([]byte(stored.Body), m.Data); err != nil {
					return nil, err
				}
			}
			version := stored.Version + 1
			_, err = tx.ExecContext(ctx, `
				INSERT INTO documents (collection, id, body, version, updated_at)
				VALUES (?, ?, ?, ?, ?)
				ON CONFLICT (collection, id) DO UPDATE
				SET body = excluded.body, version = excluded.version, updated_at = excluded.updated_at`,
				m.Key.Collection, m.Key.ID, string(body), version, now,
			)
			if err != nil {
				return nil, fmt.Errorf("failed to write %s: %w", m.Key, err)
			}
			changes = append(changes, storage.Change{Key: m.Key, Kind: storage.ChangePut, Data: body, Version: version})

		case storage.MutationDelete:
			if _, err := tx.ExecContext(ctx,
				"DELETE FROM documents WHERE collection = ? AND id = ?",
				m.Key.Collection, m.Key.ID,
			); err != nil {
				return nil, fmt.Errorf("failed to delete %s: %w", m.Key, err)
			}
			changes = append(changes, storage.Change{Key: m.Key, Kind: storage.ChangeDelete, Version: stored.Version})

		default:
			return nil, fmt.Errorf("unsupported mutation kind %d", m.Kind)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return changes, nil
}
