package sqlite

import (
	"context"
	"database/sql"

	"github.com/juju/errors"
	_ "modernc.org/sqlite"

	"github.com/warriorguo/flowgraph/store"
)

var (
	_ store.Store = &sqliteStore{}
)

type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database file at path; ":memory:" keeps it in memory.
func NewSQLiteStore(path string) (store.Store, error) {
	if path == "" {
		return nil, errors.NotValidf("empty sqlite path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open sqlite %s", path)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	s := &sqliteStore{db: db}
	if err := s.initTable(context.Background()); err != nil {
		db.Close()
		return nil, errors.Annotatef(err, "failed to initialize table")
	}
	return s, nil
}

func (s *sqliteStore) initTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS flowgraph_store (
			prefix TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (prefix, key)
		);
	`
	_, err := s.db.ExecContext(ctx, query)
	return errors.Annotatef(err, "failed to create table")
}

func (s *sqliteStore) Get(ctx context.Context, prefix, key string) ([]byte, error) {
	query := `SELECT value FROM flowgraph_store WHERE prefix = ? AND key = ?`

	var value []byte
	err := s.db.QueryRowContext(ctx, query, prefix, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Annotatef(err, "failed to get value for prefix=%s, key=%s", prefix, key)
	}
	if value == nil {
		value = []byte{}
	}
	return value, nil
}

func (s *sqliteStore) Set(ctx context.Context, prefix, key string, value []byte) error {
	query := `
		INSERT INTO flowgraph_store (prefix, key, value, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (prefix, key)
		DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
	if value == nil {
		value = []byte{}
	}
	_, err := s.db.ExecContext(ctx, query, prefix, key, value)
	return errors.Annotatef(err, "failed to set value for prefix=%s, key=%s", prefix, key)
}

func (s *sqliteStore) Remove(ctx context.Context, prefix, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM flowgraph_store WHERE prefix = ? AND key = ?`, prefix, key)
	return errors.Annotatef(err, "failed to remove value for prefix=%s, key=%s", prefix, key)
}

func (s *sqliteStore) List(ctx context.Context, prefix string, iterator func(key string) bool) error {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM flowgraph_store WHERE prefix = ? ORDER BY key`, prefix)
	if err != nil {
		return errors.Annotatef(err, "failed to list keys for prefix=%s", prefix)
	}
	keys := make([]string, 0)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			rows.Close()
			return errors.Annotatef(err, "failed to scan key")
		}
		keys = append(keys, key)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return errors.Annotatef(err, "error iterating rows")
	}

	// the iterator may call back into the store, which needs the only connection
	for _, key := range keys {
		if !iterator(key) {
			break
		}
	}
	return nil
}

func (s *sqliteStore) Close() error {
	return errors.Trace(s.db.Close())
}
