// Package sqlitestore implements store.Store on a single SQLite file using the
// pure-Go modernc.org/sqlite driver. Every namespace shares the same two tables.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/krisalay/offline-cache/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	ns    TEXT NOT NULL,
	key   TEXT NOT NULL,
	value BLOB NOT NULL,
	PRIMARY KEY (ns, key)
);
CREATE TABLE IF NOT EXISTS kv_index (
	ns    TEXT NOT NULL,
	key   TEXT NOT NULL,
	name  TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (ns, key, name)
);
CREATE INDEX IF NOT EXISTS kv_index_lookup ON kv_index (ns, name, value);
`

// DB is an open SQLite database holding any number of namespaces.
type DB struct {
	db *sql.DB
}

/*
Open opens (creating if needed) the database at path. Use ":memory:" for a
throwaway database.

The pool is limited to one connection: SQLite serializes writers anyway, and an
in-memory database only exists on the connection that created it.
*/
func Open(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Namespace returns the store.Store for ns.
func (d *DB) Namespace(ns string) store.Store {
	return &namespace{db: d.db, ns: ns}
}

// Close closes the database and every namespace on it.
func (d *DB) Close() error {
	return d.db.Close()
}

type namespace struct {
	db *sql.DB
	ns string
}

func (n *namespace) Get(ctx context.Context, key string) (store.Record, error) {
	var value []byte
	err := n.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE ns = ? AND key = ?`, n.ns, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("get %s/%s: %w", n.ns, key, err)
	}

	idx, err := n.indexes(ctx, key)
	if err != nil {
		return store.Record{}, err
	}
	return store.Record{Key: key, Value: value, Indexes: idx}, nil
}

func (n *namespace) Put(ctx context.Context, rec store.Record) error {
	tx, err := n.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", n.ns, rec.Key, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO kv (ns, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (ns, key) DO UPDATE SET value = excluded.value`,
		n.ns, rec.Key, rec.Value); err != nil {
		return fmt.Errorf("put %s/%s: %w", n.ns, rec.Key, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM kv_index WHERE ns = ? AND key = ?`, n.ns, rec.Key); err != nil {
		return fmt.Errorf("reindex %s/%s: %w", n.ns, rec.Key, err)
	}
	for name, value := range rec.Indexes {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO kv_index (ns, key, name, value) VALUES (?, ?, ?, ?)`,
			n.ns, rec.Key, name, value); err != nil {
			return fmt.Errorf("index %s/%s[%s]: %w", n.ns, rec.Key, name, err)
		}
	}
	return tx.Commit()
}

func (n *namespace) Delete(ctx context.Context, key string) error {
	tx, err := n.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", n.ns, key, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE ns = ? AND key = ?`, n.ns, key); err != nil {
		return fmt.Errorf("delete %s/%s: %w", n.ns, key, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM kv_index WHERE ns = ? AND key = ?`, n.ns, key); err != nil {
		return fmt.Errorf("delete index %s/%s: %w", n.ns, key, err)
	}
	return tx.Commit()
}

func (n *namespace) GetAll(ctx context.Context) ([]store.Record, error) {
	recs, err := n.scan(ctx,
		`SELECT key, value FROM kv WHERE ns = ? ORDER BY key`, n.ns)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", n.ns, err)
	}
	return n.withIndexes(ctx, recs)
}

func (n *namespace) Query(ctx context.Context, index, value string) ([]store.Record, error) {
	recs, err := n.scan(ctx,
		`SELECT kv.key, kv.value FROM kv
		 JOIN kv_index i ON i.ns = kv.ns AND i.key = kv.key
		 WHERE kv.ns = ? AND i.name = ? AND i.value = ?
		 ORDER BY kv.key`, n.ns, index, value)
	if err != nil {
		return nil, fmt.Errorf("query %s[%s=%s]: %w", n.ns, index, value, err)
	}
	return n.withIndexes(ctx, recs)
}

func (n *namespace) Close() error { return nil }

// scan reads key/value rows and closes the cursor before returning, so the single
// pooled connection is free for follow-up queries.
func (n *namespace) scan(ctx context.Context, query string, args ...any) ([]store.Record, error) {
	rows, err := n.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		var rec store.Record
		if err := rows.Scan(&rec.Key, &rec.Value); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (n *namespace) withIndexes(ctx context.Context, recs []store.Record) ([]store.Record, error) {
	for i := range recs {
		idx, err := n.indexes(ctx, recs[i].Key)
		if err != nil {
			return nil, err
		}
		recs[i].Indexes = idx
	}
	return recs, nil
}

func (n *namespace) indexes(ctx context.Context, key string) (map[string]string, error) {
	rows, err := n.db.QueryContext(ctx,
		`SELECT name, value FROM kv_index WHERE ns = ? AND key = ?`, n.ns, key)
	if err != nil {
		return nil, fmt.Errorf("indexes %s/%s: %w", n.ns, key, err)
	}
	defer rows.Close()

	var idx map[string]string
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		if idx == nil {
			idx = make(map[string]string)
		}
		idx[name] = value
	}
	return idx, rows.Err()
}
