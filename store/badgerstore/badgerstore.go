// Package badgerstore implements store.Store on an embedded Badger database.
//
// Layout, per namespace ns:
//
//	ns/d/<key>                     -> msgpack(envelope{value, indexes})
//	ns/i/<name>/<value>/<key>      -> empty
//
// Index entries are rewritten together with the data entry in one transaction.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v3"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/krisalay/offline-cache/store"
)

const sep = "/"

type envelope struct {
	Value   []byte            `msgpack:"v"`
	Indexes map[string]string `msgpack:"i,omitempty"`
}

// DB is an open Badger database holding any number of namespaces.
type DB struct {
	db *badger.DB
}

// Open opens the database in dir. An empty dir opens an in-memory database.
func Open(dir string) (*DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger %q: %w", dir, err)
	}
	return &DB{db: db}, nil
}

// Namespace returns the store.Store for ns. ns must not contain "/".
func (d *DB) Namespace(ns string) store.Store {
	return &namespace{db: d.db, ns: ns}
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

type namespace struct {
	db *badger.DB
	ns string
}

func (n *namespace) dataKey(key string) []byte {
	return []byte(n.ns + sep + "d" + sep + key)
}

func (n *namespace) dataPrefix() []byte {
	return []byte(n.ns + sep + "d" + sep)
}

func (n *namespace) indexPrefix(name, value string) []byte {
	return []byte(n.ns + sep + "i" + sep + name + sep + value + sep)
}

func (n *namespace) Get(ctx context.Context, key string) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, err
	}
	var rec store.Record
	err := n.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = n.read(txn, key)
		return err
	})
	return rec, err
}

func (n *namespace) Put(ctx context.Context, rec store.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := msgpack.Marshal(envelope{Value: rec.Value, Indexes: rec.Indexes})
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", n.ns, rec.Key, err)
	}
	return n.db.Update(func(txn *badger.Txn) error {
		if err := n.dropIndexes(txn, rec.Key); err != nil {
			return err
		}
		if err := txn.Set(n.dataKey(rec.Key), raw); err != nil {
			return fmt.Errorf("put %s/%s: %w", n.ns, rec.Key, err)
		}
		for name, value := range rec.Indexes {
			if err := txn.Set(append(n.indexPrefix(name, value), rec.Key...), nil); err != nil {
				return fmt.Errorf("index %s/%s[%s]: %w", n.ns, rec.Key, name, err)
			}
		}
		return nil
	})
}

func (n *namespace) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.db.Update(func(txn *badger.Txn) error {
		if err := n.dropIndexes(txn, key); err != nil {
			return err
		}
		if err := txn.Delete(n.dataKey(key)); err != nil {
			return fmt.Errorf("delete %s/%s: %w", n.ns, key, err)
		}
		return nil
	})
}

func (n *namespace) GetAll(ctx context.Context) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []store.Record
	err := n.db.View(func(txn *badger.Txn) error {
		prefix := n.dataPrefix()
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := decode(strings.TrimPrefix(string(item.Key()), string(prefix)), raw)
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", n.ns, err)
	}
	return out, nil
}

func (n *namespace) Query(ctx context.Context, index, value string) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []store.Record
	err := n.db.View(func(txn *badger.Txn) error {
		prefix := n.indexPrefix(index, value)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		var keys []string
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, strings.TrimPrefix(string(it.Item().Key()), string(prefix)))
		}
		for _, k := range keys {
			rec, err := n.read(txn, k)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query %s[%s=%s]: %w", n.ns, index, value, err)
	}
	return out, nil
}

func (n *namespace) Close() error { return nil }

func (n *namespace) read(txn *badger.Txn, key string) (store.Record, error) {
	item, err := txn.Get(n.dataKey(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("get %s/%s: %w", n.ns, key, err)
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return store.Record{}, fmt.Errorf("get %s/%s: %w", n.ns, key, err)
	}
	return decode(key, raw)
}

// dropIndexes removes the index entries of the currently stored version of key.
func (n *namespace) dropIndexes(txn *badger.Txn, key string) error {
	old, err := n.read(txn, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	for name, value := range old.Indexes {
		if err := txn.Delete(append(n.indexPrefix(name, value), key...)); err != nil {
			return fmt.Errorf("unindex %s/%s[%s]: %w", n.ns, key, name, err)
		}
	}
	return nil
}

func decode(key string, raw []byte) (store.Record, error) {
	var env envelope
	if err := msgpack.Unmarshal(raw, &env); err != nil {
		return store.Record{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return store.Record{Key: key, Value: env.Value, Indexes: env.Indexes}, nil
}
