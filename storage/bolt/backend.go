// Package bolt implements storage.Backend on a single bbolt file.
//
// Each storage bucket maps to a bbolt bucket created on first write. bbolt
// holds an exclusive file lock, so only one process may open a database.
package bolt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/poiesic/contractor/storage"
	"go.etcd.io/bbolt"
)

// lockTimeout bounds the wait for another process's file lock.
const lockTimeout = 5 * time.Second

// Backend implements storage.Backend on bbolt.
type Backend struct {
	db *bbolt.DB
}

var _ storage.Backend = (*Backend)(nil)

// OpenBackend opens or creates the database file at path.
func OpenBackend(path string) (*Backend, error) {
	if path == "" {
		return nil, errors.New("bolt: database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: lockTimeout})
	if err != nil {
		return nil, fmt.Errorf("open bolt database %s: %w", path, err)
	}
	return &Backend{db: db}, nil
}

// Name returns "bolt".
func (b *Backend) Name() string {
	return "bolt"
}

// Close closes the database file.
func (b *Backend) Close() error {
	return b.db.Close()
}

// WithTx runs fn in db.Update or db.View.
func (b *Backend) WithTx(fn func(tx storage.Tx) error, isWrite bool) error {
	run := b.db.View
	if isWrite {
		run = b.db.Update
	}
	err := run(func(tx *bbolt.Tx) error {
		return fn(&txn{tx: tx})
	})
	if errors.Is(err, bbolt.ErrDatabaseNotOpen) {
		return storage.ErrStorageClosed
	}
	return err
}

type txn struct {
	tx *bbolt.Tx
}

func (t *txn) Get(bucket string, key []byte) ([]byte, error) {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return nil, storage.ErrNotFound
	}
	v := b.Get(key)
	if v == nil {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *txn) Put(bucket string, key, value []byte) error {
	b, err := t.tx.CreateBucketIfNotExists([]byte(bucket))
	if err != nil {
		return err
	}
	return b.Put(key, value)
}

func (t *txn) Delete(bucket string, key []byte) error {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return nil
	}
	return b.Delete(key)
}

func (t *txn) ForEach(bucket string, fn func(key, value []byte) error) error {
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return nil
	}
	return b.ForEach(fn)
}

func (t *txn) DeleteBucket(bucket string) error {
	err := t.tx.DeleteBucket([]byte(bucket))
	if errors.Is(err, bbolt.ErrBucketNotFound) {
		return nil
	}
	return err
}
