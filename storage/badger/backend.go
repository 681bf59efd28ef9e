package badger

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/poiesic/contractor/storage"
)

// Backend implements storage.Backend on BadgerDB. Buckets are key prefixes.
type Backend struct {
	db     *badger.DB
	logger *slog.Logger
}

var _ storage.Backend = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithLogger routes badger's own log output through logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// badgerLoggerAdapter adapts slog.Logger to badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// OpenBackend opens a BadgerDB database at the specified path.
// Creates the directory if it doesn't exist.
func OpenBackend(filePath string, inMemory bool, opts ...Option) (*Backend, error) {
	b := &Backend{logger: slog.Default()}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "badger")

	var bopts badger.Options
	if inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		info, err := os.Stat(filePath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, err
			}
			if err := os.MkdirAll(filePath, 0755); err != nil {
				return nil, err
			}
			if info, err = os.Stat(filePath); err != nil {
				return nil, err
			}
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", filePath)
		}
		bopts = badger.DefaultOptions(filePath)
	}

	bopts.Logger = &badgerLoggerAdapter{logger: b.logger}
	bopts.Compression = options.None

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	b.db = db
	return b, nil
}

// Name returns "badger".
func (b *Backend) Name() string {
	return "badger"
}

// Close closes the BadgerDB database.
func (b *Backend) Close() error {
	return b.db.Close()
}

// IsClosed returns true if the database is closed.
func (b *Backend) IsClosed() bool {
	return b.db.IsClosed()
}

// WithTx executes fn within a BadgerDB transaction. Write transactions
// commit when fn returns nil. A write set too large for one badger
// transaction is committed in several.
func (b *Backend) WithTx(fn func(tx storage.Tx) error, isWrite bool) error {
	if b.db.IsClosed() {
		return storage.ErrStorageClosed
	}
	t := &txn{db: b.db, tx: b.db.NewTransaction(isWrite), write: isWrite}
	defer func() { t.tx.Discard() }()

	if err := fn(t); err != nil {
		return err
	}
	if !isWrite {
		return nil
	}
	return t.tx.Commit()
}

type txn struct {
	db    *badger.DB
	tx    *badger.Txn
	write bool
}

func (t *txn) Get(bucket string, key []byte) ([]byte, error) {
	item, err := t.tx.Get(makeKey(bucket, key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *txn) Put(bucket string, key, value []byte) error {
	k := makeKey(bucket, key)
	err := t.tx.Set(k, value)
	if errors.Is(err, badger.ErrTxnTooBig) {
		if err := t.flush(); err != nil {
			return err
		}
		return t.tx.Set(k, value)
	}
	return err
}

func (t *txn) Delete(bucket string, key []byte) error {
	k := makeKey(bucket, key)
	err := t.tx.Delete(k)
	if errors.Is(err, badger.ErrTxnTooBig) {
		if err := t.flush(); err != nil {
			return err
		}
		return t.tx.Delete(k)
	}
	return err
}

func (t *txn) ForEach(bucket string, fn func(key, value []byte) error) error {
	prefix := bucketPrefix(bucket)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := t.tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.Valid(); iter.Next() {
		item := iter.Item()
		key := item.Key()[len(prefix):]
		err := item.Value(func(val []byte) error {
			return fn(key, val)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) DeleteBucket(bucket string) error {
	prefix := bucketPrefix(bucket)
	var keys [][]byte
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	iter := t.tx.NewIterator(opts)
	for iter.Rewind(); iter.Valid(); iter.Next() {
		keys = append(keys, iter.Item().KeyCopy(nil)[len(prefix):])
	}
	iter.Close()

	for _, k := range keys {
		if err := t.Delete(bucket, k); err != nil {
			return err
		}
	}
	return nil
}

// flush commits the pending writes and continues in a fresh transaction.
func (t *txn) flush() error {
	if err := t.tx.Commit(); err != nil {
		return err
	}
	t.tx = t.db.NewTransaction(t.write)
	return nil
}
