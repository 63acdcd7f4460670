// Package badgerstore provides an embedded document store on BadgerDB.
//
// Documents are BSON-encoded and keyed by the collection name, preceded by its
// uvarint length, followed by the id. Multi-document
// updates run inside a single Badger transaction, retried on conflict, so a
// concurrent UpdateMany never observes a half-applied operator.
//
// In-memory mode (see [InMemoryConfig]) is used by the test suites of the
// model and relation packages.
package badgerstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/jacentio/backref/store"
	"github.com/jacentio/backref/store/internal/bsondoc"
)

// maxConflictRetries bounds how often a conflicting transaction is replayed.
const maxConflictRetries = 16

// Config holds configuration for a Badger-backed store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logs. If nil, they are discarded.
	Logger *slog.Logger
}

// DefaultConfig returns a durable configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// DB is an open Badger database holding any number of collections.
type DB struct {
	db *badger.DB
}

// Open opens a database with the given configuration.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badgerstore: path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &DB{db: db}, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Collection returns the collection with the given name. Any name is valid:
// the length prefix keeps one collection's keys out of another's range.
func (d *DB) Collection(name string) *Collection {
	prefix := binary.AppendUvarint(nil, uint64(len(name)))
	return &Collection{db: d.db, name: name, prefix: append(prefix, name...)}
}

// Collection is a store.Collection backed by a key prefix.
type Collection struct {
	db     *badger.DB
	name   string
	prefix []byte
}

var _ store.Collection = (*Collection)(nil)

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

func (c *Collection) key(id string) []byte {
	k := make([]byte, 0, len(c.prefix)+len(id))
	k = append(k, c.prefix...)
	return append(k, id...)
}

// FindByID returns the document with the given id.
func (c *Collection) FindByID(ctx context.Context, id string) (*store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var doc *store.Document
	err := c.db.View(func(txn *badger.Txn) error {
		var err error
		doc, err = c.get(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Find returns every document matched by filter.
func (c *Collection) Find(ctx context.Context, filter store.Filter) ([]*store.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var docs []*store.Document
	err := c.db.View(func(txn *badger.Txn) error {
		return c.scan(txn, filter, func(doc *store.Document) error {
			docs = append(docs, doc)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// Insert writes a new document.
func (c *Collection) Insert(ctx context.Context, doc *store.Document) error {
	if doc.ID == "" {
		return store.ErrEmptyID
	}
	return c.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(c.key(doc.ID))
		if err == nil {
			return store.ErrAlreadyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return c.put(txn, doc)
	})
}

// Save writes the document, replacing any stored version.
func (c *Collection) Save(ctx context.Context, doc *store.Document) error {
	if doc.ID == "" {
		return store.ErrEmptyID
	}
	return c.update(ctx, func(txn *badger.Txn) error {
		return c.put(txn, doc)
	})
}

// UpdateMany applies update to every matched document in one transaction.
func (c *Collection) UpdateMany(ctx context.Context, filter store.Filter, update store.Update) (int64, error) {
	if err := update.Validate(); err != nil {
		return 0, err
	}
	var matched int64
	err := c.update(ctx, func(txn *badger.Txn) error {
		matched = 0
		var changed []*store.Document
		err := c.scan(txn, filter, func(doc *store.Document) error {
			matched++
			if update.Apply(doc) {
				changed = append(changed, doc)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, doc := range changed {
			if err := c.put(txn, doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return matched, nil
}

// Delete removes the document with the given id.
func (c *Collection) Delete(ctx context.Context, id string) error {
	return c.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(c.key(id))
	})
}

// update runs fn in a read-write transaction, replaying it on conflict.
func (c *Collection) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = c.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("badgerstore %s: %w", c.name, err)
}

func (c *Collection) get(txn *badger.Txn, id string) (*store.Document, error) {
	item, err := txn.Get(c.key(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return decode(id, raw)
}

// scan visits matched documents, using point reads when the filter names ids.
func (c *Collection) scan(txn *badger.Txn, filter store.Filter, visit func(*store.Document) error) error {
	if len(filter.IDs) > 0 {
		for _, id := range store.IDs(filter.IDs) {
			doc, err := c.get(txn, id)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if filter.Matches(doc) {
				if err := visit(doc); err != nil {
					return err
				}
			}
		}
		return nil
	}

	opts := badger.DefaultIteratorOptions
	opts.Prefix = c.prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Seek(c.prefix); it.ValidForPrefix(c.prefix); it.Next() {
		item := it.Item()
		id := string(item.Key()[len(c.prefix):])
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		doc, err := decode(id, raw)
		if err != nil {
			return err
		}
		if filter.Matches(doc) {
			if err := visit(doc); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Collection) put(txn *badger.Txn, doc *store.Document) error {
	raw, err := encode(doc)
	if err != nil {
		return err
	}
	return txn.Set(c.key(doc.ID), raw)
}

func encode(doc *store.Document) ([]byte, error) {
	fields := bson.M{}
	for k, v := range doc.Fields {
		fields[k] = v
	}
	raw, err := bson.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	return raw, nil
}

func decode(id string, raw []byte) (*store.Document, error) {
	var fields bson.M
	if err := bson.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	return store.Loaded(id, bsondoc.Fields(fields, "")), nil
}
