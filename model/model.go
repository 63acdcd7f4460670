package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/backref/store"
)

// ValidateFunc checks the value of one path before a save.
// A false result is a validation failure; an error aborts the save.
type ValidateFunc func(ctx context.Context, doc *store.Document, value any) (bool, error)

// Hook runs before a save or remove.
//
// Hooks of one operation run concurrently. The store write starts once every
// hook has called proceed or returned, and the operation reports completion
// only after every hook has returned. A hook that fails before calling
// proceed cancels the write.
type Hook func(ctx context.Context, doc *store.Document, proceed func()) error

type validator struct {
	path    string
	fn      ValidateFunc
	message string
}

// Option configures a Model.
type Option func(*Model)

// WithLogger sets the model's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Model) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// Model binds a schema to a collection and runs validators and lifecycle hooks
// around persistence.
type Model struct {
	name     string
	schema   Schema
	coll     store.Collection
	registry *Registry
	logger   *slog.Logger

	mu           sync.RWMutex
	validators   []validator
	beforeSave   []Hook
	beforeRemove []Hook
}

// New creates a model. Register it with a Registry to make it resolvable by name.
func New(name string, schema Schema, coll store.Collection, opts ...Option) *Model {
	m := &Model{
		name:   name,
		schema: schema,
		coll:   coll,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the model name.
func (m *Model) Name() string { return m.name }

// Schema returns the model's schema.
func (m *Model) Schema() Schema { return m.schema }

// Collection returns the backing collection.
func (m *Model) Collection() store.Collection { return m.coll }

// Registry returns the registry the model belongs to, or nil.
func (m *Model) Registry() *Registry { return m.registry }

// Logger returns the model's logger.
func (m *Model) Logger() *slog.Logger { return m.logger }

// PathCardinality reports how the model stores path, and whether path is declared.
func (m *Model) PathCardinality(path string) (store.Cardinality, bool) {
	f, ok := m.schema.Path(path)
	if !ok {
		return 0, false
	}
	return f.Cardinality(), true
}

// Validate registers a validator for path. message is reported when fn returns false.
func (m *Model) Validate(path string, fn ValidateFunc, message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validators = append(m.validators, validator{path: path, fn: fn, message: message})
}

// BeforeSave registers a pre-save hook.
func (m *Model) BeforeSave(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beforeSave = append(m.beforeSave, h)
}

// BeforeRemove registers a pre-remove hook.
func (m *Model) BeforeRemove(h Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beforeRemove = append(m.beforeRemove, h)
}

// NewDocument returns an unsaved document with a random id.
func (m *Model) NewDocument() *store.Document {
	return store.NewDocument(uuid.NewString())
}

// FindByID loads a document.
func (m *Model) FindByID(ctx context.Context, id string) (*store.Document, error) {
	return m.coll.FindByID(ctx, id)
}

// Find loads every document matched by filter.
func (m *Model) Find(ctx context.Context, filter store.Filter) ([]*store.Document, error) {
	return m.coll.Find(ctx, filter)
}

// Create saves a new minimal document with the given id.
func (m *Model) Create(ctx context.Context, id string) (*store.Document, error) {
	doc := store.NewDocument(id)
	if err := m.Save(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Save validates doc, runs the pre-save hooks and writes it.
// New documents are inserted; persisted documents are replaced.
func (m *Model) Save(ctx context.Context, doc *store.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if err := m.validate(ctx, doc); err != nil {
		return err
	}

	m.mu.RLock()
	hooks := append([]Hook(nil), m.beforeSave...)
	m.mu.RUnlock()

	insert := doc.IsNew()
	written, err := runHooks(ctx, doc, hooks, func(ctx context.Context) error {
		if insert {
			return m.coll.Insert(ctx, doc)
		}
		return m.coll.Save(ctx, doc)
	})
	if err != nil {
		if written {
			doc.MarkPersisted()
		}
		return err
	}
	doc.ClearModified()
	return nil
}

// Remove runs the pre-remove hooks and deletes doc.
func (m *Model) Remove(ctx context.Context, doc *store.Document) error {
	m.mu.RLock()
	hooks := append([]Hook(nil), m.beforeRemove...)
	m.mu.RUnlock()

	_, err := runHooks(ctx, doc, hooks, func(ctx context.Context) error {
		return m.coll.Delete(ctx, doc.ID)
	})
	return err
}

// validate runs the validators of every modified path concurrently.
func (m *Model) validate(ctx context.Context, doc *store.Document) error {
	m.mu.RLock()
	validators := append([]validator(nil), m.validators...)
	m.mu.RUnlock()

	var (
		mu       sync.Mutex
		failures []FieldError
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, v := range validators {
		value := doc.Get(v.path)
		if value == nil || !doc.IsModified(v.path) {
			continue
		}
		g.Go(func() error {
			ok, err := v.fn(gctx, doc, value)
			if err != nil {
				return fmt.Errorf("validate %s.%s: %w", m.name, v.path, err)
			}
			if !ok {
				mu.Lock()
				failures = append(failures, FieldError{Path: v.path, Message: v.message})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(failures) == 0 {
		return nil
	}

	sort.Slice(failures, func(i, j int) bool { return failures[i].Path < failures[j].Path })
	m.logger.Debug("validation failed", "model", m.name, "id", doc.ID, "failures", len(failures))
	return &ValidationError{Model: m.name, Errors: failures}
}

// runHooks runs hooks concurrently, performs write once all of them released it,
// and joins every error. written reports whether write succeeded.
func runHooks(ctx context.Context, doc *store.Document, hooks []Hook, write func(context.Context) error) (written bool, err error) {
	if len(hooks) == 0 {
		if err := write(ctx); err != nil {
			return false, err
		}
		return true, nil
	}

	var (
		g        errgroup.Group
		aborted  atomic.Bool
		released = make([]chan struct{}, len(hooks))
		errs     = make([]error, len(hooks)+1)
	)
	for i, h := range hooks {
		ch := make(chan struct{})
		released[i] = ch
		var once sync.Once
		var proceeded atomic.Bool
		proceed := func() {
			once.Do(func() {
				proceeded.Store(true)
				close(ch)
			})
		}
		g.Go(func() error {
			err := h(ctx, doc, proceed)
			if err != nil && !proceeded.Load() {
				aborted.Store(true)
			}
			proceed()
			errs[i] = err
			return nil
		})
	}

	for _, ch := range released {
		<-ch
	}
	if !aborted.Load() {
		if werr := write(ctx); werr != nil {
			errs[len(hooks)] = werr
		} else {
			written = true
		}
	}

	_ = g.Wait()
	return written, errors.Join(errs...)
}
