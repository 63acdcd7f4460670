package relation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/backref/model"
	"github.com/jacentio/backref/store"
)

// Option configures Relations.
type Option func(*Relations)

// WithLogger sets the logger. Defaults to the model's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relations) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Relations keeps the back-references of one model's relationship paths in sync.
type Relations struct {
	model       *model.Model
	config      Config
	descriptors []*Descriptor
	byPath      map[string]*Descriptor
	logger      *slog.Logger
}

// Attach resolves every configured relationship path of m and registers the
// existence validators and the pre-save and pre-remove hooks.
//
// If any path fails to resolve, Attach returns a *ConfigurationError and
// leaves m untouched.
func Attach(m *model.Model, cfg Config, opts ...Option) (*Relations, error) {
	cfg.validate()

	r := &Relations{
		model:  m,
		config: cfg,
		byPath: make(map[string]*Descriptor, len(cfg.RelationshipPathName)),
		logger: m.Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	for _, path := range cfg.RelationshipPathName {
		if _, dup := r.byPath[path]; dup {
			return nil, &ConfigurationError{Path: path, Reason: "Relationship " + path + " is declared twice"}
		}
		d, err := Resolve(m.Schema(), path)
		if err != nil {
			return nil, err
		}
		d.Cascade = cfg.TriggerMiddleware
		r.descriptors = append(r.descriptors, d)
		r.byPath[path] = d
	}

	for _, d := range r.descriptors {
		if d.ValidateExistence || d.Upsert {
			m.Validate(d.Path, r.existenceValidator(d), d.Message())
		}
	}
	m.BeforeSave(r.beforeSave)
	m.BeforeRemove(r.beforeRemove)

	r.logger.Debug("relationships attached",
		"model", m.Name(),
		"paths", len(r.descriptors),
		"triggerMiddleware", cfg.TriggerMiddleware,
	)
	return r, nil
}

// Model returns the owning model.
func (r *Relations) Model() *model.Model {
	return r.model
}

// Descriptors returns the resolved relationship paths in configuration order.
func (r *Relations) Descriptors() []*Descriptor {
	return append([]*Descriptor(nil), r.descriptors...)
}

// Descriptor returns the descriptor of path.
func (r *Relations) Descriptor(path string) (*Descriptor, bool) {
	d, ok := r.byPath[path]
	return d, ok
}

func (r *Relations) descriptor(path string) (*Descriptor, error) {
	d, ok := r.byPath[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownPath, r.model.Name(), path)
	}
	return d, nil
}

// beforeSave loads the stored version of doc, lets the write proceed and
// synchronizes every modified relationship path.
func (r *Relations) beforeSave(ctx context.Context, doc *store.Document, proceed func()) error {
	var old *store.Document
	if !doc.IsNew() {
		stored, err := r.model.FindByID(ctx, doc.ID)
		switch {
		case err == nil:
			old = stored
		case errors.Is(err, store.ErrNotFound):
		default:
			return fmt.Errorf("load %s %s: %w", r.model.Name(), doc.ID, err)
		}
	}
	proceed()

	var modified []*Descriptor
	for _, d := range r.descriptors {
		if doc.IsModified(d.Path) {
			modified = append(modified, d)
		}
	}

	return r.each(modified, func(d *Descriptor) error {
		var oldValue any
		if old != nil {
			oldValue = old.Get(d.Path)
		}
		return r.sync(ctx, doc, d, oldValue, doc.Get(d.Path))
	})
}

// beforeRemove treats every relationship value of doc as removed.
func (r *Relations) beforeRemove(ctx context.Context, doc *store.Document, proceed func()) error {
	proceed()
	return r.Release(ctx, doc)
}

// Release erases doc from the back-references of every relationship path,
// as the pre-remove hook does. It is used for documents deleted outside Remove.
func (r *Relations) Release(ctx context.Context, doc *store.Document) error {
	return r.each(r.descriptors, func(d *Descriptor) error {
		return r.sync(ctx, doc, d, doc.Get(d.Path), nil)
	})
}

// each runs fn for every descriptor concurrently. One path's failure does not
// stop the others; all errors are joined.
func (r *Relations) each(descriptors []*Descriptor, fn func(d *Descriptor) error) error {
	if len(descriptors) == 1 {
		return pathError(descriptors[0], fn(descriptors[0]))
	}

	var g errgroup.Group
	errs := make([]error, len(descriptors))
	for i, d := range descriptors {
		g.Go(func() error {
			errs[i] = pathError(d, fn(d))
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func pathError(d *Descriptor, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("relationship %s: %w", d.Path, err)
}
