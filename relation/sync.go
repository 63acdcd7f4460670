package relation

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/backref/model"
	"github.com/jacentio/backref/store"
)

// Sync moves doc's back-references on path from the targets of oldValue to
// the targets of newValue, then sweeps stale holders and, if configured,
// resaves the updated targets.
func (r *Relations) Sync(ctx context.Context, doc *store.Document, path string, oldValue, newValue any) error {
	d, err := r.descriptor(path)
	if err != nil {
		return err
	}
	return pathError(d, r.sync(ctx, doc, d, oldValue, newValue))
}

// UpdateCollection applies a single action for value on path: add records doc
// on every target of value, remove erases it. Holders outside value are swept
// in both cases.
func (r *Relations) UpdateCollection(ctx context.Context, doc *store.Document, path string, value any, action Action) error {
	d, err := r.descriptor(path)
	if err != nil {
		return err
	}
	target, backRef, err := d.target(r.model.Registry())
	if err != nil {
		return pathError(d, err)
	}

	ids := store.IDs(value)
	if len(ids) > 0 {
		if err := r.apply(ctx, doc, d, target, backRef, ids, action); err != nil {
			return pathError(d, err)
		}
	}
	if err := r.sweep(ctx, doc, d, target, backRef, ids); err != nil {
		return pathError(d, err)
	}
	if len(ids) > 0 && d.Cascade {
		return pathError(d, r.cascade(ctx, d, target, ids))
	}
	return nil
}

func (r *Relations) sync(ctx context.Context, doc *store.Document, d *Descriptor, oldValue, newValue any) error {
	target, backRef, err := d.target(r.model.Registry())
	if err != nil {
		return err
	}

	current := store.IDs(newValue)
	removed := store.Difference(store.IDs(oldValue), current)

	// Targets still referenced are re-added: the operators are idempotent and
	// this repairs a target that missed an earlier add.
	switch {
	case len(removed) > 0 && len(current) > 0:
		var g errgroup.Group
		g.Go(func() error {
			return r.apply(ctx, doc, d, target, backRef, removed, ActionRemove)
		})
		g.Go(func() error {
			return r.apply(ctx, doc, d, target, backRef, current, ActionAdd)
		})
		if err := g.Wait(); err != nil {
			return err
		}
	case len(removed) > 0:
		if err := r.apply(ctx, doc, d, target, backRef, removed, ActionRemove); err != nil {
			return err
		}
	case len(current) > 0:
		if err := r.apply(ctx, doc, d, target, backRef, current, ActionAdd); err != nil {
			return err
		}
	}

	if err := r.sweep(ctx, doc, d, target, backRef, current); err != nil {
		return err
	}

	if d.Cascade {
		touched := append(append([]string(nil), removed...), current...)
		if len(touched) > 0 {
			return r.cascade(ctx, d, target, touched)
		}
	}
	return nil
}

// apply issues one multi-document update recording or erasing doc on ids.
func (r *Relations) apply(ctx context.Context, doc *store.Document, d *Descriptor, target *model.Model, backRef store.Cardinality, ids []string, action Action) error {
	filter := store.Filter{IDs: ids}
	if action == ActionRemove && backRef == store.One {
		// Never unset a single-valued back-reference now owned by another document.
		filter.Contains = &store.Match{Path: d.ChildPath, Value: doc.ID}
	}
	update := store.Update{Op: operation(backRef, action), Path: d.ChildPath, Value: doc.ID}

	matched, err := target.Collection().UpdateMany(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("%s %s.%s: %w", action, d.Ref, d.ChildPath, err)
	}

	r.logger.Debug("back-references updated",
		"model", r.model.Name(),
		"id", doc.ID,
		"path", d.Path,
		"ref", d.Ref,
		"op", update.Op.String(),
		"targets", len(ids),
		"matched", matched,
	)
	return nil
}
