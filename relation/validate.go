package relation

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/backref/model"
	"github.com/jacentio/backref/store"
)

// existenceValidator reports whether every target of a relationship value exists.
// With Upsert it creates missing targets instead, failing only when creation fails.
func (r *Relations) existenceValidator(d *Descriptor) model.ValidateFunc {
	return func(ctx context.Context, doc *store.Document, value any) (bool, error) {
		target, _, err := d.target(r.model.Registry())
		if err != nil {
			return false, err
		}

		ids := store.IDs(value)
		if len(ids) == 0 {
			return true, nil
		}
		if d.Upsert {
			return r.upsert(ctx, d, target, ids)
		}
		return r.exists(ctx, target, ids)
	}
}

func (r *Relations) exists(ctx context.Context, target *model.Model, ids []string) (bool, error) {
	if len(ids) == 1 {
		_, err := target.FindByID(ctx, ids[0])
		switch {
		case err == nil:
			return true, nil
		case errors.Is(err, store.ErrNotFound):
			return false, nil
		default:
			return false, fmt.Errorf("find %s %s: %w", target.Name(), ids[0], err)
		}
	}

	docs, err := target.Find(ctx, store.Filter{IDs: ids})
	if err != nil {
		return false, fmt.Errorf("find %s: %w", target.Name(), err)
	}
	return len(docs) == len(ids), nil
}

// upsert looks the targets up in one query and creates the missing ones
// concurrently. A target created by a concurrent writer counts as existing.
// Lookup failures are returned.
func (r *Relations) upsert(ctx context.Context, d *Descriptor, target *model.Model, ids []string) (bool, error) {
	docs, err := target.Find(ctx, store.Filter{IDs: ids})
	if err != nil {
		return false, fmt.Errorf("find %s: %w", target.Name(), err)
	}
	found := make([]string, len(docs))
	for i, doc := range docs {
		found[i] = doc.ID
	}
	missing := store.Difference(ids, found)
	if len(missing) == 0 {
		return true, nil
	}

	var g errgroup.Group
	ok := make([]bool, len(missing))
	for i, id := range missing {
		g.Go(func() error {
			if _, err := target.Create(ctx, id); err != nil && !errors.Is(err, store.ErrAlreadyExists) {
				r.logger.Warn("upsert failed", "ref", d.Ref, "id", id, "error", err)
				return nil
			}
			r.logger.Debug("target created", "ref", d.Ref, "id", id, "path", d.Path)
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()

	return !slices.Contains(ok, false), nil
}
