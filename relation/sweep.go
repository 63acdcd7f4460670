package relation

import (
	"context"
	"fmt"

	"github.com/jacentio/backref/model"
	"github.com/jacentio/backref/store"
)

// Sweep erases doc from the back-reference of every target that is not in
// current. With an empty current value every holder is swept.
func (r *Relations) Sweep(ctx context.Context, doc *store.Document, path string, current any) error {
	d, err := r.descriptor(path)
	if err != nil {
		return err
	}
	target, backRef, err := d.target(r.model.Registry())
	if err != nil {
		return pathError(d, err)
	}
	return pathError(d, r.sweep(ctx, doc, d, target, backRef, store.IDs(current)))
}

func (r *Relations) sweep(ctx context.Context, doc *store.Document, d *Descriptor, target *model.Model, backRef store.Cardinality, current []string) error {
	filter := store.Filter{
		ExcludeIDs: current,
		Contains:   &store.Match{Path: d.ChildPath, Value: doc.ID},
	}
	update := store.Update{Op: operation(backRef, ActionRemove), Path: d.ChildPath, Value: doc.ID}

	matched, err := target.Collection().UpdateMany(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("sweep %s.%s: %w", d.Ref, d.ChildPath, err)
	}
	if matched > 0 {
		r.logger.Info("stale back-references removed",
			"model", r.model.Name(),
			"id", doc.ID,
			"path", d.Path,
			"ref", d.Ref,
			"count", matched,
		)
	}
	return nil
}
