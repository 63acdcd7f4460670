package relation

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/jacentio/backref/model"
	"github.com/jacentio/backref/store"
)

// cascade reloads the targets and resaves each through the target model, so
// hooks attached to it observe the back-reference change. Every resave is
// attempted; failures are joined.
func (r *Relations) cascade(ctx context.Context, d *Descriptor, target *model.Model, ids []string) error {
	docs, err := target.Find(ctx, store.Filter{IDs: ids})
	if err != nil {
		return fmt.Errorf("cascade %s: %w", d.Ref, err)
	}

	var g errgroup.Group
	g.SetLimit(r.config.CascadeConcurrency)
	errs := make([]error, len(docs))
	for i, doc := range docs {
		g.Go(func() error {
			doc.MarkModified(d.ChildPath)
			if err := target.Save(ctx, doc); err != nil {
				errs[i] = fmt.Errorf("cascade %s %s: %w", d.Ref, doc.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	r.logger.Info("targets resaved",
		"model", r.model.Name(),
		"path", d.Path,
		"ref", d.Ref,
		"count", len(docs),
	)
	return errors.Join(errs...)
}
