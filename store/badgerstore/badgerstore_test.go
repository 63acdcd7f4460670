package badgerstore_test

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"testing"

	"github.com/jacentio/backref/store"
	"github.com/jacentio/backref/store/badgerstore"
)

func openCollection(t *testing.T, name string) *badgerstore.Collection {
	t.Helper()
	db, err := badgerstore.Open(badgerstore.InMemoryConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db.Collection(name)
}

func seed(t *testing.T, c store.Collection, docs ...*store.Document) {
	t.Helper()
	for _, doc := range docs {
		if err := c.Insert(context.Background(), doc); err != nil {
			t.Fatalf("insert %s: %v", doc.ID, err)
		}
	}
}

func ids(docs []*store.Document) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.ID)
	}
	sort.Strings(out)
	return out
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := badgerstore.Open(badgerstore.Config{})
	if err == nil {
		t.Fatal("expected error for persistent config without path")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := badgerstore.DefaultConfig("/tmp/x")
	if cfg.Path != "/tmp/x" || !cfg.SyncWrites || cfg.InMemory {
		t.Errorf("unexpected default config: %+v", cfg)
	}
}

func TestCollection_InsertAndFindByID(t *testing.T) {
	ctx := context.Background()
	c := openCollection(t, "parents")

	doc := store.NewDocument("p1")
	doc.Set("name", "first")
	doc.Set("children", []string{"c1", "c2"})
	seed(t, c, doc)

	got, err := c.FindByID(ctx, "p1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.IsNew() {
		t.Error("expected loaded document to be persisted")
	}
	if got.Get("name") != "first" {
		t.Errorf("expected name 'first', got %v", got.Get("name"))
	}
	if ids := store.IDs(got.Get("children")); !reflect.DeepEqual(ids, []string{"c1", "c2"}) {
		t.Errorf("expected children [c1 c2], got %v", ids)
	}
}

func TestCollection_FindByID_NotFound(t *testing.T) {
	c := openCollection(t, "parents")

	_, err := c.FindByID(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCollection_InsertDuplicate(t *testing.T) {
	c := openCollection(t, "parents")
	seed(t, c, store.NewDocument("p1"))

	err := c.Insert(context.Background(), store.NewDocument("p1"))
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCollection_EmptyID(t *testing.T) {
	c := openCollection(t, "parents")

	if err := c.Insert(context.Background(), store.NewDocument("")); !errors.Is(err, store.ErrEmptyID) {
		t.Errorf("expected ErrEmptyID on insert, got %v", err)
	}
	if err := c.Save(context.Background(), store.NewDocument("")); !errors.Is(err, store.ErrEmptyID) {
		t.Errorf("expected ErrEmptyID on save, got %v", err)
	}
}

func TestCollection_CollectionsAreIsolated(t *testing.T) {
	tests := []struct {
		name    string
		seeded  string
		other   string
		otherID string
	}{
		{name: "distinct names", seeded: "parents", other: "children", otherID: "x"},
		{name: "name is a prefix of the other", seeded: "a", other: "a/b", otherID: "x"},
		{name: "name extends the other", seeded: "a/b", other: "a", otherID: "b/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, err := badgerstore.Open(badgerstore.InMemoryConfig())
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			defer db.Close()

			seeded := db.Collection(tt.seeded)
			other := db.Collection(tt.other)
			seed(t, seeded, store.NewDocument("x"))

			if _, err := other.FindByID(context.Background(), tt.otherID); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("expected ErrNotFound across collections, got %v", err)
			}
			all, err := other.Find(context.Background(), store.Filter{})
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if len(all) != 0 {
				t.Errorf("expected empty collection, got %v", ids(all))
			}
			if _, err := seeded.FindByID(context.Background(), "x"); err != nil {
				t.Errorf("expected x in %s, got %v", tt.seeded, err)
			}
		})
	}
}

func TestCollection_Find(t *testing.T) {
	ctx := context.Background()
	c := openCollection(t, "parents")

	p1 := store.NewDocument("p1")
	p1.Set("children", []string{"c1"})
	p2 := store.NewDocument("p2")
	p2.Set("children", []string{"c1", "c2"})
	p3 := store.NewDocument("p3")
	seed(t, c, p1, p2, p3)

	tests := []struct {
		name     string
		filter   store.Filter
		expected []string
	}{
		{"all", store.Filter{}, []string{"p1", "p2", "p3"}},
		{"by ids", store.Filter{IDs: []string{"p1", "p3", "missing"}}, []string{"p1", "p3"}},
		{"contains", store.Filter{Contains: &store.Match{Path: "children", Value: "c1"}}, []string{"p1", "p2"}},
		{
			"contains excluding",
			store.Filter{ExcludeIDs: []string{"p2"}, Contains: &store.Match{Path: "children", Value: "c1"}},
			[]string{"p1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := c.Find(ctx, tt.filter)
			if err != nil {
				t.Fatalf("find: %v", err)
			}
			if got := ids(docs); !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestCollection_UpdateMany(t *testing.T) {
	ctx := context.Background()
	c := openCollection(t, "parents")
	seed(t, c, store.NewDocument("p1"), store.NewDocument("p2"), store.NewDocument("p3"))

	n, err := c.UpdateMany(ctx,
		store.Filter{IDs: []string{"p1", "p2"}},
		store.Update{Op: store.OpAddToSet, Path: "children", Value: "c1"},
	)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 matched, got %d", n)
	}

	// Repeating the add is a no-op.
	if _, err := c.UpdateMany(ctx,
		store.Filter{IDs: []string{"p1", "p2"}},
		store.Update{Op: store.OpAddToSet, Path: "children", Value: "c1"},
	); err != nil {
		t.Fatalf("update: %v", err)
	}

	p1, _ := c.FindByID(ctx, "p1")
	if got := store.IDs(p1.Get("children")); !reflect.DeepEqual(got, []string{"c1"}) {
		t.Errorf("expected [c1], got %v", got)
	}
	p3, _ := c.FindByID(ctx, "p3")
	if p3.Get("children") != nil {
		t.Errorf("expected p3 untouched, got %v", p3.Get("children"))
	}

	// Sweep shape: pull from every holder except p2.
	n, err = c.UpdateMany(ctx,
		store.Filter{ExcludeIDs: []string{"p2"}, Contains: &store.Match{Path: "children", Value: "c1"}},
		store.Update{Op: store.OpPull, Path: "children", Value: "c1"},
	)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 matched, got %d", n)
	}
	p1, _ = c.FindByID(ctx, "p1")
	if len(store.IDs(p1.Get("children"))) != 0 {
		t.Errorf("expected p1 swept, got %v", p1.Get("children"))
	}
	p2, _ := c.FindByID(ctx, "p2")
	if !store.Holds(p2.Get("children"), "c1") {
		t.Error("expected p2 to keep c1")
	}
}

func TestCollection_UpdateMany_SetUnset(t *testing.T) {
	ctx := context.Background()
	c := openCollection(t, "parents")
	seed(t, c, store.NewDocument("p1"))

	if _, err := c.UpdateMany(ctx, store.Filter{IDs: []string{"p1"}},
		store.Update{Op: store.OpSet, Path: "child", Value: "c1"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	p1, _ := c.FindByID(ctx, "p1")
	if p1.Get("child") != "c1" {
		t.Errorf("expected child 'c1', got %v", p1.Get("child"))
	}

	if _, err := c.UpdateMany(ctx, store.Filter{IDs: []string{"p1"}},
		store.Update{Op: store.OpUnset, Path: "child"}); err != nil {
		t.Fatalf("unset: %v", err)
	}
	p1, _ = c.FindByID(ctx, "p1")
	if _, ok := p1.Fields["child"]; ok {
		t.Errorf("expected child removed, got %v", p1.Get("child"))
	}
}

func TestCollection_UpdateMany_InvalidUpdate(t *testing.T) {
	c := openCollection(t, "parents")

	_, err := c.UpdateMany(context.Background(), store.Filter{}, store.Update{Op: store.OpSet})
	if !errors.Is(err, store.ErrInvalidUpdate) {
		t.Errorf("expected ErrInvalidUpdate, got %v", err)
	}
}

func TestCollection_UpdateMany_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := openCollection(t, "parents")
	seed(t, c, store.NewDocument("p1"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			if _, err := c.UpdateMany(ctx, store.Filter{IDs: []string{"p1"}},
				store.Update{Op: store.OpAddToSet, Path: "children", Value: id}); err != nil {
				t.Errorf("update %s: %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	p1, _ := c.FindByID(ctx, "p1")
	if got := len(store.IDs(p1.Get("children"))); got != 8 {
		t.Errorf("expected 8 children, got %d", got)
	}
}

func TestCollection_SaveAndDelete(t *testing.T) {
	ctx := context.Background()
	c := openCollection(t, "parents")

	doc := store.NewDocument("p1")
	doc.Set("name", "a")
	if err := c.Save(ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	doc.Set("name", "b")
	if err := c.Save(ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, _ := c.FindByID(ctx, "p1")
	if got.Get("name") != "b" {
		t.Errorf("expected name 'b', got %v", got.Get("name"))
	}

	if err := c.Delete(ctx, "p1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.FindByID(ctx, "p1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := c.Delete(ctx, "p1"); err != nil {
		t.Errorf("expected deleting a missing document to succeed, got %v", err)
	}
}

func TestCollection_ContextCanceled(t *testing.T) {
	c := openCollection(t, "parents")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.FindByID(ctx, "p1"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if err := c.Save(ctx, store.NewDocument("p1")); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
