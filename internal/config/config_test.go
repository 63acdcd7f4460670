package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/jacentio/backref/internal/config"
	"github.com/jacentio/backref/model"
	"github.com/jacentio/backref/relation"
	"github.com/jacentio/backref/store"
	"github.com/jacentio/backref/store/badgerstore"
)

const sample = `
scanSegments: 4
models:
  - name: Parent
    table: parents
    schema:
      paths:
        children: {type: array, of: {type: ref}}
        name: {type: string}
  - name: Child
    schema:
      paths:
        parents:
          type: array
          of: {type: ref, ref: Parent, childPath: children, validateExistence: true}
    relations:
      relationshipPathName: parents
      triggerMiddleware: true
`

func TestParse(t *testing.T) {
	cfg, err := config.Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(cfg.Models))
	}
	if cfg.Models[0].Table != "parents" {
		t.Errorf("expected table 'parents', got %q", cfg.Models[0].Table)
	}
	if cfg.Models[1].Table != "Child" {
		t.Errorf("expected table to default to the name, got %q", cfg.Models[1].Table)
	}
	if cfg.Models[0].Relations != nil {
		t.Error("expected Parent without relations")
	}
	rel := cfg.Models[1].Relations
	if rel == nil || !slices.Equal(rel.RelationshipPathName, []string{"parents"}) || !rel.TriggerMiddleware {
		t.Errorf("unexpected relations %+v", rel)
	}
	spec, ok := cfg.Models[1].Schema.Path("parents")
	if !ok || spec.Of == nil || spec.Of.Ref != "Parent" || !spec.Of.ValidateExistence {
		t.Errorf("unexpected parents spec %+v", spec)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no models", "scanSegments: 2\n", "no models"},
		{"empty name", "models:\n  - table: t\n", "empty name"},
		{"duplicate", "models:\n  - name: A\n  - name: A\n", "declared twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.yaml))
			if !errors.Is(err, config.ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected %q in %q", tt.want, err.Error())
			}
		})
	}

	if _, err := config.Parse([]byte("models:\n  - name: A\n    schema:\n      paths:\n        x: {type: bogus}\n")); err == nil {
		t.Error("expected error for unknown field type")
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backref.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ScanSegments != 4 {
		t.Errorf("expected scanSegments 4, got %d", cfg.ScanSegments)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestConfig_Dynamo(t *testing.T) {
	cfg, err := config.Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	got := cfg.Dynamo(cfg.Models[0])
	if got.Table != "parents" {
		t.Errorf("expected table 'parents', got %q", got.Table)
	}
	if !slices.Equal(got.SetAttributes, []string{"children"}) {
		t.Errorf("expected set attributes [children], got %v", got.SetAttributes)
	}
	if got.ScanSegments != 4 {
		t.Errorf("expected 4 scan segments, got %d", got.ScanSegments)
	}
	if got.WriteConcurrency < 1 {
		t.Errorf("expected default write concurrency, got %d", got.WriteConcurrency)
	}
}

func TestConfig_Build(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	db, err := badgerstore.Open(badgerstore.InMemoryConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	reg := model.NewRegistry()
	bindings, err := cfg.Build(reg, func(m config.ModelConfig) store.Collection {
		return db.Collection(m.Table)
	}, nil)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(bindings) != 2 {
		t.Fatalf("expected 2 bindings, got %d", len(bindings))
	}
	if bindings[0].Relations != nil || bindings[1].Relations == nil {
		t.Fatal("expected relations on Child only")
	}
	if bindings[1].Table != "Child" || bindings[1].Relations.Model() != bindings[1].Model {
		t.Errorf("unexpected binding %+v", bindings[1])
	}

	parent, child := bindings[0].Model, bindings[1].Model
	if _, err := parent.Create(ctx, "p1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	doc := child.NewDocument()
	doc.Set("parents", []string{"p1"})
	if err := child.Save(ctx, doc); err != nil {
		t.Fatalf("save: %v", err)
	}
	p, err := parent.FindByID(ctx, "p1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got := store.IDs(p.Get("children")); !slices.Equal(got, []string{doc.ID}) {
		t.Errorf("expected children [%s], got %v", doc.ID, got)
	}

	missing := child.NewDocument()
	missing.Set("parents", []string{"nope"})
	if err := child.Save(ctx, missing); !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestConfig_BuildErrors(t *testing.T) {
	open := func(config.ModelConfig) store.Collection { return nil }

	dup, err := config.Parse([]byte("models:\n  - name: A\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	reg := model.NewRegistry()
	reg.MustRegister(model.New("A", model.Schema{}, nil))
	if _, err := dup.Build(reg, open, nil); !errors.Is(err, model.ErrDuplicateModel) {
		t.Errorf("expected ErrDuplicateModel, got %v", err)
	}

	bad, err := config.Parse([]byte("models:\n  - name: B\n    relations: {relationshipPathName: missing}\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, err = bad.Build(model.NewRegistry(), open, nil)
	if !errors.Is(err, relation.ErrConfiguration) || !strings.Contains(err.Error(), "model B") {
		t.Errorf("expected configuration error for model B, got %v", err)
	}
}
