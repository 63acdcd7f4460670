package bsondoc

import (
	"reflect"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestFields(t *testing.T) {
	in := bson.M{
		"_id":      "p1",
		"name":     "first",
		"children": primitive.A{"c1", "c2"},
		"meta":     primitive.D{{Key: "tags", Value: primitive.A{"x"}}},
		"nested":   bson.M{"n": int32(1)},
	}
	want := map[string]any{
		"name":     "first",
		"children": []any{"c1", "c2"},
		"meta":     map[string]any{"tags": []any{"x"}},
		"nested":   map[string]any{"n": int32(1)},
	}

	got := Fields(in, "_id")
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %#v, got %#v", want, got)
	}
}

func TestPlain_Scalar(t *testing.T) {
	if Plain("x") != "x" || Plain(nil) != nil {
		t.Error("expected scalars unchanged")
	}
}
