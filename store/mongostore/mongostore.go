// Package mongostore stores documents in MongoDB collections.
//
// Filters and updates map directly onto MongoDB queries and update operators,
// so UpdateMany is a single server-side multi-document update.
package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jacentio/backref/store"
	"github.com/jacentio/backref/store/internal/bsondoc"
)

// Config holds connection settings.
type Config struct {
	// URI is the MongoDB connection string.
	URI string

	// Database names the database holding the collections.
	Database string
}

// DB is a connected MongoDB database.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

// Open connects to MongoDB and verifies the connection.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.URI == "" || cfg.Database == "" {
		return nil, errors.New("mongostore: URI and Database are required")
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}
	return &DB{client: client, db: client.Database(cfg.Database)}, nil
}

// Close disconnects the client.
func (d *DB) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

// Database returns the underlying database.
func (d *DB) Database() *mongo.Database {
	return d.db
}

// Collection returns the collection with the given name.
func (d *DB) Collection(name string) *Collection {
	return New(d.db.Collection(name))
}

var _ store.Collection = (*Collection)(nil)

// Collection adapts a *mongo.Collection to store.Collection.
type Collection struct {
	coll *mongo.Collection
}

// New wraps coll.
func New(coll *mongo.Collection) *Collection {
	return &Collection{coll: coll}
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.coll.Name()
}

// FindByID loads a document, returning store.ErrNotFound if missing.
func (c *Collection) FindByID(ctx context.Context, id string) (*store.Document, error) {
	if id == "" {
		return nil, store.ErrEmptyID
	}
	var raw bson.M
	err := c.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decode(raw)
}

// Find loads every document matched by filter, ordered by id.
func (c *Collection) Find(ctx context.Context, filter store.Filter) ([]*store.Document, error) {
	cur, err := c.coll.Find(ctx, Query(filter), options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, err
	}
	var raws []bson.M
	if err := cur.All(ctx, &raws); err != nil {
		return nil, err
	}

	docs := make([]*store.Document, 0, len(raws))
	for _, raw := range raws {
		doc, err := decode(raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Insert writes a new document, returning store.ErrAlreadyExists if the id is taken.
func (c *Collection) Insert(ctx context.Context, doc *store.Document) error {
	if doc.ID == "" {
		return store.ErrEmptyID
	}
	_, err := c.coll.InsertOne(ctx, encode(doc))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", store.ErrAlreadyExists, doc.ID)
	}
	return err
}

// Save replaces the document, creating it if missing.
func (c *Collection) Save(ctx context.Context, doc *store.Document) error {
	if doc.ID == "" {
		return store.ErrEmptyID
	}
	_, err := c.coll.ReplaceOne(ctx, bson.M{"_id": doc.ID}, encode(doc), options.Replace().SetUpsert(true))
	return err
}

// UpdateMany applies update to every matched document and returns the matched count.
func (c *Collection) UpdateMany(ctx context.Context, filter store.Filter, update store.Update) (int64, error) {
	if err := update.Validate(); err != nil {
		return 0, err
	}
	result, err := c.coll.UpdateMany(ctx, Query(filter), Operator(update))
	if err != nil {
		return 0, err
	}
	return result.MatchedCount, nil
}

// Delete removes the document. Deleting a missing document is not an error.
func (c *Collection) Delete(ctx context.Context, id string) error {
	if id == "" {
		return store.ErrEmptyID
	}
	_, err := c.coll.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// Query renders a filter as a MongoDB query document. Equality on an array
// field matches membership, so Contains needs no operator.
func Query(f store.Filter) bson.M {
	q := bson.M{}

	id := bson.M{}
	if len(f.IDs) > 0 {
		id["$in"] = store.IDs(f.IDs)
	}
	if len(f.ExcludeIDs) > 0 {
		id["$nin"] = f.ExcludeIDs
	}
	if len(id) > 0 {
		q["_id"] = id
	}

	if f.Contains != nil {
		q[f.Contains.Path] = f.Contains.Value
	}
	return q
}

// Operator renders an update as a MongoDB update document.
func Operator(u store.Update) bson.M {
	switch u.Op {
	case store.OpSet:
		return bson.M{"$set": bson.M{u.Path: u.Value}}
	case store.OpUnset:
		return bson.M{"$unset": bson.M{u.Path: ""}}
	case store.OpAddToSet:
		return bson.M{"$addToSet": bson.M{u.Path: u.Value}}
	case store.OpPull:
		return bson.M{"$pull": bson.M{u.Path: u.Value}}
	default:
		return nil
	}
}

func encode(doc *store.Document) bson.M {
	m := make(bson.M, len(doc.Fields)+1)
	for k, v := range doc.Fields {
		m[k] = v
	}
	m["_id"] = doc.ID
	return m
}

func decode(raw bson.M) (*store.Document, error) {
	id, ok := raw["_id"].(string)
	if !ok {
		return nil, fmt.Errorf("mongostore: document id %v is not a string", raw["_id"])
	}
	return store.Loaded(id, bsondoc.Fields(raw, "_id")), nil
}
