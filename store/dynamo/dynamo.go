package dynamo

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/backref/store"
)

const (
	// maxBatchGet is the BatchGetItem key limit.
	maxBatchGet = 100

	// maxBatchRetries bounds retries of unprocessed keys.
	maxBatchRetries = 8
)

// API is the subset of the DynamoDB client used by Collection.
// *dynamodb.Client satisfies it.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

var _ store.Collection = (*Collection)(nil)

// Collection stores documents in one DynamoDB table keyed by "id".
//
// DynamoDB has no multi-item update, so UpdateMany issues one conditional
// UpdateItem per matched item; an item whose condition fails is not counted.
// Removal is a soft delete through the table's TTL attribute.
type Collection struct {
	name   string
	client API
	config Config
	sets   map[string]struct{}
}

// New creates a new Collection instance.
func New(client API, name string, config Config) *Collection {
	config.validate(name)
	sets := make(map[string]struct{}, len(config.SetAttributes))
	for _, a := range config.SetAttributes {
		sets[a] = struct{}{}
	}
	return &Collection{
		name:   name,
		client: client,
		config: config,
		sets:   sets,
	}
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Table returns the backing table name.
func (c *Collection) Table() string {
	return c.config.Table
}

func (c *Collection) isSet(path string) bool {
	_, ok := c.sets[path]
	return ok
}

// FindByID retrieves a document, returning store.ErrNotFound if deleted or missing.
func (c *Collection) FindByID(ctx context.Context, id string) (*store.Document, error) {
	if id == "" {
		return nil, store.ErrEmptyID
	}
	result, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(c.config.Table),
		Key:            key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, store.ErrNotFound
	}

	// Check if document is deleted (has expired TTL)
	if IsDeleted(result.Item) {
		return nil, store.ErrNotFound
	}

	return c.decode(result.Item)
}

// Find returns the live documents matched by filter, ordered by id.
// Filters naming ids read with BatchGetItem; others scan the table.
func (c *Collection) Find(ctx context.Context, filter store.Filter) ([]*store.Document, error) {
	var (
		items []map[string]types.AttributeValue
		err   error
	)
	if len(filter.IDs) > 0 {
		items, err = c.batchGet(ctx, store.Difference(store.IDs(filter.IDs), filter.ExcludeIDs))
	} else {
		items, err = c.scan(ctx, filter.Contains, false)
	}
	if err != nil {
		return nil, err
	}

	docs := make([]*store.Document, 0, len(items))
	for _, item := range items {
		if IsDeleted(item) {
			continue
		}
		doc, err := c.decode(item)
		if err != nil {
			return nil, err
		}
		if filter.Matches(doc) {
			docs = append(docs, doc)
		}
	}
	slices.SortFunc(docs, func(a, b *store.Document) int { return strings.Compare(a.ID, b.ID) })
	return docs, nil
}

// Insert writes a new document, returning store.ErrAlreadyExists if a live
// document holds the id. An item whose soft delete has expired is replaced.
func (c *Collection) Insert(ctx context.Context, doc *store.Document) error {
	return c.put(ctx, doc, true)
}

// Save writes the full document, creating it if missing. A pending soft
// delete is cleared.
func (c *Collection) Save(ctx context.Context, doc *store.Document) error {
	return c.put(ctx, doc, false)
}

func (c *Collection) put(ctx context.Context, doc *store.Document, conditional bool) error {
	if doc.ID == "" {
		return store.ErrEmptyID
	}
	item, err := c.encode(doc)
	if err != nil {
		return err
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(c.config.Table),
		Item:      item,
	}
	if conditional {
		input.ConditionExpression = aws.String(InsertCondition())
		input.ExpressionAttributeNames = mergeExprNames(map[string]string{"#id": idAttribute}, TTLFilterNames())
		input.ExpressionAttributeValues = TTLFilterValues()
	}

	_, err = c.client.PutItem(ctx, input)
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return fmt.Errorf("%w: %s", store.ErrAlreadyExists, doc.ID)
	}
	return err
}

// UpdateMany applies update to every live document matched by filter.
//
// The filter's Contains clause is evaluated again in each item's condition,
// so an item changed since the scan is left alone.
func (c *Collection) UpdateMany(ctx context.Context, filter store.Filter, update store.Update) (int64, error) {
	if err := update.Validate(); err != nil {
		return 0, err
	}
	if (update.Op == store.OpAddToSet || update.Op == store.OpPull) && !c.isSet(update.Path) {
		return 0, fmt.Errorf("%w: %s is not a set attribute of %s", store.ErrInvalidUpdate, update.Path, c.config.Table)
	}

	var ids []string
	if len(filter.IDs) > 0 {
		ids = store.Difference(store.IDs(filter.IDs), filter.ExcludeIDs)
	} else {
		items, err := c.scan(ctx, filter.Contains, true)
		if err != nil {
			return 0, err
		}
		for _, item := range items {
			if id, ok := idOf(item); ok && !slices.Contains(filter.ExcludeIDs, id) {
				ids = append(ids, id)
			}
		}
	}

	var matched atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.WriteConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			ok, err := c.updateOne(gctx, id, filter.Contains, update)
			if ok {
				matched.Add(1)
			}
			return err
		})
	}
	err := g.Wait()
	return matched.Load(), err
}

// updateOne applies update to one item. It reports false when the item is
// missing, deleted or no longer satisfies match.
func (c *Collection) updateOne(ctx context.Context, id string, match *store.Match, update store.Update) (bool, error) {
	_, err := c.client.UpdateItem(ctx, c.updateInput(id, match, update))
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return false, nil
		}
		return false, fmt.Errorf("update %s %s: %w", c.config.Table, id, err)
	}
	return true, nil
}

// updateInput builds the UpdateItem request for one item.
func (c *Collection) updateInput(id string, match *store.Match, update store.Update) *dynamodb.UpdateItemInput {
	names := mergeExprNames(TTLFilterNames(), map[string]string{
		"#id": idAttribute,
		"#p":  update.Path,
	})
	values := TTLFilterValues()

	var expr string
	switch update.Op {
	case store.OpSet:
		expr = "SET #p = :v"
		values[":v"] = &types.AttributeValueMemberS{Value: update.Value}
	case store.OpUnset:
		expr = "REMOVE #p"
	case store.OpAddToSet:
		expr = "ADD #p :v"
		values[":v"] = &types.AttributeValueMemberSS{Value: []string{update.Value}}
	case store.OpPull:
		expr = "DELETE #p :v"
		values[":v"] = &types.AttributeValueMemberSS{Value: []string{update.Value}}
	}

	condition := ExistsCondition()
	if match != nil {
		matchExpr, matchNames, matchValues := c.matchExpr(match)
		condition += " AND " + matchExpr
		names = mergeExprNames(names, matchNames)
		values = mergeExprValues(values, matchValues)
	}

	return &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.config.Table),
		Key:                       key(id),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	}
}

// matchExpr renders a Match: membership for set attributes, equality otherwise.
func (c *Collection) matchExpr(match *store.Match) (string, map[string]string, map[string]types.AttributeValue) {
	expr := "#m = :m"
	if c.isSet(match.Path) {
		expr = "contains(#m, :m)"
	}
	return expr,
		map[string]string{"#m": match.Path},
		map[string]types.AttributeValue{":m": &types.AttributeValueMemberS{Value: match.Value}}
}

// Delete marks a document for deletion by setting its TTL to now.
// Deleting a missing or already deleted document is not an error.
func (c *Collection) Delete(ctx context.Context, id string) error {
	if id == "" {
		return store.ErrEmptyID
	}
	now := time.Now()

	_, err := c.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(c.config.Table),
		Key:                 key(id),
		UpdateExpression:    aws.String("SET #ttl = :now"),
		ConditionExpression: aws.String("attribute_exists(#id) AND attribute_not_exists(#ttl)"),
		ExpressionAttributeNames: map[string]string{
			"#id":  idAttribute,
			"#ttl": TTLAttribute,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{
				Value: strconv.FormatInt(now.Unix(), 10),
			},
		},
	})

	// Ignore condition failure - missing or already deleted
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return nil
	}
	return err
}

// batchGet reads ids in chunks, retrying unprocessed keys with backoff.
func (c *Collection) batchGet(ctx context.Context, ids []string) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	for start := 0; start < len(ids); start += maxBatchGet {
		chunk := ids[start:min(start+maxBatchGet, len(ids))]
		keys := make([]map[string]types.AttributeValue, len(chunk))
		for i, id := range chunk {
			keys[i] = key(id)
		}

		pending := map[string]types.KeysAndAttributes{
			c.config.Table: {Keys: keys, ConsistentRead: aws.Bool(true)},
		}
		for attempt := 0; len(pending[c.config.Table].Keys) > 0; attempt++ {
			if attempt > 0 {
				if attempt > maxBatchRetries {
					return nil, fmt.Errorf("batch get %s: %d keys left unprocessed", c.config.Table, len(pending[c.config.Table].Keys))
				}
				if err := backoff(ctx, attempt); err != nil {
					return nil, err
				}
			}
			result, err := c.client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: pending})
			if err != nil {
				return nil, err
			}
			items = append(items, result.Responses[c.config.Table]...)
			pending = result.UnprocessedKeys
		}
	}
	return items, nil
}

func backoff(ctx context.Context, attempt int) error {
	t := time.NewTimer(time.Duration(25<<min(attempt, 6)) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// scan reads every live item matching match. With more than one configured
// segment the segments are scanned in parallel.
func (c *Collection) scan(ctx context.Context, match *store.Match, keysOnly bool) ([]map[string]types.AttributeValue, error) {
	filter := TTLFilterExpr()
	names := TTLFilterNames()
	values := TTLFilterValues()
	if match != nil {
		matchExpr, matchNames, matchValues := c.matchExpr(match)
		filter += " AND " + matchExpr
		names = mergeExprNames(names, matchNames)
		values = mergeExprValues(values, matchValues)
	}

	input := func(segment int) *dynamodb.ScanInput {
		in := &dynamodb.ScanInput{
			TableName:                 aws.String(c.config.Table),
			FilterExpression:          aws.String(filter),
			ExpressionAttributeNames:  mergeExprNames(names),
			ExpressionAttributeValues: values,
			ConsistentRead:            aws.Bool(true),
		}
		if keysOnly {
			in.ProjectionExpression = aws.String("#id")
			in.ExpressionAttributeNames["#id"] = idAttribute
		}
		if c.config.ScanSegments > 1 {
			in.Segment = aws.Int32(int32(segment))
			in.TotalSegments = aws.Int32(int32(c.config.ScanSegments))
		}
		return in
	}

	// Fast path for a single segment (default)
	if c.config.ScanSegments == 1 {
		return c.scanSegment(ctx, input(0))
	}

	// Multi-segment fan-out
	var (
		mu    sync.Mutex
		items []map[string]types.AttributeValue
	)
	g, gctx := errgroup.WithContext(ctx)
	for segment := 0; segment < c.config.ScanSegments; segment++ {
		g.Go(func() error {
			segmentItems, err := c.scanSegment(gctx, input(segment))
			if err != nil {
				return fmt.Errorf("segment %d: %w", segment, err)
			}
			mu.Lock()
			items = append(items, segmentItems...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *Collection) scanSegment(ctx context.Context, input *dynamodb.ScanInput) ([]map[string]types.AttributeValue, error) {
	var items []map[string]types.AttributeValue
	paginator := dynamodb.NewScanPaginator(c.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", c.config.Table, err)
		}
		items = append(items, page.Items...)
	}
	return items, nil
}
