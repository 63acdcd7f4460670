// Package stream provides DynamoDB Streams handlers that keep back-references
// consistent for documents deleted outside the model.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/backref/model"
	"github.com/jacentio/backref/store"
	"github.com/jacentio/backref/store/dynamo"
)

// Releaser erases a deleted document from the back-references held by its
// relationship targets. *relation.Relations implements it.
type Releaser interface {
	// Model is the model owning the released documents.
	Model() *model.Model
	Release(ctx context.Context, doc *store.Document) error
}

// Handler processes DynamoDB stream events for removed documents.
type Handler struct {
	logger *slog.Logger

	mu      sync.RWMutex
	byTable map[string]Releaser
}

// NewHandler creates a new stream handler.
func NewHandler(logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:  logger,
		byTable: make(map[string]Releaser),
	}
}

// Register routes records of table to r.
func (h *Handler) Register(table string, r Releaser) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.byTable[table] = r
}

func (h *Handler) releaser(table string) (Releaser, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.byTable[table]
	return r, ok
}

// HandleRemovals releases the back-references of every document removed in
// event. A document counts as removed when its TTL is newly set (soft delete)
// or when it is deleted without a TTL; the eventual TTL expiry is ignored.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) HandleRemovals(ctx context.Context, event events.DynamoDBEvent) error {
	for i := range event.Records {
		record := &event.Records[i]
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				"eventID", record.EventID,
				"error", err,
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

// processRecord processes a single DynamoDB stream record.
func (h *Handler) processRecord(ctx context.Context, record *events.DynamoDBEventRecord) error {
	var image map[string]events.DynamoDBAttributeValue
	switch record.EventName {
	case "MODIFY":
		// Only when TTL is newly set (was absent/0, now present)
		if getNumberAttr(record.Change.OldImage, dynamo.TTLAttribute) != 0 ||
			getNumberAttr(record.Change.NewImage, dynamo.TTLAttribute) == 0 {
			return nil
		}
		image = record.Change.NewImage
	case "REMOVE":
		// Already released when the TTL was set
		if getNumberAttr(record.Change.OldImage, dynamo.TTLAttribute) != 0 {
			return nil
		}
		image = record.Change.OldImage
	default:
		return nil
	}

	table := TableFromARN(record.EventSourceArn)
	r, ok := h.releaser(table)
	if !ok {
		h.logger.Debug("no relationships registered for table", "table", table)
		return nil
	}

	doc, err := dynamo.DecodeItem(ConvertImage(image))
	if err != nil {
		return fmt.Errorf("decode %s record: %w", table, err)
	}

	// The record may be stale: the id can be live again by the time it is
	// processed.
	_, err = r.Model().FindByID(ctx, doc.ID)
	switch {
	case err == nil:
		h.logger.Info("document is live again, skipping release",
			"table", table,
			"id", doc.ID,
		)
		return nil
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("recheck %s %s: %w", table, doc.ID, err)
	}

	h.logger.Info("releasing removed document",
		"table", table,
		"id", doc.ID,
		"event", record.EventName,
	)
	if err := r.Release(ctx, doc); err != nil {
		return fmt.Errorf("release %s %s: %w", table, doc.ID, err)
	}
	return nil
}

// TableFromARN extracts the table name from a stream or table ARN
// ("arn:aws:dynamodb:region:account:table/<name>/stream/<label>").
func TableFromARN(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}

// getNumberAttr extracts a number attribute from a DynamoDB stream image.
func getNumberAttr(image map[string]events.DynamoDBAttributeValue, key string) int64 {
	if v, ok := image[key]; ok {
		if v.DataType() == events.DataTypeNumber {
			n, _ := strconv.ParseInt(v.Number(), 10, 64)
			return n
		}
	}
	return 0
}

// ConvertImage converts a DynamoDB stream image to SDK attribute values.
func ConvertImage(image map[string]events.DynamoDBAttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue, len(image))
	for k, v := range image {
		if av := convertAttribute(v); av != nil {
			result[k] = av
		}
	}
	return result
}

func convertAttribute(v events.DynamoDBAttributeValue) types.AttributeValue {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}
	case events.DataTypeList:
		list := make([]types.AttributeValue, 0, len(v.List()))
		for _, item := range v.List() {
			if av := convertAttribute(item); av != nil {
				list = append(list, av)
			}
		}
		return &types.AttributeValueMemberL{Value: list}
	case events.DataTypeMap:
		return &types.AttributeValueMemberM{Value: ConvertImage(v.Map())}
	default:
		return nil
	}
}
