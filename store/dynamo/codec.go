package dynamo

import (
	"errors"
	"fmt"
	"maps"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/backref/store"
)

// idAttribute is the table's partition key.
const idAttribute = "id"

// encode converts doc into an item. Set attributes are written as string
// sets and omitted when empty, since DynamoDB rejects empty sets.
func (c *Collection) encode(doc *store.Document) (map[string]types.AttributeValue, error) {
	fields := make(map[string]any, len(doc.Fields))
	for k, v := range doc.Fields {
		if k == idAttribute || k == TTLAttribute || c.isSet(k) {
			continue
		}
		fields[k] = v
	}

	item, err := attributevalue.MarshalMap(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", doc.ID, err)
	}
	for path := range c.sets {
		if ids := store.IDs(doc.Fields[path]); len(ids) > 0 {
			item[path] = &types.AttributeValueMemberSS{Value: ids}
		}
	}
	item[idAttribute] = &types.AttributeValueMemberS{Value: doc.ID}
	return item, nil
}

// decode converts an item into a loaded document.
func (c *Collection) decode(item map[string]types.AttributeValue) (*store.Document, error) {
	doc, err := DecodeItem(item)
	if err != nil {
		return nil, fmt.Errorf("dynamo %s: %w", c.config.Table, err)
	}
	return doc, nil
}

// DecodeItem converts an item, as stored by a Collection, into a loaded
// document. Set attributes decode to []string.
func DecodeItem(item map[string]types.AttributeValue) (*store.Document, error) {
	id, ok := idOf(item)
	if !ok {
		return nil, errors.New("item without a string id")
	}

	rest := maps.Clone(item)
	delete(rest, idAttribute)
	delete(rest, TTLAttribute)

	var fields map[string]any
	if err := attributevalue.UnmarshalMap(rest, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", id, err)
	}
	return store.Loaded(id, fields), nil
}

func idOf(item map[string]types.AttributeValue) (string, bool) {
	v, ok := item[idAttribute].(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return v.Value, true
}

func key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		idAttribute: &types.AttributeValueMemberS{Value: id},
	}
}
