package dynamo

import (
	"maps"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TTLAttribute holds the expiry of a soft-deleted document. It must be the
// table's TTL attribute so DynamoDB eventually removes expired items.
const TTLAttribute = "ttl"

// IsDeleted checks if an item has an expired TTL (is marked for deletion).
func IsDeleted(item map[string]types.AttributeValue) bool {
	ttlAttr, exists := item[TTLAttribute]
	if !exists {
		return false // No TTL = active
	}
	ttlNum, ok := ttlAttr.(*types.AttributeValueMemberN)
	if !ok {
		return false
	}
	ttl, err := strconv.ParseInt(ttlNum.Value, 10, 64)
	if err != nil {
		return false
	}
	return ttl <= time.Now().Unix()
}

// TTLFilterExpr returns the filter expression to exclude deleted items.
func TTLFilterExpr() string {
	return "(attribute_not_exists(#ttl) OR #ttl > :now)"
}

// TTLFilterNames returns expression attribute names for TTL filter.
func TTLFilterNames() map[string]string {
	return map[string]string{"#ttl": TTLAttribute}
}

// TTLFilterValues returns expression attribute values for TTL filter.
func TTLFilterValues() map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		":now": &types.AttributeValueMemberN{
			Value: strconv.FormatInt(time.Now().Unix(), 10),
		},
	}
}

// ExistsCondition returns the condition expression requiring a live item:
// it exists and is not deleted.
func ExistsCondition() string {
	return "attribute_exists(#id) AND " + TTLFilterExpr()
}

// InsertCondition returns the condition expression admitting a new item: the
// id is unused or its holder is deleted.
func InsertCondition() string {
	return "attribute_not_exists(#id) OR (attribute_exists(#ttl) AND #ttl <= :now)"
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(ms ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range ms {
		maps.Copy(result, m)
	}
	return result
}

// mergeExprValues merges multiple expression attribute value maps.
func mergeExprValues(ms ...map[string]types.AttributeValue) map[string]types.AttributeValue {
	result := make(map[string]types.AttributeValue)
	for _, m := range ms {
		maps.Copy(result, m)
	}
	return result
}
