package localddb

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

func conditionFailed() error {
	return &types.ConditionalCheckFailedException{
		Message: aws.String("The conditional request failed"),
	}
}

// readItem returns the item stored under key, or nil if there is none.
func readItem(txn *badger.Txn, key []byte) (map[string]types.AttributeValue, error) {
	entry, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var item map[string]types.AttributeValue
	err = entry.Value(func(val []byte) error {
		item, err = decodeItem(val)
		return err
	})
	return item, err
}

func checkCondition(expr *string, ctx evalContext, item map[string]types.AttributeValue) error {
	if expr == nil {
		return nil
	}

	ok, err := evalCondition(aws.ToString(expr), ctx, item)
	if err != nil {
		return validationError("Invalid ConditionExpression: %s", err)
	}
	if !ok {
		return conditionFailed()
	}
	return nil
}

// checkPlaceholders rejects expression attribute names and values that none
// of exprs refer to.
func checkPlaceholders(ctx evalContext, exprs ...*string) error {
	used := make(map[string]bool)
	for _, expr := range exprs {
		if expr == nil {
			continue
		}
		toks, err := tokenize(*expr)
		if err != nil {
			return validationError("Invalid expression: %s", err)
		}
		for _, t := range toks {
			if t.kind == tokIdent {
				used[t.text] = true
			}
		}
	}

	unused := func(keys []string) string {
		var out []string
		for _, k := range keys {
			if !used[k] {
				out = append(out, k)
			}
		}
		slices.Sort(out)
		return strings.Join(out, ", ")
	}

	names := make([]string, 0, len(ctx.names))
	for k := range ctx.names {
		names = append(names, k)
	}
	if keys := unused(names); keys != "" {
		return validationError("Value provided in ExpressionAttributeNames unused in expressions: keys: {%s}", keys)
	}

	values := make([]string, 0, len(ctx.values))
	for k := range ctx.values {
		values = append(values, k)
	}
	if keys := unused(values); keys != "" {
		return validationError("Value provided in ExpressionAttributeValues unused in expressions: keys: {%s}", keys)
	}

	return nil
}

func pick(item map[string]types.AttributeValue, names []string) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(names))
	for _, name := range names {
		if v, ok := item[name]; ok {
			out[name] = v
		}
	}
	return out
}

// PutItem writes an item, replacing any item with the same key.
func (s *Store) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if params == nil {
		return nil, validationError("params is required")
	}
	switch params.ReturnValues {
	case "", types.ReturnValueNone, types.ReturnValueAllOld:
	default:
		return nil, validationError("ReturnValues can only be ALL_OLD or NONE")
	}

	cond := evalContext{names: params.ExpressionAttributeNames, values: params.ExpressionAttributeValues}
	if err := checkPlaceholders(cond, params.ConditionExpression); err != nil {
		return nil, err
	}

	data, err := encodeItem(params.Item)
	if err != nil {
		return nil, err
	}

	var old map[string]types.AttributeValue
	err = s.db.Update(func(txn *badger.Txn) error {
		schema, err := getTable(txn, params.TableName)
		if err != nil {
			return err
		}
		key, err := schema.itemKeyFromItem(params.Item)
		if err != nil {
			return err
		}

		if old, err = readItem(txn, key); err != nil {
			return err
		}
		if err := checkCondition(params.ConditionExpression, cond, old); err != nil {
			return err
		}

		return txn.Set(key, data)
	})
	if err != nil {
		return nil, err
	}

	out := &dynamodb.PutItemOutput{}
	if params.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = old
	}
	return out, nil
}

// GetItem returns the item stored under the key. Item is nil if there is none.
func (s *Store) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if params == nil {
		return nil, validationError("params is required")
	}
	if params.ProjectionExpression != nil || len(params.AttributesToGet) > 0 {
		return nil, validationError("projections are not supported by the local store")
	}
	if err := checkPlaceholders(evalContext{names: params.ExpressionAttributeNames}); err != nil {
		return nil, err
	}

	var item map[string]types.AttributeValue
	err := s.db.View(func(txn *badger.Txn) error {
		schema, err := getTable(txn, params.TableName)
		if err != nil {
			return err
		}
		key, err := schema.itemKey(params.Key)
		if err != nil {
			return err
		}

		item, err = readItem(txn, key)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &dynamodb.GetItemOutput{Item: item}, nil
}

// UpdateItem edits the attributes of an item, creating it if it does not exist.
func (s *Store) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if params == nil {
		return nil, validationError("params is required")
	}
	if params.UpdateExpression == nil {
		return nil, validationError("UpdateExpression is required by the local store")
	}
	switch params.ReturnValues {
	case "", types.ReturnValueNone, types.ReturnValueAllOld, types.ReturnValueUpdatedOld,
		types.ReturnValueAllNew, types.ReturnValueUpdatedNew:
	default:
		return nil, validationError("ReturnValues must be one of NONE, ALL_OLD, UPDATED_OLD, ALL_NEW, UPDATED_NEW")
	}

	ctxt := evalContext{names: params.ExpressionAttributeNames, values: params.ExpressionAttributeValues}
	if err := checkPlaceholders(ctxt, params.UpdateExpression, params.ConditionExpression); err != nil {
		return nil, err
	}
	plan, err := parseUpdate(aws.ToString(params.UpdateExpression), ctxt)
	if err != nil {
		return nil, validationError("Invalid UpdateExpression: %s", err)
	}

	var old, updated map[string]types.AttributeValue
	var set []string
	err = s.db.Update(func(txn *badger.Txn) error {
		schema, err := getTable(txn, params.TableName)
		if err != nil {
			return err
		}
		for _, name := range plan.touches() {
			if schema.isKey(name) {
				return validationError("One or more parameter values were invalid: Cannot update attribute %s. This attribute is part of the key", name)
			}
		}

		key, err := schema.itemKey(params.Key)
		if err != nil {
			return err
		}
		if old, err = readItem(txn, key); err != nil {
			return err
		}
		if err := checkCondition(params.ConditionExpression, ctxt, old); err != nil {
			return err
		}

		base := old
		if base == nil {
			base = params.Key
		}
		updated, set, err = plan.apply(ctxt, base)
		if err != nil {
			return validationError("Invalid UpdateExpression: %s", err)
		}

		data, err := encodeItem(updated)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return nil, err
	}

	out := &dynamodb.UpdateItemOutput{}
	switch params.ReturnValues {
	case "", types.ReturnValueNone:
	case types.ReturnValueAllOld:
		out.Attributes = old
	case types.ReturnValueUpdatedOld:
		out.Attributes = pick(old, plan.touches())
	case types.ReturnValueAllNew:
		out.Attributes = updated
	case types.ReturnValueUpdatedNew:
		out.Attributes = pick(updated, set)
	}
	return out, nil
}

// DeleteItem removes an item. Deleting a missing item succeeds unless a
// condition expression rejects it.
func (s *Store) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if params == nil {
		return nil, validationError("params is required")
	}
	switch params.ReturnValues {
	case "", types.ReturnValueNone, types.ReturnValueAllOld:
	default:
		return nil, validationError("ReturnValues can only be ALL_OLD or NONE")
	}

	cond := evalContext{names: params.ExpressionAttributeNames, values: params.ExpressionAttributeValues}
	if err := checkPlaceholders(cond, params.ConditionExpression); err != nil {
		return nil, err
	}

	var old map[string]types.AttributeValue
	err := s.db.Update(func(txn *badger.Txn) error {
		schema, err := getTable(txn, params.TableName)
		if err != nil {
			return err
		}
		key, err := schema.itemKey(params.Key)
		if err != nil {
			return err
		}

		if old, err = readItem(txn, key); err != nil {
			return err
		}
		if err := checkCondition(params.ConditionExpression, cond, old); err != nil {
			return err
		}
		if old == nil {
			return nil
		}

		return txn.Delete(key)
	})
	if err != nil {
		return nil, err
	}

	out := &dynamodb.DeleteItemOutput{}
	if params.ReturnValues == types.ReturnValueAllOld {
		out.Attributes = old
	}
	return out, nil
}
