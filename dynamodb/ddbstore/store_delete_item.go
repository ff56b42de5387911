package ddbstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// DeleteItem deletes an item and its index entries. Deleting a missing item
// succeeds.
func (s *Store) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if params == nil {
		return nil, validationException("params is required")
	}
	t, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	pk, err := t.validateKey(params.Key)
	if err != nil {
		return nil, err
	}
	key, err := itemKey(t.definition.Name, pk)
	if err != nil {
		return nil, validationException("%v", err)
	}

	var old item
	err = s.db.Update(func(txn *badger.Txn) error {
		if old, err = loadItem(txn, key); err != nil {
			return err
		}
		if err := checkCondition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, old); err != nil {
			return err
		}
		if old == nil {
			return nil
		}
		return t.removeItem(txn, key, pk, old)
	})
	if err != nil {
		return nil, err
	}

	out := &dynamodb.DeleteItemOutput{}
	if params.ReturnValues == types.ReturnValueAllOld && old != nil {
		out.Attributes = old
	}
	return out, nil
}
