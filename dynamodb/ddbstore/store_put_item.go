package ddbstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// PutItem creates or replaces an item and maintains its index entries.
func (s *Store) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if params == nil || params.Item == nil {
		return nil, validationException("item is required")
	}
	t, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	if err := t.validateItem(params.Item); err != nil {
		return nil, err
	}
	pk, err := t.definition.ExtractPrimaryKey(params.Item)
	if err != nil {
		return nil, validationException("%v", err)
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
		return t.writeItem(txn, key, pk, params.Item, old)
	})
	if err != nil {
		return nil, err
	}

	out := &dynamodb.PutItemOutput{}
	if params.ReturnValues == types.ReturnValueAllOld && old != nil {
		out.Attributes = old
	}
	return out, nil
}
