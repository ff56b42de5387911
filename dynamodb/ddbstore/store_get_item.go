package ddbstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/dgraph-io/badger/v4"
)

// GetItem retrieves a single item by primary key. The key must name exactly
// the table key attributes.
func (s *Store) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
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

	var found item
	err = s.db.View(func(txn *badger.Txn) error {
		found, err = loadItem(txn, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	found, err = project(found, params.ProjectionExpression, params.ExpressionAttributeNames)
	if err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: found}, nil
}
