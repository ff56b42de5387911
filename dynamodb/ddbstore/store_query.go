package ddbstore

import (
	"bytes"
	"context"

	"github.com/acksell/ddbmodel/dynamodb/ddbstore/condexpr"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// Query retrieves the items of one partition of the table or an index,
// in range key order.
//
// As in DynamoDB, Limit caps the number of items evaluated, before the
// filter expression is applied, so a page may hold fewer items than Limit
// while LastEvaluatedKey is still set.
func (s *Store) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if params == nil {
		return nil, validationException("params is required")
	}
	if params.KeyConditionExpression == nil {
		return nil, validationException("Either the KeyConditions or KeyConditionExpression parameter must be specified in the request.")
	}
	t, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	space, err := t.keySpace(params.IndexName)
	if err != nil {
		return nil, err
	}

	in := condexpr.Input{Names: params.ExpressionAttributeNames, Values: params.ExpressionAttributeValues}
	keyCond, err := condexpr.Parse(*params.KeyConditionExpression, in)
	if err != nil {
		return nil, validationException("Invalid KeyConditionExpression: %v", err)
	}
	for _, attr := range keyCond.Attributes() {
		if !space.keys.Has(attr) {
			return nil, validationException("Query key condition not supported: %s is not a key attribute", attr)
		}
	}
	hash, ok := keyCond.Equality(space.keys.PartitionKey.Name)
	if !ok {
		return nil, validationException("Query condition missed key schema element: %s", space.keys.PartitionKey.Name)
	}
	prefix, err := partitionPrefix(space.prefix, space.keys.PartitionKey, hash)
	if err != nil {
		return nil, err
	}
	filter, err := parseFilter(params.FilterExpression, in)
	if err != nil {
		return nil, err
	}

	res, err := s.read(readSpec{
		space:   space,
		prefix:  prefix,
		keyCond: keyCond,
		filter:  filter,
		limit:   int(aws.ToInt32(params.Limit)),
		forward: params.ScanIndexForward == nil || *params.ScanIndexForward,
		start:   params.ExclusiveStartKey,
	})
	if err != nil {
		return nil, err
	}
	items, err := projectAll(res.items, params.ProjectionExpression, params.ExpressionAttributeNames)
	if err != nil {
		return nil, err
	}
	out := &dynamodb.QueryOutput{
		Items:            items,
		Count:            int32(len(res.items)),
		ScannedCount:     int32(res.scanned),
		LastEvaluatedKey: res.lastKey,
	}
	if params.Select == types.SelectCount {
		out.Items = nil
	}
	return out, nil
}

func parseFilter(expr *string, in condexpr.Input) (*condexpr.Expr, error) {
	if expr == nil || *expr == "" {
		return nil, nil
	}
	filter, err := condexpr.Parse(*expr, in)
	if err != nil {
		return nil, validationException("Invalid FilterExpression: %v", err)
	}
	return filter, nil
}

func projectAll(items []item, expr *string, names map[string]string) ([]item, error) {
	if expr == nil || *expr == "" {
		return items, nil
	}
	out := make([]item, 0, len(items))
	for _, it := range items {
		p, err := project(it, expr, names)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

type readSpec struct {
	space   keySpace
	prefix  []byte
	keyCond *condexpr.Expr
	filter  *condexpr.Expr
	limit   int
	forward bool
	start   item
}

type readResult struct {
	items   []item
	scanned int
	lastKey item
}

// read walks the entries under spec.prefix, shared by Query and Scan.
func (s *Store) read(spec readSpec) (readResult, error) {
	var res readResult
	var startKey []byte
	if len(spec.start) > 0 {
		var err error
		if startKey, err = spec.space.cursorKey(spec.start); err != nil {
			return res, err
		}
	}

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = !spec.forward
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := spec.prefix
		switch {
		case startKey != nil:
			seek = startKey
		case !spec.forward:
			seek = incrementBytes(spec.prefix)
		}

		for it.Seek(seek); it.ValidForPrefix(spec.prefix); it.Next() {
			if startKey != nil && bytes.Equal(it.Item().Key(), startKey) {
				continue
			}
			var doc item
			if err := it.Item().Value(func(val []byte) error {
				var err error
				doc, err = DeserializeItem(val)
				return err
			}); err != nil {
				return err
			}
			if spec.keyCond != nil {
				ok, err := spec.keyCond.Eval(doc)
				if err != nil {
					return validationException("Invalid KeyConditionExpression: %v", err)
				}
				if !ok {
					continue
				}
			}
			res.scanned++
			keep := true
			if spec.filter != nil {
				var err error
				if keep, err = spec.filter.Eval(doc); err != nil {
					return validationException("Invalid FilterExpression: %v", err)
				}
			}
			if keep {
				res.items = append(res.items, doc)
			}
			if spec.limit > 0 && res.scanned >= spec.limit {
				it.Next()
				if it.ValidForPrefix(spec.prefix) {
					res.lastKey = spec.space.cursorFor(doc)
				}
				break
			}
		}
		return nil
	})
	return res, err
}

func incrementBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	return append(out, 0xFF)
}
