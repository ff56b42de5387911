package ddbstore

import (
	"context"

	"github.com/acksell/ddbmodel/dynamodb/ddbstore/condexpr"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Scan reads every item of the table or an index in key order. Limit counts
// evaluated items, as in Query.
func (s *Store) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if params == nil {
		return nil, validationException("params is required")
	}
	if params.TotalSegments != nil || params.Segment != nil {
		return nil, validationException("parallel scan segments are not supported by the local store")
	}
	t, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	space, err := t.keySpace(params.IndexName)
	if err != nil {
		return nil, err
	}
	filter, err := parseFilter(params.FilterExpression, condexpr.Input{
		Names:  params.ExpressionAttributeNames,
		Values: params.ExpressionAttributeValues,
	})
	if err != nil {
		return nil, err
	}

	res, err := s.read(readSpec{
		space:   space,
		prefix:  space.prefix,
		filter:  filter,
		limit:   int(aws.ToInt32(params.Limit)),
		forward: true,
		start:   params.ExclusiveStartKey,
	})
	if err != nil {
		return nil, err
	}
	items, err := projectAll(res.items, params.ProjectionExpression, params.ExpressionAttributeNames)
	if err != nil {
		return nil, err
	}
	out := &dynamodb.ScanOutput{
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
