// Package ddbsdk builds DynamoDB query and scan requests from flat
// `attr__op` condition arguments and walks their paged results.
//
// Conditions are always a flat AND. Supported operators are eq, ne, gt, gte,
// lt, lte, begins_with, contains and is_in; a bare attribute name means eq.
package ddbsdk

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Sequence is a finite, restartable sequence of pages.
type Sequence interface {
	Next(context.Context) ([]Item, error)
	Done() bool
	Cursor() Cursor
	All(context.Context) ([]Item, error)
}

var _ Sequence = (*Pager)(nil)

// Item represents a raw DynamoDB item.
// Callers should use attributevalue.UnmarshalMap to convert to their struct.
type Item = map[string]types.AttributeValue
