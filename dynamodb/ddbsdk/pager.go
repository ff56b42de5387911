package ddbsdk

import (
	"context"
	"fmt"
	"math"

	"github.com/acksell/ddbmodel/dynamodb/ddbiface"
	"github.com/acksell/ddbmodel/dynamodb/ddberrors"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Cursor is the opaque continuation token of a paged read (DynamoDB's LastEvaluatedKey).
type Cursor = map[string]types.AttributeValue

// QuerySpec describes a query using `attr__op` condition arguments.
type QuerySpec struct {
	TableName string
	// KeyConditions select the hash key and optionally refine the range key.
	KeyConditions map[string]any
	// FilterConditions are applied by the store after the key condition.
	FilterConditions map[string]any
	IndexName        string
	// Limit caps the total number of items across all pages. Zero means no limit.
	Limit int
	// PageSize caps the items evaluated per call. Zero leaves it to the store.
	PageSize       int
	Descending     bool
	ConsistentRead bool
	Cursor         Cursor
}

// ScanSpec describes a scan. Fields mean the same as on QuerySpec.
type ScanSpec struct {
	TableName        string
	FilterConditions map[string]any
	IndexName        string
	Limit            int
	PageSize         int
	ConsistentRead   bool
	Cursor           Cursor
}

type page struct {
	items  []Item
	cursor Cursor
}

type fetchFunc func(ctx context.Context, cursor Cursor, limit int32) (page, error)

// Pager walks a paged query or scan.
//
// Each store call may return fewer items than asked for, either because the
// store caps response size or because a filter dropped items. The pager keeps
// following the cursor until it is absent or the limit is reached, counting
// only the items actually returned.
//
// A Pager is a finite sequence. The cursor it reports can seed a new Pager
// with [Pager.Resume], which yields exactly the remaining items.
type Pager struct {
	fetch     fetchFunc
	limit     int
	pageSize  int
	cursor    Cursor
	remaining int
	done      bool
}

func newPager(fetch fetchFunc, limit, pageSize int, cursor Cursor) (*Pager, error) {
	if limit < 0 {
		return nil, ddberrors.NewValidationError("limit", "must not be negative")
	}
	if pageSize < 0 {
		return nil, ddberrors.NewValidationError("page_size", "must not be negative")
	}
	return &Pager{
		fetch:     fetch,
		limit:     limit,
		pageSize:  pageSize,
		cursor:    cursor,
		remaining: limit,
	}, nil
}

// NewQueryPager validates spec and returns a pager over its results.
// No request is made until Next is called.
func NewQueryPager(client ddbiface.ItemClient, spec QuerySpec) (*Pager, error) {
	input, err := BuildQueryInput(spec)
	if err != nil {
		return nil, err
	}
	fetch := func(ctx context.Context, cursor Cursor, limit int32) (page, error) {
		in := *input
		in.ExclusiveStartKey = cursor
		if limit > 0 {
			in.Limit = aws.Int32(limit)
		}
		res, err := client.Query(ctx, &in)
		if err != nil {
			return page{}, fmt.Errorf("query %s: %w", spec.TableName, err)
		}
		return page{items: res.Items, cursor: res.LastEvaluatedKey}, nil
	}
	return newPager(fetch, spec.Limit, spec.PageSize, spec.Cursor)
}

// NewScanPager validates spec and returns a pager over its results.
func NewScanPager(client ddbiface.ItemClient, spec ScanSpec) (*Pager, error) {
	input, err := BuildScanInput(spec)
	if err != nil {
		return nil, err
	}
	fetch := func(ctx context.Context, cursor Cursor, limit int32) (page, error) {
		in := *input
		in.ExclusiveStartKey = cursor
		if limit > 0 {
			in.Limit = aws.Int32(limit)
		}
		res, err := client.Scan(ctx, &in)
		if err != nil {
			return page{}, fmt.Errorf("scan %s: %w", spec.TableName, err)
		}
		return page{items: res.Items, cursor: res.LastEvaluatedKey}, nil
	}
	return newPager(fetch, spec.Limit, spec.PageSize, spec.Cursor)
}

// Next fetches the next page. It returns no items and no error once Done.
// A page may be empty while more pages remain.
func (p *Pager) Next(ctx context.Context) ([]Item, error) {
	if p.Done() {
		return nil, nil
	}
	res, err := p.fetch(ctx, p.cursor, p.requestLimit())
	if err != nil {
		return nil, err
	}
	items := res.items
	if p.limit > 0 && len(items) > p.remaining {
		items = items[:p.remaining]
	}
	p.cursor = res.cursor
	if p.limit > 0 {
		p.remaining -= len(items)
	}
	if len(p.cursor) == 0 || (p.limit > 0 && p.remaining <= 0) {
		p.done = true
	}
	return items, nil
}

func (p *Pager) requestLimit() int32 {
	n := p.pageSize
	if p.limit > 0 && (n == 0 || p.remaining < n) {
		n = p.remaining
	}
	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	return int32(n)
}

// Done reports whether the sequence is exhausted or the limit was reached.
func (p *Pager) Done() bool {
	return p.done
}

// Cursor returns the continuation cursor after the last page, or nil when the
// underlying read is exhausted. It is set even when the pager stopped at its limit.
func (p *Pager) Cursor() Cursor {
	if len(p.cursor) == 0 {
		return nil
	}
	return p.cursor
}

// Resume returns a new pager that starts at cursor with the same request and limit.
func (p *Pager) Resume(cursor Cursor) *Pager {
	return &Pager{
		fetch:     p.fetch,
		limit:     p.limit,
		pageSize:  p.pageSize,
		cursor:    cursor,
		remaining: p.limit,
	}
}

// All drains the pager.
func (p *Pager) All(ctx context.Context) ([]Item, error) {
	var all []Item
	for !p.Done() {
		items, err := p.Next(ctx)
		if err != nil {
			return nil, err
		}
		all = append(all, items...)
	}
	return all, nil
}

// BuildQueryInput builds the Query request for spec, without cursor or limit.
func BuildQueryInput(spec QuerySpec) (*dynamodb.QueryInput, error) {
	if spec.TableName == "" {
		return nil, ddberrors.NewValidationError("table", "table name is required")
	}
	keyConds, err := ParseConditions(spec.KeyConditions)
	if err != nil {
		return nil, err
	}
	kc, err := BuildKeyCondition(keyConds)
	if err != nil {
		return nil, err
	}
	filterConds, err := ParseConditions(spec.FilterConditions)
	if err != nil {
		return nil, err
	}
	filter, err := BuildFilter(filterConds)
	if err != nil {
		return nil, err
	}

	b := expression.NewBuilder().WithKeyCondition(kc)
	if filter.IsSet() {
		b = b.WithFilter(filter)
	}
	expr, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build query expression: %w", err)
	}

	in := &dynamodb.QueryInput{
		TableName:                 aws.String(spec.TableName),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(!spec.Descending),
	}
	if spec.IndexName != "" {
		in.IndexName = aws.String(spec.IndexName)
	}
	if spec.ConsistentRead {
		in.ConsistentRead = aws.Bool(true)
	}
	return in, nil
}

// BuildScanInput builds the Scan request for spec, without cursor or limit.
func BuildScanInput(spec ScanSpec) (*dynamodb.ScanInput, error) {
	if spec.TableName == "" {
		return nil, ddberrors.NewValidationError("table", "table name is required")
	}
	in := &dynamodb.ScanInput{TableName: aws.String(spec.TableName)}
	if spec.IndexName != "" {
		in.IndexName = aws.String(spec.IndexName)
	}
	if spec.ConsistentRead {
		in.ConsistentRead = aws.Bool(true)
	}
	filterConds, err := ParseConditions(spec.FilterConditions)
	if err != nil {
		return nil, err
	}
	filter, err := BuildFilter(filterConds)
	if err != nil {
		return nil, err
	}
	if !filter.IsSet() {
		return in, nil
	}
	expr, err := expression.NewBuilder().WithFilter(filter).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build scan expression: %w", err)
	}
	in.FilterExpression = expr.Filter()
	in.ExpressionAttributeNames = expr.Names()
	in.ExpressionAttributeValues = expr.Values()
	return in, nil
}
