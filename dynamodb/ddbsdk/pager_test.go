package ddbsdk

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/acksell/ddbmodel/dynamodb/ddberrors"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagedClient serves items in order. Limit counts evaluated items, and keep
// drops items after evaluation the way a filter expression does.
type pagedClient struct {
	items  []Item
	keep   func(Item) bool
	limits []int32
}

func newPagedClient(n int) *pagedClient {
	c := &pagedClient{}
	for i := 0; i < n; i++ {
		c.items = append(c.items, Item{
			"id": &types.AttributeValueMemberN{Value: strconv.Itoa(i)},
		})
	}
	return c
}

func (c *pagedClient) page(limit *int32, start map[string]types.AttributeValue) ([]Item, map[string]types.AttributeValue) {
	from := 0
	if start != nil {
		n, _ := strconv.Atoi(start["id"].(*types.AttributeValueMemberN).Value)
		from = n + 1
	}
	max := len(c.items)
	if limit != nil {
		c.limits = append(c.limits, *limit)
		if from+int(*limit) < max {
			max = from + int(*limit)
		}
	} else {
		c.limits = append(c.limits, 0)
	}
	var out []Item
	for _, it := range c.items[from:max] {
		if c.keep == nil || c.keep(it) {
			out = append(out, it)
		}
	}
	var lek map[string]types.AttributeValue
	if max < len(c.items) {
		lek = map[string]types.AttributeValue{"id": c.items[max-1]["id"]}
	}
	return out, lek
}

func (c *pagedClient) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	items, lek := c.page(in.Limit, in.ExclusiveStartKey)
	return &dynamodb.QueryOutput{Items: items, Count: int32(len(items)), LastEvaluatedKey: lek}, nil
}

func (c *pagedClient) Scan(ctx context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	items, lek := c.page(in.Limit, in.ExclusiveStartKey)
	return &dynamodb.ScanOutput{Items: items, Count: int32(len(items)), LastEvaluatedKey: lek}, nil
}

func (c *pagedClient) DeleteItem(context.Context, *dynamodb.DeleteItemInput, ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return nil, errors.New("not implemented")
}

func (c *pagedClient) GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return nil, errors.New("not implemented")
}

func (c *pagedClient) PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return nil, errors.New("not implemented")
}

func (c *pagedClient) UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return nil, errors.New("not implemented")
}

func ids(items []Item) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it["id"].(*types.AttributeValueMemberN).Value)
	}
	return out
}

func TestPagerResumesWithoutDuplicates(t *testing.T) {
	ctx := context.Background()
	client := newPagedClient(7)

	p, err := NewScanPager(client, ScanSpec{TableName: "t", Limit: 3})
	require.NoError(t, err)

	var seen []string
	for {
		items, err := p.All(ctx)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(items), 3)
		seen = append(seen, ids(items)...)
		if p.Cursor() == nil {
			break
		}
		p = p.Resume(p.Cursor())
	}
	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5", "6"}, seen)
}

func TestPagerDecrementsByReturnedCount(t *testing.T) {
	ctx := context.Background()
	client := newPagedClient(20)
	client.keep = func(it Item) bool {
		n, _ := strconv.Atoi(it["id"].(*types.AttributeValueMemberN).Value)
		return n%2 == 0
	}

	p, err := NewQueryPager(client, QuerySpec{
		TableName:     "t",
		KeyConditions: map[string]any{"id": 1},
		Limit:         4,
	})
	require.NoError(t, err)

	items, err := p.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", "2", "4", "6"}, ids(items))
	// 4 evaluated keep 2, then 2 keep 1, then 1 keeps 1.
	assert.Equal(t, []int32{4, 2, 1}, client.limits)
	assert.True(t, p.Done())
	assert.NotNil(t, p.Cursor())
}

func TestPagerWithoutLimitDrains(t *testing.T) {
	ctx := context.Background()
	client := newPagedClient(5)

	p, err := NewScanPager(client, ScanSpec{TableName: "t", PageSize: 2})
	require.NoError(t, err)

	var pages int
	for !p.Done() {
		_, err := p.Next(ctx)
		require.NoError(t, err)
		pages++
	}
	assert.Equal(t, 3, pages)
	assert.Nil(t, p.Cursor())

	items, err := p.Next(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestPagerClampsLargeLimits(t *testing.T) {
	ctx := context.Background()
	client := newPagedClient(3)

	p, err := NewScanPager(client, ScanSpec{TableName: "t", Limit: math.MaxInt32 + 5})
	require.NoError(t, err)
	items, err := p.All(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 3)
	assert.Equal(t, []int32{math.MaxInt32}, client.limits)
}

func TestPagerRejectsNegativeLimit(t *testing.T) {
	_, err := NewScanPager(newPagedClient(1), ScanSpec{TableName: "t", Limit: -1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ddberrors.ErrValidation))
}

func TestParseConditions(t *testing.T) {
	t.Run("operators", func(t *testing.T) {
		conds, err := ParseConditions(map[string]any{
			"status":            "open",
			"total__gte":        10,
			"name__begins_with": "a",
			"is_paid":           true,
		})
		require.NoError(t, err)
		assert.Equal(t, []Condition{
			{Attr: "is_paid", Op: OpEq, Value: 1},
			{Attr: "name", Op: OpBeginsWith, Value: "a"},
			{Attr: "status", Op: OpEq, Value: "open"},
			{Attr: "total", Op: OpGte, Value: 10},
		}, conds)
	})

	t.Run("datetimes become epoch seconds", func(t *testing.T) {
		c, err := ParseCondition("created__lt", time.Unix(1700000000, 0))
		require.NoError(t, err)
		assert.Equal(t, int64(1700000000), c.Value)
	})

	t.Run("unknown operator", func(t *testing.T) {
		_, err := ParseCondition("total__between", 1)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ddberrors.ErrValidation))
	})

	t.Run("is_in needs a slice", func(t *testing.T) {
		_, err := ParseCondition("status__is_in", "open")
		require.Error(t, err)

		c, err := ParseCondition("status__is_in", []string{"open", "closed"})
		require.NoError(t, err)
		assert.Equal(t, OpIsIn, c.Op)
	})
}

func TestBuildQueryInput(t *testing.T) {
	t.Run("key and filter conditions", func(t *testing.T) {
		in, err := BuildQueryInput(QuerySpec{
			TableName:        "dev_orders",
			IndexName:        "ByStatus",
			KeyConditions:    map[string]any{"status": "open", "created__gt": 5},
			FilterConditions: map[string]any{"total__lt": 100, "tag__contains": "x", "region__is_in": []string{"eu", "us"}},
			Descending:       true,
		})
		require.NoError(t, err)
		assert.Equal(t, "ByStatus", aws.ToString(in.IndexName))
		assert.False(t, aws.ToBool(in.ScanIndexForward))
		require.NotNil(t, in.KeyConditionExpression)
		require.NotNil(t, in.FilterExpression)
		assert.Contains(t, *in.KeyConditionExpression, "AND")
		assert.Contains(t, *in.FilterExpression, "contains")
		assert.Contains(t, *in.FilterExpression, "IN")

		var names []string
		for _, n := range in.ExpressionAttributeNames {
			names = append(names, n)
		}
		assert.ElementsMatch(t, []string{"status", "created", "total", "tag", "region"}, names)
	})

	t.Run("filter only operators are rejected on keys", func(t *testing.T) {
		_, err := BuildQueryInput(QuerySpec{
			TableName:     "t",
			KeyConditions: map[string]any{"status__ne": "open"},
		})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ddberrors.ErrValidation))
	})

	t.Run("hash part needs eq", func(t *testing.T) {
		_, err := BuildQueryInput(QuerySpec{
			TableName:     "t",
			KeyConditions: map[string]any{"status__gt": "a"},
		})
		require.Error(t, err)
	})

	t.Run("key condition required", func(t *testing.T) {
		_, err := BuildQueryInput(QuerySpec{TableName: "t"})
		require.Error(t, err)
	})
}

func ExampleParseConditions() {
	conds, _ := ParseConditions(map[string]any{"status": "open", "total__gte": 10})
	for _, c := range conds {
		fmt.Println(c.Attr, c.Op, c.Value)
	}
	// Output:
	// status eq open
	// total gte 10
}
