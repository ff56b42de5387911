package model

import (
	"context"
	"fmt"
	"testing"

	"github.com/acksell/ddbmodel/dynamodb/ddberrors"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedOrders(t *testing.T, m *Model, n int, status string) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := m.Create(context.Background(), map[string]any{
			"id":      fmt.Sprintf("order-%d", i),
			"status":  status,
			"is_paid": i%2 == 0,
		})
		require.NoError(t, err)
	}
}

func ids(t *testing.T, docs []*Document) []string {
	t.Helper()
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		v, err := d.Value("id")
		require.NoError(t, err)
		out = append(out, v.(string))
	}
	return out
}

func TestPaginatedQuery(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestModel(t, "orders", WithQueryIndex("ByStatus"))
	seedOrders(t, m, 7, "open")

	spec := QuerySpec{KeyConditions: map[string]any{"status": "open"}, Limit: 3}
	var seen []string
	var pages int
	for {
		docs, cursor, err := m.PaginatedQuery(ctx, spec)
		require.NoError(t, err)
		pages++
		assert.LessOrEqual(t, len(docs), 3)
		seen = append(seen, ids(t, docs)...)
		if cursor == nil {
			break
		}
		spec.Cursor = cursor
	}
	assert.Equal(t, 3, pages)
	assert.ElementsMatch(t, []string{"order-0", "order-1", "order-2", "order-3", "order-4", "order-5", "order-6"}, seen)

	t.Run("zero limit", func(t *testing.T) {
		docs, cursor, err := m.PaginatedQuery(ctx, QuerySpec{KeyConditions: map[string]any{"status": "open"}})
		require.NoError(t, err)
		assert.Empty(t, docs)
		assert.Nil(t, cursor)
	})

	t.Run("filter with a boolean", func(t *testing.T) {
		p, err := m.Query(QuerySpec{
			KeyConditions:    map[string]any{"status": "open"},
			FilterConditions: map[string]any{"is_paid": true},
			PageSize:         2,
		})
		require.NoError(t, err)
		docs, err := p.All(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"order-0", "order-2", "order-4", "order-6"}, ids(t, docs))
	})

	t.Run("bad operator", func(t *testing.T) {
		_, err := m.Query(QuerySpec{KeyConditions: map[string]any{"status__like": "open"}})
		assert.ErrorIs(t, err, ddberrors.ErrValidation)
	})
}

func TestConsistentQueries(t *testing.T) {
	ctx := context.Background()

	t.Run("global index reads stay eventually consistent", func(t *testing.T) {
		m, client := newTestModel(t, "orders", WithQueryIndex("ByStatus"), WithConsistentRead())
		seedOrders(t, m, 2, "open")

		p, err := m.Query(QuerySpec{KeyConditions: map[string]any{"status": "open"}})
		require.NoError(t, err)
		docs, err := p.All(ctx)
		require.NoError(t, err)
		assert.Len(t, docs, 2)

		table := New(client, m.Schema(), WithConsistentRead())
		p, err = table.Query(QuerySpec{KeyConditions: map[string]any{"id": "order-1"}})
		require.NoError(t, err)
		_, err = p.All(ctx)
		require.NoError(t, err)

		require.Len(t, client.queries, 2)
		assert.Equal(t, "ByStatus", aws.ToString(client.queries[0].IndexName))
		assert.Nil(t, client.queries[0].ConsistentRead)
		assert.Nil(t, client.queries[1].IndexName)
		assert.True(t, aws.ToBool(client.queries[1].ConsistentRead))
	})

	t.Run("local index reads are consistent", func(t *testing.T) {
		m, client := newTestModel(t, "events", WithConsistentRead())
		_, err := m.Create(ctx, map[string]any{"session_id": "s1", "time": 1, "seq": 7})
		require.NoError(t, err)

		p, err := m.Query(QuerySpec{IndexName: "BySeq", KeyConditions: map[string]any{"session_id": "s1", "seq__gte": 5}})
		require.NoError(t, err)
		docs, err := p.All(ctx)
		require.NoError(t, err)
		assert.Len(t, docs, 1)

		require.Len(t, client.queries, 1)
		assert.True(t, aws.ToBool(client.queries[0].ConsistentRead))
	})

	t.Run("without the option", func(t *testing.T) {
		m, client := newTestModel(t, "orders")
		p, err := m.Query(QuerySpec{KeyConditions: map[string]any{"id": "x"}})
		require.NoError(t, err)
		_, err = p.All(ctx)
		require.NoError(t, err)
		require.Len(t, client.queries, 1)
		assert.Nil(t, client.queries[0].ConsistentRead)
	})
}

func TestAll(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestModel(t, "orders")
	seedOrders(t, m, 5, "open")

	p, err := m.Scan(nil, 2)
	require.NoError(t, err)
	var seen []string
	for !p.Done() {
		docs, err := p.Next(ctx)
		require.NoError(t, err)
		for _, d := range docs {
			assert.True(t, d.Exists())
		}
		seen = append(seen, ids(t, docs)...)
	}
	assert.ElementsMatch(t, []string{"order-0", "order-1", "order-2", "order-3", "order-4"}, seen)

	all, err := m.All()
	require.NoError(t, err)
	docs, err := all.All(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 5)
}

type order struct {
	ID     string `dynamodbav:"id"`
	Status string `dynamodbav:"status,omitempty"`
	Total  int    `dynamodbav:"total"`
}

func (o order) Validate() error {
	if o.ID == "" {
		return ddberrors.NewValidationError("id", "required")
	}
	return nil
}

func (o order) ToEncodedMap() (map[string]types.AttributeValue, error) {
	return attributevalue.MarshalMap(o)
}

func (order) FromEncodedMap(raw map[string]types.AttributeValue) (order, error) {
	var o order
	err := attributevalue.UnmarshalMap(raw, &o)
	return o, err
}

func TestEntity(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestModel(t, "orders")

	require.NoError(t, Save(ctx, m, order{ID: "1", Status: "open", Total: 3}))
	assert.ErrorIs(t, Save(ctx, m, order{Status: "open"}), ddberrors.ErrValidation)

	got, err := Load[order](ctx, m, map[string]any{"id": "1"})
	require.NoError(t, err)
	assert.Equal(t, order{ID: "1", Status: "open", Total: 3}, got)

	_, err = Load[order](ctx, m, map[string]any{"id": "2"})
	assert.ErrorIs(t, err, ddberrors.ErrNotFound)
}
