package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/acksell/ddbmodel/dynamodb/ddberrors"
	"github.com/acksell/ddbmodel/dynamodb/ddbstore"
	"github.com/acksell/ddbmodel/dynamodb/schema"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventsWithA = `
namespace: test_
default_throughput: {read: 5, write: 5}
tables:
  events:
    key:
      - {name: session_id, role: hash, type: string}
      - {name: time, role: range, type: number}
    global_indexes:
      - name: A
        parts:
          - {name: saved_in_rdb, role: hash, type: number}
          - {name: time, role: range, type: number}
`

const eventsWithB = `
namespace: test_
default_throughput: {read: 5, write: 5}
tables:
  events:
    key:
      - {name: session_id, role: hash, type: string}
      - {name: time, role: range, type: number}
    global_indexes:
      - name: B
        parts:
          - {name: rdb_id, role: hash, type: number}
          - {name: session_id, role: range, type: string}
`

func compile(t *testing.T, src string) *schema.TableSchema {
	t.Helper()
	cfg, err := schema.Parse([]byte(src))
	require.NoError(t, err)
	ts, err := schema.Compile(cfg, "events")
	require.NoError(t, err)
	return ts
}

func newReconciler(t *testing.T, opts ...Option) *Reconciler {
	t.Helper()
	store, err := ddbstore.New(ddbstore.StoreOptions{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return New(store, opts...)
}

func indexNamesOf(desc *types.TableDescription) []string {
	var out []string
	for _, gsi := range desc.GlobalSecondaryIndexes {
		out = append(out, aws.ToString(gsi.IndexName))
	}
	return out
}

func TestCreate(t *testing.T) {
	ctx := context.Background()
	r := newReconciler(t)
	ts := compile(t, eventsWithA)

	desc, err := r.Create(ctx, ts)
	require.NoError(t, err)
	assert.Equal(t, types.TableStatusActive, desc.TableStatus)
	assert.Equal(t, "test_events", aws.ToString(desc.TableName))
	assert.Equal(t, []string{"A"}, indexNamesOf(desc))

	exists, err := r.Exists(ctx, "test_events")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = r.Exists(ctx, "test_missing")
	require.NoError(t, err)
	assert.False(t, exists)

	t.Run("already exists", func(t *testing.T) {
		_, err := r.Create(ctx, ts)
		require.Error(t, err)
		assert.True(t, ddberrors.IsTableAlreadyExists(err))
		var inUse *types.ResourceInUseException
		assert.ErrorAs(t, err, &inUse, "the raw response is kept")
	})
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()

	t.Run("replaces one global index with another", func(t *testing.T) {
		r := newReconciler(t)
		_, err := r.Create(ctx, compile(t, eventsWithA))
		require.NoError(t, err)

		ts := compile(t, eventsWithB)
		plan, err := r.Update(ctx, ts, nil)
		require.NoError(t, err)
		require.Len(t, plan.Creates, 1)
		assert.Equal(t, "B", plan.Creates[0].Name)
		assert.Equal(t, []string{"A"}, plan.Deletes)
		assert.Empty(t, plan.Updates)
		assert.Nil(t, plan.Throughput)

		desc, err := r.Describe(ctx, ts)
		require.NoError(t, err)
		assert.Equal(t, []string{"B"}, indexNamesOf(desc))

		plan, err = r.Update(ctx, ts, nil)
		require.NoError(t, err)
		assert.True(t, plan.Empty())
	})

	t.Run("batched on a store that accepts it", func(t *testing.T) {
		r := newReconciler(t, WithBatchedIndexUpdates())
		_, err := r.Create(ctx, compile(t, eventsWithA))
		require.NoError(t, err)

		ts := compile(t, eventsWithB)
		plan, err := r.Update(ctx, ts, nil)
		require.NoError(t, err)
		assert.Len(t, plan.Creates, 1)

		desc, err := r.Describe(ctx, ts)
		require.NoError(t, err)
		assert.Equal(t, []string{"B"}, indexNamesOf(desc))
	})

	t.Run("throughput only", func(t *testing.T) {
		r := newReconciler(t)
		ts := compile(t, eventsWithA)
		_, err := r.Create(ctx, ts)
		require.NoError(t, err)

		plan, err := r.Update(ctx, ts, &schema.Throughput{Read: 55, Write: 44})
		require.NoError(t, err)
		require.NotNil(t, plan.Throughput)
		assert.Empty(t, plan.Creates)
		assert.Empty(t, plan.Updates)
		assert.Empty(t, plan.Deletes)

		desc, err := r.Describe(ctx, ts)
		require.NoError(t, err)
		assert.Equal(t, int64(55), aws.ToInt64(desc.ProvisionedThroughput.ReadCapacityUnits))
		assert.Equal(t, int64(44), aws.ToInt64(desc.ProvisionedThroughput.WriteCapacityUnits))
		assert.Equal(t, int64(5), aws.ToInt64(desc.GlobalSecondaryIndexes[0].ProvisionedThroughput.ReadCapacityUnits))

		plan, err = r.Update(ctx, ts, &schema.Throughput{Read: 55, Write: 44})
		require.NoError(t, err)
		assert.True(t, plan.Empty(), "unchanged throughput issues no call")
	})

	t.Run("index throughput", func(t *testing.T) {
		r := newReconciler(t)
		ts := compile(t, eventsWithA)
		_, err := r.Create(ctx, ts)
		require.NoError(t, err)

		changed := *ts
		changed.GlobalIndexes = []schema.IndexSpec{ts.GlobalIndexes[0]}
		changed.GlobalIndexes[0].Throughput = schema.Throughput{Read: 9, Write: 9}
		plan, err := r.Update(ctx, &changed, nil)
		require.NoError(t, err)
		require.Len(t, plan.Updates, 1)
		assert.Empty(t, plan.Creates)
		assert.Empty(t, plan.Deletes)

		desc, err := r.Describe(ctx, ts)
		require.NoError(t, err)
		assert.Equal(t, int64(9), aws.ToInt64(desc.GlobalSecondaryIndexes[0].ProvisionedThroughput.WriteCapacityUnits))
	})

	t.Run("primary key mismatch", func(t *testing.T) {
		r := newReconciler(t)
		_, err := r.Create(ctx, compile(t, eventsWithA))
		require.NoError(t, err)

		ts := compile(t, `
namespace: test_
default_throughput: {read: 5, write: 5}
tables:
  events:
    key:
      - {name: id, role: hash, type: string}
`)
		_, err = r.Update(ctx, ts, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ddberrors.ErrUpdateTable)
	})

	t.Run("ensure table", func(t *testing.T) {
		r := newReconciler(t)
		created, _, err := r.EnsureTable(ctx, compile(t, eventsWithA))
		require.NoError(t, err)
		assert.True(t, created)

		created, plan, err := r.EnsureTable(ctx, compile(t, eventsWithB))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Len(t, plan.Creates, 1)
		assert.Len(t, plan.Deletes, 1)
	})
}

// oneChangeClient enforces DynamoDB's index limits on top of the store: one
// global index creation or deletion per UpdateTable call, and none while the
// previous one is still settling. A changed index reports CREATING, or
// DELETING, for the next few describes while the table itself stays ACTIVE.
type oneChangeClient struct {
	*ddbstore.Store
	settling  int
	leaving   []types.GlobalSecondaryIndexDescription
	calls     int
	describes int
}

func (c *oneChangeClient) UpdateTable(ctx context.Context, in *dynamodb.UpdateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error) {
	var changes []types.GlobalSecondaryIndexUpdate
	for _, u := range in.GlobalSecondaryIndexUpdates {
		if u.Create != nil || u.Delete != nil {
			changes = append(changes, u)
		}
	}
	if len(changes) > 1 {
		return nil, &types.LimitExceededException{Message: aws.String("only one global secondary index can be created or deleted per UpdateTable call")}
	}
	if c.settling > 0 {
		return nil, &types.LimitExceededException{Message: aws.String("an index change is still in progress")}
	}
	if len(changes) == 1 && changes[0].Delete != nil {
		before, err := c.Store.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: in.TableName})
		if err != nil {
			return nil, err
		}
		for _, gsi := range before.Table.GlobalSecondaryIndexes {
			if aws.ToString(gsi.IndexName) == aws.ToString(changes[0].Delete.IndexName) {
				gsi.IndexStatus = types.IndexStatusDeleting
				c.leaving = append(c.leaving, gsi)
			}
		}
	}
	out, err := c.Store.UpdateTable(ctx, in, optFns...)
	if err != nil {
		return nil, err
	}
	c.calls++
	if len(changes) == 1 {
		c.settling = 2
	}
	return out, nil
}

func (c *oneChangeClient) DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	out, err := c.Store.DescribeTable(ctx, in, optFns...)
	if err != nil || c.settling == 0 {
		c.leaving = nil
		return out, err
	}
	c.settling--
	c.describes++
	desc := *out.Table
	desc.GlobalSecondaryIndexes = append([]types.GlobalSecondaryIndexDescription(nil), desc.GlobalSecondaryIndexes...)
	for i := range desc.GlobalSecondaryIndexes {
		desc.GlobalSecondaryIndexes[i].IndexStatus = types.IndexStatusCreating
	}
	desc.GlobalSecondaryIndexes = append(desc.GlobalSecondaryIndexes, c.leaving...)
	return &dynamodb.DescribeTableOutput{Table: &desc}, nil
}

func TestUpdateOneIndexChangeAtATime(t *testing.T) {
	ctx := context.Background()
	newClient := func(t *testing.T) *oneChangeClient {
		store, err := ddbstore.New(ddbstore.StoreOptions{InMemory: true})
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return &oneChangeClient{Store: store}
	}

	t.Run("waits for each index to settle", func(t *testing.T) {
		client := newClient(t)
		r := New(client, WithPollInterval(time.Millisecond))
		_, err := r.Create(ctx, compile(t, eventsWithA))
		require.NoError(t, err)

		ts := compile(t, eventsWithB)
		plan, err := r.Update(ctx, ts, nil)
		require.NoError(t, err)
		assert.Len(t, plan.Creates, 1)
		assert.Equal(t, []string{"A"}, plan.Deletes)
		assert.Equal(t, 2, client.calls)
		assert.Equal(t, 4, client.describes, "two unsettled describes after each change")

		desc, err := r.Describe(ctx, ts)
		require.NoError(t, err)
		assert.Equal(t, []string{"B"}, indexNamesOf(desc))
		assert.Equal(t, types.IndexStatusActive, desc.GlobalSecondaryIndexes[0].IndexStatus)
	})

	t.Run("batched changes are rejected", func(t *testing.T) {
		client := newClient(t)
		r := New(client, WithPollInterval(time.Millisecond), WithBatchedIndexUpdates())
		_, err := r.Create(ctx, compile(t, eventsWithA))
		require.NoError(t, err)

		_, err = r.Update(ctx, compile(t, eventsWithB), nil)
		var limit *types.LimitExceededException
		assert.ErrorAs(t, err, &limit)
	})
}

func TestSettled(t *testing.T) {
	ctx := context.Background()
	describe := func(status types.TableStatus, gsis ...types.GlobalSecondaryIndexDescription) *dynamodb.DescribeTableOutput {
		return &dynamodb.DescribeTableOutput{Table: &types.TableDescription{TableStatus: status, GlobalSecondaryIndexes: gsis}}
	}
	active := func(name string) types.GlobalSecondaryIndexDescription {
		return types.GlobalSecondaryIndexDescription{IndexName: aws.String(name), IndexStatus: types.IndexStatusActive}
	}

	tests := []struct {
		name  string
		gone  []string
		out   *dynamodb.DescribeTableOutput
		err   error
		retry bool
	}{
		{name: "active", out: describe(types.TableStatusActive, active("A")), retry: false},
		{name: "table updating", out: describe(types.TableStatusUpdating, active("A")), retry: true},
		{name: "index creating", out: describe(types.TableStatusActive, active("A"),
			types.GlobalSecondaryIndexDescription{IndexName: aws.String("B"), IndexStatus: types.IndexStatusCreating}), retry: true},
		{name: "index backfilling", out: describe(types.TableStatusActive,
			types.GlobalSecondaryIndexDescription{IndexName: aws.String("B"), IndexStatus: types.IndexStatusActive, Backfilling: aws.Bool(true)}), retry: true},
		{name: "deleted index still listed", gone: []string{"A"}, out: describe(types.TableStatusActive, active("A")), retry: true},
		{name: "deleted index gone", gone: []string{"A"}, out: describe(types.TableStatusActive, active("B")), retry: false},
		{name: "table not visible yet", err: &types.ResourceNotFoundException{}, retry: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retry, err := settled(tt.gone)(ctx, nil, tt.out, tt.err)
			require.NoError(t, err)
			assert.Equal(t, tt.retry, retry)
		})
	}

	t.Run("other errors stop the wait", func(t *testing.T) {
		_, err := settled(nil)(ctx, nil, nil, errors.New("boom"))
		assert.EqualError(t, err, "boom")
	})
}

func TestDiff(t *testing.T) {
	ts := compile(t, eventsWithB)
	live := &types.TableDescription{
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("time"), KeyType: types.KeyTypeRange},
			{AttributeName: aws.String("session_id"), KeyType: types.KeyTypeHash},
		},
		ProvisionedThroughput: &types.ProvisionedThroughputDescription{ReadCapacityUnits: aws.Int64(5), WriteCapacityUnits: aws.Int64(5)},
		GlobalSecondaryIndexes: []types.GlobalSecondaryIndexDescription{
			{IndexName: aws.String("A"), ProvisionedThroughput: &types.ProvisionedThroughputDescription{ReadCapacityUnits: aws.Int64(5), WriteCapacityUnits: aws.Int64(5)}},
		},
	}

	plan, err := Diff(ts, live, &schema.Throughput{Read: 5, Write: 5})
	require.NoError(t, err)
	assert.Nil(t, plan.Throughput)
	require.Len(t, plan.Creates, 1)
	assert.Equal(t, []string{"A"}, plan.Deletes)
	assert.Len(t, plan.AttributeDefinitions, 2)

	t.Run("batched requests", func(t *testing.T) {
		reqs := plan.Requests(true)
		require.Len(t, reqs, 1)
		assert.Len(t, reqs[0].GlobalSecondaryIndexUpdates, 2)
		assert.NotNil(t, reqs[0].GlobalSecondaryIndexUpdates[0].Create)
		assert.NotNil(t, reqs[0].GlobalSecondaryIndexUpdates[1].Delete)
	})

	t.Run("one index change per request", func(t *testing.T) {
		reqs := plan.Requests(false)
		require.Len(t, reqs, 2)
		assert.NotNil(t, reqs[0].GlobalSecondaryIndexUpdates[0].Create)
		assert.NotEmpty(t, reqs[0].AttributeDefinitions)
		assert.NotNil(t, reqs[1].GlobalSecondaryIndexUpdates[0].Delete)
		assert.Empty(t, reqs[1].AttributeDefinitions)
	})

	t.Run("string form", func(t *testing.T) {
		assert.Equal(t, "test_events:\n  + index B (rdb_id HASH, session_id RANGE) read=5 write=5\n  - index A", plan.String())
	})
}
