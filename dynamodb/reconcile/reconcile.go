// Package reconcile creates tables from compiled schemas and brings live
// tables in line with them.
//
// Only throughput and global secondary indexes are reconciled. A primary key
// change is refused, and local index drift is left alone since DynamoDB does
// not allow changing local indexes after creation.
//
// DynamoDB accepts one global index creation or deletion per UpdateTable call
// and rejects a new one while another is in progress, so index changes are
// applied one call at a time, waiting for every index to settle in between.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/acksell/ddbmodel/dynamodb/ddberrors"
	"github.com/acksell/ddbmodel/dynamodb/ddbiface"
	"github.com/acksell/ddbmodel/dynamodb/schema"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-logr/logr"
)

// The waiter needs a positive maximum. Waits are bounded by the caller's ctx unless WithMaxWait is set.
const unboundedWait = 24 * time.Hour

type Option func(*Reconciler)

// WithLogger sets the logger for create and update plans.
func WithLogger(l logr.Logger) Option {
	return func(r *Reconciler) {
		r.log = l
	}
}

// WithMaxWait bounds how long Create and Update wait for the table to become active.
func WithMaxWait(d time.Duration) Option {
	return func(r *Reconciler) {
		r.maxWait = d
	}
}

// WithPollInterval sets the delay between DescribeTable calls while waiting.
func WithPollInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		r.pollInterval = d
	}
}

// WithBatchedIndexUpdates sends all index changes in a single UpdateTable
// call. Only stores that accept several index creations or deletions per
// call, such as ddbstore, support this.
func WithBatchedIndexUpdates() Option {
	return func(r *Reconciler) {
		r.batched = true
	}
}

// Reconciler creates and updates tables.
type Reconciler struct {
	client       ddbiface.TableClient
	log          logr.Logger
	maxWait      time.Duration
	pollInterval time.Duration
	batched      bool
}

func New(client ddbiface.TableClient, opts ...Option) *Reconciler {
	r := &Reconciler{client: client, log: logr.Discard(), maxWait: unboundedWait}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create creates the table and blocks until it is active.
func (r *Reconciler) Create(ctx context.Context, ts *schema.TableSchema) (*types.TableDescription, error) {
	in := ts.CreateTableInput()
	r.log.Info("creating table", "table", ts.TableName,
		"globalIndexes", len(in.GlobalSecondaryIndexes), "localIndexes", len(in.LocalSecondaryIndexes))
	if _, err := r.client.CreateTable(ctx, in); err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			return nil, &ddberrors.TableAlreadyExistsError{Table: ts.TableName, Response: err}
		}
		return nil, fmt.Errorf("create table %s: %w", ts.TableName, err)
	}
	return r.wait(ctx, ts.TableName, nil)
}

// wait blocks until the table and all of its global indexes are active and
// none of the gone indexes is listed any more.
func (r *Reconciler) wait(ctx context.Context, tableName string, gone []string) (*types.TableDescription, error) {
	waiter := dynamodb.NewTableExistsWaiter(r.client, func(o *dynamodb.TableExistsWaiterOptions) {
		o.Retryable = settled(gone)
		if r.pollInterval > 0 {
			o.MinDelay = r.pollInterval
			o.MaxDelay = r.pollInterval
		}
	})
	out, err := waiter.WaitForOutput(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)}, r.maxWait)
	if err != nil {
		return nil, fmt.Errorf("wait for table %s: %w", tableName, err)
	}
	return out.Table, nil
}

func settled(gone []string) func(context.Context, *dynamodb.DescribeTableInput, *dynamodb.DescribeTableOutput, error) (bool, error) {
	return func(_ context.Context, _ *dynamodb.DescribeTableInput, out *dynamodb.DescribeTableOutput, err error) (bool, error) {
		if err != nil {
			var notFound *types.ResourceNotFoundException
			if errors.As(err, &notFound) {
				return true, nil
			}
			return false, err
		}
		if out == nil || out.Table == nil || out.Table.TableStatus != types.TableStatusActive {
			return true, nil
		}
		for _, gsi := range out.Table.GlobalSecondaryIndexes {
			if slices.Contains(gone, aws.ToString(gsi.IndexName)) {
				return true, nil
			}
			if gsi.IndexStatus != types.IndexStatusActive || aws.ToBool(gsi.Backfilling) {
				return true, nil
			}
		}
		return false, nil
	}
}

// Describe returns the live description of the table.
func (r *Reconciler) Describe(ctx context.Context, ts *schema.TableSchema) (*types.TableDescription, error) {
	out, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(ts.TableName)})
	if err != nil {
		return nil, fmt.Errorf("describe table %s: %w", ts.TableName, err)
	}
	return out.Table, nil
}

// Exists reports whether the namespaced table exists.
func (r *Reconciler) Exists(ctx context.Context, tableName string) (bool, error) {
	_, err := r.client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(tableName)})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("describe table %s: %w", tableName, err)
	}
	return true, nil
}

// Plan computes the changes Update would make, without applying them.
func (r *Reconciler) Plan(ctx context.Context, ts *schema.TableSchema, throughput *schema.Throughput) (Plan, error) {
	live, err := r.Describe(ctx, ts)
	if err != nil {
		return Plan{TableName: ts.TableName}, err
	}
	return Diff(ts, live, throughput)
}

// Update reconciles the live table with ts and returns the applied plan.
// Table throughput is only changed when throughput is given.
func (r *Reconciler) Update(ctx context.Context, ts *schema.TableSchema, throughput *schema.Throughput) (Plan, error) {
	plan, err := r.Plan(ctx, ts, throughput)
	if err != nil {
		return plan, err
	}
	if plan.Empty() {
		r.log.V(1).Info("table up to date", "table", ts.TableName)
		return plan, nil
	}
	r.log.Info("updating table", "table", ts.TableName,
		"throughput", plan.Throughput != nil, "create", indexNames(plan.Creates),
		"update", indexNames(plan.Updates), "delete", plan.Deletes)

	for _, in := range plan.Requests(r.batched) {
		if _, err := r.client.UpdateTable(ctx, in); err != nil {
			return plan, fmt.Errorf("update table %s: %w", ts.TableName, err)
		}
		if _, err := r.wait(ctx, ts.TableName, deletedIndexes(in)); err != nil {
			return plan, err
		}
	}
	return plan, nil
}

func deletedIndexes(in *dynamodb.UpdateTableInput) []string {
	var out []string
	for _, u := range in.GlobalSecondaryIndexUpdates {
		if u.Delete != nil {
			out = append(out, aws.ToString(u.Delete.IndexName))
		}
	}
	return out
}

// EnsureTable creates the table when it is missing and updates it otherwise.
// The declared table throughput is applied on update.
func (r *Reconciler) EnsureTable(ctx context.Context, ts *schema.TableSchema) (created bool, plan Plan, err error) {
	exists, err := r.Exists(ctx, ts.TableName)
	if err != nil {
		return false, Plan{TableName: ts.TableName}, err
	}
	if !exists {
		if _, err := r.Create(ctx, ts); err != nil {
			return false, Plan{TableName: ts.TableName}, err
		}
		return true, Plan{TableName: ts.TableName}, nil
	}
	t := ts.Throughput
	plan, err = r.Update(ctx, ts, &t)
	return false, plan, err
}

func indexNames(idx []schema.IndexSpec) []string {
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, i.Name)
	}
	return out
}
