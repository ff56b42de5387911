package ddbstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const localARN = "arn:aws:dynamodb:local:000000000000:table/"

// CreateTable creates a table and its secondary indexes. Tables are ACTIVE
// as soon as the call returns.
func (s *Store) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	if params == nil {
		return nil, validationException("params is required")
	}
	def, err := table.FromCreateTableInput(params)
	if err != nil {
		return nil, validationException("One or more parameter values were invalid: %v", err)
	}
	if err := checkAttributeDefinitions(params); err != nil {
		return nil, err
	}
	for _, lsi := range def.LSIs {
		if lsi.KeyDefinitions.PartitionKey.Name != def.KeyDefinitions.PartitionKey.Name {
			return nil, validationException("One or more parameter values were invalid: Index KeySchema does not have the same leading hash key as table KeySchema for index: %s", lsi.Name)
		}
	}

	now := time.Now().UTC()
	desc := types.TableDescription{
		TableName:            aws.String(def.Name),
		TableArn:             aws.String(localARN + def.Name),
		TableId:              aws.String(uuid.NewString()),
		TableStatus:          types.TableStatusActive,
		CreationDateTime:     &now,
		KeySchema:            params.KeySchema,
		AttributeDefinitions: params.AttributeDefinitions,
		ItemCount:            aws.Int64(0),
		TableSizeBytes:       aws.Int64(0),
	}
	if params.BillingMode == types.BillingModePayPerRequest {
		desc.BillingModeSummary = &types.BillingModeSummary{BillingMode: types.BillingModePayPerRequest}
	} else {
		desc.ProvisionedThroughput = throughputDescription(params.ProvisionedThroughput)
	}
	for _, gsi := range params.GlobalSecondaryIndexes {
		desc.GlobalSecondaryIndexes = append(desc.GlobalSecondaryIndexes, gsiDescription(def.Name, gsi.IndexName, gsi.KeySchema, gsi.Projection, gsi.ProvisionedThroughput))
	}
	for _, lsi := range params.LocalSecondaryIndexes {
		desc.LocalSecondaryIndexes = append(desc.LocalSecondaryIndexes, types.LocalSecondaryIndexDescription{
			IndexName:  lsi.IndexName,
			IndexArn:   aws.String(localARN + def.Name + "/index/" + deref(lsi.IndexName)),
			KeySchema:  lsi.KeySchema,
			Projection: lsi.Projection,
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[def.Name]; ok {
		return nil, &types.ResourceInUseException{Message: aws.String("Table already exists: " + def.Name)}
	}
	state := &tableState{desc: desc, definition: def}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return s.saveTable(txn, state)
	}); err != nil {
		return nil, err
	}
	s.tables[def.Name] = state
	s.log.V(1).Info("created table", "table", def.Name, "gsis", len(def.GSIs), "lsis", len(def.LSIs))

	out := state.describe()
	return &dynamodb.CreateTableOutput{TableDescription: &out}, nil
}

// checkAttributeDefinitions rejects attribute definitions that no key uses,
// as DynamoDB does.
func checkAttributeDefinitions(params *dynamodb.CreateTableInput) error {
	used := make(map[string]bool)
	mark := func(ks []types.KeySchemaElement) {
		for _, el := range ks {
			used[deref(el.AttributeName)] = true
		}
	}
	mark(params.KeySchema)
	for _, gsi := range params.GlobalSecondaryIndexes {
		mark(gsi.KeySchema)
	}
	for _, lsi := range params.LocalSecondaryIndexes {
		mark(lsi.KeySchema)
	}
	for _, a := range params.AttributeDefinitions {
		if !used[deref(a.AttributeName)] {
			return validationException("One or more parameter values were invalid: Number of attributes in KeySchema does not exactly match number of attributes defined in AttributeDefinitions")
		}
	}
	return nil
}

func throughputDescription(pt *types.ProvisionedThroughput) *types.ProvisionedThroughputDescription {
	if pt == nil {
		return nil
	}
	return &types.ProvisionedThroughputDescription{
		ReadCapacityUnits:      pt.ReadCapacityUnits,
		WriteCapacityUnits:     pt.WriteCapacityUnits,
		NumberOfDecreasesToday: aws.Int64(0),
	}
}

func gsiDescription(tableName string, name *string, ks []types.KeySchemaElement, proj *types.Projection, pt *types.ProvisionedThroughput) types.GlobalSecondaryIndexDescription {
	return types.GlobalSecondaryIndexDescription{
		IndexName:             name,
		IndexArn:              aws.String(localARN + tableName + "/index/" + deref(name)),
		IndexStatus:           types.IndexStatusActive,
		KeySchema:             ks,
		Projection:            proj,
		ProvisionedThroughput: throughputDescription(pt),
	}
}

// describe returns a copy of the description that callers may keep.
func (t *tableState) describe() types.TableDescription {
	d := t.desc
	d.KeySchema = append([]types.KeySchemaElement(nil), t.desc.KeySchema...)
	d.AttributeDefinitions = append([]types.AttributeDefinition(nil), t.desc.AttributeDefinitions...)
	d.GlobalSecondaryIndexes = append([]types.GlobalSecondaryIndexDescription(nil), t.desc.GlobalSecondaryIndexes...)
	d.LocalSecondaryIndexes = append([]types.LocalSecondaryIndexDescription(nil), t.desc.LocalSecondaryIndexes...)
	if t.desc.ProvisionedThroughput != nil {
		pt := *t.desc.ProvisionedThroughput
		d.ProvisionedThroughput = &pt
	}
	return d
}

// DescribeTable returns the table description with a live item count.
func (s *Store) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if params == nil {
		return nil, validationException("params is required")
	}
	state, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	desc := state.describe()
	count, err := s.countPrefix(tablePrefix(state.definition.Name))
	if err != nil {
		return nil, err
	}
	desc.ItemCount = aws.Int64(count)
	return &dynamodb.DescribeTableOutput{Table: &desc}, nil
}

func (s *Store) countPrefix(prefix []byte) (int64, error) {
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// UpdateTable changes table throughput and creates, updates or deletes
// global secondary indexes. Several index updates may be sent in one call.
// New indexes are backfilled from the existing items before the call returns.
func (s *Store) UpdateTable(ctx context.Context, params *dynamodb.UpdateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateTableOutput, error) {
	if params == nil || params.TableName == nil {
		return nil, validationException("table name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.tables[*params.TableName]
	if !ok {
		return nil, resourceNotFound(*params.TableName)
	}
	next := &tableState{desc: current.describe(), definition: current.definition}
	next.definition.GSIs = append([]table.IndexDefinition(nil), current.definition.GSIs...)

	if params.ProvisionedThroughput == nil && params.BillingMode == "" && len(params.GlobalSecondaryIndexUpdates) == 0 {
		return nil, validationException("At least one of ProvisionedThroughput, BillingMode, UpdateStreamEnabled, GlobalSecondaryIndexUpdates or SSESpecification or ReplicaUpdates is required")
	}
	if params.BillingMode == types.BillingModePayPerRequest {
		next.desc.BillingModeSummary = &types.BillingModeSummary{BillingMode: types.BillingModePayPerRequest}
		next.desc.ProvisionedThroughput = nil
	}
	if pt := params.ProvisionedThroughput; pt != nil {
		if old := next.desc.ProvisionedThroughput; old != nil &&
			aws.ToInt64(old.ReadCapacityUnits) == aws.ToInt64(pt.ReadCapacityUnits) &&
			aws.ToInt64(old.WriteCapacityUnits) == aws.ToInt64(pt.WriteCapacityUnits) {
			return nil, validationException("The provisioned throughput for the table will not change. The requested value equals the current value. Current ReadCapacityUnits provisioned for the table: %d. Requested ReadCapacityUnits: %d. Current WriteCapacityUnits provisioned for the table: %d. Requested WriteCapacityUnits: %d. Refer to the Amazon DynamoDB Developer Guide for current limits and how to request higher limits.",
				aws.ToInt64(old.ReadCapacityUnits), aws.ToInt64(pt.ReadCapacityUnits), aws.ToInt64(old.WriteCapacityUnits), aws.ToInt64(pt.WriteCapacityUnits))
		}
		next.desc.ProvisionedThroughput = throughputDescription(pt)
		now := time.Now().UTC()
		next.desc.ProvisionedThroughput.LastIncreaseDateTime = &now
	}
	for _, a := range params.AttributeDefinitions {
		if !hasAttribute(next.desc.AttributeDefinitions, deref(a.AttributeName)) {
			next.desc.AttributeDefinitions = append(next.desc.AttributeDefinitions, a)
		}
	}

	var created, deleted []string
	for _, u := range params.GlobalSecondaryIndexUpdates {
		switch {
		case u.Create != nil:
			name := deref(u.Create.IndexName)
			if _, ok := next.definition.Index(name); ok {
				return nil, validationException("One or more parameter values were invalid: Attempting to create an index which already exists: %s", name)
			}
			keys, err := table.KeyDefinitionFromSchema(u.Create.KeySchema, next.desc.AttributeDefinitions)
			if err != nil {
				return nil, validationException("One or more parameter values were invalid: %v", err)
			}
			next.definition.GSIs = append(next.definition.GSIs, table.IndexDefinition{Name: name, KeyDefinitions: keys})
			next.desc.GlobalSecondaryIndexes = append(next.desc.GlobalSecondaryIndexes,
				gsiDescription(next.definition.Name, u.Create.IndexName, u.Create.KeySchema, u.Create.Projection, u.Create.ProvisionedThroughput))
			created = append(created, name)
		case u.Update != nil:
			i := gsiPosition(next.desc.GlobalSecondaryIndexes, deref(u.Update.IndexName))
			if i < 0 {
				return nil, &types.ResourceNotFoundException{Message: aws.String("Requested resource not found: Index: " + deref(u.Update.IndexName))}
			}
			next.desc.GlobalSecondaryIndexes[i].ProvisionedThroughput = throughputDescription(u.Update.ProvisionedThroughput)
		case u.Delete != nil:
			name := deref(u.Delete.IndexName)
			i := gsiPosition(next.desc.GlobalSecondaryIndexes, name)
			if i < 0 {
				return nil, &types.ResourceNotFoundException{Message: aws.String("Requested resource not found: Index: " + name)}
			}
			next.desc.GlobalSecondaryIndexes = append(next.desc.GlobalSecondaryIndexes[:i], next.desc.GlobalSecondaryIndexes[i+1:]...)
			for j, idx := range next.definition.GSIs {
				if idx.Name == name {
					next.definition.GSIs = append(next.definition.GSIs[:j], next.definition.GSIs[j+1:]...)
					break
				}
			}
			deleted = append(deleted, name)
		default:
			return nil, validationException("empty GlobalSecondaryIndexUpdate")
		}
	}

	for _, name := range deleted {
		if err := s.deletePrefixes(indexPrefix(next.definition.Name, name)); err != nil {
			return nil, fmt.Errorf("drop index %s: %w", name, err)
		}
	}
	for _, name := range created {
		if err := s.backfill(next, name); err != nil {
			return nil, fmt.Errorf("backfill index %s: %w", name, err)
		}
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return s.saveTable(txn, next)
	}); err != nil {
		return nil, err
	}
	s.tables[next.definition.Name] = next
	s.log.V(1).Info("updated table", "table", next.definition.Name, "createdIndexes", created, "deletedIndexes", deleted)

	out := next.describe()
	return &dynamodb.UpdateTableOutput{TableDescription: &out}, nil
}

func hasAttribute(attrs []types.AttributeDefinition, name string) bool {
	for _, a := range attrs {
		if deref(a.AttributeName) == name {
			return true
		}
	}
	return false
}

func gsiPosition(gsis []types.GlobalSecondaryIndexDescription, name string) int {
	for i, g := range gsis {
		if deref(g.IndexName) == name {
			return i
		}
	}
	return -1
}

// backfill writes index entries for every existing item of the table.
func (s *Store) backfill(state *tableState, indexName string) error {
	idx, _ := state.definition.Index(indexName)
	prefix := tablePrefix(state.definition.Name)

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			doc, err := DeserializeItem(raw)
			if err != nil {
				return err
			}
			pk, err := state.definition.ExtractPrimaryKey(doc)
			if err != nil {
				return err
			}
			ikey, ok, err := state.indexEntryKey(idx, pk, doc)
			if err != nil {
				return err
			}
			if ok {
				if err := wb.Set(ikey, raw); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return wb.Flush()
}

// deletePrefixes removes every key under the given prefixes.
func (s *Store) deletePrefixes(prefixes ...[]byte) error {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for _, prefix := range prefixes {
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// DeleteTable removes a table with all its items and index entries.
func (s *Store) DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	if params == nil || params.TableName == nil {
		return nil, validationException("table name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	state, ok := s.tables[*params.TableName]
	if !ok {
		return nil, resourceNotFound(*params.TableName)
	}
	name := state.definition.Name
	if err := s.deletePrefixes(tablePrefix(name), indexesPrefix(name)); err != nil {
		return nil, fmt.Errorf("drop table %s: %w", name, err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(metaKey(name))
	}); err != nil {
		return nil, err
	}
	delete(s.tables, name)
	s.log.V(1).Info("deleted table", "table", name)

	desc := state.describe()
	desc.TableStatus = types.TableStatusDeleting
	return &dynamodb.DeleteTableOutput{TableDescription: &desc}, nil
}

// ListTables lists table names in order, honoring Limit and ExclusiveStartTableName.
func (s *Store) ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	if params == nil {
		params = &dynamodb.ListTablesInput{}
	}
	s.mu.RLock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	start := deref(params.ExclusiveStartTableName)
	limit := int(aws.ToInt32(params.Limit))
	out := &dynamodb.ListTablesOutput{TableNames: []string{}}
	for _, name := range names {
		if start != "" && name <= start {
			continue
		}
		if limit > 0 && len(out.TableNames) == limit {
			out.LastEvaluatedTableName = aws.String(out.TableNames[len(out.TableNames)-1])
			break
		}
		out.TableNames = append(out.TableNames, name)
	}
	return out, nil
}
