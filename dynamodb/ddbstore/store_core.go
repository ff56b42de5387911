// Package ddbstore is a DynamoDB-compatible store backed by BadgerDB.
//
// It implements ddbiface.Client so tests and local sessions can run the
// document layer and the reconciler without AWS. Table descriptions are kept
// in the database next to the items, so a store opened on a path keeps its
// tables across restarts.
package ddbstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/acksell/ddbmodel/dynamodb/ddbiface"
	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-logr/logr"
)

var _ ddbiface.Client = (*Store)(nil)

// Store is a DynamoDB-compatible store backed by BadgerDB.
type Store struct {
	db  *badger.DB
	log logr.Logger

	mu     sync.RWMutex
	tables map[string]*tableState
}

type tableState struct {
	desc       types.TableDescription
	definition table.TableDefinition
}

// StoreOptions configures the BadgerDB store.
type StoreOptions struct {
	// Path to the database directory. If empty, uses in-memory mode.
	Path string
	// InMemory forces in-memory mode even if Path is set.
	InMemory bool
	// Logger receives store and BadgerDB logs. The zero value discards them.
	Logger logr.Logger
}

// New opens a store and creates the given tables unless they already exist.
func New(opts StoreOptions, defs ...*dynamodb.CreateTableInput) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)
	if opts.Path == "" || opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	badgerOpts = badgerOpts.WithLogger(badgerLogger{log.WithName("badger")})

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}
	s := &Store{
		db:     db,
		log:    log,
		tables: make(map[string]*tableState),
	}
	if err := s.loadTables(); err != nil {
		db.Close()
		return nil, err
	}
	for _, def := range defs {
		if def == nil || def.TableName == nil {
			continue
		}
		if _, ok := s.tables[*def.TableName]; ok {
			continue
		}
		if _, err := s.CreateTable(context.Background(), def); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the BadgerDB database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) loadTables() error {
	prefix := []byte{metaSpace}
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var desc types.TableDescription
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &desc)
			}); err != nil {
				return fmt.Errorf("load table %s: %w", bytes.TrimPrefix(it.Item().Key(), prefix), err)
			}
			state, err := stateFromDescription(desc)
			if err != nil {
				return err
			}
			s.tables[state.definition.Name] = state
		}
		return nil
	})
}

func (s *Store) saveTable(txn *badger.Txn, state *tableState) error {
	raw, err := json.Marshal(state.desc)
	if err != nil {
		return fmt.Errorf("encode table description: %w", err)
	}
	return txn.Set(metaKey(state.definition.Name), raw)
}

func stateFromDescription(desc types.TableDescription) (*tableState, error) {
	if desc.TableName == nil {
		return nil, fmt.Errorf("stored table description without name")
	}
	pk, err := table.KeyDefinitionFromSchema(desc.KeySchema, desc.AttributeDefinitions)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", *desc.TableName, err)
	}
	def := table.TableDefinition{Name: *desc.TableName, KeyDefinitions: pk}
	for _, gsi := range desc.GlobalSecondaryIndexes {
		k, err := table.KeyDefinitionFromSchema(gsi.KeySchema, desc.AttributeDefinitions)
		if err != nil {
			return nil, fmt.Errorf("table %s index %s: %w", *desc.TableName, deref(gsi.IndexName), err)
		}
		def.GSIs = append(def.GSIs, table.IndexDefinition{Name: deref(gsi.IndexName), KeyDefinitions: k})
	}
	for _, lsi := range desc.LocalSecondaryIndexes {
		k, err := table.KeyDefinitionFromSchema(lsi.KeySchema, desc.AttributeDefinitions)
		if err != nil {
			return nil, fmt.Errorf("table %s index %s: %w", *desc.TableName, deref(lsi.IndexName), err)
		}
		def.LSIs = append(def.LSIs, table.IndexDefinition{Name: deref(lsi.IndexName), KeyDefinitions: k})
	}
	return &tableState{desc: desc, definition: def}, nil
}

// getTable returns a snapshot of the table state. Callers must not mutate it.
func (s *Store) getTable(tableName *string) (*tableState, error) {
	if tableName == nil || *tableName == "" {
		return nil, validationException("table name is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.tables[*tableName]
	if !ok {
		return nil, resourceNotFound(*tableName)
	}
	return state, nil
}

// indexes returns every secondary index of the table, global first.
func (t *tableState) indexes() []table.IndexDefinition {
	all := make([]table.IndexDefinition, 0, len(t.definition.GSIs)+len(t.definition.LSIs))
	all = append(all, t.definition.GSIs...)
	return append(all, t.definition.LSIs...)
}

// keySpace resolves the key layout and the badger key prefix that a query or
// scan of the table, or of one of its indexes, iterates over.
func (t *tableState) keySpace(indexName *string) (keySpace, error) {
	if indexName == nil || *indexName == "" {
		return keySpace{
			tableName: t.definition.Name,
			keys:      t.definition.KeyDefinitions,
			prefix:    tablePrefix(t.definition.Name),
			tableKeys: t.definition.KeyDefinitions,
		}, nil
	}
	idx, ok := t.definition.Index(*indexName)
	if !ok {
		return keySpace{}, validationException("The table does not have the specified index: %s", *indexName)
	}
	return keySpace{
		tableName: t.definition.Name,
		indexName: idx.Name,
		keys:      idx.KeyDefinitions,
		prefix:    indexPrefix(t.definition.Name, idx.Name),
		tableKeys: t.definition.KeyDefinitions,
	}, nil
}

type keySpace struct {
	tableName string
	indexName string
	keys      table.PrimaryKeyDefinition
	prefix    []byte
	tableKeys table.PrimaryKeyDefinition
}

// cursorKey encodes an ExclusiveStartKey to the badger key it points at.
func (k keySpace) cursorKey(start map[string]types.AttributeValue) ([]byte, error) {
	tpk, err := k.tableKeys.ExtractPrimaryKey(start)
	if err != nil {
		return nil, validationException("The provided starting key is invalid: %v", err)
	}
	if k.indexName == "" {
		return itemKey(k.tableName, tpk)
	}
	ipk, err := k.keys.ExtractPrimaryKey(start)
	if err != nil {
		return nil, validationException("The provided starting key is invalid: %v", err)
	}
	return indexKey(k.tableName, k.indexName, ipk, tpk)
}

// cursorFor returns the LastEvaluatedKey for item: the key attributes of the
// index, plus those of the table when reading an index.
func (k keySpace) cursorFor(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := extractKeyAttributes(item, k.tableKeys)
	if k.indexName != "" {
		for name, v := range extractKeyAttributes(item, k.keys) {
			out[name] = v
		}
	}
	return out
}

type badgerLogger struct {
	log logr.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.log.Error(nil, fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.log.Info(fmt.Sprintf(format, args...), "level", "warning")
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.log.V(1).Info(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.log.V(2).Info(fmt.Sprintf(format, args...))
}
