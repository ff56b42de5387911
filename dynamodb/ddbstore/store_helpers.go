package ddbstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/acksell/ddbmodel/dynamodb/ddbstore/condexpr"
	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/dgraph-io/badger/v4"
)

type item = map[string]types.AttributeValue

func validationException(format string, args ...any) error {
	return &smithy.GenericAPIError{
		Code:    "ValidationException",
		Message: fmt.Sprintf(format, args...),
		Fault:   smithy.FaultClient,
	}
}

func resourceNotFound(tableName string) error {
	return &types.ResourceNotFoundException{
		Message: aws.String(fmt.Sprintf("Requested resource not found: Table: %s not found", tableName)),
	}
}

func conditionalCheckFailed() error {
	return &types.ConditionalCheckFailedException{
		Message: aws.String("The conditional request failed"),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func extractKeyAttributes(it item, keyDef table.PrimaryKeyDefinition) item {
	out := make(item, 2)
	for _, name := range keyDef.Names() {
		if v, ok := it[name]; ok {
			out[name] = v
		}
	}
	return out
}

// validateItem rejects values DynamoDB refuses to store and key attributes of
// the wrong type, on the table or on any index.
func (t *tableState) validateItem(it item) error {
	for name, v := range it {
		if err := validateValue(v); err != nil {
			return validationException("One or more parameter values were invalid: %s for key %s", err, name)
		}
	}
	if _, err := t.definition.ExtractPrimaryKey(it); err != nil {
		return validationException("One or more parameter values were invalid: %v", err)
	}
	for _, idx := range t.indexes() {
		for _, kd := range []table.KeyDef{idx.KeyDefinitions.PartitionKey, idx.KeyDefinitions.SortKey} {
			v, ok := it[kd.Name]
			if kd.Name == "" || !ok {
				continue
			}
			if _, err := (table.PrimaryKeyDefinition{PartitionKey: kd}).ExtractPrimaryKey(item{kd.Name: v}); err != nil {
				return validationException("One or more parameter values were invalid: Type mismatch for Index Key %s Expected: %s IndexName: %s", kd.Name, kd.Kind, idx.Name)
			}
		}
	}
	return nil
}

// validateKey checks that key holds exactly the table key attributes.
func (t *tableState) validateKey(key item) (table.PrimaryKey, error) {
	names := t.definition.KeyDefinitions.Names()
	if len(key) != len(names) {
		return table.PrimaryKey{}, validationException("The provided key element does not match the schema")
	}
	pk, err := t.definition.ExtractPrimaryKey(key)
	if err != nil {
		return table.PrimaryKey{}, validationException("The provided key element does not match the schema")
	}
	return pk, nil
}

func validateValue(v types.AttributeValue) error {
	switch x := v.(type) {
	case *types.AttributeValueMemberS:
		if x.Value == "" {
			return errors.New("An AttributeValue may not contain an empty string")
		}
	case *types.AttributeValueMemberB:
		if len(x.Value) == 0 {
			return errors.New("An AttributeValue may not contain an empty binary value")
		}
	case *types.AttributeValueMemberSS:
		if len(x.Value) == 0 {
			return errors.New("A string set may not be empty")
		}
		for _, s := range x.Value {
			if s == "" {
				return errors.New("A string set may not contain an empty string")
			}
		}
	case *types.AttributeValueMemberNS:
		if len(x.Value) == 0 {
			return errors.New("A number set may not be empty")
		}
	case *types.AttributeValueMemberBS:
		if len(x.Value) == 0 {
			return errors.New("A binary set may not be empty")
		}
	case *types.AttributeValueMemberM:
		for _, e := range x.Value {
			if err := validateValue(e); err != nil {
				return err
			}
		}
	case *types.AttributeValueMemberL:
		for _, e := range x.Value {
			if err := validateValue(e); err != nil {
				return err
			}
		}
	case nil:
		return errors.New("Supplied AttributeValue is empty")
	}
	return nil
}

func loadItem(txn *badger.Txn, key []byte) (item, error) {
	entry, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var it item
	err = entry.Value(func(val []byte) error {
		it, err = DeserializeItem(val)
		return err
	})
	return it, err
}

// writeItem stores newItem under key and moves its index entries from
// oldItem's index keys to newItem's.
func (t *tableState) writeItem(txn *badger.Txn, key []byte, pk table.PrimaryKey, newItem, oldItem item) error {
	raw, err := SerializeItem(newItem)
	if err != nil {
		return err
	}
	if err := t.removeIndexEntries(txn, pk, oldItem); err != nil {
		return err
	}
	if err := txn.Set(key, raw); err != nil {
		return err
	}
	for _, idx := range t.indexes() {
		ikey, ok, err := t.indexEntryKey(idx, pk, newItem)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := txn.Set(ikey, raw); err != nil {
			return fmt.Errorf("update index %s: %w", idx.Name, err)
		}
	}
	return nil
}

func (t *tableState) removeItem(txn *badger.Txn, key []byte, pk table.PrimaryKey, oldItem item) error {
	if err := t.removeIndexEntries(txn, pk, oldItem); err != nil {
		return err
	}
	return txn.Delete(key)
}

func (t *tableState) removeIndexEntries(txn *badger.Txn, pk table.PrimaryKey, oldItem item) error {
	if oldItem == nil {
		return nil
	}
	for _, idx := range t.indexes() {
		ikey, ok, err := t.indexEntryKey(idx, pk, oldItem)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := txn.Delete(ikey); err != nil {
			return fmt.Errorf("update index %s: %w", idx.Name, err)
		}
	}
	return nil
}

// indexEntryKey returns the index key of it. Items missing an index key
// attribute are not indexed.
func (t *tableState) indexEntryKey(idx table.IndexDefinition, pk table.PrimaryKey, it item) ([]byte, bool, error) {
	ipk, err := idx.ExtractPrimaryKey(it)
	if err != nil {
		return nil, false, nil
	}
	key, err := indexKey(t.definition.Name, idx.Name, ipk, pk)
	if err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// checkCondition evaluates a ConditionExpression against the current item.
func checkCondition(expr *string, names map[string]string, values map[string]types.AttributeValue, current item) error {
	if expr == nil || *expr == "" {
		return nil
	}
	if current == nil {
		current = item{}
	}
	ok, err := condexpr.Eval(*expr, condexpr.Input{Names: names, Values: values}, current)
	if err != nil {
		return validationException("Invalid ConditionExpression: %v", err)
	}
	if !ok {
		return conditionalCheckFailed()
	}
	return nil
}

// project keeps the top-level attributes named by a ProjectionExpression.
func project(it item, expr *string, names map[string]string) (item, error) {
	if expr == nil || *expr == "" || it == nil {
		return it, nil
	}
	out := make(item)
	for _, part := range strings.Split(*expr, ",") {
		name := strings.TrimSpace(part)
		if i := strings.IndexAny(name, ".["); i >= 0 {
			name = name[:i]
		}
		if strings.HasPrefix(name, "#") {
			resolved, ok := names[name]
			if !ok {
				return nil, validationException("Invalid ProjectionExpression: An expression attribute name used in the document path is not defined; attribute name: %s", name)
			}
			name = resolved
		}
		if v, ok := it[name]; ok {
			out[name] = v
		}
	}
	return out, nil
}
