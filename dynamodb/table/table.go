package table

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TableDefinition is the runtime key layout of a table and its secondary indexes.
type TableDefinition struct {
	Name           string
	KeyDefinitions PrimaryKeyDefinition
	GSIs           []IndexDefinition
	LSIs           []IndexDefinition
}

// IndexDefinition represents a global or local secondary index.
type IndexDefinition struct {
	Name           string
	KeyDefinitions PrimaryKeyDefinition
}

// ExtractPrimaryKey extracts the index key values from a document.
func (i IndexDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	return i.KeyDefinitions.ExtractPrimaryKey(doc)
}

func (t TableDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	return t.KeyDefinitions.ExtractPrimaryKey(doc)
}

// Index returns the secondary index with the given name.
func (t TableDefinition) Index(name string) (IndexDefinition, bool) {
	for _, idx := range t.GSIs {
		if idx.Name == name {
			return idx, true
		}
	}
	for _, idx := range t.LSIs {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexDefinition{}, false
}

// FromCreateTableInput derives the key layout from a CreateTable payload.
func FromCreateTableInput(in *dynamodb.CreateTableInput) (TableDefinition, error) {
	if in == nil || in.TableName == nil {
		return TableDefinition{}, fmt.Errorf("table name is required")
	}
	pk, err := KeyDefinitionFromSchema(in.KeySchema, in.AttributeDefinitions)
	if err != nil {
		return TableDefinition{}, fmt.Errorf("table %s: %w", *in.TableName, err)
	}
	def := TableDefinition{Name: *in.TableName, KeyDefinitions: pk}
	for _, gsi := range in.GlobalSecondaryIndexes {
		idx, err := indexDefinition(gsi.IndexName, gsi.KeySchema, in.AttributeDefinitions)
		if err != nil {
			return TableDefinition{}, err
		}
		def.GSIs = append(def.GSIs, idx)
	}
	for _, lsi := range in.LocalSecondaryIndexes {
		idx, err := indexDefinition(lsi.IndexName, lsi.KeySchema, in.AttributeDefinitions)
		if err != nil {
			return TableDefinition{}, err
		}
		def.LSIs = append(def.LSIs, idx)
	}
	return def, nil
}

func indexDefinition(name *string, ks []types.KeySchemaElement, attrs []types.AttributeDefinition) (IndexDefinition, error) {
	if name == nil {
		return IndexDefinition{}, fmt.Errorf("index name is required")
	}
	pk, err := KeyDefinitionFromSchema(ks, attrs)
	if err != nil {
		return IndexDefinition{}, fmt.Errorf("index %s: %w", *name, err)
	}
	return IndexDefinition{Name: *name, KeyDefinitions: pk}, nil
}

// KeyDefinitionFromSchema resolves key attribute kinds from the attribute definitions.
func KeyDefinitionFromSchema(ks []types.KeySchemaElement, attrs []types.AttributeDefinition) (PrimaryKeyDefinition, error) {
	kinds := make(map[string]KeyKind, len(attrs))
	for _, a := range attrs {
		if a.AttributeName == nil {
			continue
		}
		kinds[*a.AttributeName] = KeyKind(a.AttributeType)
	}
	var def PrimaryKeyDefinition
	for _, el := range ks {
		if el.AttributeName == nil {
			return PrimaryKeyDefinition{}, fmt.Errorf("key schema element without attribute name")
		}
		kind, ok := kinds[*el.AttributeName]
		if !ok {
			return PrimaryKeyDefinition{}, fmt.Errorf("key attribute %q has no attribute definition", *el.AttributeName)
		}
		kd := KeyDef{Name: *el.AttributeName, Kind: kind}
		switch el.KeyType {
		case types.KeyTypeHash:
			if def.PartitionKey.Name != "" {
				return PrimaryKeyDefinition{}, fmt.Errorf("more than one hash key")
			}
			def.PartitionKey = kd
		case types.KeyTypeRange:
			if def.SortKey.Name != "" {
				return PrimaryKeyDefinition{}, fmt.Errorf("more than one range key")
			}
			def.SortKey = kd
		default:
			return PrimaryKeyDefinition{}, fmt.Errorf("unknown key type %q", el.KeyType)
		}
	}
	if def.PartitionKey.Name == "" {
		return PrimaryKeyDefinition{}, fmt.Errorf("hash key is required")
	}
	return def, nil
}

func (k PrimaryKeyDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	part, ok := doc[k.PartitionKey.Name]
	if !ok {
		return PrimaryKey{}, fmt.Errorf("partition key %q not found", k.PartitionKey.Name)
	}
	if err := attributeMatchesDefinition(k.PartitionKey.Kind, part); err != nil {
		return PrimaryKey{}, fmt.Errorf("document key %q kind does not match definition: %w", k.PartitionKey.Name, err)
	}
	pk := PrimaryKey{
		Definition: k,
		Values: PrimaryKeyValues{
			PartitionKey: keyValueFromAV(part),
		},
	}
	if k.SortKey.Name == "" {
		return pk, nil
	}
	sort, ok := doc[k.SortKey.Name]
	if !ok {
		return PrimaryKey{}, fmt.Errorf("sort key %q not found on document", k.SortKey.Name)
	}
	if err := attributeMatchesDefinition(k.SortKey.Kind, sort); err != nil {
		return PrimaryKey{}, fmt.Errorf("sort key %q kind does not match definition: %w", k.SortKey.Name, err)
	}
	pk.Values.SortKey = keyValueFromAV(sort)
	return pk, nil
}

// keyValueFromAV must only be called after attributeMatchesDefinition succeeded.
func keyValueFromAV(av types.AttributeValue) any {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberB:
		return v.Value
	default:
		panic(fmt.Sprintf("unsupported attribute value %T for dynamodb keys", v))
	}
}
