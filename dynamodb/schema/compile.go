package schema

import (
	"fmt"
	"strings"

	"github.com/acksell/ddbmodel/dynamodb/codec"
	"github.com/acksell/ddbmodel/dynamodb/ddberrors"
	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// AttributeDef is a key attribute and its scalar type.
type AttributeDef struct {
	Name string
	Type types.ScalarAttributeType
}

// KeyPart is one component of a table or index key.
type KeyPart struct {
	Name string
	Role types.KeyType
	Type types.ScalarAttributeType
}

// IndexSpec is a compiled secondary index. Projection is always ALL.
type IndexSpec struct {
	Name       string
	Parts      []KeyPart
	Throughput Throughput
}

// TableSchema is the compiled, immutable form of a table declaration.
type TableSchema struct {
	// Name is the unprefixed name used in the schema file.
	Name string
	// TableName is the namespaced name used against the store.
	TableName     string
	PrimaryKey    []KeyPart
	LocalIndexes  []IndexSpec
	GlobalIndexes []IndexSpec
	AttributeDefs []AttributeDef
	Throughput    Throughput
	Fields        codec.Fields
}

// Compile compiles the declaration of the unprefixed table name.
func Compile(cfg *Config, name string) (*TableSchema, error) {
	decl, err := cfg.Table(name)
	if err != nil {
		return nil, err
	}
	c := &compiler{table: name, attrTypes: make(map[string]types.ScalarAttributeType)}

	ts := &TableSchema{Name: name, TableName: cfg.TableName(name)}

	ts.PrimaryKey, err = c.keyParts("primary key", decl.Key)
	if err != nil {
		return nil, err
	}

	switch {
	case decl.Throughput != nil:
		ts.Throughput = *decl.Throughput
	case cfg.DefaultThroughput != nil:
		ts.Throughput = *cfg.DefaultThroughput
	default:
		return nil, c.errorf("no throughput declared and no default_throughput")
	}

	for _, ic := range decl.LocalIndexes {
		idx, err := c.index(ic, ts.Throughput)
		if err != nil {
			return nil, err
		}
		if idx.Parts[0].Name != ts.PrimaryKey[0].Name {
			return nil, c.errorf("local index %s must use the table hash key %q", ic.Name, ts.PrimaryKey[0].Name)
		}
		if len(idx.Parts) != 2 {
			return nil, c.errorf("local index %s needs a range key", ic.Name)
		}
		// Local indexes share the table's throughput.
		idx.Throughput = ts.Throughput
		ts.LocalIndexes = append(ts.LocalIndexes, idx)
	}
	for _, ic := range decl.GlobalIndexes {
		idx, err := c.index(ic, ts.Throughput)
		if err != nil {
			return nil, err
		}
		ts.GlobalIndexes = append(ts.GlobalIndexes, idx)
	}
	ts.AttributeDefs = c.attrs

	ts.Fields, err = c.fields(decl.Fields)
	if err != nil {
		return nil, err
	}
	return ts, nil
}

// CompileAll compiles every declared table, keyed by unprefixed name.
func CompileAll(cfg *Config) (map[string]*TableSchema, error) {
	out := make(map[string]*TableSchema, len(cfg.Tables))
	for _, name := range cfg.ListTableNames() {
		ts, err := Compile(cfg, name)
		if err != nil {
			return nil, err
		}
		out[name] = ts
	}
	return out, nil
}

type compiler struct {
	table     string
	attrs     []AttributeDef
	attrTypes map[string]types.ScalarAttributeType
}

func (c *compiler) errorf(format string, args ...any) error {
	return &ddberrors.ConfigurationError{Message: fmt.Sprintf("table %s: ", c.table) + fmt.Sprintf(format, args...)}
}

func (c *compiler) index(ic IndexConfig, tableThroughput Throughput) (IndexSpec, error) {
	if ic.Name == "" {
		return IndexSpec{}, c.errorf("index without a name")
	}
	if p := strings.ToUpper(ic.Projection); p != "" && p != string(types.ProjectionTypeAll) {
		return IndexSpec{}, c.errorf("index %s: projection %q is not supported, only all", ic.Name, ic.Projection)
	}
	parts, err := c.keyParts("index "+ic.Name, ic.Parts)
	if err != nil {
		return IndexSpec{}, err
	}
	idx := IndexSpec{Name: ic.Name, Parts: parts, Throughput: tableThroughput}
	if ic.Throughput != nil {
		idx.Throughput = *ic.Throughput
	}
	return idx, nil
}

// keyParts returns the parts hash first and records their attribute definitions.
func (c *compiler) keyParts(what string, in []KeyPartConfig) ([]KeyPart, error) {
	var hash, rng []KeyPart
	for _, p := range in {
		if p.Name == "" {
			return nil, c.errorf("%s: key part without a name", what)
		}
		typ, err := parseScalarType(p.Type)
		if err != nil {
			return nil, c.errorf("%s: %s: %v", what, p.Name, err)
		}
		if err := c.addAttr(p.Name, typ); err != nil {
			return nil, err
		}
		switch strings.ToLower(p.Role) {
		case "hash", "":
			hash = append(hash, KeyPart{Name: p.Name, Role: types.KeyTypeHash, Type: typ})
		case "range":
			rng = append(rng, KeyPart{Name: p.Name, Role: types.KeyTypeRange, Type: typ})
		default:
			return nil, c.errorf("%s: %s: unknown role %q", what, p.Name, p.Role)
		}
	}
	if len(hash) != 1 {
		return nil, c.errorf("%s: exactly one hash key is required, got %d", what, len(hash))
	}
	if len(rng) > 1 {
		return nil, c.errorf("%s: at most one range key is allowed, got %d", what, len(rng))
	}
	return append(hash, rng...), nil
}

func (c *compiler) addAttr(name string, typ types.ScalarAttributeType) error {
	if existing, ok := c.attrTypes[name]; ok {
		if existing != typ {
			return c.errorf("attribute %q declared as both %s and %s", name, existing, typ)
		}
		return nil
	}
	c.attrTypes[name] = typ
	c.attrs = append(c.attrs, AttributeDef{Name: name, Type: typ})
	return nil
}

// fields builds the descriptor table from key attributes and column hints.
// A hint on a key attribute must encode to the key's scalar type.
func (c *compiler) fields(hints map[string]string) (codec.Fields, error) {
	var decl []codec.Field
	for _, a := range c.attrs {
		kind := defaultKind(a.Type)
		if hint, ok := hints[a.Name]; ok {
			k, err := codec.ParseKind(hint)
			if err != nil {
				return nil, c.errorf("field %s: %v", a.Name, err)
			}
			if scalarOf(k) != a.Type {
				return nil, c.errorf("field %s: kind %s cannot be stored in a %s key", a.Name, k, a.Type)
			}
			kind = k
		}
		decl = append(decl, codec.Field{Name: a.Name, Kind: kind})
	}
	for name, hint := range hints {
		if _, isKey := c.attrTypes[name]; isKey {
			continue
		}
		k, err := codec.ParseKind(hint)
		if err != nil {
			return nil, c.errorf("field %s: %v", name, err)
		}
		decl = append(decl, codec.Field{Name: name, Kind: k})
	}
	return codec.NewFields(decl...)
}

func parseScalarType(s string) (types.ScalarAttributeType, error) {
	switch strings.ToLower(s) {
	case "string", "s":
		return types.ScalarAttributeTypeS, nil
	case "number", "n":
		return types.ScalarAttributeTypeN, nil
	case "binary", "b":
		return types.ScalarAttributeTypeB, nil
	}
	return "", fmt.Errorf("unknown attribute type %q", s)
}

func defaultKind(t types.ScalarAttributeType) codec.Kind {
	switch t {
	case types.ScalarAttributeTypeN:
		return codec.KindNumber
	case types.ScalarAttributeTypeB:
		return codec.KindBinary
	}
	return codec.KindString
}

func scalarOf(k codec.Kind) types.ScalarAttributeType {
	switch k {
	case codec.KindString, codec.KindUUID:
		return types.ScalarAttributeTypeS
	case codec.KindNumber, codec.KindBoolean, codec.KindDateTime:
		return types.ScalarAttributeTypeN
	case codec.KindBinary:
		return types.ScalarAttributeTypeB
	}
	return ""
}

// KeyNames returns the primary key attribute names, hash first.
func (ts *TableSchema) KeyNames() []string {
	names := make([]string, 0, len(ts.PrimaryKey))
	for _, p := range ts.PrimaryKey {
		names = append(names, p.Name)
	}
	return names
}

// KeyDefinition returns the runtime primary key layout.
func (ts *TableSchema) KeyDefinition() table.PrimaryKeyDefinition {
	return keyDefinition(ts.PrimaryKey)
}

// Definition returns the runtime key layout of the table and its indexes.
func (ts *TableSchema) Definition() table.TableDefinition {
	def := table.TableDefinition{Name: ts.TableName, KeyDefinitions: ts.KeyDefinition()}
	for _, idx := range ts.GlobalIndexes {
		def.GSIs = append(def.GSIs, table.IndexDefinition{Name: idx.Name, KeyDefinitions: keyDefinition(idx.Parts)})
	}
	for _, idx := range ts.LocalIndexes {
		def.LSIs = append(def.LSIs, table.IndexDefinition{Name: idx.Name, KeyDefinitions: keyDefinition(idx.Parts)})
	}
	return def
}

func keyDefinition(parts []KeyPart) table.PrimaryKeyDefinition {
	var def table.PrimaryKeyDefinition
	for _, p := range parts {
		kd := table.KeyDef{Name: p.Name, Kind: table.KeyKind(p.Type)}
		if p.Role == types.KeyTypeHash {
			def.PartitionKey = kd
		} else {
			def.SortKey = kd
		}
	}
	return def
}

// GlobalIndex returns the compiled global index with the given name.
func (ts *TableSchema) GlobalIndex(name string) (IndexSpec, bool) {
	for _, idx := range ts.GlobalIndexes {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexSpec{}, false
}

// CreateTableInput returns the CreateTable payload for the table.
func (ts *TableSchema) CreateTableInput() *dynamodb.CreateTableInput {
	in := &dynamodb.CreateTableInput{
		TableName:             aws.String(ts.TableName),
		KeySchema:             KeySchema(ts.PrimaryKey),
		ProvisionedThroughput: ts.Throughput.Provisioned(),
	}
	for _, a := range ts.AttributeDefs {
		in.AttributeDefinitions = append(in.AttributeDefinitions, types.AttributeDefinition{
			AttributeName: aws.String(a.Name),
			AttributeType: a.Type,
		})
	}
	for _, idx := range ts.LocalIndexes {
		in.LocalSecondaryIndexes = append(in.LocalSecondaryIndexes, types.LocalSecondaryIndex{
			IndexName:  aws.String(idx.Name),
			KeySchema:  KeySchema(idx.Parts),
			Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
		})
	}
	for _, idx := range ts.GlobalIndexes {
		in.GlobalSecondaryIndexes = append(in.GlobalSecondaryIndexes, idx.GlobalSecondaryIndex())
	}
	return in
}

// GlobalSecondaryIndex returns the wire form of a global index.
func (idx IndexSpec) GlobalSecondaryIndex() types.GlobalSecondaryIndex {
	return types.GlobalSecondaryIndex{
		IndexName:             aws.String(idx.Name),
		KeySchema:             KeySchema(idx.Parts),
		Projection:            &types.Projection{ProjectionType: types.ProjectionTypeAll},
		ProvisionedThroughput: idx.Throughput.Provisioned(),
	}
}

// KeySchema converts key parts to their wire form.
func KeySchema(parts []KeyPart) []types.KeySchemaElement {
	out := make([]types.KeySchemaElement, 0, len(parts))
	for _, p := range parts {
		out = append(out, types.KeySchemaElement{
			AttributeName: aws.String(p.Name),
			KeyType:       p.Role,
		})
	}
	return out
}

// Provisioned returns the wire form of the throughput.
func (t Throughput) Provisioned() *types.ProvisionedThroughput {
	return &types.ProvisionedThroughput{
		ReadCapacityUnits:  aws.Int64(t.Read),
		WriteCapacityUnits: aws.Int64(t.Write),
	}
}
