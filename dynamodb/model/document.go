package model

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/acksell/ddbmodel/dynamodb/codec"
	"github.com/acksell/ddbmodel/dynamodb/ddberrors"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Document is one item of a model's table with change tracking.
//
// raw holds the encoded attributes as they are now, snapshot as they were
// after the last successful write or read. A Document is not safe for
// concurrent use.
type Document struct {
	model           *Model
	raw             map[string]types.AttributeValue
	snapshot        map[string]types.AttributeValue
	existsRemotely  bool
	deleted         bool
	safeToOverwrite map[string]bool
}

var _ Entity[*Document] = (*Document)(nil)

// Set encodes value into the document. A value that encodes to nothing, such
// as nil or an empty string, removes the attribute.
func (d *Document) Set(name string, value any) error {
	av, err := d.model.schema.Fields.Lookup(name).Encode(value)
	if err != nil {
		return err
	}
	if av == nil {
		delete(d.raw, name)
		return nil
	}
	d.raw[name] = av
	return nil
}

// Value decodes the named attribute. Absent attributes decode to nil.
func (d *Document) Value(name string) (any, error) {
	return d.model.schema.Fields.Lookup(name).Decode(d.raw[name])
}

// Values decodes every attribute and every declared field.
func (d *Document) Values() (map[string]any, error) {
	return d.model.schema.Fields.DecodeMap(d.raw)
}

// Exists reports whether the document is known to exist in the table.
func (d *Document) Exists() bool {
	return d.existsRemotely
}

// Deleted reports whether the document was deleted through this instance.
func (d *Document) Deleted() bool {
	return d.deleted
}

// MarkSafeToOverwrite excludes fields from the unsaved set, so a partial
// update never sends them and concurrent changes to them are not reported.
func (d *Document) MarkSafeToOverwrite(fields ...string) {
	for _, f := range fields {
		d.safeToOverwrite[f] = true
	}
}

func (d *Document) ignored() map[string]bool {
	out := make(map[string]bool, len(d.safeToOverwrite)+len(d.model.safeToOverwrite))
	for f := range d.safeToOverwrite {
		out[f] = true
	}
	for _, f := range d.model.safeToOverwrite {
		out[f] = true
	}
	return out
}

// GetUnsavedFields returns the attributes changed since the last write. A
// removed attribute is reported with a nil value.
func (d *Document) GetUnsavedFields() map[string]types.AttributeValue {
	changed, _ := differentFields(d.raw, d.snapshot, d.ignored())
	return changed
}

// HasChangedPrimaryKey reports whether an unsaved field is part of the primary key.
func (d *Document) HasChangedPrimaryKey() bool {
	return len(d.changedKeyFields()) > 0
}

func (d *Document) changedKeyFields() []string {
	unsaved := d.GetUnsavedFields()
	var out []string
	for _, name := range d.model.schema.KeyNames() {
		if _, ok := unsaved[name]; ok {
			out = append(out, name)
		}
	}
	return out
}

// PrimaryKey returns the current primary key attributes.
func (d *Document) PrimaryKey() (map[string]types.AttributeValue, error) {
	key := make(map[string]types.AttributeValue, len(d.model.schema.PrimaryKey))
	for _, p := range d.model.schema.PrimaryKey {
		av, ok := d.raw[p.Name]
		if !ok {
			return nil, ddberrors.NewValidationError(p.Name, "primary key attribute is missing")
		}
		key[p.Name] = av
	}
	return key, nil
}

// Validate checks that the primary key attributes are present, non-empty and
// of their declared types, and that no map, list or string set holds an empty string.
func (d *Document) Validate() error {
	for _, p := range d.model.schema.PrimaryKey {
		av, ok := d.raw[p.Name]
		if !ok {
			return ddberrors.NewValidationError(p.Name, "primary key attribute is missing")
		}
		if scalarType(av) != p.Type {
			return ddberrors.NewValidationError(p.Name, fmt.Sprintf("expected a %s key attribute, got %T", p.Type, av))
		}
		if s, ok := av.(*types.AttributeValueMemberS); ok && s.Value == "" {
			return ddberrors.NewValidationError(p.Name, "primary key attribute is empty")
		}
	}
	names := make([]string, 0, len(d.raw))
	for name := range d.raw {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := codec.ValidateNoEmptyNested(name, d.raw[name]); err != nil {
			return err
		}
	}
	return nil
}

func scalarType(av types.AttributeValue) types.ScalarAttributeType {
	switch av.(type) {
	case *types.AttributeValueMemberS:
		return types.ScalarAttributeTypeS
	case *types.AttributeValueMemberN:
		return types.ScalarAttributeTypeN
	case *types.AttributeValueMemberB:
		return types.ScalarAttributeTypeB
	}
	return ""
}

// ToEncodedMap returns a copy of the encoded attributes.
func (d *Document) ToEncodedMap() (map[string]types.AttributeValue, error) {
	return codec.CopyMap(d.raw), nil
}

// FromEncodedMap returns a new document of the same model holding raw.
// The new document is treated as read from the table.
func (d *Document) FromEncodedMap(raw map[string]types.AttributeValue) (*Document, error) {
	return d.model.FromRow(raw), nil
}

// ToJSON renders the decoded values. Datetimes are formatted as RFC 3339.
func (d *Document) ToJSON() ([]byte, error) {
	values, err := d.Values()
	if err != nil {
		return nil, err
	}
	return json.Marshal(values)
}

func (d *Document) String() string {
	key, _ := d.PrimaryKey()
	return fmt.Sprintf("%s%v", d.model.schema.Name, plain(key))
}

// commit records raw as the persisted state.
func (d *Document) commit() {
	d.snapshot = codec.CopyMap(d.raw)
	d.existsRemotely = true
	d.deleted = false
}
