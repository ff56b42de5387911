package codec

import (
	"errors"
	"sort"
	"strings"

	"github.com/acksell/ddbmodel/dynamodb/ddberrors"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// Field declares the kind of one document field.
type Field struct {
	Name string
	Kind Kind
}

// Descriptor is a field with its coercion functions resolved.
type Descriptor struct {
	Name   string
	Kind   Kind
	encode EncodeFunc
	decode DecodeFunc
}

// NewDescriptor resolves the coercion functions for f.
func NewDescriptor(f Field) (Descriptor, error) {
	kind := f.Kind
	if kind == "" {
		kind = KindAny
	}
	c, ok := coercers[kind]
	if !ok {
		return Descriptor{}, ddberrors.NewConfigurationError("field %q has unknown kind %q", f.Name, f.Kind)
	}
	return Descriptor{Name: f.Name, Kind: kind, encode: c.encode, decode: c.decode}, nil
}

// Encode converts native. Failures are reported as validation errors on the field.
func (d Descriptor) Encode(native any) (types.AttributeValue, error) {
	av, err := d.encode(native)
	if err != nil {
		return nil, fieldError(d.Name, err)
	}
	return av, nil
}

func (d Descriptor) Decode(av types.AttributeValue) (any, error) {
	v, err := d.decode(av)
	if err != nil {
		return nil, fieldError(d.Name, err)
	}
	return v, nil
}

// IsIdentifier reports whether the field is generated when absent.
func (d Descriptor) IsIdentifier() bool {
	return d.Kind == KindUUID && strings.HasPrefix(d.Name, "id")
}

func fieldError(field string, err error) error {
	var ve *ddberrors.ValidationError
	if errors.As(err, &ve) {
		path := field
		if ve.Field != "" {
			path = field + "." + ve.Field
		}
		return &ddberrors.ValidationError{Field: path, Message: ve.Message, Cause: ve.Cause}
	}
	return &ddberrors.ValidationError{Field: field, Message: err.Error(), Cause: err}
}

// Fields is the descriptor table of one document type.
type Fields map[string]Descriptor

// NewFields builds a descriptor table. Later declarations of a name win.
func NewFields(fields ...Field) (Fields, error) {
	out := make(Fields, len(fields))
	for _, f := range fields {
		d, err := NewDescriptor(f)
		if err != nil {
			return nil, err
		}
		out[f.Name] = d
	}
	return out, nil
}

var anyDescriptor = Descriptor{Kind: KindAny, encode: encodeAny, decode: decodeAny}

// Lookup returns the descriptor for name, or a KindAny descriptor for undeclared fields.
func (f Fields) Lookup(name string) Descriptor {
	if d, ok := f[name]; ok {
		return d
	}
	d := anyDescriptor
	d.Name = name
	return d
}

// Names returns the declared field names in sorted order.
func (f Fields) Names() []string {
	names := make([]string, 0, len(f))
	for n := range f {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// EncodeMap encodes native values. Fields that encode to nothing are left out.
func (f Fields) EncodeMap(values map[string]any) (map[string]types.AttributeValue, error) {
	out := make(map[string]types.AttributeValue, len(values))
	for name, v := range values {
		av, err := f.Lookup(name).Encode(v)
		if err != nil {
			return nil, err
		}
		if av != nil {
			out[name] = av
		}
	}
	return out, nil
}

// DecodeMap decodes every attribute of raw. Declared fields that are absent
// from raw are decoded as well, so datetimes come back as nil.
func (f Fields) DecodeMap(raw map[string]types.AttributeValue) (map[string]any, error) {
	out := make(map[string]any, len(raw))
	for name, av := range raw {
		v, err := f.Lookup(name).Decode(av)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	for name, d := range f {
		if _, ok := raw[name]; ok {
			continue
		}
		v, err := d.Decode(nil)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

// FillIdentifiers sets a random v4 UUID on identifier fields missing from raw
// and returns the generated field names.
func (f Fields) FillIdentifiers(raw map[string]types.AttributeValue) []string {
	var filled []string
	for _, name := range f.Names() {
		d := f[name]
		if !d.IsIdentifier() {
			continue
		}
		if _, ok := raw[name]; ok {
			continue
		}
		raw[name] = &types.AttributeValueMemberS{Value: uuid.NewString()}
		filled = append(filled, name)
	}
	return filled
}
