// Package codec converts native Go values to DynamoDB attribute values and back.
//
// Each document field has a [Kind]. The kind picks a pair of coercion
// functions once, when the field's [Descriptor] is built, so encoding a value
// never needs to look the kind up again.
//
// Encoding rules:
//   - boolean is stored as N 0/1.
//   - datetime is stored as N epoch seconds. nil encodes to 0, and a stored 0
//     (or a missing attribute) decodes to nil.
//   - an empty string, empty binary or empty set is never written. Encode
//     returns a nil attribute value, which callers treat as "remove".
//   - map values may not contain empty strings at any depth.
package codec

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/acksell/ddbmodel/dynamodb/ddberrors"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

type Kind string

const (
	KindString    Kind = "string"
	KindNumber    Kind = "number"
	KindBoolean   Kind = "boolean"
	KindDateTime  Kind = "datetime"
	KindUUID      Kind = "uuid"
	KindMap       Kind = "map"
	KindList      Kind = "list"
	KindStringSet Kind = "string_set"
	KindNumberSet Kind = "number_set"
	KindBinary    Kind = "binary"
	KindAny       Kind = "any"
)

// EncodeFunc converts a native value. A nil result means the attribute is removed.
type EncodeFunc func(native any) (types.AttributeValue, error)

// DecodeFunc converts a stored value. av is nil when the attribute is absent.
type DecodeFunc func(av types.AttributeValue) (any, error)

type coercer struct {
	encode EncodeFunc
	decode DecodeFunc
}

var coercers = map[Kind]coercer{
	KindString:    {encodeString, decodeString},
	KindNumber:    {encodeNumber, decodeNumber},
	KindBoolean:   {encodeBoolean, decodeBoolean},
	KindDateTime:  {encodeDateTime, decodeDateTime},
	KindUUID:      {encodeUUID, decodeUUID},
	KindMap:       {encodeMap, decodeMap},
	KindList:      {encodeList, decodeList},
	KindStringSet: {encodeStringSet, decodeStringSet},
	KindNumberSet: {encodeNumberSet, decodeNumberSet},
	KindBinary:    {encodeBinary, decodeBinary},
	KindAny:       {encodeAny, decodeAny},
}

// ParseKind validates a kind name as written in a schema file.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := coercers[k]; !ok {
		return "", fmt.Errorf("unknown field kind %q", s)
	}
	return k, nil
}

// Encode converts native using the rules of kind.
func Encode(kind Kind, native any) (types.AttributeValue, error) {
	c, ok := coercers[kind]
	if !ok {
		return nil, fmt.Errorf("unknown field kind %q", kind)
	}
	return c.encode(native)
}

// Decode converts av using the rules of kind.
func Decode(kind Kind, av types.AttributeValue) (any, error) {
	c, ok := coercers[kind]
	if !ok {
		return nil, fmt.Errorf("unknown field kind %q", kind)
	}
	return c.decode(av)
}

func encodeString(native any) (types.AttributeValue, error) {
	switch v := native.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return &types.AttributeValueMemberS{Value: v}, nil
	case *string:
		if v == nil {
			return nil, nil
		}
		return encodeString(*v)
	case fmt.Stringer:
		return encodeString(v.String())
	default:
		return nil, fmt.Errorf("expected string, got %T", native)
	}
}

func decodeString(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case nil:
		return nil, nil
	case *types.AttributeValueMemberS:
		return v.Value, nil
	case *types.AttributeValueMemberN:
		return v.Value, nil
	default:
		return nil, fmt.Errorf("expected S attribute, got %T", av)
	}
}

func decodeNumber(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case nil:
		return nil, nil
	case *types.AttributeValueMemberN:
		return ParseNumber(v.Value)
	default:
		return nil, fmt.Errorf("expected N attribute, got %T", av)
	}
}

// ParseNumber returns an int64 for integral numbers and a float64 otherwise.
func ParseNumber(s string) (any, error) {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	return f, nil
}

func encodeBoolean(native any) (types.AttributeValue, error) {
	switch v := native.(type) {
	case nil:
		return nil, nil
	case bool:
		if v {
			return &types.AttributeValueMemberN{Value: "1"}, nil
		}
		return &types.AttributeValueMemberN{Value: "0"}, nil
	case *bool:
		if v == nil {
			return nil, nil
		}
		return encodeBoolean(*v)
	default:
		return nil, fmt.Errorf("expected bool, got %T", native)
	}
}

func decodeBoolean(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case nil:
		return nil, nil
	case *types.AttributeValueMemberN:
		f, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid boolean number %q", v.Value)
		}
		return f != 0, nil
	case *types.AttributeValueMemberBOOL:
		return v.Value, nil
	default:
		return nil, fmt.Errorf("expected N attribute, got %T", av)
	}
}

func encodeDateTime(native any) (types.AttributeValue, error) {
	switch v := native.(type) {
	case nil:
		return &types.AttributeValueMemberN{Value: "0"}, nil
	case time.Time:
		if v.IsZero() {
			return &types.AttributeValueMemberN{Value: "0"}, nil
		}
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(v.Unix(), 10)}, nil
	case *time.Time:
		if v == nil {
			return encodeDateTime(nil)
		}
		return encodeDateTime(*v)
	default:
		return nil, fmt.Errorf("expected time.Time, got %T", native)
	}
}

func decodeDateTime(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case nil:
		return nil, nil
	case *types.AttributeValueMemberN:
		f, err := strconv.ParseFloat(v.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q", v.Value)
		}
		if f == 0 {
			return nil, nil
		}
		return time.Unix(int64(f), 0).UTC(), nil
	default:
		return nil, fmt.Errorf("expected N attribute, got %T", av)
	}
}

func encodeUUID(native any) (types.AttributeValue, error) {
	switch v := native.(type) {
	case nil:
		return nil, nil
	case uuid.UUID:
		if v == uuid.Nil {
			return nil, nil
		}
		return &types.AttributeValueMemberS{Value: v.String()}, nil
	case string:
		if v == "" {
			return nil, nil
		}
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid %q: %w", v, err)
		}
		return encodeUUID(id)
	default:
		return nil, fmt.Errorf("expected uuid.UUID, got %T", native)
	}
}

func decodeUUID(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case nil:
		return nil, nil
	case *types.AttributeValueMemberS:
		id, err := uuid.Parse(v.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid uuid %q: %w", v.Value, err)
		}
		return id, nil
	default:
		return nil, fmt.Errorf("expected S attribute, got %T", av)
	}
}

func encodeMap(native any) (types.AttributeValue, error) {
	var m map[string]any
	switch v := native.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if v == nil {
			return nil, nil
		}
		m = v
	case string:
		if v == "" {
			return nil, nil
		}
		if err := json.Unmarshal([]byte(v), &m); err != nil {
			return nil, fmt.Errorf("couldn't interpret %q as a map: %w", v, err)
		}
	default:
		return nil, fmt.Errorf("expected map[string]any, got %T", native)
	}
	if err := ValidateNoEmptyStrings(m); err != nil {
		return nil, err
	}
	av, err := attributevalue.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal map: %w", err)
	}
	return av, nil
}

func decodeMap(av types.AttributeValue) (any, error) {
	switch av.(type) {
	case nil:
		return nil, nil
	case *types.AttributeValueMemberM:
		var m map[string]any
		if err := attributevalue.Unmarshal(av, &m); err != nil {
			return nil, fmt.Errorf("unmarshal map: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("expected M attribute, got %T", av)
	}
}

func encodeList(native any) (types.AttributeValue, error) {
	if native == nil {
		return nil, nil
	}
	if err := ValidateNoEmptyStrings(native); err != nil {
		return nil, err
	}
	av, err := attributevalue.Marshal(native)
	if err != nil {
		return nil, fmt.Errorf("marshal list: %w", err)
	}
	switch av.(type) {
	case *types.AttributeValueMemberL:
		return av, nil
	case *types.AttributeValueMemberNULL:
		return nil, nil
	default:
		return nil, fmt.Errorf("expected a slice, got %T", native)
	}
}

func decodeList(av types.AttributeValue) (any, error) {
	switch av.(type) {
	case nil:
		return nil, nil
	case *types.AttributeValueMemberL:
		var l []any
		if err := attributevalue.Unmarshal(av, &l); err != nil {
			return nil, fmt.Errorf("unmarshal list: %w", err)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("expected L attribute, got %T", av)
	}
}

func encodeStringSet(native any) (types.AttributeValue, error) {
	var in []string
	switch v := native.(type) {
	case nil:
		return nil, nil
	case []string:
		in = v
	case map[string]struct{}:
		for s := range v {
			in = append(in, s)
		}
	default:
		return nil, fmt.Errorf("expected []string, got %T", native)
	}
	set := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		set = append(set, s)
	}
	if len(set) == 0 {
		return nil, nil
	}
	sort.Strings(set)
	return &types.AttributeValueMemberSS{Value: set}, nil
}

func decodeStringSet(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case nil:
		return nil, nil
	case *types.AttributeValueMemberSS:
		out := append([]string(nil), v.Value...)
		sort.Strings(out)
		return out, nil
	default:
		return nil, fmt.Errorf("expected SS attribute, got %T", av)
	}
}

func decodeNumberSet(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case nil:
		return nil, nil
	case *types.AttributeValueMemberNS:
		out := make([]float64, 0, len(v.Value))
		for _, s := range v.Value {
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q in set", s)
			}
			out = append(out, f)
		}
		sort.Float64s(out)
		return out, nil
	default:
		return nil, fmt.Errorf("expected NS attribute, got %T", av)
	}
}

func encodeBinary(native any) (types.AttributeValue, error) {
	switch v := native.(type) {
	case nil:
		return nil, nil
	case []byte:
		if len(v) == 0 {
			return nil, nil
		}
		return &types.AttributeValueMemberB{Value: v}, nil
	default:
		return nil, fmt.Errorf("expected []byte, got %T", native)
	}
}

func decodeBinary(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case nil:
		return nil, nil
	case *types.AttributeValueMemberB:
		return v.Value, nil
	default:
		return nil, fmt.Errorf("expected B attribute, got %T", av)
	}
}

func encodeAny(native any) (types.AttributeValue, error) {
	switch v := native.(type) {
	case nil:
		return nil, nil
	case string:
		return encodeString(v)
	case bool:
		return encodeBoolean(v)
	case time.Time, *time.Time:
		return encodeDateTime(v)
	case uuid.UUID:
		return encodeUUID(v)
	case []byte:
		return encodeBinary(v)
	case map[string]any:
		return encodeMap(v)
	}
	if av, ok, err := encodeNumeric(native); ok {
		return av, err
	}
	if err := ValidateNoEmptyStrings(native); err != nil {
		return nil, err
	}
	av, err := attributevalue.Marshal(native)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", native, err)
	}
	if _, ok := av.(*types.AttributeValueMemberNULL); ok {
		return nil, nil
	}
	return av, nil
}

func decodeAny(av types.AttributeValue) (any, error) {
	switch v := av.(type) {
	case nil:
		return nil, nil
	case *types.AttributeValueMemberN:
		return ParseNumber(v.Value)
	}
	var out any
	if err := attributevalue.Unmarshal(av, &out); err != nil {
		return nil, fmt.Errorf("unmarshal %T: %w", av, err)
	}
	return out, nil
}

// ValidateNoEmptyStrings fails when value holds an empty string at any depth
// of nested maps and lists. The error names the dotted path to the offending key.
func ValidateNoEmptyStrings(value any) error {
	return validateNoEmptyStrings(value, nil)
}

func validateNoEmptyStrings(value any, inside []string) error {
	switch v := value.(type) {
	case string:
		if v != "" {
			return nil
		}
		return &ddberrors.ValidationError{
			Field:   strings.Join(inside, "."),
			Message: "found empty attribute value",
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := validateNoEmptyStrings(v[k], append(inside[:len(inside):len(inside)], k)); err != nil {
				return err
			}
		}
	case []any:
		for i, item := range v {
			if err := validateNoEmptyStrings(item, append(inside[:len(inside):len(inside)], strconv.Itoa(i))); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateNoEmptyNested fails when the encoded attribute name holds an empty
// string inside a map, list or string set. DynamoDB accepts such values, so
// they are rejected before they are written. The error names the dotted path.
func ValidateNoEmptyNested(name string, av types.AttributeValue) error {
	return validateNoEmptyNested(av, []string{name}, false)
}

func validateNoEmptyNested(av types.AttributeValue, path []string, nested bool) error {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		if nested && v.Value == "" {
			return &ddberrors.ValidationError{
				Field:   strings.Join(path, "."),
				Message: "found empty attribute value",
			}
		}
	case *types.AttributeValueMemberSS:
		for _, s := range v.Value {
			if s == "" {
				return &ddberrors.ValidationError{
					Field:   strings.Join(path, "."),
					Message: "found empty string in string set",
				}
			}
		}
	case *types.AttributeValueMemberM:
		keys := make([]string, 0, len(v.Value))
		for k := range v.Value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := validateNoEmptyNested(v.Value[k], append(path[:len(path):len(path)], k), true); err != nil {
				return err
			}
		}
	case *types.AttributeValueMemberL:
		for i, item := range v.Value {
			if err := validateNoEmptyNested(item, append(path[:len(path):len(path)], strconv.Itoa(i)), true); err != nil {
				return err
			}
		}
	}
	return nil
}
