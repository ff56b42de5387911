package ddbstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"math"
	"strconv"

	"github.com/acksell/ddbmodel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Key encoding for BadgerDB that preserves DynamoDB key ordering.
//
//	items:   'i' table 0x00 hash 0x00 [range]
//	indexes: 'x' table 0x00 index 0x00 hash 0x00 [range] 0x00 tableHash 0x00 [tableRange]
//	tables:  'm' table
//
// Index entries carry the table key as a suffix so that items sharing an index
// key get distinct entries, ordered by table key.

const (
	keySeparator byte = 0x00

	itemSpace  byte = 'i'
	indexSpace byte = 'x'
	metaSpace  byte = 'm'
)

const (
	keyTypeString byte = 'S'
	keyTypeNumber byte = 'N'
	keyTypeBinary byte = 'B'
)

func tablePrefix(tableName string) []byte {
	buf := []byte{itemSpace}
	buf = append(buf, tableName...)
	return append(buf, keySeparator)
}

func indexPrefix(tableName, indexName string) []byte {
	buf := []byte{indexSpace}
	buf = append(buf, tableName...)
	buf = append(buf, keySeparator)
	buf = append(buf, indexName...)
	return append(buf, keySeparator)
}

// indexesPrefix covers every index of a table.
func indexesPrefix(tableName string) []byte {
	buf := []byte{indexSpace}
	buf = append(buf, tableName...)
	return append(buf, keySeparator)
}

func metaKey(tableName string) []byte {
	return append([]byte{metaSpace}, tableName...)
}

func itemKey(tableName string, pk table.PrimaryKey) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(tablePrefix(tableName))
	if err := writePrimaryKey(&buf, pk); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func indexKey(tableName, indexName string, idx, tbl table.PrimaryKey) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(indexPrefix(tableName, indexName))
	if err := writePrimaryKey(&buf, idx); err != nil {
		return nil, err
	}
	buf.WriteByte(keySeparator)
	if err := writePrimaryKey(&buf, tbl); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writePrimaryKey(buf *bytes.Buffer, pk table.PrimaryKey) error {
	enc, err := encodeKeyValue(pk.Values.PartitionKey, pk.Definition.PartitionKey.Kind)
	if err != nil {
		return fmt.Errorf("encode partition key: %w", err)
	}
	buf.Write(enc)
	buf.WriteByte(keySeparator)
	if pk.Definition.SortKey.Name == "" {
		return nil
	}
	enc, err = encodeKeyValue(pk.Values.SortKey, pk.Definition.SortKey.Kind)
	if err != nil {
		return fmt.Errorf("encode sort key: %w", err)
	}
	buf.Write(enc)
	return nil
}

// partitionPrefix returns the prefix shared by every entry of one partition.
func partitionPrefix(base []byte, def table.KeyDef, hash types.AttributeValue) ([]byte, error) {
	pk, err := table.PrimaryKeyDefinition{PartitionKey: def}.ExtractPrimaryKey(map[string]types.AttributeValue{def.Name: hash})
	if err != nil {
		return nil, validationException("Query condition missed key schema element: %v", err)
	}
	enc, err := encodeKeyValue(pk.Values.PartitionKey, def.Kind)
	if err != nil {
		return nil, err
	}
	out := append([]byte{}, base...)
	out = append(out, enc...)
	return append(out, keySeparator), nil
}

// encodeKeyValue encodes a key value with proper ordering based on key kind.
// Values are strings for S and N keys and []byte for B keys.
func encodeKeyValue(value any, kind table.KeyKind) ([]byte, error) {
	switch kind {
	case table.KeyKindS:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string for S key, got %T", value)
		}
		return append([]byte{keyTypeString}, escapeBytes([]byte(s))...), nil
	case table.KeyKindN:
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected number string for N key, got %T", value)
		}
		enc, err := encodeNumber(s)
		if err != nil {
			return nil, err
		}
		return append([]byte{keyTypeNumber}, enc...), nil
	case table.KeyKindB:
		b, ok := value.([]byte)
		if !ok {
			return nil, fmt.Errorf("expected binary for B key, got %T", value)
		}
		return append([]byte{keyTypeBinary}, escapeBytes(b)...), nil
	}
	return nil, fmt.Errorf("unsupported key kind: %s", kind)
}

// encodeNumber encodes a number string so that byte order is numeric order.
// Format: [sign byte][big-endian float64 bits], with the bits inverted for
// negative numbers.
func encodeNumber(numStr string) ([]byte, error) {
	f, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return nil, fmt.Errorf("parse number %q: %w", numStr, err)
	}
	bits := math.Float64bits(f)
	buf := make([]byte, 9)
	if f >= 0 {
		buf[0] = 0x80
		bits ^= 1 << 63
	} else {
		buf[0] = 0x7F
		bits = ^bits
	}
	binary.BigEndian.PutUint64(buf[1:], bits)
	return buf, nil
}

// escapeBytes escapes 0x00 and 0x01 so the separator stays unambiguous.
// 0x00 becomes 0x01 0x01 and 0x01 becomes 0x01 0x02.
func escapeBytes(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		switch c {
		case 0x00:
			out = append(out, 0x01, 0x01)
		case 0x01:
			out = append(out, 0x01, 0x02)
		default:
			out = append(out, c)
		}
	}
	return out
}

// serializableAV is a gob-encodable representation of an AttributeValue.
type serializableAV struct {
	Type  string
	Value any
}

func init() {
	gob.Register(map[string]serializableAV{})
	gob.Register([]serializableAV{})
	gob.Register([]string{})
	gob.Register([][]byte{})
}

// SerializeItem serializes a DynamoDB item to bytes for storage.
func SerializeItem(item map[string]types.AttributeValue) ([]byte, error) {
	serializable := make(map[string]serializableAV, len(item))
	for k, v := range item {
		sav, err := toSerializable(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}
		serializable[k] = sav
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(serializable); err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	return buf.Bytes(), nil
}

// DeserializeItem deserializes bytes back to a DynamoDB item.
func DeserializeItem(data []byte) (map[string]types.AttributeValue, error) {
	var serializable map[string]serializableAV
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&serializable); err != nil {
		return nil, fmt.Errorf("decode item: %w", err)
	}
	out := make(map[string]types.AttributeValue, len(serializable))
	for k, v := range serializable {
		av, err := fromSerializable(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}
		out[k] = av
	}
	return out, nil
}

func toSerializable(av types.AttributeValue) (serializableAV, error) {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return serializableAV{Type: "S", Value: v.Value}, nil
	case *types.AttributeValueMemberN:
		return serializableAV{Type: "N", Value: v.Value}, nil
	case *types.AttributeValueMemberB:
		return serializableAV{Type: "B", Value: v.Value}, nil
	case *types.AttributeValueMemberBOOL:
		return serializableAV{Type: "BOOL", Value: v.Value}, nil
	case *types.AttributeValueMemberNULL:
		return serializableAV{Type: "NULL", Value: v.Value}, nil
	case *types.AttributeValueMemberSS:
		return serializableAV{Type: "SS", Value: v.Value}, nil
	case *types.AttributeValueMemberNS:
		return serializableAV{Type: "NS", Value: v.Value}, nil
	case *types.AttributeValueMemberBS:
		return serializableAV{Type: "BS", Value: v.Value}, nil
	case *types.AttributeValueMemberM:
		m := make(map[string]serializableAV, len(v.Value))
		for k, val := range v.Value {
			sav, err := toSerializable(val)
			if err != nil {
				return serializableAV{}, err
			}
			m[k] = sav
		}
		return serializableAV{Type: "M", Value: m}, nil
	case *types.AttributeValueMemberL:
		l := make([]serializableAV, len(v.Value))
		for i, val := range v.Value {
			sav, err := toSerializable(val)
			if err != nil {
				return serializableAV{}, err
			}
			l[i] = sav
		}
		return serializableAV{Type: "L", Value: l}, nil
	}
	return serializableAV{}, fmt.Errorf("unsupported attribute value type: %T", av)
}

func fromSerializable(sav serializableAV) (types.AttributeValue, error) {
	switch sav.Type {
	case "S":
		return &types.AttributeValueMemberS{Value: sav.Value.(string)}, nil
	case "N":
		return &types.AttributeValueMemberN{Value: sav.Value.(string)}, nil
	case "B":
		return &types.AttributeValueMemberB{Value: sav.Value.([]byte)}, nil
	case "BOOL":
		return &types.AttributeValueMemberBOOL{Value: sav.Value.(bool)}, nil
	case "NULL":
		return &types.AttributeValueMemberNULL{Value: sav.Value.(bool)}, nil
	case "SS":
		return &types.AttributeValueMemberSS{Value: sav.Value.([]string)}, nil
	case "NS":
		return &types.AttributeValueMemberNS{Value: sav.Value.([]string)}, nil
	case "BS":
		return &types.AttributeValueMemberBS{Value: sav.Value.([][]byte)}, nil
	case "M":
		src := sav.Value.(map[string]serializableAV)
		m := make(map[string]types.AttributeValue, len(src))
		for k, v := range src {
			av, err := fromSerializable(v)
			if err != nil {
				return nil, err
			}
			m[k] = av
		}
		return &types.AttributeValueMemberM{Value: m}, nil
	case "L":
		src := sav.Value.([]serializableAV)
		l := make([]types.AttributeValue, len(src))
		for i, v := range src {
			av, err := fromSerializable(v)
			if err != nil {
				return nil, err
			}
			l[i] = av
		}
		return &types.AttributeValueMemberL{Value: l}, nil
	}
	return nil, fmt.Errorf("unsupported serialized type: %s", sav.Type)
}
