package codec

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/exp/constraints"
)

func formatSigned[T constraints.Signed](v T) string {
	return strconv.FormatInt(int64(v), 10)
}

func formatUnsigned[T constraints.Unsigned](v T) string {
	return strconv.FormatUint(uint64(v), 10)
}

func formatFloat[T constraints.Float](v T) string {
	return strconv.FormatFloat(float64(v), 'f', -1, 64)
}

// Number builds an N attribute value from any integer or float type.
func Number[T constraints.Integer | constraints.Float](v T) types.AttributeValue {
	if v >= 0 && T(uint64(v)) == v {
		return &types.AttributeValueMemberN{Value: formatUnsigned(uint64(v))}
	}
	if T(int64(v)) == v {
		return &types.AttributeValueMemberN{Value: formatSigned(int64(v))}
	}
	return &types.AttributeValueMemberN{Value: formatFloat(float64(v))}
}

// formatNumeric reports ok=false when native is not a number.
func formatNumeric(native any) (string, bool, error) {
	switch v := native.(type) {
	case int:
		return formatSigned(v), true, nil
	case int8:
		return formatSigned(v), true, nil
	case int16:
		return formatSigned(v), true, nil
	case int32:
		return formatSigned(v), true, nil
	case int64:
		return formatSigned(v), true, nil
	case uint:
		return formatUnsigned(v), true, nil
	case uint8:
		return formatUnsigned(v), true, nil
	case uint16:
		return formatUnsigned(v), true, nil
	case uint32:
		return formatUnsigned(v), true, nil
	case uint64:
		return formatUnsigned(v), true, nil
	case float32:
		return formatFloat(v), true, nil
	case float64:
		return formatFloat(v), true, nil
	}
	return "", false, nil
}

func encodeNumeric(native any) (types.AttributeValue, bool, error) {
	s, ok, err := formatNumeric(native)
	if !ok || err != nil {
		return nil, ok, err
	}
	return &types.AttributeValueMemberN{Value: s}, true, nil
}

func encodeNumber(native any) (types.AttributeValue, error) {
	switch v := native.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("invalid number %q", v)
		}
		return &types.AttributeValueMemberN{Value: v}, nil
	case bool:
		return encodeBoolean(v)
	}
	av, ok, err := encodeNumeric(native)
	if !ok {
		return nil, fmt.Errorf("expected a number, got %T", native)
	}
	return av, err
}

func encodeNumberSet(native any) (types.AttributeValue, error) {
	var set []string
	switch v := native.(type) {
	case nil:
		return nil, nil
	case []int:
		set = formatAll(v, formatSigned[int])
	case []int64:
		set = formatAll(v, formatSigned[int64])
	case []float64:
		set = formatAll(v, formatFloat[float64])
	case []string:
		for _, s := range v {
			if _, err := strconv.ParseFloat(s, 64); err != nil {
				return nil, fmt.Errorf("invalid number %q in set", s)
			}
		}
		set = append(set, v...)
	default:
		return nil, fmt.Errorf("expected a numeric slice, got %T", native)
	}
	set = dedupe(set)
	if len(set) == 0 {
		return nil, nil
	}
	return &types.AttributeValueMemberNS{Value: set}, nil
}

func formatAll[T any](in []T, format func(T) string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		out = append(out, format(v))
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
