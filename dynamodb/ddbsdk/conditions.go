package ddbsdk

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/acksell/ddbmodel/dynamodb/ddberrors"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/google/uuid"
)

// Operator is the suffix of an `attr__op` condition argument.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpBeginsWith Operator = "begins_with"
	OpContains   Operator = "contains"
	OpIsIn       Operator = "is_in"
)

const opSeparator = "__"

// Condition is a single parsed `attr__op=value` argument.
type Condition struct {
	Attr  string
	Op    Operator
	Value any
}

// ParseConditions parses `attr` and `attr__op` arguments. A missing suffix means eq.
// Booleans are coerced to 0/1, datetimes to epoch seconds and UUIDs to strings,
// matching how the codec stores them. Conditions are returned sorted by argument.
func ParseConditions(args map[string]any) ([]Condition, error) {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	conds := make([]Condition, 0, len(args))
	for _, k := range keys {
		c, err := ParseCondition(k, args[k])
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	return conds, nil
}

// ParseCondition parses one `attr__op` argument.
func ParseCondition(arg string, value any) (Condition, error) {
	attr, op := arg, OpEq
	if i := strings.LastIndex(arg, opSeparator); i > 0 {
		attr, op = arg[:i], Operator(arg[i+len(opSeparator):])
	}
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpBeginsWith, OpContains, OpIsIn:
	default:
		return Condition{}, ddberrors.NewValidationError(arg, fmt.Sprintf("unknown operator %q", op))
	}
	if attr == "" {
		return Condition{}, ddberrors.NewValidationError(arg, "missing attribute name")
	}
	value = coerceValue(value)
	switch op {
	case OpBeginsWith, OpContains:
		if _, ok := value.(string); !ok {
			return Condition{}, ddberrors.NewValidationError(arg, fmt.Sprintf("%s needs a string, got %T", op, value))
		}
	case OpIsIn:
		rv := reflect.ValueOf(value)
		if rv.Kind() != reflect.Slice || rv.Len() == 0 {
			return Condition{}, ddberrors.NewValidationError(arg, "is_in needs a non-empty slice")
		}
	}
	return Condition{Attr: attr, Op: op, Value: value}, nil
}

func coerceValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return 1
		}
		return 0
	case time.Time:
		return x.Unix()
	case uuid.UUID:
		return x.String()
	}
	return v
}

// BuildKeyCondition ANDs the conditions into a key condition.
// Only eq, gt, gte, lt, lte and begins_with are valid on keys.
func BuildKeyCondition(conds []Condition) (expression.KeyConditionBuilder, error) {
	var out expression.KeyConditionBuilder
	if len(conds) == 0 {
		return out, ddberrors.NewValidationError("", "a query needs at least one key condition")
	}
	if len(conds) > 2 {
		return out, ddberrors.NewValidationError("", fmt.Sprintf("a key condition has at most a hash and a range part, got %d conditions", len(conds)))
	}
	// The hash part goes first.
	conds = append([]Condition(nil), conds...)
	sort.SliceStable(conds, func(i, j int) bool {
		return conds[i].Op == OpEq && conds[j].Op != OpEq
	})
	if conds[0].Op != OpEq {
		return out, ddberrors.NewValidationError(conds[0].Attr, "a key condition needs an eq on the hash key")
	}
	for i, c := range conds {
		kc, err := keyCondition(c)
		if err != nil {
			return out, err
		}
		if i == 0 {
			out = kc
			continue
		}
		out = expression.KeyAnd(out, kc)
	}
	return out, nil
}

func keyCondition(c Condition) (expression.KeyConditionBuilder, error) {
	key := expression.Key(c.Attr)
	switch c.Op {
	case OpEq:
		return expression.KeyEqual(key, expression.Value(c.Value)), nil
	case OpGt:
		return expression.KeyGreaterThan(key, expression.Value(c.Value)), nil
	case OpGte:
		return expression.KeyGreaterThanEqual(key, expression.Value(c.Value)), nil
	case OpLt:
		return expression.KeyLessThan(key, expression.Value(c.Value)), nil
	case OpLte:
		return expression.KeyLessThanEqual(key, expression.Value(c.Value)), nil
	case OpBeginsWith:
		return expression.KeyBeginsWith(key, c.Value.(string)), nil
	}
	return expression.KeyConditionBuilder{}, ddberrors.NewValidationError(c.Attr, fmt.Sprintf("operator %s cannot be used in a key condition", c.Op))
}

// BuildFilter ANDs the conditions into a filter. It returns an unset builder for no conditions.
func BuildFilter(conds []Condition) (expression.ConditionBuilder, error) {
	var all []expression.ConditionBuilder
	for _, c := range conds {
		cb, err := filterCondition(c)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		all = append(all, cb)
	}
	switch len(all) {
	case 0:
		return expression.ConditionBuilder{}, nil
	case 1:
		return all[0], nil
	}
	return expression.And(all[0], all[1], all[2:]...), nil
}

func filterCondition(c Condition) (expression.ConditionBuilder, error) {
	name := expression.Name(c.Attr)
	switch c.Op {
	case OpEq:
		return name.Equal(expression.Value(c.Value)), nil
	case OpNe:
		return name.NotEqual(expression.Value(c.Value)), nil
	case OpGt:
		return name.GreaterThan(expression.Value(c.Value)), nil
	case OpGte:
		return name.GreaterThanEqual(expression.Value(c.Value)), nil
	case OpLt:
		return name.LessThan(expression.Value(c.Value)), nil
	case OpLte:
		return name.LessThanEqual(expression.Value(c.Value)), nil
	case OpBeginsWith:
		return name.BeginsWith(c.Value.(string)), nil
	case OpContains:
		return name.Contains(c.Value.(string)), nil
	case OpIsIn:
		rv := reflect.ValueOf(c.Value)
		operands := make([]expression.OperandBuilder, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			operands = append(operands, expression.Value(coerceValue(rv.Index(i).Interface())))
		}
		return name.In(operands[0], operands[1:]...), nil
	}
	return expression.ConditionBuilder{}, ddberrors.NewValidationError(c.Attr, fmt.Sprintf("unknown operator %q", c.Op))
}
