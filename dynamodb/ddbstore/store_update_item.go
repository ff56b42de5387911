package ddbstore

import (
	"context"
	"fmt"
	"math/big"

	"github.com/acksell/ddbmodel/dynamodb/codec"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// UpdateItem applies legacy AttributeUpdates (PUT, DELETE and ADD) to an
// item, creating it when a PUT or ADD targets a missing key.
func (s *Store) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if params == nil {
		return nil, validationException("params is required")
	}
	if params.UpdateExpression != nil {
		return nil, validationException("UpdateExpression is not supported by the local store, use AttributeUpdates")
	}
	t, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	pk, err := t.validateKey(params.Key)
	if err != nil {
		return nil, err
	}
	for name := range params.AttributeUpdates {
		if t.definition.KeyDefinitions.Has(name) {
			return nil, validationException("One or more parameter values were invalid: Cannot update attribute %s. This attribute is part of the key", name)
		}
	}
	key, err := itemKey(t.definition.Name, pk)
	if err != nil {
		return nil, validationException("%v", err)
	}

	var old, updated item
	err = s.db.Update(func(txn *badger.Txn) error {
		if old, err = loadItem(txn, key); err != nil {
			return err
		}
		if err := checkCondition(params.ConditionExpression, params.ExpressionAttributeNames, params.ExpressionAttributeValues, old); err != nil {
			return err
		}
		var creates bool
		updated, creates, err = applyAttributeUpdates(old, params.Key, params.AttributeUpdates)
		if err != nil {
			return err
		}
		if old == nil && !creates {
			updated = nil
			return nil
		}
		if err := t.validateItem(updated); err != nil {
			return err
		}
		return t.writeItem(txn, key, pk, updated, old)
	})
	if err != nil {
		return nil, err
	}

	out := &dynamodb.UpdateItemOutput{}
	switch params.ReturnValues {
	case types.ReturnValueAllOld:
		out.Attributes = old
	case types.ReturnValueAllNew:
		out.Attributes = updated
	case types.ReturnValueUpdatedOld:
		out.Attributes = pick(old, params.AttributeUpdates)
	case types.ReturnValueUpdatedNew:
		out.Attributes = pick(updated, params.AttributeUpdates)
	}
	return out, nil
}

func pick(it item, updates map[string]types.AttributeValueUpdate) item {
	if it == nil {
		return nil
	}
	out := make(item)
	for name := range updates {
		if v, ok := it[name]; ok {
			out[name] = v
		}
	}
	return out
}

// applyAttributeUpdates returns the updated copy of old. creates reports
// whether an action would create a missing item.
func applyAttributeUpdates(old, key item, updates map[string]types.AttributeValueUpdate) (item, bool, error) {
	next := codec.CopyMap(old)
	if next == nil {
		next = codec.CopyMap(key)
	}
	var creates bool
	for name, u := range updates {
		action := u.Action
		if action == "" {
			action = types.AttributeActionPut
		}
		switch action {
		case types.AttributeActionPut:
			if u.Value == nil {
				return nil, false, validationException("One or more parameter values were invalid: Only DELETE action is allowed when no attribute value is specified")
			}
			next[name] = u.Value
			creates = true
		case types.AttributeActionDelete:
			if u.Value == nil {
				delete(next, name)
				continue
			}
			current, ok := next[name]
			if !ok {
				continue
			}
			rest, err := subtractSet(current, u.Value)
			if err != nil {
				return nil, false, validationException("One or more parameter values were invalid: %v", err)
			}
			if rest == nil {
				delete(next, name)
			} else {
				next[name] = rest
			}
		case types.AttributeActionAdd:
			if u.Value == nil {
				return nil, false, validationException("One or more parameter values were invalid: ADD action requires a value")
			}
			sum, err := addValue(next[name], u.Value)
			if err != nil {
				return nil, false, validationException("One or more parameter values were invalid: %v", err)
			}
			next[name] = sum
			creates = true
		default:
			return nil, false, validationException("unknown attribute action %q", action)
		}
	}
	return next, creates, nil
}

func addValue(current, delta types.AttributeValue) (types.AttributeValue, error) {
	if current == nil {
		return delta, nil
	}
	switch d := delta.(type) {
	case *types.AttributeValueMemberN:
		c, ok := current.(*types.AttributeValueMemberN)
		if !ok {
			return nil, fmt.Errorf("Type mismatch for attribute to update")
		}
		x, ok1 := new(big.Float).SetPrec(128).SetString(c.Value)
		y, ok2 := new(big.Float).SetPrec(128).SetString(d.Value)
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("invalid number")
		}
		return &types.AttributeValueMemberN{Value: new(big.Float).SetPrec(128).Add(x, y).Text('f', -1)}, nil
	case *types.AttributeValueMemberSS:
		c, ok := current.(*types.AttributeValueMemberSS)
		if !ok {
			return nil, fmt.Errorf("Type mismatch for attribute to update")
		}
		return &types.AttributeValueMemberSS{Value: union(c.Value, d.Value)}, nil
	case *types.AttributeValueMemberNS:
		c, ok := current.(*types.AttributeValueMemberNS)
		if !ok {
			return nil, fmt.Errorf("Type mismatch for attribute to update")
		}
		return &types.AttributeValueMemberNS{Value: union(c.Value, d.Value)}, nil
	}
	return nil, fmt.Errorf("ADD can only be used on numbers and sets")
}

func subtractSet(current, remove types.AttributeValue) (types.AttributeValue, error) {
	switch r := remove.(type) {
	case *types.AttributeValueMemberSS:
		c, ok := current.(*types.AttributeValueMemberSS)
		if !ok {
			return nil, fmt.Errorf("Type mismatch for attribute to update")
		}
		if rest := minus(c.Value, r.Value); len(rest) > 0 {
			return &types.AttributeValueMemberSS{Value: rest}, nil
		}
		return nil, nil
	case *types.AttributeValueMemberNS:
		c, ok := current.(*types.AttributeValueMemberNS)
		if !ok {
			return nil, fmt.Errorf("Type mismatch for attribute to update")
		}
		if rest := minus(c.Value, r.Value); len(rest) > 0 {
			return &types.AttributeValueMemberNS{Value: rest}, nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("DELETE with a value can only be used on sets")
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var out []string
	for _, s := range append(append([]string(nil), a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func minus(a, b []string) []string {
	drop := make(map[string]bool, len(b))
	for _, s := range b {
		drop[s] = true
	}
	var out []string
	for _, s := range a {
		if !drop[s] {
			out = append(out, s)
		}
	}
	return out
}
