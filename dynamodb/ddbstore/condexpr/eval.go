package condexpr

import (
	"bytes"
	"fmt"
	"math/big"
	"strings"

	"github.com/acksell/ddbmodel/dynamodb/codec"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type item = map[string]types.AttributeValue

type node interface {
	eval(it item) (bool, error)
}

type operand interface {
	resolve(it item) (types.AttributeValue, bool)
}

type andNode struct{ left, right node }

func (n *andNode) eval(it item) (bool, error) {
	ok, err := n.left.eval(it)
	if err != nil || !ok {
		return false, err
	}
	return n.right.eval(it)
}

type orNode struct{ left, right node }

func (n *orNode) eval(it item) (bool, error) {
	ok, err := n.left.eval(it)
	if err != nil || ok {
		return ok, err
	}
	return n.right.eval(it)
}

type notNode struct{ inner node }

func (n *notNode) eval(it item) (bool, error) {
	ok, err := n.inner.eval(it)
	return !ok, err
}

type compareNode struct {
	op          string
	left, right operand
}

func (n *compareNode) eval(it item) (bool, error) {
	l, lok := n.left.resolve(it)
	r, rok := n.right.resolve(it)
	if !lok || !rok {
		// A missing attribute is unequal to everything.
		return n.op == "<>" && (lok || rok), nil
	}
	switch n.op {
	case "=":
		return codec.Equal(l, r), nil
	case "<>":
		return !codec.Equal(l, r), nil
	}
	c, ok := compare(l, r)
	if !ok {
		return false, nil
	}
	switch n.op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	return false, fmt.Errorf("unknown comparator %q", n.op)
}

type betweenNode struct {
	value, lo, hi operand
}

func (n *betweenNode) eval(it item) (bool, error) {
	v, ok := n.value.resolve(it)
	if !ok {
		return false, nil
	}
	lo, lok := n.lo.resolve(it)
	hi, hok := n.hi.resolve(it)
	if !lok || !hok {
		return false, nil
	}
	c1, ok1 := compare(v, lo)
	c2, ok2 := compare(v, hi)
	return ok1 && ok2 && c1 >= 0 && c2 <= 0, nil
}

type inNode struct {
	value operand
	list  []operand
}

func (n *inNode) eval(it item) (bool, error) {
	v, ok := n.value.resolve(it)
	if !ok {
		return false, nil
	}
	for _, candidate := range n.list {
		if c, ok := candidate.resolve(it); ok && codec.Equal(v, c) {
			return true, nil
		}
	}
	return false, nil
}

type funcNode struct {
	name string
	path pathOperand
	arg  operand
}

func (n *funcNode) eval(it item) (bool, error) {
	v, exists := n.path.resolve(it)
	switch n.name {
	case "attribute_exists":
		return exists, nil
	case "attribute_not_exists":
		return !exists, nil
	}
	arg, ok := n.arg.resolve(it)
	if !exists || !ok {
		return false, nil
	}
	switch n.name {
	case "attribute_type":
		want, ok := arg.(*types.AttributeValueMemberS)
		if !ok {
			return false, fmt.Errorf("attribute_type needs a string operand")
		}
		return typeName(v) == want.Value, nil
	case "begins_with":
		switch x := v.(type) {
		case *types.AttributeValueMemberS:
			prefix, ok := arg.(*types.AttributeValueMemberS)
			return ok && strings.HasPrefix(x.Value, prefix.Value), nil
		case *types.AttributeValueMemberB:
			prefix, ok := arg.(*types.AttributeValueMemberB)
			return ok && bytes.HasPrefix(x.Value, prefix.Value), nil
		}
		return false, nil
	case "contains":
		return contains(v, arg), nil
	}
	return false, fmt.Errorf("unknown function %s", n.name)
}

func contains(v, arg types.AttributeValue) bool {
	switch x := v.(type) {
	case *types.AttributeValueMemberS:
		sub, ok := arg.(*types.AttributeValueMemberS)
		return ok && strings.Contains(x.Value, sub.Value)
	case *types.AttributeValueMemberB:
		sub, ok := arg.(*types.AttributeValueMemberB)
		return ok && bytes.Contains(x.Value, sub.Value)
	case *types.AttributeValueMemberSS:
		s, ok := arg.(*types.AttributeValueMemberS)
		if !ok {
			return false
		}
		for _, e := range x.Value {
			if e == s.Value {
				return true
			}
		}
	case *types.AttributeValueMemberNS:
		for _, e := range x.Value {
			if codec.Equal(&types.AttributeValueMemberN{Value: e}, arg) {
				return true
			}
		}
	case *types.AttributeValueMemberBS:
		b, ok := arg.(*types.AttributeValueMemberB)
		if !ok {
			return false
		}
		for _, e := range x.Value {
			if bytes.Equal(e, b.Value) {
				return true
			}
		}
	case *types.AttributeValueMemberL:
		for _, e := range x.Value {
			if codec.Equal(e, arg) {
				return true
			}
		}
	}
	return false
}

// compare orders two scalars of the same type. ok is false for
// values that have no ordering.
func compare(a, b types.AttributeValue) (c int, ok bool) {
	switch x := a.(type) {
	case *types.AttributeValueMemberS:
		y, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return 0, false
		}
		return strings.Compare(x.Value, y.Value), true
	case *types.AttributeValueMemberB:
		y, ok := b.(*types.AttributeValueMemberB)
		if !ok {
			return 0, false
		}
		return bytes.Compare(x.Value, y.Value), true
	case *types.AttributeValueMemberN:
		y, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return 0, false
		}
		xf, xok := new(big.Float).SetString(x.Value)
		yf, yok := new(big.Float).SetString(y.Value)
		if !xok || !yok {
			return 0, false
		}
		return xf.Cmp(yf), true
	}
	return 0, false
}

func typeName(v types.AttributeValue) string {
	switch v.(type) {
	case *types.AttributeValueMemberS:
		return "S"
	case *types.AttributeValueMemberN:
		return "N"
	case *types.AttributeValueMemberB:
		return "B"
	case *types.AttributeValueMemberBOOL:
		return "BOOL"
	case *types.AttributeValueMemberNULL:
		return "NULL"
	case *types.AttributeValueMemberSS:
		return "SS"
	case *types.AttributeValueMemberNS:
		return "NS"
	case *types.AttributeValueMemberBS:
		return "BS"
	case *types.AttributeValueMemberM:
		return "M"
	case *types.AttributeValueMemberL:
		return "L"
	}
	return ""
}

type valueOperand struct {
	v types.AttributeValue
}

func (o valueOperand) resolve(item) (types.AttributeValue, bool) {
	return o.v, true
}

type pathElem struct {
	name    string
	index   int
	isIndex bool
}

type pathOperand []pathElem

func (p pathOperand) resolve(it item) (types.AttributeValue, bool) {
	var cur types.AttributeValue = &types.AttributeValueMemberM{Value: it}
	for _, el := range p {
		switch x := cur.(type) {
		case *types.AttributeValueMemberM:
			if el.isIndex {
				return nil, false
			}
			next, ok := x.Value[el.name]
			if !ok {
				return nil, false
			}
			cur = next
		case *types.AttributeValueMemberL:
			if !el.isIndex || el.index >= len(x.Value) {
				return nil, false
			}
			cur = x.Value[el.index]
		default:
			return nil, false
		}
	}
	return cur, true
}

// topLevel returns the attribute name when the path has a single element.
func (p pathOperand) topLevel() (string, bool) {
	if len(p) != 1 || p[0].isIndex {
		return "", false
	}
	return p[0].name, true
}

type sizeOperand struct {
	path pathOperand
}

func (o sizeOperand) resolve(it item) (types.AttributeValue, bool) {
	v, ok := o.path.resolve(it)
	if !ok {
		return nil, false
	}
	var n int
	switch x := v.(type) {
	case *types.AttributeValueMemberS:
		n = len(x.Value)
	case *types.AttributeValueMemberB:
		n = len(x.Value)
	case *types.AttributeValueMemberSS:
		n = len(x.Value)
	case *types.AttributeValueMemberNS:
		n = len(x.Value)
	case *types.AttributeValueMemberBS:
		n = len(x.Value)
	case *types.AttributeValueMemberL:
		n = len(x.Value)
	case *types.AttributeValueMemberM:
		n = len(x.Value)
	default:
		return nil, false
	}
	return codec.Number(n), true
}

// Eval reports whether item satisfies the expression.
func (e *Expr) Eval(it map[string]types.AttributeValue) (bool, error) {
	return e.root.eval(it)
}

// Equality returns the value that a top-level `attr = :v` term of a
// conjunction pins attr to. Key conditions use it to find the partition.
func (e *Expr) Equality(attr string) (types.AttributeValue, bool) {
	return equality(e.root, attr)
}

func equality(n node, attr string) (types.AttributeValue, bool) {
	switch x := n.(type) {
	case *andNode:
		if v, ok := equality(x.left, attr); ok {
			return v, true
		}
		return equality(x.right, attr)
	case *compareNode:
		if x.op != "=" {
			return nil, false
		}
		if p, ok := x.left.(pathOperand); ok {
			if name, ok := p.topLevel(); ok && name == attr {
				if v, ok := x.right.(valueOperand); ok {
					return v.v, true
				}
			}
		}
		if p, ok := x.right.(pathOperand); ok {
			if name, ok := p.topLevel(); ok && name == attr {
				if v, ok := x.left.(valueOperand); ok {
					return v.v, true
				}
			}
		}
	}
	return nil, false
}

// Attributes returns the top-level attribute names the expression reads.
func (e *Expr) Attributes() []string {
	seen := map[string]bool{}
	var out []string
	add := func(p pathOperand) {
		if len(p) > 0 && !p[0].isIndex && !seen[p[0].name] {
			seen[p[0].name] = true
			out = append(out, p[0].name)
		}
	}
	var visitOperand func(o operand)
	visitOperand = func(o operand) {
		switch x := o.(type) {
		case pathOperand:
			add(x)
		case sizeOperand:
			add(x.path)
		}
	}
	var visit func(n node)
	visit = func(n node) {
		switch x := n.(type) {
		case *andNode:
			visit(x.left)
			visit(x.right)
		case *orNode:
			visit(x.left)
			visit(x.right)
		case *notNode:
			visit(x.inner)
		case *compareNode:
			visitOperand(x.left)
			visitOperand(x.right)
		case *betweenNode:
			visitOperand(x.value)
			visitOperand(x.lo)
			visitOperand(x.hi)
		case *inNode:
			visitOperand(x.value)
			for _, o := range x.list {
				visitOperand(o)
			}
		case *funcNode:
			add(x.path)
			if x.arg != nil {
				visitOperand(x.arg)
			}
		}
	}
	visit(e.root)
	return out
}
