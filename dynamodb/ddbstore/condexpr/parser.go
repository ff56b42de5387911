// Package condexpr parses and evaluates DynamoDB condition, filter and key
// condition expressions against items held by the local store.
//
// The supported grammar is the one produced by the SDK expression builder:
// comparisons (= <> < <= > >=), BETWEEN, IN, AND, OR, NOT, parentheses and
// the functions attribute_exists, attribute_not_exists, attribute_type,
// begins_with, contains and size. Attribute paths may use #aliases, nested
// map fields (a.b) and list indexes (a[0]).
package condexpr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Input carries the expression placeholders of a request.
type Input struct {
	Names  map[string]string
	Values map[string]types.AttributeValue
}

// Expr is a parsed expression with its placeholders resolved.
type Expr struct {
	src  string
	root node
}

func (e *Expr) String() string {
	return e.src
}

// Parse parses src and resolves every placeholder it uses from in.
func Parse(src string, in Input) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", src, err)
	}
	p := &parser{toks: toks, in: in}
	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", src, err)
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("invalid expression %q: unexpected %s", src, tok)
	}
	return &Expr{src: src, root: root}, nil
}

// Eval parses src and evaluates it against item.
func Eval(src string, in Input, item map[string]types.AttributeValue) (bool, error) {
	expr, err := Parse(src, in)
	if err != nil {
		return false, err
	}
	return expr.Eval(item)
}

type parser struct {
	toks []token
	pos  int
	in   Input
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, fmt.Errorf("expected %s, got %s", what, tok)
	}
	return tok, nil
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().keyword("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orNode{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().keyword("AND") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &andNode{left, right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.peek().keyword("NOT") {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.peek()
	if tok.kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	if tok.kind == tokIdent && p.toks[p.pos+1].kind == tokLParen {
		switch strings.ToLower(tok.text) {
		case "attribute_exists", "attribute_not_exists", "attribute_type", "begins_with", "contains":
			return p.parseFunction()
		}
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	tok = p.next()
	switch {
	case tok.kind == tokComparator:
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &compareNode{op: tok.text, left: left, right: right}, nil
	case tok.keyword("BETWEEN"):
		lo, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if and := p.next(); !and.keyword("AND") {
			return nil, fmt.Errorf("expected AND in BETWEEN, got %s", and)
		}
		hi, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &betweenNode{value: left, lo: lo, hi: hi}, nil
	case tok.keyword("IN"):
		if _, err := p.expect(tokLParen, "'(' after IN"); err != nil {
			return nil, err
		}
		var list []operand
		for {
			op, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			list = append(list, op)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return &inNode{value: left, list: list}, nil
	}
	return nil, fmt.Errorf("expected comparator, BETWEEN or IN, got %s", tok)
}

func (p *parser) parseFunction() (node, error) {
	name := strings.ToLower(p.next().text)
	p.next() // (
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	fn := &funcNode{name: name, path: path}
	switch name {
	case "attribute_type", "begins_with", "contains":
		if _, err := p.expect(tokComma, "','"); err != nil {
			return nil, err
		}
		if fn.arg, err = p.parseOperand(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return fn, nil
}

func (p *parser) parseOperand() (operand, error) {
	tok := p.peek()
	switch {
	case tok.kind == tokValue:
		p.next()
		v, ok := p.in.Values[tok.text]
		if !ok {
			return nil, fmt.Errorf("value placeholder %s is not defined", tok.text)
		}
		return valueOperand{v}, nil
	case tok.kind == tokIdent && strings.EqualFold(tok.text, "size") && p.toks[p.pos+1].kind == tokLParen:
		p.next()
		p.next()
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return sizeOperand{path}, nil
	}
	return p.parsePath()
}

func (p *parser) parsePath() (pathOperand, error) {
	var path pathOperand
	first, err := p.pathName()
	if err != nil {
		return path, err
	}
	path = append(path, pathElem{name: first})
	for {
		switch p.peek().kind {
		case tokDot:
			p.next()
			name, err := p.pathName()
			if err != nil {
				return path, err
			}
			path = append(path, pathElem{name: name})
		case tokLBracket:
			p.next()
			tok, err := p.expect(tokNumber, "list index")
			if err != nil {
				return path, err
			}
			idx, err := strconv.Atoi(tok.text)
			if err != nil {
				return path, fmt.Errorf("invalid list index %s", tok)
			}
			if _, err := p.expect(tokRBracket, "']'"); err != nil {
				return path, err
			}
			path = append(path, pathElem{index: idx, isIndex: true})
		default:
			return path, nil
		}
	}
}

func (p *parser) pathName() (string, error) {
	tok := p.next()
	switch tok.kind {
	case tokName:
		name, ok := p.in.Names[tok.text]
		if !ok {
			return "", fmt.Errorf("name placeholder %s is not defined", tok.text)
		}
		return name, nil
	case tokIdent:
		return tok.text, nil
	}
	return "", fmt.Errorf("expected attribute name, got %s", tok)
}
