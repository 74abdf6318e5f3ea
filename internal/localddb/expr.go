package localddb

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// The expression support covers what the expression builder emits for
// top-level attributes:
//
//	condition: attribute_exists(p), attribute_not_exists(p), a <op> b with
//	           op in = <> < <= > >=, combined with AND, OR, NOT and parentheses
//	update:    SET p = operand[, ...] and REMOVE p[, ...]
//
// Nested document paths are not supported. As in DynamoDB, every expression
// attribute name and value supplied must be used by one of the request's
// expressions.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokComparator
	tokLParen
	tokRParen
	tokComma
	tokEquals
)

type token struct {
	kind tokenKind
	text string
}

func tokenize(expr string) ([]token, error) {
	var toks []token
	rs := []rune(expr)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case r == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case r == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case r == '=':
			toks = append(toks, token{tokEquals, "="})
			i++
		case r == '<' || r == '>':
			op := string(r)
			if i+1 < len(rs) && (rs[i+1] == '=' || (r == '<' && rs[i+1] == '>')) {
				op += string(rs[i+1])
			}
			toks = append(toks, token{tokComparator, op})
			i += len(op)
		case r == '#' || r == ':' || r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r):
			start := i
			i++
			for i < len(rs) && (rs[i] == '_' || unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i])) {
				i++
			}
			toks = append(toks, token{tokIdent, string(rs[start:i])})
		default:
			return nil, fmt.Errorf("syntax error; token: %q", string(r))
		}
	}

	return append(toks, token{kind: tokEOF}), nil
}

type evalContext struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

func (c evalContext) attributeName(tok token) (string, error) {
	if tok.kind != tokIdent || strings.HasPrefix(tok.text, ":") {
		return "", fmt.Errorf("expected attribute name, got %q", tok.text)
	}
	if !strings.HasPrefix(tok.text, "#") {
		return tok.text, nil
	}

	name, ok := c.names[tok.text]
	if !ok {
		return "", fmt.Errorf("an expression attribute name used in the document path is not defined; attribute name: %s", tok.text)
	}
	return name, nil
}

// operand resolves a value placeholder or an attribute of item. The returned
// value is nil if the attribute does not exist.
func (c evalContext) operand(tok token, item map[string]types.AttributeValue) (types.AttributeValue, error) {
	if tok.kind == tokIdent && strings.HasPrefix(tok.text, ":") {
		v, ok := c.values[tok.text]
		if !ok {
			return nil, fmt.Errorf("an expression attribute value used in expression is not defined; attribute value: %s", tok.text)
		}
		return v, nil
	}

	name, err := c.attributeName(tok)
	if err != nil {
		return nil, err
	}
	return item[name], nil
}

type parser struct {
	toks []token
	pos  int
	ctx  evalContext
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, word) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) error {
	if t := p.next(); t.kind != kind {
		return fmt.Errorf("syntax error; expected %s, got %q", what, t.text)
	}
	return nil
}

// evalCondition reports whether item satisfies the condition expression.
// item is empty when the target item does not exist.
func evalCondition(expr string, ctx evalContext, item map[string]types.AttributeValue) (bool, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return false, err
	}

	p := &parser{toks: toks, ctx: ctx}
	ok, err := p.or(item)
	if err != nil {
		return false, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return false, fmt.Errorf("syntax error; unexpected token %q", t.text)
	}
	return ok, nil
}

func (p *parser) or(item map[string]types.AttributeValue) (bool, error) {
	left, err := p.and(item)
	if err != nil {
		return false, err
	}
	for p.keyword("OR") {
		right, err := p.and(item)
		if err != nil {
			return false, err
		}
		left = left || right
	}
	return left, nil
}

func (p *parser) and(item map[string]types.AttributeValue) (bool, error) {
	left, err := p.not(item)
	if err != nil {
		return false, err
	}
	for p.keyword("AND") {
		right, err := p.not(item)
		if err != nil {
			return false, err
		}
		left = left && right
	}
	return left, nil
}

func (p *parser) not(item map[string]types.AttributeValue) (bool, error) {
	if p.keyword("NOT") {
		ok, err := p.not(item)
		return !ok, err
	}
	return p.primary(item)
}

func (p *parser) primary(item map[string]types.AttributeValue) (bool, error) {
	if p.peek().kind == tokLParen {
		p.next()
		ok, err := p.or(item)
		if err != nil {
			return false, err
		}
		return ok, p.expect(tokRParen, ")")
	}

	first := p.next()
	if p.peek().kind == tokLParen {
		return p.function(first.text, item)
	}

	var op string
	switch t := p.next(); t.kind {
	case tokComparator, tokEquals:
		op = t.text
	default:
		return false, fmt.Errorf("syntax error; expected comparator after %q, got %q", first.text, t.text)
	}

	left, err := p.ctx.operand(first, item)
	if err != nil {
		return false, err
	}
	right, err := p.ctx.operand(p.next(), item)
	if err != nil {
		return false, err
	}

	return compare(left, right, op)
}

func (p *parser) function(name string, item map[string]types.AttributeValue) (bool, error) {
	if err := p.expect(tokLParen, "("); err != nil {
		return false, err
	}
	attr, err := p.ctx.attributeName(p.next())
	if err != nil {
		return false, err
	}
	if err := p.expect(tokRParen, ")"); err != nil {
		return false, err
	}

	_, exists := item[attr]
	switch name {
	case "attribute_exists":
		return exists, nil
	case "attribute_not_exists":
		return !exists, nil
	default:
		return false, fmt.Errorf("unsupported function %q", name)
	}
}

// compare applies op to a and b. Comparisons involving a missing attribute or
// values of different types are false; ordering is defined for S, N and B.
func compare(a, b types.AttributeValue, op string) (bool, error) {
	if a == nil || b == nil {
		return false, nil
	}

	if op == "=" || op == "<>" {
		eq, err := equal(a, b)
		if err != nil {
			return false, err
		}
		return eq == (op == "="), nil
	}

	var c int
	switch av := a.(type) {
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false, nil
		}
		x, err := parseNumber(av.Value)
		if err != nil {
			return false, err
		}
		y, err := parseNumber(bv.Value)
		if err != nil {
			return false, err
		}
		c = x.Cmp(y)
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		if !ok {
			return false, nil
		}
		c = strings.Compare(av.Value, bv.Value)
	case *types.AttributeValueMemberB:
		bv, ok := b.(*types.AttributeValueMemberB)
		if !ok {
			return false, nil
		}
		c = bytes.Compare(av.Value, bv.Value)
	default:
		return false, nil
	}

	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	default:
		return false, fmt.Errorf("unsupported comparator %q", op)
	}
}

func equal(a, b types.AttributeValue) (bool, error) {
	if an, ok := a.(*types.AttributeValueMemberN); ok {
		bn, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false, nil
		}
		x, err := parseNumber(an.Value)
		if err != nil {
			return false, err
		}
		y, err := parseNumber(bn.Value)
		if err != nil {
			return false, err
		}
		return x.Cmp(y) == 0, nil
	}

	ea, err := encodeItem(map[string]types.AttributeValue{"v": a})
	if err != nil {
		return false, err
	}
	eb, err := encodeItem(map[string]types.AttributeValue{"v": b})
	if err != nil {
		return false, err
	}
	return bytes.Equal(ea, eb), nil
}

type setAction struct {
	name  string
	value token
}

type updatePlan struct {
	sets    []setAction
	removes []string
}

func parseUpdate(expr string, ctx evalContext) (*updatePlan, error) {
	toks, err := tokenize(expr)
	if err != nil {
		return nil, err
	}

	p := &parser{toks: toks, ctx: ctx}
	plan := &updatePlan{}
	seen := make(map[string]bool)
	mark := func(name string) error {
		if seen[name] {
			return fmt.Errorf("two document paths overlap with each other; path: [%s]", name)
		}
		seen[name] = true
		return nil
	}

	for p.peek().kind != tokEOF {
		switch {
		case p.keyword("SET"):
			for {
				name, err := ctx.attributeName(p.next())
				if err != nil {
					return nil, err
				}
				if err := p.expect(tokEquals, "="); err != nil {
					return nil, err
				}
				value := p.next()
				if value.kind != tokIdent {
					return nil, fmt.Errorf("syntax error; unexpected token %q", value.text)
				}
				if p.peek().kind == tokLParen {
					return nil, fmt.Errorf("unsupported function %q in update expression", value.text)
				}
				if err := mark(name); err != nil {
					return nil, err
				}
				plan.sets = append(plan.sets, setAction{name: name, value: value})
				if p.peek().kind != tokComma {
					break
				}
				p.next()
			}
		case p.keyword("REMOVE"):
			for {
				name, err := ctx.attributeName(p.next())
				if err != nil {
					return nil, err
				}
				if err := mark(name); err != nil {
					return nil, err
				}
				plan.removes = append(plan.removes, name)
				if p.peek().kind != tokComma {
					break
				}
				p.next()
			}
		default:
			return nil, fmt.Errorf("syntax error; unsupported update clause %q", p.peek().text)
		}
	}

	if len(plan.sets) == 0 && len(plan.removes) == 0 {
		return nil, fmt.Errorf("update expression is empty")
	}
	return plan, nil
}

// apply returns a copy of item with the plan applied and the names of the
// attributes it set.
func (u *updatePlan) apply(ctx evalContext, item map[string]types.AttributeValue) (map[string]types.AttributeValue, []string, error) {
	updated := make(map[string]types.AttributeValue, len(item)+len(u.sets))
	for k, v := range item {
		updated[k] = v
	}

	var names []string
	for _, s := range u.sets {
		v, err := ctx.operand(s.value, item)
		if err != nil {
			return nil, nil, err
		}
		if v == nil {
			return nil, nil, fmt.Errorf("the provided expression refers to an attribute that does not exist in the item")
		}
		updated[s.name] = v
		names = append(names, s.name)
	}
	for _, name := range u.removes {
		delete(updated, name)
	}

	return updated, names, nil
}

func (u *updatePlan) touches() []string {
	names := make([]string, 0, len(u.sets)+len(u.removes))
	for _, s := range u.sets {
		names = append(names, s.name)
	}
	return append(names, u.removes...)
}
