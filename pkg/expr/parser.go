package expr

import (
	"fmt"
	"strings"
)

// Node is a parsed expression tree node.
type Node interface {
	eval(ec *evalContext) Value
}

type numberLit struct{ val float64 }
type stringLit struct{ val string }
type boolLit struct{ val bool }

// pathExpr is a dotted read such as state.core.energy_level.
type pathExpr struct{ parts []string }

type unaryExpr struct {
	op string // "-"
	x  Node
}

type binaryExpr struct {
	op   string
	l, r Node
}

// callExpr is one of the three named forms: if_else, coalesce, clamp.
type callExpr struct {
	name string
	args []Node
}

type parser struct {
	toks []token
	pos  int
}

// Parse compiles a formula into an AST. A nil error guarantees the tree is
// safe to evaluate against any resolver.
func Parse(src string) (Node, error) {
	if strings.TrimSpace(src) == "" {
		return nil, fmt.Errorf("expr: empty formula")
	}
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().typ != tokEOF {
		return nil, fmt.Errorf("expr: trailing input at %d", p.peek().pos)
	}
	return node, nil
}

func (p *parser) peek() token  { return p.toks[p.pos] }
func (p *parser) next() token  { t := p.toks[p.pos]; p.pos++; return t }
func (p *parser) accept(op string) bool {
	if p.peek().typ == tokOp && p.peek().lit == op {
		p.pos++
		return true
	}
	return false
}

// Precedence per the language contract: || splits first, then &&, then
// comparison, then additive, then multiplicative.
func (p *parser) parseOr() (Node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept("||") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "||", l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.accept("&&") {
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = &binaryExpr{op: "&&", l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseComparison() (Node, error) {
	left, err := p.parseAdditive()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.typ == tokOp {
		switch t.lit {
		case ">", "<", ">=", "<=", "==", "!=":
			p.next()
			right, err := p.parseAdditive()
			if err != nil {
				return nil, err
			}
			return &binaryExpr{op: t.lit, l: left, r: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parseAdditive() (Node, error) {
	left, err := p.parseMultiplicative()
	if err != nil {
		return nil, err
	}
	for {
		if p.accept("+") {
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = &binaryExpr{op: "+", l: left, r: right}
		} else if p.accept("-") {
			right, err := p.parseMultiplicative()
			if err != nil {
				return nil, err
			}
			left = &binaryExpr{op: "-", l: left, r: right}
		} else {
			return left, nil
		}
	}
}

func (p *parser) parseMultiplicative() (Node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		if p.accept("*") {
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &binaryExpr{op: "*", l: left, r: right}
		} else if p.accept("/") {
			right, err := p.parseUnary()
			if err != nil {
				return nil, err
			}
			left = &binaryExpr{op: "/", l: left, r: right}
		} else {
			return left, nil
		}
	}
}

func (p *parser) parseUnary() (Node, error) {
	if p.accept("-") {
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryExpr{op: "-", x: x}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Node, error) {
	t := p.peek()
	switch t.typ {
	case tokNumber:
		p.next()
		return &numberLit{val: t.num}, nil
	case tokString:
		p.next()
		return &stringLit{val: t.lit}, nil
	case tokLParen:
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().typ != tokRParen {
			return nil, fmt.Errorf("expr: missing ')' at %d", p.peek().pos)
		}
		p.next()
		return inner, nil
	case tokIdent:
		p.next()
		switch t.lit {
		case "true":
			return &boolLit{val: true}, nil
		case "false":
			return &boolLit{val: false}, nil
		case "if_else", "coalesce", "clamp":
			return p.parseCall(t.lit)
		}
		if strings.Contains(t.lit, "..") || strings.HasSuffix(t.lit, ".") {
			return nil, fmt.Errorf("expr: malformed path %q at %d", t.lit, t.pos)
		}
		return &pathExpr{parts: strings.Split(t.lit, ".")}, nil
	default:
		return nil, fmt.Errorf("expr: unexpected token %q at %d", t.lit, t.pos)
	}
}

func (p *parser) parseCall(name string) (Node, error) {
	if p.peek().typ != tokLParen {
		return nil, fmt.Errorf("expr: %s requires arguments", name)
	}
	p.next()
	var args []Node
	for {
		arg, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		if p.peek().typ == tokComma {
			p.next()
			continue
		}
		break
	}
	if p.peek().typ != tokRParen {
		return nil, fmt.Errorf("expr: missing ')' in %s call", name)
	}
	p.next()

	want := map[string]int{"if_else": 3, "coalesce": 2, "clamp": 3}[name]
	if len(args) != want {
		return nil, fmt.Errorf("expr: %s expects %d arguments, got %d", name, want, len(args))
	}
	return &callExpr{name: name, args: args}, nil
}
