package expr

import (
	"sync"
)

// Resolver supplies values for dotted path reads. The second return is false
// when the path cannot be read; the evaluator then substitutes the
// caller-configured sentinel.
type Resolver interface {
	Resolve(path []string) (Value, bool)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(path []string) (Value, bool)

func (f ResolverFunc) Resolve(path []string) (Value, bool) { return f(path) }

// MapResolver resolves dotted paths into nested map[string]interface{}
// structures, the shape produced by JSON decoding.
type MapResolver map[string]interface{}

func (m MapResolver) Resolve(path []string) (Value, bool) {
	var cur interface{} = map[string]interface{}(m)
	for _, seg := range path {
		node, ok := cur.(map[string]interface{})
		if !ok {
			return Null(), false
		}
		cur, ok = node[seg]
		if !ok {
			return Null(), false
		}
	}
	v := FromAny(cur)
	if v.IsNull() && cur != nil {
		return Null(), false
	}
	return v, true
}

// Options controls sentinel substitution for unresolvable paths.
// Missing paths in numeric positions read as MissingNumber; in boolean
// positions as MissingBool.
type Options struct {
	MissingNumber float64
	MissingBool   bool
}

// evalContext threads the resolver and options through the tree walk.
type evalContext struct {
	resolver Resolver
	opts     Options
}

// Evaluator caches parsed formulas. Safe for concurrent use; scenarios are
// read-only after registration so the cache only grows.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]cached
}

type cached struct {
	node Node
	err  error
}

// New creates an Evaluator with an empty parse cache.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]cached)}
}

func (ev *Evaluator) compile(formula string) (Node, error) {
	ev.mu.RLock()
	c, ok := ev.cache[formula]
	ev.mu.RUnlock()
	if ok {
		return c.node, c.err
	}
	node, err := Parse(formula)
	ev.mu.Lock()
	ev.cache[formula] = cached{node: node, err: err}
	ev.mu.Unlock()
	return node, err
}

// Eval evaluates a formula and returns the raw Value. A parse failure
// returns Null; no error ever escapes evaluation.
func (ev *Evaluator) Eval(formula string, r Resolver, opts Options) Value {
	node, err := ev.compile(formula)
	if err != nil {
		return Null()
	}
	ec := &evalContext{resolver: r, opts: opts}
	return node.eval(ec)
}

// EvalNumber evaluates a formula expected to produce a number. A parse
// failure or non-numeric result yields def.
func (ev *Evaluator) EvalNumber(formula string, r Resolver, opts Options, def float64) float64 {
	v := ev.Eval(formula, r, opts)
	if n, ok := v.AsNumber(); ok {
		return n
	}
	return def
}

// EvalBool evaluates a guardrail-style condition. A parse failure or a
// result with no boolean reading yields false, never an error.
func (ev *Evaluator) EvalBool(formula string, r Resolver, opts Options) bool {
	v := ev.Eval(formula, r, opts)
	if b, ok := v.AsBool(); ok {
		return b
	}
	return false
}

func (n *numberLit) eval(*evalContext) Value { return Number(n.val) }
func (n *stringLit) eval(*evalContext) Value { return String(n.val) }
func (n *boolLit) eval(*evalContext) Value   { return Boolean(n.val) }

func (n *pathExpr) eval(ec *evalContext) Value {
	v, ok := ec.resolver.Resolve(n.parts)
	if !ok {
		return Null()
	}
	return v
}

func (n *unaryExpr) eval(ec *evalContext) Value {
	x := n.x.eval(ec)
	f, ok := x.AsNumber()
	if !ok {
		f = ec.opts.MissingNumber
	}
	return Number(-f)
}

func (n *binaryExpr) eval(ec *evalContext) Value {
	switch n.op {
	case "||", "&&":
		l := toBool(n.l.eval(ec), ec)
		r := toBool(n.r.eval(ec), ec)
		if n.op == "||" {
			return Boolean(l || r)
		}
		return Boolean(l && r)
	case "==", "!=":
		return n.evalEquality(ec)
	case ">", "<", ">=", "<=":
		l := toNumber(n.l.eval(ec), ec)
		r := toNumber(n.r.eval(ec), ec)
		switch n.op {
		case ">":
			return Boolean(l > r)
		case "<":
			return Boolean(l < r)
		case ">=":
			return Boolean(l >= r)
		default:
			return Boolean(l <= r)
		}
	case "+", "-", "*", "/":
		l := toNumber(n.l.eval(ec), ec)
		r := toNumber(n.r.eval(ec), ec)
		switch n.op {
		case "+":
			return Number(l + r)
		case "-":
			return Number(l - r)
		case "*":
			return Number(l * r)
		default:
			// Division by zero is defined as 0, not an error.
			if r == 0 {
				return Number(0)
			}
			return Number(l / r)
		}
	}
	return Null()
}

func (n *binaryExpr) evalEquality(ec *evalContext) Value {
	l := n.l.eval(ec)
	r := n.r.eval(ec)

	var eq bool
	switch {
	case l.Kind == KindString && r.Kind == KindString:
		eq = l.Str == r.Str
	case l.Kind == KindBool && r.Kind == KindBool:
		eq = l.Bool == r.Bool
	case l.IsNull() || r.IsNull():
		eq = l.IsNull() && r.IsNull()
	default:
		ln, lok := l.AsNumber()
		rn, rok := r.AsNumber()
		eq = lok && rok && ln == rn
	}
	if n.op == "!=" {
		return Boolean(!eq)
	}
	return Boolean(eq)
}

func (n *callExpr) eval(ec *evalContext) Value {
	switch n.name {
	case "if_else":
		if toBool(n.args[0].eval(ec), ec) {
			return n.args[1].eval(ec)
		}
		return n.args[2].eval(ec)
	case "coalesce":
		v := n.args[0].eval(ec)
		if v.IsNull() {
			return n.args[1].eval(ec)
		}
		return v
	case "clamp":
		x := toNumber(n.args[0].eval(ec), ec)
		lo := toNumber(n.args[1].eval(ec), ec)
		hi := toNumber(n.args[2].eval(ec), ec)
		if x < lo {
			return Number(lo)
		}
		if x > hi {
			return Number(hi)
		}
		return Number(x)
	}
	return Null()
}

func toNumber(v Value, ec *evalContext) float64 {
	if n, ok := v.AsNumber(); ok {
		return n
	}
	return ec.opts.MissingNumber
}

func toBool(v Value, ec *evalContext) bool {
	if b, ok := v.AsBool(); ok {
		return b
	}
	return ec.opts.MissingBool
}
