// Package expr implements the restricted formula sublanguage used by scenario
// derivations, guardrail conditions, and scoring objectives.
//
// The language supports dotted path reads, comparisons against literals,
// flat boolean composition (|| then && then comparison), arithmetic with
// parentheses, and three named forms: if_else, coalesce, clamp.
//
// Evaluation is pure and deterministic. There is no host eval and no
// arbitrary string execution: formulas are parsed by a small recursive
// descent parser into an AST and walked directly.
package expr

import (
	"fmt"
	"strconv"
)

// Kind discriminates Value variants.
type Kind int

const (
	KindNull Kind = iota
	KindNumber
	KindString
	KindBool
)

// Value is the result of evaluating an expression. Null marks an
// unresolvable path; callers substitute their context-specific sentinel.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
	Bool bool
}

// Null is the missing-value sentinel.
func Null() Value { return Value{Kind: KindNull} }

// Number wraps a float64.
func Number(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// String wraps a string.
func String(s string) Value { return Value{Kind: KindString, Str: s} }

// Boolean wraps a bool.
func Boolean(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// FromAny converts a dynamic value (JSON-decoded or scenario-declared) into
// a Value. Unsupported types map to Null.
func FromAny(v interface{}) Value {
	switch t := v.(type) {
	case nil:
		return Null()
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case bool:
		return Boolean(t)
	case string:
		return String(t)
	default:
		return Null()
	}
}

// IsNull reports whether v marks a missing value.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsNumber coerces v to a number. Booleans coerce to 1/0; strings parse if
// numeric. The second return is false when no numeric reading exists.
func (v Value) AsNumber() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindBool:
		if v.Bool {
			return 1, true
		}
		return 0, true
	case KindString:
		f, err := strconv.ParseFloat(v.Str, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// AsBool coerces v to a bool. Numbers are truthy when non-zero. The second
// return is false for Null.
func (v Value) AsBool() (bool, bool) {
	switch v.Kind {
	case KindBool:
		return v.Bool, true
	case KindNumber:
		return v.Num != 0, true
	case KindString:
		return v.Str != "", true
	default:
		return false, false
	}
}

// Interface returns the native Go representation.
func (v Value) Interface() interface{} {
	switch v.Kind {
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	case KindBool:
		return v.Bool
	default:
		return nil
	}
}

// String implements fmt.Stringer for diagnostics.
func (v Value) GoString() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindString:
		return fmt.Sprintf("%q", v.Str)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return "null"
	}
}
