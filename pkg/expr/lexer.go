package expr

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenType int

const (
	tokEOF tokenType = iota
	tokNumber
	tokString
	tokIdent // dotted path or function name
	tokLParen
	tokRParen
	tokComma
	tokOp // + - * / > < >= <= == != && ||
)

type token struct {
	typ tokenType
	lit string
	num float64
	pos int
}

type lexer struct {
	src  string
	pos  int
	toks []token
}

func lex(src string) ([]token, error) {
	l := &lexer{src: src}
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			l.pos++
		case c == '(':
			l.emit(tokLParen, "(")
		case c == ')':
			l.emit(tokRParen, ")")
		case c == ',':
			l.emit(tokComma, ",")
		case c == '\'' || c == '"':
			if err := l.lexString(c); err != nil {
				return nil, err
			}
		case c >= '0' && c <= '9':
			if err := l.lexNumber(); err != nil {
				return nil, err
			}
		case isIdentStart(rune(c)):
			l.lexIdent()
		default:
			if err := l.lexOp(); err != nil {
				return nil, err
			}
		}
	}
	l.toks = append(l.toks, token{typ: tokEOF, pos: l.pos})
	return l.toks, nil
}

func (l *lexer) emit(typ tokenType, lit string) {
	l.toks = append(l.toks, token{typ: typ, lit: lit, pos: l.pos})
	l.pos += len(lit)
}

func (l *lexer) lexString(quote byte) error {
	start := l.pos
	l.pos++ // opening quote
	var sb strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == quote {
			l.pos++
			l.toks = append(l.toks, token{typ: tokString, lit: sb.String(), pos: start})
			return nil
		}
		if c == '\\' && l.pos+1 < len(l.src) {
			l.pos++
			c = l.src[l.pos]
		}
		sb.WriteByte(c)
		l.pos++
	}
	return fmt.Errorf("expr: unterminated string at %d", start)
}

func (l *lexer) lexNumber() error {
	start := l.pos
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if (c >= '0' && c <= '9') || c == '.' {
			l.pos++
			continue
		}
		break
	}
	lit := l.src[start:l.pos]
	f, err := strconv.ParseFloat(lit, 64)
	if err != nil {
		return fmt.Errorf("expr: bad number %q at %d", lit, start)
	}
	l.toks = append(l.toks, token{typ: tokNumber, lit: lit, num: f, pos: start})
	return nil
}

func (l *lexer) lexIdent() {
	start := l.pos
	for l.pos < len(l.src) {
		c := rune(l.src[l.pos])
		if isIdentStart(c) || unicode.IsDigit(c) || c == '.' {
			l.pos++
			continue
		}
		break
	}
	l.toks = append(l.toks, token{typ: tokIdent, lit: l.src[start:l.pos], pos: start})
}

func (l *lexer) lexOp() error {
	two := ""
	if l.pos+1 < len(l.src) {
		two = l.src[l.pos : l.pos+2]
	}
	switch two {
	case ">=", "<=", "==", "!=", "&&", "||":
		l.emit(tokOp, two)
		return nil
	}
	switch c := l.src[l.pos]; c {
	case '>', '<', '+', '-', '*', '/':
		l.emit(tokOp, string(c))
		return nil
	default:
		return fmt.Errorf("expr: unexpected character %q at %d", c, l.pos)
	}
}

func isIdentStart(c rune) bool {
	return unicode.IsLetter(c) || c == '_'
}
