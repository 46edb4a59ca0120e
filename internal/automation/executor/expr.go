package executor

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"fieldservice_backend/internal/automation/render"
)

// Conditional expressions: comparisons (== != > >= < <=) joined by && and ||, with
// parentheses and !. Operands are dot paths into the run context or literals: numbers,
// quoted strings, true, false and null. A bare path is truthy when present and non-empty.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokPath
	tokNumber
	tokString
	tokBool
	tokNull
	tokOp
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
	num  float64
}

func tokenize(src string) ([]token, error) {
	var out []token
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			out = append(out, token{kind: tokLParen})
			i++
		case r == ')':
			out = append(out, token{kind: tokRParen})
			i++
		case r == '&' || r == '|':
			if i+1 >= len(rs) || rs[i+1] != r {
				return nil, fmt.Errorf("unexpected %q at %d", r, i)
			}
			if r == '&' {
				out = append(out, token{kind: tokAnd})
			} else {
				out = append(out, token{kind: tokOr})
			}
			i += 2
		case r == '=' || r == '!' || r == '<' || r == '>':
			if i+1 < len(rs) && rs[i+1] == '=' {
				out = append(out, token{kind: tokOp, text: string(rs[i : i+2])})
				i += 2
				continue
			}
			switch r {
			case '!':
				out = append(out, token{kind: tokNot})
			case '=':
				return nil, fmt.Errorf("use == for equality at %d", i)
			default:
				out = append(out, token{kind: tokOp, text: string(r)})
			}
			i++
		case r == '"' || r == '\'':
			j := i + 1
			var sb strings.Builder
			for j < len(rs) && rs[j] != r {
				if rs[j] == '\\' && j+1 < len(rs) {
					j++
				}
				sb.WriteRune(rs[j])
				j++
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("unterminated string at %d", i)
			}
			out = append(out, token{kind: tokString, text: sb.String()})
			i = j + 1
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			j := i + 1
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.') {
				j++
			}
			n, err := strconv.ParseFloat(string(rs[i:j]), 64)
			if err != nil {
				return nil, fmt.Errorf("bad number %q", string(rs[i:j]))
			}
			out = append(out, token{kind: tokNumber, num: n, text: string(rs[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i + 1
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '_' || rs[j] == '.') {
				j++
			}
			word := string(rs[i:j])
			switch word {
			case "true", "false":
				out = append(out, token{kind: tokBool, text: word})
			case "null", "nil":
				out = append(out, token{kind: tokNull})
			default:
				out = append(out, token{kind: tokPath, text: word})
			}
			i = j
		default:
			return nil, fmt.Errorf("unexpected %q at %d", r, i)
		}
	}
	return append(out, token{kind: tokEOF}), nil
}

type exprParser struct {
	toks []token
	pos  int
	ctx  render.Context
}

// EvalExpression evaluates a conditional expression against ctx.
func EvalExpression(src string, ctx render.Context) (bool, error) {
	toks, err := tokenize(src)
	if err != nil {
		return false, err
	}
	p := &exprParser{toks: toks, ctx: ctx}
	v, err := p.or()
	if err != nil {
		return false, err
	}
	if p.peek().kind != tokEOF {
		return false, fmt.Errorf("unexpected trailing input")
	}
	return truthy(v), nil
}

func (p *exprParser) peek() token { return p.toks[p.pos] }

func (p *exprParser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// Both sides are always evaluated so syntax errors surface regardless of values.
func (p *exprParser) or() (any, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = truthy(left) || truthy(right)
	}
	return left, nil
}

func (p *exprParser) and() (any, error) {
	left, err := p.comparison()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.comparison()
		if err != nil {
			return nil, err
		}
		left = truthy(left) && truthy(right)
	}
	return left, nil
}

func (p *exprParser) comparison() (any, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokOp {
		return left, nil
	}
	op := p.next().text
	right, err := p.unary()
	if err != nil {
		return nil, err
	}
	return compareValues(left, op, right), nil
}

func (p *exprParser) unary() (any, error) {
	if p.peek().kind == tokNot {
		p.next()
		v, err := p.unary()
		if err != nil {
			return nil, err
		}
		return !truthy(v), nil
	}
	return p.primary()
}

func (p *exprParser) primary() (any, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		v, err := p.or()
		if err != nil {
			return nil, err
		}
		if p.next().kind != tokRParen {
			return nil, fmt.Errorf("missing )")
		}
		return v, nil
	case tokNumber:
		return t.num, nil
	case tokString:
		return t.text, nil
	case tokBool:
		return t.text == "true", nil
	case tokNull:
		return nil, nil
	case tokPath:
		v, _ := p.ctx.Lookup(t.text)
		return v, nil
	}
	return nil, fmt.Errorf("unexpected token")
}

func compareValues(left any, op string, right any) bool {
	if left == nil || right == nil {
		switch op {
		case "==":
			return left == nil && right == nil
		case "!=":
			return (left == nil) != (right == nil)
		}
		return false
	}

	if lb, ok := left.(bool); ok {
		rb, ok := render.Bool(right)
		if !ok {
			return op == "!="
		}
		switch op {
		case "==":
			return lb == rb
		case "!=":
			return lb != rb
		}
		return false
	}

	lf, lok := render.Number(left)
	rf, rok := render.Number(right)
	if lok && rok {
		switch op {
		case "==":
			return lf == rf
		case "!=":
			return lf != rf
		case ">":
			return lf > rf
		case ">=":
			return lf >= rf
		case "<":
			return lf < rf
		case "<=":
			return lf <= rf
		}
		return false
	}

	ls, rs := render.Stringify(left), render.Stringify(right)
	switch op {
	case "==":
		return strings.EqualFold(ls, rs)
	case "!=":
		return !strings.EqualFold(ls, rs)
	case ">":
		return ls > rs
	case ">=":
		return ls >= rs
	case "<":
		return ls < rs
	case "<=":
		return ls <= rs
	}
	return false
}

func truthy(v any) bool {
	switch typed := v.(type) {
	case nil:
		return false
	case bool:
		return typed
	case string:
		return typed != "" && !strings.EqualFold(typed, "false")
	case []any:
		return len(typed) > 0
	case map[string]any:
		return len(typed) > 0
	}
	if f, ok := render.Number(v); ok {
		return f != 0
	}
	return true
}
