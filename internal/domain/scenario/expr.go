package scenario

import (
	"fmt"
	"strconv"
	"strings"
)

// The condition language is a closed grammar evaluated over collected
// data. Operators: == != > < >= <= contains in exists and or not.
// Atoms: variable references, quoted strings, numbers, true/false, null
// and bracketed lists. Evaluation is short-circuit; comparisons apply
// best-effort numeric coercion.
//
// Parse errors are load-time fatal (scenario activation rejects them).
// Runtime evaluation errors — a missing variable, an impossible
// comparison — evaluate to false and surface through EvalError so the
// caller can log a condition error without failing the dialog.

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokOp     // == != > < >= <=
	tokLParen // (
	tokRParen // )
	tokLBrack // [
	tokRBrack // ]
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

// EvalError marks a runtime evaluation failure. Conditions that raise it
// are treated as false.
type EvalError struct {
	Expr   string
	Reason string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("condition %q: %s", e.Expr, e.Reason)
}

// Expr is a parsed condition, reusable across evaluations.
type Expr struct {
	source string
	root   node
}

// Source returns the original expression text.
func (e *Expr) Source() string { return e.source }

// ParseExpr compiles a condition. A nil error guarantees Eval never
// returns a parse-shaped failure, only runtime EvalErrors.
func ParseExpr(source string) (*Expr, error) {
	toks, err := tokenize(source)
	if err != nil {
		return nil, err
	}
	p := &parser{source: source, toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("condition %q: unexpected %q at offset %d", source, p.peek().text, p.peek().pos)
	}
	return &Expr{source: source, root: root}, nil
}

// Eval evaluates the condition against collected data. The boolean result
// is false whenever err is non-nil.
func (e *Expr) Eval(data map[string]any) (bool, error) {
	v, err := e.root.eval(e, data)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

func (e *Expr) fail(reason string) error {
	return &EvalError{Expr: e.source, Reason: reason}
}

// --- Tokenizer ---

func tokenize(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "(", i})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")", i})
			i++
		case c == '[':
			toks = append(toks, token{tokLBrack, "[", i})
			i++
		case c == ']':
			toks = append(toks, token{tokRBrack, "]", i})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ",", i})
			i++
		case c == '=' || c == '!' || c == '<' || c == '>':
			start := i
			i++
			if i < len(src) && src[i] == '=' {
				i++
			}
			op := src[start:i]
			if op == "=" || op == "!" {
				return nil, fmt.Errorf("condition %q: invalid operator %q at offset %d", src, op, start)
			}
			toks = append(toks, token{tokOp, op, start})
		case c == '\'' || c == '"':
			quote := c
			start := i
			i++
			var sb strings.Builder
			closed := false
			for i < len(src) {
				if src[i] == '\\' && i+1 < len(src) {
					sb.WriteByte(src[i+1])
					i += 2
					continue
				}
				if src[i] == quote {
					closed = true
					i++
					break
				}
				sb.WriteByte(src[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("condition %q: unterminated string at offset %d", src, start)
			}
			toks = append(toks, token{tokString, sb.String(), start})
		case c >= '0' && c <= '9' || c == '-' && i+1 < len(src) && src[i+1] >= '0' && src[i+1] <= '9':
			start := i
			i++
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			toks = append(toks, token{tokNumber, src[start:i], start})
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			toks = append(toks, token{tokIdent, src[start:i], start})
		default:
			return nil, fmt.Errorf("condition %q: unexpected character %q at offset %d", src, string(c), i)
		}
	}
	toks = append(toks, token{tokEOF, "", len(src)})
	return toks, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9' || c == '.'
}

// --- Parser (recursive descent, precedence: or < and < not < cmp) ---

type parser struct {
	source string
	toks   []token
	pos    int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errAt(t token, msg string) error {
	return fmt.Errorf("condition %q: %s at offset %d", p.source, msg, t.pos)
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokIdent && p.peek().text == "or" {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "or", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokIdent && p.peek().text == "and" {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: "and", left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.peek().kind == tokIdent && p.peek().text == "not" {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}
	return p.parseCmp()
}

func (p *parser) parseCmp() (node, error) {
	left, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	t := p.peek()
	if t.kind == tokOp || t.kind == tokIdent && (t.text == "contains" || t.text == "in") {
		p.next()
		right, err := p.parsePrimary()
		if err != nil {
			return nil, err
		}
		return &binaryNode{op: t.text, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if close := p.next(); close.kind != tokRParen {
			return nil, p.errAt(close, "expected ')'")
		}
		return inner, nil
	case tokLBrack:
		var items []node
		if p.peek().kind != tokRBrack {
			for {
				item, err := p.parsePrimary()
				if err != nil {
					return nil, err
				}
				items = append(items, item)
				if p.peek().kind != tokComma {
					break
				}
				p.next()
			}
		}
		if close := p.next(); close.kind != tokRBrack {
			return nil, p.errAt(close, "expected ']'")
		}
		return &listNode{items: items}, nil
	case tokString:
		return &literalNode{value: t.text}, nil
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errAt(t, "invalid number")
		}
		return &literalNode{value: f}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return &literalNode{value: true}, nil
		case "false":
			return &literalNode{value: false}, nil
		case "null":
			return &literalNode{value: nil}, nil
		case "exists":
			name := p.next()
			if name.kind != tokIdent {
				return nil, p.errAt(name, "exists requires a variable name")
			}
			return &existsNode{name: name.text}, nil
		case "and", "or", "not", "contains", "in":
			return nil, p.errAt(t, fmt.Sprintf("unexpected keyword %q", t.text))
		}
		return &varNode{name: t.text}, nil
	case tokEOF:
		return nil, p.errAt(t, "unexpected end of expression")
	default:
		return nil, p.errAt(t, fmt.Sprintf("unexpected %q", t.text))
	}
}

// --- AST evaluation ---

type node interface {
	eval(e *Expr, data map[string]any) (any, error)
}

type literalNode struct{ value any }

func (n *literalNode) eval(*Expr, map[string]any) (any, error) { return n.value, nil }

type listNode struct{ items []node }

func (n *listNode) eval(e *Expr, data map[string]any) (any, error) {
	out := make([]any, 0, len(n.items))
	for _, item := range n.items {
		v, err := item.eval(e, data)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type varNode struct{ name string }

func (n *varNode) eval(e *Expr, data map[string]any) (any, error) {
	v, ok := data[n.name]
	if !ok {
		return nil, e.fail("undefined variable " + n.name)
	}
	return v, nil
}

type existsNode struct{ name string }

func (n *existsNode) eval(_ *Expr, data map[string]any) (any, error) {
	v, ok := data[n.name]
	if !ok {
		return false, nil
	}
	return !isEmpty(v), nil
}

type notNode struct{ inner node }

func (n *notNode) eval(e *Expr, data map[string]any) (any, error) {
	v, err := n.inner.eval(e, data)
	if err != nil {
		return nil, err
	}
	return !truthy(v), nil
}

type binaryNode struct {
	op          string
	left, right node
}

func (n *binaryNode) eval(e *Expr, data map[string]any) (any, error) {
	// Short-circuit boolean operators.
	switch n.op {
	case "and":
		lv, err := n.left.eval(e, data)
		if err != nil {
			return nil, err
		}
		if !truthy(lv) {
			return false, nil
		}
		rv, err := n.right.eval(e, data)
		if err != nil {
			return nil, err
		}
		return truthy(rv), nil
	case "or":
		lv, err := n.left.eval(e, data)
		if err != nil {
			return nil, err
		}
		if truthy(lv) {
			return true, nil
		}
		rv, err := n.right.eval(e, data)
		if err != nil {
			return nil, err
		}
		return truthy(rv), nil
	}

	lv, err := n.left.eval(e, data)
	if err != nil {
		return nil, err
	}
	rv, err := n.right.eval(e, data)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return valuesEqual(lv, rv), nil
	case "!=":
		return !valuesEqual(lv, rv), nil
	case ">", "<", ">=", "<=":
		return compareOrdered(e, n.op, lv, rv)
	case "contains":
		return containsValue(e, lv, rv)
	case "in":
		return containsValue(e, rv, lv)
	}
	return nil, e.fail("unknown operator " + n.op)
}

// --- Value semantics ---

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	default:
		return true
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	default:
		return false
	}
}

// asNumber coerces strings and bools to float64 on a best-effort basis.
func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func valuesEqual(a, b any) bool {
	if an, ok := asNumber(a); ok {
		if bn, ok := asNumber(b); ok {
			return an == bn
		}
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func compareOrdered(e *Expr, op string, a, b any) (any, error) {
	an, aok := asNumber(a)
	bn, bok := asNumber(b)
	if aok && bok {
		switch op {
		case ">":
			return an > bn, nil
		case "<":
			return an < bn, nil
		case ">=":
			return an >= bn, nil
		case "<=":
			return an <= bn, nil
		}
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		switch op {
		case ">":
			return as > bs, nil
		case "<":
			return as < bs, nil
		case ">=":
			return as >= bs, nil
		case "<=":
			return as <= bs, nil
		}
	}
	return nil, e.fail(fmt.Sprintf("cannot order %T %s %T", a, op, b))
}

func containsValue(e *Expr, haystack, needle any) (any, error) {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprintf("%v", needle)), nil
	case []any:
		for _, item := range h {
			if valuesEqual(item, needle) {
				return true, nil
			}
		}
		return false, nil
	default:
		return nil, e.fail(fmt.Sprintf("contains/in requires a string or list, got %T", haystack))
	}
}
