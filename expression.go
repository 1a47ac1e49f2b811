package mlt

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"unicode"
)

// Expression is the opaque source text of a template expression. The core
// pipeline never interprets it; an Evaluator does.
type Expression string

// Evaluator evaluates an expression against the top frame of a scope.
type Evaluator interface {
	Eval(expr Expression, scope *Scope) (any, error)
}

// FuncMap maps helper names to callables available inside expressions.
type FuncMap map[string]func(args ...any) (any, error)

// exprEvaluator is the default Evaluator: a small expression language with
// identifiers, dot/index access, literals (string, number, bool, null, list,
// map), unary/binary operators, ternary and function calls. Parsed trees are
// cached per source string.
type exprEvaluator struct {
	funcs FuncMap

	mu    sync.RWMutex
	cache map[Expression]exprNode
}

// NewEvaluator creates the default expression evaluator with the given
// function table.
func NewEvaluator(funcs FuncMap) Evaluator {
	return &exprEvaluator{funcs: funcs, cache: map[Expression]exprNode{}}
}

func (e *exprEvaluator) Eval(expr Expression, scope *Scope) (any, error) {
	node, err := e.parse(expr)
	if err != nil {
		return nil, err
	}
	v, err := node.eval(scope, e.funcs)
	if err != nil {
		return nil, fmt.Errorf("evaluating %q: %w", string(expr), err)
	}
	return v, nil
}

func (e *exprEvaluator) parse(expr Expression) (exprNode, error) {
	e.mu.RLock()
	node, ok := e.cache[expr]
	e.mu.RUnlock()
	if ok {
		return node, nil
	}
	toks, err := tokenizeExpr(string(expr))
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", string(expr), err)
	}
	p := &exprParser{toks: toks}
	node, err = p.parseTernary()
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", string(expr), err)
	}
	if p.peek().kind != tokEOF {
		return nil, fmt.Errorf("parsing %q: unexpected %q", string(expr), p.peek().text)
	}
	e.mu.Lock()
	e.cache[expr] = node
	e.mu.Unlock()
	return node, nil
}

// tokens

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokNumber
	tokString
	tokPunct
)

type exprToken struct {
	kind tokKind
	text string
}

func tokenizeExpr(src string) ([]exprToken, error) {
	var toks []exprToken
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			var sb strings.Builder
			for j < len(src) && src[j] != quote {
				if src[j] == '\\' && j+1 < len(src) {
					j++
				}
				sb.WriteByte(src[j])
				j++
			}
			if j >= len(src) {
				return nil, fmt.Errorf("unterminated string literal")
			}
			toks = append(toks, exprToken{tokString, sb.String()})
			i = j + 1
		case c >= '0' && c <= '9':
			j := i
			for j < len(src) && (src[j] >= '0' && src[j] <= '9' || src[j] == '.') {
				j++
			}
			toks = append(toks, exprToken{tokNumber, src[i:j]})
			i = j
		case c == '_' || unicode.IsLetter(rune(c)):
			j := i
			for j < len(src) && (src[j] == '_' || unicode.IsLetter(rune(src[j])) || unicode.IsDigit(rune(src[j]))) {
				j++
			}
			toks = append(toks, exprToken{tokIdent, src[i:j]})
			i = j
		default:
			// longest operators first
			for _, op := range []string{"==", "!=", "<=", ">=", "&&", "||", "??"} {
				if strings.HasPrefix(src[i:], op) {
					toks = append(toks, exprToken{tokPunct, op})
					i += len(op)
					goto next
				}
			}
			if strings.ContainsRune("+-*/%<>!?:.,()[]{}", rune(c)) {
				toks = append(toks, exprToken{tokPunct, string(c)})
				i++
				goto next
			}
			return nil, fmt.Errorf("unexpected character %q", string(c))
		next:
		}
	}
	toks = append(toks, exprToken{kind: tokEOF})
	return toks, nil
}

// parser

type exprParser struct {
	toks []exprToken
	pos  int
}

func (p *exprParser) peek() exprToken {
	return p.toks[p.pos]
}

func (p *exprParser) next() exprToken {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *exprParser) acceptPunct(text string) bool {
	if t := p.peek(); t.kind == tokPunct && t.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *exprParser) expectPunct(text string) error {
	if !p.acceptPunct(text) {
		return fmt.Errorf("expected %q, got %q", text, p.peek().text)
	}
	return nil
}

func (p *exprParser) parseTernary() (exprNode, error) {
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.acceptPunct("?") {
		return cond, nil
	}
	then, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(":"); err != nil {
		return nil, err
	}
	alt, err := p.parseTernary()
	if err != nil {
		return nil, err
	}
	return &ternaryNode{cond, then, alt}, nil
}

func (p *exprParser) parseBinary(ops []string, sub func() (exprNode, error)) (exprNode, error) {
	left, err := sub()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokPunct {
			return left, nil
		}
		matched := ""
		for _, op := range ops {
			if t.text == op {
				matched = op
				break
			}
		}
		if matched == "" {
			return left, nil
		}
		p.next()
		right, err := sub()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{matched, left, right}
	}
}

func (p *exprParser) parseOr() (exprNode, error) {
	return p.parseBinary([]string{"||", "??"}, p.parseAnd)
}

func (p *exprParser) parseAnd() (exprNode, error) {
	return p.parseBinary([]string{"&&"}, p.parseEquality)
}

func (p *exprParser) parseEquality() (exprNode, error) {
	return p.parseBinary([]string{"==", "!="}, p.parseComparison)
}

func (p *exprParser) parseComparison() (exprNode, error) {
	return p.parseBinary([]string{"<=", ">=", "<", ">"}, p.parseAdditive)
}

func (p *exprParser) parseAdditive() (exprNode, error) {
	return p.parseBinary([]string{"+", "-"}, p.parseMultiplicative)
}

func (p *exprParser) parseMultiplicative() (exprNode, error) {
	return p.parseBinary([]string{"*", "/", "%"}, p.parseUnary)
}

func (p *exprParser) parseUnary() (exprNode, error) {
	if t := p.peek(); t.kind == tokPunct && (t.text == "!" || t.text == "-") {
		p.next()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{t.text, operand}, nil
	}
	return p.parsePostfix()
}

func (p *exprParser) parsePostfix() (exprNode, error) {
	node, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.acceptPunct("."):
			t := p.next()
			if t.kind != tokIdent {
				return nil, fmt.Errorf("expected field name after '.', got %q", t.text)
			}
			node = &fieldNode{node, t.text}
		case p.acceptPunct("["):
			idx, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct("]"); err != nil {
				return nil, err
			}
			node = &indexNode{node, idx}
		default:
			return node, nil
		}
	}
}

func (p *exprParser) parsePrimary() (exprNode, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, fmt.Errorf("bad number %q", t.text)
		}
		return &litNode{f}, nil
	case tokString:
		return &litNode{t.text}, nil
	case tokIdent:
		switch t.text {
		case "true":
			return &litNode{true}, nil
		case "false":
			return &litNode{false}, nil
		case "null", "nil":
			return &litNode{nil}, nil
		}
		if p.acceptPunct("(") {
			var args []exprNode
			if !p.acceptPunct(")") {
				for {
					arg, err := p.parseTernary()
					if err != nil {
						return nil, err
					}
					args = append(args, arg)
					if p.acceptPunct(")") {
						break
					}
					if err := p.expectPunct(","); err != nil {
						return nil, err
					}
				}
			}
			return &callNode{t.text, args}, nil
		}
		return &varNode{t.text}, nil
	case tokPunct:
		switch t.text {
		case "(":
			node, err := p.parseTernary()
			if err != nil {
				return nil, err
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return node, nil
		case "[":
			var items []exprNode
			if !p.acceptPunct("]") {
				for {
					item, err := p.parseTernary()
					if err != nil {
						return nil, err
					}
					items = append(items, item)
					if p.acceptPunct("]") {
						break
					}
					if err := p.expectPunct(","); err != nil {
						return nil, err
					}
				}
			}
			return &listNode{items}, nil
		case "{":
			var keys []string
			var vals []exprNode
			if !p.acceptPunct("}") {
				for {
					kt := p.next()
					if kt.kind != tokIdent && kt.kind != tokString {
						return nil, fmt.Errorf("expected map key, got %q", kt.text)
					}
					if err := p.expectPunct(":"); err != nil {
						return nil, err
					}
					v, err := p.parseTernary()
					if err != nil {
						return nil, err
					}
					keys = append(keys, kt.text)
					vals = append(vals, v)
					if p.acceptPunct("}") {
						break
					}
					if err := p.expectPunct(","); err != nil {
						return nil, err
					}
				}
			}
			return &mapNode{keys, vals}, nil
		}
	}
	return nil, fmt.Errorf("unexpected token %q", t.text)
}

// nodes

type exprNode interface {
	eval(scope *Scope, funcs FuncMap) (any, error)
}

type litNode struct {
	v any
}

func (n *litNode) eval(*Scope, FuncMap) (any, error) {
	return n.v, nil
}

type varNode struct {
	name string
}

func (n *varNode) eval(scope *Scope, _ FuncMap) (any, error) {
	v, _ := scope.Lookup(n.name)
	return v, nil
}

type fieldNode struct {
	obj   exprNode
	field string
}

func (n *fieldNode) eval(scope *Scope, funcs FuncMap) (any, error) {
	obj, err := n.obj.eval(scope, funcs)
	if err != nil {
		return nil, err
	}
	return accessField(obj, n.field)
}

type indexNode struct {
	obj exprNode
	idx exprNode
}

func (n *indexNode) eval(scope *Scope, funcs FuncMap) (any, error) {
	obj, err := n.obj.eval(scope, funcs)
	if err != nil {
		return nil, err
	}
	idx, err := n.idx.eval(scope, funcs)
	if err != nil {
		return nil, err
	}
	switch o := obj.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return o[stringify(idx)], nil
	case []any:
		i, ok := toNumber(idx)
		if !ok {
			return nil, fmt.Errorf("non-numeric list index %v", idx)
		}
		if int(i) < 0 || int(i) >= len(o) {
			return nil, nil
		}
		return o[int(i)], nil
	}
	return accessField(obj, stringify(idx))
}

type callNode struct {
	name string
	args []exprNode
}

func (n *callNode) eval(scope *Scope, funcs FuncMap) (any, error) {
	fn, ok := funcs[n.name]
	if !ok {
		return nil, fmt.Errorf("unknown function %q", n.name)
	}
	args := make([]any, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(scope, funcs)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	return fn(args...)
}

type unaryNode struct {
	op      string
	operand exprNode
}

func (n *unaryNode) eval(scope *Scope, funcs FuncMap) (any, error) {
	v, err := n.operand.eval(scope, funcs)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "!":
		b, err := truthyVal(v)
		if err != nil {
			return nil, err
		}
		return !b, nil
	case "-":
		f, ok := toNumber(v)
		if !ok {
			return nil, fmt.Errorf("cannot negate %T", v)
		}
		return -f, nil
	}
	return nil, fmt.Errorf("unknown unary operator %q", n.op)
}

type binaryNode struct {
	op    string
	left  exprNode
	right exprNode
}

func (n *binaryNode) eval(scope *Scope, funcs FuncMap) (any, error) {
	// short-circuit forms first
	switch n.op {
	case "&&":
		l, err := n.left.eval(scope, funcs)
		if err != nil {
			return nil, err
		}
		lb, err := truthyVal(l)
		if err != nil {
			return nil, err
		}
		if !lb {
			return false, nil
		}
		r, err := n.right.eval(scope, funcs)
		if err != nil {
			return nil, err
		}
		return truthyVal(r)
	case "||":
		l, err := n.left.eval(scope, funcs)
		if err != nil {
			return nil, err
		}
		lb, err := truthyVal(l)
		if err != nil {
			return nil, err
		}
		if lb {
			return true, nil
		}
		r, err := n.right.eval(scope, funcs)
		if err != nil {
			return nil, err
		}
		return truthyVal(r)
	case "??":
		l, err := n.left.eval(scope, funcs)
		if err != nil {
			return nil, err
		}
		if l != nil {
			return l, nil
		}
		return n.right.eval(scope, funcs)
	}

	l, err := n.left.eval(scope, funcs)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(scope, funcs)
	if err != nil {
		return nil, err
	}
	return evalBinary(n.op, l, r)
}

func evalBinary(op string, l, r any) (any, error) {
	lf, lok := toNumber(l)
	rf, rok := toNumber(r)
	numeric := lok && rok

	switch op {
	case "+":
		if numeric {
			return lf + rf, nil
		}
		if _, ok := l.(string); ok {
			return stringify(l) + stringify(r), nil
		}
		if _, ok := r.(string); ok {
			return stringify(l) + stringify(r), nil
		}
	case "-", "*", "/", "%":
		if !numeric {
			return nil, fmt.Errorf("operator %q needs numbers, got %T and %T", op, l, r)
		}
		switch op {
		case "-":
			return lf - rf, nil
		case "*":
			return lf * rf, nil
		case "/":
			if rf == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return lf / rf, nil
		case "%":
			if int64(rf) == 0 {
				return nil, fmt.Errorf("division by zero")
			}
			return float64(int64(lf) % int64(rf)), nil
		}
	case "==":
		return looseEqual(l, r), nil
	case "!=":
		return !looseEqual(l, r), nil
	case "<", "<=", ">", ">=":
		if numeric {
			switch op {
			case "<":
				return lf < rf, nil
			case "<=":
				return lf <= rf, nil
			case ">":
				return lf > rf, nil
			case ">=":
				return lf >= rf, nil
			}
		}
		ls, lsok := l.(string)
		rs, rsok := r.(string)
		if lsok && rsok {
			switch op {
			case "<":
				return ls < rs, nil
			case "<=":
				return ls <= rs, nil
			case ">":
				return ls > rs, nil
			case ">=":
				return ls >= rs, nil
			}
		}
		return nil, fmt.Errorf("cannot compare %T with %T", l, r)
	}
	return nil, fmt.Errorf("cannot apply %q to %T and %T", op, l, r)
}

type ternaryNode struct {
	cond exprNode
	then exprNode
	alt  exprNode
}

func (n *ternaryNode) eval(scope *Scope, funcs FuncMap) (any, error) {
	c, err := n.cond.eval(scope, funcs)
	if err != nil {
		return nil, err
	}
	cb, err := truthyVal(c)
	if err != nil {
		return nil, err
	}
	if cb {
		return n.then.eval(scope, funcs)
	}
	return n.alt.eval(scope, funcs)
}

type listNode struct {
	items []exprNode
}

func (n *listNode) eval(scope *Scope, funcs FuncMap) (any, error) {
	out := make([]any, len(n.items))
	for i, item := range n.items {
		v, err := item.eval(scope, funcs)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type mapNode struct {
	keys []string
	vals []exprNode
}

func (n *mapNode) eval(scope *Scope, funcs FuncMap) (any, error) {
	out := make(map[string]any, len(n.keys))
	for i, k := range n.keys {
		v, err := n.vals[i].eval(scope, funcs)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// value helpers

func accessField(obj any, field string) (any, error) {
	switch o := obj.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return o[field], nil
	case Frame:
		return o[field], nil
	case *AttributeBag:
		return o.Get(field), nil
	case *SlotMap:
		s := o.Get(field)
		if s == nil {
			return nil, nil
		}
		return s, nil
	}
	rv := reflect.ValueOf(obj)
	if rv.Kind() == reflect.Pointer {
		rv = rv.Elem()
	}
	if rv.Kind() == reflect.Struct {
		f := rv.FieldByName(field)
		if f.IsValid() && f.CanInterface() {
			return f.Interface(), nil
		}
	}
	if rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String {
		v := rv.MapIndex(reflect.ValueOf(field))
		if v.IsValid() {
			return v.Interface(), nil
		}
		return nil, nil
	}
	return nil, nil
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	}
	return 0, false
}

func looseEqual(l, r any) bool {
	if lf, ok := toNumber(l); ok {
		if rf, ok := toNumber(r); ok {
			return lf == rf
		}
	}
	return reflect.DeepEqual(l, r)
}

// truthyVal is truthy with slot producer failures surfaced instead of read
// as emptiness. Conditional evaluation goes through here so a failing slot
// aborts the render rather than picking the false branch.
func truthyVal(v any) (bool, error) {
	if s, ok := v.(*Slot); ok && s != nil {
		out, err := s.Render()
		if err != nil {
			return false, err
		}
		return strings.TrimSpace(out) != "", nil
	}
	return truthy(v), nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case *Slot:
		out, err := t.Render()
		return err == nil && strings.TrimSpace(out) != ""
	}
	if f, ok := toNumber(v); ok {
		return f != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	}
	return true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case *AttributeBag:
		return t.String()
	}
	return fmt.Sprint(v)
}
