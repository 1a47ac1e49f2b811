package mlt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"
)

// HTML marks a string as pre-rendered safe markup that escaped interpolation
// must not escape again.
type HTML string

// execSignal propagates @break/@continue through nested op lists.
type execSignal int

const (
	sigNone execSignal = iota
	sigBreak
	sigContinue
)

type executor struct {
	eng   *Engine
	scope *Scope
}

// run executes ops into buf. The returned signal carries loop control along
// with the remaining level count.
func (x *executor) run(ops []Op, buf *bytes.Buffer) (execSignal, int, error) {
	for i := range ops {
		op := &ops[i]
		switch op.Kind {
		case OpText:
			buf.WriteString(op.Text)
		case OpEcho:
			v, err := x.eng.evaluator.Eval(op.Expr, x.scope)
			if err != nil {
				return sigNone, 0, err
			}
			out, err := echoValue(v, true)
			if err != nil {
				return sigNone, 0, err
			}
			buf.WriteString(out)
		case OpEchoRaw:
			v, err := x.eng.evaluator.Eval(op.Expr, x.scope)
			if err != nil {
				return sigNone, 0, err
			}
			out, err := echoValue(v, false)
			if err != nil {
				return sigNone, 0, err
			}
			buf.WriteString(out)
		case OpIf:
			sig, lv, err := x.runIf(op, buf)
			if sig != sigNone || err != nil {
				return sig, lv, err
			}
		case OpForeach:
			sig, lv, err := x.runForeach(op, buf)
			if sig != sigNone || err != nil {
				return sig, lv, err
			}
		case OpFor:
			sig, lv, err := x.runFor(op, buf)
			if sig != sigNone || err != nil {
				return sig, lv, err
			}
		case OpWhile:
			sig, lv, err := x.runWhile(op, buf)
			if sig != sigNone || err != nil {
				return sig, lv, err
			}
		case OpBreak:
			return sigBreak, op.Level, nil
		case OpContinue:
			return sigContinue, op.Level, nil
		case OpInclude:
			if err := x.runInclude(op, buf); err != nil {
				return sigNone, 0, err
			}
		case OpComponent:
			if err := x.runComponent(op, buf); err != nil {
				return sigNone, 0, err
			}
		case OpBoolAttr:
			v, err := x.eng.evaluator.Eval(op.Expr, x.scope)
			if err != nil {
				return sigNone, 0, err
			}
			b, err := truthyVal(v)
			if err != nil {
				return sigNone, 0, err
			}
			if b {
				buf.WriteString(op.Name)
			}
		case OpJSON:
			if err := x.runJSON(op, buf); err != nil {
				return sigNone, 0, err
			}
		case OpHelperIf:
			sig, lv, err := x.runHelperIf(op, buf)
			if sig != sigNone || err != nil {
				return sig, lv, err
			}
		default:
			return sigNone, 0, fmt.Errorf("unknown op kind %q", op.Kind)
		}
	}
	return sigNone, 0, nil
}

func (x *executor) runIf(op *Op, buf *bytes.Buffer) (execSignal, int, error) {
	for i := range op.Branches {
		v, err := x.eng.evaluator.Eval(op.Branches[i].Cond, x.scope)
		if err != nil {
			return sigNone, 0, err
		}
		b, err := truthyVal(v)
		if err != nil {
			return sigNone, 0, err
		}
		if b {
			return x.run(op.Branches[i].Body, buf)
		}
	}
	if op.Else != nil {
		return x.run(op.Else, buf)
	}
	return sigNone, 0, nil
}

// loopStep translates a body signal into (stop-loop, propagate) terms.
func loopStep(sig execSignal, level int) (stop bool, propagate execSignal, propagateLevel int) {
	switch sig {
	case sigBreak:
		if level > 1 {
			return true, sigBreak, level - 1
		}
		return true, sigNone, 0
	case sigContinue:
		if level > 1 {
			return true, sigContinue, level - 1
		}
		return false, sigNone, 0
	}
	return false, sigNone, 0
}

func (x *executor) runForeach(op *Op, buf *bytes.Buffer) (execSignal, int, error) {
	seq, err := x.eng.evaluator.Eval(op.Expr, x.scope)
	if err != nil {
		return sigNone, 0, err
	}
	iterate := func(key any, val any) (bool, execSignal, int, error) {
		if op.KeyVar != "" {
			x.scope.Set(op.KeyVar, key)
		}
		x.scope.Set(op.ValVar, val)
		sig, lv, err := x.run(op.Body, buf)
		if err != nil {
			return true, sigNone, 0, err
		}
		stop, prop, propLv := loopStep(sig, lv)
		return stop, prop, propLv, nil
	}

	switch s := seq.(type) {
	case nil:
		return sigNone, 0, nil
	case []any:
		for i, v := range s {
			stop, prop, lv, err := iterate(float64(i), v)
			if err != nil {
				return sigNone, 0, err
			}
			if stop {
				return prop, lv, nil
			}
		}
	case map[string]any:
		for _, k := range sortedKeys(s) {
			stop, prop, lv, err := iterate(k, s[k])
			if err != nil {
				return sigNone, 0, err
			}
			if stop {
				return prop, lv, nil
			}
		}
	case []string:
		for i, v := range s {
			stop, prop, lv, err := iterate(float64(i), v)
			if err != nil {
				return sigNone, 0, err
			}
			if stop {
				return prop, lv, nil
			}
		}
	default:
		return sigNone, 0, fmt.Errorf("cannot iterate %T", seq)
	}
	return sigNone, 0, nil
}

func (x *executor) assign(a *Assign) error {
	v, err := x.eng.evaluator.Eval(a.Expr, x.scope)
	if err != nil {
		return err
	}
	x.scope.Set(a.Var, v)
	return nil
}

// maxLoopIterations guards @for and @while against runaway conditions.
const maxLoopIterations = 1_000_000

func (x *executor) runFor(op *Op, buf *bytes.Buffer) (execSignal, int, error) {
	if err := x.assign(op.Init); err != nil {
		return sigNone, 0, err
	}
	for n := 0; ; n++ {
		if n >= maxLoopIterations {
			return sigNone, 0, fmt.Errorf("@for exceeded %d iterations", maxLoopIterations)
		}
		cond, err := x.eng.evaluator.Eval(op.Expr, x.scope)
		if err != nil {
			return sigNone, 0, err
		}
		cb, err := truthyVal(cond)
		if err != nil {
			return sigNone, 0, err
		}
		if !cb {
			return sigNone, 0, nil
		}
		sig, lv, err := x.run(op.Body, buf)
		if err != nil {
			return sigNone, 0, err
		}
		stop, prop, propLv := loopStep(sig, lv)
		if stop {
			return prop, propLv, nil
		}
		if err := x.assign(op.Post); err != nil {
			return sigNone, 0, err
		}
	}
}

func (x *executor) runWhile(op *Op, buf *bytes.Buffer) (execSignal, int, error) {
	for n := 0; ; n++ {
		if n >= maxLoopIterations {
			return sigNone, 0, fmt.Errorf("@while exceeded %d iterations", maxLoopIterations)
		}
		cond, err := x.eng.evaluator.Eval(op.Expr, x.scope)
		if err != nil {
			return sigNone, 0, err
		}
		cb, err := truthyVal(cond)
		if err != nil {
			return sigNone, 0, err
		}
		if !cb {
			return sigNone, 0, nil
		}
		sig, lv, err := x.run(op.Body, buf)
		if err != nil {
			return sigNone, 0, err
		}
		stop, prop, propLv := loopStep(sig, lv)
		if stop {
			return prop, propLv, nil
		}
	}
}

// runInclude renders another view in an inherited scope frame. The frame is
// popped on every exit path so a failing include cannot leak bindings.
func (x *executor) runInclude(op *Op, buf *bytes.Buffer) error {
	extra := map[string]any{}
	if op.Expr != "" {
		v, err := x.eng.evaluator.Eval(op.Expr, x.scope)
		if err != nil {
			return err
		}
		m, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("include %q data must be a map, got %T", op.Name, v)
		}
		extra = m
	}

	prog, err := x.eng.program(op.Name)
	if err != nil {
		return err
	}

	x.scope.PushInherited(extra)
	defer x.scope.Pop()

	var inner bytes.Buffer
	if _, _, err := x.run(prog.Ops, &inner); err != nil {
		return &RuntimeError{Name: op.Name, Cause: err}
	}
	buf.Write(inner.Bytes())
	return nil
}

// runComponent resolves and renders a component invocation: evaluate the
// attributes in the invoking scope, capture slot producers against that same
// scope, then execute the component inside an isolated frame built from its
// declared prop defaults overridden by the attributes.
func (x *executor) runComponent(op *Op, buf *bytes.Buffer) error {
	prog, err := x.eng.componentProgram(op.Name)
	if err != nil {
		return err
	}

	explicit := map[string]any{}
	order := make([]string, 0, len(op.Attrs))
	for i := range op.Attrs {
		attr := &op.Attrs[i]
		var v any
		switch attr.Kind {
		case "bool":
			v = true
		case "expr":
			v, err = x.eng.evaluator.Eval(Expression(attr.Value), x.scope)
			if err != nil {
				return err
			}
		case "interp":
			var vb bytes.Buffer
			if _, _, err := x.run(attr.Ops, &vb); err != nil {
				return err
			}
			v = vb.String()
		default:
			v = attr.Value
		}
		explicit[attr.Name] = v
		order = append(order, attr.Name)
	}

	// slot producers capture the scope at the definition site
	defScope := x.scope.Capture()
	slots := NewSlotMap()
	slots.Add(DefaultSlot, x.slotProducer(op.Body, defScope))
	for name, body := range op.Slots {
		slots.Add(name, x.slotProducer(body, defScope))
	}

	bag := NewAttributeBag()
	for _, name := range order {
		if _, declared := prog.Props[name]; !declared {
			bag.Set(name, explicit[name])
		}
	}

	x.scope.PushIsolated(explicit, prog.Props)
	defer x.scope.Pop()
	x.scope.Set("attributes", bag)
	x.scope.Set("slots", slots)
	x.scope.Set(DefaultSlot, slots.Default())
	for name := range op.Slots {
		x.scope.Set(name, slots.Get(name))
	}

	var inner bytes.Buffer
	if _, _, err := x.run(prog.Ops, &inner); err != nil {
		return &RuntimeError{Name: op.Name, Cause: err}
	}
	buf.Write(inner.Bytes())
	return nil
}

// slotProducer builds a deferred renderer for slot content over a captured
// scope.
func (x *executor) slotProducer(ops []Op, defScope *Scope) func() (string, error) {
	return func() (string, error) {
		sx := &executor{eng: x.eng, scope: defScope}
		var buf bytes.Buffer
		if _, _, err := sx.run(ops, &buf); err != nil {
			return "", err
		}
		return buf.String(), nil
	}
}

func (x *executor) runJSON(op *Op, buf *bytes.Buffer) error {
	v, err := x.eng.evaluator.Eval(op.Expr, x.scope)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	enc := json.NewEncoder(&out)
	enc.SetEscapeHTML(op.Name == "js")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("@%s: %w", op.Name, err)
	}
	buf.WriteString(strings.TrimRight(out.String(), "\n"))
	return nil
}

// runHelperIf guards a region behind a host helper: @auth/@guest consult the
// authentication predicate, @env compares the environment name, @error checks
// a validation message and binds it as "message" for the body.
func (x *executor) runHelperIf(op *Op, buf *bytes.Buffer) (execSignal, int, error) {
	call := func(name string, args ...any) (any, error) {
		fn, ok := x.eng.funcs[name]
		if !ok {
			return nil, fmt.Errorf("helper %q is not registered", name)
		}
		return fn(args...)
	}

	switch op.Name {
	case "auth", "guest":
		v, err := call("auth_check")
		if err != nil {
			return sigNone, 0, err
		}
		if truthy(v) == (op.Name == "auth") {
			return x.run(op.Body, buf)
		}
	case "env":
		want, err := x.eng.evaluator.Eval(op.Expr, x.scope)
		if err != nil {
			return sigNone, 0, err
		}
		got, err := call("env")
		if err != nil {
			return sigNone, 0, err
		}
		if stringify(got) == stringify(want) {
			return x.run(op.Body, buf)
		}
	case "error":
		field, err := x.eng.evaluator.Eval(op.Expr, x.scope)
		if err != nil {
			return sigNone, 0, err
		}
		msg, err := call("error_message", field)
		if err != nil {
			return sigNone, 0, err
		}
		if stringify(msg) != "" {
			x.scope.PushInherited(map[string]any{"message": msg})
			defer x.scope.Pop()
			return x.run(op.Body, buf)
		}
	default:
		return sigNone, 0, fmt.Errorf("unknown helper region %q", op.Name)
	}
	return sigNone, 0, nil
}

// echoValue renders a value for output. Escaped echo HTML-escapes plain
// values but passes through content that is already safe markup: rendered
// slots, attribute bags and HTML-typed strings. Nil renders as empty.
func echoValue(v any, escape bool) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case *Slot:
		if t == nil {
			return "", nil
		}
		return t.Render()
	case *AttributeBag:
		return t.String(), nil
	case HTML:
		return string(t), nil
	}
	s := stringify(v)
	if escape {
		s = html.EscapeString(s)
	}
	return s, nil
}

// sortedKeys keeps map iteration deterministic for rendering.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
