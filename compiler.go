package mlt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"
)

var (
	reComment  = regexp.MustCompile(`\{\{--[\s\S]*?--\}\}`)
	reVerbatim = regexp.MustCompile(`@verbatim\b([\s\S]*?)@endverbatim`)

	verbatimSeq atomic.Int64
)

// preprocessed is a template unit after comment stripping, verbatim
// protection and @props extraction, ready for directive rewriting.
type preprocessed struct {
	text      string
	propsExpr Expression
	protected map[string]string
}

// preprocess deletes comments, swaps @verbatim regions for opaque
// placeholders restored after compilation, and pulls out the @props
// declaration. Comments go first so their contents are never mistaken for
// live syntax.
func preprocess(name, src string) (*preprocessed, error) {
	out := &preprocessed{protected: map[string]string{}}
	src = reComment.ReplaceAllString(src, "")

	// placeholder keys are unique across units so a child's protected
	// regions survive being spliced into its parent layout; the '#'
	// delimiters keep directives adjacent to the region recognizable
	src = reVerbatim.ReplaceAllStringFunc(src, func(m string) string {
		sm := reVerbatim.FindStringSubmatch(m)
		key := fmt.Sprintf("#__mlt_verbatim_%d__#", verbatimSeq.Add(1))
		out.protected[key] = sm[1]
		return key
	})

	if idx := indexDirective(src, "@props"); idx >= 0 {
		open := idx + len("@props")
		end := matchParens(src, open)
		if end < 0 {
			return nil, compileErrf(name, "unterminated @props directive")
		}
		out.propsExpr = Expression(src[open+1 : end-1])
		src = src[:idx] + src[end:]
	}

	out.text = src
	return out, nil
}

// unit tokens

type unitToken struct {
	kind string // text | echo | rawecho | directive
	text string
	name string
	args string
}

// directives the compiler recognizes. A value of true means the directive
// takes a parenthesized argument list.
var knownDirectives = map[string]bool{
	"if": true, "elseif": true, "else": false, "endif": false,
	"foreach": true, "endforeach": false,
	"for": true, "endfor": false,
	"while": true, "endwhile": false,
	"break": false, "continue": false,
	"auth": false, "endauth": false,
	"guest": false, "endguest": false,
	"env": true, "endenv": false,
	"error": true, "enderror": false,
	"checked": true, "selected": true, "disabled": true,
	"required": true, "readonly": true,
	"json": true, "js": true,
	"method": true, "csrf": false,
	"__include": true, "__component": true, "__endcomponent": false,
	"__slot": true, "__endslot": false,
	// structural directives that should have been consumed by the rewriter;
	// reaching the compiler means the construct was malformed
	"section": true, "endsection": false, "yield": true,
	"extends": true, "slot": true, "endslot": false,
}

var strayDirectives = map[string]bool{
	"section": true, "endsection": true, "yield": true,
	"extends": true, "slot": true, "endslot": true,
}

// scanUnit splits intermediate text into text chunks, interpolation markers
// and directive tokens. Directive words not in the vocabulary (CSS @media,
// e-mail addresses) stay literal text.
func scanUnit(name, src string) ([]unitToken, error) {
	var toks []unitToken
	text := strings.Builder{}
	flush := func() {
		if text.Len() > 0 {
			toks = append(toks, unitToken{kind: "text", text: text.String()})
			text.Reset()
		}
	}

	// markerEnd is where the last consumed marker token ended, so a directive
	// directly after another directive or an interpolation still scans even
	// though the preceding source byte is a word character.
	markerEnd := -1
	i := 0
	for i < len(src) {
		switch {
		case strings.HasPrefix(src[i:], "{!!"):
			end := strings.Index(src[i+3:], "!!}")
			if end < 0 {
				return nil, compileErrf(name, "unterminated raw interpolation")
			}
			flush()
			toks = append(toks, unitToken{kind: "rawecho", text: strings.TrimSpace(src[i+3 : i+3+end])})
			i += 3 + end + 3
			markerEnd = i
		case strings.HasPrefix(src[i:], "{{"):
			end := strings.Index(src[i+2:], "}}")
			if end < 0 {
				return nil, compileErrf(name, "unterminated interpolation")
			}
			flush()
			toks = append(toks, unitToken{kind: "echo", text: strings.TrimSpace(src[i+2 : i+2+end])})
			i += 2 + end + 2
			markerEnd = i
		case src[i] == '@' && (i == 0 || i == markerEnd || !isWordByte(src[i-1]) ||
			i+1 < len(src) && src[i+1] == '_'):
			// the trailing clause admits internal @__ markers, which the
			// rewriter splices directly after arbitrary body text
			j := i + 1
			for j < len(src) && isIdentByte(src[j]) {
				j++
			}
			word := src[i+1 : j]
			wantsArgs, known := knownDirectives[word]
			if !known && strings.HasPrefix(word, "__") {
				// end markers spliced by the rewriter sit flush against the
				// following body text, so the maximal run can overshoot one
				for k := len(word) - 1; k > 2; k-- {
					if wa, ok := knownDirectives[word[:k]]; ok {
						word, wantsArgs, known = word[:k], wa, true
						j = i + 1 + k
						break
					}
				}
			}
			if !known {
				text.WriteByte(src[i])
				i++
				continue
			}
			optionalArgs := word == "break" || word == "continue"
			args := ""
			end := j
			if wantsArgs || optionalArgs && j < len(src) && src[j] == '(' {
				if j >= len(src) || src[j] != '(' {
					return nil, compileErrf(name, "directive @%s requires an argument list", word)
				}
				argsEnd := matchParens(src, j)
				if argsEnd < 0 {
					return nil, compileErrf(name, "unbalanced parentheses in @%s arguments", word)
				}
				args = src[j+1 : argsEnd-1]
				end = argsEnd
			}
			flush()
			toks = append(toks, unitToken{kind: "directive", name: word, args: args})
			i = end
			markerEnd = i
		default:
			text.WriteByte(src[i])
			i++
		}
	}
	flush()
	return toks, nil
}

// op parser

type opParser struct {
	name string
	toks []unitToken
	pos  int
}

func compileOps(name, src string) ([]Op, error) {
	toks, err := scanUnit(name, src)
	if err != nil {
		return nil, err
	}
	p := &opParser{name: name, toks: toks}
	ops, stop, err := p.parseUntil(nil)
	if err != nil {
		return nil, err
	}
	if stop != "" {
		return nil, compileErrf(name, "unexpected @%s", stop)
	}
	return ops, nil
}

// parseUntil compiles tokens into ops until it hits a directive named in
// stops (the directive is consumed) or runs out of input.
func (p *opParser) parseUntil(stops map[string]bool) ([]Op, string, error) {
	var ops []Op
	for p.pos < len(p.toks) {
		tok := p.toks[p.pos]
		p.pos++
		switch tok.kind {
		case "text":
			ops = append(ops, Op{Kind: OpText, Text: tok.text})
		case "echo":
			ops = append(ops, Op{Kind: OpEcho, Expr: Expression(tok.text)})
		case "rawecho":
			ops = append(ops, Op{Kind: OpEchoRaw, Expr: Expression(tok.text)})
		case "directive":
			if stops[tok.name] {
				return ops, tok.name, nil
			}
			op, err := p.parseDirective(tok)
			if err != nil {
				return nil, "", err
			}
			ops = append(ops, op...)
		}
	}
	return ops, "", nil
}

func (p *opParser) parseDirective(tok unitToken) ([]Op, error) {
	switch tok.name {
	case "if":
		return p.parseIf(tok.args)
	case "foreach":
		return p.parseForeach(tok.args)
	case "for":
		return p.parseFor(tok.args)
	case "while":
		body, stop, err := p.parseUntil(map[string]bool{"endwhile": true})
		if err != nil {
			return nil, err
		}
		if stop == "" {
			return nil, compileErrf(p.name, "missing @endwhile")
		}
		return []Op{{Kind: OpWhile, Expr: Expression(tok.args), Body: body}}, nil
	case "break", "continue":
		kind := OpBreak
		if tok.name == "continue" {
			kind = OpContinue
		}
		level := 1
		if args := strings.TrimSpace(tok.args); args != "" {
			n, err := strconv.Atoi(args)
			if err != nil || n < 1 {
				return nil, compileErrf(p.name, "@%s level must be a positive integer, got %q", tok.name, args)
			}
			level = n
		}
		return []Op{{Kind: kind, Level: level}}, nil
	case "auth", "guest":
		closer := "end" + tok.name
		body, stop, err := p.parseUntil(map[string]bool{closer: true})
		if err != nil {
			return nil, err
		}
		if stop == "" {
			return nil, compileErrf(p.name, "missing @%s", closer)
		}
		return []Op{{Kind: OpHelperIf, Name: tok.name, Body: body}}, nil
	case "env", "error":
		closer := "end" + tok.name
		body, stop, err := p.parseUntil(map[string]bool{closer: true})
		if err != nil {
			return nil, err
		}
		if stop == "" {
			return nil, compileErrf(p.name, "missing @%s", closer)
		}
		return []Op{{Kind: OpHelperIf, Name: tok.name, Expr: Expression(tok.args), Body: body}}, nil
	case "checked", "selected", "disabled", "required", "readonly":
		return []Op{{Kind: OpBoolAttr, Name: tok.name, Expr: Expression(tok.args)}}, nil
	case "json", "js":
		return []Op{{Kind: OpJSON, Name: tok.name, Expr: Expression(tok.args)}}, nil
	case "method":
		verb := strings.Trim(strings.TrimSpace(tok.args), `'"`)
		return []Op{{Kind: OpText, Text: `<input type="hidden" name="_method" value="` + verb + `">`}}, nil
	case "csrf":
		return []Op{
			{Kind: OpText, Text: `<input type="hidden" name="_token" value="`},
			{Kind: OpEcho, Expr: "csrf_token()"},
			{Kind: OpText, Text: `">`},
		}, nil
	case "__include":
		return p.parseInclude(tok.args)
	case "__component":
		return p.parseComponent(tok.args)
	}
	if strayDirectives[tok.name] {
		return nil, compileErrf(p.name, "stray @%s, construct is malformed or unterminated", tok.name)
	}
	return nil, compileErrf(p.name, "unexpected @%s", tok.name)
}

func (p *opParser) parseIf(cond string) ([]Op, error) {
	op := Op{Kind: OpIf}
	stops := map[string]bool{"elseif": true, "else": true, "endif": true}
	for {
		body, stop, err := p.parseUntil(stops)
		if err != nil {
			return nil, err
		}
		op.Branches = append(op.Branches, Branch{Cond: Expression(cond), Body: body})
		switch stop {
		case "elseif":
			cond = p.toks[p.pos-1].args
		case "else":
			elseBody, stop, err := p.parseUntil(map[string]bool{"endif": true})
			if err != nil {
				return nil, err
			}
			if stop == "" {
				return nil, compileErrf(p.name, "missing @endif")
			}
			op.Else = elseBody
			return []Op{op}, nil
		case "endif":
			return []Op{op}, nil
		default:
			return nil, compileErrf(p.name, "missing @endif")
		}
	}
}

func (p *opParser) parseForeach(args string) ([]Op, error) {
	asIdx := lastTopLevel(args, " as ")
	if asIdx < 0 {
		return nil, compileErrf(p.name, "@foreach needs the form 'list as item'")
	}
	seq := strings.TrimSpace(args[:asIdx])
	binding := strings.TrimSpace(args[asIdx+4:])
	op := Op{Kind: OpForeach, Expr: Expression(seq)}
	if arrow := strings.Index(binding, "=>"); arrow >= 0 {
		op.KeyVar = strings.TrimSpace(binding[:arrow])
		op.ValVar = strings.TrimSpace(binding[arrow+2:])
	} else {
		op.ValVar = binding
	}
	if op.ValVar == "" {
		return nil, compileErrf(p.name, "@foreach needs an item variable")
	}
	body, stop, err := p.parseUntil(map[string]bool{"endforeach": true})
	if err != nil {
		return nil, err
	}
	if stop == "" {
		return nil, compileErrf(p.name, "missing @endforeach")
	}
	op.Body = body
	return []Op{op}, nil
}

func (p *opParser) parseFor(args string) ([]Op, error) {
	parts := splitTopLevel(args, ';')
	if len(parts) != 3 {
		return nil, compileErrf(p.name, "@for needs 'init; condition; post'")
	}
	init, err := parseAssign(parts[0])
	if err != nil {
		return nil, compileErrf(p.name, "@for init: %v", err)
	}
	post, err := parseAssign(parts[2])
	if err != nil {
		return nil, compileErrf(p.name, "@for post: %v", err)
	}
	body, stop, err := p.parseUntil(map[string]bool{"endfor": true})
	if err != nil {
		return nil, err
	}
	if stop == "" {
		return nil, compileErrf(p.name, "missing @endfor")
	}
	return []Op{{
		Kind: OpFor,
		Init: init,
		Expr: Expression(strings.TrimSpace(parts[1])),
		Post: post,
		Body: body,
	}}, nil
}

func (p *opParser) parseInclude(args string) ([]Op, error) {
	parts := splitTopLevel(args, ',')
	if len(parts) == 0 || len(parts) > 2 {
		return nil, compileErrf(p.name, "@include needs a view name and an optional data map")
	}
	name := strings.Trim(strings.TrimSpace(parts[0]), `'"`)
	if name == "" {
		return nil, compileErrf(p.name, "@include needs a view name")
	}
	op := Op{Kind: OpInclude, Name: normalizeName(name)}
	if len(parts) == 2 {
		op.Expr = Expression(strings.TrimSpace(parts[1]))
	}
	return []Op{op}, nil
}

func (p *opParser) parseComponent(args string) ([]Op, error) {
	parts := splitTopLevel(args, ',')
	name := strings.Trim(strings.TrimSpace(parts[0]), `'"`)
	attrText := strings.TrimSpace(strings.Join(parts[1:], ","))
	if name == "" {
		return nil, compileErrf(p.name, "component tag is missing a name")
	}

	op := Op{Kind: OpComponent, Name: name, Slots: map[string][]Op{}}
	for _, a := range parseAttrList(attrText) {
		attr := Attr{Name: a.name, Kind: a.kind, Value: a.value}
		if a.kind == "interp" {
			valueOps, err := compileOps(p.name, a.value)
			if err != nil {
				return nil, err
			}
			attr.Ops = valueOps
			attr.Value = ""
		}
		op.Attrs = append(op.Attrs, attr)
	}

	stops := map[string]bool{"__endcomponent": true, "__slot": true}
	for {
		body, stop, err := p.parseUntil(stops)
		if err != nil {
			return nil, err
		}
		op.Body = append(op.Body, body...)
		switch stop {
		case "__endcomponent":
			return []Op{op}, nil
		case "__slot":
			slotName := strings.Trim(strings.TrimSpace(p.toks[p.pos-1].args), `'"`)
			slotBody, slotStop, err := p.parseUntil(map[string]bool{"__endslot": true})
			if err != nil {
				return nil, err
			}
			if slotStop == "" {
				return nil, compileErrf(p.name, "missing end of slot %q", slotName)
			}
			op.Slots[slotName] = slotBody
		default:
			return nil, compileErrf(p.name, "unterminated component %q", name)
		}
	}
}

var reAssignTarget = regexp.MustCompile(`^[A-Za-z_]\w*$`)

// parseAssign splits a "name = expr" clause.
func parseAssign(s string) (*Assign, error) {
	s = strings.TrimSpace(s)
	idx := -1
	for i := 0; i < len(s); i++ {
		if s[i] == '=' && (i+1 >= len(s) || s[i+1] != '=') && (i == 0 || s[i-1] != '!' && s[i-1] != '<' && s[i-1] != '>' && s[i-1] != '=') {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("expected 'name = expression' in %q", s)
	}
	name := strings.TrimSpace(s[:idx])
	if !reAssignTarget.MatchString(name) {
		return nil, fmt.Errorf("bad assignment target %q", name)
	}
	return &Assign{Var: name, Expr: Expression(strings.TrimSpace(s[idx+1:]))}, nil
}

// splitTopLevel splits on sep outside quotes, parens, brackets and braces.
func splitTopLevel(s string, sep byte) []string {
	var parts []string
	depth := 0
	var quote byte
	last := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case sep:
			if depth == 0 {
				parts = append(parts, s[last:i])
				last = i + 1
			}
		}
	}
	parts = append(parts, s[last:])
	return parts
}

// lastTopLevel finds the last occurrence of needle outside quotes and
// brackets, or -1.
func lastTopLevel(s, needle string) int {
	depth := 0
	var quote byte
	found := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
			continue
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		}
		if depth == 0 && strings.HasPrefix(s[i:], needle) {
			found = i
		}
	}
	return found
}

// restoreProtected writes verbatim placeholders back into compiled text ops.
func restoreProtected(ops []Op, protected map[string]string) {
	if len(protected) == 0 {
		return
	}
	for i := range ops {
		op := &ops[i]
		if op.Kind == OpText {
			for key, raw := range protected {
				op.Text = strings.ReplaceAll(op.Text, key, raw)
			}
		}
		restoreProtected(op.Body, protected)
		restoreProtected(op.Else, protected)
		for b := range op.Branches {
			restoreProtected(op.Branches[b].Body, protected)
		}
		for name := range op.Slots {
			restoreProtected(op.Slots[name], protected)
		}
		for a := range op.Attrs {
			restoreProtected(op.Attrs[a].Ops, protected)
		}
	}
}
