package mlt

import (
	"fmt"
	"regexp"
	"strings"
)

// maxParsePasses bounds the fixed-point rewriting loop. Sane templates
// converge in one pass per nesting level; input that still changes after the
// bound is rejected as unterminated rather than left half-rewritten.
const maxParsePasses = 10

var (
	reExtends      = regexp.MustCompile(`@extends\(\s*['"]([\w\-/. ]+)['"]\s*\)`)
	reSectionStart = regexp.MustCompile(`@section\(\s*['"]([\w\-]+)['"](?:\s*,\s*['"]([^)]*)['"])?\s*\)`)
	reEndSection   = regexp.MustCompile(`@endsection`)
	reYield        = regexp.MustCompile(`@yield\(\s*['"]([\w\-]+)['"](?:\s*,\s*['"]([^)]*)['"])?\s*\)`)
	reSlotTagOpen  = regexp.MustCompile(`<x-slot:([\w\-]+)\s*>`)
	reSlotBlock    = regexp.MustCompile(`@slot\(\s*['"]([\w\-]+)['"]\s*\)`)
	reEndSlot      = regexp.MustCompile(`@endslot\b`)
	reComponentTag = regexp.MustCompile(`<x-([\w.\-]+)((?:[^<>"']|"[^"]*"|'[^']*')*?)(/?)>`)
)

// directiveParser rewrites structural directives (components, slots, layout
// declarations, includes) into an intermediate text containing only
// interpolation markers, control-flow/helper directives and internal
// @__component/@__slot/@__include markers. It is a best-effort textual
// rewriter: malformed constructs pass through for later stages to reject.
type directiveParser struct {
	name     string
	extends  string
	sections map[string]string
}

func newDirectiveParser(name string) *directiveParser {
	return &directiveParser{name: name, sections: map[string]string{}}
}

// seedSections pre-fills section content, used when rewriting a parent
// layout with the sections captured from its child.
func (p *directiveParser) seedSections(sections map[string]string) {
	for k, v := range sections {
		p.sections[k] = v
	}
}

// rewrite runs every pass repeatedly until a full round changes nothing.
// Pass order resolves inner constructs before outer ones re-scan them;
// component tags go last so slot content inside a component body has already
// been normalized when the component wrapper captures it.
func (p *directiveParser) rewrite(src string) (string, error) {
	passes := []func(string) (string, bool){
		p.passClassStyle,
		p.passSlotTags,
		p.passSlotBlocks,
		p.passExtends,
		p.passSections,
		p.passYields,
		p.passIncludes,
		p.passComponents,
	}
	for i := 0; i < maxParsePasses; i++ {
		changed := false
		for _, pass := range passes {
			var c bool
			src, c = pass(src)
			changed = changed || c
		}
		if !changed {
			return src, nil
		}
	}
	for _, pass := range passes {
		if _, c := pass(src); c {
			return "", compileErrf(p.name, "directive rewriting did not settle within %d passes, template nests too deeply or a construct is unterminated", maxParsePasses)
		}
	}
	return src, nil
}

// passClassStyle rewrites @class and @style into interpolated attributes.
func (p *directiveParser) passClassStyle(src string) (string, bool) {
	changed := false
	for _, d := range []struct{ directive, attr, fn string }{
		{"@class", "class", "css_classes"},
		{"@style", "style", "css_styles"},
	} {
		for {
			idx := indexDirective(src, d.directive)
			if idx < 0 {
				break
			}
			open := idx + len(d.directive)
			end := matchParens(src, open)
			if end < 0 {
				break
			}
			args := src[open+1 : end-1]
			src = src[:idx] + fmt.Sprintf(`%s="{{ %s(%s) }}"`, d.attr, d.fn, args) + src[end:]
			changed = true
		}
	}
	return src, changed
}

// passSlotTags normalizes <x-slot:name>...</x-slot:name> to slot markers.
func (p *directiveParser) passSlotTags(src string) (string, bool) {
	changed := false
	for {
		loc := reSlotTagOpen.FindStringSubmatchIndex(src)
		if loc == nil {
			break
		}
		name := src[loc[2]:loc[3]]
		closing := "</x-slot:" + name + ">"
		closeIdx := strings.Index(src[loc[1]:], closing)
		if closeIdx < 0 {
			break
		}
		body := src[loc[1] : loc[1]+closeIdx]
		src = src[:loc[0]] + "@__slot('" + name + "')" + body + "@__endslot" + src[loc[1]+closeIdx+len(closing):]
		changed = true
	}
	return src, changed
}

// passSlotBlocks normalizes @slot('name') ... @endslot to slot markers.
func (p *directiveParser) passSlotBlocks(src string) (string, bool) {
	changed := false
	out := reSlotBlock.ReplaceAllStringFunc(src, func(m string) string {
		sm := reSlotBlock.FindStringSubmatch(m)
		changed = true
		return "@__slot('" + sm[1] + "')"
	})
	out = reEndSlot.ReplaceAllString(out, "@__endslot")
	if out != src {
		changed = true
	}
	return out, changed
}

// passExtends records and strips the layout declaration.
func (p *directiveParser) passExtends(src string) (string, bool) {
	loc := reExtends.FindStringSubmatchIndex(src)
	if loc == nil {
		return src, false
	}
	if p.extends == "" {
		p.extends = normalizeName(src[loc[2]:loc[3]])
	}
	return src[:loc[0]] + src[loc[1]:], true
}

// passSections captures @section blocks (and the inline two-argument form)
// into the parser and strips them from the text. An unterminated block is
// left in place.
func (p *directiveParser) passSections(src string) (string, bool) {
	changed := false
	searchFrom := 0
	for {
		loc := reSectionStart.FindStringSubmatchIndex(src[searchFrom:])
		if loc == nil {
			break
		}
		for i := range loc {
			if loc[i] >= 0 {
				loc[i] += searchFrom
			}
		}
		name := src[loc[2]:loc[3]]
		if loc[5] > -1 {
			p.sections[name] = src[loc[4]:loc[5]]
			src = src[:loc[0]] + src[loc[1]:]
			changed = true
			continue
		}
		endLoc := reEndSection.FindStringIndex(src[loc[1]:])
		if endLoc == nil {
			searchFrom = loc[1]
			continue
		}
		p.sections[name] = strings.TrimSpace(src[loc[1] : loc[1]+endLoc[0]])
		src = src[:loc[0]] + src[loc[1]+endLoc[1]:]
		changed = true
	}
	return src, changed
}

// passYields expands @yield markers from captured sections, falling back to
// the yield's default and then to empty.
func (p *directiveParser) passYields(src string) (string, bool) {
	changed := false
	out := reYield.ReplaceAllStringFunc(src, func(m string) string {
		sm := reYield.FindStringSubmatch(m)
		changed = true
		if content, ok := p.sections[sm[1]]; ok {
			return content
		}
		return sm[2]
	})
	return out, changed
}

// passIncludes rewrites @include into the internal include marker.
func (p *directiveParser) passIncludes(src string) (string, bool) {
	changed := false
	for {
		idx := indexDirective(src, "@include")
		if idx < 0 {
			break
		}
		open := idx + len("@include")
		end := matchParens(src, open)
		if end < 0 {
			break
		}
		src = src[:idx] + "@__include(" + src[open+1:end-1] + ")" + src[end:]
		changed = true
	}
	return src, changed
}

// passComponents rewrites component tags (self-closing and paired) into
// @__component markers, leaving the body in place for later passes.
func (p *directiveParser) passComponents(src string) (string, bool) {
	changed := false
	searchFrom := 0
	for {
		loc := reComponentTag.FindStringSubmatchIndex(src[searchFrom:])
		if loc == nil {
			break
		}
		for i := range loc {
			if loc[i] >= 0 {
				loc[i] += searchFrom
			}
		}
		name := src[loc[2]:loc[3]]
		if name == "slot" {
			// <x-slot:...> is slot syntax, handled by an earlier pass
			searchFrom = loc[1]
			continue
		}
		attrText := strings.TrimSpace(src[loc[4]:loc[5]])
		selfClosing := loc[7] > loc[6]
		marker := "@__component('" + name + "'"
		if attrText != "" {
			marker += ", " + attrText
		}
		marker += ")"
		if selfClosing {
			src = src[:loc[0]] + marker + "@__endcomponent" + src[loc[1]:]
			changed = true
			continue
		}
		bodyEnd, closeLen := findComponentClose(src, loc[1], name)
		if bodyEnd < 0 {
			searchFrom = loc[1]
			continue
		}
		body := src[loc[1]:bodyEnd]
		src = src[:loc[0]] + marker + body + "@__endcomponent" + src[bodyEnd+closeLen:]
		changed = true
	}
	return src, changed
}

// findComponentClose locates the closing tag matching an already-consumed
// opening <x-name> tag, honoring nested tags of the same name. It returns
// the index of the closing tag and its length, or -1 when unmatched.
func findComponentClose(src string, from int, name string) (int, int) {
	openTag := "<x-" + name
	closeTag := "</x-" + name + ">"
	depth := 0
	for i := from; i < len(src); {
		nextClose := strings.Index(src[i:], closeTag)
		if nextClose < 0 {
			return -1, 0
		}
		nextOpen := indexComponentOpen(src[i:], openTag)
		if nextOpen >= 0 && nextOpen < nextClose {
			depth++
			i += nextOpen + len(openTag)
			continue
		}
		if depth == 0 {
			return i + nextClose, len(closeTag)
		}
		depth--
		i += nextClose + len(closeTag)
	}
	return -1, 0
}

// indexComponentOpen finds an opening tag occurrence that is not a prefix of
// a longer component name (<x-card must not match <x-card-header).
func indexComponentOpen(src, openTag string) int {
	from := 0
	for {
		idx := strings.Index(src[from:], openTag)
		if idx < 0 {
			return -1
		}
		abs := from + idx
		end := abs + len(openTag)
		if end >= len(src) {
			return -1
		}
		c := src[end]
		if c == ' ' || c == '>' || c == '/' || c == '\t' || c == '\n' || c == '\r' {
			return abs
		}
		from = end
	}
}

// indexDirective finds a directive occurrence immediately followed by an
// opening paren and not preceded by a word character.
func indexDirective(src, directive string) int {
	from := 0
	for {
		idx := strings.Index(src[from:], directive)
		if idx < 0 {
			return -1
		}
		abs := from + idx
		after := abs + len(directive)
		boundaryBefore := abs == 0 || !isWordByte(src[abs-1])
		if boundaryBefore && after < len(src) && src[after] == '(' {
			return abs
		}
		from = after
	}
}

func isWordByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '@'
}

// isIdentByte is isWordByte without '@': directive names stop at a following
// '@' so adjacent directives scan separately.
func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// matchParens returns the index one past the closing paren matching the
// opening paren at src[open]. Nested parens balance recursively and quoted
// strings are opaque, so directive arguments may contain arbitrarily nested
// call expressions. Returns -1 when unbalanced.
func matchParens(src string, open int) int {
	if open >= len(src) || src[open] != '(' {
		return -1
	}
	depth := 0
	var quote byte
	for i := open; i < len(src); i++ {
		c := src[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// rawAttr is a classified component-tag attribute prior to compilation.
type rawAttr struct {
	name  string
	kind  string // literal | interp | expr | bool
	value string
}

var reAttr = regexp.MustCompile(`(:?[\w\-:@.]+)(?:\s*=\s*("[^"]*"|'[^']*'))?`)

// parseAttrList classifies a component tag's attribute text. A leading colon
// marks a bound attribute whose value is an opaque expression; a quoted
// value containing interpolation markers is an interpolated attribute; a
// bare name is a boolean presence flag; everything else is a literal string.
func parseAttrList(attrText string) []rawAttr {
	var attrs []rawAttr
	for _, m := range reAttr.FindAllStringSubmatch(attrText, -1) {
		name, quoted := m[1], m[2]
		if quoted == "" {
			if strings.HasPrefix(name, ":") {
				continue // bound attribute missing its value
			}
			attrs = append(attrs, rawAttr{name: name, kind: "bool"})
			continue
		}
		value := quoted[1 : len(quoted)-1]
		if strings.HasPrefix(name, ":") {
			attrs = append(attrs, rawAttr{name: name[1:], kind: "expr", value: value})
			continue
		}
		if strings.Contains(value, "{{") || strings.Contains(value, "{!!") {
			attrs = append(attrs, rawAttr{name: name, kind: "interp", value: value})
			continue
		}
		attrs = append(attrs, rawAttr{name: name, kind: "literal", value: value})
	}
	return attrs
}
