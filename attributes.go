package mlt

import (
	"html"
	"sort"
	"strings"
)

// AttributeBag holds the attributes passed to a component invocation that
// were not consumed as declared props, in the order they appeared on the tag.
type AttributeBag struct {
	names  []string
	values map[string]any
}

// NewAttributeBag creates an empty bag.
func NewAttributeBag() *AttributeBag {
	return &AttributeBag{values: map[string]any{}}
}

// Set adds or replaces an attribute, keeping first-seen order.
func (b *AttributeBag) Set(name string, v any) {
	if _, ok := b.values[name]; !ok {
		b.names = append(b.names, name)
	}
	b.values[name] = v
}

// Get returns the attribute value, or nil when absent.
func (b *AttributeBag) Get(name string) any {
	return b.values[name]
}

// Has reports whether the attribute is present.
func (b *AttributeBag) Has(name string) bool {
	_, ok := b.values[name]
	return ok
}

// Names returns the attribute names in tag order.
func (b *AttributeBag) Names() []string {
	out := make([]string, len(b.names))
	copy(out, b.names)
	return out
}

// Merge returns a new bag combining defaults with the bag's attributes.
// "class" and "style" values concatenate (default first); any other default
// applies only when the attribute is absent.
func (b *AttributeBag) Merge(defaults map[string]any) *AttributeBag {
	out := NewAttributeBag()
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out.Set(k, defaults[k])
	}
	for _, name := range b.names {
		v := b.values[name]
		if prev, ok := out.values[name]; ok && (name == "class" || name == "style") {
			joined := strings.TrimSpace(stringify(prev) + " " + stringify(v))
			out.values[name] = joined
			continue
		}
		out.Set(name, v)
	}
	return out
}

// Only returns a bag restricted to the given attribute names.
func (b *AttributeBag) Only(names ...string) *AttributeBag {
	keep := map[string]struct{}{}
	for _, n := range names {
		keep[n] = struct{}{}
	}
	out := NewAttributeBag()
	for _, n := range b.names {
		if _, ok := keep[n]; ok {
			out.Set(n, b.values[n])
		}
	}
	return out
}

// Except returns a bag without the given attribute names.
func (b *AttributeBag) Except(names ...string) *AttributeBag {
	drop := map[string]struct{}{}
	for _, n := range names {
		drop[n] = struct{}{}
	}
	out := NewAttributeBag()
	for _, n := range b.names {
		if _, ok := drop[n]; !ok {
			out.Set(n, b.values[n])
		}
	}
	return out
}

// String renders the bag as HTML attribute text. Values are escaped; a true
// boolean renders as a bare attribute, false and nil render nothing.
func (b *AttributeBag) String() string {
	var sb strings.Builder
	for _, name := range b.names {
		v := b.values[name]
		switch t := v.(type) {
		case nil:
			continue
		case bool:
			if t {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(name)
			}
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(name)
		sb.WriteString(`="`)
		sb.WriteString(html.EscapeString(stringify(b.values[name])))
		sb.WriteByte('"')
	}
	return sb.String()
}
