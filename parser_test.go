package mlt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRewriteIsIdempotent(t *testing.T) {
	src := `<x-card title="T"><x-slot:header>H</x-slot:header><x-badge n="1" />body</x-card>@include('partials.nav')@class(['a', 'b'])`

	out, err := newDirectiveParser("t").rewrite(src)
	require.NoError(t, err)
	require.Contains(t, out, "@__component('card'")
	require.Contains(t, out, "@__component('badge'")
	require.Contains(t, out, "@__slot('header')H@__endslot")
	require.Contains(t, out, "@__include('partials.nav')")
	require.Contains(t, out, `class="{{ css_classes(['a', 'b']) }}"`)

	again, err := newDirectiveParser("t").rewrite(out)
	require.NoError(t, err)
	require.Equal(t, out, again, "rewriting its own output must be a no-op")
}

func TestRewriteCapturesSectionsAndExtends(t *testing.T) {
	src := "@extends('layouts.app')@section('title', 'Home')@section('content')Body text@endsection rest"

	p := newDirectiveParser("t")
	out, err := p.rewrite(src)
	require.NoError(t, err)

	require.Equal(t, "layouts.app", p.extends)
	require.Equal(t, map[string]string{
		"title":   "Home",
		"content": "Body text",
	}, p.sections)
	require.Equal(t, " rest", out)
}

func TestRewriteExpandsYields(t *testing.T) {
	parent := "<title>@yield('title', 'Default')</title>@yield('content')[@yield('extra')]"

	p := newDirectiveParser("layout")
	p.seedSections(map[string]string{"content": "C"})
	out, err := p.rewrite(parent)
	require.NoError(t, err)

	require.Equal(t, "<title>Default</title>C[]", out)
}

func TestRewriteSlotBlocks(t *testing.T) {
	out, err := newDirectiveParser("t").rewrite("@slot('footer')F@endslot")
	require.NoError(t, err)
	require.Equal(t, "@__slot('footer')F@__endslot", out)
}

func TestRewriteSelfClosingComponent(t *testing.T) {
	out, err := newDirectiveParser("t").rewrite(`<x-badge n="1" />`)
	require.NoError(t, err)
	require.Equal(t, `@__component('badge', n="1")@__endcomponent`, out)
}

func TestRewriteNestedSameNameComponents(t *testing.T) {
	out, err := newDirectiveParser("t").rewrite("<x-card>a<x-card>b</x-card>c</x-card>")
	require.NoError(t, err)
	require.Equal(t, "@__component('card')a@__component('card')b@__endcomponentc@__endcomponent", out)
}

func TestRewriteComponentNamePrefixes(t *testing.T) {
	// <x-card must not swallow <x-card-header as a nested open tag
	out, err := newDirectiveParser("t").rewrite("<x-card><x-card-header>h</x-card-header></x-card>")
	require.NoError(t, err)
	require.Equal(t, "@__component('card')@__component('card-header')h@__endcomponent@__endcomponent", out)
}

func TestRewriteLeavesUnmatchedComponentTag(t *testing.T) {
	src := "<x-card>no close"
	out, err := newDirectiveParser("t").rewrite(src)
	require.NoError(t, err)
	require.Equal(t, src, out)
}

func TestRewritePassBound(t *testing.T) {
	// a section whose content re-introduces its own yield never settles
	p := newDirectiveParser("layout")
	p.seedSections(map[string]string{"a": "@yield('a')"})
	_, err := p.rewrite("@yield('a')")

	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
}

func TestMatchParens(t *testing.T) {
	require.Equal(t, 7, matchParens("(a(b)c)", 0))

	s := `('a)b', (1))`
	require.Equal(t, len(s), matchParens(s, 0), "quoted parens are opaque")

	require.Equal(t, -1, matchParens("(never closed", 0))
	require.Equal(t, -1, matchParens("abc", 0))
	require.Equal(t, -1, matchParens("abc", 99))
}

func TestIndexDirective(t *testing.T) {
	require.Equal(t, 2, indexDirective("x @include('a')", "@include"))
	require.Equal(t, -1, indexDirective("x@include('a')", "@include"), "needs a word boundary")
	require.Equal(t, -1, indexDirective("@@include('a')", "@include"), "escaped directive stays literal")
	require.Equal(t, -1, indexDirective("@include with no parens", "@include"))
	require.Equal(t, -1, indexDirective("nothing here", "@include"))
}

func TestParseAttrList(t *testing.T) {
	attrs := parseAttrList(`type="info" :count="len(items)" disabled label="Hi {{ name }}" class='p-4'`)

	require.Equal(t, []rawAttr{
		{name: "type", kind: "literal", value: "info"},
		{name: "count", kind: "expr", value: "len(items)"},
		{name: "disabled", kind: "bool"},
		{name: "label", kind: "interp", value: "Hi {{ name }}"},
		{name: "class", kind: "literal", value: "p-4"},
	}, attrs)
}

func TestParseAttrListEmpty(t *testing.T) {
	require.Empty(t, parseAttrList(""))
}
