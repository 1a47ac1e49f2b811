package mlt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAttributeBagKeepsTagOrder(t *testing.T) {
	b := NewAttributeBag()
	b.Set("id", "box")
	b.Set("class", "p-4")
	b.Set("data-role", "panel")

	require.Equal(t, []string{"id", "class", "data-role"}, b.Names())
	require.Equal(t, "p-4", b.Get("class"))
	require.True(t, b.Has("id"))
	require.False(t, b.Has("style"))
	require.Nil(t, b.Get("style"))
}

func TestAttributeBagSetReplacesInPlace(t *testing.T) {
	b := NewAttributeBag()
	b.Set("id", "a")
	b.Set("class", "x")
	b.Set("id", "b")

	require.Equal(t, []string{"id", "class"}, b.Names())
	require.Equal(t, "b", b.Get("id"))
}

func TestAttributeBagMerge(t *testing.T) {
	b := NewAttributeBag()
	b.Set("class", "text-lg")
	b.Set("id", "hero")

	merged := b.Merge(map[string]any{"class": "p-4", "role": "note"})

	require.Equal(t, "p-4 text-lg", merged.Get("class"), "class defaults concatenate")
	require.Equal(t, "hero", merged.Get("id"))
	require.Equal(t, "note", merged.Get("role"))

	// the original bag is untouched
	require.Equal(t, "text-lg", b.Get("class"))
	require.False(t, b.Has("role"))
}

func TestAttributeBagMergeStyleConcatenates(t *testing.T) {
	b := NewAttributeBag()
	b.Set("style", "color: red;")

	merged := b.Merge(map[string]any{"style": "margin: 0;"})
	require.Equal(t, "margin: 0; color: red;", merged.Get("style"))
}

func TestAttributeBagOnlyExcept(t *testing.T) {
	b := NewAttributeBag()
	b.Set("id", "a")
	b.Set("class", "x")
	b.Set("title", "t")

	only := b.Only("class", "id")
	require.Equal(t, []string{"id", "class"}, only.Names())

	except := b.Except("class")
	require.Equal(t, []string{"id", "title"}, except.Names())
}

func TestAttributeBagString(t *testing.T) {
	b := NewAttributeBag()
	b.Set("id", "a")
	b.Set("title", `say "hi" & wave`)
	b.Set("disabled", true)
	b.Set("hidden", false)
	b.Set("data-none", nil)

	require.Equal(t, `id="a" title="say &#34;hi&#34; &amp; wave" disabled`, b.String())
}

func TestAttributeBagStringEmpty(t *testing.T) {
	require.Equal(t, "", NewAttributeBag().String())
}
