package mlt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopeRootFrame(t *testing.T) {
	s := NewScope(map[string]any{"a": 1, "b": "x"})

	require.Equal(t, 1, s.Depth())
	require.Equal(t, 1, s.Get("a", nil))
	require.Equal(t, "fallback", s.Get("missing", "fallback"))

	v, ok := s.Lookup("b")
	require.True(t, ok)
	require.Equal(t, "x", v)

	_, ok = s.Lookup("missing")
	require.False(t, ok)
}

func TestScopeRootIsCopied(t *testing.T) {
	data := map[string]any{"a": 1}
	s := NewScope(data)
	s.Set("a", 2)

	require.Equal(t, 1, data["a"], "caller data must not be mutated")
}

func TestScopePushIsolated(t *testing.T) {
	s := NewScope(map[string]any{"secret": "root"})
	s.PushIsolated(
		map[string]any{"b": 0},
		map[string]any{"a": 1, "b": 2},
	)

	require.Equal(t, 2, s.Depth())
	require.Equal(t, Frame{"a": 1, "b": 0}, s.Current())
	require.False(t, s.Has("secret"), "isolated frame must not see outer bindings")
}

func TestScopePushIsolatedExplicitZeroValues(t *testing.T) {
	s := NewScope(nil)
	s.PushIsolated(
		map[string]any{"on": false, "label": ""},
		map[string]any{"on": true, "label": "default"},
	)

	// presence decides the override, not truthiness
	require.Equal(t, false, s.Get("on", nil))
	require.Equal(t, "", s.Get("label", nil))
}

func TestScopePushInherited(t *testing.T) {
	s := NewScope(map[string]any{"a": 1, "b": 2})
	s.PushInherited(map[string]any{"b": 20, "c": 30})

	require.Equal(t, Frame{"a": 1, "b": 20, "c": 30}, s.Current())

	s.Set("a", 100)
	s.Pop()
	require.Equal(t, 1, s.Get("a", nil), "writes in an inherited frame must not leak out")
}

func TestScopePopGuardsRoot(t *testing.T) {
	s := NewScope(map[string]any{"a": 1})
	s.Pop()
	s.Pop()

	require.Equal(t, 1, s.Depth())
	require.Equal(t, 1, s.Get("a", nil))
}

func TestScopeReset(t *testing.T) {
	s := NewScope(map[string]any{"a": 1})
	s.PushInherited(nil)
	s.PushIsolated(nil, nil)
	require.Equal(t, 3, s.Depth())

	s.Reset()
	require.Equal(t, 1, s.Depth())
	require.Equal(t, 1, s.Get("a", nil))
}

func TestScopeCaptureIsDetached(t *testing.T) {
	s := NewScope(map[string]any{"x": 1})
	captured := s.Capture()

	s.Set("x", 2)
	require.Equal(t, 1, captured.Get("x", nil), "capture holds the value at capture time")

	captured.Set("x", 99)
	require.Equal(t, 2, s.Get("x", nil), "writes through a capture must not reach the origin")
}
