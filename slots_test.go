package mlt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlotRendersOnce(t *testing.T) {
	calls := 0
	s := NewSlot("body", func() (string, error) {
		calls++
		return "content", nil
	})

	out, err := s.Render()
	require.NoError(t, err)
	require.Equal(t, "content", out)

	out, err = s.Render()
	require.NoError(t, err)
	require.Equal(t, "content", out)
	require.Equal(t, 1, calls, "producer must run at most once")
	require.Equal(t, "body", s.Name())
}

func TestSlotProducerError(t *testing.T) {
	boom := errors.New("boom")
	s := NewSlot("body", func() (string, error) { return "", boom })

	_, err := s.Render()
	require.ErrorIs(t, err, boom)
}

func TestSlotCapturesDefinitionScope(t *testing.T) {
	scope := NewScope(map[string]any{"x": 1})
	captured := scope.Capture()
	s := NewSlot("body", func() (string, error) {
		return fmt.Sprint(captured.Get("x", nil)), nil
	})

	// a later write in the defining scope must not show through
	scope.Set("x", 2)

	out, err := s.Render()
	require.NoError(t, err)
	require.Equal(t, "1", out)
}

func TestSlotMapLookup(t *testing.T) {
	m := NewSlotMap()
	m.Add(DefaultSlot, func() (string, error) { return "body", nil })
	m.Add("title", func() (string, error) { return "T", nil })

	require.NotNil(t, m.Default())
	require.NotNil(t, m.Get("title"))
	require.Nil(t, m.Get("footer"))
	require.ElementsMatch(t, []string{"slot", "title"}, m.Names())
}

func TestSlotMapHas(t *testing.T) {
	m := NewSlotMap()
	m.Add("filled", func() (string, error) { return "  text  ", nil })
	m.Add("blank", func() (string, error) { return " \n\t ", nil })
	m.Add("broken", func() (string, error) { return "", errors.New("nope") })

	require.True(t, m.Has("filled"))
	require.False(t, m.Has("blank"), "whitespace-only content counts as absent")
	require.False(t, m.Has("broken"))
	require.False(t, m.Has("missing"))
}
