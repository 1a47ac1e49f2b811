package mlt

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type coord struct {
	X float64
	Y float64
}

func testEvalScope() *Scope {
	return NewScope(map[string]any{
		"name":  "ada",
		"n":     float64(5),
		"ok":    true,
		"off":   false,
		"items": []any{"a", "b", "c"},
		"user":  map[string]any{"name": "ada", "age": float64(36)},
		"point": coord{X: 3, Y: 4},
	})
}

func TestEvaluatorExpressions(t *testing.T) {
	ev := NewEvaluator(FuncMap{
		"twice": func(args ...any) (any, error) {
			f, _ := toNumber(args[0])
			return f * 2, nil
		},
	})
	scope := testEvalScope()

	cases := []struct {
		expr Expression
		want any
	}{
		{"1 + 2", float64(3)},
		{"1 + 2 * 3", float64(7)},
		{"(1 + 2) * 3", float64(9)},
		{"10 / 4", float64(2.5)},
		{"7 % 3", float64(1)},
		{"-n", float64(-5)},
		{"'a' + 'b'", "ab"},
		{"'n=' + n", "n=5"},
		{"!ok", false},
		{"!off", true},
		{"n == 5", true},
		{"n != 5", false},
		{"n >= 5 && n < 6", true},
		{"off || ok", true},
		{"off && ok", false},
		{"'b' > 'a'", true},
		{"ok ? 'yes' : 'no'", "yes"},
		{"off ? 'yes' : n > 4 ? 'deep' : 'no'", "deep"},
		{"missing ?? 'fallback'", "fallback"},
		{"name ?? 'fallback'", "ada"},
		{"true", true},
		{"null", nil},
		{"nil", nil},
		{"'quoted'", "quoted"},
		{"user.name", "ada"},
		{"user['name']", "ada"},
		{"user.missing", nil},
		{"items[1]", "b"},
		{"items[9]", nil},
		{"point.X", float64(3)},
		{"twice(21)", float64(42)},
		{"twice(user.age)", float64(72)},
		{"[1, 'two'][1]", "two"},
		{"{a: 1, b: name}.b", "ada"},
		{"missing", nil},
	}
	for _, tc := range cases {
		t.Run(string(tc.expr), func(t *testing.T) {
			got, err := ev.Eval(tc.expr, scope)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluatorCollections(t *testing.T) {
	ev := NewEvaluator(nil)
	scope := testEvalScope()

	got, err := ev.Eval("[1, 2, 3]", scope)
	require.NoError(t, err)
	require.Equal(t, []any{float64(1), float64(2), float64(3)}, got)

	got, err = ev.Eval("{a: 1, b: 'x'}", scope)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": float64(1), "b": "x"}, got)

	got, err = ev.Eval("{'quoted key': true}", scope)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"quoted key": true}, got)
}

func TestEvaluatorShortCircuit(t *testing.T) {
	ev := NewEvaluator(FuncMap{
		"explode": func(...any) (any, error) {
			return nil, fmt.Errorf("must not be called")
		},
	})
	scope := testEvalScope()

	got, err := ev.Eval("off && explode()", scope)
	require.NoError(t, err)
	require.Equal(t, false, got)

	got, err = ev.Eval("ok || explode()", scope)
	require.NoError(t, err)
	require.Equal(t, true, got)

	got, err = ev.Eval("name ?? explode()", scope)
	require.NoError(t, err)
	require.Equal(t, "ada", got)
}

func TestEvaluatorErrors(t *testing.T) {
	ev := NewEvaluator(nil)
	scope := testEvalScope()

	for _, expr := range []Expression{
		"1 +",
		"'unterminated",
		"1 / 0",
		"'a' * 2",
		"unknown_fn(1)",
		"items['x']",
		"n ? 1",
		"1 2",
		"user.",
	} {
		t.Run(string(expr), func(t *testing.T) {
			_, err := ev.Eval(expr, scope)
			require.Error(t, err)
		})
	}
}

func TestEvaluatorCachesParsedTrees(t *testing.T) {
	ev := NewEvaluator(nil).(*exprEvaluator)
	scope := testEvalScope()

	_, err := ev.Eval("n + 1", scope)
	require.NoError(t, err)
	_, err = ev.Eval("n + 1", scope)
	require.NoError(t, err)

	ev.mu.RLock()
	defer ev.mu.RUnlock()
	require.Len(t, ev.cache, 1)
}

func TestTruthy(t *testing.T) {
	require.False(t, truthy(nil))
	require.False(t, truthy(false))
	require.False(t, truthy(""))
	require.False(t, truthy(float64(0)))
	require.False(t, truthy([]any{}))
	require.False(t, truthy(map[string]any{}))

	require.True(t, truthy(true))
	require.True(t, truthy("x"))
	require.True(t, truthy(float64(0.1)))
	require.True(t, truthy([]any{1}))

	filled := NewSlot("s", func() (string, error) { return "hi", nil })
	blank := NewSlot("s", func() (string, error) { return "  ", nil })
	require.True(t, truthy(filled))
	require.False(t, truthy(blank))
}

func TestTruthyValSurfacesSlotFailure(t *testing.T) {
	bad := NewSlot("s", func() (string, error) { return "", errors.New("producer broke") })

	_, err := truthyVal(bad)
	require.ErrorContains(t, err, "producer broke")

	scope := NewScope(map[string]any{"footer": bad})
	for _, expr := range []Expression{"!footer", "footer && true", "footer || true", "footer ? 1 : 2"} {
		_, err := NewEvaluator(nil).Eval(expr, scope)
		require.ErrorContains(t, err, "producer broke", string(expr))
	}
}

func TestStringify(t *testing.T) {
	require.Equal(t, "", stringify(nil))
	require.Equal(t, "x", stringify("x"))
	require.Equal(t, "3", stringify(float64(3)))
	require.Equal(t, "2.5", stringify(float64(2.5)))
	require.Equal(t, "true", stringify(true))
}
