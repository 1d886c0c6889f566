package cel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twinfer/bintype/pkg/expression"
)

// TestPool_MatchesNativeEvaluator evaluates each expression with both the
// CEL pool and the native evaluator and expects identical results.
func TestPool_MatchesNativeEvaluator(t *testing.T) {
	pool, err := NewExpressionPool()
	require.NoError(t, err)

	vars := map[string]any{
		"a":    int64(0xAB),
		"b":    int64(3),
		"f":    2.5,
		"flag": true,
		"name": "abc",
		"zero": int64(0),
	}

	exprs := []string{
		"a + b * 2",
		"7 / 2",
		"7 // -2",
		"-7 // 2",
		"7 % -3",
		"-7 % 3",
		"2 ** 10",
		"2 ** -1",
		"f * 2",
		"f // 1",
		"(a & 0xF0) >> 4",
		"a | b ^ 1",
		"1 << b",
		"~a",
		"-b",
		"a > 1 and b",
		"zero or flag",
		"not zero",
		"1 < b < 5",
		"1 == 1.0",
		"flag + 1",
		"name + \"def\" == \"abcdef\"",
		"name < \"abd\"",
	}

	for _, src := range exprs {
		t.Run(src, func(t *testing.T) {
			ast, err := expression.Parse(src)
			require.NoError(t, err)
			want, err := expression.Eval(ast, expression.MapScope(vars))
			require.NoError(t, err)

			got, err := pool.Evaluate(src, vars)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestPool_Errors(t *testing.T) {
	pool, err := NewExpressionPool()
	require.NoError(t, err)

	t.Run("ParseError", func(t *testing.T) {
		_, err := pool.GetExpression("a +")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse expression")
	})

	t.Run("DivisionByZero", func(t *testing.T) {
		_, err := pool.Evaluate("a // 0", map[string]any{"a": int64(1)})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "division by zero")
	})

	t.Run("MissingVariable", func(t *testing.T) {
		_, err := pool.Evaluate("a + missing", map[string]any{"a": int64(1)})
		require.Error(t, err)
	})
}

func TestPool_StructuredValues(t *testing.T) {
	pool, err := NewExpressionPool()
	require.NoError(t, err)

	vars := map[string]any{
		"hdr":   map[string]any{"count": int64(2)},
		"items": []any{int64(10), int64(20), int64(30)},
	}

	tests := []struct {
		expr string
		want any
	}{
		{"hdr.count * 2", int64(4)},
		{"items[0] + items[-1]", int64(40)},
		{"items[hdr.count]", int64(30)},
		{"items and hdr.count == 2", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := pool.Evaluate(tt.expr, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = pool.Evaluate("items[3]", vars)
	assert.Error(t, err)
}

func TestPool_Caching(t *testing.T) {
	pool, err := NewExpressionPool()
	require.NoError(t, err)

	p1, err := pool.GetExpression("x + 1")
	require.NoError(t, err)
	p2, err := pool.GetExpression("x + 1")
	require.NoError(t, err)

	assert.Same(t, p1, p2)
	assert.Equal(t, 1, pool.Len())

	got, err := pool.EvaluateExpression(p1, map[string]any{"x": 41})
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
}

func TestPool_InputVariable(t *testing.T) {
	pool, err := NewExpressionPool()
	require.NoError(t, err)

	got, err := pool.Evaluate("$input != 0", map[string]any{InputVar: int64(0)})
	require.NoError(t, err)
	assert.Equal(t, false, got)
}

func TestDefaultPool(t *testing.T) {
	p1, err := DefaultPool()
	require.NoError(t, err)
	p2, err := DefaultPool()
	require.NoError(t, err)
	assert.Same(t, p1, p2)
}
