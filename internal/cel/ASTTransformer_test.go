package cel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twinfer/bintype/pkg/expression"
)

func TestASTTransformer_Transform(t *testing.T) {
	tests := []struct {
		name        string
		expr        string
		expectedCEL string
	}{
		{name: "Boolean Literal", expr: "True", expectedCEL: "true"},
		{name: "Integer Literal", expr: "0x10", expectedCEL: "16"},
		{name: "Float Literal", expr: "123.45", expectedCEL: "123.45"},
		{name: "Integral Float Literal", expr: "1.0", expectedCEL: "1.0"},
		{name: "String Literal with Escapes", expr: `"hello\nworld"`, expectedCEL: `"hello\nworld"`},
		{name: "Identifier", expr: "my_variable", expectedCEL: "my_variable"},
		{name: "Input", expr: "$input != 0", expectedCEL: "ne(_input, 0)"},
		{name: "Arithmetic Precedence", expr: "a + b * 2", expectedCEL: "add(a, mul(b, 2))"},
		{name: "Division Family", expr: "a / b + a // b - a % b", expectedCEL: "sub(add(trueDiv(a, b), floorDiv(a, b)), floorMod(a, b))"},
		{name: "Power", expr: "2 ** n", expectedCEL: "pow(2, n)"},
		{name: "Bitwise", expr: "(a & 0xF0) >> 4 | b ^ c", expectedCEL: "bitOr(shr(bitAnd(a, 240), 4), bitXor(b, c))"},
		{name: "Unary", expr: "-x + ~y", expectedCEL: "add(neg(x), bitNot(y))"},
		{name: "Logical", expr: "a and not b", expectedCEL: "(truthy(a) && truthy(!truthy(b)))"},
		{name: "Or", expr: "a or b", expectedCEL: "(truthy(a) || truthy(b))"},
		{name: "Comparison Chain", expr: "a < b <= c", expectedCEL: "(truthy(lt(a, b)) && truthy(le(b, c)))"},
		{name: "Member Access", expr: "hdr.count", expectedCEL: "hdr.count"},
		{name: "Index", expr: "items[i].len", expectedCEL: "at(items, i).len"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ast, err := expression.Parse(tt.expr)
			require.NoError(t, err)

			got, err := NewASTTransformer().Transform(ast)
			require.NoError(t, err)
			assert.Equal(t, tt.expectedCEL, got)
		})
	}
}

func TestASTTransformer_Reuse(t *testing.T) {
	tr := NewASTTransformer()
	first, err := tr.Transform(&expression.Id{Name: "a"})
	require.NoError(t, err)
	second, err := tr.Transform(&expression.Id{Name: "b"})
	require.NoError(t, err)

	assert.Equal(t, "a", first)
	assert.Equal(t, "b", second)
}
