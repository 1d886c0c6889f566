package bintype

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/twinfer/bintype/pkg/dsl"
	"github.com/twinfer/bintype/pkg/expression"
)

func TestAnalyze_Descriptors(t *testing.T) {
	m, err := Compile(recordDef)
	require.NoError(t, err)

	c, ok := m.Class("Record")
	require.True(t, ok)
	require.Len(t, c.Fields, 5)

	names := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		names[i] = f.Name
	}
	assert.Equal(t, []string{"field_array_len", "values", "tail", "pad", "rest"}, names)

	values := c.Fields[1].Type.(*ArrayType)
	assert.Equal(t, LengthExpr, values.Length.Kind)
	assert.Equal(t, "(field_array_len * 5)", values.Length.Expr.String())
	assert.Equal(t, &BasicType{Name: "sint16", Width: 2, Signed: true, Order: BigEndian}, values.Elem)
	assert.Equal(t, []Attribute{{Kind: AttrByteOrder, Value: "big"}}, c.Fields[1].Attrs)

	tail := c.Fields[2].Type.(*ArrayType)
	assert.Equal(t, LengthUntil, tail.Length.Kind)
	assert.Equal(t, "($input != 0)", tail.Length.Expr.String())
	assert.Equal(t, AttrUntil, c.Fields[2].Attrs[0].Kind)

	assert.Equal(t, &PadType{AlignField: "values", Modulus: 4}, c.Fields[3].Type)
	assert.Equal(t, LengthRest, c.Fields[4].Type.(*ArrayType).Length.Kind)

	assert.Equal(t, 3, c.FieldIndex("pad"))
	assert.Equal(t, -1, c.FieldIndex("nope"))
	assert.Equal(t, "values: sint16[(field_array_len * 5)] &byteorder big", c.Fields[1].String())
}

func TestAnalyze_StringsAndConditions(t *testing.T) {
	m := MustCompile("bintype S:\n  flag: uint8\n  one: string\n  name: string[4] &encoding \"utf-16le\"\n  opt: uint8 &if (flag)\n")
	c, _ := m.Class("S")

	assert.Equal(t, &StringType{Elem: &BasicType{Name: "string", Width: 1}, Length: LengthMode{Kind: LengthFixed, Count: 1}}, c.Fields[1].Type)

	name := c.Fields[2].Type.(*StringType)
	assert.Equal(t, LengthMode{Kind: LengthFixed, Count: 4}, name.Length)
	assert.Equal(t, "utf-16le", name.Encoding)

	opt := c.Fields[3]
	assert.True(t, opt.Optional())
	assert.Equal(t, &expression.Id{Name: "flag", P: expression.Pos{Line: 5, Column: 19}}, opt.Cond)
}

func TestCompile_Idempotent(t *testing.T) {
	def := recordDef + packetDef
	m1, err := Compile(def)
	require.NoError(t, err)
	m2, err := Compile(def)
	require.NoError(t, err)

	assert.Equal(t, m1.Classes(), m2.Classes())
	for _, name := range m1.Classes() {
		c1, _ := m1.Class(name)
		c2, _ := m2.Class(name)
		assert.NotSame(t, c1, c2)
		if diff := cmp.Diff(c1, c2, cmpopts.IgnoreUnexported(ClassDecl{})); diff != "" {
			t.Errorf("class %s differs between compilations (-first +second):\n%s", name, diff)
		}
	}
}

func TestCompile_SemanticErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		pos  expression.Pos
		msg  string
	}{
		{"UnknownType", "bintype A:\n  x: Foo\n", expression.Pos{Line: 2, Column: 6}, `unknown type "Foo"`},
		{"DuplicateClass", "bintype A:\n  x: uint8\nbintype A:\n  y: uint8\n", expression.Pos{Line: 3, Column: 1}, "duplicate bintype A"},
		{"DuplicateField", "bintype A:\n  x: uint8\n  x: uint16\n", expression.Pos{Line: 3, Column: 3}, "duplicate field x"},
		{"ForwardFieldReference", "bintype A:\n  arr: uint8[n]\n  n: uint8\n", expression.Pos{Line: 2, Column: 14}, `references field "n"`},
		{"InputOutsideUntil", "bintype A:\n  a: uint8[$input]\n", expression.Pos{Line: 2, Column: 12}, "$input is only valid inside &until"},
		{"InputInsideIf", "bintype A:\n  a: uint8 &if ($input)\n", expression.Pos{Line: 2, Column: 17}, "$input is only valid inside &until"},
		{"RestOnScalar", "bintype A:\n  a: uint8 &restofdata\n", expression.Pos{Line: 2, Column: 12}, "applies to arrays only"},
		{"RestWithCount", "bintype A:\n  a: uint8[3] &rest\n", expression.Pos{Line: 2, Column: 15}, "empty brackets"},
		{"MissingLength", "bintype A:\n  a: uint8[]\n", expression.Pos{Line: 2, Column: 11}, "needs &restofdata or &until"},
		{"UnknownAttribute", "bintype A:\n  a: uint8 &foo\n", expression.Pos{Line: 2, Column: 12}, "unknown attribute &foo"},
		{"BadByteOrder", "bintype A:\n  a: uint16 &byteorder middle\n", expression.Pos{Line: 2, Column: 13}, "expects little or big"},
		{"UnknownEncoding", "bintype A:\n  s: string[2] &encoding \"nope\"\n", expression.Pos{Line: 2, Column: 16}, "&encoding"},
		{"EncodingOnScalar", "bintype A:\n  a: uint8 &encoding \"ascii\"\n", expression.Pos{Line: 2, Column: 12}, "string fields only"},
		{"ZeroModulus", "bintype A:\n  a: uint8\n  p: padding align a 0\n", expression.Pos{Line: 3, Column: 22}, "positive"},
		{"PaddingForwardField", "bintype A:\n  p: padding align b 4\n  b: uint8\n", expression.Pos{Line: 2, Column: 20}, "not declared before"},
		{"SelfContainment", "bintype A:\n  a: A\n", expression.Pos{Line: 2, Column: 3}, "contains itself"},
		{"MalformedExpression", "bintype A:\n  n: uint8\n  a: uint8[n +]\n", expression.Pos{Line: 3, Column: 15}, "malformed array length"},
		{"SyntaxError", "bintype A:\n  a uint8\n", expression.Pos{Line: 2, Column: 5}, "expected ':'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.src)
			require.Error(t, err)

			var ce *CompileError
			require.True(t, errors.As(err, &ce))
			require.NotEmpty(t, ce.Errors)
			assert.Equal(t, tt.pos, ce.Errors[0].Pos, ce.Error())
			assert.Contains(t, ce.Errors[0].Msg, tt.msg)

			var se *SemanticError
			assert.True(t, errors.As(err, &se))
		})
	}
}

func TestCompile_ReportsEveryError(t *testing.T) {
	_, err := Compile("bintype A:\n  x: Foo\n  y: Bar\n  z: uint8 &nope\n")

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	require.Len(t, ce.Errors, 3)
	assert.Equal(t, 2, ce.Errors[0].Pos.Line)
	assert.Equal(t, 3, ce.Errors[1].Pos.Line)
	assert.Equal(t, 4, ce.Errors[2].Pos.Line)
}

func TestCompile_ForwardAndRecursiveTypes(t *testing.T) {
	def := `
bintype List:
    head: Node

bintype Node:
    more: uint8
    next: Node &if (more)
    children: Node[] &until ($input.more)
`
	_, err := Compile(def)
	require.NoError(t, err)

	chain := "bintype Node:\n  more: uint8\n  next: Node &if (more)\n"
	inst := parseBytes(t, chain, "Node", []byte{0x01, 0x01, 0x00})

	depth := 0
	for cur := inst; cur != nil; depth++ {
		cur, _ = cur.Child("next")
	}
	assert.Equal(t, 3, depth)

	out, err := inst.Bytes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x01, 0x00}, out)
}

func TestAnalyze_ParseTree(t *testing.T) {
	file := &dsl.File{Classes: []*dsl.ClassNode{{
		Name: "A",
		P:    dsl.Pos{Line: 1, Column: 1},
		Body: &dsl.BodyNode{Fields: []*dsl.FieldNode{{
			Name: "a",
			Type: &dsl.PadTypeNode{Align: "missing", Modulus: "4", P: dsl.Pos{Line: 2, Column: 6}, AlignPos: dsl.Pos{Line: 2, Column: 20}},
			P:    dsl.Pos{Line: 2, Column: 3},
		}}},
	}}}

	classes, err := Analyze(file)
	assert.Nil(t, classes)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, dsl.Pos{Line: 2, Column: 20}, ce.Errors[0].Pos)
}

func TestStaticSize(t *testing.T) {
	tests := []struct {
		name  string
		def   string
		size  int
		fixed bool
	}{
		{"Scalars", "bintype A:\n  a: uint8\n  b: sint32\n  c: float\n", 9, true},
		{"Padding", "bintype A:\n  a: uint8[3]\n  p: padding align a 4\n  b: uint16\n", 6, true},
		{"Nested", "bintype A:\n  b: B[2]\nbintype B:\n  x: uint16\n  s: string[3]\n", 10, true},
		{"ExprLength", "bintype A:\n  n: uint8\n  d: uint8[n]\n", 0, false},
		{"Conditional", "bintype A:\n  n: uint8\n  d: uint8 &if (n)\n", 0, false},
		{"Rest", "bintype A:\n  d: uint8[] &rest\n", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size, ok := MustCompile(tt.def).StaticSize("A")
			assert.Equal(t, tt.fixed, ok)
			assert.Equal(t, tt.size, size)
		})
	}

	_, ok := MustCompile("bintype A:\n  a: uint8\n").StaticSize("B")
	assert.False(t, ok)
}
