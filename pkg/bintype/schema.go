package bintype

import (
	"fmt"
	"strings"

	"github.com/twinfer/bintype/pkg/expression"
)

// ByteOrder of a multi-byte scalar. OrderInherit defers to the closest
// enclosing field that sets one, falling back to little-endian.
type ByteOrder int

const (
	OrderInherit ByteOrder = iota
	LittleEndian
	BigEndian
)

func (o ByteOrder) String() string {
	switch o {
	case LittleEndian:
		return "little"
	case BigEndian:
		return "big"
	default:
		return "inherit"
	}
}

// resolve returns o, or parent when o is OrderInherit.
func (o ByteOrder) resolve(parent ByteOrder) ByteOrder {
	if o != OrderInherit {
		return o
	}
	if parent == OrderInherit {
		return LittleEndian
	}
	return parent
}

// TypeKind identifies the TypeDescriptor variant.
type TypeKind int

const (
	KindBasic TypeKind = iota
	KindUser
	KindArray
	KindString
	KindPad
)

// LengthKind selects how an array decides its element count.
type LengthKind int

const (
	LengthFixed LengthKind = iota
	LengthExpr
	LengthRest
	LengthUntil
)

func (k LengthKind) String() string {
	switch k {
	case LengthFixed:
		return "fixed"
	case LengthExpr:
		return "expr"
	case LengthRest:
		return "rest"
	case LengthUntil:
		return "until"
	default:
		return "unknown"
	}
}

// LengthMode is the element count rule of an array: a literal count, a count
// expression over earlier fields, the rest of the stream, or an until
// predicate evaluated against each decoded element.
type LengthMode struct {
	Kind  LengthKind
	Count int
	Expr  expression.Expr
}

func (l LengthMode) String() string {
	switch l.Kind {
	case LengthFixed:
		return fmt.Sprintf("[%d]", l.Count)
	case LengthExpr:
		return fmt.Sprintf("[%s]", l.Expr)
	default:
		return "[]"
	}
}

// AttrKind names an attribute carried by a type descriptor.
type AttrKind string

const (
	AttrByteOrder AttrKind = "byteorder"
	AttrRest      AttrKind = "restofdata"
	AttrUntil     AttrKind = "until"
	AttrEncoding  AttrKind = "encoding"
	AttrIf        AttrKind = "if"
)

// Attribute is a resolved `&name` attribute.
type Attribute struct {
	Kind  AttrKind
	Value string
	Expr  expression.Expr
}

func (a Attribute) String() string {
	switch {
	case a.Expr != nil:
		return fmt.Sprintf("&%s (%s)", a.Kind, a.Expr)
	case a.Value != "":
		return fmt.Sprintf("&%s %s", a.Kind, a.Value)
	default:
		return "&" + string(a.Kind)
	}
}

// TypeDescriptor is the compiled type of a field. Descriptors are shared by
// every instance and never change after compilation.
type TypeDescriptor interface {
	Kind() TypeKind
	String() string
	Attributes() []Attribute
	typeDescriptor()
}

// BasicType is a primitive scalar.
type BasicType struct {
	Name   string
	Width  int
	Signed bool
	Float  bool
	Order  ByteOrder
}

func (*BasicType) Kind() TypeKind { return KindBasic }
func (t *BasicType) String() string {
	return t.Name
}
func (t *BasicType) Attributes() []Attribute {
	if t.Order == OrderInherit {
		return nil
	}
	return []Attribute{{Kind: AttrByteOrder, Value: t.Order.String()}}
}
func (*BasicType) typeDescriptor() {}

// UserType references another class by name; the class is looked up in the
// module at codec time, so forward and self references need no ordering.
type UserType struct {
	Class string
	Order ByteOrder
}

func (*UserType) Kind() TypeKind   { return KindUser }
func (t *UserType) String() string { return t.Class }
func (t *UserType) Attributes() []Attribute {
	if t.Order == OrderInherit {
		return nil
	}
	return []Attribute{{Kind: AttrByteOrder, Value: t.Order.String()}}
}
func (*UserType) typeDescriptor() {}

// ArrayType is a sequence of Elem.
type ArrayType struct {
	Elem   TypeDescriptor
	Length LengthMode
}

func (*ArrayType) Kind() TypeKind { return KindArray }
func (t *ArrayType) String() string {
	return t.Elem.String() + t.Length.String()
}
func (t *ArrayType) Attributes() []Attribute {
	return append(lengthAttrs(t.Length), t.Elem.Attributes()...)
}
func (*ArrayType) typeDescriptor() {}

// StringType is an array of one-byte characters exposed as text.
type StringType struct {
	Elem     *BasicType
	Length   LengthMode
	Encoding string
}

func (*StringType) Kind() TypeKind { return KindString }
func (t *StringType) String() string {
	return "string" + t.Length.String()
}
func (t *StringType) Attributes() []Attribute {
	attrs := lengthAttrs(t.Length)
	if t.Encoding != "" {
		attrs = append(attrs, Attribute{Kind: AttrEncoding, Value: t.Encoding})
	}
	return attrs
}
func (*StringType) typeDescriptor() {}

// PadType emits filler so the byte count since the start of AlignField is a
// multiple of Modulus.
type PadType struct {
	AlignField string
	Modulus    int
}

func (*PadType) Kind() TypeKind { return KindPad }
func (t *PadType) String() string {
	return fmt.Sprintf("padding align %s %d", t.AlignField, t.Modulus)
}
func (*PadType) Attributes() []Attribute { return nil }
func (*PadType) typeDescriptor()         {}

func lengthAttrs(l LengthMode) []Attribute {
	switch l.Kind {
	case LengthRest:
		return []Attribute{{Kind: AttrRest}}
	case LengthUntil:
		return []Attribute{{Kind: AttrUntil, Expr: l.Expr}}
	}
	return nil
}

// Field is one member of a class, in wire order.
type Field struct {
	Name string
	Type TypeDescriptor
	// Cond, when set, makes the field present only if it evaluates truthy.
	Cond  expression.Expr
	Attrs []Attribute
	Pos   expression.Pos
}

// Optional reports whether the field carries an &if condition.
func (f *Field) Optional() bool { return f.Cond != nil }

func (f *Field) String() string {
	var sb strings.Builder
	sb.WriteString(f.Name)
	sb.WriteString(": ")
	sb.WriteString(f.Type.String())
	for _, a := range f.Attrs {
		sb.WriteByte(' ')
		sb.WriteString(a.String())
	}
	return sb.String()
}

// ClassDecl is a compiled record type: its fields in declaration order.
type ClassDecl struct {
	Name   string
	Fields []*Field
	Pos    expression.Pos

	index map[string]int
}

func newClassDecl(name string, pos expression.Pos, fields []*Field) *ClassDecl {
	c := &ClassDecl{Name: name, Fields: fields, Pos: pos, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		c.index[f.Name] = i
	}
	return c
}

// Field returns the named field.
func (c *ClassDecl) Field(name string) (*Field, bool) {
	i, ok := c.index[name]
	if !ok {
		return nil, false
	}
	return c.Fields[i], true
}

// FieldIndex returns the declaration index of the named field, or -1.
func (c *ClassDecl) FieldIndex(name string) int {
	if i, ok := c.index[name]; ok {
		return i
	}
	return -1
}

func (c *ClassDecl) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "bintype %s:\n", c.Name)
	for _, f := range c.Fields {
		fmt.Fprintf(&sb, "    %s\n", f)
	}
	return sb.String()
}

// scalarTypes maps DSL scalar names to their layout.
var scalarTypes = map[string]BasicType{
	"uint8":  {Name: "uint8", Width: 1},
	"uint16": {Name: "uint16", Width: 2},
	"uint32": {Name: "uint32", Width: 4},
	"sint8":  {Name: "sint8", Width: 1, Signed: true},
	"sint16": {Name: "sint16", Width: 2, Signed: true},
	"sint32": {Name: "sint32", Width: 4, Signed: true},
	"float":  {Name: "float", Width: 4, Signed: true, Float: true},
	"string": {Name: "string", Width: 1},
}
