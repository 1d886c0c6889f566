// Package dsl reads bintype definition text into a parse tree.
//
// A definition is a sequence of indentation-delimited blocks:
//
//	bintype Header:
//	    magic: uint8[4]
//	    count: uint16 &byteorder big
//	    items: uint32[count]
//	    pad: padding align items 8
//
// The tree keeps the source text of every expression together with its
// position; expressions are compiled by the semantic analyzer.
package dsl

import (
	"github.com/twinfer/bintype/pkg/expression"
)

// Pos is a 1-based line/column position in the definition text.
type Pos = expression.Pos

// Node is implemented by every parse tree node. The set of node kinds is
// closed; consumers switch over the concrete types.
type Node interface {
	Pos() Pos
	node()
}

// TypeNode is a node that can appear in the type position of a field.
type TypeNode interface {
	Node
	typeNode()
}

// File is the root compound statement: every class in source order.
type File struct {
	Classes []*ClassNode
	P       Pos
}

// ClassNode is a `bintype <Name>:` block.
type ClassNode struct {
	Name string
	Body *BodyNode
	P    Pos
}

// BodyNode holds the indented field declarations of a class.
type BodyNode struct {
	Fields []*FieldNode
	P      Pos
}

// FieldNode is a single `<name>: <type> <attrs>` line.
type FieldNode struct {
	Name  string
	Type  TypeNode
	Attrs []*AttrNode
	P     Pos
}

// AttrNode is an `&name` attribute. Arg holds a bare word or quoted string
// argument, Expr a parenthesised expression argument; at most one is set.
type AttrNode struct {
	Name string
	Arg  string
	Expr *ExprNode
	P    Pos
}

// BasicTypeNode names one of the built-in scalar types.
type BasicTypeNode struct {
	Name string
	P    Pos
}

// UserTypeNode names another bintype class.
type UserTypeNode struct {
	Name string
	P    Pos
}

// ArrayTypeNode is `<elem>[<count>]`; Count is nil for empty brackets.
type ArrayTypeNode struct {
	Elem  TypeNode
	Count *ExprNode
	P     Pos
}

// PadTypeNode is `padding align <field> <modulus>`.
type PadTypeNode struct {
	Align      string
	AlignPos   Pos
	Modulus    string
	ModulusPos Pos
	P          Pos
}

// ExprNode is the unparsed source of an embedded expression.
type ExprNode struct {
	Src string
	P   Pos
}

func (n *File) Pos() Pos          { return n.P }
func (n *ClassNode) Pos() Pos     { return n.P }
func (n *BodyNode) Pos() Pos      { return n.P }
func (n *FieldNode) Pos() Pos     { return n.P }
func (n *AttrNode) Pos() Pos      { return n.P }
func (n *BasicTypeNode) Pos() Pos { return n.P }
func (n *UserTypeNode) Pos() Pos  { return n.P }
func (n *ArrayTypeNode) Pos() Pos { return n.P }
func (n *PadTypeNode) Pos() Pos   { return n.P }
func (n *ExprNode) Pos() Pos      { return n.P }

func (*File) node()          {}
func (*ClassNode) node()     {}
func (*BodyNode) node()      {}
func (*FieldNode) node()     {}
func (*AttrNode) node()      {}
func (*BasicTypeNode) node() {}
func (*UserTypeNode) node()  {}
func (*ArrayTypeNode) node() {}
func (*PadTypeNode) node()   {}
func (*ExprNode) node()      {}

func (*BasicTypeNode) typeNode() {}
func (*UserTypeNode) typeNode()  {}
func (*ArrayTypeNode) typeNode() {}
func (*PadTypeNode) typeNode()   {}

// BasicTypes lists the scalar type names recognised by the grammar.
var BasicTypes = map[string]bool{
	"uint8":  true,
	"uint16": true,
	"uint32": true,
	"sint8":  true,
	"sint16": true,
	"sint32": true,
	"float":  true,
	"string": true,
}
