package expression

import (
	"fmt"
	"strconv"
)

// Pos is a source position inside a definition file.
type Pos struct {
	Line   int
	Column int
}

func (p Pos) String() string { return fmt.Sprintf("%d:%d", p.Line, p.Column) }

// Expr is the base interface for all expression AST nodes.
// Nodes are immutable once built by the parser.
type Expr interface {
	Pos() Pos             // All expression nodes carry their source position
	String() string       // Canonical textual form
	Accept(Visitor) error // Method to accept a visitor
}

// Visitor defines the interface for traversing the expression AST.
type Visitor interface {
	VisitBoolLit(*BoolLit) error
	VisitIntLit(*IntLit) error
	VisitStrLit(*StrLit) error
	VisitFltLit(*FltLit) error
	VisitId(*Id) error
	VisitInput(*Input) error
	VisitUnOp(*UnOp) error
	VisitBinOp(*BinOp) error
	VisitAttr(*Attr) error
	VisitArrayIdx(*ArrayIdx) error
}

// --- Literal Expressions ---

type BoolLit struct {
	Value bool
	P     Pos
}

func (b *BoolLit) Pos() Pos { return b.P }
func (b *BoolLit) String() string {
	if b.Value {
		return "true"
	}
	return "false"
}
func (b *BoolLit) Accept(v Visitor) error { return v.VisitBoolLit(b) }

type IntLit struct {
	Value int64
	P     Pos
}

func (i *IntLit) Pos() Pos               { return i.P }
func (i *IntLit) String() string         { return strconv.FormatInt(i.Value, 10) }
func (i *IntLit) Accept(v Visitor) error { return v.VisitIntLit(i) }

type StrLit struct {
	Value string
	P     Pos
}

func (s *StrLit) Pos() Pos               { return s.P }
func (s *StrLit) String() string         { return strconv.Quote(s.Value) }
func (s *StrLit) Accept(v Visitor) error { return v.VisitStrLit(s) }

type FltLit struct {
	Value float64
	P     Pos
}

func (f *FltLit) Pos() Pos { return f.P }
func (f *FltLit) String() string {
	s := strconv.FormatFloat(f.Value, 'g', -1, 64)
	for _, c := range s {
		if c == '.' || c == 'e' || c == 'n' || c == 'I' {
			return s
		}
	}
	return s + ".0"
}
func (f *FltLit) Accept(v Visitor) error { return v.VisitFltLit(f) }

// --- References ---

// Id references a field of the instance under construction by name.
type Id struct {
	Name string
	P    Pos
}

func (id *Id) Pos() Pos               { return id.P }
func (id *Id) String() string         { return id.Name }
func (id *Id) Accept(v Visitor) error { return v.VisitId(id) }

// Input is the `$input` token of an until predicate: the element just decoded.
type Input struct {
	P Pos
}

func (i *Input) Pos() Pos               { return i.P }
func (i *Input) String() string         { return "$input" }
func (i *Input) Accept(v Visitor) error { return v.VisitInput(i) }

// --- Operations ---

// UnOpOp (Unary Operator Type)
type UnOpOp int

const (
	UnOpNot        UnOpOp = iota // not
	UnOpBitwiseNot               // ~
	UnOpNeg                      // - (unary negation)
)

func (op UnOpOp) String() string {
	switch op {
	case UnOpNot:
		return "not "
	case UnOpBitwiseNot:
		return "~"
	case UnOpNeg:
		return "-"
	default:
		return "UNKNOWN_UNOP"
	}
}

type UnOp struct {
	Op  UnOpOp
	Arg Expr
	P   Pos
}

func (uo *UnOp) Pos() Pos               { return uo.P }
func (uo *UnOp) String() string         { return fmt.Sprintf("(%s%s)", uo.Op, uo.Arg) }
func (uo *UnOp) Accept(v Visitor) error { return v.VisitUnOp(uo) }

// BinOpOp (Binary Operator Type)
type BinOpOp int

const (
	// Arithmetic
	BinOpAdd      BinOpOp = iota // +
	BinOpSub                     // -
	BinOpMul                     // *
	BinOpDiv                     // /
	BinOpFloorDiv                // //
	BinOpMod                     // %
	BinOpPow                     // **
	// Bitwise
	BinOpLShift     // <<
	BinOpRShift     // >>
	BinOpBitwiseAnd // &
	BinOpBitwiseOr  // |
	BinOpBitwiseXor // ^
	// Comparison
	BinOpEq    // ==
	BinOpNotEq // !=
	BinOpLt    // <
	BinOpGt    // >
	BinOpLtEq  // <=
	BinOpGtEq  // >=
	// Logical
	BinOpAnd // and
	BinOpOr  // or
)

func (op BinOpOp) String() string {
	switch op {
	case BinOpAdd:
		return "+"
	case BinOpSub:
		return "-"
	case BinOpMul:
		return "*"
	case BinOpDiv:
		return "/"
	case BinOpFloorDiv:
		return "//"
	case BinOpMod:
		return "%"
	case BinOpPow:
		return "**"
	case BinOpLShift:
		return "<<"
	case BinOpRShift:
		return ">>"
	case BinOpBitwiseAnd:
		return "&"
	case BinOpBitwiseOr:
		return "|"
	case BinOpBitwiseXor:
		return "^"
	case BinOpEq:
		return "=="
	case BinOpNotEq:
		return "!="
	case BinOpLt:
		return "<"
	case BinOpGt:
		return ">"
	case BinOpLtEq:
		return "<="
	case BinOpGtEq:
		return ">="
	case BinOpAnd:
		return "and"
	case BinOpOr:
		return "or"
	default:
		return "UNKNOWN_BINOP"
	}
}

// IsComparison reports whether op yields a boolean from two ordered operands.
func (op BinOpOp) IsComparison() bool {
	return op >= BinOpEq && op <= BinOpGtEq
}

type BinOp struct {
	Op   BinOpOp
	Arg1 Expr
	Arg2 Expr
	P    Pos
}

func (bo *BinOp) Pos() Pos               { return bo.P }
func (bo *BinOp) String() string         { return fmt.Sprintf("(%s %s %s)", bo.Arg1, bo.Op, bo.Arg2) }
func (bo *BinOp) Accept(v Visitor) error { return v.VisitBinOp(bo) }

// --- Member access / array access ---

type Attr struct {
	Value Expr   // The expression being accessed (e.g., `hdr`)
	Name  string // The attribute name (e.g., `count` in `hdr.count`)
	P     Pos
}

func (a *Attr) Pos() Pos               { return a.P }
func (a *Attr) String() string         { return fmt.Sprintf("%s.%s", a.Value, a.Name) }
func (a *Attr) Accept(v Visitor) error { return v.VisitAttr(a) }

type ArrayIdx struct {
	Value Expr // The array expression (e.g., `sizes`)
	Idx   Expr // The index expression (e.g., `i` in `sizes[i]`)
	P     Pos
}

func (ai *ArrayIdx) Pos() Pos               { return ai.P }
func (ai *ArrayIdx) String() string         { return fmt.Sprintf("%s[%s]", ai.Value, ai.Idx) }
func (ai *ArrayIdx) Accept(v Visitor) error { return v.VisitArrayIdx(ai) }
