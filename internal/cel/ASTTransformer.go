package cel

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	expr "github.com/twinfer/bintype/pkg/expression"
)

// InputVar is the CEL variable that carries $input.
const InputVar = "_input"

// opFunctions maps value-producing binary operators onto the CEL functions
// registered by operatorFunctions.
var opFunctions = map[expr.BinOpOp]string{
	expr.BinOpAdd:        "add",
	expr.BinOpSub:        "sub",
	expr.BinOpMul:        "mul",
	expr.BinOpDiv:        "trueDiv",
	expr.BinOpFloorDiv:   "floorDiv",
	expr.BinOpMod:        "floorMod",
	expr.BinOpPow:        "pow",
	expr.BinOpLShift:     "shl",
	expr.BinOpRShift:     "shr",
	expr.BinOpBitwiseAnd: "bitAnd",
	expr.BinOpBitwiseOr:  "bitOr",
	expr.BinOpBitwiseXor: "bitXor",
	expr.BinOpEq:         "eq",
	expr.BinOpNotEq:      "ne",
	expr.BinOpLt:         "lt",
	expr.BinOpGt:         "gt",
	expr.BinOpLtEq:       "le",
	expr.BinOpGtEq:       "ge",
}

// ASTTransformer renders a bintype expression AST as CEL source. Operators
// become calls to the functions of NewEnvironment so both evaluators share
// one set of arithmetic rules.
type ASTTransformer struct {
	sb strings.Builder
}

// NewASTTransformer creates a new ASTTransformer.
func NewASTTransformer() *ASTTransformer {
	return &ASTTransformer{}
}

// Transform returns the CEL source for node.
func (t *ASTTransformer) Transform(node expr.Expr) (string, error) {
	t.sb.Reset()
	if err := node.Accept(t); err != nil {
		return "", fmt.Errorf("failed to transform expression %s: %w", node, err)
	}
	return t.sb.String(), nil
}

func (t *ASTTransformer) VisitBoolLit(node *expr.BoolLit) error {
	t.sb.WriteString(strconv.FormatBool(node.Value))
	return nil
}

func (t *ASTTransformer) VisitIntLit(node *expr.IntLit) error {
	t.sb.WriteString(strconv.FormatInt(node.Value, 10))
	return nil
}

func (t *ASTTransformer) VisitStrLit(node *expr.StrLit) error {
	t.sb.WriteString(strconv.Quote(node.Value))
	return nil
}

func (t *ASTTransformer) VisitFltLit(node *expr.FltLit) error {
	if math.IsInf(node.Value, 0) || math.IsNaN(node.Value) {
		return fmt.Errorf("float literal %v has no CEL form", node.Value)
	}
	s := strconv.FormatFloat(node.Value, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	t.sb.WriteString(s)
	return nil
}

func (t *ASTTransformer) VisitId(node *expr.Id) error {
	t.sb.WriteString(node.Name)
	return nil
}

func (t *ASTTransformer) VisitInput(*expr.Input) error {
	t.sb.WriteString(InputVar)
	return nil
}

func (t *ASTTransformer) VisitUnOp(node *expr.UnOp) error {
	switch node.Op {
	case expr.UnOpNot:
		t.sb.WriteString("!truthy(")
	case expr.UnOpNeg:
		t.sb.WriteString("neg(")
	case expr.UnOpBitwiseNot:
		t.sb.WriteString("bitNot(")
	default:
		return fmt.Errorf("unsupported unary operator %v", node.Op)
	}
	if err := node.Arg.Accept(t); err != nil {
		return err
	}
	t.sb.WriteString(")")
	return nil
}

func (t *ASTTransformer) VisitBinOp(node *expr.BinOp) error {
	switch node.Op {
	case expr.BinOpAnd, expr.BinOpOr:
		logical := " && "
		if node.Op == expr.BinOpOr {
			logical = " || "
		}
		t.sb.WriteString("(truthy(")
		if err := node.Arg1.Accept(t); err != nil {
			return err
		}
		t.sb.WriteString(")" + logical + "truthy(")
		if err := node.Arg2.Accept(t); err != nil {
			return err
		}
		t.sb.WriteString("))")
		return nil
	}

	fn, ok := opFunctions[node.Op]
	if !ok {
		return fmt.Errorf("unsupported binary operator %v", node.Op)
	}
	return t.call(fn, node.Arg1, node.Arg2)
}

func (t *ASTTransformer) VisitAttr(node *expr.Attr) error {
	if err := node.Value.Accept(t); err != nil {
		return err
	}
	t.sb.WriteString(".")
	t.sb.WriteString(node.Name)
	return nil
}

func (t *ASTTransformer) VisitArrayIdx(node *expr.ArrayIdx) error {
	return t.call("at", node.Value, node.Idx)
}

func (t *ASTTransformer) call(fn string, args ...expr.Expr) error {
	t.sb.WriteString(fn)
	t.sb.WriteString("(")
	for i, a := range args {
		if i > 0 {
			t.sb.WriteString(", ")
		}
		if err := a.Accept(t); err != nil {
			return err
		}
	}
	t.sb.WriteString(")")
	return nil
}
