package expression

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	// ErrUnresolved is wrapped by every ReferenceError.
	ErrUnresolved = errors.New("unresolved reference")
	// ErrDivisionByZero is returned by /, // and % with a zero divisor.
	ErrDivisionByZero = errors.New("division by zero")
)

// ReferenceError reports a name that could not be resolved at evaluation time.
type ReferenceError struct {
	Name string
	Pos  Pos
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s: %s at %s", ErrUnresolved, e.Name, e.Pos)
}

func (e *ReferenceError) Unwrap() error { return ErrUnresolved }

// EvalError is a type or domain error raised while evaluating a node.
type EvalError struct {
	Pos Pos
	Msg string
	Err error
}

func (e *EvalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evaluating at %s: %s: %v", e.Pos, e.Msg, e.Err)
	}
	return fmt.Sprintf("evaluating at %s: %s", e.Pos, e.Msg)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Scope resolves the names an expression reads. Lookup only sees fields the
// caller has already populated.
type Scope interface {
	Lookup(name string) (any, bool)
	// Input returns the value bound to $input, if any.
	Input() (any, bool)
}

// Object is a structured value whose members can be read with `.name`.
type Object interface {
	Lookup(name string) (any, bool)
}

// Indexable is a sequence value that can be read with `[i]`.
type Indexable interface {
	Len() int
	Index(i int) (any, bool)
}

// MapScope is a Scope backed by a map. The key "$input" binds InputRef.
type MapScope map[string]any

func (m MapScope) Lookup(name string) (any, bool) {
	v, ok := m[name]
	return v, ok
}

func (m MapScope) Input() (any, bool) {
	v, ok := m["$input"]
	return v, ok
}

// Eval evaluates expr against scope. The result is one of int64, float64,
// bool, string, or a structured value handed out by the scope.
func Eval(expr Expr, scope Scope) (any, error) {
	e := &evaluator{scope: scope}
	if err := expr.Accept(e); err != nil {
		return nil, err
	}
	return e.result, nil
}

// EvalInt evaluates expr and converts the result to an integer.
func EvalInt(expr Expr, scope Scope) (int64, error) {
	v, err := Eval(expr, scope)
	if err != nil {
		return 0, err
	}
	i, ok := AsInt(v)
	if !ok {
		return 0, &EvalError{Pos: expr.Pos(), Msg: fmt.Sprintf("%s is not an integer (%T)", expr, v)}
	}
	return i, nil
}

// EvalBool evaluates expr and applies truthiness to the result.
func EvalBool(expr Expr, scope Scope) (bool, error) {
	v, err := Eval(expr, scope)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// evaluator is a Visitor that leaves the value of the visited node in result.
type evaluator struct {
	scope  Scope
	result any
}

func (e *evaluator) eval(x Expr) (any, error) {
	if err := x.Accept(e); err != nil {
		return nil, err
	}
	return e.result, nil
}

func (e *evaluator) VisitBoolLit(n *BoolLit) error { e.result = n.Value; return nil }
func (e *evaluator) VisitIntLit(n *IntLit) error   { e.result = n.Value; return nil }
func (e *evaluator) VisitStrLit(n *StrLit) error   { e.result = n.Value; return nil }
func (e *evaluator) VisitFltLit(n *FltLit) error   { e.result = n.Value; return nil }

func (e *evaluator) VisitId(n *Id) error {
	if e.scope == nil {
		return &ReferenceError{Name: n.Name, Pos: n.P}
	}
	v, ok := e.scope.Lookup(n.Name)
	if !ok {
		return &ReferenceError{Name: n.Name, Pos: n.P}
	}
	e.result = Normalize(v)
	return nil
}

func (e *evaluator) VisitInput(n *Input) error {
	if e.scope == nil {
		return &ReferenceError{Name: "$input", Pos: n.P}
	}
	v, ok := e.scope.Input()
	if !ok {
		return &ReferenceError{Name: "$input", Pos: n.P}
	}
	e.result = Normalize(v)
	return nil
}

func (e *evaluator) VisitAttr(n *Attr) error {
	base, err := e.eval(n.Value)
	if err != nil {
		return err
	}
	obj, ok := base.(Object)
	if !ok {
		return &EvalError{Pos: n.P, Msg: fmt.Sprintf("%s has no fields (%T)", n.Value, base)}
	}
	v, ok := obj.Lookup(n.Name)
	if !ok {
		return &ReferenceError{Name: n.String(), Pos: n.P}
	}
	e.result = Normalize(v)
	return nil
}

func (e *evaluator) VisitArrayIdx(n *ArrayIdx) error {
	base, err := e.eval(n.Value)
	if err != nil {
		return err
	}
	idxVal, err := e.eval(n.Idx)
	if err != nil {
		return err
	}
	idx, ok := AsInt(idxVal)
	if !ok {
		return &EvalError{Pos: n.Idx.Pos(), Msg: fmt.Sprintf("index %s is not an integer", n.Idx)}
	}
	seq, ok := base.(Indexable)
	if !ok {
		return &EvalError{Pos: n.P, Msg: fmt.Sprintf("%s is not indexable (%T)", n.Value, base)}
	}
	if idx < 0 {
		idx += int64(seq.Len())
	}
	v, ok := seq.Index(int(idx))
	if !ok {
		return &ReferenceError{Name: n.String(), Pos: n.P}
	}
	e.result = Normalize(v)
	return nil
}

func (e *evaluator) VisitUnOp(n *UnOp) error {
	v, err := e.eval(n.Arg)
	if err != nil {
		return err
	}
	switch n.Op {
	case UnOpNot:
		e.result = !Truthy(v)
		return nil
	case UnOpNeg:
		switch x := numeric(v).(type) {
		case int64:
			e.result = -x
			return nil
		case float64:
			e.result = -x
			return nil
		}
	case UnOpBitwiseNot:
		if x, ok := numeric(v).(int64); ok {
			e.result = ^x
			return nil
		}
	}
	return &EvalError{Pos: n.P, Msg: fmt.Sprintf("bad operand type for unary %s: %T", strings.TrimSpace(n.Op.String()), v)}
}

func (e *evaluator) VisitBinOp(n *BinOp) error {
	lhs, err := e.eval(n.Arg1)
	if err != nil {
		return err
	}

	switch n.Op {
	case BinOpAnd:
		if !Truthy(lhs) {
			e.result = false
			return nil
		}
		rhs, err := e.eval(n.Arg2)
		if err != nil {
			return err
		}
		e.result = Truthy(rhs)
		return nil
	case BinOpOr:
		if Truthy(lhs) {
			e.result = true
			return nil
		}
		rhs, err := e.eval(n.Arg2)
		if err != nil {
			return err
		}
		e.result = Truthy(rhs)
		return nil
	}

	rhs, err := e.eval(n.Arg2)
	if err != nil {
		return err
	}
	res, err := binary(n.Op, lhs, rhs)
	if err != nil {
		return &EvalError{Pos: n.P, Msg: fmt.Sprintf("%s %s %s", n.Arg1, n.Op, n.Arg2), Err: err}
	}
	e.result = res
	return nil
}

// Apply evaluates a binary operator other than `and`/`or` on two values with
// the same rules Eval uses.
func Apply(op BinOpOp, lhs, rhs any) (any, error) {
	if op == BinOpAnd || op == BinOpOr {
		return nil, fmt.Errorf("%s short-circuits and has no value form", op)
	}
	return binary(op, Normalize(lhs), Normalize(rhs))
}

func binary(op BinOpOp, lhs, rhs any) (any, error) {
	if op.IsComparison() {
		return compare(op, lhs, rhs)
	}

	if ls, ok := lhs.(string); ok && op == BinOpAdd {
		if rs, ok := rhs.(string); ok {
			return ls + rs, nil
		}
	}

	l, r := numeric(lhs), numeric(rhs)
	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt {
		return intOp(op, li, ri)
	}
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if !lok || !rok {
		return nil, fmt.Errorf("unsupported operand types %T and %T", lhs, rhs)
	}
	return floatOp(op, lf, rf)
}

func intOp(op BinOpOp, a, b int64) (any, error) {
	switch op {
	case BinOpAdd:
		return a + b, nil
	case BinOpSub:
		return a - b, nil
	case BinOpMul:
		return a * b, nil
	case BinOpDiv:
		if b == 0 {
			return nil, ErrDivisionByZero
		}
		return float64(a) / float64(b), nil
	case BinOpFloorDiv:
		if b == 0 {
			return nil, ErrDivisionByZero
		}
		return FloorDiv(a, b), nil
	case BinOpMod:
		if b == 0 {
			return nil, ErrDivisionByZero
		}
		return FloorMod(a, b), nil
	case BinOpPow:
		if b < 0 {
			return math.Pow(float64(a), float64(b)), nil
		}
		return IntPow(a, b), nil
	case BinOpLShift:
		if b < 0 {
			return nil, errors.New("negative shift count")
		}
		if b >= 64 {
			return int64(0), nil
		}
		return a << uint(b), nil
	case BinOpRShift:
		if b < 0 {
			return nil, errors.New("negative shift count")
		}
		if b >= 64 {
			b = 63
		}
		return a >> uint(b), nil
	case BinOpBitwiseAnd:
		return a & b, nil
	case BinOpBitwiseOr:
		return a | b, nil
	case BinOpBitwiseXor:
		return a ^ b, nil
	}
	return nil, fmt.Errorf("unsupported integer operator %s", op)
}

func floatOp(op BinOpOp, a, b float64) (any, error) {
	switch op {
	case BinOpAdd:
		return a + b, nil
	case BinOpSub:
		return a - b, nil
	case BinOpMul:
		return a * b, nil
	case BinOpDiv:
		if b == 0 {
			return nil, ErrDivisionByZero
		}
		return a / b, nil
	case BinOpFloorDiv:
		if b == 0 {
			return nil, ErrDivisionByZero
		}
		return math.Floor(a / b), nil
	case BinOpMod:
		if b == 0 {
			return nil, ErrDivisionByZero
		}
		return a - b*math.Floor(a/b), nil
	case BinOpPow:
		return math.Pow(a, b), nil
	}
	return nil, fmt.Errorf("unsupported operand type float64 for %s", op)
}

func compare(op BinOpOp, lhs, rhs any) (any, error) {
	ls, lStr := lhs.(string)
	rs, rStr := rhs.(string)
	if lStr || rStr {
		if !(lStr && rStr) {
			switch op {
			case BinOpEq:
				return false, nil
			case BinOpNotEq:
				return true, nil
			}
			return nil, fmt.Errorf("cannot order %T and %T", lhs, rhs)
		}
		return ordered(op, strings.Compare(ls, rs)), nil
	}

	l, r := numeric(lhs), numeric(rhs)
	li, lInt := l.(int64)
	ri, rInt := r.(int64)
	if lInt && rInt {
		switch {
		case li < ri:
			return ordered(op, -1), nil
		case li > ri:
			return ordered(op, 1), nil
		}
		return ordered(op, 0), nil
	}
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	if !lok || !rok {
		switch op {
		case BinOpEq:
			return false, nil
		case BinOpNotEq:
			return true, nil
		}
		return nil, fmt.Errorf("cannot order %T and %T", lhs, rhs)
	}
	if math.IsNaN(lf) || math.IsNaN(rf) {
		return op == BinOpNotEq, nil
	}
	switch {
	case lf < rf:
		return ordered(op, -1), nil
	case lf > rf:
		return ordered(op, 1), nil
	}
	return ordered(op, 0), nil
}

func ordered(op BinOpOp, c int) bool {
	switch op {
	case BinOpEq:
		return c == 0
	case BinOpNotEq:
		return c != 0
	case BinOpLt:
		return c < 0
	case BinOpLtEq:
		return c <= 0
	case BinOpGt:
		return c > 0
	case BinOpGtEq:
		return c >= 0
	}
	return false
}

// FloorDiv divides rounding toward negative infinity.
func FloorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// FloorMod returns the remainder whose sign follows the divisor.
func FloorMod(a, b int64) int64 {
	m := a % b
	if m != 0 && ((m < 0) != (b < 0)) {
		m += b
	}
	return m
}

// IntPow raises a to the non-negative power b by squaring.
func IntPow(a, b int64) int64 {
	result := int64(1)
	for b > 0 {
		if b&1 == 1 {
			result *= a
		}
		a *= a
		b >>= 1
	}
	return result
}

// Truthy applies zero/empty-is-false truthiness.
func Truthy(v any) bool {
	switch x := Normalize(v).(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case Indexable:
		return x.Len() > 0
	default:
		return true
	}
}

// AsInt converts an evaluation result to an integer when it represents one.
func AsInt(v any) (int64, bool) {
	switch x := numeric(Normalize(v)).(type) {
	case int64:
		return x, true
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return int64(x), true
		}
	}
	return 0, false
}

// Normalize widens Go numeric types to int64/float64 and unwraps values that
// expose their scalar through Value().
func Normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x)
	case float32:
		return float64(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return v
	case interface{ Value() any }:
		return Normalize(x.Value())
	}
	return v
}

// numeric maps bools onto 0/1 so they take part in arithmetic.
func numeric(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}
