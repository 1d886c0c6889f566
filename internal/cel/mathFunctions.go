package cel

import (
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	expr "github.com/twinfer/bintype/pkg/expression"
)

// operatorFunctions declares the arithmetic and comparison operators of the
// bintype expression language.
func operatorFunctions() cel.EnvOption {
	return cel.Lib(&operatorLib{})
}

// mathFunctions declares truthiness, negation and indexing helpers.
func mathFunctions() cel.EnvOption {
	return cel.Lib(&mathLib{})
}

type operatorLib struct{}

func (*operatorLib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		binaryOperator("add", expr.BinOpAdd),
		binaryOperator("sub", expr.BinOpSub),
		binaryOperator("mul", expr.BinOpMul),
		binaryOperator("trueDiv", expr.BinOpDiv),
		binaryOperator("floorDiv", expr.BinOpFloorDiv),
		binaryOperator("floorMod", expr.BinOpMod),
		binaryOperator("pow", expr.BinOpPow),
		binaryOperator("eq", expr.BinOpEq),
		binaryOperator("ne", expr.BinOpNotEq),
		binaryOperator("lt", expr.BinOpLt),
		binaryOperator("gt", expr.BinOpGt),
		binaryOperator("le", expr.BinOpLtEq),
		binaryOperator("ge", expr.BinOpGtEq),
	}
}

func (*operatorLib) ProgramOptions() []cel.ProgramOption {
	return []cel.ProgramOption{}
}

type mathLib struct{}

func (*mathLib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		cel.Function("truthy",
			cel.Overload("truthy_dyn", []*cel.Type{cel.DynType}, cel.BoolType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					if lister, ok := val.(traits.Lister); ok {
						return types.Bool(lister.Size().(types.Int) > 0)
					}
					if mapper, ok := val.(traits.Mapper); ok {
						return types.Bool(mapper.Size().(types.Int) > 0)
					}
					return types.Bool(expr.Truthy(nativeValue(val)))
				}),
			),
		),

		cel.Function("neg",
			cel.Overload("neg_dyn", []*cel.Type{cel.DynType}, cel.DynType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					res, err := expr.Apply(expr.BinOpSub, int64(0), nativeValue(val))
					if err != nil {
						return types.NewErr("bad operand type for unary -: %T", val.Value())
					}
					return types.DefaultTypeAdapter.NativeToValue(res)
				}),
			),
		),

		// at indexes a list, counting negative indices from the end
		cel.Function("at",
			cel.Overload("at_dyn_dyn", []*cel.Type{cel.DynType, cel.DynType}, cel.DynType,
				cel.BinaryBinding(func(list, idx ref.Val) ref.Val {
					lister, ok := list.(traits.Lister)
					if !ok {
						return types.NewErr("value of type %s is not indexable", list.Type())
					}
					i, ok := expr.AsInt(nativeValue(idx))
					if !ok {
						return types.NewErr("index %v is not an integer", idx.Value())
					}
					size := int64(lister.Size().(types.Int))
					if i < 0 {
						i += size
					}
					if i < 0 || i >= size {
						return types.NewErr("index %d out of range [0, %d)", i, size)
					}
					return lister.Get(types.Int(i))
				}),
			),
		),
	}
}

func (*mathLib) ProgramOptions() []cel.ProgramOption {
	return []cel.ProgramOption{}
}

// binaryOperator declares fn as a dyn x dyn function applying op with the
// native evaluator's rules.
func binaryOperator(fn string, op expr.BinOpOp) cel.EnvOption {
	return cel.Function(fn,
		cel.Overload(fn+"_dyn_dyn", []*cel.Type{cel.DynType, cel.DynType}, cel.DynType,
			cel.BinaryBinding(func(lhs, rhs ref.Val) ref.Val {
				res, err := expr.Apply(op, nativeValue(lhs), nativeValue(rhs))
				if err != nil {
					return types.NewErr("%s: %v", fn, err)
				}
				return types.DefaultTypeAdapter.NativeToValue(res)
			}),
		),
	)
}

// nativeValue unwraps a CEL scalar into the evaluator's value domain.
func nativeValue(val ref.Val) any {
	switch v := val.(type) {
	case types.Int:
		return int64(v)
	case types.Uint:
		return int64(v)
	case types.Double:
		return float64(v)
	case types.Bool:
		return bool(v)
	case types.String:
		return string(v)
	}
	return val.Value()
}
