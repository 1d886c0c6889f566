package cel

import (
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	expr "github.com/twinfer/bintype/pkg/expression"
)

// bitwiseFunctions returns CEL function declarations for bitwise operations.
func bitwiseFunctions() cel.EnvOption {
	return cel.Lib(&bitwiseLib{})
}

type bitwiseLib struct{}

func (*bitwiseLib) CompileOptions() []cel.EnvOption {
	return []cel.EnvOption{
		binaryOperator("bitAnd", expr.BinOpBitwiseAnd),
		binaryOperator("bitOr", expr.BinOpBitwiseOr),
		binaryOperator("bitXor", expr.BinOpBitwiseXor),
		binaryOperator("shl", expr.BinOpLShift),
		binaryOperator("shr", expr.BinOpRShift),

		cel.Function("bitNot",
			cel.Overload("bitnot_dyn", []*cel.Type{cel.DynType}, cel.DynType,
				cel.UnaryBinding(func(val ref.Val) ref.Val {
					switch v := nativeValue(val).(type) {
					case int64:
						return types.Int(^v)
					case bool:
						if v {
							return types.Int(^int64(1))
						}
						return types.Int(^int64(0))
					}
					return types.NewErr("bad operand type for unary ~: %T", val.Value())
				}),
			),
		),
	}
}

func (*bitwiseLib) ProgramOptions() []cel.ProgramOption {
	return []cel.ProgramOption{}
}
