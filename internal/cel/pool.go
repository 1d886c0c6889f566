// pool.go
package cel

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"

	"github.com/twinfer/bintype/pkg/expression"
)

// ExpressionPool caches compiled CEL programs keyed by expression source.
type ExpressionPool struct {
	mu          sync.RWMutex
	expressions map[string]cel.Program
	env         *cel.Env
}

// NewExpressionPool creates a new expression pool with the bintype CEL
// environment.
func NewExpressionPool() (*ExpressionPool, error) {
	env, err := NewEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create environment: %w", err)
	}
	return NewExpressionPoolWithEnv(env)
}

// NewExpressionPoolWithEnv creates a new expression pool with a custom CEL environment
func NewExpressionPoolWithEnv(env *cel.Env) (*ExpressionPool, error) {
	if env == nil {
		return nil, fmt.Errorf("CEL environment cannot be nil")
	}
	return &ExpressionPool{
		env:         env,
		expressions: make(map[string]cel.Program),
	}, nil
}

// Len returns the number of cached programs.
func (e *ExpressionPool) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.expressions)
}

// GetExpression retrieves or compiles an expression given in bintype syntax.
func (e *ExpressionPool) GetExpression(exprStr string) (cel.Program, error) {
	e.mu.RLock()
	if program, ok := e.expressions[exprStr]; ok {
		e.mu.RUnlock()
		return program, nil
	}
	e.mu.RUnlock()

	ast, err := expression.Parse(exprStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse expression '%s': %w", exprStr, err)
	}
	program, err := e.Compile(ast)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.expressions[exprStr] = program
	e.mu.Unlock()
	return program, nil
}

// Compile translates a parsed expression into a CEL program. Every field the
// expression reads is declared as a dyn variable.
func (e *ExpressionPool) Compile(ast expression.Expr) (cel.Program, error) {
	celExpr, err := NewASTTransformer().Transform(ast)
	if err != nil {
		return nil, err
	}

	var envOpts []cel.EnvOption
	for _, r := range expression.References(ast) {
		envOpts = append(envOpts, cel.Variable(r.Name, cel.DynType))
	}
	if len(expression.InputUses(ast)) > 0 {
		envOpts = append(envOpts, cel.Variable(InputVar, cel.DynType))
	}
	extEnv, err := e.env.Extend(envOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to extend environment: %w", err)
	}

	checked, issues := extEnv.Compile(celExpr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", celExpr, issues.Err())
	}
	program, err := extEnv.Program(checked)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}

// EvaluateExpression evaluates a compiled expression with parameters
func (e *ExpressionPool) EvaluateExpression(program cel.Program, params map[string]any) (any, error) {
	if params == nil {
		params = make(map[string]any)
	}
	activation, err := cel.NewActivation(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create activation: %w", err)
	}
	val, _, err := program.Eval(activation)
	if err != nil {
		return nil, fmt.Errorf("expression evaluation error: %w", err)
	}
	return ConvertFromRefVal(val)
}

// Evaluate compiles (or reuses) exprStr and evaluates it against vars.
func (e *ExpressionPool) Evaluate(exprStr string, vars map[string]any) (any, error) {
	program, err := e.GetExpression(exprStr)
	if err != nil {
		return nil, err
	}
	return e.EvaluateExpression(program, vars)
}

var (
	defaultPool     *ExpressionPool
	defaultPoolErr  error
	defaultPoolOnce sync.Once
)

// DefaultPool returns the process-wide pool.
func DefaultPool() (*ExpressionPool, error) {
	defaultPoolOnce.Do(func() {
		defaultPool, defaultPoolErr = NewExpressionPool()
	})
	return defaultPool, defaultPoolErr
}

// adaptCELResult converts CEL result values to Go native types
func adaptCELResult(val any) any {
	switch v := val.(type) {
	case types.Int:
		return int64(v)
	case types.Uint:
		return uint64(v)
	case types.Double:
		return float64(v)
	case types.Bool:
		return bool(v)
	case types.String:
		return string(v)
	case types.Bytes:
		return []byte(v)
	case types.Null:
		return nil
	case ref.Val:
		if lister, ok := v.(traits.Lister); ok {
			size := lister.Size().(types.Int)
			result := make([]any, size)
			for i := types.Int(0); i < size; i++ {
				result[i] = adaptCELResult(lister.Get(i))
			}
			return result
		}
		if mapper, ok := v.(traits.Mapper); ok {
			result := make(map[string]any)
			iter := mapper.Iterator()
			for iter.HasNext() == types.True {
				key := iter.Next()
				keyStr, ok := key.Value().(string)
				if !ok {
					keyStr = fmt.Sprintf("%v", key.Value())
				}
				result[keyStr] = adaptCELResult(mapper.Get(key))
			}
			return result
		}
		return v.Value()
	default:
		return v
	}
}

// ConvertFromRefVal converts a CEL ref.Val to a Go value
func ConvertFromRefVal(val ref.Val) (any, error) {
	if val == nil {
		return nil, nil
	}
	if types.IsError(val) {
		return nil, fmt.Errorf("CEL error: %v", val)
	}
	if types.IsUnknown(val) {
		return nil, fmt.Errorf("unknown CEL value")
	}
	return adaptCELResult(val), nil
}
