package cel

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
)

// NewEnvironment creates the base CEL environment for check expressions.
// Field variables are declared per expression by the pool.
func NewEnvironment() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.CustomTypeAdapter(NewBintypeTypeAdapter()),
		cel.StdLib(),
		cel.CrossTypeNumericComparisons(true),
		operatorFunctions(),
		bitwiseFunctions(),
		mathFunctions(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

// BintypeTypeAdapter extends the default type adapter to handle Go's smaller
// numeric types as they appear in exported instances.
type BintypeTypeAdapter struct {
	types.Adapter
}

// NewBintypeTypeAdapter creates a new type adapter.
func NewBintypeTypeAdapter() *BintypeTypeAdapter {
	return &BintypeTypeAdapter{
		Adapter: types.DefaultTypeAdapter,
	}
}

// NativeToValue converts Go native types to CEL values, widening every
// integer to Int so mixed-width fields compare and combine freely.
func (a *BintypeTypeAdapter) NativeToValue(value any) ref.Val {
	switch v := value.(type) {
	case int:
		return types.Int(v)
	case int8:
		return types.Int(v)
	case int16:
		return types.Int(v)
	case int32:
		return types.Int(v)
	case uint8:
		return types.Int(v)
	case uint16:
		return types.Int(v)
	case uint32:
		return types.Int(v)
	case float32:
		return types.Double(v)
	default:
		return a.Adapter.NativeToValue(value)
	}
}
