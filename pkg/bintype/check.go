package bintype

import (
	"fmt"

	internalcel "github.com/twinfer/bintype/internal/cel"
	"github.com/twinfer/bintype/pkg/expression"
)

// Check evaluates a validation expression over the parsed instance with CEL.
// Fields are visible by name, nested classes as maps and arrays as lists.
func (i *Instance) Check(src string) (bool, error) {
	pool, err := internalcel.DefaultPool()
	if err != nil {
		return false, err
	}
	res, err := pool.Evaluate(src, i.ToMap())
	if err != nil {
		return false, fmt.Errorf("check %q on bintype %s: %w", src, i.class.Name, err)
	}
	return expression.Truthy(res), nil
}
