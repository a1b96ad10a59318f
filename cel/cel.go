// Package cel compiles CEL boolean expressions used as row filters.
package cel

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
)

// Predicate holds a CEL expression & the cel program used to evaluate it vs. a row's columns.
type Predicate struct {
	Expression string
	program    cel.Program
}

// NewPredicate compiles expression into a Predicate. The expression sees the row's columns as the
// map variable `row`, e.g. `row['text'] == '5' && row['count'] > 2`, and must yield a bool.
func NewPredicate(expression string) (*Predicate, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression can't be empty string")
	}

	env, err := cel.NewEnv(
		cel.Variable("row", cel.MapType(cel.StringType, cel.AnyType)),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %v", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error compiling CEL expression: %v", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, fmt.Errorf("CEL expression %q yields %v, want bool", expression, ast.OutputType())
	}
	p, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("error creating Program: %v", err)
	}
	return &Predicate{
		Expression: expression,
		program:    p,
	}, nil
}

// Evaluate runs the predicate vs. the provided row data.
func (p *Predicate) Evaluate(row map[string]any) (bool, error) {
	out, _, err := p.program.Eval(map[string]any{
		"row": row,
	})
	if err != nil {
		return false, fmt.Errorf("error evaluating CEL expression: %v", err)
	}
	nv, err := out.ConvertToNative(reflect.TypeOf(false))
	if err != nil {
		return false, fmt.Errorf("error ConvertToNative, got err: %v", err)
	}
	if v, ok := nv.(bool); !ok {
		return false, fmt.Errorf("error converting to bool, nv: %v", nv)
	} else {
		return v, nil
	}
}
