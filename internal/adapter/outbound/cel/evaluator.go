// Package cel provides a CEL-based route policy evaluator.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"
)

// Limits bounds what a condition may cost to compile and run.
type Limits struct {
	MaxLength int
	MaxDepth  int
	// MaxCost is the cel-go runtime cost budget per evaluation.
	MaxCost uint64
	Timeout time.Duration
}

// DefaultLimits are applied by NewEvaluator.
var DefaultLimits = Limits{
	MaxLength: 1024,
	MaxDepth:  50,
	MaxCost:   100_000,
	Timeout:   100 * time.Millisecond,
}

var (
	errEmptyCondition = errors.New("condition is empty")
	errNotBool        = errors.New("condition must evaluate to bool")
)

// Evaluator turns route conditions into programs and runs them.
type Evaluator struct {
	env    *cel.Env
	limits Limits
}

func NewEvaluator() (*Evaluator, error) {
	return NewEvaluatorWithLimits(DefaultLimits)
}

func NewEvaluatorWithLimits(l Limits) (*Evaluator, error) {
	env, err := NewPolicyEnvironment()
	if err != nil {
		return nil, fmt.Errorf("policy environment: %w", err)
	}
	return &Evaluator{env: env, limits: l}, nil
}

// Compile checks the size of a condition, type-checks it as a bool and
// builds a cost-limited program for it.
func (e *Evaluator) Compile(condition string) (cel.Program, error) {
	if err := e.checkShape(condition); err != nil {
		return nil, err
	}

	checked, iss := e.env.Compile(condition)
	if err := iss.Err(); err != nil {
		return nil, fmt.Errorf("invalid condition: %w", err)
	}
	if out := checked.OutputType(); !out.IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("%w, got %s", errNotBool, out)
	}

	return e.env.Program(checked,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(e.limits.MaxCost),
		cel.InterruptCheckFrequency(100),
	)
}

func (e *Evaluator) checkShape(condition string) error {
	switch {
	case condition == "":
		return errEmptyCondition
	case len(condition) > e.limits.MaxLength:
		return fmt.Errorf("condition too long: %d > %d bytes", len(condition), e.limits.MaxLength)
	}
	if d := bracketDepth(condition); d > e.limits.MaxDepth {
		return fmt.Errorf("condition nesting too deep: %d > %d", d, e.limits.MaxDepth)
	}
	return nil
}

// bracketDepth reports the deepest bracket nesting in s.
func bracketDepth(s string) int {
	open, deepest := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			open++
			deepest = max(deepest, open)
		case ')', ']', '}':
			open--
		}
	}
	return deepest
}

// Evaluate runs prg for req. The run is cancelled after the configured
// timeout.
func (e *Evaluator) Evaluate(ctx context.Context, prg cel.Program, req Request) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.limits.Timeout)
	defer cancel()

	out, _, err := prg.ContextEval(ctx, req.activation())
	if err != nil {
		return false, fmt.Errorf("evaluate condition: %w", err)
	}
	allowed, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("%w, got %T", errNotBool, out.Value())
	}
	return allowed, nil
}
