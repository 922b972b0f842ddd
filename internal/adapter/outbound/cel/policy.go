package cel

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
)

// Rule is a requirement on requests under PathPrefix. Condition must
// evaluate to true for the request to proceed.
type Rule struct {
	Name       string
	PathPrefix string
	Condition  string
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// Decision is the outcome of a policy check.
type Decision struct {
	Allowed bool
	// Rule names the first rule that denied the request.
	Rule string
}

// PolicyEvaluator checks requests against an ordered list of rules.
type PolicyEvaluator struct {
	eval  *Evaluator
	rules []compiledRule
}

// NewPolicyEvaluator validates and compiles rules. Any invalid rule fails
// construction.
func NewPolicyEvaluator(rules []Rule) (*PolicyEvaluator, error) {
	eval, err := NewEvaluator()
	if err != nil {
		return nil, err
	}
	pe := &PolicyEvaluator{eval: eval}
	for _, r := range rules {
		prg, err := eval.Compile(r.Condition)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", r.Name, err)
		}
		pe.rules = append(pe.rules, compiledRule{Rule: r, prg: prg})
	}
	return pe, nil
}

// Len returns the number of rules.
func (p *PolicyEvaluator) Len() int {
	return len(p.rules)
}

// Check evaluates every rule whose prefix matches req.Path. An evaluation
// error denies the request and is returned alongside the decision.
func (p *PolicyEvaluator) Check(ctx context.Context, req Request) (Decision, error) {
	for _, r := range p.rules {
		if !strings.HasPrefix(req.Path, r.PathPrefix) {
			continue
		}
		ok, err := p.eval.Evaluate(ctx, r.prg, req)
		if err != nil {
			return Decision{Rule: r.Name}, fmt.Errorf("policy %q: %w", r.Name, err)
		}
		if !ok {
			return Decision{Rule: r.Name}, nil
		}
	}
	return Decision{Allowed: true}, nil
}
