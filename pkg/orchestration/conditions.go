package orchestration

import (
	"context"

	"github.com/lucid-vigil/secops/pkg/simulate"
	"github.com/lucid-vigil/secops/pkg/types"
)

// ConditionEvaluator decides whether a policy rule fires for a result.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, policy types.Policy, rule types.PolicyRule, result types.AnalyticsResult) bool
}

// ConditionFunc adapts a function to ConditionEvaluator.
type ConditionFunc func(ctx context.Context, policy types.Policy, rule types.PolicyRule, result types.AnalyticsResult) bool

func (f ConditionFunc) Evaluate(ctx context.Context, policy types.Policy, rule types.PolicyRule, result types.AnalyticsResult) bool {
	return f(ctx, policy, rule, result)
}

// RandomCondition fires every rule with a fixed probability.
type RandomCondition struct {
	Rand *simulate.Source
	Rate float64
}

func (c RandomCondition) Evaluate(context.Context, types.Policy, types.PolicyRule, types.AnalyticsResult) bool {
	return c.Rand.Chance(c.Rate)
}
