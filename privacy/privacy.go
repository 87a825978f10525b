package privacy

import (
	"context"
	"errors"
	"fmt"
	"path"
	"slices"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
)

// Policy decision sentinel errors.
//
// These errors are used as return values from policy rules to indicate
// how the policy evaluation should proceed. Use errors.Is() to check
// for these values:
//
//	if errors.Is(err, privacy.Allow) { ... }
//	if errors.Is(err, privacy.Deny) { ... }
//	if errors.Is(err, privacy.Skip) { ... }
var (
	// Allow may be returned by rules to indicate that the policy
	// evaluation should terminate with an allow decision.
	Allow = errors.New("nuvatis/privacy: allow rule")

	// Deny may be returned by rules to indicate that the policy
	// evaluation should terminate with a deny decision.
	Deny = errors.New("nuvatis/privacy: deny rule")

	// Skip may be returned by rules to indicate that the policy
	// evaluation should continue to the next rule in the chain.
	Skip = errors.New("nuvatis/privacy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

type (
	// QueryRule decides whether a select statement may run.
	QueryRule interface {
		EvalQuery(context.Context, *nuvatis.ExecContext) error
	}

	// QueryPolicy combines multiple query rules into a single policy.
	QueryPolicy []QueryRule

	// MutationRule decides whether an insert, update or delete statement
	// may run.
	MutationRule interface {
		EvalMutation(context.Context, *nuvatis.ExecContext) error
	}

	// MutationPolicy combines multiple mutation rules into a single policy.
	MutationPolicy []MutationRule

	// QueryMutationRule is an interface which groups query and mutation rules.
	QueryMutationRule interface {
		QueryRule
		MutationRule
	}
)

// QueryRuleFunc type is an adapter which allows the use of ordinary
// functions as query rules.
type QueryRuleFunc func(context.Context, *nuvatis.ExecContext) error

// EvalQuery returns f(ctx, ec).
func (f QueryRuleFunc) EvalQuery(ctx context.Context, ec *nuvatis.ExecContext) error {
	return f(ctx, ec)
}

// MutationRuleFunc type is an adapter which allows the use of ordinary
// functions as mutation rules.
type MutationRuleFunc func(context.Context, *nuvatis.ExecContext) error

// EvalMutation returns f(ctx, ec).
func (f MutationRuleFunc) EvalMutation(ctx context.Context, ec *nuvatis.ExecContext) error {
	return f(ctx, ec)
}

// RuleFunc adapts a function to a QueryMutationRule.
type RuleFunc func(context.Context, *nuvatis.ExecContext) error

// EvalQuery returns f(ctx, ec).
func (f RuleFunc) EvalQuery(ctx context.Context, ec *nuvatis.ExecContext) error {
	return f(ctx, ec)
}

// EvalMutation returns f(ctx, ec).
func (f RuleFunc) EvalMutation(ctx context.Context, ec *nuvatis.ExecContext) error {
	return f(ctx, ec)
}

// AlwaysAllowRule returns a rule that always returns an Allow decision.
func AlwaysAllowRule() QueryMutationRule {
	return fixedDecision{Allow}
}

// AlwaysDenyRule returns a rule that always returns a Deny decision.
func AlwaysDenyRule() QueryMutationRule {
	return fixedDecision{Deny}
}

// ContextQueryMutationRule creates a query/mutation rule from a context
// evaluation function. Returning nil is equivalent to returning Skip.
func ContextQueryMutationRule(eval func(context.Context) error) QueryMutationRule {
	return RuleFunc(func(ctx context.Context, _ *nuvatis.ExecContext) error {
		return eval(ctx)
	})
}

// OnKind evaluates rule only for statements of the given kinds.
func OnKind(rule MutationRule, kinds ...nuvatis.Kind) MutationRule {
	return MutationRuleFunc(func(ctx context.Context, ec *nuvatis.ExecContext) error {
		if slices.Contains(kinds, ec.Kind) {
			return rule.EvalMutation(ctx, ec)
		}
		return Skip
	})
}

// DenyKindRule returns a rule denying the given mutation kind.
func DenyKindRule(kind nuvatis.Kind) MutationRule {
	rule := MutationRuleFunc(func(_ context.Context, ec *nuvatis.ExecContext) error {
		return Denyf("nuvatis/privacy: %s is not allowed", ec.Kind)
	})
	return OnKind(rule, kind)
}

// AllowKindRule returns a rule allowing the given mutation kind.
func AllowKindRule(kind nuvatis.Kind) MutationRule {
	rule := MutationRuleFunc(func(context.Context, *nuvatis.ExecContext) error {
		return Allow
	})
	return OnKind(rule, kind)
}

// OnStatement evaluates rule only for statements whose qualified id
// matches one of patterns, as in path.Match ("users.*", "orders.insert").
func OnStatement(rule QueryMutationRule, patterns ...string) QueryMutationRule {
	match := func(id string) bool {
		return slices.ContainsFunc(patterns, func(p string) bool {
			ok, _ := path.Match(p, id)
			return ok
		})
	}
	return RuleFunc(func(ctx context.Context, ec *nuvatis.ExecContext) error {
		switch {
		case !match(ec.StatementID):
			return Skip
		case ec.Kind.IsMutation():
			return rule.EvalMutation(ctx, ec)
		default:
			return rule.EvalQuery(ctx, ec)
		}
	})
}

// Policy groups query and mutation policies.
type Policy struct {
	Query    QueryPolicy
	Mutation MutationPolicy
}

// EvalQuery forwards evaluation to the query policy.
func (p Policy) EvalQuery(ctx context.Context, ec *nuvatis.ExecContext) error {
	return p.Query.EvalQuery(ctx, ec)
}

// EvalMutation forwards evaluation to the mutation policy.
func (p Policy) EvalMutation(ctx context.Context, ec *nuvatis.ExecContext) error {
	return p.Mutation.EvalMutation(ctx, ec)
}

// Policies combines multiple policies into a single policy.
type Policies []QueryMutationRule

// EvalQuery evaluates the query policies. If the Allow error is returned
// from one of the policies, it stops the evaluation with a nil error.
func (policies Policies) EvalQuery(ctx context.Context, ec *nuvatis.ExecContext) error {
	return policies.eval(ctx, func(policy QueryMutationRule) error {
		return policy.EvalQuery(ctx, ec)
	})
}

// EvalMutation evaluates the mutation policies. If the Allow error is
// returned from one of the policies, it stops the evaluation with a nil
// error.
func (policies Policies) EvalMutation(ctx context.Context, ec *nuvatis.ExecContext) error {
	return policies.eval(ctx, func(policy QueryMutationRule) error {
		return policy.EvalMutation(ctx, ec)
	})
}

func (policies Policies) eval(ctx context.Context, eval func(QueryMutationRule) error) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, policy := range policies {
		switch decision := eval(policy); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return nil
}

// EvalQuery evaluates a statement against a query policy.
func (policies QueryPolicy) EvalQuery(ctx context.Context, ec *nuvatis.ExecContext) error {
	for _, policy := range policies {
		switch decision := policy.EvalQuery(ctx, ec); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

// EvalMutation evaluates a statement against a mutation policy.
func (policies MutationPolicy) EvalMutation(ctx context.Context, ec *nuvatis.ExecContext) error {
	for _, policy := range policies {
		switch decision := policy.EvalMutation(ctx, ec); {
		case decision == nil || errors.Is(decision, Skip):
		default:
			return decision
		}
	}
	return nil
}

type decisionCtxKey struct{}

// DecisionContext creates a new context from the given parent context with
// a policy decision attach to it.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the policy decision from the context.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) EvalQuery(context.Context, *nuvatis.ExecContext) error {
	return f.decision
}

func (f fixedDecision) EvalMutation(context.Context, *nuvatis.ExecContext) error {
	return f.decision
}

// Interceptor returns an interceptor enforcing policy before each
// statement runs. Selects are evaluated by EvalQuery and mutations by
// EvalMutation. Deny decisions are reported as *nuvatis.PrivacyError;
// any other error is returned as is.
//
//	engine, err := executor.New(reg,
//	    executor.WithInterceptors(privacy.Interceptor(privacy.Policies{
//	        privacy.DenyIfNoViewer(),
//	        privacy.OnStatement(privacy.HasRole("admin"), "audit.*"),
//	    })),
//	)
func Interceptor(policy QueryMutationRule) nuvatis.Interceptor {
	return nuvatis.BeforeFunc(func(ctx context.Context, ec *nuvatis.ExecContext) error {
		var decision error
		if ec.Kind.IsMutation() {
			decision = policy.EvalMutation(ctx, ec)
		} else {
			decision = policy.EvalQuery(ctx, ec)
		}
		switch {
		case decision == nil, errors.Is(decision, Allow), errors.Is(decision, Skip):
			return nil
		case errors.Is(decision, Deny):
			return &nuvatis.PrivacyError{
				Statement: ec.StatementID,
				Kind:      ec.Kind,
				Rule:      decision.Error(),
				Err:       decision,
			}
		default:
			return decision
		}
	})
}

var (
	_ QueryMutationRule = Policy{}
	_ QueryMutationRule = Policies(nil)
	_ QueryMutationRule = RuleFunc(nil)
)
