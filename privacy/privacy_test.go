package privacy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
	"github.com/JinHo-von-Choi/nuvatis-sub001/privacy"
)

func query(id string) *nuvatis.ExecContext {
	return &nuvatis.ExecContext{StatementID: id, Kind: nuvatis.KindSelect}
}

func mutation(id string, kind nuvatis.Kind, param any) *nuvatis.ExecContext {
	return &nuvatis.ExecContext{StatementID: id, Kind: kind, Param: param}
}

func TestDecisionErrors(t *testing.T) {
	tests := []struct {
		name      string
		decision  error
		wantAllow bool
		wantDeny  bool
		wantSkip  bool
	}{
		{name: "allow_decision", decision: privacy.Allow, wantAllow: true},
		{name: "deny_decision", decision: privacy.Deny, wantDeny: true},
		{name: "skip_decision", decision: privacy.Skip, wantSkip: true},
		{name: "allowf_formatted", decision: privacy.Allowf("user %s allowed", "admin"), wantAllow: true},
		{name: "denyf_formatted", decision: privacy.Denyf("user %s denied", "guest"), wantDeny: true},
		{name: "skipf_formatted", decision: privacy.Skipf("rule %d skipped", 1), wantSkip: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantAllow, errors.Is(tt.decision, privacy.Allow))
			assert.Equal(t, tt.wantDeny, errors.Is(tt.decision, privacy.Deny))
			assert.Equal(t, tt.wantSkip, errors.Is(tt.decision, privacy.Skip))
		})
	}
	assert.Equal(t, "user guest denied: nuvatis/privacy: deny rule", privacy.Denyf("user %s denied", "guest").Error())
}

func TestAlwaysRules(t *testing.T) {
	ctx := context.Background()
	ins := mutation("users.insert", nuvatis.KindInsert, nil)

	allow := privacy.AlwaysAllowRule()
	assert.ErrorIs(t, allow.EvalQuery(ctx, query("users.list")), privacy.Allow)
	assert.ErrorIs(t, allow.EvalMutation(ctx, ins), privacy.Allow)

	deny := privacy.AlwaysDenyRule()
	assert.ErrorIs(t, deny.EvalQuery(ctx, query("users.list")), privacy.Deny)
	assert.ErrorIs(t, deny.EvalMutation(ctx, ins), privacy.Deny)
}

func TestContextQueryMutationRule(t *testing.T) {
	type userKey struct{}
	tests := []struct {
		name string
		eval func(context.Context) error
		want error
	}{
		{name: "returns_allow", eval: func(context.Context) error { return privacy.Allow }, want: privacy.Allow},
		{name: "returns_deny", eval: func(context.Context) error { return privacy.Deny }, want: privacy.Deny},
		{name: "returns_skip", eval: func(context.Context) error { return privacy.Skip }, want: privacy.Skip},
		{name: "returns_nil", eval: func(context.Context) error { return nil }},
		{
			name: "context_value_check",
			eval: func(ctx context.Context) error {
				if ctx.Value(userKey{}) != nil {
					return privacy.Allow
				}
				return privacy.Deny
			},
			want: privacy.Deny,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := privacy.ContextQueryMutationRule(tt.eval)
			ctx := context.Background()
			qerr := rule.EvalQuery(ctx, query("users.list"))
			merr := rule.EvalMutation(ctx, mutation("users.delete", nuvatis.KindDelete, nil))
			if tt.want == nil {
				assert.NoError(t, qerr)
				assert.NoError(t, merr)
				return
			}
			assert.ErrorIs(t, qerr, tt.want)
			assert.ErrorIs(t, merr, tt.want)
		})
	}
}

func TestKindRules(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name string
		rule privacy.MutationRule
		kind nuvatis.Kind
		want error
	}{
		{name: "deny_matching_kind", rule: privacy.DenyKindRule(nuvatis.KindDelete), kind: nuvatis.KindDelete, want: privacy.Deny},
		{name: "deny_other_kind", rule: privacy.DenyKindRule(nuvatis.KindDelete), kind: nuvatis.KindUpdate, want: privacy.Skip},
		{name: "allow_matching_kind", rule: privacy.AllowKindRule(nuvatis.KindInsert), kind: nuvatis.KindInsert, want: privacy.Allow},
		{name: "allow_other_kind", rule: privacy.AllowKindRule(nuvatis.KindInsert), kind: nuvatis.KindDelete, want: privacy.Skip},
		{
			name: "on_kind_many",
			rule: privacy.OnKind(privacy.AlwaysDenyRule(), nuvatis.KindUpdate, nuvatis.KindDelete),
			kind: nuvatis.KindUpdate,
			want: privacy.Deny,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.EvalMutation(ctx, mutation("users.x", tt.kind, nil))
			assert.ErrorIs(t, err, tt.want)
		})
	}
	err := privacy.DenyKindRule(nuvatis.KindDelete).EvalMutation(ctx, mutation("users.x", nuvatis.KindDelete, nil))
	assert.Contains(t, err.Error(), "delete is not allowed")
}

func TestOnStatement(t *testing.T) {
	ctx := context.Background()
	rule := privacy.OnStatement(privacy.AlwaysDenyRule(), "audit.*", "users.purge")
	tests := []struct {
		name string
		ec   *nuvatis.ExecContext
		want error
	}{
		{name: "namespace_pattern", ec: query("audit.list"), want: privacy.Deny},
		{name: "exact_id", ec: mutation("users.purge", nuvatis.KindDelete, nil), want: privacy.Deny},
		{name: "no_match", ec: query("users.list"), want: privacy.Skip},
		{name: "prefix_is_not_a_match", ec: query("auditing.list"), want: privacy.Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			if tt.ec.Kind.IsMutation() {
				err = rule.EvalMutation(ctx, tt.ec)
			} else {
				err = rule.EvalQuery(ctx, tt.ec)
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPolicies(t *testing.T) {
	ctx := context.Background()
	ec := query("users.list")
	tests := []struct {
		name     string
		policies privacy.Policies
		wantErr  error
	}{
		{name: "empty_allows", policies: privacy.Policies{}},
		{name: "allow_stops", policies: privacy.Policies{privacy.AlwaysAllowRule(), privacy.AlwaysDenyRule()}},
		{name: "deny_stops", policies: privacy.Policies{privacy.AlwaysDenyRule(), privacy.AlwaysAllowRule()}, wantErr: privacy.Deny},
		{
			name: "skip_continues",
			policies: privacy.Policies{
				privacy.ContextQueryMutationRule(func(context.Context) error { return privacy.Skip }),
				privacy.AlwaysDenyRule(),
			},
			wantErr: privacy.Deny,
		},
		{
			name: "policy_split_by_kind",
			policies: privacy.Policies{privacy.Policy{
				Query:    privacy.QueryPolicy{privacy.AlwaysAllowRule()},
				Mutation: privacy.MutationPolicy{privacy.AlwaysDenyRule()},
			}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policies.EvalQuery(ctx, ec)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecisionContext(t *testing.T) {
	ctx := context.Background()
	policies := privacy.Policies{privacy.AlwaysDenyRule()}

	assert.Equal(t, ctx, privacy.DecisionContext(ctx, nil))
	assert.Equal(t, ctx, privacy.DecisionContext(ctx, privacy.Skip))

	allowed := privacy.DecisionContext(ctx, privacy.Allow)
	decision, ok := privacy.DecisionFromContext(allowed)
	assert.True(t, ok)
	assert.NoError(t, decision)
	assert.NoError(t, policies.EvalMutation(allowed, mutation("users.delete", nuvatis.KindDelete, nil)))

	denied := privacy.DecisionContext(ctx, privacy.Denyf("maintenance"))
	assert.ErrorIs(t, privacy.Policies{privacy.AlwaysAllowRule()}.EvalQuery(denied, query("users.list")), privacy.Deny)
}

func TestInterceptor(t *testing.T) {
	ctx := context.Background()
	ic := privacy.Interceptor(privacy.Policies{
		privacy.OnStatement(privacy.AlwaysDenyRule(), "audit.*"),
		privacy.Policy{Mutation: privacy.MutationPolicy{privacy.DenyKindRule(nuvatis.KindDelete)}},
	})

	require.NoError(t, ic.BeforeExecute(ctx, query("users.list")))
	require.NoError(t, ic.BeforeExecute(ctx, mutation("users.insert", nuvatis.KindInsert, nil)))

	err := ic.BeforeExecute(ctx, mutation("users.delete", nuvatis.KindDelete, nil))
	require.Error(t, err)
	assert.True(t, nuvatis.IsPrivacyError(err))
	assert.ErrorIs(t, err, privacy.Deny)
	var pe *nuvatis.PrivacyError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "users.delete", pe.Statement)
	assert.Equal(t, nuvatis.KindDelete, pe.Kind)

	err = ic.BeforeExecute(ctx, query("audit.list"))
	assert.True(t, nuvatis.IsPrivacyError(err))

	boom := errors.New("policy backend down")
	ic = privacy.Interceptor(privacy.RuleFunc(func(context.Context, *nuvatis.ExecContext) error { return boom }))
	err = ic.BeforeExecute(ctx, query("users.list"))
	assert.ErrorIs(t, err, boom)
	assert.False(t, nuvatis.IsPrivacyError(err))
}
