package privacy_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
	dsql "github.com/JinHo-von-Choi/nuvatis-sub001/dialect/sql"
	"github.com/JinHo-von-Choi/nuvatis-sub001/privacy"
)

type document struct {
	ID       int64
	OwnerID  int64
	TenantID string
}

func TestSimpleViewer(t *testing.T) {
	viewer := &privacy.SimpleViewer{
		UserID:   "user-123",
		Roles:    []string{"admin", "user"},
		TenantID: "tenant-abc",
	}
	assert.Equal(t, "user-123", viewer.GetID())
	assert.Equal(t, []string{"admin", "user"}, viewer.GetRoles())
	assert.Equal(t, "tenant-abc", viewer.GetTenantID())
}

func TestViewerContext(t *testing.T) {
	t.Run("with_viewer", func(t *testing.T) {
		ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "user-123"})
		v := privacy.ViewerFromContext(ctx)
		require.NotNil(t, v)
		assert.Equal(t, "user-123", v.GetID())
	})
	t.Run("without_viewer", func(t *testing.T) {
		assert.Nil(t, privacy.ViewerFromContext(context.Background()))
	})
	t.Run("wrong_type", func(t *testing.T) {
		type wrongKey struct{}
		ctx := context.WithValue(context.Background(), wrongKey{}, "not a viewer")
		assert.Nil(t, privacy.ViewerFromContext(ctx))
	})
}

func TestDenyIfNoViewer(t *testing.T) {
	rule := privacy.DenyIfNoViewer()
	assert.ErrorIs(t, rule.EvalQuery(context.Background(), query("users.list")), privacy.Deny)

	ctx := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "u"})
	assert.ErrorIs(t, rule.EvalQuery(ctx, query("users.list")), privacy.Skip)
	assert.ErrorIs(t, rule.EvalMutation(ctx, mutation("users.insert", nuvatis.KindInsert, nil)), privacy.Skip)
}

func TestHasRole(t *testing.T) {
	tests := []struct {
		name   string
		viewer privacy.Viewer
		rule   privacy.QueryMutationRule
		want   error
	}{
		{name: "no_viewer", rule: privacy.HasRole("admin"), want: privacy.Skip},
		{name: "has_role", viewer: &privacy.SimpleViewer{Roles: []string{"user", "admin"}}, rule: privacy.HasRole("admin"), want: privacy.Allow},
		{name: "missing_role", viewer: &privacy.SimpleViewer{Roles: []string{"user"}}, rule: privacy.HasRole("admin"), want: privacy.Skip},
		{name: "any_role", viewer: &privacy.SimpleViewer{Roles: []string{"moderator"}}, rule: privacy.HasAnyRole("admin", "moderator"), want: privacy.Allow},
		{name: "none_of_roles", viewer: &privacy.SimpleViewer{Roles: []string{"user"}}, rule: privacy.HasAnyRole("admin", "moderator"), want: privacy.Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			if tt.viewer != nil {
				ctx = privacy.WithViewer(ctx, tt.viewer)
			}
			assert.ErrorIs(t, tt.rule.EvalQuery(ctx, query("users.list")), tt.want)
		})
	}
}

func TestIsOwner(t *testing.T) {
	rule := privacy.IsOwner("OwnerID")
	owner := privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "7"})
	tests := []struct {
		name  string
		ctx   context.Context
		param any
		want  error
	}{
		{name: "no_viewer", ctx: context.Background(), param: &document{OwnerID: 7}, want: privacy.Skip},
		{name: "owner_struct", ctx: owner, param: &document{OwnerID: 7}, want: privacy.Allow},
		{name: "owner_map", ctx: owner, param: map[string]any{"OwnerID": "7"}, want: privacy.Allow},
		{name: "other_owner", ctx: owner, param: document{OwnerID: 8}, want: privacy.Skip},
		{name: "missing_property", ctx: owner, param: map[string]any{"id": 7}, want: privacy.Skip},
		{name: "scalar_param_never_matches", ctx: owner, param: 7, want: privacy.Skip},
		{name: "nil_param", ctx: owner, want: privacy.Skip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rule.EvalMutation(tt.ctx, mutation("docs.update", nuvatis.KindUpdate, tt.param))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestTenantRules(t *testing.T) {
	rule := privacy.TenantRule("TenantID")
	tenant := func(id string) context.Context {
		return privacy.WithViewer(context.Background(), &privacy.SimpleViewer{UserID: "u", TenantID: id})
	}
	tests := []struct {
		name  string
		ctx   context.Context
		param any
		want  error
	}{
		{name: "no_viewer", ctx: context.Background(), param: &document{TenantID: "a"}, want: privacy.Skip},
		{name: "viewer_without_tenant", ctx: tenant(""), param: &document{TenantID: "a"}, want: privacy.Skip},
		{name: "same_tenant", ctx: tenant("a"), param: &document{TenantID: "a"}, want: privacy.Allow},
		{name: "other_tenant", ctx: tenant("a"), param: &document{TenantID: "b"}, want: privacy.Deny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := rule.EvalMutation(tt.ctx, mutation("docs.update", nuvatis.KindUpdate, tt.param))
			assert.ErrorIs(t, err, tt.want)
		})
	}

	q := privacy.TenantQueryRule()
	assert.ErrorIs(t, q.EvalQuery(context.Background(), query("docs.list")), privacy.Deny)
	assert.ErrorIs(t, q.EvalQuery(tenant(""), query("docs.list")), privacy.Deny)
	assert.ErrorIs(t, q.EvalQuery(tenant("a"), query("docs.list")), privacy.Skip)

	o := privacy.OwnerQueryRule()
	assert.ErrorIs(t, o.EvalQuery(context.Background(), query("docs.list")), privacy.Deny)
	assert.ErrorIs(t, o.EvalQuery(tenant("a"), query("docs.list")), privacy.Skip)
}

func TestWithTenantVar(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		viewer privacy.Viewer
		want   string
		ok     bool
	}{
		{name: "no_viewer"},
		{name: "viewer_without_tenant", viewer: &privacy.SimpleViewer{UserID: "u"}},
		{name: "tenant", viewer: &privacy.SimpleViewer{UserID: "u", TenantID: "acme"}, want: "acme", ok: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			if tt.viewer != nil {
				ctx = privacy.WithViewer(ctx, tt.viewer)
			}
			v, ok := dsql.VarFromContext(privacy.WithTenantVar(ctx, "app.tenant"), "app.tenant")
			require.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}
