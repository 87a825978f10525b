package dynsql_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
	"github.com/JinHo-von-Choi/nuvatis-sub001/dynsql"
)

func TestFragments_Resolve(t *testing.T) {
	t.Parallel()
	f := dynsql.NewFragments()
	require.NoError(t, f.Add("user", "cols", dynsql.Text{Value: "id, name"}))
	require.NoError(t, f.Add("user", "byName", dynsql.Mixed{
		dynsql.Text{Value: "name = "}, dynsql.Param{Path: "name"},
	}))
	require.NoError(t, f.Add("shared", "active", dynsql.Text{Value: " AND active = 1"}))

	root := dynsql.Mixed{
		dynsql.Text{Value: "SELECT "},
		dynsql.Include{RefID: "cols"},
		dynsql.Text{Value: " FROM users"},
		dynsql.Where{Children: []dynsql.Node{
			dynsql.If{Test: "name != null", Children: []dynsql.Node{
				dynsql.Text{Value: "AND "}, dynsql.Include{RefID: "byName"},
			}},
			dynsql.Include{RefID: "shared.active"},
		}},
	}
	resolved, err := f.Resolve("user", root)
	require.NoError(t, err)
	assert.Empty(t, dynsql.Includes(resolved))
	assert.Equal(t, []string{"cols", "byName", "shared.active"}, dynsql.Includes(root))
	require.NoError(t, dynsql.Validate("user.find", resolved))

	r, err := dynsql.Render(resolved, map[string]any{"name": "a"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, name FROM users WHERE name = p0 AND active = 1", r.SQL)
}

func TestFragments_Idempotent(t *testing.T) {
	t.Parallel()
	build := func() *dynsql.Fragments {
		f := dynsql.NewFragments()
		require.NoError(t, f.Add("ns", "a", dynsql.Mixed{dynsql.Text{Value: "a "}, dynsql.Include{RefID: "b"}}))
		require.NoError(t, f.Add("ns", "b", dynsql.Mixed{dynsql.Text{Value: "b "}, dynsql.Include{RefID: "c"}}))
		require.NoError(t, f.Add("ns", "c", dynsql.Text{Value: "c"}))
		return f
	}
	root := dynsql.Mixed{dynsql.Include{RefID: "a"}, dynsql.Include{RefID: "c"}}

	// Resolve leaf first on one set, root first on the other.
	f1 := build()
	_, err := f1.Resolve("ns", dynsql.Include{RefID: "c"})
	require.NoError(t, err)
	got1, err := f1.Resolve("ns", root)
	require.NoError(t, err)

	f2 := build()
	require.NoError(t, f2.ResolveAll())
	got2, err := f2.Resolve("ns", root)
	require.NoError(t, err)

	assert.Equal(t, got1, got2)
	again, err := f2.Resolve("ns", root)
	require.NoError(t, err)
	assert.Equal(t, got2, again)
}

func TestFragments_Cycle(t *testing.T) {
	t.Parallel()
	f := dynsql.NewFragments()
	require.NoError(t, f.Add("ns", "a", dynsql.Mixed{dynsql.Include{RefID: "b"}}))
	require.NoError(t, f.Add("ns", "b", dynsql.If{Test: "true", Children: []dynsql.Node{dynsql.Include{RefID: "a"}}}))

	err := f.ResolveAll()
	require.Error(t, err)
	var cerr *nuvatis.ConfigurationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, []string{"ns.a", "ns.b", "ns.a"}, cerr.Chain)
	assert.ErrorIs(t, err, nuvatis.ErrConfiguration)

	_, err = f.Resolve("ns", dynsql.Include{RefID: "b"})
	require.Error(t, err)
	assert.True(t, nuvatis.IsConfigurationError(err))
}

func TestFragments_SelfInclude(t *testing.T) {
	t.Parallel()
	f := dynsql.NewFragments()
	require.NoError(t, f.Add("ns", "a", dynsql.Include{RefID: "ns.a"}))
	err := f.ResolveAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ns.a -> ns.a")
}

func TestFragments_Errors(t *testing.T) {
	t.Parallel()
	f := dynsql.NewFragments()
	require.NoError(t, f.Add("ns", "a", dynsql.Include{RefID: "missing"}))
	err := f.Add("ns", "a", dynsql.Text{})
	require.Error(t, err)
	assert.True(t, nuvatis.IsConfigurationError(err))

	err = f.ResolveAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unresolved fragment "missing"`)
}

func TestQualify(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "user.find", dynsql.Qualify("user", "find"))
	assert.Equal(t, "find", dynsql.Qualify("", "find"))
	ns, id := dynsql.SplitID("com.example.user.find")
	assert.Equal(t, "com.example.user", ns)
	assert.Equal(t, "find", id)
	ns, id = dynsql.SplitID("find")
	assert.Empty(t, ns)
	assert.Equal(t, "find", id)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		root    dynsql.Node
		wantErr string
	}{
		{
			name: "valid",
			root: dynsql.Mixed{
				dynsql.If{Test: "a != null and b > 1", Children: []dynsql.Node{dynsql.Param{Path: "a.b[0]"}}},
				dynsql.Bind{Name: "x", Value: "a + 'x'"},
				dynsql.ForEach{Collection: "list", Item: "i"},
			},
		},
		{
			name:    "bad_condition",
			root:    dynsql.If{Test: "a &&"},
			wantErr: "condition",
		},
		{
			name:    "bad_path",
			root:    dynsql.Param{Path: "a..b"},
			wantErr: "parameter",
		},
		{
			name:    "foreach_without_collection",
			root:    dynsql.ForEach{Item: "x"},
			wantErr: "foreach without collection",
		},
		{
			name:    "bind_name",
			root:    dynsql.Bind{Name: "a.b", Value: "1"},
			wantErr: "not an identifier",
		},
		{
			name:    "choose_branch",
			root:    dynsql.Choose{When: []dynsql.If{{Test: "(("}}},
			wantErr: "condition",
		},
		{
			name:    "unresolved_include",
			root:    dynsql.Where{Children: []dynsql.Node{dynsql.Include{RefID: "x"}}},
			wantErr: "unresolved include",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := dynsql.Validate("ns.stmt", tt.root)
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, nuvatis.IsConfigurationError(err))
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Contains(t, err.Error(), "ns.stmt")
		})
	}
}
