package binding_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JinHo-von-Choi/nuvatis-sub001/binding"
	"github.com/JinHo-von-Choi/nuvatis-sub001/typehandler"
)

type (
	Base struct {
		Tenant string `db:"tenant_id"`
	}
	Profile struct {
		Email string
		Tags  []string
	}
	User struct {
		Base
		ID      int64
		Name    string `db:"user_name"`
		Profile *Profile
		Attrs   map[string]any
		secret  string
	}
)

func TestResolver_Resolve(t *testing.T) {
	t.Parallel()
	u := &User{
		Base:    Base{Tenant: "t1"},
		ID:      7,
		Name:    "kim",
		Profile: &Profile{Email: "k@example.com", Tags: []string{"a", "b"}},
		Attrs:   map[string]any{"level": 3, "nested": map[string]any{"x": "y"}},
		secret:  "s",
	}
	r := binding.NewResolver()
	tests := []struct {
		name   string
		root   any
		path   string
		want   any
		wantOK bool
	}{
		{name: "field", root: u, path: "ID", want: int64(7), wantOK: true},
		{name: "case_insensitive", root: u, path: "id", want: int64(7), wantOK: true},
		{name: "db_tag", root: u, path: "user_name", want: "kim", wantOK: true},
		{name: "embedded", root: u, path: "tenant_id", want: "t1", wantOK: true},
		{name: "pointer_chain", root: u, path: "Profile.Email", want: "k@example.com", wantOK: true},
		{name: "index", root: u, path: "Profile.Tags[1]", want: "b", wantOK: true},
		{name: "index_out_of_range", root: u, path: "Profile.Tags[5]"},
		{name: "map", root: u, path: "Attrs.level", want: 3, wantOK: true},
		{name: "nested_map", root: u, path: "Attrs.nested.x", want: "y", wantOK: true},
		{name: "missing_key", root: u, path: "Attrs.none"},
		{name: "missing_field", root: u, path: "Nope"},
		{name: "unexported", root: u, path: "secret"},
		{name: "nil_pointer", root: &User{}, path: "Profile.Email"},
		{name: "scalar_root", root: 42, path: "id", want: 42, wantOK: true},
		{name: "scalar_root_nested", root: 42, path: "id.x"},
		{name: "invalid_path", root: u, path: "a..b"},
		{name: "nil_root", root: nil, path: "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := r.Resolve(tt.root, tt.path)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_Lookup(t *testing.T) {
	t.Parallel()
	r := binding.NewResolver()
	scope := map[string]any{
		"item": &Profile{Email: "scoped", Tags: []string{"x"}},
		"list": []int{4, 5},
		"n":    3,
	}
	root := map[string]any{"item": "root", "other": 1}

	v, ok := r.Lookup("item.Email", scope, root)
	require.True(t, ok)
	assert.Equal(t, "scoped", v)

	v, ok = r.Lookup("item.Tags[0]", scope, root)
	require.True(t, ok)
	assert.Equal(t, "x", v)

	v, ok = r.Lookup("list[1]", scope, root)
	require.True(t, ok)
	assert.Equal(t, 5, v)

	v, ok = r.Lookup("n", scope, root)
	require.True(t, ok)
	assert.Equal(t, 3, v)

	_, ok = r.Lookup("n.x", scope, root)
	assert.False(t, ok, "scope scalars do not stand for nested names")

	v, ok = r.Lookup("other", scope, root)
	require.True(t, ok)
	assert.Equal(t, 1, v)

	v, ok = r.Lookup("item", nil, root)
	require.True(t, ok)
	assert.Equal(t, "root", v)
}

func TestResolver_Set(t *testing.T) {
	t.Parallel()
	r := binding.NewResolver()

	u := &User{}
	require.NoError(t, r.Set(u, "ID", "12"))
	require.NoError(t, r.Set(u, "Profile.Email", []byte("e@x")))
	require.NoError(t, r.Set(u, "tenant_id", "t9"))
	assert.Equal(t, int64(12), u.ID)
	assert.Equal(t, "e@x", u.Profile.Email)
	assert.Equal(t, "t9", u.Tenant)

	require.NoError(t, r.Set(u, "Attrs.code", 5))
	assert.Equal(t, 5, u.Attrs["code"])

	m := map[string]any{}
	require.NoError(t, r.Set(m, "a.b", "c"))
	assert.Equal(t, map[string]any{"a": map[string]any{"b": "c"}}, m)

	assert.Error(t, r.Set(User{}, "ID", 1))
	assert.Error(t, r.Set(u, "Missing", 1))
	assert.Error(t, r.Set(u, "Profile.Tags[0]", "x"))
	assert.Error(t, r.Set(u, "ID", "not a number"))
}

func TestResolver_Fields(t *testing.T) {
	t.Parallel()
	r := binding.NewResolver()
	fields := r.Fields(typeOf[User]())
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"Tenant", "ID", "Name", "Profile", "Attrs"}, names)
	assert.Equal(t, "user_name", fields[2].Tag)
}

func TestSplit(t *testing.T) {
	t.Parallel()
	tests := []struct {
		path, head, rest string
	}{
		{"a", "a", ""},
		{"a.b.c", "a", "b.c"},
		{"a[0].b", "a", "[0].b"},
	}
	for _, tt := range tests {
		head, rest := binding.Split(tt.path)
		assert.Equal(t, tt.head, head, tt.path)
		assert.Equal(t, tt.rest, rest, tt.path)
	}
}

func TestResolver_ValidatePath(t *testing.T) {
	t.Parallel()
	r := binding.DefaultResolver()
	for _, p := range []string{"a", "a.b", "a[0]", "a[0][1].b_2"} {
		assert.NoError(t, r.ValidatePath(p), p)
	}
	for _, p := range []string{"", ".a", "a.", "a[", "a[x]", "1a", "a b", "a]0["} {
		assert.Error(t, r.ValidatePath(p), p)
	}
}

func TestBinder_Bind(t *testing.T) {
	t.Parallel()
	type level int
	handlers := typehandler.NewRegistry()
	handlers.Register(typehandler.Func[level]{
		Write: func(v level) (any, error) { return int64(v) * 100, nil },
	})
	b := binding.NewBinder(nil, handlers)
	param := map[string]any{"name": "kim", "lvl": level(2)}
	args, err := b.Bind(
		[]string{"name", "missing", "lvl", "__frch_id_0"},
		map[string]any{"__frch_id_0": 9},
		param,
		[]any{"keep"},
	)
	require.NoError(t, err)
	assert.Equal(t, []any{"keep", "kim", nil, int64(200), 9}, args)
	assert.Same(t, binding.DefaultResolver(), binding.NewBinder(nil, nil).Resolver())
}
