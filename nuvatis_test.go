package nuvatis_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
)

func TestKind(t *testing.T) {
	tests := []struct {
		in       string
		want     nuvatis.Kind
		mutation bool
	}{
		{in: "select", want: nuvatis.KindSelect},
		{in: "INSERT", want: nuvatis.KindInsert, mutation: true},
		{in: "Update", want: nuvatis.KindUpdate, mutation: true},
		{in: "delete", want: nuvatis.KindDelete, mutation: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			k, err := nuvatis.ParseKind(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, k)
			assert.Equal(t, tt.mutation, k.IsMutation())
		})
	}
	_, err := nuvatis.ParseKind("merge")
	assert.Error(t, err)
	assert.Equal(t, "select", nuvatis.KindSelect.String())
	assert.Equal(t, "Kind(9)", nuvatis.Kind(9).String())
}

func TestStage(t *testing.T) {
	assert.Equal(t, "render", nuvatis.StageRender.String())
	assert.Equal(t, "cache-lookup", nuvatis.StageCacheLookup.String())
	assert.Equal(t, "completed", nuvatis.StageCompleted.String())
	assert.Equal(t, "unknown", nuvatis.Stage(200).String())
}

func TestExecContext(t *testing.T) {
	ec := &nuvatis.ExecContext{StatementID: "users.byID", CacheHit: true}
	_, ok := ec.Get("start")
	assert.False(t, ok)

	ec.Set("start", 1)
	v, ok := ec.Get("start")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	ec.Delete("start")
	_, ok = ec.Get("start")
	assert.False(t, ok)

	ec.Set("span", "x")
	ec.Reset()
	assert.Equal(t, "", ec.StatementID)
	assert.False(t, ec.CacheHit)
	_, ok = ec.Get("span")
	assert.False(t, ok, "reset empties the bag")
}

func TestInterceptorAdapters(t *testing.T) {
	ctx := context.Background()
	ec := &nuvatis.ExecContext{}
	var calls []string

	funcs := nuvatis.InterceptorFuncs{
		Before: func(context.Context, *nuvatis.ExecContext) error {
			calls = append(calls, "before")
			return nil
		},
		After: func(context.Context, *nuvatis.ExecContext) { calls = append(calls, "after") },
	}
	require.NoError(t, funcs.BeforeExecute(ctx, ec))
	funcs.AfterExecute(ctx, ec)
	assert.Equal(t, []string{"before", "after"}, calls)

	empty := nuvatis.InterceptorFuncs{}
	assert.NoError(t, empty.BeforeExecute(ctx, ec))
	assert.NotPanics(t, func() { empty.AfterExecute(ctx, ec) })

	denied := errors.New("denied")
	before := nuvatis.BeforeFunc(func(context.Context, *nuvatis.ExecContext) error { return denied })
	assert.ErrorIs(t, before.BeforeExecute(ctx, ec), denied)
	before.AfterExecute(ctx, ec)

	var after int
	af := nuvatis.AfterFunc(func(context.Context, *nuvatis.ExecContext) { after++ })
	assert.NoError(t, af.BeforeExecute(ctx, ec))
	af.AfterExecute(ctx, ec)
	assert.Equal(t, 1, after)
}
