package resultmap_test

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JinHo-von-Choi/nuvatis-sub001"
	"github.com/JinHo-von-Choi/nuvatis-sub001/resultmap"
	"github.com/JinHo-von-Choi/nuvatis-sub001/typehandler"
)

type (
	Order struct {
		ID     int64
		Amount float64
		Items  []Item
	}
	Item struct {
		SKU string
	}
	Address struct {
		City string
		Zip  string
	}
	Customer struct {
		ID       int64  `db:"id"`
		Name     string `db:"name"`
		OrderIDs []int64
		Orders   []*Order
		Address  *Address
		Home     Address
	}
)

var (
	customerType = reflect.TypeFor[Customer]()
	orderType    = reflect.TypeFor[Order]()
)

func TestMap_ScalarCollection(t *testing.T) {
	t.Parallel()
	rm := &resultmap.ResultMap{
		ID:   "shop.customer",
		Type: customerType,
		Mappings: []resultmap.Mapping{
			{Column: "id", Property: "ID", Key: true},
			{Column: "name", Property: "Name"},
		},
		Collections: []resultmap.Collection{
			{Property: "OrderIDs", Column: "order_id", ElementType: reflect.TypeFor[int64]()},
		},
	}
	rs := resultmap.NewRowSet([]string{"id", "name", "order_id"},
		[]any{int64(1), "a", int64(10)},
		[]any{int64(1), "a", int64(11)},
	)
	out, err := resultmap.NewMapper(nil, nil).Map(context.Background(), rs, resultmap.Target{Map: rm}, nil)
	require.NoError(t, err)
	got := out.Interface().([]Customer)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, []int64{10, 11}, got[0].OrderIDs)
}

func TestMap_NestedCollections(t *testing.T) {
	t.Parallel()
	itemMap := &resultmap.ResultMap{
		ID:       "shop.item",
		Type:     reflect.TypeFor[Item](),
		Mappings: []resultmap.Mapping{{Column: "sku", Property: "SKU", Key: true}},
	}
	orderMap := &resultmap.ResultMap{
		ID:   "shop.order",
		Type: orderType,
		Mappings: []resultmap.Mapping{
			{Column: "id", Property: "ID", Key: true},
			{Column: "amount", Property: "Amount"},
		},
		Collections: []resultmap.Collection{
			{Property: "Items", ColumnPrefix: "item_", Map: itemMap},
		},
	}
	rm := &resultmap.ResultMap{
		ID:   "shop.customer",
		Type: reflect.TypeFor[*Customer](),
		Mappings: []resultmap.Mapping{
			{Column: "id", Property: "ID", Key: true},
			{Column: "name", Property: "Name"},
		},
		Associations: []resultmap.Association{
			{Property: "Address", ColumnPrefix: "addr_", Map: &resultmap.ResultMap{
				ID:          "shop.address",
				Type:        reflect.TypeFor[Address](),
				AutoMapping: true,
			}},
		},
		Collections: []resultmap.Collection{
			{Property: "Orders", ColumnPrefix: "order_", Map: orderMap},
		},
	}
	cols := []string{"id", "name", "addr_city", "addr_zip", "order_id", "order_amount", "order_item_sku"}
	rs := resultmap.NewRowSet(cols,
		[]any{int64(1), "a", "Seoul", "04524", int64(10), 9.5, "x"},
		[]any{int64(1), "a", "Seoul", "04524", int64(10), 9.5, "y"},
		[]any{int64(1), "a", "Seoul", "04524", int64(11), 3.0, nil},
		[]any{int64(2), "b", nil, nil, nil, nil, nil},
		[]any{int64(1), "a", "Seoul", "04524", int64(12), 1.0, "z"},
	)
	out, err := resultmap.NewMapper(nil, nil).Map(context.Background(), rs, resultmap.Target{Map: rm}, nil)
	require.NoError(t, err)
	got := out.Interface().([]*Customer)
	require.Len(t, got, 3, "non-contiguous rows start a new object")

	first := got[0]
	assert.Equal(t, "a", first.Name)
	require.NotNil(t, first.Address)
	assert.Equal(t, Address{City: "Seoul", Zip: "04524"}, *first.Address)
	require.Len(t, first.Orders, 2)
	assert.Equal(t, int64(10), first.Orders[0].ID)
	assert.Equal(t, []Item{{SKU: "x"}, {SKU: "y"}}, first.Orders[0].Items)
	assert.Equal(t, int64(11), first.Orders[1].ID)
	assert.Empty(t, first.Orders[1].Items)
	assert.NotNil(t, first.Orders[1].Items)

	second := got[1]
	assert.Nil(t, second.Address, "all NULL association columns leave the property unset")
	assert.Empty(t, second.Orders)

	assert.Equal(t, int64(12), got[2].Orders[0].ID)
}

func TestMap_ValueAssociation(t *testing.T) {
	t.Parallel()
	rm := &resultmap.ResultMap{
		ID:       "shop.customer",
		Type:     customerType,
		Mappings: []resultmap.Mapping{{Column: "id", Property: "ID"}},
		Associations: []resultmap.Association{{
			Property:     "Home",
			ColumnPrefix: "home_",
			Map: &resultmap.ResultMap{
				ID:       "shop.address",
				Type:     reflect.TypeFor[Address](),
				Mappings: []resultmap.Mapping{{Column: "city", Property: "City"}},
			},
		}},
	}
	rs := resultmap.NewRowSet([]string{"id", "home_city"}, []any{int64(3), []byte("Busan")})
	out, err := resultmap.NewMapper(nil, nil).Map(context.Background(), rs, resultmap.Target{Map: rm}, nil)
	require.NoError(t, err)
	got := out.Interface().([]Customer)
	require.Len(t, got, 1)
	assert.Equal(t, "Busan", got[0].Home.City)
}

func TestMap_DeferredSelect(t *testing.T) {
	t.Parallel()
	var calls []any
	sub := resultmap.SubQuerierFunc(func(_ context.Context, stmt string, param any, elem reflect.Type) (reflect.Value, error) {
		require.Equal(t, "shop.ordersByCustomer", stmt)
		require.Equal(t, reflect.TypeFor[*Order](), elem)
		calls = append(calls, param)
		id := param.(int64)
		return reflect.ValueOf([]*Order{{ID: id * 10}, {ID: id*10 + 1}}), nil
	})
	rm := &resultmap.ResultMap{
		ID:   "shop.customer",
		Type: customerType,
		Mappings: []resultmap.Mapping{
			{Column: "id", Property: "ID"},
		},
		Collections: []resultmap.Collection{
			{Property: "Orders", Select: "shop.ordersByCustomer", Column: "id"},
		},
	}
	rs := resultmap.NewRowSet([]string{"id"}, []any{int64(1)}, []any{int64(2)}, []any{int64(1)})
	out, err := resultmap.NewMapper(nil, nil).Map(context.Background(), rs, resultmap.Target{Map: rm}, sub)
	require.NoError(t, err)
	got := out.Interface().([]Customer)
	require.Len(t, got, 3)
	assert.Equal(t, []any{int64(1), int64(2)}, calls, "each key is loaded once")
	assert.Equal(t, int64(10), got[0].Orders[0].ID)
	assert.Equal(t, int64(21), got[1].Orders[1].ID)
	assert.Equal(t, got[0].Orders, got[2].Orders)

	_, err = resultmap.NewMapper(nil, nil).Map(context.Background(), rs, resultmap.Target{Map: rm}, nil)
	require.Error(t, err)
}

func TestMap_DeferredAssociation(t *testing.T) {
	t.Parallel()
	sub := resultmap.SubQuerierFunc(func(_ context.Context, _ string, param any, elem reflect.Type) (reflect.Value, error) {
		if param.(string) == "none" {
			return reflect.MakeSlice(reflect.SliceOf(elem), 0, 0), nil
		}
		return reflect.ValueOf([]*Address{{City: param.(string)}}), nil
	})
	rm := &resultmap.ResultMap{
		ID:   "shop.customer",
		Type: customerType,
		Associations: []resultmap.Association{
			{Property: "Address", Select: "shop.address", Column: "city"},
		},
		AutoMapping: true,
	}
	rs := resultmap.NewRowSet([]string{"id", "city"}, []any{int64(1), "Incheon"}, []any{int64(2), "none"})
	out, err := resultmap.NewMapper(nil, nil).Map(context.Background(), rs, resultmap.Target{Map: rm}, sub)
	require.NoError(t, err)
	got := out.Interface().([]Customer)
	require.Len(t, got, 2)
	assert.Equal(t, "Incheon", got[0].Address.City)
	assert.Nil(t, got[1].Address)
}

func TestMap_AutoMapping(t *testing.T) {
	t.Parallel()
	type row struct {
		ID        int64
		UserName  string
		CreatedAt time.Time
		Score     *float64
		Ignored   string `db:"-"`
	}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rs := resultmap.NewRowSet([]string{"ID", "user_name", "created_at", "score", "extra"},
		[]any{int64(1), []byte("kim"), now, 4.5, "x"},
		[]any{"2", "lee", now.Format(time.RFC3339), nil, "y"},
	)
	out, err := resultmap.NewMapper(nil, nil).Map(context.Background(), rs, resultmap.Target{Type: reflect.TypeFor[row]()}, nil)
	require.NoError(t, err)
	got := out.Interface().([]row)
	require.Len(t, got, 2)
	assert.Equal(t, "kim", got[0].UserName)
	assert.True(t, now.Equal(got[0].CreatedAt))
	require.NotNil(t, got[0].Score)
	assert.Equal(t, 4.5, *got[0].Score)
	assert.Equal(t, int64(2), got[1].ID)
	assert.Nil(t, got[1].Score)
}

func TestMap_SimpleType(t *testing.T) {
	t.Parallel()
	rs := resultmap.NewRowSet([]string{"count"}, []any{int64(3)}, []any{[]byte("4")})
	out, err := resultmap.NewMapper(nil, nil).Map(context.Background(), rs, resultmap.Target{Type: reflect.TypeFor[int]()}, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4}, out.Interface())

	rs = resultmap.NewRowSet([]string{"count"}, []any{"x"})
	_, err = resultmap.NewMapper(nil, nil).Map(context.Background(), rs, resultmap.Target{Type: reflect.TypeFor[int]()}, nil)
	require.Error(t, err)
	assert.True(t, nuvatis.IsTypeConversionError(err))
	assert.Contains(t, err.Error(), `"count"`)
}

type Status int

const (
	StatusActive Status = iota + 1
	StatusBlocked
)

func TestMap_TypeHandlers(t *testing.T) {
	t.Parallel()
	type account struct {
		Status Status
		Tags   []string
	}
	handlers := typehandler.NewRegistry()
	handlers.Register(typehandler.Func[Status]{
		Read: func(raw any) (Status, error) {
			switch fmt.Sprint(raw) {
			case "active":
				return StatusActive, nil
			case "blocked":
				return StatusBlocked, nil
			}
			return 0, fmt.Errorf("unknown status %v", raw)
		},
	})
	handlers.RegisterNamed("csv", typehandler.Func[[]string]{
		Read: func(raw any) ([]string, error) { return strings.Split(fmt.Sprint(raw), ","), nil },
	})
	rm := &resultmap.ResultMap{
		ID:   "acct.account",
		Type: reflect.TypeFor[account](),
		Mappings: []resultmap.Mapping{
			{Column: "status", Property: "Status"},
			{Column: "tags", Property: "Tags", TypeHandler: "csv"},
		},
	}
	m := resultmap.NewMapper(handlers, nil)
	rs := resultmap.NewRowSet([]string{"status", "tags"}, []any{"blocked", "a,b"})
	out, err := m.Map(context.Background(), rs, resultmap.Target{Map: rm}, nil)
	require.NoError(t, err)
	assert.Equal(t, []account{{Status: StatusBlocked, Tags: []string{"a", "b"}}}, out.Interface())

	rs = resultmap.NewRowSet([]string{"status", "tags"}, []any{"gone", ""})
	_, err = m.Map(context.Background(), rs, resultmap.Target{Map: rm}, nil)
	require.Error(t, err)
	var terr *nuvatis.TypeConversionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "status", terr.Column)
	assert.Equal(t, "Status", terr.Property)
}

func TestMaterialize_SQLRows(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.ExpectQuery("SELECT id, name FROM customers").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "a").AddRow(2, "b"))

	rows, err := db.Query("SELECT id, name FROM customers")
	require.NoError(t, err)
	defer rows.Close()
	out, err := resultmap.NewMapper(nil, nil).Materialize(context.Background(), rows, resultmap.Target{Type: reflect.TypeFor[*Customer]()}, nil)
	require.NoError(t, err)
	got := out.Interface().([]*Customer)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[1].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResultMap_Extend(t *testing.T) {
	t.Parallel()
	parent := &resultmap.ResultMap{
		ID:   "shop.base",
		Type: customerType,
		Mappings: []resultmap.Mapping{
			{Column: "id", Property: "ID", Key: true},
			{Column: "name", Property: "Name"},
		},
		Collections: []resultmap.Collection{{Property: "OrderIDs", Column: "order_id"}},
	}
	child := &resultmap.ResultMap{
		ID:       "shop.detail",
		Extends:  "shop.base",
		Mappings: []resultmap.Mapping{{Column: "full_name", Property: "Name"}},
	}
	got := child.Extend(parent)
	assert.Equal(t, customerType, got.Type)
	assert.Equal(t, []resultmap.Mapping{
		{Column: "full_name", Property: "Name"},
		{Column: "id", Property: "ID", Key: true},
	}, got.Mappings)
	assert.Len(t, got.Collections, 1)
	assert.Len(t, child.Mappings, 1, "extend does not modify the child")
	assert.True(t, got.Nested())
}

func TestLoader(t *testing.T) {
	t.Parallel()
	l := resultmap.NewLoader(func(_ context.Context, k int) (string, error) {
		if k < 0 {
			return "", fmt.Errorf("negative")
		}
		return fmt.Sprint(k), nil
	})
	ctx := context.Background()
	for range 3 {
		v, err := l.Load(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, "1", v)
	}
	_, err := l.Load(ctx, -1)
	require.Error(t, err)
	_, err = l.Load(ctx, -1)
	require.Error(t, err)
	assert.Equal(t, 2, l.Calls())

	l.Prime(5, "five")
	v, _ := l.Load(ctx, 5)
	assert.Equal(t, "five", v)
	l.Clear(5)
	v, _ = l.Load(ctx, 5)
	assert.Equal(t, "5", v)
	assert.Equal(t, 3, l.Calls())
}
