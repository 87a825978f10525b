package sql_test

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JinHo-von-Choi/nuvatis-sub001/dialect"
	dsql "github.com/JinHo-von-Choi/nuvatis-sub001/dialect/sql"
)

func TestWithVars(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	drv := dsql.OpenDB(dialect.Postgres, db)

	mock.ExpectExec("SET foo = 'bar'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("RESET foo").WillReturnResult(sqlmock.NewResult(0, 0))
	rows := &dsql.Rows{}
	err = drv.Query(dsql.WithVar(context.Background(), "foo", "bar"), "SELECT 1", []any{}, rows)
	require.NoError(t, err)
	require.NoError(t, rows.Close(), "closing rows releases the connection")
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec("SET foo = 'bar'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("SET foo = 'baz'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("RESET foo").WillReturnResult(sqlmock.NewResult(0, 0))
	ctx := dsql.WithVar(dsql.WithVar(context.Background(), "foo", "bar"), "foo", "baz")
	require.NoError(t, drv.Query(ctx, "SELECT 1", []any{}, rows))
	require.NoError(t, rows.Close())
	require.NoError(t, mock.ExpectationsWereMet())
	v, ok := dsql.VarFromContext(ctx, "foo")
	assert.True(t, ok)
	assert.Equal(t, "bar", v)

	mock.ExpectBegin()
	mock.ExpectExec("SET foo = 'bar'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectCommit()
	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Query(dsql.WithVar(context.Background(), "foo", "bar"), "SELECT 1", []any{}, rows))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())

	mock.ExpectExec("SET foo = '7'").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO users DEFAULT VALUES").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("RESET foo").WillReturnResult(sqlmock.NewResult(0, 0))
	err = drv.Exec(dsql.WithIntVar(context.Background(), "foo", 7), "INSERT INTO users DEFAULT VALUES", []any{}, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWithVars_Rejected(t *testing.T) {
	t.Parallel()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	drv := dsql.OpenDB(dialect.Postgres, db)

	err = drv.Query(
		dsql.WithVar(context.Background(), "foo; DROP TABLE users; --", "bar"),
		"SELECT 1", []any{}, &dsql.Rows{},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid session variable name")
	assert.NotContains(t, err.Error(), "DROP")
}

func TestWithVars_EscapedValue(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	drv := dsql.OpenDB(dialect.Postgres, db)

	mock.ExpectExec(`SET foo = 'it''s \\\\ escaped'`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectExec("RESET foo").WillReturnResult(sqlmock.NewResult(0, 0))
	rows := &dsql.Rows{}
	err = drv.Query(dsql.WithVar(context.Background(), "foo", `it's \ escaped`), "SELECT 1", []any{}, rows)
	require.NoError(t, err)
	require.NoError(t, rows.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDriver_Dialect(t *testing.T) {
	t.Parallel()
	for _, d := range []string{dialect.Postgres, dialect.MySQL, dialect.SQLite} {
		t.Run(d, func(t *testing.T) {
			t.Parallel()
			db, _, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()
			assert.Equal(t, d, dsql.OpenDB(d, db).Dialect())
		})
	}
}

func TestDriver_Query(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := dsql.OpenDB(dialect.Postgres, db)

	t.Run("query_with_args", func(t *testing.T) {
		mock.ExpectQuery(`SELECT name FROM users WHERE id = \$1`).
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("Alice").AddRow(nil))
		rows := &dsql.Rows{}
		require.NoError(t, drv.Query(context.Background(), "SELECT name FROM users WHERE id = $1", []any{1}, rows))
		var names []sql.NullString
		for rows.Next() {
			var n sql.NullString
			require.NoError(t, rows.Scan(&n))
			names = append(names, n)
		}
		require.NoError(t, rows.Close())
		assert.Equal(t, []sql.NullString{{String: "Alice", Valid: true}, {}}, names)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query_error", func(t *testing.T) {
		mock.ExpectQuery("SELECT").WillReturnError(errors.New("database error"))
		err := drv.Query(context.Background(), "SELECT", []any{}, &dsql.Rows{})
		require.ErrorContains(t, err, "dialect/sql: query: database error")
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid_arguments", func(t *testing.T) {
		require.Error(t, drv.Query(context.Background(), "SELECT", []any{}, new(int)))
		require.Error(t, drv.Query(context.Background(), "SELECT", "x", &dsql.Rows{}))
	})
}

func TestDriver_Exec(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := dsql.OpenDB(dialect.Postgres, db)

	t.Run("exec_with_result", func(t *testing.T) {
		mock.ExpectExec(`UPDATE users SET name = \$1 WHERE id = \$2`).
			WithArgs("Alice", 1).
			WillReturnResult(sqlmock.NewResult(0, 3))
		var res sql.Result
		require.NoError(t, drv.Exec(context.Background(), "UPDATE users SET name = $1 WHERE id = $2", []any{"Alice", 1}, &res))
		n, err := res.RowsAffected()
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("exec_error", func(t *testing.T) {
		mock.ExpectExec("DELETE").WillReturnError(errors.New("constraint violation"))
		require.Error(t, drv.Exec(context.Background(), "DELETE FROM users", []any{}, nil))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("invalid_destination", func(t *testing.T) {
		require.Error(t, drv.Exec(context.Background(), "DELETE FROM users", []any{}, new(int)))
	})
}

func TestDriver_Tx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	drv := dsql.OpenDB(dialect.Postgres, db)

	t.Run("commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectCommit()
		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.NoError(t, tx.Exec(context.Background(), "INSERT INTO users (name) VALUES ('test')", []any{}, nil))
		require.NoError(t, tx.Commit())
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO users").WillReturnError(errors.New("error"))
		mock.ExpectRollback()
		tx, err := drv.Tx(context.Background())
		require.NoError(t, err)
		require.Error(t, tx.Exec(context.Background(), "INSERT INTO users (name) VALUES ('test')", []any{}, nil))
		require.NoError(t, tx.Rollback())
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStatsDriver(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var slow []string
	drv := dsql.NewStatsDriver(dsql.OpenDB(dialect.SQLite, db),
		dsql.WithSlowThreshold(10*time.Millisecond),
		dsql.WithSlowQueryHook(func(_ context.Context, query string, _ []any, _ time.Duration) {
			slow = append(slow, query)
		}),
	)
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"1"}).AddRow(1))
	mock.ExpectQuery("SELECT 2").WillDelayFor(30 * time.Millisecond).WillReturnRows(sqlmock.NewRows([]string{"2"}).AddRow(2))
	mock.ExpectExec("DELETE").WillReturnError(errors.New("boom"))
	mock.ExpectBegin()
	mock.ExpectExec("INSERT").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	rows := &dsql.Rows{}
	require.NoError(t, drv.Query(ctx, "SELECT 1", []any{}, rows))
	require.NoError(t, rows.Close())
	require.NoError(t, drv.Query(ctx, "SELECT 2", []any{}, rows))
	require.NoError(t, rows.Close())
	require.Error(t, drv.Exec(ctx, "DELETE FROM t", []any{}, nil))
	tx, err := drv.Tx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Exec(ctx, "INSERT INTO t VALUES (1)", []any{}, nil))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())

	s := drv.QueryStats().Stats()
	assert.Equal(t, int64(2), s.TotalQueries)
	assert.Equal(t, int64(2), s.TotalExecs)
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, int64(1), s.SlowQueries)
	assert.Equal(t, []string{"SELECT 2"}, slow)
	assert.Positive(t, s.AvgDuration())
	assert.Contains(t, s.String(), "queries=2 execs=2")

	drv.SetSlowThreshold(time.Second)
	assert.Equal(t, time.Second, drv.SlowThreshold())
	drv.QueryStats().Reset()
	assert.Zero(t, drv.QueryStats().Stats().TotalQueries)
}

func TestDebugDriver(t *testing.T) {
	t.Parallel()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	drv := dsql.NewDebugDriver(dsql.OpenDB(dialect.MySQL, db), logger)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectRollback()
	tx, err := drv.Tx(context.Background())
	require.NoError(t, err)
	require.NoError(t, tx.Exec(context.Background(), "UPDATE t SET a = ?", []any{1}, nil))
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())

	out := buf.String()
	assert.Contains(t, out, "begin transaction")
	assert.Contains(t, out, `sql="UPDATE t SET a = ?"`)
	assert.Contains(t, out, "rollback transaction")
}

func TestClassifyConstraint(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want dsql.Constraint
	}{
		{"nil", nil, dsql.NoConstraint},
		{"plain", errors.New("connection refused"), dsql.NoConstraint},
		{"pq_unique", &pq.Error{Code: "23505", Message: `duplicate key value violates unique constraint "users_email_key"`}, dsql.UniqueConstraint},
		{"pq_foreign_key_wrapped", fmt.Errorf("exec: %w", &pq.Error{Code: "23503", Message: `insert or update on table "orders" violates foreign key constraint "orders_user_fk"`}), dsql.ForeignKeyConstraint},
		{"pq_check", &pq.Error{Code: "23514", Message: `new row for relation "users" violates check constraint "age_positive"`}, dsql.CheckConstraint},
		{"mysql_duplicate", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, dsql.UniqueConstraint},
		{"mysql_parent_row", &mysql.MySQLError{Number: 1451}, dsql.ForeignKeyConstraint},
		{"mysql_check", &mysql.MySQLError{Number: 3819}, dsql.CheckConstraint},
		{"sqlite_unique", errors.New("constraint failed: UNIQUE constraint failed: users.email (2067)"), dsql.UniqueConstraint},
		{"sqlite_foreign_key", errors.New("FOREIGN KEY constraint failed"), dsql.ForeignKeyConstraint},
		{"sqlite_check", errors.New("CHECK constraint failed: age"), dsql.CheckConstraint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := dsql.ClassifyConstraint(tt.err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want != dsql.NoConstraint, dsql.IsConstraintError(tt.err))
			assert.Equal(t, tt.want == dsql.UniqueConstraint, dsql.IsUniqueConstraintError(tt.err))
			assert.Equal(t, tt.want == dsql.ForeignKeyConstraint, dsql.IsForeignKeyConstraintError(tt.err))
			assert.Equal(t, tt.want == dsql.CheckConstraint, dsql.IsCheckConstraintError(tt.err))
		})
	}
	assert.Equal(t, "foreign key", dsql.ForeignKeyConstraint.String())
}
