package sql

import (
	"errors"
	"strings"
)

// Constraint classifies a constraint violation reported by a database.
type Constraint uint8

// Constraint kinds.
const (
	NoConstraint Constraint = iota
	UniqueConstraint
	ForeignKeyConstraint
	CheckConstraint
)

// String returns the constraint kind name.
func (c Constraint) String() string {
	switch c {
	case UniqueConstraint:
		return "unique"
	case ForeignKeyConstraint:
		return "foreign key"
	case CheckConstraint:
		return "check"
	}
	return "none"
}

// Implemented by pq.Error, pgx and the SQLite drivers.
type sqlStateError interface {
	SQLState() string
}

type errorCoder interface {
	Code() string
}

type errorNumberer interface {
	Number() uint16
}

// PostgreSQL SQLSTATE class 23 codes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// MySQL error numbers.
const (
	mysqlDuplicateEntry   = 1062
	mysqlForeignKeyParent = 1451
	mysqlForeignKeyChild  = 1452
	mysqlCheckViolation   = 3819
)

// ClassifyConstraint reports which kind of constraint err violated, if any.
// Drivers exposing SQLSTATE codes or MySQL error numbers are matched on
// those; others fall back to their error text.
func ClassifyConstraint(err error) Constraint {
	if err == nil {
		return NoConstraint
	}
	code := ""
	if e, ok := asError[sqlStateError](err); ok {
		code = e.SQLState()
	} else if e, ok := asError[errorCoder](err); ok {
		code = e.Code()
	}
	switch code {
	case pgUniqueViolation:
		return UniqueConstraint
	case pgForeignKeyViolation:
		return ForeignKeyConstraint
	case pgCheckViolation:
		return CheckConstraint
	}
	if e, ok := asError[errorNumberer](err); ok {
		switch e.Number() {
		case mysqlDuplicateEntry:
			return UniqueConstraint
		case mysqlForeignKeyParent, mysqlForeignKeyChild:
			return ForeignKeyConstraint
		case mysqlCheckViolation:
			return CheckConstraint
		}
	}
	msg := err.Error()
	switch {
	case containsAny(msg, "Error 1062", "violates unique constraint", "UNIQUE constraint failed"):
		return UniqueConstraint
	case containsAny(msg, "Error 1451", "Error 1452", "violates foreign key constraint", "FOREIGN KEY constraint failed"):
		return ForeignKeyConstraint
	case containsAny(msg, "Error 3819", "violates check constraint", "CHECK constraint failed"):
		return CheckConstraint
	}
	return NoConstraint
}

// IsConstraintError reports whether err is a constraint violation.
func IsConstraintError(err error) bool {
	return ClassifyConstraint(err) != NoConstraint
}

// IsUniqueConstraintError reports whether err is a uniqueness violation.
func IsUniqueConstraintError(err error) bool {
	return ClassifyConstraint(err) == UniqueConstraint
}

// IsForeignKeyConstraintError reports whether err is a foreign key violation.
func IsForeignKeyConstraintError(err error) bool {
	return ClassifyConstraint(err) == ForeignKeyConstraint
}

// IsCheckConstraintError reports whether err is a check constraint violation.
func IsCheckConstraintError(err error) bool {
	return ClassifyConstraint(err) == CheckConstraint
}

func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
