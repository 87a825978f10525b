package nuvatis

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors. Every typed error below reports true for
// errors.Is against its sentinel.
var (
	// ErrNotFound is returned when a single-row select matches no rows.
	ErrNotFound = errors.New("nuvatis: no rows in result set")

	// ErrNotSingular is returned when a single-row select matches more than one row.
	ErrNotSingular = errors.New("nuvatis: result not singular")

	// ErrConfiguration marks load-time configuration failures.
	ErrConfiguration = errors.New("nuvatis: configuration error")

	// ErrSecurityViolation marks literal substitutions rejected by the identifier validator.
	ErrSecurityViolation = errors.New("nuvatis: security violation")

	// ErrBinding marks malformed placeholders and unusable parameter objects.
	ErrBinding = errors.New("nuvatis: binding error")

	// ErrStatementNotFound marks lookups of unknown statement ids.
	ErrStatementNotFound = errors.New("nuvatis: statement not found")

	// ErrTypeConversion marks column values that cannot be assigned to their property.
	ErrTypeConversion = errors.New("nuvatis: type conversion error")

	// ErrExecution marks failures reported by the dialect driver.
	ErrExecution = errors.New("nuvatis: execution error")
)

// NotFoundError is returned by single-row selects that match no rows.
type NotFoundError struct {
	statement string
}

// Error returns the error string.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("nuvatis: %s returned no rows", e.statement)
}

// Is reports whether the target error matches ErrNotFound.
func (e *NotFoundError) Is(err error) bool {
	return err == ErrNotFound
}

// Statement returns the qualified statement id.
func (e *NotFoundError) Statement() string {
	return e.statement
}

// NewNotFoundError returns a new NotFoundError for the given statement.
func NewNotFoundError(statement string) *NotFoundError {
	return &NotFoundError{statement: statement}
}

// IsNotFound returns true if the error is a NotFoundError.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *NotFoundError
	return errors.As(err, &e) || errors.Is(err, ErrNotFound)
}

// NotSingularError is returned when a single-row select yields several rows.
type NotSingularError struct {
	statement string
	count     int
}

// Error returns the error string.
func (e *NotSingularError) Error() string {
	return fmt.Sprintf("nuvatis: %s not singular (got %d results, expected 1)", e.statement, e.count)
}

// Is reports whether the target error matches ErrNotSingular.
func (e *NotSingularError) Is(err error) bool {
	return err == ErrNotSingular
}

// Count returns the number of results.
func (e *NotSingularError) Count() int {
	return e.count
}

// NewNotSingularError returns a new NotSingularError with the result count.
func NewNotSingularError(statement string, count int) *NotSingularError {
	return &NotSingularError{statement: statement, count: count}
}

// IsNotSingular returns true if the error is a NotSingularError.
func IsNotSingular(err error) bool {
	if err == nil {
		return false
	}
	var e *NotSingularError
	return errors.As(err, &e) || errors.Is(err, ErrNotSingular)
}

// ConfigurationError reports an invalid definition detected while building
// the registry: duplicate ids, cyclic includes or extends, unresolved
// fragments, result maps or type aliases.
type ConfigurationError struct {
	Subject string   // Qualified id of the offending definition
	Chain   []string // Offending reference chain for cycles, if any
	Msg     string
	Err     error
}

// Error returns the error string.
func (e *ConfigurationError) Error() string {
	var sb strings.Builder
	sb.WriteString("nuvatis: configuration: ")
	if e.Subject != "" {
		sb.WriteString(e.Subject)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Msg)
	if len(e.Chain) > 0 {
		sb.WriteString(" (")
		sb.WriteString(strings.Join(e.Chain, " -> "))
		sb.WriteString(")")
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches ErrConfiguration.
func (e *ConfigurationError) Is(err error) bool {
	return err == ErrConfiguration
}

// NewConfigurationError returns a new ConfigurationError.
func NewConfigurationError(subject, format string, a ...any) *ConfigurationError {
	return &ConfigurationError{Subject: subject, Msg: fmt.Sprintf(format, a...)}
}

// NewCycleError returns a ConfigurationError describing a reference cycle.
func NewCycleError(subject, kind string, chain []string) *ConfigurationError {
	return &ConfigurationError{Subject: subject, Msg: "cyclic " + kind, Chain: chain}
}

// IsConfigurationError returns true if the error is a ConfigurationError.
func IsConfigurationError(err error) bool {
	if err == nil {
		return false
	}
	var e *ConfigurationError
	return errors.As(err, &e)
}

// SecurityViolationError is returned when a literal substitution value fails
// identifier validation. It never carries the rejected value itself; Fingerprint
// identifies it without leaking the payload into logs.
type SecurityViolationError struct {
	Param       string // Name of the offending parameter
	Reason      string
	Fingerprint string
}

// Error returns the error string.
func (e *SecurityViolationError) Error() string {
	var sb strings.Builder
	sb.WriteString("nuvatis: security violation")
	if e.Param != "" {
		fmt.Fprintf(&sb, " in parameter %q", e.Param)
	}
	if e.Reason != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Reason)
	}
	if e.Fingerprint != "" {
		fmt.Fprintf(&sb, " [value %s]", e.Fingerprint)
	}
	return sb.String()
}

// Is reports whether the target error matches ErrSecurityViolation.
func (e *SecurityViolationError) Is(err error) bool {
	return err == ErrSecurityViolation
}

// IsSecurityViolation returns true if the error is a SecurityViolationError.
func IsSecurityViolation(err error) bool {
	if err == nil {
		return false
	}
	var e *SecurityViolationError
	return errors.As(err, &e)
}

// BindingError reports malformed placeholder syntax or a parameter object
// that cannot be used for rendering.
type BindingError struct {
	Path string
	Msg  string
	Err  error
}

// Error returns the error string.
func (e *BindingError) Error() string {
	msg := "nuvatis: binding"
	if e.Path != "" {
		msg += fmt.Sprintf(" %q", e.Path)
	}
	msg += ": " + e.Msg
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *BindingError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches ErrBinding.
func (e *BindingError) Is(err error) bool {
	return err == ErrBinding
}

// NewBindingError returns a new BindingError.
func NewBindingError(path, format string, a ...any) *BindingError {
	return &BindingError{Path: path, Msg: fmt.Sprintf(format, a...)}
}

// IsBindingError returns true if the error is a BindingError.
func IsBindingError(err error) bool {
	if err == nil {
		return false
	}
	var e *BindingError
	return errors.As(err, &e)
}

// StatementNotFoundError is returned when a namespace.id lookup fails.
type StatementNotFoundError struct {
	ID string
}

// Error returns the error string.
func (e *StatementNotFoundError) Error() string {
	return fmt.Sprintf("nuvatis: statement %q not found", e.ID)
}

// Is reports whether the target error matches ErrStatementNotFound.
func (e *StatementNotFoundError) Is(err error) bool {
	return err == ErrStatementNotFound
}

// IsStatementNotFound returns true if the error is a StatementNotFoundError.
func IsStatementNotFound(err error) bool {
	if err == nil {
		return false
	}
	var e *StatementNotFoundError
	return errors.As(err, &e)
}

// TypeConversionError reports a column value that could not be coerced into
// the target property type.
type TypeConversionError struct {
	Column   string
	Property string
	Err      error
}

// Error returns the error string.
func (e *TypeConversionError) Error() string {
	if e.Property != "" {
		return fmt.Sprintf("nuvatis: converting column %q into property %q: %v", e.Column, e.Property, e.Err)
	}
	return fmt.Sprintf("nuvatis: converting column %q: %v", e.Column, e.Err)
}

// Unwrap returns the underlying error.
func (e *TypeConversionError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches ErrTypeConversion.
func (e *TypeConversionError) Is(err error) bool {
	return err == ErrTypeConversion
}

// IsTypeConversionError returns true if the error is a TypeConversionError.
func IsTypeConversionError(err error) bool {
	if err == nil {
		return false
	}
	var e *TypeConversionError
	return errors.As(err, &e)
}

// ExecutionError wraps a failure reported by the dialect driver.
type ExecutionError struct {
	Err error
}

// Error returns the error string.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("nuvatis: execute: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Is reports whether the target error matches ErrExecution.
func (e *ExecutionError) Is(err error) bool {
	return err == ErrExecution
}

// IsExecutionError returns true if the error is an ExecutionError.
func IsExecutionError(err error) bool {
	if err == nil {
		return false
	}
	var e *ExecutionError
	return errors.As(err, &e)
}

// StatementError enriches any pipeline error with the statement that
// produced it and the rendered SQL text.
type StatementError struct {
	Statement string // namespace.id
	SQL       string
	Err       error
}

// Error returns the error string.
func (e *StatementError) Error() string {
	if e.SQL != "" {
		return fmt.Sprintf("%v [statement=%s sql=%q]", e.Err, e.Statement, e.SQL)
	}
	return fmt.Sprintf("%v [statement=%s]", e.Err, e.Statement)
}

// Unwrap returns the underlying error.
func (e *StatementError) Unwrap() error {
	return e.Err
}

// WrapStatementError enriches err with the statement id and SQL. It returns
// nil for a nil error and never wraps twice.
func WrapStatementError(statement, sql string, err error) error {
	if err == nil {
		return nil
	}
	var se *StatementError
	if errors.As(err, &se) {
		return err
	}
	return &StatementError{Statement: statement, SQL: sql, Err: err}
}

// PrivacyError represents a policy violation raised by a before-hook.
type PrivacyError struct {
	Statement string
	Kind      Kind
	Rule      string // Rule that denied the operation
	Err       error  // Decision returned by the rule, if any
}

// Error returns the error string.
func (e *PrivacyError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("nuvatis: privacy denied %s on %s (rule: %s)", e.Kind, e.Statement, e.Rule)
	}
	return fmt.Sprintf("nuvatis: privacy denied %s on %s", e.Kind, e.Statement)
}

// Unwrap returns the underlying decision.
func (e *PrivacyError) Unwrap() error {
	return e.Err
}

// NewPrivacyError returns a new PrivacyError.
func NewPrivacyError(statement string, kind Kind, rule string) *PrivacyError {
	return &PrivacyError{Statement: statement, Kind: kind, Rule: rule}
}

// IsPrivacyError returns true if the error is a PrivacyError.
func IsPrivacyError(err error) bool {
	if err == nil {
		return false
	}
	var e *PrivacyError
	return errors.As(err, &e)
}
