package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/nerrad567/sqlitetool/internal/infrastructure/database"
)

// Validation errors. These are detected before the store is touched.
var (
	// ErrEmptyRecord is returned when an insert or update has no columns.
	ErrEmptyRecord = errors.New("no data provided")

	// ErrMissingConditions is returned when an update or delete has no conditions.
	ErrMissingConditions = errors.New("'where' condition required to avoid affecting every row")

	// ErrInvalidIdentifier is returned for an empty or malformed table/column name.
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrUnsupportedType is returned when add column names a type outside the whitelist.
	ErrUnsupportedType = errors.New("unsupported column type")

	// ErrEmptyQuery is returned when raw execution receives no SQL text.
	ErrEmptyQuery = errors.New("query text is empty")

	// ErrUnsupportedValue is returned when a value is not a SQLite scalar.
	ErrUnsupportedValue = errors.New("unsupported value")
)

// Identifier errors. These come back from the store but name a schema object.
var (
	// ErrTableNotFound is returned when a statement references a missing table.
	ErrTableNotFound = errors.New("table does not exist")

	// ErrDuplicateColumn is returned when add column names an existing column.
	ErrDuplicateColumn = errors.New("column already exists")
)

// ErrorKind classifies a Failure.
type ErrorKind string

// Failure kinds.
const (
	// KindValidation covers missing fields, bad identifiers, bad types and condition-less writes.
	KindValidation ErrorKind = "validation"

	// KindIdentifier covers references to missing tables and duplicate columns.
	KindIdentifier ErrorKind = "identifier"

	// KindStore covers any failure surfaced by the engine during open, execute or commit.
	KindStore ErrorKind = "store"

	// KindUnexpected covers anything else, including recovered panics.
	KindUnexpected ErrorKind = "unexpected"
)

// classify maps err to a Failure kind and caller-facing message.
//
// Messages include only what the driver error already carried plus the
// identifiers involved; parameter values are never appended.
func classify(err error) (ErrorKind, string) {
	switch {
	case errors.Is(err, ErrEmptyRecord),
		errors.Is(err, ErrMissingConditions),
		errors.Is(err, ErrInvalidIdentifier),
		errors.Is(err, ErrUnsupportedType),
		errors.Is(err, ErrEmptyQuery),
		errors.Is(err, ErrUnsupportedValue),
		errors.Is(err, database.ErrEmptyPath):
		return KindValidation, err.Error()
	case errors.Is(err, ErrTableNotFound), errors.Is(err, ErrDuplicateColumn):
		return KindIdentifier, err.Error()
	}

	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		if sqlErr.Code == sqlite3.ErrConstraint {
			return KindStore, "constraint violation: " + sqlErr.Error()
		}
		return KindStore, "SQLite error: " + sqlErr.Error()
	}

	if errors.Is(err, database.ErrNotFound) || errors.Is(err, database.ErrOpen) || errors.Is(err, database.ErrClose) {
		return KindStore, err.Error()
	}

	return KindUnexpected, "Unexpected error: " + err.Error()
}

// detailError carries a caller-facing message while unwrapping to a sentinel.
type detailError struct {
	sentinel error
	msg      string
}

func (e *detailError) Error() string { return e.msg }
func (e *detailError) Unwrap() error { return e.sentinel }

// identifierError rewrites driver errors that name a schema object into
// the identifier sentinels. Other errors are returned unchanged.
func identifierError(err error, table, column string) error {
	var sqlErr sqlite3.Error
	if !errors.As(err, &sqlErr) {
		return err
	}
	msg := strings.ToLower(sqlErr.Error())
	switch {
	case strings.Contains(msg, "duplicate column name"):
		if table == "" && column == "" {
			return &detailError{ErrDuplicateColumn, sqlErr.Error()}
		}
		return &detailError{ErrDuplicateColumn, fmt.Sprintf("Column '%s' already exists in table '%s'", column, table)}
	case strings.Contains(msg, "no such table"):
		if table == "" {
			return &detailError{ErrTableNotFound, sqlErr.Error()}
		}
		return &detailError{ErrTableNotFound, fmt.Sprintf("Table '%s' does not exist", table)}
	default:
		return err
	}
}
