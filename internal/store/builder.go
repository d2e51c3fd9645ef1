package store

import (
	"fmt"
	"sort"
	"strings"
)

// Statement is SQL text with positional placeholders and the arguments
// bound to them, in placeholder order.
type Statement struct {
	SQL  string
	Args []any
}

// allowedColumnTypes is the add-column type whitelist.
var allowedColumnTypes = map[string]struct{}{
	"TEXT":     {},
	"INTEGER":  {},
	"REAL":     {},
	"NUMERIC":  {},
	"BLOB":     {},
	"DATE":     {},
	"DATETIME": {},
}

// AllowedColumnTypes returns the add-column type whitelist, sorted.
func AllowedColumnTypes() []string {
	types := make([]string, 0, len(allowedColumnTypes))
	for t := range allowedColumnTypes {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// BuildInsert builds INSERT INTO t (cols) VALUES (?, ...).
func BuildInsert(table string, record Record) (Statement, error) {
	if err := ValidateIdentifier("table", table); err != nil {
		return Statement{}, err
	}
	if record.IsEmpty() {
		return Statement{}, ErrEmptyRecord
	}
	cols, err := quotedColumns(record)
	if err != nil {
		return Statement{}, err
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(cols, ", "), placeholders)

	return Statement{SQL: sql, Args: record.Args()}, nil
}

// BuildUpdate builds UPDATE t SET c = ?, ... WHERE k = ? AND ...
// Arguments are the record values followed by the condition values.
func BuildUpdate(table string, record, conditions Record) (Statement, error) {
	if err := ValidateIdentifier("table", table); err != nil {
		return Statement{}, err
	}
	if record.IsEmpty() {
		return Statement{}, fmt.Errorf("%w: both 'data' and 'where' must be provided", ErrEmptyRecord)
	}
	if conditions.IsEmpty() {
		return Statement{}, fmt.Errorf("%w: both 'data' and 'where' must be provided", ErrMissingConditions)
	}

	set, err := equalityClauses(record)
	if err != nil {
		return Statement{}, err
	}
	where, err := equalityClauses(conditions)
	if err != nil {
		return Statement{}, err
	}

	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		quoteIdent(table), strings.Join(set, ", "), strings.Join(where, " AND "))

	args := append(record.Args(), conditions.Args()...)
	return Statement{SQL: sql, Args: args}, nil
}

// BuildDelete builds DELETE FROM t WHERE k = ? AND ...
// Conditions are mandatory; there is no way to build an unconditional delete.
func BuildDelete(table string, conditions Record) (Statement, error) {
	if err := ValidateIdentifier("table", table); err != nil {
		return Statement{}, err
	}
	if conditions.IsEmpty() {
		return Statement{}, ErrMissingConditions
	}

	where, err := equalityClauses(conditions)
	if err != nil {
		return Statement{}, err
	}

	sql := fmt.Sprintf("DELETE FROM %s WHERE %s", quoteIdent(table), strings.Join(where, " AND "))
	return Statement{SQL: sql, Args: conditions.Args()}, nil
}

// BuildAddColumn builds ALTER TABLE t ADD COLUMN c TYPE.
// declaredType is matched case-insensitively and emitted upper-cased.
func BuildAddColumn(table, column, declaredType string) (Statement, error) {
	if err := ValidateIdentifier("table", table); err != nil {
		return Statement{}, err
	}
	if err := ValidateIdentifier("column", column); err != nil {
		return Statement{}, err
	}

	typ := strings.ToUpper(strings.TrimSpace(declaredType))
	if _, ok := allowedColumnTypes[typ]; !ok {
		return Statement{}, fmt.Errorf("%w: %q, data type must be one of: %s",
			ErrUnsupportedType, declaredType, strings.Join(AllowedColumnTypes(), ", "))
	}

	sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(table), quoteIdent(column), typ)
	return Statement{SQL: sql}, nil
}

// quotedColumns validates and quotes every column of r, in order.
func quotedColumns(r Record) ([]string, error) {
	cols := r.Columns()
	for i, c := range cols {
		if err := ValidateIdentifier("column", c); err != nil {
			return nil, err
		}
		cols[i] = quoteIdent(c)
	}
	return cols, nil
}

// equalityClauses renders "c" = ? for every column of r, in order.
func equalityClauses(r Record) ([]string, error) {
	cols, err := quotedColumns(r)
	if err != nil {
		return nil, err
	}
	for i, c := range cols {
		cols[i] = c + " = ?"
	}
	return cols, nil
}
