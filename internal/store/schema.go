package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ColumnDefinition describes one column as declared in the store.
type ColumnDefinition struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Nullable   bool    `json:"nullable"`
	Default    *string `json:"default"`
	PrimaryKey bool    `json:"primary_key"`
}

// TableSchema is a table and its columns in declaration order.
type TableSchema struct {
	Table   string             `json:"table"`
	Columns []ColumnDefinition `json:"columns"`
}

const (
	// listTablesSQL selects user tables; sqlite_* tables are the engine's catalog.
	listTablesSQL = `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'`

	// tableInfoSQL binds the table name, so no identifier is written into the text.
	tableInfoSQL = `SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?) ORDER BY cid`
)

// columnInfo is one pragma_table_info row.
type columnInfo struct {
	Name    string         `db:"name"`
	Type    string         `db:"type"`
	NotNull bool           `db:"notnull"`
	Default sql.NullString `db:"dflt_value"`
	PK      int            `db:"pk"`
}

// ListTables returns the user-defined table names in catalog order.
func (e *Engine) ListTables(ctx context.Context, path string) Envelope {
	return e.run(ctx, OpListTables, func() (Envelope, error) {
		var env Envelope
		err := e.withConnection(ctx, path, func(ctx context.Context, conn *sqlx.DB) error {
			tables, err := listTables(ctx, conn)
			if err != nil {
				return err
			}
			env = TablesResult(tables)
			return nil
		})
		return env, err
	})
}

// DescribeSchema returns every user table with its column definitions.
func (e *Engine) DescribeSchema(ctx context.Context, path string) Envelope {
	return e.run(ctx, OpDescribeSchema, func() (Envelope, error) {
		var env Envelope
		err := e.withConnection(ctx, path, func(ctx context.Context, conn *sqlx.DB) error {
			tables, err := listTables(ctx, conn)
			if err != nil {
				return err
			}
			schema := make([]TableSchema, 0, len(tables))
			for _, table := range tables {
				cols, err := describeTable(ctx, conn, table)
				if err != nil {
					return err
				}
				schema = append(schema, TableSchema{Table: table, Columns: cols})
			}
			env = SchemaResult(schema)
			return nil
		})
		return env, err
	})
}

// DescribeTable returns the column definitions of a single table.
func (e *Engine) DescribeTable(ctx context.Context, path, table string) Envelope {
	return e.run(ctx, OpDescribeTable, func() (Envelope, error) {
		if err := ValidateIdentifier("table", table); err != nil {
			return Envelope{}, err
		}
		var env Envelope
		err := e.withConnection(ctx, path, func(ctx context.Context, conn *sqlx.DB) error {
			cols, err := describeTable(ctx, conn, table)
			if err != nil {
				return err
			}
			if len(cols) == 0 {
				return &detailError{ErrTableNotFound, fmt.Sprintf("Table '%s' does not exist", table)}
			}
			env = SchemaResult([]TableSchema{{Table: table, Columns: cols}})
			return nil
		})
		return env, err
	})
}

func listTables(ctx context.Context, conn *sqlx.DB) ([]string, error) {
	var tables []string
	if err := conn.SelectContext(ctx, &tables, listTablesSQL); err != nil {
		return nil, fmt.Errorf("listing tables: %w", err)
	}
	return tables, nil
}

func describeTable(ctx context.Context, conn *sqlx.DB, table string) ([]ColumnDefinition, error) {
	var infos []columnInfo
	if err := conn.SelectContext(ctx, &infos, tableInfoSQL, table); err != nil {
		return nil, fmt.Errorf("describing table %q: %w", table, err)
	}

	cols := make([]ColumnDefinition, len(infos))
	for i, info := range infos {
		col := ColumnDefinition{
			Name:       info.Name,
			Type:       info.Type,
			Nullable:   !info.NotNull,
			PrimaryKey: info.PK > 0,
		}
		if info.Default.Valid {
			d := info.Default.String
			col.Default = &d
		}
		cols[i] = col
	}
	return cols, nil
}
