package mcp

import (
	mcpsdk "github.com/mark3labs/mcp-go/mcp"

	"github.com/nerrad567/sqlitetool/internal/command"
	"github.com/nerrad567/sqlitetool/internal/store"
)

// toolArgs is the union of every tool's arguments.
type toolArgs struct {
	Query      string        `json:"query"`
	Params     []store.Value `json:"params"`
	DBPath     string        `json:"db_path"`
	Table      string        `json:"table"`
	Data       store.Record  `json:"data"`
	Where      store.Record  `json:"where"`
	ColumnName string        `json:"column_name"`
	DataType   string        `json:"data_type"`
}

type toolDef struct {
	mcpsdk.Tool
	request func(a toolArgs) command.Request
}

func prop(typ, description string) map[string]any {
	return map[string]any{"type": typ, "description": description}
}

func tool(name, description string, required []string, props map[string]any) mcpsdk.Tool {
	props["db_path"] = prop("string", "Path to the SQLite database file. Defaults to the configured store.")
	return mcpsdk.Tool{
		Name:        name,
		Description: description,
		InputSchema: mcpsdk.ToolInputSchema{
			Type:       "object",
			Properties: props,
			Required:   required,
		},
	}
}

var toolDefs = []toolDef{
	{
		Tool: tool("execute_sql_query",
			"Execute a SQL query on a local SQLite database, for complex queries - write raw SQL.",
			[]string{"query"}, map[string]any{
				"query":  prop("string", "The SQL statement to execute."),
				"params": map[string]any{"type": "array", "description": "Positional parameters bound to ? placeholders."},
			}),
		request: func(a toolArgs) command.Request {
			return command.Request{Op: store.OpExecute, DB: a.DBPath, Query: a.Query, Params: a.Params}
		},
	},
	{
		Tool: tool("get_database_schema",
			"Get the schema of all tables in the SQLite database.",
			nil, map[string]any{}),
		request: func(a toolArgs) command.Request {
			return command.Request{Op: store.OpDescribeSchema, DB: a.DBPath}
		},
	},
	{
		Tool: tool("list_tables",
			"Get the list of all table names in the SQLite database.",
			nil, map[string]any{}),
		request: func(a toolArgs) command.Request {
			return command.Request{Op: store.OpListTables, DB: a.DBPath}
		},
	},
	{
		Tool: tool("insert_row",
			"Insert a single row into a specified table.",
			[]string{"table", "data"}, map[string]any{
				"table": prop("string", "Name of the target table."),
				"data":  prop("object", "Column names mapped to values."),
			}),
		request: func(a toolArgs) command.Request {
			return command.Request{Op: store.OpInsert, DB: a.DBPath, Table: a.Table, Data: a.Data}
		},
	},
	{
		Tool: tool("update_rows",
			"Update rows in a specified table matching equality WHERE conditions.",
			[]string{"table", "data", "where"}, map[string]any{
				"table": prop("string", "Name of the target table."),
				"data":  prop("object", "Column names mapped to new values."),
				"where": prop("object", "Column names mapped to the values rows must equal."),
			}),
		request: func(a toolArgs) command.Request {
			return command.Request{Op: store.OpUpdate, DB: a.DBPath, Table: a.Table, Data: a.Data, Where: a.Where}
		},
	},
	{
		Tool: tool("delete_rows",
			"Delete rows from a specified table matching equality WHERE conditions.",
			[]string{"table", "where"}, map[string]any{
				"table": prop("string", "Name of the target table."),
				"where": prop("object", "Column names mapped to the values rows must equal."),
			}),
		request: func(a toolArgs) command.Request {
			return command.Request{Op: store.OpDelete, DB: a.DBPath, Table: a.Table, Where: a.Where}
		},
	},
	{
		Tool: tool("add_column",
			"Add a new column (field) to an existing table in the SQLite database.",
			[]string{"table", "column_name", "data_type"}, map[string]any{
				"table":       prop("string", "Name of the target table."),
				"column_name": prop("string", "Name of the new column."),
				"data_type": map[string]any{
					"type":        "string",
					"description": "Declared type of the new column.",
					"enum":        store.AllowedColumnTypes(),
				},
			}),
		request: func(a toolArgs) command.Request {
			return command.Request{Op: store.OpAddColumn, DB: a.DBPath, Table: a.Table, Column: a.ColumnName, DataType: a.DataType}
		},
	},
}
