package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nerrad567/sqlitetool/internal/infrastructure/database"
	"github.com/nerrad567/sqlitetool/internal/infrastructure/logging"
)

// Operation names, used in logs and metrics.
const (
	OpExecute        = "execute"
	OpInsert         = "insert"
	OpUpdate         = "update"
	OpDelete         = "delete"
	OpAddColumn      = "add_column"
	OpListTables     = "list_tables"
	OpDescribeSchema = "describe_schema"
	OpDescribeTable  = "describe_table"
)

// Recorder receives one observation per completed operation.
// Implementations must not block.
type Recorder interface {
	RecordOperation(op, outcome string, duration time.Duration, rows int64)
}

// Engine runs structured and raw operations against a store and returns
// an Envelope for every call.
//
// The Engine holds no connection. Each operation acquires its own through
// database.WithConnection and releases it before returning. Calls are
// synchronous and the Engine performs no locking; callers that accept
// concurrent requests serialize them.
type Engine struct {
	base     database.Config
	logger   *logging.Logger
	recorder Recorder
}

// NewEngine creates an Engine. base supplies the open options (creation,
// WAL, busy timeout); its Path is ignored, each call names its store.
func NewEngine(base database.Config, logger *logging.Logger) *Engine {
	return &Engine{
		base:   base,
		logger: logger.With("component", "engine"),
	}
}

// SetRecorder installs an operation metrics sink. nil disables recording.
func (e *Engine) SetRecorder(r Recorder) {
	e.recorder = r
}

// Execute runs raw SQL with optional positional parameters.
//
// Text whose trimmed, upper-cased form starts with SELECT is a read and
// yields a rows envelope; anything else is a write and yields an affected
// envelope.
func (e *Engine) Execute(ctx context.Context, path, query string, params ...Value) Envelope {
	return e.run(ctx, OpExecute, func() (Envelope, error) {
		if strings.TrimSpace(query) == "" {
			return Envelope{}, ErrEmptyQuery
		}
		args := make([]any, len(params))
		for i, p := range params {
			args[i] = p.Arg()
		}
		stmt := Statement{SQL: query, Args: args}

		var env Envelope
		err := e.withConnection(ctx, path, func(ctx context.Context, conn *sqlx.DB) error {
			if IsRead(query) {
				cols, rows, err := e.queryRows(ctx, conn, stmt)
				if err != nil {
					return identifierError(err, "", "")
				}
				env = RowsResult(cols, rows)
				return nil
			}

			n, _, err := e.exec(ctx, conn, stmt)
			if err != nil {
				return identifierError(err, "", "")
			}
			env = AffectedResult(n)
			return nil
		})
		return env, err
	})
}

// Insert adds one row and returns the generated rowid.
func (e *Engine) Insert(ctx context.Context, path, table string, record Record) Envelope {
	return e.run(ctx, OpInsert, func() (Envelope, error) {
		stmt, err := BuildInsert(table, record)
		if err != nil {
			return Envelope{}, err
		}

		var env Envelope
		err = e.withConnection(ctx, path, func(ctx context.Context, conn *sqlx.DB) error {
			_, id, err := e.exec(ctx, conn, stmt)
			if err != nil {
				return identifierError(err, table, "")
			}
			env = InsertedIDResult(id)
			return nil
		})
		return env, err
	})
}

// Update sets record's columns on every row matching all conditions.
func (e *Engine) Update(ctx context.Context, path, table string, record, conditions Record) Envelope {
	return e.run(ctx, OpUpdate, func() (Envelope, error) {
		stmt, err := BuildUpdate(table, record, conditions)
		if err != nil {
			return Envelope{}, err
		}
		return e.write(ctx, path, table, stmt)
	})
}

// Delete removes every row matching all conditions.
func (e *Engine) Delete(ctx context.Context, path, table string, conditions Record) Envelope {
	return e.run(ctx, OpDelete, func() (Envelope, error) {
		stmt, err := BuildDelete(table, conditions)
		if err != nil {
			return Envelope{}, err
		}
		return e.write(ctx, path, table, stmt)
	})
}

// AddColumn appends a nullable column of a whitelisted type to table.
func (e *Engine) AddColumn(ctx context.Context, path, table, column, declaredType string) Envelope {
	return e.run(ctx, OpAddColumn, func() (Envelope, error) {
		stmt, err := BuildAddColumn(table, column, declaredType)
		if err != nil {
			return Envelope{}, err
		}

		var env Envelope
		err = e.withConnection(ctx, path, func(ctx context.Context, conn *sqlx.DB) error {
			if _, _, err := e.exec(ctx, conn, stmt); err != nil {
				return identifierError(err, table, column)
			}
			env = AckResult(fmt.Sprintf("Column '%s' (%s) added to table '%s'",
				column, strings.ToUpper(strings.TrimSpace(declaredType)), table))
			return nil
		})
		return env, err
	})
}

// IsRead reports whether query is classified as row-producing.
func IsRead(query string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "SELECT")
}

// write executes a built UPDATE/DELETE and returns the affected count.
func (e *Engine) write(ctx context.Context, path, table string, stmt Statement) (Envelope, error) {
	var env Envelope
	err := e.withConnection(ctx, path, func(ctx context.Context, conn *sqlx.DB) error {
		n, _, err := e.exec(ctx, conn, stmt)
		if err != nil {
			return identifierError(err, table, "")
		}
		env = AffectedResult(n)
		return nil
	})
	return env, err
}

// withConnection scopes one connection to the store at path.
func (e *Engine) withConnection(ctx context.Context, path string, fn database.ConnFunc) error {
	cfg := e.base
	cfg.Path = path
	return database.WithConnection(ctx, cfg, fn)
}

// exec runs a write statement. SQLite autocommits it.
func (e *Engine) exec(ctx context.Context, conn *sqlx.DB, stmt Statement) (affected, lastID int64, err error) {
	e.logger.Debug("executing statement", "sql", stmt.SQL, "params", len(stmt.Args))

	res, err := conn.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, 0, err
	}
	affected, err = res.RowsAffected()
	if err != nil {
		return 0, 0, fmt.Errorf("reading affected rows: %w", err)
	}
	lastID, err = res.LastInsertId()
	if err != nil {
		return 0, 0, fmt.Errorf("reading last insert id: %w", err)
	}
	return affected, lastID, nil
}

// queryRows materializes the whole result set of a read statement.
// Duplicate result column names collapse onto their first position with
// the last value winning.
func (e *Engine) queryRows(ctx context.Context, conn *sqlx.DB, stmt Statement) ([]string, []Record, error) {
	e.logger.Debug("executing query", "sql", stmt.SQL, "params", len(stmt.Args))

	rows, err := conn.QueryxContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("reading columns: %w", err)
	}

	var records []Record
	for rows.Next() {
		raw, err := rows.SliceScan()
		if err != nil {
			return nil, nil, fmt.Errorf("scanning row: %w", err)
		}
		var rec Record
		for i, col := range columns {
			v, err := FromDriver(raw[i])
			if err != nil {
				return nil, nil, fmt.Errorf("column %q: %w", col, err)
			}
			rec.Set(col, v)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	return columns, records, nil
}

// run is the normalizing boundary: it converts errors and panics into
// Failure envelopes, logs the outcome and reports it to the recorder.
func (e *Engine) run(ctx context.Context, op string, fn func() (Envelope, error)) (env Envelope) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("operation panicked", "op", op, "panic", r)
			env = FailureResult(KindUnexpected, fmt.Sprintf("Unexpected error: %v", r))
		}
		e.finish(ctx, op, env, time.Since(start))
	}()

	env, err := fn()
	if err != nil {
		return Normalize(err)
	}
	return env
}

func (e *Engine) finish(ctx context.Context, op string, env Envelope, elapsed time.Duration) {
	if env.Failure != nil {
		level := "warn"
		if env.Failure.Kind == KindUnexpected || env.Failure.Kind == KindStore {
			level = "error"
		}
		args := []any{"op", op, "kind", env.Failure.Kind, "error", env.Failure.Message, "duration_ms", elapsed.Milliseconds()}
		if level == "error" {
			e.logger.ErrorContext(ctx, "operation failed", args...)
		} else {
			e.logger.WarnContext(ctx, "operation rejected", args...)
		}
	} else {
		e.logger.DebugContext(ctx, "operation complete", "op", op, "result", env.Kind, "duration_ms", elapsed.Milliseconds())
	}

	if e.recorder != nil {
		e.recorder.RecordOperation(op, env.Outcome(), elapsed, env.Count())
	}
}
