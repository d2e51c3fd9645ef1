package command

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/nerrad567/sqlitetool/internal/infrastructure/logging"
	"github.com/nerrad567/sqlitetool/internal/store"
)

// Request is one operation against a store, as decoded from any transport.
//
// DB may be empty, in which case the dispatcher's default store is used.
// Which of the remaining fields are read depends on Op.
type Request struct {
	Op       string        `json:"op"`
	DB       string        `json:"db,omitempty"`
	Query    string        `json:"query,omitempty"`
	Params   []store.Value `json:"params,omitempty"`
	Table    string        `json:"table,omitempty"`
	Data     store.Record  `json:"data"`
	Where    store.Record  `json:"where"`
	Column   string        `json:"column_name,omitempty"`
	DataType string        `json:"data_type,omitempty"`
}

// Engine is the set of store operations a Dispatcher drives.
// *store.Engine implements it.
type Engine interface {
	Execute(ctx context.Context, path, query string, params ...store.Value) store.Envelope
	Insert(ctx context.Context, path, table string, record store.Record) store.Envelope
	Update(ctx context.Context, path, table string, record, conditions store.Record) store.Envelope
	Delete(ctx context.Context, path, table string, conditions store.Record) store.Envelope
	AddColumn(ctx context.Context, path, table, column, declaredType string) store.Envelope
	ListTables(ctx context.Context, path string) store.Envelope
	DescribeSchema(ctx context.Context, path string) store.Envelope
	DescribeTable(ctx context.Context, path, table string) store.Envelope
}

// Ops lists the operation names a Request may carry.
func Ops() []string {
	return []string{
		store.OpExecute,
		store.OpInsert,
		store.OpUpdate,
		store.OpDelete,
		store.OpAddColumn,
		store.OpListTables,
		store.OpDescribeSchema,
		store.OpDescribeTable,
	}
}

// Observer is notified after every dispatched request. It runs on the
// caller's goroutine after the engine lock is released.
type Observer func(ctx context.Context, req Request, env store.Envelope)

// Dispatcher routes Requests to an Engine.
//
// Dispatch holds a mutex for the duration of each engine call, so
// concurrent transports never run two operations at once. Views made by
// Confine share that mutex and the observer list.
type Dispatcher struct {
	*core
	root string // empty: any path is accepted
}

type core struct {
	engine      Engine
	defaultPath string
	logger      *logging.Logger

	mu sync.Mutex

	obsMu     sync.RWMutex
	observers []Observer
}

// NewDispatcher creates a Dispatcher. defaultPath is used for requests
// that do not name a store.
func NewDispatcher(engine Engine, defaultPath string, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{core: &core{
		engine:      engine,
		defaultPath: defaultPath,
		logger:      logger.With("component", "dispatcher"),
	}}
}

// Confine returns a view of d that only accepts store paths under root.
// Relative paths are resolved against root; a request naming no store
// still gets the default one.
func (d *Dispatcher) Confine(root string) (*Dispatcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving database root %q: %w", root, err)
	}
	return &Dispatcher{core: d.core, root: abs}, nil
}

// Root returns the directory paths are confined to, or "" when d accepts
// any path.
func (d *Dispatcher) Root() string {
	return d.root
}

// DefaultPath returns the store used when a request names none.
func (d *Dispatcher) DefaultPath() string {
	return d.defaultPath
}

// ResolvePath returns the store db refers to: the default store when db is
// blank, db itself when d is unconfined, and otherwise db placed under the
// root. ErrPathOutsideRoot is returned for anything that escapes the root.
func (d *Dispatcher) ResolvePath(db string) (string, error) {
	if strings.TrimSpace(db) == "" {
		return d.defaultPath, nil
	}
	if d.root == "" {
		return db, nil
	}

	path := filepath.Clean(db)
	if !filepath.IsAbs(path) {
		path = filepath.Join(d.root, path)
	}
	if !within(d.root, path) || !within(realPath(d.root), realPath(path)) {
		return "", fmt.Errorf("%w: %q", ErrPathOutsideRoot, db)
	}
	return path, nil
}

// within reports whether path names an entry strictly below root.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || rel == ".." {
		return false
	}
	return !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// realPath follows symlinks through the longest existing prefix of path.
func realPath(path string) string {
	rest := ""
	for p := path; ; p = filepath.Dir(p) {
		if real, err := filepath.EvalSymlinks(p); err == nil {
			return filepath.Join(real, rest)
		}
		if filepath.Dir(p) == p {
			return path
		}
		rest = filepath.Join(filepath.Base(p), rest)
	}
}

// Observe registers fn to be called after every dispatched request.
func (d *Dispatcher) Observe(fn Observer) {
	d.obsMu.Lock()
	d.observers = append(d.observers, fn)
	d.obsMu.Unlock()
}

// Dispatch runs req and returns its outcome. It never returns an error;
// an unknown operation or a store path outside the root yields a
// validation failure.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) store.Envelope {
	req.Op = strings.ToLower(strings.TrimSpace(req.Op))

	var env store.Envelope
	if path, err := d.ResolvePath(req.DB); err != nil {
		d.logger.Warn("rejected store path", "op", req.Op, "db", req.DB, "root", d.root)
		env = store.FailureResult(store.KindValidation, err.Error())
	} else {
		req.DB = path
		env = d.dispatch(ctx, req)
	}

	d.obsMu.RLock()
	observers := d.observers
	d.obsMu.RUnlock()
	for _, fn := range observers {
		fn(ctx, req, env)
	}
	return env
}

// IsWrite reports whether req can modify the store.
func IsWrite(req Request) bool {
	switch strings.ToLower(strings.TrimSpace(req.Op)) {
	case store.OpInsert, store.OpUpdate, store.OpDelete, store.OpAddColumn:
		return true
	case store.OpExecute:
		return !store.IsRead(req.Query)
	default:
		return false
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, req Request) store.Envelope {
	path := req.DB

	d.mu.Lock()
	defer d.mu.Unlock()

	switch req.Op {
	case store.OpExecute:
		return d.engine.Execute(ctx, path, req.Query, req.Params...)
	case store.OpInsert:
		return d.engine.Insert(ctx, path, req.Table, req.Data)
	case store.OpUpdate:
		return d.engine.Update(ctx, path, req.Table, req.Data, req.Where)
	case store.OpDelete:
		return d.engine.Delete(ctx, path, req.Table, req.Where)
	case store.OpAddColumn:
		return d.engine.AddColumn(ctx, path, req.Table, req.Column, req.DataType)
	case store.OpListTables:
		return d.engine.ListTables(ctx, path)
	case store.OpDescribeSchema:
		return d.engine.DescribeSchema(ctx, path)
	case store.OpDescribeTable:
		return d.engine.DescribeTable(ctx, path, req.Table)
	default:
		d.logger.Warn("unknown operation", "op", req.Op)
		return store.FailureResult(store.KindValidation,
			fmt.Sprintf("%s %q, expected one of: %s", ErrUnknownOperation, req.Op, strings.Join(Ops(), ", ")))
	}
}
