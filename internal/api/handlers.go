package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sqlitetool/internal/auth"
	"github.com/nerrad567/sqlitetool/internal/command"
	"github.com/nerrad567/sqlitetool/internal/store"
)

// queryRequest is the body of POST /query.
type queryRequest struct {
	DB     string        `json:"db,omitempty"`
	Query  string        `json:"query"`
	Params []store.Value `json:"params,omitempty"`
}

// rowsRequest is the body of the /tables/{table}/rows endpoints.
type rowsRequest struct {
	DB    string       `json:"db,omitempty"`
	Data  store.Record `json:"data"`
	Where store.Record `json:"where"`
}

// columnRequest is the body of POST /tables/{table}/columns.
type columnRequest struct {
	DB         string `json:"db,omitempty"`
	ColumnName string `json:"column_name"`
	DataType   string `json:"data_type"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body queryRequest
	if !decodeBody(w, r, &body) {
		return
	}
	s.dispatch(w, r, command.Request{
		Op:     store.OpExecute,
		DB:     dbParam(r, body.DB),
		Query:  body.Query,
		Params: body.Params,
	})
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var req command.Request
	if !decodeBody(w, r, &req) {
		return
	}
	req.DB = dbParam(r, req.DB)
	s.dispatch(w, r, req)
}

func (s *Server) handleListTables(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, command.Request{Op: store.OpListTables, DB: dbParam(r, "")})
}

func (s *Server) handleDescribeSchema(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, command.Request{Op: store.OpDescribeSchema, DB: dbParam(r, "")})
}

func (s *Server) handleDescribeTable(w http.ResponseWriter, r *http.Request) {
	s.dispatch(w, r, command.Request{
		Op:    store.OpDescribeTable,
		DB:    dbParam(r, ""),
		Table: chi.URLParam(r, "table"),
	})
}

func (s *Server) handleInsertRow(w http.ResponseWriter, r *http.Request) {
	var body rowsRequest
	if !decodeBody(w, r, &body) {
		return
	}
	s.dispatch(w, r, command.Request{
		Op:    store.OpInsert,
		DB:    dbParam(r, body.DB),
		Table: chi.URLParam(r, "table"),
		Data:  body.Data,
	})
}

func (s *Server) handleUpdateRows(w http.ResponseWriter, r *http.Request) {
	var body rowsRequest
	if !decodeBody(w, r, &body) {
		return
	}
	s.dispatch(w, r, command.Request{
		Op:    store.OpUpdate,
		DB:    dbParam(r, body.DB),
		Table: chi.URLParam(r, "table"),
		Data:  body.Data,
		Where: body.Where,
	})
}

func (s *Server) handleDeleteRows(w http.ResponseWriter, r *http.Request) {
	var body rowsRequest
	if !decodeBody(w, r, &body) {
		return
	}
	s.dispatch(w, r, command.Request{
		Op:    store.OpDelete,
		DB:    dbParam(r, body.DB),
		Table: chi.URLParam(r, "table"),
		Where: body.Where,
	})
}

func (s *Server) handleAddColumn(w http.ResponseWriter, r *http.Request) {
	var body columnRequest
	if !decodeBody(w, r, &body) {
		return
	}
	s.dispatch(w, r, command.Request{
		Op:       store.OpAddColumn,
		DB:       dbParam(r, body.DB),
		Table:    chi.URLParam(r, "table"),
		Column:   body.ColumnName,
		DataType: body.DataType,
	})
}

// dispatch authorises req against the caller's claims, runs it and writes
// the envelope.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, req command.Request) {
	if err := authorize(claimsFrom(r.Context()), req); err != nil {
		writeForbidden(w, err.Error())
		return
	}
	writeEnvelope(w, s.dispatcher.Dispatch(r.Context(), req))
}

// authorize checks that claims grant the permission req needs. nil claims
// mean authentication is disabled.
func authorize(claims *auth.CustomClaims, req command.Request) error {
	if claims == nil {
		return nil
	}
	perm := auth.PermissionFor(req.Op, req.Query)
	if !auth.HasPermission(claims.Role, perm) {
		return fmt.Errorf("%w: role %q lacks %s", auth.ErrForbidden, claims.Role, perm)
	}
	return nil
}

// decodeBody decodes a JSON body into v. An empty body leaves v at its
// zero value so the engine reports what is missing. It writes a 400 and
// returns false on malformed input.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}

	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
		return false
	}
	writeBadRequest(w, "invalid JSON body: "+err.Error())
	return false
}

// dbParam returns the ?db= query parameter, falling back to fromBody.
func dbParam(r *http.Request, fromBody string) string {
	if db := r.URL.Query().Get("db"); db != "" {
		return db
	}
	return fromBody
}

// checkDefaultStore verifies the default store is reachable.
func (s *Server) checkDefaultStore(ctx context.Context) error {
	env := s.dispatcher.Dispatch(ctx, command.Request{Op: store.OpListTables})
	return env.Err()
}
