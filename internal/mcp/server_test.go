package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/sqlitetool/internal/command"
	"github.com/nerrad567/sqlitetool/internal/infrastructure/database"
	"github.com/nerrad567/sqlitetool/internal/infrastructure/logging"
	"github.com/nerrad567/sqlitetool/internal/store"
)

type testResponse struct {
	ID     json.RawMessage `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type callResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	IsError bool `json:"isError"`
}

func newServer(t *testing.T) (*Server, string) {
	t.Helper()
	log := logging.Discard()
	engine := store.NewEngine(database.Config{CreateIfMissing: true, BusyTimeout: 5}, log)
	path := filepath.Join(t.TempDir(), "tools.db")
	return NewServer(command.NewDispatcher(engine, path, log), log, "test"), path
}

// serve feeds lines to the server and returns the responses keyed by id.
// Tool calls may be answered out of order.
func serve(t *testing.T, s *Server, lines ...string) map[string]testResponse {
	t.Helper()
	in := strings.NewReader(strings.Join(lines, "\n") + "\n")
	var out bytes.Buffer

	if err := s.Serve(context.Background(), in, &out); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	responses := make(map[string]testResponse)
	scanner := bufio.NewScanner(&out)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var r testResponse
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("decoding response %q: %v", scanner.Text(), err)
		}
		responses[string(r.ID)] = r
	}
	return responses
}

// sequence runs each line in its own session so that calls depending on
// earlier ones see their effects.
func sequence(t *testing.T, s *Server, lines ...string) []testResponse {
	t.Helper()
	out := make([]testResponse, len(lines))
	for i, line := range lines {
		resp := serve(t, s, line)
		if len(resp) != 1 {
			t.Fatalf("line %d: got %d responses, want 1", i+1, len(resp))
		}
		for _, r := range resp {
			out[i] = r
		}
	}
	return out
}

func call(id int, tool string, args string) string {
	return `{"jsonrpc":"2.0","id":` + strconv.Itoa(id) + `,"method":"tools/call","params":{"name":"` + tool + `","arguments":` + args + `}}`
}

func decodeCall(t *testing.T, r testResponse) callResult {
	t.Helper()
	if r.Error != nil {
		t.Fatalf("unexpected rpc error %+v", r.Error)
	}
	var res callResult
	if err := json.Unmarshal(r.Result, &res); err != nil {
		t.Fatalf("decoding call result: %v", err)
	}
	if len(res.Content) != 1 || res.Content[0].Type != "text" {
		t.Fatalf("content = %+v", res.Content)
	}
	return res
}

// toolEnvelope decodes the envelope carried by a tools/call result.
func toolEnvelope(t *testing.T, r testResponse) (store.Envelope, bool) {
	t.Helper()
	res := decodeCall(t, r)
	var env store.Envelope
	if err := json.Unmarshal([]byte(res.Content[0].Text), &env); err != nil {
		t.Fatalf("decoding envelope %q: %v", res.Content[0].Text, err)
	}
	return env, res.IsError
}

func TestServe_Initialize(t *testing.T) {
	s, _ := newServer(t)
	resp := serve(t, s,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","capabilities":{},"clientInfo":{"name":"test","version":"0"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"ping"}`,
	)

	if len(resp) != 2 {
		t.Fatalf("got %d responses, want 2 (notifications are not answered)", len(resp))
	}

	var init struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name    string `json:"name"`
			Version string `json:"version"`
		} `json:"serverInfo"`
		Capabilities struct {
			Tools *struct{} `json:"tools"`
		} `json:"capabilities"`
	}
	if err := json.Unmarshal(resp["1"].Result, &init); err != nil {
		t.Fatalf("decoding initialize: %v", err)
	}
	if init.ProtocolVersion == "" || init.ServerInfo.Name != ServerName || init.ServerInfo.Version != "test" {
		t.Errorf("initialize = %+v", init)
	}
	if init.Capabilities.Tools == nil {
		t.Error("initialize does not advertise tools")
	}
	if r := resp["2"]; r.Error != nil || r.Result == nil {
		t.Errorf("ping = %+v", r)
	}
}

func TestServe_ToolsList(t *testing.T) {
	s, _ := newServer(t)
	resp := serve(t, s, `{"jsonrpc":"2.0","id":"a","method":"tools/list"}`)

	var list struct {
		Tools []struct {
			Name        string `json:"name"`
			InputSchema struct {
				Type       string         `json:"type"`
				Properties map[string]any `json:"properties"`
				Required   []string       `json:"required"`
			} `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(resp[`"a"`].Result, &list); err != nil {
		t.Fatalf("decoding tools/list: %v", err)
	}

	want := map[string][]string{
		"execute_sql_query":   {"query"},
		"get_database_schema": nil,
		"list_tables":         nil,
		"insert_row":          {"table", "data"},
		"update_rows":         {"table", "data", "where"},
		"delete_rows":         {"table", "where"},
		"add_column":          {"table", "column_name", "data_type"},
	}
	if len(list.Tools) != len(want) {
		t.Fatalf("got %d tools, want %d", len(list.Tools), len(want))
	}
	for _, tool := range list.Tools {
		required, ok := want[tool.Name]
		if !ok {
			t.Errorf("unexpected tool %q", tool.Name)
			continue
		}
		if tool.InputSchema.Type != "object" {
			t.Errorf("tool %s schema type = %q", tool.Name, tool.InputSchema.Type)
		}
		if _, ok := tool.InputSchema.Properties["db_path"]; !ok {
			t.Errorf("tool %s has no db_path property", tool.Name)
		}
		if strings.Join(tool.InputSchema.Required, ",") != strings.Join(required, ",") {
			t.Errorf("tool %s required = %v, want %v", tool.Name, tool.InputSchema.Required, required)
		}
	}
}

func TestServe_ToolScenario(t *testing.T) {
	s, _ := newServer(t)
	resp := sequence(t, s,
		call(1, "execute_sql_query", `{"query":"CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)"}`),
		call(2, "insert_row", `{"table":"t","data":{"name":"a"}}`),
		call(3, "insert_row", `{"table":"t","data":{"name":"b"}}`),
		call(4, "update_rows", `{"table":"t","data":{"name":"c"},"where":{"id":1}}`),
		call(5, "delete_rows", `{"table":"t","where":{"id":9}}`),
		call(6, "add_column", `{"table":"t","column_name":"age","data_type":"INTEGER"}`),
		call(7, "execute_sql_query", `{"query":"SELECT name FROM t WHERE id = ?","params":[1]}`),
		call(8, "list_tables", `{}`),
		call(9, "get_database_schema", `{}`),
	)
	checks := []struct {
		kind store.EnvelopeKind
		test func(store.Envelope) bool
	}{
		{store.EnvelopeAffected, nil},
		{store.EnvelopeInsertedID, func(e store.Envelope) bool { return e.InsertedID == 1 }},
		{store.EnvelopeInsertedID, func(e store.Envelope) bool { return e.InsertedID == 2 }},
		{store.EnvelopeAffected, func(e store.Envelope) bool { return e.Affected == 1 }},
		{store.EnvelopeAffected, func(e store.Envelope) bool { return e.Affected == 0 }},
		{store.EnvelopeAck, func(e store.Envelope) bool { return e.Message == "Column 'age' (INTEGER) added to table 't'" }},
		{store.EnvelopeRows, func(e store.Envelope) bool {
			if len(e.Rows) != 1 {
				return false
			}
			v, ok := e.Rows[0].Get("name")
			return ok && v.Equal(store.Text("c"))
		}},
		{store.EnvelopeTables, func(e store.Envelope) bool { return len(e.Tables) == 1 && e.Tables[0] == "t" }},
		{store.EnvelopeSchema, func(e store.Envelope) bool { return len(e.Schema) == 1 && len(e.Schema[0].Columns) == 3 }},
	}

	for i, c := range checks {
		env, isErr := toolEnvelope(t, resp[i])
		if isErr || env.Kind != c.kind {
			t.Errorf("call %d: kind = %s isError = %v, want %s", i+1, env.Kind, isErr, c.kind)
			continue
		}
		if c.test != nil && !c.test(env) {
			t.Errorf("call %d: unexpected envelope %+v", i+1, env)
		}
	}
}

func TestServe_ToolFailureSetsIsError(t *testing.T) {
	s, _ := newServer(t)
	resp := serve(t, s,
		call(1, "delete_rows", `{"table":"t","where":{}}`),
		call(2, "add_column", `{"table":"t","column_name":"x","data_type":"JSON"}`),
	)

	if len(resp) != 2 {
		t.Fatalf("got %d responses, want 2", len(resp))
	}
	for id, r := range resp {
		env, isErr := toolEnvelope(t, r)
		if !isErr || env.Failure == nil || env.Failure.Kind != store.KindValidation {
			t.Errorf("call %s: isError = %v envelope = %+v", id, isErr, env)
		}
	}
}

func TestServe_DBPathArgument(t *testing.T) {
	s, defaultPath := newServer(t)
	other := filepath.Join(t.TempDir(), "other.db")

	resp := sequence(t, s,
		call(1, "execute_sql_query", `{"query":"CREATE TABLE only_here (a TEXT)","db_path":`+quote(other)+`}`),
		call(2, "list_tables", `{"db_path":`+quote(other)+`}`),
		call(3, "list_tables", `{}`),
	)

	if env, _ := toolEnvelope(t, resp[1]); len(env.Tables) != 1 {
		t.Errorf("other store tables = %v", env.Tables)
	}
	if env, _ := toolEnvelope(t, resp[2]); len(env.Tables) != 0 {
		t.Errorf("default store %s tables = %v, want none", defaultPath, env.Tables)
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestServe_ProtocolErrors(t *testing.T) {
	s, _ := newServer(t)

	tests := []struct {
		name string
		line string
		id   string
		code int
	}{
		{name: "malformed json", line: `{"jsonrpc":`, code: -32700},
		{name: "unsupported method", line: `{"jsonrpc":"2.0","id":1,"method":"resources/list"}`, id: "1"},
		{name: "unknown tool", line: call(2, "drop_everything", `{}`), id: "2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := serve(t, s, tt.line)
			r, ok := resp[tt.id]
			if tt.id == "" && len(resp) == 1 {
				// no usable id to echo
				for _, only := range resp {
					r, ok = only, true
				}
			}
			if !ok || r.Error == nil {
				t.Fatalf("responses = %+v, want an error for id %s", resp, tt.id)
			}
			if tt.code != 0 && r.Error.Code != tt.code {
				t.Errorf("code = %d, want %d", r.Error.Code, tt.code)
			}
		})
	}
}

func TestServe_BadArgumentsAreToolErrors(t *testing.T) {
	s, path := newServer(t)
	resp := serve(t, s, call(1, "insert_row", `{"table":7,"data":{"a":1}}`))

	res := decodeCall(t, resp["1"])
	if !res.IsError || !strings.Contains(res.Content[0].Text, "invalid arguments for insert_row") {
		t.Errorf("result = %+v", res)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("store touched by a call with bad arguments: %v", err)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	s, _ := newServer(t)
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, pr, io.Discard) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}
