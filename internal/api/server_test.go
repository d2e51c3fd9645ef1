package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/sqlitetool/internal/auth"
	"github.com/nerrad567/sqlitetool/internal/command"
	"github.com/nerrad567/sqlitetool/internal/infrastructure/config"
	"github.com/nerrad567/sqlitetool/internal/infrastructure/database"
	"github.com/nerrad567/sqlitetool/internal/infrastructure/logging"
	"github.com/nerrad567/sqlitetool/internal/store"
)

const testJWTSecret = "test-secret-key-at-least-32-characters-long"

// testServer creates a Server over a dispatcher backed by a temp SQLite store.
func testServer(t *testing.T, security config.SecurityConfig) (*Server, string) {
	t.Helper()

	log := logging.Discard()
	path := filepath.Join(t.TempDir(), "api.db")
	engine := store.NewEngine(database.Config{CreateIfMissing: true, BusyTimeout: 5}, log)
	dispatcher, err := command.NewDispatcher(engine, path, log).Confine(filepath.Dir(path))
	if err != nil {
		t.Fatalf("Confine() error: %v", err)
	}

	srv, err := New(Deps{
		Config: config.APIConfig{
			Host: "127.0.0.1",
			Port: 0,
			Timeouts: config.APITimeoutConfig{
				Read:  5,
				Write: 5,
				Idle:  5,
			},
		},
		WS: config.WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Security:   security,
		Logger:     log,
		Dispatcher: dispatcher,
		Version:    "test",
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.hub.Run(ctx)

	return srv, path
}

// do sends a request through the router and returns the recorder.
func do(t *testing.T, srv *Server, method, target, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) store.Envelope {
	t.Helper()
	var env store.Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decoding envelope %q: %v", rec.Body.String(), err)
	}
	return env
}

func createUsers(t *testing.T, srv *Server) {
	t.Helper()
	rec := do(t, srv, http.MethodPost, "/api/v1/query",
		`{"query":"CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT NOT NULL, email TEXT UNIQUE)"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("create table status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})

	rec := do(t, srv, http.MethodGet, "/api/v1/health", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestRowLifecycle(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})
	createUsers(t, srv)

	rec := do(t, srv, http.MethodPost, "/api/v1/tables/users/rows", `{"data":{"name":"Alice","email":"a@x"}}`, "")
	if rec.Code != http.StatusCreated {
		t.Fatalf("insert status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if env := decodeEnvelope(t, rec); env.InsertedID != 1 {
		t.Errorf("inserted_id = %d, want 1", env.InsertedID)
	}

	rec = do(t, srv, http.MethodPatch, "/api/v1/tables/users/rows", `{"data":{"name":"Al"},"where":{"id":1}}`, "")
	if env := decodeEnvelope(t, rec); rec.Code != http.StatusOK || env.Affected != 1 {
		t.Errorf("update = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodPost, "/api/v1/query", `{"query":"SELECT name FROM users WHERE id = ?","params":[1]}`, "")
	env := decodeEnvelope(t, rec)
	if env.Kind != store.EnvelopeRows || len(env.Rows) != 1 {
		t.Fatalf("select = %s", rec.Body.String())
	}
	if v, _ := env.Rows[0].Get("name"); !v.Equal(store.Text("Al")) {
		t.Errorf("name = %v, want Al", v)
	}

	rec = do(t, srv, http.MethodDelete, "/api/v1/tables/users/rows", `{"where":{"id":2}}`, "")
	if env := decodeEnvelope(t, rec); rec.Code != http.StatusOK || env.Affected != 0 {
		t.Errorf("delete missing row = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodPost, "/api/v1/tables/users/columns", `{"column_name":"age","data_type":"INTEGER"}`, "")
	if env := decodeEnvelope(t, rec); env.Kind != store.EnvelopeAck {
		t.Errorf("add column = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, srv, http.MethodGet, "/api/v1/tables/users", "", "")
	env = decodeEnvelope(t, rec)
	if env.Kind != store.EnvelopeSchema || len(env.Schema[0].Columns) != 4 {
		t.Errorf("describe = %s", rec.Body.String())
	}
}

func TestFailureStatusCodes(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})
	createUsers(t, srv)
	do(t, srv, http.MethodPost, "/api/v1/tables/users/rows", `{"data":{"name":"a","email":"dup@x"}}`, "")

	tests := []struct {
		name     string
		method   string
		target   string
		body     string
		wantCode int
		wantKind store.ErrorKind
	}{
		{name: "delete without where", method: http.MethodDelete, target: "/api/v1/tables/users/rows", wantCode: http.StatusBadRequest, wantKind: store.KindValidation},
		{name: "empty insert", method: http.MethodPost, target: "/api/v1/tables/users/rows", body: `{"data":{}}`, wantCode: http.StatusBadRequest, wantKind: store.KindValidation},
		{name: "bad type", method: http.MethodPost, target: "/api/v1/tables/users/columns", body: `{"column_name":"x","data_type":"JSONB"}`, wantCode: http.StatusBadRequest, wantKind: store.KindValidation},
		{name: "missing table", method: http.MethodPost, target: "/api/v1/tables/ghosts/rows", body: `{"data":{"a":1}}`, wantCode: http.StatusNotFound, wantKind: store.KindIdentifier},
		{name: "duplicate column", method: http.MethodPost, target: "/api/v1/tables/users/columns", body: `{"column_name":"name","data_type":"TEXT"}`, wantCode: http.StatusConflict, wantKind: store.KindIdentifier},
		{name: "unique violation", method: http.MethodPost, target: "/api/v1/tables/users/rows", body: `{"data":{"name":"b","email":"dup@x"}}`, wantCode: http.StatusConflict, wantKind: store.KindStore},
		{name: "malformed sql", method: http.MethodPost, target: "/api/v1/query", body: `{"query":"SELEKT nope"}`, wantCode: http.StatusInternalServerError, wantKind: store.KindStore},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.method, tt.target, tt.body, "")
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			env := decodeEnvelope(t, rec)
			if env.Failure == nil || env.Failure.Kind != tt.wantKind {
				t.Errorf("failure = %+v, want kind %s", env.Failure, tt.wantKind)
			}
		})
	}
}

func TestMalformedJSON(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})

	rec := do(t, srv, http.MethodPost, "/api/v1/query", `{"query":`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var apiErr Error
	if err := json.Unmarshal(rec.Body.Bytes(), &apiErr); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if apiErr.Code != ErrCodeBadRequest {
		t.Errorf("code = %q, want %q", apiErr.Code, ErrCodeBadRequest)
	}
}

func TestDBQueryParameter(t *testing.T) {
	srv, defaultPath := testServer(t, config.SecurityConfig{})
	other := filepath.Join(filepath.Dir(defaultPath), "other.db")

	rec := do(t, srv, http.MethodPost, "/api/v1/query?db="+other, `{"query":"CREATE TABLE only_here (x TEXT)"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("create in other store = %d %s", rec.Code, rec.Body.String())
	}

	env := decodeEnvelope(t, do(t, srv, http.MethodGet, "/api/v1/tables?db="+other, "", ""))
	if len(env.Tables) != 1 || env.Tables[0] != "only_here" {
		t.Errorf("other store tables = %v", env.Tables)
	}
	env = decodeEnvelope(t, do(t, srv, http.MethodGet, "/api/v1/tables", "", ""))
	if len(env.Tables) != 0 {
		t.Errorf("default store tables = %v, want none", env.Tables)
	}
}

func TestStorePathsConfinedToRoot(t *testing.T) {
	srv, defaultPath := testServer(t, config.SecurityConfig{})
	outside := filepath.Join(t.TempDir(), "victim.db")

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{name: "query param absolute", method: http.MethodGet, target: "/api/v1/tables?db=" + url.QueryEscape(outside)},
		{name: "query param parent", method: http.MethodGet, target: "/api/v1/schema?db=" + url.QueryEscape("../victim.db")},
		{name: "body db", method: http.MethodPost, target: "/api/v1/query", body: `{"query":"CREATE TABLE t (a TEXT)","db":` + strconv.Quote(outside) + `}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.method, tt.target, tt.body, "")
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
			env := decodeEnvelope(t, rec)
			if env.Failure == nil || env.Failure.Kind != store.KindValidation {
				t.Errorf("failure = %+v, want validation", env.Failure)
			}
		})
	}
	if _, err := os.Stat(outside); !os.IsNotExist(err) {
		t.Errorf("store outside the root was touched: %v", err)
	}

	// Relative names land beside the default store.
	rec := do(t, srv, http.MethodPost, "/api/v1/query?db=sibling.db", `{"query":"CREATE TABLE t (a TEXT)"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("relative store = %d %s", rec.Code, rec.Body.String())
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(defaultPath), "sibling.db")); err != nil {
		t.Errorf("relative store not created under root: %v", err)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{
		JWT: config.JWTConfig{Required: true, Secret: testJWTSecret, AccessTokenTTL: 5},
	})

	token := func(role auth.Role) string {
		tok, err := auth.GenerateAccessToken("tester", role, testJWTSecret, 5)
		if err != nil {
			t.Fatalf("GenerateAccessToken: %v", err)
		}
		return tok
	}
	reader, writer, admin := token(auth.RoleReader), token(auth.RoleWriter), token(auth.RoleAdmin)

	tests := []struct {
		name     string
		method   string
		target   string
		body     string
		token    string
		wantCode int
	}{
		{name: "health is public", method: http.MethodGet, target: "/api/v1/health", wantCode: http.StatusOK},
		{name: "no token", method: http.MethodGet, target: "/api/v1/tables", wantCode: http.StatusUnauthorized},
		{name: "bad token", method: http.MethodGet, target: "/api/v1/tables", token: "garbage", wantCode: http.StatusUnauthorized},
		{name: "reader lists", method: http.MethodGet, target: "/api/v1/tables", token: reader, wantCode: http.StatusOK},
		{name: "reader cannot create", method: http.MethodPost, target: "/api/v1/query", body: `{"query":"CREATE TABLE t (a TEXT)"}`, token: reader, wantCode: http.StatusForbidden},
		{name: "writer creates", method: http.MethodPost, target: "/api/v1/query", body: `{"query":"CREATE TABLE t (a TEXT)"}`, token: writer, wantCode: http.StatusOK},
		{name: "reader selects", method: http.MethodPost, target: "/api/v1/query", body: `{"query":"SELECT * FROM t"}`, token: reader, wantCode: http.StatusOK},
		{name: "writer cannot alter", method: http.MethodPost, target: "/api/v1/tables/t/columns", body: `{"column_name":"b","data_type":"TEXT"}`, token: writer, wantCode: http.StatusForbidden},
		{name: "admin alters", method: http.MethodPost, target: "/api/v1/tables/t/columns", body: `{"column_name":"b","data_type":"TEXT"}`, token: admin, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, tt.method, tt.target, tt.body, tt.token)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
		})
	}
}

func TestNew_RequiresSecretWhenAuthEnabled(t *testing.T) {
	engine := store.NewEngine(database.Config{}, logging.Discard())
	_, err := New(Deps{
		Logger:     logging.Discard(),
		Dispatcher: command.NewDispatcher(engine, "x.db", logging.Discard()),
		Security:   config.SecurityConfig{JWT: config.JWTConfig{Required: true}},
	})
	if err == nil {
		t.Error("New() should fail without a JWT secret")
	}
}

func TestMetricsCountsOperations(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})
	createUsers(t, srv)
	do(t, srv, http.MethodDelete, "/api/v1/tables/users/rows", "", "")

	rec := do(t, srv, http.MethodGet, "/api/v1/metrics", "", "")
	var m SystemMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decoding metrics: %v", err)
	}
	if got := m.Operations["execute"]["affected"]; got != 1 {
		t.Errorf("execute/affected = %d, want 1", got)
	}
	if got := m.Operations["delete"]["validation"]; got != 1 {
		t.Errorf("delete/validation = %d, want 1", got)
	}
	if !m.Store.Exists || m.Store.SizeBytes == 0 {
		t.Errorf("store metrics = %+v", m.Store)
	}
	if m.MQTT != nil {
		t.Errorf("mqtt metrics present without broker: %+v", m.MQTT)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		env  store.Envelope
		want int
	}{
		{store.RowsResult(nil, nil), http.StatusOK},
		{store.InsertedIDResult(1), http.StatusCreated},
		{store.FailureResult(store.KindValidation, "x"), http.StatusBadRequest},
		{store.FailureResult(store.KindIdentifier, "Table 't' does not exist"), http.StatusNotFound},
		{store.FailureResult(store.KindIdentifier, "Column 'c' already exists in table 't'"), http.StatusConflict},
		{store.FailureResult(store.KindStore, "constraint violation: UNIQUE"), http.StatusConflict},
		{store.FailureResult(store.KindStore, "SQLite error: disk I/O error"), http.StatusInternalServerError},
		{store.FailureResult(store.KindUnexpected, "boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.env); got != tt.want {
			t.Errorf("statusFor(%+v) = %d, want %d", tt.env.Failure, got, tt.want)
		}
	}
}

func TestWebSocketCommandAndBroadcast(t *testing.T) {
	srv, _ := testServer(t, config.SecurityConfig{})
	createUsers(t, srv)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	send := func(msg string) {
		t.Helper()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	read := func() WSMessage {
		t.Helper()
		//nolint:errcheck // test deadline
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	send(`{"type":"subscribe","id":"s1","payload":{"channels":["store.changed"]}}`)
	if msg := read(); msg.Type != WSTypeResponse || msg.ID != "s1" {
		t.Fatalf("subscribe reply = %+v", msg)
	}

	send(`{"type":"command","id":"c1","payload":{"op":"insert","table":"users","data":{"name":"ws"}}}`)

	var gotResponse, gotEvent bool
	for i := 0; i < 2; i++ {
		msg := read()
		switch msg.Type {
		case WSTypeResponse:
			var env store.Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				t.Fatalf("decoding response envelope: %v", err)
			}
			if msg.ID != "c1" || env.Kind != store.EnvelopeInsertedID {
				t.Errorf("command reply = %+v / %+v", msg, env)
			}
			gotResponse = true
		case WSTypeEvent:
			var change StoreChange
			if err := json.Unmarshal(msg.Payload, &change); err != nil {
				t.Fatalf("decoding change: %v", err)
			}
			if msg.EventType != ChannelStoreChanged || change.Op != "insert" || change.Table != "users" {
				t.Errorf("event = %+v / %+v", msg, change)
			}
			gotEvent = true
		default:
			t.Errorf("unexpected message %+v", msg)
		}
	}
	if !gotResponse || !gotEvent {
		t.Errorf("response=%v event=%v, want both", gotResponse, gotEvent)
	}

	send(`{"type":"ping","id":"p1"}`)
	if msg := read(); msg.Type != WSTypePong || msg.ID != "p1" {
		t.Errorf("ping reply = %+v", msg)
	}

	send(`{"type":"command","id":"c2","payload":{"op":"list_tables","db":"/etc/passwd"}}`)
	msg := read()
	var env store.Envelope
	if err := json.Unmarshal(msg.Payload, &env); err != nil {
		t.Fatalf("decoding response envelope: %v", err)
	}
	if msg.ID != "c2" || env.Failure == nil || env.Failure.Kind != store.KindValidation {
		t.Errorf("command outside root = %+v / %+v, want validation failure", msg, env)
	}
}

func TestWSRoute(t *testing.T) {
	tests := map[string]string{
		"":        "/ws",
		"/":       "/ws",
		"ws":      "/ws",
		"/stream": "/stream",
	}
	for in, want := range tests {
		if got := wsRoute(in); got != want {
			t.Errorf("wsRoute(%q) = %q, want %q", in, got, want)
		}
	}
}
