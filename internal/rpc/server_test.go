package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apruden/wapplibre-server/internal/errs"
	"github.com/apruden/wapplibre-server/internal/store"
	"github.com/apruden/wapplibre-server/internal/testutil"
)

type testServer struct {
	echo  *echo.Echo
	store *store.Store
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	stack, err := testutil.OpenStack(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { stack.Close() })

	return &testServer{echo: NewEcho(stack.Service, DefaultConfig()), store: stack.Store}
}

func (ts *testServer) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

// call sends a single request and decodes its response.
func (ts *testServer) call(t *testing.T, method string, params any) Response {
	t.Helper()
	p, err := json.Marshal(params)
	require.NoError(t, err)

	body, err := json.Marshal(Request{JSONRPC: Version, ID: json.RawMessage(`1`), Method: method, Params: p})
	require.NoError(t, err)

	rec := ts.post(t, string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, Version, resp.JSONRPC)
	assert.JSONEq(t, `1`, string(resp.ID))
	return resp
}

func requireResult(t *testing.T, resp Response) json.RawMessage {
	t.Helper()
	require.Nil(t, resp.Error, "unexpected error: %+v", resp.Error)
	return resp.Result
}

func requireError(t *testing.T, resp Response, code int) *Error {
	t.Helper()
	require.NotNil(t, resp.Error, "expected error, got result %s", resp.Result)
	assert.Equal(t, code, resp.Error.Code)
	return resp.Error
}

func TestBanner(t *testing.T) {
	ts := setupServer(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "wapplibre", rec.Body.String())
}

func TestSaveEntity_GetEntity(t *testing.T) {
	ts := setupServer(t)
	id := uuid.NewString()

	result := requireResult(t, ts.call(t, "saveEntity", map[string]any{
		"name": "person",
		"id":   id,
		"data": map[string]any{"name": "Ada Lovelace"},
	}))
	assert.JSONEq(t, `null`, string(result))

	result = requireResult(t, ts.call(t, "getEntity", map[string]any{"name": "person", "id": id}))
	assert.JSONEq(t, `{"name":"Ada Lovelace"}`, string(result))
}

func TestGetEntities(t *testing.T) {
	ts := setupServer(t)

	for _, name := range []string{"Ada Lovelace", "Grace Hopper"} {
		requireResult(t, ts.call(t, "saveEntity", map[string]any{
			"name": "person",
			"id":   uuid.NewString(),
			"data": map[string]any{"name": name},
		}))
	}

	result := requireResult(t, ts.call(t, "getEntities", map[string]any{"name": "person", "query": "grace"}))
	assert.JSONEq(t, `[{"name":"Grace Hopper"}]`, string(result))

	result = requireResult(t, ts.call(t, "getEntities", map[string]any{"name": "person", "query": "nobody"}))
	assert.JSONEq(t, `[]`, string(result))
}

func TestSaveEntitySchema_GetEntitySchema(t *testing.T) {
	ts := setupServer(t)

	requireResult(t, ts.call(t, "saveEntitySchema", map[string]any{
		"name":  "country",
		"model": map[string]any{"type": "string", "enum": []string{"CA", "FR"}},
	}))
	requireResult(t, ts.call(t, "saveEntitySchema", map[string]any{
		"name": "address",
		"model": map[string]any{
			"type":       "object",
			"properties": map[string]any{"country": map[string]any{"$ref": "country.json#"}},
		},
	}))

	result := requireResult(t, ts.call(t, "getEntitySchema", map[string]any{"name": "address"}))
	assert.JSONEq(t, `{
		"name": "address",
		"model": {
			"type": "object",
			"properties": {"country": {"$ref": "#/definitions/country"}},
			"definitions": {"country": {"type": "string", "enum": ["CA", "FR"]}}
		}
	}`, string(result))
}

func TestSaveEntitySchema_MissingModel(t *testing.T) {
	ts := setupServer(t)

	rpcErr := requireError(t, ts.call(t, "saveEntitySchema", map[string]any{"name": "x"}), CodeInvalidParams)
	require.NotNil(t, rpcErr.Data)
	assert.Equal(t, errs.CodeValidation, rpcErr.Data.Code)
}

func TestSaveEntitySchema_DataDocument(t *testing.T) {
	ts := setupServer(t)

	// Stored-document form: the model sits under data.model.
	requireResult(t, ts.call(t, "saveEntitySchema", map[string]any{
		"name": "country",
		"data": map[string]any{"model": map[string]any{"type": "string"}},
	}))
	// A data document without a model key is the model itself.
	requireResult(t, ts.call(t, "saveEntitySchema", map[string]any{
		"name": "address",
		"data": map[string]any{"properties": map[string]any{"country": map[string]any{"$ref": "country.json#"}}},
	}))

	result := requireResult(t, ts.call(t, "getEntitySchema", map[string]any{"name": "address"}))
	assert.JSONEq(t, `{
		"name": "address",
		"model": {
			"properties": {"country": {"$ref": "#/definitions/country"}},
			"definitions": {"country": {"type": "string"}}
		}
	}`, string(result))
}

func TestSaveEntitySchema_ModelWinsOverData(t *testing.T) {
	ts := setupServer(t)

	requireResult(t, ts.call(t, "saveEntitySchema", map[string]any{
		"name":  "flag",
		"model": map[string]any{"type": "boolean"},
		"data":  map[string]any{"model": map[string]any{"type": "string"}},
	}))

	result := requireResult(t, ts.call(t, "getEntitySchema", map[string]any{"name": "flag"}))
	assert.JSONEq(t, `{"name":"flag","model":{"type":"boolean","definitions":{}}}`, string(result))
}

func TestPublishEvent(t *testing.T) {
	ts := setupServer(t)

	result := requireResult(t, ts.call(t, "publishEvent", map[string]any{"data": map[string]any{"kind": "ping"}}))

	var out struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(result, &out))
	id, err := uuid.Parse(out.ID)
	require.NoError(t, err)

	pending, err := ts.store.PendingEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	assert.JSONEq(t, `{"kind":"ping"}`, string(pending[0].Data))
}

func TestErrorMapping(t *testing.T) {
	ts := setupServer(t)
	id := uuid.NewString()
	requireResult(t, ts.call(t, "saveEntity", map[string]any{"name": "person", "id": id, "data": map[string]any{}}))

	tests := []struct {
		name     string
		method   string
		params   any
		wantCode int
		wantData errs.Code
	}{
		{"not found", "getEntity", map[string]any{"name": "person", "id": uuid.NewString()}, CodeNotFound, errs.CodeNotFound},
		{"conflict", "saveEntity", map[string]any{"name": "person", "id": id, "data": map[string]any{}}, CodeConflict, errs.CodeConflict},
		{"bad id", "getEntity", map[string]any{"name": "person", "id": "not-a-uuid"}, CodeInvalidParams, errs.CodeValidation},
		{"missing type", "saveEntity", map[string]any{"id": uuid.NewString(), "data": map[string]any{}}, CodeInvalidParams, errs.CodeValidation},
		{"unknown schema", "getEntitySchema", map[string]any{"name": "ghost"}, CodeNotFound, errs.CodeNotFound},
		{"malformed query", "getEntities", map[string]any{"name": "person", "query": "(alpha"}, CodeInvalidParams, errs.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rpcErr := requireError(t, ts.call(t, tt.method, tt.params), tt.wantCode)
			require.NotNil(t, rpcErr.Data)
			assert.Equal(t, tt.wantData, rpcErr.Data.Code)
		})
	}
}

func TestTransientErrorHidesDetail(t *testing.T) {
	ts := setupServer(t)
	require.NoError(t, ts.store.Close())

	rpcErr := requireError(t, ts.call(t, "getEntity", map[string]any{"name": "person", "id": uuid.NewString()}), CodeTransient)
	assert.Equal(t, transientMessage, rpcErr.Message)
	require.NotNil(t, rpcErr.Data)
	assert.Equal(t, errs.CodeTransient, rpcErr.Data.Code)
}

func TestToRPCError_Messages(t *testing.T) {
	transient := toRPCError(errs.Transient("get entity", errors.New("disk I/O error")))
	assert.Equal(t, CodeTransient, transient.Code)
	assert.Equal(t, transientMessage, transient.Message)
	assert.NotContains(t, transient.Message, "disk")

	// Errors outside the taxonomy are treated as transient too.
	unknown := toRPCError(errors.New("sqlite3: locked"))
	assert.Equal(t, transientMessage, unknown.Message)

	notFound := toRPCError(errs.NotFound("entity %s not found", "x"))
	assert.Equal(t, CodeNotFound, notFound.Code)
	assert.Contains(t, notFound.Message, "entity x not found")
}

func TestProtocolErrors(t *testing.T) {
	ts := setupServer(t)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"parse error", `{"jsonrpc":`, CodeParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"getEntity"}`, CodeInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, CodeInvalidRequest},
		{"not an object", `"hello"`, CodeInvalidRequest},
		{"empty batch", `[]`, CodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"dropTables"}`, CodeMethodNotFound},
		{"params not an object", `{"jsonrpc":"2.0","id":1,"method":"getEntity","params":[1,2]}`, CodeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.post(t, tt.body)
			require.Equal(t, http.StatusOK, rec.Code)

			var resp Response
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			requireError(t, resp, tt.wantCode)
		})
	}
}

func TestNotification(t *testing.T) {
	ts := setupServer(t)
	id := uuid.NewString()

	body := `{"jsonrpc":"2.0","method":"saveEntity","params":{"name":"person","id":"` + id + `","data":{"n":1}}}`
	rec := ts.post(t, body)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	// The call still ran.
	result := requireResult(t, ts.call(t, "getEntity", map[string]any{"name": "person", "id": id}))
	assert.JSONEq(t, `{"n":1}`, string(result))
}

func TestBatch(t *testing.T) {
	ts := setupServer(t)
	id := uuid.NewString()

	body := `[
		{"jsonrpc":"2.0","id":1,"method":"saveEntity","params":{"name":"person","id":"` + id + `","data":{"n":1}}},
		{"jsonrpc":"2.0","method":"publishEvent","params":{"data":{}}},
		{"jsonrpc":"2.0","id":"two","method":"getEntity","params":{"name":"person","id":"` + id + `"}},
		42
	]`
	rec := ts.post(t, body)
	require.Equal(t, http.StatusOK, rec.Code)

	var responses []Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &responses))
	require.Len(t, responses, 3)

	assert.JSONEq(t, `1`, string(responses[0].ID))
	assert.Nil(t, responses[0].Error)

	assert.JSONEq(t, `"two"`, string(responses[1].ID))
	require.Nil(t, responses[1].Error)
	assert.JSONEq(t, `{"n":1}`, string(responses[1].Result))

	assert.JSONEq(t, `null`, string(responses[2].ID))
	requireError(t, responses[2], CodeInvalidRequest)

	// The notification in the batch published an event.
	n, err := ts.store.CountEvents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBatch_AllNotifications(t *testing.T) {
	ts := setupServer(t)

	rec := ts.post(t, `[{"jsonrpc":"2.0","method":"publishEvent","params":{"data":{}}}]`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	ts := setupServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api", nil)
	req.Header.Set(echo.HeaderOrigin, "http://localhost:5173")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Equal(t, "true", rec.Header().Get(echo.HeaderAccessControlAllowCredentials))
}

func TestCORS_ForeignOrigin(t *testing.T) {
	ts := setupServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api", nil)
	req.Header.Set(echo.HeaderOrigin, "http://evil.example")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
}
