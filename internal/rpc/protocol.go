// Package rpc exposes the pipeline as a JSON-RPC 2.0 endpoint over HTTP.
//
// Every method takes a single params object:
//
//	saveEntitySchema {name, model}
//	getEntitySchema  {name}
//	saveEntity       {name, id, data}
//	getEntity        {name, id}
//	getEntities      {name, query}
//	publishEvent     {data}
//
// where name is the schema or entity type. Batch requests are supported;
// requests without an id are notifications and get no response.
package rpc

import (
	"encoding/json"

	"github.com/apruden/wapplibre-server/internal/errs"
)

// Version is the only accepted value of the "jsonrpc" member.
const Version = "2.0"

// Error codes. The -32000 range carries the core error taxonomy.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeTransient      = -32000
	CodeNotFound       = -32004
	CodeConflict       = -32009
)

// Request is a JSON-RPC request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"` // string | number | null
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response is a JSON-RPC response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int        `json:"code"`
	Message string     `json:"message"`
	Data    *ErrorData `json:"data,omitempty"`
}

// ErrorData carries the core error code of a failed call.
type ErrorData struct {
	Code errs.Code `json:"code"`
}

func (e *Error) Error() string {
	return e.Message
}

var nullJSON = json.RawMessage("null")

func newResult(id json.RawMessage, result json.RawMessage) Response {
	if len(result) == 0 {
		result = nullJSON
	}
	return Response{JSONRPC: Version, ID: normalizeID(id), Result: result}
}

func newErrorResponse(id json.RawMessage, e *Error) Response {
	if e == nil {
		e = &Error{Code: CodeInternalError, Message: "internal error"}
	}
	return Response{JSONRPC: Version, ID: normalizeID(id), Error: e}
}

func normalizeID(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return nullJSON
	}
	return id
}

// transientMessage replaces the message of store failures; their detail
// stays in the server log.
const transientMessage = "temporary storage failure, retry later"

// toRPCError maps a core error to a JSON-RPC error object.
func toRPCError(err error) *Error {
	code := errs.CodeOf(err)
	rpcErr := &Error{Message: err.Error(), Data: &ErrorData{Code: code}}
	switch code {
	case errs.CodeValidation:
		rpcErr.Code = CodeInvalidParams
	case errs.CodeNotFound:
		rpcErr.Code = CodeNotFound
	case errs.CodeConflict:
		rpcErr.Code = CodeConflict
	default:
		rpcErr.Code = CodeTransient
		rpcErr.Message = transientMessage
	}
	return rpcErr
}
