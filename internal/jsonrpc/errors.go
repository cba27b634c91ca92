package jsonrpc

import (
	"errors"
	"fmt"
)

// Standard errors reported by the transport and its parsers.
var (
	// ErrMalformedHeader indicates a header block that could not be parsed
	// or that lacks a usable Content-Length.
	ErrMalformedHeader = errors.New("malformed header")

	// ErrInvalidJSON indicates a frame body that is not valid JSON.
	// The frame is dropped; it is not retried.
	ErrInvalidJSON = errors.New("invalid json payload")

	// ErrInvalidServerMessage indicates a decoded value that matches none
	// of the request/response/notification shapes.
	ErrInvalidServerMessage = errors.New("invalid server message")

	// ErrNoCallbackForResponse indicates a response whose id has no pending
	// request. Non-fatal; the transport keeps running.
	ErrNoCallbackForResponse = errors.New("no callback registered for response")

	// ErrResponseMissingPayload indicates a request handler that produced
	// neither a result nor an error object.
	ErrResponseMissingPayload = errors.New("request handler returned neither result nor error")

	// ErrTimeout indicates a blocking call that elapsed its timeout before
	// the response arrived.
	ErrTimeout = errors.New("request timed out")

	// ErrClosed indicates the transport has been closed.
	ErrClosed = errors.New("transport closed")
)

// Error represents a JSON-RPC error object on the wire.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("rpc error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes.
const (
	// JSON-RPC standard errors
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// LSP-specific errors
	CodeServerNotInitialized = -32002
	CodeUnknownErrorCode     = -32001
	CodeRequestCancelled     = -32800
	CodeContentModified      = -32801
	CodeServerCancelled      = -32802
	CodeRequestFailed        = -32803
)

var codeNames = map[int]string{
	CodeParseError:           "ParseError",
	CodeInvalidRequest:       "InvalidRequest",
	CodeMethodNotFound:       "MethodNotFound",
	CodeInvalidParams:        "InvalidParams",
	CodeInternalError:        "InternalError",
	CodeServerNotInitialized: "ServerNotInitialized",
	CodeUnknownErrorCode:     "UnknownErrorCode",
	CodeRequestCancelled:     "RequestCancelled",
	CodeContentModified:      "ContentModified",
	CodeServerCancelled:      "ServerCancelled",
	CodeRequestFailed:        "RequestFailed",
}

// KnownCode reports whether code belongs to the recognized protocol error
// code set.
func KnownCode(code int) bool {
	_, ok := codeNames[code]
	return ok
}

// CodeName returns the canonical name for a protocol error code, or
// "UnknownErrorCode" for codes outside the recognized set.
func CodeName(code int) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return "UnknownErrorCode"
}
