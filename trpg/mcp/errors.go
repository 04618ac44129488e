package mcp

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotConnected is returned by RPCs issued before Connect or after Disconnect.
	ErrNotConnected = errors.New("mcp: client not connected")
	// ErrNoSession means the initialize response carried no session id header.
	ErrNoSession = errors.New("mcp: server returned no session id")
	// ErrUnhealthy means the post-connect ping was not answered positively.
	ErrUnhealthy = errors.New("mcp: server failed health check")
)

// ConnectionError is fatal: the client could not establish a usable session.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mcp: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError is a non-success HTTP status from the tool host.
type TransportError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	if e.StatusCode == http.StatusNotFound {
		return fmt.Sprintf("mcp: endpoint not found: %s", e.URL)
	}
	return fmt.Sprintf("mcp: server error %d: %s", e.StatusCode, e.Body)
}

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	// CodeResourceNotFound is the MCP code for an unknown resource URI.
	CodeResourceNotFound = -32002
)

// ProtocolError is the JSON-RPC error object. It doubles as the wire type.
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("mcp: rpc error %d: %s", e.Code, e.Message)
}

// NewProtocolError builds a ProtocolError with a formatted message.
func NewProtocolError(code int, format string, args ...any) *ProtocolError {
	return &ProtocolError{Code: code, Message: fmt.Sprintf(format, args...)}
}
