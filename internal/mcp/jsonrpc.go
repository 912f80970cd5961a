package mcp

import (
	"encoding/json"
	"fmt"
)

// jsonrpcVersion is the protocol version stamped on every request.
const jsonrpcVersion = "2.0"

// Request is the JSON-RPC 2.0 envelope sent to a tool server. Only
// tools/list and tools/call are issued, always with a correlation ID —
// notifications are not part of this subset.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewRequest builds a request for one round trip with the server.
func NewRequest(id int64, method string, params any) *Request {
	return &Request{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// Response is a JSON-RPC 2.0 response. A well-formed server sets
// exactly one of Result or Error; Result stays raw so the manager can
// decode it leniently.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}
