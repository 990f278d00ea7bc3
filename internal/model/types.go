package model

import "fmt"

// JSONRPCVersion is the only protocol version the exchange speaks.
const JSONRPCVersion = "2.0"

// MethodTest is the exchange's diagnostic method.
const MethodTest = "public/test"

// EmptyParams encodes as {} and is never dropped by omitempty.
type EmptyParams struct{}

// Request is a JSON-RPC 2.0 request sent to the exchange.
// Params is omitted from the wire form when it holds a nil pointer or interface.
type Request[T any] struct {
	ID      int64  `json:"id"`
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  T      `json:"params,omitempty"`
}

// NewRequest builds a request with the protocol version filled in.
func NewRequest[T any](id int64, method string, params T) Request[T] {
	return Request[T]{
		ID:      id,
		JSONRPC: JSONRPCVersion,
		Method:  method,
		Params:  params,
	}
}

// Response carries the envelope fields common to every exchange reply.
// Timestamps are microseconds.
type Response struct {
	ID      int64          `json:"id"`
	JSONRPC string         `json:"jsonrpc"`
	UsIn    uint64         `json:"usIn,omitempty"`
	UsOut   uint64         `json:"usOut,omitempty"`
	UsDiff  int64          `json:"usDiff,omitempty"`
	Testnet bool           `json:"testnet,omitempty"`
	Error   *ResponseError `json:"error,omitempty"`
}

// Err returns the exchange-reported error, or nil.
func (r *Response) Err() error {
	if r == nil || r.Error == nil {
		return nil
	}
	return r.Error
}

// ResponseError is the error object of a failed call.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// Data is defined by the exchange and may be omitted.
	Data any `json:"data,omitempty"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("exchange error %d: %s", e.Code, e.Message)
}

// TestResponse is the reply to public/test. Result carries the "version" key.
type TestResponse struct {
	Response
	Result map[string]string `json:"result"`
}

// Version returns the reported API version, or "" when absent.
func (r *TestResponse) Version() string {
	return r.Result["version"]
}
