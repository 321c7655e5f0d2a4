// Package protocol defines the websocket frame types shared by the server
// and the client.
package protocol

import "encoding/json"

// Frame types.
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Request methods.
const (
	MethodSubscribe   = "subscribe"
	MethodUnsubscribe = "unsubscribe"
)

// Error codes carried in response frames.
const (
	CodeForbidden    = "forbidden"
	CodeInvalidInput = "invalid_input"
	CodeInternal     = "internal"
)

// Frame is one raw protocol frame.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Event   string          `json:"event,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the error body of a rejected response.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SubscribeParams is the params body of subscribe and unsubscribe requests.
// Filter is a URL-encoded query string of namespace, name, unhealthy.
type SubscribeParams struct {
	Topic  string `json:"topic"`
	Filter string `json:"filter,omitempty"`
}

// OKResponse builds an acknowledgement frame for a request ID.
func OKResponse(id string) Frame {
	ok := true
	return Frame{Type: TypeResponse, ID: id, OK: &ok}
}

// ErrorResponse builds a rejection frame for a request ID.
func ErrorResponse(id, code, message string) Frame {
	ok := false
	return Frame{Type: TypeResponse, ID: id, OK: &ok, Error: &Error{Code: code, Message: message}}
}
