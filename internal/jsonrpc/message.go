package jsonrpc

import (
	"encoding/json"

	"github.com/tidwall/gjson"
)

// Version is the protocol version stamped on every outgoing message.
const Version = "2.0"

// Message is the decoded JSON-RPC envelope. Which fields are meaningful
// depends on the message kind; Classify decides the kind from the raw
// body's shape.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`

	// raw is the frame body this message was decoded from. Retained so
	// invalid messages can be reported with their original bytes.
	raw []byte
}

// Raw returns the frame body the message was decoded from, or nil for
// locally constructed messages.
func (m *Message) Raw() []byte { return m.raw }

// MessageKind is the shape-derived classification of an incoming message.
type MessageKind int

const (
	// KindInvalid matches none of the protocol shapes.
	KindInvalid MessageKind = iota
	// KindRequest is a server-initiated request: method and id.
	KindRequest
	// KindResponse answers a previously sent request: id plus result or error.
	KindResponse
	// KindNotification carries a method but no id; no reply is expected.
	KindNotification
)

// String returns the kind's name.
func (k MessageKind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	case KindNotification:
		return "notification"
	default:
		return "invalid"
	}
}

// Classify determines a message's kind from field presence in the raw
// body, checked in priority order: a string method together with an id is
// a request; an id with a result or error member is a response; a string
// method alone is a notification; anything else is invalid.
func Classify(body []byte) MessageKind {
	method := gjson.GetBytes(body, "method")
	id := gjson.GetBytes(body, "id")

	switch {
	case method.Type == gjson.String && id.Exists():
		return KindRequest
	case id.Exists() &&
		(gjson.GetBytes(body, "result").Exists() || gjson.GetBytes(body, "error").Exists()):
		return KindResponse
	case method.Type == gjson.String:
		return KindNotification
	default:
		return KindInvalid
	}
}
