package jsonrpc

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/sjson"
)

// Encode serializes msg and frames it for the wire:
//
//	Content-Length: <N>\r\n\r\n<payload>
//
// where N is the UTF-8 byte length of the payload, not its character
// count. The jsonrpc member is forced to "2.0" regardless of what the
// caller set.
func Encode(msg *Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	data, err = sjson.SetBytes(data, "jsonrpc", Version)
	if err != nil {
		return nil, fmt.Errorf("set jsonrpc version: %w", err)
	}

	frame := make([]byte, 0, len(data)+32)
	frame = append(frame, fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))...)
	frame = append(frame, data...)
	return frame, nil
}

// Decode parses a frame body into a Message. A body that is not valid
// JSON yields ErrInvalidJSON; the caller drops the frame. Valid JSON that
// does not fit the envelope shape decodes to a Message carrying only the
// raw bytes, which Classify will mark invalid.
func Decode(body []byte) (*Message, error) {
	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidJSON, truncate(string(body)))
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return &Message{raw: body}, nil
	}
	msg.raw = body
	return &msg, nil
}
