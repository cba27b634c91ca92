package jsonrpc

import "bytes"

// headerTerminator separates the header block from the frame body.
var headerTerminator = []byte("\r\n\r\n")

// Frame is one complete message off the wire: its normalized headers and
// exactly Content-Length bytes of body.
type Frame struct {
	Headers map[string]string
	Body    []byte
}

type frameState int

const (
	// stateHeader: scanning the buffer for the header terminator.
	stateHeader frameState = iota
	// stateBody: waiting for need more body bytes.
	stateBody
)

// FrameReader incrementally assembles Content-Length framed messages from
// arbitrarily-sized chunks. Bytes may arrive split at any boundary,
// including mid-header and mid-body; the reader keeps its position across
// Feed calls and never loses surplus bytes belonging to a following frame.
//
// FrameReader is not safe for concurrent use. It is driven from a single
// read loop.
type FrameReader struct {
	buf     []byte
	state   frameState
	headers map[string]string
	need    int
}

// NewFrameReader returns a reader with an empty buffer.
func NewFrameReader() *FrameReader {
	return &FrameReader{}
}

// Feed appends chunk (nil or empty means "no new data, drain the buffer")
// and returns every frame that is now fully buffered. Zero frames with a
// nil error means more input is required; it is never an error.
//
// A malformed header block is consumed through its terminator and reported
// as an error alongside any frames completed before it, leaving the reader
// usable for subsequent well-formed frames.
func (r *FrameReader) Feed(chunk []byte) ([]Frame, error) {
	r.buf = append(r.buf, chunk...)

	var frames []Frame
	for {
		switch r.state {
		case stateHeader:
			idx := bytes.Index(r.buf, headerTerminator)
			if idx < 0 {
				return frames, nil
			}
			headers, length, err := parseHeaders(r.buf[:idx])
			r.buf = r.buf[idx+len(headerTerminator):]
			if err != nil {
				return frames, err
			}
			r.headers = headers
			r.need = length
			r.state = stateBody

		case stateBody:
			if len(r.buf) < r.need {
				return frames, nil
			}
			body := make([]byte, r.need)
			copy(body, r.buf[:r.need])
			r.buf = r.buf[r.need:]
			frames = append(frames, Frame{Headers: r.headers, Body: body})
			r.headers = nil
			r.need = 0
			r.state = stateHeader
		}
	}
}

// Buffered returns the number of bytes held but not yet emitted.
func (r *FrameReader) Buffered() int {
	return len(r.buf)
}
