package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCallTimeout bounds how long Call waits for a response when the
// caller's context carries no earlier deadline.
const DefaultCallTimeout = 1000 * time.Millisecond

// readChunkSize is the read buffer handed to the underlying stream.
const readChunkSize = 32 * 1024

// RequestHandler serves a server-initiated request. It must produce a
// result or an error object; returning neither is a contract violation
// reported as FaultResponseMissingPayload.
type RequestHandler func(method string, params json.RawMessage) (any, *Error)

// NotificationHandler handles an incoming notification.
type NotificationHandler func(method string, params json.RawMessage)

// Transport drives JSON-RPC 2.0 over one byte-stream pair, typically a
// child process's stdin/stdout. It owns the frame reader and the pending
// request registry for its lifetime.
//
// Notifications are handled synchronously in the read loop so they apply
// in stream order. Server-initiated requests and response callbacks run
// on their own goroutines, so a failing handler can never unwind through
// the stream read path and a callback may itself issue requests on the
// same transport.
type Transport struct {
	reader io.Reader
	writer io.Writer
	closer io.Closer

	wmu sync.Mutex // serializes whole-frame writes

	mu             sync.Mutex
	requestHs      map[string]RequestHandler
	notificationHs map[string]NotificationHandler

	frames  *FrameReader
	reg     *registry
	observe Observer

	callTimeout time.Duration

	closed atomic.Bool
	done   chan struct{}
}

// Option configures a Transport.
type Option func(*Transport)

// WithObserver sets the structured error observer. The default discards
// all reports.
func WithObserver(obs Observer) Option {
	return func(t *Transport) {
		if obs != nil {
			t.observe = obs
		}
	}
}

// WithCallTimeout sets the default timeout for Call.
func WithCallTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.callTimeout = d
		}
	}
}

// NewTransport creates a transport over the given stream pair. The closer
// may be nil; when set it is closed along with the transport.
func NewTransport(r io.Reader, w io.Writer, c io.Closer, opts ...Option) *Transport {
	t := &Transport{
		reader:         r,
		writer:         w,
		closer:         c,
		requestHs:      make(map[string]RequestHandler),
		notificationHs: make(map[string]NotificationHandler),
		frames:         NewFrameReader(),
		reg:            newRegistry(),
		observe:        NopObserver,
		callTimeout:    DefaultCallTimeout,
		done:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start begins reading frames from the stream.
func (t *Transport) Start(ctx context.Context) {
	go t.readLoop(ctx)
}

// Close closes the transport. Pending requests are discarded; blocked
// Call invocations return ErrClosed. Safe to call more than once.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	close(t.done)
	t.reg.clear()
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// IsClosed reports whether the transport has been closed.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}

// Done returns a channel closed when the transport shuts down.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// Pending returns the number of requests still awaiting a response.
func (t *Transport) Pending() int {
	return t.reg.size()
}

// OnRequest registers a handler for server-initiated requests. The method
// "*" acts as a fallback for methods without a dedicated handler.
func (t *Transport) OnRequest(method string, handler RequestHandler) {
	t.mu.Lock()
	t.requestHs[method] = handler
	t.mu.Unlock()
}

// OnNotification registers a handler for server notifications. The method
// "*" acts as a fallback.
func (t *Transport) OnNotification(method string, handler NotificationHandler) {
	t.mu.Lock()
	t.notificationHs[method] = handler
	t.mu.Unlock()
}

// Notify sends a notification; no response is expected.
func (t *Transport) Notify(method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return t.send(&Message{Method: method, Params: raw})
}

// SendRequest assigns the next request id, registers cb under it, and
// writes the request. Registration happens before the write so a response
// arriving arbitrarily fast is never missed. Returns the assigned id.
func (t *Transport) SendRequest(method string, params any, cb ResponseCallback) (int64, error) {
	if t.closed.Load() {
		return 0, ErrClosed
	}
	raw, err := marshalParams(params)
	if err != nil {
		return 0, err
	}

	id := t.reg.register(cb)
	if err := t.send(&Message{ID: &id, Method: method, Params: raw}); err != nil {
		t.reg.drop(id)
		return 0, err
	}
	return id, nil
}

// Call sends a request and blocks until its response arrives, the context
// is done, or the timeout elapses. A timeout is reported as ErrTimeout,
// distinct from a legitimate null result. On success the response result
// is unmarshaled into result when both are non-nil.
func (t *Transport) Call(ctx context.Context, method string, params, result any) error {
	type outcome struct {
		rpcErr *Error
		raw    json.RawMessage
	}
	ch := make(chan outcome, 1)

	id, err := t.SendRequest(method, params, func(rpcErr *Error, raw json.RawMessage) {
		ch <- outcome{rpcErr: rpcErr, raw: raw}
	})
	if err != nil {
		return err
	}

	timer := time.NewTimer(t.callTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		t.reg.drop(id)
		return ctx.Err()
	case <-t.done:
		return ErrClosed
	case <-timer.C:
		t.reg.drop(id)
		return ErrTimeout
	case out := <-ch:
		if out.rpcErr != nil {
			return out.rpcErr
		}
		if result != nil && len(out.raw) > 0 && string(out.raw) != "null" {
			if err := json.Unmarshal(out.raw, result); err != nil {
				return fmt.Errorf("unmarshal result: %w", err)
			}
		}
		return nil
	}
}

// send encodes msg and writes the whole frame under the write lock so
// concurrent senders never interleave bytes.
func (t *Transport) send(msg *Message) error {
	if t.closed.Load() {
		return ErrClosed
	}
	frame, err := Encode(msg)
	if err != nil {
		return err
	}

	t.wmu.Lock()
	defer t.wmu.Unlock()
	if _, err := t.writer.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readLoop pulls chunks from the stream and feeds them to the frame
// reader until the stream ends or the transport closes. A stream failure
// other than end-of-file is reported as FaultRead; either way the
// transport is unusable afterward and no reconnect is attempted.
func (t *Transport) readLoop(ctx context.Context) {
	buf := make([]byte, readChunkSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		n, err := t.reader.Read(buf)
		if n > 0 {
			t.consume(buf[:n])
		}
		if err != nil {
			if !t.closed.Load() && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				t.observe(FaultRead, err)
			}
			t.Close()
			return
		}
	}
}

// consume feeds one chunk and then drains the frame reader with empty
// input until it reports no more frames, so multiple fully-buffered
// frames in a single chunk are all dispatched in stream order before the
// next read.
func (t *Transport) consume(chunk []byte) {
	for {
		frames, err := t.frames.Feed(chunk)
		chunk = nil
		for _, f := range frames {
			t.dispatchFrame(f)
		}
		if err != nil {
			t.observe(FaultMalformedHeader, err)
			continue
		}
		if len(frames) == 0 {
			return
		}
	}
}

// dispatchFrame decodes and classifies one frame and routes it.
// Notifications run synchronously so consecutive notifications observe
// stream order. Requests and response callbacks run on goroutines, which
// keeps the read loop live while a handler blocks or issues a nested
// request of its own.
func (t *Transport) dispatchFrame(f Frame) {
	msg, err := Decode(f.Body)
	if err != nil {
		t.observe(FaultInvalidJSON, err)
		return
	}

	switch Classify(f.Body) {
	case KindRequest:
		go t.serveRequest(msg)
	case KindResponse:
		go t.deliverResponse(msg)
	case KindNotification:
		t.deliverNotification(msg)
	default:
		t.observe(FaultInvalidServerMessage,
			fmt.Errorf("%w: %s", ErrInvalidServerMessage, truncate(string(f.Body))))
	}
}

// serveRequest runs the request handler off the read path and writes the
// reply. A panicking handler is reported and answered with a best-effort
// internal error; error codes outside the recognized set are replaced,
// and empty error messages default to the code's canonical name.
func (t *Transport) serveRequest(msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			t.observe(FaultRequestHandler,
				fmt.Errorf("request handler for %q panicked: %v", msg.Method, r))
			t.respondError(msg.ID, &Error{Code: CodeInternalError, Message: CodeName(CodeInternalError)})
		}
	}()

	handler := t.requestHandler(msg.Method)
	if handler == nil {
		t.respondError(msg.ID, &Error{Code: CodeMethodNotFound, Message: CodeName(CodeMethodNotFound)})
		return
	}

	result, rpcErr := handler(msg.Method, msg.Params)
	switch {
	case rpcErr != nil:
		if !KnownCode(rpcErr.Code) {
			rpcErr = &Error{Code: CodeUnknownErrorCode, Message: rpcErr.Message, Data: rpcErr.Data}
		}
		if rpcErr.Message == "" {
			rpcErr.Message = CodeName(rpcErr.Code)
		}
		t.respondError(msg.ID, rpcErr)
	case result == nil:
		t.observe(FaultResponseMissingPayload,
			fmt.Errorf("%w: method %q", ErrResponseMissingPayload, msg.Method))
		t.respondError(msg.ID, &Error{Code: CodeInternalError, Message: CodeName(CodeInternalError)})
	default:
		raw, err := json.Marshal(result)
		if err != nil {
			t.observe(FaultRequestHandler, fmt.Errorf("marshal result for %q: %w", msg.Method, err))
			t.respondError(msg.ID, &Error{Code: CodeInternalError, Message: CodeName(CodeInternalError)})
			return
		}
		if msg.ID != nil {
			_ = t.send(&Message{ID: msg.ID, Result: raw})
		}
	}
}

// deliverResponse completes the pending request matching the response id.
// Cancellation acknowledgements remove the entry without running its
// callback; an unknown id is reported and skipped.
func (t *Transport) deliverResponse(msg *Message) {
	if msg.ID == nil {
		t.observe(FaultInvalidServerMessage,
			fmt.Errorf("%w: response without integer id", ErrInvalidServerMessage))
		return
	}

	if msg.Error != nil &&
		(msg.Error.Code == CodeRequestCancelled || msg.Error.Code == CodeContentModified) {
		t.reg.drop(*msg.ID)
		return
	}

	cb, ok := t.reg.take(*msg.ID)
	if !ok {
		t.observe(FaultNoCallbackForResponse,
			fmt.Errorf("%w: id %d", ErrNoCallbackForResponse, *msg.ID))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			t.observe(FaultResponseCallback,
				fmt.Errorf("response callback for id %d panicked: %v", *msg.ID, r))
		}
	}()
	cb(msg.Error, msg.Result)
}

// deliverNotification runs the notification handler, if any, on the read
// goroutine. Unhandled notifications are dropped; a panicking handler is
// recovered so the stream survives.
func (t *Transport) deliverNotification(msg *Message) {
	handler := t.notificationHandler(msg.Method)
	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			t.observe(FaultNotificationHandler,
				fmt.Errorf("notification handler for %q panicked: %v", msg.Method, r))
		}
	}()
	handler(msg.Method, msg.Params)
}

func (t *Transport) requestHandler(method string) RequestHandler {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.requestHs[method]; ok {
		return h
	}
	return t.requestHs["*"]
}

func (t *Transport) notificationHandler(method string) NotificationHandler {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.notificationHs[method]; ok {
		return h
	}
	return t.notificationHs["*"]
}

// respondError writes a best-effort error reply. Requests without an id
// cannot be answered and are skipped.
func (t *Transport) respondError(id *int64, rpcErr *Error) {
	if id == nil {
		return
	}
	_ = t.send(&Message{ID: id, Error: rpcErr})
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return raw, nil
}
