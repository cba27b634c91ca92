package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"
)

// mockPipe creates a unidirectional pipe for testing.
type mockPipe struct {
	reader *io.PipeReader
	writer *io.PipeWriter
}

func newMockPipe() *mockPipe {
	r, w := io.Pipe()
	return &mockPipe{reader: r, writer: w}
}

func (p *mockPipe) Close() error {
	p.reader.Close()
	p.writer.Close()
	return nil
}

// faultRecorder collects observer reports for assertions.
type faultRecorder struct {
	mu     sync.Mutex
	faults []Fault
}

func (r *faultRecorder) observe(fault Fault, err error) {
	r.mu.Lock()
	r.faults = append(r.faults, fault)
	r.mu.Unlock()
}

func (r *faultRecorder) wait(fault Fault, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		for _, f := range r.faults {
			if f == fault {
				r.mu.Unlock()
				return true
			}
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func (r *faultRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.faults)
}

// writeWireFrame frames body and writes it as the mock server.
func writeWireFrame(w io.Writer, body string) {
	fmt.Fprintf(w, "Content-Length: %d\r\n\r\n%s", len(body), body)
}

// readWireMessage reads one framed message from the client side of the pipe.
func readWireMessage(t *testing.T, r io.Reader) *Message {
	t.Helper()
	fr := NewFrameReader()
	buf := make([]byte, 512)
	for {
		n, err := r.Read(buf)
		if err != nil {
			t.Fatalf("read client frame: %v", err)
		}
		frames, err := fr.Feed(buf[:n])
		if err != nil {
			t.Fatalf("parse client frame: %v", err)
		}
		if len(frames) > 0 {
			msg, err := Decode(frames[0].Body)
			if err != nil {
				t.Fatalf("decode client frame: %v", err)
			}
			return msg
		}
	}
}

// waitPending polls until the transport has want pending requests.
func waitPending(t *testing.T, tr *Transport, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if tr.Pending() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Pending() = %d, want %d", tr.Pending(), want)
}

func TestTransport_NotifyWireFormat(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()
	defer clientToServer.Close()
	defer serverToClient.Close()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil)
	defer transport.Close()

	received := make(chan string, 1)
	go func() {
		buf := make([]byte, 1024)
		n, _ := clientToServer.reader.Read(buf)
		received <- string(buf[:n])
	}()

	if err := transport.Notify("test/notification", map[string]string{"message": "hello"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	var wire string
	select {
	case wire = <-received:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for wire bytes")
	}

	if !strings.Contains(wire, "Content-Length:") {
		t.Errorf("missing Content-Length header in: %s", wire)
	}
	if !strings.Contains(wire, `"jsonrpc":"2.0"`) {
		t.Errorf("missing jsonrpc field in: %s", wire)
	}
	if !strings.Contains(wire, `"method":"test/notification"`) {
		t.Errorf("missing method field in: %s", wire)
	}
	if strings.Contains(wire, `"id"`) {
		t.Errorf("notification must not carry an id: %s", wire)
	}
}

func TestTransport_DefinitionScenario(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()
	defer clientToServer.Close()
	defer serverToClient.Close()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil)
	defer transport.Close()
	transport.Start(context.Background())

	// Mock server: echo a response for whatever id arrives.
	go func() {
		msg := readWireMessage(t, clientToServer.reader)
		writeWireFrame(serverToClient.writer,
			fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{}}`, *msg.ID))
	}()

	type outcome struct {
		rpcErr *Error
		raw    json.RawMessage
	}
	got := make(chan outcome, 1)

	id, err := transport.SendRequest("textDocument/definition",
		map[string]any{"position": map[string]int{"line": 1, "character": 1}},
		func(rpcErr *Error, raw json.RawMessage) {
			got <- outcome{rpcErr: rpcErr, raw: raw}
		})
	if err != nil {
		t.Fatalf("SendRequest() error = %v", err)
	}
	if id != 1 {
		t.Errorf("first assigned id = %d, want 1", id)
	}

	select {
	case out := <-got:
		if out.rpcErr != nil {
			t.Errorf("callback error = %v, want nil", out.rpcErr)
		}
		if string(out.raw) != "{}" {
			t.Errorf("callback result = %s, want {}", out.raw)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for callback")
	}

	if transport.Pending() != 0 {
		t.Errorf("Pending() = %d after response, want 0", transport.Pending())
	}
}

func TestTransport_Call(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()
	defer clientToServer.Close()
	defer serverToClient.Close()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil)
	defer transport.Close()
	transport.Start(context.Background())

	go func() {
		msg := readWireMessage(t, clientToServer.reader)
		writeWireFrame(serverToClient.writer,
			fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"status":"ok"}}`, *msg.ID))
	}()

	var result map[string]string
	if err := transport.Call(context.Background(), "test/method", nil, &result); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if result["status"] != "ok" {
		t.Errorf("result = %v, want status=ok", result)
	}
}

func TestTransport_CallRPCError(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()
	defer clientToServer.Close()
	defer serverToClient.Close()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil)
	defer transport.Close()
	transport.Start(context.Background())

	go func() {
		msg := readWireMessage(t, clientToServer.reader)
		writeWireFrame(serverToClient.writer,
			fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}}`, *msg.ID))
	}()

	err := transport.Call(context.Background(), "unknown/method", nil, nil)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var rpcErr *Error
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected *Error, got %T: %v", err, err)
	}
	if rpcErr.Code != CodeMethodNotFound {
		t.Errorf("code = %d, want %d", rpcErr.Code, CodeMethodNotFound)
	}
}

func TestTransport_CallTimeout(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()
	defer clientToServer.Close()
	defer serverToClient.Close()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil,
		WithCallTimeout(50*time.Millisecond))
	defer transport.Close()
	transport.Start(context.Background())

	// Drain the request but never answer.
	go func() {
		buf := make([]byte, 1024)
		for {
			if _, err := clientToServer.reader.Read(buf); err != nil {
				return
			}
		}
	}()

	err := transport.Call(context.Background(), "slow/method", nil, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if transport.Pending() != 0 {
		t.Errorf("Pending() = %d after timeout, want 0", transport.Pending())
	}
}

func TestTransport_CancellationAckDropsCallback(t *testing.T) {
	for _, code := range []int{CodeRequestCancelled, CodeContentModified} {
		t.Run(CodeName(code), func(t *testing.T) {
			clientToServer := newMockPipe()
			serverToClient := newMockPipe()
			defer clientToServer.Close()
			defer serverToClient.Close()

			recorder := &faultRecorder{}
			transport := NewTransport(serverToClient.reader, clientToServer.writer, nil,
				WithObserver(recorder.observe))
			defer transport.Close()
			transport.Start(context.Background())

			go func() {
				msg := readWireMessage(t, clientToServer.reader)
				writeWireFrame(serverToClient.writer,
					fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"error":{"code":%d,"message":"cancelled"}}`, *msg.ID, code))
			}()

			invoked := make(chan struct{}, 1)
			if _, err := transport.SendRequest("test/cancelled", nil,
				func(*Error, json.RawMessage) { invoked <- struct{}{} }); err != nil {
				t.Fatalf("SendRequest() error = %v", err)
			}

			waitPending(t, transport, 0)

			select {
			case <-invoked:
				t.Error("callback invoked for cancellation acknowledgement")
			case <-time.After(50 * time.Millisecond):
			}
			if recorder.count() != 0 {
				t.Errorf("cancellation ack surfaced %d faults, want 0", recorder.count())
			}
		})
	}
}

func TestTransport_UnknownResponseIDNonFatal(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()
	defer clientToServer.Close()
	defer serverToClient.Close()

	recorder := &faultRecorder{}
	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil,
		WithObserver(recorder.observe))
	defer transport.Close()
	transport.Start(context.Background())

	writeWireFrame(serverToClient.writer, `{"jsonrpc":"2.0","id":99,"result":{}}`)

	if !recorder.wait(FaultNoCallbackForResponse, time.Second) {
		t.Fatal("FaultNoCallbackForResponse not observed")
	}
	if transport.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", transport.Pending())
	}

	// The transport keeps working afterward.
	go func() {
		msg := readWireMessage(t, clientToServer.reader)
		writeWireFrame(serverToClient.writer,
			fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":"still alive"}`, *msg.ID))
	}()

	var result string
	if err := transport.Call(context.Background(), "test/after", nil, &result); err != nil {
		t.Fatalf("Call() after unknown id error = %v", err)
	}
	if result != "still alive" {
		t.Errorf("result = %q", result)
	}
}

func TestTransport_IncomingRequestHandled(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()
	defer clientToServer.Close()
	defer serverToClient.Close()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil)
	defer transport.Close()

	transport.OnRequest("workspace/configuration", func(method string, params json.RawMessage) (any, *Error) {
		return []any{map[string]bool{"enabled": true}}, nil
	})
	transport.Start(context.Background())

	writeWireFrame(serverToClient.writer,
		`{"jsonrpc":"2.0","id":5,"method":"workspace/configuration","params":{}}`)

	reply := readWireMessage(t, clientToServer.reader)
	if reply.ID == nil || *reply.ID != 5 {
		t.Fatalf("reply id = %v, want 5", reply.ID)
	}
	if reply.Error != nil {
		t.Fatalf("reply error = %v", reply.Error)
	}
	if !strings.Contains(string(reply.Result), `"enabled":true`) {
		t.Errorf("reply result = %s", reply.Result)
	}
}

func TestTransport_IncomingRequestNoHandler(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()
	defer clientToServer.Close()
	defer serverToClient.Close()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil)
	defer transport.Close()
	transport.Start(context.Background())

	writeWireFrame(serverToClient.writer,
		`{"jsonrpc":"2.0","id":6,"method":"client/unknownMethod"}`)

	reply := readWireMessage(t, clientToServer.reader)
	if reply.Error == nil || reply.Error.Code != CodeMethodNotFound {
		t.Fatalf("reply = %+v, want MethodNotFound error", reply)
	}
}

func TestTransport_IncomingRequestHandlerPanicIsolated(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()
	defer clientToServer.Close()
	defer serverToClient.Close()

	recorder := &faultRecorder{}
	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil,
		WithObserver(recorder.observe))
	defer transport.Close()

	transport.OnRequest("boom", func(string, json.RawMessage) (any, *Error) {
		panic("handler exploded")
	})
	transport.Start(context.Background())

	writeWireFrame(serverToClient.writer, `{"jsonrpc":"2.0","id":7,"method":"boom"}`)

	reply := readWireMessage(t, clientToServer.reader)
	if reply.Error == nil || reply.Error.Code != CodeInternalError {
		t.Fatalf("reply = %+v, want InternalError", reply)
	}
	if !recorder.wait(FaultRequestHandler, time.Second) {
		t.Error("FaultRequestHandler not observed")
	}
}

func TestTransport_IncomingRequestMissingPayload(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()
	defer clientToServer.Close()
	defer serverToClient.Close()

	recorder := &faultRecorder{}
	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil,
		WithObserver(recorder.observe))
	defer transport.Close()

	transport.OnRequest("empty", func(string, json.RawMessage) (any, *Error) {
		return nil, nil
	})
	transport.Start(context.Background())

	writeWireFrame(serverToClient.writer, `{"jsonrpc":"2.0","id":8,"method":"empty"}`)

	reply := readWireMessage(t, clientToServer.reader)
	if reply.Error == nil || reply.Error.Code != CodeInternalError {
		t.Fatalf("reply = %+v, want InternalError", reply)
	}
	if !recorder.wait(FaultResponseMissingPayload, time.Second) {
		t.Error("FaultResponseMissingPayload not observed")
	}
}

func TestTransport_IncomingRequestUnknownErrorCode(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()
	defer clientToServer.Close()
	defer serverToClient.Close()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil)
	defer transport.Close()

	transport.OnRequest("custom", func(string, json.RawMessage) (any, *Error) {
		return nil, &Error{Code: 12345}
	})
	transport.Start(context.Background())

	writeWireFrame(serverToClient.writer, `{"jsonrpc":"2.0","id":9,"method":"custom"}`)

	reply := readWireMessage(t, clientToServer.reader)
	if reply.Error == nil {
		t.Fatal("expected error reply")
	}
	if reply.Error.Code != CodeUnknownErrorCode {
		t.Errorf("code = %d, want %d", reply.Error.Code, CodeUnknownErrorCode)
	}
	if reply.Error.Message != "UnknownErrorCode" {
		t.Errorf("message = %q, want canonical code name", reply.Error.Message)
	}
}

func TestTransport_NotificationHandler(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()
	defer clientToServer.Close()
	defer serverToClient.Close()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil)
	defer transport.Close()

	received := make(chan string, 1)
	transport.OnNotification("test/notify", func(method string, params json.RawMessage) {
		var p struct {
			Message string `json:"message"`
		}
		json.Unmarshal(params, &p)
		received <- p.Message
	})
	transport.Start(context.Background())

	writeWireFrame(serverToClient.writer,
		`{"jsonrpc":"2.0","method":"test/notify","params":{"message":"hello from server"}}`)

	select {
	case msg := <-received:
		if msg != "hello from server" {
			t.Errorf("got %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for notification")
	}
}

func TestTransport_NotificationHandlerPanicIsolated(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()
	defer clientToServer.Close()
	defer serverToClient.Close()

	recorder := &faultRecorder{}
	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil,
		WithObserver(recorder.observe))
	defer transport.Close()

	transport.OnNotification("bad", func(string, json.RawMessage) {
		panic("notification handler exploded")
	})
	received := make(chan struct{}, 1)
	transport.OnNotification("good", func(string, json.RawMessage) {
		received <- struct{}{}
	})
	transport.Start(context.Background())

	writeWireFrame(serverToClient.writer, `{"jsonrpc":"2.0","method":"bad"}`)
	writeWireFrame(serverToClient.writer, `{"jsonrpc":"2.0","method":"good"}`)

	if !recorder.wait(FaultNotificationHandler, time.Second) {
		t.Error("FaultNotificationHandler not observed")
	}
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("later notification lost after handler panic")
	}
}

func TestTransport_InvalidFramesDropped(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()
	defer clientToServer.Close()
	defer serverToClient.Close()

	recorder := &faultRecorder{}
	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil,
		WithObserver(recorder.observe))
	defer transport.Close()
	transport.Start(context.Background())

	writeWireFrame(serverToClient.writer, `{"not json`)
	writeWireFrame(serverToClient.writer, `{"jsonrpc":"2.0","id":4}`)

	if !recorder.wait(FaultInvalidJSON, time.Second) {
		t.Error("FaultInvalidJSON not observed")
	}
	if !recorder.wait(FaultInvalidServerMessage, time.Second) {
		t.Error("FaultInvalidServerMessage not observed")
	}

	// In-flight requests are unaffected by dropped frames.
	go func() {
		msg := readWireMessage(t, clientToServer.reader)
		writeWireFrame(serverToClient.writer,
			fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":true}`, *msg.ID))
	}()
	var ok bool
	if err := transport.Call(context.Background(), "test/alive", nil, &ok); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if !ok {
		t.Error("result = false, want true")
	}
}

func TestTransport_ResponseSplitAcrossReads(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()
	defer clientToServer.Close()
	defer serverToClient.Close()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil)
	defer transport.Close()
	transport.Start(context.Background())

	go func() {
		msg := readWireMessage(t, clientToServer.reader)
		body := fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":{"split":true}}`, *msg.ID)
		wire := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(body), body)
		// Each write lands as a separate read on the client side.
		for i := 0; i < len(wire); i += 3 {
			end := i + 3
			if end > len(wire) {
				end = len(wire)
			}
			serverToClient.writer.Write([]byte(wire[i:end]))
		}
	}()

	var result map[string]bool
	if err := transport.Call(context.Background(), "test/split", nil, &result); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if !result["split"] {
		t.Errorf("result = %v", result)
	}
}

func TestTransport_Close(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, clientToServer)
	transport.Start(context.Background())

	if transport.IsClosed() {
		t.Error("transport closed before Close()")
	}
	if err := transport.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if !transport.IsClosed() {
		t.Error("IsClosed() = false after Close()")
	}

	if err := transport.Notify("test", nil); !errors.Is(err, ErrClosed) {
		t.Errorf("Notify() after close = %v, want ErrClosed", err)
	}
	if _, err := transport.SendRequest("test", nil, nil); !errors.Is(err, ErrClosed) {
		t.Errorf("SendRequest() after close = %v, want ErrClosed", err)
	}
	if err := transport.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	serverToClient.Close()
}

func TestTransport_NotificationsInStreamOrder(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()
	defer clientToServer.Close()
	defer serverToClient.Close()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil)
	defer transport.Close()

	var mu sync.Mutex
	var order []string
	done := make(chan struct{})
	transport.OnNotification("*", func(method string, params json.RawMessage) {
		if method == "first" {
			// A slow handler must not let a later notification overtake it.
			time.Sleep(100 * time.Millisecond)
		}
		mu.Lock()
		order = append(order, method)
		n := len(order)
		mu.Unlock()
		if n == 2 {
			close(done)
		}
	})
	transport.Start(context.Background())

	writeWireFrame(serverToClient.writer, `{"jsonrpc":"2.0","method":"first"}`)
	writeWireFrame(serverToClient.writer, `{"jsonrpc":"2.0","method":"second"}`)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notifications")
	}

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "first" || order[1] != "second" {
		t.Errorf("notifications handled out of stream order: %v", order)
	}
}

func TestTransport_CallFromResponseCallback(t *testing.T) {
	clientToServer := newMockPipe()
	serverToClient := newMockPipe()
	defer clientToServer.Close()
	defer serverToClient.Close()

	transport := NewTransport(serverToClient.reader, clientToServer.writer, nil,
		WithCallTimeout(300*time.Millisecond))
	defer transport.Close()
	transport.Start(context.Background())

	// Mock server answering every request immediately.
	go func() {
		fr := NewFrameReader()
		buf := make([]byte, 512)
		for {
			n, err := clientToServer.reader.Read(buf)
			if n > 0 {
				frames, _ := fr.Feed(buf[:n])
				for _, frame := range frames {
					msg, derr := Decode(frame.Body)
					if derr != nil || msg.ID == nil {
						continue
					}
					writeWireFrame(serverToClient.writer,
						fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"result":"pong"}`, *msg.ID))
				}
			}
			if err != nil {
				return
			}
		}
	}()

	// A blocking call issued from inside a response callback must still
	// complete; the read loop may not be stalled behind the callback.
	nested := make(chan error, 1)
	if _, err := transport.SendRequest("outer", nil, func(rpcErr *Error, raw json.RawMessage) {
		var inner string
		nested <- transport.Call(context.Background(), "inner", nil, &inner)
	}); err != nil {
		t.Fatalf("SendRequest() error = %v", err)
	}

	select {
	case err := <-nested:
		if err != nil {
			t.Fatalf("nested Call() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("nested call never completed")
	}
}
