// Package jsonrpc implements the JSON-RPC 2.0 wire layer used by LSP
// clients: Content-Length framing over a child process's stdio,
// incremental parsing of bytes that may arrive split at any boundary,
// correlation of responses with outstanding requests, and dispatch of
// server-initiated traffic to caller-supplied handlers.
//
// # Architecture
//
// The package is organized around these components:
//
//   - FrameReader: stateful incremental parser turning byte chunks into
//     complete (headers, body) frames
//   - Encode/Decode: wire codec for the JSON-RPC envelope
//   - Classify: shape-based message classification
//   - Transport: read loop, dispatch, and the request registry
//   - Observer: injected sink for structured error reports
//
// # Quick Start
//
// Bind a transport to a running server's pipes and start it:
//
//	t := jsonrpc.NewTransport(stdout, stdin, nil,
//	    jsonrpc.WithObserver(jsonrpc.NewZapObserver(log)))
//	t.Start(ctx)
//	defer t.Close()
//
//	var result InitializeResult
//	if err := t.Call(ctx, "initialize", params, &result); err != nil {
//	    return err
//	}
//	t.Notify("initialized", struct{}{})
//
// # Failure Isolation
//
// Malformed headers, unparsable bodies, unknown response ids, and
// panicking handlers are reported through the Observer and never
// interrupt processing of subsequent frames. Only a failure of the
// underlying read stream terminates the transport.
package jsonrpc
