// Package lsp provides a client for external language servers speaking
// the Language Server Protocol over stdio.
//
// It layers server lifecycle management on top of the wire transport in
// internal/jsonrpc: spawning the server process, the initialize /
// initialized handshake with capability merging, document notifications,
// position-based requests, and the shutdown / exit handshake.
//
// # Quick Start
//
//	cfg := lsp.ServerConfig{Command: "gopls", Args: []string{"serve"}}
//	srv := lsp.NewServer(cfg, "go", logger)
//
//	if err := srv.Start(ctx, workspaceRoot); err != nil {
//	    return err
//	}
//	defer srv.Shutdown(ctx)
//
//	locs, err := srv.Definition(ctx, "/path/to/file.go", lsp.Position{Line: 10, Character: 5})
//
// Server configurations can also be loaded from a TOML file keyed by
// language id; see LoadConfig.
package lsp
