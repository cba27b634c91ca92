package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/lsprpc/internal/jsonrpc"
	"github.com/dshills/lsprpc/internal/lsif"
	"github.com/dshills/lsprpc/internal/lsp"
)

var serveIndexPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a definition server on stdio",
	Long: `Speaks the LSP base protocol on stdin/stdout. With --index it answers
textDocument/definition and textDocument/hover from an LSIF dump;
without one it answers every definition request with a fixed location,
which is enough to exercise a client end to end.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveIndexPath, "index", "", "LSIF dump to answer queries from")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log, err := newLogger()
	if err != nil {
		return err
	}
	defer log.Sync()

	var index *lsif.Index
	if serveIndexPath != "" {
		index, err = lsif.NewIndexFromFile(serveIndexPath)
		if err != nil {
			return err
		}
		log.Info("index loaded",
			zap.String("path", serveIndexPath), zap.Int("documents", index.Documents()))
		if meta := index.Metadata(); meta != nil {
			log.Info("index metadata",
				zap.String("version", meta.Version), zap.String("projectRoot", meta.ProjectRoot))
		}
	}

	transport := jsonrpc.NewTransport(os.Stdin, os.Stdout, nil,
		jsonrpc.WithObserver(jsonrpc.NewZapObserver(log)),
	)

	exit := make(chan struct{})

	capabilities := `{"definitionProvider":true}`
	if index != nil {
		capabilities = `{"definitionProvider":true,"hoverProvider":true}`
	}

	transport.OnRequest("initialize", func(method string, params json.RawMessage) (any, *jsonrpc.Error) {
		log.Info("initialize received")
		return lsp.InitializeResult{
			Capabilities: json.RawMessage(capabilities),
			ServerInfo:   &lsp.ServerInfo{Name: "lsprpc", Version: "0.1.0"},
		}, nil
	})

	transport.OnRequest("shutdown", func(method string, params json.RawMessage) (any, *jsonrpc.Error) {
		log.Info("shutdown received")
		return json.RawMessage("null"), nil
	})

	transport.OnRequest("textDocument/definition", func(method string, params json.RawMessage) (any, *jsonrpc.Error) {
		var p lsp.TextDocumentPositionParams
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
		}
		log.Info("definition requested",
			zap.String("uri", string(p.TextDocument.URI)),
			zap.Int("line", p.Position.Line),
			zap.Int("character", p.Position.Character))

		if index != nil {
			locs := index.Definition(p.TextDocument.URI, p.Position)
			if locs == nil {
				return json.RawMessage("null"), nil
			}
			return locs, nil
		}
		return lsp.Location{
			URI: "file:///tmp/file.txt",
			Range: lsp.Range{
				Start: lsp.Position{Line: 1, Character: 1},
				End:   lsp.Position{Line: 1, Character: 1},
			},
		}, nil
	})

	if index != nil {
		transport.OnRequest("textDocument/hover", func(method string, params json.RawMessage) (any, *jsonrpc.Error) {
			var p lsp.TextDocumentPositionParams
			if err := json.Unmarshal(params, &p); err != nil {
				return nil, &jsonrpc.Error{Code: jsonrpc.CodeInvalidParams, Message: err.Error()}
			}
			result, ok := index.Hover(p.TextDocument.URI, p.Position)
			if !ok {
				return json.RawMessage("null"), nil
			}
			return result, nil
		})
	}

	transport.OnRequest("*", func(method string, params json.RawMessage) (any, *jsonrpc.Error) {
		return nil, &jsonrpc.Error{Code: jsonrpc.CodeMethodNotFound, Message: "method not found: " + method}
	})

	transport.OnNotification("exit", func(method string, params json.RawMessage) {
		close(exit)
	})

	transport.Start(cmd.Context())
	log.Info("definition server listening on stdio")

	select {
	case <-exit:
		log.Info("exit received")
	case <-transport.Done():
		log.Info("connection closed")
	}
	return transport.Close()
}
