package lsp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/lsprpc/internal/jsonrpc"
)

// ServerStatus indicates the current state of a server.
type ServerStatus int

const (
	ServerStatusStopped ServerStatus = iota
	ServerStatusStarting
	ServerStatusInitializing
	ServerStatusReady
	ServerStatusShuttingDown
	ServerStatusError
)

// String returns a human-readable status name.
func (s ServerStatus) String() string {
	switch s {
	case ServerStatusStopped:
		return "stopped"
	case ServerStatusStarting:
		return "starting"
	case ServerStatusInitializing:
		return "initializing"
	case ServerStatusReady:
		return "ready"
	case ServerStatusShuttingDown:
		return "shutting down"
	case ServerStatusError:
		return "error"
	default:
		return "unknown"
	}
}

// ServerConfig defines how to start a language server.
type ServerConfig struct {
	// Command is the executable to run.
	Command string

	// Args are command-line arguments.
	Args []string

	// Env are additional environment variables.
	Env map[string]string

	// WorkDir is the working directory (defaults to the root path given
	// to Start).
	WorkDir string

	// Capabilities are merged onto DefaultClientCapabilities for the
	// initialize request. The payload is passed through opaquely.
	Capabilities map[string]any

	// InitializationOptions are sent during initialize.
	InitializationOptions any

	// Timeout for requests (default: 30s).
	Timeout time.Duration
}

// Server represents a connection to a single language server over the
// child process's stdio. The process's pipes are owned exclusively by the
// server for its lifetime; on process exit the transport is closed and
// the server is unusable.
type Server struct {
	mu sync.Mutex

	config     ServerConfig
	languageID string
	log        *zap.Logger

	// Process management
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	transport *jsonrpc.Transport

	// State
	status       atomic.Int32
	capabilities json.RawMessage
	serverInfo   *ServerInfo
	lastError    error

	ctx    context.Context
	cancel context.CancelFunc
	exitCh chan error
}

// NewServer creates a new server instance (not yet started). A nil logger
// disables logging.
func NewServer(config ServerConfig, languageID string, log *zap.Logger) *Server {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Server{
		config:     config,
		languageID: languageID,
		log:        log,
		exitCh:     make(chan error, 1),
	}
	s.status.Store(int32(ServerStatusStopped))
	return s
}

// Start starts the language server process and runs the initialize
// handshake: an initialize request carrying the merged capabilities,
// then an initialized notification once it completes.
func (s *Server) Start(ctx context.Context, rootPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status() != ServerStatusStopped {
		return ErrAlreadyStarted
	}

	s.status.Store(int32(ServerStatusStarting))
	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.startProcess(); err != nil {
		s.status.Store(int32(ServerStatusError))
		s.lastError = err
		return err
	}

	go s.drainStderr(s.stderr)

	s.transport = jsonrpc.NewTransport(s.stdout, s.stdin, nil,
		jsonrpc.WithObserver(jsonrpc.NewZapObserver(s.log.Named(s.languageID))),
		jsonrpc.WithCallTimeout(s.config.Timeout),
	)
	s.registerNotificationHandlers()
	s.transport.Start(s.ctx)

	go s.monitorProcess()

	s.status.Store(int32(ServerStatusInitializing))
	result, err := initialize(s.ctx, s.transport, InitializeParams{
		ProcessID:             os.Getpid(),
		RootURI:               FilePathToURI(rootPath),
		Capabilities:          MergeCapabilities(DefaultClientCapabilities(), s.config.Capabilities),
		InitializationOptions: s.config.InitializationOptions,
	})
	if err != nil {
		s.status.Store(int32(ServerStatusError))
		s.lastError = err
		s.stopProcess()
		return fmt.Errorf("initialize: %w", err)
	}

	s.capabilities = result.Capabilities
	s.serverInfo = result.ServerInfo
	s.status.Store(int32(ServerStatusReady))
	return nil
}

// initialize performs the LSP initialize handshake on a running transport.
func initialize(ctx context.Context, transport *jsonrpc.Transport, params InitializeParams) (*InitializeResult, error) {
	var result InitializeResult
	if err := transport.Call(ctx, "initialize", params, &result); err != nil {
		return nil, fmt.Errorf("initialize request: %w", err)
	}
	if err := transport.Notify("initialized", InitializedParams{}); err != nil {
		return nil, fmt.Errorf("initialized notification: %w", err)
	}
	return &result, nil
}

// startProcess starts the language server executable with stdio pipes.
func (s *Server) startProcess() error {
	cmd := exec.CommandContext(s.ctx, s.config.Command, s.config.Args...)

	cmd.Env = os.Environ()
	for k, v := range s.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	if s.config.WorkDir != "" {
		cmd.Dir = s.config.WorkDir
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		stderr.Close()
		return fmt.Errorf("start process: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stdout = stdout
	s.stderr = stderr
	return nil
}

// monitorProcess waits for the process and closes the transport when it
// exits, so in-flight calls fail instead of hanging.
func (s *Server) monitorProcess() {
	if s.cmd == nil {
		return
	}

	err := s.cmd.Wait()
	status := ServerStatus(s.status.Load())
	if status != ServerStatusShuttingDown && status != ServerStatusStopped {
		s.log.Warn("language server exited",
			zap.String("language", s.languageID), zap.Error(err))
		s.mu.Lock()
		s.lastError = &ServerError{LanguageID: s.languageID, Err: ErrServerCrashed}
		s.mu.Unlock()
		s.status.Store(int32(ServerStatusError))
	}
	if s.transport != nil {
		s.transport.Close()
	}
	select {
	case s.exitCh <- err:
	default:
	}
}

// stopProcess tears down the transport, pipes, and process.
func (s *Server) stopProcess() {
	if s.transport != nil {
		s.transport.Close()
	}
	if s.stdin != nil {
		s.stdin.Close()
	}
	if s.stdout != nil {
		s.stdout.Close()
	}
	if s.stderr != nil {
		s.stderr.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
}

// drainStderr consumes the server's stderr for the life of the process.
// Left undrained, a chatty server blocks once the pipe buffer fills.
func (s *Server) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.log.Debug("server stderr",
			zap.String("language", s.languageID), zap.String("line", scanner.Text()))
	}
}

// registerNotificationHandlers consumes standard server notifications.
func (s *Server) registerNotificationHandlers() {
	s.transport.OnNotification("window/logMessage", func(method string, params json.RawMessage) {
		var p struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(params, &p); err == nil {
			s.log.Debug("server log", zap.String("language", s.languageID), zap.String("message", p.Message))
		}
	})
	s.transport.OnNotification("window/showMessage", func(method string, params json.RawMessage) {
		var p struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(params, &p); err == nil {
			s.log.Info("server message", zap.String("language", s.languageID), zap.String("message", p.Message))
		}
	})
}

// OnNotification registers a handler for a server notification method.
func (s *Server) OnNotification(method string, handler jsonrpc.NotificationHandler) {
	s.transport.OnNotification(method, handler)
}

// Shutdown gracefully shuts down the server: a shutdown request followed
// by an exit notification, after which no further requests are issued.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := s.Status()
	if status == ServerStatusStopped || status == ServerStatusShuttingDown {
		return nil
	}
	s.status.Store(int32(ServerStatusShuttingDown))

	if s.transport != nil && !s.transport.IsClosed() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		_ = s.transport.Call(shutdownCtx, "shutdown", nil, nil)
		_ = s.transport.Notify("exit", nil)
	}

	if s.cancel != nil {
		s.cancel()
	}
	s.stopProcess()

	s.status.Store(int32(ServerStatusStopped))
	return nil
}

// Status returns the current server status.
func (s *Server) Status() ServerStatus {
	return ServerStatus(s.status.Load())
}

// Capabilities returns the raw server capabilities from initialization.
func (s *Server) Capabilities() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capabilities
}

// Info returns the server's self-reported name and version, if given.
func (s *Server) Info() *ServerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

// LastError returns the last lifecycle error that occurred.
func (s *Server) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// LanguageID returns the language this server handles.
func (s *Server) LanguageID() string {
	return s.languageID
}

// ExitChannel returns a channel that receives when the process exits.
func (s *Server) ExitChannel() <-chan error {
	return s.exitCh
}

// --- Document Notifications ---

// OpenDocument notifies the server that a document was opened.
func (s *Server) OpenDocument(path, content string) error {
	if s.Status() != ServerStatusReady {
		return ErrServerNotReady
	}

	return s.transport.Notify("textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{
			URI:        FilePathToURI(path),
			LanguageID: s.languageID,
			Version:    1,
			Text:       content,
		},
	})
}

// CloseDocument notifies the server that a document was closed.
func (s *Server) CloseDocument(path string) error {
	if s.Status() != ServerStatusReady {
		return ErrServerNotReady
	}

	return s.transport.Notify("textDocument/didClose", DidCloseTextDocumentParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
	})
}

// --- Requests ---

// Definition returns the definition location(s) for the symbol at pos.
func (s *Server) Definition(ctx context.Context, path string, pos Position) ([]Location, error) {
	if s.Status() != ServerStatusReady {
		return nil, ErrServerNotReady
	}

	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		Position:     pos,
	}

	var result json.RawMessage
	if err := s.transport.Call(ctx, "textDocument/definition", params, &result); err != nil {
		return nil, err
	}
	return ParseLocationResult(result)
}

// Hover returns hover information at pos.
func (s *Server) Hover(ctx context.Context, path string, pos Position) (*Hover, error) {
	if s.Status() != ServerStatusReady {
		return nil, ErrServerNotReady
	}

	params := TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: FilePathToURI(path)},
		Position:     pos,
	}

	var result *Hover
	if err := s.transport.Call(ctx, "textDocument/hover", params, &result); err != nil {
		return nil, err
	}
	return result, nil
}
