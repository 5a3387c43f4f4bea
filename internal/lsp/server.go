package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/afero"
	"go.lsp.dev/jsonrpc2"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wycleffsean/linthost/internal/lsp/schedule"
	"github.com/wycleffsean/linthost/internal/session"
	"github.com/wycleffsean/linthost/pkg/workspace"
)

const (
	ServerName = "linthost"

	// ExitTimeout bounds how long Run waits for exit after shutdown.
	ExitTimeout = 30 * time.Second
)

var (
	ErrExitWithoutShutdown = errors.New("received exit before shutdown")
	ErrNotInitialized      = errors.New("connection closed before initialize")
)

type Options struct {
	// Workers is the size of the background worker pool.
	Workers int
	Logger  *zap.Logger
	// Fs is where project settings are read from. Defaults to the OS.
	Fs      afero.Fs
	Version string
}

// Server is one client session: the handshake has been completed and Run
// drives the event loop.
type Server struct {
	conn    *Connection
	session *session.Session
	sch     *schedule.Scheduler
	caps    protocol.ClientCapabilities
	version string

	watcher     *projectWatcher
	lints       lintGenerations
	exitTimeout time.Duration
}

// serverCapabilities adds the fields of newer protocol versions that
// protocol.ServerCapabilities does not carry.
type serverCapabilities struct {
	protocol.ServerCapabilities
	PositionEncoding   string             `json:"positionEncoding,omitempty"`
	DiagnosticProvider *diagnosticOptions `json:"diagnosticProvider,omitempty"`
}

type diagnosticOptions struct {
	Identifier            string `json:"identifier,omitempty"`
	InterFileDependencies bool   `json:"interFileDependencies"`
	WorkspaceDiagnostics  bool   `json:"workspaceDiagnostics"`
}

type initializeResult struct {
	Capabilities serverCapabilities   `json:"capabilities"`
	ServerInfo   *protocol.ServerInfo `json:"serverInfo,omitempty"`
}

// positionEncodingUTF16 is the only encoding offered. Columns are counted
// in UTF-16 code units throughout.
const positionEncodingUTF16 = "utf-16"

// New performs the initialize handshake on conn. Requests that arrive before
// initialize are rejected; a failure to build the session is fatal and is
// reported to the client before New returns.
func New(ctx context.Context, conn *Connection, opts Options) (*Server, error) {
	if opts.Logger != nil {
		log = opts.Logger
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	s := &Server{conn: conn, version: opts.Version, exitTimeout: ExitTimeout}

	for {
		msg, err := s.receive(ctx)
		if err != nil {
			return nil, err
		}
		switch m := msg.(type) {
		case *jsonrpc2.Call:
			if m.Method() != protocol.MethodInitialize {
				s.reply(m.ID(), nil, jsonrpc2.NewError(jsonrpc2.ServerNotInitialized, "server not initialized"))
				continue
			}
			var params protocol.InitializeParams
			if err := decodeParams(m.Params(), &params); err != nil {
				s.reply(m.ID(), nil, jsonrpc2.Errorf(jsonrpc2.InvalidParams, "%v", err))
				return nil, fmt.Errorf("decoding initialize params: %w", err)
			}
			if err := s.initialize(m.ID(), &params, opts); err != nil {
				return nil, err
			}
			return s, nil
		case *jsonrpc2.Notification:
			if m.Method() == protocol.MethodExit {
				return nil, ErrExitWithoutShutdown
			}
			log.Debug("dropping notification before initialize", zap.String("method", m.Method()))
		case *jsonrpc2.Response:
			log.Warn("dropping response before initialize", zap.String("id", fmt.Sprint(m.ID())))
		}
	}
}

func (s *Server) initialize(id jsonrpc2.ID, params *protocol.InitializeParams, opts Options) error {
	roots := workspaceRoots(params)
	sess, err := session.New(opts.Fs, roots, params.InitializationOptions, log.Named("session"))
	if err != nil {
		s.reply(id, nil, jsonrpc2.Errorf(jsonrpc2.InternalError, "initializing session: %v", err))
		return fmt.Errorf("initializing session: %w", err)
	}
	s.session = sess
	s.caps = params.Capabilities
	s.sch = schedule.New(sess, opts.Workers, s.conn, log.Named("schedule"))

	log.Info("LSP initialized",
		zap.Strings("roots", uriStrings(roots)),
		zap.Int("workers", s.sch.Workers()),
	)

	s.reply(id, &initializeResult{
		Capabilities: serverCapabilities{
			ServerCapabilities: protocol.ServerCapabilities{
				TextDocumentSync: &protocol.TextDocumentSyncOptions{
					OpenClose: true,
					Change:    protocol.TextDocumentSyncKindIncremental,
					Save:      &protocol.SaveOptions{},
				},
				DocumentFormattingProvider:      true,
				DocumentRangeFormattingProvider: true,
				CodeActionProvider: &protocol.CodeActionOptions{
					CodeActionKinds: []protocol.CodeActionKind{protocol.QuickFix, codeActionSourceFixAllLinthost},
				},
				Workspace: &protocol.ServerCapabilitiesWorkspace{
					WorkspaceFolders: &protocol.ServerCapabilitiesWorkspaceFolders{
						Supported:           true,
						ChangeNotifications: true,
					},
				},
			},
			PositionEncoding: positionEncodingUTF16,
			DiagnosticProvider: &diagnosticOptions{
				Identifier: ServerName,
			},
		},
		ServerInfo: &protocol.ServerInfo{
			Name:    ServerName,
			Version: s.version,
		},
	}, nil)
	return nil
}

// workspaceRoots picks the roots from the richest field the client filled
// in, falling back to the configured workspace directory.
func workspaceRoots(params *protocol.InitializeParams) []uri.URI {
	var roots []uri.URI
	for _, f := range params.WorkspaceFolders {
		roots = append(roots, uri.URI(f.URI))
	}
	switch {
	case len(roots) > 0:
	case params.RootURI != "":
		roots = append(roots, uri.URI(params.RootURI))
	case params.RootPath != "":
		roots = append(roots, uri.File(params.RootPath))
	default:
		dir := workspace.Dir()
		log.Warn("client sent no workspace, using the working directory", zap.String("dir", dir))
		if dir != "" {
			roots = append(roots, uri.File(dir))
		}
	}
	return roots
}

// Run registers startup capabilities and serves messages until shutdown or
// until the connection closes. Before returning it joins the worker pool
// and the connection's I/O goroutines.
func (s *Server) Run(ctx context.Context) (err error) {
	defer func() {
		err = multierr.Combine(err, s.close())
	}()

	s.registerCapabilities()

	shutdown, err := s.eventLoop(ctx)
	if err != nil || !shutdown {
		return err
	}
	return s.waitForExit(ctx)
}

func (s *Server) registerCapabilities() {
	dynamic := s.caps.Workspace != nil &&
		s.caps.Workspace.DidChangeWatchedFiles != nil &&
		s.caps.Workspace.DidChangeWatchedFiles.DynamicRegistration
	if !dynamic {
		log.Warn("client does not support dynamic registration of file watchers, watching project settings locally")
		w, err := newProjectWatcher(s, s.session.Roots())
		if err != nil {
			log.Error("failed to watch project settings", zap.Error(err))
			return
		}
		s.watcher = w
		return
	}

	params := &protocol.RegistrationParams{
		Registrations: []protocol.Registration{{
			ID:     ulid.Make().String(),
			Method: protocol.MethodWorkspaceDidChangeWatchedFiles,
			RegisterOptions: protocol.DidChangeWatchedFilesRegistrationOptions{
				Watchers: []protocol.FileSystemWatcher{{GlobPattern: projectConfigGlob}},
			},
		}},
	}
	_, err := s.sch.Request(protocol.MethodClientRegisterCapability, params, func(_ json.RawMessage, err error) schedule.Task {
		if err != nil {
			log.Error("failed to register file watcher", zap.Error(err))
		} else {
			log.Debug("registered file watcher", zap.String("glob", projectConfigGlob))
		}
		return schedule.Nothing()
	})
	if err != nil {
		log.Error("failed to register file watcher", zap.Error(err))
	}
}

// eventLoop handles exactly one inbound message or one scheduled task per
// iteration. It reports whether it stopped because of a shutdown request.
func (s *Server) eventLoop(ctx context.Context) (bool, error) {
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case t := <-s.sch.Reentry():
			s.sch.Dispatch(ctx, t)
		case msg, ok := <-s.conn.Incoming():
			if !ok {
				log.Info("client closed the connection")
				return false, nil
			}
			switch m := msg.(type) {
			case *jsonrpc2.Call:
				if m.Method() == protocol.MethodShutdown {
					log.Info("received shutdown request")
					s.reply(m.ID(), nil, nil)
					return true, nil
				}
				s.sch.Dispatch(ctx, classifyCall(s, m))
			case *jsonrpc2.Notification:
				if m.Method() == protocol.MethodExit {
					return false, ErrExitWithoutShutdown
				}
				s.sch.Dispatch(ctx, classifyNotification(s, m))
			case *jsonrpc2.Response:
				s.sch.Dispatch(ctx, s.sch.Response(m))
			}
		}
	}
}

// waitForExit answers everything after shutdown with an error until exit
// arrives, the peer hangs up or the exit timeout passes.
func (s *Server) waitForExit(ctx context.Context) error {
	timeout := time.NewTimer(s.exitTimeout)
	defer timeout.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			log.Warn("client did not send exit after shutdown", zap.Duration("waited", s.exitTimeout))
			return nil
		case msg, ok := <-s.conn.Incoming():
			if !ok {
				return nil
			}
			switch m := msg.(type) {
			case *jsonrpc2.Notification:
				if m.Method() == protocol.MethodExit {
					log.Info("received exit notification")
					return nil
				}
			case *jsonrpc2.Call:
				s.reply(m.ID(), nil, jsonrpc2.NewError(jsonrpc2.InvalidRequest, "server is shutting down"))
			}
		}
	}
}

func (s *Server) close() error {
	var err error
	if s.watcher != nil {
		err = multierr.Append(err, s.watcher.Close())
	}
	return multierr.Combine(err, s.sch.Close(), s.conn.Close())
}

func (s *Server) receive(ctx context.Context) (jsonrpc2.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-s.conn.Incoming():
		if !ok {
			return nil, ErrNotInitialized
		}
		return msg, nil
	}
}

// reply answers a call outside of the scheduler. Only the handshake and the
// shutdown path use it.
func (s *Server) reply(id jsonrpc2.ID, result any, err error) {
	resp, encErr := jsonrpc2.NewResponse(id, result, err)
	if encErr != nil {
		log.Error("failed to encode response", zap.Error(encErr))
		return
	}
	if err := s.conn.Send(resp); err != nil {
		log.Error("failed to send response", zap.Error(err))
	}
}

func uriStrings(us []uri.URI) []string {
	out := make([]string, len(us))
	for i, u := range us {
		out[i] = string(u)
	}
	return out
}

// Serve runs a server over stdio until the client disconnects.
func Serve(ctx context.Context, opts Options) error {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	conn := Stdio(opts.Logger.Named("conn"))
	srv, err := New(ctx, conn, opts)
	if err != nil {
		return multierr.Append(err, conn.Close())
	}
	return srv.Run(ctx)
}
