// javacomplete/lsp_server.go
// Implements the Language Server Protocol (LSP) server logic.
package javacomplete

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/jsonrpc2"
)

const (
	serverName = "javacomplete LSP"
	// Commands the server executes on behalf of code actions.
	commandRememberImport = "javacomplete.rememberImport"
	diagnosticSource      = "javacomplete"
	serviceWarnInterval   = time.Minute
)

// ============================================================================
// LSP Server Implementation
// ============================================================================

// Server represents the LSP server instance.
type Server struct {
	conn           *jsonrpc2.Conn
	logger         *slog.Logger
	levelVar       *slog.LevelVar // Optional; adjusted when log_level changes.
	completer      *JavaCompleter
	files          map[DocumentURI]*OpenFile
	cursors        map[DocumentURI]CursorPosition // Last position a feature was requested at.
	filesMu        sync.RWMutex
	clientCaps     ClientCapabilities
	serverInfo     *ServerInfo
	initParams     *InitializeParams
	requestTracker *RequestTracker

	lastServiceWarn atomic.Int64 // Unix nanos of the last "service down" message.
}

// OpenFile is a snapshot of a document open in the client. didChange swaps in a new
// snapshot; an OpenFile is never mutated once stored.
type OpenFile struct {
	URI     DocumentURI
	Path    string
	Buffer  *TextBuffer
	Version int
}

// NewServer creates a new LSP server instance.
func NewServer(completer *JavaCompleter, logger *slog.Logger, levelVar *slog.LevelVar, version string) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		logger:    logger,
		levelVar:  levelVar,
		completer: completer,
		files:     make(map[DocumentURI]*OpenFile),
		cursors:   make(map[DocumentURI]CursorPosition),
		serverInfo: &ServerInfo{
			Name:    serverName,
			Version: version,
		},
		requestTracker: NewRequestTracker(),
	}
	publishExpvarMetrics(s)
	return s
}

// Run serves LSP on r/w until the connection closes. The tick loop runs for the
// lifetime of the connection.
func (s *Server) Run(r io.Reader, w io.Writer) {
	s.logger.Info("Starting LSP server run loop")

	stream := jsonrpc2.NewBufferedStream(&stdrwc{r: r, w: w}, jsonrpc2.VSCodeObjectCodec{})
	// Requests wait until s.conn is set so handlers can notify the client.
	ready := make(chan struct{})
	handler := jsonrpc2.HandlerWithError(func(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
		<-ready
		return s.handle(ctx, conn, req)
	})
	s.conn = jsonrpc2.NewConn(context.Background(), stream, handler)
	close(ready)
	s.logger.Info("JSON-RPC connection established")

	tickCtx, stopTicks := context.WithCancel(context.Background())
	tickDone := make(chan struct{})
	go func() {
		defer close(tickDone)
		s.runTickLoop(tickCtx)
	}()

	<-s.conn.DisconnectNotify()
	stopTicks()
	<-tickDone
	s.logger.Info("JSON-RPC connection closed")
}

// stdrwc is a simple ReadWriteCloser that wraps stdin/stdout without closing them.
type stdrwc struct {
	r io.Reader
	w io.Writer
}

func (s *stdrwc) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *stdrwc) Write(p []byte) (int, error) { return s.w.Write(p) }
func (s *stdrwc) Close() error                { return nil }

// handle routes incoming LSP requests/notifications to appropriate methods.
func (s *Server) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (result any, err error) {
	methodLogger := s.logger.With("method", req.Method, "is_notification", req.Notif)
	if !req.Notif {
		methodLogger = methodLogger.With("req_id", req.ID)
	}
	methodLogger.Debug("Received request/notification")

	defer func() {
		if r := recover(); r != nil {
			methodLogger.Error("Panic recovered in handler", "panic_value", r, "stack", string(debug.Stack()))
			panicData, marshalErr := json.Marshal(fmt.Sprintf("Panic: %v", r))
			if marshalErr != nil {
				panicData = []byte(`"failed to marshal panic data"`)
			}
			rawPanicData := json.RawMessage(panicData)
			err = &jsonrpc2.Error{
				Code:    int64(JsonRpcInternalError),
				Message: fmt.Sprintf("Internal server error in method %s", req.Method),
				Data:    &rawPanicData,
			}
			result = nil
		}
	}()

	if !req.Notif {
		var done func()
		ctx, done = s.requestTracker.Add(req.ID, ctx)
		defer done()
	}
	if ctx.Err() != nil {
		methodLogger.Warn("Request context cancelled before processing started", "error", ctx.Err())
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcRequestCancelled), Message: "Request cancelled"}
	}

	unmarshalParams := func(target any) error {
		if req.Params == nil {
			return errors.New("params field is null")
		}
		return json.Unmarshal(*req.Params, target)
	}
	invalidParams := func(err error) error {
		methodLogger.Error("Failed to unmarshal params", "error", err)
		if req.Notif {
			return nil
		}
		return &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: fmt.Sprintf("Invalid %s params: %v", req.Method, err)}
	}

	switch req.Method {
	case "initialize":
		var params InitializeParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleInitialize(ctx, conn, req, params, methodLogger)

	case "initialized":
		methodLogger.Info("Client initialized notification received")
		return nil, nil

	case "shutdown":
		return s.handleShutdown(ctx, conn, req, methodLogger)

	case "exit":
		return s.handleExit(ctx, conn, req, methodLogger)

	case "textDocument/didOpen":
		var params DidOpenTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleDidOpen(ctx, conn, req, params, methodLogger)

	case "textDocument/didChange":
		var params DidChangeTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleDidChange(ctx, conn, req, params, methodLogger)

	case "textDocument/didClose":
		var params DidCloseTextDocumentParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleDidClose(ctx, conn, req, params, methodLogger)

	case "textDocument/completion":
		var params CompletionParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleCompletion(ctx, conn, req, params, methodLogger)

	case "textDocument/hover":
		var params HoverParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleHover(ctx, conn, req, params, methodLogger)

	case "textDocument/definition":
		var params DefinitionParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleDefinition(ctx, conn, req, params, methodLogger)

	case "textDocument/codeAction":
		var params CodeActionParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleCodeAction(ctx, conn, req, params, methodLogger)

	case "workspace/didChangeConfiguration":
		var params DidChangeConfigurationParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleDidChangeConfiguration(ctx, conn, req, params, methodLogger)

	case "workspace/executeCommand":
		var params ExecuteCommandParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		return s.handleExecuteCommand(ctx, conn, req, params, methodLogger)

	case "$/cancelRequest":
		var params CancelParams
		if err := unmarshalParams(&params); err != nil {
			return nil, invalidParams(err)
		}
		var cancelID jsonrpc2.ID
		switch idVal := params.ID.(type) {
		case float64:
			cancelID = jsonrpc2.ID{Num: uint64(idVal)}
		case string:
			cancelID = jsonrpc2.ID{Str: idVal, IsString: true}
		default:
			methodLogger.Warn("Could not determine type of cancel request ID", "id_value", params.ID, "id_type", fmt.Sprintf("%T", params.ID))
			return nil, nil
		}
		s.requestTracker.Cancel(cancelID)
		methodLogger.Info("Cancellation request processed", "cancelled_id", cancelID)
		return nil, nil

	default:
		methodLogger.Warn("Unhandled LSP method")
		if req.Notif {
			return nil, nil
		}
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcMethodNotFound), Message: fmt.Sprintf("Method not supported: %s", req.Method)}
	}
}

// ============================================================================
// Open File Registry
// ============================================================================

func (s *Server) getFile(uri DocumentURI) (*OpenFile, bool) {
	s.filesMu.RLock()
	defer s.filesMu.RUnlock()
	f, ok := s.files[uri]
	return f, ok
}

func (s *Server) putFile(f *OpenFile) {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()
	s.files[f.URI] = f
}

func (s *Server) removeFile(uri DocumentURI) (*OpenFile, bool) {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()
	f, ok := s.files[uri]
	delete(s.files, uri)
	delete(s.cursors, uri)
	return f, ok
}

func (s *Server) rememberCursor(uri DocumentURI, cursor CursorPosition) {
	s.filesMu.Lock()
	defer s.filesMu.Unlock()
	s.cursors[uri] = cursor
}

// lastCursor returns the last requested position in uri, clamped to buf, or the
// start of the buffer.
func (s *Server) lastCursor(uri DocumentURI, buf LineBuffer) CursorPosition {
	s.filesMu.RLock()
	cursor, ok := s.cursors[uri]
	s.filesMu.RUnlock()
	if !ok || buf.Len() == 0 {
		return CursorPosition{Row: 1}
	}
	cursor.Row = min(max(cursor.Row, 1), buf.Len())
	cursor.Column = min(cursor.Column, len(buf.Line(cursor.Row-1)))
	return cursor
}

func (s *Server) fileByPath(path string) (*OpenFile, bool) {
	s.filesMu.RLock()
	defer s.filesMu.RUnlock()
	for _, f := range s.files {
		if f.Path == path {
			return f, true
		}
	}
	return nil, false
}

func (s *Server) supportsApplyEdit() bool {
	return s.clientCaps.Workspace != nil && s.clientCaps.Workspace.ApplyEdit
}

// ============================================================================
// Tick Loop
// ============================================================================

// runTickLoop drains the pending update slot every tick interval until ctx ends. The
// interval follows configuration changes.
func (s *Server) runTickLoop(ctx context.Context) {
	interval := s.completer.GetCurrentConfig().TickInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	tickLogger := s.logger.With("operation", "tickLoop")
	tickLogger.Debug("Tick loop started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			tickLogger.Debug("Tick loop stopped")
			return
		case <-ticker.C:
			s.tick(ctx, tickLogger)
			if next := s.completer.GetCurrentConfig().TickInterval; next != interval {
				interval = next
				ticker.Reset(interval)
				tickLogger.Info("Tick interval changed", "interval", interval)
			}
		}
	}
}

// tick consumes one pending update. Imports applied automatically go to the client as
// a workspace edit; the rest are published as diagnostics with quick fixes.
func (s *Server) tick(ctx context.Context, logger *slog.Logger) {
	var snapshot *OpenFile
	var working *TextBuffer
	resolve := func(path string) LineBuffer {
		f, ok := s.fileByPath(path)
		if !ok {
			return nil
		}
		snapshot = f
		if !s.supportsApplyEdit() {
			// Nothing can be applied; every fix stays pending.
			return nil
		}
		working = f.Buffer.Clone()
		return working
	}

	result, ok := s.completer.Tick(resolve)
	if !ok {
		return
	}
	if snapshot == nil {
		if f, found := s.fileByPath(result.Path); found {
			snapshot = f
		} else {
			logger.Debug("Tick result for a file that is no longer open", "path", result.Path)
			return
		}
	}

	if len(result.Applied) > 0 {
		edits := importEdits(result.Applied, snapshot.Buffer.Len(), logger)
		if err := s.applyEdit(ctx, snapshot.URI, edits, "Add imports"); err != nil {
			logger.Warn("Client did not apply import edit", "uri", snapshot.URI, "error", err)
		} else {
			logger.Info("Applied imports", "uri", snapshot.URI, "count", len(result.Applied))
		}
	}

	// Pending fix lines refer to the buffer after the applied imports.
	var lineSource LineBuffer = snapshot.Buffer
	if working != nil {
		lineSource = working
	}
	version := snapshot.Version
	s.publishDiagnostics(snapshot.URI, &version, fixDiagnostics(result.Pending, lineSource, logger))
}

// applyEdit asks the client to apply edits to uri.
func (s *Server) applyEdit(ctx context.Context, uri DocumentURI, edits []TextEdit, label string) error {
	if s.conn == nil {
		return errors.New("connection is nil")
	}
	if len(edits) == 0 {
		return nil
	}
	params := ApplyWorkspaceEditParams{
		Label: label,
		Edit:  WorkspaceEdit{Changes: map[DocumentURI][]TextEdit{uri: edits}},
	}
	var result ApplyWorkspaceEditResult
	if err := s.conn.Call(ctx, "workspace/applyEdit", params, &result); err != nil {
		return errors.Wrap(err, "workspace/applyEdit")
	}
	if !result.Applied {
		return errors.Newf("edit rejected: %s", result.FailureReason)
	}
	return nil
}

// ============================================================================
// LSP Notification Sending Helpers
// ============================================================================

func (s *Server) sendShowMessage(msgType MessageType, message string) {
	if s.conn == nil {
		s.logger.Warn("Cannot send showMessage: connection is nil")
		return
	}
	params := ShowMessageParams{Type: msgType, Message: message}
	if err := s.conn.Notify(context.Background(), "window/showMessage", params); err != nil {
		s.logger.Error("Failed to send window/showMessage notification", "error", err, "message_type", msgType)
	} else {
		s.logger.Debug("Sent window/showMessage notification", "message_type", msgType)
	}
}

// warnServiceDown tells the user the analysis service is unreachable, at most once
// per serviceWarnInterval.
func (s *Server) warnServiceDown(err error) {
	now := time.Now().UnixNano()
	last := s.lastServiceWarn.Load()
	if last != 0 && time.Duration(now-last) < serviceWarnInterval {
		return
	}
	if !s.lastServiceWarn.CompareAndSwap(last, now) {
		return
	}
	url := s.completer.GetCurrentConfig().ServiceURL
	s.sendShowMessage(MessageTypeWarning, fmt.Sprintf("Java analysis service at %s is not reachable: %v", url, err))
}

func (s *Server) publishDiagnostics(uri DocumentURI, version *int, diagnostics []LspDiagnostic) {
	if s.conn == nil {
		s.logger.Warn("Cannot publish diagnostics: connection is nil", "uri", uri)
		return
	}
	if diagnostics == nil {
		diagnostics = []LspDiagnostic{}
	}
	params := PublishDiagnosticsParams{
		URI:         uri,
		Version:     version,
		Diagnostics: diagnostics,
	}
	if err := s.conn.Notify(context.Background(), "textDocument/publishDiagnostics", params); err != nil {
		s.logger.Error("Failed to send textDocument/publishDiagnostics notification", "error", err, "uri", uri, "diagnostic_count", len(diagnostics))
	} else {
		s.logger.Debug("Published diagnostics", "uri", uri, "diagnostic_count", len(diagnostics))
	}
}

// ============================================================================
// Metrics Publishing
// ============================================================================

var (
	metricsOnce   sync.Once
	metricsServer atomic.Pointer[Server]
)

// publishExpvarMetrics points the expvar metrics at s. The variables are registered
// once per process; later servers replace the one they read from.
func publishExpvarMetrics(s *Server) {
	metricsServer.Store(s)
	metricsOnce.Do(func() {
		startTime := time.Now()
		expvar.NewString("serverStartTime").Set(startTime.Format(time.RFC3339))
		expvar.Publish("serverInfo", expvar.Func(func() any {
			if srv := metricsServer.Load(); srv != nil {
				return srv.serverInfo
			}
			return nil
		}))
		expvar.Publish("goroutines", expvar.Func(func() any { return runtime.NumGoroutine() }))
		expvar.Publish("memory.allocBytes", expvar.Func(func() any {
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			return m.Alloc
		}))
		expvar.Publish("lsp.openFiles", expvar.Func(func() any {
			srv := metricsServer.Load()
			if srv == nil {
				return 0
			}
			srv.filesMu.RLock()
			defer srv.filesMu.RUnlock()
			return len(srv.files)
		}))
		expvar.Publish("lsp.pendingRequests", expvar.Func(func() any {
			if srv := metricsServer.Load(); srv != nil {
				return srv.requestTracker.Count()
			}
			return 0
		}))
		expvar.Publish("completion.cache", expvar.Func(func() any {
			srv := metricsServer.Load()
			if srv == nil || srv.completer == nil {
				return nil
			}
			c := srv.completer.Completions()
			return map[string]int64{"hits": c.Hits(), "misses": c.Misses()}
		}))
		expvar.Publish("updates.overwritten", expvar.Func(func() any {
			if srv := metricsServer.Load(); srv != nil && srv.completer != nil {
				return srv.completer.PendingOverwrites()
			}
			return 0
		}))
		expvar.Publish("cache.lookup", expvar.Func(func() any {
			srv := metricsServer.Load()
			if srv == nil || srv.completer == nil {
				return nil
			}
			m := srv.completer.Lookups().Metrics()
			if m == nil {
				return map[string]uint64{}
			}
			return map[string]uint64{
				"hits":        m.Hits(),
				"misses":      m.Misses(),
				"costAdded":   m.CostAdded(),
				"costEvicted": m.CostEvicted(),
				"keysAdded":   m.KeysAdded(),
				"keysEvicted": m.KeysEvicted(),
			}
		}))
	})
	s.logger.Info("Expvar metrics published")
}

// ============================================================================
// Request Cancellation Tracker
// ============================================================================

// RequestTracker manages cancellation contexts for ongoing LSP requests.
type RequestTracker struct {
	mu       sync.Mutex
	requests map[jsonrpc2.ID]context.CancelFunc
}

// NewRequestTracker creates a new tracker.
func NewRequestTracker() *RequestTracker {
	return &RequestTracker{
		requests: make(map[jsonrpc2.ID]context.CancelFunc),
	}
}

// Add registers id and returns a context that $/cancelRequest cancels, plus the
// function that deregisters it.
func (rt *RequestTracker) Add(id jsonrpc2.ID, ctx context.Context) (context.Context, func()) {
	reqCtx, cancel := context.WithCancel(ctx)
	rt.mu.Lock()
	rt.requests[id] = cancel
	rt.mu.Unlock()
	return reqCtx, func() {
		rt.Remove(id)
		cancel()
	}
}

// Remove deregisters a request ID.
func (rt *RequestTracker) Remove(id jsonrpc2.ID) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.requests, id)
}

// Cancel finds the cancel function for a request ID and calls it.
func (rt *RequestTracker) Cancel(id jsonrpc2.ID) {
	rt.mu.Lock()
	cancel, found := rt.requests[id]
	if found {
		delete(rt.requests, id)
	}
	rt.mu.Unlock()

	if found {
		cancel()
		slog.Debug("Cancelled request", "id", id)
	} else {
		slog.Debug("Cancel request for unknown or completed ID", "id", id)
	}
}

// Count returns the number of requests in flight.
func (rt *RequestTracker) Count() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.requests)
}
