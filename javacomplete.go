// javacomplete.go
// Package javacomplete provides the editor-side client of a Java analysis service:
// context window extraction, completion caching, import insertion and the RPC calls
// that tie them together.
package javacomplete

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

// =============================================================================
// Configuration Loading
// =============================================================================

// LoadConfig loads configuration from standard locations, merges with defaults,
// validates, and attempts to write a default config if needed.
func LoadConfig(logger *slog.Logger) (Config, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := getDefaultConfig()
	var loadedFromFile bool
	var loadErrors error
	var configParseError error

	primaryPath, secondaryPath, pathErr := GetConfigPaths(logger)
	if pathErr != nil {
		loadErrors = errors.CombineErrors(loadErrors, pathErr)
		logger.Warn("Could not determine config paths, using defaults", "error", pathErr)
	}

	if primaryPath != "" {
		logger.Debug("Attempting to load config", "path", primaryPath)
		loaded, loadErr := LoadAndMergeConfig(primaryPath, &cfg, logger)
		if loadErr != nil {
			if errors.Is(loadErr, errConfigParse) {
				configParseError = loadErr
			}
			loadErrors = errors.CombineErrors(loadErrors, errors.Wrapf(loadErr, "loading %s failed", primaryPath))
			logger.Warn("Failed to load or merge config", "path", primaryPath, "error", loadErr)
		} else if loaded {
			loadedFromFile = true
			logger.Info("Loaded config", "path", primaryPath)
		}
	}

	primaryNotFoundOrFailed := !loadedFromFile || configParseError != nil
	if primaryNotFoundOrFailed && secondaryPath != "" && secondaryPath != primaryPath {
		logger.Debug("Attempting to load config from secondary path", "path", secondaryPath)
		loaded, loadErr := LoadAndMergeConfig(secondaryPath, &cfg, logger)
		if loadErr != nil {
			if configParseError == nil && errors.Is(loadErr, errConfigParse) {
				configParseError = loadErr
			}
			loadErrors = errors.CombineErrors(loadErrors, errors.Wrapf(loadErr, "loading %s failed", secondaryPath))
			logger.Warn("Failed to load or merge config", "path", secondaryPath, "error", loadErr)
		} else if loaded && !loadedFromFile {
			loadedFromFile = true
			logger.Info("Loaded config", "path", secondaryPath)
		}
	}

	loadSucceeded := loadedFromFile && configParseError == nil
	if !loadSucceeded {
		writePath := primaryPath
		if writePath == "" {
			writePath = secondaryPath
		}

		if writePath != "" {
			if configParseError != nil {
				logger.Warn("Existing config file failed to parse. Attempting to write default.", "path", writePath, "error", configParseError)
			} else {
				logger.Info("No valid config file found. Attempting to write default.", "path", writePath)
			}
			if err := WriteDefaultConfig(writePath, getDefaultConfig(), logger); err != nil {
				logger.Warn("Failed to write default config", "path", writePath, "error", err)
				loadErrors = errors.CombineErrors(loadErrors, errors.Wrap(err, "writing default config failed"))
			}
		} else {
			logger.Warn("Cannot determine path to write default config.")
			loadErrors = errors.CombineErrors(loadErrors, errors.New("cannot determine default config path"))
		}
		cfg = getDefaultConfig()
		logger.Info("Using default configuration values.")
	}

	finalCfg := cfg
	if err := finalCfg.Validate(logger); err != nil {
		logger.Error("Final configuration is invalid, falling back to pure defaults.", "error", err)
		loadErrors = errors.CombineErrors(loadErrors, errors.Wrap(err, "post-load config validation failed"))
		pureDefault := getDefaultConfig()
		if valErr := pureDefault.Validate(logger); valErr != nil {
			logger.Error("FATAL: Default config definition is invalid", "error", valErr)
			return pureDefault, errors.Wrap(valErr, "default config definition is invalid")
		}
		finalCfg = pureDefault
	}

	if loadErrors != nil {
		return finalCfg, errors.Mark(loadErrors, ErrConfig)
	}
	return finalCfg, nil
}

// =============================================================================
// Pending Update Slot
// =============================================================================

// updateSlot hands the newest "update" result from background calls to the tick.
// It holds at most one result; a newer result replaces an unconsumed one.
type updateSlot struct {
	ch         chan UpdateResult
	overwrites atomic.Int64
}

func newUpdateSlot() *updateSlot {
	return &updateSlot{ch: make(chan UpdateResult, 1)}
}

// Put stores r, discarding any result the tick has not consumed yet.
func (s *updateSlot) Put(r UpdateResult) {
	for {
		select {
		case s.ch <- r:
			return
		default:
		}
		select {
		case <-s.ch:
			s.overwrites.Add(1)
		default:
		}
	}
}

// TryTake returns the stored result without blocking.
func (s *updateSlot) TryTake() (UpdateResult, bool) {
	select {
	case r := <-s.ch:
		return r, true
	default:
		return UpdateResult{}, false
	}
}

// =============================================================================
// JavaCompleter Service
// =============================================================================

// BufferRequest identifies the buffer and cursor an operation works on.
type BufferRequest struct {
	Path     string
	Buffer   LineBuffer
	Cursor   CursorPosition
	EditMode bool // The cursor sits after the character typed last; the column is sent +1.
}

// BufferResolver returns the live buffer for path, or nil when it is no longer open.
type BufferResolver func(path string) LineBuffer

// JavaCompleter orchestrates context extraction, the analysis service and the
// completion and import helpers.
type JavaCompleter struct {
	client      AnalysisClient
	finder      EnclosingScopeFinder
	completions *CompletionCache
	lookups     *LookupCache
	updates     *updateSlot

	historyMu sync.Mutex
	history   *ImportHistory

	implMu          sync.Mutex
	implementations map[string]MethodSignature // From the last implement request, consumed by ExpandImplementation.

	config   Config
	configMu sync.RWMutex
	logger   *slog.Logger
}

// NewJavaCompleter creates a new JavaCompleter service instance from the
// configuration files on disk.
func NewJavaCompleter(logger *slog.Logger) (*JavaCompleter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	serviceLogger := logger.With("service", "JavaCompleter")

	cfg, configErr := LoadConfig(serviceLogger)
	if configErr != nil && !errors.Is(configErr, ErrConfig) {
		serviceLogger.Error("Fatal error during initial config load", "error", configErr)
		return nil, configErr
	}
	if err := cfg.Validate(serviceLogger); err != nil {
		serviceLogger.Error("Initial configuration is invalid after loading/defaults", "error", err)
		return nil, errors.Wrap(err, "initial config validation failed")
	}

	jc := newJavaCompleter(cfg, NewHTTPAnalysisClient(cfg, serviceLogger), serviceLogger)
	if configErr != nil {
		return jc, configErr
	}
	return jc, nil
}

// NewJavaCompleterWithConfig creates a new JavaCompleter service with a specific config.
func NewJavaCompleterWithConfig(config Config, logger *slog.Logger) (*JavaCompleter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	serviceLogger := logger.With("service", "JavaCompleter")
	if err := config.Validate(serviceLogger); err != nil {
		return nil, errors.Wrap(err, "provided config validation failed")
	}
	return newJavaCompleter(config, NewHTTPAnalysisClient(config, serviceLogger), serviceLogger), nil
}

func newJavaCompleter(cfg Config, client AnalysisClient, logger *slog.Logger) *JavaCompleter {
	jc := &JavaCompleter{
		client:      client,
		finder:      BraceScopeFinder{},
		completions: NewCompletionCache(),
		lookups:     NewLookupCache(logger),
		updates:     newUpdateSlot(),
		config:      cfg,
		logger:      logger,
	}
	jc.syncHistory(cfg)
	return jc
}

// syncHistory opens or closes the import history to match cfg.
func (jc *JavaCompleter) syncHistory(cfg Config) {
	jc.historyMu.Lock()
	defer jc.historyMu.Unlock()

	if !cfg.ImportHistory {
		if jc.history != nil {
			if err := jc.history.Close(); err != nil {
				jc.logger.Warn("Error closing import history", "error", err)
			}
			jc.history = nil
		}
		return
	}

	path := cfg.HistoryPath
	if path == "" {
		defaultPath, err := DefaultHistoryPath()
		if err != nil {
			jc.logger.Warn("Import history disabled: no history path", "error", err)
			return
		}
		path = defaultPath
	}
	if jc.history != nil {
		if jc.history.path == path {
			return
		}
		_ = jc.history.Close()
		jc.history = nil
	}
	history, err := OpenImportHistory(path, jc.logger)
	if err != nil {
		jc.logger.Warn("Import history disabled: could not open store", "path", path, "error", err)
		return
	}
	jc.history = history
}

func (jc *JavaCompleter) importHistory() *ImportHistory {
	jc.historyMu.Lock()
	defer jc.historyMu.Unlock()
	return jc.history
}

// Close cleans up resources used by the JavaCompleter.
func (jc *JavaCompleter) Close() error {
	jc.logger.Info("Closing JavaCompleter service")
	var closeErr error
	if jc.client != nil {
		closeErr = errors.CombineErrors(closeErr, jc.client.Close())
	}
	jc.lookups.Close()
	jc.historyMu.Lock()
	closeErr = errors.CombineErrors(closeErr, jc.history.Close())
	jc.history = nil
	jc.historyMu.Unlock()
	return closeErr
}

// UpdateConfig atomically updates the completer's configuration.
func (jc *JavaCompleter) UpdateConfig(newConfig Config) error {
	if err := newConfig.Validate(jc.logger); err != nil {
		jc.logger.Error("Invalid configuration provided for update", "error", err)
		return errors.Wrap(err, "invalid configuration update")
	}

	jc.configMu.Lock()
	jc.config = newConfig
	jc.configMu.Unlock()

	if jc.client != nil {
		jc.client.UpdateConfig(newConfig)
	}
	jc.syncHistory(newConfig)
	jc.lookups.Clear()

	jc.logger.Info("JavaCompleter configuration updated",
		slog.Group("new_config",
			slog.String("service_url", newConfig.ServiceURL),
			slog.String("log_level", newConfig.LogLevel),
			slog.Int("sync_timeout_ms", newConfig.SyncTimeoutMillis),
			slog.Int("async_timeout_ms", newConfig.AsyncTimeoutMillis),
			slog.Int("max_full_buffer_lines", newConfig.MaxFullBufferLines),
			slog.Int("prev_span", newConfig.PrevSpan),
			slog.Int("next_span", newConfig.NextSpan),
			slog.Bool("auto_import", newConfig.AutoImport),
			slog.Bool("import_history", newConfig.ImportHistory),
		),
	)
	return nil
}

// GetCurrentConfig returns a thread-safe copy of the current configuration.
func (jc *JavaCompleter) GetCurrentConfig() Config {
	jc.configMu.RLock()
	defer jc.configMu.RUnlock()
	return jc.config
}

// Completions returns the per-buffer completion cache.
func (jc *JavaCompleter) Completions() *CompletionCache {
	return jc.completions
}

// Lookups returns the definition/documentation cache.
func (jc *JavaCompleter) Lookups() *LookupCache {
	return jc.lookups
}

// PendingOverwrites returns how many update results were replaced before a tick
// consumed them.
func (jc *JavaCompleter) PendingOverwrites() int64 {
	return jc.updates.overwrites.Load()
}

// BuildRequest extracts the context window around req.Cursor and assembles the
// request envelope.
func (jc *JavaCompleter) BuildRequest(req BufferRequest) (Request, error) {
	if req.Buffer == nil {
		return Request{}, errors.Mark(ErrNilBuffer, ErrRequestBuild)
	}
	if req.Cursor.Row < 1 || req.Cursor.Row > req.Buffer.Len() || req.Cursor.Column < 0 {
		return Request{}, errors.Mark(errors.Wrapf(ErrPositionOutOfRange, "cursor %s in %d-line buffer", req.Cursor, req.Buffer.Len()), ErrRequestBuild)
	}
	cfg := jc.GetCurrentConfig()
	extractor := ContextExtractor{Finder: jc.finder, Options: cfg.ExtractOptions()}
	window := extractor.Extract(req.Buffer, req.Cursor)

	col := req.Cursor.Column
	if req.EditMode {
		col++
	}
	return Request{
		Path:   req.Path,
		Pos:    [2]int{req.Cursor.Row, col},
		Buffer: window,
	}, nil
}

// Complete returns member/type completions at the cursor. A list computed for the
// same token is reused while the cache validator accepts the cursor. When the
// service fails or has nothing to offer, the error carries ErrFallback.
func (jc *JavaCompleter) Complete(ctx context.Context, req BufferRequest) (CompletionResult, error) {
	opLogger := jc.logger.With("operation", "Complete", "path", req.Path, "cursor", req.Cursor.String())
	if req.Buffer == nil {
		return CompletionResult{}, errors.Mark(ErrNilBuffer, ErrFallback)
	}

	var line string
	if req.Cursor.Row >= 1 && req.Cursor.Row <= req.Buffer.Len() {
		line = req.Buffer.Line(req.Cursor.Row - 1)
	}
	if cached, ok := jc.completions.Lookup(req.Path, req.Cursor, line); ok {
		opLogger.Debug("Completion served from cache", "items", len(cached.Items))
		return cached, nil
	}

	parsed, err := jc.fetchCompletions(ctx, EndpointSuggest, req, opLogger)
	if err != nil {
		jc.completions.Clear(req.Path)
		opLogger.Warn("Completion request failed", "kind", ClassifyError(err).String(), "error", err)
		return CompletionResult{}, errors.Mark(err, ErrFallback)
	}
	if len(parsed.Result.Items) == 0 {
		jc.completions.Clear(req.Path)
		opLogger.Debug("Service returned no completions")
		return parsed.Result, ErrFallback
	}

	if entry, ok := NewCompletionCacheEntry(req.Cursor.Row, parsed.Result.Start, parsed.Result.End, line); ok && parsed.HasSpan {
		jc.completions.Store(req.Path, entry, parsed.Result)
	} else {
		jc.completions.Clear(req.Path)
		opLogger.Debug("Completion span does not fit the cursor line, not caching", "start", parsed.Result.Start, "end", parsed.Result.End)
	}
	opLogger.Info("Completion successful", "items", len(parsed.Result.Items), "skipped", parsed.Result.Skipped)
	return parsed.Result, nil
}

func (jc *JavaCompleter) fetchCompletions(ctx context.Context, endpoint Endpoint, req BufferRequest, logger *slog.Logger) (parsedCompletion, error) {
	envelope, err := jc.BuildRequest(req)
	if err != nil {
		return parsedCompletion{}, err
	}
	body, err := jc.client.Call(ctx, endpoint, envelope)
	if err != nil {
		return parsedCompletion{}, err
	}
	return parseCompletionResponse(string(endpoint), body, logger)
}

// FetchImplementations lists the methods that could be implemented or overridden at
// the cursor. The returned words can be expanded with ExpandImplementation.
func (jc *JavaCompleter) FetchImplementations(ctx context.Context, req BufferRequest) (CompletionResult, error) {
	opLogger := jc.logger.With("operation", "FetchImplementations", "path", req.Path, "cursor", req.Cursor.String())
	parsed, err := jc.fetchCompletions(ctx, EndpointImplement, req, opLogger)
	if err != nil {
		opLogger.Warn("Implement request failed", "kind", ClassifyError(err).String(), "error", err)
		return CompletionResult{}, err
	}

	methods := make(map[string]MethodSignature, len(parsed.Methods))
	for _, m := range parsed.Methods {
		if _, dup := methods[m.Name]; !dup {
			methods[m.Name] = m
		}
	}
	jc.implMu.Lock()
	jc.implementations = methods
	jc.implMu.Unlock()

	opLogger.Info("Implementations fetched", "methods", len(methods))
	return parsed.Result, nil
}

// ExpandImplementation returns the @Override snippet for a word chosen from the last
// FetchImplementations result. The stored list is consumed either way.
func (jc *JavaCompleter) ExpandImplementation(word string) (string, bool) {
	jc.implMu.Lock()
	methods := jc.implementations
	jc.implementations = nil
	jc.implMu.Unlock()

	m, ok := methods[word]
	if !ok {
		return "", false
	}
	return BuildImplementationSnippet(m), true
}

// Define resolves the declaration of the symbol at the cursor.
func (jc *JavaCompleter) Define(ctx context.Context, req BufferRequest) (Definition, error) {
	opLogger := jc.logger.With("operation", "Define", "path", req.Path, "cursor", req.Cursor.String())
	envelope, err := jc.BuildRequest(req)
	if err != nil {
		return Definition{}, err
	}
	def, cached, err := withMemoryCache(jc.lookups, generateCacheKey(string(EndpointDefine), envelope), jc.GetCurrentConfig().LookupCacheTTL,
		func() (Definition, error) {
			body, callErr := jc.client.Call(ctx, EndpointDefine, envelope)
			if callErr != nil {
				return Definition{}, callErr
			}
			return parseDefineResponse(body, req.Path)
		}, opLogger)
	if err != nil {
		opLogger.Warn("Define request failed", "kind", ClassifyError(err).String(), "error", err)
		return Definition{}, err
	}
	opLogger.Debug("Definition resolved", "target", def.Path, "line", def.Line, "cached", cached)
	return def, nil
}

// Document returns the documentation of the symbol at the cursor.
func (jc *JavaCompleter) Document(ctx context.Context, req BufferRequest) (Documentation, error) {
	opLogger := jc.logger.With("operation", "Document", "path", req.Path, "cursor", req.Cursor.String())
	envelope, err := jc.BuildRequest(req)
	if err != nil {
		return Documentation{}, err
	}
	doc, cached, err := withMemoryCache(jc.lookups, generateCacheKey(string(EndpointDocument), envelope), jc.GetCurrentConfig().LookupCacheTTL,
		func() (Documentation, error) {
			body, callErr := jc.client.Call(ctx, EndpointDocument, envelope)
			if callErr != nil {
				return Documentation{}, callErr
			}
			return parseDocumentResponse(body)
		}, opLogger)
	if err != nil {
		opLogger.Warn("Document request failed", "kind", ClassifyError(err).String(), "error", err)
		return Documentation{}, err
	}
	opLogger.Debug("Documentation resolved", "name", doc.Name, "cached", cached)
	return doc, nil
}

// InitBuffer tells the service a buffer was opened. It does not wait for the reply.
func (jc *JavaCompleter) InitBuffer(req BufferRequest) error {
	envelope, err := jc.BuildRequest(req)
	if err != nil {
		return err
	}
	jc.client.Notify(EndpointInit, envelope, nil)
	return nil
}

// UpdateBuffer sends the buffer to the service in the background. Unresolved symbols
// in the reply are left for the next Tick; only the newest reply is kept.
func (jc *JavaCompleter) UpdateBuffer(req BufferRequest) error {
	envelope, err := jc.BuildRequest(req)
	if err != nil {
		return err
	}
	jc.lookups.Clear()
	path := req.Path
	jc.client.Notify(EndpointUpdate, envelope, func(body []byte) {
		missing, perr := parseUpdateResponse(body, jc.logger)
		if perr != nil {
			jc.logger.Debug("Discarding unreadable update response", "path", path, "error", perr)
			return
		}
		jc.updates.Put(UpdateResult{Path: path, Missing: missing, ReceivedAt: time.Now()})
	})
	return nil
}

// Log forwards message to the service log in the background.
func (jc *JavaCompleter) Log(message string) {
	message = strings.TrimRight(message, "\n")
	if message == "" {
		return
	}
	jc.client.Notify(EndpointLog, logPayload{Data: message}, nil)
}

// Tick consumes the pending update result, if any, and applies the import fixes that
// need no decision to the buffer resolve returns for its path. ok is false when no
// result was pending.
func (jc *JavaCompleter) Tick(resolve BufferResolver) (result TickResult, ok bool) {
	update, ok := jc.updates.TryTake()
	if !ok {
		return TickResult{}, false
	}
	opLogger := jc.logger.With("operation", "Tick", "path", update.Path)
	history := jc.importHistory()
	fixes := BuildPendingFixes(update.Missing, history)
	result.Path = update.Path

	var buf LineBuffer
	if resolve != nil {
		buf = resolve(update.Path)
	}
	if buf == nil {
		opLogger.Debug("Buffer is no longer open, keeping fixes pending", "fixes", len(fixes))
		result.Pending = fixes
		return result, true
	}

	applied, pending, err := ApplyImportFixes(buf, fixes, jc.GetCurrentConfig().AutoImport, history, opLogger)
	if err != nil {
		opLogger.Warn("Applying import fixes failed", "error", err)
		result.Pending = fixes
		return result, true
	}
	if len(applied) > 0 {
		jc.completions.Clear(update.Path)
	}
	result.Applied = applied
	result.Pending = pending
	opLogger.Debug("Tick processed update", "missing", len(update.Missing), "applied", len(applied), "pending", len(pending), "age", time.Since(update.ReceivedAt))
	return result, true
}

// AcceptFix inserts the candidate import at choice for fix and, when import history is
// enabled, remembers it. It returns the applied import and the number of lines
// inserted (0 if the import was already present).
func (jc *JavaCompleter) AcceptFix(buf LineBuffer, fix PendingFix, choice int) (AppliedImport, int, error) {
	if choice < 0 || choice >= len(fix.CandidateImports) {
		return AppliedImport{}, 0, errors.Newf("choice %d out of range for %d candidates", choice, len(fix.CandidateImports))
	}
	path := fix.CandidateImports[choice]
	index, inserted, err := insertImportAt(buf, path)
	if err != nil {
		return AppliedImport{}, 0, err
	}
	if err := jc.importHistory().Record(fix.Symbol, path); err != nil {
		jc.logger.Warn("Failed to record import choice", "symbol", fix.Symbol, "import", path, "error", err)
	}
	return AppliedImport{Symbol: fix.Symbol, Path: path, Index: index}, inserted, nil
}

// RememberImport records that path was chosen for symbol. It is a no-op when import
// history is disabled.
func (jc *JavaCompleter) RememberImport(symbol, path string) error {
	if symbol == "" || path == "" {
		return errors.Newf("symbol and import path are required (got %q, %q)", symbol, path)
	}
	return jc.importHistory().Record(symbol, path)
}
