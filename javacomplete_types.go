// javacomplete_types.go
// Contains core type definitions used throughout the javacomplete package.
package javacomplete

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// =============================================================================
// Configuration Types & Constants
// =============================================================================

const (
	defaultServiceURL          = "http://127.0.0.1:3000"
	defaultLogLevel            = "info"
	defaultSyncTimeoutMillis   = 1000 // Completion, definition, documentation.
	defaultAsyncTimeoutMillis  = 5000 // init, update, log.
	defaultMaxFullBufferLines  = 1000
	defaultPrevSpan            = 100
	defaultNextSpan            = 25
	defaultTickIntervalMillis  = 250
	defaultAsyncRatePerSecond  = 20.0
	defaultAsyncBurst          = 5
	defaultLookupCacheTTLSecs  = 30
	defaultConfigFileName      = "config.json"
	configDirName              = "javacomplete"
	defaultHistoryFileName     = "import_history.db"
	importHistorySchemaVersion = 1
)

// Config holds the active configuration for the completion client.
type Config struct {
	ServiceURL            string  `json:"service_url"`
	LogLevel              string  `json:"log_level"` // debug, info, warn, error
	SyncTimeoutMillis     int     `json:"sync_timeout_ms"`
	AsyncTimeoutMillis    int     `json:"async_timeout_ms"`
	MaxFullBufferLines    int     `json:"max_full_buffer_lines"` // Buffers shorter than this are sent whole.
	PrevSpan              int     `json:"prev_span"`             // Lines scanned above the cursor for a scope start.
	NextSpan              int     `json:"next_span"`             // Lines sent below the cursor.
	TickIntervalMillis    int     `json:"tick_interval_ms"`
	AsyncRatePerSecond    float64 `json:"async_rate_per_sec"`
	AsyncBurst            int     `json:"async_burst"`
	LookupCacheTTLSeconds int     `json:"lookup_cache_ttl_seconds"`
	AutoImport            bool    `json:"auto_import"`    // Apply single-candidate fixes during the tick.
	ImportHistory         bool    `json:"import_history"` // Persist accepted imports with bbolt.
	HistoryPath           string  `json:"history_path"`   // Empty selects the user cache dir.

	SyncTimeout    time.Duration `json:"-"`
	AsyncTimeout   time.Duration `json:"-"`
	TickInterval   time.Duration `json:"-"`
	LookupCacheTTL time.Duration `json:"-"`
}

// FileConfig represents the structure of the JSON config file for unmarshalling.
// Uses pointers to distinguish between unset fields and zero-value fields.
type FileConfig struct {
	ServiceURL            *string  `json:"service_url"`
	LogLevel              *string  `json:"log_level"`
	SyncTimeoutMillis     *int     `json:"sync_timeout_ms"`
	AsyncTimeoutMillis    *int     `json:"async_timeout_ms"`
	MaxFullBufferLines    *int     `json:"max_full_buffer_lines"`
	PrevSpan              *int     `json:"prev_span"`
	NextSpan              *int     `json:"next_span"`
	TickIntervalMillis    *int     `json:"tick_interval_ms"`
	AsyncRatePerSecond    *float64 `json:"async_rate_per_sec"`
	AsyncBurst            *int     `json:"async_burst"`
	LookupCacheTTLSeconds *int     `json:"lookup_cache_ttl_seconds"`
	AutoImport            *bool    `json:"auto_import"`
	ImportHistory         *bool    `json:"import_history"`
	HistoryPath           *string  `json:"history_path"`
}

// Apply merges every field set in fc into cfg and reports how many were merged.
func (fc FileConfig) Apply(cfg *Config) int {
	merged := 0
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
			merged++
		}
	}
	setInt := func(dst *int, src *int) {
		if src != nil {
			*dst = *src
			merged++
		}
	}
	setBool := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
			merged++
		}
	}
	setString(&cfg.ServiceURL, fc.ServiceURL)
	setString(&cfg.LogLevel, fc.LogLevel)
	setInt(&cfg.SyncTimeoutMillis, fc.SyncTimeoutMillis)
	setInt(&cfg.AsyncTimeoutMillis, fc.AsyncTimeoutMillis)
	setInt(&cfg.MaxFullBufferLines, fc.MaxFullBufferLines)
	setInt(&cfg.PrevSpan, fc.PrevSpan)
	setInt(&cfg.NextSpan, fc.NextSpan)
	setInt(&cfg.TickIntervalMillis, fc.TickIntervalMillis)
	if fc.AsyncRatePerSecond != nil {
		cfg.AsyncRatePerSecond = *fc.AsyncRatePerSecond
		merged++
	}
	setInt(&cfg.AsyncBurst, fc.AsyncBurst)
	setInt(&cfg.LookupCacheTTLSeconds, fc.LookupCacheTTLSeconds)
	setBool(&cfg.AutoImport, fc.AutoImport)
	setBool(&cfg.ImportHistory, fc.ImportHistory)
	setString(&cfg.HistoryPath, fc.HistoryPath)
	return merged
}

// getDefaultConfig returns a new instance of the default configuration.
func getDefaultConfig() Config {
	cfg := Config{
		ServiceURL:            defaultServiceURL,
		LogLevel:              defaultLogLevel,
		SyncTimeoutMillis:     defaultSyncTimeoutMillis,
		AsyncTimeoutMillis:    defaultAsyncTimeoutMillis,
		MaxFullBufferLines:    defaultMaxFullBufferLines,
		PrevSpan:              defaultPrevSpan,
		NextSpan:              defaultNextSpan,
		TickIntervalMillis:    defaultTickIntervalMillis,
		AsyncRatePerSecond:    defaultAsyncRatePerSecond,
		AsyncBurst:            defaultAsyncBurst,
		LookupCacheTTLSeconds: defaultLookupCacheTTLSecs,
		AutoImport:            true,
		ImportHistory:         false,
	}
	cfg.deriveDurations()
	return cfg
}

func (c *Config) deriveDurations() {
	c.SyncTimeout = time.Duration(c.SyncTimeoutMillis) * time.Millisecond
	c.AsyncTimeout = time.Duration(c.AsyncTimeoutMillis) * time.Millisecond
	c.TickInterval = time.Duration(c.TickIntervalMillis) * time.Millisecond
	c.LookupCacheTTL = time.Duration(c.LookupCacheTTLSeconds) * time.Second
}

// Validate checks if configuration values are valid, applying defaults for some fields.
func (c *Config) Validate(logger *slog.Logger) error {
	var validationErr error
	if logger == nil {
		logger = slog.Default()
	}
	def := getDefaultConfig()

	if strings.TrimSpace(c.ServiceURL) == "" {
		validationErr = errors.CombineErrors(validationErr, errors.New("service_url cannot be empty"))
	} else {
		parsedURL, err := url.ParseRequestURI(c.ServiceURL)
		if err != nil {
			validationErr = errors.CombineErrors(validationErr, errors.Wrap(err, "invalid service_url format"))
		} else if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
			validationErr = errors.CombineErrors(validationErr, errors.Newf("invalid service_url scheme '%s', must be http or https", parsedURL.Scheme))
		}
	}

	positive := []struct {
		name  string
		value *int
		def   int
	}{
		{"sync_timeout_ms", &c.SyncTimeoutMillis, def.SyncTimeoutMillis},
		{"async_timeout_ms", &c.AsyncTimeoutMillis, def.AsyncTimeoutMillis},
		{"max_full_buffer_lines", &c.MaxFullBufferLines, def.MaxFullBufferLines},
		{"prev_span", &c.PrevSpan, def.PrevSpan},
		{"next_span", &c.NextSpan, def.NextSpan},
		{"tick_interval_ms", &c.TickIntervalMillis, def.TickIntervalMillis},
		{"async_burst", &c.AsyncBurst, def.AsyncBurst},
		{"lookup_cache_ttl_seconds", &c.LookupCacheTTLSeconds, def.LookupCacheTTLSeconds},
	}
	for _, field := range positive {
		if *field.value <= 0 {
			logger.Warn("Config validation: value is not positive, applying default.", "field", field.name, "configured_value", *field.value, "default", field.def)
			*field.value = field.def
		}
	}
	if c.AsyncRatePerSecond <= 0 {
		logger.Warn("Config validation: async_rate_per_sec is not positive, applying default.", "configured_value", c.AsyncRatePerSecond, "default", def.AsyncRatePerSecond)
		c.AsyncRatePerSecond = def.AsyncRatePerSecond
	}
	if c.AsyncTimeoutMillis < c.SyncTimeoutMillis {
		logger.Warn("Config validation: async_timeout_ms is shorter than sync_timeout_ms.", "async_timeout_ms", c.AsyncTimeoutMillis, "sync_timeout_ms", c.SyncTimeoutMillis)
	}

	if c.LogLevel == "" {
		logger.Warn("Config validation: log_level is empty, applying default.", "default", defaultLogLevel)
		c.LogLevel = defaultLogLevel
	} else if _, err := ParseLogLevel(c.LogLevel); err != nil {
		logger.Warn("Config validation: Invalid log_level found, applying default.", "configured_value", c.LogLevel, "default", defaultLogLevel, "error", err)
		validationErr = errors.CombineErrors(validationErr, errors.Wrapf(err, "invalid log_level '%s'", c.LogLevel))
		c.LogLevel = defaultLogLevel
	}

	c.deriveDurations()

	if validationErr != nil {
		return errors.Mark(errors.Wrap(validationErr, ErrInvalidConfig.Error()), ErrInvalidConfig)
	}
	return nil
}

// ExtractOptions returns the context window limits configured in c.
func (c Config) ExtractOptions() ExtractOptions {
	return ExtractOptions{
		MaxFullLines: c.MaxFullBufferLines,
		PrevSpan:     c.PrevSpan,
		NextSpan:     c.NextSpan,
	}
}

// =============================================================================
// Buffer & Position Types
// =============================================================================

// CursorPosition is an editor cursor: 1-based row, 0-based byte column.
type CursorPosition struct {
	Row    int
	Column int
}

func (p CursorPosition) String() string {
	return fmt.Sprintf("%d:%d", p.Row, p.Column)
}

// WindowKind distinguishes a whole-buffer context window from a partial one.
type WindowKind int

const (
	WindowFull WindowKind = iota
	WindowPartial
)

func (k WindowKind) String() string {
	if k == WindowPartial {
		return "part"
	}
	return "full"
}

// ScopeMode tells the service how a partial window starts.
type ScopeMode string

const (
	// ScopeBody: the window starts at the declaration of the enclosing method or class body.
	ScopeBody ScopeMode = "body"
	// ScopeBlock: no enclosing declaration was found; the window starts mid-block.
	ScopeBlock ScopeMode = "block"
)

// ContextWindow is the slice of source sent to the service with a request.
// StartLine and Mode are only meaningful for WindowPartial.
type ContextWindow struct {
	Kind      WindowKind
	Text      string
	StartLine int // 1-based
	Mode      ScopeMode
}

// MarshalJSON encodes the window as {type:"full",text} or {type:"part",text,start,mode}.
func (w ContextWindow) MarshalJSON() ([]byte, error) {
	if w.Kind == WindowPartial {
		return json.Marshal(struct {
			Type  string    `json:"type"`
			Text  string    `json:"text"`
			Start int       `json:"start"`
			Mode  ScopeMode `json:"mode"`
		}{"part", w.Text, w.StartLine, w.Mode})
	}
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{"full", w.Text})
}

// =============================================================================
// Completion Types
// =============================================================================

// CompletionCacheEntry records the token range the last completion list was computed for.
type CompletionCacheEntry struct {
	Row        int
	TokenStart int
	TokenEnd   int
	TokenText  string
}

// CompletionKind is the closed set of completion groups the service returns.
type CompletionKind int

const (
	CompletionField CompletionKind = iota
	CompletionMethod
	CompletionClass
)

// String returns the wire name of the group ("fields", "methods", "classes").
func (k CompletionKind) String() string {
	switch k {
	case CompletionField:
		return "fields"
	case CompletionMethod:
		return "methods"
	case CompletionClass:
		return "classes"
	default:
		return fmt.Sprintf("CompletionKind(%d)", int(k))
	}
}

// ParseCompletionKind maps a wire group name onto a CompletionKind.
func ParseCompletionKind(s string) (CompletionKind, error) {
	switch s {
	case "fields":
		return CompletionField, nil
	case "methods":
		return CompletionMethod, nil
	case "classes":
		return CompletionClass, nil
	}
	return 0, errors.Mark(errors.Newf("unknown completion kind %q", s), ErrUnknownCompletionKind)
}

// CompletionItem is one rendered completion menu entry.
type CompletionItem struct {
	Word string         `json:"word"`
	Menu string         `json:"menu"`
	Info string         `json:"info"`
	Kind CompletionKind `json:"-"`
}

// CompletionResult is a rendered completion list and the token range it replaces.
type CompletionResult struct {
	Start   int // 0-based byte column where the completed token starts
	End     int
	Items   []CompletionItem
	Cached  bool // Served by the completion cache without a request.
	Skipped int  // Entries dropped as malformed or of unknown kind.
}

// MethodParam is a single declared parameter of a method suggestion.
type MethodParam struct {
	Type string
	Name string
}

// MethodSignature is a method suggestion as reported by the service.
type MethodSignature struct {
	Name      string
	Qualified string
	Mods      string
	Returns   string
	Params    []MethodParam
	Javadoc   string
}

// =============================================================================
// Lookup & Fix Types
// =============================================================================

// Definition is the result of a "define" request.
type Definition struct {
	Path string
	Line int // 1-based
}

// Documentation is the result of a "document" request.
type Documentation struct {
	Kind    string
	Name    string
	Type    string
	Javadoc string
}

// MissingSymbol is an unresolved name reported by the "update" endpoint.
type MissingSymbol struct {
	Name    string
	Line    int // 1-based
	Column  int
	Imports []string
}

// UpdateResult is the outcome of an asynchronous "update" call, handed to the tick.
type UpdateResult struct {
	Path       string
	Missing    []MissingSymbol
	ReceivedAt time.Time
}

// PendingFix is an unresolved symbol and the imports that could resolve it.
type PendingFix struct {
	Description      string
	Symbol           string
	Line             int // 1-based
	Column           int
	CandidateImports []string
}

// AppliedImport records an import inserted while applying fixes.
type AppliedImport struct {
	Symbol string
	Path   string
	Index  int // 0-based line index the import statement was inserted at
}

// TickResult is what a tick did with the pending update, if any.
type TickResult struct {
	Path    string
	Applied []AppliedImport
	Pending []PendingFix
}
