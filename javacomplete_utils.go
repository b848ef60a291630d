// javacomplete_utils.go
package javacomplete

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"fortio.org/safecast"
	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
)

// ============================================================================
// Logging
// ============================================================================

// ParseLogLevel converts a log level string to its slog.Level equivalent.
func ParseLogLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.Newf("invalid log level string: %q (expected debug, info, warn, or error)", levelStr)
	}
}

// ============================================================================
// Config File Helpers
// ============================================================================

// errConfigParse marks a config file that exists but is not valid JSON.
var errConfigParse = errors.New("parsing config file JSON")

// GetConfigPaths returns the XDG config location and the ~/.config fallback.
func GetConfigPaths(logger *slog.Logger) (primary, secondary string, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	var pathErrors error

	userConfigDir, dirErr := os.UserConfigDir()
	if dirErr == nil {
		primary = filepath.Join(userConfigDir, configDirName, defaultConfigFileName)
	} else {
		pathErrors = errors.CombineErrors(pathErrors, errors.Wrap(dirErr, "could not determine user config directory"))
		logger.Debug("User config directory unavailable", "error", dirErr)
	}

	homeDir, homeErr := os.UserHomeDir()
	if homeErr == nil {
		secondary = filepath.Join(homeDir, ".config", configDirName, defaultConfigFileName)
	} else {
		pathErrors = errors.CombineErrors(pathErrors, errors.Wrap(homeErr, "could not determine user home directory"))
		logger.Debug("User home directory unavailable", "error", homeErr)
	}

	if primary == "" && secondary == "" {
		return "", "", errors.Mark(errors.Wrap(pathErrors, "no config path available"), ErrConfig)
	}
	return primary, secondary, nil
}

// LoadAndMergeConfig merges the fields present in the JSON file at path into cfg.
// loaded is false, with a nil error, when the file does not exist.
func LoadAndMergeConfig(path string, cfg *Config, logger *slog.Logger) (loaded bool, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Debug("Config file not found", "path", path)
			return false, nil
		}
		return false, errors.Wrapf(err, "reading config file %s", path)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		logger.Warn("Config file is empty, ignoring", "path", path)
		return false, nil
	}

	var fileCfg FileConfig
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return false, errors.Mark(errors.Wrapf(err, "parsing config file JSON %s", path), errConfigParse)
	}
	merged := fileCfg.Apply(cfg)
	cfg.deriveDurations()
	logger.Debug("Merged config file", "path", path, "fields", merged)
	return true, nil
}

// WriteDefaultConfig writes cfg as indented JSON to path, creating parent directories.
// An existing file is left untouched.
func WriteDefaultConfig(path string, cfg Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := os.Stat(path); err == nil {
		logger.Debug("Config file exists, not overwriting with defaults", "path", path)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.Wrapf(err, "creating config directory for %s", path)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding default config")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o640); err != nil {
		return errors.Wrapf(err, "writing default config %s", path)
	}
	logger.Info("Wrote default config", "path", path)
	return nil
}

// ============================================================================
// Path Helpers
// ============================================================================

// ValidateAndGetFilePath converts a file:// URI (or a plain path) into a cleaned
// absolute path.
func ValidateAndGetFilePath(uriOrPath string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if strings.TrimSpace(uriOrPath) == "" {
		return "", errors.Mark(errors.New("empty document URI"), ErrInvalidURI)
	}

	path := uriOrPath
	if strings.Contains(uriOrPath, "://") {
		parsed, err := url.Parse(uriOrPath)
		if err != nil {
			return "", errors.Mark(errors.Wrapf(err, "parsing URI %q", uriOrPath), ErrInvalidURI)
		}
		if parsed.Scheme != "file" {
			logger.Warn("Unsupported URI scheme", "uri", uriOrPath, "scheme", parsed.Scheme)
			return "", errors.Mark(errors.Newf("unsupported URI scheme %q", parsed.Scheme), ErrInvalidURI)
		}
		path = filepath.FromSlash(parsed.Path)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "resolving absolute path for %q", path), ErrInvalidURI)
	}
	return filepath.Clean(absPath), nil
}

// PathToURI renders an absolute path as a file:// URI.
func PathToURI(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	return u.String()
}

// ============================================================================
// LSP Position Conversion Helpers
// ============================================================================

// LSPPosition represents a 0-based line/character offset (UTF-16).
type LSPPosition struct {
	Line      uint32 `json:"line"`      // 0-based
	Character uint32 `json:"character"` // 0-based, UTF-16 offset
}

// LspPositionToCursor converts a 0-based LSP line/character (UTF-16) into a cursor
// on buf (1-based row, 0-based byte column). A character past the end of its line is
// clamped to the line end.
func LspPositionToCursor(buf LineBuffer, pos LSPPosition, logger *slog.Logger) (CursorPosition, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if buf == nil {
		return CursorPosition{}, errors.Mark(ErrNilBuffer, ErrPositionConversion)
	}
	line, err := safecast.Conv[int](pos.Line)
	if err != nil {
		return CursorPosition{}, errors.Mark(errors.Wrapf(err, "line %d", pos.Line), ErrInvalidPositionInput)
	}
	char, err := safecast.Conv[int](pos.Character)
	if err != nil {
		return CursorPosition{}, errors.Mark(errors.Wrapf(err, "character %d", pos.Character), ErrInvalidPositionInput)
	}

	if buf.Len() == 0 && line == 0 {
		if char == 0 {
			return CursorPosition{Row: 1, Column: 0}, nil
		}
		return CursorPosition{}, errors.Wrapf(ErrPositionOutOfRange, "character %d on empty buffer", char)
	}
	if line >= buf.Len() {
		return CursorPosition{}, errors.Wrapf(ErrPositionOutOfRange, "LSP line %d not in buffer of %d lines", line, buf.Len())
	}

	text := []byte(buf.Line(line))
	col, convErr := Utf16OffsetToBytes(text, char)
	if convErr != nil {
		if !errors.Is(convErr, ErrPositionOutOfRange) {
			return CursorPosition{}, errors.Mark(errors.Wrapf(convErr, "converting UTF-16 offset on line %d", line), ErrPositionConversion)
		}
		logger.Warn("UTF16 offset out of range, clamping to line end", "line", line, "char", char, "error", convErr)
		col = len(text)
	}
	return CursorPosition{Row: line + 1, Column: col}, nil
}

// CursorToLspPosition converts a cursor on buf back into an LSP position.
func CursorToLspPosition(buf LineBuffer, cursor CursorPosition) (LSPPosition, error) {
	if buf == nil {
		return LSPPosition{}, errors.Mark(ErrNilBuffer, ErrPositionConversion)
	}
	row := cursor.Row - 1
	char := 0
	if row >= 0 && row < buf.Len() {
		var err error
		char, err = BytesToUtf16Offset([]byte(buf.Line(row)), cursor.Column)
		if err != nil {
			return LSPPosition{}, err
		}
	} else if row < 0 || cursor.Column != 0 {
		return LSPPosition{}, errors.Wrapf(ErrPositionOutOfRange, "cursor %s in %d-line buffer", cursor, buf.Len())
	}
	line, err := safecast.Conv[uint32](row)
	if err != nil {
		return LSPPosition{}, errors.Mark(err, ErrPositionConversion)
	}
	character, err := safecast.Conv[uint32](char)
	if err != nil {
		return LSPPosition{}, errors.Mark(err, ErrPositionConversion)
	}
	return LSPPosition{Line: line, Character: character}, nil
}

// Utf16OffsetToBytes converts a 0-based UTF-16 offset within a line to a 0-based byte offset.
func Utf16OffsetToBytes(line []byte, utf16Offset int) (int, error) {
	if utf16Offset < 0 {
		return 0, errors.Wrapf(ErrInvalidPositionInput, "invalid utf16Offset: %d (must be >= 0)", utf16Offset)
	}
	if utf16Offset == 0 {
		return 0, nil
	}

	byteOffset := 0
	currentUTF16Offset := 0
	for byteOffset < len(line) {
		if currentUTF16Offset >= utf16Offset {
			break
		}
		r, size := utf8.DecodeRune(line[byteOffset:])
		if r == utf8.RuneError && size <= 1 {
			return byteOffset, errors.Wrapf(ErrInvalidUTF8, "at byte offset %d", byteOffset)
		}
		utf16Units := 1
		if r > 0xFFFF {
			utf16Units = 2
		}
		// A target inside a surrogate pair resolves to the start of the rune.
		if currentUTF16Offset+utf16Units > utf16Offset {
			break
		}
		currentUTF16Offset += utf16Units
		byteOffset += size
	}
	if currentUTF16Offset < utf16Offset && byteOffset >= len(line) {
		return len(line), errors.Wrapf(ErrPositionOutOfRange, "utf16Offset %d is beyond the line length in UTF-16 units (%d)", utf16Offset, currentUTF16Offset)
	}
	return byteOffset, nil
}

// BytesToUtf16Offset converts a 0-based byte offset within a line to UTF-16 units.
// Offsets past the end of the line are clamped.
func BytesToUtf16Offset(line []byte, byteOffset int) (int, error) {
	if byteOffset < 0 {
		return 0, errors.Wrapf(ErrInvalidPositionInput, "invalid byte offset: %d (must be >= 0)", byteOffset)
	}
	byteOffset = min(byteOffset, len(line))
	units := 0
	for i := 0; i < byteOffset; {
		r, size := utf8.DecodeRune(line[i:])
		if r == utf8.RuneError && size <= 1 {
			return units, errors.Wrapf(ErrInvalidUTF8, "at byte offset %d", i)
		}
		if r > 0xFFFF {
			units += 2
		} else {
			units++
		}
		i += size
	}
	return units, nil
}

// ============================================================================
// Retry Helper
// ============================================================================

// Retry runs operation until it succeeds, returns a non-retryable error or
// maxRetries attempts are used. Transport failures and 429/503 answers are retried
// after delay, doubling each time.
func Retry(ctx context.Context, operation func() error, maxRetries int, initialDelay time.Duration, logger *slog.Logger) error {
	var lastErr error
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries < 1 {
		maxRetries = 1
	}

	currentDelay := initialDelay
	for i := 0; i < maxRetries; i++ {
		attemptLogger := logger.With("attempt", i+1, "max_attempts", maxRetries)
		if err := ctx.Err(); err != nil {
			attemptLogger.Warn("Context cancelled before attempt", "error", err)
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, context.Canceled) {
			return lastErr
		}
		if !isRetryable(lastErr) {
			attemptLogger.Debug("Attempt failed with non-retryable error.", "error", lastErr)
			return lastErr
		}
		if i == maxRetries-1 {
			break
		}

		attemptLogger.Warn("Attempt failed with retryable error. Retrying...", "error", lastErr, "delay", currentDelay)
		select {
		case <-ctx.Done():
			attemptLogger.Warn("Context cancelled during retry wait", "error", ctx.Err())
			return ctx.Err()
		case <-time.After(currentDelay):
		}
		currentDelay *= 2
	}
	logger.Error("Operation failed after all retries.", "retries", maxRetries, "final_error", lastErr)
	return errors.Wrapf(lastErr, "operation failed after %d retries", maxRetries)
}

func isRetryable(err error) bool {
	if errors.Is(err, ErrTransport) {
		return true
	}
	var analyzerErr *AnalyzerError
	if errors.As(err, &analyzerErr) {
		return analyzerErr.Status == http.StatusServiceUnavailable || analyzerErr.Status == http.StatusTooManyRequests
	}
	return false
}

// ============================================================================
// Spinner
// ============================================================================

// Spinner provides simple terminal spinner feedback on stderr.
type Spinner struct {
	chars    []string
	message  string
	index    int
	mu       sync.Mutex
	stopChan chan struct{}
	doneChan chan struct{}
	running  bool
	paint    func(a ...interface{}) string
}

func NewSpinner() *Spinner {
	return &Spinner{
		chars: []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"},
		paint: color.New(color.FgCyan).SprintFunc(),
	}
}

// Start begins the spinner animation in a separate goroutine.
func (s *Spinner) Start(initialMessage string) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.message = initialMessage
	s.running = true
	stopChan, doneChan := s.stopChan, s.doneChan
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		defer close(doneChan)
		for {
			select {
			case <-stopChan:
				color.Error.Write([]byte("\r\033[K"))
				return
			case <-ticker.C:
				s.mu.Lock()
				char := s.chars[s.index]
				msg := s.message
				s.index = (s.index + 1) % len(s.chars)
				s.mu.Unlock()
				color.Error.Write([]byte("\r\033[K" + s.paint(char) + " " + msg))
			}
		}
	}()
}

// UpdateMessage changes the text displayed next to the spinner.
func (s *Spinner) UpdateMessage(newMessage string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.message = newMessage
	}
}

// Stop halts the spinner animation and clears its line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	doneChan := s.doneChan
	s.mu.Unlock()

	select {
	case <-doneChan:
	case <-time.After(500 * time.Millisecond):
		slog.Warn("Timeout waiting for spinner goroutine cleanup")
	}
}
