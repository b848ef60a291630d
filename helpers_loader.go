// javacomplete/helpers_loader.go
// Contains the line buffer abstraction and helpers for loading buffers from disk.
package javacomplete

import (
	"log/slog"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
)

// ============================================================================
// Line Buffer
// ============================================================================

// LineBuffer is an ordered, mutable sequence of text lines with 0-based indexing.
// Editors provide their own implementation; TextBuffer is the in-memory one.
type LineBuffer interface {
	Len() int
	Line(i int) string
	// Insert places line before index i. i == Len() appends.
	Insert(i int, line string)
	Append(line string)
}

// TextBuffer is a slice-backed LineBuffer.
type TextBuffer struct {
	lines []string
}

// NewTextBuffer splits text into lines. CRLF endings are normalized and a single
// trailing newline does not produce an empty final line.
func NewTextBuffer(text string) *TextBuffer {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return &TextBuffer{lines: []string{}}
	}
	return &TextBuffer{lines: strings.Split(text, "\n")}
}

// NewTextBufferFromLines wraps a copy of lines.
func NewTextBufferFromLines(lines []string) *TextBuffer {
	cp := make([]string, len(lines))
	copy(cp, lines)
	return &TextBuffer{lines: cp}
}

func (b *TextBuffer) Len() int { return len(b.lines) }

func (b *TextBuffer) Line(i int) string {
	if i < 0 || i >= len(b.lines) {
		return ""
	}
	return b.lines[i]
}

func (b *TextBuffer) Insert(i int, line string) {
	if i < 0 {
		i = 0
	}
	if i >= len(b.lines) {
		b.lines = append(b.lines, line)
		return
	}
	b.lines = append(b.lines, "")
	copy(b.lines[i+1:], b.lines[i:])
	b.lines[i] = line
}

func (b *TextBuffer) Append(line string) { b.lines = append(b.lines, line) }

// Lines returns a copy of the buffer contents.
func (b *TextBuffer) Lines() []string {
	cp := make([]string, len(b.lines))
	copy(cp, b.lines)
	return cp
}

// Clone returns an independent copy of the buffer.
func (b *TextBuffer) Clone() *TextBuffer { return NewTextBufferFromLines(b.lines) }

// String renders the buffer with a trailing newline on every line.
func (b *TextBuffer) String() string { return joinLines(b, 0, b.Len()) }

// joinLines renders buf[start:end] with a trailing newline per line.
func joinLines(buf LineBuffer, start, end int) string {
	var sb strings.Builder
	for i := start; i < end; i++ {
		sb.WriteString(buf.Line(i))
		sb.WriteByte('\n')
	}
	return sb.String()
}

// ============================================================================
// File Loading
// ============================================================================

// LoadBufferFromFile reads a Java source file into a TextBuffer.
func LoadBufferFromFile(path string, logger *slog.Logger) (*TextBuffer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	buf := NewTextBuffer(string(content))
	logger.Debug("Loaded buffer from file", "path", path, "lines", buf.Len(), "bytes", len(content))
	return buf, nil
}

// WriteBufferToFile writes buf back to path, keeping the file's permissions.
func WriteBufferToFile(path string, buf *TextBuffer, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if buf == nil {
		return ErrNilBuffer
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(path, []byte(buf.String()), mode); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	logger.Debug("Wrote buffer to file", "path", path, "lines", buf.Len())
	return nil
}
