// javacomplete/helpers_context.go
// Selects the slice of a buffer that is sent to the analysis service with a request.
package javacomplete

import (
	"regexp"
	"strings"
)

// ============================================================================
// Context Window Extraction
// ============================================================================

// ExtractOptions bounds the context window.
type ExtractOptions struct {
	MaxFullLines int // Buffers with fewer lines are sent whole.
	PrevSpan     int // How far above the cursor the scope scan may go.
	NextSpan     int // Lines kept below the cursor.
}

// EnclosingScopeFinder locates the first line of the method, lambda or class body
// that encloses a line.
type EnclosingScopeFinder interface {
	// FindScopeStart scans upward from line (0-based) and never examines upper or
	// anything above it, except to finish a parameter list that opened there.
	// found is false when no enclosing declaration was seen.
	FindScopeStart(buf LineBuffer, line, upper int) (start int, found bool)
}

// ContextExtractor builds context windows using a scope finder.
type ContextExtractor struct {
	Finder  EnclosingScopeFinder
	Options ExtractOptions
}

// ExtractContextWindow builds the window for cursor using the brace-scanning scope finder.
func ExtractContextWindow(buf LineBuffer, cursor CursorPosition, opts ExtractOptions) ContextWindow {
	return ContextExtractor{Finder: BraceScopeFinder{}, Options: opts}.Extract(buf, cursor)
}

// Extract returns the whole buffer when it is short, otherwise the enclosing scope
// of the cursor line plus NextSpan lines below it.
func (e ContextExtractor) Extract(buf LineBuffer, cursor CursorPosition) ContextWindow {
	n := buf.Len()
	if n == 0 || n < e.Options.MaxFullLines {
		return ContextWindow{Kind: WindowFull, Text: joinLines(buf, 0, n)}
	}

	line := min(max(cursor.Row-1, 0), n-1)
	upper := max(0, line-max(e.Options.PrevSpan, 0))

	finder := e.Finder
	if finder == nil {
		finder = BraceScopeFinder{}
	}
	start, found := finder.FindScopeStart(buf, line, upper)
	mode := ScopeBody
	if !found {
		start, mode = upper, ScopeBlock
	}
	start = min(max(start, 0), line)

	// The cursor line is always part of the window, even with NextSpan == 0.
	end := min(n, max(line+e.Options.NextSpan, line+1))

	return ContextWindow{
		Kind:      WindowPartial,
		Text:      joinLines(buf, start, end),
		StartLine: start + 1,
		Mode:      mode,
	}
}

// ============================================================================
// Brace Scanning Scope Finder
// ============================================================================

var (
	// Loop, conditional and exception constructs are never a window boundary.
	controlHeaderPattern = regexp.MustCompile(`^\s*(?:\}\s*)?(?:else\s+)?(?:for|while|if|switch|catch|try|synchronized)\s*\(`)
	bareControlPattern   = regexp.MustCompile(`^\s*(?:\}\s*)?(?:else|try|finally|do)\s*(?:\{|$)`)
)

// BraceScopeFinder is a line-oriented heuristic: it counts braces upward from the
// cursor, skipping blocks that close before the cursor, and stops at the first
// unmatched opening brace that does not belong to a control construct.
type BraceScopeFinder struct{}

func (BraceScopeFinder) FindScopeStart(buf LineBuffer, line, upper int) (int, bool) {
	skipDepth := 0
	for i := line; i > upper; i-- {
		text := stripJavaNoise(buf.Line(i))
		skipDepth += strings.Count(text, "}")

		opens := strings.Count(text, "{")
		if opens == 0 {
			continue
		}

		if isControlHeader(text) || headerOnPreviousLine(buf, i) {
			// Braces of a control construct only balance closes seen below.
			skipDepth = max(skipDepth-opens, 0)
			continue
		}

		if skipDepth >= opens {
			skipDepth -= opens
			continue
		}
		return extendOverParameterList(buf, i, text, upper), true
	}
	return upper, false
}

// isControlHeader reports whether text starts a loop, conditional or exception construct.
func isControlHeader(text string) bool {
	return controlHeaderPattern.MatchString(text) || bareControlPattern.MatchString(text)
}

// headerOnPreviousLine handles a control header whose opening brace sits on the next line.
func headerOnPreviousLine(buf LineBuffer, i int) bool {
	if i == 0 {
		return false
	}
	prev := stripJavaNoise(buf.Line(i - 1))
	return isControlHeader(prev) && !strings.Contains(prev, "{")
}

// extendOverParameterList moves start up to the line that opens a parameter list
// still unbalanced on the brace line, e.g. a method declaration wrapped over lines.
func extendOverParameterList(buf LineBuffer, i int, text string, upper int) int {
	head := text
	if idx := strings.LastIndex(text, "{"); idx >= 0 {
		head = text[:idx]
	}
	balance := strings.Count(head, ")") - strings.Count(head, "(")
	start := i
	for balance > 0 && start > upper {
		start--
		prev := stripJavaNoise(buf.Line(start))
		balance += strings.Count(prev, ")") - strings.Count(prev, "(")
	}
	return start
}

// stripJavaNoise removes comments and the contents of string and char literals so
// braces inside them are not counted. Javadoc continuation lines become empty.
func stripJavaNoise(line string) string {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "*") || strings.HasPrefix(trimmed, "/**") {
		return ""
	}

	var sb strings.Builder
	inString, inChar, inComment := false, false, false
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inComment:
			if c == '*' && i+1 < len(line) && line[i+1] == '/' {
				inComment = false
				i++
			}
		case inString:
			if c == '\\' {
				i++
			} else if c == '"' {
				inString = false
				sb.WriteByte(c)
			}
		case inChar:
			if c == '\\' {
				i++
			} else if c == '\'' {
				inChar = false
				sb.WriteByte(c)
			}
		case c == '/' && i+1 < len(line) && line[i+1] == '/':
			return sb.String()
		case c == '/' && i+1 < len(line) && line[i+1] == '*':
			inComment = true
			i++
		case c == '"':
			inString = true
			sb.WriteByte(c)
		case c == '\'':
			inChar = true
			sb.WriteByte(c)
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}
