// javacomplete/helpers_imports.go
// Contains the import statement inserter and the logic that turns unresolved
// symbols reported by the service into import fixes.
package javacomplete

import (
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
)

// ============================================================================
// Import Statement Insertion
// ============================================================================

var (
	importLinePattern  = regexp.MustCompile(`^\s*import\s+(?:static\s+)?([\w.$*]+)\s*;`)
	packageLinePattern = regexp.MustCompile(`^\s*package\s+[\w.]+\s*;`)
	typeDeclPattern    = regexp.MustCompile(`^\s*(?:@\w+(?:\([^)]*\))?\s+)*(?:(?:public|protected|private|abstract|final|static|strictfp|sealed|non-sealed)\s+)*(?:class|enum|interface)\s+\w`)
)

// FormatImport renders path as an import statement.
func FormatImport(path string) string {
	return "import " + path + ";"
}

// FindImportInsertionIndex returns the 0-based line index before which the import
// for path belongs. Existing statements are compared to the new one as plain
// strings. When the first greater import starts a new group (a blank line above it
// and a different first character), the new import stays with the group above.
func FindImportInsertionIndex(buf LineBuffer, path string) int {
	statement := FormatImport(path)
	lastImport := -1
	packageLine := -1
	var first byte
	if path != "" {
		first = path[0]
	}

	for i := 0; i < buf.Len(); i++ {
		line := buf.Line(i)
		if m := importLinePattern.FindStringSubmatch(line); m != nil {
			existing := strings.TrimSpace(m[0])
			if existing > statement {
				if lastImport >= 0 && i > 0 && strings.TrimSpace(buf.Line(i-1)) == "" && m[1][0] != first {
					return lastImport + 1
				}
				return i
			}
			lastImport = i
			continue
		}
		if packageLinePattern.MatchString(line) {
			packageLine = i
			continue
		}
		if typeDeclPattern.MatchString(line) {
			if lastImport >= 0 {
				return lastImport + 1
			}
			return max(i-1, packageLine+1, 0)
		}
	}

	if lastImport >= 0 {
		return lastImport + 1
	}
	return packageLine + 1
}

// InsertImport adds `import <path>;` to buf at its sorted position and returns the
// number of lines inserted: 1, or 0 when the exact statement is already present.
// Callers shift positions below the insertion point by the returned count.
func InsertImport(buf LineBuffer, path string) (int, error) {
	_, n, err := insertImportAt(buf, path)
	return n, err
}

func insertImportAt(buf LineBuffer, path string) (index, inserted int, err error) {
	if buf == nil {
		return -1, 0, ErrNilBuffer
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return -1, 0, errors.New("import path is empty")
	}
	if idx := importLineIndex(buf, path); idx >= 0 {
		return idx, 0, nil
	}

	index = FindImportInsertionIndex(buf, path)
	if index >= buf.Len() {
		buf.Append(FormatImport(path))
	} else {
		buf.Insert(index, FormatImport(path))
	}
	return index, 1, nil
}

// importLineIndex returns the line holding exactly `import <path>;`, or -1.
func importLineIndex(buf LineBuffer, path string) int {
	statement := FormatImport(path)
	for i := 0; i < buf.Len(); i++ {
		line := buf.Line(i)
		if m := importLinePattern.FindString(line); m != "" {
			if strings.TrimSpace(m) == statement {
				return i
			}
			continue
		}
		if typeDeclPattern.MatchString(line) {
			break
		}
	}
	return -1
}

// IsAutoImported reports whether path names a type Java imports implicitly (java.lang).
func IsAutoImported(path string) bool {
	const lang = "java.lang."
	return strings.HasPrefix(path, lang) && !strings.Contains(path[len(lang):], ".")
}

// ============================================================================
// Import Fixes
// ============================================================================

// ImportPreferences reports an import previously chosen for a simple type name.
type ImportPreferences interface {
	Preferred(symbol string) (string, bool)
}

// BuildPendingFixes converts unresolved symbols into fixes. Candidates from
// java.lang are dropped and symbols left with no candidates produce no fix.
// A preferred candidate, when prefs knows one, is moved to the front.
func BuildPendingFixes(missing []MissingSymbol, prefs ImportPreferences) []PendingFix {
	fixes := make([]PendingFix, 0, len(missing))
	for _, sym := range missing {
		candidates := make([]string, 0, len(sym.Imports))
		for _, imp := range sym.Imports {
			imp = strings.TrimSpace(imp)
			if imp == "" || IsAutoImported(imp) || slices.Contains(candidates, imp) {
				continue
			}
			candidates = append(candidates, imp)
		}
		if len(candidates) == 0 {
			continue
		}
		if prefs != nil {
			if preferred, ok := prefs.Preferred(sym.Name); ok {
				if idx := slices.Index(candidates, preferred); idx > 0 {
					candidates = slices.Insert(slices.Delete(candidates, idx, idx+1), 0, preferred)
				}
			}
		}
		fixes = append(fixes, PendingFix{
			Description:      fmt.Sprintf("Missing import for %s", sym.Name),
			Symbol:           sym.Name,
			Line:             sym.Line,
			Column:           sym.Column,
			CandidateImports: candidates,
		})
	}
	return fixes
}

// ApplyImportFixes inserts the import for every fix that can be resolved without
// asking: a single candidate, or a candidate prefs already prefers. With autoImport
// off nothing is applied. Returned pending fixes have their lines shifted to account
// for the inserted statements.
func ApplyImportFixes(buf LineBuffer, fixes []PendingFix, autoImport bool, prefs ImportPreferences, logger *slog.Logger) ([]AppliedImport, []PendingFix, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if buf == nil {
		return nil, fixes, ErrNilBuffer
	}

	var applied []AppliedImport
	pending := make([]PendingFix, len(fixes))
	copy(pending, fixes)
	if !autoImport {
		return nil, pending, nil
	}

	remaining := make([]PendingFix, 0, len(pending))
	for i := 0; i < len(pending); i++ {
		fix := pending[i]
		choice, ok := automaticChoice(fix, prefs)
		if !ok {
			remaining = append(remaining, fix)
			continue
		}
		index, inserted, err := insertImportAt(buf, choice)
		if err != nil {
			logger.Warn("Failed to apply import fix", "symbol", fix.Symbol, "import", choice, "error", err)
			remaining = append(remaining, fix)
			continue
		}
		if inserted > 0 {
			applied = append(applied, AppliedImport{Symbol: fix.Symbol, Path: choice, Index: index})
			shiftFixLines(pending[i+1:], index, inserted)
			shiftFixLines(remaining, index, inserted)
			logger.Debug("Applied import fix", "symbol", fix.Symbol, "import", choice, "line_index", index)
		}
	}
	return applied, remaining, nil
}

func automaticChoice(fix PendingFix, prefs ImportPreferences) (string, bool) {
	if len(fix.CandidateImports) == 1 {
		return fix.CandidateImports[0], true
	}
	if prefs == nil {
		return "", false
	}
	if preferred, ok := prefs.Preferred(fix.Symbol); ok && slices.Contains(fix.CandidateImports, preferred) {
		return preferred, true
	}
	return "", false
}

// shiftFixLines moves fixes at or below the 0-based index down by n lines.
func shiftFixLines(fixes []PendingFix, index, n int) {
	for i := range fixes {
		if fixes[i].Line-1 >= index {
			fixes[i].Line += n
		}
	}
}
