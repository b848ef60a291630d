// javacomplete/helpers_diagnostics.go
// Contains helper functions for turning pending import fixes into diagnostics and
// quick fixes.
package javacomplete

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"unicode/utf8"

	"fortio.org/safecast"
)

const diagnosticCodeMissingImport = "missing-import"

// importFixData travels in LspDiagnostic.Data so code actions can be built from
// the diagnostic alone.
type importFixData struct {
	Symbol  string   `json:"symbol"`
	Imports []string `json:"imports"`
}

// ============================================================================
// Diagnostic Helpers
// ============================================================================

// fixDiagnostics converts pending fixes into diagnostics covering the unresolved
// symbol. buf, when non-nil, is used to convert byte columns to UTF-16.
func fixDiagnostics(fixes []PendingFix, buf LineBuffer, logger *slog.Logger) []LspDiagnostic {
	if logger == nil {
		logger = slog.Default()
	}
	diagnostics := make([]LspDiagnostic, 0, len(fixes))
	for _, fix := range fixes {
		r, err := symbolRange(buf, fix)
		if err != nil {
			logger.Warn("Skipping diagnostic with invalid position", "symbol", fix.Symbol, "line", fix.Line, "column", fix.Column, "error", err)
			continue
		}
		data, err := json.Marshal(importFixData{Symbol: fix.Symbol, Imports: fix.CandidateImports})
		if err != nil {
			logger.Warn("Failed to encode fix data", "symbol", fix.Symbol, "error", err)
			continue
		}
		message := fix.Description
		if len(fix.CandidateImports) > 1 {
			message = fmt.Sprintf("%s (%d candidates)", fix.Description, len(fix.CandidateImports))
		}
		diagnostics = append(diagnostics, LspDiagnostic{
			Range:    r,
			Severity: LspSeverityWarning,
			Code:     diagnosticCodeMissingImport,
			Source:   diagnosticSource,
			Message:  message,
			Data:     data,
		})
	}
	return diagnostics
}

// symbolRange returns the LSP range of fix.Symbol starting at its reported position.
func symbolRange(buf LineBuffer, fix PendingFix) (LSPRange, error) {
	cursor := CursorPosition{Row: fix.Line, Column: fix.Column}
	width := utf8.RuneCountInString(fix.Symbol)
	if buf != nil && fix.Line >= 1 && fix.Line <= buf.Len() {
		text := buf.Line(fix.Line - 1)
		if fix.Column <= len(text) {
			start, err := CursorToLspPosition(buf, cursor)
			if err != nil {
				return LSPRange{}, err
			}
			endCol := min(fix.Column+len(fix.Symbol), len(text))
			end, err := CursorToLspPosition(buf, CursorPosition{Row: fix.Line, Column: endCol})
			if err != nil {
				return LSPRange{}, err
			}
			return LSPRange{Start: start, End: end}, nil
		}
	}
	line, err := safecast.Conv[uint32](fix.Line - 1)
	if err != nil {
		return LSPRange{}, err
	}
	char, err := safecast.Conv[uint32](fix.Column)
	if err != nil {
		return LSPRange{}, err
	}
	endChar, err := safecast.Conv[uint32](fix.Column + width)
	if err != nil {
		return LSPRange{}, err
	}
	return LSPRange{
		Start: LSPPosition{Line: line, Character: char},
		End:   LSPPosition{Line: line, Character: endChar},
	}, nil
}

// importCodeActions offers one quick fix per candidate import of diag. Applying an
// action inserts the import and asks the server to remember the choice.
func importCodeActions(uri DocumentURI, buf *TextBuffer, diag LspDiagnostic, logger *slog.Logger) []CodeAction {
	if logger == nil {
		logger = slog.Default()
	}
	if diag.Source != diagnosticSource || len(diag.Data) == 0 {
		return nil
	}
	var data importFixData
	if err := json.Unmarshal(diag.Data, &data); err != nil {
		logger.Debug("Ignoring diagnostic with unreadable data", "error", err)
		return nil
	}

	actions := make([]CodeAction, 0, len(data.Imports))
	for _, path := range data.Imports {
		scratch := buf.Clone()
		index, inserted, err := insertImportAt(scratch, path)
		if err != nil {
			logger.Warn("Cannot place import", "import", path, "error", err)
			continue
		}
		if inserted == 0 {
			logger.Debug("Import already present, no action offered", "import", path)
			continue
		}
		edits := importEdits([]AppliedImport{{Symbol: data.Symbol, Path: path, Index: index}}, buf.Len(), logger)
		actions = append(actions, CodeAction{
			Title:       fmt.Sprintf("Import %s", path),
			Kind:        codeActionKindQuickFix,
			Diagnostics: []LspDiagnostic{diag},
			IsPreferred: len(data.Imports) == 1,
			Edit:        &WorkspaceEdit{Changes: map[DocumentURI][]TextEdit{uri: edits}},
			Command: &Command{
				Title:     "Remember import choice",
				Command:   commandRememberImport,
				Arguments: []any{data.Symbol, path},
			},
		})
	}
	return actions
}

// rangesOverlap reports whether a and b share at least one position.
func rangesOverlap(a, b LSPRange) bool {
	return !positionBefore(a.End, b.Start) && !positionBefore(b.End, a.Start)
}

func positionBefore(a, b LSPPosition) bool {
	return a.Line < b.Line || (a.Line == b.Line && a.Character < b.Character)
}
