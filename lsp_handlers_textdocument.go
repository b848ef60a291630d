// javacomplete/lsp_handlers_textdocument.go
// Contains LSP method handlers related to text document synchronization and language features
// (didOpen, didChange, didClose, completion, hover, definition, codeAction).
package javacomplete

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/jsonrpc2"
)

// ============================================================================
// LSP Text Document Method Handlers
// ============================================================================

// handleDidOpen records the document and announces it to the analysis service.
func (s *Server) handleDidOpen(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidOpenTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	version := params.TextDocument.Version
	openLogger := logger.With("uri", uri, "version", version, "size", len(params.TextDocument.Text))
	openLogger.Info("Handling textDocument/didOpen")

	absPath, pathErr := ValidateAndGetFilePath(string(uri), openLogger)
	if pathErr != nil {
		openLogger.Error("Invalid URI in didOpen", "error", pathErr)
		s.sendShowMessage(MessageTypeError, fmt.Sprintf("Invalid document URI: %v", pathErr))
		return nil, nil
	}

	file := &OpenFile{
		URI:     uri,
		Path:    absPath,
		Buffer:  NewTextBuffer(params.TextDocument.Text),
		Version: version,
	}
	s.putFile(file)

	if file.Buffer.Len() == 0 {
		openLogger.Debug("Empty document, not announcing to analysis service")
		return nil, nil
	}
	if err := s.completer.InitBuffer(BufferRequest{Path: absPath, Buffer: file.Buffer, Cursor: CursorPosition{Row: 1}}); err != nil {
		openLogger.Warn("Failed to announce buffer", "error", err)
	}
	return nil, nil
}

// handleDidChange swaps in the new document content (full sync only) and sends it to
// the analysis service in the background.
func (s *Server) handleDidChange(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidChangeTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	version := params.TextDocument.Version
	changeLogger := logger.With("uri", uri, "new_version", version)

	if len(params.ContentChanges) == 0 {
		changeLogger.Warn("Received didChange notification with no content changes")
		return nil, nil
	}
	text := params.ContentChanges[len(params.ContentChanges)-1].Text
	changeLogger.Debug("Handling textDocument/didChange", "new_size", len(text))

	current, exists := s.getFile(uri)
	if exists && version <= current.Version {
		changeLogger.Warn("Ignoring out-of-order didChange notification", "current_version", current.Version)
		return nil, nil
	}
	path := ""
	if exists {
		path = current.Path
	} else {
		absPath, pathErr := ValidateAndGetFilePath(string(uri), changeLogger)
		if pathErr != nil {
			changeLogger.Error("Invalid URI in didChange", "error", pathErr)
			return nil, nil
		}
		path = absPath
	}

	file := &OpenFile{URI: uri, Path: path, Buffer: NewTextBuffer(text), Version: version}
	s.putFile(file)

	if file.Buffer.Len() == 0 {
		return nil, nil
	}
	cursor := s.lastCursor(uri, file.Buffer)
	if err := s.completer.UpdateBuffer(BufferRequest{Path: path, Buffer: file.Buffer, Cursor: cursor}); err != nil {
		changeLogger.Warn("Failed to send buffer update", "error", err)
	}
	return nil, nil
}

// handleDidClose forgets the document, its cached completions and its diagnostics.
func (s *Server) handleDidClose(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidCloseTextDocumentParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	closeLogger := logger.With("uri", uri)
	closeLogger.Info("Handling textDocument/didClose")

	if file, ok := s.removeFile(uri); ok {
		s.completer.Completions().Clear(file.Path)
	}
	s.publishDiagnostics(uri, nil, []LspDiagnostic{})
	return nil, nil
}

// resolveRequest looks up the open document and converts the LSP position into a
// BufferRequest.
func (s *Server) resolveRequest(uri DocumentURI, pos LSPPosition, logger *slog.Logger) (*OpenFile, BufferRequest, error) {
	file, ok := s.getFile(uri)
	if !ok {
		return nil, BufferRequest{}, errors.Newf("document not open: %s", uri)
	}
	cursor, err := LspPositionToCursor(file.Buffer, pos, logger)
	if err != nil {
		return file, BufferRequest{}, err
	}
	s.rememberCursor(uri, cursor)
	return file, BufferRequest{Path: file.Path, Buffer: file.Buffer, Cursor: cursor}, nil
}

// handleCompletion asks the analysis service for completions. A fallback outcome
// yields an empty list so the client's other sources take over.
func (s *Server) handleCompletion(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params CompletionParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	completionLogger := logger.With("uri", uri, "lsp_line", params.Position.Line, "lsp_char", params.Position.Character)
	completionLogger.Info("Handling textDocument/completion")

	file, breq, err := s.resolveRequest(uri, params.Position, completionLogger)
	if err != nil {
		if file == nil {
			completionLogger.Warn("Completion request for unknown file")
			return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: err.Error()}
		}
		completionLogger.Error("Failed to convert LSP position", "error", err)
		return CompletionList{Items: []LspCompletionItem{}}, nil
	}

	result, err := s.completer.Complete(ctx, breq)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return nil, &jsonrpc2.Error{Code: int64(JsonRpcRequestCancelled), Message: "Completion request cancelled"}
		}
		kind := ClassifyError(err)
		switch kind {
		case KindConnectionRefused, KindTransport:
			s.warnServiceDown(err)
			return CompletionList{IsIncomplete: true, Items: []LspCompletionItem{}}, nil
		default:
			if !errors.Is(err, ErrFallback) {
				completionLogger.Error("Completion failed", "kind", kind.String(), "error", err)
			}
			return CompletionList{Items: []LspCompletionItem{}}, nil
		}
	}

	items, err := lspCompletionItems(file.Buffer, breq.Cursor, result)
	if err != nil {
		completionLogger.Warn("Failed to build completion edits, sending labels only", "error", err)
	}
	completionLogger.Info("Completion successful", "items", len(items), "cached", result.Cached)
	return CompletionList{Items: items}, nil
}

// lspCompletionItems converts result into LSP items replacing the token between
// result.Start and the cursor. On a conversion error the items carry no edit.
func lspCompletionItems(buf LineBuffer, cursor CursorPosition, result CompletionResult) ([]LspCompletionItem, error) {
	var edit *LSPRange
	start, startErr := CursorToLspPosition(buf, CursorPosition{Row: cursor.Row, Column: min(result.Start, cursor.Column)})
	end, endErr := CursorToLspPosition(buf, cursor)
	convErr := errors.CombineErrors(startErr, endErr)
	if convErr == nil {
		edit = &LSPRange{Start: start, End: end}
	}

	items := make([]LspCompletionItem, 0, len(result.Items))
	for i, item := range result.Items {
		lspItem := LspCompletionItem{
			Label:            item.Word,
			Kind:             mapCompletionKind(item.Kind),
			Detail:           item.Menu,
			Documentation:    item.Info,
			InsertTextFormat: PlainTextFormat,
			SortText:         fmt.Sprintf("%05d", i),
		}
		if edit != nil {
			lspItem.TextEdit = &TextEdit{Range: *edit, NewText: item.Word}
		} else {
			lspItem.InsertText = item.Word
		}
		items = append(items, lspItem)
	}
	return items, convErr
}

// handleHover shows the documentation of the symbol under the cursor.
func (s *Server) handleHover(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params HoverParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	hoverLogger := logger.With("uri", uri, "lsp_line", params.Position.Line, "lsp_char", params.Position.Character)
	hoverLogger.Debug("Handling textDocument/hover")

	_, breq, err := s.resolveRequest(uri, params.Position, hoverLogger)
	if err != nil {
		hoverLogger.Warn("Cannot resolve hover position", "error", err)
		return nil, nil
	}
	doc, err := s.completer.Document(ctx, breq)
	if err != nil {
		if kind := ClassifyError(err); kind == KindConnectionRefused || kind == KindTransport {
			s.warnServiceDown(err)
		}
		hoverLogger.Debug("No documentation available", "error", err)
		return nil, nil
	}

	markup := preferredMarkupKind(s.clientCaps)
	content := formatDocumentationForHover(doc, markup, hoverLogger)
	if content == "" {
		return nil, nil
	}
	return HoverResult{Contents: MarkupContent{Kind: markup, Value: content}}, nil
}

// handleDefinition resolves the declaration of the symbol under the cursor.
func (s *Server) handleDefinition(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DefinitionParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	defLogger := logger.With("uri", uri, "lsp_line", params.Position.Line, "lsp_char", params.Position.Character)
	defLogger.Debug("Handling textDocument/definition")

	_, breq, err := s.resolveRequest(uri, params.Position, defLogger)
	if err != nil {
		defLogger.Warn("Cannot resolve definition position", "error", err)
		return nil, nil
	}
	def, err := s.completer.Define(ctx, breq)
	if err != nil {
		if kind := ClassifyError(err); kind == KindConnectionRefused || kind == KindTransport {
			s.warnServiceDown(err)
		}
		defLogger.Debug("No definition available", "error", err)
		return nil, nil
	}

	r, err := lineRange(def.Line - 1)
	if err != nil {
		defLogger.Warn("Definition has invalid line", "line", def.Line, "error", err)
		return nil, nil
	}
	location := Location{URI: DocumentURI(PathToURI(def.Path)), Range: r}
	defLogger.Info("Definition found", "target_uri", location.URI, "line", def.Line)
	return []Location{location}, nil
}

// handleCodeAction offers import quick fixes for the missing-import diagnostics in
// the requested range.
func (s *Server) handleCodeAction(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params CodeActionParams, logger *slog.Logger) (any, error) {
	uri := params.TextDocument.URI
	actionLogger := logger.With("uri", uri)
	file, ok := s.getFile(uri)
	if !ok {
		actionLogger.Debug("Code action request for unknown file")
		return []CodeAction{}, nil
	}

	actions := []CodeAction{}
	for _, diag := range params.Context.Diagnostics {
		if !rangesOverlap(diag.Range, params.Range) {
			continue
		}
		actions = append(actions, importCodeActions(uri, file.Buffer, diag, actionLogger)...)
	}
	actionLogger.Debug("Code actions computed", "count", len(actions))
	return actions, nil
}
