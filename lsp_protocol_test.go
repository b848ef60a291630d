// javacomplete/lsp_protocol_test.go
package javacomplete

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImportEdits(t *testing.T) {
	at := func(line uint32) LSPRange {
		return LSPRange{Start: LSPPosition{Line: line}, End: LSPPosition{Line: line}}
	}

	tests := []struct {
		name          string
		applied       []AppliedImport
		originalLines int
		want          []TextEdit
	}{
		{
			name:          "single import",
			applied:       []AppliedImport{{Path: "java.util.Queue", Index: 8}},
			originalLines: 14,
			want:          []TextEdit{{Range: at(8), NewText: "import java.util.Queue;\n"}},
		},
		{
			name: "second import below the first",
			applied: []AppliedImport{
				{Path: "java.util.Queue", Index: 8},
				{Path: "org.example.shapes.Faster", Index: 10},
			},
			originalLines: 14,
			want: []TextEdit{
				{Range: at(8), NewText: "import java.util.Queue;\n"},
				{Range: at(9), NewText: "import org.example.shapes.Faster;\n"},
			},
		},
		{
			name: "second import above the first",
			applied: []AppliedImport{
				{Path: "org.example.shapes.Faster", Index: 9},
				{Path: "java.util.Queue", Index: 8},
			},
			originalLines: 14,
			want: []TextEdit{
				{Range: at(8), NewText: "import java.util.Queue;\n"},
				{Range: at(9), NewText: "import org.example.shapes.Faster;\n"},
			},
		},
		{
			name:          "append after the last line",
			applied:       []AppliedImport{{Path: "java.util.List", Index: 1}},
			originalLines: 1,
			want: []TextEdit{{
				Range:   LSPRange{Start: LSPPosition{Line: 0, Character: 1<<31 - 1}, End: LSPPosition{Line: 0, Character: 1<<31 - 1}},
				NewText: "\nimport java.util.List;",
			}},
		},
		{
			name:          "nothing applied",
			originalLines: 3,
			want:          []TextEdit{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, importEdits(tt.applied, tt.originalLines, discardLogger()))
		})
	}
}

func TestImportEdits_MatchBufferInserts(t *testing.T) {
	buf := loadFixture(t, "Awesome.java")
	original := buf.Lines()
	applied, _, err := ApplyImportFixes(buf, []PendingFix{
		{Symbol: "Faster", Line: 13, CandidateImports: []string{"org.example.shapes.Faster"}},
		{Symbol: "Queue", Line: 13, CandidateImports: []string{"java.util.Queue"}},
	}, true, nil, discardLogger())
	require.NoError(t, err)
	require.Len(t, applied, 2)

	edits := importEdits(applied, len(original), discardLogger())
	require.Len(t, edits, 2)

	// Replaying the edits bottom-up against the original lines gives the edited buffer.
	replayed := append([]string(nil), original...)
	for i := len(edits) - 1; i >= 0; i-- {
		line := int(edits[i].Range.Start.Line)
		text := edits[i].NewText[:len(edits[i].NewText)-1]
		replayed = append(replayed[:line], append([]string{text}, replayed[line:]...)...)
	}
	assert.Equal(t, buf.Lines(), replayed)
}

func TestLineRange(t *testing.T) {
	r, err := lineRange(4)
	require.NoError(t, err)
	assert.Equal(t, LSPRange{Start: LSPPosition{Line: 4}, End: LSPPosition{Line: 4}}, r)

	_, err = lineRange(-1)
	assert.True(t, errors.Is(err, ErrInvalidPositionInput))
}

func TestMapCompletionKind(t *testing.T) {
	assert.Equal(t, CompletionItemKindField, mapCompletionKind(CompletionField))
	assert.Equal(t, CompletionItemKindMethod, mapCompletionKind(CompletionMethod))
	assert.Equal(t, CompletionItemKindClass, mapCompletionKind(CompletionClass))
	assert.Equal(t, CompletionItemKindText, mapCompletionKind(CompletionKind(42)))
}

func TestFixDiagnostics(t *testing.T) {
	buf := NewTextBuffer("class A {\n  é List x;\n}\n")
	fixes := []PendingFix{
		{Description: "Missing import for List", Symbol: "List", Line: 2, Column: 5, CandidateImports: []string{"java.util.List", "java.awt.List"}},
		{Description: "Missing import for Map", Symbol: "Map", Line: 9, Column: 2, CandidateImports: []string{"java.util.Map"}},
		{Description: "Missing import for Bad", Symbol: "Bad", Line: 0, Column: 0, CandidateImports: []string{"a.Bad"}},
	}

	diagnostics := fixDiagnostics(fixes, buf, discardLogger())
	require.Len(t, diagnostics, 2, "fixes without a valid line are skipped")

	list := diagnostics[0]
	assert.Equal(t, LSPRange{Start: LSPPosition{Line: 1, Character: 4}, End: LSPPosition{Line: 1, Character: 8}}, list.Range)
	assert.Equal(t, "Missing import for List (2 candidates)", list.Message)
	assert.Equal(t, LspSeverityWarning, list.Severity)
	assert.Equal(t, diagnosticCodeMissingImport, list.Code)
	assert.Equal(t, diagnosticSource, list.Source)
	assert.JSONEq(t, `{"symbol":"List","imports":["java.util.List","java.awt.List"]}`, string(list.Data))

	mapDiag := diagnostics[1]
	assert.Equal(t, "Missing import for Map", mapDiag.Message)
	assert.Equal(t, LSPRange{Start: LSPPosition{Line: 8, Character: 2}, End: LSPPosition{Line: 8, Character: 5}}, mapDiag.Range,
		"lines outside the buffer use the reported column")
}

func TestImportCodeActions(t *testing.T) {
	buf := loadFixture(t, "Awesome.java")
	uri := DocumentURI("file:///src/Awesome.java")
	diagnostics := fixDiagnostics([]PendingFix{
		{Description: "Missing import for List", Symbol: "List", Line: 13, Column: 4, CandidateImports: []string{"java.util.List", "java.util.HashMap"}},
		{Description: "Missing import for Queue", Symbol: "Queue", Line: 13, Column: 4, CandidateImports: []string{"java.util.Queue"}},
	}, buf, discardLogger())
	require.Len(t, diagnostics, 2)

	actions := importCodeActions(uri, buf, diagnostics[0], discardLogger())
	require.Len(t, actions, 1, "imports already in the buffer get no action")
	action := actions[0]
	assert.Equal(t, "Import java.util.List", action.Title)
	assert.Equal(t, codeActionKindQuickFix, action.Kind)
	assert.False(t, action.IsPreferred)
	require.NotNil(t, action.Edit)
	assert.Equal(t, []TextEdit{{
		Range:   LSPRange{Start: LSPPosition{Line: 8}, End: LSPPosition{Line: 8}},
		NewText: "import java.util.List;\n",
	}}, action.Edit.Changes[uri])
	require.NotNil(t, action.Command)
	assert.Equal(t, commandRememberImport, action.Command.Command)
	assert.Equal(t, []any{"List", "java.util.List"}, action.Command.Arguments)
	assert.Equal(t, 14, buf.Len(), "the buffer itself is not edited")

	actions = importCodeActions(uri, buf, diagnostics[1], discardLogger())
	require.Len(t, actions, 1)
	assert.True(t, actions[0].IsPreferred)

	foreign := diagnostics[0]
	foreign.Source = "javac"
	assert.Empty(t, importCodeActions(uri, buf, foreign, discardLogger()))

	broken := diagnostics[0]
	broken.Data = []byte(`[1,2]`)
	assert.Empty(t, importCodeActions(uri, buf, broken, discardLogger()))
}

func TestRangesOverlap(t *testing.T) {
	r := func(l1, c1, l2, c2 uint32) LSPRange {
		return LSPRange{Start: LSPPosition{Line: l1, Character: c1}, End: LSPPosition{Line: l2, Character: c2}}
	}
	tests := []struct {
		name string
		a, b LSPRange
		want bool
	}{
		{"same range", r(1, 2, 1, 6), r(1, 2, 1, 6), true},
		{"cursor inside", r(1, 2, 1, 6), r(1, 4, 1, 4), true},
		{"touching at the end", r(1, 2, 1, 6), r(1, 6, 1, 9), true},
		{"before", r(1, 2, 1, 6), r(1, 7, 1, 9), false},
		{"other line", r(1, 2, 1, 6), r(3, 0, 3, 1), false},
		{"spanning lines", r(0, 0, 4, 0), r(2, 3, 2, 3), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rangesOverlap(tt.a, tt.b))
			assert.Equal(t, tt.want, rangesOverlap(tt.b, tt.a))
		})
	}
}

func TestFormatDocumentationForHover(t *testing.T) {
	doc := Documentation{Kind: "field", Name: "size", Type: "int", Javadoc: " Element count. "}

	assert.Equal(t, "```java\nint size\n```\n\n---\n\nElement count.", formatDocumentationForHover(doc, MarkupKindMarkdown, discardLogger()))
	assert.Equal(t, "int size\n\nElement count.", formatDocumentationForHover(doc, MarkupKindPlainText, discardLogger()))

	bare := Documentation{Kind: "method", Name: "run", Type: "void"}
	assert.Equal(t, "```java\nvoid run\n```", formatDocumentationForHover(bare, MarkupKindMarkdown, discardLogger()))

	javadocOnly := Documentation{Javadoc: "Just words."}
	assert.Equal(t, "Just words.", formatDocumentationForHover(javadocOnly, MarkupKindMarkdown, discardLogger()))

	assert.Empty(t, formatDocumentationForHover(Documentation{Kind: "class"}, MarkupKindMarkdown, discardLogger()))
}

func TestPreferredMarkupKind(t *testing.T) {
	hover := func(formats ...MarkupKind) ClientCapabilities {
		return ClientCapabilities{TextDocument: &TextDocumentClientCapabilities{Hover: &HoverClientCapabilities{ContentFormat: formats}}}
	}
	assert.Equal(t, MarkupKindMarkdown, preferredMarkupKind(ClientCapabilities{}))
	assert.Equal(t, MarkupKindMarkdown, preferredMarkupKind(hover()))
	assert.Equal(t, MarkupKindPlainText, preferredMarkupKind(hover(MarkupKindPlainText)))
	assert.Equal(t, MarkupKindMarkdown, preferredMarkupKind(hover(MarkupKindPlainText, MarkupKindMarkdown)))
}

func TestLspCompletionItems(t *testing.T) {
	buf := NewTextBuffer("class A {\n    list.ge\n}\n")
	result := CompletionResult{Start: 9, End: 11, Items: []CompletionItem{
		{Word: "get", Menu: "method: get", Info: "E get(int index)", Kind: CompletionMethod},
		{Word: "getClass", Menu: "method: getClass", Kind: CompletionMethod},
	}}

	items, err := lspCompletionItems(buf, CursorPosition{Row: 2, Column: 11}, result)
	require.NoError(t, err)
	require.Len(t, items, 2)
	wantRange := LSPRange{Start: LSPPosition{Line: 1, Character: 9}, End: LSPPosition{Line: 1, Character: 11}}
	assert.Equal(t, LspCompletionItem{
		Label:            "get",
		Kind:             CompletionItemKindMethod,
		Detail:           "method: get",
		Documentation:    "E get(int index)",
		InsertTextFormat: PlainTextFormat,
		TextEdit:         &TextEdit{Range: wantRange, NewText: "get"},
		SortText:         "00000",
	}, items[0])
	assert.Equal(t, "00001", items[1].SortText)

	result.Start = 20
	items, err = lspCompletionItems(buf, CursorPosition{Row: 2, Column: 11}, result)
	require.NoError(t, err)
	assert.Equal(t, items[0].TextEdit.Range.Start, items[0].TextEdit.Range.End, "a start past the cursor collapses to an insert")

	items, err = lspCompletionItems(buf, CursorPosition{Row: 7, Column: 3}, result)
	assert.Error(t, err)
	require.Len(t, items, 2)
	assert.Nil(t, items[0].TextEdit)
	assert.Equal(t, "get", items[0].InsertText)
}

func TestRequestTracker(t *testing.T) {
	tracker := NewRequestTracker()

	ctx1, done1 := tracker.Add(jsonrpc2.ID{Num: 1}, context.Background())
	ctx2, done2 := tracker.Add(jsonrpc2.ID{Num: 2}, context.Background())
	assert.Equal(t, 2, tracker.Count())

	tracker.Cancel(jsonrpc2.ID{Num: 1})
	assert.ErrorIs(t, ctx1.Err(), context.Canceled)
	assert.NoError(t, ctx2.Err())
	assert.Equal(t, 1, tracker.Count())

	done2()
	assert.ErrorIs(t, ctx2.Err(), context.Canceled)
	assert.Zero(t, tracker.Count())

	done1()
	tracker.Cancel(jsonrpc2.ID{Num: 3})
	assert.Zero(t, tracker.Count())
}
