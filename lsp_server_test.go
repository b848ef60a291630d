// javacomplete/lsp_server_test.go
package javacomplete

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/jsonrpc2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lspTestSource = `package a;

import java.util.HashMap;

public class A {
    void m() {
        list.ge
    }
}
`

// lspTestClient is the editor side of an in-memory LSP session.
type lspTestClient struct {
	conn        *jsonrpc2.Conn
	edits       chan ApplyWorkspaceEditParams
	diagnostics chan PublishDiagnosticsParams
	messages    chan ShowMessageParams
}

func (c *lspTestClient) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	switch req.Method {
	case "workspace/applyEdit":
		var params ApplyWorkspaceEditParams
		if err := json.Unmarshal(*req.Params, &params); err != nil {
			return nil, err
		}
		c.edits <- params
		return ApplyWorkspaceEditResult{Applied: true}, nil
	case "textDocument/publishDiagnostics":
		var params PublishDiagnosticsParams
		if err := json.Unmarshal(*req.Params, &params); err != nil {
			return nil, err
		}
		c.diagnostics <- params
	case "window/showMessage":
		var params ShowMessageParams
		if err := json.Unmarshal(*req.Params, &params); err != nil {
			return nil, err
		}
		c.messages <- params
	}
	return nil, nil
}

// startLSP runs a server backed by a fake analysis client and connects an editor to it.
func startLSP(t *testing.T, mutate func(*Config)) (*lspTestClient, *fakeClient, <-chan struct{}) {
	t.Helper()
	jc, fake := newTestCompleter(t, func(c *Config) {
		c.TickIntervalMillis = 20
		if mutate != nil {
			mutate(c)
		}
	})
	server := NewServer(jc, discardLogger(), nil, "test")

	serverSide, clientSide := net.Pipe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		server.Run(serverSide, serverSide)
	}()

	client := &lspTestClient{
		edits:       make(chan ApplyWorkspaceEditParams, 4),
		diagnostics: make(chan PublishDiagnosticsParams, 4),
		messages:    make(chan ShowMessageParams, 4),
	}
	stream := jsonrpc2.NewBufferedStream(clientSide, jsonrpc2.VSCodeObjectCodec{})
	client.conn = jsonrpc2.NewConn(context.Background(), stream, jsonrpc2.HandlerWithError(client.handle))
	t.Cleanup(func() {
		_ = client.conn.Close()
		_ = serverSide.Close()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("server did not stop")
		}
	})
	return client, fake, done
}

func TestServer_Session(t *testing.T) {
	client, fake, done := startLSP(t, nil)
	fake.respond(EndpointInit, `{}`)
	fake.respond(EndpointSuggest, `{"start":{"ch":13},"end":{"ch":15},"results":{"methods":[
		{"name":"get","returns":"E","params":[{"type":"int","name":"index"}]}
	]}}`)
	fake.respond(EndpointDefine, `{"line":3}`)
	fake.respond(EndpointUpdate, `{"missing":[
		{"name":"Queue","pos":{"line":7,"ch":8},"imports":["java.util.Queue"]},
		{"name":"List","pos":{"line":7,"ch":8},"imports":["java.util.List","java.awt.List"]}
	]}`)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var initResult InitializeResult
	err := client.conn.Call(ctx, "initialize", map[string]any{
		"processId":    1,
		"capabilities": map[string]any{"workspace": map[string]any{"applyEdit": true}},
	}, &initResult)
	require.NoError(t, err)
	assert.Equal(t, []string{"."}, initResult.Capabilities.CompletionProvider.TriggerCharacters)
	assert.Equal(t, TextDocumentSyncKindFull, initResult.Capabilities.TextDocumentSync.Change)
	assert.Equal(t, []string{commandRememberImport}, initResult.Capabilities.ExecuteCommandProvider.Commands)
	require.NotNil(t, initResult.ServerInfo)
	assert.Equal(t, serverName, initResult.ServerInfo.Name)
	require.NoError(t, client.conn.Notify(ctx, "initialized", map[string]any{}))

	path := filepath.Join(t.TempDir(), "A.java")
	uri := DocumentURI(PathToURI(path))
	require.NoError(t, client.conn.Notify(ctx, "textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{URI: uri, LanguageID: "java", Version: 1, Text: lspTestSource},
	}))

	// Completion on "list.ge".
	var list CompletionList
	err = client.conn.Call(ctx, "textDocument/completion", CompletionParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: uri},
			Position:     LSPPosition{Line: 6, Character: 15},
		},
	}, &list)
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, "get", list.Items[0].Label)
	require.NotNil(t, list.Items[0].TextEdit)
	assert.Equal(t, LSPRange{Start: LSPPosition{Line: 6, Character: 13}, End: LSPPosition{Line: 6, Character: 15}}, list.Items[0].TextEdit.Range)
	require.Len(t, fake.callsTo(EndpointInit), 1, "didOpen announces the buffer")

	// Definition in the same file.
	var locations []Location
	err = client.conn.Call(ctx, "textDocument/definition", TextDocumentPositionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Position:     LSPPosition{Line: 6, Character: 10},
	}, &locations)
	require.NoError(t, err)
	require.Len(t, locations, 1)
	assert.Equal(t, uri, locations[0].URI)
	assert.Equal(t, uint32(2), locations[0].Range.Start.Line)

	// A change produces an update; the next tick applies Queue and reports List.
	require.NoError(t, client.conn.Notify(ctx, "textDocument/didChange", DidChangeTextDocumentParams{
		TextDocument:   VersionedTextDocumentIdentifier{TextDocumentIdentifier: TextDocumentIdentifier{URI: uri}, Version: 2},
		ContentChanges: []TextDocumentContentChangeEvent{{Text: lspTestSource}},
	}))

	select {
	case edit := <-client.edits:
		assert.Equal(t, []TextEdit{{
			Range:   LSPRange{Start: LSPPosition{Line: 3}, End: LSPPosition{Line: 3}},
			NewText: "import java.util.Queue;\n",
		}}, edit.Edit.Changes[uri])
	case <-ctx.Done():
		t.Fatal("no workspace/applyEdit received")
	}

	var diag LspDiagnostic
	select {
	case published := <-client.diagnostics:
		assert.Equal(t, uri, published.URI)
		require.Len(t, published.Diagnostics, 1)
		diag = published.Diagnostics[0]
		assert.Equal(t, "Missing import for List (2 candidates)", diag.Message)
		assert.Equal(t, LSPRange{Start: LSPPosition{Line: 7, Character: 8}, End: LSPPosition{Line: 7, Character: 12}}, diag.Range)
	case <-ctx.Done():
		t.Fatal("no diagnostics published")
	}

	// Quick fixes for the reported symbol.
	var actions []CodeAction
	err = client.conn.Call(ctx, "textDocument/codeAction", CodeActionParams{
		TextDocument: TextDocumentIdentifier{URI: uri},
		Range:        diag.Range,
		Context:      CodeActionContext{Diagnostics: []LspDiagnostic{diag}},
	}, &actions)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, "Import java.util.List", actions[0].Title)
	assert.Equal(t, "Import java.awt.List", actions[1].Title)

	err = client.conn.Call(ctx, "workspace/executeCommand", map[string]any{
		"command":   commandRememberImport,
		"arguments": []any{"List", "java.util.List"},
	}, nil)
	require.NoError(t, err)

	err = client.conn.Call(ctx, "workspace/executeCommand", map[string]any{"command": "javacomplete.unknown"}, nil)
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.EqualValues(t, JsonRpcInvalidParams, rpcErr.Code)

	err = client.conn.Call(ctx, "textDocument/formatting", map[string]any{}, nil)
	require.ErrorAs(t, err, &rpcErr)
	assert.EqualValues(t, JsonRpcMethodNotFound, rpcErr.Code)

	require.NoError(t, client.conn.Call(ctx, "shutdown", nil, nil))
	require.NoError(t, client.conn.Notify(ctx, "exit", nil))
	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("server did not exit")
	}
}

func TestServer_CompletionUnknownDocument(t *testing.T) {
	client, _, _ := startLSP(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.conn.Call(ctx, "textDocument/completion", CompletionParams{
		TextDocumentPositionParams: TextDocumentPositionParams{
			TextDocument: TextDocumentIdentifier{URI: "file:///nowhere/B.java"},
		},
	}, nil)
	var rpcErr *jsonrpc2.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.EqualValues(t, JsonRpcInvalidParams, rpcErr.Code)
}

func TestServer_ServiceDownWarning(t *testing.T) {
	client, fake, _ := startLSP(t, nil)
	fake.fail(EndpointSuggest, errors.Mark(errors.New("dial tcp 127.0.0.1:3000: connect: connection refused"), ErrTransport))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	uri := DocumentURI(PathToURI(filepath.Join(t.TempDir(), "A.java")))
	require.NoError(t, client.conn.Notify(ctx, "textDocument/didOpen", DidOpenTextDocumentParams{
		TextDocument: TextDocumentItem{URI: uri, LanguageID: "java", Version: 1, Text: lspTestSource},
	}))

	complete := func() CompletionList {
		var list CompletionList
		err := client.conn.Call(ctx, "textDocument/completion", CompletionParams{
			TextDocumentPositionParams: TextDocumentPositionParams{
				TextDocument: TextDocumentIdentifier{URI: uri},
				Position:     LSPPosition{Line: 6, Character: 15},
			},
		}, &list)
		require.NoError(t, err)
		return list
	}

	list := complete()
	assert.True(t, list.IsIncomplete)
	assert.Empty(t, list.Items)
	select {
	case msg := <-client.messages:
		assert.Equal(t, MessageTypeWarning, msg.Type)
		assert.Contains(t, msg.Message, "not reachable")
	case <-ctx.Done():
		t.Fatal("no service warning shown")
	}

	complete()
	select {
	case <-client.messages:
		t.Fatal("service warning repeated within the throttle interval")
	case <-time.After(100 * time.Millisecond):
	}
}
