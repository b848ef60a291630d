// javacomplete/lsp_handlers_lifecycle.go
// Contains LSP method handlers related to the server lifecycle (initialize, shutdown, exit).
package javacomplete

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/sourcegraph/jsonrpc2"
)

// ============================================================================
// LSP Lifecycle Method Handlers
// ============================================================================

// handleInitialize stores the client capabilities, applies any initializationOptions
// and returns the server capabilities.
func (s *Server) handleInitialize(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params InitializeParams, logger *slog.Logger) (any, error) {
	clientName, clientVersion := "", ""
	if params.ClientInfo != nil {
		clientName, clientVersion = params.ClientInfo.Name, params.ClientInfo.Version
	}
	logger.Info("Handling initialize request", "client_name", clientName, "client_version", clientVersion, "root_uri", params.RootURI)

	s.clientCaps = params.Capabilities
	s.initParams = &params

	if len(params.InitializationOptions) > 0 && string(params.InitializationOptions) != "null" {
		var fileCfg FileConfig
		if err := json.Unmarshal(params.InitializationOptions, &fileCfg); err != nil {
			logger.Warn("Ignoring unreadable initializationOptions", "error", err)
		} else {
			s.applyFileConfig(fileCfg, logger)
		}
	}

	result := InitializeResult{
		Capabilities: ServerCapabilities{
			TextDocumentSync: &TextDocumentSyncOptions{
				OpenClose: true,
				Change:    TextDocumentSyncKindFull,
			},
			CompletionProvider: &CompletionOptions{
				TriggerCharacters: []string{"."},
			},
			HoverProvider:      true,
			DefinitionProvider: true,
			CodeActionProvider: true,
			ExecuteCommandProvider: &ExecuteCommandOptions{
				Commands: []string{commandRememberImport},
			},
		},
		ServerInfo: s.serverInfo,
	}

	logger.Info("Initialization successful", "apply_edit", s.supportsApplyEdit())
	return result, nil
}

// handleShutdown handles the 'shutdown' request.
func (s *Server) handleShutdown(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, logger *slog.Logger) (any, error) {
	logger.Info("Handling shutdown request")
	return nil, nil
}

// handleExit closes the connection, which ends Run.
func (s *Server) handleExit(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, logger *slog.Logger) (any, error) {
	logger.Info("Handling exit notification")
	if s.conn != nil {
		s.conn.Close()
	}
	return nil, nil
}
