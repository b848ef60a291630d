// javacomplete/lsp_handlers_workspace.go
// Contains LSP method handlers related to workspace events (configuration, commands).
package javacomplete

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/sourcegraph/jsonrpc2"
)

// ============================================================================
// LSP Workspace Method Handlers
// ============================================================================

// handleDidChangeConfiguration merges the settings under the "javacomplete" key, or a
// flat settings object, into the current configuration.
func (s *Server) handleDidChangeConfiguration(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params DidChangeConfigurationParams, logger *slog.Logger) (any, error) {
	logger.Info("Handling workspace/didChangeConfiguration")

	var nested struct {
		JavaComplete *FileConfig `json:"javacomplete"`
	}
	if err := json.Unmarshal(params.Settings, &nested); err != nil {
		logger.Error("Failed to unmarshal workspace/didChangeConfiguration settings", "error", err, "raw_settings", string(params.Settings))
		return nil, nil
	}
	fileCfg := nested.JavaComplete
	if fileCfg == nil {
		var direct FileConfig
		if err := json.Unmarshal(params.Settings, &direct); err != nil {
			logger.Error("Settings are neither nested under 'javacomplete' nor a flat config", "error", err)
			return nil, nil
		}
		logger.Debug("Using flat settings object (no 'javacomplete' nesting)")
		fileCfg = &direct
	}

	s.applyFileConfig(*fileCfg, logger)
	return nil, nil
}

// applyFileConfig merges fileCfg over the current configuration and pushes the result
// to the completer and the log level.
func (s *Server) applyFileConfig(fileCfg FileConfig, logger *slog.Logger) {
	newConfig := s.completer.GetCurrentConfig()
	mergedFields := fileCfg.Apply(&newConfig)
	if mergedFields == 0 {
		logger.Debug("No relevant configuration changes found")
		return
	}

	logger.Info("Applying configuration changes from client", "fields_merged", mergedFields)
	if err := s.completer.UpdateConfig(newConfig); err != nil {
		logger.Error("Failed to apply updated configuration", "error", err)
		s.sendShowMessage(MessageTypeError, fmt.Sprintf("Failed to apply configuration update: %v", err))
		return
	}
	s.applyLogLevel(s.completer.GetCurrentConfig().LogLevel, logger)
}

// applyLogLevel adjusts the server's level variable, when it has one.
func (s *Server) applyLogLevel(levelStr string, logger *slog.Logger) {
	if s.levelVar == nil {
		return
	}
	level, err := ParseLogLevel(levelStr)
	if err != nil {
		logger.Warn("Cannot update logger level due to parse error", "level_string", levelStr, "error", err)
		return
	}
	if s.levelVar.Level() != level {
		s.levelVar.Set(level)
		logger.Info("Log level updated", "level", level)
	}
}

// handleExecuteCommand runs commands attached to code actions.
func (s *Server) handleExecuteCommand(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request, params ExecuteCommandParams, logger *slog.Logger) (any, error) {
	cmdLogger := logger.With("command", params.Command)
	switch params.Command {
	case commandRememberImport:
		symbol, path, err := rememberImportArgs(params.Arguments)
		if err != nil {
			cmdLogger.Warn("Invalid command arguments", "error", err)
			return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: err.Error()}
		}
		if err := s.completer.RememberImport(symbol, path); err != nil {
			cmdLogger.Warn("Failed to remember import choice", "symbol", symbol, "import", path, "error", err)
			return nil, &jsonrpc2.Error{Code: int64(JsonRpcRequestFailed), Message: err.Error()}
		}
		cmdLogger.Info("Import choice remembered", "symbol", symbol, "import", path)
		return nil, nil
	default:
		cmdLogger.Warn("Unknown command")
		return nil, &jsonrpc2.Error{Code: int64(JsonRpcInvalidParams), Message: fmt.Sprintf("Unknown command: %s", params.Command)}
	}
}

// rememberImportArgs decodes [symbol, importPath].
func rememberImportArgs(args []json.RawMessage) (symbol, path string, err error) {
	if len(args) != 2 {
		return "", "", errors.Newf("%s expects 2 arguments, got %d", commandRememberImport, len(args))
	}
	if err := json.Unmarshal(args[0], &symbol); err != nil {
		return "", "", errors.Wrap(err, "symbol argument")
	}
	if err := json.Unmarshal(args[1], &path); err != nil {
		return "", "", errors.Wrap(err, "import argument")
	}
	return symbol, path, nil
}
