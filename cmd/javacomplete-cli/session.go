package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/shehackedyou/javacomplete"
)

const retryDelay = 250 * time.Millisecond

// session is the completer plus the buffer a command works on.
type session struct {
	completer *javacomplete.JavaCompleter
	logger    *slog.Logger
	path      string
	buffer    *javacomplete.TextBuffer
	retries   int
}

// addCursorFlags registers the flags shared by every command that works at a cursor.
func addCursorFlags(cmd *cobra.Command) {
	cmd.Flags().String("file", "", "path to the Java source file (required)")
	cmd.Flags().Int("line", 0, "cursor line, 1-based")
	cmd.Flags().Int("col", 0, "cursor column, 1-based byte offset")
	cmd.Flags().Bool("edit-mode", false, "the cursor sits after the last typed character (insert mode)")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("line")
	_ = cmd.MarkFlagRequired("col")
}

// openSession loads config and the --file buffer.
func openSession(cmd *cobra.Command) (*session, error) {
	logger := slog.Default()
	filePath, err := cmd.Flags().GetString("file")
	if err != nil {
		return nil, err
	}
	absPath, err := javacomplete.ValidateAndGetFilePath(filePath, logger)
	if err != nil {
		return nil, err
	}
	buffer, err := javacomplete.LoadBufferFromFile(absPath, logger)
	if err != nil {
		return nil, err
	}

	completer, err := javacomplete.NewJavaCompleter(logger)
	if err != nil {
		if completer == nil || !errors.Is(err, javacomplete.ErrConfig) {
			return nil, errors.Wrap(err, "initializing completer")
		}
		logger.Warn("Using configuration with warnings", "error", err)
	}

	serviceURL, err := cmd.Flags().GetString("service-url")
	if err != nil {
		completer.Close()
		return nil, err
	}
	if serviceURL != "" {
		cfg := completer.GetCurrentConfig()
		cfg.ServiceURL = serviceURL
		if err := completer.UpdateConfig(cfg); err != nil {
			completer.Close()
			return nil, errors.Wrap(err, "--service-url")
		}
	}

	retries, err := cmd.Flags().GetInt("retries")
	if err != nil {
		completer.Close()
		return nil, err
	}
	return &session{completer: completer, logger: logger, path: absPath, buffer: buffer, retries: retries}, nil
}

func (s *session) Close() {
	if err := s.completer.Close(); err != nil {
		s.logger.Warn("Error closing completer", "error", err)
	}
}

// request converts the cursor flags into a BufferRequest.
func (s *session) request(cmd *cobra.Command) (javacomplete.BufferRequest, error) {
	line, err := cmd.Flags().GetInt("line")
	if err != nil {
		return javacomplete.BufferRequest{}, err
	}
	col, err := cmd.Flags().GetInt("col")
	if err != nil {
		return javacomplete.BufferRequest{}, err
	}
	editMode, err := cmd.Flags().GetBool("edit-mode")
	if err != nil {
		return javacomplete.BufferRequest{}, err
	}
	if line < 1 || line > s.buffer.Len() {
		return javacomplete.BufferRequest{}, errors.Newf("--line %d outside %s (%d lines)", line, s.path, s.buffer.Len())
	}
	if col < 1 {
		return javacomplete.BufferRequest{}, errors.Newf("--col must be positive (got %d)", col)
	}
	return javacomplete.BufferRequest{
		Path:     s.path,
		Buffer:   s.buffer,
		Cursor:   javacomplete.CursorPosition{Row: line, Column: col - 1},
		EditMode: editMode,
	}, nil
}

// withRetry runs op under a spinner, retrying while the service is unreachable.
func (s *session) withRetry(ctx context.Context, message string, op func() error) error {
	return withSpinner(message, func() error {
		return javacomplete.Retry(ctx, op, s.retries, retryDelay, s.logger)
	})
}

// withSpinner shows a spinner on an interactive stderr while op runs.
func withSpinner(message string, op func() error) error {
	if isTerminal(os.Stderr) {
		spinner := javacomplete.NewSpinner()
		spinner.Start(message)
		defer spinner.Stop()
	}
	return op()
}

// commandContext bounds a whole command by the async timeout plus a margin.
func (s *session) commandContext(parent context.Context) (context.Context, context.CancelFunc) {
	cfg := s.completer.GetCurrentConfig()
	return context.WithTimeout(parent, cfg.AsyncTimeout+cfg.SyncTimeout*time.Duration(max(s.retries, 1)))
}
