package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/shehackedyou/javacomplete"
)

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Print the request the client would send for a cursor",
	Long:  "Extract the context window around the cursor and print the request envelope as JSON. The service is not contacted.",
	Args:  cobra.NoArgs,
	RunE:  runContext,
}

var completeCmd = &cobra.Command{
	Use:   "complete",
	Short: "List completions at a cursor",
	Args:  cobra.NoArgs,
	RunE:  runComplete,
}

var implementCmd = &cobra.Command{
	Use:   "implement",
	Short: "List methods that can be implemented at a cursor",
	Long:  "List the methods the enclosing class can implement or override. With --choose, print the @Override stub for one of them.",
	Args:  cobra.NoArgs,
	RunE:  runImplement,
}

var defineCmd = &cobra.Command{
	Use:   "define",
	Short: "Print the declaration location of the symbol at a cursor",
	Args:  cobra.NoArgs,
	RunE:  runDefine,
}

var documentCmd = &cobra.Command{
	Use:   "document",
	Short: "Print the documentation of the symbol at a cursor",
	Args:  cobra.NoArgs,
	RunE:  runDocument,
}

var importCmd = &cobra.Command{
	Use:   "import --file <file.java> <qualified.Name>...",
	Short: "Insert import statements into a file",
	Long:  "Insert each import at its grouped position. Imports already present are left alone. Without --write the result is printed.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runImport,
}

var fixCmd = &cobra.Command{
	Use:   "fix --file <file.java>",
	Short: "Resolve missing imports reported by the service",
	Long: `Send the file to the service, wait for the unresolved symbols it reports and insert
the imports that need no decision. Ambiguous symbols are listed with numbered candidates;
pick one with --accept Symbol=N.`,
	Args: cobra.NoArgs,
	RunE: runFix,
}

func init() {
	for _, cmd := range []*cobra.Command{contextCmd, completeCmd, implementCmd, defineCmd, documentCmd} {
		addCursorFlags(cmd)
	}
	implementCmd.Flags().String("choose", "", "method name to expand into an @Override stub")

	importCmd.Flags().String("file", "", "path to the Java source file (required)")
	importCmd.Flags().Bool("write", false, "write the result back to the file")
	_ = importCmd.MarkFlagRequired("file")

	fixCmd.Flags().String("file", "", "path to the Java source file (required)")
	fixCmd.Flags().Bool("write", false, "write the result back to the file")
	fixCmd.Flags().StringSlice("accept", nil, "resolve an ambiguous symbol: Symbol=N picks candidate N (1-based)")
	_ = fixCmd.MarkFlagRequired("file")
}

func runContext(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	req, err := s.request(cmd)
	if err != nil {
		return err
	}
	envelope, err := s.completer.BuildRequest(req)
	if err != nil {
		return err
	}
	encoded, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding request")
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
	return nil
}

func runComplete(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	req, err := s.request(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := s.commandContext(cmd.Context())
	defer cancel()

	var result javacomplete.CompletionResult
	err = s.withRetry(ctx, "Requesting completions...", func() error {
		var callErr error
		result, callErr = s.completer.Complete(ctx, req)
		return callErr
	})
	if err != nil {
		if errors.Is(err, javacomplete.ErrFallback) && javacomplete.ClassifyError(err) == javacomplete.KindOther {
			fmt.Fprintln(cmd.ErrOrStderr(), styleDim("no completions"))
			return nil
		}
		return err
	}
	printCompletionMenu(cmd.OutOrStdout(), result)
	return nil
}

func runImplement(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	req, err := s.request(cmd)
	if err != nil {
		return err
	}
	choose, err := cmd.Flags().GetString("choose")
	if err != nil {
		return err
	}
	ctx, cancel := s.commandContext(cmd.Context())
	defer cancel()

	var result javacomplete.CompletionResult
	err = s.withRetry(ctx, "Requesting implementable methods...", func() error {
		var callErr error
		result, callErr = s.completer.FetchImplementations(ctx, req)
		return callErr
	})
	if err != nil {
		return err
	}
	if choose == "" {
		printCompletionMenu(cmd.OutOrStdout(), result)
		return nil
	}
	snippet, ok := s.completer.ExpandImplementation(choose)
	if !ok {
		return errors.Newf("no implementable method named %q", choose)
	}
	fmt.Fprintln(cmd.OutOrStdout(), snippet)
	return nil
}

func runDefine(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	req, err := s.request(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := s.commandContext(cmd.Context())
	defer cancel()

	var def javacomplete.Definition
	err = s.withRetry(ctx, "Resolving definition...", func() error {
		var callErr error
		def, callErr = s.completer.Define(ctx, req)
		return callErr
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s:%d\n", stylePath(def.Path), def.Line)
	return nil
}

func runDocument(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	req, err := s.request(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := s.commandContext(cmd.Context())
	defer cancel()

	var doc javacomplete.Documentation
	err = s.withRetry(ctx, "Fetching documentation...", func() error {
		var callErr error
		doc, callErr = s.completer.Document(ctx, req)
		return callErr
	})
	if err != nil {
		return err
	}
	printDocumentation(cmd.OutOrStdout(), doc)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	write, err := cmd.Flags().GetBool("write")
	if err != nil {
		return err
	}
	for _, path := range args {
		inserted, err := javacomplete.InsertImport(s.buffer, path)
		if err != nil {
			return errors.Wrapf(err, "inserting %s", path)
		}
		if inserted == 0 {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", styleDim("already imported:"), path)
			continue
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "%s %s\n", styleAdded("imported:"), path)
	}
	return finishBuffer(cmd, s, write)
}

func runFix(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	write, err := cmd.Flags().GetBool("write")
	if err != nil {
		return err
	}
	acceptSpecs, err := cmd.Flags().GetStringSlice("accept")
	if err != nil {
		return err
	}
	accepts, err := parseAccepts(acceptSpecs)
	if err != nil {
		return err
	}
	if s.buffer.Len() == 0 {
		return errors.Newf("%s is empty", s.path)
	}

	ctx, cancel := s.commandContext(cmd.Context())
	defer cancel()
	if err := s.completer.UpdateBuffer(javacomplete.BufferRequest{Path: s.path, Buffer: s.buffer, Cursor: javacomplete.CursorPosition{Row: 1}}); err != nil {
		return err
	}

	var result javacomplete.TickResult
	err = withSpinner("Waiting for unresolved symbols...", func() error {
		var tickErr error
		result, tickErr = waitForTick(ctx, s)
		return tickErr
	})
	if err != nil {
		return err
	}

	out := cmd.ErrOrStderr()
	for _, applied := range result.Applied {
		fmt.Fprintf(out, "%s %s\n", styleAdded("imported:"), applied.Path)
	}
	for _, fix := range result.Pending {
		choice, ok := accepts[fix.Symbol]
		if !ok {
			printPendingFix(out, fix)
			continue
		}
		applied, inserted, err := s.completer.AcceptFix(s.buffer, fix, choice)
		if err != nil {
			return errors.Wrapf(err, "accepting %s", fix.Symbol)
		}
		if inserted > 0 {
			fmt.Fprintf(out, "%s %s\n", styleAdded("imported:"), applied.Path)
		}
	}
	return finishBuffer(cmd, s, write)
}

// waitForTick polls the completer until the update reply has been consumed.
func waitForTick(ctx context.Context, s *session) (javacomplete.TickResult, error) {
	resolve := func(path string) javacomplete.LineBuffer {
		if path == s.path {
			return s.buffer
		}
		return nil
	}
	ticker := time.NewTicker(s.completer.GetCurrentConfig().TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return javacomplete.TickResult{}, errors.Mark(errors.Wrap(ctx.Err(), "no reply to update"), javacomplete.ErrTransport)
		case <-ticker.C:
			if result, ok := s.completer.Tick(resolve); ok {
				return result, nil
			}
		}
	}
}

// parseAccepts reads Symbol=N specs into 0-based choices.
func parseAccepts(specs []string) (map[string]int, error) {
	accepts := make(map[string]int, len(specs))
	for _, spec := range specs {
		symbol, index, ok := strings.Cut(spec, "=")
		if !ok || symbol == "" {
			return nil, errors.Newf("--accept %q: want Symbol=N", spec)
		}
		n, err := strconv.Atoi(index)
		if err != nil || n < 1 {
			return nil, errors.Newf("--accept %q: N must be a positive number", spec)
		}
		accepts[symbol] = n - 1
	}
	return accepts, nil
}

// finishBuffer writes the buffer back with --write, or prints it.
func finishBuffer(cmd *cobra.Command, s *session, write bool) error {
	if write {
		return javacomplete.WriteBufferToFile(s.path, s.buffer, s.logger)
	}
	fmt.Fprint(cmd.OutOrStdout(), s.buffer.String())
	return nil
}
