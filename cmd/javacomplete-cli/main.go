package main

import (
	"log/slog"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/shehackedyou/javacomplete"
)

// Set at build time
var version = "dev"

// logLevel is the default logger's level. The CLI stays at warn unless --log-level
// is given, whatever the config file says.
var logLevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:   "javacomplete",
	Short: "Java completion client for the analysis service",
	Long: `javacomplete sends Java buffers to the analysis service and prints completions,
definitions and documentation, or fixes missing imports in place.`,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
}

func main() {
	rootCmd.Version = version

	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(implementCmd)
	rootCmd.AddCommand(defineCmd)
	rootCmd.AddCommand(documentCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(fixCmd)

	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error); overrides config")
	rootCmd.PersistentFlags().String("service-url", "", "analysis service URL; overrides config")
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Int("retries", 2, "attempts for requests that fail to reach the service")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setupLogging installs the stderr logger and the color mode before any command runs.
func setupLogging(cmd *cobra.Command, args []string) error {
	levelStr, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return err
	}
	logLevel.Set(slog.LevelWarn)
	if levelStr != "" {
		parsed, parseErr := javacomplete.ParseLogLevel(levelStr)
		if parseErr != nil {
			return errors.Wrapf(parseErr, "--log-level")
		}
		logLevel.Set(parsed)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	mode, err := cmd.Flags().GetString("color")
	if err != nil {
		return err
	}
	switch mode {
	case "on":
		color.NoColor = false
	case "off":
		color.NoColor = true
	case "auto":
		color.NoColor = !isTerminal(os.Stdout)
	default:
		return errors.Newf("--color must be auto, on or off (got %q)", mode)
	}
	return nil
}

// isTerminal reports whether f is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
