package main

import (
	"expvar"
	"io"
	stlog "log"
	"log/slog"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers
	"os"
	"runtime"

	"github.com/cockroachdb/errors"

	"github.com/shehackedyou/javacomplete"
)

// App version (set via linker flags -ldflags="-X main.appVersion=...")
var appVersion = "dev"

const debugListenAddr = "localhost:6062"

func main() {
	// Stdout carries the protocol; logs go to stderr and a file.
	logFile, err := os.OpenFile("javacomplete-lsp.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660)
	if err != nil {
		stlog.Fatalf("Failed to open log file: %v", err)
	}
	defer logFile.Close()
	logWriter := io.MultiWriter(os.Stderr, logFile)

	tempLogger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: slog.LevelInfo}))

	completer, initErr := javacomplete.NewJavaCompleter(tempLogger)
	if initErr != nil {
		tempLogger.Error("Failed to initialize JavaCompleter service", "error", initErr)
		if !errors.Is(initErr, javacomplete.ErrConfig) {
			os.Exit(1)
		}
		if completer == nil {
			tempLogger.Error("JavaCompleter initialization returned nil unexpectedly, exiting.")
			os.Exit(1)
		}
	}
	defer func() {
		slog.Info("Closing JavaCompleter service...")
		if err := completer.Close(); err != nil {
			slog.Error("Error closing completer", "error", err)
		}
	}()

	// --- Setup Global Logger ---
	initialConfig := completer.GetCurrentConfig()
	logLevel, parseLevelErr := javacomplete.ParseLogLevel(initialConfig.LogLevel)
	if parseLevelErr != nil {
		logLevel = slog.LevelInfo
		tempLogger.Warn("Invalid log level in config, using default 'info'", "config_level", initialConfig.LogLevel, "error", parseLevelErr)
	}
	levelVar := new(slog.LevelVar)
	levelVar.Set(logLevel)
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: levelVar, AddSource: true}))
	slog.SetDefault(logger)

	slog.Info("javacomplete LSP server starting...", "version", appVersion, "log_level", logLevel.String(), "service_url", initialConfig.ServiceURL)
	if initErr != nil {
		slog.Warn("JavaCompleter initialized with configuration warnings", "error", initErr)
	}

	// --- Config Hot Reload ---
	if watcher := watchConfig(completer, levelVar, logger); watcher != nil {
		defer watcher.Close()
	}

	// --- Setup Profiling & Metrics ---
	runtime.SetBlockProfileRate(1)
	runtime.SetMutexProfileFraction(1)
	slog.Info("Enabled block and mutex profiling")
	startDebugServer()

	lspServer := javacomplete.NewServer(completer, logger, levelVar, appVersion)
	lspServer.Run(os.Stdin, os.Stdout)

	slog.Info("LSP server has shut down gracefully.")
}

// watchConfig reloads the primary config file into the completer when it changes.
func watchConfig(completer *javacomplete.JavaCompleter, levelVar *slog.LevelVar, logger *slog.Logger) *javacomplete.ConfigWatcher {
	primary, _, err := javacomplete.GetConfigPaths(logger)
	if err != nil || primary == "" {
		logger.Warn("Config hot reload disabled: no config path", "error", err)
		return nil
	}
	watcher, err := javacomplete.WatchConfigFile(primary, func(cfg javacomplete.Config) error {
		if err := completer.UpdateConfig(cfg); err != nil {
			return err
		}
		if level, err := javacomplete.ParseLogLevel(cfg.LogLevel); err == nil {
			levelVar.Set(level)
		}
		return nil
	}, logger)
	if err != nil {
		logger.Warn("Config hot reload disabled", "path", primary, "error", err)
		return nil
	}
	return watcher
}

// startDebugServer starts the HTTP server for pprof and expvar.
func startDebugServer() {
	go func() {
		slog.Info("Starting debug server for pprof/expvar", "addr", debugListenAddr)
		debugMux := http.NewServeMux()
		debugMux.HandleFunc("/debug/pprof/", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/cmdline", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/profile", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/symbol", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/pprof/trace", http.DefaultServeMux.ServeHTTP)
		debugMux.HandleFunc("/debug/vars", expvar.Handler().ServeHTTP)
		if err := http.ListenAndServe(debugListenAddr, debugMux); err != nil {
			slog.Error("Debug server failed", "error", err)
		}
	}()
}
