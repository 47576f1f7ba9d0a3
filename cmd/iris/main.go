// Package main is the iris CLI entry point.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hyperjump/iris/internal/config"
	"github.com/hyperjump/iris/internal/server"
	"github.com/hyperjump/iris/internal/watcher"
	"github.com/hyperjump/iris/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/iris/config.yaml"
	defaultServerURL  = "http://localhost:8080"
)

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins (for development); a missing default file means environment variables and
// built-in defaults only. Returns the config and the path that was loaded ("" when none).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
		if path == defaultConfigPath {
			if _, err := os.Stat(path); err != nil {
				path = ""
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "server":
		runServer(args)
	case "describe":
		runDescribe(args)
	case "ingest":
		runIngest(args)
	case "search":
		runSearch(args)
	case "status":
		runStatus(args)
	case "health":
		runHealth(args)
	case "watch":
		runWatch(args)
	case "version", "--version", "-v":
		fmt.Printf("iris version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config and builds the logger for a subcommand.
func setup(configPath string, debugFlag bool) (*config.Config, string, *zap.Logger, bool) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return cfg, resolved, logger, debugMode
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (generation tiers, inbox events, etc.)")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, logger, debugMode := setup(*configPath, *debug)
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("llm_base_url", cfg.LLM.BaseURL),
		zap.String("model", cfg.LLM.Model),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	components, err := initializeComponents(ctx, cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	watchOpts := []watcher.WatcherOption{watcher.WithLogger(logger)}
	watchSvc := watcher.NewWatcher(watcher.Options{
		Roots:      cfg.Watch.Directories,
		Extensions: cfg.Watch.Extensions,
		Recursive:  cfg.Watch.RecursiveOrDefault(),
	}, &inboxSink{indexer: components.Indexer, extensions: cfg.Watch.Extensions, logger: logger}, watchOpts...)
	if err := watchSvc.Start(ctx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	go watchSvc.SyncExistingFiles()

	srv := server.NewServer(
		components.Assistant,
		components.Indexer,
		components.Ledger,
		components.VectorIndex,
		cfg,
		logger,
		watchSvc,
		resolvedConfigPath,
	)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchSvc.Stop()
	cancel()
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	_ = srv.Stop(stopCtx)
}

func printUsage() {
	fmt.Println(`iris - image question answering over a vision language model

Usage:
  iris server [flags]              Start the HTTP server
  iris describe [flags] <image>    Describe an image
  iris ingest [flags] <path>       Extract and index an image or a directory of images
  iris search [flags] <image>      Find similar ingested images
  iris status [flags]              Show ledger/index/session status
  iris health [flags]              Probe the generative endpoint
  iris watch <add|remove|list>     Manage inbox directories
  iris version                     Show version
  iris help                        Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/iris/config.yaml, then ./config.yaml)
  --debug            Enable debug logging

Describe Flags:
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") to run locally.
  --config string    Config file path (local mode)
  --prompt string    Question about the image (default: "Describe this image in detail.")
  --model string     Model override
  --output string    Output format: text or json (default: text)

Ingest Flags:
  --config string    Config file path. Set storage.persist_ledger to keep results.

Search Flags:
  --server string    Server URL (default: http://localhost:8080)
  --k int            Number of neighbors (default from server config)
  --output string    Output format: text or json (default: text)

Status Flags:
  --server string    Server URL (default: http://localhost:8080)
  --output string    Output format: text or json (default: text)

Health Flags:
  --config string    Config file path
  --model string     Model to probe (default from config)

Environment:
  OLLAMA_BASE_URL, OLLAMA_MODEL, OLLAMA_TIMEOUT_SECONDS, OLLAMA_MAX_RETRIES,
  OLLAMA_NUM_PREDICT, REASON_MIN_DETAILED_CHARS, REASON_HISTORY_WINDOW,
  REASON_MAX_HISTORY_STORE, REASON_MAX_SESSIONS, RUN_LOG_PATH,
  FEATURE_SERVICE_URL, UPLOAD_FOLDER override the config file.

Examples:
  iris server
  iris describe photo.jpg
  iris describe --prompt "How many people are there?" photo.jpg
  iris describe --server "" --output json photo.jpg
  iris ingest ~/Pictures/inbox
  iris search --k 3 photo.jpg
  iris health --model llava:7b
  iris watch add ~/Pictures/inbox`)
}
