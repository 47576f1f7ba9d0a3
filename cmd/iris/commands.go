package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"

	"github.com/hyperjump/iris/internal/assistant"
	"github.com/hyperjump/iris/internal/cli"
	"github.com/hyperjump/iris/internal/indexer"
	"github.com/hyperjump/iris/internal/models"
	"github.com/hyperjump/iris/internal/vector"
	"go.uber.org/zap"
)

func mustFormat(s string) cli.OutputFormat {
	format, err := cli.ParseFormat(s)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func runDescribe(args []string) {
	fs := flag.NewFlagSet("describe", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL (empty = run locally)")
	configPath := fs.String("config", defaultConfigPath, "config file path (local mode)")
	prompt := fs.String("prompt", "", "question about the image")
	model := fs.String("model", "", "model override")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(args))
	format := mustFormat(*output)
	if fs.NArg() < 1 {
		fail("Usage: iris describe [flags] <image>")
	}
	image := fs.Arg(0)

	var res assistant.DescribeResult
	if *serverURL != "" {
		err := newAPIClient(*serverURL).postImage("/describe", image, map[string]string{"prompt": *prompt, "model": *model}, &res)
		if err != nil {
			fail("Describe failed: %v", err)
		}
	} else {
		cfg, _, logger, debugMode := setup(*configPath, false)
		defer logger.Sync()
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		components, err := initializeComponents(ctx, cfg, logger, debugMode)
		if err != nil {
			fail("Failed to initialize: %v", err)
		}
		defer components.Close()
		out, err := components.Assistant.Describe(ctx, models.DescribeQuery{Prompt: *prompt, Model: *model, ImagePath: image, ImageName: filepath.Base(image)})
		if err != nil {
			fail("Describe failed: %v", err)
		}
		res = *out
		res.Features.Embedding = nil
	}
	if err := cli.WriteDescribe(os.Stdout, &res, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() < 1 {
		fail("Usage: iris ingest [flags] <image|directory>")
	}
	path := fs.Arg(0)

	cfg, _, logger, debugMode := setup(*configPath, *debug)
	defer logger.Sync()
	if !cfg.Storage.PersistLedger {
		logger.Warn("storage.persist_ledger is off; ingested entries will not outlive this command")
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	components, err := initializeComponents(ctx, cfg, logger, debugMode)
	if err != nil {
		fail("Failed to initialize: %v", err)
	}
	defer components.Close()

	info, err := os.Stat(path)
	if err != nil {
		fail("Failed to stat path: %v", err)
	}
	if info.IsDir() {
		n, err := components.Indexer.IngestDirectory(ctx, path, cfg.Watch.Extensions, indexer.SourceCLI)
		if err != nil {
			fail("Ingesting directory failed after %d image(s): %v", n, err)
		}
		fmt.Printf("Ingested %d image(s) from %s\n", n, path)
		return
	}
	res, err := components.Indexer.IngestFile(ctx, path, nil, indexer.SourceCLI)
	if err != nil {
		fail("Ingest failed: %v", err)
	}
	if res == nil {
		fmt.Printf("Unchanged: %s\n", path)
		return
	}
	fmt.Printf("Ingested %s as %s\n", res.Entry.ImageName, res.Entry.ID)
	if res.Entry.Caption != "" {
		fmt.Printf("Caption: %s\n", res.Entry.Caption)
	}
}

func runSearch(args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	k := fs.Int("k", 0, "number of neighbors (0 = server default)")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(args))
	format := mustFormat(*output)
	if fs.NArg() < 1 {
		fail("Usage: iris search [flags] <image>")
	}
	fields := map[string]string{}
	if *k > 0 {
		fields["k"] = strconv.Itoa(*k)
	}
	var res struct {
		Results []vector.Result `json:"results"`
	}
	if err := newAPIClient(*serverURL).postImage("/search", fs.Arg(0), fields, &res); err != nil {
		fail("Search failed: %v", err)
	}
	if err := cli.WriteMatches(os.Stdout, res.Results, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format := mustFormat(*output)

	var status cli.Status
	if err := newAPIClient(*serverURL).getJSON("/status", &status); err != nil {
		fail("Status failed: %v", err)
	}
	if err := cli.WriteStatus(os.Stdout, &status, format); err != nil {
		fail("Output failed: %v", err)
	}
}

func runHealth(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	model := fs.String("model", "", "model to probe (default from config)")
	_ = fs.Parse(args)

	cfg, _, logger, debugMode := setup(*configPath, false)
	defer logger.Sync()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	components, err := initializeComponents(ctx, cfg, logger, debugMode)
	if err != nil {
		fail("Failed to initialize: %v", err)
	}
	defer components.Close()

	status, err := components.Assistant.Health(ctx, *model)
	if err != nil {
		logger.Debug("health probe failed", zap.Error(err))
		fail("Unhealthy: %s: %v", cfg.LLM.BaseURL, err)
	}
	if err := cli.WriteJSON(os.Stdout, status); err != nil {
		fail("Output failed: %v", err)
	}
}

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	serverURL := fs.String("server", defaultServerURL, "server URL")
	if len(args) < 1 {
		fail("Usage: iris watch <add|remove|list> [path]")
	}
	sub := args[0]
	_ = fs.Parse(argsReorder(args[1:]))
	client := newAPIClient(*serverURL)

	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fail("Usage: iris watch add <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if err := client.sendJSON("POST", "/watch/directories", map[string]string{"path": path}, nil); err != nil {
			fail("Add failed: %v", err)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fail("Usage: iris watch remove <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if err := client.sendJSON("DELETE", "/watch/directories?path="+url.QueryEscape(path), nil, nil); err != nil {
			fail("Remove failed: %v", err)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := client.getJSON("/watch/directories", &out); err != nil {
			fail("List failed: %v", err)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fail("Unknown watch subcommand: %s", sub)
	}
}
