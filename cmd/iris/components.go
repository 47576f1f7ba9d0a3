package main

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperjump/iris/internal/assistant"
	"github.com/hyperjump/iris/internal/config"
	"github.com/hyperjump/iris/internal/extract"
	"github.com/hyperjump/iris/internal/gateway"
	"github.com/hyperjump/iris/internal/generation"
	"github.com/hyperjump/iris/internal/indexer"
	"github.com/hyperjump/iris/internal/keyword"
	"github.com/hyperjump/iris/internal/ledger"
	"github.com/hyperjump/iris/internal/runlog"
	"github.com/hyperjump/iris/internal/session"
	"github.com/hyperjump/iris/internal/storage"
	"github.com/hyperjump/iris/internal/vector"
	"go.uber.org/zap"
)

// Components holds the wired services shared by the server and CLI commands.
type Components struct {
	Config       *config.Config
	Store        *storage.SQLiteStore // nil unless storage.persist_ledger
	Ledger       *ledger.Ledger
	VectorIndex  *vector.FlatIndex
	KeywordIndex keyword.KeywordIndex
	Extractor    extract.Extractor
	Gateway      *gateway.OllamaClient
	Indexer      *indexer.Indexer
	Assistant    *assistant.Service
	RunLog       *runlog.Logger
	logger       *zap.Logger
}

// Close saves the vector index when the ledger is persisted and releases resources.
func (c *Components) Close() {
	if c.Store != nil && c.VectorIndex != nil {
		if err := c.VectorIndex.Save(c.Config.Storage.VectorIndexPath); err != nil {
			c.logger.Warn("vector index save failed", zap.String("path", c.Config.Storage.VectorIndexPath), zap.Error(err))
		}
	}
	if c.KeywordIndex != nil {
		_ = c.KeywordIndex.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
	if c.RunLog != nil {
		_ = c.RunLog.Close()
	}
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	c := &Components{Config: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	var ledgerOpts []ledger.Option
	ledgerOpts = append(ledgerOpts, ledger.WithLogger(logger))
	if cfg.Storage.PersistLedger {
		store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		c.Store = store
		ledgerOpts = append(ledgerOpts, ledger.WithPersister(store))
	}
	l, err := ledger.New(ctx, ledgerOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	c.Ledger = l

	vectors, err := vector.NewFlatIndex(cfg.Vector.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	if c.Store != nil {
		if err := vectors.Load(cfg.Storage.VectorIndexPath); err != nil {
			logger.Warn("vector index load skipped", zap.String("path", cfg.Storage.VectorIndexPath), zap.Error(err))
		}
	}
	c.VectorIndex = vectors

	if cfg.Storage.BleveIndexPath != "" {
		c.KeywordIndex, err = keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	} else {
		c.KeywordIndex, err = keyword.NewMemIndex()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
	}

	c.Extractor = newExtractor(cfg, logger)

	gwOpts := []gateway.Option{gateway.WithNumPredict(cfg.LLM.NumPredict)}
	if debug {
		gwOpts = append(gwOpts, gateway.WithLogger(logger))
	} else {
		gwOpts = append(gwOpts, gateway.WithLogger(logger.WithOptions(zap.IncreaseLevel(zap.WarnLevel))))
	}
	c.Gateway = gateway.NewOllamaClient(cfg.LLM.BaseURL, cfg.LLM.Timeout(), cfg.LLM.MaxRetriesOrDefault(), gwOpts...)

	runs, err := runlog.Open(cfg.RunLog.Path)
	if err != nil {
		logger.Warn("run log disabled", zap.String("path", cfg.RunLog.Path), zap.Error(err))
		runs = runlog.Nop()
	}
	c.RunLog = runs

	idxOpts := []indexer.IndexerOption{}
	if debug {
		idxOpts = append(idxOpts, indexer.WithLogger(logger))
	}
	c.Indexer = indexer.NewIndexer(c.Extractor, vectors, l, c.KeywordIndex, idxOpts...)
	n, err := c.Indexer.Reindex(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild keyword index: %w", err)
	}
	logger.Info("ledger loaded",
		zap.Int("entries", n),
		zap.Int("vectors", vectors.Size()),
		zap.Bool("persisted", c.Store != nil))

	orch := generation.NewOrchestrator(c.Gateway, generation.Options{
		MinDetailedChars: cfg.Reasoning.MinDetailedChars,
		HistoryWindow:    cfg.Reasoning.HistoryWindow,
	}, logger)
	sessions := session.NewStore(cfg.Reasoning.MaxSessions, cfg.Reasoning.MaxHistoryStore)
	c.Assistant = assistant.New(c.Extractor, orch, sessions,
		assistant.Options{DefaultModel: cfg.LLM.Model, HistoryWindow: cfg.Reasoning.HistoryWindow},
		assistant.WithLogger(logger),
		assistant.WithRunLog(runs),
		assistant.WithHealthChecker(c.Gateway))

	ok = true
	return c, nil
}

// newExtractor returns the feature service client, or the deterministic mock when no
// service URL is configured. Either way results are cached by image content.
func newExtractor(cfg *config.Config, logger *zap.Logger) extract.Extractor {
	var base extract.Extractor
	if cfg.Extractor.URL == "" {
		logger.Warn("no feature service configured; using mock extractor")
		base = extract.NewMockExtractor(cfg.Vector.Dimensions)
	} else {
		base = extract.NewHTTPExtractor(cfg.Extractor.URL,
			time.Duration(cfg.Extractor.TimeoutSeconds)*time.Second,
			extract.WithLogger(logger))
	}
	return extract.NewCachingExtractor(base, cfg.Extractor.CacheSize)
}

// inboxSink feeds watched files to the indexer.
type inboxSink struct {
	indexer    *indexer.Indexer
	extensions []string
	logger     *zap.Logger
}

func (s *inboxSink) IngestFile(ctx context.Context, path string) error {
	res, err := s.indexer.IngestFile(ctx, path, s.extensions, indexer.SourceWatch)
	if err != nil {
		return err
	}
	if res != nil {
		s.logger.Info("inbox image ingested", zap.String("path", path), zap.String("id", res.Entry.ID))
	}
	return nil
}

func (s *inboxSink) RemoveFile(ctx context.Context, path string) {
	if n := s.indexer.RemoveFile(ctx, path); n > 0 {
		s.logger.Info("inbox image removed", zap.String("path", path), zap.Int("entries", n))
	}
}
