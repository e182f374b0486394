package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"

	"github.com/ppiankov/nocap/internal/cache"
	"github.com/ppiankov/nocap/internal/embed"
	"github.com/ppiankov/nocap/internal/gather"
	"github.com/ppiankov/nocap/internal/llm"
	"github.com/ppiankov/nocap/internal/model"
	"github.com/ppiankov/nocap/internal/rag"
	"github.com/ppiankov/nocap/internal/store"
	"github.com/ppiankov/nocap/internal/verify"
)

// memoCleanup is how often expired memo entries are evicted
const memoCleanup = 10 * time.Minute

// app holds the constructed components of one command invocation
type app struct {
	cfg      *model.Config
	logger   *slog.Logger
	store    *store.Store
	engine   *rag.Engine
	gatherer *gather.Gatherer
	verifier *verify.Orchestrator // nil unless opened with a language model
}

// openApp constructs the store, retrieval engine and gatherer. When withLLM
// is set the language model provider and the orchestrator are built too.
func openApp(ctx context.Context, cfg *model.Config, logger *slog.Logger, withLLM bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	storeOpts := []store.Option{store.WithLogger(logger)}
	var pages cache.Cache
	if cfg.Cache.Enabled {
		storeOpts = append(storeOpts, store.WithMemo(cache.NewMemoryCache(cfg.Cache.MemoryTTL, memoCleanup), cfg.Cache.MemoryTTL))
		pages = cache.NewLayeredCache(cfg.Cache.MemoryTTL, cfg.Cache.Dir, cfg.Cache.DiskTTL)
	}

	st, err := store.Open(ctx, cfg.Store.Path, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st

	embedder, err := embed.New(ctx, cfg.Embedder)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	engine, err := rag.Open(ctx, rag.Options{
		Dir:       cfg.Index.Dir,
		Dimension: cfg.Embedder.Dimension,
		ChunkSize: cfg.Index.ChunkSize,
		Logger:    logger,
	}, embedder, st)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open indices: %w", err)
	}
	a.engine = engine

	fetcher := gather.NewFetcher(cfg.HTTP, pages, cfg.Cache.DiskTTL, logger)
	searcher := gather.NewDuckDuckGo(cfg.Search, cfg.HTTP)
	a.gatherer = gather.NewGatherer(searcher, fetcher, gather.NewAuthorityClassifier(&cfg.Authority), cfg.Pipeline.FetchWorkers, logger)

	if !withLLM {
		return a, nil
	}

	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg.LLM, cfg.HTTP))
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("create llm provider: %w", err)
	}

	a.verifier = verify.New(verify.Deps{
		Store:     st,
		Retriever: engine,
		Gatherer:  a.gatherer,
		LLM:       provider,
		Tokens:    llm.NewTokenCounter(),
		Logger:    logger,
	}, verify.OptionsFromConfig(cfg.Pipeline, cfg.LLM.MaxTokens))

	logger.Debug("components ready",
		slog.String("llm", provider.Name()),
		slog.String("embedder", embedder.Name()),
		slog.Int("dimension", embedder.Dimension()),
	)
	return a, nil
}

// Close flushes the indices and closes the store
func (a *app) Close() error {
	var errs []error
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// setup loads the configuration, the logger and the components
func setup(ctx context.Context, withLLM bool) (*app, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return openApp(ctx, cfg, newLogger(cfg), withLLM)
}
