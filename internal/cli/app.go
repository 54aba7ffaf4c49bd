package cli

import (
	"fmt"

	"go.uber.org/zap"

	"docbot/config"
	"docbot/internal/adapter/cache"
	"docbot/internal/adapter/chunker"
	"docbot/internal/adapter/embedding"
	"docbot/internal/adapter/llm"
	"docbot/internal/adapter/metrics"
	"docbot/internal/adapter/retriever"
	"docbot/internal/adapter/retry"
	"docbot/internal/adapter/store"
	"docbot/internal/port"
	"docbot/internal/usecase"
)

// app holds the wired components shared by every command.
type app struct {
	store   *store.BoltStore
	index   *usecase.IndexUseCase
	ingest  *usecase.IngestUseCase
	query   *usecase.QueryUseCase
	metrics *metrics.Metrics

	generator port.Generator
}

type appOptions struct {
	// reset clears the index before the embedder is pinned.
	reset bool
}

func openApp(cfg *config.Config, dir string, opts appOptions) (*app, error) {
	if err := config.EnsureDataDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create .docbot directory: %w", err)
	}

	st, err := store.NewBoltStore(config.IndexDBPath(dir))
	if err != nil {
		return nil, fmt.Errorf("failed to open index store: %w", err)
	}

	a, err := wire(cfg, st, opts)
	if err != nil {
		st.Close()
		return nil, err
	}
	return a, nil
}

func wire(cfg *config.Config, st *store.BoltStore, opts appOptions) (*app, error) {
	if opts.reset {
		logger.Info("clearing index")
		if err := st.Clear(); err != nil {
			return nil, fmt.Errorf("failed to clear index: %w", err)
		}
	}

	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	vectors, err := store.NewBoltVectorStore(st, embedding.Fingerprint(embedder), embedder.Dimension())
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index (run 'docbot ingest --reset' after changing the embedding model): %w", err)
	}

	m := metrics.New()
	m.TrackIndexSize(vectors.Count)

	index, err := usecase.NewIndexUseCase(embedder, vectors, usecase.IndexOptions{
		BatchSize:   cfg.Embedding.BatchSize,
		Concurrency: cfg.Index.EmbedConcurrency,
	}, logger, m)
	if err != nil {
		return nil, err
	}

	queryCache := cache.NewQueryCache(cfg.Retrieve.CacheSize, config.Seconds(cfg.Retrieve.CacheTTLSecs))
	index.OnCommit(func(string) { queryCache.Invalidate() })

	semantic := retriever.NewSemanticRetriever(vectors, embedder)
	retrieveUC := usecase.NewRetrieveUseCase(cache.NewCachedRetriever(semantic, queryCache, m), cfg.Retrieve.TopK)

	generator := newGenerator(cfg.Generation)
	synthesizeUC, err := usecase.NewSynthesizeUseCase(generator, usecase.SynthesisOptions{
		TemplatePath:    cfg.Synthesis.TemplatePath,
		MaxContextChars: cfg.Synthesis.MaxContextChars,
		Timeout:         config.Seconds(cfg.Generation.TimeoutSecs),
	}, logger, m)
	if err != nil {
		return nil, err
	}

	chk := chunker.NewParagraphChunker(
		cfg.Chunk.MinChars,
		cfg.Chunk.MaxChars,
		cfg.Chunk.OverlapFraction,
		cfg.Chunk.ParagraphsPerPage,
	)

	return &app{
		store:   st,
		index:   index,
		ingest:  usecase.NewIngestUseCase(chk, index),
		query:   usecase.NewQueryUseCase(retrieveUC, synthesizeUC, st, st, logger, m),
		metrics: m,

		generator: generator,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// health describes the index and the generation client for GET /healthz.
func (a *app) health() map[string]any {
	status := map[string]any{
		"chunks":    a.index.Count(),
		"generator": "unavailable",
	}
	if info, err := a.store.GetSchemaInfo(); err == nil {
		status["schema_version"] = info.Version
		status["embedder"] = info.Embedder
	} else {
		logger.Warn("failed to read schema info", zap.Error(err))
	}
	if g, ok := a.generator.(*llm.GuardedGenerator); ok {
		status["generator"] = g.State().String()
	}
	return status
}

func newEmbedder(c config.EmbeddingConfig) (port.Embedder, error) {
	opts := embedding.Options{
		BaseURL:           c.BaseURL,
		Dimension:         c.Dimension,
		BatchSize:         c.BatchSize,
		Timeout:           config.Seconds(c.TimeoutSecs),
		RequestsPerSecond: c.RequestsPerSecond,
		Retry:             policy(c.MaxRetries),
	}

	return embedding.New(c.Provider, c.Model, c.APIKeyEnv, opts)
}

// newGenerator builds the guarded generation client. Without credentials
// queries still return passages, with the fallback summary.
func newGenerator(c config.GenerationConfig) port.Generator {
	client, err := llm.NewClient(llm.Options{
		Provider:    c.Provider,
		Model:       c.Model,
		BaseURL:     c.BaseURL,
		APIKeyEnv:   c.APIKeyEnv,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		Timeout:     config.Seconds(c.TimeoutSecs),
	})
	if err != nil {
		logger.Warn("theme synthesis disabled", zap.Error(err))
		return llm.Unavailable{Reason: err}
	}

	return llm.NewGuardedGenerator(client, policy(c.MaxRetries), llm.BreakerSettings{
		ConsecutiveFailures: uint32(c.BreakerFailures),
		OpenTimeout:         config.Seconds(c.BreakerResetSecs),
	}, logger)
}

func policy(maxRetries int) retry.Policy {
	p := retry.DefaultPolicy()
	p.MaxRetries = maxRetries
	return p
}
