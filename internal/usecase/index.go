package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"docbot/internal/adapter/embedding"
	"docbot/internal/adapter/metrics"
	"docbot/internal/domain"
	"docbot/internal/port"
)

// IndexOptions tunes how documents are embedded.
type IndexOptions struct {
	BatchSize   int
	Concurrency int
}

// IndexUseCase is the embedding index: it embeds passages and commits them
// to the vector store atomically per document.
type IndexUseCase struct {
	embedder    port.Embedder
	vectors     port.VectorStore
	batchSize   int
	concurrency int
	logger      *zap.Logger
	metrics     *metrics.Metrics

	mu       sync.Mutex
	inflight map[string]struct{}
	onCommit []func(docID string)
}

// NewIndexUseCase creates a new index use case. It fails with
// domain.ErrEmbeddingMismatch if the store was built by another embedder.
func NewIndexUseCase(
	embedder port.Embedder,
	vectors port.VectorStore,
	opts IndexOptions,
	logger *zap.Logger,
	m *metrics.Metrics,
) (*IndexUseCase, error) {
	if fp := embedding.Fingerprint(embedder); fp != vectors.Fingerprint() {
		return nil, fmt.Errorf("%w: index built with %s, embedder is %s",
			domain.ErrEmbeddingMismatch, vectors.Fingerprint(), fp)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &IndexUseCase{
		embedder:    embedder,
		vectors:     vectors,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		logger:      logger,
		metrics:     m,
		inflight:    make(map[string]struct{}),
	}, nil
}

// OnCommit registers fn to run after every successful commit or removal.
func (u *IndexUseCase) OnCommit(fn func(docID string)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onCommit = append(u.onCommit, fn)
}

// Ingest embeds passages and replaces the document's chunks with them.
// Either every passage becomes searchable or, on any failure, the index is
// left exactly as it was and the error wraps domain.ErrIngestFailure.
// A concurrent Ingest of the same document fails with
// domain.ErrIngestInProgress.
func (u *IndexUseCase) Ingest(ctx context.Context, doc domain.Document, passages []domain.Passage) (domain.Document, error) {
	start := time.Now()

	if strings.TrimSpace(doc.ID) == "" {
		return domain.Document{}, fmt.Errorf("%w: document id is required", domain.ErrInvalidInput)
	}
	if len(passages) == 0 {
		return domain.Document{}, fmt.Errorf("%w: document %s has no passages", domain.ErrInvalidInput, doc.ID)
	}

	if !u.acquire(doc.ID) {
		u.metrics.ObserveIngest("conflict", 0, time.Since(start))
		return domain.Document{}, fmt.Errorf("%w: %s", domain.ErrIngestInProgress, doc.ID)
	}
	defer u.release(doc.ID)

	vectors, err := u.embedAll(ctx, passages)
	if err != nil {
		u.metrics.ObserveIngest("failed", 0, time.Since(start))
		u.logger.Warn("ingest failed while embedding",
			zap.String("doc_id", doc.ID), zap.Int("passages", len(passages)), zap.Error(err))
		return domain.Document{}, fmt.Errorf("%w: %s: %w", domain.ErrIngestFailure, doc.ID, err)
	}

	chunks := make([]domain.Chunk, 0, len(passages))
	for i, p := range passages {
		chunk, err := domain.NewChunk(doc.ID, i, p, vectors[i])
		if err != nil {
			u.metrics.ObserveIngest("failed", 0, time.Since(start))
			return domain.Document{}, fmt.Errorf("%w: %w", domain.ErrIngestFailure, err)
		}
		chunks = append(chunks, chunk)
	}

	doc.ChunkCount = len(chunks)
	doc.IngestedAt = time.Now().UTC()

	if err := u.vectors.Commit(doc, chunks); err != nil {
		u.metrics.ObserveIngest("failed", 0, time.Since(start))
		return domain.Document{}, fmt.Errorf("%w: %s: commit: %w", domain.ErrIngestFailure, doc.ID, err)
	}

	u.runHooks(doc.ID)

	u.metrics.ObserveIngest("ok", len(chunks), time.Since(start))
	u.logger.Info("document indexed",
		zap.String("doc_id", doc.ID),
		zap.String("filename", doc.Filename),
		zap.Int("chunks", len(chunks)),
		zap.Duration("took", time.Since(start)))

	return doc, nil
}

// embedAll embeds passages in batches, running up to u.concurrency batches
// at once. The first failing batch cancels the rest.
func (u *IndexUseCase) embedAll(ctx context.Context, passages []domain.Passage) ([][]float32, error) {
	vectors := make([][]float32, len(passages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.concurrency)

	for start := 0; start < len(passages); start += u.batchSize {
		start := start
		end := start + u.batchSize
		if end > len(passages) {
			end = len(passages)
		}

		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			texts := make([]string, 0, end-start)
			for _, p := range passages[start:end] {
				texts = append(texts, p.Content)
			}

			out, err := u.embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("passages %d-%d: %w", start, end-1, err)
			}
			if len(out) != len(texts) {
				return fmt.Errorf("passages %d-%d: expected %d embeddings, got %d", start, end-1, len(texts), len(out))
			}
			copy(vectors[start:end], out)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	dim := u.embedder.Dimension()
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("passage %d has no embedding", i)
		}
		if dim > 0 && len(v) != dim {
			return nil, fmt.Errorf("passage %d: embedding dimension %d, expected %d", i, len(v), dim)
		}
	}
	return vectors, nil
}

// Remove deletes a document and its chunks. It fails with
// domain.ErrNotFound for an unknown document and with
// domain.ErrIngestInProgress while the document is being ingested.
func (u *IndexUseCase) Remove(docID string) error {
	if !u.acquire(docID) {
		return fmt.Errorf("%w: %s", domain.ErrIngestInProgress, docID)
	}
	defer u.release(docID)

	if !u.vectors.Has(docID) {
		return fmt.Errorf("%w: document %s", domain.ErrNotFound, docID)
	}
	if err := u.vectors.Remove(docID); err != nil {
		return fmt.Errorf("failed to remove %s: %w", docID, err)
	}

	u.runHooks(docID)
	u.logger.Info("document removed", zap.String("doc_id", docID))
	return nil
}

func (u *IndexUseCase) runHooks(docID string) {
	u.mu.Lock()
	hooks := append([]func(string){}, u.onCommit...)
	u.mu.Unlock()
	for _, fn := range hooks {
		fn(docID)
	}
}

// Search returns the k chunks closest to vector, optionally scoped to docID.
func (u *IndexUseCase) Search(vector []float32, k int, docID string) ([]domain.RetrievalResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", domain.ErrInvalidInput, k)
	}
	return u.vectors.Search(vector, k, docID)
}

func (u *IndexUseCase) Count() int {
	return u.vectors.Count()
}

func (u *IndexUseCase) acquire(docID string) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, busy := u.inflight[docID]; busy {
		return false
	}
	u.inflight[docID] = struct{}{}
	return true
}

func (u *IndexUseCase) release(docID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.inflight, docID)
}
