package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"docbot/internal/adapter/metrics"
	"docbot/internal/domain"
	"docbot/internal/port"
)

// PendingSummaryText is the summary of a document that has been ingested
// but not yet queried with a document scope.
const PendingSummaryText = "Summary not generated yet."

// QueryRequest is the query boundary. An empty DocID searches every
// document; TopK of zero uses the configured default.
type QueryRequest struct {
	Question string `json:"question"`
	DocID    string `json:"doc_id,omitempty"`
	TopK     int    `json:"top_k,omitempty"`
}

// Answer is one retrieved passage with its provenance.
type Answer struct {
	Content  string          `json:"content"`
	Score    float64         `json:"score"`
	Citation domain.Citation `json:"citation"`
}

type QueryResponse struct {
	Summary   string            `json:"summary"`
	Answers   []Answer          `json:"answers"`
	Citations []domain.Citation `json:"citations,omitempty"`
	Failed    bool              `json:"synthesis_failed,omitempty"`
}

// QueryUseCase answers a question with ranked, cited passages and a
// thematic summary of them.
type QueryUseCase struct {
	retrieve   *RetrieveUseCase
	synthesize *SynthesizeUseCase
	docs       port.DocumentStore
	syntheses  port.SynthesisStore
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

func NewQueryUseCase(
	retrieve *RetrieveUseCase,
	synthesize *SynthesizeUseCase,
	docs port.DocumentStore,
	syntheses port.SynthesisStore,
	logger *zap.Logger,
	m *metrics.Metrics,
) *QueryUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryUseCase{
		retrieve:   retrieve,
		synthesize: synthesize,
		docs:       docs,
		syntheses:  syntheses,
		logger:     logger,
		metrics:    m,
	}
}

// Query retrieves passages for req and synthesizes a summary. A failed
// synthesis does not fail the query: the answers are returned unchanged
// with the fallback summary.
func (u *QueryUseCase) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()
	docID := strings.TrimSpace(req.DocID)

	// The document version is read before retrieval so a re-ingest that
	// lands while the query runs discards its synthesis.
	var version time.Time
	persist := false
	if docID != "" {
		if doc, err := u.docs.GetDoc(docID); err == nil {
			version, persist = doc.IngestedAt, true
		}
	}

	results, err := u.retrieve.Retrieve(ctx, req.Question, docID, req.TopK)
	if err != nil {
		u.metrics.ObserveQuery(docID != "", errorStatus(err), time.Since(start))
		return nil, err
	}

	answers := make([]Answer, 0, len(results))
	for _, r := range results {
		c, err := domain.Cite(r.Chunk)
		if err != nil {
			u.metrics.ObserveQuery(docID != "", "provenance_gap", time.Since(start))
			return nil, err
		}
		answers = append(answers, Answer{
			Content:  r.Chunk.Content,
			Score:    r.Score,
			Citation: c,
		})
	}

	syn, err := u.synthesize.Synthesize(ctx, strings.TrimSpace(req.Question), results)
	if err != nil {
		u.metrics.ObserveQuery(docID != "", "provenance_gap", time.Since(start))
		return nil, err
	}

	if persist && !syn.Failed && len(results) > 0 {
		err := u.syntheses.PutSynthesis(docID, version, syn)
		switch {
		case errors.Is(err, domain.ErrDocumentChanged):
			u.logger.Debug("discarding synthesis of a replaced document", zap.String("doc_id", docID))
		case err != nil:
			u.logger.Warn("failed to store synthesis", zap.String("doc_id", docID), zap.Error(err))
		}
	}

	u.metrics.ObserveQuery(docID != "", "ok", time.Since(start))
	u.logger.Debug("query answered",
		zap.String("doc_id", docID),
		zap.Int("answers", len(answers)),
		zap.Bool("synthesis_failed", syn.Failed),
		zap.Duration("took", time.Since(start)))

	return &QueryResponse{
		Summary:   syn.Text,
		Answers:   answers,
		Citations: syn.Citations,
		Failed:    syn.Failed,
	}, nil
}

// LatestSynthesis returns the last successful scoped synthesis of docID,
// or a placeholder if the document has not been queried yet.
func (u *QueryUseCase) LatestSynthesis(docID string) (domain.Synthesis, error) {
	doc, err := u.docs.GetDoc(docID)
	if err != nil {
		return domain.Synthesis{}, err
	}

	syn, err := u.syntheses.GetSynthesis(doc.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Synthesis{Text: PendingSummaryText, CreatedAt: doc.IngestedAt}, nil
	}
	if err != nil {
		return domain.Synthesis{}, fmt.Errorf("failed to read synthesis for %s: %w", docID, err)
	}
	return syn, nil
}

// Documents lists ingested documents, oldest first.
func (u *QueryUseCase) Documents() ([]domain.Document, error) {
	return u.docs.ListDocs()
}

func errorStatus(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, domain.ErrEmbeddingMismatch):
		return "mismatch"
	default:
		return "error"
	}
}
