package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docbot/config"
	"docbot/internal/adapter/store"
	"docbot/internal/domain"
	"docbot/internal/usecase"
)

func TestOpenApp_IngestAndQueryWithoutModel(t *testing.T) {
	logger = zap.NewNop()
	t.Setenv("OPENAI_API_KEY", "")

	dir := t.TempDir()
	cfg := config.DefaultConfig()

	a, err := openApp(cfg, dir, appOptions{})
	require.NoError(t, err)

	res, err := a.ingest.Ingest(context.Background(), usecase.IngestRequest{
		Filename: "report.txt",
		Text:     "Revenue grew 10% in Q1.\nCosts also rose due to hiring.\nNet margin improved slightly.",
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chunks)

	resp, err := a.query.Query(context.Background(), usecase.QueryRequest{Question: "How did revenue change?", DocID: res.DocID})
	require.NoError(t, err)
	assert.Equal(t, usecase.FallbackSynthesisText, resp.Summary)
	require.NotEmpty(t, resp.Answers)
	assert.Equal(t, domain.Citation{Page: 1, ParagraphIndex: 0, DocID: res.DocID}, resp.Answers[0].Citation)

	health := a.health()
	assert.Equal(t, 3, health["chunks"])
	assert.Equal(t, "unavailable", health["generator"])
	assert.Equal(t, store.CurrentSchemaVersion, health["schema_version"])
	assert.NotEmpty(t, health["embedder"])
	require.NoError(t, a.Close())

	// The index survives a restart.
	a, err = openApp(cfg, dir, appOptions{})
	require.NoError(t, err)
	docs, err := a.query.Documents()
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, res.DocID, docs[0].ID)
	require.NoError(t, a.Close())

	// A different embedder is refused until the index is reset.
	cfg.Embedding.Dimension = 64
	_, err = openApp(cfg, dir, appOptions{})
	assert.ErrorIs(t, err, domain.ErrEmbeddingMismatch)

	a, err = openApp(cfg, dir, appOptions{reset: true})
	require.NoError(t, err)
	docs, err = a.query.Documents()
	require.NoError(t, err)
	assert.Empty(t, docs)
	require.NoError(t, a.Close())
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	_, err := newEmbedder(config.EmbeddingConfig{Provider: "nope"})
	assert.Error(t, err)
}
