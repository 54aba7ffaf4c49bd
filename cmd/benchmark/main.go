package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"docbot/config"
	"docbot/internal/adapter/embedding"
	"docbot/internal/adapter/retriever"
	"docbot/internal/adapter/retry"
	"docbot/internal/adapter/store"
	"docbot/internal/domain"
)

func main() {
	dir := flag.String("dir", ".", "Data directory holding .docbot/")
	query := flag.String("q", "", "Question to test")
	docID := flag.String("doc-id", "", "Restrict the search to one document")
	topK := flag.Int("k", 10, "Number of results")
	flag.Parse()

	if *query == "" {
		fmt.Println("Usage: go run ./cmd/benchmark -dir ./data -q \"question\"")
		fmt.Println("\nReports:")
		fmt.Println("  1. Embedding setup (model, dimension, index size)")
		fmt.Println("  2. Similarity of the top passages to the question")
		fmt.Println("  3. Citation of every passage")
		os.Exit(1)
	}

	cfg, err := config.LoadFromDir(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	st, err := store.NewBoltStore(config.IndexDBPath(*dir))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening index: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.Embedding.MaxRetries
	embedder, err := embedding.New(cfg.Embedding.Provider, cfg.Embedding.Model, cfg.Embedding.APIKeyEnv, embedding.Options{
		BaseURL:           cfg.Embedding.BaseURL,
		Dimension:         cfg.Embedding.Dimension,
		BatchSize:         cfg.Embedding.BatchSize,
		Timeout:           config.Seconds(cfg.Embedding.TimeoutSecs),
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Retry:             policy,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Embedder init failed: %v\n", err)
		os.Exit(1)
	}

	vectors, err := store.NewBoltVectorStore(st, embedding.Fingerprint(embedder), embedder.Dimension())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Vector index unavailable: %v\n", err)
		os.Exit(1)
	}
	if vectors.Count() == 0 {
		fmt.Fprintln(os.Stderr, "No chunks indexed - run 'docbot ingest' first")
		os.Exit(1)
	}

	fmt.Println("RETRIEVAL BENCHMARK")
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("Chunks indexed: %d\n", vectors.Count())
	fmt.Printf("Embedder: %s\n", vectors.Fingerprint())
	fmt.Println()

	fmt.Printf("Query: \"%s\"\n", *query)
	if *docID != "" {
		fmt.Printf("Scope: %s\n", *docID)
	}
	fmt.Println(strings.Repeat("-", 70))

	r := retriever.NewSemanticRetriever(vectors, embedder)
	start := time.Now()
	results, err := r.Search(context.Background(), *query, *docID, *topK)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search error: %v\n", err)
		os.Exit(1)
	}
	took := time.Since(start)

	if len(results) == 0 {
		fmt.Println("No passages found.")
		return
	}

	fmt.Printf("Top %d passages (%s):\n\n", len(results), took.Round(time.Microsecond))

	totalScore := 0.0
	for i, res := range results {
		citation, err := domain.Cite(res.Chunk)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Citation error: %v\n", err)
			os.Exit(1)
		}

		preview := res.Chunk.Content
		if len([]rune(preview)) > 150 {
			preview = string([]rune(preview)[:150]) + "..."
		}

		totalScore += res.Score
		fmt.Printf("%d. [%s %.3f] %s, %s\n", i+1, rating(res.Score), res.Score, res.Chunk.DocID, citation)
		fmt.Printf("   %s\n\n", preview)
	}

	avgScore := totalScore / float64(len(results))
	fmt.Println(strings.Repeat("=", 70))
	fmt.Printf("QUALITY METRICS:\n")
	fmt.Printf("  Average similarity: %.3f\n", avgScore)
	fmt.Printf("  Top-1 similarity:   %.3f\n", results[0].Score)

	if avgScore > 0.5 {
		fmt.Println("  Status: GOOD - passages closely match the question")
	} else if avgScore > 0.3 {
		fmt.Println("  Status: OK - passages are somewhat related")
	} else {
		fmt.Println("  Status: POOR - consider a stronger embedding model")
	}
}

func rating(similarity float64) string {
	switch {
	case similarity > 0.7:
		return "HIGH"
	case similarity > 0.5:
		return "GOOD"
	case similarity > 0.3:
		return "OK"
	default:
		return "LOW"
	}
}
