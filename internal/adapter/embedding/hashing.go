package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"docbot/internal/adapter/analyzer"
)

const trigramWeight = 0.3

// HashingEmbedder is a deterministic, offline embedder. Each token and its
// character trigrams are hashed into a signed bucket of a fixed-size
// vector, which is then L2-normalised.
type HashingEmbedder struct {
	dimension int
	tokenizer *analyzer.Tokenizer
}

func NewHashingEmbedder(dimension int) *HashingEmbedder {
	if dimension <= 0 {
		dimension = 512
	}
	return &HashingEmbedder{
		dimension: dimension,
		tokenizer: analyzer.NewTokenizer(),
	}
}

func (e *HashingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		embeddings[i] = e.embedOne(text)
	}
	return embeddings, nil
}

func (e *HashingEmbedder) embedOne(text string) []float32 {
	vec := make([]float64, e.dimension)

	for _, token := range e.tokenizer.Tokenize(text) {
		e.add(vec, token, 1)

		runes := []rune(token)
		if len(runes) < 4 {
			continue
		}
		for i := 0; i+3 <= len(runes); i++ {
			e.add(vec, "#"+string(runes[i:i+3]), trigramWeight)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)

	out := make([]float32, e.dimension)
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func (e *HashingEmbedder) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	idx := sum % uint64(e.dimension)
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func (e *HashingEmbedder) Dimension() int {
	return e.dimension
}

func (e *HashingEmbedder) ModelName() string {
	return "local/hashing-v1"
}
