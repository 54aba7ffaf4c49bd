package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"docbot/internal/adapter/retry"
	"docbot/internal/port"
)

// Options tunes the HTTP embedders. Zero values fall back to defaults.
type Options struct {
	BaseURL           string
	Dimension         int
	BatchSize         int
	Timeout           time.Duration
	Retry             retry.Policy
	RequestsPerSecond float64
}

// OpenAIEmbedder talks to any OpenAI-compatible /embeddings endpoint.
type OpenAIEmbedder struct {
	provider  string
	apiKey    string
	model     string
	baseURL   string
	dimension int
	batchSize int
	policy    retry.Policy
	limiter   *rate.Limiter
	client    *http.Client
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data  []embeddingData `json:"data"`
	Error *apiError       `json:"error,omitempty"`
}

type embeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func NewOpenAIEmbedder(apiKeyEnv, model string, opts Options) (*OpenAIEmbedder, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.openai.com/v1"
	}
	return newFromEnv("openai", apiKeyEnv, model, opts)
}

func NewJinaEmbedder(apiKeyEnv, model string, opts Options) (*OpenAIEmbedder, error) {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.jina.ai/v1"
	}
	return newFromEnv("jina", apiKeyEnv, model, opts)
}

func NewOllamaEmbedder(model string, opts Options) *OpenAIEmbedder {
	if opts.BaseURL == "" {
		opts.BaseURL = "http://localhost:11434/v1"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 120 * time.Second
	}
	return NewOpenAICompatibleEmbedder("ollama", "ollama", model, opts)
}

func newFromEnv(provider, apiKeyEnv, model string, opts Options) (*OpenAIEmbedder, error) {
	apiKey := os.Getenv(apiKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("API key not found in environment variable: %s", apiKeyEnv)
	}
	return NewOpenAICompatibleEmbedder(provider, apiKey, model, opts), nil
}

// NewOpenAICompatibleEmbedder builds an embedder for an explicit endpoint.
func NewOpenAICompatibleEmbedder(provider, apiKey, model string, opts Options) *OpenAIEmbedder {
	dimension := knownDimension(model)
	if dimension == 0 {
		dimension = opts.Dimension
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 64
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Retry.MaxDelay == 0 {
		opts.Retry = retry.DefaultPolicy()
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &OpenAIEmbedder{
		provider:  provider,
		apiKey:    apiKey,
		model:     model,
		baseURL:   opts.BaseURL,
		dimension: dimension,
		batchSize: opts.BatchSize,
		policy:    opts.Retry,
		limiter:   rate.NewLimiter(limit, 1),
		client: &http.Client{
			Timeout: opts.Timeout,
		},
	}
}

func knownDimension(model string) int {
	switch model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	case "jina-embeddings-v3":
		return 1024
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large":
		return 1024
	case "all-minilm":
		return 384
	}
	return 0
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var allEmbeddings [][]float32

	for i := 0; i < len(texts); i += e.batchSize {
		end := i + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[i:end]

		var embeddings [][]float32
		err := retry.Do(ctx, e.policy, func(ctx context.Context) error {
			var err error
			embeddings, err = e.embedBatch(ctx, batch)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("%s embeddings: %w", e.provider, err)
		}
		allEmbeddings = append(allEmbeddings, embeddings...)
	}

	return allEmbeddings, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	jsonData, err := json.Marshal(embeddingRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.Transient(fmt.Errorf("failed to read response: %w", err))
	}

	if err := statusError(resp, body); err != nil {
		return nil, err
	}

	var embResp embeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		bodyPreview := string(body)
		if len(bodyPreview) > 200 {
			bodyPreview = bodyPreview[:200]
		}
		return nil, fmt.Errorf("failed to parse response (body: %s): %w", bodyPreview, err)
	}

	if embResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", embResp.Error.Message)
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index >= 0 && data.Index < len(embeddings) {
			embeddings[data.Index] = data.Embedding
		}
	}
	for i, v := range embeddings {
		if len(v) == 0 {
			return nil, fmt.Errorf("no embedding returned for input %d", i)
		}
		if e.dimension > 0 && len(v) != e.dimension {
			return nil, fmt.Errorf("embedding dimension mismatch: expected %d, got %d", e.dimension, len(v))
		}
	}

	return embeddings, nil
}

// statusError classifies a non-200 response. Rate limiting and server
// errors are transient; anything else is permanent.
func statusError(resp *http.Response, body []byte) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	err := fmt.Errorf("API returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		if secs, convErr := strconv.Atoi(resp.Header.Get("Retry-After")); convErr == nil && secs > 0 {
			err = fmt.Errorf("%w (retry after %ds)", err, secs)
		}
		return retry.Transient(err)
	}
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (e *OpenAIEmbedder) Dimension() int {
	return e.dimension
}

func (e *OpenAIEmbedder) ModelName() string {
	return e.provider + "/" + e.model
}

// Fingerprint identifies an embedder by model and dimension. Vectors from
// embedders with different fingerprints are not comparable.
func Fingerprint(e port.Embedder) string {
	return fmt.Sprintf("%s@%d", e.ModelName(), e.Dimension())
}

// New builds the embedder for provider. "local" (or empty) selects the
// offline hashing embedder and needs no credentials.
func New(provider, model, apiKeyEnv string, opts Options) (port.Embedder, error) {
	var (
		e   *OpenAIEmbedder
		err error
	)
	switch provider {
	case "local", "":
		return NewHashingEmbedder(opts.Dimension), nil
	case "openai":
		e, err = NewOpenAIEmbedder(apiKeyEnv, model, opts)
	case "jina":
		e, err = NewJinaEmbedder(apiKeyEnv, model, opts)
	case "ollama":
		e = NewOllamaEmbedder(model, opts)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", provider)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}
