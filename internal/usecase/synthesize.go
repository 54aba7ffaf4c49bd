package usecase

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"go.uber.org/zap"

	"docbot/internal/adapter/analyzer"
	"docbot/internal/adapter/metrics"
	"docbot/internal/domain"
	"docbot/internal/port"
)

const (
	// FallbackSynthesisText replaces the summary whenever the generative
	// model cannot produce one.
	FallbackSynthesisText = "Theme synthesis failed."

	// NoPassagesText is the summary for a query that retrieved nothing.
	NoPassagesText = "No relevant passages were found for this question."
)

//go:embed templates/*.txt
var promptTemplates embed.FS

var citationPattern = regexp.MustCompile(`Page\s+(\d+),\s*Paragraph\s+(\d+)`)

// SynthesisOptions configures prompt construction and the model call.
type SynthesisOptions struct {
	TemplatePath    string
	MaxContextChars int
	Timeout         time.Duration
}

// PromptData is the data passed to the synthesis prompt template.
type PromptData struct {
	Question string
	Passages []PromptPassage
}

type PromptPassage struct {
	N        int
	Content  string
	Citation string
}

// SynthesizeUseCase turns retrieved passages into a short thematic summary
// using a generative model. It never fails the query: model errors degrade
// to FallbackSynthesisText with no citations.
type SynthesizeUseCase struct {
	generator       port.Generator
	tmpl            *template.Template
	maxContextChars int
	timeout         time.Duration
	tokenizer       *analyzer.Tokenizer
	logger          *zap.Logger
	metrics         *metrics.Metrics
}

func NewSynthesizeUseCase(generator port.Generator, opts SynthesisOptions, logger *zap.Logger, m *metrics.Metrics) (*SynthesizeUseCase, error) {
	tmpl, err := loadPromptTemplate(opts.TemplatePath)
	if err != nil {
		return nil, err
	}
	if opts.MaxContextChars <= 0 {
		opts.MaxContextChars = 4000
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SynthesizeUseCase{
		generator:       generator,
		tmpl:            tmpl,
		maxContextChars: opts.MaxContextChars,
		timeout:         opts.Timeout,
		tokenizer:       analyzer.NewTokenizer(),
		logger:          logger,
		metrics:         m,
	}, nil
}

func loadPromptTemplate(path string) (*template.Template, error) {
	var (
		content []byte
		err     error
	)
	if path != "" {
		content, err = os.ReadFile(path)
	} else {
		content, err = promptTemplates.ReadFile("templates/synthesis_prompt.txt")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt template: %w", err)
	}

	tmpl, err := template.New("synthesis").Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt template: %w", err)
	}
	return tmpl, nil
}

// Synthesize summarizes results for question. The only error it returns is
// a provenance gap in the results; every model failure becomes a fallback
// synthesis.
func (u *SynthesizeUseCase) Synthesize(ctx context.Context, question string, results []domain.RetrievalResult) (domain.Synthesis, error) {
	now := time.Now().UTC()

	if len(results) == 0 {
		u.metrics.ObserveSynthesis("empty")
		return domain.Synthesis{Question: question, Text: NoPassagesText, CreatedAt: now}, nil
	}

	data, cited, err := u.buildContext(question, results)
	if err != nil {
		return domain.Synthesis{}, err
	}

	var prompt bytes.Buffer
	if err := u.tmpl.Execute(&prompt, data); err != nil {
		return u.fallback(question, now, fmt.Errorf("%w: render prompt: %w", domain.ErrSynthesisFailure, err)), nil
	}

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	u.logger.Debug("requesting synthesis",
		zap.String("model", u.generator.ModelName()),
		zap.Int("passages", len(data.Passages)),
		zap.Int("prompt_tokens", u.tokenizer.CountTokens(prompt.String())))

	text, err := u.generator.Generate(ctx, prompt.String())
	if err != nil {
		return u.fallback(question, now, fmt.Errorf("%w: %w", domain.ErrSynthesisFailure, err)), nil
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return u.fallback(question, now, fmt.Errorf("%w: empty model output", domain.ErrSynthesisFailure)), nil
	}

	u.metrics.ObserveSynthesis("ok")
	return domain.Synthesis{
		Question:  question,
		Text:      text,
		Citations: groundedCitations(text, cited),
		CreatedAt: now,
	}, nil
}

func (u *SynthesizeUseCase) fallback(question string, now time.Time, err error) domain.Synthesis {
	level := zap.WarnLevel
	if errors.Is(err, context.Canceled) {
		level = zap.DebugLevel
	}
	u.logger.Check(level, "theme synthesis failed").Write(zap.Error(err))
	u.metrics.ObserveSynthesis("fallback")

	return domain.Synthesis{
		Question:  question,
		Text:      FallbackSynthesisText,
		Failed:    true,
		CreatedAt: now,
	}
}

// buildContext renders passages in rank order until maxContextChars would
// be exceeded. The first passage is always included, truncated if needed.
// It returns the distinct citations of the included passages.
func (u *SynthesizeUseCase) buildContext(question string, results []domain.RetrievalResult) (PromptData, []domain.Citation, error) {
	data := PromptData{Question: question}
	var cited []domain.Citation
	seen := make(map[domain.Citation]bool)
	used := 0

	for i, r := range results {
		c, err := domain.Cite(r.Chunk)
		if err != nil {
			return PromptData{}, nil, err
		}

		content := r.Chunk.Content
		cost := len([]rune(content)) + len(c.String())
		if used+cost > u.maxContextChars {
			if i > 0 {
				break
			}
			content = truncateRunes(content, u.maxContextChars-len(c.String()))
			cost = u.maxContextChars
		}
		used += cost

		data.Passages = append(data.Passages, PromptPassage{
			N:        i + 1,
			Content:  content,
			Citation: c.String(),
		})
		if !seen[c] {
			seen[c] = true
			cited = append(cited, c)
		}
	}

	return data, cited, nil
}

// groundedCitations keeps the context citations that the model output
// mentions. If it mentions none, every context citation is returned; a
// citation outside the context is never returned.
func groundedCitations(text string, context []domain.Citation) []domain.Citation {
	type loc struct{ page, paragraph int }
	mentioned := make(map[loc]bool)
	for _, m := range citationPattern.FindAllStringSubmatch(text, -1) {
		page, err1 := strconv.Atoi(m[1])
		para, err2 := strconv.Atoi(m[2])
		if err1 == nil && err2 == nil {
			mentioned[loc{page, para}] = true
		}
	}

	var out []domain.Citation
	for _, c := range context {
		if mentioned[loc{c.Page, c.ParagraphIndex}] {
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		out = append(out, context...)
	}
	return out
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
