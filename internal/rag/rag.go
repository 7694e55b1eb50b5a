package rag

//go:generate mockgen -destination=mocks/mock_llm.go -package=mocks github.com/tmc/langchaingo/llms Model
//go:generate mockgen -source=rag.go -destination=mocks/mock_rag.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"archaeo-rag/internal/config"
	"archaeo-rag/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
)

var (
	ErrGeneration    = errors.New("could not generate answer")
	ErrEmptyQuestion = errors.New("question is empty")
	ErrUnknownTool   = errors.New("unknown tool")
)

var thinkTag = regexp.MustCompile(models.ThinkTag)

// Retriever returns the k chunks most relevant to a question.
type Retriever interface {
	Query(ctx context.Context, question string, k int) ([]models.SearchResult, error)
}

// Pipeline answers questions from retrieved chunks with a chat model.
type Pipeline struct {
	llm         llms.Model
	temperature float64
	topK        int
}

func NewPipeline(llm llms.Model, cfg *config.Config) *Pipeline {
	p := &Pipeline{llm: llm, temperature: config.DefaultTemperature, topK: config.DefaultTopK}
	if cfg != nil {
		if cfg.LLM.Temperature > 0 {
			p.temperature = cfg.LLM.Temperature
		}
		if cfg.RAG.TopK > 0 {
			p.topK = cfg.RAG.TopK
		}
	}
	return p
}

// Ask retrieves context for question and generates an answer. mode selects an optional
// system preface; unknown or empty modes use the plain instruction.
func (p *Pipeline) Ask(ctx context.Context, retriever Retriever, question, mode string) (*models.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	results, err := retriever.Query(ctx, question, p.topK)
	if err != nil {
		return nil, err
	}

	system := models.ModePrefaces[mode] + models.SystemPrompt
	human := fmt.Sprintf(models.QuestionPromptTemplate, buildContext(results), question)

	content, err := p.generate(ctx, system, human)
	if err != nil {
		return nil, err
	}

	return &models.Answer{
		Question:  question,
		Content:   content,
		Sources:   results,
		Citations: Citations(results),
	}, nil
}

// RunTool fills the prompt template of a compliance tool with input and answers it
// through Ask. style is only used by the citation formatter.
func (p *Pipeline) RunTool(ctx context.Context, retriever Retriever, tool, input, style string) (*models.Answer, error) {
	tmpl, ok := models.ToolPromptTemplates[tool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}
	if strings.TrimSpace(input) == "" {
		return nil, ErrEmptyQuestion
	}

	var prompt string
	if tool == models.ToolCitation {
		if style == "" {
			style = models.CitationStyles[0]
		}
		prompt = fmt.Sprintf(tmpl, style, input)
	} else {
		prompt = fmt.Sprintf(tmpl, input)
	}

	mode := models.ModeTemplates
	switch tool {
	case models.ToolPermits:
		mode = models.ModePermits
	case models.ToolCitation:
		mode = models.ModeCitation
	}
	return p.Ask(ctx, retriever, prompt, mode)
}

func (p *Pipeline) generate(ctx context.Context, system, human string) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, human),
	}

	start := time.Now()
	resp, err := p.llm.GenerateContent(ctx, messages, llms.WithTemperature(p.temperature))
	if err != nil {
		log.Error().Err(err).Msg("LLM call failed")
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty response", ErrGeneration)
	}

	content := strings.TrimSpace(thinkTag.ReplaceAllString(resp.Choices[0].Content, ""))
	if content == "" {
		return "", fmt.Errorf("%w: empty response", ErrGeneration)
	}
	log.Debug().Dur("took", time.Since(start)).Int("chars", len(content)).Msg("Answer generated")
	return content, nil
}

func buildContext(results []models.SearchResult) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = r.Chunk.Content
	}
	return strings.Join(parts, models.ContextSeparator)
}

// Citations returns short previews of the top sources for display.
func Citations(results []models.SearchResult) []models.Citation {
	n := min(len(results), models.MaxCitations)
	citations := make([]models.Citation, n)
	for i := 0; i < n; i++ {
		c := results[i].Chunk
		citations[i] = models.Citation{
			Index:      i + 1,
			Source:     c.Source,
			PageNumber: c.PageNumber,
			ChunkID:    c.ChunkID,
			Preview:    preview(c.Content, models.PreviewLength),
		}
	}
	return citations
}

func preview(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

// Assistant is a pipeline bound to one retriever and mode.
type Assistant struct {
	pipeline  *Pipeline
	retriever Retriever
	mode      string
}

func (p *Pipeline) With(retriever Retriever, mode string) *Assistant {
	return &Assistant{pipeline: p, retriever: retriever, mode: mode}
}

func (a *Assistant) Ask(ctx context.Context, question string) (*models.Answer, error) {
	return a.pipeline.Ask(ctx, a.retriever, question, a.mode)
}
