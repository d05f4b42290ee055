package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// DefaultMaxTokens is the maximum chunk length sent to the model (in tokens).
const DefaultMaxTokens = 4000

// DefaultModel is used when no chat model is configured.
const DefaultModel = openai.ChatModelGPT4oMini

// ChunkMetadata contains LLM-generated metadata for a chunk.
type ChunkMetadata struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

type chatAPI interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Generator produces chunk titles and summaries with a chat model.
type Generator struct {
	chat      chatAPI
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewGenerator creates a metadata generator with the given OpenAI client. An empty model
// selects DefaultModel.
func NewGenerator(client *openai.Client, model string, logger *slog.Logger) *Generator {
	return newGenerator(&client.Chat.Completions, model, logger)
}

func newGenerator(chat chatAPI, model string, logger *slog.Logger) *Generator {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		chat:      chat,
		model:     model,
		maxTokens: DefaultMaxTokens,
		logger:    logger,
	}
}

// GenerateChunkMetadata asks the model for a short title and a one or two sentence
// summary of one chunk.
func (g *Generator) GenerateChunkMetadata(ctx context.Context, documentName, headerPath, content string) (*ChunkMetadata, error) {
	prompt := fmt.Sprintf(`Analyze this documentation excerpt and provide:
1. A short title (at most 10 words) naming what the excerpt is about
2. A concise summary (1-2 sentences) capturing its key points

Document: %s
Section: %s

Excerpt:
%s

Respond in JSON format:
{"title": "Short descriptive title", "summary": "Brief description of the excerpt"}`,
		documentName, headerPath, g.truncateContent(content))

	resp, err := g.chat.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: g.model,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{
				Type: "json_object",
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	return parseResponse(resp.Choices[0].Message.Content)
}

func parseResponse(raw string) (*ChunkMetadata, error) {
	var meta ChunkMetadata
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	meta.Title = strings.TrimSpace(meta.Title)
	meta.Summary = strings.TrimSpace(meta.Summary)
	return &meta, nil
}

// truncateContent truncates content to fit within token limits.
// Uses rough estimate of 4 characters per token.
func (g *Generator) truncateContent(content string) string {
	maxChars := g.maxTokens * 4

	runes := []rune(content)
	if len(runes) <= maxChars {
		return content
	}

	g.logger.Warn("Truncating chunk for metadata generation",
		"chars", len(runes),
		"max_chars", maxChars,
	)

	return string(runes[:maxChars])
}
