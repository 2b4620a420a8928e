package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/snapmeta/snapmeta/internal/domain"
	"github.com/snapmeta/snapmeta/internal/prompts"
	"google.golang.org/api/option"
)

// GeminiGenerator generates SEO metadata through the Google Gemini API.
// The client is built once at construction and reused for every call.
type GeminiGenerator struct {
	client  *genai.Client
	gm      *genai.GenerativeModel
	model   string
	timeout time.Duration
}

// NewGeminiGenerator creates a Gemini-backed metadata generator.
func NewGeminiGenerator(cfg *GeneratorConfig) (*GeminiGenerator, error) {
	model := cfg.Model
	if model == "" || strings.HasPrefix(model, "gpt") {
		model = "gemini-1.5-flash"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	gm := client.GenerativeModel(model)
	gm.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(prompts.SEOSystemPrompt)},
	}

	return &GeminiGenerator{
		client:  client,
		gm:      gm,
		model:   model,
		timeout: timeout,
	}, nil
}

// Model returns the model name being used.
func (g *GeminiGenerator) Model() string {
	return g.model
}

// Generate produces SEO metadata for one image via Gemini. Errors carry the
// same kind tags as the OpenAI-compatible generator.
func (g *GeminiGenerator) Generate(ctx context.Context, imageData []byte, format string) (*domain.Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.gm.GenerateContent(ctx,
		genai.ImageData(geminiFormat(format), imageData),
		genai.Text(prompts.SEOUserPrompt),
	)
	if err != nil {
		if isTimeout(err) {
			return nil, domain.WrapError(domain.ErrorKindTimeout,
				fmt.Errorf("gemini request timed out: %w", err))
		}
		return nil, domain.WrapError(domain.ErrorKindGeneration,
			fmt.Errorf("failed to generate content: %w", err))
	}

	if len(resp.Candidates) == 0 {
		return nil, domain.WrapError(domain.ErrorKindGeneration,
			fmt.Errorf("no candidates returned from gemini"))
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, domain.WrapError(domain.ErrorKindGeneration,
			fmt.Errorf("empty content returned from gemini"))
	}

	txt, ok := candidate.Content.Parts[0].(genai.Text)
	if !ok {
		return nil, domain.WrapError(domain.ErrorKindGeneration,
			fmt.Errorf("unexpected response format from gemini"))
	}

	metadata, err := parseMetadata(string(txt))
	if err != nil {
		return nil, domain.WrapError(domain.ErrorKindGeneration, err)
	}
	return metadata, nil
}

// geminiFormat maps a file extension to the format label genai expects.
func geminiFormat(format string) string {
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		return "jpeg"
	case "png", "gif", "webp":
		return strings.ToLower(format)
	default:
		return "jpeg"
	}
}
