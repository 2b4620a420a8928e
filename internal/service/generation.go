package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/snapmeta/snapmeta/internal/domain"
	"github.com/snapmeta/snapmeta/internal/prompts"
)

// MetadataGenerator is the narrow contract to the external AI backend: one
// image in, one Metadata or a tagged error out. Implementations never retry;
// batch-level partial success is the caller's retry surface.
type MetadataGenerator interface {
	Generate(ctx context.Context, imageData []byte, format string) (*domain.Metadata, error)
	Model() string
}

// GeneratorConfig holds configuration for metadata generators.
type GeneratorConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
}

// NewGenerator creates a MetadataGenerator for the configured provider.
func NewGenerator(cfg *GeneratorConfig) (MetadataGenerator, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAIGenerator(cfg), nil
	case "gemini":
		return NewGeminiGenerator(cfg)
	default:
		return nil, fmt.Errorf("unknown generation provider: %q", cfg.Provider)
	}
}

// OpenAIGenerator generates SEO metadata through an OpenAI-compatible
// chat-completions endpoint.
type OpenAIGenerator struct {
	client   *resty.Client
	model    string
	endpoint string
}

// NewOpenAIGenerator creates a generator against an OpenAI-compatible API.
func NewOpenAIGenerator(cfg *GeneratorConfig) *OpenAIGenerator {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client.SetTimeout(timeout)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &OpenAIGenerator{
		client:   client,
		model:    cfg.Model,
		endpoint: baseURL + "/chat/completions",
	}
}

// Model returns the model name being used.
func (g *OpenAIGenerator) Model() string {
	return g.model
}

// OpenAI-compatible Chat Completion API request/response structures
type openAIRequest struct {
	Model     string          `json:"model"`
	Messages  []openAIMessage `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
}

type openAIMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string for system, []interface{} for user with images
}

type openAITextContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type openAIImageContent struct {
	Type     string         `json:"type"`
	ImageURL openAIImageURL `json:"image_url"`
}

type openAIImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate produces SEO metadata for one image. Errors are tagged with
// TimeoutError when the backend did not answer in time and GenerationError
// otherwise.
func (g *OpenAIGenerator) Generate(ctx context.Context, imageData []byte, format string) (*domain.Metadata, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s",
		mimeTypeFor(format), base64.StdEncoding.EncodeToString(imageData))

	req := openAIRequest{
		Model: g.model,
		Messages: []openAIMessage{
			{
				Role:    "system",
				Content: prompts.SEOSystemPrompt,
			},
			{
				Role: "user",
				Content: []interface{}{
					openAITextContent{
						Type: "text",
						Text: prompts.SEOUserPrompt,
					},
					openAIImageContent{
						Type: "image_url",
						ImageURL: openAIImageURL{
							URL:    dataURL,
							Detail: "auto",
						},
					},
				},
			},
		},
		MaxTokens: 500,
	}

	var resp openAIResponse
	httpResp, err := g.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post(g.endpoint)

	if err != nil {
		if isTimeout(err) {
			return nil, domain.WrapError(domain.ErrorKindTimeout, fmt.Errorf("generation API timed out: %w", err))
		}
		return nil, domain.WrapError(domain.ErrorKindGeneration, fmt.Errorf("failed to call generation API: %w", err))
	}

	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		errorMsg := fmt.Sprintf("HTTP %d", httpResp.StatusCode())
		if resp.Error != nil {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), resp.Error.Message)
		} else if len(httpResp.Body()) > 0 {
			errorMsg = fmt.Sprintf("HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
		}
		return nil, domain.WrapError(domain.ErrorKindGeneration,
			fmt.Errorf("generation API returned error: %s", errorMsg))
	}

	if resp.Error != nil {
		return nil, domain.WrapError(domain.ErrorKindGeneration,
			fmt.Errorf("generation API error: %s", resp.Error.Message))
	}

	if len(resp.Choices) == 0 {
		return nil, domain.WrapError(domain.ErrorKindGeneration,
			fmt.Errorf("no choices in generation response (status: %d)", httpResp.StatusCode()))
	}

	metadata, err := parseMetadata(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, domain.WrapError(domain.ErrorKindGeneration, err)
	}
	return metadata, nil
}

// parseMetadata decodes the model's JSON reply, tolerating markdown code
// fences some models wrap around the object.
func parseMetadata(content string) (*domain.Metadata, error) {
	cleaned := strings.TrimSpace(content)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	// Some models prepend prose; cut to the outermost JSON object
	if start := strings.Index(cleaned, "{"); start > 0 {
		cleaned = cleaned[start:]
	}
	if end := strings.LastIndex(cleaned, "}"); end != -1 && end < len(cleaned)-1 {
		cleaned = cleaned[:end+1]
	}

	var metadata domain.Metadata
	if err := json.Unmarshal([]byte(cleaned), &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse metadata JSON: %w", err)
	}
	if metadata.Title == "" {
		return nil, fmt.Errorf("metadata response missing title")
	}
	if metadata.Keywords == nil {
		metadata.Keywords = domain.StringArray{}
	}
	return &metadata, nil
}

// isTimeout reports whether err stems from a deadline or network timeout.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func mimeTypeFor(format string) string {
	switch strings.ToLower(format) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
