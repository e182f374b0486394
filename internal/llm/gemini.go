package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const geminiDefaultModel = "gemini-2.5-flash"

// GeminiProvider implements the Provider interface for Google Gemini models
type GeminiProvider struct {
	client *genai.Client
	config Config
}

// NewGeminiProvider creates a Gemini provider on the Gemini API backend
func NewGeminiProvider(config Config) (*GeminiProvider, error) {
	key := apiKey(config, "GEMINI_API_KEY", "GOOGLE_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("Gemini API key is required")
	}

	clientConfig := &genai.ClientConfig{
		APIKey:     key,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: newHTTPClient(config),
	}
	if config.BaseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(context.Background(), clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return &GeminiProvider{client: client, config: config}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// IsAvailable counts the tokens of a one-word prompt
func (p *GeminiProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.client.Models.CountTokens(ctx, p.config.model(GenerateRequest{}, geminiDefaultModel), genai.Text("ping"), nil)
	return err == nil
}

// Generate runs a GenerateContent call
func (p *GeminiProvider) Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error) {
	model := p.config.model(req, geminiDefaultModel)

	ctx, cancel := context.WithTimeout(ctx, p.config.timeout())
	defer cancel()

	genConfig := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(p.config.maxTokens(req)),
		Temperature:     genai.Ptr(float32(temperature(req))),
	}
	if req.System != "" {
		genConfig.SystemInstruction = genai.NewContentFromText(req.System, "")
	}

	resp, err := p.client.Models.GenerateContent(ctx, model,
		[]*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)},
		genConfig,
	)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return nil, statusError("gemini", apiErr.Code, apiErr.Message)
		}
		return nil, callError("gemini", err)
	}

	var sb strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part != nil && !part.Thought {
				sb.WriteString(part.Text)
			}
		}
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, fmt.Errorf("%w: no content in Gemini response", ErrProvider)
	}

	tokens := 0
	if resp.UsageMetadata != nil {
		tokens = int(resp.UsageMetadata.TotalTokenCount)
	}

	return &GenerateResponse{
		Text:       text,
		CitedURLs:  extractURLs(text),
		Model:      model,
		TokensUsed: tokens,
	}, nil
}
