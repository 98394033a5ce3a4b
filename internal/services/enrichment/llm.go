package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/interfaces"
	"google.golang.org/genai"
)

const systemPrompt = `You extract structured facts about a single event from its listing text.
Reply with one JSON object and nothing else. Use exactly the requested keys.
Use null for anything the text does not state. Prices are numbers without currency symbols.
Currencies are ISO 4217 codes.`

func buildPrompt(req *interfaces.EnrichmentRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Keys: %s\n\n", strings.Join(req.FieldsToExtract, ", "))
	fmt.Fprintf(&b, "Title: %s\n\n", req.Title)
	fmt.Fprintf(&b, "Description:\n%s\n", req.Description)
	return b.String()
}

// parseReply decodes the model's JSON object, tolerating markdown fences and leading prose.
// Keys not requested are dropped.
func parseReply(text string, fields []string) (map[string]interface{}, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in model reply")
	}

	var values map[string]interface{}
	if err := json.Unmarshal([]byte(text[start:end+1]), &values); err != nil {
		return nil, fmt.Errorf("failed to decode model reply: %w", err)
	}

	allowed := make(map[string]bool, len(fields))
	for _, f := range fields {
		allowed[f] = true
	}
	out := make(map[string]interface{})
	for k, v := range values {
		if allowed[k] {
			out[k] = v
		}
	}
	return out, nil
}

// GeminiProvider asks a Gemini model for the fields
type GeminiProvider struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	logger      arbor.ILogger
}

// NewGeminiProvider creates a Gemini-backed provider
func NewGeminiProvider(ctx context.Context, config *common.EnrichmentConfig, timeout time.Duration, logger arbor.ILogger) (*GeminiProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("enrichment.api_key is required for the gemini provider (or set GEMINI_API_KEY)")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	model := config.Model
	if model == "" || strings.HasPrefix(model, "claude-") {
		model = "gemini-2.0-flash"
	}

	logger.Debug().Str("model", model).Msg("Gemini enrichment provider initialized")
	return &GeminiProvider{
		client:      client,
		model:       model,
		temperature: config.Temperature,
		maxTokens:   config.MaxTokens,
		timeout:     timeout,
		logger:      logger,
	}, nil
}

// Name returns the provider name
func (p *GeminiProvider) Name() string { return ProviderGemini }

// Extract runs one structured-output generation
func (p *GeminiProvider) Extract(ctx context.Context, req *interfaces.EnrichmentRequest) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(p.temperature),
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	}
	if p.maxTokens > 0 {
		config.MaxOutputTokens = int32(p.maxTokens)
	}

	contents := []*genai.Content{genai.NewContentFromText(buildPrompt(req), genai.RoleUser)}
	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return nil, fmt.Errorf("Gemini API call failed: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from Gemini API")
	}
	return parseReply(resp.Text(), req.FieldsToExtract)
}

// ClaudeProvider asks a Claude model for the fields
type ClaudeProvider struct {
	client      anthropic.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	logger      arbor.ILogger
}

// NewClaudeProvider creates a Claude-backed provider
func NewClaudeProvider(config *common.EnrichmentConfig, timeout time.Duration, logger arbor.ILogger) (*ClaudeProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("enrichment.api_key is required for the claude provider (or set ANTHROPIC_API_KEY)")
	}

	model := config.Model
	if model == "" || strings.HasPrefix(model, "gemini-") {
		model = "claude-sonnet-4-20250514"
	}
	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	logger.Debug().Str("model", model).Int("max_tokens", maxTokens).Msg("Claude enrichment provider initialized")
	return &ClaudeProvider{
		client:      anthropic.NewClient(option.WithAPIKey(config.APIKey)),
		model:       model,
		temperature: config.Temperature,
		maxTokens:   maxTokens,
		timeout:     timeout,
		logger:      logger,
	}, nil
}

// Name returns the provider name
func (p *ClaudeProvider) Name() string { return ProviderClaude }

// Extract runs one messages call
func (p *ClaudeProvider) Extract(ctx context.Context, req *interfaces.EnrichmentRequest) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(p.maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(req))),
		},
		System: []anthropic.TextBlockParam{{Text: systemPrompt}},
	}
	if p.temperature > 0 {
		params.Temperature = anthropic.Float(float64(p.temperature))
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("Claude API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("empty response from Claude API")
	}
	return parseReply(text.String(), req.FieldsToExtract)
}

var (
	_ interfaces.EnrichmentProvider = (*GeminiProvider)(nil)
	_ interfaces.EnrichmentProvider = (*ClaudeProvider)(nil)
)
