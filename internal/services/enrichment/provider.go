// Package enrichment backfills clean event fields by mining the free-text description.
package enrichment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/interfaces"
)

// DefaultFields are the keys the providers are asked to extract
var DefaultFields = []string{
	"price",
	"price_currency",
	"event_attendance_mode",
	"event_status",
	"organizer_name",
	"additional_location_details",
}

// Provider names
const (
	ProviderHTTP   = "http"
	ProviderGemini = "gemini"
	ProviderClaude = "claude"
)

// NewProvider builds the configured enrichment provider
func NewProvider(ctx context.Context, config *common.EnrichmentConfig, logger arbor.ILogger) (interfaces.EnrichmentProvider, error) {
	timeout := common.MustDuration(config.Timeout, 60*time.Second)

	switch strings.ToLower(config.Provider) {
	case ProviderHTTP, "":
		if config.Endpoint == "" {
			return nil, fmt.Errorf("enrichment.endpoint is required for the http provider")
		}
		return NewHTTPProvider(config.Endpoint, config.APIKey, &http.Client{Timeout: timeout}), nil
	case ProviderGemini:
		return NewGeminiProvider(ctx, config, timeout, logger)
	case ProviderClaude:
		return NewClaudeProvider(config, timeout, logger)
	default:
		return nil, fmt.Errorf("unknown enrichment provider: %s", config.Provider)
	}
}

// HTTPProvider posts the request to an extraction endpoint
type HTTPProvider struct {
	endpoint string
	client   *resty.Client
}

// NewHTTPProvider creates a provider for a JSON extraction endpoint
func NewHTTPProvider(endpoint, apiKey string, httpClient *http.Client) *HTTPProvider {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}

	client := resty.NewWithClient(httpClient).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &HTTPProvider{endpoint: endpoint, client: client}
}

// Name returns the provider name
func (p *HTTPProvider) Name() string { return ProviderHTTP }

// Extract sends {event_id, title, description, fields_to_extract} and reads extracted_data
func (p *HTTPProvider) Extract(ctx context.Context, req *interfaces.EnrichmentRequest) (map[string]interface{}, error) {
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(req).
		Post(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("enrichment request failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("enrichment endpoint returned %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
	}

	// The endpoint does not always label its body as JSON, so decode it here
	var out struct {
		ExtractedData map[string]interface{} `json:"extracted_data"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out.ExtractedData, nil
}

var _ interfaces.EnrichmentProvider = (*HTTPProvider)(nil)
