package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/models"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the Places Text Search endpoint.
	DefaultBaseURL = "https://maps.googleapis.com/maps/api/place/textsearch/json"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultInterval is the minimum spacing between calls.
	DefaultInterval = 1100 * time.Millisecond
)

// Client is a Places Text Search geocoder. It has no cache and no quota accounting.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom endpoint.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithInterval sets the minimum spacing between calls.
func WithInterval(interval time.Duration) ClientOption {
	return func(c *Client) {
		if interval > 0 {
			c.limiter = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
}

// NewClient creates a new geocoding client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Every(DefaultInterval), 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Geocode resolves a free-text query. countryHint is an ISO 3166-1 alpha-2 region bias.
// Returns nil without error when the provider has no match.
func (c *Client) Geocode(ctx context.Context, query string, countryHint string) (*models.GeocodeResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if c.apiKey == "" {
		return nil, fmt.Errorf("geocoding api key not configured")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &RateLimitError{RetryAfter: time.Second}
	}

	params := url.Values{}
	params.Set("query", query)
	if countryHint != "" {
		params.Set("region", strings.ToLower(countryHint))
	}
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Redact API key in logs
	if c.logger != nil {
		c.logger.Debug().
			Str("query", query).
			Str("region", countryHint).
			Msg("Calling Places Text Search API")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call geocoding API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(body),
			Endpoint:   "textsearch",
		}
	}

	var apiResp textSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode API response: %w", err)
	}

	switch apiResp.Status {
	case "OK":
	case "ZERO_RESULTS":
		return nil, nil
	default:
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    apiResp.Status + " - " + apiResp.ErrorMessage,
			Endpoint:   "textsearch",
		}
	}

	for _, place := range apiResp.Results {
		if place.Geometry == nil || place.Geometry.Location == nil {
			continue
		}
		return &models.GeocodeResult{
			FormattedAddress: place.FormattedAddress,
			Lat:              place.Geometry.Location.Lat,
			Lon:              place.Geometry.Location.Lng,
			PlaceID:          place.PlaceID,
		}, nil
	}
	return nil, nil
}
