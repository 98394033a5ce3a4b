package dataforseo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the base URL for the search API.
	DefaultBaseURL = "https://api.dataforseo.com"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 60 * time.Second

	// DefaultRateLimit is the default rate limit (requests per second).
	DefaultRateLimit = 2

	// MaxTasksPerPost is the hard limit of tasks in one task_post array.
	MaxTasksPerPost = 100
)

const (
	pathTaskPost   = "/v3/serp/google/events/task_post"
	pathTasksReady = "/v3/serp/google/events/tasks_ready"
	pathTaskGet    = "/v3/serp/google/events/task_get/advanced/"
	pathIDList     = "/v3/serp/id_list"
)

// Client is a DataForSEO SERP events client.
type Client struct {
	baseURL    string
	login      string
	password   string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithBaseURL sets a custom base URL.
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

// WithRateLimit sets a custom rate limit.
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
		}
	}
}

// NewClient creates a new search API client using basic auth credentials.
func NewClient(login, password string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:  DefaultBaseURL,
		login:    login,
		password: password,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// do performs a request and decodes the envelope. A non-20000 envelope status is an APIError.
func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &RateLimitError{RetryAfter: time.Second}
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.login, c.password)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.logger != nil {
		c.logger.Debug().
			Str("method", method).
			Str("path", path).
			Msg("Search API request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    string(msg),
			Endpoint:   path,
		}
	}

	var result Response
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if result.StatusCode != StatusOK {
		return nil, &APIError{
			StatusCode: result.StatusCode,
			Message:    result.StatusMessage,
			Endpoint:   path,
		}
	}

	return &result, nil
}

// TaskPost submits up to MaxTasksPerPost tasks and returns the per-task outcome in submission order.
func (c *Client) TaskPost(ctx context.Context, tasks []TaskPostRequest) ([]PostedTask, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	if len(tasks) > MaxTasksPerPost {
		return nil, fmt.Errorf("task_post accepts at most %d tasks, got %d", MaxTasksPerPost, len(tasks))
	}

	resp, err := c.do(ctx, http.MethodPost, pathTaskPost, tasks)
	if err != nil {
		return nil, err
	}

	posted := make([]PostedTask, 0, len(resp.Tasks))
	for _, t := range resp.Tasks {
		posted = append(posted, PostedTask{
			ID:            t.ID,
			Tag:           t.Data.Tag,
			StatusCode:    t.StatusCode,
			StatusMessage: t.StatusMessage,
		})
	}
	return posted, nil
}

// TasksReady lists tasks whose results are ready to collect.
func (c *Client) TasksReady(ctx context.Context) ([]ReadyTask, error) {
	resp, err := c.do(ctx, http.MethodGet, pathTasksReady, nil)
	if err != nil {
		return nil, err
	}

	var ready []ReadyTask
	for _, t := range resp.Tasks {
		if len(t.Result) == 0 || string(t.Result) == "null" {
			continue
		}
		var entries []ReadyTask
		if err := json.Unmarshal(t.Result, &entries); err != nil {
			return nil, fmt.Errorf("failed to decode ready tasks: %w", err)
		}
		ready = append(ready, entries...)
	}
	return ready, nil
}

// TaskGet fetches the advanced result of one task. The raw response body is kept on the
// returned task's Result so callers can walk arbitrarily nested item shapes.
func (c *Client) TaskGet(ctx context.Context, id string) (*Task, error) {
	if id == "" {
		return nil, fmt.Errorf("task id is required")
	}

	path := pathTaskGet + url.PathEscape(id)
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Tasks) == 0 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "no tasks in response", Endpoint: path}
	}

	task := resp.Tasks[0]
	if task.StatusCode != StatusOK {
		return nil, &APIError{StatusCode: task.StatusCode, Message: task.StatusMessage, Endpoint: path}
	}
	return &task, nil
}

// IDList returns tasks completed inside [from, to). A zero to leaves the window open.
func (c *Client) IDList(ctx context.Context, from, to time.Time) ([]IDListEntry, error) {
	body := map[string]interface{}{
		"date_from": from.Format(DateTimeLayout),
	}
	if !to.IsZero() {
		body["date_to"] = to.Format(DateTimeLayout)
	}

	// The endpoint takes an array of request objects
	resp, err := c.do(ctx, http.MethodPost, pathIDList, []interface{}{body})
	if err != nil {
		return nil, err
	}

	var entries []IDListEntry
	for _, t := range resp.Tasks {
		if len(t.Result) == 0 || string(t.Result) == "null" {
			continue
		}
		var page []IDListEntry
		if err := json.Unmarshal(t.Result, &page); err != nil {
			return nil, fmt.Errorf("failed to decode id list: %w", err)
		}
		entries = append(entries, page...)
	}
	return entries, nil
}
