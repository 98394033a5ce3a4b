package dataforseo

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status codes returned in the response envelope and per task
const (
	StatusOK          = 20000
	StatusTaskCreated = 20100
)

// DateTimeLayout is the format id_list expects for date_from/date_to
const DateTimeLayout = "2006-01-02 15:04:05 -0700"

// TaskPostRequest is one task spec in a task_post array.
type TaskPostRequest struct {
	Keyword      string `json:"keyword"`
	LocationCode int    `json:"location_code"`
	LanguageCode string `json:"language_code"`
	Depth        int    `json:"depth,omitempty"`
	Tag          string `json:"tag,omitempty"`
}

// Response is the envelope shared by every endpoint.
type Response struct {
	Version       string  `json:"version"`
	StatusCode    int     `json:"status_code"`
	StatusMessage string  `json:"status_message"`
	Cost          float64 `json:"cost"`
	TasksCount    int     `json:"tasks_count"`
	TasksError    int     `json:"tasks_error"`
	Tasks         []Task  `json:"tasks"`
}

// Task is one task inside the envelope. Result is left raw: its shape depends on the endpoint.
type Task struct {
	ID            string          `json:"id"`
	StatusCode    int             `json:"status_code"`
	StatusMessage string          `json:"status_message"`
	Cost          float64         `json:"cost"`
	ResultCount   int             `json:"result_count"`
	Path          []string        `json:"path"`
	Data          TaskData        `json:"data"`
	Result        json.RawMessage `json:"result"`
}

// TaskData echoes the submitted task spec.
type TaskData struct {
	API          string `json:"api"`
	Function     string `json:"function"`
	SE           string `json:"se"`
	SEType       string `json:"se_type"`
	Keyword      string `json:"keyword"`
	LocationCode int    `json:"location_code"`
	LanguageCode string `json:"language_code"`
	Depth        int    `json:"depth"`
	Tag          string `json:"tag"`
}

// PostedTask is the per-task outcome of a task_post call.
type PostedTask struct {
	ID            string
	Tag           string
	StatusCode    int
	StatusMessage string
}

// Created reports whether the service accepted the task
func (t PostedTask) Created() bool {
	return t.StatusCode == StatusTaskCreated
}

// ReadyTask is an entry of the tasks_ready listing.
type ReadyTask struct {
	ID               string `json:"id"`
	SE               string `json:"se"`
	SEType           string `json:"se_type"`
	DatePosted       string `json:"date_posted"`
	Tag              string `json:"tag"`
	EndpointRegular  string `json:"endpoint_regular"`
	EndpointAdvanced string `json:"endpoint_advanced"`
}

// IDListEntry is an entry of the id_list listing of recently completed tasks.
type IDListEntry struct {
	ID             string  `json:"id"`
	URL            string  `json:"url"`
	Status         string  `json:"status"`
	Endpoint       string  `json:"endpoint"`
	Tag            string  `json:"tag"`
	ResultID       string  `json:"result_id"`
	Cost           float64 `json:"cost"`
	DatetimePosted string  `json:"datetime_posted"`
	DatetimeDone   string  `json:"datetime_done"`
}

// APIError represents an HTTP or envelope-level error from the search API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("search API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// RateLimitError represents a rate limit error.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("search API rate limit exceeded, retry after %v", e.RetryAfter)
}
