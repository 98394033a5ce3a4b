package geocode

import (
	"fmt"
	"time"
)

// textSearchResponse is the subset of the Places Text Search response we read
type textSearchResponse struct {
	Results      []placeResult `json:"results"`
	Status       string        `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

type placeResult struct {
	FormattedAddress string    `json:"formatted_address,omitempty"`
	Geometry         *geometry `json:"geometry,omitempty"`
	Name             string    `json:"name"`
	PlaceID          string    `json:"place_id"`
}

type geometry struct {
	Location *latLng `json:"location,omitempty"`
}

type latLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// APIError represents an error from the geocoding API.
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("geocoding API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// RateLimitError is returned when waiting for the limiter was cancelled.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("geocoding rate limit wait aborted, retry after %v", e.RetryAfter)
}
