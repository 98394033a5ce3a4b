package geocode

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Geocode(t *testing.T) {
	var gotQuery, gotRegion, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("query")
		gotRegion = r.URL.Query().Get("region")
		gotKey = r.URL.Query().Get("key")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"status": "OK",
			"results": [{
				"name": "Example Hall",
				"formatted_address": "123 Main St, Springfield, USA",
				"place_id": "abc123",
				"geometry": {"location": {"lat": 39.78, "lng": -89.65}}
			}]
		}`))
	}))
	defer srv.Close()

	c := NewClient("secret", WithBaseURL(srv.URL), WithInterval(time.Millisecond))
	res, err := c.Geocode(context.Background(), "Example Hall, 123 Main St", "US")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, "Example Hall, 123 Main St", gotQuery)
	assert.Equal(t, "us", gotRegion)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "abc123", res.PlaceID)
	assert.InDelta(t, 39.78, res.Lat, 1e-9)
	assert.InDelta(t, -89.65, res.Lon, 1e-9)
}

func TestClient_ZeroResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ZERO_RESULTS","results":[]}`))
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL), WithInterval(time.Millisecond))
	res, err := c.Geocode(context.Background(), "nowhere", "")
	require.NoError(t, err)
	assert.Nil(t, res)
}

func TestClient_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("query") == "denied" {
			_, _ = w.Write([]byte(`{"status":"REQUEST_DENIED","error_message":"bad key"}`))
			return
		}
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient("k", WithBaseURL(srv.URL), WithInterval(time.Millisecond))

	_, err := c.Geocode(context.Background(), "denied", "")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Contains(t, apiErr.Message, "REQUEST_DENIED")

	_, err = c.Geocode(context.Background(), "anything", "")
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)

	_, err = NewClient("").Geocode(context.Background(), "x", "")
	assert.Error(t, err)
}
