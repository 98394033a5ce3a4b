package browser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
)

func requireChrome(t *testing.T) {
	t.Helper()
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome", "headless-shell"} {
		if _, err := exec.LookPath(name); err == nil {
			return
		}
	}
	t.Skip("no Chrome binary found")
}

func TestFetcher_FetchHTML(t *testing.T) {
	requireChrome(t)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head>
			<script type="application/ld+json">{"@type":"Event","name":"Salsa Night"}</script>
			</head><body><h1>Salsa</h1></body></html>`))
	}))
	defer srv.Close()

	cfg := common.NewDefaultConfig().Fetch
	f, err := NewFetcher(&cfg, arbor.NewLogger())
	require.NoError(t, err)
	defer f.Close()

	html, err := f.FetchHTML(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, html, `"name":"Salsa Night"`)

	require.NoError(t, f.Close())
	_, err = f.FetchHTML(context.Background(), srv.URL)
	assert.Error(t, err)
}
