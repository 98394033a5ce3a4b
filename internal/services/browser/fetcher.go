package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/tempo/internal/common"
	"github.com/ternarybob/tempo/internal/interfaces"
)

const defaultUserAgent = "Mozilla/5.0 (compatible; Tempo/1.0)"

// Fetcher owns one headless browser for the lifetime of a fetch worker.
// Every page gets its own tab context which is closed before FetchHTML returns.
type Fetcher struct {
	mu              sync.Mutex
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
	pageTimeout     time.Duration
	renderWait      time.Duration
	logger          arbor.ILogger
	closed          bool
}

var _ interfaces.PageFetcher = (*Fetcher)(nil)

// NewFetcher launches the browser and checks it responds
func NewFetcher(config *common.FetchConfig, logger arbor.ILogger) (*Fetcher, error) {
	userAgent := config.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-gpu", config.DisableGPU),
		chromedp.Flag("no-sandbox", config.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("blink-settings", "imagesEnabled=false"),
		chromedp.UserAgent(userAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	startTime := time.Now()
	testCtx, testCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	f := &Fetcher{
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		allocatorCancel: allocatorCancel,
		pageTimeout:     common.MustDuration(config.PageTimeout, 15*time.Second),
		renderWait:      common.MustDuration(config.RenderWait, 0),
		logger:          logger,
	}

	logger.Info().
		Bool("headless", config.Headless).
		Dur("page_timeout", f.pageTimeout).
		Dur("startup_time", time.Since(startTime)).
		Msg("Headless browser started")

	return f, nil
}

// FetchHTML loads url in a fresh tab and returns the rendered document
func (f *Fetcher) FetchHTML(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return "", fmt.Errorf("browser is closed")
	}
	browserCtx := f.browserCtx
	f.mu.Unlock()

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	defer tabCancel()

	timeoutCtx, timeoutCancel := context.WithTimeout(tabCtx, f.pageTimeout)
	defer timeoutCancel()

	// Stop the tab when the caller's context ends
	stop := context.AfterFunc(ctx, timeoutCancel)
	defer stop()

	actions := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if f.renderWait > 0 {
		actions = append(actions, chromedp.Sleep(f.renderWait))
	}

	var html string
	actions = append(actions, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	startTime := time.Now()
	if err := chromedp.Run(timeoutCtx, actions...); err != nil {
		return "", fmt.Errorf("failed to load %s: %w", url, err)
	}

	f.logger.Debug().
		Str("url", url).
		Int("html_length", len(html)).
		Dur("duration", time.Since(startTime)).
		Msg("Page rendered")

	return html, nil
}

// Close shuts the browser down
func (f *Fetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	f.browserCancel()
	f.allocatorCancel()
	f.logger.Info().Msg("Headless browser shut down")
	return nil
}
