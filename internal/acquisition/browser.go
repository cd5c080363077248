package acquisition

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"

	"cortex/internal/cerr"
)

// NavigateResult is the outcome of driving a browser to a URL.
type NavigateResult struct {
	FinalURL     string
	Status       int
	RedirectChain []string
	LoadTimeMS   int64
}

// Browser is the L3 fallback's injectable dependency: an abstraction over a
// headless browser session. A no-op implementation is valid when browser
// binaries are absent; MapAssembler treats its ErrBrowserUnavailable as
// "L3 skipped", not a mapping failure.
type Browser interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) (NavigateResult, error)
	ExecuteJS(ctx context.Context, script string) (string, error)
	GetHTML(ctx context.Context) (string, error)
	GetURL(ctx context.Context) (string, error)
	Close() error
}

// NoopBrowser implements Browser by refusing every call with
// ErrBrowserUnavailable. Used when no Chromium binary is configured.
type NoopBrowser struct{}

func (NoopBrowser) Navigate(context.Context, string, time.Duration) (NavigateResult, error) {
	return NavigateResult{}, cerr.ErrBrowserUnavailable
}
func (NoopBrowser) ExecuteJS(context.Context, string) (string, error) {
	return "", cerr.ErrBrowserUnavailable
}
func (NoopBrowser) GetHTML(context.Context) (string, error) { return "", cerr.ErrBrowserUnavailable }
func (NoopBrowser) GetURL(context.Context) (string, error)  { return "", cerr.ErrBrowserUnavailable }
func (NoopBrowser) Close() error                            { return nil }

// ChromedpBrowser drives a real headless Chromium instance via chromedp.
// CORTEX_CHROMIUM_PATH, if set, overrides the binary chromedp auto-detects.
type ChromedpBrowser struct {
	allocCtx context.Context
	ctx      context.Context
	cancels  []context.CancelFunc
}

// NewChromedpBrowser launches a headless Chromium context. Returns
// ErrBrowserUnavailable if chromedp cannot allocate a browser (binary
// missing, sandbox denied, etc).
func NewChromedpBrowser(ctx context.Context) (*ChromedpBrowser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", true))
	if path := os.Getenv("CORTEX_CHROMIUM_PATH"); path != "" {
		opts = append(opts, chromedp.ExecPath(path))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		log.Warn().Err(err).Msg("chromedp allocation failed, L3 unavailable")
		return nil, fmt.Errorf("%w: %v", cerr.ErrBrowserUnavailable, err)
	}

	return &ChromedpBrowser{
		allocCtx: allocCtx,
		ctx:      browserCtx,
		cancels:  []context.CancelFunc{browserCancel, allocCancel},
	}, nil
}

func (b *ChromedpBrowser) Navigate(ctx context.Context, url string, timeout time.Duration) (NavigateResult, error) {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	runCtx, cancel := context.WithTimeout(b.ctx, timeout)
	defer cancel()

	start := time.Now()
	var finalURL string
	err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
	)
	elapsed := time.Since(start)
	if err != nil {
		return NavigateResult{}, fmt.Errorf("navigating to %s: %w", url, err)
	}
	return NavigateResult{FinalURL: finalURL, Status: 200, LoadTimeMS: elapsed.Milliseconds()}, nil
}

func (b *ChromedpBrowser) ExecuteJS(ctx context.Context, script string) (string, error) {
	var result string
	err := chromedp.Run(b.ctx, chromedp.Evaluate(script, &result))
	return result, err
}

func (b *ChromedpBrowser) GetHTML(ctx context.Context) (string, error) {
	var htmlContent string
	err := chromedp.Run(b.ctx, chromedp.OuterHTML("html", &htmlContent))
	return htmlContent, err
}

func (b *ChromedpBrowser) GetURL(ctx context.Context) (string, error) {
	var u string
	err := chromedp.Run(b.ctx, chromedp.Location(&u))
	return u, err
}

func (b *ChromedpBrowser) Close() error {
	for i := len(b.cancels) - 1; i >= 0; i-- {
		b.cancels[i]()
	}
	return nil
}
