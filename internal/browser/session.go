// Package browser owns the chromedp session a worker process drives. One
// worker holds exactly one browser; crash isolation comes from the process
// boundary, not from pooling.
package browser

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"

	"github.com/mitto-dev/mitto/internal/common"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Session is one live browser instance. Not safe for concurrent use; a
// worker drives one page at a time.
type Session struct {
	ctx             context.Context
	browserCancel   context.CancelFunc
	allocatorCancel context.CancelFunc
	cfg             common.BrowserConfig
	logger          arbor.ILogger
}

// NewSession launches a browser and verifies it responds before returning.
func NewSession(cfg common.BrowserConfig, logger arbor.ILogger) (*Session, error) {
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", cfg.DisableGPU),
		chromedp.Flag("no-sandbox", cfg.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-background-timer-throttling", false),
		chromedp.Flag("disable-backgrounding-occluded-windows", false),
		chromedp.Flag("disable-renderer-backgrounding", false),
		chromedp.UserAgent(userAgent),
	)

	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)

	startTime := time.Now()
	testTimeout := cfg.NavigationTimeout
	if testTimeout <= 0 {
		testTimeout = 30 * time.Second
	}
	testCtx, testCancel := context.WithTimeout(browserCtx, testTimeout)
	defer testCancel()

	if err := chromedp.Run(testCtx, chromedp.Navigate("about:blank")); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("browser failed startup test: %w", err)
	}

	logger.Debug().
		Dur("startup_time", time.Since(startTime)).
		Bool("headless", cfg.Headless).
		Msg("Browser session started")

	return &Session{
		ctx:             browserCtx,
		browserCancel:   browserCancel,
		allocatorCancel: allocatorCancel,
		cfg:             cfg,
		logger:          logger,
	}, nil
}

// NewPage navigates to url and returns a page handle. Navigation runs under
// the configured navigation timeout.
func (s *Session) NewPage(ctx context.Context, url string) (*Page, error) {
	timeout := s.cfg.NavigationTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	navCtx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	// Capture the document response status so failures can be classified
	// with the real HTTP evidence. The first document response wins.
	var docStatus atomic.Int64
	chromedp.ListenTarget(navCtx, func(ev any) {
		if resp, ok := ev.(*network.EventResponseReceived); ok {
			if resp.Type == network.ResourceTypeDocument {
				docStatus.CompareAndSwap(0, resp.Response.Status)
			}
		}
	})

	start := time.Now()
	if err := chromedp.Run(navCtx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("navigate %s: %w", url, err)
	}
	if s.cfg.JavaScriptWaitTime > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.cfg.JavaScriptWaitTime):
		}
	}
	s.logger.Debug().
		Str("url", url).
		Int64("http_status", docStatus.Load()).
		Dur("load_time", time.Since(start)).
		Msg("Page loaded")

	return &Page{ctx: s.ctx, cfg: s.cfg, httpStatus: int(docStatus.Load())}, nil
}

// Close shuts the browser down.
func (s *Session) Close() {
	if s.browserCancel != nil {
		s.browserCancel()
	}
	if s.allocatorCancel != nil {
		s.allocatorCancel()
	}
	s.logger.Debug().Msg("Browser session closed")
}
