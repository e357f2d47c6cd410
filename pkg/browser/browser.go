package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/gcottom/go-zaplog"
	"go.uber.org/zap"
)

// PageCapture is the result of one headless visit: the rendered document and
// every network request URL the page issued while loading.
type PageCapture struct {
	HTML        string
	RequestURLs []string
}

// Launcher drives a headless browser. One browser per call, no pooling:
// sites that need this path are visited rarely and a fresh profile avoids
// state bleeding between captures.
type Launcher struct {
	ExecPath string
	// SettleTime is how long to keep listening after navigation for the
	// player to request its stream manifest.
	SettleTime time.Duration
}

func NewLauncher(execPath string) *Launcher {
	return &Launcher{ExecPath: execPath, SettleTime: 8 * time.Second}
}

// CapturePage navigates to a URL, records outgoing request URLs, and returns
// the rendered HTML once the page settles.
func (l *Launcher) CapturePage(ctx context.Context, url string) (*PageCapture, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
	)
	if l.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.ExecPath))
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	browserCtx, canceltimeout := context.WithTimeout(browserCtx, 60*time.Second)
	defer canceltimeout()

	var mu sync.Mutex
	var requests []string
	chromedp.ListenTarget(browserCtx, func(ev any) {
		if event, ok := ev.(*network.EventRequestWillBeSent); ok {
			mu.Lock()
			requests = append(requests, event.Request.URL)
			mu.Unlock()
		}
	})

	var html string
	err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.Navigate(url),
		chromedp.Sleep(l.SettleTime),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		zaplog.ErrorC(ctx, "headless capture failed", zap.String("url", url), zap.Error(err))
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()
	return &PageCapture{HTML: html, RequestURLs: append([]string(nil), requests...)}, nil
}
