// Package renderer drives a headless Chrome for JavaScript-heavy pages: it renders
// pages for the crawler and confirms DOM-based XSS by watching what a payload does in a
// real browser.
package renderer

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// DefaultSettle is how long a page may run its scripts before it is inspected.
const DefaultSettle = 2 * time.Second

// Renderer manages a headless browser allocator shared by all tabs.
type Renderer struct {
	allocCtx context.Context
	cancel   context.CancelFunc
	timeout  time.Duration
	settle   time.Duration
}

// New starts the browser allocator. Each render or confirmation opens its own tab and
// is bounded by timeout.
func New(timeout time.Duration) (*Renderer, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Renderer{allocCtx: allocCtx, cancel: cancel, timeout: timeout, settle: DefaultSettle}, nil
}

// tab opens a browser tab that closes when ctx is done or the timeout expires.
func (r *Renderer) tab(ctx context.Context) (context.Context, context.CancelFunc) {
	taskCtx, cancelTimeout := context.WithTimeout(r.allocCtx, r.timeout)
	tabCtx, cancelTab := chromedp.NewContext(taskCtx)
	stop := context.AfterFunc(ctx, cancelTab)
	return tabCtx, func() {
		stop()
		cancelTab()
		cancelTimeout()
	}
}

// RenderHTML navigates to pageURL, lets its scripts run and returns the resulting
// document.
func (r *Renderer) RenderHTML(ctx context.Context, pageURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tabCtx, cancel := r.tab(ctx)
	defer cancel()

	var htmlContent string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(r.settle),
		chromedp.OuterHTML("html", &htmlContent),
	)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", pageURL, err)
	}
	return htmlContent, nil
}

// ConfirmDOM loads pageURL and reports whether marker surfaced through script
// execution: either as the id of an element the payload created or in the message of a
// JavaScript dialog the payload opened. Dialogs are dismissed so the page keeps running.
func (r *Renderer) ConfirmDOM(ctx context.Context, pageURL, marker string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	tabCtx, cancel := r.tab(ctx)
	defer cancel()

	var dialog atomic.Bool
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		e, ok := ev.(*page.EventJavascriptDialogOpening)
		if !ok {
			return
		}
		if strings.Contains(e.Message, marker) {
			dialog.Store(true)
		}
		go func() {
			_ = chromedp.Run(tabCtx, page.HandleJavaScriptDialog(true))
		}()
	})

	var element bool
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.Sleep(r.settle),
		chromedp.Evaluate(fmt.Sprintf(`document.getElementById(%q) !== null`, marker), &element),
	)
	if dialog.Load() {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("confirm DOM on %s: %w", pageURL, err)
	}
	return element, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	r.cancel()
}
