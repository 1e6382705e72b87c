package browser

import (
	"context"
	"sync"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/huntr-cli/internal/config"
)

const (
	defaultNavigationTimeout = 45 * time.Second
	defaultActionTimeout     = 15 * time.Second
)

// Tab is one isolated browser tab bound to a single session. It implements
// session.Resource plus the richer page operations the hunt loop uses. When
// the human closes the window, the tab context cancels and every subsequent
// call fails, which is exactly what the manual-closure watchdog probes for.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    config.BrowserConfig
	logger *zap.Logger

	closeOnce sync.Once
	wg        *sync.WaitGroup
}

func newTab(allocatorCtx context.Context, cfg config.BrowserConfig, logger *zap.Logger, wg *sync.WaitGroup) *Tab {
	tabCtx, cancel := chromedp.NewContext(allocatorCtx)
	wg.Add(1)
	return &Tab{
		ctx:    tabCtx,
		cancel: cancel,
		cfg:    cfg,
		logger: logger.Named("tab"),
		wg:     wg,
	}
}

// run executes chromedp actions against the tab under a bounded deadline.
// The caller's context gates entry only; chromedp actions must run on the
// tab's own context chain.
func (t *Tab) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

func (t *Tab) navTimeout() time.Duration {
	if t.cfg.NavigationTimeout > 0 {
		return t.cfg.NavigationTimeout
	}
	return defaultNavigationTimeout
}

func (t *Tab) actionTimeout() time.Duration {
	if t.cfg.ActionTimeout > 0 {
		return t.cfg.ActionTimeout
	}
	return defaultActionTimeout
}

// Navigate loads the url and waits for the document body to be ready.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	t.logger.Debug("Navigating", zap.String("url", url))
	return t.run(ctx, t.navTimeout(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
}

// Click clicks the first visible element matching the selector.
func (t *Tab) Click(ctx context.Context, selector string) error {
	return t.run(ctx, t.actionTimeout(),
		chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible),
	)
}

// Fill clears the matching input and types the value into it.
func (t *Tab) Fill(ctx context.Context, selector, value string) error {
	return t.run(ctx, t.actionTimeout(),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

// ScrollBy scrolls the viewport with a synthetic mouse wheel event, which
// reads as real input to the page rather than a script-driven scroll.
func (t *Tab) ScrollBy(ctx context.Context, dx, dy int) error {
	return t.run(ctx, t.actionTimeout(), chromedp.ActionFunc(func(ctx context.Context) error {
		return input.DispatchMouseEvent(input.MouseWheel, 400, 300).
			WithDeltaX(float64(dx)).
			WithDeltaY(float64(dy)).
			Do(ctx)
	}))
}

// HTML returns the full serialized document.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	var html string
	err := t.run(ctx, t.actionTimeout(),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	return html, err
}

// InnerText returns the visible text of the first matching element, or empty
// when absent. AtLeast(0) keeps the query from blocking on a missing node.
func (t *Tab) InnerText(ctx context.Context, selector string) (string, error) {
	var text string
	err := t.run(ctx, t.actionTimeout(),
		chromedp.Text(selector, &text, chromedp.ByQuery, chromedp.AtLeast(0)),
	)
	return text, err
}

// Attribute reads one attribute from the first matching element. ok is false
// when the element or attribute does not exist.
func (t *Tab) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	var value string
	var ok bool
	err := t.run(ctx, t.actionTimeout(),
		chromedp.AttributeValue(selector, name, &value, &ok, chromedp.ByQuery, chromedp.AtLeast(0)),
	)
	return value, ok, err
}

// URL returns the tab's current location. Cheap enough to serve as the
// liveness probe on every gated action.
func (t *Tab) URL(ctx context.Context) (string, error) {
	var location string
	err := t.run(ctx, t.actionTimeout(), chromedp.Location(&location))
	return location, err
}

// Closed reports whether the tab's CDP context has ended, which covers both a
// manual window close and a dead browser process.
func (t *Tab) Closed(context.Context) bool {
	return t.ctx.Err() != nil
}

// Close tears the tab down. Idempotent; the manager's tab count is
// decremented exactly once.
func (t *Tab) Close(context.Context) error {
	t.closeOnce.Do(func() {
		t.cancel()
		t.wg.Done()
		t.logger.Debug("Tab closed")
	})
	return nil
}
