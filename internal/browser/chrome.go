package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ErrNetworkBusy is returned by Navigate when the page loaded but network
// activity did not settle before the context deadline.
var ErrNetworkBusy = errors.New("network did not become idle")

// ChromeOptions configures a headless Chrome session.
type ChromeOptions struct {
	Headless  bool
	ExecPath  string // empty uses the chromedp lookup
	UserAgent string
}

// Chrome is a Session backed by a chromedp-controlled tab.
type Chrome struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	hub         Hub

	mu        sync.Mutex
	idle      chan struct{}
	mainFrame cdp.FrameID
}

// NewLauncher returns a Launcher that starts Chrome with opts.
func NewLauncher(opts ChromeOptions) Launcher {
	return func(ctx context.Context) (Session, error) {
		return LaunchChrome(ctx, opts)
	}
}

// LaunchChrome starts a browser and opens one tab with network and lifecycle
// events enabled. The browser lives until Close, independent of ctx.
func LaunchChrome(ctx context.Context, opts ChromeOptions) (*Chrome, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
	)
	if !opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	c := &Chrome{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
	}
	chromedp.ListenTarget(tabCtx, c.onEvent)

	// The first Run allocates the browser; it must use the tab context itself.
	startErr := make(chan error, 1)
	go func() {
		startErr <- chromedp.Run(tabCtx,
			network.Enable(),
			page.SetLifecycleEventsEnabled(true),
		)
	}()

	select {
	case err := <-startErr:
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("launching browser: %w", err)
		}
	case <-ctx.Done():
		c.Close()
		return nil, fmt.Errorf("launching browser: %w", ctx.Err())
	}

	// A page target's main frame shares the target's ID.
	if t := chromedp.FromContext(tabCtx).Target; t != nil {
		c.mu.Lock()
		c.mainFrame = cdp.FrameID(t.TargetID)
		c.mu.Unlock()
	}
	return c, nil
}

// onEvent runs on the chromedp event goroutine and must not block.
func (c *Chrome) onEvent(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventWebSocketCreated:
		c.hub.Publish(Event{Kind: SocketOpened, ID: string(e.RequestID), URL: e.URL})
	case *network.EventWebSocketFrameReceived:
		c.hub.Publish(Event{Kind: SocketFrame, ID: string(e.RequestID)})
	case *network.EventWebSocketClosed:
		c.hub.Publish(Event{Kind: SocketClosed, ID: string(e.RequestID)})
	case *page.EventLifecycleEvent:
		c.mu.Lock()
		if mainFrameIdle(e, c.mainFrame) && c.idle != nil {
			select {
			case c.idle <- struct{}{}:
			default:
			}
		}
		c.mu.Unlock()
	}
}

// mainFrameIdle reports whether e marks network quiescence of the top-level
// document. Idle signals from iframes, such as an embedded player, are ignored.
func mainFrameIdle(e *page.EventLifecycleEvent, main cdp.FrameID) bool {
	return e.Name == "networkIdle" && main != "" && e.FrameID == main
}

// Subscribe implements Session.
func (c *Chrome) Subscribe() (<-chan Event, func()) {
	return c.hub.Subscribe()
}

// Mark implements Session.
func (c *Chrome) Mark(token string) {
	c.hub.Publish(Event{Kind: Marker, ID: token})
}

// Navigate implements Session. Navigation failures are returned as is;
// a page that never goes network-idle yields ErrNetworkBusy once ctx expires.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	idle := make(chan struct{}, 1)
	c.mu.Lock()
	c.idle = idle
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.idle = nil
		c.mu.Unlock()
	}()

	if err := c.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ErrNetworkBusy
	}
}

// WaitVisible implements Session.
func (c *Chrome) WaitVisible(ctx context.Context, selector string) error {
	return c.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

// HTML implements Session.
func (c *Chrome) HTML(ctx context.Context) (string, error) {
	var html string
	if err := c.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("reading document: %w", err)
	}
	return html, nil
}

// Close shuts the tab and the browser process.
func (c *Chrome) Close() error {
	c.hub.CloseAll()
	err := chromedp.Cancel(c.ctx)
	c.cancelTab()
	c.cancelAlloc()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// run executes actions on the tab while honouring the caller's ctx, which is
// not derived from the chromedp context.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
