// Package browser manages the headless browser used to capture preview
// images, via chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/previewkit/ogpipe/internal/ogimage"
)

// ErrNoTarget indicates a capture was requested with neither a URL nor
// inline HTML.
var ErrNoTarget = errors.New("capture needs a url or inline html")

// Config controls the browser lifecycle and capture defaults.
type Config struct {
	UserAgent  string
	NavTimeout time.Duration
}

// Browser owns one headless browser instance. It is launched once per
// drain cycle and exclusively owned by the orchestrator until Close.
type Browser struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	logger          *zap.Logger
	cfg             Config
}

// Launch starts a headless browser and warms it up so the first capture
// does not pay the startup cost.
func Launch(cfg Config, logger *zap.Logger) (*Browser, error) {
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 25 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Browser{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		cfg:             cfg,
	}, nil
}

// Close tears down the browser and allocator contexts.
func (b *Browser) Close(ctx context.Context) error {
	if b == nil {
		return nil
	}
	b.browserCancel()
	b.allocatorCancel()
	select {
	case <-ctx.Done():
	default:
	}
	return nil
}

// Capture opens a fresh tab, loads the job's page or injected markup at
// the requested viewport, and returns PNG bytes.
func (b *Browser) Capture(ctx context.Context, opts ogimage.CaptureOptions) ([]byte, error) {
	if opts.URL == "" && opts.HTML == "" {
		return nil, ErrNoTarget
	}

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = b.cfg.NavTimeout
	}
	taskCtx, cancelTask := context.WithTimeout(tabCtx, timeout)
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	var buf []byte
	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
	}
	if b.cfg.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(b.cfg.UserAgent))
	}
	if opts.HTML != "" {
		tasks = append(tasks,
			chromedp.Navigate("about:blank"),
			setDocumentContent(opts.HTML),
		)
	} else {
		tasks = append(tasks, chromedp.Navigate(opts.URL))
	}
	tasks = append(tasks,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.CaptureScreenshot(&buf),
	)

	if err := chromedp.Run(taskCtx, tasks); err != nil {
		return nil, fmt.Errorf("chromedp run: %w", err)
	}
	return buf, nil
}

func setDocumentContent(html string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return fmt.Errorf("get frame tree: %w", err)
		}
		if err := page.SetDocumentContent(tree.Frame.ID, html).Do(ctx); err != nil {
			return fmt.Errorf("set document content: %w", err)
		}
		return nil
	})
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
