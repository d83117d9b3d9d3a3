package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/go-scripts/postarchive/internal/types"
)

// Chromedp captures the rendered DOM with a browser driven in-process.
// The browser is started on first use and shared by every render.
type Chromedp struct {
	Headless  bool
	UserAgent string
	// ExecPath overrides browser discovery when set.
	ExecPath string

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChromedp returns a renderer that launches Chrome lazily.
func NewChromedp(headless bool, userAgent string) *Chromedp {
	return &Chromedp{
		Headless:  headless,
		UserAgent: userAgent,
	}
}

// Close tears down the browser, if one was started.
func (r *Chromedp) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browserCancel != nil {
		r.browserCancel()
		r.allocCancel()
		r.browserCtx, r.browserCancel, r.allocCancel = nil, nil, nil
	}
	return nil
}

func (r *Chromedp) browser() (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browserCtx != nil {
		return r.browserCtx, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", r.Headless),
		chromedp.DisableGPU,
	)
	if r.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.UserAgent))
	}
	if r.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	r.allocCancel = allocCancel
	r.browserCtx = browserCtx
	r.browserCancel = browserCancel
	return browserCtx, nil
}

// Render navigates a fresh tab to url and writes the outer HTML to outputPath.
func (r *Chromedp) Render(ctx context.Context, url, outputPath string, timeout time.Duration) types.Result {
	if exists(outputPath) {
		return skipped()
	}

	start := time.Now()
	res := types.Result{Outcome: types.Failed, ExitCode: -1}
	partial := outputPath + ".part"

	browserCtx, err := r.browser()
	if err != nil {
		res.Err = err
		res.Elapsed = time.Since(start)
		return cleanup(res, partial, outputPath)
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := tabCtx, context.CancelFunc(func() {})
	if timeout > 0 {
		taskCtx, cancelTask = context.WithTimeout(tabCtx, timeout)
	}
	defer cancelTask()

	stopForward := forwardCancel(ctx, cancelTask)
	defer stopForward()

	var html string
	err = chromedp.Run(taskCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	res.Elapsed = time.Since(start)

	switch {
	case err == nil:
	case ctx.Err() != nil:
		res.Err = fmt.Errorf("render interrupted: %w", ctx.Err())
		return cleanup(res, partial, outputPath)
	case errors.Is(taskCtx.Err(), context.DeadlineExceeded):
		res.Outcome = types.TimedOut
		res.Err = fmt.Errorf("render timed out after %s: %w", timeout, context.DeadlineExceeded)
		return cleanup(res, partial, outputPath)
	default:
		res.Err = fmt.Errorf("chromedp run: %w", err)
		return cleanup(res, partial, outputPath)
	}

	if err := os.WriteFile(partial, []byte(html), 0644); err != nil {
		res.Err = fmt.Errorf("failed to write snapshot: %w", err)
		return cleanup(res, partial, outputPath)
	}
	if err := os.Rename(partial, outputPath); err != nil {
		res.Err = fmt.Errorf("failed to move snapshot into place: %w", err)
		return cleanup(res, partial, outputPath)
	}

	res.Outcome = types.Success
	res.ExitCode = 0
	return res
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
