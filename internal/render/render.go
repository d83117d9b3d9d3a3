// Package render captures a single URL into a static HTML file.
//
// Every Renderer upholds the same file contract: if the output path already
// exists nothing runs and the result is a skipped Success; on any Failed or
// TimedOut result the output path is gone by the time Render returns. An
// existing snapshot is therefore always a complete one.
package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-scripts/postarchive/internal/types"
)

// ErrNoOutput is reported when a renderer finished cleanly but left no file.
var ErrNoOutput = errors.New("renderer exited cleanly but wrote no output")

// Backend names accepted by New.
const (
	BackendSingleFile = "single-file"
	BackendChromedp   = "chromedp"
)

// Renderer captures url into outputPath, giving up after timeout.
// A zero timeout waits for as long as ctx allows.
type Renderer interface {
	Render(ctx context.Context, url, outputPath string, timeout time.Duration) types.Result
}

// Config selects and configures a backend.
type Config struct {
	Backend   string
	Command   string
	Headless  bool
	UserAgent string
}

// New returns the renderer for cfg.Backend. Callers should Close the result
// when it implements io.Closer.
func New(cfg Config) (Renderer, error) {
	switch cfg.Backend {
	case "", BackendSingleFile:
		return NewSingleFile(cfg.Command, cfg.Headless), nil
	case BackendChromedp:
		return NewChromedp(cfg.Headless, cfg.UserAgent), nil
	default:
		return nil, fmt.Errorf("unknown renderer backend %q", cfg.Backend)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func skipped() types.Result {
	return types.Result{Outcome: types.Success, Skipped: true}
}

// cleanup removes whatever a failed attempt left behind. Missing files are fine.
func cleanup(res types.Result, paths ...string) types.Result {
	for _, p := range paths {
		err := os.Remove(p)
		switch {
		case err == nil:
			res.Removed = true
		case errors.Is(err, os.ErrNotExist):
		default:
			res.Err = errors.Join(res.Err, fmt.Errorf("failed to remove partial output: %w", err))
		}
	}
	return res
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}
