package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/go-scripts/postarchive/internal/types"
)

// DefaultCommand is the external snapshot tool.
const DefaultCommand = "single-file"

// SingleFile runs the single-file CLI once per page.
type SingleFile struct {
	// Command is the argv prefix; URL, output path and browser flags follow.
	Command []string
	// Headless is passed as --browser-headless. The archived site only
	// renders correctly with a visible window, so it defaults to false.
	Headless bool
	// Env is appended to the current environment of the child.
	Env []string
	// WaitDelay bounds how long Wait blocks on I/O after the child is killed.
	WaitDelay time.Duration
}

// NewSingleFile returns a renderer invoking command (DefaultCommand if empty).
func NewSingleFile(command string, headless bool) *SingleFile {
	if command == "" {
		command = DefaultCommand
	}
	return &SingleFile{
		Command:   []string{command},
		Headless:  headless,
		WaitDelay: 5 * time.Second,
	}
}

// Args returns the arguments passed after Command.
func (s *SingleFile) Args(url, outputPath string) []string {
	return []string{
		url,
		outputPath,
		"--browser-headless", strconv.FormatBool(s.Headless),
		"--browser-start-minimized",
	}
}

// Render launches the tool and waits for it. The child is killed outright
// when timeout elapses; it is not asked to stop.
func (s *SingleFile) Render(ctx context.Context, url, outputPath string, timeout time.Duration) types.Result {
	if exists(outputPath) {
		return skipped()
	}

	start := time.Now()
	res := types.Result{Outcome: types.Failed, ExitCode: -1}

	if len(s.Command) == 0 {
		res.Err = errors.New("no render command configured")
		return res
	}

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := append(append([]string{}, s.Command[1:]...), s.Args(url, outputPath)...)
	cmd := exec.CommandContext(runCtx, s.Command[0], args...)
	if len(s.Env) > 0 {
		cmd.Env = append(os.Environ(), s.Env...)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	cmd.WaitDelay = s.WaitDelay

	err := cmd.Run()
	res.Elapsed = time.Since(start)

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		res.ExitCode = 0
		if exists(outputPath) {
			res.Outcome = types.Success
			return res
		}
		res.Err = ErrNoOutput
	case ctx.Err() != nil:
		res.Err = fmt.Errorf("render interrupted: %w", ctx.Err())
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.Outcome = types.TimedOut
		res.Err = fmt.Errorf("render timed out after %s: %w", timeout, context.DeadlineExceeded)
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		if msg := lastLine(stderr.String()); msg != "" {
			res.Err = fmt.Errorf("%s exited with code %d: %s", s.Command[0], res.ExitCode, msg)
		} else {
			res.Err = fmt.Errorf("%s exited with code %d", s.Command[0], res.ExitCode)
		}
	default:
		res.Err = fmt.Errorf("failed to run %s: %w", s.Command[0], err)
	}

	return cleanup(res, outputPath)
}
