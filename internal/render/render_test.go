package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-scripts/postarchive/internal/types"
)

const (
	helperEnv     = "POSTARCHIVE_HELPER_PROCESS"
	helperModeEnv = "POSTARCHIVE_HELPER_MODE"
)

// TestHelperProcess stands in for the single-file binary. It is only active
// when re-executed by helperRenderer.
func TestHelperProcess(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: URL OUTPUT [flags]")
		os.Exit(2)
	}
	url, out := args[0], args[1]

	switch os.Getenv(helperModeEnv) {
	case "ok":
		_ = os.WriteFile(out, []byte("<html><body>"+url+"</body></html>"), 0644)
		os.Exit(0)
	case "args":
		_ = os.WriteFile(out, []byte(strings.Join(args, "\n")), 0644)
		os.Exit(0)
	case "fail":
		_ = os.WriteFile(out, []byte("<html><bo"), 0644)
		fmt.Fprintln(os.Stderr, "loading page")
		fmt.Fprintln(os.Stderr, "navigation error: net::ERR_NAME_NOT_RESOLVED")
		os.Exit(3)
	case "hang":
		_ = os.WriteFile(out, []byte("<html><bo"), 0644)
		time.Sleep(time.Minute)
		os.Exit(0)
	case "noop":
		os.Exit(0)
	default:
		os.Exit(9)
	}
}

func helperRenderer(mode string) *SingleFile {
	r := NewSingleFile("", false)
	r.Command = []string{os.Args[0], "-test.run=^TestHelperProcess$", "--"}
	r.Env = []string{helperEnv + "=1", helperModeEnv + "=" + mode}
	r.WaitDelay = time.Second
	return r
}

func TestSingleFileSuccess(t *testing.T) {
	out := filepath.Join(t.TempDir(), "page.html")

	res := helperRenderer("ok").Render(context.Background(), "https://example.com/a", out, 30*time.Second)

	require.Equal(t, types.Success, res.Outcome, "err: %v", res.Err)
	assert.True(t, res.OK())
	assert.False(t, res.Skipped)
	assert.Equal(t, 0, res.ExitCode)
	assert.NoError(t, res.Err)
	assert.FileExists(t, out)
}

func TestSingleFilePassesBrowserFlags(t *testing.T) {
	out := filepath.Join(t.TempDir(), "page.html")

	res := helperRenderer("args").Render(context.Background(), "https://example.com/a", out, 30*time.Second)
	require.True(t, res.OK(), "err: %v", res.Err)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://example.com/a",
		out,
		"--browser-headless", "false",
		"--browser-start-minimized",
	}, strings.Split(string(data), "\n"))
}

func TestSingleFileSkipsExistingOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(out, []byte("done before"), 0644))

	r := NewSingleFile(filepath.Join(t.TempDir(), "does-not-exist"), false)
	res := r.Render(context.Background(), "https://example.com/a", out, time.Second)

	assert.Equal(t, types.Success, res.Outcome)
	assert.True(t, res.Skipped)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "done before", string(data))
}

func TestSingleFileNonZeroExitRemovesPartial(t *testing.T) {
	out := filepath.Join(t.TempDir(), "page.html")

	res := helperRenderer("fail").Render(context.Background(), "https://example.com/a", out, 30*time.Second)

	assert.Equal(t, types.Failed, res.Outcome)
	assert.Equal(t, 3, res.ExitCode)
	assert.True(t, res.Removed)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "ERR_NAME_NOT_RESOLVED")
	assert.NoFileExists(t, out)
}

func TestSingleFileTimeoutKillsAndRemovesPartial(t *testing.T) {
	out := filepath.Join(t.TempDir(), "page.html")

	start := time.Now()
	res := helperRenderer("hang").Render(context.Background(), "https://example.com/a", out, 500*time.Millisecond)

	assert.Equal(t, types.TimedOut, res.Outcome)
	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 20*time.Second)
	assert.NoFileExists(t, out)
}

func TestSingleFileMissingOutputIsFailure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "page.html")

	res := helperRenderer("noop").Render(context.Background(), "https://example.com/a", out, 30*time.Second)

	assert.Equal(t, types.Failed, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrNoOutput)
	assert.False(t, res.Removed)
	assert.NoFileExists(t, out)
}

func TestSingleFileLaunchError(t *testing.T) {
	out := filepath.Join(t.TempDir(), "page.html")

	r := NewSingleFile(filepath.Join(t.TempDir(), "no-such-binary"), false)
	res := r.Render(context.Background(), "https://example.com/a", out, time.Second)

	assert.Equal(t, types.Failed, res.Outcome)
	assert.Equal(t, -1, res.ExitCode)
	assert.Error(t, res.Err)
	assert.NoFileExists(t, out)
}

func TestSingleFileEmptyCommand(t *testing.T) {
	r := &SingleFile{}
	res := r.Render(context.Background(), "https://example.com/a", filepath.Join(t.TempDir(), "x.html"), 0)
	assert.Equal(t, types.Failed, res.Outcome)
	assert.Error(t, res.Err)
}

func TestSingleFileParentCancel(t *testing.T) {
	out := filepath.Join(t.TempDir(), "page.html")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(300 * time.Millisecond)
		cancel()
	}()

	res := helperRenderer("hang").Render(ctx, "https://example.com/a", out, time.Minute)

	assert.Equal(t, types.Failed, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.NoFileExists(t, out)
}

func TestChromedpSkipsExistingOutput(t *testing.T) {
	out := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(out, []byte("cached"), 0644))

	r := NewChromedp(true, "")
	defer r.Close()

	res := r.Render(context.Background(), "https://example.com/a", out, time.Second)
	assert.True(t, res.Skipped)
	assert.Nil(t, r.browserCtx, "no browser should be started for a cached page")
}

func TestChromedpBrowserLaunchFailure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "page.html")

	r := NewChromedp(true, "")
	r.ExecPath = filepath.Join(t.TempDir(), "no-chrome")
	defer r.Close()

	res := r.Render(context.Background(), "https://example.com/a", out, 5*time.Second)
	assert.Equal(t, types.Failed, res.Outcome)
	assert.Error(t, res.Err)
	assert.NoFileExists(t, out)
	assert.NoFileExists(t, out+".part")
}

func TestNewBackends(t *testing.T) {
	r, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &SingleFile{}, r)
	assert.Equal(t, []string{DefaultCommand}, r.(*SingleFile).Command)

	r, err = New(Config{Backend: BackendChromedp, Headless: true})
	require.NoError(t, err)
	assert.IsType(t, &Chromedp{}, r)

	_, err = New(Config{Backend: "wget"})
	assert.Error(t, err)
}

func TestCleanupToleratesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "present.html")
	require.NoError(t, os.WriteFile(present, nil, 0644))

	res := cleanup(types.Result{Outcome: types.Failed}, filepath.Join(dir, "absent.html"), present)
	assert.True(t, res.Removed)
	assert.NoError(t, res.Err)
	assert.NoFileExists(t, present)
}

func TestLastLine(t *testing.T) {
	assert.Equal(t, "third", lastLine("first\nsecond\nthird\n\n"))
	assert.Equal(t, "", lastLine("  \n"))
}
