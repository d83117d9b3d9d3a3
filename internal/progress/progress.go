package progress

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mattn/go-isatty"
)

// Interval is the refresh period of the status line.
const Interval = 100 * time.Millisecond

// Reporter animates a single status line around a blocking phase.
// Start must not be called while a previous Start is still running.
type Reporter interface {
	Start(message string)
	Stop()
	// Done stops the line, clears it and writes a completion message.
	Done(message string)
	// Fail stops the line, clears it and writes a failure message.
	Fail(message string)
}

// Spinner is a Reporter drawing a braille spinner on a terminal.
type Spinner struct {
	w        io.Writer
	terminal bool
	current  *spinner.Spinner
	mu       sync.Mutex
}

// NewSpinner creates a Spinner writing to w.
func NewSpinner(w io.Writer) *Spinner {
	return &Spinner{
		w:        w,
		terminal: isTerminal(w),
	}
}

// Start begins animating message. A spinner left running is stopped first.
func (s *Spinner) Start(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	// a stopped spinner is never restarted; each phase gets a fresh one
	sp := spinner.New(spinner.CharSets[14], Interval, spinner.WithWriter(s.w))
	sp.Suffix = " " + message
	sp.Start()
	s.current = sp
}

// Stop halts the animation. It returns once the spinner has stopped writing.
func (s *Spinner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Spinner) Done(message string) {
	s.finish("✓", message)
}

func (s *Spinner) Fail(message string) {
	s.finish("✗", message)
}

func (s *Spinner) finish(mark, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	if s.terminal {
		fmt.Fprint(s.w, "\r\033[K")
	}
	fmt.Fprintf(s.w, "%s %s\n", mark, message)
}

func (s *Spinner) stopLocked() {
	if s.current == nil {
		return
	}
	s.current.Stop()
	s.current = nil
}

// Nop is a Reporter that prints nothing.
type Nop struct{}

func (Nop) Start(string) {}
func (Nop) Stop()        {}
func (Nop) Done(string)  {}
func (Nop) Fail(string)  {}

// ShortURL trims urlStr to at most maxLen characters for the status line,
// keeping the host and the tail of the path.
func ShortURL(urlStr string, maxLen int) string {
	if len(urlStr) <= maxLen {
		return urlStr
	}

	u, err := url.Parse(urlStr)
	if err == nil && u.Host != "" {
		domain := u.Host
		path := u.Path
		if room := maxLen - len(domain) - 3; room > 0 && len(path) > room {
			path = "..." + path[len(path)-room:]
		}
		if short := domain + path; len(short) <= maxLen+3 {
			return short
		}
	}
	return "..." + urlStr[len(urlStr)-maxLen:]
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
