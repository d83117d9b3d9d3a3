package types

import (
	"fmt"
	"time"
)

// LinkRef is one anchor found in a page's content region.
type LinkRef struct {
	URL   string
	Label string
}

// DownloadTask is a snapshot that failed and is waiting for its retry.
type DownloadTask struct {
	SourceURL  string
	OutputPath string
	Label      string
	Post       int
}

// Outcome is the tri-state result of a render attempt.
type Outcome int

const (
	Success Outcome = iota
	Failed
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed out"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes how a render attempt ended.
type Result struct {
	Outcome Outcome
	// Skipped is set when the output already existed and nothing ran.
	Skipped bool
	// ExitCode of the external tool, -1 when it never exited normally.
	ExitCode int
	// Err carries the failure reason for Failed and TimedOut.
	Err error
	// Removed reports that a partial artifact was deleted during cleanup.
	Removed bool
	Elapsed time.Duration
}

// OK reports whether the snapshot is on disk.
func (r Result) OK() bool {
	return r.Outcome == Success
}
