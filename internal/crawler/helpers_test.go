package crawler

import (
	"io"

	"github.com/charmbracelet/log"

	"github.com/go-scripts/postarchive/internal/logging"
)

func newTestLogger(w io.Writer) *log.Logger {
	return logging.New(w, log.InfoLevel)
}
