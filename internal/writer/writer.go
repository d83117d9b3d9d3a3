package writer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrOutputDirMissing is returned when a caller-supplied output directory does not exist.
var ErrOutputDirMissing = errors.New("output directory does not exist")

const (
	// LogFileName is the run log kept at the root of the output tree.
	LogFileName = "crawler.log"

	untitled = "untitled"
)

// FileWriter owns the on-disk layout of one archive run.
type FileWriter struct {
	outputDir string
}

// ResolveBaseDir returns outputDir when it is an existing directory. An empty
// outputDir yields a fresh posts_<timestamp> name in the working directory.
func ResolveBaseDir(outputDir string, now time.Time) (string, error) {
	if outputDir == "" {
		return "posts_" + now.Format("20060102150405"), nil
	}

	info, err := os.Stat(outputDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrOutputDirMissing, outputDir)
		}
		return "", fmt.Errorf("failed to stat output directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrOutputDirMissing, outputDir)
	}

	return outputDir, nil
}

// New creates a new FileWriter rooted at outputDir, creating it if needed.
func New(outputDir string) (*FileWriter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &FileWriter{outputDir: outputDir}, nil
}

// Root returns the base directory of the tree.
func (w *FileWriter) Root() string {
	return w.outputDir
}

// LogPath returns the location of the run log.
func (w *FileWriter) LogPath() string {
	return filepath.Join(w.outputDir, LogFileName)
}

// PostDir creates the directory for the post at 1-based index idx. created is
// false when the directory was already there from an earlier run.
func (w *FileWriter) PostDir(idx int, label string) (dir string, created bool, err error) {
	dir = filepath.Join(w.outputDir, fmt.Sprintf("%03d_%s", idx, Sanitize(label)))

	if info, statErr := os.Stat(dir); statErr == nil {
		if !info.IsDir() {
			return "", false, fmt.Errorf("post path %s exists and is not a directory", dir)
		}
		return dir, false, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", false, fmt.Errorf("failed to create post directory: %w", err)
	}
	return dir, true, nil
}

// Sanitize keeps ASCII letters, digits, space, hyphen and underscore, then
// trims trailing spaces. The result may be empty.
func Sanitize(label string) string {
	var b strings.Builder
	b.Grow(len(label))
	for _, r := range label {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Namer hands out snapshot file names inside one post directory.
type Namer struct {
	dir  string
	used map[string]bool
}

// NewNamer returns a Namer for dir.
func NewNamer(dir string) *Namer {
	return &Namer{dir: dir, used: make(map[string]bool)}
}

// Claim returns the snapshot path for label. A name already handed out,
// compared case-insensitively, gets the first free _2, _3, ... suffix, so no
// two claims share a path.
func (n *Namer) Claim(label string) string {
	name := Sanitize(label)
	if name == "" {
		name = untitled
	}

	candidate := name
	for k := 2; n.used[strings.ToLower(candidate)]; k++ {
		candidate = name + "_" + strconv.Itoa(k)
	}
	n.used[strings.ToLower(candidate)] = true

	return filepath.Join(n.dir, candidate+".html")
}
