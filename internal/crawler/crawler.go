package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/go-scripts/postarchive/internal/logging"
	"github.com/go-scripts/postarchive/internal/progress"
	"github.com/go-scripts/postarchive/internal/queue"
	"github.com/go-scripts/postarchive/internal/render"
	"github.com/go-scripts/postarchive/internal/types"
	"github.com/go-scripts/postarchive/internal/writer"
)

const (
	DefaultDelayMin = 100 * time.Millisecond
	DefaultDelayMax = 300 * time.Millisecond
	DefaultTimeout  = 300 * time.Second
)

// Configuration holds the crawler settings
type Configuration struct {
	StartURL string
	// OutputDir must already exist when set. Empty means a new
	// posts_<timestamp> directory in the working directory.
	OutputDir string
	// PostsLimit and LinksLimit cap posts and pages per post; 0 is unlimited.
	PostsLimit int
	LinksLimit int
	Timeout    time.Duration
	DelayMin   time.Duration
	DelayMax   time.Duration
	LogLevel   log.Level
}

// Extractor returns the links listed on a page, or none if it cannot.
type Extractor interface {
	Extract(ctx context.Context, url string) []types.LinkRef
}

// Summary is the tally of one run.
type Summary struct {
	BaseDir string
	Posts   int
	// Attempts counts main-pass renders; Success+Failed equals it until retries run.
	Attempts  int
	Success   int
	Failed    int
	Skipped   int
	Retried   int
	Recovered int
	// PermanentFailures failed both the main pass and their retry.
	PermanentFailures []types.DownloadTask
}

// Crawler walks an index page, its posts and their pages, archiving every page.
type Crawler struct {
	config    Configuration
	extractor Extractor
	renderer  render.Renderer
	reporter  progress.Reporter
	logger    *log.Logger
	pause     func(ctx context.Context, d time.Duration)
	now       func() time.Time
}

// Option customises a Crawler.
type Option func(*Crawler)

// WithReporter replaces the terminal spinner.
func WithReporter(r progress.Reporter) Option {
	return func(c *Crawler) { c.reporter = r }
}

// WithLogger logs to l instead of <base dir>/crawler.log.
func WithLogger(l *log.Logger) Option {
	return func(c *Crawler) { c.logger = l }
}

// WithPause replaces the politeness sleep.
func WithPause(pause func(ctx context.Context, d time.Duration)) Option {
	return func(c *Crawler) { c.pause = pause }
}

// WithClock sets the clock used to name fresh output directories.
func WithClock(now func() time.Time) Option {
	return func(c *Crawler) { c.now = now }
}

// New creates a new Crawler instance
func New(config Configuration, extractor Extractor, renderer render.Renderer, opts ...Option) (*Crawler, error) {
	if config.StartURL == "" {
		return nil, errors.New("start URL is required")
	}
	if extractor == nil || renderer == nil {
		return nil, errors.New("extractor and renderer are required")
	}
	if config.PostsLimit < 0 || config.LinksLimit < 0 {
		return nil, fmt.Errorf("limits must not be negative (posts %d, links %d)", config.PostsLimit, config.LinksLimit)
	}
	if config.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative: %s", config.Timeout)
	}
	if config.DelayMin == 0 && config.DelayMax == 0 {
		config.DelayMin, config.DelayMax = DefaultDelayMin, DefaultDelayMax
	}
	if config.DelayMin < 0 || config.DelayMax < config.DelayMin {
		return nil, fmt.Errorf("invalid politeness delay range [%s, %s]", config.DelayMin, config.DelayMax)
	}

	c := &Crawler{
		config:    config,
		extractor: extractor,
		renderer:  renderer,
		reporter:  progress.NewSpinner(os.Stdout),
		pause:     sleep,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// session is the mutable state of one run. It is only touched by the
// goroutine executing Run.
type session struct {
	out      *writer.FileWriter
	logger   *log.Logger
	failures *queue.Queue
	summary  Summary
}

// Run performs the whole crawl: setup, discovery, the per-post export loop,
// one retry pass over failures and the final tally. It fails before any
// network access when the configured output directory is missing.
func (c *Crawler) Run(ctx context.Context) (Summary, error) {
	baseDir, err := writer.ResolveBaseDir(c.config.OutputDir, c.now())
	if err != nil {
		return Summary{}, err
	}
	out, err := writer.New(baseDir)
	if err != nil {
		return Summary{}, err
	}

	logger := c.logger
	if logger == nil {
		var closer io.Closer
		logger, closer, err = logging.OpenFile(out.LogPath(), c.config.LogLevel)
		if err != nil {
			return Summary{}, err
		}
		defer closer.Close()
	}
	if l, ok := c.extractor.(interface{ SetLogger(*log.Logger) }); ok {
		l.SetLogger(logger)
	}

	s := &session{
		out:      out,
		logger:   logger,
		failures: queue.New(),
		summary:  Summary{BaseDir: out.Root()},
	}

	logger.Info("archive run started",
		"url", c.config.StartURL,
		"base_dir", out.Root(),
		"posts_limit", c.config.PostsLimit,
		"links_limit", c.config.LinksLimit,
		"timeout", c.config.Timeout)

	if err := c.crawl(ctx, s); err != nil {
		c.reporter.Stop()
		logger.Error("archive run interrupted", "err", err,
			"success", s.summary.Success, "failed", s.summary.Failed)
		return s.summary, err
	}

	c.reporter.Done(fmt.Sprintf("All exports finished: %d pages succeeded, %d failed",
		s.summary.Success, s.summary.Failed))
	logger.Info("archive run finished",
		"success", s.summary.Success,
		"failed", s.summary.Failed,
		"recovered", s.summary.Recovered)

	return s.summary, nil
}

func (c *Crawler) crawl(ctx context.Context, s *session) error {
	c.reporter.Start("Collecting post links...")
	posts := c.extractor.Extract(ctx, c.config.StartURL)
	if c.config.PostsLimit > 0 && len(posts) > c.config.PostsLimit {
		posts = posts[:c.config.PostsLimit]
	}
	c.reporter.Done(fmt.Sprintf("Collected %d posts", len(posts)))
	s.logger.Info("posts discovered", "count", len(posts))

	for i, post := range posts {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.exportPost(ctx, s, i+1, post); err != nil {
			return err
		}
	}

	return c.retryFailures(ctx, s)
}

func (c *Crawler) exportPost(ctx context.Context, s *session, idx int, post types.LinkRef) error {
	dir, created, err := s.out.PostDir(idx, post.Label)
	if err != nil {
		s.logger.Error("cannot prepare post directory, skipping post", "post", idx, "label", post.Label, "err", err)
		c.reporter.Fail(fmt.Sprintf("Post %d skipped: %v", idx, err))
		return nil
	}
	s.summary.Posts++
	if created {
		s.logger.Info("post directory created", "post", idx, "dir", dir)
	} else {
		s.logger.Info("post directory exists, resuming", "post", idx, "dir", dir)
	}

	pages := c.extractor.Extract(ctx, post.URL)
	if c.config.LinksLimit > 0 && len(pages) > c.config.LinksLimit {
		pages = pages[:c.config.LinksLimit]
	}
	total := len(pages)
	s.logger.Info("task started", "post", idx, "label", post.Label, "url", post.URL, "pages", total)

	namer := writer.NewNamer(dir)
	done := 0
	c.reporter.Start(postStatus(idx, total, done))

	for _, page := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}

		task := types.DownloadTask{
			SourceURL:  page.URL,
			OutputPath: namer.Claim(page.Label),
			Label:      page.Label,
			Post:       idx,
		}
		res := c.renderer.Render(ctx, task.SourceURL, task.OutputPath, c.config.Timeout)
		s.summary.Attempts++
		c.logResult(s.logger, task, res)

		if res.OK() {
			s.summary.Success++
			if res.Skipped {
				s.summary.Skipped++
			}
		} else {
			s.summary.Failed++
			s.failures.Push(task)
			s.logger.Info("queued for retry", "url", task.SourceURL, "path", task.OutputPath, "label", task.Label)
		}

		done++
		c.reporter.Stop()
		c.reporter.Start(postStatus(idx, total, done))

		c.pause(ctx, c.delay())
	}

	c.reporter.Done(fmt.Sprintf("Post %d exported (%d pages)", idx, total))
	s.logger.Info("task finished", "post", idx, "pages", total)
	return nil
}

// retryFailures gives every queued task exactly one more attempt.
func (c *Crawler) retryFailures(ctx context.Context, s *session) error {
	if s.failures.IsEmpty() {
		return nil
	}
	pending := s.failures.Len()
	s.logger.Info("retry pass started", "pending", pending)

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		task, ok := s.failures.Pop()
		if !ok {
			break
		}
		attempt++

		c.reporter.Start(fmt.Sprintf("Retrying %d/%d: %s", attempt, pending, progress.ShortURL(task.SourceURL, 40)))
		res := c.renderer.Render(ctx, task.SourceURL, task.OutputPath, c.config.Timeout)
		c.reporter.Stop()

		s.summary.Retried++
		c.logResult(s.logger, task, res)
		if res.OK() {
			s.summary.Success++
			s.summary.Failed--
			s.summary.Recovered++
			s.logger.Info("retry succeeded", "url", task.SourceURL, "path", task.OutputPath)
		} else {
			s.summary.PermanentFailures = append(s.summary.PermanentFailures, task)
			s.logger.Error("retry failed, giving up", "url", task.SourceURL, "path", task.OutputPath, "label", task.Label)
			c.reporter.Fail(fmt.Sprintf("Could not export %q (%s)", task.Label, task.SourceURL))
		}

		c.pause(ctx, c.delay())
	}

	c.reporter.Done(fmt.Sprintf("Retry pass finished: %d recovered, %d still failing",
		s.summary.Recovered, len(s.summary.PermanentFailures)))
	return nil
}

func (c *Crawler) logResult(logger *log.Logger, task types.DownloadTask, res types.Result) {
	switch {
	case res.Skipped:
		logger.Info("snapshot exists, skipping", "path", task.OutputPath)
	case res.Outcome == types.Success:
		logger.Info("snapshot saved", "url", task.SourceURL, "path", task.OutputPath, "elapsed", res.Elapsed.Round(time.Millisecond))
	case res.Outcome == types.TimedOut:
		logger.Error("snapshot timed out", "url", task.SourceURL, "path", task.OutputPath, "timeout", c.config.Timeout)
	default:
		logger.Error("snapshot failed", "url", task.SourceURL, "path", task.OutputPath, "exit_code", res.ExitCode, "err", res.Err)
	}
	if res.Removed {
		logger.Info("removed partial snapshot", "path", task.OutputPath)
	}
}

// delay picks a random politeness pause in [DelayMin, DelayMax].
func (c *Crawler) delay() time.Duration {
	span := c.config.DelayMax - c.config.DelayMin
	if span <= 0 {
		return c.config.DelayMin
	}
	return c.config.DelayMin + rand.N(span+1)
}

func postStatus(idx, total, done int) string {
	return fmt.Sprintf("Exporting post %d: %d/%d pages", idx, done, total)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
