// Command postarchive archives every page linked from the posts of an index
// page as a self-contained HTML snapshot.
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"

	"github.com/go-scripts/postarchive/internal/config"
	"github.com/go-scripts/postarchive/internal/crawler"
	"github.com/go-scripts/postarchive/internal/extract"
	"github.com/go-scripts/postarchive/internal/progress"
	"github.com/go-scripts/postarchive/internal/render"
	"github.com/go-scripts/postarchive/internal/writer"
)

// CLI flags structure
type CLI struct {
	URL        string `arg:"" help:"Index page listing the posts to archive."`
	PostsLimit int    `help:"Archive at most N posts (0 = all)." short:"p" placeholder:"N"`
	LinksLimit int    `help:"Archive at most N pages per post (0 = all)." short:"l" placeholder:"N"`
	Timeout    int    `help:"Seconds before a page render is killed." short:"t" placeholder:"SECS"`
	OutputDir  string `help:"Existing directory to write into. Defaults to a new posts_<timestamp> directory." short:"o" placeholder:"DIR"`
	Selector   string `help:"CSS selector for content links." placeholder:"CSS"`
	Renderer   string `help:"Snapshot backend: single-file or chromedp." placeholder:"NAME"`
	Config     string `help:"Path to configuration file." placeholder:"FILE"`
	Debug      bool   `help:"Enable debug logging."`
}

// apply overrides config with command line flags if provided.
func (c CLI) apply(s *config.Settings) {
	if c.PostsLimit != 0 {
		s.Crawl.PostsLimit = c.PostsLimit
	}
	if c.LinksLimit != 0 {
		s.Crawl.LinksLimit = c.LinksLimit
	}
	if c.Timeout != 0 {
		s.Render.TimeoutSeconds = c.Timeout
	}
	if c.OutputDir != "" {
		s.Crawl.OutputDir = c.OutputDir
	}
	if c.Selector != "" {
		s.Crawl.Selector = c.Selector
	}
	if c.Renderer != "" {
		s.Render.Backend = c.Renderer
	}
}

func (c CLI) logLevel() log.Level {
	if c.Debug {
		return log.DebugLevel
	}
	return log.InfoLevel
}

// run wires the configured extractor and renderer into a crawler and
// executes one archive run, drawing progress on stdout.
func run(ctx context.Context, cli CLI, stdout io.Writer) (crawler.Summary, error) {
	settings, used, err := config.Load(cli.Config)
	if err != nil {
		return crawler.Summary{}, err
	}
	if used != "" {
		log.Debug("using config file", "path", used)
	}
	cli.apply(&settings)
	if err := settings.Validate(); err != nil {
		return crawler.Summary{}, err
	}

	ex := extract.New(extract.Config{
		Selector:  settings.Crawl.Selector,
		UserAgent: settings.Crawl.UserAgent,
		Timeout:   settings.Crawl.RequestTimeout,
	}, nil)

	r, err := render.New(render.Config{
		Backend:   settings.Render.Backend,
		Command:   settings.Render.Command,
		Headless:  settings.Render.Headless,
		UserAgent: settings.Crawl.UserAgent,
	})
	if err != nil {
		return crawler.Summary{}, err
	}
	if closer, ok := r.(io.Closer); ok {
		defer closer.Close()
	}

	c, err := crawler.New(crawler.Configuration{
		StartURL:   cli.URL,
		OutputDir:  settings.Crawl.OutputDir,
		PostsLimit: settings.Crawl.PostsLimit,
		LinksLimit: settings.Crawl.LinksLimit,
		Timeout:    settings.Render.Timeout(),
		DelayMin:   settings.Crawl.DelayMin,
		DelayMax:   settings.Crawl.DelayMax,
		LogLevel:   cli.logLevel(),
	}, ex, r, crawler.WithReporter(progress.NewSpinner(stdout)))
	if err != nil {
		return crawler.Summary{}, err
	}

	return c.Run(ctx)
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("postarchive"),
		kong.Description("Archive the pages linked from every post of an index page."),
		kong.UsageOnError(),
	)
	log.SetLevel(cli.logLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := run(ctx, cli, os.Stdout)
	switch {
	case errors.Is(err, writer.ErrOutputDirMissing):
		stop()
		log.Fatal("cannot start archive", "err", err)
	case errors.Is(err, context.Canceled):
		stop()
		log.Fatal("archive interrupted", "dir", summary.BaseDir,
			"success", summary.Success, "failed", summary.Failed)
	case err != nil:
		stop()
		log.Fatal("archive failed", "err", err)
	}

	for _, task := range summary.PermanentFailures {
		log.Warn("not archived", "post", task.Post, "label", task.Label, "url", task.SourceURL)
	}
	log.Info("archive complete", "dir", summary.BaseDir,
		"success", summary.Success, "failed", summary.Failed)
}
