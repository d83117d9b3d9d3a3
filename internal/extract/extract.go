// Package extract discovers the links listed in a page's content region.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gocolly/colly/v2"

	"github.com/go-scripts/postarchive/internal/logging"
	"github.com/go-scripts/postarchive/internal/types"
)

// DefaultSelector matches the post and page lists of the archived site.
const DefaultSelector = "div.book-post li > a"

// Config controls collector behavior.
type Config struct {
	Selector  string
	UserAgent string
	Timeout   time.Duration
}

// Extractor fetches pages with colly and returns their content links.
type Extractor struct {
	cfg           Config
	baseCollector *colly.Collector
	logger        *log.Logger
}

// New builds an Extractor. A nil logger discards discovery errors.
func New(cfg Config, logger *log.Logger) *Extractor {
	if logger == nil {
		logger = logging.Discard()
	}
	if cfg.Selector == "" {
		cfg.Selector = DefaultSelector
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := colly.NewCollector(colly.Async(false))
	// posts are listed once, but a rerun in the same process may ask again
	c.AllowURLRevisit = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.WithTransport(newHTTPTransport())
	c.SetRequestTimeout(cfg.Timeout)

	return &Extractor{
		cfg:           cfg,
		baseCollector: c,
		logger:        logger,
	}
}

// SetLogger replaces the logger used to report discovery failures.
func (e *Extractor) SetLogger(logger *log.Logger) {
	if logger == nil {
		logger = logging.Discard()
	}
	e.logger = logger
}

// Extract returns the (absolute URL, label) pairs found under the configured
// selector, in document order. Any fetch or parse failure yields no links.
func (e *Extractor) Extract(ctx context.Context, pageURL string) []types.LinkRef {
	links, err := e.fetch(ctx, pageURL)
	if err != nil {
		e.logger.Warn("link discovery failed", "url", pageURL, "err", err)
		return nil
	}
	return links
}

func (e *Extractor) fetch(ctx context.Context, pageURL string) ([]types.LinkRef, error) {
	var (
		links    []types.LinkRef
		fetchErr error
	)

	collector := e.baseCollector.Clone()
	collector.OnHTML(e.cfg.Selector, func(el *colly.HTMLElement) {
		href, ok := el.DOM.Attr("href")
		if !ok {
			return
		}
		target := absoluteURL(el.Request, href)
		if target == "" {
			return
		}
		links = append(links, types.LinkRef{
			URL:   target,
			Label: strings.TrimSpace(el.Text),
		})
	})
	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		if r != nil && r.StatusCode != 0 {
			err = fmt.Errorf("status %d: %w", r.StatusCode, err)
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("colly visit failed: %w", err)
		}
		if fetchErr != nil {
			return nil, fmt.Errorf("colly response failed: %w", fetchErr)
		}
		return links, nil
	}
}

// absoluteURL resolves href against the page. colly drops fragment-only
// hrefs, which here still name a page#fragment target.
func absoluteURL(req *colly.Request, href string) string {
	if !strings.HasPrefix(href, "#") {
		return req.AbsoluteURL(href)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return req.URL.ResolveReference(ref).String()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          16,
		IdleConnTimeout:       90 * time.Second,
	}
}
