// Package fetcher retrieves rendered page HTML over HTTP using gocolly.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Colly implements ogimage.Fetcher with a Colly collector.
type Colly struct {
	cfg  Config
	base *colly.Collector
}

// NewColly builds a Colly fetcher. The fetcher only ever talks to the
// local preview server or the configured site, so robots.txt is ignored.
func NewColly(cfg Config) *Colly {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	return &Colly{cfg: cfg, base: c}
}

// FetchHTML executes a single GET and returns the response body.
func (f *Colly) FetchHTML(ctx context.Context, url string) (string, error) {
	collector := f.base.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.AllowURLRevisit = true
	collector.SetRequestTimeout(f.cfg.Timeout)

	var (
		body     []byte
		status   int
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := collector.Visit(url); err != nil && fetchErr == nil {
			fetchErr = err
		}
		collector.Wait()
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("fetch canceled: %w", ctx.Err())
	case <-done:
	}

	if fetchErr != nil {
		return "", fmt.Errorf("fetch %s: %w", url, fetchErr)
	}
	if status >= http.StatusBadRequest {
		return "", fmt.Errorf("fetch %s: unexpected status %d", url, status)
	}
	return string(body), nil
}
