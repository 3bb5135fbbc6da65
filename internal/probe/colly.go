// Package probe implements the cheap, non-rendering existence check used by
// the catalog discoverer before paying for a browser session.
package probe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// CollyProber issues a single plain HTTP GET per URL via a colly collector.
// Only the status code matters; the body is discarded. Sites that render
// entirely client-side still answer 404 for absent IDs at the transport
// level, so misses are detectable without a browser.
type CollyProber struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a CollyProber.
func New(cfg Config) *CollyProber {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 15 * time.Second,
		MaxIdleConns:        32,
		IdleConnTimeout:     90 * time.Second,
	})
	return &CollyProber{cfg: cfg, baseCollector: c}
}

// Probe fetches the URL and returns its status code. Error-status responses
// (404 and friends) are reported as a status code with a nil error; only
// transport-level failures return an error.
func (p *CollyProber) Probe(ctx context.Context, url string) (int, error) {
	collector := p.baseCollector.Clone()
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(p.cfg.Timeout)
	if p.cfg.UserAgent != "" {
		collector.UserAgent = p.cfg.UserAgent
	}

	var (
		status   int
		probeErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			// HTTP error statuses arrive here in colly; they are an
			// answer, not a failure.
			status = r.StatusCode
			return
		}
		probeErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if status > 0 {
			return status, nil
		}
		switch {
		case probeErr != nil:
			return 0, fmt.Errorf("probe %s: %w", url, probeErr)
		case err != nil:
			return 0, fmt.Errorf("probe %s: %w", url, err)
		default:
			return 0, errors.New("probe yielded no response")
		}
	}
}
