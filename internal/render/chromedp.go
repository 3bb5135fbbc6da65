// Package render implements the rendering capability with headless Chrome
// via chromedp.
package render

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fictionharvest/harvester/internal/harvest"
)

// heavyResourcePatterns are blocked during fetch for cost and latency.
// Chapter text never lives in any of these.
var heavyResourcePatterns = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg",
	"*.woff", "*.woff2", "*.ttf", "*.otf", "*.css",
}

// Config controls the chromedp renderer.
type Config struct {
	UserAgent   string
	MaxParallel int
	NavTimeout  time.Duration
	SettleDelay time.Duration
	DomainQPS   float64
}

// Chromedp renders pages using one warm headless Chrome process. Each
// Render opens its own tab, so concurrent probes never share a session.
type Chromedp struct {
	cfg             Config
	logger          *zap.Logger
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
	sem             chan struct{}
	domainLimiters  sync.Map
}

// New launches the browser and warms it up.
func New(cfg Config, logger *zap.Logger) (*Chromedp, error) {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 1
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 45 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocatorCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	return &Chromedp{
		cfg:             cfg,
		logger:          logger,
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		sem:             make(chan struct{}, cfg.MaxParallel),
	}, nil
}

// Close tears down the browser and allocator contexts.
func (r *Chromedp) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	r.browserCancel()
	r.allocatorCancel()
	select {
	case <-ctx.Done():
	default:
	}
	return nil
}

// Render navigates a fresh tab to the URL and returns a live document
// handle. The caller owns the handle and must Close it on every exit path.
func (r *Chromedp) Render(ctx context.Context, rawURL string, opts harvest.RenderOptions) (harvest.Document, error) {
	release, err := r.acquireSlot(ctx)
	if err != nil {
		return nil, err
	}

	if err := r.waitDomainBudget(ctx, rawURL); err != nil {
		release()
		return nil, &harvest.NavigationFailure{URL: rawURL, Err: err}
	}

	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	session := &session{
		url:     rawURL,
		tab:     tabCtx,
		cancel:  cancelTab,
		release: release,
		meta:    newResponseMeta(),
	}
	chromedp.ListenTarget(tabCtx, session.meta.captureEvent)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.cfg.NavTimeout
	}
	settle := opts.SettleDelay
	if settle <= 0 {
		settle = r.cfg.SettleDelay
	}

	navCtx, cancelNav := context.WithTimeout(tabCtx, timeout)
	defer cancelNav()
	stopForward := forwardCancel(ctx, cancelNav)
	defer stopForward()

	if err := chromedp.Run(navCtx, r.navigationTasks(rawURL, opts, settle)...); err != nil {
		// Partial loads still carry harvestable content. Keep the session
		// alive when the main document landed; only give up when nothing
		// was received at all.
		if session.meta.status() == 0 {
			session.Close()
			return nil, &harvest.NavigationFailure{URL: rawURL, Err: err}
		}
		r.logger.Warn("navigation incomplete, proceeding with partial page",
			zap.String("url", rawURL), zap.Error(err))
	}
	return session, nil
}

func (r *Chromedp) navigationTasks(rawURL string, opts harvest.RenderOptions, settle time.Duration) []chromedp.Action {
	tasks := []chromedp.Action{network.Enable()}
	if r.cfg.UserAgent != "" {
		tasks = append(tasks, emulation.SetUserAgentOverride(r.cfg.UserAgent))
	}
	if opts.BlockHeavyResources {
		tasks = append(tasks, network.SetBlockedURLs(heavyResourcePatterns))
	}
	tasks = append(tasks,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if settle > 0 {
		tasks = append(tasks, chromedp.Sleep(settle))
	}
	return tasks
}

func (r *Chromedp) acquireSlot(ctx context.Context) (func(), error) {
	select {
	case r.sem <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-r.sem }) }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire render slot: %w", ctx.Err())
	case <-r.browserCtx.Done():
		return nil, harvest.ErrRendererClosed
	}
}

func (r *Chromedp) waitDomainBudget(ctx context.Context, rawURL string) error {
	if r.cfg.DomainQPS <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse render url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := r.domainLimiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(r.cfg.DomainQPS), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

type responseMeta struct {
	mu         sync.Mutex
	statusCode int
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.mu.Lock()
	if m.statusCode == 0 {
		m.statusCode = int(resp.Response.Status)
	}
	m.mu.Unlock()
}

func (m *responseMeta) status() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusCode
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
