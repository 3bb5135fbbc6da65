package render

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"

	"github.com/fictionharvest/harvester/internal/harvest"
)

// session is one rendered page held open in its own tab. It implements
// harvest.Document; every query runs against the live DOM so content
// injected after interaction is visible to later calls.
type session struct {
	url       string
	tab       context.Context
	cancel    context.CancelFunc
	release   func()
	meta      *responseMeta
	closeOnce sync.Once
}

// StatusCode is the HTTP status of the main document response.
func (s *session) StatusCode() int {
	return s.meta.status()
}

// Text returns the visible text of the first element matching selector.
func (s *session) Text(ctx context.Context, selector string) (string, bool, error) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		return el ? el.innerText : null;
	})()`, jsString(selector))

	var out *string
	if err := s.Evaluate(ctx, script, &out); err != nil {
		return "", false, err
	}
	if out == nil {
		return "", false, nil
	}
	return *out, true, nil
}

// Attribute returns an attribute of the first matching element.
func (s *session) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		return el ? el.getAttribute(%s) : null;
	})()`, jsString(selector), jsString(name))

	var out *string
	if err := s.Evaluate(ctx, script, &out); err != nil {
		return "", false, err
	}
	if out == nil {
		return "", false, nil
	}
	return *out, true, nil
}

type linkDTO struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// Links returns every matching anchor in DOM order. The href property (not
// the raw attribute) is read so relative links come back absolute.
func (s *session) Links(ctx context.Context, selector string) ([]harvest.Link, error) {
	script := fmt.Sprintf(`Array.from(document.querySelectorAll(%s))
		.filter(el => el.href)
		.map(el => ({url: el.href, text: (el.innerText || "").trim()}))`,
		jsString(selector))

	var dtos []linkDTO
	if err := s.Evaluate(ctx, script, &dtos); err != nil {
		return nil, err
	}
	links := make([]harvest.Link, 0, len(dtos))
	for _, d := range dtos {
		links = append(links, harvest.Link{URL: d.URL, Text: d.Text})
	}
	return links, nil
}

// Click clicks the first matching element if one exists.
func (s *session) Click(ctx context.Context, selector string) (bool, error) {
	var present bool
	check := fmt.Sprintf(`document.querySelector(%s) !== null`, jsString(selector))
	if err := s.Evaluate(ctx, check, &present); err != nil {
		return false, err
	}
	if !present {
		return false, nil
	}
	if err := s.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible)); err != nil {
		return false, fmt.Errorf("click %q: %w", selector, err)
	}
	return true, nil
}

// Evaluate runs script in the page and unmarshals the result into out.
func (s *session) Evaluate(ctx context.Context, script string, out any) error {
	if err := s.run(ctx, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	return nil
}

// HTML returns the current outer HTML snapshot of the document.
func (s *session) HTML(ctx context.Context) (string, error) {
	var html string
	if err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("outer html: %w", err)
	}
	return html, nil
}

// Close releases the tab and its concurrency slot.
func (s *session) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.release()
	})
}

// run executes chromedp actions on the tab, bounded by the caller's context.
func (s *session) run(ctx context.Context, actions ...chromedp.Action) error {
	if err := s.tab.Err(); err != nil {
		return harvest.ErrRendererClosed
	}
	opCtx, cancel := context.WithCancel(s.tab)
	defer cancel()
	stop := forwardCancel(ctx, cancel)
	defer stop()
	return chromedp.Run(opCtx, actions...)
}
