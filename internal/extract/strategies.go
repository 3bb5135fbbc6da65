// Package extract recovers chapter text from rendered pages through a
// ranked sequence of extraction strategies.
package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/fictionharvest/harvester/internal/harvest"
)

// Strategy is a named, domain-scoped heuristic for recovering text from a
// rendered page. Strategies are tried in registry order until one clears
// the minimum-length floor.
type Strategy interface {
	Name() string
	Applies(host string) bool
	Extract(ctx context.Context, doc harvest.Document, pageURL string, site harvest.SiteConfig) (string, error)
}

// hostMatches implements the domain-containment applicability check shared
// by domain-scoped strategies. An empty domain list applies everywhere.
func hostMatches(host string, domains []string) bool {
	if len(domains) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, d := range domains {
		if strings.Contains(host, strings.ToLower(d)) {
			return true
		}
	}
	return false
}

func hostOf(pageURL string) string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}

// SelectorStrategy reads a configured or well-known content selector from
// the live DOM.
type SelectorStrategy struct {
	Fallbacks []string
}

// Name identifies the strategy in logs and failure reports.
func (s *SelectorStrategy) Name() string { return "selector" }

// Applies is always true; the per-site selector decides the real scope.
func (s *SelectorStrategy) Applies(string) bool { return true }

// Extract queries the site's content selector first, then the well-known
// fallbacks, returning the first non-empty text.
func (s *SelectorStrategy) Extract(
	ctx context.Context,
	doc harvest.Document,
	_ string,
	site harvest.SiteConfig,
) (string, error) {
	selectors := make([]string, 0, len(s.Fallbacks)+1)
	if site.ContentSelector != "" {
		selectors = append(selectors, site.ContentSelector)
	}
	selectors = append(selectors, s.Fallbacks...)

	for _, sel := range selectors {
		text, ok, err := doc.Text(ctx, sel)
		if err != nil {
			return "", err
		}
		if ok && strings.TrimSpace(text) != "" {
			return text, nil
		}
	}
	return "", nil
}

// structuralScript scans candidate block elements in the page and picks the
// one with the most text and fewest embedded links, approximating "main
// content block" without a fixed selector.
const structuralScript = `(() => {
	const blocks = Array.from(document.querySelectorAll('div, article, section'));
	let best = "";
	let bestLen = 0;
	blocks.forEach(el => {
		const text = el.innerText || "";
		const linkCount = el.querySelectorAll('a').length;
		if (text.length > bestLen && linkCount < 5) {
			bestLen = text.length;
			best = text;
		}
	});
	return best;
})()`

// StructuralStrategy scores block-level elements by text length against
// embedded-link count inside the page itself.
type StructuralStrategy struct{}

// Name identifies the strategy in logs and failure reports.
func (s *StructuralStrategy) Name() string { return "structural" }

// Applies is always true; this is the universal heuristic.
func (s *StructuralStrategy) Applies(string) bool { return true }

// Extract evaluates the scoring script in the rendered page.
func (s *StructuralStrategy) Extract(
	ctx context.Context,
	doc harvest.Document,
	_ string,
	_ harvest.SiteConfig,
) (string, error) {
	var best string
	if err := doc.Evaluate(ctx, structuralScript, &best); err != nil {
		return "", err
	}
	return best, nil
}

// PositionalStrategy selects a specific child of a known container, for
// site families where the chapter body sits at a fixed position.
type PositionalStrategy struct {
	StrategyName string
	Domains      []string
	Container    string
	ChildIndex   int
}

// Name identifies the strategy in logs and failure reports.
func (s *PositionalStrategy) Name() string { return s.StrategyName }

// Applies scopes the strategy to its site family.
func (s *PositionalStrategy) Applies(host string) bool {
	return hostMatches(host, s.Domains)
}

// Extract parses the HTML snapshot and takes the configured child's text.
func (s *PositionalStrategy) Extract(
	ctx context.Context,
	doc harvest.Document,
	_ string,
	_ harvest.SiteConfig,
) (string, error) {
	html, err := doc.HTML(ctx)
	if err != nil {
		return "", err
	}
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse snapshot: %w", err)
	}
	child := parsed.Find(s.Container).Children().Eq(s.ChildIndex)
	if child.Length() == 0 {
		return "", nil
	}
	return child.Text(), nil
}

// ReadabilityStrategy is the last-resort fallback: general main-content
// recovery over the HTML snapshot.
type ReadabilityStrategy struct{}

// Name identifies the strategy in logs and failure reports.
func (s *ReadabilityStrategy) Name() string { return "readability" }

// Applies is always true; registry order keeps it last.
func (s *ReadabilityStrategy) Applies(string) bool { return true }

// Extract runs readability extraction over the snapshot.
func (s *ReadabilityStrategy) Extract(
	ctx context.Context,
	doc harvest.Document,
	pageURL string,
	_ harvest.SiteConfig,
) (string, error) {
	html, err := doc.HTML(ctx)
	if err != nil {
		return "", err
	}
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	article, err := readability.FromReader(strings.NewReader(html), parsedURL)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	return article.TextContent, nil
}

// DefaultStrategies is the standard ranked registry: configured selector,
// then the structural heuristic, then the positional elementor fallback,
// then readability as the net.
func DefaultStrategies() []Strategy {
	return []Strategy{
		&SelectorStrategy{Fallbacks: []string{
			".chapter-content", ".entry-content", "#chapter-content", "article",
		}},
		&StructuralStrategy{},
		&PositionalStrategy{
			StrategyName: "elementor-body",
			Container:    ".elementor-widget-theme-post-content",
			ChildIndex:   0,
		},
		&ReadabilityStrategy{},
	}
}
