package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/fictionharvest/harvester/internal/config"
	"github.com/fictionharvest/harvester/internal/harvest"
	"github.com/fictionharvest/harvester/internal/metrics"
)

// listingLinkSelector captures in-catalog work links on a listing page.
const listingLinkSelector = `a[href*='/book/']`

// Walker discovers sources from paginated listing pages. It complements the
// ID-space enumeration: listings surface new and trending works whose IDs
// sit far beyond the enumeration frontier.
type Walker struct {
	renderer harvest.Renderer
	sources  harvest.SourceStore
	clock    harvest.Clock
	cfg      config.CatalogConfig
	render   config.RendererConfig
	logger   *zap.Logger
}

// NewWalker wires a listing walker.
func NewWalker(
	renderer harvest.Renderer,
	sources harvest.SourceStore,
	clock harvest.Clock,
	cfg config.CatalogConfig,
	render config.RendererConfig,
	logger *zap.Logger,
) *Walker {
	return &Walker{
		renderer: renderer,
		sources:  sources,
		clock:    clock,
		cfg:      cfg,
		render:   render,
		logger:   logger,
	}
}

// Run walks up to cfg.ListingPages listing pages and inserts every unseen
// work link. Links are deduplicated within the walk, so a work pinned on
// every page is considered once. It returns the number inserted.
func (w *Walker) Run(ctx context.Context) (int, error) {
	if w.cfg.ListingURL == "" || w.cfg.ListingPages <= 0 {
		return 0, nil
	}

	seen := make(map[string]struct{})
	inserted := 0

	for page := 1; page <= w.cfg.ListingPages; page++ {
		if err := ctx.Err(); err != nil {
			return inserted, nil
		}

		pageURL := fmt.Sprintf(w.cfg.ListingURL, page)
		links, err := w.collectPage(ctx, pageURL)
		if err != nil {
			w.logger.Warn("listing page failed", zap.String("url", pageURL), zap.Error(err))
			continue
		}

		for _, link := range links {
			abs, ok := absoluteWorkURL(pageURL, link.URL)
			if !ok {
				continue
			}
			if _, dup := seen[abs]; dup {
				continue
			}
			seen[abs] = struct{}{}

			ok, err := w.insertIfNew(ctx, abs, link.Text)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return inserted, nil
				}
				w.logger.Warn("listing insert failed", zap.String("url", abs), zap.Error(err))
				continue
			}
			if ok {
				inserted++
				metrics.SourceDiscovered()
			}
		}
	}

	w.logger.Info("listing walk complete",
		zap.Int("pages", w.cfg.ListingPages),
		zap.Int("unique_links", len(seen)),
		zap.Int("inserted", inserted),
	)
	return inserted, nil
}

func (w *Walker) collectPage(ctx context.Context, pageURL string) ([]harvest.Link, error) {
	doc, err := w.renderer.Render(ctx, pageURL, harvest.RenderOptions{
		Timeout:             w.render.NavTimeout(),
		SettleDelay:         w.render.SettleDelay(),
		BlockHeavyResources: true,
	})
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	return doc.Links(ctx, listingLinkSelector)
}

func (w *Walker) insertIfNew(ctx context.Context, workURL, linkText string) (bool, error) {
	exists, err := w.sources.SourceURLExists(ctx, workURL)
	if err != nil {
		return false, fmt.Errorf("url existence check: %w", err)
	}
	if exists {
		return false, nil
	}

	src := harvest.Source{
		URL:         workURL,
		Title:       CleanTitle(linkText),
		Status:      harvest.SourceStatusInProgress,
		FirstSeenAt: w.clock.Now().UTC(),
	}
	if _, err := w.sources.InsertSource(ctx, src); err != nil {
		if errors.Is(err, harvest.ErrDuplicate) {
			return false, nil
		}
		return false, fmt.Errorf("insert source %s: %w", workURL, err)
	}

	w.logger.Info("source discovered from listing", zap.String("url", workURL))
	return true, nil
}

// absoluteWorkURL resolves href against the listing page URL and drops
// fragments and obviously non-work targets.
func absoluteWorkURL(base, href string) (string, bool) {
	if href == "" || strings.HasPrefix(href, "javascript:") {
		return "", false
	}
	b, err := url.Parse(base)
	if err != nil {
		return "", false
	}
	u, err := b.Parse(href)
	if err != nil {
		return "", false
	}
	u.Fragment = ""
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	return u.String(), true
}
