// Package chapters reconciles each source's chapter index against the page
// the site serves today: new chapters are appended in DOM order, known ones
// are left untouched, and sequence numbers never move.
package chapters

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fictionharvest/harvester/internal/config"
	"github.com/fictionharvest/harvester/internal/harvest"
	"github.com/fictionharvest/harvester/internal/metrics"
)

// Discoverer walks every workable source and appends newly published
// chapters. Each source is reconciled in isolation: a failure on one source
// is logged and the walk moves on.
type Discoverer struct {
	renderer harvest.Renderer
	store    harvest.Store
	clock    harvest.Clock
	cfg      config.ChaptersConfig
	render   config.RendererConfig
	logger   *zap.Logger
}

// NewDiscoverer wires a chapter discoverer.
func NewDiscoverer(
	renderer harvest.Renderer,
	store harvest.Store,
	clock harvest.Clock,
	cfg config.ChaptersConfig,
	render config.RendererConfig,
	logger *zap.Logger,
) *Discoverer {
	return &Discoverer{
		renderer: renderer,
		store:    store,
		clock:    clock,
		cfg:      cfg,
		render:   render,
		logger:   logger,
	}
}

// Run reconciles every workable source and returns the total number of
// chapters appended.
func (d *Discoverer) Run(ctx context.Context) (int, error) {
	sources, err := d.store.ListSources(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sources: %w", err)
	}

	total := 0
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return total, nil
		}
		added, err := d.reconcileSource(ctx, src)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return total, nil
			}
			d.logger.Warn("source reconciliation failed",
				zap.Int64("source_id", src.ID),
				zap.String("url", src.URL),
				zap.Error(err),
			)
			continue
		}
		total += added
	}

	if total > 0 {
		d.logger.Info("chapter reconciliation complete", zap.Int("chapters_added", total))
	}
	return total, nil
}

// reconcileSource renders one source page, refreshes its metadata and
// appends any chapters the store has not seen.
func (d *Discoverer) reconcileSource(ctx context.Context, src harvest.Source) (int, error) {
	site, err := d.store.ConfigForURL(ctx, src.URL)
	if err != nil && !errors.Is(err, harvest.ErrNotFound) {
		return 0, fmt.Errorf("site config: %w", err)
	}

	doc, err := d.renderer.Render(ctx, src.URL, harvest.RenderOptions{
		Timeout:             d.render.NavTimeout(),
		SettleDelay:         d.render.SettleDelay(),
		BlockHeavyResources: true,
	})
	if err != nil {
		return 0, fmt.Errorf("render %s: %w", src.URL, err)
	}
	defer doc.Close()

	d.refreshMetadata(ctx, src, doc, site)

	links, err := d.collectChapterLinks(ctx, doc, src, site)
	if err != nil {
		return 0, fmt.Errorf("collect chapter links: %w", err)
	}

	added, err := d.appendNew(ctx, src, links)
	if err != nil {
		return 0, err
	}

	// The stored count tracks the freshly observed listing total, so a
	// shrunken index is corrected even when nothing new was appended.
	if len(links) > 0 {
		if err := d.store.UpdateChapterCount(ctx, src.ID, len(links)); err != nil {
			d.logger.Warn("chapter count update failed", zap.Int64("source_id", src.ID), zap.Error(err))
		}
	}

	if err := d.store.TouchSourceScraped(ctx, src.ID, d.clock.Now().UTC()); err != nil {
		d.logger.Warn("touch source failed", zap.Int64("source_id", src.ID), zap.Error(err))
	}
	return added, nil
}

// refreshMetadata is best effort: any failure is logged, never propagated.
func (d *Discoverer) refreshMetadata(ctx context.Context, src harvest.Source, doc harvest.Document, site harvest.SiteConfig) {
	patch := mergePatch(src, readMetadata(ctx, doc, site), site.TrustedMetadata)
	if patch.Empty() {
		return
	}

	var authorID *int64
	if patch.AuthorName != nil {
		id, err := d.store.ResolveAuthor(ctx, *patch.AuthorName)
		if err != nil {
			d.logger.Warn("author resolution failed",
				zap.Int64("source_id", src.ID),
				zap.Error(err),
			)
		} else {
			authorID = &id
		}
	}

	if err := d.store.UpdateSourceMetadata(ctx, src.ID, patch, authorID); err != nil {
		d.logger.Warn("metadata update failed", zap.Int64("source_id", src.ID), zap.Error(err))
	}
}

// collectChapterLinks expands the chapter index if the site hides it behind
// a control, waits for the link count to stop growing, then harvests the
// anchors in DOM order.
func (d *Discoverer) collectChapterLinks(ctx context.Context, doc harvest.Document, src harvest.Source, site harvest.SiteConfig) ([]harvest.Link, error) {
	if site.ExpandSelector != "" {
		clicked, err := doc.Click(ctx, site.ExpandSelector)
		switch {
		case err != nil:
			// The unexpanded anchor list is still worth harvesting.
			d.logger.Warn("expand click failed",
				zap.Int64("source_id", src.ID),
				zap.String("selector", site.ExpandSelector),
				zap.Error(err),
			)
		case clicked:
			d.awaitStableLinkCount(ctx, doc)
		}
	}

	links, err := doc.Links(ctx, "a[href]")
	if err != nil {
		return nil, err
	}
	return filterChapterLinks(src, site, links), nil
}

// awaitStableLinkCount polls the anchor count until two consecutive polls
// agree or the poll budget runs out. Sites inject the full index
// asynchronously after the expand control fires.
func (d *Discoverer) awaitStableLinkCount(ctx context.Context, doc harvest.Document) {
	last := -1
	for i := 0; i < d.cfg.MaxExpandPolls; i++ {
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.cfg.PollDelay()):
		}

		var count int
		if err := doc.Evaluate(ctx, `document.querySelectorAll('a[href]').length`, &count); err != nil {
			return
		}
		if count == last {
			return
		}
		last = count
	}
}

// appendNew diffs harvested links against stored chapter URLs and inserts
// the remainder with sequence numbers continuing from the stored maximum.
func (d *Discoverer) appendNew(ctx context.Context, src harvest.Source, links []harvest.Link) (int, error) {
	if len(links) == 0 {
		return 0, nil
	}

	existing, err := d.store.ChapterURLs(ctx, src.ID)
	if err != nil {
		return 0, fmt.Errorf("chapter urls: %w", err)
	}

	var fresh []harvest.Link
	for _, link := range links {
		if _, known := existing[link.URL]; known {
			continue
		}
		fresh = append(fresh, link)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	seq, err := d.store.NextSeq(ctx, src.ID)
	if err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}

	batch := make([]harvest.Chapter, 0, len(fresh))
	for i, link := range fresh {
		title := cleanTitle(link.Text)
		if title == "" {
			title = fmt.Sprintf("Chapter %d", seq+i)
		}
		batch = append(batch, harvest.Chapter{
			SourceID: src.ID,
			Seq:      seq + i,
			Title:    title,
			URL:      link.URL,
		})
	}

	inserted, err := d.store.InsertChapters(ctx, src.ID, batch)
	if err != nil {
		if errors.Is(err, harvest.ErrDuplicate) {
			// A concurrent writer beat us to this source; the next cycle
			// will see its rows and diff cleanly.
			d.logger.Warn("chapter batch lost insert race", zap.Int64("source_id", src.ID))
			return 0, nil
		}
		return 0, fmt.Errorf("insert chapters: %w", err)
	}

	if inserted > 0 {
		metrics.ChaptersDiscovered(inserted)
		d.logger.Info("chapters appended",
			zap.Int64("source_id", src.ID),
			zap.Int("added", inserted),
			zap.Int("known", len(existing)),
		)
	}
	return inserted, nil
}

// filterChapterLinks keeps anchors that resolve inside the source's own URL
// subtree, match the site's chapter pattern when one is configured, and
// appear for the first time in this scan. DOM order is preserved.
func filterChapterLinks(src harvest.Source, site harvest.SiteConfig, links []harvest.Link) []harvest.Link {
	var pattern *regexp.Regexp
	if site.ChapterPattern != "" {
		if re, err := regexp.Compile(site.ChapterPattern); err == nil {
			pattern = re
		}
	}

	base, err := url.Parse(src.URL)
	if err != nil {
		return nil
	}
	key := sourceKey(base)

	seen := make(map[string]struct{})
	var out []harvest.Link
	for _, link := range links {
		u, err := base.Parse(link.URL)
		if err != nil {
			continue
		}
		u.Fragment = ""
		abs := u.String()

		if abs == src.URL || !strings.EqualFold(u.Hostname(), base.Hostname()) {
			continue
		}
		if pattern != nil {
			if !pattern.MatchString(abs) {
				continue
			}
		} else if key == "" || !strings.Contains(u.Path, key+"/") {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, harvest.Link{URL: abs, Text: link.Text})
	}
	return out
}

// sourceKey is the path fragment chapter URLs must share with their work
// page, e.g. /book/1234.html -> /book/1234. The caller appends a slash when
// matching so /book/12 never claims /book/123's chapters.
func sourceKey(u *url.URL) string {
	p := strings.TrimSuffix(u.Path, ".html")
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return ""
	}
	return p
}
