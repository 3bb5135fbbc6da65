package extract

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fictionharvest/harvester/internal/harvest"
	"github.com/fictionharvest/harvester/internal/metrics"
)

var collapseWhitespace = regexp.MustCompile(`[ \t]+`)

// FailureArchive stores the rendered HTML of pages whose extraction failed,
// for offline diagnosis.
type FailureArchive interface {
	SaveFailure(ctx context.Context, pageURL, html string) (string, error)
}

// Config controls the extractor.
type Config struct {
	BatchLimit    int
	MinContentLen int
	SettleDelay   time.Duration
	NavTimeout    time.Duration
}

// Extractor fills null chapter content by rendering chapter pages and
// running the strategy registry. Only chapters with null content are
// candidates; a successful extraction is written once and the chapter is
// never reprocessed automatically.
type Extractor struct {
	renderer   harvest.Renderer
	chapters   harvest.ChapterStore
	configs    harvest.ConfigStore
	strategies []Strategy
	archive    FailureArchive
	clock      harvest.Clock
	cfg        Config
	logger     *zap.Logger
}

// New constructs an Extractor.
func New(
	renderer harvest.Renderer,
	chapters harvest.ChapterStore,
	configs harvest.ConfigStore,
	strategies []Strategy,
	archive FailureArchive,
	clock harvest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Extractor {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 5
	}
	if cfg.MinContentLen <= 0 {
		cfg.MinContentLen = 800
	}
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Extractor{
		renderer:   renderer,
		chapters:   chapters,
		configs:    configs,
		strategies: strategies,
		archive:    archive,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run processes one batch of pending chapters and returns how many were
// filled. A failure on one chapter never aborts the batch.
func (e *Extractor) Run(ctx context.Context) (int, error) {
	pending, err := e.chapters.PendingExtraction(ctx, e.cfg.BatchLimit)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		e.logger.Debug("no chapters pending extraction")
		return 0, nil
	}

	filled := 0
	for _, ch := range pending {
		if err := ctx.Err(); err != nil {
			return filled, err
		}
		site, err := e.configs.ConfigForURL(ctx, ch.URL)
		if err != nil && !errors.Is(err, harvest.ErrNotFound) {
			e.logger.Warn("site config lookup failed",
				zap.Int64("chapter_id", ch.ID), zap.Error(err))
		}

		text, err := e.ExtractContent(ctx, ch.URL, site)
		if err != nil {
			metrics.ExtractionFailed(err)
			e.logger.Warn("extraction failed",
				zap.Int64("chapter_id", ch.ID),
				zap.String("url", ch.URL),
				zap.Error(err))
			if ferr := e.chapters.RecordExtractionFailure(ctx, ch.ID); ferr != nil {
				e.logger.Error("record extraction failure",
					zap.Int64("chapter_id", ch.ID), zap.Error(ferr))
			}
			continue
		}

		if err := e.chapters.SetChapterContent(ctx, ch.ID, text, e.clock.Now()); err != nil {
			e.logger.Error("store chapter content",
				zap.Int64("chapter_id", ch.ID), zap.Error(err))
			continue
		}
		metrics.ExtractionSucceeded(len(text))
		filled++
		e.logger.Info("chapter content extracted",
			zap.Int64("chapter_id", ch.ID),
			zap.Int("chars", len(text)))
	}
	return filled, nil
}

// ExtractContent renders the chapter URL and runs the ranked strategies
// until one yields text clearing the minimum-length floor. On total failure
// the error is an *harvest.ExtractionFailure (or a navigation failure) and
// nothing is stored.
func (e *Extractor) ExtractContent(ctx context.Context, chapterURL string, site harvest.SiteConfig) (string, error) {
	doc, err := e.renderer.Render(ctx, chapterURL, harvest.RenderOptions{
		Timeout:             e.cfg.NavTimeout,
		SettleDelay:         e.cfg.SettleDelay,
		BlockHeavyResources: true,
	})
	if err != nil {
		return "", err
	}
	defer doc.Close()

	floor := e.cfg.MinContentLen
	if site.MinContentLen > 0 {
		floor = site.MinContentLen
	}

	host := hostOf(chapterURL)
	attempted := make([]string, 0, len(e.strategies))
	bestLen := 0
	for _, strat := range e.strategies {
		if !strat.Applies(host) {
			continue
		}
		attempted = append(attempted, strat.Name())

		raw, err := strat.Extract(ctx, doc, chapterURL, site)
		if err != nil {
			e.logger.Debug("strategy errored",
				zap.String("strategy", strat.Name()),
				zap.String("url", chapterURL),
				zap.Error(err))
			continue
		}
		text := normalizeText(raw)
		if len(text) >= floor {
			e.logger.Debug("strategy succeeded",
				zap.String("strategy", strat.Name()),
				zap.Int("chars", len(text)))
			return text, nil
		}
		if len(text) > bestLen {
			bestLen = len(text)
		}
	}

	e.archiveFailure(ctx, chapterURL, doc)
	return "", &harvest.ExtractionFailure{
		URL:       chapterURL,
		Attempted: attempted,
		BestLen:   bestLen,
	}
}

func (e *Extractor) archiveFailure(ctx context.Context, pageURL string, doc harvest.Document) {
	if e.archive == nil {
		return
	}
	html, err := doc.HTML(ctx)
	if err != nil {
		e.logger.Debug("snapshot for archive failed", zap.String("url", pageURL), zap.Error(err))
		return
	}
	path, err := e.archive.SaveFailure(ctx, pageURL, html)
	if err != nil {
		e.logger.Debug("archive write failed", zap.String("url", pageURL), zap.Error(err))
		return
	}
	e.logger.Info("failed page archived", zap.String("url", pageURL), zap.String("path", path))
}

// normalizeText collapses runs of spaces and trims each line, preserving
// paragraph breaks.
func normalizeText(raw string) string {
	raw = strings.ReplaceAll(raw, "\r\n", "\n")
	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	blank := true
	for _, line := range lines {
		line = strings.TrimSpace(collapseWhitespace.ReplaceAllString(line, " "))
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
