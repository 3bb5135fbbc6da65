// Package catalog discovers sources by walking a numeric catalog ID space
// and, optionally, paginated listing pages.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fictionharvest/harvester/internal/config"
	"github.com/fictionharvest/harvester/internal/harvest"
	"github.com/fictionharvest/harvester/internal/metrics"
)

// checkpointName keys the enumeration cursor in the checkpoint store.
const checkpointName = "catalog"

// titleSelectors are tried in order against a rendered catalog page.
var titleSelectors = []string{"div.booknav2 h1 a", "h1"}

// Discoverer enumerates the catalog ID space. Each candidate ID is first
// probed with a plain HTTP request; only responsive IDs pay for a rendered
// session to classify the page and read its title.
type Discoverer struct {
	prober      harvest.Prober
	renderer    harvest.Renderer
	sources     harvest.SourceStore
	checkpoints harvest.CheckpointStore
	limiter     *rate.Limiter
	clock       harvest.Clock
	cfg         config.CatalogConfig
	render      config.RendererConfig
	logger      *zap.Logger
}

// NewDiscoverer wires a catalog discoverer.
func NewDiscoverer(
	prober harvest.Prober,
	renderer harvest.Renderer,
	sources harvest.SourceStore,
	checkpoints harvest.CheckpointStore,
	clock harvest.Clock,
	cfg config.CatalogConfig,
	render config.RendererConfig,
	logger *zap.Logger,
) *Discoverer {
	qps := cfg.ProbeQPS
	if qps <= 0 {
		qps = 1
	}
	return &Discoverer{
		prober:      prober,
		renderer:    renderer,
		sources:     sources,
		checkpoints: checkpoints,
		limiter:     rate.NewLimiter(rate.Limit(qps), 1),
		clock:       clock,
		cfg:         cfg,
		render:      render,
		logger:      logger,
	}
}

// Run enumerates IDs from the durable cursor until the consecutive-miss
// threshold trips or ctx is canceled. The cursor and counters are persisted
// every cfg.BatchSize probes and again on every exit path, so a crash or
// shutdown loses at most one batch of progress. It returns the number of
// sources inserted this run.
func (d *Discoverer) Run(ctx context.Context) (int, error) {
	cp, err := d.checkpoints.Load(checkpointName)
	if err != nil {
		return 0, fmt.Errorf("load catalog checkpoint: %w", err)
	}

	// An explicit start wins over the cursor so an operator can force a
	// re-probe of an already-enumerated range.
	start := cp.Cursor + 1
	if d.cfg.StartID > 0 {
		start = d.cfg.StartID
	}
	runID := uuid.NewString()
	cp.RunID = runID

	log := d.logger.With(zap.String("run_id", runID), zap.Int64("start_id", start))
	log.Info("catalog enumeration starting",
		zap.Int64("found_total", cp.Counters.Found),
		zap.Int64("duplicates_total", cp.Counters.Duplicates),
	)

	var (
		inserted   int
		misses     int
		sinceFlush int
	)

	flush := func(id int64) {
		cp.Cursor = id
		cp.UpdatedAt = d.clock.Now().UTC()
		if err := d.checkpoints.Save(checkpointName, cp); err != nil {
			log.Warn("checkpoint save failed", zap.Error(err))
			return
		}
		metrics.CheckpointCursor(cp.Cursor)
	}

	for id := start; ; id++ {
		if err := d.limiter.Wait(ctx); err != nil {
			flush(id - 1)
			return inserted, nil
		}

		outcome, err := d.probeOne(ctx, id, &cp)
		switch {
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			flush(id - 1)
			return inserted, nil
		case err != nil:
			// A probe error is a not-found with a different log line: it
			// feeds the miss streak so a dead site halts enumeration the
			// same way a wall of 404s does.
			log.Warn("probe error", zap.Int64("id", id), zap.Error(err))
			metrics.CatalogProbe("error")
			misses++
			cp.Counters.Skipped++
		case outcome == probeFound:
			inserted++
			misses = 0
			metrics.CatalogProbe("found")
			metrics.SourceDiscovered()
		case outcome == probeDuplicate:
			misses = 0
			metrics.CatalogProbe("duplicate")
		default:
			misses++
			cp.Counters.Skipped++
			metrics.CatalogProbe("miss")
		}

		sinceFlush++
		if sinceFlush >= d.cfg.BatchSize {
			flush(id)
			sinceFlush = 0
		}

		if misses >= d.cfg.MaxMisses {
			cp.Enumerated = d.clock.Now().UTC().Format(time.RFC3339)
			flush(id)
			log.Info("catalog frontier reached",
				zap.Int64("last_id", id),
				zap.Int("consecutive_misses", misses),
				zap.Int("inserted", inserted),
			)
			return inserted, nil
		}
	}
}

type probeOutcome int

const (
	probeMiss probeOutcome = iota
	probeFound
	probeDuplicate
)

// probeOne classifies a single catalog ID. Found IDs are inserted with
// status in_progress so chapter discovery picks them up next phase.
func (d *Discoverer) probeOne(ctx context.Context, id int64, cp *harvest.CatalogCheckpoint) (probeOutcome, error) {
	pageURL := fmt.Sprintf(d.cfg.ProbeURL, id)

	exists, err := d.sources.SourceURLExists(ctx, pageURL)
	if err != nil {
		return probeMiss, fmt.Errorf("url existence check: %w", err)
	}
	if exists {
		cp.Counters.Duplicates++
		return probeDuplicate, nil
	}

	status, err := d.prober.Probe(ctx, pageURL)
	if err != nil {
		return probeMiss, fmt.Errorf("probe %s: %w", pageURL, err)
	}
	if status == 404 || status == 410 {
		return probeMiss, nil
	}
	if status >= 500 {
		return probeMiss, fmt.Errorf("probe %s: upstream status %d", pageURL, status)
	}

	title, ok, err := d.classify(ctx, pageURL)
	if err != nil {
		return probeMiss, err
	}
	if !ok {
		return probeMiss, nil
	}

	src := harvest.Source{
		URL:         pageURL,
		Title:       title,
		Status:      harvest.SourceStatusInProgress,
		FirstSeenAt: d.clock.Now().UTC(),
	}
	if _, err := d.sources.InsertSource(ctx, src); err != nil {
		if errors.Is(err, harvest.ErrDuplicate) {
			cp.Counters.Duplicates++
			return probeDuplicate, nil
		}
		return probeMiss, fmt.Errorf("insert source %s: %w", pageURL, err)
	}

	cp.Counters.Found++
	d.logger.Info("source discovered", zap.Int64("id", id), zap.String("title", title))
	return probeFound, nil
}

// classify renders the candidate page and decides whether it is a real work
// page. Soft-404 pages answer 200 but carry an error title or none at all.
func (d *Discoverer) classify(ctx context.Context, pageURL string) (string, bool, error) {
	doc, err := d.renderer.Render(ctx, pageURL, harvest.RenderOptions{
		Timeout:             d.render.NavTimeout(),
		SettleDelay:         d.render.SettleDelay(),
		BlockHeavyResources: true,
	})
	if err != nil {
		var nav *harvest.NavigationFailure
		if errors.As(err, &nav) {
			return "", false, nil
		}
		return "", false, err
	}
	defer doc.Close()

	if sc := doc.StatusCode(); sc == 404 || sc == 410 {
		return "", false, nil
	}

	for _, sel := range titleSelectors {
		text, ok, err := doc.Text(ctx, sel)
		if err != nil {
			return "", false, fmt.Errorf("read title %q: %w", sel, err)
		}
		if !ok {
			continue
		}
		title := CleanTitle(text)
		if title == "" || looksLikeErrorTitle(title) {
			return "", false, nil
		}
		return title, true, nil
	}
	return "", false, nil
}

// CleanTitle normalizes a scraped title: whitespace is collapsed and the
// site's serialization prefix is dropped.
func CleanTitle(raw string) string {
	t := strings.Join(strings.Fields(raw), " ")
	t = strings.TrimPrefix(t, "SS - ")
	return strings.TrimSpace(t)
}

func looksLikeErrorTitle(title string) bool {
	lower := strings.ToLower(title)
	for _, marker := range []string{"404", "not found", "error", "页面不存在"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
