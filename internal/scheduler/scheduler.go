// Package scheduler drives the harvest cycle: discovery, reconciliation,
// extraction and translation, forever, on a fixed interval.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fictionharvest/harvester/internal/config"
	"github.com/fictionharvest/harvester/internal/harvest"
	"github.com/fictionharvest/harvester/internal/logging"
	"github.com/fictionharvest/harvester/internal/metrics"
	"github.com/fictionharvest/harvester/internal/ops"
)

// Phase is one stage of a harvest cycle. Run returns a count of units
// processed (sources found, chapters added, and so on).
type Phase interface {
	Run(ctx context.Context) (int, error)
}

// Phases names the cycle's stages in execution order. Any stage may be nil
// to disable it.
type Phases struct {
	Catalog   Phase
	Listing   Phase
	Chapters  Phase
	Extract   Phase
	Translate Phase

	// Checkpoints, when set, lets the cycle report carry the enumeration
	// cursor after the catalog phase.
	Checkpoints harvest.CheckpointStore
}

// Scheduler runs cycles back to back with a fixed sleep between them. Each
// phase is guarded independently: a failing phase is reported and the cycle
// moves on, so a broken translator never stalls discovery.
type Scheduler struct {
	phases Phases
	board  *ops.StatusBoard
	clock  harvest.Clock
	cfg    config.HarvestConfig
	logger *zap.Logger
}

// New wires a scheduler.
func New(phases Phases, board *ops.StatusBoard, clock harvest.Clock, cfg config.HarvestConfig, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		phases: phases,
		board:  board,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Run loops until ctx is canceled. The final cycle is allowed to finish its
// in-flight phase; durable state (checkpoints, per-source transactions)
// makes interruption at any point safe.
func (s *Scheduler) Run(ctx context.Context) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		report := s.runCycle(ctx)
		if s.board != nil {
			s.board.Publish(report)
		}

		if err := ctx.Err(); err != nil {
			return nil
		}
		timer.Reset(s.cfg.Interval())
	}
}

// runCycle executes one pass over every enabled phase.
func (s *Scheduler) runCycle(ctx context.Context) harvest.CycleReport {
	cycleID := uuid.NewString()
	started := s.clock.Now().UTC()
	log := s.logger.With(zap.String("cycle_id", cycleID))
	log.Info("harvest cycle starting")

	report := harvest.CycleReport{CycleID: cycleID, StartedAt: started}

	report.SourcesFound = s.runPhase(ctx, &report, "catalog", s.phases.Catalog)
	report.SourcesFound += s.runPhase(ctx, &report, "listing", s.phases.Listing)
	report.ChaptersAdded = s.runPhase(ctx, &report, "chapters", s.phases.Chapters)
	report.ChaptersFilled = s.runPhase(ctx, &report, "extract", s.phases.Extract)
	report.TranslationsOK = s.runPhase(ctx, &report, "translate", s.phases.Translate)

	if s.phases.Checkpoints != nil {
		if cp, err := s.phases.Checkpoints.Load("catalog"); err == nil {
			report.CheckpointAfter = cp.Cursor
		}
	}

	report.Duration = s.clock.Now().UTC().Sub(started)
	metrics.CycleCompleted(report.Duration)

	log.Info("harvest cycle finished",
		zap.Duration("duration", report.Duration),
		zap.Int("sources_found", report.SourcesFound),
		zap.Int("chapters_added", report.ChaptersAdded),
		zap.Int("chapters_filled", report.ChaptersFilled),
		zap.Int("translations_ok", report.TranslationsOK),
		zap.Int("phase_errors", len(report.PhaseErrors)),
	)
	return report
}

func (s *Scheduler) runPhase(ctx context.Context, report *harvest.CycleReport, name string, p Phase) int {
	if p == nil || ctx.Err() != nil {
		return 0
	}
	phaseLog := logging.ForPhase(s.logger, name, report.CycleID)
	phaseLog.Debug("phase starting")

	n, err := p.Run(ctx)
	if err != nil {
		report.PhaseErrors = append(report.PhaseErrors, fmt.Sprintf("%s: %v", name, err))
		phaseLog.Error("phase failed", zap.Error(err))
		return n
	}
	phaseLog.Debug("phase finished", zap.Int("processed", n))
	return n
}
