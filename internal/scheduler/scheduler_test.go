package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fictionharvest/harvester/internal/config"
	"github.com/fictionharvest/harvester/internal/harvest"
	"github.com/fictionharvest/harvester/internal/ops"
)

type fakePhase struct {
	n    int
	err  error
	runs int
	hook func()
}

func (p *fakePhase) Run(context.Context) (int, error) {
	p.runs++
	if p.hook != nil {
		p.hook()
	}
	return p.n, p.err
}

type memCheckpoints struct {
	cp harvest.CatalogCheckpoint
}

func (m *memCheckpoints) Load(string) (harvest.CatalogCheckpoint, error) { return m.cp, nil }
func (m *memCheckpoints) Save(string, harvest.CatalogCheckpoint) error  { return nil }

func newScheduler(phases Phases, board *ops.StatusBoard) *Scheduler {
	return New(phases, board, harvest.SystemClock{},
		config.HarvestConfig{IntervalSec: 3600}, zap.NewNop())
}

func TestRunCycleAggregatesPhaseCounts(t *testing.T) {
	t.Parallel()

	s := newScheduler(Phases{
		Catalog:     &fakePhase{n: 2},
		Listing:     &fakePhase{n: 1},
		Chapters:    &fakePhase{n: 10},
		Extract:     &fakePhase{n: 4},
		Translate:   &fakePhase{n: 3},
		Checkpoints: &memCheckpoints{cp: harvest.CatalogCheckpoint{Cursor: 500}},
	}, nil)

	report := s.runCycle(context.Background())
	require.Equal(t, 3, report.SourcesFound)
	require.Equal(t, 10, report.ChaptersAdded)
	require.Equal(t, 4, report.ChaptersFilled)
	require.Equal(t, 3, report.TranslationsOK)
	require.Equal(t, int64(500), report.CheckpointAfter)
	require.Empty(t, report.PhaseErrors)
	require.NotEmpty(t, report.CycleID)
}

func TestRunCycleIsolatesPhaseFailures(t *testing.T) {
	t.Parallel()

	translate := &fakePhase{n: 0, err: errors.New("quota exhausted")}
	chapters := &fakePhase{n: 7}

	s := newScheduler(Phases{
		Catalog:   &fakePhase{err: errors.New("frontier unreachable")},
		Chapters:  chapters,
		Translate: translate,
	}, nil)

	report := s.runCycle(context.Background())
	require.Len(t, report.PhaseErrors, 2)
	require.Contains(t, report.PhaseErrors[0], "catalog")
	require.Contains(t, report.PhaseErrors[1], "translate")
	// The failing catalog phase never blocks reconciliation.
	require.Equal(t, 1, chapters.runs)
	require.Equal(t, 7, report.ChaptersAdded)
}

func TestRunCycleSkipsNilPhases(t *testing.T) {
	t.Parallel()

	s := newScheduler(Phases{Chapters: &fakePhase{n: 1}}, nil)

	report := s.runCycle(context.Background())
	require.Equal(t, 1, report.ChaptersAdded)
	require.Zero(t, report.SourcesFound)
	require.Empty(t, report.PhaseErrors)
}

func TestRunPublishesReportAndStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	board := &ops.StatusBoard{}

	// Cancel mid-cycle; the scheduler finishes the cycle, publishes, and exits.
	s := newScheduler(Phases{
		Chapters: &fakePhase{n: 5, hook: cancel},
	}, board)

	require.NoError(t, s.Run(ctx))

	report, ok := board.Latest()
	require.True(t, ok)
	require.Equal(t, 5, report.ChaptersAdded)
}

func TestRunSkipsRemainingPhasesAfterCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	translate := &fakePhase{n: 1}

	s := newScheduler(Phases{
		Chapters:  &fakePhase{n: 5, hook: cancel},
		Translate: translate,
	}, nil)

	require.NoError(t, s.Run(ctx))
	require.Zero(t, translate.runs)
}
