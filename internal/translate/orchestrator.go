package translate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fictionharvest/harvester/internal/config"
	"github.com/fictionharvest/harvester/internal/harvest"
	"github.com/fictionharvest/harvester/internal/metrics"
)

// Orchestrator selects untranslated chapters and drives them through the
// translator, persisting each result with its submitted flag in one
// transaction.
type Orchestrator struct {
	store      harvest.TranslationStore
	translator harvest.Translator
	clock      harvest.Clock
	cfg        config.TranslatorConfig
	logger     *zap.Logger
}

// NewOrchestrator wires a translation orchestrator.
func NewOrchestrator(
	store harvest.TranslationStore,
	translator harvest.Translator,
	clock harvest.Clock,
	cfg config.TranslatorConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:      store,
		translator: translator,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// Run translates one batch of pending chapters and returns how many rows
// were persisted. A translator failure on one chapter skips it; the
// anti-join re-selects it next cycle.
func (o *Orchestrator) Run(ctx context.Context) (int, error) {
	pending, err := o.store.PendingTranslation(ctx, o.cfg.TargetLanguage, o.cfg.BatchLimit)
	if err != nil {
		return 0, fmt.Errorf("pending translations: %w", err)
	}

	completed := 0
	for _, ch := range pending {
		if err := ctx.Err(); err != nil {
			return completed, nil
		}
		if err := o.translateOne(ctx, ch); err != nil {
			if errors.Is(err, context.Canceled) {
				return completed, nil
			}
			var tf *harvest.TranslationFailure
			if errors.As(err, &tf) {
				metrics.TranslationFailed()
				o.logger.Warn("chapter translation skipped",
					zap.Int64("chapter_id", ch.ID),
					zap.String("reason", tf.Reason),
					zap.Error(tf.Err),
				)
				continue
			}
			return completed, err
		}
		completed++
		metrics.TranslationCompleted()
	}
	return completed, nil
}

func (o *Orchestrator) translateOne(ctx context.Context, ch harvest.Chapter) error {
	if ch.Content == nil || *ch.Content == "" {
		return fmt.Errorf("chapter %d selected without content", ch.ID)
	}

	workTitle, err := o.store.SourceTitle(ctx, ch.ID)
	if err != nil && !errors.Is(err, harvest.ErrNotFound) {
		return fmt.Errorf("source title: %w", err)
	}

	contextTitle := ch.Title
	if workTitle != "" {
		contextTitle = workTitle + " - " + ch.Title
	}

	title, err := o.translator.Translate(ctx, ch.Title, workTitle)
	if err != nil {
		return err
	}
	content, err := o.translator.Translate(ctx, *ch.Content, contextTitle)
	if err != nil {
		return err
	}

	tr := harvest.Translation{
		ChapterID:    ch.ID,
		Language:     o.cfg.TargetLanguage,
		Title:        title,
		Content:      content,
		Status:       harvest.TranslationCompleted,
		Translator:   o.translator.Identity(),
		Version:      1,
		TranslatedAt: o.clock.Now().UTC(),
	}
	if _, err := o.store.InsertTranslation(ctx, tr); err != nil {
		if errors.Is(err, harvest.ErrDuplicate) {
			// A concurrent run translated this chapter first.
			o.logger.Debug("translation already exists", zap.Int64("chapter_id", ch.ID))
			return nil
		}
		return fmt.Errorf("insert translation: %w", err)
	}

	o.logger.Info("chapter translated",
		zap.Int64("chapter_id", ch.ID),
		zap.String("language", o.cfg.TargetLanguage),
		zap.Int("chars", len(content)),
	)
	return nil
}
