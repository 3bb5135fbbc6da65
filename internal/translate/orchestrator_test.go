package translate

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fictionharvest/harvester/internal/config"
	"github.com/fictionharvest/harvester/internal/harvest"
)

type fakeTranslationStore struct {
	pending  []harvest.Chapter
	titles   map[int64]string
	inserted []harvest.Translation
}

func (s *fakeTranslationStore) PendingTranslation(_ context.Context, _ string, limit int) ([]harvest.Chapter, error) {
	if limit > len(s.pending) {
		limit = len(s.pending)
	}
	return s.pending[:limit], nil
}

func (s *fakeTranslationStore) InsertTranslation(_ context.Context, tr harvest.Translation) (int64, error) {
	for _, existing := range s.inserted {
		if existing.ChapterID == tr.ChapterID && existing.Language == tr.Language {
			return 0, harvest.ErrDuplicate
		}
	}
	s.inserted = append(s.inserted, tr)
	return int64(len(s.inserted)), nil
}

func (s *fakeTranslationStore) SourceTitle(_ context.Context, chapterID int64) (string, error) {
	if title, ok := s.titles[chapterID]; ok {
		return title, nil
	}
	return "", harvest.ErrNotFound
}

type fakeTranslator struct {
	failOn map[string]string // text -> failure reason
	calls  []string
}

func (f *fakeTranslator) Translate(_ context.Context, text, _ string) (string, error) {
	f.calls = append(f.calls, text)
	if reason, ok := f.failOn[text]; ok {
		return "", &harvest.TranslationFailure{Reason: reason}
	}
	return "[es] " + text, nil
}

func (f *fakeTranslator) Identity() string { return "fake-model" }

func contentChapter(id int64, body string) harvest.Chapter {
	return harvest.Chapter{
		ID:      id,
		Title:   fmt.Sprintf("Chapter %d", id),
		URL:     fmt.Sprintf("https://example.com/book/5/%d.html", id),
		Content: &body,
	}
}

func testTranslatorConfig() config.TranslatorConfig {
	return config.TranslatorConfig{TargetLanguage: "es", BatchLimit: 3}
}

func newTestOrchestrator(store *fakeTranslationStore, tr harvest.Translator) *Orchestrator {
	return NewOrchestrator(store, tr, harvest.SystemClock{}, testTranslatorConfig(), zap.NewNop())
}

func TestRunTranslatesBatch(t *testing.T) {
	t.Parallel()

	store := &fakeTranslationStore{
		pending: []harvest.Chapter{
			contentChapter(1, "first body"),
			contentChapter(2, "second body"),
		},
		titles: map[int64]string{1: "Work Title", 2: "Work Title"},
	}
	translator := &fakeTranslator{}

	o := newTestOrchestrator(store, translator)

	done, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, done)
	require.Len(t, store.inserted, 2)

	tr := store.inserted[0]
	require.Equal(t, int64(1), tr.ChapterID)
	require.Equal(t, "es", tr.Language)
	require.Equal(t, "[es] Chapter 1", tr.Title)
	require.Equal(t, "[es] first body", tr.Content)
	require.Equal(t, harvest.TranslationCompleted, tr.Status)
	require.Equal(t, "fake-model", tr.Translator)
	require.Equal(t, 1, tr.Version)
}

func TestRunHonorsBatchLimit(t *testing.T) {
	t.Parallel()

	store := &fakeTranslationStore{}
	for id := int64(1); id <= 10; id++ {
		store.pending = append(store.pending, contentChapter(id, "body"))
	}

	o := newTestOrchestrator(store, &fakeTranslator{})

	done, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, done)
}

func TestRunSkipsFailedChapterAndContinues(t *testing.T) {
	t.Parallel()

	store := &fakeTranslationStore{
		pending: []harvest.Chapter{
			contentChapter(1, "quota bound body"),
			contentChapter(2, "fine body"),
		},
	}
	translator := &fakeTranslator{failOn: map[string]string{"quota bound body": "quota"}}

	o := newTestOrchestrator(store, translator)

	done, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, done)
	require.Len(t, store.inserted, 1)
	require.Equal(t, int64(2), store.inserted[0].ChapterID)
}

func TestRunTreatsDuplicateAsDone(t *testing.T) {
	t.Parallel()

	store := &fakeTranslationStore{
		pending: []harvest.Chapter{contentChapter(1, "body")},
		inserted: []harvest.Translation{
			{ChapterID: 1, Language: "es"},
		},
	}

	o := newTestOrchestrator(store, &fakeTranslator{})

	done, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, done)
	require.Len(t, store.inserted, 1)
}

func TestRunRejectsChapterWithoutContent(t *testing.T) {
	t.Parallel()

	store := &fakeTranslationStore{
		pending: []harvest.Chapter{{ID: 1, Title: "Chapter 1"}},
	}

	o := newTestOrchestrator(store, &fakeTranslator{})

	_, err := o.Run(context.Background())
	require.Error(t, err)
	require.Empty(t, store.inserted)
}
