package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fictionharvest/harvester/internal/harvest"
)

// ChapterURLs returns the set of chapter URLs already stored for a source.
// Reconciliation diffs against this natural-key set, never against sequence
// numbers.
func (s *Postgres) ChapterURLs(ctx context.Context, sourceID int64) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT url FROM chapters WHERE source_id = $1`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("chapter urls: %w", err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, fmt.Errorf("scan chapter url: %w", err)
		}
		seen[url] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chapter urls: %w", err)
	}
	return seen, nil
}

// NextSeq returns the next sequence number for a source. Existing rows are
// never renumbered, so this is always max(seq)+1.
func (s *Postgres) NextSeq(ctx context.Context, sourceID int64) (int, error) {
	var next int
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM chapters WHERE source_id = $1`,
		sourceID,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next seq: %w", err)
	}
	return next, nil
}

// InsertChapters inserts the batch for one source inside a single
// transaction, preserving slice order. A duplicate natural key inside the
// batch aborts the transaction; callers dedupe before calling.
func (s *Postgres) InsertChapters(ctx context.Context, sourceID int64, chapters []harvest.Chapter) (int, error) {
	if len(chapters) == 0 {
		return 0, nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert chapters: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, ch := range chapters {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chapters (source_id, seq, title, url)
			VALUES ($1, $2, $3, $4)`,
			sourceID, ch.Seq, ch.Title, ch.URL,
		); err != nil {
			if isUniqueViolation(err) {
				return 0, harvest.ErrDuplicate
			}
			return 0, fmt.Errorf("insert chapter %s: %w", ch.URL, err)
		}
		inserted++
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit insert chapters: %w", err)
	}
	return inserted, nil
}

// PendingExtraction lists chapters whose content is still null, oldest
// first, bounded by limit.
func (s *Postgres) PendingExtraction(ctx context.Context, limit int) ([]harvest.Chapter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, source_id, seq, title, url, attempts, submitted
		FROM chapters
		WHERE content IS NULL
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("pending extraction: %w", err)
	}
	defer rows.Close()

	var out []harvest.Chapter
	for rows.Next() {
		var ch harvest.Chapter
		if err := rows.Scan(&ch.ID, &ch.SourceID, &ch.Seq, &ch.Title, &ch.URL,
			&ch.Attempts, &ch.Submitted); err != nil {
			return nil, fmt.Errorf("scan pending chapter: %w", err)
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending chapters: %w", err)
	}
	return out, nil
}

// SetChapterContent fills a chapter's content exactly once. The WHERE guard
// makes re-runs no-ops: a chapter whose content is non-null is never
// overwritten by the pipeline, only by an operator reset.
func (s *Postgres) SetChapterContent(ctx context.Context, chapterID int64, content string, at time.Time) error {
	if content == "" {
		return fmt.Errorf("refusing to store empty content for chapter %d", chapterID)
	}
	if _, err := s.pool.Exec(ctx, `
		UPDATE chapters
		SET content = $1, extracted_at = $2, attempts = attempts + 1
		WHERE id = $3 AND content IS NULL`,
		content, at, chapterID,
	); err != nil {
		return fmt.Errorf("set chapter content: %w", err)
	}
	return nil
}

// RecordExtractionFailure bumps the attempt counter without touching content.
func (s *Postgres) RecordExtractionFailure(ctx context.Context, chapterID int64) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE chapters SET attempts = attempts + 1 WHERE id = $1`, chapterID,
	); err != nil {
		return fmt.Errorf("record extraction failure: %w", err)
	}
	return nil
}
