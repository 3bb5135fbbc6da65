package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fictionharvest/harvester/internal/harvest"
)

// PendingTranslation selects chapters with extracted content and no live
// translation row for the language. The anti-join is the handoff predicate:
// a chapter stays eligible until a completed row lands, which is how failed
// translation attempts are retried on later cycles.
func (s *Postgres) PendingTranslation(ctx context.Context, language string, limit int) ([]harvest.Chapter, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.source_id, c.seq, c.title, c.url, c.content, c.attempts, c.submitted
		FROM chapters c
		LEFT JOIN translations t
			ON t.chapter_id = c.id AND t.language = $1 AND NOT t.superseded
		WHERE c.content IS NOT NULL AND t.id IS NULL
		ORDER BY c.id
		LIMIT $2`, language, limit)
	if err != nil {
		return nil, fmt.Errorf("pending translation: %w", err)
	}
	defer rows.Close()

	var out []harvest.Chapter
	for rows.Next() {
		var ch harvest.Chapter
		if err := rows.Scan(&ch.ID, &ch.SourceID, &ch.Seq, &ch.Title, &ch.URL,
			&ch.Content, &ch.Attempts, &ch.Submitted); err != nil {
			return nil, fmt.Errorf("scan pending translation: %w", err)
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending translations: %w", err)
	}
	return out, nil
}

// InsertTranslation writes the translation row and marks the chapter
// submitted in one transaction, so the handoff flag can never disagree with
// the row's existence. A concurrent duplicate maps to harvest.ErrDuplicate.
func (s *Postgres) InsertTranslation(ctx context.Context, tr harvest.Translation) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin insert translation: %w", err)
	}
	defer tx.Rollback(ctx)

	version := tr.Version
	if version <= 0 {
		version = 1
	}
	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO translations (chapter_id, language, title, content, status, translator, version, quality)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		tr.ChapterID, tr.Language, tr.Title, tr.Content, tr.Status, tr.Translator, version, tr.Quality,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, harvest.ErrDuplicate
		}
		return 0, fmt.Errorf("insert translation: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE chapters SET submitted = TRUE WHERE id = $1`, tr.ChapterID,
	); err != nil {
		return 0, fmt.Errorf("mark chapter submitted: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit insert translation: %w", err)
	}
	return id, nil
}

// SourceTitle returns the owning source's title for prompt context.
func (s *Postgres) SourceTitle(ctx context.Context, chapterID int64) (string, error) {
	var title string
	err := s.pool.QueryRow(ctx, `
		SELECT s.title
		FROM chapters c
		JOIN sources s ON s.id = c.source_id
		WHERE c.id = $1`, chapterID,
	).Scan(&title)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", harvest.ErrNotFound
		}
		return "", fmt.Errorf("source title: %w", err)
	}
	return title, nil
}
