package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fictionharvest/harvester/internal/harvest"
)

// InsertSource inserts a newly discovered source. A conflict on the
// canonical URL returns harvest.ErrDuplicate so discoverers can count it and
// move on.
func (s *Postgres) InsertSource(ctx context.Context, src harvest.Source) (int64, error) {
	status := src.Status
	if status == "" {
		status = harvest.SourceStatusInProgress
	}
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO sources (url, title, description, cover_url, language, status, verified)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		src.URL, src.Title, src.Description, src.CoverURL, src.Language, status, src.Verified,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, harvest.ErrDuplicate
		}
		return 0, fmt.Errorf("insert source: %w", err)
	}
	return id, nil
}

// SourceURLExists reports whether the canonical URL is already stored.
func (s *Postgres) SourceURLExists(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sources WHERE url = $1)`, url,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("source exists: %w", err)
	}
	return exists, nil
}

// ListSources returns every source that is not blocked or inactive, oldest
// first so long-known sources are refreshed before recent discoveries.
func (s *Postgres) ListSources(ctx context.Context) ([]harvest.Source, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, url, title, author_id, description, cover_url, language,
			chapter_count, status, verified, content_hash, published_at,
			first_seen_at, last_scrape_at
		FROM sources
		WHERE status NOT IN ('blocked', 'inactive')
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []harvest.Source
	for rows.Next() {
		var src harvest.Source
		if err := rows.Scan(
			&src.ID, &src.URL, &src.Title, &src.AuthorID, &src.Description,
			&src.CoverURL, &src.Language, &src.ChapterCount, &src.Status,
			&src.Verified, &src.ContentHash, &src.PublishedAt,
			&src.FirstSeenAt, &src.LastScrapeAt,
		); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// UpdateSourceMetadata writes only the fields carried by the patch. Fields
// the refresh did not observe stay untouched.
func (s *Postgres) UpdateSourceMetadata(
	ctx context.Context,
	sourceID int64,
	patch harvest.MetadataPatch,
	authorID *int64,
) error {
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Title != nil {
		add("title", *patch.Title)
	}
	if patch.Description != nil {
		add("description", *patch.Description)
	}
	if patch.CoverURL != nil {
		add("cover_url", *patch.CoverURL)
	}
	if patch.Language != nil {
		add("language", *patch.Language)
	}
	if patch.PublishedAt != nil {
		add("published_at", *patch.PublishedAt)
	}
	if authorID != nil {
		add("author_id", *authorID)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, sourceID)
	query := fmt.Sprintf("UPDATE sources SET %s WHERE id = $%d",
		strings.Join(sets, ", "), len(args))
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("update source metadata: %w", err)
	}
	return nil
}

// UpdateChapterCount records the freshly observed chapter total.
func (s *Postgres) UpdateChapterCount(ctx context.Context, sourceID int64, count int) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE sources SET chapter_count = $1 WHERE id = $2`, count, sourceID,
	); err != nil {
		return fmt.Errorf("update chapter count: %w", err)
	}
	return nil
}

// TouchSourceScraped stamps the last successful scrape time.
func (s *Postgres) TouchSourceScraped(ctx context.Context, sourceID int64, at time.Time) error {
	if _, err := s.pool.Exec(ctx,
		`UPDATE sources SET last_scrape_at = $1 WHERE id = $2`, at, sourceID,
	); err != nil {
		return fmt.Errorf("touch source: %w", err)
	}
	return nil
}

// ResolveAuthor looks an author up by exact normalized name, inserting the
// row on first sighting. Trimming is the only normalization applied; richer
// matching belongs to a curation layer, not the harvester.
func (s *Postgres) ResolveAuthor(ctx context.Context, name string) (int64, error) {
	normalized := strings.TrimSpace(name)
	if normalized == "" {
		return 0, fmt.Errorf("author name is empty")
	}
	var id int64
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM authors WHERE name = $1`, normalized,
	).Scan(&id)
	if err == nil {
		return id, nil
	}
	err = s.pool.QueryRow(ctx,
		`INSERT INTO authors (name) VALUES ($1)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`, normalized,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("resolve author %q: %w", normalized, err)
	}
	return id, nil
}
