// Package harvest defines core types shared across subsystems.
package harvest

import "time"

// SourceStatus represents the lifecycle state of a discovered source.
type SourceStatus string

// Source status values persisted in the record store. Sources are never
// deleted; Blocked supersedes deletion.
const (
	SourceStatusInProgress SourceStatus = "in_progress"
	SourceStatusActive     SourceStatus = "active"
	SourceStatusBlocked    SourceStatus = "blocked"
	SourceStatusInactive   SourceStatus = "inactive"
)

// Source is a discovered serialized work. The canonical URL is the natural
// key; the numeric ID is a surrogate assigned by the store.
type Source struct {
	ID           int64        `json:"id"`
	URL          string       `json:"url"`
	Title        string       `json:"title"`
	AuthorID     *int64       `json:"author_id,omitempty"`
	Description  string       `json:"description"`
	CoverURL     string       `json:"cover_url"`
	Language     string       `json:"language"`
	ChapterCount int          `json:"chapter_count"`
	Status       SourceStatus `json:"status"`
	Verified     bool         `json:"verified"`
	ContentHash  string       `json:"content_hash"`
	PublishedAt  *time.Time   `json:"published_at,omitempty"`
	FirstSeenAt  time.Time    `json:"first_seen_at"`
	LastScrapeAt *time.Time   `json:"last_scrape_at,omitempty"`
}

// Author is created lazily on first sighting and deduplicated by
// normalized name.
type Author struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Chapter is one unit of content belonging to a Source, identified by its
// own URL within that source. Seq is assigned in discovery order at insert
// time and never renumbered.
type Chapter struct {
	ID          int64      `json:"id"`
	SourceID    int64      `json:"source_id"`
	Seq         int        `json:"seq"`
	Title       string     `json:"title"`
	URL         string     `json:"url"`
	Content     *string    `json:"content,omitempty"`
	Attempts    int        `json:"attempts"`
	ExtractedAt *time.Time `json:"extracted_at,omitempty"`
	Submitted   bool       `json:"submitted"`
}

// TranslationStatus tracks the lifecycle of a translation row.
type TranslationStatus string

// Translation status values.
const (
	TranslationPending    TranslationStatus = "pending"
	TranslationInProgress TranslationStatus = "in_progress"
	TranslationCompleted  TranslationStatus = "completed"
	TranslationPaused     TranslationStatus = "paused"
	TranslationError      TranslationStatus = "error"
)

// Translation holds a target-language copy of one chapter. At most one
// non-superseded row exists per (chapter, language); re-translation bumps
// Version instead of mutating in place.
type Translation struct {
	ID           int64             `json:"id"`
	ChapterID    int64             `json:"chapter_id"`
	Language     string            `json:"language"`
	Title        string            `json:"title"`
	Content      string            `json:"content"`
	Status       TranslationStatus `json:"status"`
	Translator   string            `json:"translator"`
	Version      int               `json:"version"`
	Quality      *float64          `json:"quality,omitempty"`
	TranslatedAt time.Time         `json:"translated_at"`
}

// SiteConfig is the per-site scraping policy. It is matched to a Source by
// domain containment on the source URL and read-only to the discoverers.
type SiteConfig struct {
	ID              int64   `json:"id"`
	Name            string  `json:"name"`
	BaseURL         string  `json:"base_url"`
	ContentSelector string  `json:"content_selector"`
	TitleSelectors  string  `json:"title_selectors"`
	ChapterPattern  string  `json:"chapter_pattern"`
	ExpandSelector  string  `json:"expand_selector"`
	TrustedMetadata bool    `json:"trusted_metadata"`
	MinContentLen   int     `json:"min_content_len"`
	RateLimitQPS    float64 `json:"rate_limit_qps"`
	Active          bool    `json:"active"`
}

// CatalogCheckpoint is the durable cursor for the catalog ID-space
// enumeration, stored independently of the record store so a crash loses at
// most one unit of progress.
type CatalogCheckpoint struct {
	Cursor     int64           `json:"last_id"`
	Counters   CatalogCounters `json:"counters"`
	RunID      string          `json:"run_id,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Enumerated string          `json:"enumeration,omitempty"`
}

// CatalogCounters accumulates enumeration statistics across runs.
type CatalogCounters struct {
	Found      int64 `json:"found"`
	Duplicates int64 `json:"duplicates"`
	Skipped    int64 `json:"skipped"`
}

// CycleReport summarizes the outcome of one harvest cycle for logging and
// the ops status endpoint.
type CycleReport struct {
	CycleID         string        `json:"cycle_id"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	SourcesFound    int           `json:"sources_found"`
	ChaptersAdded   int           `json:"chapters_added"`
	ChaptersFilled  int           `json:"chapters_filled"`
	TranslationsOK  int           `json:"translations_ok"`
	PhaseErrors     []string      `json:"phase_errors,omitempty"`
	CheckpointAfter int64         `json:"checkpoint_after"`
}

// MetadataPatch carries refreshed source metadata. Nil fields were not
// observed on the page; only non-nil fields are candidates for writing.
type MetadataPatch struct {
	Title       *string
	AuthorName  *string
	Description *string
	CoverURL    *string
	Language    *string
	PublishedAt *time.Time
}

// Empty reports whether the patch carries no observed fields at all.
func (p MetadataPatch) Empty() bool {
	return p.Title == nil && p.AuthorName == nil && p.Description == nil &&
		p.CoverURL == nil && p.Language == nil && p.PublishedAt == nil
}

// Link is one anchor harvested from a rendered page, in DOM order.
type Link struct {
	URL  string
	Text string
}
