package harvest

import (
	"context"
	"time"
)

// RenderOptions control a single render of a URL.
type RenderOptions struct {
	// Timeout bounds navigation plus settle. Zero means the renderer default.
	Timeout time.Duration
	// SettleDelay is extra wait after load for client-side content injection.
	SettleDelay time.Duration
	// BlockHeavyResources drops images, fonts and stylesheets during fetch.
	BlockHeavyResources bool
}

// Renderer is the rendering capability: given a URL it returns a navigable,
// queryable document after executing client-side scripts. Implementations
// own the browser lifecycle; each returned Document owns one session and
// must be closed by the caller on every exit path.
type Renderer interface {
	Render(ctx context.Context, url string, opts RenderOptions) (Document, error)
	Close(ctx context.Context) error
}

// Document is a live handle on one rendered page.
type Document interface {
	// StatusCode is the HTTP status of the main document response, or 0 if
	// it could not be observed.
	StatusCode() int
	// Text returns the text content of the first element matching selector.
	// A missing element yields ok=false, not an error.
	Text(ctx context.Context, selector string) (text string, ok bool, err error)
	// Attribute returns an attribute of the first matching element.
	Attribute(ctx context.Context, selector, name string) (value string, ok bool, err error)
	// Links returns every anchor matching selector in DOM order.
	Links(ctx context.Context, selector string) ([]Link, error)
	// Click clicks the first matching element, if present.
	Click(ctx context.Context, selector string) (clicked bool, err error)
	// Evaluate runs script in the page and unmarshals the result into out.
	Evaluate(ctx context.Context, script string, out any) error
	// HTML returns the current outer HTML snapshot of the document.
	HTML(ctx context.Context) (string, error)
	// Close releases the underlying session.
	Close()
}

// Prober performs a cheap, non-rendering existence check of a URL so callers
// can avoid paying for a browser session on an obvious miss.
type Prober interface {
	Probe(ctx context.Context, url string) (statusCode int, err error)
}

// SourceStore persists sources and their lazily created authors.
type SourceStore interface {
	// InsertSource inserts a new source, returning ErrDuplicate when the
	// canonical URL already exists.
	InsertSource(ctx context.Context, src Source) (int64, error)
	SourceURLExists(ctx context.Context, url string) (bool, error)
	ListSources(ctx context.Context) ([]Source, error)
	// UpdateSourceMetadata writes only the fields present in the patch.
	UpdateSourceMetadata(ctx context.Context, sourceID int64, patch MetadataPatch, authorID *int64) error
	UpdateChapterCount(ctx context.Context, sourceID int64, count int) error
	TouchSourceScraped(ctx context.Context, sourceID int64, at time.Time) error
	// ResolveAuthor returns the author id for the normalized name, creating
	// the row on first sighting.
	ResolveAuthor(ctx context.Context, name string) (int64, error)
}

// ChapterStore persists chapters and their extracted content.
type ChapterStore interface {
	ChapterURLs(ctx context.Context, sourceID int64) (map[string]struct{}, error)
	NextSeq(ctx context.Context, sourceID int64) (int, error)
	// InsertChapters inserts the batch in one transaction, in order.
	InsertChapters(ctx context.Context, sourceID int64, chapters []Chapter) (int, error)
	// PendingExtraction lists chapters whose content is still null.
	PendingExtraction(ctx context.Context, limit int) ([]Chapter, error)
	// SetChapterContent writes content exactly once; it is a no-op when the
	// chapter already has content.
	SetChapterContent(ctx context.Context, chapterID int64, content string, at time.Time) error
	RecordExtractionFailure(ctx context.Context, chapterID int64) error
}

// TranslationStore selects untranslated chapters and persists results.
type TranslationStore interface {
	// PendingTranslation anti-joins chapters with content against existing
	// translation rows for the language.
	PendingTranslation(ctx context.Context, language string, limit int) ([]Chapter, error)
	// InsertTranslation writes the translation row and flips the chapter's
	// submitted flag in the same transaction.
	InsertTranslation(ctx context.Context, tr Translation) (int64, error)
	SourceTitle(ctx context.Context, chapterID int64) (string, error)
}

// ConfigStore exposes per-site scraping policy rows.
type ConfigStore interface {
	// ConfigForURL matches a site config by domain containment, returning
	// ErrNotFound when no active config covers the URL.
	ConfigForURL(ctx context.Context, url string) (SiteConfig, error)
	ListActiveConfigs(ctx context.Context) ([]SiteConfig, error)
}

// Store aggregates the record-store capabilities behind one connection pool.
type Store interface {
	SourceStore
	ChapterStore
	TranslationStore
	ConfigStore
	Close()
}

// CheckpointStore is the durable cursor for long-running enumerations,
// independent of the record store's transaction boundary.
type CheckpointStore interface {
	Load(name string) (CatalogCheckpoint, error)
	Save(name string, cp CatalogCheckpoint) error
}

// Translator is the external translation capability.
type Translator interface {
	// Translate returns the target-language text. Failures are reported as
	// *TranslationFailure so callers can skip and retry next cycle.
	Translate(ctx context.Context, text, contextTitle string) (string, error)
	// Identity names the backing model for the translation audit trail.
	Identity() string
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock is the trivial Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time { return time.Now() }
