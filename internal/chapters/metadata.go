package chapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fictionharvest/harvester/internal/harvest"
)

// fieldReader extracts one metadata field from a rendered work page.
type fieldReader struct {
	field string
	read  func(ctx context.Context, doc harvest.Document) (string, bool, error)
}

// metadataReaders builds the generic field readers, with the site's own
// title selectors tried before the fallbacks.
func metadataReaders(site harvest.SiteConfig) []fieldReader {
	titleSelectors := []string{"div.booknav2 h1 a", "h1"}
	if site.TitleSelectors != "" {
		var custom []string
		for _, sel := range strings.Split(site.TitleSelectors, ",") {
			if s := strings.TrimSpace(sel); s != "" {
				custom = append(custom, s)
			}
		}
		titleSelectors = append(custom, titleSelectors...)
	}

	return []fieldReader{
		{field: "title", read: func(ctx context.Context, doc harvest.Document) (string, bool, error) {
			return firstText(ctx, doc, titleSelectors...)
		}},
		{field: "author", read: func(ctx context.Context, doc harvest.Document) (string, bool, error) {
			return firstText(ctx, doc,
				`div.booknav2 a[href*='/author']`,
				`meta[name='author']`,
				`.author a`, `.author`,
			)
		}},
		{field: "description", read: func(ctx context.Context, doc harvest.Document) (string, bool, error) {
			return firstText(ctx, doc, `div.navtxt p`, `.description`, `#intro`, `meta[name='description']`)
		}},
		{field: "cover", read: func(ctx context.Context, doc harvest.Document) (string, bool, error) {
			return firstAttr(ctx, doc, "src", `div.bookimg2 img`, `.cover img`, `img.cover`)
		}},
		{field: "language", read: func(ctx context.Context, doc harvest.Document) (string, bool, error) {
			return firstAttr(ctx, doc, "lang", `html`)
		}},
		{field: "published", read: func(ctx context.Context, doc harvest.Document) (string, bool, error) {
			return firstAttr(ctx, doc, "content",
				`meta[property='article:published_time']`,
				`meta[itemprop='datePublished']`,
			)
		}},
	}
}

// readMetadata runs every field reader against the page. A field that fails
// or is absent simply stays nil in the patch; metadata refresh never blocks
// chapter reconciliation.
func readMetadata(ctx context.Context, doc harvest.Document, site harvest.SiteConfig) harvest.MetadataPatch {
	var patch harvest.MetadataPatch
	for _, r := range metadataReaders(site) {
		value, ok, err := r.read(ctx, doc)
		if err != nil || !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch r.field {
		case "title":
			patch.Title = ptr(cleanTitle(value))
		case "author":
			patch.AuthorName = ptr(value)
		case "description":
			patch.Description = ptr(value)
		case "cover":
			patch.CoverURL = ptr(value)
		case "language":
			patch.Language = ptr(value)
		case "published":
			if at, err := parsePublishedAt(value); err == nil {
				patch.PublishedAt = &at
			}
		}
	}
	return patch
}

// mergePatch applies the site's merge policy. Trusted sites overwrite stored
// metadata with everything observed; everyone else only fills fields the
// store has never seen a value for.
func mergePatch(src harvest.Source, patch harvest.MetadataPatch, trusted bool) harvest.MetadataPatch {
	if trusted {
		return patch
	}
	if src.Title != "" {
		patch.Title = nil
	}
	if src.AuthorID != nil {
		patch.AuthorName = nil
	}
	if src.Description != "" {
		patch.Description = nil
	}
	if src.CoverURL != "" {
		patch.CoverURL = nil
	}
	if src.Language != "" {
		patch.Language = nil
	}
	if src.PublishedAt != nil {
		patch.PublishedAt = nil
	}
	return patch
}

// parsePublishedAt accepts the timestamp shapes sites put in their
// published-time meta tags.
func parsePublishedAt(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if at, err := time.Parse(layout, raw); err == nil {
			return at.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized published time %q", raw)
}

func firstText(ctx context.Context, doc harvest.Document, selectors ...string) (string, bool, error) {
	for _, sel := range selectors {
		text, ok, err := doc.Text(ctx, sel)
		if err != nil {
			return "", false, err
		}
		if ok && strings.TrimSpace(text) != "" {
			return text, true, nil
		}
	}
	return "", false, nil
}

func firstAttr(ctx context.Context, doc harvest.Document, name string, selectors ...string) (string, bool, error) {
	for _, sel := range selectors {
		value, ok, err := doc.Attribute(ctx, sel, name)
		if err != nil {
			return "", false, err
		}
		if ok && strings.TrimSpace(value) != "" {
			return value, true, nil
		}
	}
	return "", false, nil
}

func cleanTitle(raw string) string {
	t := strings.Join(strings.Fields(raw), " ")
	t = strings.TrimPrefix(t, "SS - ")
	return strings.TrimSpace(t)
}

func ptr(s string) *string { return &s }
