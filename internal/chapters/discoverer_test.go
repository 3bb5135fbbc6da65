package chapters

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fictionharvest/harvester/internal/config"
	"github.com/fictionharvest/harvester/internal/harvest"
)

type fakeDoc struct {
	texts    map[string]string
	attrs    map[string]string
	links    []harvest.Link
	clicked  []string
	clickErr error
}

func (d *fakeDoc) StatusCode() int { return 200 }

func (d *fakeDoc) Text(_ context.Context, selector string) (string, bool, error) {
	text, ok := d.texts[selector]
	return text, ok, nil
}

func (d *fakeDoc) Attribute(_ context.Context, selector, _ string) (string, bool, error) {
	value, ok := d.attrs[selector]
	return value, ok, nil
}

func (d *fakeDoc) Links(_ context.Context, _ string) ([]harvest.Link, error) {
	return d.links, nil
}

func (d *fakeDoc) Click(_ context.Context, selector string) (bool, error) {
	if d.clickErr != nil {
		return false, d.clickErr
	}
	d.clicked = append(d.clicked, selector)
	return true, nil
}

func (d *fakeDoc) Evaluate(_ context.Context, _ string, out any) error {
	if count, ok := out.(*int); ok {
		*count = len(d.links)
	}
	return nil
}

func (d *fakeDoc) HTML(context.Context) (string, error) { return "<html></html>", nil }
func (d *fakeDoc) Close()                               {}

type fakeRenderer struct {
	docs map[string]*fakeDoc
}

func (r *fakeRenderer) Render(_ context.Context, url string, _ harvest.RenderOptions) (harvest.Document, error) {
	if doc, ok := r.docs[url]; ok {
		return doc, nil
	}
	return nil, &harvest.NavigationFailure{URL: url, Err: fmt.Errorf("no such page")}
}

func (r *fakeRenderer) Close(context.Context) error { return nil }

// fakeStore implements harvest.Store for reconciliation tests.
type fakeStore struct {
	sources     []harvest.Source
	chapterURLs map[int64]map[string]struct{}
	nextSeq     map[int64]int
	inserted    map[int64][]harvest.Chapter
	counts      map[int64]int
	patches     map[int64]harvest.MetadataPatch
	authors     map[string]int64
	site        harvest.SiteConfig
	hasSite     bool
}

func newFakeStore(sources ...harvest.Source) *fakeStore {
	return &fakeStore{
		sources:     sources,
		chapterURLs: make(map[int64]map[string]struct{}),
		nextSeq:     make(map[int64]int),
		inserted:    make(map[int64][]harvest.Chapter),
		counts:      make(map[int64]int),
		patches:     make(map[int64]harvest.MetadataPatch),
		authors:     make(map[string]int64),
	}
}

func (s *fakeStore) seed(sourceID int64, urls ...string) {
	set := make(map[string]struct{})
	for _, u := range urls {
		set[u] = struct{}{}
	}
	s.chapterURLs[sourceID] = set
	s.nextSeq[sourceID] = len(urls) + 1
}

func (s *fakeStore) InsertSource(context.Context, harvest.Source) (int64, error) { return 0, nil }

func (s *fakeStore) SourceURLExists(context.Context, string) (bool, error) { return false, nil }

func (s *fakeStore) ListSources(context.Context) ([]harvest.Source, error) { return s.sources, nil }

func (s *fakeStore) UpdateSourceMetadata(_ context.Context, id int64, patch harvest.MetadataPatch, _ *int64) error {
	s.patches[id] = patch
	return nil
}

func (s *fakeStore) UpdateChapterCount(_ context.Context, id int64, count int) error {
	s.counts[id] = count
	return nil
}

func (s *fakeStore) TouchSourceScraped(context.Context, int64, time.Time) error { return nil }

func (s *fakeStore) ResolveAuthor(_ context.Context, name string) (int64, error) {
	if id, ok := s.authors[name]; ok {
		return id, nil
	}
	id := int64(len(s.authors) + 1)
	s.authors[name] = id
	return id, nil
}

func (s *fakeStore) ChapterURLs(_ context.Context, sourceID int64) (map[string]struct{}, error) {
	set := make(map[string]struct{})
	for u := range s.chapterURLs[sourceID] {
		set[u] = struct{}{}
	}
	return set, nil
}

func (s *fakeStore) NextSeq(_ context.Context, sourceID int64) (int, error) {
	if seq, ok := s.nextSeq[sourceID]; ok {
		return seq, nil
	}
	return 1, nil
}

func (s *fakeStore) InsertChapters(_ context.Context, sourceID int64, chapters []harvest.Chapter) (int, error) {
	set := s.chapterURLs[sourceID]
	if set == nil {
		set = make(map[string]struct{})
		s.chapterURLs[sourceID] = set
	}
	for _, ch := range chapters {
		if _, dup := set[ch.URL]; dup {
			return 0, harvest.ErrDuplicate
		}
		set[ch.URL] = struct{}{}
	}
	s.inserted[sourceID] = append(s.inserted[sourceID], chapters...)
	s.nextSeq[sourceID] += len(chapters)
	return len(chapters), nil
}

func (s *fakeStore) PendingExtraction(context.Context, int) ([]harvest.Chapter, error) {
	return nil, nil
}

func (s *fakeStore) SetChapterContent(context.Context, int64, string, time.Time) error { return nil }

func (s *fakeStore) RecordExtractionFailure(context.Context, int64) error { return nil }

func (s *fakeStore) PendingTranslation(context.Context, string, int) ([]harvest.Chapter, error) {
	return nil, nil
}

func (s *fakeStore) InsertTranslation(context.Context, harvest.Translation) (int64, error) {
	return 0, nil
}

func (s *fakeStore) SourceTitle(context.Context, int64) (string, error) { return "", nil }

func (s *fakeStore) ConfigForURL(context.Context, string) (harvest.SiteConfig, error) {
	if !s.hasSite {
		return harvest.SiteConfig{}, harvest.ErrNotFound
	}
	return s.site, nil
}

func (s *fakeStore) ListActiveConfigs(context.Context) ([]harvest.SiteConfig, error) {
	if !s.hasSite {
		return nil, nil
	}
	return []harvest.SiteConfig{s.site}, nil
}

func (s *fakeStore) Close() {}

func testChaptersConfig() config.ChaptersConfig {
	return config.ChaptersConfig{MaxExpandPolls: 3, PollDelayMs: 1}
}

func chapterURL(book, n int) string {
	return fmt.Sprintf("https://example.com/book/%d/%d.html", book, n)
}

func chapterLinks(book, from, to int) []harvest.Link {
	var links []harvest.Link
	for n := from; n <= to; n++ {
		links = append(links, harvest.Link{
			URL:  fmt.Sprintf("/book/%d/%d.html", book, n),
			Text: fmt.Sprintf("Chapter %d", n),
		})
	}
	return links
}

func TestRunAppendsOnlyNewChapters(t *testing.T) {
	t.Parallel()

	src := harvest.Source{
		ID:    5,
		URL:   "https://example.com/book/5.html",
		Title: "Known Work",
	}
	store := newFakeStore(src)
	// 7 of 10 chapters already stored.
	known := make([]string, 0, 7)
	for n := 1; n <= 7; n++ {
		known = append(known, chapterURL(5, n))
	}
	store.seed(5, known...)

	doc := &fakeDoc{links: chapterLinks(5, 1, 10)}
	renderer := &fakeRenderer{docs: map[string]*fakeDoc{src.URL: doc}}

	d := NewDiscoverer(renderer, store, harvest.SystemClock{},
		testChaptersConfig(), config.RendererConfig{}, zap.NewNop())

	added, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, added)

	inserted := store.inserted[5]
	require.Len(t, inserted, 3)
	require.Equal(t, chapterURL(5, 8), inserted[0].URL)
	require.Equal(t, 8, inserted[0].Seq)
	require.Equal(t, 10, inserted[2].Seq)
	require.Equal(t, 10, store.counts[5])
}

func TestRunCorrectsCountWhenListingShrinks(t *testing.T) {
	t.Parallel()

	src := harvest.Source{
		ID:           5,
		URL:          "https://example.com/book/5.html",
		ChapterCount: 10,
	}
	store := newFakeStore(src)
	known := make([]string, 0, 10)
	for n := 1; n <= 10; n++ {
		known = append(known, chapterURL(5, n))
	}
	store.seed(5, known...)

	// The site now lists only 8 chapters and none are new.
	doc := &fakeDoc{links: chapterLinks(5, 1, 8)}
	renderer := &fakeRenderer{docs: map[string]*fakeDoc{src.URL: doc}}

	d := NewDiscoverer(renderer, store, harvest.SystemClock{},
		testChaptersConfig(), config.RendererConfig{}, zap.NewNop())

	added, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, added)
	require.Equal(t, 8, store.counts[5])
}

func TestRunIsIdempotentAcrossCycles(t *testing.T) {
	t.Parallel()

	src := harvest.Source{ID: 5, URL: "https://example.com/book/5.html"}
	store := newFakeStore(src)
	doc := &fakeDoc{links: chapterLinks(5, 1, 4)}
	renderer := &fakeRenderer{docs: map[string]*fakeDoc{src.URL: doc}}

	d := NewDiscoverer(renderer, store, harvest.SystemClock{},
		testChaptersConfig(), config.RendererConfig{}, zap.NewNop())

	added, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, added)

	added, err = d.Run(context.Background())
	require.NoError(t, err)
	require.Zero(t, added)
	require.Len(t, store.inserted[5], 4)
}

func TestRunSurvivesOneBrokenSource(t *testing.T) {
	t.Parallel()

	broken := harvest.Source{ID: 1, URL: "https://example.com/book/1.html"}
	healthy := harvest.Source{ID: 2, URL: "https://example.com/book/2.html"}
	store := newFakeStore(broken, healthy)
	renderer := &fakeRenderer{docs: map[string]*fakeDoc{
		healthy.URL: {links: chapterLinks(2, 1, 2)},
	}}

	d := NewDiscoverer(renderer, store, harvest.SystemClock{},
		testChaptersConfig(), config.RendererConfig{}, zap.NewNop())

	added, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, added)
	require.Empty(t, store.inserted[1])
}

func TestRunRefreshesMetadataFromTrustedSite(t *testing.T) {
	t.Parallel()

	src := harvest.Source{
		ID:    5,
		URL:   "https://example.com/book/5.html",
		Title: "Stale Title",
	}
	store := newFakeStore(src)
	store.site = harvest.SiteConfig{
		Name:            "example",
		BaseURL:         "https://example.com",
		TrustedMetadata: true,
		Active:          true,
	}
	store.hasSite = true

	doc := &fakeDoc{
		texts: map[string]string{
			"div.booknav2 h1 a": "SS - Fresh Title",
			"div.navtxt p":      "A long story.",
		},
		links: chapterLinks(5, 1, 1),
	}
	renderer := &fakeRenderer{docs: map[string]*fakeDoc{src.URL: doc}}

	d := NewDiscoverer(renderer, store, harvest.SystemClock{},
		testChaptersConfig(), config.RendererConfig{}, zap.NewNop())

	_, err := d.Run(context.Background())
	require.NoError(t, err)

	patch := store.patches[5]
	require.NotNil(t, patch.Title)
	require.Equal(t, "Fresh Title", *patch.Title)
	require.NotNil(t, patch.Description)
}

func TestRunClicksExpandControl(t *testing.T) {
	t.Parallel()

	src := harvest.Source{ID: 5, URL: "https://example.com/book/5.html"}
	store := newFakeStore(src)
	store.site = harvest.SiteConfig{
		BaseURL:        "https://example.com",
		ExpandSelector: ".show-all",
		Active:         true,
	}
	store.hasSite = true

	doc := &fakeDoc{links: chapterLinks(5, 1, 3)}
	renderer := &fakeRenderer{docs: map[string]*fakeDoc{src.URL: doc}}

	d := NewDiscoverer(renderer, store, harvest.SystemClock{},
		testChaptersConfig(), config.RendererConfig{}, zap.NewNop())

	added, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, added)
	require.Equal(t, []string{".show-all"}, doc.clicked)
}

func TestRunHarvestsUnexpandedListWhenClickFails(t *testing.T) {
	t.Parallel()

	src := harvest.Source{ID: 5, URL: "https://example.com/book/5.html"}
	store := newFakeStore(src)
	store.site = harvest.SiteConfig{
		BaseURL:        "https://example.com",
		ExpandSelector: ".show-all",
		Active:         true,
	}
	store.hasSite = true

	doc := &fakeDoc{
		links:    chapterLinks(5, 1, 3),
		clickErr: fmt.Errorf("node not clickable"),
	}
	renderer := &fakeRenderer{docs: map[string]*fakeDoc{src.URL: doc}}

	d := NewDiscoverer(renderer, store, harvest.SystemClock{},
		testChaptersConfig(), config.RendererConfig{}, zap.NewNop())

	added, err := d.Run(context.Background())
	require.NoError(t, err)
	// The anchors already in the DOM are harvested despite the failed click.
	require.Equal(t, 3, added)
}

func TestRunRefreshesPublishedDate(t *testing.T) {
	t.Parallel()

	src := harvest.Source{ID: 5, URL: "https://example.com/book/5.html"}
	store := newFakeStore(src)
	store.site = harvest.SiteConfig{
		BaseURL:         "https://example.com",
		TrustedMetadata: true,
		Active:          true,
	}
	store.hasSite = true

	doc := &fakeDoc{
		attrs: map[string]string{
			`meta[property='article:published_time']`: "2024-03-01T10:00:00Z",
		},
		links: chapterLinks(5, 1, 1),
	}
	renderer := &fakeRenderer{docs: map[string]*fakeDoc{src.URL: doc}}

	d := NewDiscoverer(renderer, store, harvest.SystemClock{},
		testChaptersConfig(), config.RendererConfig{}, zap.NewNop())

	_, err := d.Run(context.Background())
	require.NoError(t, err)

	patch := store.patches[5]
	require.NotNil(t, patch.PublishedAt)
	require.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), *patch.PublishedAt)
}

func TestParsePublishedAt(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-03-01T10:00:00Z", time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), true},
		{"2024-03-01", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), true},
		{"last tuesday", time.Time{}, false},
	}
	for _, tc := range cases {
		got, err := parsePublishedAt(tc.in)
		if !tc.ok {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got)
	}
}

func TestFilterChapterLinks(t *testing.T) {
	t.Parallel()

	src := harvest.Source{ID: 5, URL: "https://example.com/book/5.html"}

	links := []harvest.Link{
		{URL: "/book/5/2.html", Text: "Chapter 2"},
		{URL: "/book/5/1.html", Text: "Chapter 1"},
		{URL: "/book/5/1.html", Text: "Chapter 1 duplicate"},
		{URL: "https://example.com/book/5.html", Text: "self link"},
		{URL: "https://other.net/book/5/3.html", Text: "foreign host"},
		{URL: "/book/9/1.html", Text: "different work"},
		{URL: "/about.html", Text: "About"},
	}

	got := filterChapterLinks(src, harvest.SiteConfig{}, links)
	require.Len(t, got, 2)
	// DOM order preserved, not sorted.
	require.Equal(t, "https://example.com/book/5/2.html", got[0].URL)
	require.Equal(t, "https://example.com/book/5/1.html", got[1].URL)
}

func TestFilterChapterLinksWithPattern(t *testing.T) {
	t.Parallel()

	src := harvest.Source{ID: 5, URL: "https://example.com/book/5.html"}
	site := harvest.SiteConfig{ChapterPattern: `/read/\d+`}

	links := []harvest.Link{
		{URL: "/read/100.html", Text: "Chapter 1"},
		{URL: "/book/5/1.html", Text: "excluded by pattern"},
	}

	got := filterChapterLinks(src, site, links)
	require.Len(t, got, 1)
	require.Equal(t, "https://example.com/read/100.html", got[0].URL)
}

func TestMergePatchFillsOnlyEmptyFields(t *testing.T) {
	t.Parallel()

	title := "New"
	desc := "Observed description"
	author := "Somebody"
	published := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	patch := harvest.MetadataPatch{
		Title:       &title,
		Description: &desc,
		AuthorName:  &author,
		PublishedAt: &published,
	}

	authorID := int64(2)
	known := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	src := harvest.Source{Title: "Existing", AuthorID: &authorID, PublishedAt: &known}

	merged := mergePatch(src, patch, false)
	require.Nil(t, merged.Title)
	require.Nil(t, merged.AuthorName)
	require.Nil(t, merged.PublishedAt)
	require.NotNil(t, merged.Description)

	trusted := mergePatch(src, patch, true)
	require.NotNil(t, trusted.Title)
	require.NotNil(t, trusted.AuthorName)
	require.NotNil(t, trusted.PublishedAt)
}
