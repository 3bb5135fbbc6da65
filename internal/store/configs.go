package store

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/fictionharvest/harvester/internal/harvest"
)

const siteConfigColumns = `id, name, base_url, content_selector, title_selectors,
	chapter_pattern, expand_selector, trusted_metadata, min_content_len,
	rate_limit_qps, active`

// ConfigForURL matches a site config by domain containment on the source
// URL, mirroring how sources carry no explicit site foreign key. Returns
// harvest.ErrNotFound when no active config covers the host.
func (s *Postgres) ConfigForURL(ctx context.Context, rawURL string) (harvest.SiteConfig, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return harvest.SiteConfig{}, fmt.Errorf("parse source url %q: %w", rawURL, err)
	}
	host := strings.ToLower(parsed.Host)

	configs, err := s.ListActiveConfigs(ctx)
	if err != nil {
		return harvest.SiteConfig{}, err
	}
	for _, cfg := range configs {
		if strings.Contains(strings.ToLower(cfg.BaseURL), host) {
			return cfg, nil
		}
	}
	return harvest.SiteConfig{}, harvest.ErrNotFound
}

// ListActiveConfigs returns every active site config.
func (s *Postgres) ListActiveConfigs(ctx context.Context) ([]harvest.SiteConfig, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM site_configs WHERE active ORDER BY id`, siteConfigColumns))
	if err != nil {
		return nil, fmt.Errorf("list site configs: %w", err)
	}
	defer rows.Close()

	var out []harvest.SiteConfig
	for rows.Next() {
		var cfg harvest.SiteConfig
		if err := rows.Scan(
			&cfg.ID, &cfg.Name, &cfg.BaseURL, &cfg.ContentSelector,
			&cfg.TitleSelectors, &cfg.ChapterPattern, &cfg.ExpandSelector,
			&cfg.TrustedMetadata, &cfg.MinContentLen, &cfg.RateLimitQPS, &cfg.Active,
		); err != nil {
			return nil, fmt.Errorf("scan site config: %w", err)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate site configs: %w", err)
	}
	return out, nil
}
