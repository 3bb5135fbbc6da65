// Package archive persists HTML snapshots for pages that defeated every
// extraction strategy, so selector coverage can be diagnosed offline.
package archive

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
)

var invalidFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// failureMeta is written next to each snapshot.
type failureMeta struct {
	URL        string    `json:"url"`
	SavedAt    time.Time `json:"saved_at"`
	HTMLBytes  int       `json:"html_bytes"`
	SnapshotAt string    `json:"snapshot"`
}

// FileSystemArchive saves failed-extraction snapshots to disk.
type FileSystemArchive struct {
	root     string
	maxBytes int64
	logger   *zap.Logger
}

// NewFileSystemArchive returns an archive rooted at root.
func NewFileSystemArchive(root string, maxBytes int64, logger *zap.Logger) (*FileSystemArchive, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create archive dir %s: %w", root, err)
	}
	return &FileSystemArchive{
		root:     root,
		maxBytes: maxBytes,
		logger:   logger,
	}, nil
}

// SaveFailure writes the rendered HTML and a metadata sidecar, returning the
// snapshot path.
func (a *FileSystemArchive) SaveFailure(ctx context.Context, pageURL, html string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("context canceled: %w", err)
	}
	if html == "" {
		return "", fmt.Errorf("empty snapshot body")
	}
	if int64(len(html)) > a.maxBytes {
		return "", fmt.Errorf("snapshot size %d exceeds max %d", len(html), a.maxBytes)
	}

	base := safeBasename(pageURL)
	target := filepath.Join(a.root, base+".html")
	if err := os.WriteFile(target, []byte(html), 0o600); err != nil {
		return "", fmt.Errorf("writing snapshot to %s: %w", target, err)
	}

	meta := failureMeta{
		URL:        pageURL,
		SavedAt:    time.Now().UTC(),
		HTMLBytes:  len(html),
		SnapshotAt: target,
	}
	payload, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot meta: %w", err)
	}
	metaPath := filepath.Join(a.root, base+".json")
	if err := os.WriteFile(metaPath, payload, 0o600); err != nil {
		return "", fmt.Errorf("write snapshot meta %s: %w", metaPath, err)
	}

	a.logger.Debug("archived extraction failure",
		zap.String("url", pageURL),
		zap.String("path", target),
	)
	return target, nil
}

func safeBasename(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return hashURL(raw)
	}
	host := invalidFilenameChars.ReplaceAllString(u.Hostname(), "_")
	p := strings.Trim(u.EscapedPath(), "/")
	if p == "" {
		p = "root"
	}
	p = invalidFilenameChars.ReplaceAllString(p, "_")
	hash := hashURL(raw)[:16]
	return fmt.Sprintf("%s_%s_%s", host, p, hash)
}

func hashURL(raw string) string {
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}
