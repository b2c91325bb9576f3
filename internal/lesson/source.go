// Package lesson provides the static lesson documents the tutor is primed
// with: the tutor instructions and the lesson body.
package lesson

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"
)

// Document keys.
const (
	KeyInstructions = "instructions"
	KeyLesson       = "lesson"
)

// DefaultCacheTTL is how long fetched documents stay fresh.
const DefaultCacheTTL = 24 * time.Hour

// ErrNotFound is returned for an unknown document key.
var ErrNotFound = errors.New("lesson document not found")

//go:embed content/*.md
var embedded embed.FS

// Source returns the text of a lesson document.
type Source interface {
	FetchText(ctx context.Context, key string) (string, error)
}

// Static serves documents from memory.
type Static map[string]string

// FetchText implements Source.
func (s Static) FetchText(_ context.Context, key string) (string, error) {
	text, ok := s[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return text, nil
}

// FS serves "<key>.md" files from a filesystem.
type FS struct {
	fsys fs.FS
}

// NewFS creates a Source over fsys.
func NewFS(fsys fs.FS) *FS {
	return &FS{fsys: fsys}
}

// Embedded returns the built-in merge-sort lesson.
func Embedded() *FS {
	sub, err := fs.Sub(embedded, "content")
	if err != nil {
		panic("lesson: failed to create sub filesystem: " + err.Error())
	}
	return NewFS(sub)
}

// FetchText implements Source.
func (f *FS) FetchText(_ context.Context, key string) (string, error) {
	data, err := fs.ReadFile(f.fsys, key+".md")
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("read lesson document %s: %w", key, err)
	}
	return string(data), nil
}

type cacheEntry struct {
	text      string
	fetchedAt time.Time
}

// Cached memoizes another Source for a fixed TTL. When a refresh fails the
// last good copy is served even if it has expired.
type Cached struct {
	next Source
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCached wraps next. A non-positive ttl uses DefaultCacheTTL.
func NewCached(next Source, ttl time.Duration) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// FetchText implements Source.
func (c *Cached) FetchText(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry.text, nil
	}

	text, err := c.next.FetchText(ctx, key)
	if err != nil {
		if ok {
			return entry.text, nil
		}
		return "", err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{text: text, fetchedAt: c.now()}
	c.mu.Unlock()
	return text, nil
}
