package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"videocacher/internal/metrics"
	"videocacher/pkg/models"
)

var (
	ErrEntryNotFound = errors.New("cache entry not found")
	ErrInvalidEntry  = errors.New("invalid cache entry")
)

const (
	indexFileName  = "index.html"
	tempFilePrefix = "_tempVideo"
)

// Store owns the cache root directory. File mtime is the recency signal:
// Touch bumps it on every hit and eviction removes the oldest first.
//
// Content writes happen only from the single download worker, always via
// rename-after-complete. The mutex guards size accounting and eviction only.
type Store struct {
	mu           sync.Mutex
	cachePath    string
	entries      map[string]*models.CacheEntry // keyed by file name
	totalSize    int64
	maxSizeBytes int64
	logger       *slog.Logger
	metrics      *metrics.Metrics
}

// NewStore creates the cache root if needed, drops an index.html placeholder,
// seeds size accounting from disk and runs an initial eviction sweep.
func NewStore(cachePath string, maxSizeBytes int64, logger *slog.Logger, m *metrics.Metrics) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cachePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	indexPath := filepath.Join(cachePath, indexFileName)
	if _, err := os.Stat(indexPath); os.IsNotExist(err) {
		if err := os.WriteFile(indexPath, []byte("VRCVideoCacher"), 0644); err != nil {
			return nil, fmt.Errorf("failed to write index placeholder: %w", err)
		}
	}

	s := &Store{
		cachePath:    cachePath,
		entries:      make(map[string]*models.CacheEntry),
		maxSizeBytes: maxSizeBytes,
		logger:       logger.With("component", "cache"),
		metrics:      m,
	}

	if err := s.Scan(); err != nil {
		return nil, err
	}

	return s, nil
}

// Lookup reports the cached file name for videoID. An AV-capable request
// prefers .webm and falls back to .mp4. Lookup never evicts.
func (s *Store) Lookup(videoID string, avPro bool) (string, bool) {
	if !validID(videoID) {
		return "", false
	}

	candidates := []string{videoID + ".mp4"}
	if avPro {
		candidates = []string{videoID + ".webm", videoID + ".mp4"}
	}

	for _, name := range candidates {
		info, err := os.Stat(filepath.Join(s.cachePath, name))
		if err == nil && info.Mode().IsRegular() {
			return name, true
		}
	}

	return "", false
}

// Touch refreshes the recency of a cached file. It can race with an eviction
// sweep; losing that race only means the entry is evicted anyway.
func (s *Store) Touch(fileName string) error {
	now := time.Now()
	if err := os.Chtimes(filepath.Join(s.cachePath, fileName), now, now); err != nil {
		return fmt.Errorf("failed to touch %s: %w", fileName, err)
	}

	s.mu.Lock()
	if entry, ok := s.entries[fileName]; ok {
		entry.LastAccess = now
	}
	s.mu.Unlock()

	return nil
}

// Commit registers a file that was just moved into the cache root and
// enforces the size budget.
func (s *Store) Commit(fileName string) error {
	id, ok := parseMediaName(fileName)
	if !ok {
		return fmt.Errorf("%w: %s", ErrInvalidEntry, fileName)
	}

	info, err := os.Stat(filepath.Join(s.cachePath, fileName))
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[fileName]; ok {
		s.totalSize -= old.Size
	}
	s.entries[fileName] = &models.CacheEntry{
		ID:         id,
		FileName:   fileName,
		Size:       info.Size(),
		LastAccess: info.ModTime(),
	}
	s.totalSize += info.Size()

	s.evictLocked()
	s.publishLocked()

	return nil
}

// Scan rebuilds the entry map from the cache root
func (s *Store) Scan() error {
	dirEntries, err := os.ReadDir(s.cachePath)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*models.CacheEntry)
	s.totalSize = 0

	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		id, ok := parseMediaName(de.Name())
		if !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}

		s.entries[de.Name()] = &models.CacheEntry{
			ID:         id,
			FileName:   de.Name(),
			Size:       info.Size(),
			LastAccess: info.ModTime(),
		}
		s.totalSize += info.Size()
	}

	s.logger.Info("cache scanned", "path", s.cachePath, "files", len(s.entries), "bytes", s.totalSize)

	s.evictLocked()
	s.publishLocked()

	return nil
}

// DeleteEntry removes a cached file by name
func (s *Store) DeleteEntry(fileName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[fileName]
	if !ok {
		return ErrEntryNotFound
	}

	if err := os.Remove(filepath.Join(s.cachePath, fileName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	s.totalSize -= entry.Size
	delete(s.entries, fileName)
	s.publishLocked()

	return nil
}

// ListEntries returns all cache entries, most recently used first
func (s *Store) ListEntries() []*models.CacheEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*models.CacheEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		entryCopy := *entry
		entries = append(entries, &entryCopy)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccess.After(entries[j].LastAccess)
	})

	return entries
}

// GetSize returns the total size of all cached files
func (s *Store) GetSize() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSize
}

// Clear removes every cached media file
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name := range s.entries {
		os.Remove(filepath.Join(s.cachePath, name))
		delete(s.entries, name)
	}
	s.totalSize = 0
	s.publishLocked()

	return nil
}

// GetCachePath returns the cache directory path
func (s *Store) GetCachePath() string {
	return s.cachePath
}

// FilePath joins a cache file name onto the cache root
func (s *Store) FilePath(fileName string) string {
	return filepath.Join(s.cachePath, fileName)
}

// TempPath is the fixed in-progress download path for a container.
func (s *Store) TempPath(format models.DownloadFormat) string {
	return filepath.Join(s.cachePath, tempFilePrefix+"."+format.Ext())
}

// evictLocked deletes least recently modified files until the budget holds.
// Must be called with lock held.
func (s *Store) evictLocked() {
	if s.maxSizeBytes <= 0 || s.totalSize <= s.maxSizeBytes {
		return
	}

	// Refresh from disk: Touch may have bumped mtimes since the last scan
	entries := make([]*models.CacheEntry, 0, len(s.entries))
	for name, entry := range s.entries {
		info, err := os.Stat(filepath.Join(s.cachePath, name))
		if err != nil {
			s.totalSize -= entry.Size
			delete(s.entries, name)
			continue
		}
		s.totalSize += info.Size() - entry.Size
		entry.Size = info.Size()
		entry.LastAccess = info.ModTime()
		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccess.Before(entries[j].LastAccess)
	})

	evicted := 0
	for _, entry := range entries {
		if s.totalSize <= s.maxSizeBytes {
			break
		}

		if err := os.Remove(filepath.Join(s.cachePath, entry.FileName)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("eviction failed", "file", entry.FileName, "error", err)
			continue
		}

		delete(s.entries, entry.FileName)
		s.totalSize -= entry.Size
		evicted++
		s.logger.Info("evicted", "file", entry.FileName, "bytes", entry.Size)
	}

	s.metrics.Evicted(evicted)
}

func (s *Store) publishLocked() {
	s.metrics.SetCacheUsage(s.totalSize, len(s.entries))
}

// parseMediaName splits VIDEO_ID.ext for cached media files.
// Temp downloads and other files are rejected.
func parseMediaName(name string) (string, bool) {
	if strings.HasPrefix(name, tempFilePrefix) {
		return "", false
	}
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".mp4" && ext != ".webm" {
		return "", false
	}
	id := strings.TrimSuffix(name, filepath.Ext(name))
	if !validID(id) {
		return "", false
	}
	return id, true
}

func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}
