// Package cache is the on-disk result cache. Entries are keyed by the
// anonymized query fingerprint, carry their own TTL, and are evicted
// least-recently-used once the store grows past its configured size.
// Raw query fields never appear in filenames or entry bodies.
package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/detloc/detloc/internal/models"
)

const entrySuffix = ".entry"

// Entry is the stored form of one cached result.
type Entry struct {
	Fingerprint string              `json:"fingerprint"`
	CreatedAt   time.Time           `json:"created_at"`
	TTLSeconds  int64               `json:"ttl"`
	Result      models.SearchResult `json:"result"`
}

func (e Entry) expiresAt() time.Time {
	return e.CreatedAt.Add(time.Duration(e.TTLSeconds) * time.Second)
}

// Store reads and writes entries under a single directory. Many
// readers, one writer; writes are last-write-wins per fingerprint.
type Store struct {
	mu         sync.RWMutex
	dir        string
	ttl        time.Duration
	maxEntries int

	now func() time.Time
}

// New opens (creating if needed) the cache directory.
func New(dir string, ttl time.Duration, maxEntries int) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &Store{
		dir:        dir,
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}, nil
}

// Get returns the cached result for fingerprint if present and fresh.
// Expired or unreadable entries are removed and reported as misses. A
// hit refreshes the entry's access time so eviction tracks use.
func (s *Store) Get(fingerprint string) (models.SearchResult, bool) {
	if !validFingerprint(fingerprint) {
		return models.SearchResult{}, false
	}
	path := s.path(fingerprint)

	s.mu.RLock()
	data, err := os.ReadFile(path)
	s.mu.RUnlock()
	if err != nil {
		return models.SearchResult{}, false
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		log.Warn().Str("fingerprint", fingerprint).Msg("removing unreadable cache entry")
		s.remove(fingerprint)
		return models.SearchResult{}, false
	}
	if s.now().After(e.expiresAt()) {
		s.remove(fingerprint)
		return models.SearchResult{}, false
	}

	// mtime doubles as the LRU access marker.
	touch := s.now()
	_ = os.Chtimes(path, touch, touch)
	return e.Result, true
}

// Put stores a result under fingerprint with the configured TTL, then
// trims the store back under its entry limit.
func (s *Store) Put(fingerprint string, result models.SearchResult) error {
	if !validFingerprint(fingerprint) {
		return os.ErrInvalid
	}
	e := Entry{
		Fingerprint: fingerprint,
		CreatedAt:   s.now(),
		TTLSeconds:  int64(s.ttl / time.Second),
		Result:      result,
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	path := s.path(fingerprint)
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	s.evictLocked()
	return nil
}

// Delete removes a single entry if it exists.
func (s *Store) Delete(fingerprint string) {
	if validFingerprint(fingerprint) {
		s.remove(fingerprint)
	}
}

// Prune drops expired entries and enforces the size limit. Returns the
// number of files removed. Safe to call from a maintenance ticker.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, name := range s.entryNamesLocked() {
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil || s.now().After(e.expiresAt()) {
			if os.Remove(filepath.Join(s.dir, name)) == nil {
				removed++
			}
		}
	}
	removed += s.evictLocked()
	return removed
}

// Len counts stored entries, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entryNamesLocked())
}

// Clear removes every entry.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, name := range s.entryNamesLocked() {
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// evictLocked removes oldest-accessed entries until the store fits the
// configured limit. Caller holds the write lock.
func (s *Store) evictLocked() int {
	if s.maxEntries <= 0 {
		return 0
	}
	names := s.entryNamesLocked()
	over := len(names) - s.maxEntries
	if over <= 0 {
		return 0
	}

	type aged struct {
		name  string
		mtime time.Time
	}
	entries := make([]aged, 0, len(names))
	for _, name := range names {
		info, err := os.Stat(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		entries = append(entries, aged{name: name, mtime: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].mtime.Before(entries[j].mtime)
	})

	removed := 0
	for i := 0; i < len(entries) && removed < over; i++ {
		if os.Remove(filepath.Join(s.dir, entries[i].name)) == nil {
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("evicted", removed).Msg("cache trimmed to size limit")
	}
	return removed
}

func (s *Store) entryNamesLocked() []string {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(dirents))
	for _, d := range dirents {
		if d.Type().IsRegular() && strings.HasSuffix(d.Name(), entrySuffix) {
			names = append(names, d.Name())
		}
	}
	return names
}

func (s *Store) path(fingerprint string) string {
	return filepath.Join(s.dir, fingerprint+entrySuffix)
}

func (s *Store) remove(fingerprint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = os.Remove(s.path(fingerprint))
}

// validFingerprint accepts only lowercase hex names, which is what the
// query fingerprint produces. Anything else could escape the cache dir.
func validFingerprint(fp string) bool {
	if len(fp) == 0 || len(fp) > 128 {
		return false
	}
	for _, r := range fp {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}
