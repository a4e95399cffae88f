package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/detloc/detloc/internal/models"
)

func testStore(t *testing.T, ttl time.Duration, maxEntries int) (*Store, *time.Time) {
	t.Helper()
	s, err := New(t.TempDir(), ttl, maxEntries)
	require.NoError(t, err)
	now := time.Now()
	s.now = func() time.Time { return now }
	return s, &now
}

func foundResult(name string) models.SearchResult {
	return models.SearchResult{
		Status:  models.StatusFound,
		Records: []models.Record{{FullName: name, AlienNumber: "123456789"}},
	}
}

func TestStorePutGetRoundTrip(t *testing.T) {
	s, _ := testStore(t, 30*time.Minute, 10)

	require.NoError(t, s.Put("aabb01", foundResult("John Doe")))
	got, ok := s.Get("aabb01")
	require.True(t, ok)
	assert.Equal(t, models.StatusFound, got.Status)
	require.Len(t, got.Records, 1)
	assert.Equal(t, "John Doe", got.Records[0].FullName)

	_, ok = s.Get("ffff02")
	assert.False(t, ok)
}

func TestStoreExpiredEntryIsMissAndRemoved(t *testing.T) {
	s, now := testStore(t, 30*time.Minute, 10)

	require.NoError(t, s.Put("aabb01", foundResult("John Doe")))
	*now = now.Add(31 * time.Minute)

	_, ok := s.Get("aabb01")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestStoreEvictsLeastRecentlyUsed(t *testing.T) {
	s, _ := testStore(t, time.Hour, 2)

	require.NoError(t, s.Put("aa", foundResult("A")))
	require.NoError(t, s.Put("bb", foundResult("B")))

	old := time.Now().Add(-2 * time.Hour)
	older := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(s.dir, "aa"+entrySuffix), older, older))
	require.NoError(t, os.Chtimes(filepath.Join(s.dir, "bb"+entrySuffix), old, old))

	require.NoError(t, s.Put("cc", foundResult("C")))

	_, ok := s.Get("aa")
	assert.False(t, ok, "oldest entry evicted")
	_, ok = s.Get("bb")
	assert.True(t, ok)
	_, ok = s.Get("cc")
	assert.True(t, ok)
}

func TestStoreGetRefreshesRecency(t *testing.T) {
	s, _ := testStore(t, time.Hour, 2)

	require.NoError(t, s.Put("aa", foundResult("A")))
	require.NoError(t, s.Put("bb", foundResult("B")))

	require.NoError(t, os.Chtimes(filepath.Join(s.dir, "aa"+entrySuffix),
		time.Now().Add(-3*time.Hour), time.Now().Add(-3*time.Hour)))
	require.NoError(t, os.Chtimes(filepath.Join(s.dir, "bb"+entrySuffix),
		time.Now().Add(-2*time.Hour), time.Now().Add(-2*time.Hour)))

	// Reading aa marks it recently used, so the next eviction takes bb.
	_, ok := s.Get("aa")
	require.True(t, ok)
	require.NoError(t, s.Put("cc", foundResult("C")))

	_, ok = s.Get("aa")
	assert.True(t, ok)
	_, ok = s.Get("bb")
	assert.False(t, ok)
}

func TestStoreCorruptEntryIsMissAndRemoved(t *testing.T) {
	s, _ := testStore(t, time.Hour, 10)

	path := filepath.Join(s.dir, "deadbeef"+entrySuffix)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	_, ok := s.Get("deadbeef")
	assert.False(t, ok)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestStoreRejectsUnsafeFingerprints(t *testing.T) {
	s, _ := testStore(t, time.Hour, 10)

	assert.Error(t, s.Put("../escape", foundResult("X")))
	assert.Error(t, s.Put("ABCDEF", foundResult("X")), "uppercase is not a valid fingerprint")
	_, ok := s.Get("../escape")
	assert.False(t, ok)
}

func TestStorePruneDropsExpired(t *testing.T) {
	s, now := testStore(t, 30*time.Minute, 10)

	require.NoError(t, s.Put("aa", foundResult("A")))
	require.NoError(t, s.Put("bb", foundResult("B")))
	*now = now.Add(31 * time.Minute)
	require.NoError(t, s.Put("cc", foundResult("C")))

	removed := s.Prune()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, s.Len())
	_, ok := s.Get("cc")
	assert.True(t, ok)
}

func TestStoreClear(t *testing.T) {
	s, _ := testStore(t, time.Hour, 10)

	require.NoError(t, s.Put("aa", foundResult("A")))
	require.NoError(t, s.Put("bb", foundResult("B")))
	require.Equal(t, 2, s.Len())

	require.NoError(t, s.Clear())
	assert.Equal(t, 0, s.Len())
}
