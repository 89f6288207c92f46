package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPutGetRoundTrip(t *testing.T) {
	c := openTestCache(t)
	now := time.Now().Truncate(time.Second)

	require.NoError(t, c.Put("/repos/owner/name", []byte(`{"ok":true}`), now, 200))

	entry, err := c.Get("/repos/owner/name")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, []byte(`{"ok":true}`), entry.Payload)
	assert.Equal(t, 200, entry.Status)
	assert.Equal(t, Long, entry.Class)
}

func TestGetMissReturnsNil(t *testing.T) {
	c := openTestCache(t)

	entry, err := c.Get("/never/stored")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestErrorStatusStoredShort(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.Put("/missing", []byte("not found"), time.Now(), 404))

	entry, err := c.Get("/missing")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, Short, entry.Class)
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	c := openTestCache(t)

	// Store directly with an already-past expiry by using a Short entry
	// and rewinding its clock via a fresh Put, then forcing expiry through
	// Sweep's own now-comparison: a 404 entry has a short TTL, so a Sweep
	// immediately after Put won't catch it, but we can fake a stale clock
	// using the key layout by putting twice and waiting out a tiny TTL
	// isn't feasible here — so instead exercise Sweep's mechanics directly
	// on a record written with a past Expires.
	rec := record{Payload: []byte("x"), Status: 404, Class: Short, Expires: time.Now().Add(-time.Minute)}
	require.NoError(t, c.put(key("/stale", Short), rec))

	require.NoError(t, c.Sweep())

	entry, err := c.Get("/stale")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestLongEntryReadableRepeatedly(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.Put("/repo", []byte("data"), time.Now(), 200))

	entry1, err := c.Get("/repo")
	require.NoError(t, err)
	require.NotNil(t, entry1)

	entry2, err := c.Get("/repo")
	require.NoError(t, err)
	require.NotNil(t, entry2)
	assert.Equal(t, entry1.Payload, entry2.Payload)
}
