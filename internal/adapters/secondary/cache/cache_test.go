package cache_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/service-desk-realtime/internal/adapters/secondary/cache"
	"github.com/lorrc/service-desk-realtime/internal/core/domain"
)

func snapshot(ids ...string) *domain.FeedSnapshot {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	items := make([]domain.Notification, len(ids))
	for i, id := range ids {
		items[i] = domain.Notification{
			ID:        id,
			Kind:      domain.KindGeneric,
			Message:   "event " + id,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return &domain.FeedSnapshot{Notifications: items, SavedAt: base}
}

func TestSQLiteCache_EmptyLoad(t *testing.T) {
	c, err := cache.NewInMemory()
	require.NoError(t, err)
	defer c.Close()

	got, err := c.Load()

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteCache_RoundTrip(t *testing.T) {
	c, err := cache.NewInMemory()
	require.NoError(t, err)
	defer c.Close()

	want := snapshot("a", "b")
	require.NoError(t, c.Save(want))

	got, err := c.Load()

	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Notifications, 2)
	assert.Equal(t, "a", got.Notifications[0].ID)
	assert.Equal(t, want.SavedAt, got.SavedAt)
}

func TestSQLiteCache_OverwriteIsLastWriteWins(t *testing.T) {
	c, err := cache.NewInMemory()
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Save(snapshot("a", "b", "c")))
	require.NoError(t, c.Save(snapshot("d")))

	got, err := c.Load()

	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Notifications, 1)
	assert.Equal(t, "d", got.Notifications[0].ID)
}

func TestSQLiteCache_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "feed.db")

	first, err := cache.New(path)
	require.NoError(t, err)
	require.NoError(t, first.Save(snapshot("a")))
	require.NoError(t, first.Close())

	second, err := cache.New(path)
	require.NoError(t, err)
	defer second.Close()

	got, err := second.Load()

	require.NoError(t, err)
	require.NotNil(t, got)
	require.Len(t, got.Notifications, 1)
	assert.Equal(t, "a", got.Notifications[0].ID)
}

func TestSQLiteCache_RequiresPath(t *testing.T) {
	_, err := cache.New("")
	assert.Error(t, err)
}
