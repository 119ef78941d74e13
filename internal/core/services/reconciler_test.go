package services_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/core/mocks"
	"github.com/lorrc/service-desk-realtime/internal/core/services"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore builds a store over permissive mocks: empty cache, every
// persist accepted.
func newTestStore(t *testing.T) (*services.Store, *mocks.MockNotificationAPI) {
	t.Helper()
	api := mocks.NewMockNotificationAPI()
	cache := mocks.NewMockSnapshotCache()
	cache.On("Load").Return(nil, nil)
	cache.On("Save", mock.Anything).Return(nil)
	return services.NewStore(api, cache, testLogger()), api
}

func notif(id string, createdAt time.Time) domain.Notification {
	return domain.Notification{
		ID:        id,
		Kind:      domain.KindGeneric,
		Message:   "event " + id,
		CreatedAt: createdAt,
	}
}

func TestReconciler_Idempotence(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store, _ := newTestStore(t)
	rec := services.NewReconciler(store, testLogger())

	batch := []domain.Notification{notif("a", base), notif("b", base.Add(time.Minute))}

	rec.Merge(batch)
	once := store.List()

	rec.Merge(batch)
	rec.Merge(batch)
	twice := store.List()

	assert.Equal(t, once, twice)
	assert.Len(t, twice, 2)
	assert.Equal(t, 2, store.UnreadCount())
}

func TestReconciler_Commutativity(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a := notif("a", base)
	b := notif("b", base.Add(time.Minute))

	// Simulates the poll/socket race: same events, opposite arrival order.
	storeAB, _ := newTestStore(t)
	recAB := services.NewReconciler(storeAB, testLogger())
	recAB.Merge([]domain.Notification{a})
	recAB.Merge([]domain.Notification{b})

	storeBA, _ := newTestStore(t)
	recBA := services.NewReconciler(storeBA, testLogger())
	recBA.Merge([]domain.Notification{b})
	recBA.Merge([]domain.Notification{a})

	assert.Equal(t, storeAB.List(), storeBA.List())
	assert.Equal(t, storeAB.UnreadCount(), storeBA.UnreadCount())
}

func TestReconciler_Ordering(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store, _ := newTestStore(t)
	rec := services.NewReconciler(store, testLogger())

	rec.Merge([]domain.Notification{
		notif("old", base.Add(-time.Hour)),
		notif("new", base.Add(time.Hour)),
		notif("mid", base),
	})

	feed := store.List()
	require.Len(t, feed, 3)
	for i := 1; i < len(feed); i++ {
		assert.False(t, feed[i].CreatedAt.After(feed[i-1].CreatedAt),
			"feed must be sorted by createdAt descending")
	}
}

func TestReconciler_PollThenDuplicateSocketPush(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store, _ := newTestStore(t)
	rec := services.NewReconciler(store, testLogger())

	// Poll delivers the canonical snapshot first.
	rec.Merge([]domain.Notification{notif("1", base), notif("2", base.Add(time.Minute))})

	// The socket later retransmits one of them.
	payload, err := json.Marshal(notif("1", base))
	require.NoError(t, err)
	rec.Deliver(domain.RawEvent{
		ID:         "1",
		Type:       domain.EventNotification,
		Payload:    payload,
		ReceivedAt: base.Add(2 * time.Minute),
	})

	feed := store.List()
	require.Len(t, feed, 2)
	assert.Equal(t, "2", feed[0].ID)
	assert.Equal(t, "1", feed[1].ID)
}

func TestReconciler_DiffListeners(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store, _ := newTestStore(t)
	rec := services.NewReconciler(store, testLogger())

	var diffs [][]domain.Notification
	rec.Subscribe(func(admitted []domain.Notification) {
		diffs = append(diffs, admitted)
	})

	rec.Merge([]domain.Notification{notif("a", base)})
	rec.Merge([]domain.Notification{notif("a", base)}) // duplicate, no diff
	rec.Merge([]domain.Notification{notif("b", base)})

	require.Len(t, diffs, 2)
	assert.Equal(t, "a", diffs[0][0].ID)
	assert.Equal(t, "b", diffs[1][0].ID)
}

func TestReconciler_ReadStateNewestWins(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store, _ := newTestStore(t)
	rec := services.NewReconciler(store, testLogger())

	older := base.Add(time.Minute)
	newer := base.Add(2 * time.Minute)

	first := notif("a", base)
	first.UpdatedAt = &older

	rec.Merge([]domain.Notification{first})

	// A later snapshot says the item was read, with a newer server timestamp.
	update := notif("a", base)
	update.Read = true
	update.UpdatedAt = &newer
	rec.Merge([]domain.Notification{update})

	feed := store.List()
	require.Len(t, feed, 1)
	assert.True(t, feed[0].Read)
	assert.Equal(t, 0, store.UnreadCount())

	// A stale retransmit with the old timestamp cannot flip it back.
	stale := notif("a", base)
	stale.UpdatedAt = &older
	rec.Merge([]domain.Notification{stale})

	assert.True(t, store.List()[0].Read)
}
