package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	apperrors "github.com/lorrc/service-desk-realtime/internal/core/errors"
	"github.com/lorrc/service-desk-realtime/internal/core/ports"
)

// Store holds the canonical notification feed. Mutations go to the backend
// first and apply locally only on success, with one exception: a NotFound
// response means the item is already gone server-side, so the store removes
// it locally and asks for a resync instead of surfacing an error.
type Store struct {
	api    ports.NotificationAPI
	cache  ports.SnapshotCache
	resync ports.Resyncer
	logger *slog.Logger

	mu    sync.RWMutex
	items []domain.Notification
	index map[string]int
}

// NewStore builds a store pre-populated from the snapshot cache. The load is
// synchronous and happens before any network is ready, so callers never see
// an empty-but-wrong feed on startup.
func NewStore(api ports.NotificationAPI, cache ports.SnapshotCache, logger *slog.Logger) *Store {
	s := &Store{
		api:    api,
		cache:  cache,
		logger: logger.With("component", "notification_store"),
		index:  make(map[string]int),
	}

	snapshot, err := cache.Load()
	if err != nil {
		// A broken cache is not fatal; the next poll rebuilds the feed.
		s.logger.Warn("failed to load cached feed", "error", err)
		return s
	}
	if snapshot != nil {
		s.items = snapshot.Notifications
		domain.SortFeed(s.items)
		s.rebuildIndexLocked()
		s.logger.Info("feed restored from cache", "items", len(s.items))
	}
	return s
}

// SetResyncer wires the trigger used by self-healing mutations. Optional.
func (s *Store) SetResyncer(r ports.Resyncer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resync = r
}

// List returns a copy of the feed, newest first.
func (s *Store) List() []domain.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Notification, len(s.items))
	copy(out, s.items)
	return out
}

// UnreadCount returns the number of unread items.
func (s *Store) UnreadCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CountUnread(s.items)
}

// Admit merges incoming items into the feed. Known ids are duplicates and are
// discarded, except that a newer server-timestamped read state wins over the
// local one. Returns the newly admitted items. Admit is idempotent and
// commutative: replaying any batch, in any interleaving with other batches,
// converges on the same feed.
func (s *Store) Admit(incoming []domain.Notification) []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	var admitted []domain.Notification
	changed := false

	for _, item := range incoming {
		if item.ID == "" {
			continue
		}
		pos, known := s.index[item.ID]
		if known {
			if s.newerReadStateLocked(pos, item) {
				s.items[pos].Read = item.Read
				s.items[pos].UpdatedAt = item.UpdatedAt
				changed = true
			}
			continue
		}
		s.items = append(s.items, item)
		s.index[item.ID] = len(s.items) - 1
		admitted = append(admitted, item)
		changed = true
	}

	if changed {
		domain.SortFeed(s.items)
		s.rebuildIndexLocked()
		s.persistLocked()
	}
	return admitted
}

// newerReadStateLocked decides a read-state disagreement between sources:
// the most recent server timestamp wins. An item without a timestamp never
// overrides one that has it.
func (s *Store) newerReadStateLocked(pos int, incoming domain.Notification) bool {
	current := s.items[pos]
	if incoming.Read == current.Read {
		return false
	}
	if incoming.UpdatedAt == nil {
		return false
	}
	if current.UpdatedAt == nil {
		return true
	}
	return incoming.UpdatedAt.After(*current.UpdatedAt)
}

// MarkRead marks one item read, backend first.
func (s *Store) MarkRead(ctx context.Context, id string) error {
	if err := s.api.MarkRead(ctx, id); err != nil {
		if apperrors.IsNotFound(err) {
			s.selfHeal(id)
			return nil
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if pos, ok := s.index[id]; ok && !s.items[pos].Read {
		now := time.Now().UTC()
		s.items[pos].Read = true
		s.items[pos].UpdatedAt = &now
		s.persistLocked()
	}
	return nil
}

// Delete removes one item, backend first.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.api.Delete(ctx, id); err != nil {
		if apperrors.IsNotFound(err) {
			s.selfHeal(id)
			return nil
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
	return nil
}

// MarkAllRead marks the whole feed read, backend first.
func (s *Store) MarkAllRead(ctx context.Context) error {
	if err := s.api.MarkAllRead(ctx); err != nil {
		if apperrors.IsNotFound(err) {
			s.requestResync()
			return nil
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	changed := false
	for i := range s.items {
		if !s.items[i].Read {
			s.items[i].Read = true
			s.items[i].UpdatedAt = &now
			changed = true
		}
	}
	if changed {
		s.persistLocked()
	}
	return nil
}

// ClearAll empties the feed, backend first.
func (s *Store) ClearAll(ctx context.Context) error {
	if err := s.api.ClearAll(ctx); err != nil {
		if apperrors.IsNotFound(err) {
			s.requestResync()
			return nil
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.index = make(map[string]int)
	s.persistLocked()
	return nil
}

// selfHeal removes an item the server no longer knows about and schedules a
// resync so any other drift gets repaired too.
func (s *Store) selfHeal(id string) {
	s.mu.Lock()
	removed := s.removeLocked(id)
	s.mu.Unlock()

	if removed {
		s.logger.Info("removed item missing server-side", "notification_id", id)
	}
	s.requestResync()
}

func (s *Store) requestResync() {
	s.mu.RLock()
	resync := s.resync
	s.mu.RUnlock()
	if resync != nil {
		resync.PollNow()
	}
}

func (s *Store) removeLocked(id string) bool {
	pos, ok := s.index[id]
	if !ok {
		return false
	}
	s.items = append(s.items[:pos], s.items[pos+1:]...)
	s.rebuildIndexLocked()
	s.persistLocked()
	return true
}

func (s *Store) rebuildIndexLocked() {
	s.index = make(map[string]int, len(s.items))
	for i := range s.items {
		s.index[s.items[i].ID] = i
	}
}

// persistLocked writes the whole feed through to the cache. Every write is a
// full snapshot, so overlapping writes stay last-write-wins safe.
func (s *Store) persistLocked() {
	snapshot := &domain.FeedSnapshot{
		Notifications: append([]domain.Notification(nil), s.items...),
		SavedAt:       time.Now().UTC(),
	}
	if err := s.cache.Save(snapshot); err != nil {
		s.logger.Warn("failed to persist feed snapshot", "error", err)
	}
}
