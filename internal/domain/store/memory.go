package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryStore struct {
	mutex sync.RWMutex
	items map[string]Item
	order []string
	ttl   time.Duration
}

// NewMemory builds an in-process store. Items older than cfg.TTL are hidden
// and dropped lazily; a zero TTL keeps items until removed.
func NewMemory(cfg Config) Store {
	return &memoryStore{
		items: make(map[string]Item),
		ttl:   cfg.TTL,
	}
}

func (s *memoryStore) expired(item Item, now time.Time) bool {
	return s.ttl > 0 && now.Sub(item.CreatedAt) > s.ttl
}

func (s *memoryStore) Put(_ context.Context, item Item) error {
	if item.ID == "" {
		return fmt.Errorf("image id required")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if existing, ok := s.items[item.ID]; ok {
		if item.CreatedAt.IsZero() {
			item.CreatedAt = existing.CreatedAt
		}
	} else {
		s.order = append(s.order, item.ID)
	}
	stamp(&item)
	s.items[item.ID] = item
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (Item, error) {
	s.mutex.RLock()
	item, ok := s.items[id]
	s.mutex.RUnlock()
	if !ok || s.expired(item, time.Now()) {
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return item, nil
}

func (s *memoryStore) List(_ context.Context) ([]Item, error) {
	now := time.Now()
	s.mutex.Lock()
	defer s.mutex.Unlock()

	out := make([]Item, 0, len(s.order))
	kept := s.order[:0]
	for _, id := range s.order {
		item, ok := s.items[id]
		if !ok {
			continue
		}
		if s.expired(item, now) {
			delete(s.items, id)
			continue
		}
		kept = append(kept, id)
		out = append(out, item)
	}
	s.order = kept
	return out, nil
}

func (s *memoryStore) Remove(_ context.Context, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, ok := s.items[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.items, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *memoryStore) Clear(context.Context) error {
	s.mutex.Lock()
	s.items = make(map[string]Item)
	s.order = nil
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Stats(_ context.Context) (map[string]any, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return map[string]any{
		"type":        DriverMemory,
		"total":       len(s.items),
		"ttl_seconds": int(s.ttl.Seconds()),
	}, nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
