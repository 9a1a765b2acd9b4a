package repository

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedStore fronts the read-heavy ban and registration lookups with LRU
// caches. Entries are updated on every successful write through this store;
// writes made by other processes are not seen until the entry is evicted.
type CachedStore struct {
	Store
	banned     *lru.Cache[int64, bool]
	registered *lru.Cache[int64, bool]
}

func NewCachedStore(inner Store, size int) (*CachedStore, error) {
	banned, err := lru.New[int64, bool](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create ban cache: %w", err)
	}
	registered, err := lru.New[int64, bool](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create registration cache: %w", err)
	}
	return &CachedStore{Store: inner, banned: banned, registered: registered}, nil
}

func (s *CachedStore) IsBanned(ctx context.Context, userID int64) (bool, error) {
	if v, ok := s.banned.Get(userID); ok {
		return v, nil
	}
	v, err := s.Store.IsBanned(ctx, userID)
	if err != nil {
		return false, err
	}
	// a concurrent Ban or Unban already cached the newer state
	s.banned.ContainsOrAdd(userID, v)
	return v, nil
}

func (s *CachedStore) Ban(ctx context.Context, userID, moderatorID int64) error {
	if err := s.Store.Ban(ctx, userID, moderatorID); err != nil {
		s.banned.Remove(userID)
		return err
	}
	s.banned.Add(userID, true)
	return nil
}

func (s *CachedStore) Unban(ctx context.Context, userID, moderatorID int64) error {
	if err := s.Store.Unban(ctx, userID, moderatorID); err != nil {
		s.banned.Remove(userID)
		return err
	}
	s.banned.Add(userID, false)
	return nil
}

func (s *CachedStore) IsRegistered(ctx context.Context, userID int64) (bool, error) {
	if v, ok := s.registered.Get(userID); ok {
		return v, nil
	}
	v, err := s.Store.IsRegistered(ctx, userID)
	if err != nil {
		return false, err
	}
	s.registered.ContainsOrAdd(userID, v)
	return v, nil
}

func (s *CachedStore) RegisterUser(ctx context.Context, userID int64) error {
	if err := s.Store.RegisterUser(ctx, userID); err != nil {
		s.registered.Remove(userID)
		return err
	}
	s.registered.Add(userID, true)
	return nil
}
