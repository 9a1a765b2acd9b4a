package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"relaybot/internal/models"
)

// MemStore is an in-process Store. It keeps everything in maps and is safe for concurrent use.
type MemStore struct {
	mu         sync.RWMutex
	relations  map[int]models.Relation
	forwards   map[int]int64
	banned     map[int64]models.Ban
	banEvents  int
	registered map[int64]time.Time
	decisions  map[int]models.Decision
}

func NewMemStore() *MemStore {
	return &MemStore{
		relations:  make(map[int]models.Relation),
		forwards:   make(map[int]int64),
		banned:     make(map[int64]models.Ban),
		registered: make(map[int64]time.Time),
		decisions:  make(map[int]models.Decision),
	}
}

var _ Store = (*MemStore)(nil)

func (s *MemStore) RecordSubmission(ctx context.Context, controlID int, payload models.Payload, submitterID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordRelation(controlID, payload, submitterID)
}

func (s *MemStore) recordRelation(controlID int, payload models.Payload, submitterID int64) error {
	if _, ok := s.relations[controlID]; ok {
		return wrap("record submission", errDuplicateKey)
	}
	s.relations[controlID] = models.Relation{
		ControlMessageID: controlID,
		Payload:          payload,
		SubmitterID:      submitterID,
		CreatedAt:        time.Now().UTC(),
	}
	return nil
}

func (s *MemStore) RecordForward(ctx context.Context, forwardID int, submitterID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forwards[forwardID]; !ok {
		s.forwards[forwardID] = submitterID
	}
	return nil
}

func (s *MemStore) RecordDispatch(ctx context.Context, d models.Dispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ControlMessageID != 0 {
		if err := s.recordRelation(d.ControlMessageID, d.Payload, d.SubmitterID); err != nil {
			return err
		}
	}
	for _, id := range d.ForwardedIDs {
		if _, ok := s.forwards[id]; !ok {
			s.forwards[id] = d.SubmitterID
		}
	}
	return nil
}

func (s *MemStore) LookupRelation(ctx context.Context, controlID int) (*models.Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rel, ok := s.relations[controlID]
	if !ok {
		return nil, nil
	}
	return &rel, nil
}

func (s *MemStore) LookupSubmitter(ctx context.Context, forwardID int) (int64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.forwards[forwardID]
	return id, ok, nil
}

func (s *MemStore) Ban(ctx context.Context, userID, moderatorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.banned[userID]; !ok {
		s.banned[userID] = models.Ban{UserID: userID, BannedBy: moderatorID, BannedAt: time.Now().UTC()}
	}
	s.banEvents++
	return nil
}

func (s *MemStore) Unban(ctx context.Context, userID, moderatorID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.banned, userID)
	s.banEvents++
	return nil
}

func (s *MemStore) IsBanned(ctx context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.banned[userID]
	return ok, nil
}

func (s *MemStore) ListBanned(ctx context.Context) ([]models.Ban, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bans := make([]models.Ban, 0, len(s.banned))
	for _, b := range s.banned {
		bans = append(bans, b)
	}
	sort.Slice(bans, func(i, j int) bool { return bans[i].UserID < bans[j].UserID })
	return bans, nil
}

// BanEvents is the number of ban and unban actions recorded so far.
func (s *MemStore) BanEvents() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.banEvents
}

func (s *MemStore) RegisterUser(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.registered[userID]; !ok {
		s.registered[userID] = time.Now().UTC()
	}
	return nil
}

func (s *MemStore) IsRegistered(ctx context.Context, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.registered[userID]
	return ok, nil
}

func (s *MemStore) ClaimDecision(ctx context.Context, controlID int, decision models.Decision, moderatorID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.decisions[controlID]; ok {
		return false, nil
	}
	s.decisions[controlID] = decision
	return true, nil
}

func (s *MemStore) ReleaseDecision(ctx context.Context, controlID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.decisions, controlID)
	return nil
}

func (s *MemStore) Stats(ctx context.Context) (models.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := models.Stats{
		Users:       len(s.registered),
		Banned:      len(s.banned),
		Forwarded:   len(s.forwards),
		Submissions: len(s.relations),
	}
	for _, d := range s.decisions {
		switch d {
		case models.DecisionApproved:
			stats.Approved++
		case models.DecisionDenied:
			stats.Denied++
		}
	}
	return stats, nil
}
