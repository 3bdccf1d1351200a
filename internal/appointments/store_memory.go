package appointments

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is an in-process store for local/dev use and tests. It
// upholds the same uniqueness guarantee as the Postgres store: the check and
// the insert happen under one lock.
type InMemoryStore struct {
	mu        sync.RWMutex
	records   map[string]*Record
	byContact map[string][]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		records:   make(map[string]*Record),
		byContact: make(map[string][]string),
	}
}

func (s *InMemoryStore) GetByContact(_ context.Context, contactNumber string) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byContact[contactNumber]
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.records[id]; ok {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Create(_ context.Context, contactNumber, userName, slot, details string) (Record, error) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slotHeldLocked(slot) {
		return Record{}, ErrSlotTaken
	}
	rec := Record{
		ID:            uuid.NewString(),
		ContactNumber: contactNumber,
		UserName:      userName,
		Slot:          slot,
		Details:       details,
		Status:        StatusConfirmed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.records[rec.ID] = &rec
	s.byContact[contactNumber] = append(s.byContact[contactNumber], rec.ID)
	return rec, nil
}

func (s *InMemoryStore) Cancel(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Status == StatusCancelled {
		return ErrNotFound
	}
	rec.Status = StatusCancelled
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) UpdateSlot(_ context.Context, id, newSlot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok || rec.Status != StatusConfirmed {
		return ErrNotFound
	}
	if rec.Slot != newSlot && s.slotHeldLocked(newSlot) {
		return ErrSlotTaken
	}
	rec.Slot = newSlot
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) IsSlotAvailable(_ context.Context, slot string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.slotHeldLocked(slot)
}

func (s *InMemoryStore) Close() error { return nil }

func (s *InMemoryStore) slotHeldLocked(slot string) bool {
	for _, rec := range s.records {
		if rec.Slot == slot && rec.Status == StatusConfirmed {
			return true
		}
	}
	return false
}
