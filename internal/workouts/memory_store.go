package workouts

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var _ Store = (*MemoryStore)(nil)

var errStoreClosed = errors.New("store closed")

// MemoryStore keeps the event log in process memory. Used for tests and
// local development (storage = "memory").
type MemoryStore struct {
	mu     sync.RWMutex
	events map[int][]Event // userID -> events, ordered by date
	nextID int
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[int][]Event),
	}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		s.events = make(map[int][]Event)
	}
	s.closed = false
	return nil
}

func (s *MemoryStore) Append(_ context.Context, userID int, event Event) (*Event, error) {
	if err := event.Validate(); err != nil {
		return nil, storageErr("append", errors.Join(ErrInvalidEvent, err))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, storageErr("append", errStoreClosed)
	}

	s.nextID++
	event.ID = s.nextID
	event.UserID = userID
	s.events[userID] = insertSorted(s.events[userID], event)

	return &event, nil
}

func (s *MemoryStore) QueryByDateRange(_ context.Context, userID int, from, to *time.Time) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, storageErr("query", errStoreClosed)
	}

	res := make([]Event, 0, len(s.events[userID]))
	for _, e := range s.events[userID] {
		if from != nil && e.Date.Before(*from) {
			continue
		}
		if to != nil && e.Date.After(*to) {
			continue
		}
		res = append(res, e)
	}
	return res, nil
}

func (s *MemoryStore) BulkReplace(_ context.Context, userID int, events []Event) error {
	replaced := make([]Event, 0, len(events))
	for _, e := range events {
		if err := e.Validate(); err != nil {
			return storageErr("bulk replace", errors.Join(ErrInvalidEvent, err))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageErr("bulk replace", errStoreClosed)
	}

	for _, e := range events {
		s.nextID++
		e.ID = s.nextID
		e.UserID = userID
		replaced = append(replaced, e)
	}
	sort.SliceStable(replaced, func(i, j int) bool {
		return replaced[i].Date.Before(replaced[j].Date)
	})
	s.events[userID] = replaced

	return nil
}

func (s *MemoryStore) Reset(_ context.Context, userID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return storageErr("reset", errStoreClosed)
	}
	delete(s.events, userID)
	return nil
}

func (s *MemoryStore) Count(_ context.Context, userID int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, storageErr("count", errStoreClosed)
	}
	return len(s.events[userID]), nil
}

func (s *MemoryStore) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.events = make(map[int][]Event)
}

func insertSorted(events []Event, e Event) []Event {
	i := sort.Search(len(events), func(i int) bool {
		return events[i].Date.After(e.Date)
	})
	events = append(events, Event{})
	copy(events[i+1:], events[i:])
	events[i] = e
	return events
}
