// Package store provides an in-memory Store for usagemeter.
//
// Suitable for tests and single-process deployments; state does not survive
// a restart. Multi-instance deployments should use the postgres backend.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/kriralabs/usagemeter"
)

// MemoryStore is an in-memory usagemeter.Store.
type MemoryStore struct {
	mu    sync.Mutex
	used  map[string]int64
	days  map[string]map[int64]*usagemeter.DayUsage
}

var _ usagemeter.Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		used: make(map[string]int64),
		days: make(map[string]map[int64]*usagemeter.DayUsage),
	}
}

// SetRequestsUsed seeds the counter for a user, replacing any current value.
func (s *MemoryStore) SetRequestsUsed(userID string, used int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used[userID] = used
}

// RequestsUsed returns the current counter value for a user.
func (s *MemoryStore) RequestsUsed(userID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used[userID]
}

// IncrementRequestsUsed adds amount to the user's counter. With limit > 0
// the increment is refused with ErrLimitExceeded when the result would
// exceed it; check and increment happen under one lock.
func (s *MemoryStore) IncrementRequestsUsed(_ context.Context, userID string, amount, limit int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.used[userID]
	if limit > 0 && current+amount > limit {
		return current, usagemeter.ErrLimitExceeded
	}

	s.used[userID] = current + amount
	return current + amount, nil
}

// AddDayUsage upserts the (userID, day) row, incrementing its counts.
func (s *MemoryStore) AddDayUsage(_ context.Context, userID string, day time.Time, requests, tokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byDay, ok := s.days[userID]
	if !ok {
		byDay = make(map[int64]*usagemeter.DayUsage)
		s.days[userID] = byDay
	}

	key := day.Unix()
	row, ok := byDay[key]
	if !ok {
		row = &usagemeter.DayUsage{Day: day}
		byDay[key] = row
	}
	row.Requests += requests
	row.Tokens += tokens
	return nil
}

// DayUsageSince returns the user's day rows with day >= from, oldest first.
func (s *MemoryStore) DayUsageSince(_ context.Context, userID string, from time.Time) ([]usagemeter.DayUsage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows []usagemeter.DayUsage
	for _, row := range s.days[userID] {
		if !row.Day.Before(from) {
			rows = append(rows, *row)
		}
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Day.Before(rows[j].Day) })
	return rows, nil
}
