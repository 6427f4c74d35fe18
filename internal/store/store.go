// Package store accumulates places from many searches into one deduplicated,
// bounded collection.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ca-srg/placesweep/internal/types"
)

// ErrInvalidCap is returned by New for a non-positive capacity.
var ErrInvalidCap = errors.New("result store cap must be greater than 0")

// ResultStore is a place collection keyed by place ID. The first record seen for an
// ID is kept and later duplicates are ignored. Once cap distinct places are held no
// further IDs are admitted. It is safe for concurrent use.
type ResultStore struct {
	mu     sync.Mutex
	cap    int
	places map[string]types.Place
	order  []string
	size   atomic.Int64
}

// New creates an empty store admitting at most cap distinct places.
func New(cap int) (*ResultStore, error) {
	if cap <= 0 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidCap, cap)
	}
	return &ResultStore{
		cap:    cap,
		places: make(map[string]types.Place),
	}, nil
}

// Cap returns the configured capacity.
func (s *ResultStore) Cap() int {
	return s.cap
}

// Merge adds the places whose IDs are not yet present and returns how many were added.
// Places are considered in input order and merging stops at the cap.
func (s *ResultStore) Merge(places []types.Place) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := 0
	for _, p := range places {
		if len(s.order) >= s.cap {
			break
		}
		if p.ID == "" {
			continue
		}
		if _, exists := s.places[p.ID]; exists {
			continue
		}
		s.places[p.ID] = p
		s.order = append(s.order, p.ID)
		added++
	}
	s.size.Store(int64(len(s.order)))
	return added
}

// Len returns the number of distinct places held.
func (s *ResultStore) Len() int {
	return int(s.size.Load())
}

// HasReachedCap reports whether the store is full. Callers use it to stop dispatching work.
func (s *ResultStore) HasReachedCap() bool {
	return s.Len() >= s.cap
}

// Contains reports whether a place with id is held.
func (s *ResultStore) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.places[id]
	return ok
}

// Values returns a snapshot of the held places ordered by place ID, so the result
// does not depend on the order in which concurrent searches finished.
func (s *ResultStore) Values() []types.Place {
	s.mu.Lock()
	out := make([]types.Place, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.places[id])
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// InsertionOrder returns the held places in the order they were first merged.
func (s *ResultStore) InsertionOrder() []types.Place {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Place, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.places[id])
	}
	return out
}
