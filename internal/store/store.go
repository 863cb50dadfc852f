// Package store holds the desired routing state of every switch for the
// lifetime of one control-plane session.
package store

import (
	"slices"
	"sync"

	"github.com/hulanet/fabric-control/internal/models"
)

// Store is the single point of coupling between the intent producers
// (ECMP manager, flowlet controller) and the per-switch reconcilers.
// Updates replace a switch's intent atomically: a reconciliation pass
// always sees a complete, self-consistent snapshot.
type Store struct {
	mu      sync.RWMutex
	intents map[models.SwitchID]*models.RoutingIntent
}

func New() *Store {
	return &Store{
		intents: make(map[models.SwitchID]*models.RoutingIntent, 16),
	}
}

// Put installs a full intent for a switch, bumping the generation past the
// one currently stored.
func (s *Store) Put(intent *models.RoutingIntent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, exists := s.intents[intent.Switch]; exists && cur.Generation >= intent.Generation {
		intent.Generation = cur.Generation + 1
	}
	s.intents[intent.Switch] = intent.Clone()
}

// Update applies a copy-on-write mutation to one switch's intent and bumps
// its generation. The mutation never observes or leaks shared state.
// Returns the new generation.
func (s *Store) Update(switchID models.SwitchID, mutate func(*models.RoutingIntent)) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, exists := s.intents[switchID]
	if !exists {
		cur = &models.RoutingIntent{Switch: switchID}
	}
	next := cur.Clone()
	mutate(next)
	next.Switch = switchID
	next.Generation = cur.Generation + 1
	s.intents[switchID] = next
	return next.Generation
}

// Snapshot returns an independent copy of one switch's intent.
func (s *Store) Snapshot(switchID models.SwitchID) (*models.RoutingIntent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	intent, exists := s.intents[switchID]
	if !exists {
		return nil, false
	}
	return intent.Clone(), true
}

// Switches lists the switches with a stored intent, sorted for
// deterministic iteration.
func (s *Store) Switches() []models.SwitchID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]models.SwitchID, 0, len(s.intents))
	for id := range s.intents {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
