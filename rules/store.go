package rules

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RuleSetStore manages rule-set persistence and retrieval. The engine itself
// only ever consumes in-memory RuleSet instances; storage sits beside it.
type RuleSetStore interface {
	// Add a new rule set, assigning an ID when none is set
	Add(rs *RuleSet) error

	// Get a rule set by ID
	Get(id string) (*RuleSet, error)

	// List all rule sets
	List() ([]*RuleSet, error)

	// ListByTarget returns the rule sets registered for a target
	ListByTarget(target string) ([]*RuleSet, error)

	// Update an existing rule set
	Update(rs *RuleSet) error

	// Delete a rule set
	Delete(id string) error
}

// InMemoryRuleSetStore implements RuleSetStore using an in-memory map.
// Thread-safe with RWMutex.
type InMemoryRuleSetStore struct {
	ruleSets map[string]*RuleSet
	mu       sync.RWMutex
}

// NewInMemoryRuleSetStore creates a new in-memory rule-set store
func NewInMemoryRuleSetStore() *InMemoryRuleSetStore {
	return &InMemoryRuleSetStore{
		ruleSets: make(map[string]*RuleSet),
	}
}

// Add adds a new rule set to the store
func (s *InMemoryRuleSetStore) Add(rs *RuleSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rs.ID == "" {
		rs.ID = uuid.NewString()
	}
	if _, exists := s.ruleSets[rs.ID]; exists {
		return fmt.Errorf("rule set with ID %s already exists", rs.ID)
	}

	now := time.Now()
	rs.CreatedAt = now
	rs.UpdatedAt = now
	s.ruleSets[rs.ID] = rs
	return nil
}

// Get retrieves a rule set by ID
func (s *InMemoryRuleSetStore) Get(id string) (*RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rs, exists := s.ruleSets[id]
	if !exists {
		return nil, fmt.Errorf("rule set with ID %s not found", id)
	}
	return rs, nil
}

// List returns all rule sets
func (s *InMemoryRuleSetStore) List() ([]*RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*RuleSet, 0, len(s.ruleSets))
	for _, rs := range s.ruleSets {
		all = append(all, rs)
	}
	return all, nil
}

// ListByTarget returns the rule sets registered for a target
func (s *InMemoryRuleSetStore) ListByTarget(target string) ([]*RuleSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*RuleSet
	for _, rs := range s.ruleSets {
		if rs.Target == target {
			matched = append(matched, rs)
		}
	}
	return matched, nil
}

// Update updates an existing rule set, preserving the original CreatedAt
func (s *InMemoryRuleSetStore) Update(rs *RuleSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.ruleSets[rs.ID]
	if !exists {
		return fmt.Errorf("rule set with ID %s not found", rs.ID)
	}

	rs.CreatedAt = existing.CreatedAt
	rs.UpdatedAt = time.Now()
	s.ruleSets[rs.ID] = rs
	return nil
}

// Delete removes a rule set from the store
func (s *InMemoryRuleSetStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.ruleSets[id]; !exists {
		return fmt.Errorf("rule set with ID %s not found", id)
	}

	delete(s.ruleSets, id)
	return nil
}
