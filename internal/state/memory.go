// Copyright Arch Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package state

import (
	"context"
	"sync"
)

// MemoryStore is the in-process backend, used when no database is
// configured.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*ConversationState
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: map[string]*ConversationState{}}
}

func (s *MemoryStore) Put(_ context.Context, state *ConversationState) error {
	clone := *state
	clone.InputItems = append(clone.InputItems[:0:0], state.InputItems...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.ResponseID] = &clone
	return nil
}

func (s *MemoryStore) Get(_ context.Context, responseID string) (*ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.states[responseID]
	if !ok {
		return nil, ErrNotFound
	}
	// Callers merge into the returned slice; hand out a copy.
	clone := *stored
	clone.InputItems = append(clone.InputItems[:0:0], stored.InputItems...)
	return &clone, nil
}

func (s *MemoryStore) Exists(_ context.Context, responseID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.states[responseID]
	return ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, responseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, responseID)
	return nil
}
