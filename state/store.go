// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package state

import (
	"fmt"
	"sort"
	"sync"

	log "github.com/golang/glog"
	"go.uber.org/atomic"
)

// UpdateFn builds the next generation of state from the published state
// cur. It returns cur itself if nothing changed.
type UpdateFn func(cur *SwitchState) (*SwitchState, error)

// ObserverFn is called with the delta between consecutive generations.
type ObserverFn func(*StateDelta)

// Store holds the current published SwitchState. Updates are applied one at
// a time; readers call Current and never block.
type Store struct {
	// mu serialises writers, and protects observers.
	mu        sync.Mutex
	cur       atomic.Pointer[SwitchState]
	observers map[string]ObserverFn
}

// NewStore returns a store whose current state is initial, which is
// published if it is not already. A nil initial state is replaced by an
// empty one.
func NewStore(initial *SwitchState) *Store {
	if initial == nil {
		initial = NewSwitchState()
	}
	initial.Publish()
	s := &Store{observers: map[string]ObserverFn{}}
	s.cur.Store(initial)
	return s
}

// Current returns the latest published state.
func (s *Store) Current() *SwitchState {
	return s.cur.Load()
}

// AddObserver registers fn to be called after each published update. It
// returns an error if an observer with the same name exists.
func (s *Store) AddObserver(name string, fn ObserverFn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.observers[name]; ok {
		return fmt.Errorf("observer %s already registered", name)
	}
	s.observers[name] = fn
	return nil
}

// RemoveObserver unregisters the observer called name.
func (s *Store) RemoveObserver(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.observers, name)
}

// Update applies fn to the current state. If fn returns a new state, it is
// assigned the next generation number, published, made current and the
// observers are called with the delta before Update returns. If fn returns
// an error the current state is unchanged.
func (s *Store) Update(name string, fn UpdateFn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cur.Load()
	next, err := fn(old)
	switch {
	case err != nil:
		return fmt.Errorf("update %s failed, %v", name, err)
	case next == nil:
		return fmt.Errorf("update %s returned a nil state", name)
	case next == old:
		log.V(2).Infof("update %s made no change at generation %d", name, old.Generation())
		return nil
	case next.IsPublished():
		return fmt.Errorf("update %s returned a state that is already published", name)
	}

	next.SetGeneration(old.Generation() + 1)
	next.Publish()
	s.cur.Store(next)
	log.V(1).Infof("update %s published generation %d", name, next.Generation())

	d := NewStateDelta(old, next)
	names := make([]string, 0, len(s.observers))
	for n := range s.observers {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		s.observers[n](d)
	}
	return nil
}

// Replace makes st the current state, with the next generation number. It
// is used when restoring a snapshot.
func (s *Store) Replace(name string, st *SwitchState) error {
	return s.Update(name, func(*SwitchState) (*SwitchState, error) {
		if st.IsPublished() {
			c := st.clone()
			return c, nil
		}
		return st, nil
	})
}
