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

package nhid

import (
	"fmt"
	"maps"

	"github.com/openconfig/fibsync/route"
)

// NextHopID returns the ID of nh, if it has one.
func (m *Manager) NextHopID(nh route.NextHop) (route.NextHopID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.nextHopIDs[nh]
	if !ok {
		return 0, false
	}
	return e.id, true
}

// NextHop returns the next-hop with ID id.
func (m *Manager) NextHop(id route.NextHopID) (route.NextHop, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nh, ok := m.idToNextHop[id]
	return nh, ok
}

// NextHopSetID returns the ID of the set s, if it has one.
func (m *Manager) NextHopSetID(s route.NextHopIDSet) (route.NextHopSetID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.setIDs[s.Key()]
	if !ok {
		return 0, false
	}
	return e.id, true
}

// NextHopIDSet returns the member IDs of the set with ID id.
func (m *Manager) NextHopIDSet(id route.NextHopSetID) (route.NextHopIDSet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.idToIDSet[id]
	return s, ok
}

// NextHops resolves the set with ID id to its next-hops.
func (m *Manager) NextHops(id route.NextHopSetID) (route.NextHopSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.idToIDSet[id]
	if !ok {
		return nil, fmt.Errorf("unknown next-hop set ID %d", id)
	}
	nhs := make([]route.NextHop, 0, len(s))
	for _, nid := range s {
		nh, ok := m.idToNextHop[nid]
		if !ok {
			return nil, fmt.Errorf("next-hop set %d refers to unknown next-hop ID %d", id, nid)
		}
		nhs = append(nhs, nh)
	}
	return route.NewNextHopSet(nhs...), nil
}

// NextHopRefCount returns the number of references to the ID of nh, it is
// zero if nh has no ID.
func (m *Manager) NextHopRefCount(nh route.NextHop) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.nextHopIDs[nh]; ok {
		return e.refs
	}
	return 0
}

// NextHopSetRefCount returns the number of references to the ID of s, it is
// zero if s has no ID.
func (m *Manager) NextHopSetRefCount(s route.NextHopIDSet) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.setIDs[s.Key()]; ok {
		return e.refs
	}
	return 0
}

// NextHopCount returns the number of allocated next-hop IDs.
func (m *Manager) NextHopCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.idToNextHop)
}

// NextHopSetCount returns the number of allocated next-hop set IDs.
func (m *Manager) NextHopSetCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.idToIDSet)
}

// NextAvailableNextHopID returns the ID that the next new next-hop will be
// given.
func (m *Manager) NextAvailableNextHopID() route.NextHopID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextNextHop
}

// NextAvailableNextHopSetID returns the ID that the next new set will be
// given.
func (m *Manager) NextAvailableNextHopSetID() route.NextHopSetID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextSetID
}

// IDToNextHop returns a copy of the next-hop ID reverse table.
func (m *Manager) IDToNextHop() map[route.NextHopID]route.NextHop {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.idToNextHop)
}

// IDToNextHopIDSet returns a copy of the next-hop set ID reverse table.
func (m *Manager) IDToNextHopIDSet() map[route.NextHopSetID]route.NextHopIDSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return maps.Clone(m.idToIDSet)
}

// RefCounts returns the reference count of every allocated next-hop ID and
// next-hop set ID.
func (m *Manager) RefCounts() (map[route.NextHopID]uint64, map[route.NextHopSetID]uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nhs := make(map[route.NextHopID]uint64, len(m.nextHopIDs))
	for _, e := range m.nextHopIDs {
		nhs[e.id] = e.refs
	}
	sets := make(map[route.NextHopSetID]uint64, len(m.setIDs))
	for _, e := range m.setIDs {
		sets[e.id] = e.refs
	}
	return nhs, sets
}
