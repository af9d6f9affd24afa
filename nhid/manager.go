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

// Package nhid implements the next-hop ID manager, which assigns stable,
// reference counted identities to next-hops and to sets of next-hops so that
// hardware next-hop groups can be shared between routes.
//
// The Manager is owned by the single writer that applies route updates.
// Its accessors take a read lock so that they can be used from other
// goroutines, such as metrics collection.
package nhid

import (
	"fmt"
	"sync"

	log "github.com/golang/glog"
	"github.com/openconfig/fibsync/route"
)

// nextHopEntry is the forward mapping of a next-hop.
type nextHopEntry struct {
	id   route.NextHopID
	refs uint64
}

// setEntry is the forward mapping of a next-hop ID set.
type setEntry struct {
	id   route.NextHopSetID
	refs uint64
}

// Manager allocates and reference counts next-hop and next-hop set IDs.
type Manager struct {
	// mu guards all fields below. It protects readers such as metrics
	// collection against the writer, it does not make concurrent writers
	// safe.
	mu sync.RWMutex

	nextHopIDs  map[route.NextHop]*nextHopEntry
	idToNextHop map[route.NextHopID]route.NextHop
	setIDs      map[string]*setEntry
	idToIDSet   map[route.NextHopSetID]route.NextHopIDSet
	nextNextHop route.NextHopID
	nextSetID   route.NextHopSetID
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{
		nextHopIDs:  map[route.NextHop]*nextHopEntry{},
		idToNextHop: map[route.NextHopID]route.NextHop{},
		setIDs:      map[string]*setEntry{},
		idToIDSet:   map[route.NextHopSetID]route.NextHopIDSet{},
		nextNextHop: route.FirstNextHopID,
		nextSetID:   route.FirstNextHopSetID,
	}
}

// GetOrAllocateNextHopID returns the ID of nh, allocating one if nh has no
// ID. Each call takes a reference to the ID. It reports whether the ID was
// newly allocated. It panics if the next-hop ID space is exhausted.
func (m *Manager) GetOrAllocateNextHopID(nh route.NextHop) (route.NextHopID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrAllocateNextHopID(nh)
}

func (m *Manager) getOrAllocateNextHopID(nh route.NextHop) (route.NextHopID, bool) {
	if e, ok := m.nextHopIDs[nh]; ok {
		e.refs++
		return e.id, false
	}
	id := m.nextNextHop
	if !route.IsNextHopID(uint64(id)) {
		panic(fmt.Sprintf("next-hop ID space exhausted, next ID %d is not below %d", id, route.SetIDOffset))
	}
	m.nextNextHop++
	m.nextHopIDs[nh] = &nextHopEntry{id: id, refs: 1}
	m.idToNextHop[id] = nh
	return id, true
}

// GetOrAllocateNextHopSetID returns the ID of the set s, allocating one if
// the set has no ID. Sets with the same members in any order share an ID.
// Each call takes a reference to the ID. It reports whether the ID was newly
// allocated. It panics if the set ID space is exhausted.
func (m *Manager) GetOrAllocateNextHopSetID(s route.NextHopIDSet) (route.NextHopSetID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrAllocateNextHopSetID(s)
}

func (m *Manager) getOrAllocateNextHopSetID(s route.NextHopIDSet) (route.NextHopSetID, bool) {
	k := s.Key()
	if e, ok := m.setIDs[k]; ok {
		e.refs++
		return e.id, false
	}
	id := m.nextSetID
	if !route.IsNextHopSetID(uint64(id)) {
		panic(fmt.Sprintf("next-hop set ID space exhausted, next ID %d is not below %d", id, route.SetIDLimit))
	}
	m.nextSetID++
	m.setIDs[k] = &setEntry{id: id, refs: 1}
	m.idToIDSet[id] = route.NewNextHopIDSet(s...)
	return id, true
}

// DecrOrDeallocateNextHop releases a reference to the ID of nh. When the
// last reference is released, the ID is freed and true is returned. It is
// an error to release a next-hop that has no ID.
func (m *Manager) DecrOrDeallocateNextHop(nh route.NextHop) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decrOrDeallocateNextHop(nh)
}

func (m *Manager) decrOrDeallocateNextHop(nh route.NextHop) (bool, error) {
	e, ok := m.nextHopIDs[nh]
	if !ok {
		return false, fmt.Errorf("cannot release next-hop %s, it has no ID", nh)
	}
	if _, ok := m.idToNextHop[e.id]; !ok {
		return false, fmt.Errorf("next-hop %s has ID %d with no reverse mapping", nh, e.id)
	}
	e.refs--
	if e.refs > 0 {
		return false, nil
	}
	delete(m.nextHopIDs, nh)
	delete(m.idToNextHop, e.id)
	return true, nil
}

// DecrOrDeallocateNextHopIDSet releases a reference to the ID of the set s.
// When the last reference is released, the ID is freed and true is
// returned. It is an error to release a set that has no ID.
func (m *Manager) DecrOrDeallocateNextHopIDSet(s route.NextHopIDSet) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decrOrDeallocateNextHopIDSet(s)
}

func (m *Manager) decrOrDeallocateNextHopIDSet(s route.NextHopIDSet) (bool, error) {
	k := s.Key()
	e, ok := m.setIDs[k]
	if !ok {
		return false, fmt.Errorf("cannot release next-hop ID set %s, it has no ID", s)
	}
	if _, ok := m.idToIDSet[e.id]; !ok {
		return false, fmt.Errorf("next-hop ID set %s has ID %d with no reverse mapping", s, e.id)
	}
	e.refs--
	if e.refs > 0 {
		return false, nil
	}
	delete(m.setIDs, k)
	delete(m.idToIDSet, e.id)
	return true, nil
}

// SetAllocation is the result of allocating an ID for a route's next-hop
// set.
type SetAllocation struct {
	// ID is the ID of the set.
	ID route.NextHopSetID
	// IDSet holds the IDs of the set's members.
	IDSet route.NextHopIDSet
	// SetAllocated is true if ID was newly allocated.
	SetAllocated bool
	// NewNextHops maps the member IDs that were newly allocated to their
	// next-hops.
	NewNextHops map[route.NextHopID]route.NextHop
}

// GetOrAllocRouteNextHopSetID takes a reference to the ID of every next-hop
// in nhs, and to the ID of the set that they form, allocating IDs where
// needed. This is the entry point used for route processing. It returns an
// error if nhs is empty.
func (m *Manager) GetOrAllocRouteNextHopSetID(nhs route.NextHopSet) (*SetAllocation, error) {
	if len(nhs) == 0 {
		return nil, fmt.Errorf("cannot allocate an ID for an empty next-hop set")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrAllocRouteNextHopSetID(nhs), nil
}

func (m *Manager) getOrAllocRouteNextHopSetID(nhs route.NextHopSet) *SetAllocation {
	a := &SetAllocation{NewNextHops: map[route.NextHopID]route.NextHop{}}
	ids := make([]route.NextHopID, 0, len(nhs))
	for _, nh := range route.NewNextHopSet(nhs...) {
		id, isNew := m.getOrAllocateNextHopID(nh)
		if isNew {
			a.NewNextHops[id] = nh
		}
		ids = append(ids, id)
	}
	a.IDSet = route.NewNextHopIDSet(ids...)
	a.ID, a.SetAllocated = m.getOrAllocateNextHopSetID(a.IDSet)
	log.V(3).Infof("allocated set %d for %s, new: %v", a.ID, nhs, a.SetAllocated)
	return a
}

// SetRelease is the result of releasing a route's next-hop set.
type SetRelease struct {
	// ID is the ID of the set that was released.
	ID route.NextHopSetID
	// IDSet holds the IDs of the set's members.
	IDSet route.NextHopIDSet
	// SetDeallocated is true if ID was freed.
	SetDeallocated bool
	// FreedNextHops holds the member IDs that were freed.
	FreedNextHops []route.NextHopID
}

// DecrOrDeallocRouteNextHopSetID releases the references taken by
// GetOrAllocRouteNextHopSetID for the set with ID id. It returns an error if
// id is not allocated.
func (m *Manager) DecrOrDeallocRouteNextHopSetID(id route.NextHopSetID) (*SetRelease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.decrOrDeallocRouteNextHopSetID(id)
}

func (m *Manager) decrOrDeallocRouteNextHopSetID(id route.NextHopSetID) (*SetRelease, error) {
	s, ok := m.idToIDSet[id]
	if !ok {
		return nil, fmt.Errorf("cannot release unknown next-hop set ID %d", id)
	}
	if e, ok := m.setIDs[s.Key()]; !ok || e.id != id {
		return nil, fmt.Errorf("next-hop set ID %d has no forward mapping for %s", id, s)
	}
	// Check every member before any reference is released.
	nhs := make([]route.NextHop, 0, len(s))
	for _, nid := range s {
		nh, ok := m.idToNextHop[nid]
		if !ok {
			return nil, fmt.Errorf("next-hop set %d refers to unknown next-hop ID %d", id, nid)
		}
		if e, ok := m.nextHopIDs[nh]; !ok || e.id != nid {
			return nil, fmt.Errorf("next-hop set %d refers to ID %d with no forward mapping for %s", id, nid, nh)
		}
		nhs = append(nhs, nh)
	}

	r := &SetRelease{ID: id, IDSet: s}
	for i, nh := range nhs {
		nid := s[i]
		freed, err := m.decrOrDeallocateNextHop(nh)
		if err != nil {
			return nil, err
		}
		if freed {
			r.FreedNextHops = append(r.FreedNextHops, nid)
		}
	}
	freed, err := m.decrOrDeallocateNextHopIDSet(s)
	if err != nil {
		return nil, err
	}
	r.SetDeallocated = freed
	return r, nil
}

// UpdateRouteNextHopSetID releases the set oldID and then takes references
// for nhs. The old set is always released first, even if nhs is the same
// set, so reference counts are as if the route had been removed and added.
func (m *Manager) UpdateRouteNextHopSetID(oldID route.NextHopSetID, nhs route.NextHopSet) (*SetRelease, *SetAllocation, error) {
	if len(nhs) == 0 {
		return nil, nil, fmt.Errorf("cannot allocate an ID for an empty next-hop set")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rel, err := m.decrOrDeallocRouteNextHopSetID(oldID)
	if err != nil {
		return nil, nil, err
	}
	return rel, m.getOrAllocRouteNextHopSetID(nhs), nil
}
