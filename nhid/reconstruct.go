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

	log "github.com/golang/glog"
	"github.com/openconfig/fibsync/route"
	"github.com/openconfig/fibsync/state"
)

// replayNextHop takes a reference to nh with the persisted ID id.
func (m *Manager) replayNextHop(id route.NextHopID, nh route.NextHop) error {
	if e, ok := m.nextHopIDs[nh]; ok {
		if e.id != id {
			return fmt.Errorf("next-hop %s has IDs %d and %d", nh, e.id, id)
		}
		e.refs++
		return nil
	}
	if o, ok := m.idToNextHop[id]; ok {
		return fmt.Errorf("next-hop ID %d is used by %s and %s", id, o, nh)
	}
	m.nextHopIDs[nh] = &nextHopEntry{id: id, refs: 1}
	m.idToNextHop[id] = nh
	if id >= m.nextNextHop {
		m.nextNextHop = id + 1
	}
	return nil
}

// replaySet takes a reference to s with the persisted ID id.
func (m *Manager) replaySet(id route.NextHopSetID, s route.NextHopIDSet) error {
	k := s.Key()
	if e, ok := m.setIDs[k]; ok {
		if e.id != id {
			return fmt.Errorf("next-hop ID set %s has IDs %d and %d", s, e.id, id)
		}
		e.refs++
		return nil
	}
	if o, ok := m.idToIDSet[id]; ok {
		return fmt.Errorf("next-hop set ID %d is used by %s and %s", id, o, s)
	}
	m.setIDs[k] = &setEntry{id: id, refs: 1}
	m.idToIDSet[id] = route.NewNextHopIDSet(s...)
	if id >= m.nextSetID {
		m.nextSetID = id + 1
	}
	return nil
}

// replayRouteSet takes the references that GetOrAllocRouteNextHopSetID
// took when the set with ID id was allocated for a route of fi.
func (m *Manager) replayRouteSet(fi *state.FibInfo, id route.NextHopSetID) error {
	if !route.IsNextHopSetID(uint64(id)) {
		return fmt.Errorf("next-hop set ID %d is outside the set ID range", id)
	}
	s, ok := fi.IDToNextHopIDSetMap().Get(id)
	if !ok {
		return fmt.Errorf("next-hop set ID %d not found in %s", id, fi.Key())
	}
	for _, nid := range s {
		if !route.IsNextHopID(uint64(nid)) {
			return fmt.Errorf("next-hop ID %d in set %d is outside the next-hop ID range", nid, id)
		}
		nh, ok := fi.IDToNextHopMap().Get(nid)
		if !ok {
			return fmt.Errorf("next-hop ID %d of set %d not found in %s", nid, id, fi.Key())
		}
		if err := m.replayNextHop(nid, nh); err != nil {
			return err
		}
	}
	return m.replaySet(id, s)
}

// ReconstructFromFib rebuilds the manager from the FIBs and ID tables in fibs.
// Every set ID referenced by a route, both for its resolved and its
// normalized next-hops, is looked up in the ID tables of the switch that
// holds the route and references are taken as if the route had been
// programmed. The allocation counters are left above every ID seen, and
// never move backwards.
//
// On error the manager is unchanged.
func (m *Manager) ReconstructFromFib(fibs *state.MultiSwitchFibInfoMap) error {
	n := New()
	for _, k := range fibs.Keys() {
		fi, _ := fibs.Get(k)
		for _, vrf := range fi.FibsMap().VRFs() {
			c, _ := fi.FibContainerIf(vrf)
			for _, f := range route.Families {
				var err error
				c.Fib(f).Walk(func(r route.Route) bool {
					fwd := r.ForwardInfo()
					if fwd.Action() != route.NextHops {
						return true
					}
					if id, ok := fwd.ResolvedNextHopSetID(); ok {
						if err = n.replayRouteSet(fi, id); err != nil {
							err = fmt.Errorf("route %s in VRF %d, %v", r.Prefix(), vrf, err)
							return false
						}
					}
					if id, ok := fwd.NormalizedResolvedNextHopSetID(); ok {
						if err = n.replayRouteSet(fi, id); err != nil {
							err = fmt.Errorf("route %s in VRF %d, %v", r.Prefix(), vrf, err)
							return false
						}
					}
					return true
				})
				if err != nil {
					return fmt.Errorf("cannot reconstruct next-hop IDs from %s, %v", k, err)
				}
			}
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextHopIDs, m.idToNextHop = n.nextHopIDs, n.idToNextHop
	m.setIDs, m.idToIDSet = n.setIDs, n.idToIDSet
	m.nextNextHop = max(m.nextNextHop, n.nextNextHop)
	m.nextSetID = max(m.nextSetID, n.nextSetID)
	log.Infof("reconstructed next-hop IDs, %d next-hops, %d sets, next IDs %d and %d", len(m.idToNextHop), len(m.idToIDSet), m.nextNextHop, m.nextSetID)
	return nil
}

// FromFib returns a new Manager reconstructed from fibs.
func FromFib(fibs *state.MultiSwitchFibInfoMap) (*Manager, error) {
	mgr := New()
	if err := mgr.ReconstructFromFib(fibs); err != nil {
		return nil, err
	}
	return mgr, nil
}
