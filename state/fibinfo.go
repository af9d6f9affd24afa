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

	"github.com/openconfig/fibsync/route"
)

// SwitchKey is the opaque matcher that identifies a hardware switch (ASIC)
// within a multi-switch system.
type SwitchKey string

// DefaultSwitchKey is the key of the only switch in a single-ASIC system.
const DefaultSwitchKey SwitchKey = "id=0"

// FibInfo bundles the FIBs programmed into a single switch with the ID
// tables needed to map the next-hop set IDs that they reference back to
// next-hops.
type FibInfo struct {
	node
	key              SwitchKey
	fibsMap          *ForwardingInformationBaseMap
	idToNextHop      *IDToNextHopMap
	idToNextHopIDSet *IDToNextHopIDSetMap
}

// NewFibInfo returns an empty, unpublished FibInfo for switch k.
func NewFibInfo(k SwitchKey) *FibInfo {
	return &FibInfo{
		key:              k,
		fibsMap:          newForwardingInformationBaseMap(k),
		idToNextHop:      newIDToNextHopMap(k),
		idToNextHopIDSet: newIDToNextHopIDSetMap(k),
	}
}

func (f *FibInfo) clone() *FibInfo {
	return &FibInfo{
		key:              f.key,
		fibsMap:          f.fibsMap,
		idToNextHop:      f.idToNextHop,
		idToNextHopIDSet: f.idToNextHopIDSet,
	}
}

// Key returns the switch matcher of the FibInfo.
func (f *FibInfo) Key() SwitchKey { return f.key }

// FibsMap returns the VRF to FIB container map.
func (f *FibInfo) FibsMap() *ForwardingInformationBaseMap { return f.fibsMap }

// IDToNextHopMap returns the next-hop ID reverse lookup table.
func (f *FibInfo) IDToNextHopMap() *IDToNextHopMap { return f.idToNextHop }

// IDToNextHopIDSetMap returns the next-hop set ID reverse lookup table.
func (f *FibInfo) IDToNextHopIDSetMap() *IDToNextHopIDSetMap { return f.idToNextHopIDSet }

// FibContainerIf returns the FIB container of vrf, if this switch holds it.
func (f *FibInfo) FibContainerIf(vrf route.RouterID) (*ForwardingInformationBaseContainer, bool) {
	return f.fibsMap.FibContainerIf(vrf)
}

// ResolveNextHopSet returns the next-hops that the set with ID id contains.
// It returns an error if the set, or any of its members, is not known.
func (f *FibInfo) ResolveNextHopSet(id route.NextHopSetID) (route.NextHopSet, error) {
	ids, ok := f.idToNextHopIDSet.Get(id)
	if !ok {
		return nil, fmt.Errorf("unknown next-hop set ID %d in %s", id, f.key)
	}
	nhs := make([]route.NextHop, 0, len(ids))
	for _, nid := range ids {
		nh, ok := f.idToNextHop.Get(nid)
		if !ok {
			return nil, fmt.Errorf("unknown next-hop ID %d in set %d in %s", nid, id, f.key)
		}
		nhs = append(nhs, nh)
	}
	return route.NewNextHopSet(nhs...), nil
}

func (f *FibInfo) publish() {
	if !f.fibsMap.IsPublished() {
		f.fibsMap.publish()
	}
	f.idToNextHop.publish()
	f.idToNextHopIDSet.publish()
	f.node.publish()
}

// Modify returns a writable version of the FibInfo within the state being
// built at *st.
func (f *FibInfo) Modify(st **SwitchState) *FibInfo {
	return modifyNode(f, st, func(c *FibInfo) {
		(*st).FibsInfoMap().Modify(st).infos[c.key] = c
	})
}

// MultiSwitchFibInfoMap holds the FibInfo of every switch in the system.
// Each VRF is programmed into exactly one switch.
type MultiSwitchFibInfoMap struct {
	node
	infos map[SwitchKey]*FibInfo
}

// NewMultiSwitchFibInfoMap returns an empty, unpublished map.
func NewMultiSwitchFibInfoMap() *MultiSwitchFibInfoMap {
	return &MultiSwitchFibInfoMap{infos: map[SwitchKey]*FibInfo{}}
}

func (m *MultiSwitchFibInfoMap) clone() *MultiSwitchFibInfoMap {
	n := NewMultiSwitchFibInfoMap()
	for k, v := range m.infos {
		n.infos[k] = v
	}
	return n
}

// Get returns the FibInfo for switch k.
func (m *MultiSwitchFibInfoMap) Get(k SwitchKey) (*FibInfo, bool) {
	f, ok := m.infos[k]
	return f, ok
}

// Keys returns the switch keys in the map in ascending order.
func (m *MultiSwitchFibInfoMap) Keys() []SwitchKey {
	ks := make([]SwitchKey, 0, len(m.infos))
	for k := range m.infos {
		ks = append(ks, k)
	}
	sort.Slice(ks, func(i, j int) bool { return ks[i] < ks[j] })
	return ks
}

// Len returns the number of switches.
func (m *MultiSwitchFibInfoMap) Len() int { return len(m.infos) }

// Add adds the FibInfo f. It returns an error if there is already a
// FibInfo for the same switch, or if a VRF of f is held by another switch.
func (m *MultiSwitchFibInfoMap) Add(f *FibInfo) error {
	m.mustBeWritable("FibInfo map")
	if _, ok := m.infos[f.Key()]; ok {
		return fmt.Errorf("FibInfo %s already exists", f.Key())
	}
	for _, vrf := range f.FibsMap().VRFs() {
		if o, ok := m.FibInfoForVRF(vrf); ok {
			return fmt.Errorf("VRF %d of FibInfo %s is already held by %s", vrf, f.Key(), o.Key())
		}
	}
	m.infos[f.Key()] = f
	return nil
}

// Remove removes the FibInfo for switch k, and reports whether it existed.
func (m *MultiSwitchFibInfoMap) Remove(k SwitchKey) bool {
	m.mustBeWritable("FibInfo map")
	if _, ok := m.infos[k]; !ok {
		return false
	}
	delete(m.infos, k)
	return true
}

// FibInfoForVRF returns the FibInfo of the switch that holds vrf.
func (m *MultiSwitchFibInfoMap) FibInfoForVRF(vrf route.RouterID) (*FibInfo, bool) {
	for _, k := range m.Keys() {
		if _, ok := m.infos[k].FibContainerIf(vrf); ok {
			return m.infos[k], true
		}
	}
	return nil, false
}

// FibContainerIf returns the FIB container of vrf from whichever switch
// holds it.
func (m *MultiSwitchFibInfoMap) FibContainerIf(vrf route.RouterID) (*ForwardingInformationBaseContainer, bool) {
	fi, ok := m.FibInfoForVRF(vrf)
	if !ok {
		return nil, false
	}
	return fi.FibContainerIf(vrf)
}

func (m *MultiSwitchFibInfoMap) publish() {
	for _, f := range m.infos {
		if !f.IsPublished() {
			f.publish()
		}
	}
	m.node.publish()
}

// Modify returns a writable version of the map within the state being
// built at *st.
func (m *MultiSwitchFibInfoMap) Modify(st **SwitchState) *MultiSwitchFibInfoMap {
	return modifyNode(m, st, func(c *MultiSwitchFibInfoMap) {
		(*st).Modify(st).fibsInfoMap = c
	})
}
