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
	"maps"
	"slices"

	"github.com/openconfig/fibsync/route"
)

// IDToNextHopMap is the reverse lookup from next-hop ID to next-hop for the
// next-hops referenced by one switch's FIBs.
type IDToNextHopMap struct {
	node
	switchKey SwitchKey
	m         map[route.NextHopID]route.NextHop
}

func newIDToNextHopMap(k SwitchKey) *IDToNextHopMap {
	return &IDToNextHopMap{switchKey: k, m: map[route.NextHopID]route.NextHop{}}
}

func (i *IDToNextHopMap) clone() *IDToNextHopMap {
	return &IDToNextHopMap{switchKey: i.switchKey, m: maps.Clone(i.m)}
}

// Get returns the next-hop with ID id.
func (i *IDToNextHopMap) Get(id route.NextHopID) (route.NextHop, bool) {
	nh, ok := i.m[id]
	return nh, ok
}

// Len returns the number of entries in the map.
func (i *IDToNextHopMap) Len() int { return len(i.m) }

// IDs returns the IDs in the map in ascending order.
func (i *IDToNextHopMap) IDs() []route.NextHopID {
	return slices.Sorted(maps.Keys(i.m))
}

// Set maps id to nh.
func (i *IDToNextHopMap) Set(id route.NextHopID, nh route.NextHop) {
	i.mustBeWritable("next-hop ID map")
	i.m[id] = nh
}

// Remove removes id from the map, and reports whether it was present.
func (i *IDToNextHopMap) Remove(id route.NextHopID) bool {
	i.mustBeWritable("next-hop ID map")
	if _, ok := i.m[id]; !ok {
		return false
	}
	delete(i.m, id)
	return true
}

// Equal reports whether i and o hold the same entries.
func (i *IDToNextHopMap) Equal(o *IDToNextHopMap) bool {
	return maps.Equal(i.m, o.m)
}

// Modify returns a writable version of the map within the state being
// built at *st.
func (i *IDToNextHopMap) Modify(st **SwitchState) *IDToNextHopMap {
	return modifyNode(i, st, func(n *IDToNextHopMap) {
		fi, ok := (*st).FibsInfoMap().Get(i.switchKey)
		if !ok {
			panic(fmt.Sprintf("FibInfo %s not found", i.switchKey))
		}
		fi.Modify(st).idToNextHop = n
	})
}

// IDToNextHopIDSetMap is the reverse lookup from next-hop set ID to the
// next-hop IDs in the set, for the sets referenced by one switch's FIBs.
type IDToNextHopIDSetMap struct {
	node
	switchKey SwitchKey
	m         map[route.NextHopSetID]route.NextHopIDSet
}

func newIDToNextHopIDSetMap(k SwitchKey) *IDToNextHopIDSetMap {
	return &IDToNextHopIDSetMap{switchKey: k, m: map[route.NextHopSetID]route.NextHopIDSet{}}
}

func (i *IDToNextHopIDSetMap) clone() *IDToNextHopIDSetMap {
	return &IDToNextHopIDSetMap{switchKey: i.switchKey, m: maps.Clone(i.m)}
}

// Get returns the next-hop IDs of set id.
func (i *IDToNextHopIDSetMap) Get(id route.NextHopSetID) (route.NextHopIDSet, bool) {
	s, ok := i.m[id]
	return s, ok
}

// Len returns the number of entries in the map.
func (i *IDToNextHopIDSetMap) Len() int { return len(i.m) }

// IDs returns the set IDs in the map in ascending order.
func (i *IDToNextHopIDSetMap) IDs() []route.NextHopSetID {
	return slices.Sorted(maps.Keys(i.m))
}

// Set maps id to s.
func (i *IDToNextHopIDSetMap) Set(id route.NextHopSetID, s route.NextHopIDSet) {
	i.mustBeWritable("next-hop set ID map")
	i.m[id] = route.NewNextHopIDSet(s...)
}

// Remove removes id from the map, and reports whether it was present.
func (i *IDToNextHopIDSetMap) Remove(id route.NextHopSetID) bool {
	i.mustBeWritable("next-hop set ID map")
	if _, ok := i.m[id]; !ok {
		return false
	}
	delete(i.m, id)
	return true
}

// Equal reports whether i and o hold the same entries.
func (i *IDToNextHopIDSetMap) Equal(o *IDToNextHopIDSetMap) bool {
	return maps.EqualFunc(i.m, o.m, route.NextHopIDSet.Equal)
}

// Modify returns a writable version of the map within the state being
// built at *st.
func (i *IDToNextHopIDSetMap) Modify(st **SwitchState) *IDToNextHopIDSetMap {
	return modifyNode(i, st, func(n *IDToNextHopIDSetMap) {
		fi, ok := (*st).FibsInfoMap().Get(i.switchKey)
		if !ok {
			panic(fmt.Sprintf("FibInfo %s not found", i.switchKey))
		}
		fi.Modify(st).idToNextHopIDSet = n
	})
}
