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
	"slices"

	"github.com/openconfig/fibsync/constants"
	"github.com/openconfig/fibsync/route"
)

// RouteDelta describes a change to one route between two generations.
type RouteDelta struct {
	Switch SwitchKey
	VRF    route.RouterID
	Op     constants.OpType
	// Old is the route before the change, it is nil for an ADD.
	Old *route.Route
	// New is the route after the change, it is nil for a DELETE.
	New *route.Route
}

// NextHopDelta describes a next-hop ID that was added to or removed from a
// switch's ID table.
type NextHopDelta struct {
	Switch  SwitchKey
	Op      constants.OpType
	ID      route.NextHopID
	NextHop route.NextHop
}

// NextHopSetDelta describes a next-hop set ID that was added to or removed
// from a switch's ID table.
type NextHopSetDelta struct {
	Switch SwitchKey
	Op     constants.OpType
	ID     route.NextHopSetID
	Set    route.NextHopIDSet
}

// StateDelta is the difference between two generations of the switch
// state. Subtrees that are shared between the generations are skipped
// without being walked.
type StateDelta struct {
	old, new *SwitchState
}

// NewStateDelta returns the delta from old to new. Either may be nil, which
// is treated as an empty state.
func NewStateDelta(old, new *SwitchState) *StateDelta {
	return &StateDelta{old: old, new: new}
}

// Old returns the state before the change.
func (d *StateDelta) Old() *SwitchState { return d.old }

// New returns the state after the change.
func (d *StateDelta) New() *SwitchState { return d.new }

func fibInfos(s *SwitchState) *MultiSwitchFibInfoMap {
	if s == nil {
		return NewMultiSwitchFibInfoMap()
	}
	return s.FibsInfoMap()
}

func switchKeys(a, b *MultiSwitchFibInfoMap) []SwitchKey {
	seen := map[SwitchKey]bool{}
	var ks []SwitchKey
	for _, m := range []*MultiSwitchFibInfoMap{a, b} {
		for _, k := range m.Keys() {
			if !seen[k] {
				seen[k] = true
				ks = append(ks, k)
			}
		}
	}
	slices.Sort(ks)
	return ks
}

// RouteDeltas returns the route changes, ordered by switch, VRF, family
// and prefix.
func (d *StateDelta) RouteDeltas() []RouteDelta {
	oldM, newM := fibInfos(d.old), fibInfos(d.new)
	if oldM == newM {
		return nil
	}
	var out []RouteDelta
	for _, k := range switchKeys(oldM, newM) {
		oi, _ := oldM.Get(k)
		ni, _ := newM.Get(k)
		if oi == ni {
			continue
		}
		var of, nf *ForwardingInformationBaseMap
		if oi != nil {
			of = oi.FibsMap()
		}
		if ni != nil {
			nf = ni.FibsMap()
		}
		if of == nf {
			continue
		}
		out = append(out, fibsMapDeltas(k, of, nf)...)
	}
	return out
}

func fibsMapDeltas(k SwitchKey, of, nf *ForwardingInformationBaseMap) []RouteDelta {
	vrfSet := map[route.RouterID]bool{}
	var vrfs []route.RouterID
	for _, m := range []*ForwardingInformationBaseMap{of, nf} {
		if m == nil {
			continue
		}
		for _, v := range m.VRFs() {
			if !vrfSet[v] {
				vrfSet[v] = true
				vrfs = append(vrfs, v)
			}
		}
	}
	slices.Sort(vrfs)

	var out []RouteDelta
	for _, vrf := range vrfs {
		var oc, nc *ForwardingInformationBaseContainer
		if of != nil {
			oc, _ = of.FibContainerIf(vrf)
		}
		if nf != nil {
			nc, _ = nf.FibContainerIf(vrf)
		}
		if oc == nc {
			continue
		}
		for _, f := range route.Families {
			var ofib, nfib *ForwardingInformationBase
			if oc != nil {
				ofib = oc.Fib(f)
			}
			if nc != nil {
				nfib = nc.Fib(f)
			}
			out = append(out, fibDeltas(k, vrf, ofib, nfib)...)
		}
	}
	return out
}

// fibDeltas merges the ordered route lists of the two FIBs.
func fibDeltas(k SwitchKey, vrf route.RouterID, of, nf *ForwardingInformationBase) []RouteDelta {
	if of == nf {
		return nil
	}
	var oldRoutes, newRoutes []route.Route
	if of != nil {
		oldRoutes = of.Routes()
	}
	if nf != nil {
		newRoutes = nf.Routes()
	}

	var out []RouteDelta
	i, j := 0, 0
	for i < len(oldRoutes) || j < len(newRoutes) {
		var c int
		switch {
		case i == len(oldRoutes):
			c = 1
		case j == len(newRoutes):
			c = -1
		default:
			c = route.ComparePrefix(oldRoutes[i].Prefix(), newRoutes[j].Prefix())
		}
		switch {
		case c < 0:
			o := oldRoutes[i]
			out = append(out, RouteDelta{Switch: k, VRF: vrf, Op: constants.DELETE, Old: &o})
			i++
		case c > 0:
			n := newRoutes[j]
			out = append(out, RouteDelta{Switch: k, VRF: vrf, Op: constants.ADD, New: &n})
			j++
		default:
			o, n := oldRoutes[i], newRoutes[j]
			if !o.Equal(n) {
				out = append(out, RouteDelta{Switch: k, VRF: vrf, Op: constants.REPLACE, Old: &o, New: &n})
			}
			i++
			j++
		}
	}
	return out
}

// NextHopDeltas returns the next-hop IDs added to and removed from each
// switch's ID table, ordered by switch and ID.
func (d *StateDelta) NextHopDeltas() []NextHopDelta {
	oldM, newM := fibInfos(d.old), fibInfos(d.new)
	if oldM == newM {
		return nil
	}
	var out []NextHopDelta
	for _, k := range switchKeys(oldM, newM) {
		om, nm := newIDToNextHopMap(k), newIDToNextHopMap(k)
		if oi, ok := oldM.Get(k); ok {
			om = oi.IDToNextHopMap()
		}
		if ni, ok := newM.Get(k); ok {
			nm = ni.IDToNextHopMap()
		}
		if om == nm {
			continue
		}
		ids := append(om.IDs(), nm.IDs()...)
		slices.Sort(ids)
		for n, id := range ids {
			if n > 0 && ids[n-1] == id {
				continue
			}
			o, inOld := om.Get(id)
			v, inNew := nm.Get(id)
			switch {
			case inOld && !inNew:
				out = append(out, NextHopDelta{Switch: k, Op: constants.DELETE, ID: id, NextHop: o})
			case !inOld && inNew:
				out = append(out, NextHopDelta{Switch: k, Op: constants.ADD, ID: id, NextHop: v})
			case o != v:
				out = append(out, NextHopDelta{Switch: k, Op: constants.REPLACE, ID: id, NextHop: v})
			}
		}
	}
	return out
}

// NextHopSetDeltas returns the next-hop set IDs added to and removed from
// each switch's ID table, ordered by switch and ID.
func (d *StateDelta) NextHopSetDeltas() []NextHopSetDelta {
	oldM, newM := fibInfos(d.old), fibInfos(d.new)
	if oldM == newM {
		return nil
	}
	var out []NextHopSetDelta
	for _, k := range switchKeys(oldM, newM) {
		om, nm := newIDToNextHopIDSetMap(k), newIDToNextHopIDSetMap(k)
		if oi, ok := oldM.Get(k); ok {
			om = oi.IDToNextHopIDSetMap()
		}
		if ni, ok := newM.Get(k); ok {
			nm = ni.IDToNextHopIDSetMap()
		}
		if om == nm {
			continue
		}
		ids := append(om.IDs(), nm.IDs()...)
		slices.Sort(ids)
		for n, id := range ids {
			if n > 0 && ids[n-1] == id {
				continue
			}
			o, inOld := om.Get(id)
			v, inNew := nm.Get(id)
			switch {
			case inOld && !inNew:
				out = append(out, NextHopSetDelta{Switch: k, Op: constants.DELETE, ID: id, Set: o})
			case !inOld && inNew:
				out = append(out, NextHopSetDelta{Switch: k, Op: constants.ADD, ID: id, Set: v})
			case !o.Equal(v):
				out = append(out, NextHopSetDelta{Switch: k, Op: constants.REPLACE, ID: id, Set: v})
			}
		}
	}
	return out
}
