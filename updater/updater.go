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

// Package updater projects the resolved routes of a VRF into the FIB of a
// switch state, assigning next-hop and next-hop set IDs to the routes that
// it programs.
package updater

import (
	"fmt"

	log "github.com/golang/glog"
	"github.com/openconfig/fibsync/nhid"
	"github.com/openconfig/fibsync/rib"
	"github.com/openconfig/fibsync/route"
	"github.com/openconfig/fibsync/state"
)

// ForwardingInformationBaseUpdater replaces the FIB container of one VRF
// with the projection of that VRF's resolved routes. It is used once, as
// the update function of a state.Store update.
type ForwardingInformationBaseUpdater struct {
	mgr *nhid.Manager
	cfg route.NormalizeConfig
	key state.SwitchKey
	vrf route.RouterID
	v4  []rib.Route
	v6  []rib.Route
}

// NewForwardingInformationBaseUpdater returns an updater that programs the
// routes v4 and v6 into the container for vrf held by switch k, using mgr
// to assign IDs and cfg to normalize next-hop weights.
func NewForwardingInformationBaseUpdater(mgr *nhid.Manager, cfg route.NormalizeConfig, k state.SwitchKey, vrf route.RouterID, v4, v6 []rib.Route) *ForwardingInformationBaseUpdater {
	return &ForwardingInformationBaseUpdater{
		mgr: mgr,
		cfg: cfg,
		key: k,
		vrf: vrf,
		v4:  v4,
		v6:  v6,
	}
}

// FromVRFRIB returns an updater for the current contents of v.
func FromVRFRIB(mgr *nhid.Manager, cfg route.NormalizeConfig, k state.SwitchKey, v *rib.VRFRIB) *ForwardingInformationBaseUpdater {
	return NewForwardingInformationBaseUpdater(mgr, cfg, k, v.VRF(), v.Routes(route.IPv4), v.Routes(route.IPv6))
}

// idDelta records the next-hop set IDs taken and released while building
// the new FIBs.
type idDelta struct {
	taken    map[route.NextHopSetID]route.NextHopIDSet
	dropped  map[route.NextHopSetID]route.NextHopIDSet
	modified bool
}

func newIDDelta() *idDelta {
	return &idDelta{
		taken:   map[route.NextHopSetID]route.NextHopIDSet{},
		dropped: map[route.NextHopSetID]route.NextHopIDSet{},
	}
}

func (d *idDelta) allocated(a *nhid.SetAllocation) {
	d.taken[a.ID] = a.IDSet
}

func (d *idDelta) released(r *nhid.SetRelease) {
	d.dropped[r.ID] = r.IDSet
}

// Apply returns the state with the VRF's FIBs replaced. It returns cur if
// nothing changed. On error cur is unchanged and the ID manager is rebuilt
// from cur so that it matches the FIBs that remain programmed.
func (u *ForwardingInformationBaseUpdater) Apply(cur *state.SwitchState) (*state.SwitchState, error) {
	next, err := u.apply(cur)
	if err != nil {
		if rerr := u.mgr.ReconstructFromFib(cur.FibsInfoMap()); rerr != nil {
			// The manager no longer matches any programmed state.
			panic(fmt.Sprintf("cannot roll back next-hop IDs after failed update of VRF %d, %v (update error: %v)", u.vrf, rerr, err))
		}
		return nil, fmt.Errorf("cannot update FIB for VRF %d, %v", u.vrf, err)
	}
	return next, nil
}

func (u *ForwardingInformationBaseUpdater) apply(cur *state.SwitchState) (*state.SwitchState, error) {
	var oldC *state.ForwardingInformationBaseContainer
	if fi, ok := cur.FibsInfoMap().FibInfoForVRF(u.vrf); ok {
		if fi.Key() != u.key {
			return nil, fmt.Errorf("VRF %d is held by %s, not %s", u.vrf, fi.Key(), u.key)
		}
		oldC, _ = fi.FibContainerIf(u.vrf)
	}

	d := newIDDelta()
	fibs := map[route.Family]*state.ForwardingInformationBase{}
	for _, f := range route.Families {
		var old *state.ForwardingInformationBase
		if oldC != nil {
			old = oldC.Fib(f)
		}
		rs := u.v4
		if f == route.IPv6 {
			rs = u.v6
		}
		nf, err := u.buildFib(f, rs, old, d)
		if err != nil {
			return nil, err
		}
		fibs[f] = nf
	}

	if !d.modified {
		log.V(2).Infof("FIB for VRF %d is unchanged", u.vrf)
		return cur, nil
	}

	next := cur
	c, err := state.EnsureFibContainer(&next, u.key, u.vrf)
	if err != nil {
		return nil, err
	}
	if err := c.SetFibs(fibs[route.IPv4], fibs[route.IPv6]); err != nil {
		return nil, err
	}
	if err := u.syncIDTables(&next, d); err != nil {
		return nil, err
	}
	log.V(1).Infof("FIB for VRF %d has %d IPv4 and %d IPv6 routes", u.vrf, fibs[route.IPv4].Size(), fibs[route.IPv6].Size())
	return next, nil
}

// buildFib returns a new FIB of family f holding rs, reusing the routes of
// old that did not change.
func (u *ForwardingInformationBaseUpdater) buildFib(f route.Family, rs []rib.Route, old *state.ForwardingInformationBase, d *idDelta) (*state.ForwardingInformationBase, error) {
	nf := state.NewForwardingInformationBase(u.vrf, f)
	for _, rr := range rs {
		if !rr.Entry.IsResolved() {
			log.V(2).Infof("skipping unresolved route %s in VRF %d", rr.Prefix, u.vrf)
			continue
		}
		r, err := ToRoute(rr)
		if err != nil {
			return nil, err
		}
		var (
			prev    route.Route
			hasPrev bool
		)
		if old != nil {
			prev, hasPrev = old.ExactMatch(r.Prefix())
		}
		if hasPrev && prev.EqualIgnoringIDs(r) {
			r = prev
		} else {
			d.modified = true
			if r, err = u.programIDs(r, prev, hasPrev, d); err != nil {
				return nil, fmt.Errorf("route %s, %v", rr.Prefix, err)
			}
		}
		if err := nf.AddRoute(r); err != nil {
			return nil, err
		}
	}

	if old == nil {
		return nf, nil
	}
	var err error
	old.Walk(func(prev route.Route) bool {
		if _, ok := nf.ExactMatch(prev.Prefix()); ok {
			return true
		}
		d.modified = true
		if err = u.releaseIDs(prev.ForwardInfo(), d); err != nil {
			err = fmt.Errorf("removed route %s, %v", prev.Prefix(), err)
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return nf, nil
}

// programIDs returns r with the IDs of its next-hop sets, moving the
// references held by prev, if any, to r.
func (u *ForwardingInformationBaseUpdater) programIDs(r, prev route.Route, hasPrev bool, d *idDelta) (route.Route, error) {
	fwd := r.ForwardInfo()
	var prevFwd route.RouteNextHopEntry
	if hasPrev {
		prevFwd = prev.ForwardInfo()
	}
	if fwd.Action() != route.NextHops {
		if hasPrev {
			if err := u.releaseIDs(prevFwd, d); err != nil {
				return r, err
			}
		}
		return r, nil
	}

	nhs := fwd.NextHopSet()
	oldID, hadID := prevFwd.ResolvedNextHopSetID()
	id, err := u.moveSet(oldID, hadID, nhs, d)
	if err != nil {
		return r, err
	}
	fwd = fwd.WithResolvedNextHopSetID(id)

	norm, err := fwd.NormalizedNextHops(u.cfg)
	if err != nil {
		return r, fmt.Errorf("cannot normalize next-hops %s, %v", nhs, err)
	}
	oldNorm, hadNorm := prevFwd.NormalizedResolvedNextHopSetID()
	switch {
	case !norm.Equal(nhs):
		nid, err := u.moveSet(oldNorm, hadNorm, norm, d)
		if err != nil {
			return r, err
		}
		fwd = fwd.WithNormalizedResolvedNextHopSetID(nid)
	case hadNorm:
		rel, err := u.mgr.DecrOrDeallocRouteNextHopSetID(oldNorm)
		if err != nil {
			return r, err
		}
		d.released(rel)
	}
	return r.WithForwardInfo(fwd), nil
}

// moveSet takes references to nhs, releasing those held for oldID when
// hadID is set, and returns the set's ID.
func (u *ForwardingInformationBaseUpdater) moveSet(oldID route.NextHopSetID, hadID bool, nhs route.NextHopSet, d *idDelta) (route.NextHopSetID, error) {
	if !hadID {
		a, err := u.mgr.GetOrAllocRouteNextHopSetID(nhs)
		if err != nil {
			return 0, err
		}
		d.allocated(a)
		return a.ID, nil
	}
	rel, a, err := u.mgr.UpdateRouteNextHopSetID(oldID, nhs)
	if err != nil {
		return 0, err
	}
	d.released(rel)
	d.allocated(a)
	return a.ID, nil
}

// releaseIDs releases the references held by fwd.
func (u *ForwardingInformationBaseUpdater) releaseIDs(fwd route.RouteNextHopEntry, d *idDelta) error {
	for _, get := range []func() (route.NextHopSetID, bool){fwd.ResolvedNextHopSetID, fwd.NormalizedResolvedNextHopSetID} {
		id, ok := get()
		if !ok {
			continue
		}
		rel, err := u.mgr.DecrOrDeallocRouteNextHopSetID(id)
		if err != nil {
			return err
		}
		d.released(rel)
	}
	return nil
}

// referencedSets returns the next-hop set IDs used by any route of fi.
func referencedSets(fi *state.FibInfo) map[route.NextHopSetID]bool {
	refs := map[route.NextHopSetID]bool{}
	for _, vrf := range fi.FibsMap().VRFs() {
		c, ok := fi.FibContainerIf(vrf)
		if !ok {
			continue
		}
		for _, f := range route.Families {
			c.Fib(f).Walk(func(r route.Route) bool {
				fwd := r.ForwardInfo()
				if id, ok := fwd.ResolvedNextHopSetID(); ok {
					refs[id] = true
				}
				if id, ok := fwd.NormalizedResolvedNextHopSetID(); ok {
					refs[id] = true
				}
				return true
			})
		}
	}
	return refs
}

// syncIDTables updates the ID tables of the switch in the state being built
// at *st so that they hold exactly the sets, and their members, that the
// switch's FIBs reference. IDs are allocated globally, so a set taken by
// this update may already exist in the manager but not in this switch, and
// a released set may still be held by another switch.
func (u *ForwardingInformationBaseUpdater) syncIDTables(st **state.SwitchState, d *idDelta) error {
	fi, ok := (*st).FibsInfoMap().Get(u.key)
	if !ok {
		return fmt.Errorf("no FibInfo for %s", u.key)
	}
	sets := fi.IDToNextHopIDSetMap()
	nhs := fi.IDToNextHopMap()

	addSets := map[route.NextHopSetID]route.NextHopIDSet{}
	for id, s := range d.taken {
		if _, ok := sets.Get(id); !ok {
			addSets[id] = s
		}
	}
	var (
		delSets []route.NextHopSetID
		refs    map[route.NextHopSetID]bool
	)
	for id := range d.dropped {
		if _, ok := d.taken[id]; ok {
			continue
		}
		if _, ok := sets.Get(id); !ok {
			continue
		}
		if _, ok := u.mgr.NextHopIDSet(id); ok {
			if refs == nil {
				refs = referencedSets(fi)
			}
			if refs[id] {
				continue
			}
		}
		delSets = append(delSets, id)
	}

	addNHs := map[route.NextHopID]route.NextHop{}
	for id, s := range addSets {
		for _, nid := range s {
			if _, ok := nhs.Get(nid); ok {
				continue
			}
			nh, ok := u.mgr.NextHop(nid)
			if !ok {
				return fmt.Errorf("next-hop set %d refers to unallocated next-hop ID %d", id, nid)
			}
			addNHs[nid] = nh
		}
	}
	var delNHs []route.NextHopID
	if len(delSets) != 0 {
		deleted := map[route.NextHopSetID]bool{}
		for _, id := range delSets {
			deleted[id] = true
		}
		members := map[route.NextHopID]bool{}
		for _, id := range sets.IDs() {
			if deleted[id] {
				continue
			}
			s, _ := sets.Get(id)
			for _, nid := range s {
				members[nid] = true
			}
		}
		for _, s := range addSets {
			for _, nid := range s {
				members[nid] = true
			}
		}
		for _, id := range delSets {
			s, _ := sets.Get(id)
			for _, nid := range s {
				if !members[nid] {
					members[nid] = true
					delNHs = append(delNHs, nid)
				}
			}
		}
	}

	if len(addNHs) != 0 || len(delNHs) != 0 {
		m := nhs.Modify(st)
		for _, id := range delNHs {
			m.Remove(id)
		}
		for id, nh := range addNHs {
			m.Set(id, nh)
		}
	}
	if len(addSets) != 0 || len(delSets) != 0 {
		fi, _ = (*st).FibsInfoMap().Get(u.key)
		m := fi.IDToNextHopIDSetMap().Modify(st)
		for _, id := range delSets {
			m.Remove(id)
		}
		for id, s := range addSets {
			m.Set(id, s)
		}
	}
	log.V(2).Infof("%s: %d next-hop IDs and %d set IDs added, %d and %d removed", u.key, len(addNHs), len(addSets), len(delNHs), len(delSets))
	return nil
}

// Sync programs the current routes of v into the FIB of switch k held by s.
func Sync(s *state.Store, mgr *nhid.Manager, cfg route.NormalizeConfig, k state.SwitchKey, v *rib.VRFRIB) error {
	u := FromVRFRIB(mgr, cfg, k, v)
	return s.Update(fmt.Sprintf("fib-vrf-%d", v.VRF()), u.Apply)
}
