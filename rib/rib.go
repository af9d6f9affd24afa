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

// Package rib implements the resolved routing table that is projected into
// the FIB. Routes held here have already had recursive next-hops resolved to
// directly attached addresses by the routing layer.
package rib

import (
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/openconfig/fibsync/constants"
	"github.com/openconfig/fibsync/route"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// unixTS is used to determine the current unix timestamp in nanoseconds since the
// epoch. It is defined such that it can be overloaded by unit tests.
var unixTS = time.Now().UnixNano

// RIBHookFn is a function that is used as a hook following a change. It takes:
//   - an OpType determining whether an add, replace or delete was performed.
//   - the timestamp in nanoseconds since the unix epoch that the change was made.
//   - the VRF in which the change was made.
//   - the prefix that was changed.
//   - the new entry, or the deleted one for a delete.
type RIBHookFn func(constants.OpType, int64, route.RouterID, netip.Prefix, *Entry)

// NextHop is a next-hop of a resolved route. A next-hop with a zero
// Interface has not been resolved to an egress interface.
type NextHop struct {
	Address   netip.Addr
	Interface route.InterfaceID
	// Weight is the UCMP weight of the next-hop, zero for ECMP.
	Weight uint64
	Labels route.LabelForwardingAction
}

// Entry is the routing decision for a prefix.
type Entry struct {
	Action    route.ForwardAction
	Distance  route.AdminDistance
	NextHops  []NextHop
	Connected bool
	CounterID string
	// ClassID is the optional class ID of the route, nil when unset.
	ClassID *route.ClassID
}

// IsResolved reports whether e can be programmed. DROP and TO_CPU entries are
// always resolved, a NEXTHOPS entry is resolved when it has next-hops and
// each of them has an egress interface.
func (e *Entry) IsResolved() bool {
	switch e.Action {
	case route.Drop, route.ToCPU:
		return true
	case route.NextHops:
		if len(e.NextHops) == 0 {
			return false
		}
		for _, nh := range e.NextHops {
			if nh.Interface == route.NoInterface || !nh.Address.IsValid() {
				return false
			}
		}
		return true
	}
	return false
}

// validate checks that e is well formed.
func (e *Entry) validate() error {
	switch e.Action {
	case route.Drop, route.ToCPU:
		if len(e.NextHops) != 0 {
			return fmt.Errorf("%s entry has next-hops", e.Action)
		}
	case route.NextHops:
		if len(e.NextHops) == 0 {
			return errors.New("NEXTHOPS entry has no next-hops")
		}
		for _, nh := range e.NextHops {
			if !nh.Address.IsValid() {
				return errors.New("next-hop with no address")
			}
		}
	default:
		return fmt.Errorf("invalid forward action %d", e.Action)
	}
	return nil
}

// Route is a prefix and its routing decision.
type Route struct {
	Prefix netip.Prefix
	Entry  *Entry
}

// RIBOpt is an interface implemented by all options to the RIB.
type RIBOpt interface {
	isRIBOpt()
}

// hookOpt sets the post change hook of the RIB.
type hookOpt struct {
	fn RIBHookFn
}

func (hookOpt) isRIBOpt() {}

// WithHook sets fn as the hook that is called after each change to the RIB.
func WithHook(fn RIBHookFn) *hookOpt {
	return &hookOpt{fn: fn}
}

// RIB is the resolved routing table of a device, holding one VRFRIB per VRF.
type RIB struct {
	// mu protects the vrfs map and hook.
	mu   sync.RWMutex
	vrfs map[route.RouterID]*VRFRIB
	hook RIBHookFn
}

// New returns a new RIB with the default VRF created.
func New(opt ...RIBOpt) *RIB {
	r := &RIB{
		vrfs: map[route.RouterID]*VRFRIB{},
	}
	for _, o := range opt {
		if h, ok := o.(*hookOpt); ok {
			r.hook = h.fn
		}
	}
	r.vrfs[route.DefaultVRF] = newVRFRIB(route.DefaultVRF, r.hook)
	return r
}

// SetHook assigns the supplied hook to all VRF RIBs within the RIB.
func (r *RIB) SetHook(fn RIBHookFn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = fn
	for _, v := range r.vrfs {
		v.mu.Lock()
		v.postChangeHook = fn
		v.mu.Unlock()
	}
}

// AddVRF creates the RIB for vrf. It returns an error if it already exists.
func (r *RIB) AddVRF(vrf route.RouterID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.vrfs[vrf]; ok {
		return fmt.Errorf("VRF %d already exists", vrf)
	}
	r.vrfs[vrf] = newVRFRIB(vrf, r.hook)
	return nil
}

// VRFRIB returns the RIB for vrf.
func (r *RIB) VRFRIB(vrf route.RouterID) (*VRFRIB, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vrfs[vrf]
	return v, ok
}

// VRFs returns the VRFs of the RIB in ascending order.
func (r *RIB) VRFs() []route.RouterID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]route.RouterID, 0, len(r.vrfs))
	for id := range r.vrfs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// VRFRIB is the resolved routing table of a single VRF.
type VRFRIB struct {
	vrf route.RouterID

	// mu protects the route tables and the hook.
	mu sync.RWMutex
	v4 map[netip.Prefix]*Entry
	v6 map[netip.Prefix]*Entry

	// postChangeHook is called after each change to the tables completes.
	postChangeHook RIBHookFn
}

func newVRFRIB(vrf route.RouterID, fn RIBHookFn) *VRFRIB {
	return &VRFRIB{
		vrf:            vrf,
		v4:             map[netip.Prefix]*Entry{},
		v6:             map[netip.Prefix]*Entry{},
		postChangeHook: fn,
	}
}

// VRF returns the VRF of the table.
func (v *VRFRIB) VRF() route.RouterID { return v.vrf }

func (v *VRFRIB) table(p netip.Prefix) map[netip.Prefix]*Entry {
	if route.PrefixFamily(p) == route.IPv4 {
		return v.v4
	}
	return v.v6
}

// Add installs e for prefix p, replacing any existing entry. It returns an
// error if the prefix or the entry is invalid.
func (v *VRFRIB) Add(p netip.Prefix, e *Entry) error {
	if e == nil {
		return errors.New("nil entry provided")
	}
	if !p.IsValid() {
		return fmt.Errorf("invalid prefix %s", p)
	}
	if err := e.validate(); err != nil {
		return fmt.Errorf("invalid entry for %s, %v", p, err)
	}
	p = route.CanonicalPrefix(p)

	v.mu.Lock()
	defer v.mu.Unlock()
	t := v.table(p)
	op := constants.ADD
	if _, ok := t[p]; ok {
		op = constants.REPLACE
	}
	t[p] = e
	if v.postChangeHook != nil {
		v.postChangeHook(op, unixTS(), v.vrf, p, e)
	}
	return nil
}

// Delete removes the entry for prefix p. It returns a NotFound error if
// there is no such entry.
func (v *VRFRIB) Delete(p netip.Prefix) error {
	p = route.CanonicalPrefix(p)
	v.mu.Lock()
	defer v.mu.Unlock()
	t := v.table(p)
	e, ok := t[p]
	if !ok {
		return status.Errorf(codes.NotFound, "cannot find entry to delete in VRF %d, %s", v.vrf, p)
	}
	delete(t, p)
	if v.postChangeHook != nil {
		v.postChangeHook(constants.DELETE, unixTS(), v.vrf, p, e)
	}
	return nil
}

// Get returns the entry for prefix p.
func (v *VRFRIB) Get(p netip.Prefix) (*Entry, bool) {
	p = route.CanonicalPrefix(p)
	v.mu.RLock()
	defer v.mu.RUnlock()
	e, ok := v.table(p)[p]
	return e, ok
}

// Len returns the number of routes of family f.
func (v *VRFRIB) Len(f route.Family) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if f == route.IPv4 {
		return len(v.v4)
	}
	return len(v.v6)
}

// Routes returns the routes of family f ordered by prefix.
func (v *VRFRIB) Routes(f route.Family) []Route {
	v.mu.RLock()
	defer v.mu.RUnlock()
	t := v.v6
	if f == route.IPv4 {
		t = v.v4
	}
	rs := make([]Route, 0, len(t))
	for p, e := range t {
		rs = append(rs, Route{Prefix: p, Entry: e})
	}
	slices.SortFunc(rs, func(a, b Route) int { return route.ComparePrefix(a.Prefix, b.Prefix) })
	return rs
}
