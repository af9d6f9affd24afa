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
	"net/netip"

	"github.com/gaissmai/cidrtree"
	"github.com/openconfig/fibsync/route"
)

// ForwardingInformationBase is the table of routes for one address family
// of one VRF. The table is a persistent treap, so a clone shares all of its
// structure with the original until either is changed.
type ForwardingInformationBase struct {
	node
	vrf    route.RouterID
	family route.Family
	table  *cidrtree.Table
	size   int
}

// NewForwardingInformationBase returns an empty, unpublished FIB for
// family f in VRF vrf.
func NewForwardingInformationBase(vrf route.RouterID, f route.Family) *ForwardingInformationBase {
	return &ForwardingInformationBase{vrf: vrf, family: f, table: cidrtree.New()}
}

func (f *ForwardingInformationBase) clone() *ForwardingInformationBase {
	return &ForwardingInformationBase{vrf: f.vrf, family: f.family, table: f.table, size: f.size}
}

// VRF returns the routing domain of the FIB.
func (f *ForwardingInformationBase) VRF() route.RouterID { return f.vrf }

// Family returns the address family of the FIB.
func (f *ForwardingInformationBase) Family() route.Family { return f.family }

// Size returns the number of routes in the FIB.
func (f *ForwardingInformationBase) Size() int { return f.size }

// AddRoute adds r to the FIB, replacing any route for the same prefix. It
// returns an error if r is of the wrong address family.
func (f *ForwardingInformationBase) AddRoute(r route.Route) error {
	f.mustBeWritable("FIB")
	if r.Family() != f.family {
		return fmt.Errorf("cannot add %s route %s to %s FIB of VRF %d", r.Family(), r.Prefix(), f.family, f.vrf)
	}
	if t, ok := f.table.Delete(r.Prefix()); ok {
		f.table = t
		f.size--
	}
	f.table = f.table.Insert(r.Prefix(), r)
	f.size++
	return nil
}

// RemoveRoute removes the route for prefix p, it reports whether a route
// was removed.
func (f *ForwardingInformationBase) RemoveRoute(p netip.Prefix) bool {
	f.mustBeWritable("FIB")
	t, ok := f.table.Delete(route.CanonicalPrefix(p))
	if !ok {
		return false
	}
	f.table = t
	f.size--
	return true
}

// ExactMatch returns the route for exactly prefix p.
func (f *ForwardingInformationBase) ExactMatch(p netip.Prefix) (route.Route, bool) {
	p = route.CanonicalPrefix(p)
	got, v, ok := f.table.LookupCIDR(p)
	if !ok || got != p {
		return route.Route{}, false
	}
	return v.(route.Route), true
}

// LongestMatch returns the most specific route covering addr.
func (f *ForwardingInformationBase) LongestMatch(addr netip.Addr) (route.Route, bool) {
	_, v, ok := f.table.LookupIP(addr.Unmap())
	if !ok {
		return route.Route{}, false
	}
	return v.(route.Route), true
}

// Walk calls fn for each route in prefix order, stopping if fn returns
// false.
func (f *ForwardingInformationBase) Walk(fn func(route.Route) bool) {
	f.table.Walk(func(_ netip.Prefix, v any) bool {
		return fn(v.(route.Route))
	})
}

// Routes returns the routes of the FIB in prefix order.
func (f *ForwardingInformationBase) Routes() []route.Route {
	rs := make([]route.Route, 0, f.size)
	f.Walk(func(r route.Route) bool {
		rs = append(rs, r)
		return true
	})
	return rs
}

// Equal reports whether f and o hold the same routes.
func (f *ForwardingInformationBase) Equal(o *ForwardingInformationBase) bool {
	if f == o {
		return true
	}
	if f == nil || o == nil || f.vrf != o.vrf || f.family != o.family || f.size != o.size {
		return false
	}
	a, b := f.Routes(), o.Routes()
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Modify returns a writable version of the FIB within the state being built
// at *st. The FIB must be held in a container of its VRF.
func (f *ForwardingInformationBase) Modify(st **SwitchState) *ForwardingInformationBase {
	return modifyNode(f, st, func(c *ForwardingInformationBase) {
		cont, ok := (*st).FibsInfoMap().FibContainerIf(f.vrf)
		if !ok {
			panic(fmt.Sprintf("no FIB container for VRF %d", f.vrf))
		}
		cont.Modify(st).setFib(c)
	})
}
