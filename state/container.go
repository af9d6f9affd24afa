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

// ForwardingInformationBaseContainer holds the IPv4 and IPv6 FIBs of a
// single VRF.
type ForwardingInformationBaseContainer struct {
	node
	vrf  route.RouterID
	fib4 *ForwardingInformationBase
	fib6 *ForwardingInformationBase
}

// NewForwardingInformationBaseContainer returns an unpublished container
// with empty FIBs for vrf.
func NewForwardingInformationBaseContainer(vrf route.RouterID) *ForwardingInformationBaseContainer {
	return &ForwardingInformationBaseContainer{
		vrf:  vrf,
		fib4: NewForwardingInformationBase(vrf, route.IPv4),
		fib6: NewForwardingInformationBase(vrf, route.IPv6),
	}
}

func (c *ForwardingInformationBaseContainer) clone() *ForwardingInformationBaseContainer {
	return &ForwardingInformationBaseContainer{vrf: c.vrf, fib4: c.fib4, fib6: c.fib6}
}

// VRF returns the routing domain of the container.
func (c *ForwardingInformationBaseContainer) VRF() route.RouterID { return c.vrf }

// FibV4 returns the IPv4 FIB.
func (c *ForwardingInformationBaseContainer) FibV4() *ForwardingInformationBase { return c.fib4 }

// FibV6 returns the IPv6 FIB.
func (c *ForwardingInformationBaseContainer) FibV6() *ForwardingInformationBase { return c.fib6 }

// Fib returns the FIB for family f.
func (c *ForwardingInformationBaseContainer) Fib(f route.Family) *ForwardingInformationBase {
	if f == route.IPv6 {
		return c.fib6
	}
	return c.fib4
}

// SetFibs replaces both FIBs of the container in a single step.
func (c *ForwardingInformationBaseContainer) SetFibs(v4, v6 *ForwardingInformationBase) error {
	c.mustBeWritable("FIB container")
	for _, f := range []*ForwardingInformationBase{v4, v6} {
		if f == nil {
			return fmt.Errorf("nil FIB supplied for VRF %d", c.vrf)
		}
		if f.VRF() != c.vrf {
			return fmt.Errorf("FIB for VRF %d supplied to container of VRF %d", f.VRF(), c.vrf)
		}
	}
	if v4.Family() != route.IPv4 || v6.Family() != route.IPv6 {
		return fmt.Errorf("FIBs for VRF %d have families %s and %s, want ipv4 and ipv6", c.vrf, v4.Family(), v6.Family())
	}
	c.fib4, c.fib6 = v4, v6
	return nil
}

func (c *ForwardingInformationBaseContainer) setFib(f *ForwardingInformationBase) {
	c.mustBeWritable("FIB container")
	if f.Family() == route.IPv6 {
		c.fib6 = f
		return
	}
	c.fib4 = f
}

func (c *ForwardingInformationBaseContainer) publish() {
	c.fib4.publish()
	c.fib6.publish()
	c.node.publish()
}

// Modify returns a writable version of the container within the state
// being built at *st.
func (c *ForwardingInformationBaseContainer) Modify(st **SwitchState) *ForwardingInformationBaseContainer {
	return modifyNode(c, st, func(n *ForwardingInformationBaseContainer) {
		fi, ok := (*st).FibsInfoMap().FibInfoForVRF(c.vrf)
		if !ok {
			panic(fmt.Sprintf("no FibInfo holds VRF %d", c.vrf))
		}
		fi.FibsMap().Modify(st).updateContainer(n)
	})
}

// ForwardingInformationBaseMap holds the FIB containers of one switch keyed
// by VRF.
type ForwardingInformationBaseMap struct {
	node
	switchKey  SwitchKey
	containers map[route.RouterID]*ForwardingInformationBaseContainer
}

func newForwardingInformationBaseMap(k SwitchKey) *ForwardingInformationBaseMap {
	return &ForwardingInformationBaseMap{
		switchKey:  k,
		containers: map[route.RouterID]*ForwardingInformationBaseContainer{},
	}
}

func (m *ForwardingInformationBaseMap) clone() *ForwardingInformationBaseMap {
	n := newForwardingInformationBaseMap(m.switchKey)
	for k, v := range m.containers {
		n.containers[k] = v
	}
	return n
}

// FibContainerIf returns the container for vrf if there is one.
func (m *ForwardingInformationBaseMap) FibContainerIf(vrf route.RouterID) (*ForwardingInformationBaseContainer, bool) {
	c, ok := m.containers[vrf]
	return c, ok
}

// VRFs returns the VRFs with a container, in ascending order.
func (m *ForwardingInformationBaseMap) VRFs() []route.RouterID {
	vrfs := make([]route.RouterID, 0, len(m.containers))
	for k := range m.containers {
		vrfs = append(vrfs, k)
	}
	sort.Slice(vrfs, func(i, j int) bool { return vrfs[i] < vrfs[j] })
	return vrfs
}

// Len returns the number of containers.
func (m *ForwardingInformationBaseMap) Len() int { return len(m.containers) }

// RouteCount returns the number of routes of family f across all VRFs.
func (m *ForwardingInformationBaseMap) RouteCount(f route.Family) int {
	var n int
	for _, c := range m.containers {
		n += c.Fib(f).Size()
	}
	return n
}

// AddContainer adds c to the map. It returns an error if there is already a
// container for its VRF.
func (m *ForwardingInformationBaseMap) AddContainer(c *ForwardingInformationBaseContainer) error {
	m.mustBeWritable("FIB map")
	if _, ok := m.containers[c.VRF()]; ok {
		return fmt.Errorf("FIB container for VRF %d already exists", c.VRF())
	}
	m.containers[c.VRF()] = c
	return nil
}

// RemoveContainer removes the container for vrf, it reports whether there
// was one.
func (m *ForwardingInformationBaseMap) RemoveContainer(vrf route.RouterID) bool {
	m.mustBeWritable("FIB map")
	if _, ok := m.containers[vrf]; !ok {
		return false
	}
	delete(m.containers, vrf)
	return true
}

func (m *ForwardingInformationBaseMap) updateContainer(c *ForwardingInformationBaseContainer) {
	m.mustBeWritable("FIB map")
	m.containers[c.VRF()] = c
}

func (m *ForwardingInformationBaseMap) publish() {
	for _, c := range m.containers {
		if !c.IsPublished() {
			c.publish()
		}
	}
	m.node.publish()
}

// Modify returns a writable version of the map within the state being
// built at *st.
func (m *ForwardingInformationBaseMap) Modify(st **SwitchState) *ForwardingInformationBaseMap {
	return modifyNode(m, st, func(n *ForwardingInformationBaseMap) {
		fi, ok := (*st).FibsInfoMap().Get(m.switchKey)
		if !ok {
			panic(fmt.Sprintf("FibInfo %s not found", m.switchKey))
		}
		fi.Modify(st).fibsMap = n
	})
}
