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

	"github.com/openconfig/fibsync/route"
)

// SwitchState is the root of the state tree.
type SwitchState struct {
	node
	generation  uint64
	fibsInfoMap *MultiSwitchFibInfoMap
}

// NewSwitchState returns an empty, unpublished state at generation zero.
func NewSwitchState() *SwitchState {
	return &SwitchState{fibsInfoMap: NewMultiSwitchFibInfoMap()}
}

func (s *SwitchState) clone() *SwitchState {
	return &SwitchState{generation: s.generation, fibsInfoMap: s.fibsInfoMap}
}

// Generation returns the generation number of the state.
func (s *SwitchState) Generation() uint64 { return s.generation }

// SetGeneration sets the generation number of an unpublished state.
func (s *SwitchState) SetGeneration(g uint64) {
	s.mustBeWritable("switch state")
	s.generation = g
}

// FibsInfoMap returns the per-switch FIB information.
func (s *SwitchState) FibsInfoMap() *MultiSwitchFibInfoMap { return s.fibsInfoMap }

// SetFibsInfoMap replaces the per-switch FIB information of an unpublished
// state.
func (s *SwitchState) SetFibsInfoMap(m *MultiSwitchFibInfoMap) {
	s.mustBeWritable("switch state")
	s.fibsInfoMap = m
}

// Publish freezes the state and every node reachable from it.
func (s *SwitchState) Publish() {
	if s.IsPublished() {
		return
	}
	if !s.fibsInfoMap.IsPublished() {
		s.fibsInfoMap.publish()
	}
	s.node.publish()
}

// Modify returns a writable version of the state. If *st is published it
// is cloned and *st is updated to point to the clone.
func (s *SwitchState) Modify(st **SwitchState) *SwitchState {
	return modifyNode(s, st, func(c *SwitchState) {
		*st = c
	})
}

// EnsureFibInfo returns a writable FibInfo for switch k within the state
// being built at *st, creating an empty one if none exists.
func EnsureFibInfo(st **SwitchState, k SwitchKey) *FibInfo {
	if fi, ok := (*st).FibsInfoMap().Get(k); ok {
		return fi.Modify(st)
	}
	fi := NewFibInfo(k)
	m := (*st).FibsInfoMap().Modify(st)
	m.infos[k] = fi
	return fi
}

// EnsureFibContainer returns a writable FIB container for vrf within the
// state being built at *st. If no switch holds vrf an empty container is
// created in switch k. It returns an error if vrf is held by a switch other
// than k.
func EnsureFibContainer(st **SwitchState, k SwitchKey, vrf route.RouterID) (*ForwardingInformationBaseContainer, error) {
	if fi, ok := (*st).FibsInfoMap().FibInfoForVRF(vrf); ok {
		if fi.Key() != k {
			return nil, fmt.Errorf("VRF %d is held by %s, not %s", vrf, fi.Key(), k)
		}
		c, _ := fi.FibContainerIf(vrf)
		return c.Modify(st), nil
	}
	c := NewForwardingInformationBaseContainer(vrf)
	fm := EnsureFibInfo(st, k).FibsMap().Modify(st)
	if err := fm.AddContainer(c); err != nil {
		return nil, err
	}
	return c, nil
}

// RouteCount returns the number of routes of family f across all switches
// and VRFs.
func (s *SwitchState) RouteCount(f route.Family) int {
	var n int
	for _, k := range s.fibsInfoMap.Keys() {
		fi, _ := s.fibsInfoMap.Get(k)
		n += fi.FibsMap().RouteCount(f)
	}
	return n
}
