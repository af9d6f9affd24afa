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
	"bytes"
	"fmt"
	"net/netip"

	"github.com/openconfig/fibsync/route"
	"gopkg.in/yaml.v3"
)

// The records below are the persisted form of the FIB state. They are
// written when the system shuts down for a warm boot, and read back before
// the next-hop ID manager is reconstructed from them.

type snapshotRecord struct {
	Switches []*fibInfoRecord `yaml:"switches"`
}

type fibInfoRecord struct {
	Key              SwitchKey          `yaml:"key"`
	VRFs             []*vrfRecord       `yaml:"vrfs,omitempty"`
	IDToNextHop      []*idNextHopRecord `yaml:"id_to_nexthop,omitempty"`
	IDToNextHopIDSet []*idSetRecord     `yaml:"id_to_nexthop_id_set,omitempty"`
}

type vrfRecord struct {
	VRF    route.RouterID `yaml:"vrf"`
	Routes []*routeRecord `yaml:"routes,omitempty"`
}

type routeRecord struct {
	Prefix           string              `yaml:"prefix"`
	Action           string              `yaml:"action"`
	Distance         route.AdminDistance `yaml:"distance"`
	Connected        bool                `yaml:"connected,omitempty"`
	Unresolved       bool                `yaml:"unresolved,omitempty"`
	CounterID        string              `yaml:"counter_id,omitempty"`
	ClassID          *route.ClassID      `yaml:"class_id,omitempty"`
	EcmpMode         route.EcmpMode      `yaml:"ecmp_mode,omitempty"`
	NextHops         []*nextHopRecord    `yaml:"nexthops,omitempty"`
	OverrideNextHops []*nextHopRecord    `yaml:"override_nexthops,omitempty"`
	ResolvedSetID    route.NextHopSetID  `yaml:"resolved_set_id,omitempty"`
	NormalizedSetID  route.NextHopSetID  `yaml:"normalized_set_id,omitempty"`
}

type nextHopRecord struct {
	Address     string            `yaml:"address"`
	Resolved    bool              `yaml:"resolved,omitempty"`
	Interface   route.InterfaceID `yaml:"interface,omitempty"`
	Weight      uint64            `yaml:"weight,omitempty"`
	LabelAction string            `yaml:"label_action,omitempty"`
	SwapLabel   uint32            `yaml:"swap_label,omitempty"`
	PushLabels  []uint32          `yaml:"push_labels,omitempty"`
}

type idNextHopRecord struct {
	ID      route.NextHopID `yaml:"id"`
	NextHop *nextHopRecord  `yaml:"nexthop"`
}

type idSetRecord struct {
	ID         route.NextHopSetID `yaml:"id"`
	NextHopIDs []route.NextHopID  `yaml:"nexthop_ids"`
}

func nextHopToRecord(n route.NextHop) *nextHopRecord {
	r := &nextHopRecord{
		Address:   n.Addr().String(),
		Resolved:  n.IsResolved(),
		Interface: n.Interface(),
		Weight:    n.Weight(),
	}
	if l := n.Labels(); l.IsSet() {
		r.LabelAction = l.Action().String()
		r.SwapLabel = l.Swap()
		r.PushLabels = l.Stack()
	}
	return r
}

func nextHopFromRecord(r *nextHopRecord) (route.NextHop, error) {
	if r == nil {
		return route.NextHop{}, fmt.Errorf("missing next-hop")
	}
	a, err := netip.ParseAddr(r.Address)
	if err != nil {
		return route.NextHop{}, fmt.Errorf("invalid next-hop address %q, %v", r.Address, err)
	}
	n := route.UnresolvedNextHop(a, r.Weight)
	if r.Resolved {
		n = route.ResolvedNextHop(a, r.Interface, r.Weight)
	}
	if r.LabelAction == "" {
		return n, nil
	}
	act, err := route.ParseLabelAction(r.LabelAction)
	if err != nil {
		return route.NextHop{}, err
	}
	var l route.LabelForwardingAction
	switch act {
	case route.LabelSwap:
		l = route.SwapLabel(r.SwapLabel)
	case route.LabelPush:
		l, err = route.PushLabels(r.PushLabels...)
	default:
		l, err = route.SimpleLabelAction(act)
	}
	if err != nil {
		return route.NextHop{}, fmt.Errorf("invalid label action for next-hop %s, %v", r.Address, err)
	}
	return n.WithLabels(l), nil
}

func nextHopsToRecords(nhs route.NextHopSet) []*nextHopRecord {
	var rs []*nextHopRecord
	for _, n := range nhs {
		rs = append(rs, nextHopToRecord(n))
	}
	return rs
}

func nextHopsFromRecords(rs []*nextHopRecord) (route.NextHopSet, error) {
	var nhs []route.NextHop
	for _, r := range rs {
		n, err := nextHopFromRecord(r)
		if err != nil {
			return nil, err
		}
		nhs = append(nhs, n)
	}
	return route.NewNextHopSet(nhs...), nil
}

func routeToRecord(r route.Route) *routeRecord {
	fwd := r.ForwardInfo()
	rec := &routeRecord{
		Prefix:     r.Prefix().String(),
		Action:     fwd.Action().String(),
		Distance:   fwd.AdminDistance(),
		Connected:  r.IsConnected(),
		Unresolved: !r.IsResolved(),
		NextHops:   nextHopsToRecords(fwd.NextHopSet()),
	}
	if c, ok := fwd.CounterID(); ok {
		rec.CounterID = c
	}
	if c, ok := fwd.ClassID(); ok {
		rec.ClassID = &c
	}
	if m, ok := fwd.OverrideEcmpMode(); ok {
		rec.EcmpMode = m
	}
	if o, ok := fwd.OverrideNextHops(); ok {
		rec.OverrideNextHops = nextHopsToRecords(o)
	}
	if id, ok := fwd.ResolvedNextHopSetID(); ok {
		rec.ResolvedSetID = id
	}
	if id, ok := fwd.NormalizedResolvedNextHopSetID(); ok {
		rec.NormalizedSetID = id
	}
	return rec
}

func routeFromRecord(rec *routeRecord) (route.Route, error) {
	p, err := route.ParsePrefix(rec.Prefix)
	if err != nil {
		return route.Route{}, err
	}
	act, err := route.ParseForwardAction(rec.Action)
	if err != nil {
		return route.Route{}, fmt.Errorf("route %s, %v", rec.Prefix, err)
	}
	var opts []route.EntryOpt
	if rec.CounterID != "" {
		opts = append(opts, route.WithCounterID(rec.CounterID))
	}
	if rec.ClassID != nil {
		opts = append(opts, route.WithClassID(*rec.ClassID))
	}
	if rec.EcmpMode != route.EcmpDefault {
		opts = append(opts, route.WithOverrideEcmpMode(rec.EcmpMode))
	}
	if len(rec.OverrideNextHops) != 0 {
		o, err := nextHopsFromRecords(rec.OverrideNextHops)
		if err != nil {
			return route.Route{}, fmt.Errorf("route %s, %v", rec.Prefix, err)
		}
		opts = append(opts, route.WithOverrideNextHops(o))
	}

	var fwd route.RouteNextHopEntry
	switch act {
	case route.Drop:
		fwd = route.DropEntry(rec.Distance, opts...)
	case route.ToCPU:
		fwd = route.ToCPUEntry(rec.Distance, opts...)
	default:
		nhs, err := nextHopsFromRecords(rec.NextHops)
		if err != nil {
			return route.Route{}, fmt.Errorf("route %s, %v", rec.Prefix, err)
		}
		if fwd, err = route.NextHopsEntry(nhs, rec.Distance, opts...); err != nil {
			return route.Route{}, fmt.Errorf("route %s, %v", rec.Prefix, err)
		}
	}
	if rec.ResolvedSetID != 0 {
		fwd = fwd.WithResolvedNextHopSetID(rec.ResolvedSetID)
	}
	if rec.NormalizedSetID != 0 {
		fwd = fwd.WithNormalizedResolvedNextHopSetID(rec.NormalizedSetID)
	}
	return route.NewRoute(p, fwd).WithConnected(rec.Connected).WithResolved(!rec.Unresolved), nil
}

func fibInfoToRecord(fi *FibInfo) *fibInfoRecord {
	rec := &fibInfoRecord{Key: fi.Key()}
	for _, vrf := range fi.FibsMap().VRFs() {
		c, _ := fi.FibContainerIf(vrf)
		vr := &vrfRecord{VRF: vrf}
		for _, f := range route.Families {
			c.Fib(f).Walk(func(r route.Route) bool {
				vr.Routes = append(vr.Routes, routeToRecord(r))
				return true
			})
		}
		rec.VRFs = append(rec.VRFs, vr)
	}
	for _, id := range fi.IDToNextHopMap().IDs() {
		nh, _ := fi.IDToNextHopMap().Get(id)
		rec.IDToNextHop = append(rec.IDToNextHop, &idNextHopRecord{ID: id, NextHop: nextHopToRecord(nh)})
	}
	for _, id := range fi.IDToNextHopIDSetMap().IDs() {
		s, _ := fi.IDToNextHopIDSetMap().Get(id)
		rec.IDToNextHopIDSet = append(rec.IDToNextHopIDSet, &idSetRecord{ID: id, NextHopIDs: s})
	}
	return rec
}

func fibInfoFromRecord(rec *fibInfoRecord) (*FibInfo, error) {
	if rec.Key == "" {
		return nil, fmt.Errorf("FibInfo has no switch key")
	}
	fi := NewFibInfo(rec.Key)
	for _, vr := range rec.VRFs {
		c := NewForwardingInformationBaseContainer(vr.VRF)
		for _, rr := range vr.Routes {
			r, err := routeFromRecord(rr)
			if err != nil {
				return nil, fmt.Errorf("invalid route in VRF %d of %s, %v", vr.VRF, rec.Key, err)
			}
			if err := c.Fib(r.Family()).AddRoute(r); err != nil {
				return nil, err
			}
		}
		if err := fi.FibsMap().AddContainer(c); err != nil {
			return nil, fmt.Errorf("invalid FibInfo %s, %v", rec.Key, err)
		}
	}
	for _, r := range rec.IDToNextHop {
		if !route.IsNextHopID(uint64(r.ID)) {
			return nil, fmt.Errorf("next-hop ID %d in %s is outside the next-hop ID range", r.ID, rec.Key)
		}
		nh, err := nextHopFromRecord(r.NextHop)
		if err != nil {
			return nil, fmt.Errorf("invalid next-hop ID %d in %s, %v", r.ID, rec.Key, err)
		}
		fi.IDToNextHopMap().Set(r.ID, nh)
	}
	for _, r := range rec.IDToNextHopIDSet {
		if !route.IsNextHopSetID(uint64(r.ID)) {
			return nil, fmt.Errorf("next-hop set ID %d in %s is outside the next-hop set ID range", r.ID, rec.Key)
		}
		fi.IDToNextHopIDSetMap().Set(r.ID, r.NextHopIDs)
	}
	return fi, nil
}

func decodeStrict(b []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	return dec.Decode(v)
}

// MarshalFibInfo returns the persisted form of fi.
func MarshalFibInfo(fi *FibInfo) ([]byte, error) {
	return yaml.Marshal(fibInfoToRecord(fi))
}

// UnmarshalFibInfo parses the persisted form of a FibInfo. The returned
// FibInfo is unpublished.
func UnmarshalFibInfo(b []byte) (*FibInfo, error) {
	rec := &fibInfoRecord{}
	if err := decodeStrict(b, rec); err != nil {
		return nil, fmt.Errorf("cannot parse FibInfo, %v", err)
	}
	return fibInfoFromRecord(rec)
}

// MarshalFibInfoMap returns the persisted form of every FibInfo in m.
func MarshalFibInfoMap(m *MultiSwitchFibInfoMap) ([]byte, error) {
	rec := &snapshotRecord{}
	for _, k := range m.Keys() {
		fi, _ := m.Get(k)
		rec.Switches = append(rec.Switches, fibInfoToRecord(fi))
	}
	return yaml.Marshal(rec)
}

// UnmarshalFibInfoMap parses the output of MarshalFibInfoMap. The returned
// map is unpublished.
func UnmarshalFibInfoMap(b []byte) (*MultiSwitchFibInfoMap, error) {
	rec := &snapshotRecord{}
	if err := decodeStrict(b, rec); err != nil {
		return nil, fmt.Errorf("cannot parse FIB snapshot, %v", err)
	}
	m := NewMultiSwitchFibInfoMap()
	for _, sr := range rec.Switches {
		fi, err := fibInfoFromRecord(sr)
		if err != nil {
			return nil, err
		}
		if err := m.Add(fi); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SwitchStateFromFibInfoMap returns an unpublished state holding m.
func SwitchStateFromFibInfoMap(m *MultiSwitchFibInfoMap) *SwitchState {
	s := NewSwitchState()
	s.SetFibsInfoMap(m)
	return s
}
