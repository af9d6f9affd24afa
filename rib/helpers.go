// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rib

import (
	"bytes"
	"fmt"
	"net/netip"
	"os"

	"github.com/openconfig/fibsync/route"
	"gopkg.in/yaml.v3"
)

// staticRIB is the YAML representation of a static RIB.
type staticRIB struct {
	VRFs []*staticVRF `yaml:"vrfs"`
}

type staticVRF struct {
	VRF    route.RouterID `yaml:"vrf"`
	Routes []*staticRoute `yaml:"routes"`
}

type staticRoute struct {
	Prefix    string           `yaml:"prefix"`
	Action    string           `yaml:"action"`
	Distance  uint8            `yaml:"distance"`
	Connected bool             `yaml:"connected,omitempty"`
	CounterID string           `yaml:"counter_id,omitempty"`
	ClassID   *uint32          `yaml:"class_id,omitempty"`
	NextHops  []*staticNextHop `yaml:"nexthops,omitempty"`
}

type staticNextHop struct {
	Address     string   `yaml:"address"`
	Interface   uint32   `yaml:"interface,omitempty"`
	Weight      uint64   `yaml:"weight,omitempty"`
	LabelAction string   `yaml:"label_action,omitempty"`
	SwapLabel   uint32   `yaml:"swap_label,omitempty"`
	PushLabels  []uint32 `yaml:"push_labels,omitempty"`
}

func labelsFromStatic(n *staticNextHop) (route.LabelForwardingAction, error) {
	if n.LabelAction == "" {
		return route.LabelForwardingAction{}, nil
	}
	a, err := route.ParseLabelAction(n.LabelAction)
	if err != nil {
		return route.LabelForwardingAction{}, err
	}
	switch a {
	case route.LabelSwap:
		return route.SwapLabel(n.SwapLabel), nil
	case route.LabelPush:
		return route.PushLabels(n.PushLabels...)
	default:
		return route.SimpleLabelAction(a)
	}
}

func entryFromStatic(r *staticRoute) (netip.Prefix, *Entry, error) {
	p, err := route.ParsePrefix(r.Prefix)
	if err != nil {
		return netip.Prefix{}, nil, err
	}
	a, err := route.ParseForwardAction(r.Action)
	if err != nil {
		return netip.Prefix{}, nil, fmt.Errorf("route %s, %v", p, err)
	}
	e := &Entry{
		Action:    a,
		Distance:  route.AdminDistance(r.Distance),
		Connected: r.Connected,
		CounterID: r.CounterID,
	}
	if r.ClassID != nil {
		c := route.ClassID(*r.ClassID)
		e.ClassID = &c
	}
	for _, n := range r.NextHops {
		addr, err := netip.ParseAddr(n.Address)
		if err != nil {
			return netip.Prefix{}, nil, fmt.Errorf("route %s, invalid next-hop address, %v", p, err)
		}
		l, err := labelsFromStatic(n)
		if err != nil {
			return netip.Prefix{}, nil, fmt.Errorf("route %s, next-hop %s, %v", p, addr, err)
		}
		e.NextHops = append(e.NextHops, NextHop{
			Address:   addr.Unmap(),
			Interface: route.InterfaceID(n.Interface),
			Weight:    n.Weight,
			Labels:    l,
		})
	}
	return p, e, nil
}

// FromYAML returns a RIB populated from the static RIB description in b.
// Unknown fields are rejected.
func FromYAML(b []byte, opt ...RIBOpt) (*RIB, error) {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	s := &staticRIB{}
	if err := dec.Decode(s); err != nil {
		return nil, fmt.Errorf("cannot parse static RIB, %v", err)
	}

	r := New(opt...)
	for _, sv := range s.VRFs {
		if sv.VRF != route.DefaultVRF {
			if err := r.AddVRF(sv.VRF); err != nil {
				return nil, fmt.Errorf("cannot create VRF RIB, %v", err)
			}
		}
		v, _ := r.VRFRIB(sv.VRF)
		for _, sr := range sv.Routes {
			p, e, err := entryFromStatic(sr)
			if err != nil {
				return nil, fmt.Errorf("VRF %d, %v", sv.VRF, err)
			}
			if err := v.Add(p, e); err != nil {
				return nil, fmt.Errorf("VRF %d, %v", sv.VRF, err)
			}
		}
	}
	return r, nil
}

// FromFile returns a RIB populated from the static RIB file at path.
func FromFile(path string, opt ...RIBOpt) (*RIB, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read static RIB, %v", err)
	}
	return FromYAML(b, opt...)
}

// fakeRIB is a RIB for use in testing which exposes methods that can be used to more easily
// construct a RIB's contents.
type fakeRIB struct {
	r *RIB
}

// NewFake returns a new Fake RIB.
func NewFake(opt ...RIBOpt) *fakeRIB {
	return &fakeRIB{
		r: New(opt...),
	}
}

// RIB returns the constructed fake RIB to the caller.
func (f *fakeRIB) RIB() *RIB {
	return f.r
}

func (f *fakeRIB) inject(vrf route.RouterID, pfx string, e *Entry) error {
	v, ok := f.r.VRFRIB(vrf)
	if !ok {
		if err := f.r.AddVRF(vrf); err != nil {
			return err
		}
		v, _ = f.r.VRFRIB(vrf)
	}
	p, err := route.ParsePrefix(pfx)
	if err != nil {
		return err
	}
	if err := v.Add(p, e); err != nil {
		return fmt.Errorf("cannot add entry, err: %v", err)
	}
	return nil
}

// InjectConnected adds a directly connected route for pfx in vrf, reached
// through addr on interface intf.
func (f *fakeRIB) InjectConnected(vrf route.RouterID, pfx, addr string, intf route.InterfaceID) error {
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return err
	}
	return f.inject(vrf, pfx, &Entry{
		Action:    route.NextHops,
		Distance:  route.DirectlyConnected,
		Connected: true,
		NextHops:  []NextHop{{Address: a, Interface: intf}},
	})
}

// InjectNextHops adds a route for pfx in vrf with admin distance d, using
// the next-hops nhs.
func (f *fakeRIB) InjectNextHops(vrf route.RouterID, pfx string, d route.AdminDistance, nhs ...NextHop) error {
	return f.inject(vrf, pfx, &Entry{
		Action:   route.NextHops,
		Distance: d,
		NextHops: nhs,
	})
}

// InjectDrop adds a route for pfx in vrf that drops traffic.
func (f *fakeRIB) InjectDrop(vrf route.RouterID, pfx string, d route.AdminDistance) error {
	return f.inject(vrf, pfx, &Entry{Action: route.Drop, Distance: d})
}

// InjectToCPU adds a route for pfx in vrf that punts traffic to the CPU.
func (f *fakeRIB) InjectToCPU(vrf route.RouterID, pfx string, d route.AdminDistance) error {
	return f.inject(vrf, pfx, &Entry{Action: route.ToCPU, Distance: d})
}
