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

// Package afthelper exports the programmed FIB of a VRF as OpenConfig AFT
// entries, as carried by the gRIBI Get RPC.
package afthelper

import (
	"fmt"
	"net/netip"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/openconfig/fibsync/constants"
	"github.com/openconfig/fibsync/route"
	"github.com/openconfig/fibsync/state"

	aftpb "github.com/openconfig/gribi/v1/proto/gribi_aft"
	spb "github.com/openconfig/gribi/v1/proto/service"
	wpb "github.com/openconfig/ygot/proto/ywrapper"
)

const (
	// DefaultNetworkInstance is the name of the network instance of the
	// default VRF.
	DefaultNetworkInstance = "DEFAULT"
	// vrfPrefix prefixes the VRF number in the names of other network
	// instances.
	vrfPrefix = "VRF-"
)

// NetworkInstanceName returns the network instance name used for vrf.
func NetworkInstanceName(vrf route.RouterID) string {
	if vrf == route.DefaultVRF {
		return DefaultNetworkInstance
	}
	return fmt.Sprintf("%s%d", vrfPrefix, vrf)
}

// ParseNetworkInstance returns the VRF that the network instance name
// refers to.
func ParseNetworkInstance(name string) (route.RouterID, error) {
	if name == DefaultNetworkInstance {
		return route.DefaultVRF, nil
	}
	n, ok := strings.CutPrefix(name, vrfPrefix)
	if !ok {
		return 0, fmt.Errorf("invalid network instance name %q", name)
	}
	v, err := strconv.ParseUint(n, 10, 32)
	if err != nil || v == uint64(route.DefaultVRF) {
		return 0, fmt.Errorf("invalid VRF in network instance name %q", name)
	}
	return route.RouterID(v), nil
}

// InterfaceName returns the interface reference used for the L3 interface
// id in exported next-hops.
func InterfaceName(id route.InterfaceID) string {
	return strconv.FormatUint(uint64(id), 10)
}

// programmedSetID returns the ID of the next-hop set that fwd is programmed
// with, preferring the normalized set.
func programmedSetID(fwd route.RouteNextHopEntry) (route.NextHopSetID, bool) {
	if id, ok := fwd.NormalizedResolvedNextHopSetID(); ok {
		return id, true
	}
	return fwd.ResolvedNextHopSetID()
}

// Entries returns the entries of type a programmed for vrf in fi, in the
// order IPv4, IPv6, next-hop and next-hop-group. Only the next-hops and
// groups referenced by vrf's routes are returned.
func Entries(fi *state.FibInfo, vrf route.RouterID, a constants.AFT) ([]*spb.AFTEntry, error) {
	c, ok := fi.FibContainerIf(vrf)
	if !ok {
		return nil, fmt.Errorf("VRF %d is not programmed in %s", vrf, fi.Key())
	}
	ni := NetworkInstanceName(vrf)

	var (
		entries []*spb.AFTEntry
		sets    = map[route.NextHopSetID]bool{}
	)
	for _, f := range route.Families {
		for _, r := range c.Fib(f).Routes() {
			fwd := r.ForwardInfo()
			id, hasSet := programmedSetID(fwd)
			if hasSet {
				sets[id] = true
			}
			switch {
			case f == route.IPv4 && a.Includes(constants.IPV4):
				e := &aftpb.Afts_Ipv4Entry{}
				if hasSet {
					e.NextHopGroup = &wpb.UintValue{Value: uint64(id)}
				}
				entries = append(entries, &spb.AFTEntry{
					NetworkInstance: ni,
					Entry: &spb.AFTEntry_Ipv4{
						Ipv4: &aftpb.Afts_Ipv4EntryKey{Prefix: r.Prefix().String(), Ipv4Entry: e},
					},
				})
			case f == route.IPv6 && a.Includes(constants.IPV6):
				e := &aftpb.Afts_Ipv6Entry{}
				if hasSet {
					e.NextHopGroup = &wpb.UintValue{Value: uint64(id)}
				}
				entries = append(entries, &spb.AFTEntry{
					NetworkInstance: ni,
					Entry: &spb.AFTEntry_Ipv6{
						Ipv6: &aftpb.Afts_Ipv6EntryKey{Prefix: r.Prefix().String(), Ipv6Entry: e},
					},
				})
			}
		}
	}

	if !a.Includes(constants.NEXTHOP) && !a.Includes(constants.NEXTHOPGROUP) {
		return entries, nil
	}

	setIDs := make([]route.NextHopSetID, 0, len(sets))
	for id := range sets {
		setIDs = append(setIDs, id)
	}
	slices.Sort(setIDs)

	var groups []*spb.AFTEntry
	nhIDs := map[route.NextHopID]bool{}
	for _, id := range setIDs {
		ids, ok := fi.IDToNextHopIDSetMap().Get(id)
		if !ok {
			return nil, fmt.Errorf("unknown next-hop set ID %d in %s", id, fi.Key())
		}
		g := &aftpb.Afts_NextHopGroup{}
		for _, nid := range ids {
			nh, ok := fi.IDToNextHopMap().Get(nid)
			if !ok {
				return nil, fmt.Errorf("unknown next-hop ID %d in set %d in %s", nid, id, fi.Key())
			}
			nhIDs[nid] = true
			g.NextHop = append(g.NextHop, &aftpb.Afts_NextHopGroup_NextHopKey{
				Index: uint64(nid),
				NextHop: &aftpb.Afts_NextHopGroup_NextHop{
					Weight: &wpb.UintValue{Value: nh.Weight()},
				},
			})
		}
		groups = append(groups, &spb.AFTEntry{
			NetworkInstance: ni,
			Entry: &spb.AFTEntry_NextHopGroup{
				NextHopGroup: &aftpb.Afts_NextHopGroupKey{Id: uint64(id), NextHopGroup: g},
			},
		})
	}

	if a.Includes(constants.NEXTHOP) {
		sorted := make([]route.NextHopID, 0, len(nhIDs))
		for id := range nhIDs {
			sorted = append(sorted, id)
		}
		slices.Sort(sorted)
		for _, id := range sorted {
			nh, _ := fi.IDToNextHopMap().Get(id)
			entries = append(entries, &spb.AFTEntry{
				NetworkInstance: ni,
				Entry: &spb.AFTEntry_NextHop{
					NextHop: &aftpb.Afts_NextHopKey{Index: uint64(id), NextHop: nextHopProto(nh)},
				},
			})
		}
	}
	if a.Includes(constants.NEXTHOPGROUP) {
		entries = append(entries, groups...)
	}
	return entries, nil
}

func nextHopProto(nh route.NextHop) *aftpb.Afts_NextHop {
	p := &aftpb.Afts_NextHop{}
	if nh.Addr().IsValid() {
		p.IpAddress = &wpb.StringValue{Value: nh.Addr().String()}
	}
	if nh.Interface() != route.NoInterface {
		p.InterfaceRef = &aftpb.Afts_NextHop_InterfaceRef{
			Interface: &wpb.StringValue{Value: InterfaceName(nh.Interface())},
		}
	}
	return p
}

// AFTs returns the AFT programmed for vrf in fi.
func AFTs(fi *state.FibInfo, vrf route.RouterID) (*aftpb.Afts, error) {
	entries, err := Entries(fi, vrf, constants.ALL)
	if err != nil {
		return nil, err
	}
	a := &aftpb.Afts{}
	for _, e := range entries {
		switch t := e.GetEntry().(type) {
		case *spb.AFTEntry_Ipv4:
			a.Ipv4Entry = append(a.Ipv4Entry, t.Ipv4)
		case *spb.AFTEntry_Ipv6:
			a.Ipv6Entry = append(a.Ipv6Entry, t.Ipv6)
		case *spb.AFTEntry_NextHop:
			a.NextHop = append(a.NextHop, t.NextHop)
		case *spb.AFTEntry_NextHopGroup:
			a.NextHopGroup = append(a.NextHopGroup, t.NextHopGroup)
		}
	}
	return a, nil
}

// NextHopSummary provides a summary of a next-hop for a particular entry.
type NextHopSummary struct {
	// Weight is the share of traffic that the next-hop gets.
	Weight uint64 `json:"weight"`
	// Address is the IP address of the next-hop.
	Address string `json:"address"`
	// NetworkInstance is the network instance within which the address was resolved.
	NetworkInstance string `json:"network-instance"`
	// Interfaces are the egress interfaces of the next-hop.
	Interfaces []string `json:"interfaces"`
}

// NextHopAddrsForPrefix returns the next-hops that prefix is programmed with
// in the network instance netinst of fibs, keyed by next-hop IP address.
// The weights are those of the programmed, possibly normalized, set. A
// next-hop address reached over several interfaces is summarised once with
// the weights summed.
func NextHopAddrsForPrefix(fibs *state.MultiSwitchFibInfoMap, netinst, prefix string) (map[string]*NextHopSummary, error) {
	vrf, err := ParseNetworkInstance(netinst)
	if err != nil {
		return nil, err
	}
	p, err := netip.ParsePrefix(prefix)
	if err != nil {
		return nil, fmt.Errorf("invalid prefix %q, %v", prefix, err)
	}
	fi, ok := fibs.FibInfoForVRF(vrf)
	if !ok {
		return nil, fmt.Errorf("network instance %s does not exist", netinst)
	}
	c, _ := fi.FibContainerIf(vrf)
	r, ok := c.Fib(route.PrefixFamily(p)).ExactMatch(route.CanonicalPrefix(p))
	if !ok {
		return nil, fmt.Errorf("cannot find prefix %s in network instance %s", prefix, netinst)
	}
	id, ok := programmedSetID(r.ForwardInfo())
	if !ok {
		return nil, fmt.Errorf("prefix %s is programmed with action %s, not next-hops", prefix, r.ForwardInfo().Action())
	}
	nhs, err := fi.ResolveNextHopSet(id)
	if err != nil {
		return nil, err
	}

	ret := map[string]*NextHopSummary{}
	for _, nh := range nhs {
		addr := nh.Addr().String()
		s, ok := ret[addr]
		if !ok {
			s = &NextHopSummary{Address: addr, NetworkInstance: netinst}
			ret[addr] = s
		}
		s.Weight += nh.Weight()
		if nh.Interface() != route.NoInterface {
			s.Interfaces = append(s.Interfaces, InterfaceName(nh.Interface()))
		}
	}
	for _, s := range ret {
		sort.Strings(s.Interfaces)
	}
	return ret, nil
}
