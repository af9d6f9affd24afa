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

// Package route defines the hardware-facing forwarding types that are stored
// in a FIB: prefixes, next-hops, next-hop sets, the forwarding decision for a
// prefix and the identities that are assigned to next-hops and next-hop sets.
//
// All types in this package are values - once a Route or RouteNextHopEntry
// has been constructed it is never changed, a new value is built instead.
package route

import (
	"fmt"
	"net/netip"
)

// RouterID identifies a virtual routing and forwarding (VRF) domain.
type RouterID uint32

// DefaultVRF is the RouterID of the default routing domain.
const DefaultVRF RouterID = 0

// InterfaceID identifies an L3 interface that a resolved next-hop egresses.
type InterfaceID uint32

// NoInterface is the zero InterfaceID, it is never assigned to a real
// interface and is used to indicate that a next-hop is unresolved.
const NoInterface InterfaceID = 0

// ClassID is a lookup class that can be attached to a route for use by
// ACLs.
type ClassID uint32

// AdminDistance is the tie-break metric between routes to the same prefix
// that are learnt from different sources. Lower values are preferred.
type AdminDistance uint8

const (
	// DirectlyConnected is the distance of interface (connected) routes.
	DirectlyConnected AdminDistance = 0
	// Static is the distance of statically configured routes.
	Static AdminDistance = 1
	// EBGP is the distance of routes learnt from external BGP peers.
	EBGP AdminDistance = 20
	// IBGP is the distance of routes learnt from internal BGP peers.
	IBGP AdminDistance = 200
	// MaxAdminDistance is the largest (least preferred) distance.
	MaxAdminDistance AdminDistance = 255
)

// Family is an address family.
type Family int64

const (
	_ Family = iota
	// IPv4 is the IPv4 address family.
	IPv4
	// IPv6 is the IPv6 address family.
	IPv6
)

// String returns the name of the address family.
func (f Family) String() string {
	switch f {
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	}
	return fmt.Sprintf("family(%d)", int64(f))
}

// FamilyOf returns the address family of the address a.
func FamilyOf(a netip.Addr) Family {
	if a.Is4() || a.Is4In6() {
		return IPv4
	}
	return IPv6
}

// Families lists the address families that a FIB container holds, in the
// order that they are processed.
var Families = []Family{IPv4, IPv6}
