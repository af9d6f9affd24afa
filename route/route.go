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

package route

import (
	"fmt"
	"net/netip"
)

// Route is a single FIB entry, the forwarding decision for one prefix.
type Route struct {
	prefix    netip.Prefix
	fwd       RouteNextHopEntry
	connected bool
	resolved  bool
}

// NewRoute returns a resolved route for prefix p which forwards according
// to fwd. The prefix is stored in canonical form.
func NewRoute(p netip.Prefix, fwd RouteNextHopEntry) Route {
	return Route{prefix: CanonicalPrefix(p), fwd: fwd, resolved: true}
}

// WithConnected returns a copy of r with the connected flag set to c.
func (r Route) WithConnected(c bool) Route {
	r.connected = c
	return r
}

// WithResolved returns a copy of r with the resolved flag set to v.
func (r Route) WithResolved(v bool) Route {
	r.resolved = v
	return r
}

// WithForwardInfo returns a copy of r with the forwarding decision fwd.
func (r Route) WithForwardInfo(fwd RouteNextHopEntry) Route {
	r.fwd = fwd
	return r
}

// Prefix returns the prefix of the route.
func (r Route) Prefix() netip.Prefix { return r.prefix }

// Family returns the address family of the route.
func (r Route) Family() Family { return PrefixFamily(r.prefix) }

// ForwardInfo returns the forwarding decision of the route.
func (r Route) ForwardInfo() RouteNextHopEntry { return r.fwd }

// IsConnected reports whether the route is for a directly attached subnet.
func (r Route) IsConnected() bool { return r.connected }

// IsResolved reports whether the route has a usable forwarding decision.
func (r Route) IsResolved() bool { return r.resolved }

// Equal reports whether r and o are identical, including the set IDs of
// their forwarding decisions.
func (r Route) Equal(o Route) bool {
	return r.prefix == o.prefix && r.connected == o.connected && r.resolved == o.resolved && r.fwd.Equal(o.fwd)
}

// EqualIgnoringIDs reports whether r and o differ only in the set IDs of
// their forwarding decisions.
func (r Route) EqualIgnoringIDs(o Route) bool {
	return r.prefix == o.prefix && r.connected == o.connected && r.resolved == o.resolved && r.fwd.EqualIgnoringIDs(o.fwd)
}

// String returns a human readable form of the route.
func (r Route) String() string {
	s := fmt.Sprintf("%s -> %s", r.prefix, r.fwd)
	if r.connected {
		s += " connected"
	}
	return s
}
