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

package updater

import (
	"fmt"

	"github.com/openconfig/fibsync/rib"
	"github.com/openconfig/fibsync/route"
)

// ToRoute converts a resolved RIB route into the route programmed in the
// FIB. Next-hops of a NEXTHOPS entry become resolved next-hops on their
// egress interface.
func ToRoute(rr rib.Route) (route.Route, error) {
	e := rr.Entry
	if e == nil {
		return route.Route{}, fmt.Errorf("route %s has no entry", rr.Prefix)
	}
	var opts []route.EntryOpt
	if e.CounterID != "" {
		opts = append(opts, route.WithCounterID(e.CounterID))
	}
	if e.ClassID != nil {
		opts = append(opts, route.WithClassID(*e.ClassID))
	}

	var fwd route.RouteNextHopEntry
	switch e.Action {
	case route.Drop:
		fwd = route.DropEntry(e.Distance, opts...)
	case route.ToCPU:
		fwd = route.ToCPUEntry(e.Distance, opts...)
	case route.NextHops:
		nhs := make([]route.NextHop, 0, len(e.NextHops))
		for _, nh := range e.NextHops {
			if nh.Interface == route.NoInterface {
				return route.Route{}, fmt.Errorf("route %s, next-hop %s has no interface", rr.Prefix, nh.Address)
			}
			nhs = append(nhs, route.ResolvedNextHop(nh.Address, nh.Interface, nh.Weight).WithLabels(nh.Labels))
		}
		var err error
		if fwd, err = route.NextHopsEntry(route.NewNextHopSet(nhs...), e.Distance, opts...); err != nil {
			return route.Route{}, fmt.Errorf("route %s, %v", rr.Prefix, err)
		}
	default:
		return route.Route{}, fmt.Errorf("route %s has invalid action %s", rr.Prefix, e.Action)
	}
	return route.NewRoute(rr.Prefix, fwd).WithConnected(e.Connected), nil
}
