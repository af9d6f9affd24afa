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

package gnmit

import (
	"fmt"
	"strconv"

	"github.com/openconfig/fibsync/afthelper"
	"github.com/openconfig/fibsync/constants"
	"github.com/openconfig/fibsync/route"
	"github.com/openconfig/fibsync/state"
	"github.com/openconfig/gnmi/value"

	gpb "github.com/openconfig/gnmi/proto/gnmi"
)

// aftPath returns the path of the AFTs of the network instance ni followed
// by elems.
func aftPath(ni string, elems ...*gpb.PathElem) *gpb.Path {
	p := &gpb.Path{Elem: []*gpb.PathElem{
		{Name: "network-instances"},
		{Name: "network-instance", Key: map[string]string{"name": ni}},
		{Name: "afts"},
	}}
	p.Elem = append(p.Elem, elems...)
	return p
}

func leaf(p *gpb.Path, names ...string) *gpb.Path {
	n := &gpb.Path{Elem: append([]*gpb.PathElem{}, p.Elem...)}
	for _, name := range names {
		n.Elem = append(n.Elem, &gpb.PathElem{Name: name})
	}
	return n
}

func entryPath(vrf route.RouterID, p route.Route) *gpb.Path {
	list, entry := "ipv4-unicast", "ipv4-entry"
	if p.Family() == route.IPv6 {
		list, entry = "ipv6-unicast", "ipv6-entry"
	}
	return aftPath(afthelper.NetworkInstanceName(vrf),
		&gpb.PathElem{Name: list},
		&gpb.PathElem{Name: entry, Key: map[string]string{"prefix": p.Prefix().String()}})
}

func nextHopPath(id route.NextHopID) *gpb.Path {
	return aftPath(afthelper.DefaultNetworkInstance,
		&gpb.PathElem{Name: "next-hops"},
		&gpb.PathElem{Name: "next-hop", Key: map[string]string{"index": strconv.FormatUint(uint64(id), 10)}})
}

func nextHopGroupPath(id route.NextHopSetID) *gpb.Path {
	return aftPath(afthelper.DefaultNetworkInstance,
		&gpb.PathElem{Name: "next-hop-groups"},
		&gpb.PathElem{Name: "next-hop-group", Key: map[string]string{"id": strconv.FormatUint(uint64(id), 10)}})
}

// notifier accumulates updates for one notification.
type notifier struct {
	upd []*gpb.Update
	del []*gpb.Path
	err error
}

func (n *notifier) update(p *gpb.Path, v any) {
	if n.err != nil {
		return
	}
	tv, err := value.FromScalar(v)
	if err != nil {
		n.err = fmt.Errorf("cannot encode %v for %v, %v", v, p, err)
		return
	}
	n.upd = append(n.upd, &gpb.Update{Path: p, Val: tv})
}

func (n *notifier) delete(p *gpb.Path) {
	n.del = append(n.del, p)
}

// programmedSetID returns the ID of the next-hop set that r is programmed
// with.
func programmedSetID(r *route.Route) (route.NextHopSetID, bool) {
	if r == nil {
		return 0, false
	}
	fwd := r.ForwardInfo()
	if id, ok := fwd.NormalizedResolvedNextHopSetID(); ok {
		return id, true
	}
	return fwd.ResolvedNextHopSetID()
}

func (n *notifier) route(rd state.RouteDelta) {
	if rd.Op == constants.DELETE {
		n.delete(entryPath(rd.VRF, *rd.Old))
		return
	}
	p := entryPath(rd.VRF, *rd.New)
	n.update(leaf(p, "state", "prefix"), rd.New.Prefix().String())
	n.update(leaf(p, "state", "origin-protocol"), originProtocol(*rd.New))
	id, ok := programmedSetID(rd.New)
	switch {
	case ok:
		n.update(leaf(p, "state", "next-hop-group"), uint64(id))
		if rd.VRF != route.DefaultVRF {
			n.update(leaf(p, "state", "next-hop-group-network-instance"), afthelper.DefaultNetworkInstance)
		}
	case rd.Op == constants.REPLACE:
		if _, had := programmedSetID(rd.Old); had {
			n.delete(leaf(p, "state", "next-hop-group"))
			n.delete(leaf(p, "state", "next-hop-group-network-instance"))
		}
	}
}

// originProtocol returns the OpenConfig name of the protocol that r was
// learnt from, as implied by its admin distance.
func originProtocol(r route.Route) string {
	if r.IsConnected() {
		return "DIRECTLY_CONNECTED"
	}
	switch r.ForwardInfo().AdminDistance() {
	case route.Static:
		return "STATIC"
	case route.EBGP, route.IBGP:
		return "BGP"
	}
	return "UNSET"
}

func (n *notifier) nextHop(d state.NextHopDelta) {
	p := nextHopPath(d.ID)
	if d.Op == constants.DELETE {
		n.delete(p)
		return
	}
	n.update(leaf(p, "state", "index"), uint64(d.ID))
	if d.NextHop.Addr().IsValid() {
		n.update(leaf(p, "state", "ip-address"), d.NextHop.Addr().String())
	}
	if d.NextHop.Interface() != route.NoInterface {
		n.update(leaf(p, "interface-ref", "state", "interface"), afthelper.InterfaceName(d.NextHop.Interface()))
	}
}

func (n *notifier) nextHopGroup(d state.NextHopSetDelta, nhs *state.IDToNextHopMap) {
	p := nextHopGroupPath(d.ID)
	if d.Op == constants.DELETE {
		n.delete(p)
		return
	}
	n.update(leaf(p, "state", "id"), uint64(d.ID))
	for _, id := range d.Set {
		m := leaf(p, "next-hops")
		m.Elem = append(m.Elem, &gpb.PathElem{Name: "next-hop", Key: map[string]string{"index": strconv.FormatUint(uint64(id), 10)}})
		n.update(leaf(m, "state", "index"), uint64(id))
		if nh, ok := nhs.Get(id); ok {
			n.update(leaf(m, "state", "weight"), nh.Weight())
		}
	}
}

// Notifications returns the gNMI notification for target at time ts that
// moves a telemetry cache from the old to the new state of d. Next-hops and
// next-hop groups are reported in the default network instance since their
// IDs are shared by all VRFs. It returns nil if d is empty.
func Notifications(target string, ts int64, d *state.StateDelta) (*gpb.Notification, error) {
	n := &notifier{}
	sets := d.NextHopSetDeltas()
	nhs := d.NextHopDeltas()

	for _, nd := range nhs {
		if nd.Op != constants.DELETE {
			n.nextHop(nd)
		}
	}
	for _, sd := range sets {
		if sd.Op == constants.DELETE {
			continue
		}
		fi, ok := d.New().FibsInfoMap().Get(sd.Switch)
		if !ok {
			return nil, fmt.Errorf("next-hop set %d added to unknown switch %s", sd.ID, sd.Switch)
		}
		n.nextHopGroup(sd, fi.IDToNextHopMap())
	}
	for _, rd := range d.RouteDeltas() {
		n.route(rd)
	}
	for _, sd := range sets {
		if sd.Op == constants.DELETE {
			n.nextHopGroup(sd, nil)
		}
	}
	for _, nd := range nhs {
		if nd.Op == constants.DELETE {
			n.nextHop(nd)
		}
	}

	if n.err != nil {
		return nil, n.err
	}
	if len(n.upd) == 0 && len(n.del) == 0 {
		return nil, nil
	}
	return &gpb.Notification{
		Timestamp: ts,
		Prefix:    &gpb.Path{Target: target},
		Update:    n.upd,
		Delete:    n.del,
	}, nil
}
