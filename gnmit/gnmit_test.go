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
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/openconfig/fibsync/rib"
	"github.com/openconfig/fibsync/route"
	"github.com/openconfig/fibsync/state"
	"github.com/openconfig/fibsync/testcommon"
	"github.com/openconfig/fibsync/updater"
	"github.com/openconfig/gnmi/value"
	"github.com/openconfig/ygot/ygot"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/prototext"

	gpb "github.com/openconfig/gnmi/proto/gnmi"
)

func mustPath(s string) *gpb.Path {
	p, err := ygot.StringToStructuredPath(s)
	if err != nil {
		panic(fmt.Sprintf("cannot parse subscription path %s, %v", s, err))
	}
	return p
}

func mustTargetPath(t, s string) *gpb.Path {
	p := mustPath(s)
	p.Target = t
	return p
}

func mustToScalar(t *gpb.TypedValue) interface{} {
	v, err := value.ToScalar(t)
	if err != nil {
		panic(fmt.Sprintf("cannot convert %s to scalar, %v", t, err))
	}
	return v
}

// pathString renders p with the keys of each element in sorted order.
func pathString(p *gpb.Path) string {
	var b strings.Builder
	for _, e := range p.GetElem() {
		b.WriteString("/" + e.GetName())
		for _, k := range slices.Sorted(maps.Keys(e.GetKey())) {
			fmt.Fprintf(&b, "[%s=%s]", k, e.GetKey()[k])
		}
	}
	return b.String()
}

type updateType int64

const (
	_ updateType = iota
	VAL
	SYNC
	DEL
)

type upd struct {
	T    updateType
	TS   int64
	Path string
	Val  interface{}
}

func (u *upd) String() string {
	b := &bytes.Buffer{}
	b.WriteString("<")
	switch u.T {
	case VAL:
		b.WriteString(fmt.Sprintf("value, @%d %s=%v", u.TS, u.Path, u.Val))
	case SYNC:
		b.WriteString("syncresponse")
	case DEL:
		b.WriteString(fmt.Sprintf("delete @%d %s", u.TS, u.Path))
	}
	b.WriteString(">")
	return b.String()
}

func notificationUpds(n *gpb.Notification) []*upd {
	ret := []*upd{}
	for _, u := range n.GetUpdate() {
		ret = append(ret, &upd{T: VAL, TS: n.GetTimestamp(), Path: pathString(u.Path), Val: mustToScalar(u.Val)})
	}
	for _, d := range n.GetDelete() {
		ret = append(ret, &upd{T: DEL, TS: n.GetTimestamp(), Path: pathString(d)})
	}
	return ret
}

func toUpd(r *gpb.SubscribeResponse) []*upd {
	switch v := r.Response.(type) {
	case *gpb.SubscribeResponse_SyncResponse:
		return append([]*upd{}, &upd{T: SYNC})
	case *gpb.SubscribeResponse_Update:
		return notificationUpds(v.Update)
	}
	return nil
}

const (
	defNI   = "/network-instances/network-instance[name=DEFAULT]/afts"
	vrf2NI  = "/network-instances/network-instance[name=VRF-2]/afts"
	nh1     = defNI + "/next-hops/next-hop[index=1]"
	connPfx = defNI + "/ipv4-unicast/ipv4-entry[prefix=1.1.1.0/24]"
	vrf2Pfx = vrf2NI + "/ipv4-unicast/ipv4-entry[prefix=10.0.0.0/8]"
)

var (
	set1 = uint64(route.FirstNextHopSetID)
	nhg1 = fmt.Sprintf("%s/next-hop-groups/next-hop-group[id=%d]", defNI, set1)
)

// connectedUpds are the values written for a default VRF that holds only
// 1.1.1.0/24, connected through 1.1.1.1 on interface 1.
func connectedUpds(ts int64) []*upd {
	return []*upd{
		{T: VAL, TS: ts, Path: nh1 + "/state/index", Val: uint64(1)},
		{T: VAL, TS: ts, Path: nh1 + "/state/ip-address", Val: "1.1.1.1"},
		{T: VAL, TS: ts, Path: nh1 + "/interface-ref/state/interface", Val: "1"},
		{T: VAL, TS: ts, Path: nhg1 + "/state/id", Val: set1},
		{T: VAL, TS: ts, Path: nhg1 + "/next-hops/next-hop[index=1]/state/index", Val: uint64(1)},
		{T: VAL, TS: ts, Path: nhg1 + "/next-hops/next-hop[index=1]/state/weight", Val: uint64(0)},
		{T: VAL, TS: ts, Path: connPfx + "/state/prefix", Val: "1.1.1.0/24"},
		{T: VAL, TS: ts, Path: connPfx + "/state/origin-protocol", Val: "DIRECTLY_CONNECTED"},
		{T: VAL, TS: ts, Path: connPfx + "/state/next-hop-group", Val: set1},
	}
}

func connectedRIB(t *testing.T) *rib.RIB {
	t.Helper()
	f := rib.NewFake()
	if err := f.InjectConnected(route.DefaultVRF, "1.1.1.0/24", "1.1.1.1", 1); err != nil {
		t.Fatalf("cannot build RIB, %v", err)
	}
	return f.RIB()
}

func TestNotifications(t *testing.T) {
	r := connectedRIB(t)
	p := testcommon.Program(t, r)

	var deltas []*state.StateDelta
	if err := p.Store.AddObserver("test", func(d *state.StateDelta) { deltas = append(deltas, d) }); err != nil {
		t.Fatalf("AddObserver(): got unexpected error, %v", err)
	}
	sync := func(vrf route.RouterID) {
		v, _ := r.VRFRIB(vrf)
		if err := updater.Sync(p.Store, p.Mgr, route.DefaultNormalizeConfig(), state.DefaultSwitchKey, v); err != nil {
			t.Fatalf("Sync(%d): got unexpected error, %v", vrf, err)
		}
	}
	inject := func(vrf route.RouterID, pfx string, e *rib.Entry) {
		v, ok := r.VRFRIB(vrf)
		if !ok {
			if err := r.AddVRF(vrf); err != nil {
				t.Fatalf("AddVRF(%d): got unexpected error, %v", vrf, err)
			}
			v, _ = r.VRFRIB(vrf)
		}
		if err := v.Add(route.MustPrefix(pfx), e); err != nil {
			t.Fatalf("Add(%s): got unexpected error, %v", pfx, err)
		}
		sync(vrf)
	}

	initial := state.NewStateDelta(nil, p.Store.Current())
	// A route in VRF 2 that shares the connected route's next-hops.
	inject(2, "10.0.0.0/8", &rib.Entry{
		Action:   route.NextHops,
		Distance: route.Static,
		NextHops: []rib.NextHop{testcommon.NH("1.1.1.1", 1, 0)},
	})
	// The connected route becomes a drop route.
	inject(route.DefaultVRF, "1.1.1.0/24", &rib.Entry{Action: route.Drop, Distance: route.EBGP})
	// Removing the last reference frees the IDs.
	v2, _ := r.VRFRIB(2)
	if err := v2.Delete(route.MustPrefix("10.0.0.0/8")); err != nil {
		t.Fatalf("Delete(): got unexpected error, %v", err)
	}
	sync(2)

	if len(deltas) != 3 {
		t.Fatalf("did not get expected number of deltas, got: %d, want: 3", len(deltas))
	}

	tests := []struct {
		desc    string
		inDelta *state.StateDelta
		want    []*upd
	}{{
		desc:    "initial state",
		inDelta: initial,
		want:    connectedUpds(42),
	}, {
		desc:    "route sharing a next-hop group in another VRF",
		inDelta: deltas[0],
		want: []*upd{
			{T: VAL, TS: 42, Path: vrf2Pfx + "/state/prefix", Val: "10.0.0.0/8"},
			{T: VAL, TS: 42, Path: vrf2Pfx + "/state/origin-protocol", Val: "STATIC"},
			{T: VAL, TS: 42, Path: vrf2Pfx + "/state/next-hop-group", Val: set1},
			{T: VAL, TS: 42, Path: vrf2Pfx + "/state/next-hop-group-network-instance", Val: "DEFAULT"},
		},
	}, {
		desc:    "route replaced by a drop route",
		inDelta: deltas[1],
		want: []*upd{
			{T: VAL, TS: 42, Path: connPfx + "/state/prefix", Val: "1.1.1.0/24"},
			{T: VAL, TS: 42, Path: connPfx + "/state/origin-protocol", Val: "BGP"},
			{T: DEL, TS: 42, Path: connPfx + "/state/next-hop-group"},
			{T: DEL, TS: 42, Path: connPfx + "/state/next-hop-group-network-instance"},
		},
	}, {
		desc:    "last reference removed",
		inDelta: deltas[2],
		want: []*upd{
			{T: DEL, TS: 42, Path: vrf2Pfx},
			{T: DEL, TS: 42, Path: nhg1},
			{T: DEL, TS: 42, Path: nh1},
		},
	}, {
		desc:    "no change",
		inDelta: state.NewStateDelta(p.Store.Current(), p.Store.Current()),
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			n, err := Notifications("local", 42, tt.inDelta)
			if err != nil {
				t.Fatalf("Notifications(): got unexpected error, %v", err)
			}
			var got []*upd
			if n != nil {
				if n.GetPrefix().GetTarget() != "local" {
					t.Errorf("Notifications(): got target %q, want: local", n.GetPrefix().GetTarget())
				}
				got = notificationUpds(n)
			}
			if diff := cmp.Diff(got, tt.want, cmpopts.EquateEmpty()); diff != "" {
				t.Fatalf("Notifications(): did not get expected updates, diff(-got,+want):\n%s", diff)
			}
		})
	}
}

// subscribeOnce returns the updates received by a ONCE subscription to
// path at the collector listening on addr.
func subscribeOnce(t *testing.T, addr, path string) []*upd {
	t.Helper()
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("cannot dial gNMI server, %v", err)
	}
	defer conn.Close()

	client := gpb.NewGNMIClient(conn)
	subc, err := client.Subscribe(context.Background())
	if err != nil {
		t.Fatalf("cannot subscribe, %v", err)
	}
	sr := &gpb.SubscribeRequest{
		Request: &gpb.SubscribeRequest_Subscribe{
			Subscribe: &gpb.SubscriptionList{
				Prefix: mustTargetPath("local", ""),
				Mode:   gpb.SubscriptionList_ONCE,
				Subscription: []*gpb.Subscription{{
					Path: mustPath(path),
				}},
			},
		},
	}
	if err := subc.Send(sr); err != nil {
		t.Fatalf("cannot send subscribe request %s, %v", prototext.Format(sr), err)
	}

	got := []*upd{}
	for {
		in, err := subc.Recv()
		if err == io.EOF {
			return got
		}
		if err != nil {
			t.Fatalf("got unexpected recv error, %v", err)
		}
		got = append(got, toUpd(in)...)
	}
}

var sortUpds = cmpopts.SortSlices(func(a, b *upd) bool {
	if a.T != b.T {
		return a.T < b.T
	}
	return a.Path < b.Path
})

// TestONCE tests the subscribe mode of gnmit.
func TestONCE(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, addr, err := New(ctx, "localhost:0", "local", false)
	if err != nil {
		t.Fatalf("cannot start server, got err: %v", err)
	}
	defer c.Stop()

	c.TargetUpdate(&gpb.SubscribeResponse{
		Response: &gpb.SubscribeResponse_Update{
			Update: &gpb.Notification{
				Prefix:    mustTargetPath("local", ""),
				Timestamp: 42,
				Update: []*gpb.Update{{
					Path: mustPath("/hello"),
					Val:  &gpb.TypedValue{Value: &gpb.TypedValue_StringVal{StringVal: "world"}},
				}},
			},
		},
	})
	c.Sync()

	got := subscribeOnce(t, addr, "/hello")
	if diff := cmp.Diff(got, []*upd{{
		T:    VAL,
		TS:   42,
		Path: "/hello",
		Val:  "world",
	}, {
		T: SYNC,
	}}); diff != "" {
		t.Fatalf("did not get expected updates, diff(-got,+want)\n:%s", diff)
	}
	if err := c.Err(); err != nil {
		t.Fatalf("Err(): got unexpected error, %v", err)
	}
}

func TestLoadAndObserve(t *testing.T) {
	orig := unixTS
	unixTS = func() int64 { return 42 }
	defer func() { unixTS = orig }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c, addr, err := New(ctx, "localhost:0", "local", false)
	if err != nil {
		t.Fatalf("cannot start server, got err: %v", err)
	}
	defer c.Stop()

	r := connectedRIB(t)
	p := testcommon.Program(t, r)
	c.Load(p.Store.Current())

	want := append(connectedUpds(42), &upd{T: SYNC})
	if diff := cmp.Diff(subscribeOnce(t, addr, "/network-instances"), want, sortUpds); diff != "" {
		t.Fatalf("after Load: did not get expected updates, diff(-got,+want)\n:%s", diff)
	}

	if err := p.Store.AddObserver("gnmi", c.Observe); err != nil {
		t.Fatalf("AddObserver(): got unexpected error, %v", err)
	}
	unixTS = func() int64 { return 43 }
	v, _ := r.VRFRIB(route.DefaultVRF)
	if err := v.Delete(route.MustPrefix("1.1.1.0/24")); err != nil {
		t.Fatalf("Delete(): got unexpected error, %v", err)
	}
	if err := updater.Sync(p.Store, p.Mgr, route.DefaultNormalizeConfig(), state.DefaultSwitchKey, v); err != nil {
		t.Fatalf("Sync(): got unexpected error, %v", err)
	}
	if diff := cmp.Diff(subscribeOnce(t, addr, "/network-instances"), []*upd{{T: SYNC}}, sortUpds); diff != "" {
		t.Fatalf("after delete: did not get expected updates, diff(-got,+want)\n:%s", diff)
	}
}
