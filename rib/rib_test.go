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

package rib

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openconfig/fibsync/constants"
	"github.com/openconfig/fibsync/route"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestIsResolved(t *testing.T) {
	tests := []struct {
		desc string
		in   *Entry
		want bool
	}{{
		desc: "drop",
		in:   &Entry{Action: route.Drop},
		want: true,
	}, {
		desc: "to cpu",
		in:   &Entry{Action: route.ToCPU},
		want: true,
	}, {
		desc: "next-hops with interfaces",
		in: &Entry{Action: route.NextHops, NextHops: []NextHop{
			{Address: route.MustAddr("1.1.1.1"), Interface: 1},
			{Address: route.MustAddr("1.1.1.2"), Interface: 2},
		}},
		want: true,
	}, {
		desc: "next-hop without an interface",
		in: &Entry{Action: route.NextHops, NextHops: []NextHop{
			{Address: route.MustAddr("1.1.1.1"), Interface: 1},
			{Address: route.MustAddr("1.1.1.2")},
		}},
	}, {
		desc: "no next-hops",
		in:   &Entry{Action: route.NextHops},
	}, {
		desc: "no action",
		in:   &Entry{},
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if got := tt.in.IsResolved(); got != tt.want {
				t.Fatalf("IsResolved(): got %v, want: %v", got, tt.want)
			}
		})
	}
}

func TestAdd(t *testing.T) {
	tests := []struct {
		desc    string
		inPfx   netip.Prefix
		inEntry *Entry
		wantErr bool
	}{{
		desc:    "drop",
		inPfx:   route.MustPrefix("0.0.0.0/0"),
		inEntry: &Entry{Action: route.Drop, Distance: route.Static},
	}, {
		desc:  "next-hops",
		inPfx: route.MustPrefix("2001:db8::/32"),
		inEntry: &Entry{Action: route.NextHops, NextHops: []NextHop{
			{Address: route.MustAddr("fe80::1"), Interface: 3},
		}},
	}, {
		desc:    "nil entry",
		inPfx:   route.MustPrefix("1.0.0.0/8"),
		wantErr: true,
	}, {
		desc:    "invalid prefix",
		inEntry: &Entry{Action: route.Drop},
		wantErr: true,
	}, {
		desc:    "next-hops entry without next-hops",
		inPfx:   route.MustPrefix("1.0.0.0/8"),
		inEntry: &Entry{Action: route.NextHops},
		wantErr: true,
	}, {
		desc:  "drop entry with next-hops",
		inPfx: route.MustPrefix("1.0.0.0/8"),
		inEntry: &Entry{Action: route.Drop, NextHops: []NextHop{
			{Address: route.MustAddr("1.1.1.1"), Interface: 1},
		}},
		wantErr: true,
	}, {
		desc:    "invalid action",
		inPfx:   route.MustPrefix("1.0.0.0/8"),
		inEntry: &Entry{},
		wantErr: true,
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			r := New()
			v, _ := r.VRFRIB(route.DefaultVRF)
			if err := v.Add(tt.inPfx, tt.inEntry); (err != nil) != tt.wantErr {
				t.Fatalf("Add(%s, %v): got unexpected error, got: %v, wantErr? %v", tt.inPfx, tt.inEntry, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			got, ok := v.Get(tt.inPfx)
			if !ok {
				t.Fatalf("Get(%s): did not find added entry", tt.inPfx)
			}
			if got != tt.inEntry {
				t.Fatalf("Get(%s): got %v, want: %v", tt.inPfx, got, tt.inEntry)
			}
		})
	}
}

// netipComparers compare netip values, which have no exported fields.
var netipComparers = []cmp.Option{
	cmp.Comparer(func(a, b netip.Prefix) bool { return a == b }),
	cmp.Comparer(func(a, b netip.Addr) bool { return a == b }),
	cmp.Comparer(func(a, b route.LabelForwardingAction) bool { return a == b }),
}

type hookCall struct {
	Op     constants.OpType
	TS     int64
	VRF    route.RouterID
	Prefix netip.Prefix
}

func TestHook(t *testing.T) {
	orig := unixTS
	unixTS = func() int64 { return 42 }
	defer func() { unixTS = orig }()

	var got []hookCall
	r := New(WithHook(func(o constants.OpType, ts int64, vrf route.RouterID, p netip.Prefix, _ *Entry) {
		got = append(got, hookCall{Op: o, TS: ts, VRF: vrf, Prefix: p})
	}))
	if err := r.AddVRF(7); err != nil {
		t.Fatalf("AddVRF(7): got unexpected error, %v", err)
	}
	if err := r.AddVRF(7); err == nil {
		t.Fatalf("AddVRF(7) again: did not get expected error")
	}
	v, _ := r.VRFRIB(7)
	drop := &Entry{Action: route.Drop}
	if err := v.Add(route.MustPrefix("10.1.1.1/8"), drop); err != nil {
		t.Fatalf("Add: got unexpected error, %v", err)
	}
	if err := v.Add(route.MustPrefix("10.0.0.0/8"), drop); err != nil {
		t.Fatalf("Add: got unexpected error, %v", err)
	}
	if err := v.Delete(route.MustPrefix("10.0.0.0/8")); err != nil {
		t.Fatalf("Delete: got unexpected error, %v", err)
	}
	err := v.Delete(route.MustPrefix("10.0.0.0/8"))
	if s, _ := status.FromError(err); s.Code() != codes.NotFound {
		t.Fatalf("Delete of a missing prefix: got %v, want NotFound", err)
	}

	pfx := route.MustPrefix("10.0.0.0/8")
	want := []hookCall{
		{Op: constants.ADD, TS: 42, VRF: 7, Prefix: pfx},
		{Op: constants.REPLACE, TS: 42, VRF: 7, Prefix: pfx},
		{Op: constants.DELETE, TS: 42, VRF: 7, Prefix: pfx},
	}
	if diff := cmp.Diff(got, want, netipComparers...); diff != "" {
		t.Fatalf("did not get expected hook calls, diff(-got,+want):\n%s", diff)
	}
}

func TestRoutesOrdered(t *testing.T) {
	f := NewFake()
	for _, p := range []string{"10.0.0.0/16", "2001:db8::/32", "10.0.0.0/8", "1.0.0.0/24", "0.0.0.0/0"} {
		if err := f.InjectDrop(route.DefaultVRF, p, route.Static); err != nil {
			t.Fatalf("InjectDrop(%s): got unexpected error, %v", p, err)
		}
	}
	v, _ := f.RIB().VRFRIB(route.DefaultVRF)
	var got []string
	for _, r := range v.Routes(route.IPv4) {
		got = append(got, r.Prefix.String())
	}
	want := []string{"0.0.0.0/0", "1.0.0.0/24", "10.0.0.0/8", "10.0.0.0/16"}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Fatalf("Routes(IPv4): did not get expected order, diff(-got,+want):\n%s", diff)
	}
	if got := v.Len(route.IPv6); got != 1 {
		t.Fatalf("Len(IPv6): got %d, want: 1", got)
	}
}
