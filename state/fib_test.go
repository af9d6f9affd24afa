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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openconfig/fibsync/route"
)

func mustNHRoute(t testing.TB, pfx, nh string, intf route.InterfaceID) route.Route {
	t.Helper()
	e, err := route.NextHopsEntry(route.NextHopSet{route.ResolvedNextHop(route.MustAddr(nh), intf, 0)}, route.Static)
	if err != nil {
		t.Fatalf("cannot build entry, %v", err)
	}
	return route.NewRoute(route.MustPrefix(pfx), e)
}

func prefixes(rs []route.Route) []string {
	var out []string
	for _, r := range rs {
		out = append(out, r.Prefix().String())
	}
	return out
}

func TestFIBLookups(t *testing.T) {
	f := NewForwardingInformationBase(0, route.IPv4)
	for _, r := range []route.Route{
		mustNHRoute(t, "10.0.0.0/8", "192.0.2.1", 1),
		mustNHRoute(t, "10.1.0.0/16", "192.0.2.2", 2),
		route.NewRoute(route.MustPrefix("0.0.0.0/0"), route.DropEntry(route.Static)),
		mustNHRoute(t, "10.1.1.0/24", "192.0.2.3", 3),
	} {
		if err := f.AddRoute(r); err != nil {
			t.Fatalf("AddRoute(%s): got unexpected error, %v", r, err)
		}
	}

	if got, want := f.Size(), 4; got != want {
		t.Fatalf("Size(): got: %d, want: %d", got, want)
	}
	if diff := cmp.Diff(prefixes(f.Routes()), []string{"0.0.0.0/0", "10.0.0.0/8", "10.1.0.0/16", "10.1.1.0/24"}); diff != "" {
		t.Fatalf("Routes(): did not get expected order, diff(-got,+want):\n%s", diff)
	}

	lpmTests := []struct {
		in   string
		want string
	}{
		{in: "10.1.1.1", want: "10.1.1.0/24"},
		{in: "10.1.2.1", want: "10.1.0.0/16"},
		{in: "10.2.0.1", want: "10.0.0.0/8"},
		{in: "192.168.0.1", want: "0.0.0.0/0"},
	}
	for _, tt := range lpmTests {
		got, ok := f.LongestMatch(route.MustAddr(tt.in))
		if !ok || got.Prefix().String() != tt.want {
			t.Errorf("LongestMatch(%s): got: %s, %v, want: %s", tt.in, got.Prefix(), ok, tt.want)
		}
	}

	if _, ok := f.ExactMatch(route.MustPrefix("10.1.1.0/25")); ok {
		t.Errorf("ExactMatch(10.1.1.0/25): got match for a prefix not in the FIB")
	}
	got, ok := f.ExactMatch(route.MustPrefix("10.1.0.0/16"))
	if !ok {
		t.Fatalf("ExactMatch(10.1.0.0/16): got no match")
	}
	if want := mustNHRoute(t, "10.1.0.0/16", "192.0.2.2", 2); !got.Equal(want) {
		t.Fatalf("ExactMatch(10.1.0.0/16): got: %s, want: %s", got, want)
	}

	replaced := mustNHRoute(t, "10.1.0.0/16", "192.0.2.9", 9)
	if err := f.AddRoute(replaced); err != nil {
		t.Fatalf("AddRoute(%s): got unexpected error, %v", replaced, err)
	}
	if got, _ := f.ExactMatch(replaced.Prefix()); !got.Equal(replaced) || f.Size() != 4 {
		t.Fatalf("AddRoute did not replace existing route, got: %s, size %d", got, f.Size())
	}

	if !f.RemoveRoute(route.MustPrefix("10.1.0.0/16")) {
		t.Fatalf("RemoveRoute(10.1.0.0/16): got false, want true")
	}
	if f.RemoveRoute(route.MustPrefix("10.1.0.0/16")) {
		t.Fatalf("RemoveRoute(10.1.0.0/16) twice: got true, want false")
	}
	if got, want := f.Size(), 3; got != want {
		t.Fatalf("Size() after remove: got: %d, want: %d", got, want)
	}

	if err := f.AddRoute(mustNHRoute(t, "2001:db8::/32", "2001:db8::1", 1)); err == nil {
		t.Fatalf("AddRoute(ipv6 route to ipv4 FIB): did not get expected error")
	}
}

func TestFIBCloneIsIndependent(t *testing.T) {
	f := NewForwardingInformationBase(1, route.IPv6)
	if err := f.AddRoute(mustNHRoute(t, "2001:db8::/32", "fe80::1", 1)); err != nil {
		t.Fatalf("AddRoute: got unexpected error, %v", err)
	}
	f.publish()

	c := f.clone()
	if err := c.AddRoute(mustNHRoute(t, "2001:db8:1::/48", "fe80::2", 2)); err != nil {
		t.Fatalf("AddRoute on clone: got unexpected error, %v", err)
	}
	if got, want := f.Size(), 1; got != want {
		t.Fatalf("original size changed, got: %d, want: %d", got, want)
	}
	if _, ok := f.ExactMatch(route.MustPrefix("2001:db8:1::/48")); ok {
		t.Fatalf("route added to clone is visible in the original")
	}
	if f.Equal(c) {
		t.Fatalf("Equal: clone with an extra route is equal to the original")
	}
}

func TestContainerSetFibs(t *testing.T) {
	c := NewForwardingInformationBaseContainer(3)
	v4 := NewForwardingInformationBase(3, route.IPv4)
	v6 := NewForwardingInformationBase(3, route.IPv6)

	if err := c.SetFibs(v6, v4); err == nil {
		t.Errorf("SetFibs with swapped families: did not get expected error")
	}
	if err := c.SetFibs(NewForwardingInformationBase(4, route.IPv4), v6); err == nil {
		t.Errorf("SetFibs with wrong VRF: did not get expected error")
	}
	if c.FibV4() == v4 || c.FibV6() == v6 {
		t.Errorf("failed SetFibs changed the container")
	}
	if err := c.SetFibs(v4, v6); err != nil {
		t.Fatalf("SetFibs: got unexpected error, %v", err)
	}
	if c.FibV4() != v4 || c.FibV6() != v6 {
		t.Fatalf("SetFibs: FIBs were not replaced")
	}
}
