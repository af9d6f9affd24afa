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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openconfig/fibsync/route"
)

func mustPush(t *testing.T, labels ...uint32) route.LabelForwardingAction {
	t.Helper()
	l, err := route.PushLabels(labels...)
	if err != nil {
		t.Fatalf("PushLabels(%v): got unexpected error, %v", labels, err)
	}
	return l
}

func TestFromYAML(t *testing.T) {
	classID := route.ClassID(3)
	tests := []struct {
		desc       string
		inYAML     string
		wantRoutes map[route.RouterID][]Route
		wantErr    bool
	}{{
		desc: "connected and drop routes",
		inYAML: `
vrfs:
- vrf: 0
  routes:
  - prefix: 1.1.1.0/24
    action: NEXTHOPS
    distance: 0
    connected: true
    nexthops:
    - address: 1.1.1.1
      interface: 1
  - prefix: 0.0.0.0/0
    action: drop
    distance: 255
    class_id: 3
`,
		wantRoutes: map[route.RouterID][]Route{
			0: {{
				Prefix: route.MustPrefix("0.0.0.0/0"),
				Entry:  &Entry{Action: route.Drop, Distance: route.MaxAdminDistance, ClassID: &classID},
			}, {
				Prefix: route.MustPrefix("1.1.1.0/24"),
				Entry: &Entry{
					Action:    route.NextHops,
					Distance:  route.DirectlyConnected,
					Connected: true,
					NextHops:  []NextHop{{Address: route.MustAddr("1.1.1.1"), Interface: 1}},
				},
			}},
		},
	}, {
		desc: "second VRF with labels",
		inYAML: `
vrfs:
- vrf: 2
  routes:
  - prefix: 10.0.0.1/8
    action: NEXTHOPS
    distance: 20
    counter_id: c1
    nexthops:
    - address: 192.0.2.1
      interface: 4
      weight: 3
      label_action: push
      push_labels: [100, 200]
`,
		wantRoutes: map[route.RouterID][]Route{
			0: nil,
			2: {{
				Prefix: route.MustPrefix("10.0.0.0/8"),
				Entry: &Entry{
					Action:    route.NextHops,
					Distance:  route.EBGP,
					CounterID: "c1",
					NextHops: []NextHop{{
						Address:   route.MustAddr("192.0.2.1"),
						Interface: 4,
						Weight:    3,
						Labels:    mustPush(t, 100, 200),
					}},
				},
			}},
		},
	}, {
		desc:    "unknown field",
		inYAML:  "vrfs:\n- vrf: 0\n  color: blue\n",
		wantErr: true,
	}, {
		desc:    "invalid action",
		inYAML:  "vrfs:\n- vrf: 0\n  routes:\n  - prefix: 1.0.0.0/8\n    action: FORWARD\n",
		wantErr: true,
	}, {
		desc:    "invalid next-hop address",
		inYAML:  "vrfs:\n- vrf: 0\n  routes:\n  - prefix: 1.0.0.0/8\n    action: NEXTHOPS\n    nexthops:\n    - address: one\n",
		wantErr: true,
	}, {
		desc:    "too many labels",
		inYAML:  "vrfs:\n- vrf: 0\n  routes:\n  - prefix: 1.0.0.0/8\n    action: NEXTHOPS\n    nexthops:\n    - address: 1.1.1.1\n      label_action: push\n      push_labels: [1,2,3,4,5,6,7,8,9]\n",
		wantErr: true,
	}, {
		desc:    "duplicate VRF",
		inYAML:  "vrfs:\n- vrf: 1\n- vrf: 1\n",
		wantErr: true,
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			got, err := FromYAML([]byte(tt.inYAML))
			if (err != nil) != tt.wantErr {
				t.Fatalf("FromYAML(): got unexpected error, got: %v, wantErr? %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			gotRoutes := map[route.RouterID][]Route{}
			for _, vrf := range got.VRFs() {
				v, _ := got.VRFRIB(vrf)
				gotRoutes[vrf] = append(v.Routes(route.IPv4), v.Routes(route.IPv6)...)
				if len(gotRoutes[vrf]) == 0 {
					gotRoutes[vrf] = nil
				}
			}
			if diff := cmp.Diff(gotRoutes, tt.wantRoutes, netipComparers...); diff != "" {
				t.Fatalf("FromYAML(): did not get expected routes, diff(-got,+want):\n%s", diff)
			}
		})
	}
}

func TestFake(t *testing.T) {
	f := NewFake()
	if err := f.InjectConnected(route.DefaultVRF, "1.1.1.0/24", "1.1.1.1", 1); err != nil {
		t.Fatalf("InjectConnected: got unexpected error, %v", err)
	}
	if err := f.InjectToCPU(4, "192.0.2.1/32", route.DirectlyConnected); err != nil {
		t.Fatalf("InjectToCPU: got unexpected error, %v", err)
	}
	if err := f.InjectNextHops(4, "10.0.0.0/8", route.Static); err == nil {
		t.Fatalf("InjectNextHops with no next-hops: did not get expected error")
	}
	if err := f.InjectDrop(4, "10.0.0.0/33", route.Static); err == nil {
		t.Fatalf("InjectDrop with an invalid prefix: did not get expected error")
	}

	if diff := cmp.Diff(f.RIB().VRFs(), []route.RouterID{0, 4}); diff != "" {
		t.Fatalf("VRFs(): did not get expected VRFs, diff(-got,+want):\n%s", diff)
	}
	v, _ := f.RIB().VRFRIB(route.DefaultVRF)
	e, ok := v.Get(route.MustPrefix("1.1.1.0/24"))
	if !ok {
		t.Fatalf("Get(1.1.1.0/24): did not find injected route")
	}
	if !e.Connected || !e.IsResolved() || e.Distance != route.DirectlyConnected {
		t.Fatalf("Get(1.1.1.0/24): got %+v, want a resolved connected route", e)
	}
}
