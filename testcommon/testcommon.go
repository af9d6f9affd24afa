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

// Package testcommon implements common helpers that can be used throughout
// the fibsync tests.
package testcommon

import (
	"testing"

	"github.com/openconfig/fibsync/nhid"
	"github.com/openconfig/fibsync/rib"
	"github.com/openconfig/fibsync/route"
	"github.com/openconfig/fibsync/state"
	"github.com/openconfig/fibsync/updater"
)

// Programmed is a store whose FIBs were built from a RIB, together with the
// ID manager that assigned their IDs.
type Programmed struct {
	Store *state.Store
	Mgr   *nhid.Manager
}

// Program syncs every VRF of r into a new store owned by the default switch,
// using the default normalization. It fails the test on error.
func Program(t testing.TB, r *rib.RIB) *Programmed {
	t.Helper()
	return ProgramWithConfig(t, r, route.DefaultNormalizeConfig())
}

// ProgramWithConfig is Program with an explicit normalization config.
func ProgramWithConfig(t testing.TB, r *rib.RIB, cfg route.NormalizeConfig) *Programmed {
	t.Helper()
	p := &Programmed{
		Store: state.NewStore(nil),
		Mgr:   nhid.New(),
	}
	for _, vrf := range r.VRFs() {
		v, _ := r.VRFRIB(vrf)
		if err := updater.Sync(p.Store, p.Mgr, cfg, state.DefaultSwitchKey, v); err != nil {
			t.Fatalf("cannot program VRF %d, %v", vrf, err)
		}
	}
	return p
}

// FibInfo returns the FibInfo of the default switch in the current state.
func (p *Programmed) FibInfo(t testing.TB) *state.FibInfo {
	t.Helper()
	fi, ok := p.Store.Current().FibsInfoMap().Get(state.DefaultSwitchKey)
	if !ok {
		t.Fatalf("no FibInfo for %s", state.DefaultSwitchKey)
	}
	return fi
}

// NH returns a RIB next-hop for addr on interface intf with weight w. It
// panics if addr is not an IP address.
func NH(addr string, intf route.InterfaceID, w uint64) rib.NextHop {
	return rib.NextHop{Address: route.MustAddr(addr), Interface: intf, Weight: w}
}
