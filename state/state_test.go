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
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openconfig/fibsync/constants"
	"github.com/openconfig/fibsync/route"
)

// mustPanic calls fn and fails the test if it does not panic with a message
// containing want.
func mustPanic(t *testing.T, want string, fn func()) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatalf("did not get expected panic")
		}
		if got := fmt.Sprint(r); !strings.Contains(got, want) {
			t.Fatalf("did not get expected panic, got: %s, want: %s", got, want)
		}
	}()
	fn()
}

// twoVRFState returns a published state with VRFs 0 and 1 held by the
// default switch, each with one IPv4 route.
func twoVRFState(t *testing.T) *SwitchState {
	t.Helper()
	st := NewSwitchState()
	for _, vrf := range []route.RouterID{0, 1} {
		c, err := EnsureFibContainer(&st, DefaultSwitchKey, vrf)
		if err != nil {
			t.Fatalf("EnsureFibContainer(%d): got unexpected error, %v", vrf, err)
		}
		if err := c.FibV4().AddRoute(mustNHRoute(t, "10.0.0.0/8", "192.0.2.1", 1)); err != nil {
			t.Fatalf("AddRoute: got unexpected error, %v", err)
		}
	}
	st.Publish()
	return st
}

func TestModifyClonesToRoot(t *testing.T) {
	old := twoVRFState(t)
	oldFI, _ := old.FibsInfoMap().Get(DefaultSwitchKey)
	oldC0, _ := old.FibsInfoMap().FibContainerIf(0)
	oldC1, _ := old.FibsInfoMap().FibContainerIf(1)

	st := old
	fib := oldC0.FibV4().Modify(&st)
	if st == old {
		t.Fatalf("Modify of a published FIB did not clone the root")
	}
	if st.IsPublished() || fib.IsPublished() {
		t.Fatalf("Modify returned published nodes")
	}
	if err := fib.AddRoute(mustNHRoute(t, "172.16.0.0/12", "192.0.2.2", 2)); err != nil {
		t.Fatalf("AddRoute on modified FIB: got unexpected error, %v", err)
	}

	newFI, _ := st.FibsInfoMap().Get(DefaultSwitchKey)
	newC0, _ := st.FibsInfoMap().FibContainerIf(0)
	newC1, _ := st.FibsInfoMap().FibContainerIf(1)

	if newFI == oldFI || newC0 == oldC0 || newC0.FibV4() != fib {
		t.Fatalf("ancestors of the modified FIB were not replaced by writable clones")
	}
	if newC1 != oldC1 {
		t.Fatalf("untouched VRF container is not shared between generations")
	}
	if newFI.IDToNextHopMap() != oldFI.IDToNextHopMap() || newC0.FibV6() != oldC0.FibV6() {
		t.Fatalf("untouched siblings are not shared between generations")
	}
	if got, want := oldC0.FibV4().Size(), 1; got != want {
		t.Fatalf("published FIB changed, got size: %d, want: %d", got, want)
	}

	// A second modify of the same node within the same update does not clone
	// again.
	root := st
	if again := newC0.FibV4().Modify(&st); again != fib || st != root {
		t.Fatalf("Modify of an unpublished node cloned it again")
	}

	st.Publish()
	if !fib.IsPublished() || !newC0.IsPublished() || !newFI.IsPublished() {
		t.Fatalf("Publish did not freeze the whole tree")
	}
}

func TestPublishedNodesCannotBeMutated(t *testing.T) {
	st := twoVRFState(t)
	c, _ := st.FibsInfoMap().FibContainerIf(0)
	fi, _ := st.FibsInfoMap().Get(DefaultSwitchKey)

	mustPanic(t, "published FIB", func() {
		_ = c.FibV4().AddRoute(mustNHRoute(t, "172.16.0.0/12", "192.0.2.2", 2))
	})
	mustPanic(t, "published FIB", func() {
		c.FibV4().RemoveRoute(route.MustPrefix("10.0.0.0/8"))
	})
	mustPanic(t, "published FIB container", func() {
		_ = c.SetFibs(NewForwardingInformationBase(0, route.IPv4), NewForwardingInformationBase(0, route.IPv6))
	})
	mustPanic(t, "published next-hop ID map", func() {
		fi.IDToNextHopMap().Set(1, route.ResolvedNextHop(route.MustAddr("10.0.0.1"), 1, 0))
	})
	mustPanic(t, "published next-hop set ID map", func() {
		fi.IDToNextHopIDSetMap().Remove(route.FirstNextHopSetID)
	})
	mustPanic(t, "published switch state", func() {
		st.SetGeneration(42)
	})
}

func TestUnpublishedNodeInPublishedState(t *testing.T) {
	st := twoVRFState(t)
	mustPanic(t, "unpublished node found in a published switch state", func() {
		NewForwardingInformationBaseContainer(7).Modify(&st)
	})
	mustPanic(t, "without a switch state", func() {
		var nilState *SwitchState
		NewSwitchState().Modify(&nilState)
	})
}

func TestModifyMissingParent(t *testing.T) {
	st := twoVRFState(t)
	orphan := NewForwardingInformationBase(9, route.IPv4)
	orphan.publish()
	mustPanic(t, "no FIB container for VRF 9", func() {
		orphan.Modify(&st)
	})
}

func TestEnsureFibContainer(t *testing.T) {
	st := twoVRFState(t)
	if _, err := EnsureFibContainer(&st, "id=1", 0); err == nil {
		t.Fatalf("EnsureFibContainer for a VRF held by another switch: did not get expected error")
	}
	c, err := EnsureFibContainer(&st, "id=1", 5)
	if err != nil {
		t.Fatalf("EnsureFibContainer(id=1, 5): got unexpected error, %v", err)
	}
	if c.IsPublished() {
		t.Fatalf("EnsureFibContainer returned a published container")
	}
	fi, ok := st.FibsInfoMap().FibInfoForVRF(5)
	if !ok || fi.Key() != "id=1" {
		t.Fatalf("FibInfoForVRF(5): got: %v, want switch id=1", fi)
	}
	if diff := cmp.Diff(st.FibsInfoMap().Keys(), []SwitchKey{"id=0", "id=1"}); diff != "" {
		t.Fatalf("Keys(): diff(-got,+want):\n%s", diff)
	}
	if _, ok := st.FibsInfoMap().FibContainerIf(42); ok {
		t.Fatalf("FibContainerIf(42): got container for unknown VRF")
	}
}

func TestMultiSwitchFibInfoMapAdd(t *testing.T) {
	m := NewMultiSwitchFibInfoMap()
	a := NewFibInfo("id=0")
	if err := a.FibsMap().AddContainer(NewForwardingInformationBaseContainer(1)); err != nil {
		t.Fatalf("AddContainer: got unexpected error, %v", err)
	}
	if err := a.FibsMap().AddContainer(NewForwardingInformationBaseContainer(1)); err == nil {
		t.Fatalf("AddContainer twice: did not get expected error")
	}
	if err := m.Add(a); err != nil {
		t.Fatalf("Add(id=0): got unexpected error, %v", err)
	}
	if err := m.Add(NewFibInfo("id=0")); err == nil {
		t.Fatalf("Add(id=0) twice: did not get expected error")
	}
	b := NewFibInfo("id=1")
	if err := b.FibsMap().AddContainer(NewForwardingInformationBaseContainer(1)); err != nil {
		t.Fatalf("AddContainer: got unexpected error, %v", err)
	}
	if err := m.Add(b); err == nil {
		t.Fatalf("Add of a FibInfo sharing a VRF: did not get expected error")
	}
}

func TestResolveNextHopSet(t *testing.T) {
	fi := NewFibInfo(DefaultSwitchKey)
	a := route.ResolvedNextHop(route.MustAddr("10.0.0.1"), 1, 0)
	b := route.ResolvedNextHop(route.MustAddr("10.0.0.2"), 1, 0)
	fi.IDToNextHopMap().Set(1, a)
	fi.IDToNextHopMap().Set(2, b)
	fi.IDToNextHopIDSetMap().Set(route.FirstNextHopSetID, route.NewNextHopIDSet(2, 1))
	fi.IDToNextHopIDSetMap().Set(route.FirstNextHopSetID+1, route.NewNextHopIDSet(3))

	got, err := fi.ResolveNextHopSet(route.FirstNextHopSetID)
	if err != nil {
		t.Fatalf("ResolveNextHopSet: got unexpected error, %v", err)
	}
	if diff := cmp.Diff(got, route.NewNextHopSet(a, b)); diff != "" {
		t.Fatalf("ResolveNextHopSet: diff(-got,+want):\n%s", diff)
	}
	if _, err := fi.ResolveNextHopSet(route.FirstNextHopSetID + 1); err == nil {
		t.Fatalf("ResolveNextHopSet with unknown member: did not get expected error")
	}
	if _, err := fi.ResolveNextHopSet(route.FirstNextHopSetID + 2); err == nil {
		t.Fatalf("ResolveNextHopSet with unknown set: did not get expected error")
	}
}

func TestStore(t *testing.T) {
	s := NewStore(nil)
	if got := s.Current(); !got.IsPublished() || got.Generation() != 0 {
		t.Fatalf("NewStore: initial state not published at generation 0")
	}

	var deltas []*StateDelta
	if err := s.AddObserver("test", func(d *StateDelta) { deltas = append(deltas, d) }); err != nil {
		t.Fatalf("AddObserver: got unexpected error, %v", err)
	}
	if err := s.AddObserver("test", func(*StateDelta) {}); err == nil {
		t.Fatalf("AddObserver with duplicate name: did not get expected error")
	}

	addRoute := func(pfx string) UpdateFn {
		return func(cur *SwitchState) (*SwitchState, error) {
			st := cur
			c, err := EnsureFibContainer(&st, DefaultSwitchKey, 0)
			if err != nil {
				return nil, err
			}
			fib := c.FibV4().Modify(&st)
			if err := fib.AddRoute(mustNHRoute(t, pfx, "192.0.2.1", 1)); err != nil {
				return nil, err
			}
			return st, nil
		}
	}

	for i, pfx := range []string{"10.0.0.0/8", "11.0.0.0/8"} {
		if err := s.Update("add", addRoute(pfx)); err != nil {
			t.Fatalf("Update(%s): got unexpected error, %v", pfx, err)
		}
		if got, want := s.Current().Generation(), uint64(i+1); got != want {
			t.Fatalf("Update(%s): got generation %d, want: %d", pfx, got, want)
		}
		if !s.Current().IsPublished() {
			t.Fatalf("Update(%s): current state is not published", pfx)
		}
	}

	before := s.Current()
	if err := s.Update("noop", func(cur *SwitchState) (*SwitchState, error) { return cur, nil }); err != nil {
		t.Fatalf("Update(noop): got unexpected error, %v", err)
	}
	if err := s.Update("fail", func(*SwitchState) (*SwitchState, error) { return nil, fmt.Errorf("bad") }); err == nil {
		t.Fatalf("Update(fail): did not get expected error")
	}
	if err := s.Update("stale", func(cur *SwitchState) (*SwitchState, error) { return before, nil }); err != nil {
		t.Fatalf("Update(stale): got unexpected error, %v", err)
	}
	if err := s.Update("published", func(*SwitchState) (*SwitchState, error) { return twoVRFState(t), nil }); err == nil {
		t.Fatalf("Update returning a published state: did not get expected error")
	}
	if s.Current() != before {
		t.Fatalf("failed or empty updates changed the current state")
	}

	if got, want := len(deltas), 2; got != want {
		t.Fatalf("observer called %d times, want: %d", got, want)
	}
	rd := deltas[1].RouteDeltas()
	if len(rd) != 1 || rd[0].Op != constants.ADD || rd[0].New.Prefix() != route.MustPrefix("11.0.0.0/8") {
		t.Fatalf("observer did not get expected delta, got: %+v", rd)
	}

	s.RemoveObserver("test")
	if err := s.Update("add", addRoute("12.0.0.0/8")); err != nil {
		t.Fatalf("Update: got unexpected error, %v", err)
	}
	if len(deltas) != 2 {
		t.Fatalf("removed observer was called")
	}
}

func TestStateDelta(t *testing.T) {
	old := twoVRFState(t)
	st := old

	c0, _ := st.FibsInfoMap().FibContainerIf(0)
	fib := c0.FibV4().Modify(&st)
	if err := fib.AddRoute(mustNHRoute(t, "172.16.0.0/12", "192.0.2.2", 2)); err != nil {
		t.Fatalf("AddRoute: got unexpected error, %v", err)
	}
	if err := fib.AddRoute(mustNHRoute(t, "10.0.0.0/8", "192.0.2.3", 3)); err != nil {
		t.Fatalf("AddRoute: got unexpected error, %v", err)
	}
	c1, _ := st.FibsInfoMap().FibContainerIf(1)
	c1.FibV4().Modify(&st).RemoveRoute(route.MustPrefix("10.0.0.0/8"))

	fi := EnsureFibInfo(&st, DefaultSwitchKey)
	fi.IDToNextHopMap().Modify(&st).Set(1, route.ResolvedNextHop(route.MustAddr("192.0.2.2"), 2, 0))
	fi, _ = st.FibsInfoMap().Get(DefaultSwitchKey)
	fi.IDToNextHopIDSetMap().Modify(&st).Set(route.FirstNextHopSetID, route.NewNextHopIDSet(1))
	st.Publish()

	type summary struct {
		VRF    route.RouterID
		Op     constants.OpType
		Prefix string
	}
	var got []summary
	for _, d := range NewStateDelta(old, st).RouteDeltas() {
		r := d.New
		if r == nil {
			r = d.Old
		}
		got = append(got, summary{VRF: d.VRF, Op: d.Op, Prefix: r.Prefix().String()})
	}
	want := []summary{
		{VRF: 0, Op: constants.REPLACE, Prefix: "10.0.0.0/8"},
		{VRF: 0, Op: constants.ADD, Prefix: "172.16.0.0/12"},
		{VRF: 1, Op: constants.DELETE, Prefix: "10.0.0.0/8"},
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Fatalf("RouteDeltas: did not get expected deltas, diff(-got,+want):\n%s", diff)
	}

	nhd := NewStateDelta(old, st).NextHopDeltas()
	if len(nhd) != 1 || nhd[0].Op != constants.ADD || nhd[0].ID != 1 {
		t.Fatalf("NextHopDeltas: got: %+v", nhd)
	}
	nhsd := NewStateDelta(st, old).NextHopSetDeltas()
	if len(nhsd) != 1 || nhsd[0].Op != constants.DELETE || nhsd[0].ID != route.FirstNextHopSetID {
		t.Fatalf("NextHopSetDeltas (reverse): got: %+v", nhsd)
	}
	if d := NewStateDelta(st, st).RouteDeltas(); d != nil {
		t.Fatalf("RouteDeltas of identical states: got: %+v, want: nil", d)
	}
	if d := NewStateDelta(nil, st).RouteDeltas(); len(d) != 2 {
		t.Fatalf("RouteDeltas from empty state: got %d deltas, want: 2", len(d))
	}
}
