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

// Package chk implements checks against the entries and errors returned by
// a gRIBI Get, it can be used to determine whether there are expected
// entries within a response.
//
// Package chk relies on the testing package, and therefore is a test only package -
// that should be used as a helper to tests that are executed by 'go test'.
package chk

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/openconfig/fibsync/constants"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/testing/protocmp"

	aftpb "github.com/openconfig/gribi/v1/proto/gribi_aft"
	spb "github.com/openconfig/gribi/v1/proto/service"
)

// entryOpt is an interface implemented by all options that can be
// handed to HasEntry.
type entryOpt interface {
	isHasEntryOpt()
}

// ignoreIDs is an option that specifies that allocated IDs should be
// ignored.
type ignoreIDs struct{}

// isHasEntryOpt implements the entryOpt interface.
func (*ignoreIDs) isHasEntryOpt() {}

// IgnoreIDs specifies that the comparison of entries should ignore the
// index of next-hops, the ID of next-hop groups and the next-hop group
// that a route references. It can be used to match an entry without
// caring about the order that IDs were allocated in.
func IgnoreIDs() *ignoreIDs {
	return &ignoreIDs{}
}

// hasIgnoreIDs checks whether the supplied entryOpt slice contains the
// IgnoreIDs option.
func hasIgnoreIDs(opt []entryOpt) bool {
	for _, v := range opt {
		if _, ok := v.(*ignoreIDs); ok {
			return true
		}
	}
	return false
}

// HasEntry checks whether the specified resp contains an entry with the
// value of want.
func HasEntry(t testing.TB, resp *spb.GetResponse, want *spb.AFTEntry, opt ...entryOpt) {
	t.Helper()
	opts := []cmp.Option{protocmp.Transform()}
	if hasIgnoreIDs(opt) {
		opts = append(opts,
			protocmp.IgnoreFields(&aftpb.Afts_NextHopKey{}, "index"),
			protocmp.IgnoreFields(&aftpb.Afts_NextHopGroupKey{}, "id"),
			protocmp.IgnoreFields(&aftpb.Afts_NextHopGroup_NextHopKey{}, "index"),
			protocmp.IgnoreFields(&aftpb.Afts_Ipv4Entry{}, "next_hop_group"),
			protocmp.IgnoreFields(&aftpb.Afts_Ipv6Entry{}, "next_hop_group"),
		)
	}

	for _, e := range resp.GetEntry() {
		if cmp.Equal(e, want, opts...) {
			return
		}
	}
	t.Fatalf("response did not contain an entry of value %s, got: %v", want, resp.GetEntry())
}

// entryAFT returns the AFT that e belongs to.
func entryAFT(e *spb.AFTEntry) (constants.AFT, bool) {
	switch e.GetEntry().(type) {
	case *spb.AFTEntry_Ipv4:
		return constants.IPV4, true
	case *spb.AFTEntry_Ipv6:
		return constants.IPV6, true
	case *spb.AFTEntry_NextHop:
		return constants.NEXTHOP, true
	case *spb.AFTEntry_NextHopGroup:
		return constants.NEXTHOPGROUP, true
	}
	return 0, false
}

// HasNEntries checks that resp contains count entries of the AFT a in the
// network instance ni. An AFT of ALL counts every entry of ni.
func HasNEntries(t testing.TB, resp *spb.GetResponse, ni string, a constants.AFT, count int) {
	t.Helper()
	var n int
	for _, e := range resp.GetEntry() {
		if e.GetNetworkInstance() != ni {
			continue
		}
		if ea, ok := entryAFT(e); ok && a.Includes(ea) {
			n++
		}
	}
	if n != count {
		t.Fatalf("got unexpected number of %s entries in %s, got: %d, want: %d", a, ni, n, count)
	}
}

// HasRecvErrorWithStatus checks whether the error returned by a Get carries
// a status with the code and details set to the values supplied in want.
func HasRecvErrorWithStatus(t testing.TB, err error, want *status.Status) {
	t.Helper()
	if err == nil {
		t.Fatalf("did not get an error, want status %s", want.Proto())
	}
	s, ok := status.FromError(err)
	if !ok {
		t.Fatalf("error does not carry a status, got: %v, want: %s", err, want.Proto())
	}
	ns := s.Proto()
	ns.Message = "" // blank out message so that we don't compare it.
	if !proto.Equal(ns, want.Proto()) {
		t.Fatalf("error does not have status %s, got: %v", want.Proto(), err)
	}
}
