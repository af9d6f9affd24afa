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

package chk

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/openconfig/fibsync/constants"
	"github.com/openconfig/testt"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	aftpb "github.com/openconfig/gribi/v1/proto/gribi_aft"
	spb "github.com/openconfig/gribi/v1/proto/service"
	wpb "github.com/openconfig/ygot/proto/ywrapper"
)

func ipv4(ni, pfx string, nhg uint64) *spb.AFTEntry {
	return &spb.AFTEntry{
		NetworkInstance: ni,
		Entry: &spb.AFTEntry_Ipv4{Ipv4: &aftpb.Afts_Ipv4EntryKey{
			Prefix:    pfx,
			Ipv4Entry: &aftpb.Afts_Ipv4Entry{NextHopGroup: &wpb.UintValue{Value: nhg}},
		}},
	}
}

func nextHop(ni string, id uint64, addr string) *spb.AFTEntry {
	return &spb.AFTEntry{
		NetworkInstance: ni,
		Entry: &spb.AFTEntry_NextHop{NextHop: &aftpb.Afts_NextHopKey{
			Index:   id,
			NextHop: &aftpb.Afts_NextHop{IpAddress: &wpb.StringValue{Value: addr}},
		}},
	}
}

func nextHopGroup(ni string, id uint64, nhs ...uint64) *spb.AFTEntry {
	g := &aftpb.Afts_NextHopGroup{}
	for _, nh := range nhs {
		g.NextHop = append(g.NextHop, &aftpb.Afts_NextHopGroup_NextHopKey{
			Index:   nh,
			NextHop: &aftpb.Afts_NextHopGroup_NextHop{},
		})
	}
	return &spb.AFTEntry{
		NetworkInstance: ni,
		Entry:           &spb.AFTEntry_NextHopGroup{NextHopGroup: &aftpb.Afts_NextHopGroupKey{Id: id, NextHopGroup: g}},
	}
}

var testResponse = &spb.GetResponse{
	Entry: []*spb.AFTEntry{
		ipv4("DEFAULT", "1.1.1.0/24", 1<<62+1),
		ipv4("DEFAULT", "2.2.2.0/24", 1<<62+1),
		nextHop("DEFAULT", 1, "1.1.1.1"),
		nextHopGroup("DEFAULT", 1<<62+1, 1),
		ipv4("VRF-2", "1.1.1.0/24", 1<<62+1),
	},
}

func TestHasEntry(t *testing.T) {
	tests := []struct {
		desc           string
		inEntry        *spb.AFTEntry
		inOpts         []entryOpt
		expectFatalMsg string
	}{{
		desc:    "ipv4 entry is present",
		inEntry: ipv4("DEFAULT", "2.2.2.0/24", 1<<62+1),
	}, {
		desc:           "ipv4 entry in another network instance",
		inEntry:        ipv4("VRF-3", "2.2.2.0/24", 1<<62+1),
		expectFatalMsg: "response did not contain an entry of value",
	}, {
		desc:           "next-hop with a different index",
		inEntry:        nextHop("DEFAULT", 2, "1.1.1.1"),
		expectFatalMsg: "response did not contain an entry of value",
	}, {
		desc:    "next-hop with a different index, ignoring IDs",
		inEntry: nextHop("DEFAULT", 2, "1.1.1.1"),
		inOpts:  []entryOpt{IgnoreIDs()},
	}, {
		desc:    "next-hop group with different IDs, ignoring IDs",
		inEntry: nextHopGroup("DEFAULT", 42, 7),
		inOpts:  []entryOpt{IgnoreIDs()},
	}, {
		desc:    "ipv4 entry with a different next-hop group, ignoring IDs",
		inEntry: ipv4("VRF-2", "1.1.1.0/24", 42),
		inOpts:  []entryOpt{IgnoreIDs()},
	}, {
		desc:           "next-hop with a different address, ignoring IDs",
		inEntry:        nextHop("DEFAULT", 1, "1.1.1.2"),
		inOpts:         []entryOpt{IgnoreIDs()},
		expectFatalMsg: "response did not contain an entry of value",
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if tt.expectFatalMsg != "" {
				got := testt.ExpectFatal(t, func(t testing.TB) {
					HasEntry(t, testResponse, tt.inEntry, tt.inOpts...)
				})
				if !strings.Contains(got, tt.expectFatalMsg) {
					t.Fatalf("did not get expected fatal message, but test called Fatal, got: %s, want: %s", got, tt.expectFatalMsg)
				}
				return
			}
			HasEntry(t, testResponse, tt.inEntry, tt.inOpts...)
		})
	}
}

func TestHasNEntries(t *testing.T) {
	tests := []struct {
		desc           string
		inNI           string
		inAFT          constants.AFT
		inCount        int
		expectFatalMsg string
	}{{
		desc:    "all entries of default",
		inNI:    "DEFAULT",
		inAFT:   constants.ALL,
		inCount: 4,
	}, {
		desc:    "ipv4 entries of default",
		inNI:    "DEFAULT",
		inAFT:   constants.IPV4,
		inCount: 2,
	}, {
		desc:    "next-hop groups of VRF-2",
		inNI:    "VRF-2",
		inAFT:   constants.NEXTHOPGROUP,
		inCount: 0,
	}, {
		desc:           "wrong count",
		inNI:           "VRF-2",
		inAFT:          constants.IPV4,
		inCount:        2,
		expectFatalMsg: "got unexpected number of IPV4 entries in VRF-2, got: 1, want: 2",
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if tt.expectFatalMsg != "" {
				got := testt.ExpectFatal(t, func(t testing.TB) {
					HasNEntries(t, testResponse, tt.inNI, tt.inAFT, tt.inCount)
				})
				if !strings.Contains(got, tt.expectFatalMsg) {
					t.Fatalf("did not get expected fatal message, but test called Fatal, got: %s, want: %s", got, tt.expectFatalMsg)
				}
				return
			}
			HasNEntries(t, testResponse, tt.inNI, tt.inAFT, tt.inCount)
		})
	}
}

func TestHasRecvErrorWithStatus(t *testing.T) {
	tests := []struct {
		desc           string
		inErr          error
		inStatus       *status.Status
		expectFatalMsg string
	}{{
		desc:     "status error",
		inErr:    status.Errorf(codes.NotFound, "VRF 4 is not programmed"),
		inStatus: status.New(codes.NotFound, ""),
	}, {
		desc:     "wrapped status error",
		inErr:    fmt.Errorf("error reading Get response 1, %w", status.Errorf(codes.InvalidArgument, "bad name")),
		inStatus: status.New(codes.InvalidArgument, ""),
	}, {
		desc:           "different code",
		inErr:          status.Errorf(codes.NotFound, "VRF 4 is not programmed"),
		inStatus:       status.New(codes.InvalidArgument, ""),
		expectFatalMsg: "error does not have status",
	}, {
		desc:           "not a status",
		inErr:          errors.New("client is not connected"),
		inStatus:       status.New(codes.NotFound, ""),
		expectFatalMsg: "error does not carry a status",
	}, {
		desc:           "no error",
		inStatus:       status.New(codes.NotFound, ""),
		expectFatalMsg: "did not get an error",
	}}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			if tt.expectFatalMsg != "" {
				got := testt.ExpectFatal(t, func(t testing.TB) {
					HasRecvErrorWithStatus(t, tt.inErr, tt.inStatus)
				})
				if !strings.Contains(got, tt.expectFatalMsg) {
					t.Fatalf("did not get expected fatal message, but test called Fatal, got: %s, want: %s", got, tt.expectFatalMsg)
				}
				return
			}
			HasRecvErrorWithStatus(t, tt.inErr, tt.inStatus)
		})
	}
}
