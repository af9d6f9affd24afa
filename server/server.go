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

// Package server implements a read-only gRIBI server that exports the
// programmed FIB through the Get RPC.
package server

import (
	"slices"
	"sync"
	"time"

	log "github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/openconfig/fibsync/afthelper"
	"github.com/openconfig/fibsync/constants"
	"github.com/openconfig/fibsync/route"
	"github.com/openconfig/fibsync/state"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	spb "github.com/openconfig/gribi/v1/proto/service"
)

// DefaultMaxEntriesPerResponse is the number of entries sent in a single
// GetResponse when no other value is configured.
const DefaultMaxEntriesPerResponse = 1000

// StateSource returns the latest published switch state.
type StateSource interface {
	Current() *state.SwitchState
}

// Server implements the gRIBI service. Only Get is implemented, entries are
// programmed from the RIB rather than by gRIBI clients.
type Server struct {
	spb.UnimplementedGRIBIServer

	src        StateSource
	maxEntries int

	// csMu protects the cs map.
	csMu sync.RWMutex
	// cs stores the state of the Get streams that are in progress, keyed by
	// a UUID generated when the stream starts.
	cs map[string]*clientState
}

// clientState stores information that relates to a specific Get stream.
type clientState struct {
	// started is when the stream was opened.
	started time.Time
	// aft is the AFT type that the client requested.
	aft constants.AFT
}

// ServerOpt is an interface that is implemented by options to the server.
type ServerOpt interface {
	isServerOpt()
}

type maxEntriesOpt struct {
	n int
}

func (maxEntriesOpt) isServerOpt() {}

// WithMaxEntriesPerResponse sets the number of entries that are sent in a
// single GetResponse. Values below one are ignored.
func WithMaxEntriesPerResponse(n int) *maxEntriesOpt {
	return &maxEntriesOpt{n: n}
}

// New creates a new gRIBI server that serves the states returned by src.
func New(src StateSource, opt ...ServerOpt) *Server {
	s := &Server{
		src:        src,
		maxEntries: DefaultMaxEntriesPerResponse,
		cs:         map[string]*clientState{},
	}
	for _, o := range opt {
		if m, ok := o.(*maxEntriesOpt); ok && m.n > 0 {
			s.maxEntries = m.n
		}
	}
	return s
}

// ActiveClients returns the number of Get streams in progress.
func (s *Server) ActiveClients() int {
	s.csMu.RLock()
	defer s.csMu.RUnlock()
	return len(s.cs)
}

// newClient creates a new client context within the server using the specified string
// ID.
func (s *Server) newClient(id string, a constants.AFT) error {
	s.csMu.Lock()
	defer s.csMu.Unlock()
	if s.cs[id] != nil {
		return status.Errorf(codes.Internal, "cannot create new client with duplicate ID, %s", id)
	}
	s.cs[id] = &clientState{started: time.Now(), aft: a}
	return nil
}

func (s *Server) removeClient(id string) {
	s.csMu.Lock()
	defer s.csMu.Unlock()
	if c, ok := s.cs[id]; ok {
		log.V(2).Infof("client %s: Get of %v completed in %s", id, c.aft, time.Since(c.started))
	}
	delete(s.cs, id)
}

// Get implements the gRIBI Get RPC. The entries of a single published state
// are returned, so a response never mixes two generations.
func (s *Server) Get(req *spb.GetRequest, stream spb.GRIBI_GetServer) error {
	a, err := constants.AFTFromAFTType(req.GetAft())
	if err != nil {
		return status.Errorf(codes.Unimplemented, "%v", err)
	}

	id := uuid.New().String()
	if err := s.newClient(id, a); err != nil {
		return err
	}
	defer s.removeClient(id)

	st := s.src.Current()
	vrfs, err := requestedVRFs(st.FibsInfoMap(), req)
	if err != nil {
		return err
	}
	log.V(2).Infof("client %s: Get of %s for VRFs %v at generation %d", id, req.GetAft(), vrfs, st.Generation())

	var pending []*spb.AFTEntry
	send := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := stream.Send(&spb.GetResponse{Entry: pending}); err != nil {
			return status.Errorf(codes.Unavailable, "cannot send GetResponse to client %s, %v", id, err)
		}
		pending = nil
		return nil
	}
	for _, vrf := range vrfs {
		if err := stream.Context().Err(); err != nil {
			return status.FromContextError(err).Err()
		}
		fi, _ := st.FibsInfoMap().FibInfoForVRF(vrf)
		entries, err := afthelper.Entries(fi, vrf, a)
		if err != nil {
			return status.Errorf(codes.Internal, "cannot export VRF %d, %v", vrf, err)
		}
		for _, e := range entries {
			pending = append(pending, e)
			if len(pending) == s.maxEntries {
				if err := send(); err != nil {
					return err
				}
			}
		}
	}
	return send()
}

// requestedVRFs returns the VRFs that req covers, in ascending order.
func requestedVRFs(fibs *state.MultiSwitchFibInfoMap, req *spb.GetRequest) ([]route.RouterID, error) {
	switch ni := req.GetNetworkInstance().(type) {
	case *spb.GetRequest_Name:
		vrf, err := afthelper.ParseNetworkInstance(ni.Name)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "%v", err)
		}
		if _, ok := fibs.FibInfoForVRF(vrf); !ok {
			return nil, status.Errorf(codes.NotFound, "network instance %s is not programmed", ni.Name)
		}
		return []route.RouterID{vrf}, nil
	case *spb.GetRequest_All:
		var vrfs []route.RouterID
		for _, k := range fibs.Keys() {
			fi, _ := fibs.Get(k)
			vrfs = append(vrfs, fi.FibsMap().VRFs()...)
		}
		slices.Sort(vrfs)
		return vrfs, nil
	}
	return nil, status.Errorf(codes.InvalidArgument, "unspecified network instance in GetRequest")
}
