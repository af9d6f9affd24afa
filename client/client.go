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

// Package client implements a gRIBI client that reads the FIB exported by a
// fibsync server.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	log "github.com/golang/glog"
	"github.com/openconfig/fibsync/constants"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	aftpb "github.com/openconfig/gribi/v1/proto/gribi_aft"
	spb "github.com/openconfig/gribi/v1/proto/service"
)

// Client is a wrapper for the gRIBI client.
type Client struct {
	// mu protects conn and c.
	mu sync.Mutex
	// conn is the connection to the server, it is nil before Dial.
	conn *grpc.ClientConn
	// c is the current gRIBI client.
	c spb.GRIBIClient
}

// New creates a new gRIBI client.
func New() *Client {
	return &Client{}
}

// DialOpt specifies options that can be used when dialing the gRIBI server
// specified by the client.
type DialOpt interface {
	isDialOpt()
}

type tlsOpt struct {
	creds credentials.TransportCredentials
}

func (tlsOpt) isDialOpt() {}

// WithTransportCredentials dials the server with creds rather than an
// insecure connection.
func WithTransportCredentials(creds credentials.TransportCredentials) *tlsOpt {
	return &tlsOpt{creds: creds}
}

// Dial connects the client to the server at addr. The connection is
// established lazily, on the first RPC.
func (c *Client) Dial(addr string, opts ...DialOpt) error {
	creds := insecure.NewCredentials()
	for _, o := range opts {
		if t, ok := o.(*tlsOpt); ok {
			creds = t.creds
		}
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
	if err != nil {
		return fmt.Errorf("cannot dial remote system, %v", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		conn.Close()
		return errors.New("client is already connected")
	}
	c.conn = conn
	c.c = spb.NewGRIBIClient(conn)
	return nil
}

// Close closes the connection to the server.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn, c.c = nil, nil
	return err
}

// Get issues req and returns the entries of every response that the server
// streams, merged into a single GetResponse.
func (c *Client) Get(ctx context.Context, req *spb.GetRequest) (*spb.GetResponse, error) {
	c.mu.Lock()
	gc := c.c
	c.mu.Unlock()
	if gc == nil {
		return nil, errors.New("client is not connected")
	}

	stream, err := gc.Get(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("cannot start Get, %v", err)
	}
	resp := &spb.GetResponse{}
	for n := 1; ; n++ {
		in, err := stream.Recv()
		if err == io.EOF {
			log.V(2).Infof("Get completed after %d responses, %d entries", n-1, len(resp.Entry))
			return resp, nil
		}
		if err != nil {
			return nil, fmt.Errorf("error reading Get response %d, %w", n, err)
		}
		resp.Entry = append(resp.Entry, in.GetEntry()...)
	}
}

// GetAll returns the entries of type a in every network instance.
func (c *Client) GetAll(ctx context.Context, a constants.AFT) (*spb.GetResponse, error) {
	return c.Get(ctx, &spb.GetRequest{
		NetworkInstance: &spb.GetRequest_All{All: &spb.Empty{}},
		Aft:             constants.AFTTypeFromAFT(a),
	})
}

// GetNetworkInstance returns the entries of type a in the network instance
// ni.
func (c *Client) GetNetworkInstance(ctx context.Context, ni string, a constants.AFT) (*spb.GetResponse, error) {
	return c.Get(ctx, &spb.GetRequest{
		NetworkInstance: &spb.GetRequest_Name{Name: ni},
		Aft:             constants.AFTTypeFromAFT(a),
	})
}

// AFTsByNetworkInstance groups the entries of resp into an AFT per network
// instance. Entries of types that fibsync does not export are skipped.
func AFTsByNetworkInstance(resp *spb.GetResponse) map[string]*aftpb.Afts {
	niAFTs := map[string]*aftpb.Afts{}
	for _, e := range resp.GetEntry() {
		ni := e.GetNetworkInstance()
		if _, ok := niAFTs[ni]; !ok {
			niAFTs[ni] = &aftpb.Afts{}
		}
		switch t := e.GetEntry().(type) {
		case *spb.AFTEntry_Ipv4:
			niAFTs[ni].Ipv4Entry = append(niAFTs[ni].Ipv4Entry, t.Ipv4)
		case *spb.AFTEntry_Ipv6:
			niAFTs[ni].Ipv6Entry = append(niAFTs[ni].Ipv6Entry, t.Ipv6)
		case *spb.AFTEntry_NextHop:
			niAFTs[ni].NextHop = append(niAFTs[ni].NextHop, t.NextHop)
		case *spb.AFTEntry_NextHopGroup:
			niAFTs[ni].NextHopGroup = append(niAFTs[ni].NextHopGroup, t.NextHopGroup)
		default:
			log.Warningf("skipping unsupported entry %T in network instance %s", t, ni)
		}
	}
	return niAFTs
}
