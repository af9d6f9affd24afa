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

// Package gnmit is a single-target gNMI collector that streams the FIB of a
// fibsync daemon as OpenConfig AFT telemetry. It supports the Subscribe RPC
// using the libraries from openconfig/gnmi.
package gnmit

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/golang/glog"
	"github.com/openconfig/fibsync/state"
	"github.com/openconfig/gnmi/cache"
	"github.com/openconfig/gnmi/subscribe"
	"google.golang.org/grpc"

	gpb "github.com/openconfig/gnmi/proto/gnmi"
)

var (
	// metadataUpdatePeriod is the period of time after which the metadata for the collector
	// is updated to the client.
	metadataUpdatePeriod = time.Duration(30 * time.Second)
	// sizeUpdatePeriod is the period of time after which the storage size information for
	// the collector is updated to the client.
	sizeUpdatePeriod = time.Duration(30 * time.Second)
	// unixTS returns the timestamp of notifications built from state deltas.
	unixTS = time.Now().UnixNano
)

// periodic runs the function fn every period until ctx is done.
func periodic(ctx context.Context, period time.Duration, fn func()) {
	if period == 0 {
		return
	}
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

// Collector is a basic gNMI target that supports only the Subscribe
// RPC, and acts as a cache for exactly one target.
type Collector struct {
	cache *cache.Cache
	// name is the hostname of the target.
	name string
	// ctx bounds the lifetime of the goroutine that writes to the cache.
	ctx context.Context
	// inCh is a channel use to write new SubscribeResponses to the cache.
	inCh chan *gpb.SubscribeResponse
	// stopFn is the function used to stop the server.
	stopFn func()

	// updMu serialises writes to the cache.
	updMu sync.Mutex

	// errMu protects err.
	errMu sync.Mutex
	// err is the first error returned when updating the cache, after which
	// updates are no longer applied.
	err error
}

// New returns a new collector that listens on the specified addr (in the form host:port),
// supporting a single downstream target named hostname. sendMeta controls whether the
// metadata *other* than meta/sync and meta/connected is sent by the collector.
//
// New returns the new collector, the address it is listening on in the form hostname:port
// or any errors encounted whilst setting it up.
func New(ctx context.Context, addr string, hostname string, sendMeta bool, opts ...grpc.ServerOption) (*Collector, string, error) {
	c := &Collector{
		inCh: make(chan *gpb.SubscribeResponse),
		name: hostname,
		ctx:  ctx,
	}

	srv := grpc.NewServer(opts...)
	c.cache = cache.New([]string{hostname})
	t := c.cache.GetTarget(hostname)

	if sendMeta {
		go periodic(ctx, metadataUpdatePeriod, c.cache.UpdateMetadata)
		go periodic(ctx, sizeUpdatePeriod, c.cache.UpdateSize)
	}
	t.Connect()

	// start our single collector from the input channel.
	go func() {
		for {
			select {
			case msg := <-c.inCh:
				if err := c.handleUpdate(msg); err != nil {
					log.Errorf("gNMI collector for %s stopped, %v", hostname, err)
					c.setErr(err)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	subscribeSrv, err := subscribe.NewServer(c.cache)
	if err != nil {
		return nil, "", fmt.Errorf("could not instantiate gNMI server: %v", err)
	}
	gpb.RegisterGNMIServer(srv, subscribeSrv)
	// Forward streaming updates to clients.
	c.cache.SetClient(subscribeSrv.Update)
	// Register listening port and start serving.
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", fmt.Errorf("failed to listen: %v", err)
	}

	go srv.Serve(lis)
	c.stopFn = srv.Stop
	return c, lis.Addr().String(), nil
}

// Stop halts the running collector.
func (c *Collector) Stop() {
	c.stopFn()
}

func (c *Collector) setErr(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

// Err returns the error that stopped the collector from updating its cache,
// if any.
func (c *Collector) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// handleUpdate handles an input gNMI SubscribeResponse that is received by
// the target.
func (c *Collector) handleUpdate(resp *gpb.SubscribeResponse) error {
	c.updMu.Lock()
	defer c.updMu.Unlock()
	t := c.cache.GetTarget(c.name)
	switch v := resp.Response.(type) {
	case *gpb.SubscribeResponse_Update:
		if err := t.GnmiUpdate(v.Update); err != nil {
			// Duplicate values are suppressed by the cache and are not fatal.
			log.V(2).Infof("cache did not apply update, %v", err)
		}
	case *gpb.SubscribeResponse_SyncResponse:
		t.Sync()
	case *gpb.SubscribeResponse_Error:
		return fmt.Errorf("error in response: %s", v)
	default:
		return fmt.Errorf("unknown response %T: %s", v, v)
	}
	return nil
}

// TargetUpdate provides an input gNMI SubscribeResponse to update the
// cache and clients with. It returns without writing once the collector's
// context is done.
func (c *Collector) TargetUpdate(m *gpb.SubscribeResponse) {
	select {
	case c.inCh <- m:
	case <-c.ctx.Done():
	}
}

// Sync marks the target as synchronised, it is sent once the initial state
// has been written.
func (c *Collector) Sync() {
	c.TargetUpdate(&gpb.SubscribeResponse{
		Response: &gpb.SubscribeResponse_SyncResponse{SyncResponse: true},
	})
}

// Observe writes the changes described by d to the cache before returning.
// It has the signature of a state.ObserverFn.
func (c *Collector) Observe(d *state.StateDelta) {
	n, err := Notifications(c.name, unixTS(), d)
	if err != nil {
		log.Errorf("cannot build telemetry for generation %d, %v", d.New().Generation(), err)
		return
	}
	if n == nil {
		return
	}
	if err := c.handleUpdate(&gpb.SubscribeResponse{
		Response: &gpb.SubscribeResponse_Update{Update: n},
	}); err != nil {
		log.Errorf("cannot write generation %d to the cache, %v", d.New().Generation(), err)
	}
}

// Load writes the whole of st to the cache and marks the target as
// synchronised.
func (c *Collector) Load(st *state.SwitchState) {
	c.Observe(state.NewStateDelta(nil, st))
	c.cache.GetTarget(c.name).Sync()
}
