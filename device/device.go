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

// Package device wires a RIB to the FIB state store and exposes the
// programmed FIB over gRIBI Get, gNMI telemetry and prometheus metrics.
package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os"
	"path/filepath"
	"slices"
	"sync"

	log "github.com/golang/glog"
	"github.com/openconfig/fibsync/constants"
	"github.com/openconfig/fibsync/gnmit"
	"github.com/openconfig/fibsync/nhid"
	"github.com/openconfig/fibsync/rib"
	"github.com/openconfig/fibsync/route"
	"github.com/openconfig/fibsync/server"
	"github.com/openconfig/fibsync/state"
	"github.com/openconfig/fibsync/updater"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	spb "github.com/openconfig/gribi/v1/proto/service"
)

// Device is a wrapper struct that contains all functionalities for a
// fibsync daemon: the RIB, the FIB it is synced to, and the gRIBI, gNMI
// and metrics servers that export the FIB.
type Device struct {
	// gribiAddr is the address that the server is listening on
	// for gRIBI.
	gribiAddr string
	// gribiSrv is the gRIBI server.
	gribiSrv *server.Server
	// gribiGRPC is the gRPC server hosting gribiSrv.
	gribiGRPC *grpc.Server

	// gnmiAddr is the address that the server is listening on
	// for gNMI.
	gnmiAddr string
	// gnmiSrv is the gNMI collector implementation.
	gnmiSrv *gnmit.Collector

	// metricsAddr is the address of the metrics endpoint, it is empty if
	// the endpoint is not served.
	metricsAddr string
	metricsSrv  *http.Server
	reg         *prometheus.Registry
	syncs       *prometheus.CounterVec
	changes     *prometheus.CounterVec

	rib   *rib.RIB
	store *state.Store
	mgr   *nhid.Manager
	cfg   route.NormalizeConfig
	// snapshot is the path of the warm-boot snapshot, it is empty if warm
	// boot is disabled.
	snapshot string

	// syncMu serialises syncs of the RIB into the store.
	syncMu sync.Mutex
	// dirtyMu protects dirty.
	dirtyMu sync.Mutex
	// dirty is the set of VRFs that changed since they were last synced.
	dirty map[route.RouterID]bool
	// kick wakes the sync loop.
	kick chan struct{}
}

const (
	// targetName is the name that the device has in gNMI.
	targetName string = "DUT"
)

// DevOpt is an interface that is implemented by options that can be handed to New()
// for the device.
type DevOpt interface {
	isDevOpt()
}

// listenAddr is a host and port to listen on.
type listenAddr struct {
	host string
	port int
}

func (l *listenAddr) String() string {
	return net.JoinHostPort(l.host, fmt.Sprintf("%d", l.port))
}

// gRIBIAddr is the internal implementation that specifies the address that
// gRIBI should listen on.
type gRIBIAddr struct{ listenAddr }

// isDevOpt implements the DevOpt interface.
func (*gRIBIAddr) isDevOpt() {}

// GRIBIAddr specifies the host and port that the gRIBI server should listen on.
func GRIBIAddr(host string, i int) *gRIBIAddr {
	return &gRIBIAddr{listenAddr{host: host, port: i}}
}

// gNMIAddr is the internal implementation that specifies the address that
// gNMI should listen on.
type gNMIAddr struct{ listenAddr }

// isDevOpt implements the DevOpt interface.
func (*gNMIAddr) isDevOpt() {}

// GNMIAddr specifies the host and port that the gNMI server should listen on.
func GNMIAddr(host string, i int) *gNMIAddr {
	return &gNMIAddr{listenAddr{host: host, port: i}}
}

// metricsAddr specifies the address of the prometheus endpoint.
type metricsAddr struct{ listenAddr }

// isDevOpt implements the DevOpt interface.
func (*metricsAddr) isDevOpt() {}

// MetricsAddr serves prometheus metrics at /metrics on host and port. The
// endpoint is not served unless this option is given.
func MetricsAddr(host string, i int) *metricsAddr {
	return &metricsAddr{listenAddr{host: host, port: i}}
}

// tlsCreds is the TLS configuration used by the gRPC servers.
type tlsCreds struct {
	c credentials.TransportCredentials
}

// isDevOpt implements the DevOpt interface.
func (*tlsCreds) isDevOpt() {}

// TLSCredsFromFile loads the server certificate and key from the specified
// files and returns an option that serves gRIBI and gNMI over TLS.
func TLSCredsFromFile(certFile, keyFile string) (*tlsCreds, error) {
	c, err := credentials.NewServerTLSFromFile(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("cannot load TLS credentials, %v", err)
	}
	return &tlsCreds{c: c}, nil
}

// normalizeCfg is the ECMP normalization used when programming the FIB.
type normalizeCfg struct {
	cfg route.NormalizeConfig
}

// isDevOpt implements the DevOpt interface.
func (*normalizeCfg) isDevOpt() {}

// NormalizeConfig sets the ECMP normalization of the device. Without it
// route.DefaultNormalizeConfig is used.
func NormalizeConfig(cfg route.NormalizeConfig) *normalizeCfg {
	return &normalizeCfg{cfg: cfg}
}

// ribFile is the path of a static RIB to start with.
type ribFile struct {
	path string
}

// isDevOpt implements the DevOpt interface.
func (*ribFile) isDevOpt() {}

// RIBFile populates the RIB of the device from the static RIB in the YAML
// file at path.
func RIBFile(path string) *ribFile {
	return &ribFile{path: path}
}

// snapshotFile is the path of the warm-boot snapshot.
type snapshotFile struct {
	path string
}

// isDevOpt implements the DevOpt interface.
func (*snapshotFile) isDevOpt() {}

// SnapshotFile enables warm boot. The FIB and its IDs are restored from
// path at startup if it exists, and written to path when the device stops.
func SnapshotFile(path string) *snapshotFile {
	return &snapshotFile{path: path}
}

// New returns a new device with the specific context. It returns the device, a function
// to stop the servers, or any errors that are encountered.
func New(ctx context.Context, opts ...DevOpt) (*Device, func(), error) {
	var cancel func()
	ctx, cancel = context.WithCancel(ctx)
	d := &Device{
		cfg:   route.DefaultNormalizeConfig(),
		dirty: map[route.RouterID]bool{},
		kick:  make(chan struct{}, 1),
	}
	fail := func(err error) (*Device, func(), error) {
		d.stop(cancel)
		return nil, nil, err
	}

	if c := optNormalizeCfg(opts); c != nil {
		d.cfg = c.cfg
	}
	if err := d.cfg.Validate(); err != nil {
		return fail(fmt.Errorf("invalid normalization config, %v", err))
	}

	if s := optSnapshotFile(opts); s != nil {
		d.snapshot = s.path
	}
	st, mgr, err := loadSnapshot(d.snapshot)
	if err != nil {
		return fail(err)
	}
	d.store, d.mgr = state.NewStore(st), mgr

	d.rib = rib.New()
	if f := optRIBFile(opts); f != nil {
		if d.rib, err = rib.FromFile(f.path); err != nil {
			return fail(fmt.Errorf("cannot build RIB, %v", err))
		}
	}
	d.rib.SetHook(d.ribHook)
	for _, vrf := range d.rib.VRFs() {
		d.markDirty(vrf)
	}
	// VRFs restored from the snapshot but absent from the RIB are synced
	// so that they are removed.
	for _, k := range d.store.Current().FibsInfoMap().Keys() {
		fi, _ := d.store.Current().FibsInfoMap().Get(k)
		for _, vrf := range fi.FibsMap().VRFs() {
			d.markDirty(vrf)
		}
	}

	var sopts []grpc.ServerOption
	if t := optTLSCreds(opts); t != nil {
		sopts = append(sopts, grpc.Creds(t.c))
	}

	if err := d.startgNMI(ctx, optGNMIAddr(opts), sopts...); err != nil {
		return fail(fmt.Errorf("cannot start gNMI server, %v", err))
	}
	d.gnmiSrv.Load(d.store.Current())
	if err := d.store.AddObserver("gnmi", d.gnmiSrv.Observe); err != nil {
		return fail(err)
	}

	d.initMetrics()
	if err := d.store.AddObserver("metrics", d.countChanges); err != nil {
		return fail(err)
	}

	if err := d.Sync(); err != nil {
		return fail(fmt.Errorf("cannot program initial FIB, %v", err))
	}

	if err := d.startgRIBI(optGRIBIAddr(opts), sopts...); err != nil {
		return fail(fmt.Errorf("cannot start gRIBI server, %v", err))
	}

	if m := optMetricsAddr(opts); m != nil {
		if err := d.startMetrics(m); err != nil {
			return fail(fmt.Errorf("cannot start metrics server, %v", err))
		}
	}

	go d.syncLoop(ctx)

	var once sync.Once
	return d, func() { once.Do(func() { d.stop(cancel) }) }, nil
}

// stop halts the servers of the device and saves the snapshot if warm boot
// is enabled and the FIB was programmed.
func (d *Device) stop(cancel func()) {
	cancel()
	if d.gribiGRPC != nil {
		d.gribiGRPC.Stop()
	}
	if d.gnmiSrv != nil {
		d.gnmiSrv.Stop()
	}
	if d.metricsSrv != nil {
		d.metricsSrv.Close()
	}
	if d.snapshot != "" && d.gribiSrv != nil {
		if err := d.Save(); err != nil {
			log.Errorf("cannot save warm-boot snapshot, %v", err)
		}
	}
}

// optGRIBIAddr finds the first occurrence of the GRIBIAddr option in opts.
// If no GRIBIAddr option is found, the default of localhost:0 is returned.
func optGRIBIAddr(opts []DevOpt) *listenAddr {
	for _, o := range opts {
		if v, ok := o.(*gRIBIAddr); ok {
			return &v.listenAddr
		}
	}
	return &listenAddr{host: "localhost", port: 0}
}

// optGNMIAddr finds the first occurrence of the GNMIAddr option in opts.
// If no GNMIAddr option is found, the default of localhost:0 is returned.
func optGNMIAddr(opts []DevOpt) *listenAddr {
	for _, o := range opts {
		if v, ok := o.(*gNMIAddr); ok {
			return &v.listenAddr
		}
	}
	return &listenAddr{host: "localhost", port: 0}
}

func optMetricsAddr(opts []DevOpt) *listenAddr {
	for _, o := range opts {
		if v, ok := o.(*metricsAddr); ok {
			return &v.listenAddr
		}
	}
	return nil
}

func optTLSCreds(opts []DevOpt) *tlsCreds {
	for _, o := range opts {
		if v, ok := o.(*tlsCreds); ok {
			return v
		}
	}
	return nil
}

func optNormalizeCfg(opts []DevOpt) *normalizeCfg {
	for _, o := range opts {
		if v, ok := o.(*normalizeCfg); ok {
			return v
		}
	}
	return nil
}

func optRIBFile(opts []DevOpt) *ribFile {
	for _, o := range opts {
		if v, ok := o.(*ribFile); ok {
			return v
		}
	}
	return nil
}

func optSnapshotFile(opts []DevOpt) *snapshotFile {
	for _, o := range opts {
		if v, ok := o.(*snapshotFile); ok {
			return v
		}
	}
	return nil
}

// startgRIBI starts the gRIBI server on the device on the specified address.
// It returns an error if the server cannot be started.
func (d *Device) startgRIBI(addr *listenAddr, opt ...grpc.ServerOption) error {
	l, err := net.Listen("tcp", addr.String())
	if err != nil {
		return fmt.Errorf("cannot create gRIBI server, %v", err)
	}

	s := grpc.NewServer(opt...)
	ts := server.New(d.store)
	spb.RegisterGRIBIServer(s, ts)
	d.gribiAddr = l.Addr().String()
	d.gribiSrv = ts
	d.gribiGRPC = s
	go s.Serve(l)
	return nil
}

// startgNMI starts the gNMI server on the specified address.
func (d *Device) startgNMI(ctx context.Context, addr *listenAddr, opt ...grpc.ServerOption) error {
	c, a, err := gnmit.New(ctx, addr.String(), targetName, true, opt...)
	if err != nil {
		return err
	}
	d.gnmiAddr = a
	d.gnmiSrv = c
	return nil
}

// startMetrics serves the registry of the device over HTTP.
func (d *Device) startMetrics(addr *listenAddr) error {
	l, err := net.Listen("tcp", addr.String())
	if err != nil {
		return fmt.Errorf("cannot listen for metrics, %v", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.reg, promhttp.HandlerOpts{}))
	d.metricsSrv = &http.Server{Handler: mux}
	d.metricsAddr = l.Addr().String()
	go func() {
		if err := d.metricsSrv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("metrics server stopped, %v", err)
		}
	}()
	return nil
}

// initMetrics builds the registry of the device.
func (d *Device) initMetrics() {
	d.reg = prometheus.NewRegistry()
	d.syncs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fibsync",
		Subsystem: "device",
		Name:      "vrf_syncs_total",
		Help:      "Number of syncs of a VRF RIB into the FIB, by result.",
	}, []string{"result"})
	d.changes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fibsync",
		Subsystem: "device",
		Name:      "route_changes_total",
		Help:      "Number of FIB route changes, by operation.",
	}, []string{"op"})
	d.reg.MustRegister(
		nhid.NewCollector(d.mgr),
		d.syncs,
		d.changes,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "fibsync",
			Subsystem: "device",
			Name:      "generation",
			Help:      "Generation of the current FIB state.",
		}, func() float64 { return float64(d.store.Current().Generation()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "fibsync",
			Subsystem: "device",
			Name:      "get_clients",
			Help:      "Number of active gRIBI Get streams.",
		}, func() float64 {
			if d.gribiSrv == nil {
				return 0
			}
			return float64(d.gribiSrv.ActiveClients())
		}),
	)
	for _, f := range route.Families {
		f := f
		d.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "fibsync",
			Subsystem:   "device",
			Name:        "routes",
			Help:        "Number of routes in the FIB.",
			ConstLabels: prometheus.Labels{"family": f.String()},
		}, func() float64 { return float64(d.store.Current().RouteCount(f)) }))
	}
}

// countChanges counts the route changes of each published state.
func (d *Device) countChanges(sd *state.StateDelta) {
	for _, rd := range sd.RouteDeltas() {
		d.changes.WithLabelValues(rd.Op.String()).Inc()
	}
}

// ribHook is called after each change to the RIB, it marks the VRF for
// syncing.
func (d *Device) ribHook(o constants.OpType, _ int64, vrf route.RouterID, _ netip.Prefix, _ *rib.Entry) {
	log.V(2).Infof("RIB %v in VRF %d", o, vrf)
	d.markDirty(vrf)
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *Device) markDirty(vrf route.RouterID) {
	d.dirtyMu.Lock()
	defer d.dirtyMu.Unlock()
	d.dirty[vrf] = true
}

// syncLoop syncs the VRFs changed in the RIB until ctx is done.
func (d *Device) syncLoop(ctx context.Context) {
	for {
		select {
		case <-d.kick:
			if err := d.Sync(); err != nil {
				log.Errorf("cannot sync FIB, %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Sync programs every VRF that changed in the RIB since it was last synced
// into the FIB. VRFs that fail to sync are retried on the next call. It
// returns the first error encountered.
func (d *Device) Sync() error {
	d.syncMu.Lock()
	defer d.syncMu.Unlock()

	d.dirtyMu.Lock()
	vrfs := make([]route.RouterID, 0, len(d.dirty))
	for vrf := range d.dirty {
		vrfs = append(vrfs, vrf)
	}
	d.dirty = map[route.RouterID]bool{}
	d.dirtyMu.Unlock()
	slices.Sort(vrfs)

	var errs []error
	for _, vrf := range vrfs {
		if err := d.syncVRF(vrf); err != nil {
			d.syncs.WithLabelValues("error").Inc()
			d.markDirty(vrf)
			errs = append(errs, fmt.Errorf("VRF %d, %v", vrf, err))
			continue
		}
		d.syncs.WithLabelValues("ok").Inc()
	}
	if len(errs) != 0 {
		return errs[0]
	}
	return nil
}

// syncVRF programs vrf, removing it from the FIB if the RIB no longer has it.
func (d *Device) syncVRF(vrf route.RouterID) error {
	v, ok := d.rib.VRFRIB(vrf)
	if ok {
		return updater.Sync(d.store, d.mgr, d.cfg, state.DefaultSwitchKey, v)
	}
	u := updater.NewForwardingInformationBaseUpdater(d.mgr, d.cfg, state.DefaultSwitchKey, vrf, nil, nil)
	return d.store.Update(fmt.Sprintf("fib-vrf-%d", vrf), u.Apply)
}

// loadSnapshot returns the state and ID manager restored from the snapshot
// at path. It returns an empty state if path is empty or does not exist.
func loadSnapshot(path string) (*state.SwitchState, *nhid.Manager, error) {
	if path == "" {
		return nil, nhid.New(), nil
	}
	b, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		log.Infof("no warm-boot snapshot at %s, starting cold", path)
		return nil, nhid.New(), nil
	case err != nil:
		return nil, nil, fmt.Errorf("cannot read warm-boot snapshot, %v", err)
	}
	fibs, err := state.UnmarshalFibInfoMap(b)
	if err != nil {
		return nil, nil, err
	}
	mgr, err := nhid.FromFib(fibs)
	if err != nil {
		return nil, nil, err
	}
	log.Infof("restored FIB of %d switches from %s", fibs.Len(), path)
	return state.SwitchStateFromFibInfoMap(fibs), mgr, nil
}

// Save writes the current FIB and its IDs to the warm-boot snapshot. The
// file is replaced atomically.
func (d *Device) Save() error {
	if d.snapshot == "" {
		return errors.New("warm boot is not enabled")
	}
	b, err := state.MarshalFibInfoMap(d.store.Current().FibsInfoMap())
	if err != nil {
		return fmt.Errorf("cannot marshal FIB, %v", err)
	}
	f, err := os.CreateTemp(filepath.Dir(d.snapshot), filepath.Base(d.snapshot)+".*")
	if err != nil {
		return fmt.Errorf("cannot create snapshot, %v", err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("cannot write snapshot, %v", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return fmt.Errorf("cannot write snapshot, %v", err)
	}
	return os.Rename(f.Name(), d.snapshot)
}

// GRIBIAddr returns the address that the gRIBI server is listening on.
func (d *Device) GRIBIAddr() string {
	return d.gribiAddr
}

// GNMIAddr returns the address that the gNMI server is listening on.
func (d *Device) GNMIAddr() string {
	return d.gnmiAddr
}

// MetricsAddr returns the address of the metrics endpoint, it is empty if
// metrics are not served.
func (d *Device) MetricsAddr() string {
	return d.metricsAddr
}

// RIB returns the RIB of the device. Changes to it are synced to the FIB in
// the background, or by calling Sync.
func (d *Device) RIB() *rib.RIB {
	return d.rib
}

// Store returns the store holding the programmed FIB.
func (d *Device) Store() *state.Store {
	return d.store
}

// Registry returns the prometheus registry of the device.
func (d *Device) Registry() *prometheus.Registry {
	return d.reg
}
