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

// Binary fibsyncd programs a static RIB into a FIB and exports it over
// gRIBI Get, gNMI and prometheus.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/golang/glog"
	"github.com/openconfig/fibsync/device"
	"github.com/openconfig/fibsync/route"
)

var (
	certFile = flag.String("cert", "", "cert is the path to the server TLS certificate file")
	keyFile  = flag.String("key", "", "key is the path to the server TLS key file")

	gribiPort   = flag.Int("gribi_port", 0, "port that the gRIBI server listens on, 0 picks a free port")
	gnmiPort    = flag.Int("gnmi_port", 0, "port that the gNMI server listens on, 0 picks a free port")
	metricsPort = flag.Int("metrics_port", -1, "port that prometheus metrics are served on, negative disables metrics")

	ribFile  = flag.String("rib", "", "path of a YAML static RIB to program")
	snapshot = flag.String("snapshot", "", "path of the warm-boot FIB snapshot, empty disables warm boot")

	ecmpWidth       = flag.Uint64("ecmp_width", route.DefaultEcmpWidth, "maximum total weight of a hardware ECMP group")
	optimizedUcmp   = flag.Bool("optimized_ucmp", false, "use the error-minimizing UCMP weight scaling")
	ucmpMaxErrorPct = flag.Float64("ucmp_max_error_pct", route.DefaultUcmpMaxErrorPct, "largest per-member UCMP error in percent that the optimized scaling accepts")
	wideEcmpWidth   = flag.Uint64("wide_ecmp_width", 0, "path count for groups with more members than ecmp_width, 0 rejects them")
)

func main() {
	flag.Parse()

	cfg := route.NormalizeConfig{
		EcmpWidth:       *ecmpWidth,
		OptimizedUcmp:   *optimizedUcmp,
		UcmpMaxErrorPct: *ucmpMaxErrorPct,
		WideEcmpWidth:   *wideEcmpWidth,
	}
	if err := cfg.Validate(); err != nil {
		log.Exitf("invalid ECMP configuration, %v", err)
	}

	opts := []device.DevOpt{
		device.NormalizeConfig(cfg),
		device.GRIBIAddr("", *gribiPort),
		device.GNMIAddr("", *gnmiPort),
	}
	switch {
	case *certFile != "" && *keyFile != "":
		creds, err := device.TLSCredsFromFile(*certFile, *keyFile)
		if err != nil {
			log.Exitf("cannot initialise TLS, got: %v", err)
		}
		opts = append(opts, creds)
	case *certFile != "" || *keyFile != "":
		log.Exitf("must specify both a TLS certificate and key file")
	default:
		log.Warningf("serving without TLS")
	}
	if *metricsPort >= 0 {
		opts = append(opts, device.MetricsAddr("", *metricsPort))
	}
	if *ribFile != "" {
		opts = append(opts, device.RIBFile(*ribFile))
	}
	if *snapshot != "" {
		opts = append(opts, device.SnapshotFile(*snapshot))
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	d, cancel, err := device.New(ctx, opts...)
	if err != nil {
		log.Exitf("cannot start device, %v", err)
	}
	defer cancel()
	log.Infof("listening on:\n\tgRIBI: %s\n\tgNMI: %s\n\tmetrics: %s", d.GRIBIAddr(), d.GNMIAddr(), d.MetricsAddr())
	<-ctx.Done()
	log.Infof("shutting down")
}
