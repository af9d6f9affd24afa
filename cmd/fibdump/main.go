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

// Binary fibdump prints the FIB exported by a fibsync daemon as prototext.
package main

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/golang/glog"
	"github.com/openconfig/fibsync/client"
	"github.com/openconfig/fibsync/constants"
	"google.golang.org/grpc/credentials"
	"google.golang.org/protobuf/encoding/prototext"

	spb "github.com/openconfig/gribi/v1/proto/service"
)

var (
	addr    = flag.String("addr", "localhost:9340", "address of the gRIBI server")
	netInst = flag.String("network_instance", "", "network instance to dump, empty dumps all of them")
	aft     = flag.String("aft", "ALL", "AFT to dump, one of ALL, IPV4, IPV6, NEXTHOP or NEXTHOP_GROUP")
	caFile  = flag.String("ca", "", "path of the CA certificate of the server, empty dials without TLS")
	timeout = flag.Duration("timeout", 30*time.Second, "timeout of the Get RPC")
)

func main() {
	flag.Parse()

	t, ok := spb.AFTType_value[strings.ToUpper(*aft)]
	if !ok {
		log.Exitf("unknown AFT %s", *aft)
	}
	a, err := constants.AFTFromAFTType(spb.AFTType(t))
	if err != nil {
		log.Exitf("cannot dump AFT %s, %v", *aft, err)
	}

	var opts []client.DialOpt
	if *caFile != "" {
		creds, err := credentials.NewClientTLSFromFile(*caFile, "")
		if err != nil {
			log.Exitf("cannot load CA certificate, %v", err)
		}
		opts = append(opts, client.WithTransportCredentials(creds))
	}

	c := client.New()
	if err := c.Dial(*addr, opts...); err != nil {
		log.Exitf("cannot dial %s, %v", *addr, err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	var resp *spb.GetResponse
	if *netInst == "" {
		resp, err = c.GetAll(ctx, a)
	} else {
		resp, err = c.GetNetworkInstance(ctx, *netInst, a)
	}
	if err != nil {
		log.Exitf("cannot get FIB, %v", err)
	}

	afts := client.AFTsByNetworkInstance(resp)
	names := make([]string, 0, len(afts))
	for ni := range afts {
		names = append(names, ni)
	}
	sort.Strings(names)
	for _, ni := range names {
		fmt.Printf("# network instance %s\n%s\n", ni, prototext.Format(afts[ni]))
	}
}
