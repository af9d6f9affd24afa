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

// Package constants defines constants that are shared amongst multiple fibsync
// packages.
package constants

import (
	"fmt"

	spb "github.com/openconfig/gribi/v1/proto/service"
)

// OpType indicates the type of change that was made to an entry between two
// generations of state.
type OpType int64

const (
	_ OpType = iota
	// ADD indicates that the entry was added.
	ADD
	// DELETE indicates that the entry was removed.
	DELETE
	// REPLACE indicates that the entry was changed.
	REPLACE
)

// String returns the name of the operation.
func (o OpType) String() string {
	switch o {
	case ADD:
		return "ADD"
	case DELETE:
		return "DELETE"
	case REPLACE:
		return "REPLACE"
	}
	return fmt.Sprintf("op(%d)", int64(o))
}

// AFTOpFromOp returns the gRIBI AFT operation corresponding to an OpType.
func AFTOpFromOp(o OpType) spb.AFTOperation_Operation {
	switch o {
	case ADD:
		return spb.AFTOperation_ADD
	case DELETE:
		return spb.AFTOperation_DELETE
	case REPLACE:
		return spb.AFTOperation_REPLACE
	}
	return spb.AFTOperation_INVALID
}

// AFT is an enumerated type describing the AFTs that are exported from the
// FIB.
type AFT int64

const (
	_ AFT = iota
	// ALL specifies all AFTs.
	ALL
	// IPV4 specifies the IPv4 AFT.
	IPV4
	// IPV6 specifies the IPv6 AFT.
	IPV6
	// NEXTHOP specifies the next-hop AFT.
	NEXTHOP
	// NEXTHOPGROUP specifies the next-hop-group AFT.
	NEXTHOPGROUP
)

// String returns the name of the AFT.
func (a AFT) String() string {
	switch a {
	case ALL:
		return "ALL"
	case IPV4:
		return "IPV4"
	case IPV6:
		return "IPV6"
	case NEXTHOP:
		return "NEXTHOP"
	case NEXTHOPGROUP:
		return "NEXTHOPGROUP"
	}
	return fmt.Sprintf("aft(%d)", int64(a))
}

// aftMap maps between an AFT enumerated type and the specified type in the
// gRIBI protobuf.
var aftMap = map[AFT]spb.AFTType{
	ALL:          spb.AFTType_ALL,
	IPV4:         spb.AFTType_IPV4,
	IPV6:         spb.AFTType_IPV6,
	NEXTHOP:      spb.AFTType_NEXTHOP,
	NEXTHOPGROUP: spb.AFTType_NEXTHOP_GROUP,
}

// AFTTypeFromAFT returns the gRIBI AFTType from the enumerated AFT type.
func AFTTypeFromAFT(a AFT) spb.AFTType {
	return aftMap[a]
}

// AFTFromAFTType returns the enumerated AFT type for the gRIBI AFTType t. It
// returns an error for types that are not exported.
func AFTFromAFTType(t spb.AFTType) (AFT, error) {
	for k, v := range aftMap {
		if v == t {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unsupported AFT type %s", t)
}

// Includes reports whether a request for AFT a should return entries of
// type o.
func (a AFT) Includes(o AFT) bool {
	return a == ALL || a == o
}
