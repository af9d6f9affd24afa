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

package route

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// NextHopID is the identity assigned to a single NextHop.
type NextHopID uint64

// NextHopSetID is the identity assigned to a NextHopIDSet.
type NextHopSetID uint64

const (
	// FirstNextHopID is the first ID handed out to a next-hop.
	FirstNextHopID NextHopID = 1
	// SetIDOffset splits the identity space. Next-hop IDs are allocated in
	// [FirstNextHopID, SetIDOffset) and next-hop set IDs in
	// [FirstNextHopSetID, SetIDLimit). Persisted snapshots depend on these
	// values.
	SetIDOffset uint64 = 1 << 62
	// FirstNextHopSetID is the first ID handed out to a next-hop set.
	FirstNextHopSetID NextHopSetID = NextHopSetID(SetIDOffset + 1)
	// SetIDLimit is the exclusive upper bound of next-hop set IDs.
	SetIDLimit uint64 = 1 << 63
)

// IsNextHopID reports whether v lies in the next-hop ID range.
func IsNextHopID(v uint64) bool {
	return v >= uint64(FirstNextHopID) && v < SetIDOffset
}

// IsNextHopSetID reports whether v lies in the next-hop set ID range.
func IsNextHopSetID(v uint64) bool {
	return v >= SetIDOffset && v < SetIDLimit
}

// NextHopIDSet is an ordered set of next-hop IDs. Two sets built from the
// same IDs in any order are equal and have the same Key.
type NextHopIDSet []NextHopID

// NewNextHopIDSet returns the sorted, de-duplicated set of ids.
func NewNextHopIDSet(ids ...NextHopID) NextHopIDSet {
	s := slices.Clone(ids)
	slices.Sort(s)
	return slices.Compact(s)
}

// Equal reports whether s and o contain the same IDs.
func (s NextHopIDSet) Equal(o NextHopIDSet) bool { return slices.Equal(s, o) }

// Contains reports whether id is a member of s.
func (s NextHopIDSet) Contains(id NextHopID) bool {
	_, ok := slices.BinarySearch(s, id)
	return ok
}

// Key returns a string that uniquely identifies the members of s, it is
// used to index maps by set.
func (s NextHopIDSet) Key() string {
	var b strings.Builder
	for i, id := range NewNextHopIDSet(s...) {
		if i != 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(uint64(id), 10))
	}
	return b.String()
}

// ParseNextHopIDSet parses the output of Key.
func ParseNextHopIDSet(k string) (NextHopIDSet, error) {
	if k == "" {
		return NextHopIDSet{}, nil
	}
	var ids []NextHopID
	for _, p := range strings.Split(k, ",") {
		v, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid next-hop ID %q in set %q, %v", p, k, err)
		}
		ids = append(ids, NextHopID(v))
	}
	return NewNextHopIDSet(ids...), nil
}

// String returns a human readable form of the set.
func (s NextHopIDSet) String() string { return "{" + s.Key() + "}" }
