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
	"errors"
	"fmt"
	"strings"
)

// ForwardAction is the forwarding decision of a route.
type ForwardAction int64

const (
	_ ForwardAction = iota
	// Drop discards matching packets.
	Drop
	// ToCPU punts matching packets to the control plane.
	ToCPU
	// NextHops forwards matching packets to a weighted set of next-hops.
	NextHops
)

// String returns the name of the action.
func (a ForwardAction) String() string {
	switch a {
	case Drop:
		return "DROP"
	case ToCPU:
		return "TO_CPU"
	case NextHops:
		return "NEXTHOPS"
	}
	return fmt.Sprintf("action(%d)", int64(a))
}

// ParseForwardAction returns the action named s.
func ParseForwardAction(s string) (ForwardAction, error) {
	switch strings.ToUpper(s) {
	case "DROP":
		return Drop, nil
	case "TO_CPU":
		return ToCPU, nil
	case "NEXTHOPS":
		return NextHops, nil
	}
	return 0, fmt.Errorf("unknown forwarding action %q", s)
}

// EcmpMode is the hashing mode used to spread traffic over an ECMP group.
type EcmpMode int64

const (
	// EcmpDefault is the zero EcmpMode, and means that no override is set.
	EcmpDefault EcmpMode = iota
	// EcmpDynamicFlowlet selects flowlet based switching.
	EcmpDynamicFlowlet
	// EcmpPerPacketQuality selects per-packet quality based switching.
	EcmpPerPacketQuality
	// EcmpPerPacketRandom selects random per-packet switching.
	EcmpPerPacketRandom
)

// RouteNextHopEntry is the forwarding decision for a prefix. It is a value,
// the With* methods return modified copies.
type RouteNextHopEntry struct {
	action   ForwardAction
	distance AdminDistance
	nhs      NextHopSet

	counterID        string
	classID          ClassID
	hasClassID       bool
	overrideEcmpMode EcmpMode
	overrideNHs      NextHopSet

	// resolvedID and normalizedID are zero when unset, since zero is never
	// a valid NextHopSetID.
	resolvedID   NextHopSetID
	normalizedID NextHopSetID
}

// EntryOpt is an option that can be supplied when creating a
// RouteNextHopEntry.
type EntryOpt func(*RouteNextHopEntry)

// WithCounterID attaches a route counter to the entry.
func WithCounterID(id string) EntryOpt {
	return func(e *RouteNextHopEntry) { e.counterID = id }
}

// WithClassID attaches an ACL lookup class to the entry.
func WithClassID(id ClassID) EntryOpt {
	return func(e *RouteNextHopEntry) { e.classID, e.hasClassID = id, true }
}

// WithOverrideEcmpMode sets the ECMP switching mode used for the entry.
func WithOverrideEcmpMode(m EcmpMode) EntryOpt {
	return func(e *RouteNextHopEntry) { e.overrideEcmpMode = m }
}

// WithOverrideNextHops sets a traffic engineered next-hop set that
// replaces the routed set in hardware.
func WithOverrideNextHops(nhs NextHopSet) EntryOpt {
	return func(e *RouteNextHopEntry) { e.overrideNHs = NewNextHopSet(nhs...) }
}

func newEntry(a ForwardAction, d AdminDistance, opts []EntryOpt) RouteNextHopEntry {
	e := RouteNextHopEntry{action: a, distance: d}
	for _, o := range opts {
		o(&e)
	}
	return e
}

// DropEntry returns an entry that discards traffic.
func DropEntry(d AdminDistance, opts ...EntryOpt) RouteNextHopEntry {
	return newEntry(Drop, d, opts)
}

// ToCPUEntry returns an entry that punts traffic to the CPU.
func ToCPUEntry(d AdminDistance, opts ...EntryOpt) RouteNextHopEntry {
	return newEntry(ToCPU, d, opts)
}

// NextHopsEntry returns an entry that forwards to nhs. It returns an error
// if nhs is empty.
func NextHopsEntry(nhs NextHopSet, d AdminDistance, opts ...EntryOpt) (RouteNextHopEntry, error) {
	if len(nhs) == 0 {
		return RouteNextHopEntry{}, errors.New("cannot create a NEXTHOPS entry with an empty next-hop set")
	}
	e := newEntry(NextHops, d, opts)
	e.nhs = NewNextHopSet(nhs...)
	return e, nil
}

// Action returns the forwarding action.
func (e RouteNextHopEntry) Action() ForwardAction { return e.action }

// AdminDistance returns the admin distance of the route source.
func (e RouteNextHopEntry) AdminDistance() AdminDistance { return e.distance }

// NextHopSet returns the next-hops of a NEXTHOPS entry, it is empty for
// other actions.
func (e RouteNextHopEntry) NextHopSet() NextHopSet { return e.nhs }

// CounterID returns the route counter, if one is set.
func (e RouteNextHopEntry) CounterID() (string, bool) { return e.counterID, e.counterID != "" }

// ClassID returns the lookup class, if one is set.
func (e RouteNextHopEntry) ClassID() (ClassID, bool) { return e.classID, e.hasClassID }

// OverrideEcmpMode returns the overridden ECMP switching mode, if one is set.
func (e RouteNextHopEntry) OverrideEcmpMode() (EcmpMode, bool) {
	return e.overrideEcmpMode, e.overrideEcmpMode != EcmpDefault
}

// OverrideNextHops returns the traffic engineered next-hop set, if one is
// set.
func (e RouteNextHopEntry) OverrideNextHops() (NextHopSet, bool) {
	return e.overrideNHs, len(e.overrideNHs) != 0
}

// ResolvedNextHopSetID returns the ID allocated to the entry's next-hop set.
func (e RouteNextHopEntry) ResolvedNextHopSetID() (NextHopSetID, bool) {
	return e.resolvedID, e.resolvedID != 0
}

// NormalizedResolvedNextHopSetID returns the ID allocated to the
// normalized form of the entry's next-hop set, if it differs from the
// resolved set.
func (e RouteNextHopEntry) NormalizedResolvedNextHopSetID() (NextHopSetID, bool) {
	return e.normalizedID, e.normalizedID != 0
}

// WithResolvedNextHopSetID returns a copy of e that refers to set ID id.
func (e RouteNextHopEntry) WithResolvedNextHopSetID(id NextHopSetID) RouteNextHopEntry {
	e.resolvedID = id
	return e
}

// WithNormalizedResolvedNextHopSetID returns a copy of e whose normalized
// set refers to set ID id.
func (e RouteNextHopEntry) WithNormalizedResolvedNextHopSetID(id NextHopSetID) RouteNextHopEntry {
	e.normalizedID = id
	return e
}

// WithoutIDs returns a copy of e with no set IDs.
func (e RouteNextHopEntry) WithoutIDs() RouteNextHopEntry {
	e.resolvedID, e.normalizedID = 0, 0
	return e
}

// EqualIgnoringIDs reports whether e and o make the same forwarding
// decision, regardless of the set IDs that they carry.
func (e RouteNextHopEntry) EqualIgnoringIDs(o RouteNextHopEntry) bool {
	return e.action == o.action &&
		e.distance == o.distance &&
		e.nhs.Equal(o.nhs) &&
		e.counterID == o.counterID &&
		e.classID == o.classID &&
		e.hasClassID == o.hasClassID &&
		e.overrideEcmpMode == o.overrideEcmpMode &&
		e.overrideNHs.Equal(o.overrideNHs)
}

// Equal reports whether e and o are identical.
func (e RouteNextHopEntry) Equal(o RouteNextHopEntry) bool {
	return e.EqualIgnoringIDs(o) && e.resolvedID == o.resolvedID && e.normalizedID == o.normalizedID
}

// NormalizedNextHops returns the next-hop set of e scaled to fit into the
// hardware ECMP width described by cfg.
func (e RouteNextHopEntry) NormalizedNextHops(cfg NormalizeConfig) (NextHopSet, error) {
	if e.action != NextHops {
		return nil, nil
	}
	return Normalize(e.nhs, cfg)
}

// String returns a human readable form of the entry.
func (e RouteNextHopEntry) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s distance:%d", e.action, e.distance)
	if e.action == NextHops {
		fmt.Fprintf(&b, " nhs:%s", e.nhs)
	}
	if e.counterID != "" {
		fmt.Fprintf(&b, " counter:%s", e.counterID)
	}
	if e.hasClassID {
		fmt.Fprintf(&b, " class:%d", e.classID)
	}
	if e.resolvedID != 0 {
		fmt.Fprintf(&b, " setID:%d", e.resolvedID)
	}
	if e.normalizedID != 0 {
		fmt.Fprintf(&b, " normalizedSetID:%d", e.normalizedID)
	}
	return b.String()
}
