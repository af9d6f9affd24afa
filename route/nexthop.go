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
	"cmp"
	"fmt"
	"net/netip"
	"slices"
	"strings"
)

// MaxLabelStackDepth is the maximum number of labels that can be pushed by a
// single next-hop.
const MaxLabelStackDepth = 8

// LabelAction is the MPLS operation that a next-hop applies to a packet.
type LabelAction int64

const (
	// NoLabelAction indicates that the next-hop carries no MPLS action.
	NoLabelAction LabelAction = iota
	// LabelSwap swaps the top label.
	LabelSwap
	// LabelPush pushes a stack of labels.
	LabelPush
	// LabelPop pops the top label and forwards the payload.
	LabelPop
	// LabelPHP performs penultimate hop popping.
	LabelPHP
	// LabelPopAndLookup pops the top label and does a lookup on the payload.
	LabelPopAndLookup
	// LabelNoop forwards the packet unchanged.
	LabelNoop
)

var labelActionNames = map[LabelAction]string{
	NoLabelAction:     "none",
	LabelSwap:         "swap",
	LabelPush:         "push",
	LabelPop:          "pop",
	LabelPHP:          "php",
	LabelPopAndLookup: "pop-and-lookup",
	LabelNoop:         "noop",
}

// String returns the name of the label action.
func (l LabelAction) String() string {
	if s, ok := labelActionNames[l]; ok {
		return s
	}
	return fmt.Sprintf("label-action(%d)", int64(l))
}

// ParseLabelAction returns the LabelAction named by s.
func ParseLabelAction(s string) (LabelAction, error) {
	for k, v := range labelActionNames {
		if v == s {
			return k, nil
		}
	}
	return NoLabelAction, fmt.Errorf("unknown label action %q", s)
}

// LabelForwardingAction is the MPLS action of a next-hop. It is a value type
// so that it can form part of a NextHop map key.
type LabelForwardingAction struct {
	action LabelAction
	swap   uint32
	depth  int
	stack  [MaxLabelStackDepth]uint32
}

// SwapLabel returns an action that swaps the top label for label.
func SwapLabel(label uint32) LabelForwardingAction {
	return LabelForwardingAction{action: LabelSwap, swap: label}
}

// PushLabels returns an action that pushes labels, the first label in the
// slice is outermost. It returns an error if the stack is empty or deeper
// than MaxLabelStackDepth.
func PushLabels(labels ...uint32) (LabelForwardingAction, error) {
	if len(labels) == 0 || len(labels) > MaxLabelStackDepth {
		return LabelForwardingAction{}, fmt.Errorf("invalid label stack depth %d, must be in [1, %d]", len(labels), MaxLabelStackDepth)
	}
	l := LabelForwardingAction{action: LabelPush, depth: len(labels)}
	copy(l.stack[:], labels)
	return l, nil
}

// SimpleLabelAction returns an action that carries no label argument, it is
// one of pop, php, pop-and-lookup or noop.
func SimpleLabelAction(a LabelAction) (LabelForwardingAction, error) {
	switch a {
	case LabelPop, LabelPHP, LabelPopAndLookup, LabelNoop:
		return LabelForwardingAction{action: a}, nil
	}
	return LabelForwardingAction{}, fmt.Errorf("label action %s requires an argument", a)
}

// Action returns the MPLS operation.
func (l LabelForwardingAction) Action() LabelAction { return l.action }

// IsSet reports whether l specifies an MPLS operation.
func (l LabelForwardingAction) IsSet() bool { return l.action != NoLabelAction }

// Swap returns the label swapped in by a swap action.
func (l LabelForwardingAction) Swap() uint32 { return l.swap }

// Stack returns the labels pushed by a push action.
func (l LabelForwardingAction) Stack() []uint32 {
	return slices.Clone(l.stack[:l.depth])
}

func (l LabelForwardingAction) compare(o LabelForwardingAction) int {
	if c := cmp.Compare(l.action, o.action); c != 0 {
		return c
	}
	if c := cmp.Compare(l.swap, o.swap); c != 0 {
		return c
	}
	return slices.Compare(l.stack[:l.depth], o.stack[:o.depth])
}

func (l LabelForwardingAction) String() string {
	switch l.action {
	case LabelSwap:
		return fmt.Sprintf("swap %d", l.swap)
	case LabelPush:
		return fmt.Sprintf("push %v", l.stack[:l.depth])
	}
	return l.action.String()
}

// NextHop is a forwarding target. A NextHop is either resolved, in which case
// it has an egress interface, or unresolved and carries only an address.
// NextHop is comparable and can be used as a map key.
type NextHop struct {
	resolved bool
	addr     netip.Addr
	intf     InterfaceID
	weight   uint64
	labels   LabelForwardingAction
}

// ResolvedNextHop returns a next-hop to addr out of interface intf.
func ResolvedNextHop(addr netip.Addr, intf InterfaceID, weight uint64) NextHop {
	return NextHop{resolved: true, addr: addr, intf: intf, weight: weight}
}

// UnresolvedNextHop returns a next-hop to addr whose egress interface is not
// known.
func UnresolvedNextHop(addr netip.Addr, weight uint64) NextHop {
	return NextHop{addr: addr, weight: weight}
}

// WithLabels returns a copy of n with the MPLS action l.
func (n NextHop) WithLabels(l LabelForwardingAction) NextHop {
	n.labels = l
	return n
}

// WithWeight returns a copy of n with weight w.
func (n NextHop) WithWeight(w uint64) NextHop {
	n.weight = w
	return n
}

// IsResolved reports whether the egress interface of n is known.
func (n NextHop) IsResolved() bool { return n.resolved }

// Addr returns the address of the next-hop.
func (n NextHop) Addr() netip.Addr { return n.addr }

// Interface returns the egress interface, it is NoInterface for an
// unresolved next-hop.
func (n NextHop) Interface() InterfaceID { return n.intf }

// Weight returns the UCMP weight of the next-hop. A weight of zero is
// treated as ECMP.
func (n NextHop) Weight() uint64 { return n.weight }

// Labels returns the MPLS action of the next-hop.
func (n NextHop) Labels() LabelForwardingAction { return n.labels }

// Compare returns -1, 0 or 1 as n sorts before, equal to or after o. The
// order is address, resolved-ness (unresolved first), interface, weight and
// finally label action.
func (n NextHop) Compare(o NextHop) int {
	if c := n.addr.Compare(o.addr); c != 0 {
		return c
	}
	if n.resolved != o.resolved {
		if !n.resolved {
			return -1
		}
		return 1
	}
	if c := cmp.Compare(n.intf, o.intf); c != 0 {
		return c
	}
	if c := cmp.Compare(n.weight, o.weight); c != 0 {
		return c
	}
	return n.labels.compare(o.labels)
}

// Equal reports whether n and o are the same next-hop.
func (n NextHop) Equal(o NextHop) bool { return n == o }

// String returns a human readable form of the next-hop.
func (n NextHop) String() string {
	var b strings.Builder
	b.WriteString(n.addr.String())
	if n.resolved {
		fmt.Fprintf(&b, "@I%d", n.intf)
	}
	fmt.Fprintf(&b, " w:%d", n.weight)
	if n.labels.IsSet() {
		fmt.Fprintf(&b, " mpls:%s", n.labels)
	}
	return b.String()
}

// NextHopSet is an ordered set of next-hops with no duplicates. The zero
// value is an empty set.
type NextHopSet []NextHop

// NewNextHopSet returns the sorted, de-duplicated set of nhs.
func NewNextHopSet(nhs ...NextHop) NextHopSet {
	s := slices.Clone(nhs)
	slices.SortFunc(s, NextHop.Compare)
	return slices.CompactFunc(s, func(a, b NextHop) bool { return a == b })
}

// Equal reports whether s and o contain the same next-hops.
func (s NextHopSet) Equal(o NextHopSet) bool {
	return slices.Equal(s, o)
}

// TotalWeight returns the sum of the weights of the set, ECMP members
// (weight zero) count as one.
func (s NextHopSet) TotalWeight() uint64 {
	var t uint64
	for _, n := range s {
		t += max(n.weight, 1)
	}
	return t
}

// String returns a human readable form of the set.
func (s NextHopSet) String() string {
	parts := make([]string, 0, len(s))
	for _, n := range s {
		parts = append(parts, n.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
