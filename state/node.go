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

// Package state implements the versioned, copy-on-write switch state tree
// that holds the FIBs of each hardware switch together with the next-hop ID
// tables that they reference.
//
// Every node in the tree is either unpublished, in which case it is owned by
// the single writer building the next generation and may be changed in
// place, or published, in which case it is immutable and may be shared by any
// number of readers and by later generations. A writer obtains a changeable
// version of any node by calling its Modify method with a pointer to the
// root that it is building; a published node is cloned and the clone is
// spliced into a writable copy of each of its ancestors up to the root.
package state

import (
	"fmt"

	"go.uber.org/atomic"
)

// node holds the publication status shared by all nodes in the tree.
type node struct {
	published atomic.Bool
}

// IsPublished reports whether the node has been frozen.
func (n *node) IsPublished() bool { return n.published.Load() }

func (n *node) publish() { n.published.Store(true) }

// mustBeWritable panics if the node is published. what names the node in
// the panic message.
func (n *node) mustBeWritable(what string) {
	if n.IsPublished() {
		panic(fmt.Sprintf("attempt to mutate published %s", what))
	}
}

// cowNode is implemented by every composite node in the tree.
type cowNode[T any] interface {
	IsPublished() bool
	clone() T
}

// modifyNode returns a writable version of n within the state being built
// at *st. An unpublished node is returned as is. A published node is cloned
// and splice is called with the clone, splice must hang the clone off a
// writable version of n's parent, obtained by calling the parent's Modify
// with st.
func modifyNode[T cowNode[T]](n T, st **SwitchState, splice func(T)) T {
	if st == nil || *st == nil {
		panic("modify called without a switch state")
	}
	if !n.IsPublished() {
		if (*st).IsPublished() {
			panic("unpublished node found in a published switch state")
		}
		return n
	}
	c := n.clone()
	splice(c)
	return c
}
