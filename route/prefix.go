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
	"net/netip"
)

// ParsePrefix parses s as a CIDR prefix and returns it in canonical (masked)
// form. 1.1.1.1/24 is returned as 1.1.1.0/24.
func ParsePrefix(s string) (netip.Prefix, error) {
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("invalid prefix %q, %v", s, err)
	}
	return CanonicalPrefix(p), nil
}

// MustPrefix parses s as a prefix, and panics if it is invalid. It should
// only be used for constants and in tests.
func MustPrefix(s string) netip.Prefix {
	p, err := ParsePrefix(s)
	if err != nil {
		panic(err)
	}
	return p
}

// MustAddr parses s as an IP address and panics if it is invalid.
func MustAddr(s string) netip.Addr {
	return netip.MustParseAddr(s)
}

// CanonicalPrefix returns p with the host bits cleared and any IPv4-mapped
// IPv6 address unmapped.
func CanonicalPrefix(p netip.Prefix) netip.Prefix {
	if a := p.Addr(); a.Is4In6() && p.Bits() >= 96 {
		p = netip.PrefixFrom(a.Unmap(), p.Bits()-96)
	}
	return p.Masked()
}

// PrefixFamily returns the address family of the prefix p.
func PrefixFamily(p netip.Prefix) Family {
	return FamilyOf(p.Addr())
}

// ComparePrefix orders prefixes by their masked network address, and then by
// mask length (shorter first). It returns -1, 0 or 1.
func ComparePrefix(a, b netip.Prefix) int {
	a, b = a.Masked(), b.Masked()
	if c := a.Addr().Compare(b.Addr()); c != 0 {
		return c
	}
	switch {
	case a.Bits() < b.Bits():
		return -1
	case a.Bits() > b.Bits():
		return 1
	}
	return 0
}
