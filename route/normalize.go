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
	"math"
	"math/bits"
	"sort"
)

// ErrTooManyNextHops is returned when a next-hop set has more members than
// the width it must be normalized into.
var ErrTooManyNextHops = errors.New("next-hop set has more members than the ECMP width")

const (
	// DefaultEcmpWidth is the default maximum number of paths in a
	// hardware ECMP group.
	DefaultEcmpWidth = 64
	// DefaultUcmpMaxErrorPct is the default tolerance of the optimized
	// normalization.
	DefaultUcmpMaxErrorPct = 5.0
	// refineWidthLimit is the width above which the optimized normalization
	// does not attempt to refine its result.
	refineWidthLimit = 512
)

// NormalizeConfig carries the tunables that control how weighted next-hop
// sets are scaled into hardware ECMP groups.
type NormalizeConfig struct {
	// EcmpWidth is the maximum total weight of a normalized set.
	EcmpWidth uint64
	// OptimizedUcmp selects the error-minimizing scaling.
	OptimizedUcmp bool
	// UcmpMaxErrorPct is the largest per-member relative error, in percent,
	// that the optimized scaling accepts without refining further.
	UcmpMaxErrorPct float64
	// WideEcmpWidth, when non-zero, is the path count that sets with more
	// members than EcmpWidth are normalized to. It must be a power of two.
	WideEcmpWidth uint64
}

// DefaultNormalizeConfig returns the configuration used when none is given.
func DefaultNormalizeConfig() NormalizeConfig {
	return NormalizeConfig{
		EcmpWidth:       DefaultEcmpWidth,
		UcmpMaxErrorPct: DefaultUcmpMaxErrorPct,
	}
}

// Validate returns an error if the configuration cannot be used.
func (c NormalizeConfig) Validate() error {
	if c.EcmpWidth == 0 {
		return errors.New("ECMP width must be at least 1")
	}
	if c.UcmpMaxErrorPct < 0 {
		return fmt.Errorf("invalid UCMP maximum error %v%%, must not be negative", c.UcmpMaxErrorPct)
	}
	if c.WideEcmpWidth != 0 {
		if bits.OnesCount64(c.WideEcmpWidth) != 1 {
			return fmt.Errorf("wide ECMP width %d is not a power of two", c.WideEcmpWidth)
		}
		if c.WideEcmpWidth <= c.EcmpWidth {
			return fmt.Errorf("wide ECMP width %d must be larger than ECMP width %d", c.WideEcmpWidth, c.EcmpWidth)
		}
	}
	return nil
}

// effective returns the weights with zero (ECMP) weights counted as one, and
// their total. If the total does not fit in a uint64, every weight is halved
// (but kept at one or more) until it does.
func effective(weights []uint64) ([]uint64, uint64) {
	out := make([]uint64, len(weights))
	for i, w := range weights {
		out[i] = max(w, 1)
	}
	for {
		total, overflow := checkedSum(out)
		if !overflow {
			return out, total
		}
		for i := range out {
			out[i] = max(out[i]>>1, 1)
		}
	}
}

// checkedSum returns the total of weights and whether it overflowed.
func checkedSum(weights []uint64) (uint64, bool) {
	var total, carry uint64
	for _, w := range weights {
		total, carry = bits.Add64(total, w, 0)
		if carry != 0 {
			return 0, true
		}
	}
	return total, false
}

func checkWidth(n int, width uint64) error {
	switch {
	case n == 0:
		return errors.New("cannot normalize an empty set of weights")
	case width == 0:
		return errors.New("cannot normalize into a width of zero")
	case uint64(n) > width:
		return fmt.Errorf("%w: %d members, width %d", ErrTooManyNextHops, n, width)
	}
	return nil
}

// largest returns the index of the largest weight that is greater than one,
// the lowest index wins ties. It returns -1 if every weight is one.
func largest(weights []uint64) int {
	idx := -1
	for i, w := range weights {
		if w > 1 && (idx == -1 || w > weights[idx]) {
			idx = i
		}
	}
	return idx
}

func sum(weights []uint64) uint64 {
	var t uint64
	for _, w := range weights {
		t += w
	}
	return t
}

// NormalizeWeights scales weights so that their total is at most width. Each
// weight is multiplied by width/total and truncated, a weight that would
// become zero is raised to one. If the result still exceeds width, the
// largest weight is decremented until it fits. Weights that already fit are
// returned unchanged, and the result is not reduced by its GCD: only
// OptimizedNormalizeWeights does that.
//
// An error wrapping ErrTooManyNextHops is returned if there are more weights
// than width.
func NormalizeWeights(weights []uint64, width uint64) ([]uint64, error) {
	if err := checkWidth(len(weights), width); err != nil {
		return nil, err
	}
	eff, total := effective(weights)
	if total <= width {
		return eff, nil
	}
	factor := float64(width) / float64(total)
	scaled := make([]uint64, len(eff))
	for i, w := range eff {
		scaled[i] = max(uint64(float64(w)*factor), 1)
	}
	for t := sum(scaled); t > width; t-- {
		scaled[largest(scaled)]--
	}
	return scaled, nil
}

// relErrors returns the relative error of each member's share of the
// scaled total against its share of the original total.
func relErrors(orig []uint64, origTotal uint64, scaled []uint64) []float64 {
	st := float64(sum(scaled))
	errs := make([]float64, len(orig))
	for i := range orig {
		ideal := float64(orig[i]) / float64(origTotal)
		errs[i] = (float64(scaled[i])/st - ideal) / ideal
	}
	return errs
}

func maxAbs(v []float64) float64 {
	var m float64
	for _, e := range v {
		m = max(m, math.Abs(e))
	}
	return m
}

// mostOverAllocated returns the index of the member with the largest
// positive relative error whose weight can still be decremented, or -1.
func mostOverAllocated(scaled []uint64, errs []float64) int {
	idx := -1
	for i := range scaled {
		if scaled[i] <= 1 {
			continue
		}
		if idx == -1 || errs[i] > errs[idx] {
			idx = i
		}
	}
	return idx
}

// OptimizedNormalizeWeights scales weights so that their total is at most
// width, minimizing the relative error of each member's share of traffic.
// Weights are scaled up by width/total and then the most over-allocated
// member is decremented until the total fits. If the worst error is above
// maxErrPct and width is not very large, further decrements are kept as long
// as they do not make the worst error larger. The result, including weights
// that already fit, is divided by the GCD of its weights.
func OptimizedNormalizeWeights(weights []uint64, width uint64, maxErrPct float64) ([]uint64, error) {
	if err := checkWidth(len(weights), width); err != nil {
		return nil, err
	}
	eff, total := effective(weights)
	if total <= width {
		return reduceByGCD(eff), nil
	}
	scaled := make([]uint64, len(eff))
	for i, w := range eff {
		scaled[i] = max(uint64(math.Ceil(float64(w)*float64(width)/float64(total))), 1)
	}
	for sum(scaled) > width {
		i := mostOverAllocated(scaled, relErrors(eff, total, scaled))
		if i == -1 {
			break
		}
		scaled[i]--
	}

	if width <= refineWidthLimit {
		tolerance := maxErrPct / 100
		for {
			errs := relErrors(eff, total, scaled)
			worst := maxAbs(errs)
			if worst <= tolerance {
				break
			}
			i := mostOverAllocated(scaled, errs)
			if i == -1 {
				break
			}
			scaled[i]--
			if maxAbs(relErrors(eff, total, scaled)) > worst {
				scaled[i]++
				break
			}
		}
	}
	return reduceByGCD(scaled), nil
}

// NormalizeToMaxPaths scales weights so that they total exactly paths. Each
// weight is scaled by paths/total, rounded down but never below one. Any
// shortfall is handed out one unit at a time, starting from the member with
// the highest original weight, and any excess is taken from the largest
// scaled weights.
func NormalizeToMaxPaths(weights []uint64, paths uint64) ([]uint64, error) {
	if err := checkWidth(len(weights), paths); err != nil {
		return nil, err
	}
	eff, total := effective(weights)
	factor := float64(paths) / float64(total)
	scaled := make([]uint64, len(eff))
	for i, w := range eff {
		scaled[i] = max(uint64(float64(w)*factor), 1)
	}

	t := sum(scaled)
	for ; t > paths; t-- {
		scaled[largest(scaled)]--
	}
	if t < paths {
		order := make([]int, len(eff))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool { return eff[order[a]] > eff[order[b]] })
		for i := 0; t < paths; i = (i + 1) % len(order) {
			scaled[order[i]]++
			t++
		}
	}
	return scaled, nil
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func reduceByGCD(weights []uint64) []uint64 {
	var g uint64
	for _, w := range weights {
		g = gcd(g, w)
	}
	if g <= 1 {
		return weights
	}
	for i := range weights {
		weights[i] /= g
	}
	return weights
}

// Normalize scales the weights of nhs according to cfg. A set whose members
// all have weight zero (ECMP) is returned unchanged if it fits into the ECMP
// width. Sets that have more members than EcmpWidth are normalized to
// WideEcmpWidth paths when it is configured and large enough, otherwise an
// error wrapping ErrTooManyNextHops is returned.
func Normalize(nhs NextHopSet, cfg NormalizeConfig) (NextHopSet, error) {
	if len(nhs) == 0 {
		return nil, errors.New("cannot normalize an empty next-hop set")
	}
	width := cfg.EcmpWidth
	wide := false
	if uint64(len(nhs)) > width {
		if cfg.WideEcmpWidth == 0 || uint64(len(nhs)) > cfg.WideEcmpWidth {
			return nil, fmt.Errorf("%w: %d members, width %d", ErrTooManyNextHops, len(nhs), width)
		}
		width, wide = cfg.WideEcmpWidth, true
	}

	weights := make([]uint64, len(nhs))
	ecmp := true
	for i, n := range nhs {
		weights[i] = n.Weight()
		if n.Weight() != 0 {
			ecmp = false
		}
	}
	if ecmp {
		return nhs, nil
	}

	var (
		scaled []uint64
		err    error
	)
	switch {
	case wide:
		scaled, err = NormalizeToMaxPaths(weights, width)
	case cfg.OptimizedUcmp:
		scaled, err = OptimizedNormalizeWeights(weights, width, cfg.UcmpMaxErrorPct)
	default:
		scaled, err = NormalizeWeights(weights, width)
	}
	if err != nil {
		return nil, err
	}

	out := make(NextHopSet, len(nhs))
	for i, n := range nhs {
		out[i] = n.WithWeight(scaled[i])
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Compare(out[b]) < 0 })
	return out, nil
}
