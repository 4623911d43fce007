package oracle

import (
	"math"
	"sort"
)

// The refiner turns the rough stencil estimate into an exact one. Output
// amounts near a round number of dollars at the rough price each imply a
// price point (denomination / amount); a robust center of those points is the
// final estimate.

// refineDenominations are the round-USD payment sizes the refiner looks for.
var refineDenominations = []float64{
	5, 10, 15, 20, 25, 30, 40, 50, 100, 150, 200, 300, 500, 1000,
}

// roundBTCAmounts are exactly-round BTC amounts excluded from refinement, so
// that round-BTC payments cannot re-pollute the price points the histogram
// smoothing already removed at coarse granularity.
var roundBTCAmounts = []float64{
	0.00001, 0.00002, 0.00003, 0.00005,
	0.0001, 0.0002, 0.0003, 0.0005,
	0.001, 0.002, 0.003, 0.005,
	0.01, 0.02, 0.03, 0.05,
	0.1, 0.2, 0.3, 0.5,
	1, 2, 3, 5,
}

const (
	// bandPct is the half-width of the band around each denomination's
	// implied BTC amount within which outputs are collected.
	bandPct = 0.25

	// roundTolPct is the half-width of the round-BTC exclusion, as a
	// fraction of the round amount.
	roundTolPct = 0.0001

	// refineWindowPct is the half-width of the iterated search window, and
	// deviationWindowPct that of the final diagnostic pass.
	refineWindowPct    = 0.05
	deviationWindowPct = 0.10

	// maxRefineIters bounds the center-finding iteration. Hitting the bound
	// is a soft failure: the last center is returned and the deviation
	// ratio is the caller's confidence signal.
	maxRefineIters = 100
)

// impliedPrices converts samples into USD/BTC price points. A sample
// contributes one point per denomination whose implied amount band (at the
// rough price) contains it, unless the amount sits within the round-BTC
// exclusion.
func impliedPrices(samples []Sample, rough float64) []float64 {
	var prices []float64
	for _, s := range samples {
		a := s.AmountBTC
		if nearRoundBTC(a) {
			continue
		}
		for _, d := range refineDenominations {
			implied := d / rough
			if a > implied*(1-bandPct) && a < implied*(1+bandPct) {
				prices = append(prices, d/a)
			}
		}
	}
	return prices
}

func nearRoundBTC(amount float64) bool {
	for _, r := range roundBTCAmounts {
		if math.Abs(amount-r) <= r*roundTolPct {
			return true
		}
	}
	return false
}

// findCentralOutput locates the robust center of the price points inside
// [lo, hi]: the point minimizing total absolute deviation to all others (a
// weighted-median-like estimator, resistant to outliers where a mean is not).
// The second return is the median absolute deviation from that center, the
// window's dispersion. Both are 0 if the window is empty.
func findCentralOutput(prices []float64, lo, hi float64) (float64, float64) {
	var pts []float64
	for _, p := range prices {
		if p >= lo && p <= hi {
			pts = append(pts, p)
		}
	}
	if len(pts) == 0 {
		return 0, 0
	}
	sort.Float64s(pts)

	// Total absolute deviation to pts[i] via prefix sums:
	// sum(pts[i]-pts[j], j<i) + sum(pts[j]-pts[i], j>i).
	prefix := make([]float64, len(pts)+1)
	for i, p := range pts {
		prefix[i+1] = prefix[i] + p
	}
	total := prefix[len(pts)]

	best, bestDev := 0, math.MaxFloat64
	for i, p := range pts {
		left := p*float64(i) - prefix[i]
		right := (total - prefix[i+1]) - p*float64(len(pts)-1-i)
		if dev := left + right; dev < bestDev {
			best, bestDev = i, dev
		}
	}
	center := pts[best]

	devs := make([]float64, len(pts))
	for i, p := range pts {
		devs[i] = math.Abs(p - center)
	}
	sort.Float64s(devs)
	var mad float64
	if n := len(devs); n%2 == 1 {
		mad = devs[n/2]
	} else {
		mad = (devs[n/2-1] + devs[n/2]) / 2
	}
	return center, mad
}

// refinePrice iterates findCentralOutput over a sliding window around the
// current center until the center repeats, or maxRefineIters passes elapse.
// Returns the final center, the normalized deviation ratio from a wider
// diagnostic window, and the iteration count at convergence (maxRefineIters
// if the iteration never settled).
func refinePrice(prices []float64, rough float64) (price, deviationRatio float64, iters int) {
	center := rough
	iters = maxRefineIters
	for i := 0; i < maxRefineIters; i++ {
		next, _ := findCentralOutput(prices,
			center*(1-refineWindowPct), center*(1+refineWindowPct))
		if next == 0 {
			// Window ran dry; keep the last usable center.
			iters = i
			break
		}
		if next == center {
			iters = i + 1
			break
		}
		center = next
	}

	_, mad := findCentralOutput(prices,
		center*(1-deviationWindowPct), center*(1+deviationWindowPct))
	if center > 0 {
		deviationRatio = mad / center
	}
	return center, deviationRatio, iters
}
