package oracle

import (
	"math"
)

const (
	// The histogram spans 12 decades, 1e-6 to 1e6 BTC, at 200 bins per
	// decade. binBounds[0] is a 0.0 sentinel, so amounts at or below the
	// first real boundary never land in a usable bin.
	numBins     = 2400
	firstBinExp = -6.0
	rangeExp    = 12.0
	binsPerDec  = 200

	// Only bins covering 1e-5 to ~1e2 BTC carry price signal; the tails are
	// dust and whale noise.
	validBinLow  = 201
	validBinHigh = 1600

	// binCeiling caps any single normalized bin so that one popular amount
	// cannot dominate the stencil correlation.
	binCeiling = 0.008
)

// binBounds holds the 2401 bin boundaries. Bin k covers [binBounds[k],
// binBounds[k+1]). The boundaries are strictly increasing from index 1 on.
var binBounds = makeBinBounds()

func makeBinBounds() []float64 {
	bounds := make([]float64, 0, numBins+1)
	bounds = append(bounds, 0.0)
	for exp := -6; exp < 6; exp++ {
		for b := 0; b < binsPerDec; b++ {
			bounds = append(bounds, math.Pow(10, float64(exp)+float64(b)/binsPerDec))
		}
	}
	return bounds
}

// roundBTCBins are the bins of exactly round BTC amounts, 1000 sats through
// 1 BTC in 1/2/3/5 significand steps. Round-BTC payments (tips, test sends)
// carry no fiat price signal and would spike the histogram, so these bins are
// interpolated away before correlation.
var roundBTCBins = []int{
	201,  // 0.00001
	401,  // 0.0001
	461,  // 0.0002
	496,  // 0.0003
	540,  // 0.0005
	601,  // 0.001
	661,  // 0.002
	696,  // 0.003
	740,  // 0.005
	801,  // 0.01
	861,  // 0.02
	896,  // 0.03
	940,  // 0.05
	1001, // 0.1
	1061, // 0.2
	1096, // 0.3
	1140, // 0.5
	1201, // 1
}

// histogram is a dense accumulator over the log-scale bins. It is mutated
// during extraction and becomes a normalized density after finalize.
type histogram struct {
	counts []float64
}

func newHistogram() *histogram {
	return &histogram{counts: make([]float64, numBins+1)}
}

// add accumulates one amount into its bin. The bin is first estimated from
// the amount's log position, then advanced linearly to correct for floating
// point rounding at the boundaries, so that an amount exactly equal to a
// boundary lands in the bin that boundary opens. Amounts must lie strictly
// within (minSampleBTC, maxSampleBTC); the extractor guarantees this.
func (h *histogram) add(amount float64) {
	loc := (math.Log10(amount) - firstBinExp) / rangeExp * numBins
	i := int(loc)
	for binBounds[i] <= amount {
		i++
	}
	h.counts[i-1]++
}

// binIndex returns the bin an amount would be accumulated into.
func binIndex(amount float64) int {
	loc := (math.Log10(amount) - firstBinExp) / rangeExp * numBins
	i := int(loc)
	for binBounds[i] <= amount {
		i++
	}
	return i - 1
}

// finalize turns raw counts into the density the correlator consumes. The
// three steps must run in this order: tail removal, round-BTC interpolation,
// then normalization with the outlier cap.
func (h *histogram) finalize() {
	for i := 0; i <= validBinLow-1; i++ {
		h.counts[i] = 0
	}
	for i := validBinHigh + 1; i < len(h.counts); i++ {
		h.counts[i] = 0
	}

	for _, b := range roundBTCBins {
		h.counts[b] = (h.counts[b-1] + h.counts[b+1]) / 2
	}

	var sum float64
	for i := validBinLow; i <= validBinHigh; i++ {
		sum += h.counts[i]
	}
	if sum == 0 {
		return
	}
	for i := validBinLow; i <= validBinHigh; i++ {
		h.counts[i] /= sum
		if h.counts[i] > binCeiling {
			h.counts[i] = binCeiling
		}
	}
}
