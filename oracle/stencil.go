package oracle

import (
	"math"
)

// The correlator slides two 803-wide stencils over the histogram looking for
// the offset at which the population of round-USD payment amounts lines up.
// The anchor is bin 601 (0.001 BTC), read as "the $100 bin": at the offset
// where the stencils fit best, 100 divided by that bin's BTC value is the
// rough USD price.

const (
	stencilLen = 803

	// anchorBin is the bin of 0.001 BTC.
	anchorBin = 601

	// Slide search range, roughly $508k down to $10k per BTC.
	minSlide = -141
	maxSlide = 201

	// Below smoothSlideMax (higher prices), the smooth stencil score is
	// blended into the spike score at smoothWeight.
	smoothSlideMax = 150
	smoothWeight   = 0.65
)

// smoothStencil is a broad bell over the whole ordinary-payment amount range
// plus a small linear tilt toward larger amounts. It scores how much of the
// histogram's mass sits where payments live at a given price offset.
var smoothStencil = makeSmoothStencil()

func makeSmoothStencil() []float64 {
	s := make([]float64, stencilLen)
	for x := range s {
		e := -math.Pow(float64(x)-411, 2) / (2 * 201 * 201)
		s[x] = 0.0015*math.Exp(e) + 0.0000005*float64(x)
	}
	return s
}

// spikeStencil carries hand-calibrated weights at the stencil offsets of the
// common round-USD amounts, $1 through $10000. Offsets are relative to the
// window start; the $100 cluster is centered at 401. These literals are part
// of the algorithm's identity; changing them changes the oracle's output.
var spikeStencil = makeSpikeStencil()

var spikeWeights = []struct {
	off int
	w   float64
}{
	{1, 0.001300198324984352},   // $1
	{141, 0.001676746949820743}, // $5
	{201, 0.003468805546942046}, // $10
	{202, 0.001991977522512513},
	{236, 0.001905066647961839}, // $15
	{261, 0.003341772718156079}, // $20
	{262, 0.002588902624584287},
	{296, 0.002577893841190244}, // $30
	{297, 0.002733728814200412},
	{340, 0.003076117748975647}, // $50
	{341, 0.005613067550103145},
	{342, 0.003088253178535568},
	{400, 0.002918457489366139}, // $100
	{401, 0.006174500465286022},
	{402, 0.004417068070043504},
	{403, 0.002628663628020371},
	{436, 0.002858828161543839}, // $150
	{461, 0.004097463611984264}, // $200
	{462, 0.003345917406120509},
	{496, 0.002521467726855856}, // $300
	{540, 0.002784125730361008}, // $500
	{541, 0.002480357843049168},
	{601, 0.003492233175972558}, // $1000
	{602, 0.002810713634959371},
	{661, 0.002283313830211783}, // $2000
	{662, 0.002510016494487425},
	{696, 0.002245637100594772}, // $3000
	{740, 0.002407240100587405}, // $5000
	{801, 0.002621543538689682}, // $10000
}

func makeSpikeStencil() []float64 {
	s := make([]float64, stencilLen)
	for _, e := range spikeWeights {
		s[e.off] = e.w
	}
	return s
}

// correlate slides both stencils over the normalized histogram and returns the
// rough USD/BTC estimate: the price at the best-scoring offset, blended with
// its better neighbor in proportion to how far each score stands above the
// mean. The blend trades a little resolution for robustness when the true
// peak falls between two adjacent bins.
func correlate(counts []float64) float64 {
	const left = anchorBin - (stencilLen+1)/2

	var (
		bestSlide  int
		bestScore  float64
		totalScore float64
	)
	for slide := minSlide; slide < maxSlide; slide++ {
		base := left + slide
		var spike, smooth float64
		for n := 0; n < stencilLen; n++ {
			c := counts[base+n]
			spike += c * spikeStencil[n]
			smooth += c * smoothStencil[n]
		}
		score := spike
		if slide < smoothSlideMax {
			score += smooth * smoothWeight
		}
		if score > bestScore {
			bestScore = score
			bestSlide = slide
		}
		totalScore += score
	}
	best := 100 / binBounds[anchorBin+bestSlide]

	up := spikeScore(counts, left+bestSlide+1)
	down := spikeScore(counts, left+bestSlide-1)
	neighborSlide, neighborScore := bestSlide+1, up
	if down > up {
		neighborSlide, neighborScore = bestSlide-1, down
	}
	neighbor := 100 / binBounds[anchorBin+neighborSlide]

	avgScore := totalScore / (maxSlide - minSlide)
	a1 := bestScore - avgScore
	a2 := math.Abs(neighborScore - avgScore)
	if a1+a2 == 0 {
		return best
	}
	w := a1 / (a1 + a2)
	return w*best + (1-w)*neighbor
}

func spikeScore(counts []float64, base int) float64 {
	var score float64
	for _, e := range spikeWeights {
		score += counts[base+e.off] * e.w
	}
	return score
}
