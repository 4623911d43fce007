package oracle

import (
	"fmt"
)

const (
	// blockHeaderSize is the fixed size of a serialized block header.
	blockHeaderSize = 80

	// maxFilterInputs is the largest input count for which a transaction is
	// still considered an ordinary payment.
	maxFilterInputs = 5

	// minSampleBTC and maxSampleBTC bound the output amounts admitted as
	// samples, exclusive on both ends.
	minSampleBTC = 1e-5
	maxSampleBTC = 1e5
)

// BlockRef locates a block in the chain and in time. It is produced by the
// block source collaborator and never modified by the engine.
type BlockRef struct {
	Height int64
	Hash   Hash
	Time   int64
}

// Sample is one candidate output amount surviving the transaction shape
// filter. Samples are created during extraction and consumed during price
// refinement; they are never mutated.
type Sample struct {
	AmountBTC float64
	Height    int64
	Time      int64
}

// extractor walks raw blocks and yields output samples. It carries the set of
// transaction identifiers seen so far in the current run, which is what the
// same-day-chained filter keys off: a transaction spending an output created
// earlier in the same batch is moving newly-created coins, not making an
// ordinary payment.
type extractor struct {
	seen map[Hash]struct{}
}

func newExtractor() *extractor {
	return &extractor{seen: make(map[Hash]struct{})}
}

// processBlock parses one raw block (header, transaction count, transactions)
// and returns the output samples of its qualifying transactions. Any decode
// error is fatal for the whole block; no partial results are returned.
func (e *extractor) processBlock(raw []byte, ref BlockRef) ([]Sample, error) {
	r := newReader(raw)
	if err := r.skip(blockHeaderSize); err != nil {
		return nil, fmt.Errorf("block header: %v", err)
	}
	numTxs, err := r.varInt()
	if err != nil {
		return nil, fmt.Errorf("tx count: %v", err)
	}

	var samples []Sample
	for i := uint64(0); i < numTxs; i++ {
		tx, err := parseTx(r)
		if err != nil {
			return nil, fmt.Errorf("tx %d: %v", i, err)
		}

		chained := false
		for _, prev := range tx.prevIDs {
			if _, ok := e.seen[prev]; ok {
				chained = true
				break
			}
		}
		e.seen[tx.id] = struct{}{}

		if !qualifies(tx, chained) {
			continue
		}
		for _, v := range tx.values {
			amount := float64(v) / satsPerBTC
			if amount > minSampleBTC && amount < maxSampleBTC {
				samples = append(samples, Sample{
					AmountBTC: amount,
					Height:    ref.Height,
					Time:      ref.Time,
				})
			}
		}
	}
	if r.pos != len(raw) {
		return nil, fmt.Errorf("trailing %d bytes after %d txs", len(raw)-r.pos, numTxs)
	}
	return samples, nil
}

// qualifies reports whether a transaction has the shape of an ordinary
// payment: few inputs, exactly two outputs, no coinbase, no data carrying,
// no oversized witness, and not spending same-batch outputs. Two-output
// transactions of this shape are disproportionately real payments, the
// population whose amounts betray round-fiat pricing.
func qualifies(tx *parsedTx, chained bool) bool {
	return tx.numInputs <= maxFilterInputs &&
		len(tx.values) == 2 &&
		!tx.coinbase &&
		!tx.opReturn &&
		!tx.witnessExceeds &&
		!chained
}
