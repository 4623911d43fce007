package oracle

import (
	"testing"

	"github.com/blockprice/blockprice/testutil"
)

func extractOne(t *testing.T, txs ...[]byte) []Sample {
	t.Helper()
	b := testutil.NewBlockBuilder(1700000000)
	for _, tx := range txs {
		b.AddTx(tx)
	}
	samples, err := newExtractor().processBlock(b.Build(), BlockRef{Height: 800000, Time: 1700000000})
	if err != nil {
		t.Fatal(err)
	}
	return samples
}

func plainPayment(seed byte, out1, out2 float64) []byte {
	return testutil.NewTxBuilder().
		AddInput(prevID(seed), 0).
		AddOutputBTC(out1).
		AddOutputBTC(out2).
		Serialize()
}

func TestExtractPlainPayment(t *testing.T) {
	samples := extractOne(t, plainPayment(1, 0.05, 0.327))
	if err := testutil.CheckEqual(len(samples), 2); err != nil {
		t.Fatal(err)
	}
	if err := testutil.CheckEqual(samples[0].AmountBTC, 0.05); err != nil {
		t.Error(err)
	}
	if err := testutil.CheckEqual(samples[1].AmountBTC, 0.327); err != nil {
		t.Error(err)
	}
	if samples[0].Height != 800000 || samples[0].Time != 1700000000 {
		t.Errorf("sample ref: %+v", samples[0])
	}
}

func TestExtractExcludesCoinbase(t *testing.T) {
	coinbase := testutil.NewTxBuilder().
		AddCoinbaseInput().
		AddOutputBTC(6.25).
		AddOutputBTC(0.05).
		Serialize()
	if samples := extractOne(t, coinbase); len(samples) != 0 {
		t.Errorf("coinbase yielded %d samples", len(samples))
	}
}

func TestExtractExcludesOpReturn(t *testing.T) {
	tx := testutil.NewTxBuilder().
		AddInput(prevID(2), 0).
		AddOutputBTC(0.05).
		AddOpReturnOutput([]byte("meta")).
		Serialize()
	if samples := extractOne(t, tx); len(samples) != 0 {
		t.Errorf("OP_RETURN tx yielded %d samples", len(samples))
	}
}

func TestExtractExcludesWrongOutputCount(t *testing.T) {
	three := testutil.NewTxBuilder().
		AddInput(prevID(3), 0).
		AddOutputBTC(0.1).
		AddOutputBTC(0.2).
		AddOutputBTC(0.3).
		Serialize()
	one := testutil.NewTxBuilder().
		AddInput(prevID(4), 0).
		AddOutputBTC(0.1).
		Serialize()
	if samples := extractOne(t, three, one); len(samples) != 0 {
		t.Errorf("non-2-output txs yielded %d samples", len(samples))
	}
}

func TestExtractExcludesTooManyInputs(t *testing.T) {
	b := testutil.NewTxBuilder()
	for i := byte(0); i < 6; i++ {
		b.AddInput(prevID(10+i), 0)
	}
	tx := b.AddOutputBTC(0.1).AddOutputBTC(0.2).Serialize()
	if samples := extractOne(t, tx); len(samples) != 0 {
		t.Errorf("6-input tx yielded %d samples", len(samples))
	}

	// 5 inputs is still within the ordinary-payment shape.
	b5 := testutil.NewTxBuilder()
	for i := byte(0); i < 5; i++ {
		b5.AddInput(prevID(20+i), 0)
	}
	tx5 := b5.AddOutputBTC(0.1).AddOutputBTC(0.2).Serialize()
	if samples := extractOne(t, tx5); len(samples) != 2 {
		t.Errorf("5-input tx yielded %d samples, want 2", len(samples))
	}
}

func TestExtractExcludesOversizedWitness(t *testing.T) {
	big := testutil.NewTxBuilder().
		AddInput(prevID(5), 0).
		AddOutputBTC(0.1).
		AddOutputBTC(0.2).
		SetWitness(0, make([]byte, 501)).
		Serialize()
	if samples := extractOne(t, big); len(samples) != 0 {
		t.Errorf("oversized witness item yielded %d samples", len(samples))
	}

	// Items individually small but summing past the limit.
	summed := testutil.NewTxBuilder().
		AddInput(prevID(6), 0).
		AddInput(prevID(7), 0).
		AddOutputBTC(0.1).
		AddOutputBTC(0.2).
		SetWitness(0, make([]byte, 300)).
		SetWitness(1, make([]byte, 300)).
		Serialize()
	if samples := extractOne(t, summed); len(samples) != 0 {
		t.Errorf("summed witness yielded %d samples", len(samples))
	}

	// A normal-sized witness passes.
	ok := testutil.NewTxBuilder().
		AddInput(prevID(8), 0).
		AddOutputBTC(0.1).
		AddOutputBTC(0.2).
		SetWitness(0, make([]byte, 72), make([]byte, 33)).
		Serialize()
	if samples := extractOne(t, ok); len(samples) != 2 {
		t.Errorf("segwit payment yielded %d samples, want 2", len(samples))
	}
}

func TestExtractExcludesChained(t *testing.T) {
	parent := testutil.NewTxBuilder().
		AddInput(prevID(9), 0).
		AddOutputBTC(0.4).
		AddOutputBTC(0.6)
	parentRaw := parent.Serialize()
	parentID, err := TxID(parentRaw)
	if err != nil {
		t.Fatal(err)
	}

	child := testutil.NewTxBuilder().
		AddInput(parentID, 0).
		AddOutputBTC(0.15).
		AddOutputBTC(0.25).
		Serialize()

	// Same batch: the child spends an identifier seen earlier, so only the
	// parent's outputs survive.
	samples := extractOne(t, parentRaw, child)
	if err := testutil.CheckEqual(len(samples), 2); err != nil {
		t.Fatal(err)
	}
	if samples[0].AmountBTC != 0.4 || samples[1].AmountBTC != 0.6 {
		t.Errorf("samples: %+v", samples)
	}
}

func TestExtractChainedAcrossBlocks(t *testing.T) {
	parent := testutil.NewTxBuilder().
		AddInput(prevID(10), 0).
		AddOutputBTC(0.4).
		AddOutputBTC(0.6)
	parentRaw := parent.Serialize()
	parentID, err := TxID(parentRaw)
	if err != nil {
		t.Fatal(err)
	}
	child := testutil.NewTxBuilder().
		AddInput(parentID, 1).
		AddOutputBTC(0.15).
		AddOutputBTC(0.25).
		Serialize()

	// The seen-identifier set spans blocks within one run.
	ext := newExtractor()
	b1 := testutil.NewBlockBuilder(1700000000).AddTx(parentRaw).Build()
	b2 := testutil.NewBlockBuilder(1700000600).AddTx(child).Build()
	s1, err := ext.processBlock(b1, BlockRef{Height: 800000, Time: 1700000000})
	if err != nil {
		t.Fatal(err)
	}
	s2, err := ext.processBlock(b2, BlockRef{Height: 800001, Time: 1700000600})
	if err != nil {
		t.Fatal(err)
	}
	if len(s1) != 2 || len(s2) != 0 {
		t.Errorf("got %d then %d samples, want 2 then 0", len(s1), len(s2))
	}

	// A fresh run does not remember the parent.
	s3, err := newExtractor().processBlock(b2, BlockRef{Height: 800001, Time: 1700000600})
	if err != nil {
		t.Fatal(err)
	}
	if err := testutil.CheckEqual(len(s3), 2); err != nil {
		t.Error(err)
	}
}

func TestExtractAmountBounds(t *testing.T) {
	// Both bounds are exclusive.
	tx := testutil.NewTxBuilder().
		AddInput(prevID(11), 0).
		AddOutput(1000).  // exactly 1e-5 BTC: excluded
		AddOutput(1001).  // just above: included
		Serialize()
	samples := extractOne(t, tx)
	if err := testutil.CheckEqual(len(samples), 1); err != nil {
		t.Fatal(err)
	}
	if err := testutil.CheckEqual(samples[0].AmountBTC, 1001/float64(100000000)); err != nil {
		t.Error(err)
	}
}

func TestExtractCorruptBlock(t *testing.T) {
	raw := testutil.NewBlockBuilder(1700000000).
		AddTx(plainPayment(12, 0.1, 0.2)).
		Build()
	// Truncation anywhere must fail the whole block; no partial results.
	for _, n := range []int{10, 79, 81, len(raw) - 1} {
		if _, err := newExtractor().processBlock(raw[:n], BlockRef{}); err == nil {
			t.Errorf("truncation to %d bytes must fail", n)
		}
	}
	if _, err := newExtractor().processBlock(append(raw, 0xff), BlockRef{}); err == nil {
		t.Error("trailing bytes must fail")
	}
}
