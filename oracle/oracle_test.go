package oracle

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/blockprice/blockprice/testutil"
)

// fakeSource serves a deterministic synthetic chain from memory.
type fakeSource struct {
	tip    int64
	hashes map[int64]Hash
	times  map[Hash]int64
	blocks map[Hash][]byte
}

func newFakeSource(tip int64) *fakeSource {
	return &fakeSource{
		tip:    tip,
		hashes: make(map[int64]Hash),
		times:  make(map[Hash]int64),
		blocks: make(map[Hash][]byte),
	}
}

func (s *fakeSource) addBlock(height, blockTime int64, raw []byte) {
	h := Hash{byte(height), byte(height >> 8), byte(height >> 16), 0xab}
	s.hashes[height] = h
	s.times[h] = blockTime
	s.blocks[h] = raw
}

func (s *fakeSource) CurrentHeight() (int64, error) { return s.tip, nil }

func (s *fakeSource) BlockHashAt(height int64) (Hash, error) {
	h, ok := s.hashes[height]
	if !ok {
		return Hash{}, fmt.Errorf("no block at height %d", height)
	}
	return h, nil
}

func (s *fakeSource) HeaderTime(hash Hash) (int64, error) {
	t, ok := s.times[hash]
	if !ok {
		return 0, fmt.Errorf("unknown block %v", hash)
	}
	return t, nil
}

func (s *fakeSource) RawBlockBytes(hash Hash) ([]byte, error) {
	b, ok := s.blocks[hash]
	if !ok {
		return nil, fmt.Errorf("unknown block %v", hash)
	}
	return b, nil
}

// synthChain builds a chain whose qualifying payments imply the given
// USD/BTC price: every block carries 2-output transactions paying jittered
// round-USD denominations plus a non-round change output.
func synthChain(startHeight, tip int64, startTime int64, price float64) *fakeSource {
	src := newFakeSource(tip)
	seq := uint32(0)
	for h := startHeight; h <= tip; h++ {
		blockTime := startTime + (h-startHeight)*600
		b := testutil.NewBlockBuilder(blockTime)
		for i := 0; i < 3; i++ {
			seq++
			d := refineDenominations[int(seq)%len(refineDenominations)]
			jitter := float64(int(seq)%7-3) * 0.001
			var prev [32]byte
			prev[0], prev[1], prev[2], prev[3] =
				byte(seq), byte(seq>>8), byte(seq>>16), 0x77
			tx := testutil.NewTxBuilder().
				AddInput(prev, 0).
				AddOutputBTC(d / price * (1 + jitter)).
				AddOutputBTC(0.31 + float64(int(seq)%10)*0.0011).
				Serialize()
			b.AddTx(tx)
		}
		src.addBlock(h, blockTime, b.Build())
	}
	return src
}

func TestPriceRecentBlocks(t *testing.T) {
	const price = 43560.0
	src := synthChain(800000-RecentBlocks+1, 800000, 1700000000, price)
	eng := NewEngine(Config{Source: src})

	res, err := eng.PriceRecentBlocks()
	if err != nil {
		t.Fatal(err)
	}
	if err := testutil.CheckPctDiff(float64(res.Price), price, 0.02); err != nil {
		t.Error(err)
	}
	if err := testutil.CheckEqual(res.Label, "recent-blocks"); err != nil {
		t.Error(err)
	}
	if res.StartHeight != 800000-RecentBlocks+1 || res.EndHeight != 800000 {
		t.Errorf("block range: %d-%d", res.StartHeight, res.EndHeight)
	}
	// Every block contributes 3 qualifying txs with 2 in-range outputs.
	if err := testutil.CheckEqual(res.Samples, RecentBlocks*3*2); err != nil {
		t.Error(err)
	}
	if res.DeviationRatio < 0 || res.DeviationRatio > 0.05 {
		t.Errorf("deviation ratio: %v", res.DeviationRatio)
	}
}

func TestDeterminism(t *testing.T) {
	src := synthChain(800000-RecentBlocks+1, 800000, 1700000000, 67000)
	r1, err := NewEngine(Config{Source: src}).PriceRecentBlocks()
	if err != nil {
		t.Fatal(err)
	}
	r2, err := NewEngine(Config{Source: src}).PriceRecentBlocks()
	if err != nil {
		t.Fatal(err)
	}
	if err := testutil.CheckEqual(r1, r2); err != nil {
		t.Error(err)
	}
}

func TestPriceForDate(t *testing.T) {
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	dayStart := day.Unix()

	// Blocks at exactly 600s apart, t(h) = dayStart + (h-200)*600: height
	// 200 is the first block of the target day, height 343 the last.
	const tip = 400
	src := synthChain(1, tip, dayStart-199*600, 52000)

	eng := NewEngine(Config{Source: src})
	res, err := eng.PriceForDate(day)
	if err != nil {
		t.Fatal(err)
	}
	if err := testutil.CheckEqual(res.Label, "2024-03-15"); err != nil {
		t.Error(err)
	}
	if res.StartHeight != 200 || res.EndHeight != 343 {
		t.Errorf("day resolved to %d-%d, want 200-343", res.StartHeight, res.EndHeight)
	}
}

func TestPriceForDateIncomplete(t *testing.T) {
	// A day the chain has not finished yet must fail, not estimate.
	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	src := synthChain(1, 100, day.Unix()-50*600, 52000)
	if _, err := NewEngine(Config{Source: src}).PriceForDate(day); err == nil {
		t.Error("incomplete day must fail")
	}
}

func TestNoQualifyingOutputs(t *testing.T) {
	src := newFakeSource(800000)
	for h := int64(800000 - RecentBlocks + 1); h <= 800000; h++ {
		// Only 3-output transactions: nothing qualifies.
		tx := testutil.NewTxBuilder().
			AddInput(prevID(byte(h)), uint32(h)).
			AddOutputBTC(0.1).
			AddOutputBTC(0.2).
			AddOutputBTC(0.3).
			Serialize()
		src.addBlock(h, 1700000000+h, testutil.NewBlockBuilder(1700000000).AddTx(tx).Build())
	}
	_, err := NewEngine(Config{Source: src}).PriceRecentBlocks()
	if !errors.Is(err, ErrNoSamples) {
		t.Errorf("err = %v, want ErrNoSamples", err)
	}
}

func TestSourceFailureIsFatal(t *testing.T) {
	src := synthChain(800000-RecentBlocks+1, 800000, 1700000000, 43560)
	failing := &failingSource{fakeSource: src, failHeight: 800000 - 10}
	_, err := NewEngine(Config{Source: failing}).PriceRecentBlocks()
	if err == nil {
		t.Fatal("source failure must be fatal")
	}
}

type failingSource struct {
	*fakeSource
	failHeight int64
}

func (s *failingSource) BlockHashAt(height int64) (Hash, error) {
	if height == s.failHeight {
		return Hash{}, errors.New("connection reset")
	}
	return s.fakeSource.BlockHashAt(height)
}

func TestStop(t *testing.T) {
	src := synthChain(800000-RecentBlocks+1, 800000, 1700000000, 43560)
	done := make(chan struct{})
	close(done)
	_, err := NewEngine(Config{Source: src, Done: done}).PriceRecentBlocks()
	if !errors.Is(err, ErrStopped) {
		t.Errorf("err = %v, want ErrStopped", err)
	}
}

func TestProgressReplaysLatest(t *testing.T) {
	src := synthChain(800000-RecentBlocks+1, 800000, 1700000000, 43560)
	eng := NewEngine(Config{Source: src})
	// No consumer: the run must not stall, and afterwards the channel
	// holds the most recent notification.
	if _, err := eng.PriceRecentBlocks(); err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-eng.Progress():
		if msg == "" {
			t.Error("empty progress message")
		}
	default:
		t.Error("no progress message retained")
	}
}
