/*
Package oracle derives a BTC/USD exchange-rate estimate purely from on-chain
transaction data: no price feed, no exchange API, no external trust. Raw block
bytes go through a shape filter, a log-scale amount histogram, a stencil
correlation for a rough price, and a robust iterative refinement for the exact
one. Each run is a pure function of the block range it is given; the engine
keeps no state between runs.
*/
package oracle

import (
	"errors"
	"fmt"
	"log"
	"math"
	"time"
)

// RecentBlocks is the window size of a recent-blocks run, about one day.
const RecentBlocks = 144

// blocksPerDay is the coarse chain velocity used to seek a calendar date.
const blocksPerDay = 144

var (
	// ErrNoSamples is returned when the resolved block range yields zero
	// qualifying outputs; a price from nothing would be meaningless.
	ErrNoSamples = errors.New("no qualifying outputs in block range")

	// ErrStopped is returned when the host cancels a run in progress.
	ErrStopped = errors.New("price discovery stopped")
)

// Source supplies blocks to the engine. Implementations talk to a node; the
// engine trusts the byte stream it is handed and performs no consensus
// validation. All four calls are fallible, and any failure is fatal to the
// run in progress.
type Source interface {
	CurrentHeight() (int64, error)
	BlockHashAt(height int64) (Hash, error)
	HeaderTime(hash Hash) (int64, error)
	RawBlockBytes(hash Hash) ([]byte, error)
}

// Result is the terminal output of one run.
type Result struct {
	Price          int64   `json:"price"` // USD per BTC
	Label          string  `json:"label"` // date, or "recent-blocks"
	StartHeight    int64   `json:"startheight"`
	EndHeight      int64   `json:"endheight"`
	Samples        int     `json:"samples"`
	DeviationRatio float64 `json:"deviationratio"`
}

func (r *Result) String() string {
	return fmt.Sprintf("Result{%s: $%d/BTC, blocks %d-%d, %d samples, dev %.4f}",
		r.Label, r.Price, r.StartHeight, r.EndHeight, r.Samples, r.DeviationRatio)
}

// Config configures an Engine. Source is required. Done, if non-nil, lets the
// host cancel a run between block fetches. Logger, if non-nil, receives
// debug-level progress.
type Config struct {
	Source Source
	Done   <-chan struct{}
	Logger *log.Logger
}

// Engine runs price discovery. It is a single logical computation per
// invocation; no internal parallelism, since the same-day-chained filter
// depends on identifiers accumulated from earlier blocks in the batch.
type Engine struct {
	src      Source
	done     <-chan struct{}
	logger   *log.Logger
	progress chan string
}

func NewEngine(cfg Config) *Engine {
	return &Engine{
		src:      cfg.Source,
		done:     cfg.Done,
		logger:   cfg.Logger,
		progress: make(chan string, 1),
	}
}

// Progress returns the engine's notification channel. It replays the latest:
// if the consumer falls behind, the oldest unread message is dropped rather
// than stalling the run, so the consumer always sees at least the most recent
// status.
func (e *Engine) Progress() <-chan string {
	return e.progress
}

// notify is the engine's only writer to the progress channel, so the
// drain-then-send below cannot race with another sender.
func (e *Engine) notify(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if e.logger != nil {
		e.logger.Printf("[DEBUG] oracle: %s", msg)
	}
	select {
	case e.progress <- msg:
	default:
		select {
		case <-e.progress:
		default:
		}
		select {
		case e.progress <- msg:
		default:
		}
	}
}

// checkDone yields a cancellation point between block source calls.
func (e *Engine) checkDone() error {
	if e.done == nil {
		return nil
	}
	select {
	case <-e.done:
		return ErrStopped
	default:
		return nil
	}
}

// PriceRecentBlocks estimates the price over the most recent RecentBlocks
// blocks.
func (e *Engine) PriceRecentBlocks() (*Result, error) {
	e.notify("connecting to block source")
	tip, err := e.src.CurrentHeight()
	if err != nil {
		return nil, fmt.Errorf("current height: %v", err)
	}
	return e.run("recent-blocks", tip-RecentBlocks+1, tip)
}

// PriceForDate estimates the price over the blocks of one UTC calendar day.
func (e *Engine) PriceForDate(date time.Time) (*Result, error) {
	date = date.UTC()
	label := date.Format("2006-01-02")
	e.notify("connecting to block source")
	start, end, err := e.resolveDay(date)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %v", label, err)
	}
	return e.run(label, start, end)
}

func (e *Engine) run(label string, start, end int64) (*Result, error) {
	ext := newExtractor()
	var samples []Sample

	total := end - start + 1
	for height := start; height <= end; height++ {
		if err := e.checkDone(); err != nil {
			return nil, err
		}
		hash, err := e.src.BlockHashAt(height)
		if err != nil {
			return nil, fmt.Errorf("block hash at %d: %v", height, err)
		}
		t, err := e.src.HeaderTime(hash)
		if err != nil {
			return nil, fmt.Errorf("header time of %d: %v", height, err)
		}
		raw, err := e.src.RawBlockBytes(hash)
		if err != nil {
			return nil, fmt.Errorf("raw block %d: %v", height, err)
		}
		s, err := ext.processBlock(raw, BlockRef{Height: height, Hash: hash, Time: t})
		if err != nil {
			return nil, fmt.Errorf("block %d: %v", height, err)
		}
		samples = append(samples, s...)
		e.notify("%s: block %d/%d (height %d), %d outputs so far",
			label, height-start+1, total, height, len(samples))
	}
	if len(samples) == 0 {
		return nil, ErrNoSamples
	}

	hist := newHistogram()
	for _, s := range samples {
		hist.add(s.AmountBTC)
	}
	hist.finalize()
	rough := correlate(hist.counts)
	e.notify("%s: rough estimate $%.0f", label, rough)

	prices := impliedPrices(samples, rough)
	if len(prices) == 0 {
		return nil, ErrNoSamples
	}
	price, dev, iters := refinePrice(prices, rough)
	if iters >= maxRefineIters && e.logger != nil {
		e.logger.Printf("[DEBUG] oracle: %s: refinement did not converge in %d iterations",
			label, maxRefineIters)
	}
	e.notify("%s: exact estimate $%d", label, int64(math.Round(price)))

	return &Result{
		Price:          int64(math.Round(price)),
		Label:          label,
		StartHeight:    start,
		EndHeight:      end,
		Samples:        len(samples),
		DeviationRatio: dev,
	}, nil
}

// resolveDay maps a UTC calendar day to its inclusive block-height range: a
// coarse blocksPerDay seek from the tip, a linear correction toward the day
// start, then single steps to the exact first block, and forward expansion
// until the day boundary is crossed.
func (e *Engine) resolveDay(date time.Time) (int64, int64, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC).Unix()
	dayEnd := dayStart + 24*60*60

	tip, err := e.src.CurrentHeight()
	if err != nil {
		return 0, 0, err
	}

	// Memoized header time lookups; the correction loop revisits heights.
	times := make(map[int64]int64)
	timeAt := func(h int64) (int64, error) {
		if t, ok := times[h]; ok {
			return t, nil
		}
		if err := e.checkDone(); err != nil {
			return 0, err
		}
		hash, err := e.src.BlockHashAt(h)
		if err != nil {
			return 0, err
		}
		t, err := e.src.HeaderTime(hash)
		if err != nil {
			return 0, err
		}
		times[h] = t
		return t, nil
	}

	tipTime, err := timeAt(tip)
	if err != nil {
		return 0, 0, err
	}
	if tipTime < dayEnd {
		return 0, 0, fmt.Errorf("day not yet complete on chain (tip time %d)", tipTime)
	}

	clamp := func(h int64) int64 {
		if h < 1 {
			return 1
		}
		if h > tip {
			return tip
		}
		return h
	}

	// Coarse seek plus linear correction at ~600s per block.
	const secPerBlock = 24 * 60 * 60 / blocksPerDay
	h := clamp(tip - (tipTime-dayStart)/secPerBlock)
	for i := 0; i < 20; i++ {
		t, err := timeAt(h)
		if err != nil {
			return 0, 0, err
		}
		step := (dayStart - t) / secPerBlock
		if step == 0 {
			break
		}
		h = clamp(h + step)
	}

	// Single steps to the first block of the day. Timestamps are only
	// roughly monotone, so both walks are bounded.
	for i := 0; i < 2*blocksPerDay; i++ {
		t, err := timeAt(h)
		if err != nil {
			return 0, 0, err
		}
		if t < dayStart || h == 1 {
			break
		}
		h = clamp(h - 1)
	}
	for i := 0; i < 2*blocksPerDay; i++ {
		t, err := timeAt(h)
		if err != nil {
			return 0, 0, err
		}
		if t >= dayStart {
			break
		}
		h = clamp(h + 1)
	}
	start := h

	// Expand forward until the UTC day boundary is crossed.
	end := start
	for end < tip {
		t, err := timeAt(end + 1)
		if err != nil {
			return 0, 0, err
		}
		if t >= dayEnd {
			break
		}
		end++
	}
	if start > end {
		return 0, 0, fmt.Errorf("no blocks found in day window")
	}
	return start, end, nil
}
