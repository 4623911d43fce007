package main

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/blockprice/blockprice/oracle"
)

var errInProgress = errors.New("price discovery is in progress")
var errPause = errors.New("price discovery is paused")
var errShutdown = errors.New("price discovery is shutting down")

// ResultDB persists completed runs, keyed by end height.
type ResultDB interface {
	Put([]*oracle.Result) error
	Get(start, end int64) ([]*oracle.Result, error)
	Latest() (*oracle.Result, error)
	Delete(start, end int64) error
	Close() error
}

type dateRequest struct {
	date time.Time
	resp chan dateResponse
}

type dateResponse struct {
	result *oracle.Result
	err    error
}

type BlockPrice struct {
	result   *oracle.Result
	err      error
	progress string

	engine *oracle.Engine
	rdb    ResultDB
	cfg    BlockPriceConfig

	datec chan dateRequest
	// pause is buffered so a request does not stall behind a run in
	// progress; the loop picks it up when the run finishes.
	pause chan bool
	done  chan struct{}
	wg    sync.WaitGroup
	mux   sync.RWMutex
}

type BlockPriceConfig struct {
	// Seconds between recent-blocks runs.
	RunPeriod int `yaml:"runperiod" json:"runperiod"`

	source oracle.Source `yaml:"-" json:"-"`
	logger *log.Logger   `yaml:"-" json:"-"`
}

func NewBlockPrice(rdb ResultDB, cfg BlockPriceConfig) *BlockPrice {
	done := make(chan struct{})
	engine := oracle.NewEngine(oracle.Config{
		Source: cfg.source,
		Done:   done,
		Logger: cfg.logger,
	})
	return &BlockPrice{
		engine: engine,
		rdb:    rdb,
		cfg:    cfg,
		datec:  make(chan dateRequest),
		pause:  make(chan bool, 1),
		done:   done,
	}
}

func (s *BlockPrice) Run() error {
	logger := s.cfg.logger
	s.wg.Add(1)
	defer logger.Println("BlockPrice all stopped.")
	defer s.wg.Wait()
	defer s.wg.Done()
	defer s.rdb.Close()

	logger.Printf("BlockPrice v%s starting up..", version)

	// Resume from the last persisted result, if any.
	latest, err := s.rdb.Latest()
	if err != nil {
		return err
	}
	if latest != nil {
		s.SetResult(latest, nil)
	} else {
		s.SetResult(nil, errInProgress)
	}

	s.wg.Add(1)
	go s.progressWorker()

	s.wg.Add(1)
	go s.loopRun(s.cfg.RunPeriod)

	logger.Println("BlockPrice startup complete.")
	<-s.done
	return nil
}

func (s *BlockPrice) Status() map[string]string {
	status := make(map[string]string)

	if _, err := s.Result(); err != nil {
		status["result"] = err.Error()
	} else {
		status["result"] = "OK"
	}

	if _, err := s.cfg.source.CurrentHeight(); err != nil {
		status["source"] = err.Error()
	} else {
		status["source"] = "OK"
	}

	status["progress"] = s.Progress()
	return status
}

func (s *BlockPrice) Pause(p bool) {
	select {
	case s.pause <- p:
	case <-s.done:
		return
	}
	if p {
		s.cfg.logger.Println("Runs paused.")
	} else {
		s.cfg.logger.Println("Runs unpaused.")
	}
}

func (s *BlockPrice) Stop() {
	s.closeDone()
	s.wg.Wait()
}

// closeDone closes s.done in a concurrent-safe way.
func (s *BlockPrice) closeDone() {
	s.mux.Lock()
	defer s.mux.Unlock()
	select {
	case <-s.done: // Already closed
	default:
		close(s.done)
	}
}

// progressWorker forwards engine notifications into the latest-progress slot.
func (s *BlockPrice) progressWorker() {
	defer s.wg.Done()
	defer s.cfg.logger.Println("Progress worker stopped.")

	for {
		select {
		case msg := <-s.engine.Progress():
			s.setProgress(msg)
		case <-s.done:
			return
		}
	}
}

func (s *BlockPrice) loopRun(period int) {
	logger := s.cfg.logger
	defer s.wg.Done()
	defer logger.Println("Run loop stopped.")
	ticker := time.NewTicker(time.Duration(period) * time.Second)
	defer func() { ticker.Stop() }() // Stop is idempotent, so no problems here

	// Metrics
	names := []string{"run1", "run24", "run168"}
	sizes := []int{1, 24, 168}
	runTimers := make([]metrics.Timer, 3)
	for i, size := range sizes {
		h := metrics.NewHistogram(metrics.NewExpDecaySample(size, 0.015))
		runTimers[i] = metrics.NewCustomTimer(h, metrics.NewMeter())
		metrics.Register(names[i], runTimers[i])
	}

	for {
		if !s.IsPaused() {
			logger.Println("[DEBUG] Recent-blocks run started.")
			startTime := time.Now()
			result, err := s.engine.PriceRecentBlocks()
			switch err {
			case nil:
				for _, m := range runTimers {
					m.UpdateSince(startTime)
				}
				s.SetResult(result, nil)
				if err := s.rdb.Put([]*oracle.Result{result}); err != nil {
					logger.Println("[ERROR] ResultDB put:", err)
				}
				logger.Println("Run complete:", result)
			case oracle.ErrStopped:
				s.SetResult(nil, errShutdown)
				return
			default:
				logger.Println("[ERROR] Run:", err)
				s.SetResult(nil, err)
			}
		}

	WaitLoop:
		select {
		case <-ticker.C:
		case req := <-s.datec:
			req.resp <- s.runDate(req.date)
			goto WaitLoop
		case p := <-s.pause:
			if p {
				ticker.Stop()
				s.SetResult(nil, errPause)
				goto WaitLoop
			} else if !s.IsPaused() {
				// Not paused, so no change; wait for ticker
				goto WaitLoop
			}
			// Is paused, so restart the ticker and resume
			ticker = time.NewTicker(time.Duration(period) * time.Second)
			s.SetResult(nil, errInProgress)
		case <-s.done:
			s.SetResult(nil, errShutdown)
			return
		}
	}
}

// runDate executes a dated run on the loop goroutine, so runs never overlap.
func (s *BlockPrice) runDate(date time.Time) dateResponse {
	logger := s.cfg.logger
	logger.Println("[DEBUG] Dated run started:", date.Format("2006-01-02"))
	result, err := s.engine.PriceForDate(date)
	if err != nil {
		if err != oracle.ErrStopped {
			logger.Println("[ERROR] Dated run:", err)
		}
		return dateResponse{err: err}
	}
	if err := s.rdb.Put([]*oracle.Result{result}); err != nil {
		logger.Println("[ERROR] ResultDB put:", err)
	}
	logger.Println("Dated run complete:", result)
	return dateResponse{result: result}
}

// PriceAt queues a dated run and waits for its result. A run already in
// progress is finished first.
func (s *BlockPrice) PriceAt(date time.Time) (*oracle.Result, error) {
	req := dateRequest{date: date, resp: make(chan dateResponse, 1)}
	select {
	case s.datec <- req:
	case <-s.done:
		return nil, errShutdown
	}
	r := <-req.resp
	return r.result, r.err
}

func (s *BlockPrice) History(start, end int64) ([]*oracle.Result, error) {
	return s.rdb.Get(start, end)
}

func (s *BlockPrice) IsPaused() bool {
	_, err := s.Result()
	if err == errPause {
		return true
	}
	return false
}

func (s *BlockPrice) Result() (*oracle.Result, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.result, s.err
}

func (s *BlockPrice) SetResult(result *oracle.Result, err error) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.result, s.err = result, err
}

func (s *BlockPrice) Progress() string {
	s.mux.RLock()
	defer s.mux.RUnlock()
	return s.progress
}

func (s *BlockPrice) setProgress(msg string) {
	s.mux.Lock()
	defer s.mux.Unlock()
	s.progress = msg
}
