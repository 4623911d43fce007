package main

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/rpc"
	jsonrpc "github.com/gorilla/rpc/json"
	"github.com/rcrowley/go-metrics"

	"github.com/blockprice/blockprice/oracle"
)

type Service struct {
	BlockPrice *BlockPrice
	DLog       *DebugLog
	Cfg        config
}

func (s *Service) ListenAndServe() error {
	srv := rpc.NewServer()
	srv.RegisterCodec(jsonrpc.NewCodec(), "application/json")
	srv.RegisterService(s, "")
	http.Handle("/", srv)
	addr := net.JoinHostPort(s.Cfg.AppRPC.Host, s.Cfg.AppRPC.Port)
	s.DLog.Logger.Println("RPC server listening on", addr)
	return http.ListenAndServe(addr, nil)
}

func (s *Service) Stop(r *http.Request, args *struct{}, reply *struct{}) error {
	go s.BlockPrice.Stop()
	return nil
}

func (s *Service) Status(r *http.Request, args *struct{}, reply *map[string]string) error {
	*reply = s.BlockPrice.Status()
	return nil
}

func (s *Service) Price(r *http.Request, args *struct{}, reply **oracle.Result) error {
	result, err := s.BlockPrice.Result()
	if err != nil {
		return err
	}
	*reply = result
	return nil
}

// PriceAt runs price discovery over the blocks of one UTC calendar day,
// given as "YYYY-MM-DD". This blocks until the run completes.
func (s *Service) PriceAt(r *http.Request, args *string, reply **oracle.Result) error {
	date, err := time.Parse("2006-01-02", *args)
	if err != nil {
		return fmt.Errorf("date must be YYYY-MM-DD: %v", err)
	}
	result, err := s.BlockPrice.PriceAt(date)
	if err != nil {
		return err
	}
	*reply = result
	return nil
}

// History returns stored results with end height in [args[0], args[1]].
// A zero second element means no upper bound.
func (s *Service) History(r *http.Request, args *[2]int64, reply *[]*oracle.Result) error {
	start, end := args[0], args[1]
	if end == 0 {
		end = math.MaxInt64
	}
	results, err := s.BlockPrice.History(start, end)
	if err != nil {
		return err
	}
	*reply = results
	return nil
}

func (s *Service) Progress(r *http.Request, args *struct{}, reply *string) error {
	*reply = s.BlockPrice.Progress()
	return nil
}

func (s *Service) Pause(r *http.Request, args *struct{}, reply *struct{}) error {
	s.BlockPrice.Pause(true)
	return nil
}

func (s *Service) Unpause(r *http.Request, args *struct{}, reply *struct{}) error {
	s.BlockPrice.Pause(false)
	return nil
}

func (s *Service) SetDebug(r *http.Request, args *bool, reply *bool) error {
	s.DLog.SetDebug(*args)
	*reply = *args
	return nil
}

func (s *Service) Config(r *http.Request, args *struct{}, reply *interface{}) error {
	c := s.Cfg
	// Hide the password just in case
	c.NodeRPC.Password = "********"
	*reply = c
	return nil
}

func (s *Service) Metrics(r *http.Request, args *struct{}, reply *metrics.Registry) error {
	*reply = metrics.DefaultRegistry
	return nil
}
