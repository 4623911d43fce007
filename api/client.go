// Package api provides a client for accessing the blockprice services through
// its JSON-RPC API.
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	jsonrpc "github.com/gorilla/rpc/json"

	"github.com/blockprice/blockprice/oracle"
)

type Config struct {
	Host    string
	Port    string
	Timeout int
}

type Client struct {
	httpclient *http.Client
	cfg        Config
}

func NewClient(cfg Config) *Client {
	httpclient := &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
	return &Client{httpclient: httpclient, cfg: cfg}
}

func (c *Client) Stop() error {
	_, err := c.doRPC("Service.Stop", nil)
	return err
}

func (c *Client) Status() (map[string]string, error) {
	r, err := c.doRPC("Service.Status", nil)
	if err != nil {
		return nil, err
	}

	var result map[string]string
	if err := json.Unmarshal(r, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) Price() (*oracle.Result, error) {
	r, err := c.doRPC("Service.Price", nil)
	if err != nil {
		return nil, err
	}

	result := new(oracle.Result)
	if err := json.Unmarshal(r, result); err != nil {
		return nil, err
	}
	return result, nil
}

// PriceAt runs price discovery for the UTC day given as "YYYY-MM-DD". It
// blocks until the run completes, which can take minutes.
func (c *Client) PriceAt(date string) (*oracle.Result, error) {
	r, err := c.doRPC("Service.PriceAt", date)
	if err != nil {
		return nil, err
	}

	result := new(oracle.Result)
	if err := json.Unmarshal(r, result); err != nil {
		return nil, err
	}
	return result, nil
}

// History returns stored results with end height in [start, end]; end == 0
// means no upper bound.
func (c *Client) History(start, end int64) ([]*oracle.Result, error) {
	r, err := c.doRPC("Service.History", [2]int64{start, end})
	if err != nil {
		return nil, err
	}

	var results []*oracle.Result
	if err := json.Unmarshal(r, &results); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Client) Progress() (string, error) {
	r, err := c.doRPC("Service.Progress", nil)
	if err != nil {
		return "", err
	}

	var msg string
	if err := json.Unmarshal(r, &msg); err != nil {
		return "", err
	}
	return msg, nil
}

func (c *Client) Pause() error {
	_, err := c.doRPC("Service.Pause", nil)
	return err
}

func (c *Client) Unpause() error {
	_, err := c.doRPC("Service.Unpause", nil)
	return err
}

func (c *Client) SetDebug(d bool) error {
	_, err := c.doRPC("Service.SetDebug", d)
	return err
}

func (c *Client) Config() (map[string]interface{}, error) {
	r, err := c.doRPC("Service.Config", nil)
	if err != nil {
		return nil, err
	}

	v := make(map[string]interface{})
	if err := json.Unmarshal(r, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Client) Metrics() (map[string]interface{}, error) {
	r, err := c.doRPC("Service.Metrics", nil)
	if err != nil {
		return nil, err
	}

	v := make(map[string]interface{})
	if err := json.Unmarshal(r, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Client) doRPC(method string, args interface{}) (json.RawMessage, error) {
	b, err := jsonrpc.EncodeClientRequest(method, args)
	if err != nil {
		return nil, fmt.Errorf("jsonrpc.EncodeClientRequest: %v", err)
	}

	url := "http://" + net.JoinHostPort(c.cfg.Host, c.cfg.Port)
	req, err := http.NewRequest("POST", url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var m json.RawMessage
	if err := jsonrpc.DecodeClientResponse(resp.Body, &m); err != nil {
		return nil, fmt.Errorf("jsonrpc.DecodeClientResponse: %v", err)
	}
	return m, nil
}
