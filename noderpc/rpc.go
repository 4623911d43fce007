// Package noderpc implements the block source abstraction in package
// oracle by using the Bitcoin Core JSON-RPC API.
package noderpc

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/blockprice/blockprice/oracle"
)

type Config struct {
	Host     string `json:"host" yaml:"host"`
	Port     string `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`

	// HTTP timeout in seconds
	Timeout int `json:"timeout" yaml:"timeout"`
}

type request struct {
	Jsonrpc string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	Id      int64       `json:"id"`
}

type response struct {
	Jsonrpc string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   interface{}     `json:"error"`
	Id      int64           `json:"id"`
}

// Source talks to a single trusted node. It implements oracle.Source.
type Source struct {
	currid     int64
	httpclient *http.Client
	cfg        Config
}

func NewSource(cfg Config) *Source {
	c := &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}
	return &Source{cfg: cfg, httpclient: c}
}

func (s *Source) newRequest(method string, params interface{}) *request {
	return &request{
		Jsonrpc: "2.0",
		Method:  method,
		Params:  params,
		Id:      atomic.AddInt64(&s.currid, 1),
	}
}

func (s *Source) CurrentHeight() (height int64, err error) {
	req := s.newRequest("getblockcount", nil)
	resp, err := s.send(req)
	if err != nil {
		return
	}

	err = json.Unmarshal(resp, &height)
	return
}

func (s *Source) BlockHashAt(height int64) (oracle.Hash, error) {
	req := s.newRequest("getblockhash", []int64{height})
	resp, err := s.send(req)
	if err != nil {
		return oracle.Hash{}, err
	}

	var hashstr string
	if err := json.Unmarshal(resp, &hashstr); err != nil {
		return oracle.Hash{}, err
	}
	return oracle.NewHashFromStr(hashstr)
}

func (s *Source) HeaderTime(hash oracle.Hash) (int64, error) {
	req := s.newRequest("getblockheader", []interface{}{hash.String(), true})
	resp, err := s.send(req)
	if err != nil {
		return 0, err
	}

	var header struct {
		Time int64 `json:"time"`
	}
	if err := json.Unmarshal(resp, &header); err != nil {
		return 0, err
	}
	return header.Time, nil
}

// RawBlockBytes fetches a block with verbosity 0, which returns the raw
// serialization hex-encoded.
func (s *Source) RawBlockBytes(hash oracle.Hash) ([]byte, error) {
	req := s.newRequest("getblock", []interface{}{hash.String(), 0})
	resp, err := s.send(req)
	if err != nil {
		return nil, err
	}

	var blockhex string
	if err := json.Unmarshal(resp, &blockhex); err != nil {
		return nil, err
	}
	return hex.DecodeString(blockhex)
}

// Ping checks node connectivity at startup.
func (s *Source) Ping() error {
	_, err := s.send(s.newRequest("getnetworkinfo", nil))
	return err
}

// Send an RPC req.
func (s *Source) send(rpcreq *request) (json.RawMessage, error) {
	reqbody, err := json.Marshal(rpcreq)
	if err != nil {
		return nil, err
	}
	respbody, err := s.sendhttp(reqbody)
	if err != nil {
		return nil, err
	}
	var rpcresp response
	if err := json.Unmarshal(respbody, &rpcresp); err != nil {
		return nil, err
	}
	// Error on mismatched Id field
	if rpcresp.Id != rpcreq.Id {
		return nil, fmt.Errorf("mismatched RPC id")
	}
	if rpcresp.Error != nil {
		return nil, fmt.Errorf("%v", rpcresp.Error)
	}
	return rpcresp.Result, nil
}

// Send the HTTP request
func (s *Source) sendhttp(body []byte) ([]byte, error) {
	url := "http://" + net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	req, err := http.NewRequest("POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(s.cfg.Username, s.cfg.Password)
	resp, err := s.httpclient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("%v: %s", resp.Status, b)
	}

	return b, nil
}
