// Package wsclient is cmd/swapcli's connection to the rpc websocket
// server, matching the teacher's rpcclient/wsclient.WsClient shape:
// one Dial, a handful of typed request/response round trips, and a
// status-streaming subscription read loop.
package wsclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/athanorlabs/xmr-btc-swap/rpc"
)

// Client is cmd/swapcli's handle to a running swapd's rpc.Server.
type Client interface {
	Close() error
	History() (*rpc.HistoryResponse, error)
	Recover(swapID, op string, force bool) (*rpc.RecoverResponse, error)
	ResumeAndSubscribe(swapID string) (<-chan rpc.StatusResponse, error)
	SubscribeStatus(swapID string) (<-chan rpc.StatusResponse, error)
}

type wsClient struct {
	wmu  sync.Mutex
	rmu  sync.Mutex
	conn *websocket.Conn
	id   uint64
}

// Dial connects to a swapd instance's websocket endpoint.
func Dial(ctx context.Context, endpoint string) (Client, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("wsclient: dial %s: %w", endpoint, err)
	}
	_ = resp.Body.Close()
	return &wsClient{conn: conn}, nil
}

func (c *wsClient) Close() error {
	return c.conn.Close()
}

func (c *wsClient) nextID() uint64 {
	c.id++
	return c.id
}

func (c *wsClient) call(method string, params interface{}) (*rpc.Response, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("wsclient: marshal params: %w", err)
	}

	req := &rpc.Request{Version: rpc.DefaultJSONRPCVersion, Method: method, Params: raw, ID: c.nextID()}

	c.wmu.Lock()
	err = c.conn.WriteJSON(req)
	c.wmu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("wsclient: write request: %w", err)
	}

	c.rmu.Lock()
	var resp rpc.Response
	err = c.conn.ReadJSON(&resp)
	c.rmu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("wsclient: read response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("wsclient: server error: %s", resp.Error.Message)
	}
	return &resp, nil
}

func (c *wsClient) History() (*rpc.HistoryResponse, error) {
	resp, err := c.call(rpc.MethodHistory, rpc.HistoryRequest{})
	if err != nil {
		return nil, err
	}
	var out rpc.HistoryResponse
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		return nil, fmt.Errorf("wsclient: unmarshal history: %w", err)
	}
	return &out, nil
}

func (c *wsClient) Recover(swapID, op string, force bool) (*rpc.RecoverResponse, error) {
	resp, err := c.call(rpc.MethodRecover, rpc.RecoverRequest{SwapID: swapID, Op: op, Force: force})
	if err != nil {
		return nil, err
	}
	var out rpc.RecoverResponse
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		return nil, fmt.Errorf("wsclient: unmarshal recover response: %w", err)
	}
	return &out, nil
}

// subscribe writes one request then reads status responses off the same
// connection until it's closed by the server, matching the teacher's
// SubscribeSwapStatus.
func (c *wsClient) subscribe(method, swapID string) (<-chan rpc.StatusResponse, error) {
	raw, err := json.Marshal(map[string]string{"swap_id": swapID})
	if err != nil {
		return nil, err
	}
	req := &rpc.Request{Version: rpc.DefaultJSONRPCVersion, Method: method, Params: raw, ID: c.nextID()}

	c.wmu.Lock()
	err = c.conn.WriteJSON(req)
	c.wmu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("wsclient: write request: %w", err)
	}

	ch := make(chan rpc.StatusResponse)
	go func() {
		defer close(ch)
		for {
			c.rmu.Lock()
			var resp rpc.Response
			err := c.conn.ReadJSON(&resp)
			c.rmu.Unlock()
			if err != nil {
				return
			}
			if resp.Error != nil {
				return
			}
			var status rpc.StatusResponse
			if err := json.Unmarshal(resp.Result, &status); err != nil {
				return
			}
			ch <- status
		}
	}()
	return ch, nil
}

func (c *wsClient) ResumeAndSubscribe(swapID string) (<-chan rpc.StatusResponse, error) {
	return c.subscribe(rpc.MethodResumeAndSubscribe, swapID)
}

func (c *wsClient) SubscribeStatus(swapID string) (<-chan rpc.StatusResponse, error) {
	return c.subscribe(rpc.MethodSubscribeStatus, swapID)
}
