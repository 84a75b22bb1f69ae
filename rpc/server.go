package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log/v2"

	"github.com/athanorlabs/xmr-btc-swap/common"
	xmrnet "github.com/athanorlabs/xmr-btc-swap/net"
	"github.com/athanorlabs/xmr-btc-swap/swap/manager"
	"github.com/athanorlabs/xmr-btc-swap/swap/recovery"
)

var log = logging.Logger("rpc")

var errInvalidMethod = errors.New("rpc: invalid method")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// ChannelDialer opens (or reopens) the peer channel for a swap being
// resumed, so Manager.Resume can hand it to alice.Restore/bob.Restore.
// cmd/swapd supplies one backed by net/wsconn; tests and offline-only
// recovery flows can supply one that always errors.
type ChannelDialer func(ctx context.Context, id common.SwapID, role string) (xmrnet.PeerChannel, error)

// Server is the websocket notification server (spec §6). One Server
// instance is wired into cmd/swapd's HTTP mux at whatever path the
// operator configures (conventionally "/ws").
type Server struct {
	mgr   *manager.Manager
	dial  ChannelDialer
}

// NewServer builds a Server over an already-constructed Manager.
func NewServer(mgr *manager.Manager, dial ChannelDialer) *Server {
	return &Server{mgr: mgr, dial: dial}
}

// ServeHTTP upgrades the connection and reads one JSON-RPC-shaped request
// per frame, dispatching by method, matching the teacher's wsServer loop.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("failed to upgrade connection to websocket: %s", err)
		return
	}
	defer conn.Close() //nolint:errcheck

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Debugf("websocket read ended: %s", err)
			break
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			_ = writeError(conn, 0, err)
			continue
		}

		if err := s.handleRequest(r.Context(), conn, &req); err != nil {
			_ = writeError(conn, req.ID, err)
		}
	}
}

func (s *Server) handleRequest(ctx context.Context, conn *websocket.Conn, req *Request) error {
	switch req.Method {
	case MethodResumeAndSubscribe:
		var params ResumeRequest
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return fmt.Errorf("rpc: unmarshal params: %w", err)
		}
		return s.resumeAndSubscribe(ctx, conn, req.ID, params.SwapID)

	case MethodSubscribeStatus:
		var params SubscribeStatusRequest
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return fmt.Errorf("rpc: unmarshal params: %w", err)
		}
		return s.subscribeStatus(ctx, conn, req.ID, params.SwapID)

	case MethodHistory:
		entries, err := s.mgr.History()
		if err != nil {
			return err
		}
		resp := HistoryResponse{Swaps: make([]HistoryEntry, len(entries))}
		for i, e := range entries {
			resp.Swaps[i] = HistoryEntry{SwapID: e.ID.String(), Role: e.Role, Active: e.Active}
		}
		return writeResponse(conn, req.ID, resp)

	case MethodRecover:
		var params RecoverRequest
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return fmt.Errorf("rpc: unmarshal params: %w", err)
		}
		id, err := common.SwapIDFromString(params.SwapID)
		if err != nil {
			return fmt.Errorf("rpc: parse swap id: %w", err)
		}

		var channel xmrnet.PeerChannel
		if recovery.Op(params.Op) == recovery.OpEarlyRefund && s.dial != nil {
			// early_refund is the one recovery op that still needs a live
			// counterparty (spec §9 extension: consent is requested, not
			// assumed); every other op is wallet/chain-only.
			channel, _ = s.dial(ctx, id, "")
		}
		state, err := s.mgr.Recover(ctx, id, recovery.Op(params.Op), params.Force, channel)
		if err != nil {
			return err
		}
		return writeResponse(conn, req.ID, RecoverResponse{State: state})

	default:
		return errInvalidMethod
	}
}

// resumeAndSubscribe starts (or attaches to) id's Run loop and streams
// its state until terminal, matching the teacher's subscribeMakeOffer/
// subscribeTakeOffer pattern of "one synchronous ack, then a status
// stream over the same connection".
func (s *Server) resumeAndSubscribe(ctx context.Context, conn *websocket.Conn, reqID uint64, swapIDStr string) error {
	id, err := common.SwapIDFromString(swapIDStr)
	if err != nil {
		return fmt.Errorf("rpc: parse swap id: %w", err)
	}

	var channel xmrnet.PeerChannel
	if s.dial != nil {
		channel, err = s.dial(ctx, id, "")
		if err != nil {
			log.Warnf("rpc: resume %s: dial peer channel failed, continuing disconnected: %s", id, err)
		}
	}

	h, err := s.mgr.Resume(ctx, id, channel)
	if err != nil {
		return err
	}

	return s.streamStatus(ctx, conn, reqID, h)
}

func (s *Server) subscribeStatus(ctx context.Context, conn *websocket.Conn, reqID uint64, swapIDStr string) error {
	id, err := common.SwapIDFromString(swapIDStr)
	if err != nil {
		return fmt.Errorf("rpc: parse swap id: %w", err)
	}

	h, ok := s.mgr.Get(id)
	if !ok {
		return fmt.Errorf("rpc: swap %s is not currently tracked; use %s to start it", id, MethodResumeAndSubscribe)
	}
	return s.streamStatus(ctx, conn, reqID, h)
}

// streamStatus writes every update from h's subscription until it closes
// or the request context ends, matching subscribeSwapStatus's
// for-select-write loop (spec §6).
func (s *Server) streamStatus(ctx context.Context, conn *websocket.Conn, reqID uint64, h *manager.Handle) error {
	statusCh := h.Subscribe()
	for {
		select {
		case state, ok := <-statusCh:
			if !ok {
				return nil
			}
			if err := writeResponse(conn, reqID, StatusResponse{State: state}); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

func writeResponse(conn *websocket.Conn, id uint64, result interface{}) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return conn.WriteJSON(&Response{Version: DefaultJSONRPCVersion, Result: raw, ID: id})
}

func writeError(conn *websocket.Conn, id uint64, err error) error {
	return conn.WriteJSON(&Response{
		Version: DefaultJSONRPCVersion,
		Error:   &Error{Message: err.Error()},
		ID:      id,
	})
}
