// Package rpc is the operator-facing notification server (spec §6, §4.10
// "ambient CLI/RPC front-ends"): a gorilla/websocket JSON-RPC-style
// surface exposing swap resume, manual recovery operations, and history,
// matching the teacher's rpc/ws.go shape but carrying this engine's
// domain -- swap lifecycle and recovery, not offer/peer discovery.
//
// The teacher's request/response envelope lived in a sibling
// common/rpctypes package; this engine folds the same small set of types
// directly into rpc since nothing else needs them.
package rpc

import (
	"encoding/json"
	"fmt"
)

// DefaultJSONRPCVersion is the envelope's fixed "jsonrpc" field, matching
// the teacher's rpctypes.DefaultJSONRPCVersion.
const DefaultJSONRPCVersion = "2.0"

// Request is one inbound websocket frame.
type Request struct {
	Version string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      uint64          `json:"id"`
}

// Response is one outbound websocket frame: exactly one of Result/Error
// is populated, matching the teacher's rpctypes.Response.
type Response struct {
	Version string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      uint64          `json:"id"`
}

// Error is a JSON-RPC-shaped error, matching rpctypes.Error.
type Error struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Method names, matching the teacher's method-string constants
// (subscribeNewPeer, subscribeSwapStatus, ...) adapted to this engine's
// operations.
const (
	MethodResumeAndSubscribe = "swap_resumeAndSubscribe"
	MethodSubscribeStatus    = "swap_subscribeStatus"
	MethodHistory            = "swap_history"
	MethodRecover            = "swap_recover"
)

// ResumeRequest names the swap to resume and stream status for.
type ResumeRequest struct {
	SwapID string `json:"swap_id"`
}

// SubscribeStatusRequest names an already-tracked swap to subscribe to.
type SubscribeStatusRequest struct {
	SwapID string `json:"swap_id"`
}

// StatusResponse is one streamed status update, matching the teacher's
// rpctypes.SubscribeSwapStatusResponse.
type StatusResponse struct {
	State string `json:"state"`
}

// HistoryRequest has no parameters; it's a struct for symmetry with the
// other method handlers and to leave room for a future filter.
type HistoryRequest struct{}

// HistoryEntry mirrors manager.HistoryEntry over the wire.
type HistoryEntry struct {
	SwapID string `json:"swap_id"`
	Role   string `json:"role"`
	Active bool   `json:"active"`
}

// HistoryResponse lists every swap this daemon's store has ever persisted.
type HistoryResponse struct {
	Swaps []HistoryEntry `json:"swaps"`
}

// RecoverRequest invokes one manual recovery operation (spec §4.7) against
// a swap, synchronously.
type RecoverRequest struct {
	SwapID string `json:"swap_id"`
	Op     string `json:"op"`
	Force  bool   `json:"force,omitempty"`
}

// RecoverResponse is the resulting state name after the operation runs.
type RecoverResponse struct {
	State string `json:"state"`
}
