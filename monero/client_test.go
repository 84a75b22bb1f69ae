package monero

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	mcrypto "github.com/athanorlabs/xmr-btc-swap/crypto/monero"
)

// fakeWalletRPC serves canned responses keyed by JSON-RPC method name.
func fakeWalletRPC(t *testing.T, responses map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req jsonRPCRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, ok := responses[req.Method]
		if !ok {
			t.Fatalf("unexpected method %q", req.Method)
		}

		resultBytes, err := json.Marshal(result)
		require.NoError(t, err)
		resp := jsonRPCResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Result: resultBytes}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestGetBalance(t *testing.T) {
	srv := fakeWalletRPC(t, map[string]interface{}{
		"get_balance": GetBalanceResponse{Balance: 100, UnlockedBalance: 50},
	})
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.GetBalance(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, uint64(100), resp.Balance)
	require.Equal(t, uint64(50), resp.UnlockedBalance)
}

func TestTransfer(t *testing.T) {
	srv := fakeWalletRPC(t, map[string]interface{}{
		"transfer": TransferResponse{TxHash: "deadbeef", TxKey: "cafe", Amount: 42, Fee: 1},
	})
	defer srv.Close()

	c := NewClient(srv.URL)
	resp, err := c.Transfer(context.Background(), mcrypto.Address("4Axxx"), 0, 42)
	require.NoError(t, err)
	require.Equal(t, "deadbeef", resp.TxHash)
	require.Equal(t, "cafe", resp.TxKey)
}

func TestWatchTransferSucceedsOnceConfirmed(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		confirmations := uint64(0)
		if calls >= 2 {
			confirmations = 10
		}
		resp := jsonRPCResponse{JSONRPC: jsonRPCVersion, ID: 0}
		result, _ := json.Marshal(checkTxKeyResponse{Confirmations: confirmations, Received: 42, InPool: confirmations == 0})
		resp.Result = result
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	proof := NewTransferProof("deadbeef", "cafe", 42)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	err := WatchTransfer(ctx, c, proof, mcrypto.Address("4Axxx"), 42, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, calls, 2)
}

func TestWatchTransferTimesOut(t *testing.T) {
	srv := fakeWalletRPC(t, map[string]interface{}{
		"check_tx_key": checkTxKeyResponse{Confirmations: 0, Received: 42, InPool: true},
	})
	defer srv.Close()

	c := NewClient(srv.URL)
	proof := NewTransferProof("deadbeef", "cafe", 42)

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Millisecond)
	defer cancel()

	err := WatchTransfer(ctx, c, proof, mcrypto.Address("4Axxx"), 42, 10)
	require.Error(t, err)
}
