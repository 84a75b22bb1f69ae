package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/athanorlabs/xmr-btc-swap/bitcoin"
	"github.com/athanorlabs/xmr-btc-swap/coins"
	"github.com/athanorlabs/xmr-btc-swap/common"
	mcrypto "github.com/athanorlabs/xmr-btc-swap/crypto/monero"
	"github.com/athanorlabs/xmr-btc-swap/monero"
	"github.com/athanorlabs/xmr-btc-swap/net/message"
	"github.com/athanorlabs/xmr-btc-swap/swap/bob"
	"github.com/athanorlabs/xmr-btc-swap/swap/manager"
	"github.com/athanorlabs/xmr-btc-swap/swap/setup"
	"github.com/athanorlabs/xmr-btc-swap/swap/store"
)

// Condensed ceremony/wallet fixtures, the same shape swap/recovery and
// swap/manager's tests use, needed here only to produce a real persisted
// snapshot for the server to operate on.

func regtestAddr(t *testing.T, seed byte) string {
	t.Helper()
	hash := bytes.Repeat([]byte{seed}, 20)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

func fakeFundedPSBT(witnessScript []byte, amount coins.BitcoinAmount) ([]byte, error) {
	pkScript, err := bitcoin.P2WSHScriptPubKey(witnessScript)
	if err != nil {
		return nil, err
	}
	unsigned := wire.NewMsgTx(2)
	unsigned.AddTxIn(wire.NewTxIn(&wire.OutPoint{Index: 0}, nil, nil))
	unsigned.AddTxOut(wire.NewTxOut(amount.Sats(), pkScript))

	pkt, err := psbt.NewFromUnsignedTx(unsigned)
	if err != nil {
		return nil, err
	}
	var witBuf bytes.Buffer
	if err := psbt.WriteTxWitness(&witBuf, wire.TxWitness{{0x01}, {0x02}}); err != nil {
		return nil, err
	}
	pkt.Inputs[0].FinalScriptWitness = witBuf.Bytes()

	var raw bytes.Buffer
	if err := pkt.Serialize(&raw); err != nil {
		return nil, err
	}
	return raw.Bytes(), nil
}

type fakeWallet struct {
	mu    sync.Mutex
	mined map[chainhash.Hash]*wire.MsgTx
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{mined: make(map[chainhash.Hash]*wire.MsgTx)}
}

func (w *fakeWallet) FundLockTx(_ context.Context, witnessScript []byte, amount, _ coins.BitcoinAmount) ([]byte, error) {
	return fakeFundedPSBT(witnessScript, amount)
}
func (w *fakeWallet) Broadcast(_ context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mined[tx.TxHash()] = tx
	return tx.TxHash(), nil
}
func (w *fakeWallet) WaitForConfirmations(_ context.Context, _ chainhash.Hash, _ uint64) error {
	return nil
}
func (w *fakeWallet) IsInMempoolOrChain(_ context.Context, txid chainhash.Hash) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.mined[txid]
	return ok, nil
}
func (w *fakeWallet) BlocksUntilSequenceSpendable(_ context.Context, _ uint64, _ uint32) (int64, error) {
	return 0, nil
}
func (w *fakeWallet) BlockHeight(_ context.Context) (uint64, error) { return 1000, nil }
func (w *fakeWallet) NewChangeAddress(_ context.Context) (string, error) {
	return "", nil
}
func (w *fakeWallet) FetchTransaction(_ context.Context, txid chainhash.Hash) (*wire.MsgTx, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	tx, ok := w.mined[txid]
	if !ok {
		return nil, fmt.Errorf("fakeWallet: unknown txid %s", txid)
	}
	return tx, nil
}

type fakeMoneroClient struct{}

func (c *fakeMoneroClient) LockClient()   {}
func (c *fakeMoneroClient) UnlockClient() {}
func (c *fakeMoneroClient) GetAccounts(context.Context) (*monero.GetAccountsResponse, error) {
	return &monero.GetAccountsResponse{}, nil
}
func (c *fakeMoneroClient) GetAddress(context.Context, uint) (*monero.GetAddressResponse, error) {
	return &monero.GetAddressResponse{}, nil
}
func (c *fakeMoneroClient) GetBalance(context.Context, uint) (*monero.GetBalanceResponse, error) {
	return &monero.GetBalanceResponse{}, nil
}
func (c *fakeMoneroClient) Transfer(context.Context, mcrypto.Address, uint, uint64) (*monero.TransferResponse, error) {
	return &monero.TransferResponse{}, nil
}
func (c *fakeMoneroClient) SweepAll(context.Context, mcrypto.Address, uint) (*monero.SweepAllResponse, error) {
	return &monero.SweepAllResponse{}, nil
}
func (c *fakeMoneroClient) GenerateFromKeys(context.Context, *mcrypto.PrivateKeyPair, string, string, common.Environment) error {
	return nil
}
func (c *fakeMoneroClient) GenerateViewOnlyWalletFromKeys(context.Context, *mcrypto.PrivateViewKey, mcrypto.Address, string, string) error {
	return nil
}
func (c *fakeMoneroClient) GetHeight(context.Context) (uint, error)            { return 0, nil }
func (c *fakeMoneroClient) Refresh(context.Context) error                     { return nil }
func (c *fakeMoneroClient) CreateWallet(context.Context, string, string) error { return nil }
func (c *fakeMoneroClient) OpenWallet(context.Context, string, string) error   { return nil }
func (c *fakeMoneroClient) CloseWallet(context.Context) error                 { return nil }
func (c *fakeMoneroClient) CheckTxKey(context.Context, string, string, mcrypto.Address) (uint64, uint64, bool, error) {
	return 0, 0, false, nil
}

type ceremonyChannel struct {
	handler *setup.Handler
}

func (c *ceremonyChannel) SendQuote(context.Context) (*message.QuoteResponse, error) {
	return nil, fmt.Errorf("not used")
}
func (c *ceremonyChannel) RunSetup(_ context.Context, m message.Message) (message.Message, error) {
	switch mm := m.(type) {
	case *message.SetupM0:
		return c.handler.HandleM0(mm)
	case *message.SetupM2:
		return c.handler.HandleM2(mm)
	case *message.SetupM4:
		ack, _, err := c.handler.HandleM4(mm)
		return ack, err
	default:
		return nil, fmt.Errorf("unexpected setup message %T", m)
	}
}
func (c *ceremonyChannel) SendTransferProof(context.Context, *message.TransferProof) (*message.TransferProofAck, error) {
	return nil, fmt.Errorf("not used")
}
func (c *ceremonyChannel) SendEncSig(context.Context, *message.EncryptedSignature) (*message.EncryptedSignatureAck, error) {
	return nil, fmt.Errorf("not used")
}
func (c *ceremonyChannel) RequestCoopRedeem(context.Context, common.SwapID) (*message.CoopRedeemResponse, error) {
	return nil, fmt.Errorf("not used")
}
func (c *ceremonyChannel) RequestEarlyRefund(context.Context, common.SwapID) (*message.EarlyRefundResponse, error) {
	return nil, fmt.Errorf("not used")
}
func (c *ceremonyChannel) Close() error { return nil }

func testParams(id common.SwapID) setup.Params {
	return setup.Params{
		SwapID:         id,
		Env:            common.Development,
		BTCAmount:      coins.BitcoinToSats(1),
		XMRAmount:      coins.MoneroAmount(1_000_000_000_000),
		TxLockFee:      1000,
		TxCancelFee:    1000,
		TxRefundFee:    1000,
		TxPunishFee:    1000,
		CancelTimelock: 100,
		PunishTimelock: 50,
	}
}

// newTestServer builds a Server over a Manager with one persisted,
// already-SafelyAborted bob swap, wired to an httptest server.
func newTestServer(t *testing.T) (string, common.SwapID) {
	t.Helper()

	id := common.NewSwapID()
	params := testParams(id)

	bobKeys, err := setup.GenerateKeyMaterial()
	require.NoError(t, err)
	aliceKeys, err := setup.GenerateKeyMaterial()
	require.NoError(t, err)

	w := newFakeWallet()
	handler := setup.NewHandler(params, aliceKeys, regtestAddr(t, 2), regtestAddr(t, 3), coins.BitcoinAmount(500))
	channel := &ceremonyChannel{handler: handler}

	bobResult, err := setup.RunBob(context.Background(), channel, w, params, bobKeys, regtestAddr(t, 1))
	require.NoError(t, err)

	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	xmr := &fakeMoneroClient{}
	s := bob.NewSwap(id, common.Development, params, bobResult, regtestAddr(t, 1),
		mcrypto.Address("bob's monero payout address"), w, xmr, channel, st)
	_, err = s.SafelyAbort(context.Background())
	require.NoError(t, err)

	mgr := manager.New(st, w, xmr)
	srv := NewServer(mgr, nil)

	mux := http.NewServeMux()
	mux.Handle("/ws", srv)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws", id
}

func dial(t *testing.T, url string) *gorillaws.Conn {
	t.Helper()
	conn, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestServerHistoryReturnsPersistedSwap(t *testing.T) {
	url, id := newTestServer(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(&Request{Version: DefaultJSONRPCVersion, Method: MethodHistory, ID: 1}))

	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	require.Nil(t, resp.Error)

	var hist HistoryResponse
	require.NoError(t, json.Unmarshal(resp.Result, &hist))
	require.Len(t, hist.Swaps, 1)
	require.Equal(t, id.String(), hist.Swaps[0].SwapID)
	require.Equal(t, "bob", hist.Swaps[0].Role)
}

func TestServerRecoverIsIdempotent(t *testing.T) {
	url, id := newTestServer(t)
	conn := dial(t, url)

	params, err := json.Marshal(RecoverRequest{SwapID: id.String(), Op: "safely_abort"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(&Request{Version: DefaultJSONRPCVersion, Method: MethodRecover, Params: params, ID: 2}))

	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	require.Nil(t, resp.Error)

	var rec RecoverResponse
	require.NoError(t, json.Unmarshal(resp.Result, &rec))
	require.Equal(t, "SafelyAborted", rec.State)
}

func TestServerResumeAndSubscribeStreamsTerminalStatus(t *testing.T) {
	url, id := newTestServer(t)
	conn := dial(t, url)

	params, err := json.Marshal(ResumeRequest{SwapID: id.String()})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(&Request{Version: DefaultJSONRPCVersion, Method: MethodResumeAndSubscribe, Params: params, ID: 3}))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))

	var last StatusResponse
	for {
		var resp Response
		if err := conn.ReadJSON(&resp); err != nil {
			break
		}
		require.Nil(t, resp.Error)
		require.NoError(t, json.Unmarshal(resp.Result, &last))
	}
	require.Equal(t, "SafelyAborted", last.State)
}

func TestServerUnknownMethodReturnsError(t *testing.T) {
	url, _ := newTestServer(t)
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(&Request{Version: DefaultJSONRPCVersion, Method: "bogus_method", ID: 9}))

	var resp Response
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.Error)
}
