package bob

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/athanorlabs/xmr-btc-swap/bitcoin"
	"github.com/athanorlabs/xmr-btc-swap/coins"
	"github.com/athanorlabs/xmr-btc-swap/common"
	mcrypto "github.com/athanorlabs/xmr-btc-swap/crypto/monero"
	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
	"github.com/athanorlabs/xmr-btc-swap/monero"
	"github.com/athanorlabs/xmr-btc-swap/net/message"
	"github.com/athanorlabs/xmr-btc-swap/swap/setup"
	"github.com/athanorlabs/xmr-btc-swap/swap/store"
	"github.com/athanorlabs/xmr-btc-swap/swap/wallet"
)

// regtestAddr returns a deterministic, decodable regtest P2WPKH address,
// standing in for a real wallet-controlled payout address.
func regtestAddr(t *testing.T, seed byte) string {
	t.Helper()
	hash := bytes.Repeat([]byte{seed}, 20)
	addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, &chaincfg.RegressionNetParams)
	require.NoError(t, err)
	return addr.EncodeAddress()
}

// fakeFundedPSBT stands in for a wallet's FundLockTx: one dummy input
// (finalized with a throwaway witness, since NewTxLockFromPSBT only reads
// the multisig output back out) paying amount to the 2-of-2 script.
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

// fakeWallet is an in-memory stand-in for wallet.BitcoinWallet: broadcast
// just records the tx as mined, confirmations and timelocks are whatever
// the test configures.
type fakeWallet struct {
	mu               sync.Mutex
	mined            map[chainhash.Hash]*wire.MsgTx
	height           uint64
	blocksUntilCancel int64
	// neverConfirm holds txids whose Broadcast is a silent no-op, standing
	// in for a transaction whose input a competing spend already consumed
	// (e.g. Bob's TxRefund racing Alice's TxPunish for TxCancel's output).
	neverConfirm map[chainhash.Hash]bool
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		mined:             make(map[chainhash.Hash]*wire.MsgTx),
		neverConfirm:      make(map[chainhash.Hash]bool),
		height:            1000,
		blocksUntilCancel: 1000,
	}
}

func (w *fakeWallet) FundLockTx(_ context.Context, witnessScript []byte, amount, _ coins.BitcoinAmount) ([]byte, error) {
	return fakeFundedPSBT(witnessScript, amount)
}

func (w *fakeWallet) recordMined(tx *wire.MsgTx) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.mined[tx.TxHash()] = tx
}

func (w *fakeWallet) Broadcast(_ context.Context, tx *wire.MsgTx) (chainhash.Hash, error) {
	w.mu.Lock()
	blocked := w.neverConfirm[tx.TxHash()]
	w.mu.Unlock()
	if blocked {
		return tx.TxHash(), nil
	}
	w.recordMined(tx)
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
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blocksUntilCancel, nil
}

func (w *fakeWallet) BlockHeight(_ context.Context) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.height, nil
}

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

var _ wallet.BitcoinWallet = (*fakeWallet)(nil)

// fakeMoneroClient answers CheckTxKey/GenerateFromKeys/OpenWallet/
// CloseWallet/Refresh/SweepAll the way run.go needs; every other Client
// method is unused by the driver and just no-ops.
type fakeMoneroClient struct {
	mu            sync.Mutex
	confirmations uint64
	received      uint64
	inPool        bool
	sweptTo       []mcrypto.Address
}

func newFakeMoneroClient() *fakeMoneroClient {
	return &fakeMoneroClient{confirmations: 20, inPool: false}
}

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
func (c *fakeMoneroClient) SweepAll(_ context.Context, to mcrypto.Address, _ uint) (*monero.SweepAllResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweptTo = append(c.sweptTo, to)
	return &monero.SweepAllResponse{}, nil
}
func (c *fakeMoneroClient) GenerateFromKeys(context.Context, *mcrypto.PrivateKeyPair, string, string, common.Environment) error {
	return nil
}
func (c *fakeMoneroClient) GenerateViewOnlyWalletFromKeys(context.Context, *mcrypto.PrivateViewKey, mcrypto.Address, string, string) error {
	return nil
}
func (c *fakeMoneroClient) GetHeight(context.Context) (uint, error) { return 0, nil }
func (c *fakeMoneroClient) Refresh(context.Context) error           { return nil }
func (c *fakeMoneroClient) CreateWallet(context.Context, string, string) error { return nil }
func (c *fakeMoneroClient) OpenWallet(context.Context, string, string) error   { return nil }
func (c *fakeMoneroClient) CloseWallet(context.Context) error                 { return nil }

func (c *fakeMoneroClient) CheckTxKey(context.Context, string, string, mcrypto.Address) (uint64, uint64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmations, c.received, c.inPool, nil
}

var _ monero.Client = (*fakeMoneroClient)(nil)

// fakeChannel drives Alice's side of the ceremony and the post-ceremony
// messages in-process, standing in for the transport the rpc package will
// eventually provide (spec §6).
type fakeChannel struct {
	handler *setup.Handler
	wallet  *fakeWallet

	aliceKeys   *setup.KeyMaterial
	aliceResult *setup.AliceResult
}

func (c *fakeChannel) SendQuote(context.Context) (*message.QuoteResponse, error) {
	return nil, fmt.Errorf("fakeChannel: SendQuote not used in this test")
}

func (c *fakeChannel) RunSetup(_ context.Context, m message.Message) (message.Message, error) {
	switch mm := m.(type) {
	case *message.SetupM0:
		return c.handler.HandleM0(mm)
	case *message.SetupM2:
		return c.handler.HandleM2(mm)
	case *message.SetupM4:
		ack, result, err := c.handler.HandleM4(mm)
		if err != nil {
			return nil, err
		}
		c.aliceResult = result
		return ack, nil
	default:
		return nil, fmt.Errorf("fakeChannel: unexpected setup message %T", m)
	}
}

func (c *fakeChannel) SendTransferProof(context.Context, *message.TransferProof) (*message.TransferProofAck, error) {
	return nil, fmt.Errorf("fakeChannel: SendTransferProof not used in this test")
}

// SendEncSig plays Alice's reaction to Bob's adaptor-encsig: decrypt it
// with her real secret, sign her own half, finalize TxRedeem, and have the
// shared wallet observe it mined -- exactly what broadcasting would cause
// Bob to see on his next poll.
func (c *fakeChannel) SendEncSig(_ context.Context, m *message.EncryptedSignature) (*message.EncryptedSignatureAck, error) {
	encSig, err := secp256k1.ParseEncSig(m.EncSig)
	if err != nil {
		return nil, err
	}
	bobSig := secp256k1.Decrypt(encSig, c.aliceKeys.SpendShareSecp)

	aliceSig, err := c.aliceResult.Redeem.Sign(c.aliceKeys.Bitcoin)
	if err != nil {
		return nil, err
	}
	if err := c.aliceResult.Redeem.AddSignatures(c.aliceKeys.Bitcoin.Public(), c.aliceResult.Bob.Bitcoin, aliceSig, bobSig); err != nil {
		return nil, err
	}
	c.wallet.recordMined(c.aliceResult.Redeem.Tx)

	return &message.EncryptedSignatureAck{SwapID: m.SwapID}, nil
}

func (c *fakeChannel) RequestCoopRedeem(context.Context, common.SwapID) (*message.CoopRedeemResponse, error) {
	return nil, fmt.Errorf("fakeChannel: RequestCoopRedeem not used in this test")
}

func (c *fakeChannel) RequestEarlyRefund(context.Context, common.SwapID) (*message.EarlyRefundResponse, error) {
	return nil, fmt.Errorf("fakeChannel: RequestEarlyRefund not used in this test")
}

func (c *fakeChannel) Close() error { return nil }

// runCeremony drives a real M0-M4 setup ceremony in-process (RunBob against
// a live setup.Handler), returning both sides' results the way an actual
// network transport would after the ceremony completes.
func runCeremony(t *testing.T, params setup.Params, bobKeys, aliceKeys *setup.KeyMaterial, w *fakeWallet,
	bobRefundAddr, aliceRedeemAddr, alicePunishAddr string, txRedeemFee coins.BitcoinAmount) (*setup.BobResult, *fakeChannel) {
	t.Helper()

	handler := setup.NewHandler(params, aliceKeys, aliceRedeemAddr, alicePunishAddr, txRedeemFee)
	channel := &fakeChannel{handler: handler, wallet: w, aliceKeys: aliceKeys}

	bobResult, err := setup.RunBob(context.Background(), channel, w, params, bobKeys, bobRefundAddr)
	require.NoError(t, err)
	require.NotNil(t, channel.aliceResult)

	return bobResult, channel
}

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

func TestRunHappyPathReachesXmrRedeemed(t *testing.T) {
	id := common.NewSwapID()
	params := testParams(id)

	bobKeys, err := setup.GenerateKeyMaterial()
	require.NoError(t, err)
	aliceKeys, err := setup.GenerateKeyMaterial()
	require.NoError(t, err)

	w := newFakeWallet()
	bobRefundAddr := regtestAddr(t, 1)
	aliceRedeemAddr := regtestAddr(t, 2)
	alicePunishAddr := regtestAddr(t, 3)

	bobResult, channel := runCeremony(t, params, bobKeys, aliceKeys, w, bobRefundAddr, aliceRedeemAddr, alicePunishAddr, coins.BitcoinAmount(500))

	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	xmr := newFakeMoneroClient()
	xmr.received = params.XMRAmount.Uint64()
	xmrDestAddr := mcrypto.Address("bob's monero payout address")

	s := NewSwap(id, common.Development, params, bobResult, bobRefundAddr, xmrDestAddr, w, xmr, channel, st)
	require.Equal(t, StateSwapSetupCompleted, s.State())

	ack, err := s.HandleTransferProof(&message.TransferProof{
		SwapID: id,
		TxHash: "deadbeef",
		KeyR:   bytes.Repeat([]byte{0x07}, 32),
	})
	require.NoError(t, err)
	require.Equal(t, id, ack.SwapID)

	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, StateXmrRedeemed, s.State())
	require.Equal(t, []mcrypto.Address{xmrDestAddr}, xmr.sweptTo)

	snap, err := st.Get(id)
	require.NoError(t, err)
	require.False(t, snap.Active)
	require.Equal(t, "bob", snap.Role)
}

func TestRunCancelsWhenXmrLockNeverArrives(t *testing.T) {
	id := common.NewSwapID()
	params := testParams(id)

	bobKeys, err := setup.GenerateKeyMaterial()
	require.NoError(t, err)
	aliceKeys, err := setup.GenerateKeyMaterial()
	require.NoError(t, err)

	w := newFakeWallet()
	w.blocksUntilCancel = 0 // cancel timelock already expired
	bobRefundAddr := regtestAddr(t, 4)
	aliceRedeemAddr := regtestAddr(t, 5)
	alicePunishAddr := regtestAddr(t, 6)

	bobResult, channel := runCeremony(t, params, bobKeys, aliceKeys, w, bobRefundAddr, aliceRedeemAddr, alicePunishAddr, coins.BitcoinAmount(500))

	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	xmr := newFakeMoneroClient()
	xmrDestAddr := mcrypto.Address("bob's monero payout address")

	s := NewSwap(id, common.Development, params, bobResult, bobRefundAddr, xmrDestAddr, w, xmr, channel, st)

	// No TransferProof ever arrives; the safety-margin check fires on the
	// poll ticker's first tick since blocksUntilCancel is already non-positive.
	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, StateBtcRefunded, s.State())

	refundTxid := func() chainhash.Hash {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.refund.Tx.TxHash()
	}()
	seen, err := w.IsInMempoolOrChain(context.Background(), refundTxid)
	require.NoError(t, err)
	require.True(t, seen)
}

func TestRunObservesBtcPunishedWhenRefundLosesTheRace(t *testing.T) {
	id := common.NewSwapID()
	params := testParams(id)

	bobKeys, err := setup.GenerateKeyMaterial()
	require.NoError(t, err)
	aliceKeys, err := setup.GenerateKeyMaterial()
	require.NoError(t, err)

	w := newFakeWallet()
	w.blocksUntilCancel = 0 // cancel timelock already expired
	bobRefundAddr := regtestAddr(t, 10)
	aliceRedeemAddr := regtestAddr(t, 11)
	alicePunishAddr := regtestAddr(t, 12)

	bobResult, channel := runCeremony(t, params, bobKeys, aliceKeys, w, bobRefundAddr, aliceRedeemAddr, alicePunishAddr, coins.BitcoinAmount(500))

	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	xmr := newFakeMoneroClient()
	xmrDestAddr := mcrypto.Address("bob's monero payout address")

	s := NewSwap(id, common.Development, params, bobResult, bobRefundAddr, xmrDestAddr, w, xmr, channel, st)

	// TxCancel's output already went to Alice's TxPunish; Bob's own TxRefund
	// broadcast is doomed to never confirm, matching spec §4.6's "BtcPunished
	// (observed, not caused)" -- Bob can only detect Alice having won the race.
	w.mu.Lock()
	w.neverConfirm[s.refund.Tx.TxHash()] = true
	w.mu.Unlock()
	w.recordMined(s.punish.Tx)

	require.NoError(t, s.Run(context.Background()))
	require.Equal(t, StateBtcPunished, s.State())
}
