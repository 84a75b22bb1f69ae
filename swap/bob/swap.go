package bob

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/wire"
	logging "github.com/ipfs/go-log/v2"

	"github.com/athanorlabs/xmr-btc-swap/bitcoin"
	"github.com/athanorlabs/xmr-btc-swap/coins"
	"github.com/athanorlabs/xmr-btc-swap/common"
	mcrypto "github.com/athanorlabs/xmr-btc-swap/crypto/monero"
	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
	"github.com/athanorlabs/xmr-btc-swap/monero"
	xmrnet "github.com/athanorlabs/xmr-btc-swap/net"
	"github.com/athanorlabs/xmr-btc-swap/net/message"
	"github.com/athanorlabs/xmr-btc-swap/swap/setup"
	"github.com/athanorlabs/xmr-btc-swap/swap/store"
	"github.com/athanorlabs/xmr-btc-swap/swap/wallet"
)

var log = logging.Logger("swap/bob")

// Swap is Bob's half of one in-flight swap (spec §4.6), built from a
// completed setup ceremony and driven to completion by Run. It mirrors the
// teacher's protocol/bob.swapState (mutex-guarded struct carrying key
// material and in-flight network state) with the ETH contract calls
// replaced by this engine's Bitcoin tx chain and Monero transfer watch.
type Swap struct {
	mu sync.Mutex

	id     common.SwapID
	env    common.Environment
	params setup.Params

	keys *setup.KeyMaterial

	aliceBitcoin      *secp256k1.PublicKey
	aliceSpendMonero  *mcrypto.PublicKey
	aliceSpendBitcoin *secp256k1.PublicKey
	aliceView         *mcrypto.PrivateViewKey
	aliceRedeemAddr   string
	alicePunishAddr   string
	txRedeemFee       coins.BitcoinAmount

	refundAddr  string
	xmrDestAddr mcrypto.Address

	lock   *bitcoin.TxLock
	cancel *bitcoin.TxCancel
	refund *bitcoin.TxRefund
	punish *bitcoin.TxPunish
	redeem *bitcoin.TxRedeem

	refundEncSig *secp256k1.EncSig
	// redeemEncSig is Bob's own adaptor encsig on TxRedeem, captured the
	// moment advanceXmrLocked computes and sends it. EncryptSign draws a
	// fresh nonce on every call, so recomputing it later would not be the
	// same EncSig that Alice's completed signature was built against;
	// recovering her secret requires this exact instance (spec §4.6
	// "EncSigSent -> BtcRedeemed": recovery depends on the encsig actually
	// transmitted, not an equivalent one).
	redeemEncSig *secp256k1.EncSig
	jointAddress mcrypto.Address

	state State

	lockConfirmedHeight   uint64
	cancelConfirmedHeight uint64
	refundFinalized       bool

	xmrProof *monero.TransferProof

	transferProofCh chan *message.TransferProof

	wallet  wallet.BitcoinWallet
	xmr     monero.Client
	channel xmrnet.PeerChannel
	store   store.Store
}

// NewSwap builds Bob's driver from a completed ceremony (spec §4.6
// "SwapSetupCompleted" is this constructor's postcondition). refundAddr is
// the address TxRefund will pay Bob if the swap cancels.
func NewSwap(
	id common.SwapID,
	env common.Environment,
	params setup.Params,
	result *setup.BobResult,
	refundAddr string,
	xmrDestAddr mcrypto.Address,
	w wallet.BitcoinWallet,
	xmr monero.Client,
	channel xmrnet.PeerChannel,
	st store.Store,
) *Swap {
	return &Swap{
		id:     id,
		env:    env,
		params: params,

		keys: result.Keys,

		aliceBitcoin:      result.Alice.Bitcoin,
		aliceSpendMonero:  result.Alice.SpendMonero,
		aliceSpendBitcoin: result.Alice.SpendBitcoin,
		aliceView:         result.Alice.View,
		aliceRedeemAddr:   result.AliceRedeemAddress,
		alicePunishAddr:   result.AlicePunishAddress,
		txRedeemFee:       result.TxRedeemFee,

		refundAddr:  refundAddr,
		xmrDestAddr: xmrDestAddr,

		lock:   result.Lock,
		cancel: result.Cancel,
		refund: result.Refund,
		punish: result.Punish,
		redeem: result.Redeem,

		refundEncSig: result.RefundEncSig,
		jointAddress: result.JointAddress,

		state: StateSwapSetupCompleted,

		transferProofCh: make(chan *message.TransferProof, 1),

		wallet:  w,
		xmr:     xmr,
		channel: channel,
		store:   st,
	}
}

// ID returns the swap's identifier.
func (s *Swap) ID() common.SwapID {
	return s.id
}

// State returns the swap's current state.
func (s *Swap) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleTransferProof delivers Alice's TransferProof message to the
// driver (spec §6 "/xmr-btc/transfer-proof/1"), called by whatever
// transport owns this swap's connection. The acknowledgement is
// immediate and carries no safety guarantee of its own (spec §4.5 "treat
// ACK as soft signal only"); delivery is best-effort and non-blocking so
// a slow driver never stalls the network layer.
func (s *Swap) HandleTransferProof(m *message.TransferProof) (*message.TransferProofAck, error) {
	if m.SwapID != s.id {
		return nil, fmt.Errorf("bob: transfer proof for wrong swap id")
	}
	select {
	case s.transferProofCh <- m:
	default:
		// already delivered (or driver hasn't consumed the first yet);
		// dropping a duplicate is safe, the driver only reads once.
	}
	return &message.TransferProofAck{SwapID: s.id}, nil
}

// snapshotDTO is Swap's JSON-serializable persisted shape (spec §4.8).
// Cooperative signatures Bob can regenerate himself (his own TxCancel/
// TxPunish signatures) are not persisted; Alice's signatures, which only
// she can produce, are. The transaction chain itself is rebuilt
// deterministically from TxLock's wallet-signed bytes plus both parties'
// public key material, rather than persisted tx-by-tx.
type snapshotDTO struct {
	State State `json:"state"`

	Env            common.Environment  `json:"env"`
	BTCAmount      coins.BitcoinAmount `json:"btc_amount"`
	XMRAmount      coins.MoneroAmount  `json:"xmr_amount"`
	TxLockFee      coins.BitcoinAmount `json:"tx_lock_fee"`
	TxCancelFee    coins.BitcoinAmount `json:"tx_cancel_fee"`
	TxRefundFee    coins.BitcoinAmount `json:"tx_refund_fee"`
	TxPunishFee    coins.BitcoinAmount `json:"tx_punish_fee"`
	CancelTimelock uint32              `json:"cancel_timelock"`
	PunishTimelock uint32              `json:"punish_timelock"`

	BitcoinKey     [32]byte `json:"bitcoin_key"`
	SpendShareEd   [32]byte `json:"spend_share_ed"`
	SpendShareSecp [32]byte `json:"spend_share_secp"`
	ViewShare      [32]byte `json:"view_share"`

	AliceBitcoin      []byte `json:"alice_bitcoin"`
	AliceSpendMonero  []byte `json:"alice_spend_monero"`
	AliceSpendBitcoin []byte `json:"alice_spend_bitcoin"`
	AliceView         [32]byte `json:"alice_view"`
	AliceRedeemAddr   string `json:"alice_redeem_addr"`
	AlicePunishAddr   string `json:"alice_punish_addr"`
	TxRedeemFee       coins.BitcoinAmount `json:"tx_redeem_fee"`

	RefundAddr  string `json:"refund_addr"`
	XmrDestAddr string `json:"xmr_dest_addr"`

	LockTxBytes   []byte `json:"lock_tx_bytes"`
	LockVOut      uint32 `json:"lock_vout"`
	CancelTxBytes []byte `json:"cancel_tx_bytes"` // already finalized by the setup ceremony

	// RefundTxBytes is only set once Bob has actually completed and
	// broadcast (or is about to broadcast) TxRefund; until then the
	// driver rebuilds an unsigned template from Cancel on restore.
	RefundTxBytes []byte `json:"refund_tx_bytes,omitempty"`

	RefundEncSig []byte `json:"refund_encsig"`

	// RedeemEncSig is only set once advanceXmrLocked has actually computed
	// and sent it; the recovery step in advanceEncSigSent reads it back
	// rather than recomputing it (EncryptSign is not deterministic).
	RedeemEncSig []byte `json:"redeem_encsig,omitempty"`

	JointAddress string `json:"joint_address"`

	LockConfirmedHeight   uint64 `json:"lock_confirmed_height"`
	CancelConfirmedHeight uint64 `json:"cancel_confirmed_height"`

	XmrTxHash string `json:"xmr_tx_hash,omitempty"`
	XmrTxKey  string `json:"xmr_tx_key,omitempty"`
	XmrAmount uint64 `json:"xmr_amount,omitempty"`
}

// Persist writes the swap's current state to the store (spec §4.8,
// "persist before broadcast"). It is the caller's responsibility to call
// this at every crash-relevant juncture; Run does so after each
// transition.
func (s *Swap) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Swap) persistLocked() error {
	var lockBuf, cancelBuf bytes.Buffer
	if err := s.lock.Tx.Serialize(&lockBuf); err != nil {
		return fmt.Errorf("bob: serialize TxLock: %w", err)
	}
	if err := s.cancel.Tx.Serialize(&cancelBuf); err != nil {
		return fmt.Errorf("bob: serialize TxCancel: %w", err)
	}

	dto := snapshotDTO{
		State: s.state,

		Env:            s.env,
		BTCAmount:      s.lock.Amount,
		XMRAmount:      s.params.XMRAmount,
		TxLockFee:      s.params.TxLockFee,
		TxCancelFee:    s.params.TxCancelFee,
		TxRefundFee:    s.params.TxRefundFee,
		TxPunishFee:    s.params.TxPunishFee,
		CancelTimelock: s.params.CancelTimelock,
		PunishTimelock: s.params.PunishTimelock,

		BitcoinKey:     s.keys.Bitcoin.Bytes(),
		SpendShareEd:   s.keys.SpendShareEd.Bytes(),
		SpendShareSecp: s.keys.SpendShareSecp.Bytes(),
		ViewShare:      s.keys.ViewShare.Bytes(),

		AliceBitcoin:      s.aliceBitcoin.SerializeCompressed(),
		AliceSpendMonero:  bytesOf(s.aliceSpendMonero.Bytes()),
		AliceSpendBitcoin: s.aliceSpendBitcoin.SerializeCompressed(),
		AliceView:         s.aliceView.Bytes(),
		AliceRedeemAddr:   s.aliceRedeemAddr,
		AlicePunishAddr:   s.alicePunishAddr,
		TxRedeemFee:       s.txRedeemFee,

		RefundAddr:  s.refundAddr,
		XmrDestAddr: string(s.xmrDestAddr),

		LockTxBytes:   lockBuf.Bytes(),
		LockVOut:      s.lock.VOut,
		CancelTxBytes: cancelBuf.Bytes(),

		RefundEncSig: s.refundEncSig.Serialize(),

		JointAddress: string(s.jointAddress),

		LockConfirmedHeight:   s.lockConfirmedHeight,
		CancelConfirmedHeight: s.cancelConfirmedHeight,
	}
	if s.xmrProof != nil {
		dto.XmrTxHash = s.xmrProof.TxHash
		dto.XmrTxKey = s.xmrProof.TxKey
		dto.XmrAmount = s.xmrProof.Amount
	}
	if s.refundFinalized {
		var refundBuf bytes.Buffer
		if err := s.refund.Tx.Serialize(&refundBuf); err != nil {
			return fmt.Errorf("bob: serialize TxRefund: %w", err)
		}
		dto.RefundTxBytes = refundBuf.Bytes()
	}
	if s.redeemEncSig != nil {
		dto.RedeemEncSig = s.redeemEncSig.Serialize()
	}

	raw, err := json.Marshal(dto)
	if err != nil {
		return fmt.Errorf("bob: marshal snapshot: %w", err)
	}

	return s.store.Put(&store.Snapshot{
		SwapID:        s.id,
		SchemaVersion: store.SchemaVersion,
		Active:        !s.state.IsTerminal(),
		Role:          "bob",
		State:         raw,
	})
}

// Restore rebuilds a Swap from a persisted snapshot (spec §4.8 "resume
// exactly where it left off"). The transaction chain is rebuilt with the
// same bitcoin.New* constructors the original ceremony used; since those
// are pure functions of their inputs, the result is byte-identical to
// what was torn down.
func Restore(snap *store.Snapshot, w wallet.BitcoinWallet, xmr monero.Client, channel xmrnet.PeerChannel, st store.Store) (*Swap, error) {
	var dto snapshotDTO
	if err := json.Unmarshal(snap.State, &dto); err != nil {
		return nil, fmt.Errorf("bob: unmarshal snapshot: %w", err)
	}

	bitcoinKey, err := secp256k1.NewPrivateKeyFromBytes(dto.BitcoinKey[:])
	if err != nil {
		return nil, fmt.Errorf("bob: restore bitcoin key: %w", err)
	}
	spendShareEd, err := mcrypto.NewPrivateSpendKey(dto.SpendShareEd[:])
	if err != nil {
		return nil, fmt.Errorf("bob: restore spend share: %w", err)
	}
	spendShareSecp, err := secp256k1.NewPrivateKeyFromBytes(dto.SpendShareSecp[:])
	if err != nil {
		return nil, fmt.Errorf("bob: restore adaptor secret: %w", err)
	}
	viewShare, err := mcrypto.NewPrivateViewKey(dto.ViewShare[:])
	if err != nil {
		return nil, fmt.Errorf("bob: restore view share: %w", err)
	}
	keys := &setup.KeyMaterial{
		Bitcoin:        bitcoinKey,
		SpendShareEd:   spendShareEd,
		SpendShareSecp: spendShareSecp,
		ViewShare:      viewShare,
	}

	aliceBitcoin, err := secp256k1.NewPublicKeyFromBytes(dto.AliceBitcoin)
	if err != nil {
		return nil, fmt.Errorf("bob: restore alice bitcoin pubkey: %w", err)
	}
	aliceSpendMonero, err := mcrypto.NewPublicKeyFromBytes(dto.AliceSpendMonero)
	if err != nil {
		return nil, fmt.Errorf("bob: restore alice spend share: %w", err)
	}
	aliceSpendBitcoin, err := secp256k1.NewPublicKeyFromBytes(dto.AliceSpendBitcoin)
	if err != nil {
		return nil, fmt.Errorf("bob: restore alice adaptor statement: %w", err)
	}
	aliceView, err := mcrypto.NewPrivateViewKey(dto.AliceView[:])
	if err != nil {
		return nil, fmt.Errorf("bob: restore alice view share: %w", err)
	}

	params := setup.Params{
		SwapID:         snap.SwapID,
		Env:            dto.Env,
		BTCAmount:      dto.BTCAmount,
		XMRAmount:      dto.XMRAmount,
		TxLockFee:      dto.TxLockFee,
		TxCancelFee:    dto.TxCancelFee,
		TxRefundFee:    dto.TxRefundFee,
		TxPunishFee:    dto.TxPunishFee,
		CancelTimelock: dto.CancelTimelock,
		PunishTimelock: dto.PunishTimelock,
	}

	witnessScript, err := bitcoin.MultisigWitnessScript(aliceBitcoin, keys.Bitcoin.Public())
	if err != nil {
		return nil, fmt.Errorf("bob: rebuild multisig script: %w", err)
	}
	lockTx := wire.NewMsgTx(2)
	if err := lockTx.Deserialize(bytes.NewReader(dto.LockTxBytes)); err != nil {
		return nil, fmt.Errorf("bob: deserialize TxLock: %w", err)
	}
	lock := &bitcoin.TxLock{Tx: lockTx, VOut: dto.LockVOut, WitnessScript: witnessScript, Amount: dto.BTCAmount}

	cancel, err := bitcoin.NewTxCancel(lock, aliceBitcoin, keys.Bitcoin.Public(), dto.CancelTimelock, dto.TxCancelFee)
	if err != nil {
		return nil, fmt.Errorf("bob: rebuild TxCancel: %w", err)
	}
	cancelTx := wire.NewMsgTx(2)
	if err := cancelTx.Deserialize(bytes.NewReader(dto.CancelTxBytes)); err != nil {
		return nil, fmt.Errorf("bob: deserialize TxCancel: %w", err)
	}
	cancel.Tx = cancelTx // already finalized by the setup ceremony

	netParams := setup.ChainParams(dto.Env)

	refundScript, err := bitcoin.AddressScript(dto.RefundAddr, netParams)
	if err != nil {
		return nil, fmt.Errorf("bob: refund address: %w", err)
	}
	refund, err := bitcoin.NewTxRefund(cancel, refundScript, dto.TxRefundFee)
	if err != nil {
		return nil, fmt.Errorf("bob: rebuild TxRefund: %w", err)
	}

	redeemScript, err := bitcoin.AddressScript(dto.AliceRedeemAddr, netParams)
	if err != nil {
		return nil, fmt.Errorf("bob: alice's redeem address: %w", err)
	}
	redeem, err := bitcoin.NewTxRedeem(lock, redeemScript, dto.TxRedeemFee)
	if err != nil {
		return nil, fmt.Errorf("bob: rebuild TxRedeem: %w", err)
	}

	punishScript, err := bitcoin.AddressScript(dto.AlicePunishAddr, netParams)
	if err != nil {
		return nil, fmt.Errorf("bob: alice's punish address: %w", err)
	}
	punish, err := bitcoin.NewTxPunish(cancel, punishScript, dto.PunishTimelock, dto.TxPunishFee)
	if err != nil {
		return nil, fmt.Errorf("bob: rebuild TxPunish: %w", err)
	}

	if len(dto.RefundTxBytes) > 0 {
		refundTx := wire.NewMsgTx(2)
		if err := refundTx.Deserialize(bytes.NewReader(dto.RefundTxBytes)); err != nil {
			return nil, fmt.Errorf("bob: deserialize TxRefund: %w", err)
		}
		refund.Tx = refundTx
	}

	refundEncSig, err := secp256k1.ParseEncSig(dto.RefundEncSig)
	if err != nil {
		return nil, fmt.Errorf("bob: parse refund encsig: %w", err)
	}

	var redeemEncSig *secp256k1.EncSig
	if len(dto.RedeemEncSig) > 0 {
		redeemEncSig, err = secp256k1.ParseEncSig(dto.RedeemEncSig)
		if err != nil {
			return nil, fmt.Errorf("bob: parse redeem encsig: %w", err)
		}
	}

	s := &Swap{
		id:     snap.SwapID,
		env:    dto.Env,
		params: params,

		keys: keys,

		aliceBitcoin:      aliceBitcoin,
		aliceSpendMonero:  aliceSpendMonero,
		aliceSpendBitcoin: aliceSpendBitcoin,
		aliceView:         aliceView,
		aliceRedeemAddr:   dto.AliceRedeemAddr,
		alicePunishAddr:   dto.AlicePunishAddr,
		txRedeemFee:       dto.TxRedeemFee,

		refundAddr:  dto.RefundAddr,
		xmrDestAddr: mcrypto.Address(dto.XmrDestAddr),

		lock:   lock,
		cancel: cancel,
		refund: refund,
		punish: punish,
		redeem: redeem,

		refundEncSig: refundEncSig,
		redeemEncSig: redeemEncSig,
		jointAddress: mcrypto.Address(dto.JointAddress),

		state: dto.State,

		lockConfirmedHeight:   dto.LockConfirmedHeight,
		cancelConfirmedHeight: dto.CancelConfirmedHeight,
		refundFinalized:       len(dto.RefundTxBytes) > 0,

		transferProofCh: make(chan *message.TransferProof, 1),

		wallet:  w,
		xmr:     xmr,
		channel: channel,
		store:   st,
	}
	if dto.XmrTxHash != "" {
		s.xmrProof = monero.NewTransferProof(dto.XmrTxHash, dto.XmrTxKey, dto.XmrAmount)
	}
	return s, nil
}

func bytesOf(b [32]byte) []byte {
	return b[:]
}
