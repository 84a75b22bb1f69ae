package alice

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

var log = logging.Logger("swap/alice")

// Swap is Alice's half of one in-flight swap (spec §4.5), built from a
// completed setup ceremony and driven to completion by Run.
type Swap struct {
	mu sync.Mutex

	id     common.SwapID
	env    common.Environment
	params setup.Params

	keys *setup.KeyMaterial

	bobBitcoin      *secp256k1.PublicKey
	bobSpendMonero  *mcrypto.PublicKey
	bobSpendBitcoin *secp256k1.PublicKey
	bobView         *mcrypto.PrivateViewKey

	xmrRefundDestAddr mcrypto.Address

	lock   *bitcoin.TxLock
	cancel *bitcoin.TxCancel
	refund *bitcoin.TxRefund
	punish *bitcoin.TxPunish
	redeem *bitcoin.TxRedeem

	bobPunishSig *secp256k1.Signature
	bobCancelSig *secp256k1.Signature
	jointAddress mcrypto.Address

	state State

	lockConfirmedHeight   uint64
	cancelConfirmedHeight uint64
	redeemFinalized       bool
	punishFinalized       bool

	xmrProof *monero.TransferProof

	bobRedeemEncSig *secp256k1.EncSig

	// refundEncSig is Alice's own adaptor encsig on TxRefund, the exact
	// instance sent to Bob in the setup ceremony's SetupM3. EncryptSign
	// draws a fresh nonce per call, so recovering Bob's secret from his
	// completed TxRefund signature requires this instance, not one
	// recomputed later (spec §4.6 "BtcCancelled -> BtcRefunded -> s_b
	// recovery").
	refundEncSig *secp256k1.EncSig

	encSigCh chan *message.EncryptedSignature

	wallet  wallet.BitcoinWallet
	xmr     monero.Client
	channel xmrnet.PeerChannel
	store   store.Store
}

// NewSwap builds Alice's driver from a completed ceremony (spec §4.5
// "Started" is this constructor's postcondition). xmrRefundDestAddr is
// where Alice's own Monero wallet sweeps back to if the swap cancels and
// she has to recover her locked XMR.
func NewSwap(
	id common.SwapID,
	env common.Environment,
	params setup.Params,
	result *setup.AliceResult,
	xmrRefundDestAddr mcrypto.Address,
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

		bobBitcoin:      result.Bob.Bitcoin,
		bobSpendMonero:  result.Bob.SpendMonero,
		bobSpendBitcoin: result.Bob.SpendBitcoin,
		bobView:         result.Bob.View,

		xmrRefundDestAddr: xmrRefundDestAddr,

		lock:   result.Lock,
		cancel: result.Cancel,
		refund: result.Refund,
		punish: result.Punish,
		redeem: result.Redeem,

		bobPunishSig: result.BobPunishSig,
		bobCancelSig: result.BobCancelSig,
		refundEncSig: result.RefundEncSig,
		jointAddress: result.JointAddress,

		state: StateStarted,

		encSigCh: make(chan *message.EncryptedSignature, 1),

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

// HandleEncSig delivers Bob's adaptor-encsig on TxRedeem to the driver
// (spec §6 "/xmr-btc/enc-sig/1"), called by whatever transport owns this
// swap's connection. Delivery is best-effort and non-blocking, matching
// swap/bob.Swap.HandleTransferProof.
func (s *Swap) HandleEncSig(m *message.EncryptedSignature) (*message.EncryptedSignatureAck, error) {
	if m.SwapID != s.id {
		return nil, fmt.Errorf("alice: encsig for wrong swap id")
	}
	select {
	case s.encSigCh <- m:
	default:
	}
	return &message.EncryptedSignatureAck{SwapID: s.id}, nil
}

// snapshotDTO is Swap's JSON-serializable persisted shape (spec §4.8).
// Unlike swap/bob, the refund/punish/redeem output scripts are persisted
// as raw pkScript bytes rather than address strings: Alice's refund
// output pays an address only Bob chose (setup.peerMaterial.refundScript
// is unexported, unreachable from this package), so the bytes are
// captured once off the already-built tx at construction time instead of
// re-derived from an address on restore.
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

	BobBitcoin      []byte   `json:"bob_bitcoin"`
	BobSpendMonero  []byte   `json:"bob_spend_monero"`
	BobSpendBitcoin []byte   `json:"bob_spend_bitcoin"`
	BobView         [32]byte `json:"bob_view"`
	BobPunishSig    []byte   `json:"bob_punish_sig"`
	BobCancelSig    []byte   `json:"bob_cancel_sig"`
	RefundEncSig    []byte   `json:"refund_enc_sig"` // Alice's own TxRefund encsig, from the setup ceremony

	XmrRefundDestAddr string `json:"xmr_refund_dest_addr"`

	LockTxBytes   []byte `json:"lock_tx_bytes"`
	LockVOut      uint32 `json:"lock_vout"`
	CancelTxBytes []byte `json:"cancel_tx_bytes"` // already finalized by the setup ceremony

	RefundPkScript []byte `json:"refund_pk_script"`
	RefundTxBytes  []byte `json:"refund_tx_bytes,omitempty"` // set once Bob's TxRefund is observed on chain

	PunishPkScript []byte `json:"punish_pk_script"`
	PunishTxBytes  []byte `json:"punish_tx_bytes,omitempty"` // set once Alice finalizes/broadcasts TxPunish herself

	RedeemPkScript []byte              `json:"redeem_pk_script"`
	RedeemTxBytes  []byte              `json:"redeem_tx_bytes,omitempty"` // set once Alice finalizes/broadcasts TxRedeem herself
	RedeemFee      coins.BitcoinAmount `json:"redeem_fee"`                // Alice's M1 TxRedeemFee, not part of setup.Params

	JointAddress string `json:"joint_address"`

	LockConfirmedHeight   uint64 `json:"lock_confirmed_height"`
	CancelConfirmedHeight uint64 `json:"cancel_confirmed_height"`

	XmrTxHash string `json:"xmr_tx_hash,omitempty"`
	XmrTxKey  string `json:"xmr_tx_key,omitempty"`
	XmrAmount uint64 `json:"xmr_amount,omitempty"`

	BobRedeemEncSig []byte `json:"bob_redeem_enc_sig,omitempty"` // set once learned, from EncSigLearned onward
}

// Persist writes the swap's current state to the store (spec §4.8,
// "persist before broadcast"). Run does so after every transition.
func (s *Swap) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Swap) persistLocked() error {
	var lockBuf, cancelBuf bytes.Buffer
	if err := s.lock.Tx.Serialize(&lockBuf); err != nil {
		return fmt.Errorf("alice: serialize TxLock: %w", err)
	}
	if err := s.cancel.Tx.Serialize(&cancelBuf); err != nil {
		return fmt.Errorf("alice: serialize TxCancel: %w", err)
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

		BobBitcoin:      s.bobBitcoin.SerializeCompressed(),
		BobSpendMonero:  bytesOf(s.bobSpendMonero.Bytes()),
		BobSpendBitcoin: s.bobSpendBitcoin.SerializeCompressed(),
		BobView:         s.bobView.Bytes(),
		BobPunishSig:    s.bobPunishSig.Serialize(),
		BobCancelSig:    s.bobCancelSig.Serialize(),
		RefundEncSig:    s.refundEncSig.Serialize(),

		XmrRefundDestAddr: string(s.xmrRefundDestAddr),

		LockTxBytes:   lockBuf.Bytes(),
		LockVOut:      s.lock.VOut,
		CancelTxBytes: cancelBuf.Bytes(),

		RefundPkScript: s.refund.Tx.TxOut[0].PkScript,
		PunishPkScript: s.punish.Tx.TxOut[0].PkScript,
		RedeemPkScript: s.redeem.Tx.TxOut[0].PkScript,
		RedeemFee:      s.lock.Amount.Sub(s.redeem.Amount),

		JointAddress: string(s.jointAddress),

		LockConfirmedHeight:   s.lockConfirmedHeight,
		CancelConfirmedHeight: s.cancelConfirmedHeight,
	}
	if s.xmrProof != nil {
		dto.XmrTxHash = s.xmrProof.TxHash
		dto.XmrTxKey = s.xmrProof.TxKey
		dto.XmrAmount = s.xmrProof.Amount
	}
	if s.bobRedeemEncSig != nil {
		dto.BobRedeemEncSig = s.bobRedeemEncSig.Serialize()
	}
	if s.redeemFinalized {
		var buf bytes.Buffer
		if err := s.redeem.Tx.Serialize(&buf); err != nil {
			return fmt.Errorf("alice: serialize TxRedeem: %w", err)
		}
		dto.RedeemTxBytes = buf.Bytes()
	}
	if s.punishFinalized {
		var buf bytes.Buffer
		if err := s.punish.Tx.Serialize(&buf); err != nil {
			return fmt.Errorf("alice: serialize TxPunish: %w", err)
		}
		dto.PunishTxBytes = buf.Bytes()
	}
	// TxRefund is never finalized by Alice herself (spec §4.2: only Bob
	// can complete and broadcast it); if she's observed it on chain she
	// persists the mined bytes so a crash doesn't lose the recovered s_b.
	if s.state == StateBtcRefunded || s.state == StateXmrRefunded {
		var buf bytes.Buffer
		if err := s.refund.Tx.Serialize(&buf); err != nil {
			return fmt.Errorf("alice: serialize TxRefund: %w", err)
		}
		dto.RefundTxBytes = buf.Bytes()
	}

	raw, err := json.Marshal(dto)
	if err != nil {
		return fmt.Errorf("alice: marshal snapshot: %w", err)
	}

	return s.store.Put(&store.Snapshot{
		SwapID:        s.id,
		SchemaVersion: store.SchemaVersion,
		Active:        !s.state.IsTerminal(),
		Role:          "alice",
		State:         raw,
	})
}

// Restore rebuilds a Swap from a persisted snapshot (spec §4.8 "resume
// exactly where it left off").
func Restore(snap *store.Snapshot, w wallet.BitcoinWallet, xmr monero.Client, channel xmrnet.PeerChannel, st store.Store) (*Swap, error) {
	var dto snapshotDTO
	if err := json.Unmarshal(snap.State, &dto); err != nil {
		return nil, fmt.Errorf("alice: unmarshal snapshot: %w", err)
	}

	bitcoinKey, err := secp256k1.NewPrivateKeyFromBytes(dto.BitcoinKey[:])
	if err != nil {
		return nil, fmt.Errorf("alice: restore bitcoin key: %w", err)
	}
	spendShareEd, err := mcrypto.NewPrivateSpendKey(dto.SpendShareEd[:])
	if err != nil {
		return nil, fmt.Errorf("alice: restore spend share: %w", err)
	}
	spendShareSecp, err := secp256k1.NewPrivateKeyFromBytes(dto.SpendShareSecp[:])
	if err != nil {
		return nil, fmt.Errorf("alice: restore adaptor secret: %w", err)
	}
	viewShare, err := mcrypto.NewPrivateViewKey(dto.ViewShare[:])
	if err != nil {
		return nil, fmt.Errorf("alice: restore view share: %w", err)
	}
	keys := &setup.KeyMaterial{
		Bitcoin:        bitcoinKey,
		SpendShareEd:   spendShareEd,
		SpendShareSecp: spendShareSecp,
		ViewShare:      viewShare,
	}

	bobBitcoin, err := secp256k1.NewPublicKeyFromBytes(dto.BobBitcoin)
	if err != nil {
		return nil, fmt.Errorf("alice: restore bob bitcoin pubkey: %w", err)
	}
	bobSpendMonero, err := mcrypto.NewPublicKeyFromBytes(dto.BobSpendMonero)
	if err != nil {
		return nil, fmt.Errorf("alice: restore bob spend share: %w", err)
	}
	bobSpendBitcoin, err := secp256k1.NewPublicKeyFromBytes(dto.BobSpendBitcoin)
	if err != nil {
		return nil, fmt.Errorf("alice: restore bob adaptor statement: %w", err)
	}
	bobView, err := mcrypto.NewPrivateViewKey(dto.BobView[:])
	if err != nil {
		return nil, fmt.Errorf("alice: restore bob view share: %w", err)
	}
	bobPunishSig, err := secp256k1.ParseSignature(dto.BobPunishSig)
	if err != nil {
		return nil, fmt.Errorf("alice: restore bob punish sig: %w", err)
	}
	bobCancelSig, err := secp256k1.ParseSignature(dto.BobCancelSig)
	if err != nil {
		return nil, fmt.Errorf("alice: restore bob cancel sig: %w", err)
	}
	refundEncSig, err := secp256k1.ParseEncSig(dto.RefundEncSig)
	if err != nil {
		return nil, fmt.Errorf("alice: restore refund encsig: %w", err)
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

	witnessScript, err := bitcoin.MultisigWitnessScript(bobBitcoin, keys.Bitcoin.Public())
	if err != nil {
		return nil, fmt.Errorf("alice: rebuild multisig script: %w", err)
	}
	lockTx := wire.NewMsgTx(2)
	if err := lockTx.Deserialize(bytes.NewReader(dto.LockTxBytes)); err != nil {
		return nil, fmt.Errorf("alice: deserialize TxLock: %w", err)
	}
	lock := &bitcoin.TxLock{Tx: lockTx, VOut: dto.LockVOut, WitnessScript: witnessScript, Amount: dto.BTCAmount}

	cancel, err := bitcoin.NewTxCancel(lock, keys.Bitcoin.Public(), bobBitcoin, dto.CancelTimelock, dto.TxCancelFee)
	if err != nil {
		return nil, fmt.Errorf("alice: rebuild TxCancel: %w", err)
	}
	cancelTx := wire.NewMsgTx(2)
	if err := cancelTx.Deserialize(bytes.NewReader(dto.CancelTxBytes)); err != nil {
		return nil, fmt.Errorf("alice: deserialize TxCancel: %w", err)
	}
	cancel.Tx = cancelTx // already finalized by the setup ceremony

	refund, err := bitcoin.NewTxRefund(cancel, dto.RefundPkScript, dto.TxRefundFee)
	if err != nil {
		return nil, fmt.Errorf("alice: rebuild TxRefund: %w", err)
	}
	if len(dto.RefundTxBytes) > 0 {
		refundTx := wire.NewMsgTx(2)
		if err := refundTx.Deserialize(bytes.NewReader(dto.RefundTxBytes)); err != nil {
			return nil, fmt.Errorf("alice: deserialize TxRefund: %w", err)
		}
		refund.Tx = refundTx
	}

	punish, err := bitcoin.NewTxPunish(cancel, dto.PunishPkScript, dto.PunishTimelock, dto.TxPunishFee)
	if err != nil {
		return nil, fmt.Errorf("alice: rebuild TxPunish: %w", err)
	}
	if len(dto.PunishTxBytes) > 0 {
		punishTx := wire.NewMsgTx(2)
		if err := punishTx.Deserialize(bytes.NewReader(dto.PunishTxBytes)); err != nil {
			return nil, fmt.Errorf("alice: deserialize TxPunish: %w", err)
		}
		punish.Tx = punishTx
	}

	redeem, err := bitcoin.NewTxRedeem(lock, dto.RedeemPkScript, dto.RedeemFee)
	if err != nil {
		return nil, fmt.Errorf("alice: rebuild TxRedeem: %w", err)
	}
	if len(dto.RedeemTxBytes) > 0 {
		redeemTx := wire.NewMsgTx(2)
		if err := redeemTx.Deserialize(bytes.NewReader(dto.RedeemTxBytes)); err != nil {
			return nil, fmt.Errorf("alice: deserialize TxRedeem: %w", err)
		}
		redeem.Tx = redeemTx
	}

	s := &Swap{
		id:     snap.SwapID,
		env:    dto.Env,
		params: params,

		keys: keys,

		bobBitcoin:      bobBitcoin,
		bobSpendMonero:  bobSpendMonero,
		bobSpendBitcoin: bobSpendBitcoin,
		bobView:         bobView,

		xmrRefundDestAddr: mcrypto.Address(dto.XmrRefundDestAddr),

		lock:   lock,
		cancel: cancel,
		refund: refund,
		punish: punish,
		redeem: redeem,

		bobPunishSig: bobPunishSig,
		bobCancelSig: bobCancelSig,
		refundEncSig: refundEncSig,
		jointAddress: mcrypto.Address(dto.JointAddress),

		state: dto.State,

		lockConfirmedHeight:   dto.LockConfirmedHeight,
		cancelConfirmedHeight: dto.CancelConfirmedHeight,
		redeemFinalized:       len(dto.RedeemTxBytes) > 0,
		punishFinalized:       len(dto.PunishTxBytes) > 0,

		encSigCh: make(chan *message.EncryptedSignature, 1),

		wallet:  w,
		xmr:     xmr,
		channel: channel,
		store:   st,
	}
	if dto.XmrTxHash != "" {
		s.xmrProof = monero.NewTransferProof(dto.XmrTxHash, dto.XmrTxKey, dto.XmrAmount)
	}
	if len(dto.BobRedeemEncSig) > 0 {
		encSig, err := secp256k1.ParseEncSig(dto.BobRedeemEncSig)
		if err != nil {
			return nil, fmt.Errorf("alice: restore bob's redeem encsig: %w", err)
		}
		s.bobRedeemEncSig = encSig
	}
	return s, nil
}

func bytesOf(b [32]byte) []byte {
	return b[:]
}
