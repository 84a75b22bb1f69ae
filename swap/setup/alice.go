package setup

import (
	"fmt"

	"github.com/athanorlabs/xmr-btc-swap/bitcoin"
	"github.com/athanorlabs/xmr-btc-swap/coins"
	"github.com/athanorlabs/xmr-btc-swap/crypto/dleq"
	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
	"github.com/athanorlabs/xmr-btc-swap/net/message"
	"github.com/athanorlabs/xmr-btc-swap/swap/errs"
)

// Handler answers one counterparty's setup ceremony from Alice's (the
// passive responder's) side (spec §4.4's message table, column "Alice").
// A transport (the future rpc package) owns the connection and calls
// HandleM0/HandleM2/HandleM4 as each message arrives; Handler carries the
// state a single swap's ceremony accumulates between those calls.
type Handler struct {
	params      Params
	keys        *KeyMaterial
	redeemAddr  string
	punishAddr  string
	txRedeemFee coins.BitcoinAmount

	bob    *peerMaterial
	lock   *bitcoin.TxLock
	cancel *bitcoin.TxCancel
	refund *bitcoin.TxRefund
	punish *bitcoin.TxPunish
	redeem *bitcoin.TxRedeem

	ownCancelSig *secp256k1.Signature
	ownPunishSig *secp256k1.Signature
	refundEncSig *secp256k1.EncSig
}

// NewHandler constructs a fresh per-swap Handler. redeemAddr/punishAddr
// are Alice's own payout addresses; txRedeemFee is the fee she is willing
// to pay on TxRedeem, carried to Bob in SetupM1.
func NewHandler(params Params, keys *KeyMaterial, redeemAddr, punishAddr string, txRedeemFee coins.BitcoinAmount) *Handler {
	return &Handler{
		params:      params,
		keys:        keys,
		redeemAddr:  redeemAddr,
		punishAddr:  punishAddr,
		txRedeemFee: txRedeemFee,
	}
}

// HandleM0 verifies Bob's opening share and returns Alice's own (spec §4.4
// SetupM1).
func (h *Handler) HandleM0(m0 *message.SetupM0) (*message.SetupM1, error) {
	if m0.SwapID != h.params.SwapID {
		return nil, fmt.Errorf("%w: swap id mismatch", errs.ErrMalformedSetup)
	}

	bob, err := verifyPeerShare(m0.B, m0.SMoneroBob, m0.SBitcoinBob, m0.DLEqProofBob, m0.VBob)
	if err != nil {
		return nil, err
	}
	refundScript, err := bitcoin.AddressScript(m0.RefundAddress, chainParams(h.params.Env))
	if err != nil {
		return nil, fmt.Errorf("swap/setup: bob's refund address: %w", err)
	}
	bob.refundScript = refundScript
	h.bob = bob

	proof := dleq.NewProofWithoutSecret(h.keys.Proof)

	return &message.SetupM1{
		SwapID:         h.params.SwapID,
		A:              h.keys.Bitcoin.Public().SerializeCompressed(),
		SMoneroAlice:   bytesOf(h.keys.SpendShareEd.Public().Bytes()),
		SBitcoinAlice:  h.keys.SpendShareSecp.Public().SerializeCompressed(),
		DLEqProofAlice: proof.Marshal(),
		VAlice:         bytesOf(h.keys.ViewShare.Bytes()),
		RedeemAddress:  h.redeemAddr,
		PunishAddress:  h.punishAddr,
		TxRedeemFee:    h.txRedeemFee,
	}, nil
}

// HandleM2 receives Bob's funded TxLock PSBT, builds the rest of the
// transaction chain, and returns Alice's cooperative TxCancel signature
// plus her adaptor encsig on TxRefund (spec §4.4 SetupM3).
func (h *Handler) HandleM2(m2 *message.SetupM2) (*message.SetupM3, error) {
	if h.bob == nil {
		return nil, fmt.Errorf("%w: M2 received before M0", errs.ErrUnexpectedRequest)
	}
	if m2.SwapID != h.params.SwapID {
		return nil, fmt.Errorf("%w: swap id mismatch", errs.ErrMalformedSetup)
	}

	lock, err := bitcoin.NewTxLockFromPSBT(m2.PSBT, h.keys.Bitcoin.Public(), h.bob.Bitcoin, h.params.BTCAmount)
	if err != nil {
		return nil, fmt.Errorf("swap/setup: parse funded TxLock: %w", err)
	}
	h.lock = lock

	params := chainParams(h.params.Env)

	cancel, err := bitcoin.NewTxCancel(lock, h.keys.Bitcoin.Public(), h.bob.Bitcoin, h.params.CancelTimelock, h.params.TxCancelFee)
	if err != nil {
		return nil, fmt.Errorf("swap/setup: build TxCancel: %w", err)
	}
	h.cancel = cancel

	refund, err := bitcoin.NewTxRefund(cancel, h.bob.refundScript, h.params.TxRefundFee)
	if err != nil {
		return nil, fmt.Errorf("swap/setup: build TxRefund: %w", err)
	}
	h.refund = refund

	cancelSig, err := cancel.Sign(h.keys.Bitcoin)
	if err != nil {
		return nil, err
	}
	h.ownCancelSig = cancelSig

	refundEncSig, err := refund.EncryptSign(h.keys.Bitcoin, h.bob.SpendBitcoin)
	if err != nil {
		return nil, fmt.Errorf("swap/setup: encrypt-sign TxRefund: %w", err)
	}
	h.refundEncSig = refundEncSig

	redeemScript, err := bitcoin.AddressScript(h.redeemAddr, params)
	if err != nil {
		return nil, fmt.Errorf("swap/setup: redeem address: %w", err)
	}
	redeem, err := bitcoin.NewTxRedeem(lock, redeemScript, h.txRedeemFee)
	if err != nil {
		return nil, fmt.Errorf("swap/setup: build TxRedeem: %w", err)
	}
	h.redeem = redeem

	punishScript, err := bitcoin.AddressScript(h.punishAddr, params)
	if err != nil {
		return nil, fmt.Errorf("swap/setup: punish address: %w", err)
	}
	punish, err := bitcoin.NewTxPunish(cancel, punishScript, h.params.PunishTimelock, h.params.TxPunishFee)
	if err != nil {
		return nil, fmt.Errorf("swap/setup: build TxPunish: %w", err)
	}
	h.punish = punish

	punishSig, err := punish.Sign(h.keys.Bitcoin)
	if err != nil {
		return nil, err
	}
	h.ownPunishSig = punishSig

	return &message.SetupM3{
		SwapID:       h.params.SwapID,
		CancelSig:    cancelSig.Serialize(),
		RefundEncSig: refundEncSig.Serialize(),
	}, nil
}

// HandleM4 receives Bob's TxPunish/TxCancel signatures, finalizes
// TxCancel, and returns the closing SetupAck together with the completed
// AliceResult for the swap state machine.
func (h *Handler) HandleM4(m4 *message.SetupM4) (*message.SetupAck, *AliceResult, error) {
	if h.punish == nil {
		return nil, nil, fmt.Errorf("%w: M4 received before M2", errs.ErrUnexpectedRequest)
	}
	if m4.SwapID != h.params.SwapID {
		return nil, nil, fmt.Errorf("%w: swap id mismatch", errs.ErrMalformedSetup)
	}

	bobCancelSig, err := secp256k1.ParseSignature(m4.CancelSig)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: cancel sig: %s", errs.ErrMalformedSetup, err)
	}
	bobPunishSig, err := secp256k1.ParseSignature(m4.PunishSig)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: punish sig: %s", errs.ErrMalformedSetup, err)
	}

	cancelHash, err := h.cancel.Sighash()
	if err != nil {
		return nil, nil, err
	}
	if !secp256k1.Verify(h.bob.Bitcoin, cancelHash, bobCancelSig) {
		return nil, nil, fmt.Errorf("%w: bob's TxCancel signature", errs.ErrEncSigInvalid)
	}

	punishHash, err := h.punish.Sighash()
	if err != nil {
		return nil, nil, err
	}
	if !secp256k1.Verify(h.bob.Bitcoin, punishHash, bobPunishSig) {
		return nil, nil, fmt.Errorf("%w: bob's TxPunish signature", errs.ErrEncSigInvalid)
	}

	if err := h.cancel.AddSignatures(h.keys.Bitcoin.Public(), h.bob.Bitcoin, h.ownCancelSig, bobCancelSig); err != nil {
		return nil, nil, fmt.Errorf("swap/setup: finalize TxCancel: %w", err)
	}
	if err := h.punish.AddSignatures(h.keys.Bitcoin.Public(), h.bob.Bitcoin, h.ownPunishSig, bobPunishSig); err != nil {
		return nil, nil, fmt.Errorf("swap/setup: finalize TxPunish: %w", err)
	}

	joint := jointAddress(h.params.Env, h.keys.SpendShareEd, h.keys.ViewShare, h.bob.SpendMonero, h.bob.View)

	result := &AliceResult{
		Keys:         h.keys,
		Bob:          h.bob,
		Lock:         h.lock,
		Cancel:       h.cancel,
		Refund:       h.refund,
		Punish:       h.punish,
		Redeem:       h.redeem,
		BobPunishSig: bobPunishSig,
		BobCancelSig: bobCancelSig,
		RefundEncSig: h.refundEncSig,
		JointAddress: joint,
	}

	return &message.SetupAck{SwapID: h.params.SwapID}, result, nil
}
