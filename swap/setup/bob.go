package setup

import (
	"context"
	"fmt"

	"github.com/athanorlabs/xmr-btc-swap/bitcoin"
	"github.com/athanorlabs/xmr-btc-swap/crypto/dleq"
	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
	xmrnet "github.com/athanorlabs/xmr-btc-swap/net"
	"github.com/athanorlabs/xmr-btc-swap/net/message"
	"github.com/athanorlabs/xmr-btc-swap/swap/errs"
	"github.com/athanorlabs/xmr-btc-swap/swap/wallet"
)

// RunBob drives the full M0->M4 ceremony from Bob's (the initiator's)
// side, one RunSetup round trip per step (spec §4.4 table). refundAddr is
// where TxRefund pays Bob back if the swap cancels.
func RunBob(
	ctx context.Context,
	channel xmrnet.PeerChannel,
	w wallet.BitcoinWallet,
	params Params,
	keys *KeyMaterial,
	refundAddr string,
) (*BobResult, error) {
	proof := dleq.NewProofWithoutSecret(keys.Proof)

	m0 := &message.SetupM0{
		SwapID:        params.SwapID,
		B:             keys.Bitcoin.Public().SerializeCompressed(),
		SMoneroBob:    bytesOf(keys.SpendShareEd.Public().Bytes()),
		SBitcoinBob:   keys.SpendShareSecp.Public().SerializeCompressed(),
		DLEqProofBob:  proof.Marshal(),
		VBob:          bytesOf(keys.ViewShare.Bytes()),
		RefundAddress: refundAddr,
	}

	reply, err := channel.RunSetup(ctx, m0)
	if err != nil {
		return nil, fmt.Errorf("swap/setup: send M0: %w", err)
	}
	m1, ok := reply.(*message.SetupM1)
	if !ok {
		return nil, fmt.Errorf("%w: expected SetupM1, got %s", errs.ErrUnexpectedResponse, reply.Type())
	}

	alice, err := verifyPeerShare(m1.A, m1.SMoneroAlice, m1.SBitcoinAlice, m1.DLEqProofAlice, m1.VAlice)
	if err != nil {
		return nil, err
	}

	netParams := chainParams(params.Env)

	witnessScript, err := bitcoin.MultisigWitnessScript(alice.Bitcoin, keys.Bitcoin.Public())
	if err != nil {
		return nil, fmt.Errorf("swap/setup: build multisig script: %w", err)
	}

	psbtBytes, err := w.FundLockTx(ctx, witnessScript, params.BTCAmount, params.TxLockFee)
	if err != nil {
		return nil, fmt.Errorf("swap/setup: fund TxLock: %w", err)
	}

	lock, err := bitcoin.NewTxLockFromPSBT(psbtBytes, alice.Bitcoin, keys.Bitcoin.Public(), params.BTCAmount)
	if err != nil {
		return nil, fmt.Errorf("swap/setup: parse funded TxLock: %w", err)
	}

	reply, err = channel.RunSetup(ctx, &message.SetupM2{SwapID: params.SwapID, PSBT: psbtBytes})
	if err != nil {
		return nil, fmt.Errorf("swap/setup: send M2: %w", err)
	}
	m3, ok := reply.(*message.SetupM3)
	if !ok {
		return nil, fmt.Errorf("%w: expected SetupM3, got %s", errs.ErrUnexpectedResponse, reply.Type())
	}

	cancel, err := bitcoin.NewTxCancel(lock, alice.Bitcoin, keys.Bitcoin.Public(), params.CancelTimelock, params.TxCancelFee)
	if err != nil {
		return nil, fmt.Errorf("swap/setup: build TxCancel: %w", err)
	}

	aliceCancelSig, err := secp256k1.ParseSignature(m3.CancelSig)
	if err != nil {
		return nil, fmt.Errorf("%w: cancel sig: %s", errs.ErrMalformedSetup, err)
	}
	cancelHash, err := cancel.Sighash()
	if err != nil {
		return nil, err
	}
	if !secp256k1.Verify(alice.Bitcoin, cancelHash, aliceCancelSig) {
		return nil, fmt.Errorf("%w: alice's TxCancel signature", errs.ErrEncSigInvalid)
	}

	refundScript, err := bitcoin.AddressScript(refundAddr, netParams)
	if err != nil {
		return nil, fmt.Errorf("swap/setup: refund address: %w", err)
	}
	refund, err := bitcoin.NewTxRefund(cancel, refundScript, params.TxRefundFee)
	if err != nil {
		return nil, fmt.Errorf("swap/setup: build TxRefund: %w", err)
	}

	refundEncSig, err := secp256k1.ParseEncSig(m3.RefundEncSig)
	if err != nil {
		return nil, fmt.Errorf("%w: refund encsig: %s", errs.ErrMalformedSetup, err)
	}
	if !refund.VerifyEncSig(alice.Bitcoin, keys.SpendShareSecp.Public(), refundEncSig) {
		return nil, fmt.Errorf("%w: alice's TxRefund adaptor signature", errs.ErrEncSigInvalid)
	}

	redeemScript, err := bitcoin.AddressScript(m1.RedeemAddress, netParams)
	if err != nil {
		return nil, fmt.Errorf("swap/setup: redeem address: %w", err)
	}
	redeem, err := bitcoin.NewTxRedeem(lock, redeemScript, m1.TxRedeemFee)
	if err != nil {
		return nil, fmt.Errorf("swap/setup: build TxRedeem: %w", err)
	}

	punishScript, err := bitcoin.AddressScript(m1.PunishAddress, netParams)
	if err != nil {
		return nil, fmt.Errorf("swap/setup: punish address: %w", err)
	}
	punish, err := bitcoin.NewTxPunish(cancel, punishScript, params.PunishTimelock, params.TxPunishFee)
	if err != nil {
		return nil, fmt.Errorf("swap/setup: build TxPunish: %w", err)
	}

	bobCancelSig, err := cancel.Sign(keys.Bitcoin)
	if err != nil {
		return nil, err
	}
	if err := cancel.AddSignatures(alice.Bitcoin, keys.Bitcoin.Public(), aliceCancelSig, bobCancelSig); err != nil {
		return nil, fmt.Errorf("swap/setup: finalize TxCancel: %w", err)
	}

	bobPunishSig, err := punish.Sign(keys.Bitcoin)
	if err != nil {
		return nil, err
	}

	reply, err = channel.RunSetup(ctx, &message.SetupM4{
		SwapID:    params.SwapID,
		PunishSig: bobPunishSig.Serialize(),
		CancelSig: bobCancelSig.Serialize(),
	})
	if err != nil {
		return nil, fmt.Errorf("swap/setup: send M4: %w", err)
	}
	if _, ok := reply.(*message.SetupAck); !ok {
		return nil, fmt.Errorf("%w: expected SetupAck, got %s", errs.ErrUnexpectedResponse, reply.Type())
	}

	joint := jointAddress(params.Env, keys.SpendShareEd, keys.ViewShare, alice.SpendMonero, alice.View)

	return &BobResult{
		Keys:         keys,
		Alice:        alice,
		Lock:         lock,
		Cancel:       cancel,
		Refund:       refund,
		Punish:       punish,
		Redeem:       redeem,
		RefundEncSig: refundEncSig,
		JointAddress: joint,

		AliceRedeemAddress: m1.RedeemAddress,
		AlicePunishAddress: m1.PunishAddress,
		TxRedeemFee:        m1.TxRedeemFee,
	}, nil
}

func bytesOf(b [32]byte) []byte {
	return b[:]
}
