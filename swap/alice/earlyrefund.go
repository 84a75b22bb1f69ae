package alice

import (
	"context"
	"fmt"

	"github.com/athanorlabs/xmr-btc-swap/bitcoin"
	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
	"github.com/athanorlabs/xmr-btc-swap/swap/errs"
)

// EarlyRefund asks Bob to consent to unwinding TxLock immediately rather
// than waiting out the full cancel timelock (spec §4.5
// "BtcLockTransactionSeen -> BtcEarlyRefunded", gated by explicit consent
// from both parties -- an optional extension, not part of Run's automatic
// loop, invoked manually once Alice has decided she cannot lock Monero).
// Idempotent: already early-refunded is treated as success.
func (s *Swap) EarlyRefund(ctx context.Context) (State, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == StateBtcEarlyRefunded {
		return state, nil
	}
	if state != StateBtcLockTransactionSeen {
		return state, fmt.Errorf("%w: early_refund requires BtcLockTransactionSeen, have %s", errs.ErrImpossibleTransition, state)
	}

	resp, err := s.channel.RequestEarlyRefund(ctx, s.id)
	if err != nil {
		return state, fmt.Errorf("alice: request early refund: %w", err)
	}
	if !resp.Consent {
		return state, fmt.Errorf("%w: bob refused early refund", errs.ErrPeerRejected)
	}

	earlyRefund, err := bitcoin.NewTxEarlyRefund(s.lock, s.refund.Tx.TxOut[0].PkScript, s.params.TxRefundFee)
	if err != nil {
		return state, fmt.Errorf("alice: build early refund: %w", err)
	}

	bobSig, err := secp256k1.ParseSignature(resp.Sig)
	if err != nil {
		return state, fmt.Errorf("alice: parse bob's early refund signature: %w", err)
	}
	aliceSig, err := earlyRefund.Sign(s.keys.Bitcoin)
	if err != nil {
		return state, fmt.Errorf("alice: sign early refund: %w", err)
	}
	if err := earlyRefund.AddSignatures(s.keys.Bitcoin.Public(), s.bobBitcoin, aliceSig, bobSig); err != nil {
		return state, fmt.Errorf("alice: finalize early refund: %w", err)
	}

	txid := earlyRefund.Tx.TxHash()
	seen, err := s.wallet.IsInMempoolOrChain(ctx, txid)
	if err != nil {
		return state, fmt.Errorf("alice: check early refund: %w", err)
	}
	if !seen {
		if _, err := s.wallet.Broadcast(ctx, earlyRefund.Tx); err != nil {
			return state, fmt.Errorf("alice: broadcast early refund: %w", err)
		}
	}
	if err := s.wallet.WaitForConfirmations(ctx, txid, s.netParams().BTCFinalityConfirmations); err != nil {
		return state, fmt.Errorf("alice: wait for early refund finality: %w", err)
	}

	s.mu.Lock()
	s.state = StateBtcEarlyRefunded
	s.mu.Unlock()
	if err := s.Persist(); err != nil {
		return StateBtcEarlyRefunded, fmt.Errorf("alice: persist: %w", err)
	}
	return StateBtcEarlyRefunded, nil
}
