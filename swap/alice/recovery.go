package alice

import (
	"context"
	"fmt"

	"github.com/athanorlabs/xmr-btc-swap/bitcoin"
	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
	"github.com/athanorlabs/xmr-btc-swap/swap/errs"
)

// Cancel broadcasts TxCancel out-of-band from Run (spec §4.7 "cancel: any
// post-lock non-terminal -> broadcast TxCancel (if ExpiredTimelocks >=
// Cancel or force) -> BtcCancelled"). Idempotent: already mined is treated
// as success.
func (s *Swap) Cancel(ctx context.Context, force bool) (State, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state.IsTerminal() {
		return state, fmt.Errorf("%w: swap is already %s", errs.ErrAlreadyTerminal, state)
	}
	switch state {
	case StateStarted, StateBtcLockTransactionSeen:
		return state, fmt.Errorf("%w: TxLock not yet finalized on chain", errs.ErrImpossibleTransition)
	case StateBtcCancelled, StateBtcPunishable:
		return state, nil // already past cancel, idempotent success
	}

	txid := s.cancel.Tx.TxHash()
	seen, err := s.wallet.IsInMempoolOrChain(ctx, txid)
	if err != nil {
		return state, fmt.Errorf("alice: check TxCancel: %w", err)
	}
	if !seen {
		if !force {
			remaining, err := s.blocksUntilCancel(ctx)
			if err != nil {
				return state, fmt.Errorf("alice: check cancel timelock: %w", err)
			}
			if remaining > 0 {
				return state, fmt.Errorf("%w: %d blocks remaining", errs.ErrCancelTimelockNotExpired, remaining)
			}
		}
		if _, err := s.wallet.Broadcast(ctx, s.cancel.Tx); err != nil {
			return state, fmt.Errorf("alice: broadcast TxCancel: %w", err)
		}
	}
	if err := s.wallet.WaitForConfirmations(ctx, txid, s.netParams().BTCFinalityConfirmations); err != nil {
		return state, fmt.Errorf("alice: wait for TxCancel finality: %w", err)
	}

	height, err := s.wallet.BlockHeight(ctx)
	if err != nil {
		return state, fmt.Errorf("alice: read block height: %w", err)
	}

	s.mu.Lock()
	s.cancelConfirmedHeight = height
	s.state = StateBtcCancelled
	s.mu.Unlock()
	if err := s.Persist(); err != nil {
		return StateBtcCancelled, fmt.Errorf("alice: persist: %w", err)
	}
	return StateBtcCancelled, nil
}

// Refund observes Bob's completed TxRefund, recovers his Monero secret
// share via adaptor recovery, and sweeps the reconstructed joint wallet
// back to Alice (spec §4.7 "refund: BtcCancelled -> broadcast TxRefund ->
// BtcRefunded"; spec §4.5 "BtcCancelled -> BtcRefunded -> XmrRefunded").
// Unlike Bob's Refund, Alice never broadcasts TxRefund herself -- only
// Bob holds a signing key over it -- so this only ever observes and
// reacts. Idempotent: already swept is treated as success.
func (s *Swap) Refund(ctx context.Context) (State, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == StateXmrRefunded {
		return state, nil
	}
	if state.IsTerminal() {
		return state, fmt.Errorf("%w: swap is already %s", errs.ErrAlreadyTerminal, state)
	}
	if state != StateBtcCancelled && state != StateBtcRefunded {
		return state, fmt.Errorf("%w: refund requires BtcCancelled, have %s", errs.ErrImpossibleTransition, state)
	}

	refundTxid := s.refund.Tx.TxHash()
	seen, err := s.wallet.IsInMempoolOrChain(ctx, refundTxid)
	if err != nil {
		return state, fmt.Errorf("alice: check TxRefund: %w", err)
	}
	if !seen {
		return state, fmt.Errorf("%w: bob has not broadcast TxRefund yet", errs.ErrImpossibleTransition)
	}

	if state != StateBtcRefunded {
		if err := s.wallet.WaitForConfirmations(ctx, refundTxid, s.netParams().BTCFinalityConfirmations); err != nil {
			return state, fmt.Errorf("alice: wait for TxRefund finality: %w", err)
		}

		mined, err := s.wallet.FetchTransaction(ctx, refundTxid)
		if err != nil {
			return state, fmt.Errorf("alice: fetch mined TxRefund: %w", err)
		}
		if len(mined.TxIn) == 0 {
			return state, fmt.Errorf("alice: mined TxRefund has no inputs")
		}

		s.mu.Lock()
		aliceEncSig := s.refundEncSig
		s.mu.Unlock()
		aliceSigBytes, err := bitcoin.ExtractSignature(mined.TxIn[0].Witness, s.keys.Bitcoin.Public(), s.keys.Bitcoin.Public(), s.bobBitcoin)
		if err != nil {
			return state, fmt.Errorf("alice: extract alice's completed refund signature: %w", err)
		}
		aliceSig, err := secp256k1.ParseSignature(aliceSigBytes)
		if err != nil {
			return state, fmt.Errorf("alice: parse alice's completed refund signature: %w", err)
		}

		sB, err := secp256k1.Recover(s.bobSpendBitcoin, aliceEncSig, aliceSig)
		if err != nil {
			return state, fmt.Errorf("alice: recover bob's monero secret share: %w", err)
		}

		s.mu.Lock()
		s.refund.Tx = mined
		s.state = StateBtcRefunded
		s.mu.Unlock()
		if err := s.Persist(); err != nil {
			return StateBtcRefunded, fmt.Errorf("alice: persist: %w", err)
		}

		if err := s.sweepMoneroRefund(ctx, sB); err != nil {
			return StateBtcRefunded, fmt.Errorf("alice: sweep monero refund: %w", err)
		}
	}

	s.mu.Lock()
	s.state = StateXmrRefunded
	s.mu.Unlock()
	if err := s.Persist(); err != nil {
		return StateXmrRefunded, fmt.Errorf("alice: persist: %w", err)
	}
	return StateXmrRefunded, nil
}

// Redeem broadcasts (or awaits finality of) TxRedeem out-of-band from Run
// (spec §4.7 "redeem (Alice): EncSigLearned or BtcRedeemTransactionPublished
// -> broadcast/await -> BtcRedeemed. Refuses if any timelock expired unless
// force."). Idempotent: already redeemed is treated as success.
func (s *Swap) Redeem(ctx context.Context, force bool) (State, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == StateBtcRedeemed {
		return state, nil
	}
	if state.IsTerminal() {
		return state, fmt.Errorf("%w: swap is already %s", errs.ErrAlreadyTerminal, state)
	}
	if state != StateEncSigLearned && state != StateBtcRedeemTransactionPublished {
		return state, fmt.Errorf("%w: redeem requires EncSigLearned or BtcRedeemTransactionPublished, have %s", errs.ErrImpossibleTransition, state)
	}

	if !force {
		remaining, err := s.blocksUntilCancel(ctx)
		if err == nil && remaining <= 0 {
			return state, fmt.Errorf("%w: cancel timelock already expired", errs.ErrCancelTimelockExpired)
		}
	}

	if state == StateEncSigLearned {
		s.mu.Lock()
		bobEncSig := s.bobRedeemEncSig
		s.mu.Unlock()

		bobSig := secp256k1.Decrypt(bobEncSig, s.keys.SpendShareSecp)
		aliceSig, err := s.redeem.Sign(s.keys.Bitcoin)
		if err != nil {
			return state, fmt.Errorf("alice: sign TxRedeem: %w", err)
		}
		if err := s.redeem.AddSignatures(s.keys.Bitcoin.Public(), s.bobBitcoin, aliceSig, bobSig); err != nil {
			return state, fmt.Errorf("alice: finalize TxRedeem: %w", err)
		}

		s.mu.Lock()
		s.redeemFinalized = true
		s.state = StateBtcRedeemTransactionPublished
		s.mu.Unlock()
		if err := s.Persist(); err != nil {
			return state, fmt.Errorf("alice: persist finalized TxRedeem before broadcast: %w", err)
		}
	}

	txid := s.redeem.Tx.TxHash()
	seen, err := s.wallet.IsInMempoolOrChain(ctx, txid)
	if err != nil {
		return state, fmt.Errorf("alice: check TxRedeem: %w", err)
	}
	if !seen {
		if _, err := s.wallet.Broadcast(ctx, s.redeem.Tx); err != nil {
			return state, fmt.Errorf("alice: broadcast TxRedeem: %w", err)
		}
	}
	if err := s.wallet.WaitForConfirmations(ctx, txid, s.netParams().BTCFinalityConfirmations); err != nil {
		return state, fmt.Errorf("alice: wait for TxRedeem finality: %w", err)
	}

	s.mu.Lock()
	s.state = StateBtcRedeemed
	s.mu.Unlock()
	if err := s.Persist(); err != nil {
		return StateBtcRedeemed, fmt.Errorf("alice: persist: %w", err)
	}
	return StateBtcRedeemed, nil
}

// Punish broadcasts TxPunish out-of-band from Run (spec §4.7 "punish
// (Alice): cancel-on-chain AND punish-timelock expired -> broadcast
// TxPunish -> BtcPunished"). Idempotent: already mined is treated as
// success.
func (s *Swap) Punish(ctx context.Context) (State, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == StateBtcPunished {
		return state, nil
	}
	if state.IsTerminal() {
		return state, fmt.Errorf("%w: swap is already %s", errs.ErrAlreadyTerminal, state)
	}
	if state != StateBtcCancelled && state != StateBtcPunishable {
		return state, fmt.Errorf("%w: punish requires BtcCancelled or BtcPunishable, have %s", errs.ErrImpossibleTransition, state)
	}

	remaining, err := s.blocksUntilPunish(ctx)
	if err != nil {
		return state, fmt.Errorf("alice: check punish timelock: %w", err)
	}
	if remaining > 0 {
		return state, fmt.Errorf("%w: %d blocks remaining", errs.ErrPunishTimelockNotExpired, remaining)
	}

	s.mu.Lock()
	alreadyFinalized := s.punishFinalized
	s.mu.Unlock()

	if !alreadyFinalized {
		aliceSig, err := s.punish.Sign(s.keys.Bitcoin)
		if err != nil {
			return state, fmt.Errorf("alice: sign TxPunish: %w", err)
		}
		if err := s.punish.AddSignatures(s.keys.Bitcoin.Public(), s.bobBitcoin, aliceSig, s.bobPunishSig); err != nil {
			return state, fmt.Errorf("alice: finalize TxPunish: %w", err)
		}
		s.mu.Lock()
		s.punishFinalized = true
		s.mu.Unlock()
		if err := s.Persist(); err != nil {
			return state, fmt.Errorf("alice: persist finalized TxPunish before broadcast: %w", err)
		}
	}

	txid := s.punish.Tx.TxHash()
	seen, err := s.wallet.IsInMempoolOrChain(ctx, txid)
	if err != nil {
		return state, fmt.Errorf("alice: check TxPunish: %w", err)
	}
	if !seen {
		if _, err := s.wallet.Broadcast(ctx, s.punish.Tx); err != nil {
			return state, fmt.Errorf("alice: broadcast TxPunish: %w", err)
		}
	}
	if err := s.wallet.WaitForConfirmations(ctx, txid, s.netParams().BTCFinalityConfirmations); err != nil {
		return state, fmt.Errorf("alice: wait for TxPunish finality: %w", err)
	}

	s.mu.Lock()
	s.state = StateBtcPunished
	s.mu.Unlock()
	if err := s.Persist(); err != nil {
		return StateBtcPunished, fmt.Errorf("alice: persist: %w", err)
	}
	return StateBtcPunished, nil
}

// SafelyAbort gives up on the swap before Alice has locked any Monero
// (spec §4.5 "Started|...|BtcLocked -> SafelyAborted", §4.7 "safely_abort:
// only pre-XMR-lock states").
func (s *Swap) SafelyAbort(ctx context.Context) (State, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == StateSafelyAborted {
		return state, nil
	}
	switch state {
	case StateStarted, StateBtcLockTransactionSeen, StateBtcLocked:
	default:
		return state, fmt.Errorf("%w: safely_abort requires a pre-XMR-lock state, have %s", errs.ErrImpossibleTransition, state)
	}

	s.mu.Lock()
	s.state = StateSafelyAborted
	s.mu.Unlock()
	if err := s.Persist(); err != nil {
		return StateSafelyAborted, fmt.Errorf("alice: persist: %w", err)
	}
	return StateSafelyAborted, nil
}
