package bob

import (
	"context"
	"fmt"

	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
	"github.com/athanorlabs/xmr-btc-swap/swap/errs"
)

// Cancel broadcasts TxCancel out-of-band from Run (spec §4.7 "cancel: any
// post-lock non-terminal -> broadcast TxCancel (if ExpiredTimelocks >=
// Cancel or force) -> BtcCancelled"). It is idempotent: if TxCancel is
// already on chain, this just fast-forwards the persisted state and
// returns success rather than re-broadcasting.
func (s *Swap) Cancel(ctx context.Context, force bool) (State, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state.IsTerminal() {
		return state, fmt.Errorf("%w: swap is already %s", errs.ErrAlreadyTerminal, state)
	}
	if state == StateStarted {
		return state, fmt.Errorf("%w: TxLock not yet broadcast", errs.ErrImpossibleTransition)
	}
	if state == StateBtcCancelled {
		return state, nil // already done, idempotent success
	}

	txid := s.cancel.Tx.TxHash()
	seen, err := s.wallet.IsInMempoolOrChain(ctx, txid)
	if err != nil {
		return state, fmt.Errorf("bob: check TxCancel: %w", err)
	}
	if !seen {
		if !force {
			remaining, err := s.blocksUntilCancel(ctx)
			if err != nil {
				return state, fmt.Errorf("bob: check cancel timelock: %w", err)
			}
			if remaining > 0 {
				return state, fmt.Errorf("%w: %d blocks remaining", errs.ErrCancelTimelockNotExpired, remaining)
			}
		}
		if _, err := s.wallet.Broadcast(ctx, s.cancel.Tx); err != nil {
			return state, fmt.Errorf("bob: broadcast TxCancel: %w", err)
		}
	}
	if err := s.wallet.WaitForConfirmations(ctx, txid, s.netParams().BTCFinalityConfirmations); err != nil {
		return state, fmt.Errorf("bob: wait for TxCancel finality: %w", err)
	}

	height, err := s.wallet.BlockHeight(ctx)
	if err != nil {
		return state, fmt.Errorf("bob: read block height: %w", err)
	}

	s.mu.Lock()
	s.cancelConfirmedHeight = height
	s.state = StateBtcCancelled
	s.mu.Unlock()

	if err := s.Persist(); err != nil {
		return StateBtcCancelled, fmt.Errorf("bob: persist: %w", err)
	}
	return StateBtcCancelled, nil
}

// Refund broadcasts TxRefund out-of-band from Run (spec §4.7 "refund:
// BtcCancelled -> broadcast TxRefund -> BtcRefunded"). Idempotent: already
// broadcast or mined is treated as success.
func (s *Swap) Refund(ctx context.Context) (State, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == StateBtcRefunded {
		return state, nil
	}
	if state.IsTerminal() {
		return state, fmt.Errorf("%w: swap is already %s", errs.ErrAlreadyTerminal, state)
	}
	if state != StateBtcCancelled {
		return state, fmt.Errorf("%w: refund requires BtcCancelled, have %s", errs.ErrImpossibleTransition, state)
	}

	s.mu.Lock()
	alreadyFinalized := s.refundFinalized
	s.mu.Unlock()

	if !alreadyFinalized {
		bobSig, err := s.refund.Sign(s.keys.Bitcoin)
		if err != nil {
			return state, fmt.Errorf("bob: sign TxRefund: %w", err)
		}
		aliceSig := secp256k1.Decrypt(s.refundEncSig, s.keys.SpendShareSecp)
		if err := s.refund.AddSignatures(s.aliceBitcoin, s.keys.Bitcoin.Public(), aliceSig, bobSig); err != nil {
			return state, fmt.Errorf("bob: finalize TxRefund: %w", err)
		}
		s.mu.Lock()
		s.refundFinalized = true
		s.mu.Unlock()
		if err := s.Persist(); err != nil {
			return state, fmt.Errorf("bob: persist finalized TxRefund before broadcast: %w", err)
		}
	}

	txid := s.refund.Tx.TxHash()
	seen, err := s.wallet.IsInMempoolOrChain(ctx, txid)
	if err != nil {
		return state, fmt.Errorf("bob: check TxRefund: %w", err)
	}
	if !seen {
		if _, err := s.wallet.Broadcast(ctx, s.refund.Tx); err != nil {
			return state, fmt.Errorf("bob: broadcast TxRefund: %w", err)
		}
	}
	if err := s.wallet.WaitForConfirmations(ctx, txid, s.netParams().BTCFinalityConfirmations); err != nil {
		return state, fmt.Errorf("bob: wait for TxRefund finality: %w", err)
	}

	s.mu.Lock()
	s.state = StateBtcRefunded
	s.mu.Unlock()
	if err := s.Persist(); err != nil {
		return StateBtcRefunded, fmt.Errorf("bob: persist: %w", err)
	}
	return StateBtcRefunded, nil
}

// SafelyAbort gives up on the swap before any value-bearing action has
// been taken (spec §4.6 "Started -> SafelyAborted", §4.7 "safely_abort:
// only pre-XMR-lock states"). Bob never locks Monero, so the only unsafe
// window is after TxLock has actually been broadcast; once it has,
// SafelyAbort refuses and the swap must instead run its cancel/refund
// path to get Bob's own BTC back.
func (s *Swap) SafelyAbort(ctx context.Context) (State, error) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if state == StateSafelyAborted {
		return state, nil
	}
	if state != StateStarted && state != StateSwapSetupCompleted {
		return state, fmt.Errorf("%w: safely_abort requires a pre-lock state, have %s", errs.ErrImpossibleTransition, state)
	}

	txid := s.lock.Tx.TxHash()
	seen, err := s.wallet.IsInMempoolOrChain(ctx, txid)
	if err != nil {
		return state, fmt.Errorf("bob: check TxLock: %w", err)
	}
	if seen {
		return state, fmt.Errorf("%w: TxLock already broadcast, use cancel/refund instead", errs.ErrImpossibleTransition)
	}

	s.mu.Lock()
	s.state = StateSafelyAborted
	s.mu.Unlock()
	if err := s.Persist(); err != nil {
		return StateSafelyAborted, fmt.Errorf("bob: persist: %w", err)
	}
	return StateSafelyAborted, nil
}
