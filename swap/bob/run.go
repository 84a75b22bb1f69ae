package bob

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/athanorlabs/xmr-btc-swap/bitcoin"
	"github.com/athanorlabs/xmr-btc-swap/common"
	mcrypto "github.com/athanorlabs/xmr-btc-swap/crypto/monero"
	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
	"github.com/athanorlabs/xmr-btc-swap/monero"
	"github.com/athanorlabs/xmr-btc-swap/net/message"
)

// pollInterval is how often Run re-checks chain state while waiting on a
// confirmation or timelock (matches monero.WatchTransfer's cadence).
const pollInterval = 5 * time.Second

// Run drives the swap from its current state to a terminal one (spec §4.6,
// §5 "single-threaded cooperative driver"). It resumes correctly from any
// persisted state, including one loaded via Restore after a restart.
func (s *Swap) Run(ctx context.Context) error {
	for {
		state := s.State()
		if state.IsTerminal() {
			return nil
		}

		log.Infof("swap %s: entering state %s", s.id, state)

		var err error
		switch state {
		case StateSwapSetupCompleted:
			err = s.advanceSwapSetupCompleted(ctx)
		case StateBtcLocked:
			err = s.advanceBtcLocked(ctx)
		case StateXmrLockProofReceived:
			err = s.advanceXmrLockProofReceived(ctx)
		case StateXmrLocked:
			err = s.advanceXmrLocked(ctx)
		case StateEncSigSent:
			err = s.advanceEncSigSent(ctx)
		case StateCancelTimelockExpired:
			err = s.advanceCancelTimelockExpired(ctx)
		case StateBtcCancelled:
			err = s.advanceBtcCancelled(ctx)
		default:
			return fmt.Errorf("bob: no transition defined from state %s", state)
		}
		if err != nil {
			return fmt.Errorf("bob: swap %s: %w", s.id, err)
		}
		if err := s.Persist(); err != nil {
			return fmt.Errorf("bob: swap %s: persist: %w", s.id, err)
		}
	}
}

func (s *Swap) netParams() common.NetworkParams {
	return common.ParamsFor(s.env)
}

// blocksUntilCancel reports how many blocks remain before TxCancel becomes
// spendable (spec §3 "remaining_blocks_until_cancel"). A non-positive
// result means the cancel timelock has already expired.
func (s *Swap) blocksUntilCancel(ctx context.Context) (int64, error) {
	return s.wallet.BlocksUntilSequenceSpendable(ctx, s.lockConfirmedHeight, s.params.CancelTimelock)
}

// advanceSwapSetupCompleted broadcasts TxLock and waits for it to reach
// finality (spec §4.6 "SwapSetupCompleted -> BtcLocked").
func (s *Swap) advanceSwapSetupCompleted(ctx context.Context) error {
	txid := s.lock.Tx.TxHash()

	seen, err := s.wallet.IsInMempoolOrChain(ctx, txid)
	if err != nil {
		return fmt.Errorf("check TxLock: %w", err)
	}
	if !seen {
		if _, err := s.wallet.Broadcast(ctx, s.lock.Tx); err != nil {
			return fmt.Errorf("broadcast TxLock: %w", err)
		}
	}

	if err := s.wallet.WaitForConfirmations(ctx, txid, s.netParams().BTCFinalityConfirmations); err != nil {
		return fmt.Errorf("wait for TxLock finality: %w", err)
	}

	height, err := s.wallet.BlockHeight(ctx)
	if err != nil {
		return fmt.Errorf("read block height: %w", err)
	}

	s.mu.Lock()
	s.lockConfirmedHeight = height
	s.state = StateBtcLocked
	s.mu.Unlock()
	return nil
}

// advanceBtcLocked waits for Alice's TransferProof, abandoning to the
// cancel path if the cancel timelock approaches first (spec §4.6
// "BtcLocked -> XmrLockProofReceived").
func (s *Swap) advanceBtcLocked(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case m := <-s.transferProofCh:
			s.mu.Lock()
			s.xmrProof = monero.NewTransferProof(m.TxHash, hex.EncodeToString(m.KeyR), s.params.XMRAmount.Uint64())
			s.state = StateXmrLockProofReceived
			s.mu.Unlock()
			return nil
		case <-ticker.C:
			remaining, err := s.blocksUntilCancel(ctx)
			if err == nil && remaining <= int64(s.netParams().SafetyMarginBlocks) {
				s.mu.Lock()
				s.state = StateCancelTimelockExpired
				s.mu.Unlock()
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// advanceXmrLockProofReceived verifies Alice's transfer proof and waits
// for it to reach XMR finality, abandoning to the cancel path if the BTC
// cancel timelock approaches first (spec §4.6 "Key transitions: verify
// transfer proof... XMR finality watch with cancel-timelock-approach
// abandonment").
func (s *Swap) advanceXmrLockProofReceived(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	target := s.netParams().XMRFinalityConfirmations
	for {
		confirmations, received, inPool, err := s.xmr.CheckTxKey(ctx, s.xmrProof.TxHash, s.xmrProof.TxKey, s.jointAddress)
		if err != nil {
			return fmt.Errorf("check monero transfer: %w", err)
		}
		if received >= s.xmrProof.Amount && !inPool && confirmations >= target {
			s.mu.Lock()
			s.state = StateXmrLocked
			s.mu.Unlock()
			return nil
		}

		remaining, err := s.blocksUntilCancel(ctx)
		if err == nil && remaining <= int64(s.netParams().SafetyMarginBlocks) {
			s.mu.Lock()
			s.state = StateCancelTimelockExpired
			s.mu.Unlock()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// advanceXmrLocked produces Bob's adaptor-encsig on TxRedeem and sends it
// to Alice (spec §4.6 "XmrLocked -> EncSigSent").
func (s *Swap) advanceXmrLocked(ctx context.Context) error {
	encSig, err := s.redeem.EncryptSign(s.keys.Bitcoin, s.aliceSpendBitcoin)
	if err != nil {
		return fmt.Errorf("encrypt-sign TxRedeem: %w", err)
	}

	if _, err := s.channel.SendEncSig(ctx, &message.EncryptedSignature{SwapID: s.id, EncSig: encSig.Serialize()}); err != nil {
		return fmt.Errorf("send encsig: %w", err)
	}

	s.mu.Lock()
	s.redeemEncSig = encSig
	s.state = StateEncSigSent
	s.mu.Unlock()
	return nil
}

// advanceEncSigSent watches for Alice to broadcast TxRedeem, recovering
// her Monero secret share from the completed signature and sweeping the
// joint Monero wallet once she does (spec §4.6 "EncSigSent -> BtcRedeemed
// -> XmrRedeemed", "redeem-watch -> s_a recovery -> XmrRedeemed sweep").
// If the cancel timelock expires first, Bob abandons the redeem wait.
func (s *Swap) advanceEncSigSent(ctx context.Context) error {
	redeemTxid := s.redeem.Tx.TxHash()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		seen, err := s.wallet.IsInMempoolOrChain(ctx, redeemTxid)
		if err != nil {
			return fmt.Errorf("check TxRedeem: %w", err)
		}
		if seen {
			break
		}

		remaining, err := s.blocksUntilCancel(ctx)
		if err == nil && remaining <= int64(s.netParams().SafetyMarginBlocks) {
			s.mu.Lock()
			s.state = StateCancelTimelockExpired
			s.mu.Unlock()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	if err := s.wallet.WaitForConfirmations(ctx, redeemTxid, s.netParams().BTCFinalityConfirmations); err != nil {
		return fmt.Errorf("wait for TxRedeem finality: %w", err)
	}

	mined, err := s.wallet.FetchTransaction(ctx, redeemTxid)
	if err != nil {
		return fmt.Errorf("fetch mined TxRedeem: %w", err)
	}
	if len(mined.TxIn) == 0 {
		return fmt.Errorf("mined TxRedeem has no inputs")
	}
	// bobEncSig must be the exact instance sent to Alice in
	// advanceXmrLocked: EncryptSign draws a fresh random nonce on every
	// call, so recomputing it here would yield a different R'/S' and
	// Recover would return garbage instead of Alice's secret.
	s.mu.Lock()
	bobEncSig := s.redeemEncSig
	s.mu.Unlock()
	if bobEncSig == nil {
		return fmt.Errorf("redeem encsig missing: advanceXmrLocked did not complete")
	}
	bobSigBytes, err := bitcoin.ExtractSignature(mined.TxIn[0].Witness, s.keys.Bitcoin.Public(), s.aliceBitcoin, s.keys.Bitcoin.Public())
	if err != nil {
		return fmt.Errorf("extract bob's completed redeem signature: %w", err)
	}
	bobSig, err := secp256k1.ParseSignature(bobSigBytes)
	if err != nil {
		return fmt.Errorf("parse bob's completed redeem signature: %w", err)
	}

	sA, err := secp256k1.Recover(s.aliceSpendBitcoin, bobEncSig, bobSig)
	if err != nil {
		return fmt.Errorf("recover alice's monero secret share: %w", err)
	}

	s.mu.Lock()
	s.state = StateBtcRedeemed
	s.mu.Unlock()

	if err := s.sweepMonero(ctx, sA); err != nil {
		return fmt.Errorf("sweep monero: %w", err)
	}

	s.mu.Lock()
	s.state = StateXmrRedeemed
	s.mu.Unlock()
	return nil
}

// sweepMonero reconstructs the joint Monero wallet from Bob's own spend
// share and Alice's just-recovered share, opens it in the Monero wallet
// RPC, and sweeps it to Bob's configured destination address (spec §4.6
// "XmrRedeemed").
func (s *Swap) sweepMonero(ctx context.Context, aliceSecret *secp256k1.PrivateKey) error {
	secretBytes := aliceSecret.Bytes()
	aliceSpend, err := mcrypto.NewPrivateSpendKey(secretBytes[:])
	if err != nil {
		return fmt.Errorf("derive alice's monero spend share: %w", err)
	}

	jointSpend := mcrypto.SumPrivateSpendKeys(s.keys.SpendShareEd, aliceSpend)
	jointView := mcrypto.SumPrivateViewKeys(s.keys.ViewShare, s.aliceView)
	kp := mcrypto.NewPrivateKeyPair(jointSpend, jointView)

	filename := fmt.Sprintf("swap-%s", s.id.Hex())
	if err := s.xmr.GenerateFromKeys(ctx, kp, filename, "", s.env); err != nil {
		return fmt.Errorf("import joint wallet: %w", err)
	}
	if err := s.xmr.OpenWallet(ctx, filename, ""); err != nil {
		return fmt.Errorf("open joint wallet: %w", err)
	}
	defer s.xmr.CloseWallet(ctx) //nolint:errcheck

	if err := s.xmr.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh joint wallet: %w", err)
	}
	if _, err := s.xmr.SweepAll(ctx, s.xmrDestAddr, 0); err != nil {
		return fmt.Errorf("sweep joint wallet: %w", err)
	}
	return nil
}

// advanceCancelTimelockExpired broadcasts the already-signed TxCancel
// (spec §4.6 "CancelTimelockExpired -> BtcCancelled").
func (s *Swap) advanceCancelTimelockExpired(ctx context.Context) error {
	txid := s.cancel.Tx.TxHash()

	seen, err := s.wallet.IsInMempoolOrChain(ctx, txid)
	if err != nil {
		return fmt.Errorf("check TxCancel: %w", err)
	}
	if !seen {
		if _, err := s.wallet.Broadcast(ctx, s.cancel.Tx); err != nil {
			return fmt.Errorf("broadcast TxCancel: %w", err)
		}
	}
	if err := s.wallet.WaitForConfirmations(ctx, txid, s.netParams().BTCFinalityConfirmations); err != nil {
		return fmt.Errorf("wait for TxCancel finality: %w", err)
	}

	height, err := s.wallet.BlockHeight(ctx)
	if err != nil {
		return fmt.Errorf("read block height: %w", err)
	}

	s.mu.Lock()
	s.cancelConfirmedHeight = height
	s.state = StateBtcCancelled
	s.mu.Unlock()
	return nil
}

// advanceBtcCancelled completes and broadcasts TxRefund once the punish
// timelock permits it, recovering Bob's own funds back (spec §4.6
// "BtcCancelled -> BtcRefunded"). Races against Alice broadcasting
// TxPunish: both spend TxCancel's output, so if Bob was too slow and
// Alice's punish lands first, his own refund broadcast can never confirm;
// he can only observe the fact (spec §4.6's "BtcPunished (observed, not
// caused)"), matching the same race Alice herself runs in her
// advanceBtcCancelled between TxRefund and TxPunish.
func (s *Swap) advanceBtcCancelled(ctx context.Context) error {
	bobSig, err := s.refund.Sign(s.keys.Bitcoin)
	if err != nil {
		return fmt.Errorf("sign TxRefund: %w", err)
	}
	aliceSig := secp256k1.Decrypt(s.refundEncSig, s.keys.SpendShareSecp)
	if err := s.refund.AddSignatures(s.aliceBitcoin, s.keys.Bitcoin.Public(), aliceSig, bobSig); err != nil {
		return fmt.Errorf("finalize TxRefund: %w", err)
	}

	s.mu.Lock()
	s.refundFinalized = true
	s.mu.Unlock()
	if err := s.Persist(); err != nil {
		return fmt.Errorf("persist finalized TxRefund before broadcast: %w", err)
	}

	refundTxid := s.refund.Tx.TxHash()
	seen, err := s.wallet.IsInMempoolOrChain(ctx, refundTxid)
	if err != nil {
		return fmt.Errorf("check TxRefund: %w", err)
	}
	if !seen {
		if _, err := s.wallet.Broadcast(ctx, s.refund.Tx); err != nil {
			return fmt.Errorf("broadcast TxRefund: %w", err)
		}
	}

	punishTxid := s.punish.Tx.TxHash()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		refundSeen, err := s.wallet.IsInMempoolOrChain(ctx, refundTxid)
		if err != nil {
			return fmt.Errorf("check TxRefund: %w", err)
		}
		if refundSeen {
			break
		}

		punished, err := s.wallet.IsInMempoolOrChain(ctx, punishTxid)
		if err == nil && punished {
			s.mu.Lock()
			s.state = StateBtcPunished
			s.mu.Unlock()
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	if err := s.wallet.WaitForConfirmations(ctx, refundTxid, s.netParams().BTCFinalityConfirmations); err != nil {
		return fmt.Errorf("wait for TxRefund finality: %w", err)
	}

	s.mu.Lock()
	s.state = StateBtcRefunded
	s.mu.Unlock()
	return nil
}
