package alice

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
// confirmation or timelock (matches swap/bob's cadence).
const pollInterval = 5 * time.Second

// Run drives the swap from its current state to a terminal one (spec §4.5,
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
		case StateStarted:
			err = s.advanceStarted(ctx)
		case StateBtcLockTransactionSeen:
			err = s.advanceBtcLockTransactionSeen(ctx)
		case StateBtcLocked:
			err = s.advanceBtcLocked(ctx)
		case StateXmrLockTransactionSent:
			err = s.advanceXmrLockTransactionSent(ctx)
		case StateXmrLockTransferProofSent:
			err = s.advanceXmrLockTransferProofSent(ctx)
		case StateXmrLocked:
			err = s.advanceXmrLocked(ctx)
		case StateEncSigLearned:
			err = s.advanceEncSigLearned(ctx)
		case StateBtcRedeemTransactionPublished:
			err = s.advanceBtcRedeemTransactionPublished(ctx)
		case StateCancelTimelockExpired:
			err = s.advanceCancelTimelockExpired(ctx)
		case StateBtcCancelled:
			err = s.advanceBtcCancelled(ctx)
		case StateBtcPunishable:
			err = s.advanceBtcPunishable(ctx)
		default:
			return fmt.Errorf("alice: no transition defined from state %s", state)
		}
		if err != nil {
			return fmt.Errorf("alice: swap %s: %w", s.id, err)
		}
		if err := s.Persist(); err != nil {
			return fmt.Errorf("alice: swap %s: persist: %w", s.id, err)
		}
	}
}

func (s *Swap) netParams() common.NetworkParams {
	return common.ParamsFor(s.env)
}

// blocksUntilCancel reports how many blocks remain before TxCancel becomes
// spendable; a non-positive result means the timelock has already expired.
func (s *Swap) blocksUntilCancel(ctx context.Context) (int64, error) {
	s.mu.Lock()
	lockConfirmedHeight := s.lockConfirmedHeight
	s.mu.Unlock()
	return s.wallet.BlocksUntilSequenceSpendable(ctx, lockConfirmedHeight, s.params.CancelTimelock)
}

// blocksUntilPunish reports how many blocks remain before TxPunish becomes
// spendable, counted from TxCancel's confirmation height.
func (s *Swap) blocksUntilPunish(ctx context.Context) (int64, error) {
	s.mu.Lock()
	cancelConfirmedHeight := s.cancelConfirmedHeight
	s.mu.Unlock()
	return s.wallet.BlocksUntilSequenceSpendable(ctx, cancelConfirmedHeight, s.params.PunishTimelock)
}

// advanceStarted watches for Bob to broadcast TxLock (spec §4.5 "Started ->
// BtcLockTransactionSeen"). Alice never broadcasts it herself.
func (s *Swap) advanceStarted(ctx context.Context) error {
	txid := s.lock.Tx.TxHash()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		seen, err := s.wallet.IsInMempoolOrChain(ctx, txid)
		if err != nil {
			return fmt.Errorf("check TxLock: %w", err)
		}
		if seen {
			s.mu.Lock()
			s.state = StateBtcLockTransactionSeen
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

// advanceBtcLockTransactionSeen waits for TxLock to reach finality (spec
// §4.5 "BtcLockTransactionSeen -> BtcLocked").
func (s *Swap) advanceBtcLockTransactionSeen(ctx context.Context) error {
	txid := s.lock.Tx.TxHash()
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

// advanceBtcLocked sends Alice's Monero payment to the joint address (spec
// §4.5 "BtcLocked -> XmrLockTransactionSent"). The cancel timelock has
// already started counting down from TxLock's confirmation, so Alice
// bails out to the cancel path rather than lock XMR if it's already close
// to expiring.
func (s *Swap) advanceBtcLocked(ctx context.Context) error {
	remaining, err := s.blocksUntilCancel(ctx)
	if err == nil && remaining <= int64(s.netParams().SafetyMarginBlocks) {
		s.mu.Lock()
		s.state = StateCancelTimelockExpired
		s.mu.Unlock()
		return nil
	}

	resp, err := s.xmr.Transfer(ctx, s.jointAddress, 0, s.params.XMRAmount.Uint64())
	if err != nil {
		return fmt.Errorf("transfer monero to joint address: %w", err)
	}

	s.mu.Lock()
	s.xmrProof = monero.NewTransferProof(resp.TxHash, resp.TxKey, s.params.XMRAmount.Uint64())
	s.state = StateXmrLockTransactionSent
	s.mu.Unlock()
	return nil
}

// advanceXmrLockTransactionSent sends Alice's TransferProof to Bob, retrying
// until acknowledged or the cancel timelock approaches (spec §4.5
// "XmrLockTransactionSent -> XmrLockTransferProofSent").
func (s *Swap) advanceXmrLockTransactionSent(ctx context.Context) error {
	s.mu.Lock()
	proof := s.xmrProof
	s.mu.Unlock()

	keyR, err := hex.DecodeString(proof.TxKey)
	if err != nil {
		return fmt.Errorf("decode transfer key: %w", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		_, err := s.channel.SendTransferProof(ctx, &message.TransferProof{SwapID: s.id, TxHash: proof.TxHash, KeyR: keyR})
		if err == nil {
			s.mu.Lock()
			s.state = StateXmrLockTransferProofSent
			s.mu.Unlock()
			return nil
		}

		remaining, cerr := s.blocksUntilCancel(ctx)
		if cerr == nil && remaining <= int64(s.netParams().SafetyMarginBlocks) {
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

// advanceXmrLockTransferProofSent marks the Monero payment as locked once
// Bob has acknowledged the transfer proof (spec §4.5
// "XmrLockTransferProofSent -> XmrLocked").
func (s *Swap) advanceXmrLockTransferProofSent(_ context.Context) error {
	s.mu.Lock()
	s.state = StateXmrLocked
	s.mu.Unlock()
	return nil
}

// advanceXmrLocked waits for Bob's adaptor-encsig on TxRedeem, abandoning to
// the cancel path if the cancel timelock approaches first (spec §4.5
// "XmrLocked -> EncSigLearned"). Both outcomes can become ready in the same
// instant (Bob's encsig arrives just as the cancel timelock expires), so the
// encsig branch itself re-checks the cancel timelock with preferRedeem
// rather than trusting select's arbitrary choice between two ready cases.
func (s *Swap) advanceXmrLocked(ctx context.Context) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case m := <-s.encSigCh:
			encSig, err := secp256k1.ParseEncSig(m.EncSig)
			if err != nil {
				return fmt.Errorf("parse bob's encsig: %w", err)
			}
			if !s.redeem.VerifyEncSig(s.bobBitcoin, s.keys.SpendShareSecp.Public(), encSig) {
				return fmt.Errorf("bob's encsig failed verification")
			}

			s.mu.Lock()
			s.bobRedeemEncSig = encSig
			if s.preferRedeem(ctx) {
				s.state = StateEncSigLearned
			} else {
				s.state = StateCancelTimelockExpired
			}
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

// preferRedeem implements spec §4.5's tie-break: "Alice prefers redeem only
// when the redeem transaction would reach finality_depth_btc confirmations
// before the punish timelock; otherwise she waits for refund/punish."
//
// If Bob has already broadcast TxCancel, redeeming is moot: TxCancel spends
// the same TxLock output TxRedeem needs, so a redeem broadcast now would
// just lose that race outright. If he hasn't, and the cancel timelock
// hasn't expired yet, there's no race to break at all. Only the remaining
// case -- cancel timelock expired, TxCancel not yet seen -- needs the
// confirmation-time estimate: TxRedeem needs finality_depth_btc blocks to
// finalize; the worst case for the cancel path is Bob broadcasting TxCancel
// this instant, needing finality_depth_btc blocks itself before the punish
// timelock even starts counting down. Redeem's confirmation window is a
// subset of that, so the comparison below (finality against finality plus
// T_p) holds for every swap and this case also prefers redeem.
func (s *Swap) preferRedeem(ctx context.Context) bool {
	cancelTxid := s.cancel.Tx.TxHash()
	if seen, err := s.wallet.IsInMempoolOrChain(ctx, cancelTxid); err == nil && seen {
		return false
	}

	remaining, err := s.blocksUntilCancel(ctx)
	if err != nil {
		return true
	}
	if remaining > int64(s.netParams().SafetyMarginBlocks) {
		return true
	}

	finality := int64(s.netParams().BTCFinalityConfirmations)
	deadline := finality + int64(s.params.PunishTimelock)
	return finality <= deadline
}

// advanceEncSigLearned completes and broadcasts TxRedeem, exposing Alice's
// own Monero spend share s_a to Bob as a side effect (spec §4.5
// "EncSigLearned -> BtcRedeemTransactionPublished").
func (s *Swap) advanceEncSigLearned(ctx context.Context) error {
	s.mu.Lock()
	bobEncSig := s.bobRedeemEncSig
	s.mu.Unlock()

	bobSig := secp256k1.Decrypt(bobEncSig, s.keys.SpendShareSecp)
	aliceSig, err := s.redeem.Sign(s.keys.Bitcoin)
	if err != nil {
		return fmt.Errorf("sign TxRedeem: %w", err)
	}
	if err := s.redeem.AddSignatures(s.keys.Bitcoin.Public(), s.bobBitcoin, aliceSig, bobSig); err != nil {
		return fmt.Errorf("finalize TxRedeem: %w", err)
	}

	s.mu.Lock()
	s.redeemFinalized = true
	s.mu.Unlock()
	if err := s.Persist(); err != nil {
		return fmt.Errorf("persist finalized TxRedeem before broadcast: %w", err)
	}

	txid := s.redeem.Tx.TxHash()
	seen, err := s.wallet.IsInMempoolOrChain(ctx, txid)
	if err != nil {
		return fmt.Errorf("check TxRedeem: %w", err)
	}
	if !seen {
		if _, err := s.wallet.Broadcast(ctx, s.redeem.Tx); err != nil {
			return fmt.Errorf("broadcast TxRedeem: %w", err)
		}
	}

	s.mu.Lock()
	s.state = StateBtcRedeemTransactionPublished
	s.mu.Unlock()
	return nil
}

// advanceBtcRedeemTransactionPublished waits for TxRedeem to reach finality
// (spec §4.5 "BtcRedeemTransactionPublished -> BtcRedeemed").
func (s *Swap) advanceBtcRedeemTransactionPublished(ctx context.Context) error {
	txid := s.redeem.Tx.TxHash()
	if err := s.wallet.WaitForConfirmations(ctx, txid, s.netParams().BTCFinalityConfirmations); err != nil {
		return fmt.Errorf("wait for TxRedeem finality: %w", err)
	}

	s.mu.Lock()
	s.state = StateBtcRedeemed
	s.mu.Unlock()
	return nil
}

// advanceCancelTimelockExpired broadcasts the already-signed TxCancel (spec
// §4.5 "CancelTimelockExpired -> BtcCancelled").
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

// advanceBtcCancelled races two outcomes: Bob completes and broadcasts
// TxRefund (letting Alice recover his Monero secret share and refund
// herself), or the punish timelock expires first (letting Alice broadcast
// TxPunish herself) (spec §4.5 "BtcCancelled -> BtcRefunded |
// BtcPunishable").
func (s *Swap) advanceBtcCancelled(ctx context.Context) error {
	refundTxid := s.refund.Tx.TxHash()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		seen, err := s.wallet.IsInMempoolOrChain(ctx, refundTxid)
		if err != nil {
			return fmt.Errorf("check TxRefund: %w", err)
		}
		if seen {
			break
		}

		remaining, err := s.blocksUntilPunish(ctx)
		if err == nil && remaining <= int64(s.netParams().SafetyMarginBlocks) {
			s.mu.Lock()
			s.state = StateBtcPunishable
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

	mined, err := s.wallet.FetchTransaction(ctx, refundTxid)
	if err != nil {
		return fmt.Errorf("fetch mined TxRefund: %w", err)
	}
	if len(mined.TxIn) == 0 {
		return fmt.Errorf("mined TxRefund has no inputs")
	}

	// aliceEncSig must be the exact instance sent to Bob during the setup
	// ceremony (SetupM3): EncryptSign draws a fresh random nonce on every
	// call, so recomputing it here would yield a different R'/S' and
	// Recover would return garbage instead of Bob's secret.
	s.mu.Lock()
	aliceEncSig := s.refundEncSig
	s.mu.Unlock()
	aliceSigBytes, err := bitcoin.ExtractSignature(mined.TxIn[0].Witness, s.keys.Bitcoin.Public(), s.keys.Bitcoin.Public(), s.bobBitcoin)
	if err != nil {
		return fmt.Errorf("extract alice's completed refund signature: %w", err)
	}
	aliceSig, err := secp256k1.ParseSignature(aliceSigBytes)
	if err != nil {
		return fmt.Errorf("parse alice's completed refund signature: %w", err)
	}

	sB, err := secp256k1.Recover(s.bobSpendBitcoin, aliceEncSig, aliceSig)
	if err != nil {
		return fmt.Errorf("recover bob's monero secret share: %w", err)
	}

	s.mu.Lock()
	s.refund.Tx = mined
	s.state = StateBtcRefunded
	s.mu.Unlock()

	if err := s.sweepMoneroRefund(ctx, sB); err != nil {
		return fmt.Errorf("sweep monero refund: %w", err)
	}

	s.mu.Lock()
	s.state = StateXmrRefunded
	s.mu.Unlock()
	return nil
}

// sweepMoneroRefund reconstructs the joint Monero wallet from Alice's own
// spend share and Bob's just-recovered share, and sweeps it back to
// Alice's own refund destination (spec §4.5 "XmrRefunded").
func (s *Swap) sweepMoneroRefund(ctx context.Context, bobSecret *secp256k1.PrivateKey) error {
	secretBytes := bobSecret.Bytes()
	bobSpend, err := mcrypto.NewPrivateSpendKey(secretBytes[:])
	if err != nil {
		return fmt.Errorf("derive bob's monero spend share: %w", err)
	}

	jointSpend := mcrypto.SumPrivateSpendKeys(s.keys.SpendShareEd, bobSpend)
	jointView := mcrypto.SumPrivateViewKeys(s.keys.ViewShare, s.bobView)
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
	if _, err := s.xmr.SweepAll(ctx, s.xmrRefundDestAddr, 0); err != nil {
		return fmt.Errorf("sweep joint wallet: %w", err)
	}
	return nil
}

// advanceBtcPunishable completes and broadcasts TxPunish using Bob's
// already-held punish signature (spec §4.5 "BtcPunishable -> BtcPunished").
// Unlike Bob's punish observation, Alice causes this broadcast herself.
func (s *Swap) advanceBtcPunishable(ctx context.Context) error {
	aliceSig, err := s.punish.Sign(s.keys.Bitcoin)
	if err != nil {
		return fmt.Errorf("sign TxPunish: %w", err)
	}
	if err := s.punish.AddSignatures(s.keys.Bitcoin.Public(), s.bobBitcoin, aliceSig, s.bobPunishSig); err != nil {
		return fmt.Errorf("finalize TxPunish: %w", err)
	}

	s.mu.Lock()
	s.punishFinalized = true
	s.mu.Unlock()
	if err := s.Persist(); err != nil {
		return fmt.Errorf("persist finalized TxPunish before broadcast: %w", err)
	}

	txid := s.punish.Tx.TxHash()
	seen, err := s.wallet.IsInMempoolOrChain(ctx, txid)
	if err != nil {
		return fmt.Errorf("check TxPunish: %w", err)
	}
	if !seen {
		if _, err := s.wallet.Broadcast(ctx, s.punish.Tx); err != nil {
			return fmt.Errorf("broadcast TxPunish: %w", err)
		}
	}
	if err := s.wallet.WaitForConfirmations(ctx, txid, s.netParams().BTCFinalityConfirmations); err != nil {
		return fmt.Errorf("wait for TxPunish finality: %w", err)
	}

	s.mu.Lock()
	s.state = StateBtcPunished
	s.mu.Unlock()
	return nil
}
