// Package alice implements Alice's post-setup swap driver (spec §4.5),
// the mirror image of swap/bob: the state machine that carries a swap
// from a completed setup ceremony (swap/setup.AliceResult) through to
// either a completed BTC redeem or one of the cancel/refund/punish
// recovery branches. Grounded on the same teacher shape swap/bob is
// grounded on (protocol/bob.swapState's mutex-guarded per-swap driver),
// mirrored onto Alice's side of the protocol: she locks Monero rather
// than Bitcoin, and recovers TxRefund's adaptor secret rather than
// TxRedeem's.
package alice

// State names a point in Alice's swap lifecycle (spec §4.5).
type State string

const (
	StateStarted                    State = "Started"
	StateBtcLockTransactionSeen     State = "BtcLockTransactionSeen"
	StateBtcLocked                  State = "BtcLocked"
	StateXmrLockTransactionSent     State = "XmrLockTransactionSent"
	StateXmrLockTransferProofSent   State = "XmrLockTransferProofSent"
	StateXmrLocked                  State = "XmrLocked"
	StateEncSigLearned              State = "EncSigLearned"
	StateBtcRedeemTransactionPublished State = "BtcRedeemTransactionPublished"
	StateBtcRedeemed                State = "BtcRedeemed" // terminal

	StateCancelTimelockExpired State = "CancelTimelockExpired"
	StateBtcCancelled         State = "BtcCancelled"
	StateBtcRefunded          State = "BtcRefunded"
	StateXmrRefunded          State = "XmrRefunded" // terminal
	StateBtcPunishable        State = "BtcPunishable"
	StateBtcPunished          State = "BtcPunished" // terminal (caused, unlike Bob's observed-only punish)

	StateSafelyAborted   State = "SafelyAborted"   // terminal (manual, spec §4.7 safely_abort)
	StateBtcEarlyRefunded State = "BtcEarlyRefunded" // terminal (manual, spec §4.5 early-refund branch)
)

// IsTerminal reports whether no further transitions occur from s (spec
// §9 "Terminal state"). StateBtcRefunded is an intermediate crash-safety
// checkpoint, not terminal: Alice still owes herself a Monero refund
// sweep before XmrRefunded (unlike Bob, who never locked Monero and so
// is done once his own BtcRefunded lands).
func (s State) IsTerminal() bool {
	switch s {
	case StateBtcRedeemed, StateXmrRefunded, StateBtcPunished, StateSafelyAborted, StateBtcEarlyRefunded:
		return true
	default:
		return false
	}
}
