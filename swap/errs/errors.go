// Package errs collects the sentinel error values shared across the setup
// ceremony, both state machines, and the recovery operations (spec §7).
// Each value names a *kind* of failure, not a concrete type hierarchy,
// matching the teacher's flat package-local sentinel-error idiom.
package errs

import "errors"

// Setup errors. Surfaced during the four-message key exchange (C4); a
// pre-lock swap aborts to SafelyAborted, a post-lock swap proceeds down
// the cancel/refund path instead.
var (
	ErrMalformedSetup  = errors.New("malformed setup message")
	ErrDLEqVerifyFailed = errors.New("dleq proof verification failed")
	ErrEncSigInvalid   = errors.New("adaptor signature verification failed")
	ErrAmountMismatch  = errors.New("amount does not match agreed quote")
	ErrAddressMismatch = errors.New("address does not match agreed quote")
	ErrQuoteExpired    = errors.New("quote expired")
	ErrPeerRejected    = errors.New("peer rejected setup")
)

// Chain errors.
var (
	ErrAlreadyInChain    = errors.New("transaction already in chain")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrReorgObserved     = errors.New("chain reorganization observed, re-evaluating")
)

// Timelock errors. Recoverable by waiting; only surfaced from manual
// recovery operations (spec §7).
var (
	ErrCancelTimelockNotExpired = errors.New("cancel timelock has not expired yet")
	ErrPunishTimelockNotExpired = errors.New("punish timelock has not expired yet")
	ErrCancelTimelockExpired    = errors.New("cancel timelock has already expired")
)

// Protocol errors.
var (
	ErrUnexpectedRequest  = errors.New("unexpected request")
	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrMessageTooLarge    = errors.New("message exceeds maximum frame size")
)

// Recovery / state errors.
var (
	ErrImpossibleTransition = errors.New("requested transition is impossible from the current state")
	ErrNotTerminal          = errors.New("swap has not reached a terminal state")
	ErrSwapNotFound         = errors.New("swap not found")
	ErrAlreadyTerminal      = errors.New("swap is already in a terminal state")
)

// Fatal internal errors. The driver halts the affected swap; the operator
// must intervene.
var (
	ErrPersistenceFailure = errors.New("persistence store failure")
)
