// Package recovery implements the manual, out-of-band recovery operations
// (C6, spec §4.7): cancel, refund, redeem, punish, and safely_abort, plus
// Alice's early_refund, callable outside a swap's normal Run loop against a swap that is
// suspended, stuck, or whose operator wants to force a timelock-gated
// transition early. Each operation loads the swap's persisted snapshot,
// restores the matching role's driver (swap/alice or swap/bob), and
// delegates to that role's own idempotent recovery method -- this package
// owns no swap logic of its own, only the dispatch from an operation name
// and a store.Snapshot.Role to the right call.
package recovery

import (
	"context"
	"fmt"

	"github.com/athanorlabs/xmr-btc-swap/common"
	xmrnet "github.com/athanorlabs/xmr-btc-swap/net"
	"github.com/athanorlabs/xmr-btc-swap/net/message"
	"github.com/athanorlabs/xmr-btc-swap/monero"
	"github.com/athanorlabs/xmr-btc-swap/swap/alice"
	"github.com/athanorlabs/xmr-btc-swap/swap/bob"
	"github.com/athanorlabs/xmr-btc-swap/swap/errs"
	"github.com/athanorlabs/xmr-btc-swap/swap/store"
	"github.com/athanorlabs/xmr-btc-swap/swap/wallet"
)

// Op names one of the six manual recovery operations (spec §4.7).
type Op string

const (
	OpCancel      Op = "cancel"
	OpRefund      Op = "refund"
	OpRedeem      Op = "redeem"
	OpPunish      Op = "punish"
	OpSafelyAbort Op = "safely_abort"
	OpEarlyRefund Op = "early_refund"
)

// Deps bundles the external collaborators a restored swap needs to carry
// out a recovery operation. Channel may be nil for every operation except
// early_refund, the only one that sends a peer message (Run rejects it
// without a channel); a restored swap is constructed with a disconnected
// stub channel when the caller has none handy (e.g. a CLI invoked against
// an offline counterparty).
type Deps struct {
	Store  store.Store
	Wallet wallet.BitcoinWallet
	Monero monero.Client
	Channel xmrnet.PeerChannel
}

func (d Deps) channel() xmrnet.PeerChannel {
	if d.Channel != nil {
		return d.Channel
	}
	return disconnectedChannel{}
}

// Run loads id's persisted snapshot, restores the matching role's driver,
// and performs op against it (spec §4.7 "Every op inspects the current
// persisted state; rejects impossible transitions; ... always persists
// the resulting state before returning"). The returned string is the
// resulting state name.
func Run(ctx context.Context, deps Deps, id common.SwapID, op Op, force bool) (string, error) {
	snap, err := deps.Store.Get(id)
	if err != nil {
		return "", fmt.Errorf("recovery: %w", err)
	}

	switch snap.Role {
	case "alice":
		return runAlice(ctx, deps, snap, op, force)
	case "bob":
		return runBob(ctx, deps, snap, op, force)
	default:
		return "", fmt.Errorf("recovery: %w: unknown role %q", errs.ErrSwapNotFound, snap.Role)
	}
}

func runAlice(ctx context.Context, deps Deps, snap *store.Snapshot, op Op, force bool) (string, error) {
	s, err := alice.Restore(snap, deps.Wallet, deps.Monero, deps.channel(), deps.Store)
	if err != nil {
		return "", fmt.Errorf("recovery: restore alice swap: %w", err)
	}

	var (
		state alice.State
		opErr error
	)
	switch op {
	case OpCancel:
		state, opErr = s.Cancel(ctx, force)
	case OpRefund:
		state, opErr = s.Refund(ctx)
	case OpRedeem:
		state, opErr = s.Redeem(ctx, force)
	case OpPunish:
		state, opErr = s.Punish(ctx)
	case OpSafelyAbort:
		state, opErr = s.SafelyAbort(ctx)
	case OpEarlyRefund:
		if deps.Channel == nil {
			return "", fmt.Errorf("recovery: %w: early_refund needs a live peer channel", errs.ErrUnexpectedRequest)
		}
		state, opErr = s.EarlyRefund(ctx)
	default:
		return "", fmt.Errorf("recovery: %w: unknown op %q", errs.ErrImpossibleTransition, op)
	}
	return string(state), opErr
}

// runBob dispatches the three operations Bob's role supports. redeem and
// punish are Alice-only (spec §4.7: "redeem (Alice)", "punish (Alice)") --
// Bob's own redeem/punish observation already happens automatically
// inside Run, he never initiates either himself.
func runBob(ctx context.Context, deps Deps, snap *store.Snapshot, op Op, force bool) (string, error) {
	s, err := bob.Restore(snap, deps.Wallet, deps.Monero, deps.channel(), deps.Store)
	if err != nil {
		return "", fmt.Errorf("recovery: restore bob swap: %w", err)
	}

	var (
		state bob.State
		opErr error
	)
	switch op {
	case OpCancel:
		state, opErr = s.Cancel(ctx, force)
	case OpRefund:
		state, opErr = s.Refund(ctx)
	case OpSafelyAbort:
		state, opErr = s.SafelyAbort(ctx)
	case OpRedeem, OpPunish, OpEarlyRefund:
		return "", fmt.Errorf("recovery: %w: %s is not a manual operation for bob", errs.ErrImpossibleTransition, op)
	default:
		return "", fmt.Errorf("recovery: %w: unknown op %q", errs.ErrImpossibleTransition, op)
	}
	return string(state), opErr
}

// disconnectedChannel implements xmrnet.PeerChannel with every method
// refusing outright. Recovery operations are wallet/chain-only; none of
// them reach the peer channel, so this only exists to satisfy
// alice.Restore/bob.Restore's constructor signature when the caller has
// no live connection to the counterparty.
type disconnectedChannel struct{}

var errNoChannel = fmt.Errorf("recovery: %w: no peer channel available during manual recovery", errs.ErrUnexpectedRequest)

func (disconnectedChannel) SendQuote(context.Context) (*message.QuoteResponse, error) {
	return nil, errNoChannel
}
func (disconnectedChannel) RunSetup(context.Context, message.Message) (message.Message, error) {
	return nil, errNoChannel
}
func (disconnectedChannel) SendTransferProof(context.Context, *message.TransferProof) (*message.TransferProofAck, error) {
	return nil, errNoChannel
}
func (disconnectedChannel) SendEncSig(context.Context, *message.EncryptedSignature) (*message.EncryptedSignatureAck, error) {
	return nil, errNoChannel
}
func (disconnectedChannel) RequestCoopRedeem(context.Context, common.SwapID) (*message.CoopRedeemResponse, error) {
	return nil, errNoChannel
}
func (disconnectedChannel) RequestEarlyRefund(context.Context, common.SwapID) (*message.EarlyRefundResponse, error) {
	return nil, errNoChannel
}
func (disconnectedChannel) Close() error { return nil }

var _ xmrnet.PeerChannel = disconnectedChannel{}
