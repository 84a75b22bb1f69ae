// Package wallet declares the Bitcoin wallet port the setup ceremony and
// both state machines drive (spec §1 "the wallets ... treated as external
// collaborators with defined interfaces"; Non-goal: the engine does not
// itself manage wallet custody). The Monero side of that same port is
// monero.Client (C3) directly -- it already speaks wallet-rpc -- so only
// the Bitcoin side needs a port defined here.
package wallet

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/athanorlabs/xmr-btc-swap/coins"
)

// BitcoinWallet is the minimal Bitcoin wallet surface the engine needs:
// fund the 2-of-2 lock output, broadcast fully-signed transactions, and
// watch confirmations (spec §4.2 "TxLock.new(wallet, ...)", §5 "watching
// for a transaction to be seen / reach N confirmations").
type BitcoinWallet interface {
	// FundLockTx asks the wallet to build (but not broadcast) a PSBT paying
	// amount+fee to the given 2-of-2 witness script, with any of its own
	// inputs/change it needs, matching spec §4.2's "wallet constructs
	// funding PSBT" call-out.
	FundLockTx(ctx context.Context, witnessScript []byte, amount, fee coins.BitcoinAmount) ([]byte, error)

	// Broadcast submits a fully-witnessed transaction and returns its txid.
	Broadcast(ctx context.Context, tx *wire.MsgTx) (chainhash.Hash, error)

	// WaitForConfirmations blocks until txid reaches the given confirmation
	// depth or ctx is done.
	WaitForConfirmations(ctx context.Context, txid chainhash.Hash, confirmations uint64) error

	// IsInMempoolOrChain reports whether txid has been seen at all yet
	// (spec's "transaction to be seen" suspension point, before waiting for
	// confirmations).
	IsInMempoolOrChain(ctx context.Context, txid chainhash.Hash) (bool, error)

	// BlocksUntilSequenceSpendable returns how many blocks remain before an
	// input with the given nSequence relative timelock, confirmed at
	// confirmedHeight, becomes spendable. A non-positive result means it is
	// already spendable (spec §3 "remaining_blocks_until_cancel").
	BlocksUntilSequenceSpendable(ctx context.Context, confirmedHeight uint64, sequence uint32) (int64, error)

	// BlockHeight returns the current chain tip height.
	BlockHeight(ctx context.Context) (uint64, error)

	// NewChangeAddress returns a fresh address the wallet controls, used for
	// Bob's change output and similar bookkeeping.
	NewChangeAddress(ctx context.Context) (string, error)

	// FetchTransaction returns a transaction already seen in the mempool or
	// chain, witness included. The state machines use this to read back a
	// counterparty's completed signature off a mined TxRefund/TxRedeem and
	// recover the adaptor secret it exposes (spec §4.5 property 6).
	FetchTransaction(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, error)
}
