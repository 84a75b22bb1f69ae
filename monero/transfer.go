package monero

import (
	"context"
	"fmt"
	"time"

	mcrypto "github.com/athanorlabs/xmr-btc-swap/crypto/monero"
)

// TransferProof is what a "transfer" RPC call returns for the counterparty
// to independently verify the lock without holding the spend key (spec
// §4.3: "tx-hash, out-index, commitment-opening, shared-secret"). Monero's
// wallet-rpc folds the commitment-opening/shared-secret data into the
// transaction's tx key, which the counterparty's view key (not spend key)
// is sufficient to check via check_tx_key.
type TransferProof struct {
	TxHash string
	TxKey  string
	Amount uint64
}

// NewTransferProof builds the proof a sender hands to its counterparty
// after a successful Transfer/SweepAll call.
func NewTransferProof(txHash, txKey string, amount uint64) *TransferProof {
	return &TransferProof{TxHash: txHash, TxKey: txKey, Amount: amount}
}

// pollInterval is how often WatchTransfer re-checks the transfer while
// waiting for confirmations.
const pollInterval = 5 * time.Second

// WatchTransfer blocks until proof's transaction is seen carrying at least
// expectedAmount to address and has reached confirmationsTarget
// confirmations, or ctx is done (spec §4.3's watch operation). The caller
// supplies a context with a deadline to bound the wait by the swap's
// relevant timelock.
func WatchTransfer(ctx context.Context, c Client, proof *TransferProof, address mcrypto.Address,
	expectedAmount uint64, confirmationsTarget uint64) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		confirmations, received, inPool, err := c.CheckTxKey(ctx, proof.TxHash, proof.TxKey, address)
		if err != nil {
			return fmt.Errorf("monero: watch transfer: %w", err)
		}

		if received >= expectedAmount && !inPool && confirmations >= confirmationsTarget {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("monero: watch transfer: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}
