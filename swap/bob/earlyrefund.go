package bob

import (
	"context"
	"fmt"

	"github.com/athanorlabs/xmr-btc-swap/bitcoin"
	"github.com/athanorlabs/xmr-btc-swap/net/message"
	"github.com/athanorlabs/xmr-btc-swap/swap/setup"
)

// HandleEarlyRefundRequest answers Alice's request to skip the cancel/
// refund path entirely and unwind TxLock immediately (spec §4.5
// "BtcLockTransactionSeen -> BtcEarlyRefunded", an optional extension
// gated by explicit consent from both parties). Bob has nothing to lose
// by consenting -- TxEarlyRefund returns his own locked BTC to his own
// refund address -- but he consents only while the swap is in
// SwapSetupCompleted or BtcLocked and refuses in every later state.
func (s *Swap) HandleEarlyRefundRequest(ctx context.Context, m *message.EarlyRefundRequest) (*message.EarlyRefundResponse, error) {
	if m.SwapID != s.id {
		return nil, fmt.Errorf("bob: early refund request for wrong swap id")
	}

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state != StateSwapSetupCompleted && state != StateBtcLocked {
		return &message.EarlyRefundResponse{SwapID: s.id, Consent: false}, nil
	}

	earlyRefund, err := s.buildEarlyRefund()
	if err != nil {
		return nil, fmt.Errorf("bob: build early refund: %w", err)
	}
	sig, err := earlyRefund.Sign(s.keys.Bitcoin)
	if err != nil {
		return nil, fmt.Errorf("bob: sign early refund: %w", err)
	}

	return &message.EarlyRefundResponse{SwapID: s.id, Consent: true, Sig: sig.Serialize()}, nil
}

// buildEarlyRefund constructs the deterministic TxEarlyRefund both parties
// build independently (spec §4.5 same as Alice's identical construction in
// swap/alice/earlyrefund.go): it spends TxLock directly to Bob's own
// refund address, bypassing the cancel timelock.
func (s *Swap) buildEarlyRefund() (*bitcoin.TxEarlyRefund, error) {
	refundScript, err := bitcoin.AddressScript(s.refundAddr, setup.ChainParams(s.env))
	if err != nil {
		return nil, fmt.Errorf("refund address: %w", err)
	}
	return bitcoin.NewTxEarlyRefund(s.lock, refundScript, s.params.TxRefundFee)
}
