// Package net defines the transport-agnostic peer channel port (spec §4.9,
// §6): a single per-swap duplex connection carrying the framed messages
// from net/message. The engine core depends only on this interface; the
// reference transport lives in net/wsconn.
package net

import (
	"context"

	"github.com/athanorlabs/xmr-btc-swap/common"
	"github.com/athanorlabs/xmr-btc-swap/net/message"
)

// PeerChannel is the duplex connection to a single counterparty for a
// single swap's lifetime, matching the teacher's rpcclient/wsclient.WsClient
// shape but carrying this protocol's setup/transfer/redeem messages instead
// of offer/discovery RPCs.
type PeerChannel interface {
	// SendQuote requests and returns the counterparty's current price quote
	// (spec §6 "/xmr-btc/quote/1").
	SendQuote(ctx context.Context) (*message.QuoteResponse, error)

	// RunSetup sends one setup-ceremony message (M0..M4) and returns the
	// counterparty's reply. swap/setup.RunBob calls this once per step.
	RunSetup(ctx context.Context, m message.Message) (message.Message, error)

	// SendTransferProof notifies the counterparty that XMR has been locked
	// and returns their (soft, non-safety-critical) acknowledgement.
	SendTransferProof(ctx context.Context, m *message.TransferProof) (*message.TransferProofAck, error)

	// SendEncSig delivers the adaptor-encrypted TxRedeem signature and
	// returns the counterparty's acknowledgement.
	SendEncSig(ctx context.Context, m *message.EncryptedSignature) (*message.EncryptedSignatureAck, error)

	// RequestCoopRedeem asks Alice for a best-effort, policy-gated reveal of
	// her Monero secret share after a punish (spec §4.6, §9).
	RequestCoopRedeem(ctx context.Context, id common.SwapID) (*message.CoopRedeemResponse, error)

	// RequestEarlyRefund asks the counterparty to consent to a pre-lock
	// early BTC refund (spec §9 extension).
	RequestEarlyRefund(ctx context.Context, id common.SwapID) (*message.EarlyRefundResponse, error)

	// Close tears down the underlying transport.
	Close() error
}
