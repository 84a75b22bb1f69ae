package setup

import (
	"github.com/athanorlabs/xmr-btc-swap/bitcoin"
	"github.com/athanorlabs/xmr-btc-swap/coins"
	mcrypto "github.com/athanorlabs/xmr-btc-swap/crypto/monero"
	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
)

// BobResult is everything Bob's swap state machine (C5) needs once the
// ceremony completes: his own keys, Alice's verified public material, the
// fully-constructed transaction chain, and the one piece of Alice's secret
// he can already use -- her adaptor encsig on TxRefund, decryptable with
// his own s_b (spec §4.5 property 6, §4.2).
type BobResult struct {
	Keys  *KeyMaterial
	Alice *peerMaterial

	Lock   *bitcoin.TxLock
	Cancel *bitcoin.TxCancel
	Refund *bitcoin.TxRefund
	Punish *bitcoin.TxPunish
	Redeem *bitcoin.TxRedeem

	RefundEncSig *secp256k1.EncSig // Alice's adaptor encsig over TxRefund, statement S_b_bitcoin

	JointAddress mcrypto.Address

	// AliceRedeemAddress, AlicePunishAddress, and TxRedeemFee are Alice's
	// M1 payout terms. They aren't needed again once Redeem/Punish are
	// built, except to deterministically rebuild the same two
	// transactions after a restart (swap/bob persists these rather than
	// raw tx bytes, since everything here is a pure function of them).
	AliceRedeemAddress string
	AlicePunishAddress string
	TxRedeemFee        coins.BitcoinAmount
}

// AliceResult is everything Alice's swap state machine (C5) needs once the
// ceremony completes. Unlike Bob, Alice does not hold a finalized TxPunish
// (Bob's punish signature alone is insufficient; she completes it herself,
// locally, only if she ever needs to broadcast it).
type AliceResult struct {
	Keys *KeyMaterial
	Bob  *peerMaterial

	Lock   *bitcoin.TxLock
	Cancel *bitcoin.TxCancel
	Refund *bitcoin.TxRefund
	Punish *bitcoin.TxPunish
	Redeem *bitcoin.TxRedeem

	BobPunishSig *secp256k1.Signature
	BobCancelSig *secp256k1.Signature

	// RefundEncSig is Alice's own adaptor encsig over TxRefund (statement
	// S_b_bitcoin), the exact instance sent to Bob in SetupM3. EncryptSign
	// draws a fresh nonce per call, so recovering Bob's secret later from
	// his completed TxRefund signature requires this instance, not a
	// freshly recomputed one.
	RefundEncSig *secp256k1.EncSig

	JointAddress mcrypto.Address
}
