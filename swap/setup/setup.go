// Package setup drives the four-message setup ceremony (spec §4.4): key
// exchange, DLEQ cross-curve verification, TxLock funding, and the
// cooperative signing of TxCancel/TxRefund/TxPunish/TxRedeem that must all
// be in hand *before* either party commits funds on either chain. Bob (the
// swap initiator, spec's "XMR taker" role) drives RunBob; Alice answers via
// Handler, invoked per-message by whatever transport owns her connection.
package setup

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/athanorlabs/xmr-btc-swap/coins"
	"github.com/athanorlabs/xmr-btc-swap/common"
	"github.com/athanorlabs/xmr-btc-swap/crypto/dleq"
	mcrypto "github.com/athanorlabs/xmr-btc-swap/crypto/monero"
	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
	"github.com/athanorlabs/xmr-btc-swap/swap/errs"
)

// Params are the swap's agreed-upon terms, settled before the ceremony
// starts (e.g. via the quote exchange) and carried into both RunBob and
// Handler unchanged (spec §3 "Amounts and timelocks").
type Params struct {
	SwapID    common.SwapID
	Env       common.Environment
	BTCAmount coins.BitcoinAmount
	XMRAmount coins.MoneroAmount

	TxLockFee   coins.BitcoinAmount
	TxCancelFee coins.BitcoinAmount
	TxRefundFee coins.BitcoinAmount
	TxPunishFee coins.BitcoinAmount

	CancelTimelock uint32 // T_c, blocks
	PunishTimelock uint32 // T_p, blocks
}

// ChainParams exposes chainParams to callers outside the package (swap/bob
// and swap/alice need it to rebuild their transaction chain after a
// restart, the same way RunBob/Handler built it the first time).
func ChainParams(env common.Environment) *chaincfg.Params {
	return chainParams(env)
}

// chainParams maps the swap's logical environment onto the btcd network
// parameters the bitcoin package's address/script helpers need.
func chainParams(env common.Environment) *chaincfg.Params {
	switch env {
	case common.Mainnet:
		return &chaincfg.MainNetParams
	case common.Stagenet:
		return &chaincfg.TestNet3Params
	default:
		return &chaincfg.RegressionNetParams
	}
}

// peerMaterial is the public material a setup message exposes about its
// sender, recovered and verified from the wire bytes before it's trusted.
type peerMaterial struct {
	Bitcoin      *secp256k1.PublicKey
	SpendMonero  *mcrypto.PublicKey
	SpendBitcoin *secp256k1.PublicKey
	View         *mcrypto.PrivateViewKey // the peer's view share is shared in the clear (spec §4.4)

	refundScript []byte // only set for Bob's material, from his SetupM0 refund_address
}

// verifyPeerShare parses and DLEQ-verifies a counterparty's key-share
// bundle as carried in SetupM0/SetupM1, checking that the advertised
// s*G_secp256k1 and s*G_ed25519 public points match what the proof
// actually recovers (spec §4.1c, §4.4 "verify DLEQ proof").
func verifyPeerShare(bPub, sMonero, sBitcoin, proofBytes, view []byte) (*peerMaterial, error) {
	peerBitcoin, err := secp256k1.NewPublicKeyFromBytes(bPub)
	if err != nil {
		return nil, fmt.Errorf("%w: bitcoin pubkey: %s", errs.ErrMalformedSetup, err)
	}
	wantMonero, err := mcrypto.NewPublicKeyFromBytes(sMonero)
	if err != nil {
		return nil, fmt.Errorf("%w: monero spend share: %s", errs.ErrMalformedSetup, err)
	}
	wantBitcoin, err := secp256k1.NewPublicKeyFromBytes(sBitcoin)
	if err != nil {
		return nil, fmt.Errorf("%w: bitcoin adaptor statement: %s", errs.ErrMalformedSetup, err)
	}
	proof, err := dleq.UnmarshalProof(proofBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: dleq proof: %s", errs.ErrMalformedSetup, err)
	}
	viewShare, err := mcrypto.NewPrivateViewKey(view)
	if err != nil {
		return nil, fmt.Errorf("%w: view share: %s", errs.ErrMalformedSetup, err)
	}

	result, err := (dleq.Secret{}).Verify(proof)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errs.ErrDLEqVerifyFailed, err)
	}
	if !result.Secp256k1Pub.Equal(wantBitcoin) {
		return nil, fmt.Errorf("%w: secp256k1 statement does not match proof", errs.ErrDLEqVerifyFailed)
	}
	if result.Ed25519Pub.Bytes() != wantMonero.Bytes() {
		return nil, fmt.Errorf("%w: monero spend share does not match proof", errs.ErrDLEqVerifyFailed)
	}

	return &peerMaterial{
		Bitcoin:      peerBitcoin,
		SpendMonero:  wantMonero,
		SpendBitcoin: wantBitcoin,
		View:         viewShare,
	}, nil
}

// jointAddress derives the shared Monero (spend, view) address from both
// parties' key shares (spec §3, §4.3).
func jointAddress(env common.Environment, ownSpendEd *mcrypto.PrivateSpendKey, ownView *mcrypto.PrivateViewKey, peerSpend *mcrypto.PublicKey, peerView *mcrypto.PrivateViewKey) mcrypto.Address {
	jointSpendPub := mcrypto.SumPublicKeys(ownSpendEd.Public(), peerSpend)
	jointView := mcrypto.SumPrivateViewKeys(ownView, peerView)
	return mcrypto.NewPublicKeyPair(jointSpendPub, jointView.Public()).Address(env)
}
