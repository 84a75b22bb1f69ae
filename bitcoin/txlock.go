package bitcoin

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/wire"

	"github.com/athanorlabs/xmr-btc-swap/coins"
	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
)

// TxLock is the 2-of-{A,B} funding output Bob's wallet constructs and signs
// (spec §4.2 "TxLock.new(wallet, A, B, amount, fee)"). The wallet produces
// it as a PSBT so fee selection and change handling stay the wallet's
// concern; this type only needs to locate the multisig vout inside it.
type TxLock struct {
	Tx            *wire.MsgTx
	VOut          uint32
	WitnessScript []byte
	Amount        coins.BitcoinAmount
}

// NewTxLockFromPSBT parses a fully-funded and signed PSBT (Bob's wallet
// signs its own inputs normally; the multisig output itself is never
// partially signed at this stage) and locates the vout paying the 2-of-2
// script for a and b, matched by scriptPubKey since that's the only
// wallet-agnostic way to identify "the" multisig output among any change
// outputs (spec §4.2 "the vout containing the multisig is identified by
// matching script_pubkey").
func NewTxLockFromPSBT(raw []byte, a, b *secp256k1.PublicKey, amount coins.BitcoinAmount) (*TxLock, error) {
	pkt, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: parse TxLock psbt: %w", err)
	}

	witnessScript, err := MultisigWitnessScript(a, b)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: build multisig witness script: %w", err)
	}
	wantScript, err := P2WSHScriptPubKey(witnessScript)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: build multisig scriptPubKey: %w", err)
	}

	vout, ok := findVout(pkt.UnsignedTx, wantScript, amount.Sats())
	if !ok {
		return nil, fmt.Errorf("bitcoin: funded psbt has no output paying %d sats to the 2-of-2 script", amount.Sats())
	}

	tx, err := psbt.Extract(pkt)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: extract signed TxLock: %w", err)
	}

	return &TxLock{Tx: tx, VOut: vout, WitnessScript: witnessScript, Amount: amount}, nil
}

func findVout(tx *wire.MsgTx, script []byte, value int64) (uint32, bool) {
	for i, out := range tx.TxOut {
		if out.Value == value && bytes.Equal(out.PkScript, script) {
			return uint32(i), true
		}
	}
	return 0, false
}

// Outpoint references TxLock's multisig output, the prevout every TxCancel
// and TxRedeem spends.
func (l *TxLock) Outpoint() *wire.OutPoint {
	h := l.Tx.TxHash()
	return wire.NewOutPoint(&h, l.VOut)
}

// PkScript is the multisig output's scriptPubKey, the prevout script BIP143
// sighash computation needs.
func (l *TxLock) PkScript() ([]byte, error) {
	return P2WSHScriptPubKey(l.WitnessScript)
}
