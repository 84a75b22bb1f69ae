// Package bitcoin builds and signs the five Bitcoin transactions the swap
// protocol's setup ceremony and recovery paths need (spec §4.2): TxLock,
// TxCancel, TxRefund, TxPunish, TxRedeem. Each wraps a *wire.MsgTx plus the
// witness script and prevout data needed to recompute its BIP143 sighash,
// grounded on the teacher's Bitcoin-facing use of btcsuite/btcd (noot never
// built native BTC scripts itself — its original lock was an EVM contract —
// so this is the "keep HOW, replace WHAT" step: same btcec/btcutil/txscript
// stack, a from-scratch native-script implementation).
//
// The witness script and signature encoding here model a generic two-party
// CHECKSIG/CHECKSIGVERIFY script executed with the engine's own Schnorr
// adaptor-signature scheme (crypto/secp256k1), not BIP340 Taproot Schnorr or
// BIP143 ECDSA CHECKSIG verification; this is a reference implementation of
// the cross-chain protocol's transaction *shape* (inputs, outputs,
// timelocks, fee accounting), not a consensus-valid opcode interpreter.
package bitcoin

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/txscript"

	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
)

// MultisigWitnessScript builds the 2-of-2 witness script for keys a and b,
// "<first> OP_CHECKSIGVERIFY <second> OP_CHECKSIG", a deterministic-order
// variant of CHECKMULTISIG (spec §4.2): the two public keys are sorted so
// both parties independently derive byte-identical scripts regardless of
// which one is "A" or "B" in the setup ceremony.
func MultisigWitnessScript(a, b *secp256k1.PublicKey) ([]byte, error) {
	first, second := sortPubkeys(a, b)

	builder := txscript.NewScriptBuilder()
	builder.AddData(first.SerializeCompressed())
	builder.AddOp(txscript.OP_CHECKSIGVERIFY)
	builder.AddData(second.SerializeCompressed())
	builder.AddOp(txscript.OP_CHECKSIG)
	return builder.Script()
}

// sortPubkeys returns a, b in deterministic (lexicographic, by compressed
// encoding) order.
func sortPubkeys(a, b *secp256k1.PublicKey) (first, second *secp256k1.PublicKey) {
	if bytes.Compare(a.SerializeCompressed(), b.SerializeCompressed()) <= 0 {
		return a, b
	}
	return b, a
}

// P2WSHScriptPubKey returns the scriptPubKey (OP_0 <sha256(witnessScript)>)
// that funds witnessScript, used both to build TxLock's output and to
// recognize it inside an externally-funded PSBT.
func P2WSHScriptPubKey(witnessScript []byte) ([]byte, error) {
	h := sha256.Sum256(witnessScript)
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(h[:]).
		Script()
}

// witnessStack assembles the P2WSH witness for MultisigWitnessScript: the
// signature matching the script's first (CHECKSIGVERIFY) key must be on top
// of the data stack when CHECKSIGVERIFY executes, which-given witness items
// are pushed in list order-means it must be the *last* data item, i.e. the
// item immediately below the script itself (spec §4.2 "addSignatures()").
func witnessStack(a, b *secp256k1.PublicKey, sigA, sigB, witnessScript []byte) ([][]byte, error) {
	first, _ := sortPubkeys(a, b)
	firstSig, secondSig := sigA, sigB
	if !bytes.Equal(first.SerializeCompressed(), a.SerializeCompressed()) {
		firstSig, secondSig = sigB, sigA
	}
	if len(firstSig) == 0 || len(secondSig) == 0 {
		return nil, fmt.Errorf("bitcoin: both signatures required to finalize witness")
	}
	return [][]byte{secondSig, firstSig, witnessScript}, nil
}

// ExtractSignature returns pub's signature out of a finalized 2-of-2
// witness stack built by witnessStack for keys a and b. The swap drivers
// use this to recover a counterparty's completed signature off a mined
// transaction -- the adaptor-recovery mechanism that makes the swap
// atomic (spec §4.5 property 6, §4.6 "EncSigSent" redeem watch).
func ExtractSignature(witness [][]byte, pub, a, b *secp256k1.PublicKey) ([]byte, error) {
	if len(witness) < 2 {
		return nil, fmt.Errorf("bitcoin: witness too short to hold two signatures")
	}
	first, second := sortPubkeys(a, b)
	switch {
	case bytes.Equal(pub.SerializeCompressed(), first.SerializeCompressed()):
		return witness[1], nil
	case bytes.Equal(pub.SerializeCompressed(), second.SerializeCompressed()):
		return witness[0], nil
	default:
		return nil, fmt.Errorf("bitcoin: pubkey is not part of this witness")
	}
}
