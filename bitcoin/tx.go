package bitcoin

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/athanorlabs/xmr-btc-swap/coins"
	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
)

// txVersion is used for every transaction this package builds.
const txVersion = 2

// prevOutput is the spent output's value and scriptPubKey, the two fields
// BIP143 sighash computation needs beyond the spending transaction itself.
type prevOutput struct {
	value      int64
	pkScript   []byte
}

// sighash computes the BIP143 witness program signature hash for input 0 of
// tx (every transaction this package builds has exactly one input), per
// spec §4.2 "sighash()".
func sighash(tx *wire.MsgTx, prev *prevOutput, witnessScript []byte) ([]byte, error) {
	fetcher := txscript.NewCannedPrevOutputFetcher(prev.pkScript, prev.value)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	return txscript.CalcWitnessSigHash(witnessScript, sigHashes, txscript.SigHashAll, tx, 0, prev.value)
}

// relativeLocktimeInBlocks packs a block-count relative timelock into the
// nSequence encoding defined by BIP68 (bit 22 clear selects block units,
// bit 31 clear marks the relative-locktime as enabled).
func relativeLocktimeInBlocks(blocks uint32) uint32 {
	return blocks & 0x0000ffff
}

// addressScript resolves a mainnet/testnet/etc bech32 or base58 address
// string into its scriptPubKey, used for TxRefund/TxPunish/TxRedeem's
// single-party payout outputs.
func addressScript(addr string, params *chaincfg.Params) ([]byte, error) {
	a, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: decode address %q: %w", addr, err)
	}
	return txscript.PayToAddrScript(a)
}

// AddressScript resolves addr into its scriptPubKey for the given network
// parameters (exported for the setup ceremony's TxRefund/TxPunish/TxRedeem
// output resolution).
func AddressScript(addr string, params *chaincfg.Params) ([]byte, error) {
	return addressScript(addr, params)
}

// spendOneInputOneOutput builds the common shape shared by TxCancel,
// TxRefund, TxPunish, and TxRedeem: one input (spending prevOut with the
// given sequence), one output (outScript for outValue), version 2, locktime
// 0 (every timelock in this protocol is expressed as a relative, not
// absolute, locktime via nSequence).
func spendOneInputOneOutput(
	prevOut *wire.OutPoint,
	sequence uint32,
	outScript []byte,
	outValue int64,
) *wire.MsgTx {
	tx := wire.NewMsgTx(txVersion)
	txIn := wire.NewTxIn(prevOut, nil, nil)
	txIn.Sequence = sequence
	tx.AddTxIn(txIn)
	tx.AddTxOut(wire.NewTxOut(outValue, outScript))
	return tx
}

func subtractFee(amount, fee coins.BitcoinAmount) (coins.BitcoinAmount, error) {
	out := amount.Sub(fee)
	if out.Sats() <= 0 {
		return 0, fmt.Errorf("bitcoin: fee %s exceeds or equals input amount %s", fee, amount)
	}
	return out, nil
}

// signInput produces this party's Schnorr signature over tx's single
// input's sighash under key, using witnessScript as the signed script code.
func signInput(key *secp256k1.PrivateKey, tx *wire.MsgTx, prev *prevOutput, witnessScript []byte) (*secp256k1.Signature, error) {
	h, err := sighash(tx, prev, witnessScript)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: sighash: %w", err)
	}
	return secp256k1.Sign(key, h)
}
