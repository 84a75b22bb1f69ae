package bitcoin

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/athanorlabs/xmr-btc-swap/coins"
	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
)

// TxEarlyRefund spends TxLock directly to Bob's refund address, without
// waiting on the cancel timelock (spec §4.5 "BtcLockTransactionSeen ->
// BtcEarlyRefunded", an optional extension gated by both parties'
// consent). Unlike TxRefund, which spends TxCancel and relies on one
// party's signature being an adaptor encsig, TxEarlyRefund spends TxLock's
// 2-of-2 output directly and is cooperatively signed in plain: it only
// ever gets built and broadcast when both parties have already agreed,
// over the peer channel, to skip the cancel/refund path entirely.
type TxEarlyRefund struct {
	Tx     *wire.MsgTx
	Amount coins.BitcoinAmount

	lockWitnessScript []byte
	lockAmount        coins.BitcoinAmount
}

// NewTxEarlyRefund builds TxEarlyRefund spending lock to refundScript
// (Bob's own refund destination, the same payout TxRefund would
// eventually reach via the cancel path).
func NewTxEarlyRefund(lock *TxLock, refundScript []byte, fee coins.BitcoinAmount) (*TxEarlyRefund, error) {
	amount, err := subtractFee(lock.Amount, fee)
	if err != nil {
		return nil, err
	}

	tx := spendOneInputOneOutput(lock.Outpoint(), 0, refundScript, amount.Sats())

	return &TxEarlyRefund{
		Tx:                tx,
		Amount:            amount,
		lockWitnessScript: lock.WitnessScript,
		lockAmount:        lock.Amount,
	}, nil
}

// Sighash returns the BIP143 sighash both parties sign.
func (r *TxEarlyRefund) Sighash() ([]byte, error) {
	pkScript, err := P2WSHScriptPubKey(r.lockWitnessScript)
	if err != nil {
		return nil, err
	}
	return sighash(r.Tx, &prevOutput{value: r.lockAmount.Sats(), pkScript: pkScript}, r.lockWitnessScript)
}

// Sign produces this party's plain signature over TxEarlyRefund's sighash.
func (r *TxEarlyRefund) Sign(key *secp256k1.PrivateKey) (*secp256k1.Signature, error) {
	h, err := r.Sighash()
	if err != nil {
		return nil, err
	}
	return secp256k1.Sign(key, h)
}

// AddSignatures finalizes the witness once both parties' signatures over
// lock's 2-of-2 script are known.
func (r *TxEarlyRefund) AddSignatures(a, b *secp256k1.PublicKey, sigA, sigB *secp256k1.Signature) error {
	stack, err := witnessStack(a, b, sigA.Serialize(), sigB.Serialize(), r.lockWitnessScript)
	if err != nil {
		return fmt.Errorf("bitcoin: finalize TxEarlyRefund witness: %w", err)
	}
	r.Tx.TxIn[0].Witness = stack
	return nil
}
