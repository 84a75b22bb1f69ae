package bitcoin

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/athanorlabs/xmr-btc-swap/coins"
	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
)

// TxRefund spends TxCancel to Bob's refund address (spec §4.2 "TxRefund.new
// (tx_cancel, refund_addr)"). Alice's half of the witness is an
// adaptor-encrypted signature under statement S_b_bitcoin; Bob alone can
// complete and broadcast it (he holds s_b), and Alice recovers s_b by
// observing the completed signature on chain (spec §4.2, §4.5 property 6).
type TxRefund struct {
	Tx     *wire.MsgTx
	Amount coins.BitcoinAmount

	cancelWitnessScript []byte
	cancelAmount        coins.BitcoinAmount
}

// NewTxRefund builds TxRefund spending cancel to refundScript.
func NewTxRefund(cancel *TxCancel, refundScript []byte, fee coins.BitcoinAmount) (*TxRefund, error) {
	amount, err := subtractFee(cancel.Amount, fee)
	if err != nil {
		return nil, err
	}

	tx := spendOneInputOneOutput(cancel.Outpoint(), 0, refundScript, amount.Sats())

	return &TxRefund{
		Tx:                  tx,
		Amount:              amount,
		cancelWitnessScript: cancel.WitnessScript,
		cancelAmount:        cancel.Amount,
	}, nil
}

// Sighash returns the BIP143 sighash signed (by Alice, as an adaptor
// encsig) and completed (by Bob) over TxRefund.
func (r *TxRefund) Sighash() ([]byte, error) {
	pkScript, err := P2WSHScriptPubKey(r.cancelWitnessScript)
	if err != nil {
		return nil, err
	}
	return sighash(r.Tx, &prevOutput{value: r.cancelAmount.Sats(), pkScript: pkScript}, r.cancelWitnessScript)
}

// EncryptSign produces Alice's adaptor signature on TxRefund under
// statement S_b_bitcoin = s_b*G (spec §4.2, §4.5 "Alice must hold ... Bob's
// adaptor-encsig on TxRefund").
func (r *TxRefund) EncryptSign(alice *secp256k1.PrivateKey, statementSB *secp256k1.PublicKey) (*secp256k1.EncSig, error) {
	h, err := r.Sighash()
	if err != nil {
		return nil, err
	}
	return secp256k1.EncryptSign(alice, statementSB, h)
}

// VerifyEncSig checks Alice's adaptor signature before Bob relies on it.
func (r *TxRefund) VerifyEncSig(alicePub, statementSB *secp256k1.PublicKey, enc *secp256k1.EncSig) bool {
	h, err := r.Sighash()
	if err != nil {
		return false
	}
	return secp256k1.VerifyEncSig(alicePub, statementSB, h, enc)
}

// Sign produces Bob's plain (non-adaptor) signature over TxRefund; only
// Alice's half is encrypted under S_b_bitcoin.
func (r *TxRefund) Sign(key *secp256k1.PrivateKey) (*secp256k1.Signature, error) {
	h, err := r.Sighash()
	if err != nil {
		return nil, err
	}
	return secp256k1.Sign(key, h)
}

// AddSignatures finalizes the witness once Alice's (decrypted) and Bob's
// signatures are known.
func (r *TxRefund) AddSignatures(a, b *secp256k1.PublicKey, sigA, sigB *secp256k1.Signature) error {
	stack, err := witnessStack(a, b, sigA.Serialize(), sigB.Serialize(), r.cancelWitnessScript)
	if err != nil {
		return fmt.Errorf("bitcoin: finalize TxRefund witness: %w", err)
	}
	r.Tx.TxIn[0].Witness = stack
	return nil
}
