package bitcoin

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/athanorlabs/xmr-btc-swap/coins"
	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
)

// TxRedeem spends TxLock directly to Alice's redeem address (spec §4.2
// "TxRedeem.new(tx_lock, redeem_addr)"). Bob's half of the witness is an
// adaptor-encrypted signature under statement S_a_bitcoin; Alice completes
// it with s_a (her own Monero spend-key share, which she already knows),
// and broadcasting exposes s_a to Bob via adaptor recovery (spec §4.2,
// §4.6 "EncSigSent").
type TxRedeem struct {
	Tx     *wire.MsgTx
	Amount coins.BitcoinAmount

	lockWitnessScript []byte
	lockAmount        coins.BitcoinAmount
}

// NewTxRedeem builds TxRedeem spending lock to redeemScript.
func NewTxRedeem(lock *TxLock, redeemScript []byte, fee coins.BitcoinAmount) (*TxRedeem, error) {
	amount, err := subtractFee(lock.Amount, fee)
	if err != nil {
		return nil, err
	}

	tx := spendOneInputOneOutput(lock.Outpoint(), 0, redeemScript, amount.Sats())

	return &TxRedeem{
		Tx:                tx,
		Amount:            amount,
		lockWitnessScript: lock.WitnessScript,
		lockAmount:        lock.Amount,
	}, nil
}

// Sighash returns the BIP143 sighash Bob signs (as an adaptor encsig) and
// Alice completes over TxRedeem.
func (r *TxRedeem) Sighash() ([]byte, error) {
	pkScript, err := P2WSHScriptPubKey(r.lockWitnessScript)
	if err != nil {
		return nil, err
	}
	return sighash(r.Tx, &prevOutput{value: r.lockAmount.Sats(), pkScript: pkScript}, r.lockWitnessScript)
}

// EncryptSign produces Bob's adaptor signature on TxRedeem under statement
// S_a_bitcoin = s_a*G (spec §4.2, §4.6 "EncSigSent").
func (r *TxRedeem) EncryptSign(bob *secp256k1.PrivateKey, statementSA *secp256k1.PublicKey) (*secp256k1.EncSig, error) {
	h, err := r.Sighash()
	if err != nil {
		return nil, err
	}
	return secp256k1.EncryptSign(bob, statementSA, h)
}

// VerifyEncSig checks Bob's adaptor signature before Alice relies on it
// (spec §4.5 "EncSigLearned ... verify against (B, S_a_bitcoin, sighash_redeem)").
func (r *TxRedeem) VerifyEncSig(bobPub, statementSA *secp256k1.PublicKey, enc *secp256k1.EncSig) bool {
	h, err := r.Sighash()
	if err != nil {
		return false
	}
	return secp256k1.VerifyEncSig(bobPub, statementSA, h, enc)
}

// Sign produces Alice's plain (non-adaptor) signature over TxRedeem; only
// Bob's half is encrypted under S_a_bitcoin.
func (r *TxRedeem) Sign(key *secp256k1.PrivateKey) (*secp256k1.Signature, error) {
	h, err := r.Sighash()
	if err != nil {
		return nil, err
	}
	return secp256k1.Sign(key, h)
}

// AddSignatures finalizes the witness once Alice's and Bob's (decrypted)
// signatures are known.
func (r *TxRedeem) AddSignatures(a, b *secp256k1.PublicKey, sigA, sigB *secp256k1.Signature) error {
	stack, err := witnessStack(a, b, sigA.Serialize(), sigB.Serialize(), r.lockWitnessScript)
	if err != nil {
		return fmt.Errorf("bitcoin: finalize TxRedeem witness: %w", err)
	}
	r.Tx.TxIn[0].Witness = stack
	return nil
}
