package bitcoin

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/athanorlabs/xmr-btc-swap/coins"
	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
)

// TxPunish spends TxCancel to Alice's punish address once the punish
// timelock elapses without Bob refunding (spec §4.2 "TxPunish.new(tx_cancel,
// punish_addr, T_p)"). Unlike TxRefund, both signatures are produced
// cooperatively during the setup ceremony (SetupM4) — there's no adaptor
// secret to reveal, since punish is the "Bob failed to act" path and
// doesn't itself unlock anything on the Monero side.
type TxPunish struct {
	Tx     *wire.MsgTx
	Amount coins.BitcoinAmount

	cancelWitnessScript []byte
	cancelAmount        coins.BitcoinAmount
}

// NewTxPunish builds TxPunish spending cancel to punishScript, enforcing
// nSequence = T_p.
func NewTxPunish(cancel *TxCancel, punishScript []byte, punishTimelockBlocks uint32, fee coins.BitcoinAmount) (*TxPunish, error) {
	amount, err := subtractFee(cancel.Amount, fee)
	if err != nil {
		return nil, err
	}

	tx := spendOneInputOneOutput(cancel.Outpoint(), relativeLocktimeInBlocks(punishTimelockBlocks), punishScript, amount.Sats())

	return &TxPunish{
		Tx:                  tx,
		Amount:              amount,
		cancelWitnessScript: cancel.WitnessScript,
		cancelAmount:        cancel.Amount,
	}, nil
}

// Sighash returns the BIP143 sighash both parties sign during the setup
// ceremony.
func (p *TxPunish) Sighash() ([]byte, error) {
	pkScript, err := P2WSHScriptPubKey(p.cancelWitnessScript)
	if err != nil {
		return nil, err
	}
	return sighash(p.Tx, &prevOutput{value: p.cancelAmount.Sats(), pkScript: pkScript}, p.cancelWitnessScript)
}

// Sign produces this party's signature over TxPunish's sighash.
func (p *TxPunish) Sign(key *secp256k1.PrivateKey) (*secp256k1.Signature, error) {
	h, err := p.Sighash()
	if err != nil {
		return nil, err
	}
	return secp256k1.Sign(key, h)
}

// AddSignatures finalizes the witness once both parties' signatures are known.
func (p *TxPunish) AddSignatures(a, b *secp256k1.PublicKey, sigA, sigB *secp256k1.Signature) error {
	stack, err := witnessStack(a, b, sigA.Serialize(), sigB.Serialize(), p.cancelWitnessScript)
	if err != nil {
		return fmt.Errorf("bitcoin: finalize TxPunish witness: %w", err)
	}
	p.Tx.TxIn[0].Witness = stack
	return nil
}
