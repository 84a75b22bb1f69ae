package bitcoin

import (
	"fmt"

	"github.com/btcsuite/btcd/wire"

	"github.com/athanorlabs/xmr-btc-swap/coins"
	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
)

// TxCancel spends TxLock into a fresh 2-of-{A,B} output once the cancel
// timelock has elapsed, re-enforced by nSequence = T_c (spec §4.2
// "TxCancel.new(tx_lock, T_c, A, B)"). It is fully cooperatively signed by
// both parties during the setup ceremony (SetupM3/SetupM4), long before
// either timelock actually elapses.
type TxCancel struct {
	Tx            *wire.MsgTx
	WitnessScript []byte
	Amount        coins.BitcoinAmount

	lockWitnessScript []byte
	lockAmount        coins.BitcoinAmount
}

// NewTxCancel builds TxCancel spending lock, paying the fee-adjusted amount
// back into a new 2-of-{a,b} output (reusing the same keys as TxLock; the
// spec allows but doesn't require distinct cancel-output keys).
func NewTxCancel(lock *TxLock, a, b *secp256k1.PublicKey, cancelTimelockBlocks uint32, fee coins.BitcoinAmount) (*TxCancel, error) {
	amount, err := subtractFee(lock.Amount, fee)
	if err != nil {
		return nil, err
	}

	witnessScript, err := MultisigWitnessScript(a, b)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: build cancel witness script: %w", err)
	}
	outScript, err := P2WSHScriptPubKey(witnessScript)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: build cancel scriptPubKey: %w", err)
	}

	tx := spendOneInputOneOutput(lock.Outpoint(), relativeLocktimeInBlocks(cancelTimelockBlocks), outScript, amount.Sats())

	return &TxCancel{
		Tx:                tx,
		WitnessScript:     witnessScript,
		Amount:            amount,
		lockWitnessScript: lock.WitnessScript,
		lockAmount:        lock.Amount,
	}, nil
}

// Sighash returns the BIP143 sighash both parties sign during the setup
// ceremony (spec §4.2 "sighash()").
func (c *TxCancel) Sighash() ([]byte, error) {
	pkScript, err := P2WSHScriptPubKey(c.lockWitnessScript)
	if err != nil {
		return nil, err
	}
	return sighash(c.Tx, &prevOutput{value: c.lockAmount.Sats(), pkScript: pkScript}, c.lockWitnessScript)
}

// Sign produces this party's signature over TxCancel's sighash.
func (c *TxCancel) Sign(key *secp256k1.PrivateKey) (*secp256k1.Signature, error) {
	h, err := c.Sighash()
	if err != nil {
		return nil, err
	}
	return secp256k1.Sign(key, h)
}

// AddSignatures finalizes the witness once both parties' signatures over
// lock's 2-of-2 script are known (spec §4.2 "addSignatures()").
func (c *TxCancel) AddSignatures(a, b *secp256k1.PublicKey, sigA, sigB *secp256k1.Signature) error {
	stack, err := witnessStack(a, b, sigA.Serialize(), sigB.Serialize(), c.lockWitnessScript)
	if err != nil {
		return err
	}
	c.Tx.TxIn[0].Witness = stack
	return nil
}

// Outpoint references TxCancel's output, the prevout TxRefund and TxPunish
// spend.
func (c *TxCancel) Outpoint() *wire.OutPoint {
	h := c.Tx.TxHash()
	return wire.NewOutPoint(&h, 0)
}
