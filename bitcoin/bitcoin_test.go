package bitcoin

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/athanorlabs/xmr-btc-swap/coins"
	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
)

func newKeyPair(t *testing.T) (*secp256k1.PrivateKey, *secp256k1.PublicKey) {
	t.Helper()
	k, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return k, k.Public()
}

func TestMultisigWitnessScriptIsOrderIndependent(t *testing.T) {
	_, a := newKeyPair(t)
	_, b := newKeyPair(t)

	s1, err := MultisigWitnessScript(a, b)
	require.NoError(t, err)
	s2, err := MultisigWitnessScript(b, a)
	require.NoError(t, err)
	require.Equal(t, s1, s2)
}

func fakeLock(t *testing.T, a, b *secp256k1.PublicKey, amount coins.BitcoinAmount) *TxLock {
	t.Helper()
	witnessScript, err := MultisigWitnessScript(a, b)
	require.NoError(t, err)
	pkScript, err := P2WSHScriptPubKey(witnessScript)
	require.NoError(t, err)

	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(&wire.OutPoint{}, nil, nil))
	tx.AddTxOut(wire.NewTxOut(amount.Sats(), pkScript))

	return &TxLock{Tx: tx, VOut: 0, WitnessScript: witnessScript, Amount: amount}
}

func TestTxCancelSpendsTxLockOutpoint(t *testing.T) {
	_, a := newKeyPair(t)
	_, b := newKeyPair(t)
	lock := fakeLock(t, a, b, coins.BitcoinToSats(1))

	cancel, err := NewTxCancel(lock, a, b, 100, coins.BitcoinAmount(1000))
	require.NoError(t, err)

	wantOutpoint := lock.Outpoint()
	require.Equal(t, *wantOutpoint, cancel.Tx.TxIn[0].PreviousOutPoint)
	require.EqualValues(t, 100, cancel.Tx.TxIn[0].Sequence)
	require.Equal(t, lock.Amount.Sub(1000), cancel.Amount)
}

func TestTxRefundChainsFromTxCancel(t *testing.T) {
	_, a := newKeyPair(t)
	_, b := newKeyPair(t)
	lock := fakeLock(t, a, b, coins.BitcoinToSats(1))
	cancel, err := NewTxCancel(lock, a, b, 100, coins.BitcoinAmount(1000))
	require.NoError(t, err)

	refundScript, err := P2WSHScriptPubKey([]byte{0x51})
	require.NoError(t, err)

	refund, err := NewTxRefund(cancel, refundScript, coins.BitcoinAmount(500))
	require.NoError(t, err)

	require.Equal(t, *cancel.Outpoint(), refund.Tx.TxIn[0].PreviousOutPoint)
	require.Equal(t, cancel.Amount.Sub(500), refund.Amount)
}

func TestNewTxCancelRejectsFeeExceedingAmount(t *testing.T) {
	_, a := newKeyPair(t)
	_, b := newKeyPair(t)
	lock := fakeLock(t, a, b, coins.BitcoinAmount(500))

	_, err := NewTxCancel(lock, a, b, 100, coins.BitcoinAmount(1000))
	require.Error(t, err)
}

func TestSighashIsDeterministicAcrossIdenticalTx(t *testing.T) {
	_, a := newKeyPair(t)
	_, b := newKeyPair(t)
	lock := fakeLock(t, a, b, coins.BitcoinToSats(1))

	c1, err := NewTxCancel(lock, a, b, 100, coins.BitcoinAmount(1000))
	require.NoError(t, err)
	c2, err := NewTxCancel(lock, a, b, 100, coins.BitcoinAmount(1000))
	require.NoError(t, err)

	h1, err := c1.Sighash()
	require.NoError(t, err)
	h2, err := c2.Sighash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)
}

func TestAddSignaturesOrdersWitnessBySortedKey(t *testing.T) {
	_, a := newKeyPair(t)
	_, b := newKeyPair(t)
	lock := fakeLock(t, a, b, coins.BitcoinToSats(1))
	cancel, err := NewTxCancel(lock, a, b, 100, coins.BitcoinAmount(1000))
	require.NoError(t, err)

	sigA, err := cancel.Sign(mustKey(t))
	require.NoError(t, err)
	sigB, err := cancel.Sign(mustKey(t))
	require.NoError(t, err)

	require.NoError(t, cancel.AddSignatures(a, b, sigA, sigB))
	require.Len(t, cancel.Tx.TxIn[0].Witness, 3)
	require.Equal(t, cancel.WitnessScript, []byte(cancel.Tx.TxIn[0].Witness[2]))

	// The signature for the first-sorted key sits just below the script.
	wantFirst := sigA.Serialize()
	if bytes.Compare(b.SerializeCompressed(), a.SerializeCompressed()) < 0 {
		wantFirst = sigB.Serialize()
	}
	require.Equal(t, wantFirst, []byte(cancel.Tx.TxIn[0].Witness[1]))
}

func mustKey(t *testing.T) *secp256k1.PrivateKey {
	t.Helper()
	k, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return k
}
