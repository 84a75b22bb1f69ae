package bitcoin

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/athanorlabs/xmr-btc-swap/coins"
)

func TestTxEarlyRefundSpendsTxLockOutpointDirectly(t *testing.T) {
	_, a := newKeyPair(t)
	_, b := newKeyPair(t)
	lock := fakeLock(t, a, b, coins.BitcoinToSats(1))

	refundScript, err := P2WSHScriptPubKey([]byte{0x51})
	require.NoError(t, err)

	early, err := NewTxEarlyRefund(lock, refundScript, coins.BitcoinAmount(500))
	require.NoError(t, err)

	wantOutpoint := lock.Outpoint()
	require.Equal(t, *wantOutpoint, early.Tx.TxIn[0].PreviousOutPoint)
	require.EqualValues(t, 0, early.Tx.TxIn[0].Sequence, "no relative timelock: both parties are cooperating in real time")
	require.Equal(t, lock.Amount.Sub(500), early.Amount)
}

func TestTxEarlyRefundRejectsFeeExceedingAmount(t *testing.T) {
	_, a := newKeyPair(t)
	_, b := newKeyPair(t)
	lock := fakeLock(t, a, b, coins.BitcoinAmount(500))

	refundScript, err := P2WSHScriptPubKey([]byte{0x51})
	require.NoError(t, err)

	_, err = NewTxEarlyRefund(lock, refundScript, coins.BitcoinAmount(1000))
	require.Error(t, err)
}

func TestTxEarlyRefundTwoPartySigningFinalizesWitness(t *testing.T) {
	keyA, a := newKeyPair(t)
	keyB, b := newKeyPair(t)
	lock := fakeLock(t, a, b, coins.BitcoinToSats(1))

	refundScript, err := P2WSHScriptPubKey([]byte{0x51})
	require.NoError(t, err)

	early, err := NewTxEarlyRefund(lock, refundScript, coins.BitcoinAmount(500))
	require.NoError(t, err)

	sigA, err := early.Sign(keyA)
	require.NoError(t, err)
	sigB, err := early.Sign(keyB)
	require.NoError(t, err)

	require.NoError(t, early.AddSignatures(a, b, sigA, sigB))
	require.Len(t, early.Tx.TxIn[0].Witness, 3)
	require.Equal(t, lock.WitnessScript, []byte(early.Tx.TxIn[0].Witness[2]))
}

func TestTxEarlyRefundBuiltIndependentlyByBothPartiesIsIdentical(t *testing.T) {
	_, a := newKeyPair(t)
	_, b := newKeyPair(t)
	lock := fakeLock(t, a, b, coins.BitcoinToSats(1))

	refundScript, err := P2WSHScriptPubKey([]byte{0x51})
	require.NoError(t, err)

	// Alice and Bob each construct TxEarlyRefund deterministically from the
	// same already-known inputs, without any additional round trip to
	// exchange the unsigned transaction.
	aliceSide, err := NewTxEarlyRefund(lock, refundScript, coins.BitcoinAmount(500))
	require.NoError(t, err)
	bobSide, err := NewTxEarlyRefund(lock, refundScript, coins.BitcoinAmount(500))
	require.NoError(t, err)

	require.Equal(t, aliceSide.Tx.TxHash(), bobSide.Tx.TxHash())
}
