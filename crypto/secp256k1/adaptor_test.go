package secp256k1

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

func TestAdaptorEncryptDecryptRecover(t *testing.T) {
	x, err := GeneratePrivateKey()
	require.NoError(t, err)

	secret, err := GeneratePrivateKey()
	require.NoError(t, err)
	statement := secret.Public()

	msg := []byte("txredeem-sighash")

	enc, err := EncryptSign(x, statement, msg)
	require.NoError(t, err)
	require.True(t, VerifyEncSig(x.Public(), statement, msg, enc))

	sig := Decrypt(enc, secret)
	require.True(t, Verify(x.Public(), msg, sig))

	recovered, err := Recover(x.Public(), enc, sig)
	require.NoError(t, err)
	require.Equal(t, secret.Bytes(), recovered.Bytes())
}

func TestAdaptorRejectsTamperedEncSig(t *testing.T) {
	x, err := GeneratePrivateKey()
	require.NoError(t, err)
	secret, err := GeneratePrivateKey()
	require.NoError(t, err)
	statement := secret.Public()
	msg := []byte("message")

	enc, err := EncryptSign(x, statement, msg)
	require.NoError(t, err)

	one := new(btcec.ModNScalar).SetInt(1)
	enc.SPrime.Add(one)
	require.False(t, VerifyEncSig(x.Public(), statement, msg, enc))
}
