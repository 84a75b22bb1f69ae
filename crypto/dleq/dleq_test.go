package dleq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProveVerifyRoundTrip(t *testing.T) {
	secret, err := NewRandomSecret()
	require.NoError(t, err)

	proof, err := secret.Prove()
	require.NoError(t, err)

	result, err := Secret{}.Verify(proof)
	require.NoError(t, err)
	require.NotNil(t, result.Secp256k1Pub)
	require.NotNil(t, result.Ed25519Pub)
}

func TestVerifyRejectsTamperedBit(t *testing.T) {
	secret, err := NewRandomSecret()
	require.NoError(t, err)

	proof, err := secret.Prove()
	require.NoError(t, err)

	// flip a single bit's challenge share; the per-bit OR-proof must reject.
	tampered := *proof
	tamperedBits := make([]bitProof, len(proof.bits))
	copy(tamperedBits, proof.bits)
	tamperedBits[0].c0.Add(tamperedBits[0].c0, tamperedBits[0].c0)
	tampered.bits = tamperedBits

	_, err = Secret{}.Verify(&tampered)
	require.ErrorIs(t, err, ErrInvalidProof)
}

func TestNewProofWithoutSecretStripsSecret(t *testing.T) {
	secret, err := NewRandomSecret()
	require.NoError(t, err)

	proof, err := secret.Prove()
	require.NoError(t, err)
	require.NotEqual(t, [32]byte{}, proof.Secret())

	stripped := NewProofWithoutSecret(proof)
	require.Equal(t, [32]byte{}, stripped.Secret())

	result, err := Secret{}.Verify(stripped)
	require.NoError(t, err)
	require.NotNil(t, result)
}
