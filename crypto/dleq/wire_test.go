package dleq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalUnmarshalProofRoundTrip(t *testing.T) {
	secret, err := NewRandomSecret()
	require.NoError(t, err)

	proof, err := secret.Prove()
	require.NoError(t, err)

	stripped := NewProofWithoutSecret(proof)
	encoded := stripped.Marshal()

	decoded, err := UnmarshalProof(encoded)
	require.NoError(t, err)

	result, err := Secret{}.Verify(decoded)
	require.NoError(t, err)
	require.NotNil(t, result.Secp256k1Pub)
	require.NotNil(t, result.Ed25519Pub)
}

func TestUnmarshalProofRejectsTruncatedBytes(t *testing.T) {
	secret, err := NewRandomSecret()
	require.NoError(t, err)

	proof, err := secret.Prove()
	require.NoError(t, err)

	encoded := NewProofWithoutSecret(proof).Marshal()
	_, err = UnmarshalProof(encoded[:len(encoded)/2])
	require.Error(t, err)
}
