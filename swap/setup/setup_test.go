package setup

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/athanorlabs/xmr-btc-swap/crypto/dleq"
)

func TestGenerateKeyMaterialBindsSameScalarAcrossCurves(t *testing.T) {
	km, err := GenerateKeyMaterial()
	require.NoError(t, err)

	// The ed25519 spend share and the secp256k1 adaptor secret must be the
	// same 32-byte scalar, since the DLEQ proof only binds one secret.
	require.Equal(t, km.SpendShareEd.Bytes(), km.Proof.Secret())

	result, err := (dleq.Secret{}).Verify(dleq.NewProofWithoutSecret(km.Proof))
	require.NoError(t, err)
	require.Equal(t, km.SpendShareEd.Public().Bytes(), result.Ed25519Pub.Bytes())
	require.True(t, km.SpendShareSecp.Public().Equal(result.Secp256k1Pub))
}

func TestVerifyPeerShareAcceptsGenuineBundle(t *testing.T) {
	km, err := GenerateKeyMaterial()
	require.NoError(t, err)

	proof := dleq.NewProofWithoutSecret(km.Proof)
	peer, err := verifyPeerShare(
		km.Bitcoin.Public().SerializeCompressed(),
		bytesOf(km.SpendShareEd.Public().Bytes()),
		km.SpendShareSecp.Public().SerializeCompressed(),
		proof.Marshal(),
		bytesOf(km.ViewShare.Bytes()),
	)
	require.NoError(t, err)
	require.True(t, peer.Bitcoin.Equal(km.Bitcoin.Public()))
	require.True(t, peer.SpendBitcoin.Equal(km.SpendShareSecp.Public()))
}

func TestVerifyPeerShareRejectsMismatchedStatement(t *testing.T) {
	km, err := GenerateKeyMaterial()
	require.NoError(t, err)
	other, err := GenerateKeyMaterial()
	require.NoError(t, err)

	proof := dleq.NewProofWithoutSecret(km.Proof)
	_, err = verifyPeerShare(
		km.Bitcoin.Public().SerializeCompressed(),
		bytesOf(km.SpendShareEd.Public().Bytes()),
		other.SpendShareSecp.Public().SerializeCompressed(), // wrong statement
		proof.Marshal(),
		bytesOf(km.ViewShare.Bytes()),
	)
	require.Error(t, err)
}

func TestJointAddressIsSymmetric(t *testing.T) {
	a, err := GenerateKeyMaterial()
	require.NoError(t, err)
	b, err := GenerateKeyMaterial()
	require.NoError(t, err)

	fromA := jointAddress(0, a.SpendShareEd, a.ViewShare, b.SpendShareEd.Public(), b.ViewShare)
	fromB := jointAddress(0, b.SpendShareEd, b.ViewShare, a.SpendShareEd.Public(), a.ViewShare)
	require.Equal(t, fromA, fromB)
}
