// Package secp256k1 wraps github.com/btcsuite/btcd/btcec/v2 with the
// scalar/point and Schnorr-adaptor-signature primitives needed by the
// setup ceremony and the Bitcoin transaction builders (spec §4.1, C1).
package secp256k1

import (
	"crypto/rand"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// PrivateKey is a secp256k1 scalar.
type PrivateKey struct {
	key *btcec.PrivateKey
}

// PublicKey is a secp256k1 point.
type PublicKey struct {
	key *btcec.PublicKey
}

// GeneratePrivateKey returns a fresh random scalar.
func GeneratePrivateKey() (*PrivateKey, error) {
	k, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: k}, nil
}

// NewPrivateKeyFromBytes constructs a scalar from its 32-byte big-endian
// encoding, matching the teacher's fixed-seed test vectors (e.g. a=0x01..01).
func NewPrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	if len(b) != 32 {
		return nil, fmt.Errorf("secp256k1: private key must be 32 bytes, got %d", len(b))
	}
	k, pub := btcec.PrivKeyFromBytes(b)
	_ = pub
	return &PrivateKey{key: k}, nil
}

// Bytes returns the 32-byte big-endian encoding of the scalar.
func (k *PrivateKey) Bytes() [32]byte {
	var b [32]byte
	copy(b[:], k.key.Serialize())
	return b
}

// Public returns the corresponding public point A = a*G.
func (k *PrivateKey) Public() *PublicKey {
	return &PublicKey{key: k.key.PubKey()}
}

// BTCEC exposes the underlying btcec key for use by the Bitcoin tx builders.
func (k *PrivateKey) BTCEC() *btcec.PrivateKey {
	return k.key
}

// Add returns a scalar representing (k + other) mod n.
func (k *PrivateKey) Add(other *PrivateKey) *PrivateKey {
	ks := new(btcec.ModNScalar)
	ks.SetByteSlice(k.key.Serialize())
	os := new(btcec.ModNScalar)
	os.SetByteSlice(other.key.Serialize())
	ks.Add(os)
	sum := btcec.PrivKeyFromScalar(ks)
	return &PrivateKey{key: sum}
}

// NewPublicKeyFromBytes parses a compressed (33-byte) or uncompressed
// (65-byte) secp256k1 point.
func NewPublicKeyFromBytes(b []byte) (*PublicKey, error) {
	p, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, err
	}
	return &PublicKey{key: p}, nil
}

// SerializeCompressed returns the 33-byte compressed point encoding.
func (p *PublicKey) SerializeCompressed() []byte {
	return p.key.SerializeCompressed()
}

// BTCEC exposes the underlying btcec point for use by the Bitcoin tx builders.
func (p *PublicKey) BTCEC() *btcec.PublicKey {
	return p.key
}

// Add returns the point p + other.
func (p *PublicKey) Add(other *PublicKey) *PublicKey {
	var p1, p2, sum btcec.JacobianPoint
	p.key.AsJacobian(&p1)
	other.key.AsJacobian(&p2)
	btcec.AddNonConst(&p1, &p2, &sum)
	sum.ToAffine()
	return &PublicKey{key: btcec.NewPublicKey(&sum.X, &sum.Y)}
}

// Equal reports whether two public keys are the same point.
func (p *PublicKey) Equal(other *PublicKey) bool {
	return p.key.IsEqual(other.key)
}

func (p *PublicKey) String() string {
	return fmt.Sprintf("%x", p.SerializeCompressed())
}

// randomScalarBytes returns 32 bytes from crypto/rand; mirrors the
// teacher's reliance on crypto/rand for nonce generation.
func randomScalarBytes() ([]byte, error) {
	b := make([]byte, 32)
	_, err := rand.Read(b)
	return b, err
}
