// Package monero implements the ed25519 scalar/point arithmetic needed to
// derive and combine Monero key shares (spec §3, §4.1d, §4.3). It does not
// talk to a wallet; see the top-level monero package for the wallet-rpc
// client and transfer-proof handling (C3).
package monero

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
)

// PrivateSpendKey is an ed25519 scalar used as a Monero spend key share.
type PrivateSpendKey struct {
	scalar *edwards25519.Scalar
}

// PrivateViewKey is an ed25519 scalar used as a Monero view key share.
type PrivateViewKey struct {
	scalar *edwards25519.Scalar
}

// PublicKey is an ed25519 point (a Monero spend or view public key).
type PublicKey struct {
	point *edwards25519.Point
}

// NewPrivateSpendKey constructs a spend key share from its 32-byte
// little-endian scalar encoding, reducing mod l as Monero does.
func NewPrivateSpendKey(b []byte) (*PrivateSpendKey, error) {
	s, err := scalarFromCanonicalOrWide(b)
	if err != nil {
		return nil, fmt.Errorf("monero: invalid spend key: %w", err)
	}
	return &PrivateSpendKey{scalar: s}, nil
}

// GeneratePrivateSpendKey returns a fresh random spend key share.
func GeneratePrivateSpendKey() (*PrivateSpendKey, error) {
	var wide [64]byte
	if _, err := rand.Read(wide[:]); err != nil {
		return nil, err
	}
	s, err := edwards25519.NewScalar().SetUniformBytes(wide[:])
	if err != nil {
		return nil, err
	}
	return &PrivateSpendKey{scalar: s}, nil
}

// GeneratePrivateViewKey returns a fresh random view key share, used when a
// party's view key is not deterministically derived from its spend key
// (spec §4.4 "v_b"/"v_a" are each party's own independent view key share).
func GeneratePrivateViewKey() (*PrivateViewKey, error) {
	var wide [64]byte
	if _, err := rand.Read(wide[:]); err != nil {
		return nil, err
	}
	s, err := edwards25519.NewScalar().SetUniformBytes(wide[:])
	if err != nil {
		return nil, err
	}
	return &PrivateViewKey{scalar: s}, nil
}

// View derives the view key deterministically from the spend key as
// SHA-512(s) reduced mod l. Monero's own H_s uses Keccak-256, so the result
// differs from the view key a Monero wallet derives. Used when reconstructing a
// wallet from a recovered secret spend key alone (spec §4.3 "redemption").
func (k *PrivateSpendKey) View() (*PrivateViewKey, error) {
	h := sha512.Sum512(k.Bytes()[:])
	s, err := edwards25519.NewScalar().SetUniformBytes(h[:])
	if err != nil {
		return nil, err
	}
	return &PrivateViewKey{scalar: s}, nil
}

// Bytes returns the 32-byte little-endian scalar encoding.
func (k *PrivateSpendKey) Bytes() [32]byte {
	var b [32]byte
	copy(b[:], k.scalar.Bytes())
	return b
}

// Public returns the corresponding public point S = s*B.
func (k *PrivateSpendKey) Public() *PublicKey {
	return &PublicKey{point: new(edwards25519.Point).ScalarBaseMult(k.scalar)}
}

// Bytes returns the 32-byte little-endian scalar encoding.
func (k *PrivateViewKey) Bytes() [32]byte {
	var b [32]byte
	copy(b[:], k.scalar.Bytes())
	return b
}

// Public returns the corresponding public point V = v*B.
func (k *PrivateViewKey) Public() *PublicKey {
	return &PublicKey{point: new(edwards25519.Point).ScalarBaseMult(k.scalar)}
}

// NewPrivateViewKey constructs a view key share from its 32-byte
// little-endian scalar encoding.
func NewPrivateViewKey(b []byte) (*PrivateViewKey, error) {
	s, err := scalarFromCanonicalOrWide(b)
	if err != nil {
		return nil, fmt.Errorf("monero: invalid view key: %w", err)
	}
	return &PrivateViewKey{scalar: s}, nil
}

// SumPrivateSpendKeys returns s_a + s_b mod l, reconstructing the joint
// spend key once both shares are known (spec §4.5/4.6 "BtcRefunded ->
// XmrRefunded", "BtcRedeemed -> XmrRedeemed").
func SumPrivateSpendKeys(a, b *PrivateSpendKey) *PrivateSpendKey {
	sum := edwards25519.NewScalar().Add(a.scalar, b.scalar)
	return &PrivateSpendKey{scalar: sum}
}

// SumPrivateViewKeys returns v_a + v_b mod l.
func SumPrivateViewKeys(a, b *PrivateViewKey) *PrivateViewKey {
	sum := edwards25519.NewScalar().Add(a.scalar, b.scalar)
	return &PrivateViewKey{scalar: sum}
}

// SumPublicKeys returns the point sum of two public keys, used to derive the
// joint spend public key S = S_a + S_b (spec §3).
func SumPublicKeys(a, b *PublicKey) *PublicKey {
	return &PublicKey{point: new(edwards25519.Point).Add(a.point, b.point)}
}

// Bytes returns the 32-byte compressed point encoding.
func (p *PublicKey) Bytes() [32]byte {
	var b [32]byte
	copy(b[:], p.point.Bytes())
	return b
}

// NewPublicKeyFromBytes parses a compressed ed25519 point.
func NewPublicKeyFromBytes(b []byte) (*PublicKey, error) {
	p, err := new(edwards25519.Point).SetBytes(b)
	if err != nil {
		return nil, fmt.Errorf("monero: invalid public key: %w", err)
	}
	return &PublicKey{point: p}, nil
}

func scalarFromCanonicalOrWide(b []byte) (*edwards25519.Scalar, error) {
	if len(b) == 32 {
		if s, err := edwards25519.NewScalar().SetCanonicalBytes(b); err == nil {
			return s, nil
		}
		// not a canonical (already-reduced) scalar: widen and reduce mod l,
		// matching the DLEQ secret's raw 32-byte output (spec §4.1).
		var wide [64]byte
		copy(wide[:], b)
		return edwards25519.NewScalar().SetUniformBytes(wide[:])
	}
	if len(b) == 64 {
		return edwards25519.NewScalar().SetUniformBytes(b)
	}
	return nil, fmt.Errorf("scalar must be 32 or 64 bytes, got %d", len(b))
}
