package dleq

import (
	"crypto/rand"
	"crypto/sha256"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcec/v2"
)

// Per-bit challenges in this package are integers mod 2^256 and nonces
// are drawn much wider than either group order. Responses are kept as
// unreduced integers and reduced separately, mod n (secp256k1's order)
// when checked on secp256k1 and mod l (ed25519's order) when checked on
// ed25519, so one integer response satisfies the sigma-protocol equation
// in both groups at once, which is what lets one OR-proof bind a single
// bit of the secret across both curves.
//
// secpH and edH are nothing-up-my-sleeve second generators for the
// Pedersen commitments used in the per-bit proof, derived by hashing a
// fixed domain-separation string to a scalar and multiplying the base
// point (a simplification of a verifiable hash-to-curve construction,
// acceptable for a reference/teaching implementation).
var (
	secpH = secpScalarBaseMult(edScalarToSecp(edHashScalar("xmrbtc-dleq-H-secp256k1-v1")))
	edH   = edScalarBaseMult(edHashScalar("xmrbtc-dleq-H-ed25519-v1"))
)

func edHashScalar(domain string) *edwards25519.Scalar {
	sum := sha256.Sum256([]byte(domain))
	var wide [64]byte
	copy(wide[:], sum[:])
	s, _ := edwards25519.NewScalar().SetUniformBytes(wide[:])
	return s
}

// edScalarToSecp reinterprets an ed25519 scalar (always < l < n) as the
// numerically identical secp256k1 scalar.
func edScalarToSecp(s *edwards25519.Scalar) *btcec.ModNScalar {
	little := s.Bytes() // 32 bytes, little-endian
	big := make([]byte, 32)
	for i := 0; i < 32; i++ {
		big[i] = little[31-i]
	}
	var out btcec.ModNScalar
	out.SetByteSlice(big)
	return &out
}

func secpScalarBaseMult(s *btcec.ModNScalar) *btcec.JacobianPoint {
	var j btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(s, &j)
	j.ToAffine()
	return &j
}

func edScalarBaseMult(s *edwards25519.Scalar) *edwards25519.Point {
	return new(edwards25519.Point).ScalarBaseMult(s)
}

func secpScalarMult(s *btcec.ModNScalar, p *btcec.JacobianPoint) *btcec.JacobianPoint {
	var out btcec.JacobianPoint
	btcec.ScalarMultNonConst(s, p, &out)
	out.ToAffine()
	return &out
}

func secpPointAdd(a, b *btcec.JacobianPoint) *btcec.JacobianPoint {
	var out btcec.JacobianPoint
	btcec.AddNonConst(a, b, &out)
	out.ToAffine()
	return &out
}

func secpPointNeg(a *btcec.JacobianPoint) *btcec.JacobianPoint {
	out := *a
	out.Y.Negate(1)
	out.Y.Normalize()
	return &out
}

func secpPointSub(a, b *btcec.JacobianPoint) *btcec.JacobianPoint {
	return secpPointAdd(a, secpPointNeg(b))
}

func secpPointEqual(a, b *btcec.JacobianPoint) bool {
	aCopy, bCopy := *a, *b
	aCopy.ToAffine()
	bCopy.ToAffine()
	return aCopy.X.Equals(&bCopy.X) && aCopy.Y.Equals(&bCopy.Y)
}

func edPointAdd(a, b *edwards25519.Point) *edwards25519.Point {
	return new(edwards25519.Point).Add(a, b)
}

func edPointSub(a, b *edwards25519.Point) *edwards25519.Point {
	return new(edwards25519.Point).Subtract(a, b)
}

func edPointEqual(a, b *edwards25519.Point) bool {
	return a.Equal(b) == 1
}

func edScalarMult(s *edwards25519.Scalar, p *edwards25519.Point) *edwards25519.Point {
	return new(edwards25519.Point).ScalarMult(s, p)
}

func edRandomScalar() (*edwards25519.Scalar, error) {
	var wide [64]byte
	if _, err := rand.Read(wide[:]); err != nil {
		return nil, err
	}
	return edwards25519.NewScalar().SetUniformBytes(wide[:])
}
