// Package dleq implements a non-interactive zero-knowledge proof that a
// single 32-byte secret scalar s satisfies both s*G_secp256k1 = X1 and
// s*G_ed25519 = X2 (spec §4.1c, the "DLEQ" binding each party's Monero
// spend-key share to its Bitcoin adaptor statement, spec §3 "Cross-curve
// binding").
//
// Because secp256k1 and ed25519 have different (and not simply related)
// group orders, the proof cannot reuse a single sigma-protocol challenge
// scalar across both groups directly. Instead s is decomposed into
// individual bits; each bit i is committed to as r_i*H + (b_i*2^i)*G in
// both groups under the same blinding r_i, and a 1-of-2 OR-proof
// (Abe-Ohkubo-Suzuki style, Fiat-Shamir over a domain-separated SHA-256
// transcript) shows each commitment pair opens to a 0 or a 1 consistently
// in both groups. Summing the unweighted commitments and revealing their
// aggregate blinding rho = sum(r_i) lets the verifier strip the H-term and
// recover X1 = s*G1, X2 = s*G2 -- revealing rho only exposes the intended
// public output, never s or any individual bit. This mirrors the
// structure of the teacher's dleq.Interface/Proof/VerifyResult shape,
// generalized from a stubbed cgo boundary into a self-contained Go
// implementation.
package dleq

import (
	"errors"
	"math/big"

	"filippo.io/edwards25519"
	"github.com/athanorlabs/xmr-btc-swap/crypto/monero"
	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
	"github.com/btcsuite/btcd/btcec/v2"
)

// numBits is the number of bits decomposed; it must be small enough that
// the resulting scalar is valid in both groups, so we use ed25519's
// ~252-bit order as the binding constraint.
const numBits = 252

// ErrInvalidProof is returned when a Proof's per-bit OR-proofs do not all
// verify, or its shape is malformed.
var ErrInvalidProof = errors.New("dleq: invalid proof")

// Proof is a cross-curve DLEQ proof together with the (non-secret)
// commitment data and aggregate blinding opening needed to verify it.
type Proof struct {
	secret [32]byte
	bits   []bitProof
	rho    *big.Int
}

// Interface matches the operations named in spec §4.1: prove and verify.
type Interface interface {
	Prove() (*Proof, error)
	Verify(*Proof) (*VerifyResult, error)
}

// Secret is a 32-byte scalar value (reduced mod the ed25519 order l) that
// implements Interface: Prove proves knowledge of the receiver itself;
// Verify checks an arbitrary (possibly counterparty-supplied) Proof and
// does not use the receiver's value at all, matching the setup ceremony
// where each side proves its own share and verifies the other's.
type Secret [32]byte

// NewRandomSecret returns a fresh secret scalar, reduced mod l so it is a
// valid scalar in both groups.
func NewRandomSecret() (Secret, error) {
	s, err := edRandomScalar()
	if err != nil {
		return Secret{}, err
	}
	var out Secret
	copy(out[:], s.Bytes())
	return out, nil
}

// Prove builds a Proof that Secret satisfies s*G_secp256k1 = X1 and
// s*G_ed25519 = X2, recoverable by the verifier from the proof itself.
func (s Secret) Prove() (*Proof, error) {
	val := new(big.Int).SetBytes(reverseBytes(s[:]))
	val.Mod(val, lOrder)

	bits := make([]bitProof, numBits)
	rho := new(big.Int)
	for i := 0; i < numBits; i++ {
		b := byte(val.Bit(i))
		r, err := randomBigInt(blindBits)
		if err != nil {
			return nil, err
		}

		bp, err := proveBit(i, b, r)
		if err != nil {
			return nil, err
		}
		bits[i] = *bp
		rho.Add(rho, r)
	}

	return &Proof{secret: s, bits: bits, rho: rho}, nil
}

// Verify checks that every bit proof is internally valid and, if so,
// reconstructs the two public keys the proof binds together.
func (Secret) Verify(p *Proof) (*VerifyResult, error) {
	if len(p.bits) != numBits || p.rho == nil {
		return nil, ErrInvalidProof
	}

	var sum1 *btcec.JacobianPoint
	var sum2 *edwards25519.Point

	for i := range p.bits {
		bp := &p.bits[i]
		if !bp.verify(i) {
			return nil, ErrInvalidProof
		}

		if sum1 == nil {
			sum1, sum2 = bp.c1, bp.c2
			continue
		}
		sum1 = secpPointAdd(sum1, bp.c1)
		sum2 = edPointAdd(sum2, bp.c2)
	}

	x1 := secpPointSub(sum1, secpMulH(p.rho))
	x2 := edPointSub(sum2, edMulH(p.rho))

	pub1, err := secp256k1.NewPublicKeyFromBytes(jacobianToCompressed(x1))
	if err != nil {
		return nil, err
	}
	pub2, err := monero.NewPublicKeyFromBytes(x2.Bytes())
	if err != nil {
		return nil, err
	}

	return &VerifyResult{
		Ed25519Pub:   pub2,
		Secp256k1Pub: pub1,
	}, nil
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i := range b {
		out[i] = b[len(b)-1-i]
	}
	return out
}

func jacobianToCompressed(p *btcec.JacobianPoint) []byte {
	pc := *p
	pc.ToAffine()
	pub := btcec.NewPublicKey(&pc.X, &pc.Y)
	return pub.SerializeCompressed()
}

// NewProofWithoutSecret returns a Proof stripped of its secret scalar, safe
// to transmit to a counterparty (the M0/M1 setup messages carry this form).
func NewProofWithoutSecret(p *Proof) *Proof {
	return &Proof{bits: p.bits, rho: p.rho}
}

// NewProofWithSecret attaches a secret to an otherwise-verified proof, used
// locally by the party that generated it.
func NewProofWithSecret(s [32]byte, p *Proof) *Proof {
	return &Proof{secret: s, bits: p.bits, rho: p.rho}
}

// Secret returns the proof's 32-byte secret scalar (zero if stripped).
func (p *Proof) Secret() [32]byte {
	return p.secret
}

// VerifyResult contains the public keys recovered by a successful
// verification.
type VerifyResult struct {
	Ed25519Pub   *monero.PublicKey
	Secp256k1Pub *secp256k1.PublicKey
}
