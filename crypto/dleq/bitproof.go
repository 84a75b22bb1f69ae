package dleq

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"math/big"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcec/v2"
)

// lOrder is the ed25519 group order l = 2^252 + 27742317777372353535851937790883648493.
var lOrder, _ = new(big.Int).SetString("1000000000000000000000000000000014def9dea2f79cd65812631a5cf5d3", 16)

// nOrder is the secp256k1 group order.
var nOrder, _ = new(big.Int).SetString("fffffffffffffffffffffffffffffffebaaedce6af48a03bbfd25e8cd0364141", 16)

// mod256 is the Fiat-Shamir challenge domain: the raw 32-byte SHA-256
// digest, interpreted as an unreduced integer in [0, 2^256).
var mod256 = new(big.Int).Lsh(big.NewInt(1), 256)

// nonceBits is the bit-width of the statistical blinding nonce used for the
// real branch's sigma-protocol commitment in each bit proof. A response is
// computed as an *unreduced* big integer z = nonce + challenge*witness,
// with challenge < 2^256 and witness < l (~2^252): their product is bounded
// by ~2^508, so a nonce of this width statistically hides which branch was
// real by a margin of roughly 2^128, while still letting the verifier
// recover an exact, non-wrapping equation after reducing z independently
// mod n (for the secp256k1 check) and mod l (for the ed25519 check).
const nonceBits = 640

// blindBits bounds each bit's own commitment randomness r_i. numBits of
// them are later summed unweighted into a single revealed blinding scalar
// (rho, see Proof.rho in dleq.go); keeping r_i under l/numBits guarantees
// that sum never exceeds l, so rho remains a valid scalar in both groups
// without reduction ambiguity.
const blindBits = 244

// bitProof is a 1-of-2 OR-proof that Pedersen commitments c1 (secp256k1)
// and c2 (ed25519) -- each of the form r*H + b*w*G for the bit's fixed
// weight w=2^i -- open to the same bit (0 or 1) in both groups at once,
// under the same blinding r.
type bitProof struct {
	c1 *btcec.JacobianPoint
	c2 *edwards25519.Point

	c0, c1Challenge *big.Int
	z0, z1          *big.Int
}

func randomBigInt(bits int) (*big.Int, error) {
	b := make([]byte, (bits+7)/8)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

func bigToSecpScalar(v *big.Int) *btcec.ModNScalar {
	r := new(big.Int).Mod(v, nOrder)
	b := make([]byte, 32)
	r.FillBytes(b)
	var out btcec.ModNScalar
	out.SetByteSlice(b)
	return &out
}

func bigToEdScalar(v *big.Int) *edwards25519.Scalar {
	r := new(big.Int).Mod(v, lOrder)
	be := make([]byte, 32)
	r.FillBytes(be)
	le := make([]byte, 32)
	for i := 0; i < 32; i++ {
		le[i] = be[31-i]
	}
	s, _ := edwards25519.NewScalar().SetCanonicalBytes(le)
	return s
}

func secpMulG(v *big.Int) *btcec.JacobianPoint { return secpScalarBaseMult(bigToSecpScalar(v)) }
func edMulG(v *big.Int) *edwards25519.Point    { return edScalarBaseMult(bigToEdScalar(v)) }
func secpMulH(v *big.Int) *btcec.JacobianPoint { return secpScalarMult(bigToSecpScalar(v), secpH) }
func edMulH(v *big.Int) *edwards25519.Point    { return edScalarMult(bigToEdScalar(v), edH) }
func secpMulP(v *big.Int, p *btcec.JacobianPoint) *btcec.JacobianPoint {
	return secpScalarMult(bigToSecpScalar(v), p)
}
func edMulP(v *big.Int, p *edwards25519.Point) *edwards25519.Point {
	return edScalarMult(bigToEdScalar(v), p)
}

// bitTargets returns, for branch v (0 or 1), the points that must equal
// r*H1 and r*H2 respectively if the commitment opens to v (weight is the
// bit's fixed public weight 2^i).
func bitTargets(c1 *btcec.JacobianPoint, c2 *edwards25519.Point, weight *big.Int, v int64) (*btcec.JacobianPoint, *edwards25519.Point) {
	vw := new(big.Int).Mul(big.NewInt(v), weight)
	return secpPointSub(c1, secpMulG(vw)), edPointSub(c2, edMulG(vw))
}

// proveBit builds a bitProof that bit b, weighted by 2^index, is committed
// to consistently in both groups under shared blinding r.
func proveBit(index int, b byte, r *big.Int) (*bitProof, error) {
	weight := new(big.Int).Lsh(big.NewInt(1), uint(index))
	bw := new(big.Int).Mul(big.NewInt(int64(b)), weight)

	c1 := secpPointAdd(secpMulH(r), secpMulG(bw))
	c2 := edPointAdd(edMulH(r), edMulG(bw))

	sim := int64(1 - b)
	simTarget1, simTarget2 := bitTargets(c1, c2, weight, sim)

	cSim, err := randomBigInt(256)
	if err != nil {
		return nil, err
	}
	zSim, err := randomBigInt(nonceBits)
	if err != nil {
		return nil, err
	}
	simCom1 := secpPointSub(secpMulH(zSim), secpMulP(cSim, simTarget1))
	simCom2 := edPointSub(edMulH(zSim), edMulP(cSim, simTarget2))

	k, err := randomBigInt(nonceBits)
	if err != nil {
		return nil, err
	}
	realCom1 := secpMulH(k)
	realCom2 := edMulH(k)

	var com0_1, com1_1 *btcec.JacobianPoint
	var com0_2, com1_2 *edwards25519.Point
	if b == 0 {
		com0_1, com0_2 = realCom1, realCom2
		com1_1, com1_2 = simCom1, simCom2
	} else {
		com1_1, com1_2 = realCom1, realCom2
		com0_1, com0_2 = simCom1, simCom2
	}

	overall := bitChallengeHash(index, c1, c2, com0_1, com0_2, com1_1, com1_2)

	cReal := new(big.Int).Sub(overall, cSim)
	cReal.Mod(cReal, mod256)

	zReal := new(big.Int).Mul(cReal, r)
	zReal.Add(zReal, k)

	var c0, c1Challenge, z0, z1 *big.Int
	if b == 0 {
		c0, c1Challenge, z0, z1 = cReal, cSim, zReal, zSim
	} else {
		c0, c1Challenge, z0, z1 = cSim, cReal, zSim, zReal
	}

	return &bitProof{c1: c1, c2: c2, c0: c0, c1Challenge: c1Challenge, z0: z0, z1: z1}, nil
}

// verify checks the OR-proof for the bit at the given index (whose public
// weight is 2^index).
func (bp *bitProof) verify(index int) bool {
	weight := new(big.Int).Lsh(big.NewInt(1), uint(index))

	sum := new(big.Int).Add(bp.c0, bp.c1Challenge)
	sum.Mod(sum, mod256)

	t0_1, t0_2 := bitTargets(bp.c1, bp.c2, weight, 0)
	t1_1, t1_2 := bitTargets(bp.c1, bp.c2, weight, 1)

	com0_1 := secpPointSub(secpMulH(bp.z0), secpMulP(bp.c0, t0_1))
	com0_2 := edPointSub(edMulH(bp.z0), edMulP(bp.c0, t0_2))
	com1_1 := secpPointSub(secpMulH(bp.z1), secpMulP(bp.c1Challenge, t1_1))
	com1_2 := edPointSub(edMulH(bp.z1), edMulP(bp.c1Challenge, t1_2))

	overall := bitChallengeHash(index, bp.c1, bp.c2, com0_1, com0_2, com1_1, com1_2)
	overall.Mod(overall, mod256)

	return sum.Cmp(overall) == 0
}

func bitChallengeHash(
	index int,
	c1 *btcec.JacobianPoint, c2 *edwards25519.Point,
	com0_1 *btcec.JacobianPoint, com0_2 *edwards25519.Point,
	com1_1 *btcec.JacobianPoint, com1_2 *edwards25519.Point,
) *big.Int {
	h := sha256.New()
	h.Write([]byte("xmrbtc-dleq-bit-v1"))

	var idxBytes [4]byte
	binary.BigEndian.PutUint32(idxBytes[:], uint32(index))
	h.Write(idxBytes[:])

	writeSecp := func(p *btcec.JacobianPoint) {
		pc := *p
		pc.ToAffine()
		xb := pc.X.Bytes()
		yb := pc.Y.Bytes()
		h.Write(xb[:])
		h.Write(yb[:])
	}
	writeEd := func(p *edwards25519.Point) {
		h.Write(p.Bytes())
	}

	writeSecp(c1)
	writeEd(c2)
	writeSecp(com0_1)
	writeEd(com0_2)
	writeSecp(com1_1)
	writeEd(com1_2)

	return new(big.Int).SetBytes(h.Sum(nil))
}
