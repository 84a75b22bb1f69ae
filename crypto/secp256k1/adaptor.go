package secp256k1

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Signature is a Schnorr signature (R, s) with R kept as a full curve point
// (serialized compressed, not as a BIP340 X-only coordinate) and s a scalar
// mod n.
type Signature struct {
	R *PublicKey
	S *btcec.ModNScalar
}

// EncSig ("encrypted signature") is a Schnorr adaptor signature under
// statement T = t*G. Completing it with t yields a valid Signature over m;
// given the completed Signature, t can be recovered from the EncSig alone
// (spec §4.1, property 4 "adaptor correctness").
type EncSig struct {
	RPrime    *PublicKey     // R' = k*G, the signer's raw nonce commitment
	Statement *PublicKey     // T = t*G, the adaptor statement
	SPrime    *btcec.ModNScalar // s' = k + e*x, e computed over R = R'+T
}

var (
	// ErrInvalidEncSig is returned when an adaptor signature fails verification.
	ErrInvalidEncSig = errors.New("secp256k1: invalid adaptor signature")
	// ErrInvalidSignature is returned when a completed signature fails verification.
	ErrInvalidSignature = errors.New("secp256k1: invalid signature")
)

// challenge computes e = H("xmrbtc-adaptor-sig-v1" || R || X || m) reduced mod n.
func challenge(r, x *PublicKey, m []byte) *btcec.ModNScalar {
	h := sha256.New()
	h.Write([]byte("xmrbtc-adaptor-sig-v1"))
	h.Write(r.SerializeCompressed())
	h.Write(x.SerializeCompressed())
	h.Write(m)
	sum := h.Sum(nil)

	var e btcec.ModNScalar
	e.SetByteSlice(sum)
	return &e
}

// EncryptSign produces an adaptor signature over m under the signing key x
// and statement T=t*G (spec "adaptor.encrypt_sign(x, T, m) -> encsig").
func EncryptSign(x *PrivateKey, statement *PublicKey, m []byte) (*EncSig, error) {
	kBytes, err := randomScalarBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	k, err := NewPrivateKeyFromBytes(kBytes)
	if err != nil {
		return nil, err
	}

	rPrime := k.Public()
	r := rPrime.Add(statement) // R = R' + T

	e := challenge(r, x.Public(), m)

	var ks, es, xs btcec.ModNScalar
	ks.SetByteSlice(k.Bytes()[:])
	xs.SetByteSlice(x.Bytes()[:])
	es = *e
	es.Mul(&xs)
	sPrime := ks.Add(&es)

	return &EncSig{
		RPrime:    rPrime,
		Statement: statement,
		SPrime:    sPrime,
	}, nil
}

// VerifyEncSig checks that encsig is a valid adaptor signature by X over m
// under the given statement (spec "adaptor.verify_encsig(X, T, m, encsig) -> bool").
func VerifyEncSig(x *PublicKey, statement *PublicKey, m []byte, enc *EncSig) bool {
	r := enc.RPrime.Add(statement)
	e := challenge(r, x, m)

	// check s'*G == R' + e*X
	lhs := scalarBaseMult(enc.SPrime)

	eX := scalarMult(e, x)
	rhs := enc.RPrime.Add(eX)

	return lhs.Equal(rhs)
}

// Decrypt completes an adaptor signature with the statement's discrete log t,
// producing a standard Schnorr signature (spec "adaptor.decrypt(encsig, t) -> sigma").
func Decrypt(enc *EncSig, t *PrivateKey) *Signature {
	var ts btcec.ModNScalar
	ts.SetByteSlice(t.Bytes()[:])

	s := new(btcec.ModNScalar).Set(enc.SPrime)
	s.Add(&ts)

	r := enc.RPrime.Add(enc.Statement)
	return &Signature{R: r, S: s}
}

// Recover extracts t from a completed signature and its originating encsig
// (spec "adaptor.recover(X, encsig, sigma) -> t"). X is unused but kept for
// interface symmetry with the spec's operation signature.
func Recover(_ *PublicKey, enc *EncSig, sig *Signature) (*PrivateKey, error) {
	t := new(btcec.ModNScalar).Set(sig.S)
	negSPrime := new(btcec.ModNScalar).Set(enc.SPrime).Negate()
	t.Add(negSPrime)

	tb := t.Bytes()
	return NewPrivateKeyFromBytes(tb[:])
}

// Verify checks a completed Schnorr signature over m against X.
func Verify(x *PublicKey, m []byte, sig *Signature) bool {
	e := challenge(sig.R, x, m)
	lhs := scalarBaseMult(sig.S)
	eX := scalarMult(e, x)
	rhs := sig.R.Add(eX)
	return lhs.Equal(rhs)
}

func scalarBaseMult(s *btcec.ModNScalar) *PublicKey {
	var j btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(s, &j)
	j.ToAffine()
	return &PublicKey{key: btcec.NewPublicKey(&j.X, &j.Y)}
}

func scalarMult(s *btcec.ModNScalar, p *PublicKey) *PublicKey {
	var pj, out btcec.JacobianPoint
	p.key.AsJacobian(&pj)
	btcec.ScalarMultNonConst(s, &pj, &out)
	out.ToAffine()
	return &PublicKey{key: btcec.NewPublicKey(&out.X, &out.Y)}
}
