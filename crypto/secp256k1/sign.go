package secp256k1

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Sign produces a plain (non-adaptor) Schnorr signature over m under x,
// used for the setup ceremony's unconditionally-cooperative signatures
// (TxCancel, TxPunish) where no adaptor statement is involved.
func Sign(x *PrivateKey, m []byte) (*Signature, error) {
	kBytes, err := randomScalarBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	k, err := NewPrivateKeyFromBytes(kBytes)
	if err != nil {
		return nil, err
	}

	r := k.Public()
	e := challenge(r, x.Public(), m)

	var ks, xs btcec.ModNScalar
	ks.SetByteSlice(k.Bytes()[:])
	xs.SetByteSlice(x.Bytes()[:])
	es := *e
	es.Mul(&xs)
	s := ks.Add(&es)

	return &Signature{R: r, S: s}, nil
}
