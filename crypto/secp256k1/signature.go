package secp256k1

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// sigLen is the wire length of a Serialize()d Signature: a 33-byte
// compressed R point followed by a 32-byte scalar s.
const sigLen = 33 + 32

// Serialize encodes sig as compressed-R || s, the form carried in
// SetupM3/SetupM4's CancelSig/PunishSig fields and in the TxCancel/TxPunish
// witnesses built by the bitcoin package.
func (sig *Signature) Serialize() []byte {
	out := make([]byte, 0, sigLen)
	out = append(out, sig.R.SerializeCompressed()...)
	s := sig.S.Bytes()
	return append(out, s[:]...)
}

// ParseSignature parses the encoding produced by Serialize.
func ParseSignature(b []byte) (*Signature, error) {
	if len(b) != sigLen {
		return nil, fmt.Errorf("secp256k1: signature must be %d bytes, got %d", sigLen, len(b))
	}
	r, err := NewPublicKeyFromBytes(b[:33])
	if err != nil {
		return nil, fmt.Errorf("secp256k1: parse signature R: %w", err)
	}
	var s btcec.ModNScalar
	s.SetByteSlice(b[33:])
	return &Signature{R: r, S: &s}, nil
}

// encSigLen is the wire length of a Serialize()d EncSig: two compressed
// points (R', T) followed by the scalar s'.
const encSigLen = 33 + 33 + 32

// Serialize encodes enc as compressed-R' || compressed-T || s'.
func (enc *EncSig) Serialize() []byte {
	out := make([]byte, 0, encSigLen)
	out = append(out, enc.RPrime.SerializeCompressed()...)
	out = append(out, enc.Statement.SerializeCompressed()...)
	s := enc.SPrime.Bytes()
	return append(out, s[:]...)
}

// ParseEncSig parses the encoding produced by Serialize.
func ParseEncSig(b []byte) (*EncSig, error) {
	if len(b) != encSigLen {
		return nil, fmt.Errorf("secp256k1: encsig must be %d bytes, got %d", encSigLen, len(b))
	}
	rPrime, err := NewPublicKeyFromBytes(b[:33])
	if err != nil {
		return nil, fmt.Errorf("secp256k1: parse encsig R': %w", err)
	}
	statement, err := NewPublicKeyFromBytes(b[33:66])
	if err != nil {
		return nil, fmt.Errorf("secp256k1: parse encsig T: %w", err)
	}
	var s btcec.ModNScalar
	s.SetByteSlice(b[66:])
	return &EncSig{RPrime: rPrime, Statement: statement, SPrime: &s}, nil
}
