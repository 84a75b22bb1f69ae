package dleq

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcd/btcec/v2"
)

// Marshal encodes a Proof into a deterministic byte sequence for transport
// in the setup ceremony's M0/M1 messages (spec §4.4 "π_s_b"/"π_s_a"). Proof's
// fields are all unexported curve points and big.Int scalars, so json
// encoding isn't an option here; this is a small fixed/length-prefixed
// binary format instead, one level below the message layer's JSON bodies.
func (p *Proof) Marshal() []byte {
	var buf bytes.Buffer
	buf.Write(p.secret[:])

	var count [4]byte
	binary.BigEndian.PutUint32(count[:], uint32(len(p.bits)))
	buf.Write(count[:])

	for i := range p.bits {
		bp := &p.bits[i]
		writeSecpPoint(&buf, bp.c1)
		writeEdPoint(&buf, bp.c2)
		writeBigInt(&buf, bp.c0)
		writeBigInt(&buf, bp.c1Challenge)
		writeBigInt(&buf, bp.z0)
		writeBigInt(&buf, bp.z1)
	}
	writeBigInt(&buf, p.rho)

	return buf.Bytes()
}

// UnmarshalProof parses the format written by Proof.Marshal.
func UnmarshalProof(b []byte) (*Proof, error) {
	r := bytes.NewReader(b)

	var secret [32]byte
	if _, err := r.Read(secret[:]); err != nil {
		return nil, fmt.Errorf("dleq: read secret: %w", err)
	}

	var countBytes [4]byte
	if _, err := r.Read(countBytes[:]); err != nil {
		return nil, fmt.Errorf("dleq: read bit count: %w", err)
	}
	count := binary.BigEndian.Uint32(countBytes[:])

	bits := make([]bitProof, count)
	for i := range bits {
		c1, err := readSecpPoint(r)
		if err != nil {
			return nil, fmt.Errorf("dleq: read bit %d c1: %w", i, err)
		}
		c2, err := readEdPoint(r)
		if err != nil {
			return nil, fmt.Errorf("dleq: read bit %d c2: %w", i, err)
		}
		c0, err := readBigInt(r)
		if err != nil {
			return nil, fmt.Errorf("dleq: read bit %d c0: %w", i, err)
		}
		c1Challenge, err := readBigInt(r)
		if err != nil {
			return nil, fmt.Errorf("dleq: read bit %d c1Challenge: %w", i, err)
		}
		z0, err := readBigInt(r)
		if err != nil {
			return nil, fmt.Errorf("dleq: read bit %d z0: %w", i, err)
		}
		z1, err := readBigInt(r)
		if err != nil {
			return nil, fmt.Errorf("dleq: read bit %d z1: %w", i, err)
		}
		bits[i] = bitProof{c1: c1, c2: c2, c0: c0, c1Challenge: c1Challenge, z0: z0, z1: z1}
	}

	rho, err := readBigInt(r)
	if err != nil {
		return nil, fmt.Errorf("dleq: read rho: %w", err)
	}

	return &Proof{secret: secret, bits: bits, rho: rho}, nil
}

func writeBigInt(buf *bytes.Buffer, v *big.Int) {
	b := v.Bytes()
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(b)))
	buf.Write(l[:])
	buf.Write(b)
}

func readBigInt(r *bytes.Reader) (*big.Int, error) {
	var l [2]byte
	if _, err := r.Read(l[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(l[:])
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return nil, err
		}
	}
	return new(big.Int).SetBytes(b), nil
}

func writeSecpPoint(buf *bytes.Buffer, p *btcec.JacobianPoint) {
	pc := *p
	pc.ToAffine()
	pub := btcec.NewPublicKey(&pc.X, &pc.Y)
	buf.Write(pub.SerializeCompressed())
}

func readSecpPoint(r *bytes.Reader) (*btcec.JacobianPoint, error) {
	b := make([]byte, 33)
	if _, err := r.Read(b); err != nil {
		return nil, err
	}
	pub, err := btcec.ParsePubKey(b)
	if err != nil {
		return nil, err
	}
	var j btcec.JacobianPoint
	pub.AsJacobian(&j)
	return &j, nil
}

func writeEdPoint(buf *bytes.Buffer, p *edwards25519.Point) {
	buf.Write(p.Bytes())
}

func readEdPoint(r *bytes.Reader) (*edwards25519.Point, error) {
	b := make([]byte, 32)
	if _, err := r.Read(b); err != nil {
		return nil, err
	}
	return edwards25519.NewIdentityPoint().SetBytes(b)
}
