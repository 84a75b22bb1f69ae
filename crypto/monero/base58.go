package monero

import "math/big"

// Monero uses a block-wise base58 encoding (distinct from base58check):
// the byte string is split into 8-byte blocks (a final short block may be
// 1-7 bytes), and each block is base58-encoded to a fixed-width character
// count. This is the standard, publicly documented Monero address
// encoding; no third-party Go implementation of it exists in the example
// pack, so it is implemented here directly against the documented
// algorithm (DESIGN.md: stdlib-only because no ecosystem package covers
// Monero's base58 variant).
const b58Alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"

var fullBlockEncodedSize = [9]int{0, 2, 3, 5, 6, 7, 9, 10, 11}

func base58EncodeBlock(data []byte) []byte {
	n := fullBlockEncodedSize[len(data)]
	out := make([]byte, n)
	for i := range out {
		out[i] = b58Alphabet[0]
	}

	num := new(big.Int).SetBytes(data)
	base := big.NewInt(58)
	zero := big.NewInt(0)
	rem := new(big.Int)

	idx := n - 1
	for num.Cmp(zero) > 0 && idx >= 0 {
		num.QuoRem(num, base, rem)
		out[idx] = b58Alphabet[rem.Int64()]
		idx--
	}

	return out
}

// EncodeBase58 encodes data using Monero's block-wise base58 scheme.
func EncodeBase58(data []byte) string {
	var out []byte
	for len(data) >= 8 {
		out = append(out, base58EncodeBlock(data[:8])...)
		data = data[8:]
	}
	if len(data) > 0 {
		out = append(out, base58EncodeBlock(data)...)
	}
	return string(out)
}
