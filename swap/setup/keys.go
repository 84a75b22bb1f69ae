package setup

import (
	"fmt"

	"github.com/athanorlabs/xmr-btc-swap/crypto/dleq"
	mcrypto "github.com/athanorlabs/xmr-btc-swap/crypto/monero"
	"github.com/athanorlabs/xmr-btc-swap/crypto/secp256k1"
)

// KeyMaterial is one party's full secret key set for a single swap (spec
// §3 "Keys and secrets (per swap)"). A single 32-byte scalar serves double
// duty as the Monero spend-key share and the secp256k1 adaptor-statement
// secret (S_x_bitcoin = s_x*G); DLEQ binds the two representations of that
// same scalar together, so it cannot be generated independently in each
// group -- it is generated once, as an ed25519-reduced scalar, and reused
// directly as a secp256k1 scalar (valid since the ed25519 order is smaller
// than the secp256k1 order).
type KeyMaterial struct {
	Bitcoin        *secp256k1.PrivateKey // the multisig signing key (A or B)
	SpendShareEd   *mcrypto.PrivateSpendKey
	SpendShareSecp *secp256k1.PrivateKey // the adaptor-statement secret s_x
	ViewShare      *mcrypto.PrivateViewKey
	Proof          *dleq.Proof
}

// GenerateKeyMaterial produces a fresh KeyMaterial for one side of a swap.
func GenerateKeyMaterial() (*KeyMaterial, error) {
	bitcoinKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("swap/setup: generate bitcoin key: %w", err)
	}

	secret, err := dleq.NewRandomSecret()
	if err != nil {
		return nil, fmt.Errorf("swap/setup: generate dleq secret: %w", err)
	}
	proof, err := secret.Prove()
	if err != nil {
		return nil, fmt.Errorf("swap/setup: prove dleq: %w", err)
	}

	spendEd, err := mcrypto.NewPrivateSpendKey(secret[:])
	if err != nil {
		return nil, fmt.Errorf("swap/setup: derive ed25519 spend share: %w", err)
	}
	spendSecp, err := secp256k1.NewPrivateKeyFromBytes(secret[:])
	if err != nil {
		return nil, fmt.Errorf("swap/setup: derive secp256k1 adaptor secret: %w", err)
	}

	viewShare, err := mcrypto.GeneratePrivateViewKey()
	if err != nil {
		return nil, fmt.Errorf("swap/setup: generate view share: %w", err)
	}

	return &KeyMaterial{
		Bitcoin:        bitcoinKey,
		SpendShareEd:   spendEd,
		SpendShareSecp: spendSecp,
		ViewShare:      viewShare,
		Proof:          proof,
	}, nil
}
