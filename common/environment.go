// Package common holds types shared across every package in the engine:
// the network environment, swap identifiers, and per-network parameters.
package common

import "fmt"

// Environment describes which network the engine is operating against.
type Environment byte

const (
	// Mainnet is production Bitcoin mainnet / Monero mainnet.
	Mainnet Environment = iota
	// Stagenet is Bitcoin testnet3 / Monero stagenet.
	Stagenet
	// Development is bitcoind/monerod regtest, used for integration tests.
	Development
)

func (e Environment) String() string {
	switch e {
	case Mainnet:
		return "mainnet"
	case Stagenet:
		return "stagenet"
	case Development:
		return "development"
	default:
		return "unknown"
	}
}

// EnvironmentFromString parses a CLI-supplied environment name.
func EnvironmentFromString(s string) (Environment, error) {
	switch s {
	case "mainnet":
		return Mainnet, nil
	case "stagenet":
		return Stagenet, nil
	case "dev", "development":
		return Development, nil
	default:
		return 0, fmt.Errorf("unknown environment %q", s)
	}
}

// NetworkParams are the per-network protocol constants from spec §6.
type NetworkParams struct {
	BTCFinalityConfirmations uint64
	XMRFinalityConfirmations uint64
	CancelTimelock           uint64 // T_c, relative block delta
	PunishTimelock           uint64 // T_p, relative block delta
	SafetyMarginBlocks       uint64
}

// ParamsFor returns the tabulated constants for the given environment (spec §6).
func ParamsFor(env Environment) NetworkParams {
	switch env {
	case Mainnet:
		return NetworkParams{
			BTCFinalityConfirmations: 3,
			XMRFinalityConfirmations: 15,
			CancelTimelock:           72,
			PunishTimelock:           72,
			SafetyMarginBlocks:       3,
		}
	case Stagenet:
		return NetworkParams{
			BTCFinalityConfirmations: 1,
			XMRFinalityConfirmations: 10,
			CancelTimelock:           12,
			PunishTimelock:           6,
			SafetyMarginBlocks:       1,
		}
	case Development:
		return NetworkParams{
			BTCFinalityConfirmations: 1,
			XMRFinalityConfirmations: 10,
			CancelTimelock:           100,
			PunishTimelock:           50,
			SafetyMarginBlocks:       2,
		}
	default:
		return NetworkParams{}
	}
}
