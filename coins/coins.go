// Package coins holds the integer amount types for both chains, matching
// the teacher's common.MoneroAmount/common.EtherAmount pattern but
// substituting satoshis for wei (spec §3 "Amounts and timelocks").
package coins

import "math"

const (
	numMoneroUnits  = 1e12 // piconero per XMR
	numBitcoinUnits = 1e8  // satoshi per BTC
)

// MoneroAmount represents an amount of piconero, the smallest Monero
// denomination.
type MoneroAmount uint64

// MoneroToPiconero converts a standard XMR amount into a MoneroAmount.
func MoneroToPiconero(amount float64) MoneroAmount {
	return MoneroAmount(amount * numMoneroUnits)
}

// Uint64 returns the raw piconero value.
func (a MoneroAmount) Uint64() uint64 {
	return uint64(a)
}

// AsXMR converts the piconero amount into standard units.
func (a MoneroAmount) AsXMR() float64 {
	return float64(a) / numMoneroUnits
}

// Sub returns a - b, saturating at zero rather than underflowing.
func (a MoneroAmount) Sub(b MoneroAmount) MoneroAmount {
	if b > a {
		return 0
	}
	return a - b
}

// BitcoinAmount represents an amount of satoshis, the smallest Bitcoin
// denomination.
type BitcoinAmount int64

// BitcoinToSats converts a standard BTC amount into a BitcoinAmount.
func BitcoinToSats(amount float64) BitcoinAmount {
	return BitcoinAmount(math.Round(amount * numBitcoinUnits))
}

// Sats returns the raw satoshi value.
func (a BitcoinAmount) Sats() int64 {
	return int64(a)
}

// AsBTC converts the satoshi amount into standard units.
func (a BitcoinAmount) AsBTC() float64 {
	return float64(a) / numBitcoinUnits
}

// Sub returns a - b.
func (a BitcoinAmount) Sub(b BitcoinAmount) BitcoinAmount {
	return a - b
}

// ExchangeRate is XMR per BTC, matching the teacher's ExchangeRate(providesAmount/desiredAmount) pattern.
type ExchangeRate float64

// ToBitcoin converts an XMR amount to the equivalent BTC amount at this rate.
func (r ExchangeRate) ToBitcoin(xmr MoneroAmount) BitcoinAmount {
	return BitcoinToSats(xmr.AsXMR() / float64(r))
}

// ToMonero converts a BTC amount to the equivalent XMR amount at this rate.
func (r ExchangeRate) ToMonero(btc BitcoinAmount) MoneroAmount {
	return MoneroToPiconero(btc.AsBTC() * float64(r))
}
