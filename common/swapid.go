package common

import (
	"encoding/hex"
	"encoding/json"

	"github.com/google/uuid"
)

// SwapID is the 128-bit identifier agreed upon at setup (spec §3). Both
// parties persist their state under the same ID.
type SwapID [16]byte

// NewSwapID generates a fresh random swap ID.
func NewSwapID() SwapID {
	var id SwapID
	copy(id[:], uuid.New()[:])
	return id
}

// SwapIDFromUUID converts a google/uuid.UUID into a SwapID.
func SwapIDFromUUID(u uuid.UUID) SwapID {
	var id SwapID
	copy(id[:], u[:])
	return id
}

// String returns the canonical UUID string form.
func (id SwapID) String() string {
	return uuid.UUID(id).String()
}

// Hex returns the identifier as a lowercase hex string.
func (id SwapID) Hex() string {
	return hex.EncodeToString(id[:])
}

// SwapIDFromString parses either a UUID string or a raw hex string.
func SwapIDFromString(s string) (SwapID, error) {
	if u, err := uuid.Parse(s); err == nil {
		return SwapIDFromUUID(u), nil
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return SwapID{}, err
	}

	var id SwapID
	copy(id[:], b)
	return id, nil
}

// MarshalJSON encodes the ID in its canonical UUID string form, so it
// reads naturally in persisted snapshots and wire messages.
func (id SwapID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON parses the canonical UUID string form written by
// MarshalJSON.
func (id *SwapID) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := SwapIDFromString(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
