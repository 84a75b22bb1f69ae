// Package message defines the typed, self-framed messages exchanged over
// the peer channel port (spec §6, §4.4, §4.5, §4.6): a one-byte type tag
// followed by a JSON-encoded body, matching the teacher's
// net/message.Message shape (Type()/Encode()/String()) generalized from
// the ETH-lock protocol messages to this engine's BTC/XMR setup ceremony
// and lifecycle messages.
package message

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/athanorlabs/xmr-btc-swap/common"
	"github.com/athanorlabs/xmr-btc-swap/coins"
)

// MaxSize is the maximum encoded size of a single message (spec §6
// "size-bounded (1 MiB)").
const MaxSize = 1 << 20

// Type identifies a message's wire shape, encoded as the first byte of
// every frame.
type Type byte

const (
	QuoteRequestType Type = iota
	QuoteResponseType
	SetupM0Type
	SetupM1Type
	SetupM2Type
	SetupM3Type
	SetupM4Type
	SetupAckType
	TransferProofType
	TransferProofAckType
	EncryptedSignatureType
	EncryptedSignatureAckType
	CoopRedeemRequestType
	CoopRedeemResponseType
	EarlyRefundRequestType
	EarlyRefundResponseType
	NilType
)

func (t Type) String() string {
	switch t {
	case QuoteRequestType:
		return "QuoteRequest"
	case QuoteResponseType:
		return "QuoteResponse"
	case SetupM0Type:
		return "SetupM0"
	case SetupM1Type:
		return "SetupM1"
	case SetupM2Type:
		return "SetupM2"
	case SetupM3Type:
		return "SetupM3"
	case SetupM4Type:
		return "SetupM4"
	case SetupAckType:
		return "SetupAck"
	case TransferProofType:
		return "TransferProof"
	case TransferProofAckType:
		return "TransferProofAck"
	case EncryptedSignatureType:
		return "EncryptedSignature"
	case EncryptedSignatureAckType:
		return "EncryptedSignatureAck"
	case CoopRedeemRequestType:
		return "CoopRedeemRequest"
	case CoopRedeemResponseType:
		return "CoopRedeemResponse"
	case EarlyRefundRequestType:
		return "EarlyRefundRequest"
	case EarlyRefundResponseType:
		return "EarlyRefundResponse"
	default:
		return "unknown"
	}
}

// Message must be implemented by every network message (spec §6, §4.4).
type Message interface {
	String() string
	Encode() ([]byte, error)
	Type() Type
}

// ErrInvalidMessage is returned for empty, oversized, or unrecognized frames.
var ErrInvalidMessage = errors.New("message: invalid message bytes")

// Decode decodes a single self-framed message (spec's "self-framed,
// size-bounded" requirement).
func Decode(b []byte) (Message, error) {
	if len(b) == 0 || len(b) > MaxSize {
		return nil, ErrInvalidMessage
	}

	body := b[1:]
	var err error
	var m Message

	switch Type(b[0]) {
	case QuoteRequestType:
		v := new(QuoteRequest)
		err = json.Unmarshal(body, v)
		m = v
	case QuoteResponseType:
		v := new(QuoteResponse)
		err = json.Unmarshal(body, v)
		m = v
	case SetupM0Type:
		v := new(SetupM0)
		err = json.Unmarshal(body, v)
		m = v
	case SetupM1Type:
		v := new(SetupM1)
		err = json.Unmarshal(body, v)
		m = v
	case SetupM2Type:
		v := new(SetupM2)
		err = json.Unmarshal(body, v)
		m = v
	case SetupM3Type:
		v := new(SetupM3)
		err = json.Unmarshal(body, v)
		m = v
	case SetupM4Type:
		v := new(SetupM4)
		err = json.Unmarshal(body, v)
		m = v
	case SetupAckType:
		v := new(SetupAck)
		err = json.Unmarshal(body, v)
		m = v
	case TransferProofType:
		v := new(TransferProof)
		err = json.Unmarshal(body, v)
		m = v
	case TransferProofAckType:
		v := new(TransferProofAck)
		err = json.Unmarshal(body, v)
		m = v
	case EncryptedSignatureType:
		v := new(EncryptedSignature)
		err = json.Unmarshal(body, v)
		m = v
	case EncryptedSignatureAckType:
		v := new(EncryptedSignatureAck)
		err = json.Unmarshal(body, v)
		m = v
	case CoopRedeemRequestType:
		v := new(CoopRedeemRequest)
		err = json.Unmarshal(body, v)
		m = v
	case CoopRedeemResponseType:
		v := new(CoopRedeemResponse)
		err = json.Unmarshal(body, v)
		m = v
	case EarlyRefundRequestType:
		v := new(EarlyRefundRequest)
		err = json.Unmarshal(body, v)
		m = v
	case EarlyRefundResponseType:
		v := new(EarlyRefundResponse)
		err = json.Unmarshal(body, v)
		m = v
	default:
		return nil, ErrInvalidMessage
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidMessage, err)
	}

	return m, nil
}

func encode(t Type, v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(t)}, b...), nil
}

// QuoteRequest is sent to request a price quote (spec §6 "/xmr-btc/quote/1").
type QuoteRequest struct{}

func (m *QuoteRequest) String() string          { return "QuoteRequest" }
func (m *QuoteRequest) Encode() ([]byte, error) { return encode(QuoteRequestType, m) }
func (m *QuoteRequest) Type() Type               { return QuoteRequestType }

// QuoteResponse answers a QuoteRequest.
type QuoteResponse struct {
	PriceSatsPerXMR uint64             `json:"price_sat_per_xmr" validate:"required"`
	MinBTC          coins.BitcoinAmount `json:"min_btc_sat"`
	MaxBTC          coins.BitcoinAmount `json:"max_btc_sat"`
}

func (m *QuoteResponse) String() string {
	return fmt.Sprintf("QuoteResponse price=%d min=%s max=%s", m.PriceSatsPerXMR, m.MinBTC, m.MaxBTC)
}
func (m *QuoteResponse) Encode() ([]byte, error) { return encode(QuoteResponseType, m) }
func (m *QuoteResponse) Type() Type               { return QuoteResponseType }

// SetupM0 is Bob's opening setup-ceremony message (spec §4.4 table).
type SetupM0 struct {
	SwapID        common.SwapID `json:"swap_id" validate:"required"`
	B             []byte        `json:"b_pubkey" validate:"required"`
	SMoneroBob    []byte        `json:"s_monero_bob" validate:"required"`
	SBitcoinBob   []byte        `json:"s_bitcoin_bob" validate:"required"`
	DLEqProofBob  []byte        `json:"dleq_proof_bob" validate:"required"`
	VBob          []byte        `json:"v_bob" validate:"required"`
	RefundAddress string        `json:"refund_address" validate:"required"`
}

func (m *SetupM0) String() string          { return fmt.Sprintf("SetupM0 swap_id=%s", m.SwapID) }
func (m *SetupM0) Encode() ([]byte, error) { return encode(SetupM0Type, m) }
func (m *SetupM0) Type() Type               { return SetupM0Type }

// SetupM1 is Alice's reply (spec §4.4 table).
type SetupM1 struct {
	SwapID         common.SwapID `json:"swap_id" validate:"required"`
	A              []byte        `json:"a_pubkey" validate:"required"`
	SMoneroAlice   []byte        `json:"s_monero_alice" validate:"required"`
	SBitcoinAlice  []byte        `json:"s_bitcoin_alice" validate:"required"`
	DLEqProofAlice []byte        `json:"dleq_proof_alice" validate:"required"`
	VAlice         []byte        `json:"v_alice" validate:"required"`
	RedeemAddress  string        `json:"redeem_address" validate:"required"`
	PunishAddress  string        `json:"punish_address" validate:"required"`
	TxRedeemFee    coins.BitcoinAmount `json:"tx_redeem_fee"`
}

func (m *SetupM1) String() string          { return fmt.Sprintf("SetupM1 swap_id=%s", m.SwapID) }
func (m *SetupM1) Encode() ([]byte, error) { return encode(SetupM1Type, m) }
func (m *SetupM1) Type() Type               { return SetupM1Type }

// SetupM2 carries Bob's funded (but not yet broadcast) TxLock PSBT.
type SetupM2 struct {
	SwapID common.SwapID `json:"swap_id" validate:"required"`
	PSBT   []byte        `json:"psbt" validate:"required"`
}

func (m *SetupM2) String() string          { return fmt.Sprintf("SetupM2 swap_id=%s", m.SwapID) }
func (m *SetupM2) Encode() ([]byte, error) { return encode(SetupM2Type, m) }
func (m *SetupM2) Type() Type               { return SetupM2Type }

// SetupM3 carries Alice's TxCancel signature and her adaptor-encsig on
// TxRefund under statement S_b_bitcoin.
type SetupM3 struct {
	SwapID            common.SwapID `json:"swap_id" validate:"required"`
	CancelSig         []byte        `json:"cancel_sig" validate:"required"`
	RefundEncSig      []byte        `json:"refund_encsig" validate:"required"`
}

func (m *SetupM3) String() string          { return fmt.Sprintf("SetupM3 swap_id=%s", m.SwapID) }
func (m *SetupM3) Encode() ([]byte, error) { return encode(SetupM3Type, m) }
func (m *SetupM3) Type() Type               { return SetupM3Type }

// SetupM4 carries Bob's TxPunish and TxCancel signatures.
type SetupM4 struct {
	SwapID     common.SwapID `json:"swap_id" validate:"required"`
	PunishSig  []byte        `json:"punish_sig" validate:"required"`
	CancelSig  []byte        `json:"cancel_sig" validate:"required"`
}

func (m *SetupM4) String() string          { return fmt.Sprintf("SetupM4 swap_id=%s", m.SwapID) }
func (m *SetupM4) Encode() ([]byte, error) { return encode(SetupM4Type, m) }
func (m *SetupM4) Type() Type               { return SetupM4Type }

// SetupAck closes the M4 round trip (spec §4.4's ceremony ends with M4;
// this is the terminal acknowledgement so RunSetup(M4) has a reply to wait
// on, matching the one-write-then-one-read shape every other step uses).
type SetupAck struct {
	SwapID common.SwapID `json:"swap_id" validate:"required"`
}

func (m *SetupAck) String() string          { return fmt.Sprintf("SetupAck swap_id=%s", m.SwapID) }
func (m *SetupAck) Encode() ([]byte, error) { return encode(SetupAckType, m) }
func (m *SetupAck) Type() Type               { return SetupAckType }

// TransferProof is sent by Alice to Bob after locking XMR (spec §6
// "/xmr-btc/transfer-proof/1").
type TransferProof struct {
	SwapID  common.SwapID `json:"swap_id" validate:"required"`
	TxHash  string        `json:"tx_hash" validate:"required"`
	KeyR    []byte        `json:"tx_key" validate:"required"`
}

func (m *TransferProof) String() string          { return fmt.Sprintf("TransferProof swap_id=%s tx=%s", m.SwapID, m.TxHash) }
func (m *TransferProof) Encode() ([]byte, error) { return encode(TransferProofType, m) }
func (m *TransferProof) Type() Type               { return TransferProofType }

// TransferProofAck is Bob's soft acknowledgement (spec §4.5 "treat ACK as
// soft signal only; safety derives from watching chain").
type TransferProofAck struct {
	SwapID common.SwapID `json:"swap_id" validate:"required"`
}

func (m *TransferProofAck) String() string          { return fmt.Sprintf("TransferProofAck swap_id=%s", m.SwapID) }
func (m *TransferProofAck) Encode() ([]byte, error) { return encode(TransferProofAckType, m) }
func (m *TransferProofAck) Type() Type               { return TransferProofAckType }

// EncryptedSignature is sent by Bob to Alice: his adaptor-encsig on
// TxRedeem under statement S_a_bitcoin (spec §6
// "/xmr-btc/encrypted-signature/1").
type EncryptedSignature struct {
	SwapID common.SwapID `json:"swap_id" validate:"required"`
	EncSig []byte        `json:"enc_sig_redeem" validate:"required"`
}

func (m *EncryptedSignature) String() string { return fmt.Sprintf("EncryptedSignature swap_id=%s", m.SwapID) }
func (m *EncryptedSignature) Encode() ([]byte, error) { return encode(EncryptedSignatureType, m) }
func (m *EncryptedSignature) Type() Type               { return EncryptedSignatureType }

// EncryptedSignatureAck acknowledges receipt of EncryptedSignature.
type EncryptedSignatureAck struct {
	SwapID common.SwapID `json:"swap_id" validate:"required"`
}

func (m *EncryptedSignatureAck) String() string { return fmt.Sprintf("EncryptedSignatureAck swap_id=%s", m.SwapID) }
func (m *EncryptedSignatureAck) Encode() ([]byte, error) { return encode(EncryptedSignatureAckType, m) }
func (m *EncryptedSignatureAck) Type() Type               { return EncryptedSignatureAckType }

// CoopRedeemRequest is Bob's best-effort request for s_a after punishing
// (spec §4.6 "cooperative-redeem option", §6 "/xmr-btc/coop-xmr-redeem/1").
type CoopRedeemRequest struct {
	SwapID common.SwapID `json:"swap_id" validate:"required"`
}

func (m *CoopRedeemRequest) String() string          { return fmt.Sprintf("CoopRedeemRequest swap_id=%s", m.SwapID) }
func (m *CoopRedeemRequest) Encode() ([]byte, error) { return encode(CoopRedeemRequestType, m) }
func (m *CoopRedeemRequest) Type() Type               { return CoopRedeemRequestType }

// CoopRedeemResponse is Alice's optional, policy-gated reply revealing s_a.
type CoopRedeemResponse struct {
	SwapID common.SwapID `json:"swap_id" validate:"required"`
	SA     []byte         `json:"s_a,omitempty"`
	Denied bool          `json:"denied"`
}

func (m *CoopRedeemResponse) String() string          { return fmt.Sprintf("CoopRedeemResponse swap_id=%s denied=%v", m.SwapID, m.Denied) }
func (m *CoopRedeemResponse) Encode() ([]byte, error) { return encode(CoopRedeemResponseType, m) }
func (m *CoopRedeemResponse) Type() Type               { return CoopRedeemResponseType }

// EarlyRefundRequest asks the counterparty to consent to an early,
// pre-lock BTC refund (spec §9 "optional extension... gated by explicit
// consent from both parties").
type EarlyRefundRequest struct {
	SwapID common.SwapID `json:"swap_id" validate:"required"`
}

func (m *EarlyRefundRequest) String() string          { return fmt.Sprintf("EarlyRefundRequest swap_id=%s", m.SwapID) }
func (m *EarlyRefundRequest) Encode() ([]byte, error) { return encode(EarlyRefundRequestType, m) }
func (m *EarlyRefundRequest) Type() Type               { return EarlyRefundRequestType }

// EarlyRefundResponse is the counterparty's consent decision. When Consent
// is true, Sig is the responder's plain signature over the deterministic
// TxEarlyRefund both sides can build independently from TxLock plus the
// already-agreed refund destination and fee -- there is no separate
// round-trip to fetch it.
type EarlyRefundResponse struct {
	SwapID  common.SwapID `json:"swap_id" validate:"required"`
	Consent bool          `json:"consent"`
	Sig     []byte        `json:"sig,omitempty"`
}

func (m *EarlyRefundResponse) String() string {
	return fmt.Sprintf("EarlyRefundResponse swap_id=%s consent=%v", m.SwapID, m.Consent)
}
func (m *EarlyRefundResponse) Encode() ([]byte, error) { return encode(EarlyRefundResponseType, m) }
func (m *EarlyRefundResponse) Type() Type               { return EarlyRefundResponseType }
