package facilitator

import (
	"time"

	"github.com/gagliardetto/solana-go"
)

// X402Version is the protocol version advertised in challenge envelopes.
const X402Version = 1

// SchemeExact is the only payment scheme supported: a single fungible token
// transfer of an exact atomic amount.
const SchemeExact = "exact"

// PaymentRequirements describes what a valid payment proof must contain.
// Once issued a descriptor is never mutated, a fresh one is built per challenge.
type PaymentRequirements struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"`
	Asset             string            `json:"asset"`
	PayTo             string            `json:"payTo"`
	MaxAmountRequired string            `json:"maxAmountRequired"`
	Resource          string            `json:"resource"`
	Description       string            `json:"description"`
	MimeType          string            `json:"mimeType"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// FeePayer returns the fee payer address carried in the extra map, or "".
func (pr *PaymentRequirements) FeePayer() string {
	if pr.Extra == nil {
		return ""
	}
	return pr.Extra["feePayer"]
}

// PaymentRequiredResponse is the 402 challenge envelope returned to clients.
type PaymentRequiredResponse struct {
	X402Version int                   `json:"x402Version"`
	Accepts     []PaymentRequirements `json:"accepts"`
	Error       string                `json:"error,omitempty"`
}

// PaymentProof is a decoded, partially signed transfer transaction submitted
// by a client. MessageBytes are the serialized message the client signed over,
// Fingerprint identifies the proof for idempotency purposes.
type PaymentProof struct {
	Tx           *solana.Transaction
	MessageBytes []byte
	Fingerprint  string
	Raw          []byte
}

// VerificationResult is the outcome of structurally checking a proof against
// a requirements descriptor. It does not imply settlement.
type VerificationResult struct {
	Valid  bool
	Reason ErrorKind
	Detail string
	Amount uint64
	Payer  solana.PublicKey
	Payee  solana.PublicKey
}

// SettlementStatus tracks a settlement record through its lifecycle.
type SettlementStatus string

const (
	StatusPending   SettlementStatus = "Pending"
	StatusSubmitted SettlementStatus = "Submitted"
	StatusConfirmed SettlementStatus = "Confirmed"
	StatusFailed    SettlementStatus = "Failed"
	StatusExpired   SettlementStatus = "Expired"
)

// Terminal reports whether the status can no longer change.
func (s SettlementStatus) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// SettlementRecord is keyed by proof fingerprint. Only the settlement
// executor mutates a record, and only while it is not yet terminal.
type SettlementRecord struct {
	Fingerprint string           `json:"fingerprint"`
	Status      SettlementStatus `json:"status"`
	TxSignature string           `json:"txSignature,omitempty"`
	ErrorKind   ErrorKind        `json:"errorKind,omitempty"`
	Detail      string           `json:"detail,omitempty"`
	Attempts    int              `json:"attempts"`
	Network     string           `json:"network"`
	Payer       string           `json:"payer,omitempty"`
	Amount      uint64           `json:"amount,omitempty"`
	FirstSeenAt time.Time        `json:"firstSeenAt"`
	DeadlineAt  time.Time        `json:"deadlineAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`

	// done is closed when the record reaches a terminal status, letting
	// concurrent settle calls for the same fingerprint wait for the outcome.
	done chan struct{}
}

// Clone returns a copy safe to hand to callers.
func (r *SettlementRecord) Clone() *SettlementRecord {
	c := *r
	c.done = nil
	return &c
}

// RequirementsRequest is the body of POST /v1/x402/requirements.
type RequirementsRequest struct {
	Resource    string `json:"resource"`
	Amount      string `json:"amount"`
	Description string `json:"description,omitempty"`
	PayTo       string `json:"payTo,omitempty"`
}

// VerifyRequest is the body of POST /v1/x402/verify.
type VerifyRequest struct {
	Payment      string              `json:"payment"`
	Requirements PaymentRequirements `json:"requirements"`
}

// VerifyResponse is the wire response of POST /v1/x402/verify.
type VerifyResponse struct {
	IsValid bool   `json:"isValid"`
	Reason  string `json:"reason,omitempty"`
	Payer   string `json:"payer,omitempty"`
}

// SettleRequest is the body of POST /v1/x402/settle.
type SettleRequest struct {
	Payment      string              `json:"payment"`
	Requirements PaymentRequirements `json:"requirements"`
}

// SettleResponse is the wire response of POST /v1/x402/settle.
type SettleResponse struct {
	Success bool   `json:"success"`
	TxHash  string `json:"txHash,omitempty"`
	Error   string `json:"error,omitempty"`
	Payer   string `json:"payer,omitempty"`
}

// SupportedResponse is the wire response of GET /v1/x402/supported.
type SupportedResponse struct {
	Schemes  []string `json:"schemes"`
	Networks []string `json:"networks"`
}

// FeePayerResponse is the wire response of GET /v1/x402/fee-payer.
type FeePayerResponse struct {
	Address string `json:"address"`
}
