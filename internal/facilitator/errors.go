package facilitator

import "errors"

// ErrorKind classifies verification and settlement failures for clients.
type ErrorKind string

const (
	// Verification phase. Surfaced as isValid=false with a reason,
	// never raised as a fault.
	KindMalformedProof      ErrorKind = "MalformedProof"
	KindInvalidStructure    ErrorKind = "InvalidStructure"
	KindWrongAsset          ErrorKind = "WrongAsset"
	KindInsufficientAmount  ErrorKind = "InsufficientAmount"
	KindOverpaymentRejected ErrorKind = "OverpaymentRejected"
	KindWrongRecipient      ErrorKind = "WrongRecipient"
	KindUnexpectedFeePayer  ErrorKind = "UnexpectedFeePayer"
	KindInvalidSignature    ErrorKind = "InvalidSignature"
	KindStaleTransaction    ErrorKind = "StaleTransaction"

	// Settlement phase.
	KindNetworkTransient  ErrorKind = "NetworkTransient"
	KindLedgerRejected    ErrorKind = "LedgerRejected"
	KindSettlementExpired ErrorKind = "SettlementExpired"

	// Configuration or signing key unavailability. Fails the request closed.
	KindInternalFault ErrorKind = "InternalFault"
)

var (
	ErrInvalidAmount      = errors.New("invalid payment amount")
	ErrUnknownNetwork     = errors.New("unknown network")
	ErrNoSigningKey       = errors.New("fee payer signing key not available")
	ErrLedgerUnavailable  = errors.New("ledger RPC unavailable")
	ErrRecordNotFound     = errors.New("settlement record not found")
	ErrSettlementShutdown = errors.New("settlement executor shutting down")
)
