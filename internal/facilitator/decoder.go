package facilitator

import (
	"encoding/base64"
	"fmt"

	"github.com/Acceso-dev/Acceso-x402/internal/utils"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// DecodeProof deserializes an opaque base64 payment header into a typed,
// partially signed transaction. It fails closed on malformed input and does
// not evaluate semantic correctness, that is the verifier's job.
func DecodeProof(payment string) (*PaymentProof, error) {
	if payment == "" {
		return nil, fmt.Errorf("empty payment header")
	}

	raw, err := base64.StdEncoding.DecodeString(payment)
	if err != nil {
		return nil, fmt.Errorf("payment header is not valid base64: %v", err)
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("payment header is not a valid transaction: %v", err)
	}

	msgBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction message: %v", err)
	}

	// The fingerprint covers the message only, the facilitator signature
	// added later must not change a proof's identity.
	return &PaymentProof{
		Tx:           tx,
		MessageBytes: msgBytes,
		Fingerprint:  utils.HashBytes(msgBytes),
		Raw:          raw,
	}, nil
}
