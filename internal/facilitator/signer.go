package facilitator

import (
	"fmt"

	"github.com/Acceso-dev/Acceso-x402/internal/keystore"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// FeePayerSigner wraps the facilitator's signing key behind a narrow sign
// capability. The raw key is held in memory for process lifetime and is
// never exported, logged, or echoed.
type FeePayerSigner struct {
	key solana.PrivateKey
}

// NewFeePayerSigner wraps an already loaded private key.
func NewFeePayerSigner(key solana.PrivateKey) (*FeePayerSigner, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("%w: invalid key length %d", ErrNoSigningKey, len(key))
	}
	return &FeePayerSigner{key: key}, nil
}

// FeePayerSignerFromBase58 parses a base58-encoded 64-byte secret key,
// typically supplied through an environment variable.
func FeePayerSignerFromBase58(encoded string) (*FeePayerSigner, error) {
	raw, err := base58.Decode(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: not valid base58: %v", ErrNoSigningKey, err)
	}
	return NewFeePayerSigner(solana.PrivateKey(raw))
}

// FeePayerSignerFromKeystore unlocks an encrypted keystore file.
func FeePayerSignerFromKeystore(path, passphrase string) (*FeePayerSigner, error) {
	ks, err := keystore.LoadKeystore(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSigningKey, err)
	}
	key, err := keystore.UnlockKeystore(ks, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSigningKey, err)
	}
	return NewFeePayerSigner(key)
}

// PublicKey returns the fee payer's public address.
func (s *FeePayerSigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

// SignTransaction fills in the fee payer's signature slot on a partially
// signed transaction, leaving existing signatures untouched.
func (s *FeePayerSigner) SignTransaction(tx *solana.Transaction) error {
	pub := s.key.PublicKey()
	_, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(pub) {
			return &s.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("fee payer signing failed: %v", err)
	}
	return nil
}
