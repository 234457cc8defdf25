// Package keystore provides encrypted at-rest storage for the facilitator's
// fee payer signing key.
package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/crypto/argon2"
)

// Keystore represents an encrypted storage for the fee payer key
type Keystore struct {
	Version int    `json:"version"` // Keystore format version
	Salt    []byte `json:"salt"`    // Salt for key derivation (32 bytes)
	Nonce   []byte `json:"nonce"`   // Nonce for AES-GCM (12 bytes)
	Data    []byte `json:"data"`    // Encrypted data
}

// KeystoreData contains the decrypted keystore contents
type KeystoreData struct {
	FeePayerPrivateKey []byte `json:"fee_payer_private_key"` // 64 bytes (ed25519)
}

const (
	// Argon2id parameters (recommended by OWASP)
	argon2Time      = 3         // Number of iterations
	argon2Memory    = 64 * 1024 // Memory in KiB (64 MB)
	argon2Threads   = 4         // Number of threads
	argon2KeyLength = 32        // Output key length (256 bits for AES-256)

	// Salt and nonce sizes
	saltSize  = 32 // 256 bits
	nonceSize = 12 // 96 bits (standard for AES-GCM)

	// Solana ed25519 secret key length (private scalar + public key)
	solanaKeySize = 64

	// Current keystore format version
	keystoreVersion = 1
)

// deriveKey derives an encryption key from a passphrase using Argon2id
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey(
		[]byte(passphrase),
		salt,
		argon2Time,
		argon2Memory,
		argon2Threads,
		argon2KeyLength,
	)
}

// CreateKeystore creates a new encrypted keystore holding the fee payer key
func CreateKeystore(passphrase string, feePayerKey solana.PrivateKey) (*Keystore, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}

	if len(feePayerKey) != solanaKeySize {
		return nil, fmt.Errorf("invalid fee payer private key size: %d", len(feePayerKey))
	}

	// Generate random salt
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %v", err)
	}

	// Derive encryption key from passphrase
	key := deriveKey(passphrase, salt)

	// Create AES-256-GCM cipher
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %v", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %v", err)
	}

	// Generate random nonce
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %v", err)
	}

	data := &KeystoreData{
		FeePayerPrivateKey: feePayerKey,
	}

	plaintext, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal keystore data: %v", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)

	return &Keystore{
		Version: keystoreVersion,
		Salt:    salt,
		Nonce:   nonce,
		Data:    ciphertext,
	}, nil
}

// UnlockKeystore decrypts the keystore using the passphrase
func UnlockKeystore(ks *Keystore, passphrase string) (solana.PrivateKey, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}

	if ks.Version != keystoreVersion {
		return nil, fmt.Errorf("unsupported keystore version: %d", ks.Version)
	}

	if len(ks.Salt) != saltSize {
		return nil, fmt.Errorf("invalid salt size: %d", len(ks.Salt))
	}

	if len(ks.Nonce) != nonceSize {
		return nil, fmt.Errorf("invalid nonce size: %d", len(ks.Nonce))
	}

	// Derive decryption key
	key := deriveKey(passphrase, ks.Salt)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %v", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %v", err)
	}

	plaintext, err := gcm.Open(nil, ks.Nonce, ks.Data, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed (incorrect passphrase?): %v", err)
	}

	var data KeystoreData
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keystore data: %v", err)
	}

	if len(data.FeePayerPrivateKey) != solanaKeySize {
		return nil, fmt.Errorf("corrupted keystore: invalid fee payer key size")
	}

	return solana.PrivateKey(data.FeePayerPrivateKey), nil
}

// SaveKeystore saves the keystore to a file
func SaveKeystore(ks *Keystore, path string) error {
	data, err := json.MarshalIndent(ks, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal keystore: %v", err)
	}

	// Secure permissions - only owner can read/write
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write keystore file: %v", err)
	}

	return nil
}

// LoadKeystore loads a keystore from a file
func LoadKeystore(path string) (*Keystore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore file: %v", err)
	}

	var ks Keystore
	if err := json.Unmarshal(data, &ks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keystore: %v", err)
	}

	return &ks, nil
}

// ChangePassphrase changes the passphrase of an existing keystore
func ChangePassphrase(ks *Keystore, oldPassphrase, newPassphrase string) (*Keystore, error) {
	key, err := UnlockKeystore(ks, oldPassphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to unlock with old passphrase: %v", err)
	}

	newKS, err := CreateKeystore(newPassphrase, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create new keystore: %v", err)
	}

	return newKS, nil
}
