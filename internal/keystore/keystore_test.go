package keystore

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/gagliardetto/solana-go"
)

func TestKeystoreRoundtrip(t *testing.T) {
	wallet := solana.NewWallet()

	ks, err := CreateKeystore("correct horse battery staple", wallet.PrivateKey)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	key, err := UnlockKeystore(ks, "correct horse battery staple")
	if err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if !bytes.Equal(key, wallet.PrivateKey) {
		t.Fatal("unlocked key does not match original")
	}
}

func TestKeystoreWrongPassphrase(t *testing.T) {
	wallet := solana.NewWallet()
	ks, err := CreateKeystore("right", wallet.PrivateKey)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := UnlockKeystore(ks, "wrong"); err == nil {
		t.Fatal("expected unlock failure with wrong passphrase")
	}
}

func TestKeystoreRejectsEmptyPassphrase(t *testing.T) {
	wallet := solana.NewWallet()
	if _, err := CreateKeystore("", wallet.PrivateKey); err == nil {
		t.Fatal("expected error for empty passphrase")
	}
}

func TestKeystoreRejectsBadKeySize(t *testing.T) {
	if _, err := CreateKeystore("pass", make([]byte, 32)); err == nil {
		t.Fatal("expected error for truncated key")
	}
}

func TestKeystoreSaveLoad(t *testing.T) {
	wallet := solana.NewWallet()
	ks, err := CreateKeystore("pass", wallet.PrivateKey)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "fee-payer.keystore")
	if err := SaveKeystore(ks, path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := LoadKeystore(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	key, err := UnlockKeystore(loaded, "pass")
	if err != nil {
		t.Fatalf("unlock after load failed: %v", err)
	}
	if !bytes.Equal(key, wallet.PrivateKey) {
		t.Fatal("loaded key does not match original")
	}
}

func TestChangePassphrase(t *testing.T) {
	wallet := solana.NewWallet()
	ks, err := CreateKeystore("old", wallet.PrivateKey)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	newKS, err := ChangePassphrase(ks, "old", "new")
	if err != nil {
		t.Fatalf("change failed: %v", err)
	}

	if _, err := UnlockKeystore(newKS, "old"); err == nil {
		t.Fatal("old passphrase still unlocks new keystore")
	}
	key, err := UnlockKeystore(newKS, "new")
	if err != nil {
		t.Fatalf("unlock with new passphrase failed: %v", err)
	}
	if !bytes.Equal(key, wallet.PrivateKey) {
		t.Fatal("key changed across passphrase rotation")
	}
}
