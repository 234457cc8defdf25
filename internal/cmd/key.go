package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/Acceso-dev/Acceso-x402/internal/keystore"
	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the fee payer keystore",
}

var keyGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a new fee payer key and save it encrypted",
	Run: func(cmd *cobra.Command, args []string) {
		path := keystorePath()
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("Keystore already exists at %s\n", path)
			os.Exit(1)
		}

		passphrase, err := promptNewPassphrase()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		wallet := solana.NewWallet()
		if err := saveKey(path, passphrase, wallet.PrivateKey); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Fee payer keystore written to %s\n", path)
		fmt.Printf("Fee payer address: %s\n", wallet.PublicKey())
		fmt.Println("Fund this address with SOL to cover network fees.")
	},
}

var keyImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import an existing base58 fee payer key into the keystore",
	Run: func(cmd *cobra.Command, args []string) {
		path := keystorePath()
		if _, err := os.Stat(path); err == nil {
			fmt.Printf("Keystore already exists at %s\n", path)
			os.Exit(1)
		}

		fmt.Print("Base58 secret key: ")
		rawKey, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			fmt.Printf("Error reading key: %v\n", err)
			os.Exit(1)
		}

		decoded, err := base58.Decode(strings.TrimSpace(string(rawKey)))
		if err != nil || len(decoded) != 64 {
			fmt.Println("Error: not a valid base58 64-byte secret key")
			os.Exit(1)
		}
		key := solana.PrivateKey(decoded)

		passphrase, err := promptNewPassphrase()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		if err := saveKey(path, passphrase, key); err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Fee payer keystore written to %s\n", path)
		fmt.Printf("Fee payer address: %s\n", key.PublicKey())
	},
}

var keyAddressCmd = &cobra.Command{
	Use:   "address",
	Short: "Print the fee payer public address",
	Run: func(cmd *cobra.Command, args []string) {
		signer, err := loadSigner()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(signer.PublicKey())
	},
}

func promptNewPassphrase() (string, error) {
	fmt.Print("New keystore passphrase: ")
	first, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %v", err)
	}
	fmt.Print("Repeat passphrase: ")
	second, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %v", err)
	}
	if string(first) != string(second) {
		return "", fmt.Errorf("passphrases do not match")
	}
	if len(first) == 0 {
		return "", fmt.Errorf("passphrase cannot be empty")
	}
	return string(first), nil
}

func saveKey(path, passphrase string, key solana.PrivateKey) error {
	ks, err := keystore.CreateKeystore(passphrase, key)
	if err != nil {
		return err
	}
	return keystore.SaveKeystore(ks, path)
}

func init() {
	keyCmd.AddCommand(keyGenerateCmd)
	keyCmd.AddCommand(keyImportCmd)
	keyCmd.AddCommand(keyAddressCmd)
	rootCmd.AddCommand(keyCmd)
}
